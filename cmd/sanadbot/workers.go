package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"sanadbot/internal/archive"
	"sanadbot/internal/bootstrap"
	"sanadbot/internal/coldpath"
	"sanadbot/internal/core"
	"sanadbot/internal/exchange"
	"sanadbot/internal/feed"
	"sanadbot/internal/heartbeat"
	"sanadbot/internal/monitor"
	"sanadbot/internal/oms"
	"sanadbot/internal/pipeline"
	"sanadbot/internal/pricefeed"
	"sanadbot/internal/router"
	"sanadbot/internal/runtime"
	"sanadbot/internal/watchdog"
)

// workerFunc is one pass of a periodic worker, already holding its lock
// and lease.
type workerFunc func(ctx context.Context, app *bootstrap.App) error

// runLocked wraps a worker pass with the shared singleton discipline:
// respect the pause flag, hold the component lock for the duration, and
// record liveness through the lease file the watchdog reads.
func runLocked(ctx context.Context, app *bootstrap.App, name string, body workerFunc) error {
	rt := app.Runtime

	if pause := rt.Flags.Pause(name); pause.Active() {
		rt.Log.Info("component paused, skipping pass", "component", name, "note", pause.Note())
		return nil
	}

	lockPath := runtime.LockPath(rt.Cfg.DataDir, name)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	lock := runtime.NewLockFile(lockPath, rt.Cfg.Watchdog.LockTTL(), rt.Log)
	ok, err := lock.Acquire()
	if err != nil {
		return fmt.Errorf("acquire %s lock: %w", name, err)
	}
	if !ok {
		rt.Log.Info("previous pass still running, skipping", "component", name)
		return nil
	}
	defer lock.Release()

	lease := runtime.NewLeaseKeeper(rt.Cfg.DataDir, name, rt.Cfg.Watchdog.LeaseTTL(), rt.Clock)
	if err := lease.Begin(); err != nil {
		return fmt.Errorf("begin %s lease: %w", name, err)
	}

	if err := body(ctx, app); err != nil {
		return err
	}
	return lease.Complete()
}

// newPipeline assembles the full decision pipeline with its enrichment,
// blacklist, order, and preflight dependencies. Callers own the returned
// cleanup, which releases the debate pool and any DEX RPC connection.
func newPipeline(rt *runtime.Context) (*pipeline.Pipeline, *feed.Registry, func(), error) {
	cfg := rt.Cfg

	blacklist, err := feed.NewRegistry(rt.DataPath("blacklist.json"), rt.Clock, rt.Log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open blacklist: %w", err)
	}

	deps := pipeline.Deps{
		Enricher: feed.NewHTTPEnricher(cfg.Feed.HoldersURL, cfg.Feed.HoneypotURL,
			cfg.Feed.RugscanURL, rt.Breakers, rt.Clock, rt.Log),
		Blacklist: blacklist,
		Orders:    oms.NewManager(rt.Store, rt.Exchange, rt.Kill, cfg.Exchange, rt.Clock, rt.Log),
	}
	var preflight *exchange.RoutePreflight
	if cfg.Exchange.DEXRPCURL != "" {
		preflight, err = exchange.NewRoutePreflight(cfg.Exchange, rt.Log)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("dial dex rpc: %w", err)
		}
		deps.Preflight = preflight
	}

	pipe, err := pipeline.New(rt, deps)
	if err != nil {
		if preflight != nil {
			preflight.Close()
		}
		return nil, nil, nil, fmt.Errorf("build pipeline: %w", err)
	}
	cleanup := func() {
		pipe.Close()
		if preflight != nil {
			preflight.Close()
		}
	}
	return pipe, blacklist, cleanup, nil
}

func runRouter(ctx context.Context, app *bootstrap.App) error {
	rt := app.Runtime

	pipe, blacklist, cleanup, err := newPipeline(rt)
	if err != nil {
		return err
	}
	defer cleanup()

	reader := feed.NewDirReader(rt.DataPath("signals"), rt.Cfg.Router.FeedSources,
		rt.Cfg.Router.StaleThreshold(), rt.Clock, rt.Log)

	outcome, err := router.New(rt, reader, blacklist, pipe).RunOnce(ctx)
	if err != nil {
		return err
	}
	if outcome != nil && outcome.Decision != nil {
		rt.Log.Info("router pass complete",
			"result", string(outcome.Decision.Result),
			"signal_id", outcome.Decision.SignalID,
			"stage", outcome.Decision.Stage)
	}
	return nil
}

func runMonitor(ctx context.Context, app *bootstrap.App) error {
	rt := app.Runtime
	orders := oms.NewManager(rt.Store, rt.Exchange, rt.Kill, rt.Cfg.Exchange, rt.Clock, rt.Log)
	acted, err := monitor.New(rt, orders).RunOnce(ctx)
	if err != nil {
		return err
	}
	rt.Log.Info("monitor pass complete", "positions_acted", acted)
	return nil
}

func runAsyncWorker(ctx context.Context, app *bootstrap.App) error {
	rt := app.Runtime
	drained, err := coldpath.New(rt).RunOnce(ctx)
	if err != nil {
		return err
	}
	rt.Log.Info("asyncworker pass complete", "tasks_drained", drained)
	return nil
}

func runHeartbeat(ctx context.Context, app *bootstrap.App) error {
	rt := app.Runtime
	orders := oms.NewManager(rt.Store, rt.Exchange, rt.Kill, rt.Cfg.Exchange, rt.Clock, rt.Log)
	report, err := heartbeat.New(rt, monitor.New(rt, orders)).RunOnce(ctx)
	if err != nil {
		return err
	}
	critical := 0
	for _, c := range report.Checks {
		if c.Level == core.HealthCritical {
			critical++
		}
	}
	rt.Log.Info("heartbeat pass complete", "checks", len(report.Checks), "critical", critical)
	return nil
}

func runWatchdog(ctx context.Context, app *bootstrap.App) error {
	rt := app.Runtime
	reports, err := watchdog.New(rt).RunOnce(ctx)
	if err != nil {
		return err
	}
	for _, rep := range reports {
		if !rep.Healthy {
			rt.Log.Warn("component unhealthy", "component", rep.Component, "tier", rep.Tier, "detail", rep.Detail)
		}
	}
	return nil
}

func runArchive(ctx context.Context, app *bootstrap.App) error {
	rt := app.Runtime
	if !rt.Cfg.Archive.Enabled {
		rt.Log.Info("archive disabled, skipping pass")
		return nil
	}
	up, err := archive.NewS3Uploader(ctx, rt.Cfg.Archive)
	if err != nil {
		return fmt.Errorf("build s3 uploader: %w", err)
	}
	res, err := archive.New(rt, up).RunOnce(ctx)
	if err != nil {
		return err
	}
	rt.Log.Info("archive pass complete", "uploaded", res.Uploaded, "pruned", res.Pruned, "skipped", res.Skipped)
	return nil
}

func runPricefeed(ctx context.Context, app *bootstrap.App) error {
	return pricefeed.New(app.Runtime).Run(ctx)
}

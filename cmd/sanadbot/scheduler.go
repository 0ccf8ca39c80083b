package main

import (
	"context"

	"github.com/robfig/cron/v3"

	"sanadbot/internal/bootstrap"
)

// runSchedulerCmd runs every periodic worker in-process on its configured
// cadence, with the pricefeed streaming alongside. Each tick goes through
// the same lock-and-lease wrapper as the standalone subcommands, so mixing
// the scheduler with external cron entries stays safe.
func runSchedulerCmd(app *bootstrap.App) error {
	rt := app.Runtime

	app.StartMetrics()

	entries := []struct {
		name string
		spec string
		body workerFunc
	}{
		{"router", rt.Cfg.Scheduler.Router, runRouter},
		{"monitor", rt.Cfg.Scheduler.Monitor, runMonitor},
		{"asyncworker", rt.Cfg.Scheduler.AsyncWorker, runAsyncWorker},
		{"heartbeat", rt.Cfg.Scheduler.Heartbeat, runHeartbeat},
		{"watchdog", rt.Cfg.Scheduler.Watchdog, runWatchdog},
		{"archive", rt.Cfg.Scheduler.Archive, runArchive},
	}

	return app.Run(bootstrap.RunnerFunc(func(ctx context.Context) error {
		sched := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
		for _, e := range entries {
			if e.spec == "" {
				continue
			}
			name, body := e.name, e.body
			if _, err := sched.AddFunc(e.spec, func() {
				tickCtx, cancel := context.WithTimeout(ctx, onceTimeout)
				defer cancel()
				if err := runLocked(tickCtx, app, name, body); err != nil {
					rt.Log.Error("scheduled pass failed", "component", name, "error", err)
				}
			}); err != nil {
				return err
			}
			rt.Log.Info("scheduled worker", "component", name, "spec", e.spec)
		}
		sched.Start()
		defer func() { <-sched.Stop().Done() }()

		err := runPricefeed(ctx, app)
		if ctx.Err() != nil {
			return nil
		}
		return err
	}))
}

// Package bootstrap assembles the runtime context every worker entrypoint
// shares: configuration, logging, telemetry, the state store, control flags,
// breakers, and the external collaborators. Workers receive the assembled
// context instead of reaching for globals.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"sanadbot/internal/breaker"
	"sanadbot/internal/config"
	"sanadbot/internal/core"
	"sanadbot/internal/exchange"
	"sanadbot/internal/notify"
	"sanadbot/internal/oracle"
	"sanadbot/internal/runtime"
	"sanadbot/internal/store"
	"sanadbot/pkg/logging"
	"sanadbot/pkg/telemetry"
)

// defaultBreaker applies to components without an explicit override.
var defaultBreaker = breaker.Settings{
	WindowSeconds:   300,
	TripThreshold:   5,
	CooldownSeconds: 300,
}

// App owns the shared handles and their teardown order.
type App struct {
	Runtime *runtime.Context

	tel     *telemetry.Telemetry
	metrics *telemetry.Server
	st      *store.Store
	logger  core.ILogger
}

// NewApp loads configuration and wires every shared dependency. worker names
// the process for log attribution. A missing or invalid configuration fails
// the process before any worker logic runs.
func NewApp(configPath, worker string) (*App, error) {
	// Optional; real deployments inject env through the scheduler.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	zapLogger, err := logging.NewZapLogger(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	logger := zapLogger.WithField("worker", worker)

	tel, err := telemetry.Setup("sanadbot")
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}

	clock := core.RealClock{}
	st, err := store.Open(filepath.Join(cfg.DataDir, "agent.db"), clock, logger)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	overrides := make(map[string]breaker.Settings, len(cfg.CircuitBreakers.Components))
	for name, bc := range cfg.CircuitBreakers.Components {
		overrides[name] = breaker.Settings{
			WindowSeconds:   bc.WindowSeconds,
			TripThreshold:   bc.TripThreshold,
			CooldownSeconds: bc.CooldownSeconds,
		}
	}
	breakers, err := breaker.NewPool(filepath.Join(cfg.DataDir, "breakers.json"),
		defaultBreaker, overrides, clock, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("breakers: %w", err)
	}

	venue, err := exchange.NewVenue(cfg.Exchange, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("exchange: %w", err)
	}

	notifier := notify.NewManager(core.NotifyLevel(cfg.Notify.MinLevel), logger)
	if token := cfg.Notify.TelegramToken.Reveal(); token != "" && cfg.Notify.TelegramChatID != "" {
		notifier.AddChannel(notify.NewTelegram(token, cfg.Notify.TelegramChatID))
	}
	if hook := cfg.Notify.SlackWebhook.Reveal(); hook != "" {
		notifier.AddChannel(notify.NewSlack(hook, clock))
	}

	rt := &runtime.Context{
		Cfg:      cfg,
		Log:      logger,
		Clock:    clock,
		Store:    st,
		Kill:     runtime.NewKillSwitch(cfg.DataDir, clock),
		Flags:    runtime.NewFlags(cfg.DataDir),
		Breakers: breakers,
		Exchange: venue,
		Oracle:   oracle.NewClient(cfg.Oracle, st, logger),
		Notifier: notifier,
	}
	if err := rt.Validate(); err != nil {
		_ = st.Close()
		return nil, err
	}

	return &App{Runtime: rt, tel: tel, st: st, logger: logger}, nil
}

// StartMetrics serves /metrics when telemetry is enabled. Call Close to
// stop it.
func (a *App) StartMetrics() {
	cfg := a.Runtime.Cfg.Telemetry
	if !cfg.EnableMetrics {
		return
	}
	a.metrics = telemetry.NewServer(cfg.MetricsPort, a.logger)
	a.metrics.Start()
}

// Runner is one long-lived worker loop.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// Run drives the runners until the first failure or a termination signal,
// then waits for every runner to unwind.
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	for _, r := range runners {
		r := r
		g.Go(func() error { return r.Run(ctx) })
	}

	err := g.Wait()
	if err != nil && ctx.Err() == nil {
		a.logger.Error("worker stopped with error", "error", err)
		return err
	}
	if err != nil && err != context.Canceled {
		// Canceled by signal; anything else rode the cancellation out.
		a.logger.Info("shutting down", "cause", err)
	}
	return nil
}

// Close releases shared handles in reverse dependency order.
func (a *App) Close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.metrics != nil {
		if err := a.metrics.Stop(shutdownCtx); err != nil {
			a.logger.Warn("metrics server shutdown failed", "error", err)
		}
	}
	if err := a.st.Close(); err != nil {
		a.logger.Warn("store close failed", "error", err)
	}
	if err := a.tel.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("telemetry shutdown failed", "error", err)
	}
}

// Command sanadbot is the trading agent's single binary: one subcommand per
// worker, so the external cron dispatcher (or the built-in scheduler) runs
// each periodic component as its own short-lived process against the shared
// state store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sanadbot/internal/bootstrap"
)

const defaultConfig = "configs/sanadbot.yaml"

// onceTimeout bounds a single worker pass. The router's own pipeline
// timeout is tighter; this is the backstop for everything else.
const onceTimeout = 10 * time.Minute

func usage() {
	fmt.Fprintf(os.Stderr, `sanadbot - autonomous trading agent

Usage:
  sanadbot <command> [flags]

Worker commands (one pass, cron-friendly):
  router       select the best signal and run it through the pipeline
  monitor      evaluate exit rules on open positions
  asyncworker  drain the cold-path analysis queue
  heartbeat    run health checks, act on critical findings
  watchdog     revive stalled workers
  archive      upload day-old decision logs to cold storage

Long-running commands:
  pricefeed    stream venue prices into the shared cache
  scheduler    run every periodic worker in-process on its cadence

Operator commands:
  pipeline     run one signal file through the decision pipeline
  status       print portfolio, positions, and queue summary
  kill         set or clear the kill switch

Common flags:
  -config string   path to the YAML configuration (default %q)
`, defaultConfig)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd := os.Args[1]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	configPath := fs.String("config", defaultConfig, "path to configuration file")

	// subcommand-specific flags; ignored elsewhere.
	reason := fs.String("reason", "", "kill: reason to record")
	clear := fs.Bool("clear", false, "kill: clear the switch instead of activating")
	yes := fs.Bool("yes", false, "kill: confirm the action")
	signalPath := fs.String("signal", "", "pipeline: path to a signal JSON file")

	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	run, ok := map[string]func(*bootstrap.App) error{
		"router":      func(a *bootstrap.App) error { return oncePass(a, "router", runRouter) },
		"monitor":     func(a *bootstrap.App) error { return oncePass(a, "monitor", runMonitor) },
		"asyncworker": func(a *bootstrap.App) error { return oncePass(a, "asyncworker", runAsyncWorker) },
		"heartbeat":   func(a *bootstrap.App) error { return oncePass(a, "heartbeat", runHeartbeat) },
		"watchdog":    func(a *bootstrap.App) error { return oncePass(a, "watchdog", runWatchdog) },
		"archive":     func(a *bootstrap.App) error { return oncePass(a, "archive", runArchive) },
		"pricefeed":   runPricefeedCmd,
		"scheduler":   runSchedulerCmd,
		"pipeline":    func(a *bootstrap.App) error { return runPipelineCmd(a, *signalPath) },
		"status":      runStatusCmd,
		"kill":        func(a *bootstrap.App) error { return runKillCmd(a, *reason, *clear, *yes) },
	}[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}

	app, err := bootstrap.NewApp(*configPath, cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sanadbot %s: %v\n", cmd, err)
		os.Exit(1)
	}
	defer app.Close()

	if err := run(app); err != nil {
		app.Runtime.Log.Error("command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

// oncePass runs one worker pass under the component's singleton lock and
// lease, bounded by a signal-aware timeout. A held lock is a clean no-op:
// the previous cron invocation is still working.
func oncePass(app *bootstrap.App, name string, body workerFunc) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, onceTimeout)
	defer cancel()

	return runLocked(ctx, app, name, body)
}

func runPricefeedCmd(app *bootstrap.App) error {
	return app.Run(bootstrap.RunnerFunc(func(ctx context.Context) error {
		err := runPricefeed(ctx, app)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return err
	}))
}

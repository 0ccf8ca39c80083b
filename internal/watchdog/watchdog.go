// Package watchdog revives stalled workers with escalating aggression. A
// worker is judged by its lease file, or by the mtime of its output tree
// when the lease is gone; a worker failing both gets the tier ladder: kill,
// kill and rerun, kill and degrade, hand to an operator agent, pause. The
// attempt counter lives on disk because the watchdog itself is cron-spawned
// and a restart must not grant a broken component a fresh ladder.
package watchdog

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"sanadbot/internal/core"
	"sanadbot/internal/runtime"
	"sanadbot/pkg/fsatomic"
)

// Recovery tiers, in escalation order.
const (
	TierKill     = "1"
	TierRerun    = "2"
	TierFastPath = "3"
	TierDiagnose = "3.5"
	TierPause    = "4"
)

// Attempt is one component's persisted escalation state.
type Attempt struct {
	Attempts     int       `json:"attempts"`
	LastTier     string    `json:"last_tier,omitempty"`
	LastActionAt time.Time `json:"last_action_at,omitempty"`
	DiagnosticAt time.Time `json:"diagnostic_at,omitempty"`
}

// ResetRequest is what the watchdog queues for the external reset daemon
// when a component fails both liveness signals.
type ResetRequest struct {
	Component   string    `json:"component"`
	Tier        string    `json:"tier"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

// ComponentReport is one component's verdict from a single pass.
type ComponentReport struct {
	Component string
	Healthy   bool
	Tier      string
	Detail    string
}

// Watchdog walks every watched component once per RunOnce.
type Watchdog struct {
	rt     *runtime.Context
	logger core.ILogger

	// Process control is injected so tests observe instead of signal.
	kill   func(pid int) error
	invoke func(ctx context.Context, component string) error
}

// New wires a watchdog over the shared runtime context. The watched set is
// the heartbeat cadence registry; a worker without a cadence has no lease
// contract to enforce.
func New(rt *runtime.Context) *Watchdog {
	return &Watchdog{
		rt:     rt,
		logger: rt.Log.WithField("component", "watchdog"),
		kill:   killProcess,
		invoke: invokeComponent,
	}
}

// RunOnce sweeps stale locks, assesses every watched component, and applies
// at most one tier action per unhealthy component per pass.
func (w *Watchdog) RunOnce(ctx context.Context) ([]ComponentReport, error) {
	now := w.rt.Clock.Now()
	w.sweepStaleLocks()

	attempts := w.loadAttempts()

	components := make([]string, 0, len(w.rt.Cfg.Heartbeat.ExpectedCadenceMinutes))
	for comp := range w.rt.Cfg.Heartbeat.ExpectedCadenceMinutes {
		components = append(components, comp)
	}
	sort.Strings(components)

	reports := make([]ComponentReport, 0, len(components))
	for _, comp := range components {
		rep := w.assess(ctx, comp, now, attempts)
		reports = append(reports, rep)
	}

	if err := w.saveAttempts(attempts); err != nil {
		return reports, err
	}
	return reports, nil
}

func (w *Watchdog) assess(ctx context.Context, comp string, now time.Time, attempts map[string]*Attempt) ComponentReport {
	healthy, detail := w.healthOf(comp, now)
	if healthy {
		if rec := attempts[comp]; rec != nil && rec.Attempts > 0 {
			delete(attempts, comp)
			if err := w.rt.Flags.FastPath(comp).Clear(); err != nil {
				w.logger.Warn("fast-path flag clear failed", "component", comp, "error", err)
			}
			w.logger.Info("component recovered", "component", comp, "after_attempts", rec.Attempts)
		}
		return ComponentReport{Component: comp, Healthy: true, Detail: detail}
	}

	if w.rt.Flags.Pause(comp).Active() {
		return ComponentReport{Component: comp, Detail: "paused, operator owns recovery"}
	}

	rec := attempts[comp]
	if rec == nil {
		rec = &Attempt{}
		attempts[comp] = rec
	}
	if rec.Attempts >= 4 && !rec.DiagnosticAt.IsZero() {
		deadline := rec.DiagnosticAt.Add(time.Duration(w.rt.Cfg.Watchdog.DiagnosticDeadline) * time.Minute)
		if now.Before(deadline) {
			return ComponentReport{
				Component: comp,
				Tier:      TierDiagnose,
				Detail:    fmt.Sprintf("operator deadline open until %s", deadline.UTC().Format(time.RFC3339)),
			}
		}
	}

	rec.Attempts++
	rec.LastActionAt = now
	tier := w.act(ctx, comp, rec, now, detail)
	rec.LastTier = tier

	w.queueReset(comp, tier, detail, now)
	w.logger.Warn("component unhealthy, tier applied",
		"component", comp, "tier", tier, "attempts", rec.Attempts, "detail", detail)
	return ComponentReport{Component: comp, Tier: tier, Detail: detail}
}

// act performs the tier's side effects and names the tier it ran.
func (w *Watchdog) act(ctx context.Context, comp string, rec *Attempt, now time.Time, detail string) string {
	switch {
	case rec.Attempts == 1:
		w.killOwner(comp)
		w.clearLock(comp)
		return TierKill

	case rec.Attempts == 2:
		w.killOwner(comp)
		w.clearLock(comp)
		if err := w.invoke(ctx, comp); err != nil {
			w.logger.Error("forced run failed", "component", comp, "error", err)
		}
		return TierRerun

	case rec.Attempts == 3:
		w.killOwner(comp)
		w.clearLock(comp)
		if err := w.rt.Flags.FastPath(comp).Raise("watchdog tier 3: " + detail); err != nil {
			w.logger.Error("fast-path flag raise failed", "component", comp, "error", err)
		}
		return TierFastPath

	case rec.Attempts == 4:
		rec.DiagnosticAt = now
		path, err := w.writeDiagnostics(ctx, comp, now)
		if err != nil {
			w.logger.Error("diagnostics package failed", "component", comp, "error", err)
			path = "(write failed)"
		}
		deadline := now.Add(time.Duration(w.rt.Cfg.Watchdog.DiagnosticDeadline) * time.Minute)
		w.rt.Notify(ctx, core.NotifyL3, "Watchdog diagnostics ready",
			fmt.Sprintf("%s unresponsive after 3 resets; package at %s, operator deadline %s",
				comp, path, deadline.UTC().Format(time.RFC3339)))
		return TierDiagnose

	default:
		if err := w.rt.Flags.Pause(comp).Raise("watchdog tier 4: " + detail); err != nil {
			w.logger.Error("pause flag raise failed", "component", comp, "error", err)
		}
		w.rt.Notify(ctx, core.NotifyL4, "Watchdog paused component",
			fmt.Sprintf("%s did not recover after %d attempts (%s); paused until an operator clears the flag",
				comp, rec.Attempts, detail))
		return TierPause
	}
}

// killOwner signals the PID from the component's lease. A missing lease or
// an implausible PID is not an error; there is simply nothing to kill.
func (w *Watchdog) killOwner(comp string) {
	lease, err := runtime.ReadLease(w.rt.Cfg.DataDir, comp)
	if err != nil || lease == nil {
		return
	}
	if lease.PID <= 1 || lease.PID == os.Getpid() {
		return
	}
	if err := w.kill(lease.PID); err != nil {
		w.logger.Warn("kill failed", "component", comp, "pid", lease.PID, "error", err)
		return
	}
	w.logger.Warn("killed stalled worker", "component", comp, "pid", lease.PID)
}

// clearLock removes the component's singleton lock. The owner was just
// killed, so even a fresh-looking lock is garbage.
func (w *Watchdog) clearLock(comp string) {
	path := runtime.LockPath(w.rt.Cfg.DataDir, comp)
	if err := fsatomic.Remove(path); err != nil {
		w.logger.Warn("lock clear failed", "component", comp, "path", path, "error", err)
	}
}

func (w *Watchdog) queueReset(comp, tier, reason string, now time.Time) {
	req := ResetRequest{Component: comp, Tier: tier, Reason: reason, RequestedAt: now}
	name := fmt.Sprintf("%s-%d.json", comp, now.Unix())
	if err := fsatomic.WriteJSON(w.rt.DataPath("watchdog", "resets", name), req); err != nil {
		w.logger.Error("reset request write failed", "component", comp, "error", err)
	}
}

func killProcess(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

// invokeComponent re-execs this binary with the component's subcommand,
// synchronously. The ctx deadline bounds the forced run.
func invokeComponent(ctx context.Context, component string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve binary path: %w", err)
	}
	cmd := exec.CommandContext(ctx, exe, component)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

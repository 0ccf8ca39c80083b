// Package heartbeat is the periodic health assessment: every check returns
// OK, WARNING, ALERT, or CRITICAL, and the dangerous verdicts act before
// they notify. A flash crash sells the whole book and raises the kill
// switch first; the operator page describes what was already done.
package heartbeat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sanadbot/internal/core"
	"sanadbot/internal/monitor"
	"sanadbot/internal/runtime"
	"sanadbot/pkg/fsatomic"
)

// CheckResult is one health check's verdict.
type CheckResult struct {
	Name   string
	Level  core.HealthLevel
	Detail string
}

// Report aggregates one beat's checks.
type Report struct {
	At     time.Time
	Checks []CheckResult
}

func (r *Report) add(c CheckResult) { r.Checks = append(r.Checks, c) }

// Worst returns the highest severity across the beat.
func (r *Report) Worst() core.HealthLevel {
	worst := core.HealthOK
	for _, c := range r.Checks {
		if c.Level > worst {
			worst = c.Level
		}
	}
	return worst
}

// Summary renders the concise operator line: the count of passing checks
// and every finding that is not OK.
func (r *Report) Summary() string {
	ok := 0
	var findings []string
	for _, c := range r.Checks {
		if c.Level == core.HealthOK {
			ok++
			continue
		}
		findings = append(findings, fmt.Sprintf("%s %s: %s", c.Level, c.Name, c.Detail))
	}
	if len(findings) == 0 {
		return fmt.Sprintf("all %d checks passing", len(r.Checks))
	}
	return fmt.Sprintf("%d/%d checks passing | %s",
		ok, len(r.Checks), strings.Join(findings, " | "))
}

// Heartbeat runs the health checks. The scheduler owns the cadence;
// RunOnce is one complete beat.
type Heartbeat struct {
	rt     *runtime.Context
	mon    *monitor.Monitor
	logger core.ILogger

	// ntpTime is swapped by tests; the default speaks SNTP on the wire.
	ntpTime func(ctx context.Context, server string) (time.Time, error)
}

// New wires a heartbeat over the shared runtime context. The monitor
// contributes the crash scan and the emergency sell-all.
func New(rt *runtime.Context, mon *monitor.Monitor) *Heartbeat {
	return &Heartbeat{
		rt:      rt,
		mon:     mon,
		logger:  rt.Log.WithField("component", "heartbeat"),
		ntpTime: ntpTime,
	}
}

// RunOnce executes every check and escalates the verdict. Check order puts
// the acting checks first: the flash-crash check may close the book and
// raise the kill switch before anything else is even measured.
func (hb *Heartbeat) RunOnce(ctx context.Context) (*Report, error) {
	now := hb.rt.Clock.Now()
	rep := &Report{At: now}

	rep.add(hb.checkFlashCrash(ctx))
	rep.add(hb.checkKillSwitch())
	rep.add(hb.checkPositions(ctx, now))
	rep.add(hb.checkExposure(ctx))
	rep.add(hb.checkBreakers())
	rep.add(hb.checkCronFreshness(now))
	rep.add(hb.checkClockSkew(ctx, now))
	rep.add(hb.checkTaskBacklog(ctx, now))

	hb.escalate(ctx, rep)

	hb.logger.Info("heartbeat complete",
		"worst", rep.Worst().String(),
		"checks", len(rep.Checks))
	return rep, nil
}

// escalate notifies on ALERT and above, and emits the hourly concise status
// regardless of severity. Actions already happened inside the checks.
func (hb *Heartbeat) escalate(ctx context.Context, rep *Report) {
	switch rep.Worst() {
	case core.HealthCritical:
		hb.rt.Notify(ctx, core.NotifyL4, "Heartbeat CRITICAL", rep.Summary())
	case core.HealthAlert:
		hb.rt.Notify(ctx, core.NotifyL3, "Heartbeat ALERT", rep.Summary())
	}
	hb.maybeHourlyStatus(ctx, rep)
}

// statusStamp records when the last hourly status went out. It lives on
// disk because beats are separate processes under cron.
type statusStamp struct {
	SentAt time.Time `json:"sent_at"`
}

func (hb *Heartbeat) maybeHourlyStatus(ctx context.Context, rep *Report) {
	path := hb.rt.DataPath("heartbeat", "last_status.json")

	var stamp statusStamp
	if err := fsatomic.ReadJSON(path, &stamp); err == nil {
		if rep.At.Sub(stamp.SentAt) < time.Hour {
			return
		}
	}

	msg := rep.Summary()
	if snap, err := hb.rt.Store.GetPortfolio(ctx); err == nil && snap != nil {
		msg = fmt.Sprintf("%s | equity $%s, daily pnl $%s",
			msg, snap.EquityUSD.StringFixed(2), snap.DailyPnLUSD.StringFixed(2))
	}
	hb.rt.Notify(ctx, core.NotifyL1, "Heartbeat status", msg)

	if err := fsatomic.WriteJSON(path, statusStamp{SentAt: rep.At}); err != nil {
		hb.logger.Warn("status stamp write failed", "error", err)
	}
}

package heartbeat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"sanadbot/internal/breaker"
	"sanadbot/internal/core"
	"sanadbot/internal/runtime"
	"sanadbot/pkg/telemetry"
)

// checkFlashCrash acts before it reports: a crash on a watched symbol
// closes every open position and raises the kill switch, then surfaces as
// CRITICAL. The page describes work already done, not work the operator
// still owes.
func (hb *Heartbeat) checkFlashCrash(ctx context.Context) CheckResult {
	symbol, dropPct, active := hb.mon.CheckFlashCrash(ctx)
	if !active {
		return CheckResult{Name: "flash_crash", Level: core.HealthOK, Detail: "watched symbols steady"}
	}

	detail := fmt.Sprintf("Flash crash: %s down %s%% in %dm",
		symbol, dropPct.StringFixed(1), hb.rt.Cfg.Monitor.FlashCrash.WindowMinutes)
	closed, err := hb.mon.EmergencySellAll(ctx, detail)
	if err != nil {
		hb.logger.Error("emergency sell-all failed", "error", err)
	}
	if !hb.rt.Kill.Active() {
		if err := hb.rt.Kill.Activate(detail, "heartbeat"); err != nil {
			hb.logger.Error("kill switch activation failed", "error", err)
		}
	}
	hb.logger.Error("flash crash response",
		"symbol", symbol,
		"drop_pct", dropPct.StringFixed(2),
		"positions_closed", closed)
	return CheckResult{
		Name:   "flash_crash",
		Level:  core.HealthCritical,
		Detail: fmt.Sprintf("%s; closed %d positions, kill switch raised", detail, closed),
	}
}

func (hb *Heartbeat) checkKillSwitch() CheckResult {
	if !hb.rt.Kill.Active() {
		return CheckResult{Name: "kill_switch", Level: core.HealthOK, Detail: "clear"}
	}
	rec, _ := hb.rt.Kill.Status()
	return CheckResult{
		Name:  "kill_switch",
		Level: core.HealthWarning,
		Detail: fmt.Sprintf("active since %s (%s, by %s)",
			rec.ActivatedAt.UTC().Format(time.RFC3339), rec.Reason, rec.ActivatedBy),
	}
}

// checkPositions cross-checks open positions against cached prices. The
// monitor owns exits; a stop or target still breached at beat time means a
// position the monitor failed to close.
func (hb *Heartbeat) checkPositions(ctx context.Context, now time.Time) CheckResult {
	positions, err := hb.rt.Store.GetOpenPositions(ctx)
	if err != nil {
		return CheckResult{Name: "positions", Level: core.HealthWarning, Detail: fmt.Sprintf("position scan failed: %v", err)}
	}
	if len(positions) == 0 {
		return CheckResult{Name: "positions", Level: core.HealthOK, Detail: "no open positions"}
	}

	var breaches []string
	for _, pos := range positions {
		price, err := hb.rt.Store.GetPrice(ctx, pos.Symbol)
		if err != nil || price == nil || !price.Price.IsPositive() {
			continue
		}
		pnlPct := pos.UnrealizedPnLPct(price.Price)
		switch {
		case pos.StopLossPct > 0 && pnlPct <= -pos.StopLossPct:
			breaches = append(breaches, fmt.Sprintf("%s %.1f%% through its stop, still open", pos.Symbol, pnlPct))
		case pos.TakeProfitPct > 0 && pnlPct >= pos.TakeProfitPct:
			breaches = append(breaches, fmt.Sprintf("%s %.1f%% past its target, still open", pos.Symbol, pnlPct))
		}
	}
	if len(breaches) == 0 {
		return CheckResult{Name: "positions", Level: core.HealthOK, Detail: fmt.Sprintf("%d open, none breached", len(positions))}
	}
	return CheckResult{Name: "positions", Level: core.HealthAlert, Detail: strings.Join(breaches, "; ")}
}

// checkExposure measures the live book against the risk limits and refreshes
// the portfolio gauges. Limits mirror the policy engine's capital and
// exposure gates so the heartbeat flags what the next decision would block.
func (hb *Heartbeat) checkExposure(ctx context.Context) CheckResult {
	snap, err := hb.rt.Store.GetPortfolio(ctx)
	if err != nil {
		return CheckResult{Name: "exposure", Level: core.HealthWarning, Detail: fmt.Sprintf("portfolio read failed: %v", err)}
	}
	if snap == nil {
		return CheckResult{Name: "exposure", Level: core.HealthWarning, Detail: "portfolio not initialized"}
	}
	positions, err := hb.rt.Store.GetOpenPositions(ctx)
	if err != nil {
		return CheckResult{Name: "exposure", Level: core.HealthWarning, Detail: fmt.Sprintf("position scan failed: %v", err)}
	}

	memeUSD := decimal.Zero
	perToken := make(map[string]decimal.Decimal, len(positions))
	for _, pos := range positions {
		if pos.Tier == core.Tier3 || pos.Tier == core.TierWhale {
			memeUSD = memeUSD.Add(pos.NotionalUSD)
		}
		perToken[pos.Token] = perToken[pos.Token].Add(pos.NotionalUSD)
	}
	topToken, topUSD := "", decimal.Zero
	for token, usd := range perToken {
		if usd.GreaterThan(topUSD) {
			topToken, topUSD = token, usd
		}
	}

	equityF, _ := snap.EquityUSD.Float64()
	realizedF, _ := snap.TotalPnLUSD.Float64()
	telemetry.GetGlobalMetrics().SetPortfolio(equityF, snap.DrawdownPct, realizedF)

	risk := hb.rt.Cfg.Risk
	var findings []string
	if risk.MaxDrawdownPct > 0 && snap.DrawdownPct >= risk.MaxDrawdownPct {
		findings = append(findings, fmt.Sprintf("drawdown %.2f%% >= %.2f%% max", snap.DrawdownPct, risk.MaxDrawdownPct))
	}
	if dailyPct := pct(snap.DailyPnLUSD, snap.EquityUSD); risk.DailyLossLimitPct > 0 && dailyPct <= -risk.DailyLossLimitPct {
		findings = append(findings, fmt.Sprintf("daily pnl %.2f%% <= -%.2f%% limit", dailyPct, risk.DailyLossLimitPct))
	}
	if memePct := pct(memeUSD, snap.EquityUSD); risk.MaxMemeAllocationPct > 0 && memePct > risk.MaxMemeAllocationPct {
		findings = append(findings, fmt.Sprintf("meme allocation %.2f%% > %.2f%% max", memePct, risk.MaxMemeAllocationPct))
	}
	if singlePct := pct(topUSD, snap.EquityUSD); risk.MaxSingleTokenPct > 0 && singlePct > risk.MaxSingleTokenPct {
		findings = append(findings, fmt.Sprintf("%s holds %.2f%% > %.2f%% single-token max", topToken, singlePct, risk.MaxSingleTokenPct))
	}

	if len(findings) == 0 {
		return CheckResult{
			Name:   "exposure",
			Level:  core.HealthOK,
			Detail: fmt.Sprintf("equity $%s, drawdown %.2f%%", snap.EquityUSD.StringFixed(2), snap.DrawdownPct),
		}
	}
	return CheckResult{Name: "exposure", Level: core.HealthAlert, Detail: strings.Join(findings, "; ")}
}

func (hb *Heartbeat) checkBreakers() CheckResult {
	var tripped []string
	for _, s := range hb.rt.Breakers.Snapshots() {
		if s.State == breaker.StateClosed {
			continue
		}
		desc := fmt.Sprintf("%s %s", s.Component, s.State)
		if s.LastError != "" {
			desc += " (" + s.LastError + ")"
		}
		tripped = append(tripped, desc)
	}
	switch {
	case len(tripped) == 0:
		return CheckResult{Name: "breakers", Level: core.HealthOK, Detail: "all closed"}
	case len(tripped) == 1:
		return CheckResult{Name: "breakers", Level: core.HealthWarning, Detail: tripped[0]}
	default:
		return CheckResult{Name: "breakers", Level: core.HealthAlert, Detail: strings.Join(tripped, "; ")}
	}
}

// checkCronFreshness verifies each scheduled worker has run on cadence,
// from the lease files workers keep under the data directory. A job is
// late past one interval and presumed dead past three.
func (hb *Heartbeat) checkCronFreshness(now time.Time) CheckResult {
	cadences := hb.rt.Cfg.Heartbeat.ExpectedCadenceMinutes
	if len(cadences) == 0 {
		return CheckResult{Name: "cron", Level: core.HealthOK, Detail: "no cadences configured"}
	}
	components := make([]string, 0, len(cadences))
	for comp := range cadences {
		components = append(components, comp)
	}
	sort.Strings(components)

	level := core.HealthOK
	var findings []string
	fresh := 0
	for _, comp := range components {
		cadence := time.Duration(cadences[comp]) * time.Minute
		lease, err := runtime.ReadLease(hb.rt.Cfg.DataDir, comp)
		if err != nil {
			level = maxLevel(level, core.HealthWarning)
			findings = append(findings, fmt.Sprintf("%s lease unreadable: %v", comp, err))
			continue
		}
		if lease == nil {
			level = maxLevel(level, core.HealthWarning)
			findings = append(findings, comp+" never ran")
			continue
		}
		age := now.Sub(leaseActivity(lease))
		switch {
		case cadence > 0 && age > 3*cadence:
			level = maxLevel(level, core.HealthAlert)
			findings = append(findings, fmt.Sprintf("%s silent %s (cadence %s)", comp, age.Round(time.Second), cadence))
		case cadence > 0 && age > cadence:
			level = maxLevel(level, core.HealthWarning)
			findings = append(findings, fmt.Sprintf("%s late, last run %s ago", comp, age.Round(time.Second)))
		default:
			fresh++
		}
	}
	if len(findings) == 0 {
		return CheckResult{Name: "cron", Level: core.HealthOK, Detail: fmt.Sprintf("%d jobs on cadence", fresh)}
	}
	return CheckResult{Name: "cron", Level: level, Detail: strings.Join(findings, "; ")}
}

// checkClockSkew compares local time with NTP, falling back to the exchange
// server clock when UDP is blocked. Skew past the limit breaks request
// signing and candle alignment.
func (hb *Heartbeat) checkClockSkew(ctx context.Context, now time.Time) CheckResult {
	ref, src, err := hb.referenceTime(ctx)
	if err != nil {
		return CheckResult{Name: "clock", Level: core.HealthWarning, Detail: fmt.Sprintf("no time reference: %v", err)}
	}
	skew := now.Sub(ref)
	if skew < 0 {
		skew = -skew
	}
	limit := time.Duration(hb.rt.Cfg.Heartbeat.MaxClockSkewMS) * time.Millisecond
	if limit > 0 && skew > limit {
		return CheckResult{
			Name:   "clock",
			Level:  core.HealthAlert,
			Detail: fmt.Sprintf("skew %s vs %s exceeds %s", skew.Round(time.Millisecond), src, limit),
		}
	}
	return CheckResult{Name: "clock", Level: core.HealthOK, Detail: fmt.Sprintf("skew %s vs %s", skew.Round(time.Millisecond), src)}
}

func (hb *Heartbeat) referenceTime(ctx context.Context) (time.Time, string, error) {
	ntpCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	ref, ntpErr := hb.ntpTime(ntpCtx, hb.rt.Cfg.Heartbeat.NTPServer)
	cancel()
	if ntpErr == nil {
		return ref, "ntp", nil
	}

	exErr := fmt.Errorf("no exchange wired")
	if hb.rt.Exchange != nil {
		var serverTime time.Time
		serverTime, exErr = hb.rt.Exchange.GetServerTime(ctx)
		if exErr == nil {
			return serverTime, "exchange", nil
		}
	}
	return time.Time{}, "", fmt.Errorf("ntp: %v; exchange: %v", ntpErr, exErr)
}

// checkTaskBacklog publishes queue depth and repairs stuck work. RUNNING
// tasks past the analysis timeout plus grace are requeued here rather than
// just reported, so a dead worker process costs one beat, not a page.
func (hb *Heartbeat) checkTaskBacklog(ctx context.Context, now time.Time) CheckResult {
	counts, err := hb.rt.Store.CountTasksByStatus(ctx)
	if err != nil {
		return CheckResult{Name: "tasks", Level: core.HealthWarning, Detail: fmt.Sprintf("task count failed: %v", err)}
	}
	metrics := telemetry.GetGlobalMetrics()
	for _, status := range []core.TaskStatus{core.TaskPending, core.TaskRunning, core.TaskDone, core.TaskFailed} {
		metrics.SetQueueBacklog(string(status), int64(counts[status]))
	}

	level := core.HealthOK
	var findings []string

	grace := time.Duration(hb.rt.Cfg.Heartbeat.TaskStuckGraceMinutes) * time.Minute
	cutoff := now.Add(-(hb.rt.Cfg.ColdPath.Timeout() + grace))
	stuck, err := hb.rt.Store.StuckRunningTasks(ctx, cutoff)
	if err != nil {
		level = maxLevel(level, core.HealthWarning)
		findings = append(findings, fmt.Sprintf("stuck scan failed: %v", err))
	}
	requeued := 0
	for _, task := range stuck {
		if err := hb.rt.Store.RequeueStuckTask(ctx, task.TaskID); err != nil {
			hb.logger.Warn("stuck task requeue failed", "task_id", task.TaskID, "error", err)
			continue
		}
		hb.logger.Warn("stuck task requeued", "task_id", task.TaskID, "attempts", task.Attempts)
		requeued++
	}
	if requeued > 0 {
		level = maxLevel(level, core.HealthWarning)
		findings = append(findings, fmt.Sprintf("requeued %d stuck tasks", requeued))
	}

	staleAfter := time.Duration(hb.rt.Cfg.Heartbeat.PendingStaleMinutes) * time.Minute
	oldest, err := hb.rt.Store.OldestDuePending(ctx)
	switch {
	case err != nil:
		level = maxLevel(level, core.HealthWarning)
		findings = append(findings, fmt.Sprintf("pending scan failed: %v", err))
	case !oldest.IsZero() && staleAfter > 0 && now.Sub(oldest) > staleAfter:
		level = maxLevel(level, core.HealthAlert)
		findings = append(findings, fmt.Sprintf("due task waiting %s, queue not draining", now.Sub(oldest).Round(time.Minute)))
	}

	if failed := counts[core.TaskFailed]; failed > 0 {
		level = maxLevel(level, core.HealthWarning)
		findings = append(findings, fmt.Sprintf("%d abandoned tasks need review", failed))
	}

	if len(findings) == 0 {
		return CheckResult{
			Name:   "tasks",
			Level:  core.HealthOK,
			Detail: fmt.Sprintf("%d pending, %d running", counts[core.TaskPending], counts[core.TaskRunning]),
		}
	}
	return CheckResult{Name: "tasks", Level: level, Detail: strings.Join(findings, "; ")}
}

func maxLevel(a, b core.HealthLevel) core.HealthLevel {
	if b > a {
		return b
	}
	return a
}

// leaseActivity is the last moment the worker proved it was alive.
func leaseActivity(l *runtime.Lease) time.Time {
	last := l.HeartbeatAt
	if l.CompletedAt.After(last) {
		last = l.CompletedAt
	}
	return last
}

func pct(part, whole decimal.Decimal) float64 {
	if whole.IsZero() {
		return 0
	}
	v, _ := part.Div(whole).Mul(decimal.NewFromInt(100)).Float64()
	return v
}

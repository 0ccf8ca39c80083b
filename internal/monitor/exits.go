package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"sanadbot/internal/core"
)

var hundred = decimal.NewFromInt(100)

// exitCall is one fired exit rule: what to stamp on the row and how loudly
// to tell the operator.
type exitCall struct {
	reason string
	detail string
	level  core.NotifyLevel
}

// evaluate runs the exit rules in order and returns the first that fires,
// or nil to keep holding. The breakeven ratchet is the one rule that acts
// without closing: it tightens the stop and lets evaluation continue.
func (m *Monitor) evaluate(ctx context.Context, pos *core.Position, price *core.PricePoint, crash crashState, now time.Time) *exitCall {
	current := price.Price

	if crash.active && pos.Tier == core.Tier3 {
		return &exitCall{
			reason: core.ExitEmergencySell,
			detail: fmt.Sprintf("%s down %s%% in %dm, dumping meme exposure",
				crash.symbol, crash.dropPct.StringFixed(1), m.rt.Cfg.Monitor.FlashCrash.WindowMinutes),
			level: core.NotifyL3,
		}
	}

	if pos.StopLossPct > 0 {
		stop := pos.EntryPrice.Mul(decimal.NewFromFloat(1 - pos.StopLossPct/100))
		if current.LessThanOrEqual(stop) {
			return &exitCall{
				reason: core.ExitStopLoss,
				detail: fmt.Sprintf("price %s at or below stop %s", current, stop.StringFixed(8)),
				level:  core.NotifyL2,
			}
		}
	}

	if pos.TakeProfitPct > 0 {
		target := pos.EntryPrice.Mul(decimal.NewFromFloat(1 + pos.TakeProfitPct/100))
		if current.GreaterThanOrEqual(target) {
			return &exitCall{
				reason: core.ExitTakeProfit,
				detail: fmt.Sprintf("price %s reached target %s", current, target.StringFixed(8)),
				level:  core.NotifyL1,
			}
		}
	}

	pnlPct := pos.UnrealizedPnLPct(current)

	if be := m.rt.Cfg.Monitor.Breakeven; be.ActivationPct > 0 && pnlPct >= be.ActivationPct && pos.StopLossPct > be.OffsetPct {
		tightened, err := m.rt.Store.TightenStopLoss(ctx, pos.PositionID, be.OffsetPct)
		switch {
		case err != nil:
			m.logger.Warn("breakeven ratchet failed",
				"position_id", pos.PositionID, "error", err)
		case tightened:
			pos.StopLossPct = be.OffsetPct
			m.logger.Info("stop ratcheted to breakeven",
				"position_id", pos.PositionID,
				"pnl_pct", fmt.Sprintf("%.2f", pnlPct),
				"stop_loss_pct", be.OffsetPct)
		}
	}

	if call := m.trailingStop(ctx, pos, current, pnlPct); call != nil {
		return call
	}

	if maxHold := m.maxHold(pos); maxHold > 0 && pos.HoldDuration(now) > maxHold {
		return &exitCall{
			reason: core.ExitTimeLimit,
			detail: fmt.Sprintf("held %s, limit %s",
				pos.HoldDuration(now).Round(time.Minute), maxHold),
			level: core.NotifyL1,
		}
	}

	if call := m.momentumDecay(ctx, pos, price, now); call != nil {
		return call
	}

	exit, err := m.rt.Store.LatestExitSignal(ctx, pos.Token, pos.OpenedAt)
	if err != nil {
		m.logger.Warn("exit signal lookup failed",
			"position_id", pos.PositionID, "token", pos.Token, "error", err)
	} else if exit != nil && urgentExit(exit.Urgency) {
		return &exitCall{
			reason: core.ExitExternalSignal,
			detail: fmt.Sprintf("%s signalled %s exit: %s", exit.Source, exit.Urgency, exit.Reason),
			level:  core.NotifyL2,
		}
	}

	return nil
}

// trailingStop activates once the position has run far enough, then closes
// when price gives back the configured share of the persisted high. The
// high-water row doubles as the activation marker, so a restart resumes the
// trail even if price has meanwhile slipped below the activation gain.
func (m *Monitor) trailingStop(ctx context.Context, pos *core.Position, current decimal.Decimal, pnlPct float64) *exitCall {
	tr := m.rt.Cfg.Monitor.Trailing
	if tr.ActivationPct <= 0 || tr.DropPct <= 0 {
		return nil
	}

	_, tracking, err := m.rt.Store.GetHighWaterMark(ctx, pos.PositionID)
	if err != nil {
		m.logger.Warn("high water mark read failed",
			"position_id", pos.PositionID, "error", err)
		return nil
	}
	if !tracking && pnlPct < tr.ActivationPct {
		return nil
	}

	hwm, err := m.rt.Store.RaiseHighWaterMark(ctx, pos.PositionID, current)
	if err != nil {
		m.logger.Warn("high water mark raise failed",
			"position_id", pos.PositionID, "error", err)
		return nil
	}

	floor := hwm.Mul(decimal.NewFromFloat(1 - tr.DropPct/100))
	if current.LessThanOrEqual(floor) {
		return &exitCall{
			reason: core.ExitTrailingStop,
			detail: fmt.Sprintf("price %s gave back %s%% from high %s", current, decimal.NewFromFloat(tr.DropPct), hwm),
			level:  core.NotifyL1,
		}
	}
	return nil
}

// momentumDecay fires when the short-window return is negative and the 24h
// volume has bled out against the volume at entry. Both legs must agree;
// thin history on either side keeps the position.
func (m *Monitor) momentumDecay(ctx context.Context, pos *core.Position, price *core.PricePoint, now time.Time) *exitCall {
	mo := m.rt.Cfg.Monitor.Momentum
	if mo.WindowHours <= 0 || mo.VolumeDropPct <= 0 || !pos.EntryVolume24h.IsPositive() {
		return nil
	}

	windowAgo := now.Add(-time.Duration(mo.WindowHours * float64(time.Hour)))
	then, ok, err := m.rt.Store.PriceAt(ctx, pos.Symbol, windowAgo)
	if err != nil {
		m.logger.Warn("price history lookup failed",
			"symbol", pos.Symbol, "error", err)
		return nil
	}
	if !ok || !then.IsPositive() || price.Price.GreaterThanOrEqual(then) {
		return nil
	}

	volFloor := pos.EntryVolume24h.Mul(decimal.NewFromFloat(1 - mo.VolumeDropPct/100))
	if !price.Volume24h.IsPositive() || price.Volume24h.GreaterThanOrEqual(volFloor) {
		return nil
	}

	windowRet := price.Price.Sub(then).Div(then).Mul(hundred)
	volDrop := decimal.NewFromInt(1).Sub(price.Volume24h.Div(pos.EntryVolume24h)).Mul(hundred)
	return &exitCall{
		reason: core.ExitMomentumDecay,
		detail: fmt.Sprintf("%.1fh return %s%%, volume down %s%% from entry",
			mo.WindowHours, windowRet.StringFixed(2), volDrop.StringFixed(1)),
		level: core.NotifyL1,
	}
}

// maxHold resolves the position's hold limit: the strategy arm's, then the
// mode default.
func (m *Monitor) maxHold(pos *core.Position) time.Duration {
	hours := m.rt.Cfg.Risk.MaxHoldHours
	if pos.Mode == core.ModePaper {
		hours = m.rt.Cfg.Risk.PaperMaxHoldHours
	}
	if s, ok := m.strategies.Get(pos.StrategyID); ok && s.MaxHoldHours > 0 {
		hours = s.MaxHoldHours
	}
	if hours <= 0 {
		return 0
	}
	return time.Duration(hours * float64(time.Hour))
}

func urgentExit(urgency string) bool {
	switch strings.ToUpper(urgency) {
	case "HIGH", "CRITICAL":
		return true
	default:
		return false
	}
}

// Package monitor walks the open book every cycle and closes positions
// whose exit rules fire. Rules run in a fixed order per position and the
// first match closes; a cycle-wide flash-crash scan runs before any
// per-position rule and dumps all meme-tier exposure at once.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"sanadbot/internal/core"
	"sanadbot/internal/oms"
	"sanadbot/internal/runtime"
	"sanadbot/internal/strategy"
)

const pauseComponent = "monitor"

// Monitor owns the exit side of the book. The scheduler owns the timer;
// RunOnce is one complete pass.
type Monitor struct {
	rt         *runtime.Context
	orders     *oms.Manager
	strategies *strategy.Registry
	logger     core.ILogger
}

// New wires a monitor over the shared runtime context.
func New(rt *runtime.Context, orders *oms.Manager) *Monitor {
	return &Monitor{
		rt:         rt,
		orders:     orders,
		strategies: strategy.DefaultRegistry(),
		logger:     rt.Log.WithField("component", "monitor"),
	}
}

// RunOnce evaluates every open position once and returns how many closed.
// Trouble with a single position skips only that position; a stale price
// holds it untouched, since no rule can be judged and no close can be
// priced against a quote nobody stands behind.
func (m *Monitor) RunOnce(ctx context.Context) (int, error) {
	if m.rt.ComponentPaused(pauseComponent) {
		m.logger.Info("monitor paused, skipping cycle")
		return 0, nil
	}

	positions, err := m.rt.Store.GetOpenPositions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list open positions: %w", err)
	}
	if len(positions) == 0 {
		return 0, nil
	}

	now := m.rt.Clock.Now()
	crash := m.detectFlashCrash(ctx, now)
	if crash.active {
		m.logger.Warn("flash crash detected",
			"symbol", crash.symbol,
			"drop_pct", crash.dropPct.StringFixed(2),
			"window_minutes", m.rt.Cfg.Monitor.FlashCrash.WindowMinutes)
	}

	closed := 0
	for _, pos := range positions {
		price, ok := m.freshPrice(ctx, pos.Symbol, now)
		if !ok {
			m.logger.Warn("price cache stale, holding position",
				"position_id", pos.PositionID, "symbol", pos.Symbol)
			continue
		}
		call := m.evaluate(ctx, pos, price, crash, now)
		if call == nil {
			continue
		}
		if err := m.closePosition(ctx, pos, price, call); err != nil {
			m.logger.Error("close failed",
				"position_id", pos.PositionID,
				"reason", call.reason,
				"error", err)
			continue
		}
		closed++
	}
	return closed, nil
}

// freshPrice returns the cached point when it is young enough to act on.
func (m *Monitor) freshPrice(ctx context.Context, symbol string, now time.Time) (*core.PricePoint, bool) {
	p, err := m.rt.Store.GetPrice(ctx, symbol)
	if err != nil {
		m.logger.Warn("price lookup failed", "symbol", symbol, "error", err)
		return nil, false
	}
	if p == nil || !p.Price.IsPositive() {
		return nil, false
	}
	if now.Sub(p.UpdatedAt) > m.rt.Cfg.Monitor.PriceMaxAge() {
		return nil, false
	}
	return p, true
}

// crashState is the cycle-wide flash-crash verdict.
type crashState struct {
	active  bool
	symbol  string
	dropPct decimal.Decimal
}

// detectFlashCrash compares each watch symbol's current price against its
// window high. Stale or missing reference prices simply cannot trigger;
// the per-position freshness check still guards the actual closes.
func (m *Monitor) detectFlashCrash(ctx context.Context, now time.Time) crashState {
	fc := m.rt.Cfg.Monitor.FlashCrash
	if fc.DropPct <= 0 || len(fc.WatchSymbols) == 0 {
		return crashState{}
	}
	since := now.Add(-time.Duration(fc.WindowMinutes) * time.Minute)
	threshold := decimal.NewFromFloat(fc.DropPct)

	for _, sym := range fc.WatchSymbols {
		cur, ok := m.freshPrice(ctx, sym, now)
		if !ok {
			continue
		}
		high, found, err := m.rt.Store.MaxPriceSince(ctx, sym, since)
		if err != nil {
			m.logger.Warn("price window scan failed", "symbol", sym, "error", err)
			continue
		}
		if !found || !high.IsPositive() {
			continue
		}
		drop := high.Sub(cur.Price).Div(high).Mul(decimal.NewFromInt(100))
		if drop.GreaterThanOrEqual(threshold) {
			return crashState{active: true, symbol: sym, dropPct: drop}
		}
	}
	return crashState{}
}

// CheckFlashCrash runs the watch-symbol crash scan outside a monitor cycle,
// for the heartbeat's health verdict.
func (m *Monitor) CheckFlashCrash(ctx context.Context) (symbol string, dropPct decimal.Decimal, active bool) {
	crash := m.detectFlashCrash(ctx, m.rt.Clock.Now())
	return crash.symbol, crash.dropPct, crash.active
}

// EmergencySellAll closes every open position at once, regardless of tier,
// rule state, or the monitor pause flag. The heartbeat calls it on a
// CRITICAL verdict before raising the kill switch, so live exits still
// clear the order path. Quote freshness does not hold a position here; the
// venue fill prices the close and the cached point is only the slippage
// baseline, falling back to the entry price when no quote exists at all.
func (m *Monitor) EmergencySellAll(ctx context.Context, detail string) (int, error) {
	positions, err := m.rt.Store.GetOpenPositions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list open positions: %w", err)
	}

	closed := 0
	for _, pos := range positions {
		price, err := m.rt.Store.GetPrice(ctx, pos.Symbol)
		if err != nil || price == nil || !price.Price.IsPositive() {
			price = &core.PricePoint{
				Symbol:    pos.Symbol,
				Price:     pos.EntryPrice,
				UpdatedAt: m.rt.Clock.Now(),
			}
		}
		call := &exitCall{reason: core.ExitEmergencySell, detail: detail, level: core.NotifyL3}
		if err := m.closePosition(ctx, pos, price, call); err != nil {
			m.logger.Error("emergency close failed",
				"position_id", pos.PositionID,
				"symbol", pos.Symbol,
				"error", err)
			continue
		}
		closed++
	}
	return closed, nil
}

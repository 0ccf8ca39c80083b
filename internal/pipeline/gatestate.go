package pipeline

import (
	"context"
	"time"

	"sanadbot/internal/core"
	"sanadbot/internal/policy"
	"sanadbot/internal/store"
)

// Reference symbol whose cache age proxies market-data stream liveness.
const streamRefSymbol = "BTCUSDT"

// Venue error-rate window matched to the exchange breaker window.
const errorRateWindow = 5 * time.Minute

// policyStage assembles the environment snapshot and runs the fifteen
// gates. The engine's verdict is final: a failed gate carries its number,
// name, and detail onto the decision row.
func (p *Pipeline) policyStage(ctx context.Context, st *state) *core.Decision {
	gs := p.assembleGateState(ctx, st)
	out := p.engine.Evaluate(st.packet(), gs)
	st.gates = out.Evidence
	st.price = gs.Price

	if !out.Pass {
		st.failGate(out.GateFailed, out.GateFailedName, false)
		return st.block(core.StagePolicy, ReasonPolicyGate, out.Detail)
	}
	return nil
}

// assembleGateState snapshots every fact the gates rule on. Lookups that
// fail leave their known-flag unset so the engine fails closed instead of
// trading on a guess.
func (p *Pipeline) assembleGateState(ctx context.Context, st *state) *policy.GateState {
	now := p.rt.Clock.Now()
	gs := &policy.GateState{Now: now}

	rec, active := p.rt.Kill.Status()
	gs.KillActive = active
	gs.KillReason = rec.Reason

	if snap, err := p.rt.Store.GetPortfolio(ctx); err == nil {
		gs.Portfolio = snap
	} else {
		p.logger.Error("portfolio snapshot failed", "error", err)
	}
	if open, err := p.rt.Store.GetOpenPositions(ctx); err == nil {
		gs.OpenPositions = open
	} else {
		p.logger.Error("open positions lookup failed", "error", err)
	}
	if pp, err := p.rt.Store.GetPrice(ctx, st.symbol); err == nil {
		gs.Price = pp
	}

	notional := st.sizing.SizeUSD
	if bps, err := p.rt.Exchange.EstimateSlippageBps(ctx, st.symbol, notional); err == nil {
		gs.SlippageBps, gs.SlippageKnown = bps, true
	} else {
		p.logger.Warn("slippage estimate failed", "symbol", st.symbol, "error", err)
	}

	if st.profile.CEXListed {
		if bps, err := p.rt.Exchange.GetSpreadBps(ctx, st.symbol); err == nil {
			gs.SpreadBps, gs.SpreadKnown = bps, true
		} else {
			p.logger.Warn("spread lookup failed", "symbol", st.symbol, "error", err)
		}
	}

	p.runPreflight(ctx, st, gs)
	p.windowChange(ctx, st, gs, now)

	gs.ExchangeErrorRatePct = p.orders.ErrorRatePct(errorRateWindow)
	gs.ExchangeHealthy = p.rt.Exchange.CheckHealth(ctx) == nil
	maxStreamAge := 2 * time.Duration(p.rt.Cfg.PolicyGates.PriceMaxAgeSec) * time.Second
	if ref, err := p.rt.Store.GetPrice(ctx, streamRefSymbol); err == nil && ref != nil {
		gs.StreamConnected = ref.Age(now) <= maxStreamAge
	}

	if at, mismatch, detail, err := p.rt.Store.GetReconciliation(ctx); err == nil {
		gs.ReconAt, gs.ReconMismatch, gs.ReconDetail = at, mismatch, detail
	}

	if until, ok, err := p.rt.Store.CooldownUntil(ctx, st.sig.Token, store.CooldownTrade); err == nil && ok {
		gs.InCooldown = until.After(now)
		gs.CooldownUntil = until
	}

	if spend, err := p.rt.Store.SpendForDay(ctx, store.DayKey(now)); err == nil {
		gs.SpendDayUSD = spend
	} else {
		gs.SpendDayUSD = p.rt.Cfg.Budget.DailyLLMSpendLimitUSD
	}
	if spend, err := p.rt.Store.SpendForMonth(ctx, store.MonthKey(now)); err == nil {
		gs.SpendMonthUSD = spend
	} else {
		gs.SpendMonthUSD = p.rt.Cfg.Budget.MonthlyLLMSpendLimitUSD
	}

	gs.OpenBreakers = p.rt.Breakers.OpenCount()
	return gs
}

// runPreflight simulates the exit route for off-exchange tokens. The paper
// venue has no on-chain route, so paper runs mark the simulation vacuously
// passed; a live DEX trade with no configured route leaves PreflightRan
// unset and gate 8 fails closed.
func (p *Pipeline) runPreflight(ctx context.Context, st *state, gs *policy.GateState) {
	if st.profile.CEXListed {
		return
	}
	if p.preflight == nil || st.sig.TokenAddress == "" {
		if st.mode == core.ModePaper {
			gs.PreflightRan = true
			gs.PreflightOK = true
			gs.PreflightDetail = "paper venue, no dex route"
		}
		return
	}

	gs.PreflightRan = true
	amount, err := p.preflight.Quote(ctx, st.sig.TokenAddress, st.sizing.SizeUSD)
	switch {
	case err != nil:
		gs.PreflightDetail = err.Error()
	case amount == nil || amount.Sign() <= 0:
		gs.PreflightDetail = "simulated sell returned zero"
	default:
		gs.PreflightOK = true
		gs.PreflightDetail = "sell route quoted " + amount.String()
	}
}

// windowChange computes the price move over the volatility-halt window.
func (p *Pipeline) windowChange(ctx context.Context, st *state, gs *policy.GateState, now time.Time) {
	if gs.Price == nil || !gs.Price.Price.IsPositive() {
		return
	}
	window := time.Duration(p.rt.Cfg.PolicyGates.VolatilityHaltWindowMinutes) * time.Minute
	past, ok, err := p.rt.Store.PriceAt(ctx, st.symbol, now.Add(-window))
	if err != nil || !ok || !past.IsPositive() {
		return
	}
	change, _ := gs.Price.Price.Sub(past).Div(past).Float64()
	gs.WindowChangePct = change * 100
	gs.WindowKnown = true
}

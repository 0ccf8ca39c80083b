package policy

import (
	"fmt"
	"strings"
	"time"

	"sanadbot/internal/classify"
	"sanadbot/internal/core"
)

func gateDetail(format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}

// Gate 1 — Kill switch.
func (e *Engine) killSwitch(p *Packet, st *GateState) GateResult {
	if st.KillActive {
		return block(gateDetail("kill switch active: %s", st.KillReason))
	}
	return pass("kill switch clear")
}

// Gate 2 — Capital preservation: daily loss limit and max drawdown.
func (e *Engine) capitalPreservation(p *Packet, st *GateState) GateResult {
	if st.Portfolio == nil {
		return block("portfolio snapshot unavailable")
	}
	dailyPct := pctOf(st.Portfolio.DailyPnLUSD, st.Portfolio.EquityUSD)
	if limit := e.cfg.Risk.DailyLossLimitPct; limit > 0 && dailyPct <= -limit {
		return block(gateDetail("daily pnl %.2f%% <= -%.2f%% limit", dailyPct, limit))
	}
	if max := e.cfg.Risk.MaxDrawdownPct; max > 0 && st.Portfolio.DrawdownPct >= max {
		return block(gateDetail("drawdown %.2f%% >= %.2f%% max", st.Portfolio.DrawdownPct, max))
	}
	return pass(gateDetail("daily pnl %.2f%%, drawdown %.2f%%", dailyPct, st.Portfolio.DrawdownPct))
}

// Gate 3 — Data freshness: price cache age and on-chain evidence age.
func (e *Engine) dataFreshness(p *Packet, st *GateState) GateResult {
	if p.Profile == nil {
		return block("token profile missing")
	}
	maxPriceAge := time.Duration(e.cfg.PolicyGates.PriceMaxAgeSec) * time.Second
	if st.Price == nil {
		return block("price unavailable for " + p.Symbol)
	}
	if age := st.Now.Sub(st.Price.UpdatedAt); age > maxPriceAge {
		return block(gateDetail("price age %s > max %s", age.Truncate(time.Second), maxPriceAge))
	}

	// On-chain evidence only exists off-exchange; CEX-listed tokens are
	// covered by the exchange data itself.
	if !p.Profile.CEXListed {
		if p.Evidence == nil {
			return block("on-chain evidence missing")
		}
		maxOnchainAge := time.Duration(e.cfg.PolicyGates.OnchainMaxAgeSec) * time.Second
		if age := st.Now.Sub(p.Evidence.FetchedAt); age > maxOnchainAge {
			return block(gateDetail("on-chain evidence age %s > max %s", age.Truncate(time.Second), maxOnchainAge))
		}
	}
	return pass("price and evidence fresh")
}

// Gate 4 — Token age: too-young deployments are only tradable by an
// early-launch strategy. CEX-listed tokens are past launch by definition.
func (e *Engine) tokenAge(p *Packet, st *GateState) GateResult {
	if p.Profile == nil {
		return block("token profile missing")
	}
	if p.Profile.CEXListed {
		return pass("cex listed")
	}
	if p.Strategy != nil && p.Strategy.EarlyLaunch {
		return pass("early-launch strategy selected")
	}
	minAge := e.cfg.PolicyGates.TokenMinAgeHours
	if p.Profile.AgeHours <= 0 {
		return block("deployment age unknown")
	}
	if p.Profile.AgeHours < minAge {
		return block(gateDetail("token age %.1fh < min %.1fh", p.Profile.AgeHours, minAge))
	}
	return pass(gateDetail("token age %.1fh", p.Profile.AgeHours))
}

// Gate 5 — Rugpull safety. Hard flags always block; soft flags block in
// live mode only.
func (e *Engine) rugpullSafety(p *Packet, st *GateState) GateResult {
	if p.Sanad == nil {
		return block("trust report missing")
	}
	var hard, soft []string
	for _, flag := range p.Sanad.RugpullFlags {
		switch flag {
		case classify.FlagHoneypot, classify.FlagMintActive, classify.FlagBlacklisted:
			hard = append(hard, flag)
		default:
			soft = append(soft, flag)
		}
	}
	if len(hard) > 0 {
		return block(gateDetail("hard rugpull flags: %s", strings.Join(hard, ",")))
	}
	if len(soft) > 0 && p.Mode != core.ModePaper {
		return block(gateDetail("rugpull flags in live mode: %s", strings.Join(soft, ",")))
	}
	if len(soft) > 0 {
		return pass(gateDetail("soft flags allowed in paper mode: %s", strings.Join(soft, ",")))
	}
	return pass("no rugpull flags")
}

// Gate 6 — Liquidity: estimated slippage for the proposed notional.
func (e *Engine) liquidity(p *Packet, st *GateState) GateResult {
	if !st.SlippageKnown {
		return block("slippage estimate unavailable")
	}
	max := e.cfg.PolicyGates.MaxSlippageBps
	if st.SlippageBps > max {
		return block(gateDetail("estimated slippage %d bps > max %d bps", st.SlippageBps, max))
	}
	return pass(gateDetail("estimated slippage %d bps <= max %d bps", st.SlippageBps, max))
}

// Gate 7 — Spread, CEX only.
func (e *Engine) spread(p *Packet, st *GateState) GateResult {
	if p.Profile == nil || !p.Profile.CEXListed {
		return pass("not cex listed")
	}
	if !st.SpreadKnown {
		return block("spread unavailable")
	}
	max := e.cfg.PolicyGates.MaxSpreadBps
	if st.SpreadBps > max {
		return block(gateDetail("spread %d bps > max %d bps", st.SpreadBps, max))
	}
	return pass(gateDetail("spread %d bps", st.SpreadBps))
}

// Gate 8 — Pre-flight simulation, DEX only: the simulated sell must return
// a nonzero amount.
func (e *Engine) preflight(p *Packet, st *GateState) GateResult {
	if p.Profile == nil || p.Profile.CEXListed {
		return pass("cex venue")
	}
	if !st.PreflightRan {
		return block("pre-flight simulation not run")
	}
	if !st.PreflightOK {
		return block(gateDetail("pre-flight sell failed: %s", st.PreflightDetail))
	}
	return pass(gateDetail("pre-flight sell ok: %s", st.PreflightDetail))
}

// Gate 9 — Volatility halt: a violent move in the recent window with no
// verified catalyst. No window observations means nothing moved on record;
// gate 3 already guarantees the data this gate needs for fresh listings.
func (e *Engine) volatilityHalt(p *Packet, st *GateState) GateResult {
	if !st.WindowKnown {
		return pass("no window observations")
	}
	threshold := e.cfg.PolicyGates.VolatilityHaltPct
	change := st.WindowChangePct
	if change < 0 {
		change = -change
	}
	if change > threshold && !p.CatalystVerified {
		return block(gateDetail("price moved %.1f%% in window > %.1f%% with no catalyst", st.WindowChangePct, threshold))
	}
	return pass(gateDetail("window move %.1f%%", st.WindowChangePct))
}

// Gate 10 — Exchange health: venue error rate and stream connectivity.
func (e *Engine) exchangeHealth(p *Packet, st *GateState) GateResult {
	if !st.ExchangeHealthy {
		return block("exchange health probe failed")
	}
	if !st.StreamConnected {
		return block("market data stream disconnected")
	}
	if max := e.cfg.PolicyGates.ExchangeErrorRatePct; st.ExchangeErrorRatePct > max {
		return block(gateDetail("exchange error rate %.1f%% > %.1f%%", st.ExchangeErrorRatePct, max))
	}
	return pass(gateDetail("error rate %.1f%%", st.ExchangeErrorRatePct))
}

// Gate 11 — Reconciliation: exchange and store must have agreed recently.
func (e *Engine) reconciliation(p *Packet, st *GateState) GateResult {
	if st.ReconAt.IsZero() {
		return block("no reconciliation on record")
	}
	if st.ReconMismatch {
		return block(gateDetail("reconciliation mismatch: %s", st.ReconDetail))
	}
	maxAge := time.Duration(e.cfg.PolicyGates.ReconciliationMaxAgeSec) * time.Second
	if age := st.Now.Sub(st.ReconAt); age > maxAge {
		return block(gateDetail("last reconciliation %s ago > max %s", age.Truncate(time.Second), maxAge))
	}
	return pass("reconciliation fresh")
}

// Gate 12 — Exposure limits: single token, meme allocation, concurrent
// position count. Computed against post-trade state: what the book would
// look like if this order filled.
func (e *Engine) exposureLimits(p *Packet, st *GateState) GateResult {
	if st.Portfolio == nil {
		return block("portfolio snapshot unavailable")
	}
	if max := e.cfg.PolicyGates.MaxConcurrentPositions; max > 0 && len(st.OpenPositions) >= max {
		return block(gateDetail("open positions %d >= max %d", len(st.OpenPositions), max))
	}

	equity := st.Portfolio.EquityUSD
	if singlePct := pctOf(p.Sizing.SizeUSD, equity); singlePct > e.cfg.Risk.MaxSingleTokenPct {
		return block(gateDetail("single-token exposure %.2f%% > max %.2f%%", singlePct, e.cfg.Risk.MaxSingleTokenPct))
	}

	if p.Profile != nil && (p.Profile.Tier == core.Tier3 || p.Profile.Tier == core.TierWhale) {
		memeUSD := p.Sizing.SizeUSD
		for _, pos := range st.OpenPositions {
			if pos.Tier == core.Tier3 || pos.Tier == core.TierWhale {
				memeUSD = memeUSD.Add(pos.NotionalUSD)
			}
		}
		if memePct := pctOf(memeUSD, equity); memePct > e.cfg.Risk.MaxMemeAllocationPct {
			return block(gateDetail("meme allocation %.2f%% > max %.2f%%", memePct, e.cfg.Risk.MaxMemeAllocationPct))
		}
	}
	return pass(gateDetail("open positions %d, size %s USD", len(st.OpenPositions), p.Sizing.SizeUSD))
}

// Gate 13 — Cooldown: same token traded too recently.
func (e *Engine) cooldown(p *Packet, st *GateState) GateResult {
	if st.InCooldown {
		return block(gateDetail("token in cooldown until %s", st.CooldownUntil.UTC().Format(time.RFC3339)))
	}
	return pass("no cooldown")
}

// Gate 14 — Budget: LLM spend ceilings.
func (e *Engine) budget(p *Packet, st *GateState) GateResult {
	if limit := e.cfg.Budget.DailyLLMSpendLimitUSD; limit > 0 && st.SpendDayUSD >= limit {
		return block(gateDetail("daily llm spend $%.2f >= $%.2f limit", st.SpendDayUSD, limit))
	}
	if limit := e.cfg.Budget.MonthlyLLMSpendLimitUSD; limit > 0 && st.SpendMonthUSD >= limit {
		return block(gateDetail("monthly llm spend $%.2f >= $%.2f limit", st.SpendMonthUSD, limit))
	}
	return pass(gateDetail("spend day $%.2f month $%.2f", st.SpendDayUSD, st.SpendMonthUSD))
}

// Gate 15 — Verdict: trust and confidence minimums, Judge veto. Fast-track
// packets carry a deterministic trust report and no debate; the judge checks
// apply only when a debate ran.
func (e *Engine) verdict(p *Packet, st *GateState) GateResult {
	if p.Sanad == nil {
		return block("trust report missing")
	}
	if min := e.cfg.Scoring.MinTrustScore; p.Sanad.TrustScore < min {
		return block(gateDetail("trust score %d < min %d", p.Sanad.TrustScore, min))
	}
	if p.Debate != nil && p.Debate.Judge != nil {
		j := p.Debate.Judge
		if j.Verdict == core.VerdictReject {
			return block(gateDetail("judge REJECT (confidence %d)", j.Confidence))
		}
		if min := e.cfg.Scoring.MinConfidenceScore; j.Confidence < min {
			return block(gateDetail("judge confidence %d < min %d", j.Confidence, min))
		}
		return pass(gateDetail("trust %d, judge %s confidence %d", p.Sanad.TrustScore, j.Verdict, j.Confidence))
	}
	if p.FastTrack {
		return pass(gateDetail("trust %d, fast-track without debate", p.Sanad.TrustScore))
	}
	return block("debate verdict missing")
}

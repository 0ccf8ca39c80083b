package pipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"

	"github.com/shopspring/decimal"

	"sanadbot/internal/core"
	"sanadbot/internal/store"
	"sanadbot/internal/strategy"
)

// Closed trades fed to the Kelly estimator. Enough for the per-arm minimum
// to trigger on any active arm without dragging in ancient history.
const sizingHistoryLimit = 200

// match detects the market regime, Thompson-samples a strategy arm for the
// tier, and sizes the entry. No eligible arm is a SKIP, a zero size is a
// BLOCK: the first means the desk has no play here, the second means risk
// state forbids the play it has.
func (p *Pipeline) match(ctx context.Context, st *state) *core.Decision {
	st.regime = p.detector.Detect(ctx)

	sampler := strategy.NewSampler(p.strategies, p.rt.Store, p.armRNG(st), p.rt.Log)
	sel := sampler.Select(ctx, st.profile.Tier, st.regime)
	if sel.Strategy == nil {
		return st.skip(core.StageStrategy, ReasonNoStrategy,
			fmt.Sprintf("no strategy eligible for tier %s", st.profile.Tier))
	}
	st.selection = sel
	st.strat = sel.Strategy

	snap, err := p.rt.Store.GetPortfolio(ctx)
	if err != nil {
		return st.block(core.StageStrategy, ReasonStateLookup,
			fmt.Sprintf("portfolio lookup failed: %v", err))
	}
	equity := decimal.Zero
	if snap != nil {
		equity = snap.EquityUSD
	}

	history, err := p.rt.Store.RecentTrades(ctx, sizingHistoryLimit)
	if err != nil {
		return st.block(core.StageStrategy, ReasonStateLookup,
			fmt.Sprintf("trade history lookup failed: %v", err))
	}

	st.sizing = strategy.ComputeSize(p.rt.Cfg.Sizing, st.mode, equity, history, sel.Strategy.ID, st.regime)
	if !st.sizing.SizeUSD.IsPositive() {
		return st.block(core.StageStrategy, ReasonZeroSize,
			fmt.Sprintf("sized to zero (equity %s, regime %s)", equity, st.regime))
	}

	p.logger.Info("strategy matched",
		"token", st.sig.Token,
		"strategy", sel.Strategy.ID,
		"regime", string(st.regime),
		"fallback", sel.Fallback,
		"size_usd", st.sizing.SizeUSD.StringFixed(2),
		"kelly_used", st.sizing.KellyUsed)
	return nil
}

// armRNG seeds the Thompson draw from the signal and the day. Concurrent
// replays of one signal sample the same arm and therefore share one client
// order id; tomorrow's rerun of a recurring signal still explores fresh.
func (p *Pipeline) armRNG(st *state) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(st.sig.SignalID))
	h.Write([]byte(store.DayKey(p.rt.Clock.Now())))
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

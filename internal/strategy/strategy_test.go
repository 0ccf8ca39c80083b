package strategy

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sanadbot/internal/config"
	"sanadbot/internal/core"
	"sanadbot/internal/mock"
	"sanadbot/internal/store"
)

func TestRegistryTierConstraints(t *testing.T) {
	reg := DefaultRegistry()

	for _, tier := range []core.Tier{core.Tier1, core.Tier2, core.Tier3, core.TierWhale} {
		arms := reg.ForTier(tier)
		require.NotEmpty(t, arms, "tier %s has arms", tier)
		for _, arm := range arms {
			assert.True(t, arm.Eligible(tier))
		}
		def := reg.DefaultFor(tier)
		require.NotNil(t, def)
		assert.True(t, def.Eligible(tier))
	}

	assert.Empty(t, reg.ForTier(core.TierSkip))
	assert.Nil(t, reg.DefaultFor(core.TierSkip))
}

func TestRegistryEarlyLaunchArmExists(t *testing.T) {
	reg := DefaultRegistry()
	arm, ok := reg.Get("meme_early_launch")
	require.True(t, ok)
	assert.True(t, arm.EarlyLaunch)
	assert.True(t, arm.Eligible(core.Tier3))
}

type stubBandit struct {
	rows []store.BanditStat
	err  error
}

func (s *stubBandit) GetBanditStats(ctx context.Context, regimeTag string) ([]store.BanditStat, error) {
	return s.rows, s.err
}

func TestSamplerPrefersDominantArm(t *testing.T) {
	reg := NewRegistry(
		&Strategy{ID: "weak", Tiers: []core.Tier{core.Tier2}},
		&Strategy{ID: "strong", Tiers: []core.Tier{core.Tier2}, Default: true},
	)
	stats := &stubBandit{rows: []store.BanditStat{
		{StrategyID: "strong", RegimeTag: "BULL", Alpha: 80, Beta: 20, Trials: 100},
		{StrategyID: "weak", RegimeTag: "BULL", Alpha: 5, Beta: 95, Trials: 100},
	}}
	s := NewSampler(reg, stats, rand.New(rand.NewSource(7)), mock.NewLogger())

	strongPicks := 0
	for i := 0; i < 200; i++ {
		sel := s.Select(context.Background(), core.Tier2, RegimeBull)
		require.NotNil(t, sel.Strategy)
		if sel.Strategy.ID == "strong" {
			strongPicks++
		}
		assert.Len(t, sel.Sampled, 2)
	}
	// Beta(81,21) vs Beta(6,96): the dominant arm should win essentially
	// every draw; 90% leaves generous slack.
	assert.Greater(t, strongPicks, 180)
}

func TestSamplerExploresColdArms(t *testing.T) {
	reg := NewRegistry(
		&Strategy{ID: "veteran", Tiers: []core.Tier{core.Tier3}, Default: true},
		&Strategy{ID: "fresh", Tiers: []core.Tier{core.Tier3}},
	)
	// Veteran is mediocre; fresh has no row and samples the uniform prior.
	stats := &stubBandit{rows: []store.BanditStat{
		{StrategyID: "veteran", RegimeTag: "CHOP", Alpha: 10, Beta: 10, Trials: 20},
	}}
	s := NewSampler(reg, stats, rand.New(rand.NewSource(11)), mock.NewLogger())

	freshPicks := 0
	for i := 0; i < 200; i++ {
		if s.Select(context.Background(), core.Tier3, RegimeChop).Strategy.ID == "fresh" {
			freshPicks++
		}
	}
	assert.Greater(t, freshPicks, 20, "uniform prior keeps the cold arm in play")
}

func TestSamplerFallsBackOnStoreError(t *testing.T) {
	reg := DefaultRegistry()
	s := NewSampler(reg, &stubBandit{err: errors.New("database locked")},
		rand.New(rand.NewSource(1)), mock.NewLogger())

	sel := s.Select(context.Background(), core.Tier1, RegimeBull)
	require.NotNil(t, sel.Strategy)
	assert.True(t, sel.Fallback)
	assert.Equal(t, "majors_trend", sel.Strategy.ID)
}

func TestSamplerSingleCandidateSkipsSampling(t *testing.T) {
	reg := NewRegistry(&Strategy{ID: "only", Tiers: []core.Tier{core.TierWhale}})
	s := NewSampler(reg, &stubBandit{err: errors.New("unused")},
		rand.New(rand.NewSource(1)), mock.NewLogger())

	sel := s.Select(context.Background(), core.TierWhale, RegimeBear)
	require.NotNil(t, sel.Strategy)
	assert.Equal(t, "only", sel.Strategy.ID)
	assert.False(t, sel.Fallback)
}

func TestSampleBetaBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, ab := range [][2]float64{{1, 1}, {0.5, 0.5}, {50, 2}, {2, 50}} {
		for i := 0; i < 100; i++ {
			v := sampleBeta(rng, ab[0], ab[1])
			require.GreaterOrEqual(t, v, 0.0)
			require.LessOrEqual(t, v, 1.0)
		}
	}
}

type regimeStub struct {
	current *core.PricePoint
	past    decimal.Decimal
	pastOK  bool
	err     error
}

func (r *regimeStub) GetPrice(ctx context.Context, symbol string) (*core.PricePoint, error) {
	return r.current, r.err
}

func (r *regimeStub) PriceAt(ctx context.Context, symbol string, asOf time.Time) (decimal.Decimal, bool, error) {
	return r.past, r.pastOK, r.err
}

func TestDetectRegime(t *testing.T) {
	clock := mock.NewClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	point := func(p int64) *core.PricePoint {
		return &core.PricePoint{Symbol: regimeSymbol, Price: decimal.NewFromInt(p)}
	}

	cases := []struct {
		name    string
		current int64
		past    int64
		want    Regime
	}{
		{"bull", 104_000, 100_000, RegimeBull},
		{"bear", 96_000, 100_000, RegimeBear},
		{"chop up", 102_000, 100_000, RegimeChop},
		{"chop down", 98_500, 100_000, RegimeChop},
		{"exact bull threshold", 103_000, 100_000, RegimeBull},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDetector(&regimeStub{
				current: point(tc.current),
				past:    decimal.NewFromInt(tc.past),
				pastOK:  true,
			}, clock, mock.NewLogger())
			assert.Equal(t, tc.want, d.Detect(context.Background()))
		})
	}
}

func TestDetectRegimeDegradesToChop(t *testing.T) {
	clock := mock.NewClock(time.Now())

	d := NewDetector(&regimeStub{err: errors.New("no cache")}, clock, mock.NewLogger())
	assert.Equal(t, RegimeChop, d.Detect(context.Background()))

	d = NewDetector(&regimeStub{
		current: &core.PricePoint{Symbol: regimeSymbol, Price: decimal.NewFromInt(100_000)},
		pastOK:  false,
	}, clock, mock.NewLogger())
	assert.Equal(t, RegimeChop, d.Detect(context.Background()))
}

func sizingConfig() config.SizingConfig {
	return config.SizingConfig{
		KellyFraction:       0.5,
		KellyDefaultPct:     1.0,
		KellyMinTrades:      10,
		MaxPositionPct:      5.0,
		PaperDefaultPct:     2.0,
		PaperMaxPositionPct: 10.0,
		PaperRegimeFloor:    0.5,
	}
}

func trades(strategyID string, wins, losses int, winUSD, lossUSD float64) []*core.TradeRecord {
	var out []*core.TradeRecord
	for i := 0; i < wins; i++ {
		out = append(out, &core.TradeRecord{StrategyID: strategyID, NetPnLUSD: decimal.NewFromFloat(winUSD)})
	}
	for i := 0; i < losses; i++ {
		out = append(out, &core.TradeRecord{StrategyID: strategyID, NetPnLUSD: decimal.NewFromFloat(-lossUSD)})
	}
	return out
}

func TestComputeSizeColdStart(t *testing.T) {
	equity := decimal.NewFromInt(10_000)

	s := ComputeSize(sizingConfig(), core.ModePaper, equity, nil, "meme_momentum", RegimeBull)
	assert.False(t, s.KellyUsed)
	assert.InDelta(t, 2.0, s.FractionPct, 1e-9)
	assert.True(t, s.SizeUSD.Equal(decimal.NewFromInt(200)), "got %s", s.SizeUSD)

	s = ComputeSize(sizingConfig(), core.ModeLive, equity, nil, "meme_momentum", RegimeBull)
	assert.InDelta(t, 1.0, s.FractionPct, 1e-9)
}

func TestComputeSizeKellyAfterMinTrades(t *testing.T) {
	equity := decimal.NewFromInt(10_000)
	// 12 trades, 8 wins of $90, 4 losses of $60: W=2/3, R=1.5,
	// kelly = 2/3 - (1/3)/1.5 = 0.4444, half-kelly = 22.22%.
	hist := trades("majors_trend", 8, 4, 90, 60)

	s := ComputeSize(sizingConfig(), core.ModeLive, equity, hist, "majors_trend", RegimeBull)
	require.True(t, s.KellyUsed)
	assert.Equal(t, 12, s.TradesUsed)
	assert.InDelta(t, 22.22, s.KellyPct, 0.01)
	// Capped at max_position_pct.
	assert.InDelta(t, 5.0, s.FractionPct, 1e-9)
	assert.True(t, s.SizeUSD.Equal(decimal.NewFromInt(500)), "got %s", s.SizeUSD)
}

func TestComputeSizeIgnoresOtherArms(t *testing.T) {
	equity := decimal.NewFromInt(10_000)
	hist := trades("other_arm", 20, 2, 100, 50)

	s := ComputeSize(sizingConfig(), core.ModeLive, equity, hist, "majors_trend", RegimeBull)
	assert.False(t, s.KellyUsed)
	assert.Zero(t, s.TradesUsed)
}

func TestComputeSizeNegativeEdgeKeepsFloor(t *testing.T) {
	equity := decimal.NewFromInt(10_000)
	// W=1/3, R=0.5: kelly = 1/3 - (2/3)/0.5 = -1, clamp to cold-start.
	hist := trades("majors_trend", 4, 8, 30, 60)

	s := ComputeSize(sizingConfig(), core.ModeLive, equity, hist, "majors_trend", RegimeBull)
	assert.False(t, s.KellyUsed)
	assert.InDelta(t, 1.0, s.FractionPct, 1e-9)
	assert.False(t, s.SizeUSD.IsZero())
}

func TestComputeSizeRegimeModulation(t *testing.T) {
	equity := decimal.NewFromInt(10_000)

	// Live bear: 1.0% * 0.4 = 0.4%.
	s := ComputeSize(sizingConfig(), core.ModeLive, equity, nil, "x", RegimeBear)
	assert.InDelta(t, 0.4, s.FractionPct, 1e-9)
	assert.InDelta(t, 0.4, s.RegimeFactor, 1e-9)

	// Paper bear floors the factor at paper_regime_floor.
	s = ComputeSize(sizingConfig(), core.ModePaper, equity, nil, "x", RegimeBear)
	assert.InDelta(t, 0.5, s.RegimeFactor, 1e-9)
	assert.InDelta(t, 1.0, s.FractionPct, 1e-9)
}

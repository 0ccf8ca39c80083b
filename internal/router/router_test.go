package router

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sanadbot/internal/config"
	"sanadbot/internal/core"
	"sanadbot/internal/feed"
	"sanadbot/internal/mock"
	"sanadbot/internal/pipeline"
	"sanadbot/internal/policy"
	"sanadbot/internal/runtime"
	"sanadbot/internal/store"
	"sanadbot/internal/strategy"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type stubFeed struct {
	signals []*core.Signal
}

func (s *stubFeed) Read() []*core.Signal { return s.signals }

// stubPipe scripts the pipeline boundary. The default hook approves every
// signal so selection tests never depend on decision semantics.
type stubPipe struct {
	hook  func(ctx context.Context, sig *core.Signal) (*pipeline.Outcome, error)
	calls []*core.Signal
}

func (s *stubPipe) Run(ctx context.Context, sig *core.Signal) (*pipeline.Outcome, error) {
	s.calls = append(s.calls, sig)
	if s.hook != nil {
		return s.hook(ctx, sig)
	}
	return &pipeline.Outcome{Decision: decisionFor(sig, core.ResultExecute, "EXECUTED")}, nil
}

func decisionFor(sig *core.Signal, result core.DecisionResult, code string) *core.Decision {
	return &core.Decision{
		DecisionID:    core.DecisionIDFor(sig.SignalID, policy.PolicyVersion),
		SignalID:      sig.SignalID,
		CorrelationID: pipeline.CorrelationIDFor(sig.SignalID),
		PolicyVersion: policy.PolicyVersion,
		Result:        result,
		Stage:         core.StagePolicy,
		ReasonCode:    code,
		Mode:          core.ModePaper,
		CreatedAt:     testNow,
	}
}

type fixture struct {
	r     *Router
	rt    *runtime.Context
	st    *store.Store
	clock *mock.Clock
	src   *stubFeed
	pipe  *stubPipe
	reg   *feed.Registry
	cfg   *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	clock := mock.NewClock(testNow)
	logger := mock.NewLogger()

	cfg := config.DefaultConfig()
	cfg.DataDir = dir

	st, err := store.Open(filepath.Join(dir, "agent.db"), clock, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	rt := &runtime.Context{
		Cfg:   cfg,
		Log:   logger,
		Clock: clock,
		Store: st,
		Kill:  runtime.NewKillSwitch(dir, clock),
		Flags: runtime.NewFlags(dir),
	}

	reg, err := feed.NewRegistry(filepath.Join(dir, "rugpull.json"), clock, logger)
	require.NoError(t, err)

	src := &stubFeed{}
	pipe := &stubPipe{}
	return &fixture{
		r:     New(rt, src, reg, pipe),
		rt:    rt,
		st:    st,
		clock: clock,
		src:   src,
		pipe:  pipe,
		reg:   reg,
		cfg:   cfg,
	}
}

// buySignal is an eligible mid-tier candidate from the given source.
func buySignal(token, source string, ts time.Time) *core.Signal {
	sig := &core.Signal{
		Token:         token,
		Chain:         "solana",
		SourcePrimary: source,
		SourceType:    core.SourceOnChain,
		SignalType:    "VOLUME_SPIKE",
		Thesis:        token + " accumulation picking up",
		Timestamp:     ts,
		PriceUSD:      decimal.RequireFromString("1.5"),
		Volume24hUSD:  decimal.NewFromInt(2_000_000),
		LiquidityUSD:  decimal.NewFromInt(600_000),
		MarketCapUSD:  decimal.NewFromInt(40_000_000),
		RugcheckScore: 70,
	}
	sig.SignalID = core.SignalIDFor(sig.Token, sig.Chain, sig.SourcePrimary, sig.SignalType, sig.Thesis)
	return sig
}

func TestRunOncePausedSkipsEverything(t *testing.T) {
	f := newFixture(t)
	f.src.signals = []*core.Signal{buySignal("WIF", "dexscreener", testNow.Add(-5*time.Minute))}
	require.NoError(t, f.rt.Flags.Pause("router").Raise("maintenance"))

	out, err := f.r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Empty(t, f.pipe.calls)

	runs, err := f.st.GetRunCount(context.Background(), store.DayKey(testNow))
	require.NoError(t, err)
	assert.Zero(t, runs)
}

func TestRunOnceKillSwitchIdles(t *testing.T) {
	f := newFixture(t)
	f.src.signals = []*core.Signal{buySignal("WIF", "dexscreener", testNow.Add(-5*time.Minute))}
	require.NoError(t, f.rt.Kill.Activate("drawdown breach", "heartbeat"))

	out, err := f.r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Empty(t, f.pipe.calls)
}

func TestRunOnceHonorsDailyBudget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.src.signals = []*core.Signal{buySignal("WIF", "dexscreener", testNow.Add(-5*time.Minute))}

	day := store.DayKey(testNow)
	for i := 0; i < f.cfg.Router.DailyRunBudget; i++ {
		_, err := f.st.IncrementRunCount(ctx, day)
		require.NoError(t, err)
	}

	out, err := f.r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Empty(t, f.pipe.calls)
}

func TestRunOnceSelectsHighestScore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	weak := buySignal("MODEST", "social", testNow.Add(-10*time.Minute))
	weak.SourceType = core.SourceSocial
	weak.Volume24hUSD = decimal.NewFromInt(150_000)
	weak.LiquidityUSD = decimal.NewFromInt(60_000)

	strong := buySignal("ARB", "cex_listings", testNow.Add(-5*time.Minute))
	strong.Chain = "arbitrum"
	strong.SourceType = core.SourceCEX
	strong.CEXListed = true
	strong.Volume24hUSD = decimal.NewFromInt(30_000_000)
	strong.SignalID = core.SignalIDFor(strong.Token, strong.Chain, strong.SourcePrimary, strong.SignalType, strong.Thesis)

	f.src.signals = []*core.Signal{weak, strong}

	out, err := f.r.RunOnce(ctx)
	require.NoError(t, err)
	require.NotNil(t, out)

	require.Len(t, f.pipe.calls, 1)
	assert.Equal(t, "ARB", f.pipe.calls[0].Token)
	assert.Positive(t, f.pipe.calls[0].Score)

	runs, err := f.st.GetRunCount(ctx, store.DayKey(testNow))
	require.NoError(t, err)
	assert.Equal(t, 1, runs)
}

func TestRankCandidatesTieBreaks(t *testing.T) {
	older := buySignal("ALPHA", "dexscreener", testNow.Add(-20*time.Minute))
	newer := buySignal("BETA", "dexscreener", testNow.Add(-2*time.Minute))
	cex := buySignal("GAMMA", "cex_listings", testNow.Add(-2*time.Minute))
	cex.CEXListed = true
	wide := buySignal("DELTA", "dexscreener", testNow.Add(-2*time.Minute))
	wide.Corroboration = []string{"social", "whalewatch"}

	for _, sig := range []*core.Signal{older, newer, cex, wide} {
		sig.Score = 50
	}

	ranked := []*core.Signal{newer, older, wide, cex}
	rankCandidates(ranked)

	got := make([]string, 0, len(ranked))
	for _, sig := range ranked {
		got = append(got, sig.Token)
	}
	assert.Equal(t, []string{"GAMMA", "DELTA", "ALPHA", "BETA"}, got)
}

func TestFilterReasons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stale := buySignal("OLD", "dexscreener", testNow.Add(-45*time.Minute))

	promo := buySignal("SHILL", "social", testNow.Add(-5*time.Minute))
	promo.PaidPromotion = true

	thinRug := buySignal("SKETCH", "dexscreener", testNow.Add(-5*time.Minute))
	thinRug.RugcheckScore = 10

	banned := buySignal("RUGGED", "dexscreener", testNow.Add(-5*time.Minute))
	f.reg.Blacklist("RUGGED", "dev wallet drained the pool", "monitor")

	cooling := buySignal("COOL", "dexscreener", testNow.Add(-5*time.Minute))
	require.NoError(t, f.st.SetCooldown(ctx, "COOL", store.CooldownTrade, testNow.Add(time.Hour)))

	rejected := buySignal("NOPE", "dexscreener", testNow.Add(-5*time.Minute))
	require.NoError(t, f.st.SetCooldown(ctx, "NOPE", store.CooldownRejection, testNow.Add(20*time.Minute)))

	clean := buySignal("FINE", "dexscreener", testNow.Add(-5*time.Minute))

	cases := []struct {
		name string
		sig  *core.Signal
		want string
	}{
		{"stale", stale, "stale"},
		{"paid promotion single source", promo, "paid promotion"},
		{"rugcheck below floor", thinRug, "rugcheck"},
		{"blacklisted", banned, "blacklisted"},
		{"trade cooldown", cooling, "TRADE cooldown"},
		{"rejection cooldown", rejected, "REJECTION cooldown"},
		{"clean survives", clean, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			why := f.r.filterReason(ctx, tc.sig, testNow)
			if tc.want == "" {
				assert.Empty(t, why)
				return
			}
			assert.Contains(t, why, tc.want)
		})
	}
}

func TestFilterDropsOpenPositionToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sig := buySignal("WIF", "dexscreener", testNow.Add(-5*time.Minute))
	d := decisionFor(sig, core.ResultExecute, "EXECUTED")
	pos := &core.Position{
		PositionID: core.PositionIDFor(d.DecisionID, 1),
		DecisionID: d.DecisionID,
		Symbol:     "WIFUSDT",
		Token:      "WIF",
		Chain:      "solana",
		Tier:       core.Tier3,
		StrategyID: "meme_momentum",
		Status:     core.PositionOpen,
		Side:       core.SideBuy,
		EntryPrice: decimal.RequireFromString("1.5"),
		Size:       decimal.NewFromInt(100),
		Mode:       core.ModePaper,
		OpenedAt:   testNow,
	}
	task := &core.AsyncTask{
		TaskID:    core.TaskIDFor(core.TaskTypeAnalyze, pos.PositionID),
		TaskType:  core.TaskTypeAnalyze,
		EntityID:  pos.PositionID,
		Status:    core.TaskPending,
		NextRunAt: testNow,
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}
	_, created, err := f.st.TryOpenPositionAtomic(ctx, d, pos, task)
	require.NoError(t, err)
	require.True(t, created)

	why := f.r.filterReason(ctx, sig, testNow)
	assert.Contains(t, why, "position already open")
}

func TestPaidPromotionCorroboratedSurvives(t *testing.T) {
	f := newFixture(t)

	promo := buySignal("HYPE", "social", testNow.Add(-5*time.Minute))
	promo.PaidPromotion = true
	promo.Corroboration = []string{"dexscreener", "whalewatch"}

	why := f.r.filterReason(context.Background(), promo, testNow)
	assert.Empty(t, why)
}

func TestExitSignalsRoutedToMonitorQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exit := buySignal("WIF", "whalewatch", testNow.Add(-2*time.Minute))
	exit.SignalType = "WHALE_EXIT"
	exit.Thesis = "top holder unwinding into strength"
	exit.Extras = map[string]string{"urgency": "high"}
	exit.SignalID = core.SignalIDFor(exit.Token, exit.Chain, exit.SourcePrimary, exit.SignalType, exit.Thesis)

	buy := buySignal("ARB", "dexscreener", testNow.Add(-5*time.Minute))

	f.src.signals = []*core.Signal{exit, buy}

	out, err := f.r.RunOnce(ctx)
	require.NoError(t, err)
	require.NotNil(t, out)

	require.Len(t, f.pipe.calls, 1)
	assert.Equal(t, "ARB", f.pipe.calls[0].Token)

	e, err := f.st.LatestExitSignal(ctx, "WIF", testNow.Add(-time.Hour))
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "whalewatch", e.Source)
	assert.Equal(t, "HIGH", e.Urgency)
	assert.Equal(t, "top holder unwinding into strength", e.Reason)
}

func TestClaimPreventsSameDayRedispatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.src.signals = []*core.Signal{buySignal("WIF", "dexscreener", testNow.Add(-5*time.Minute))}

	out, err := f.r.RunOnce(ctx)
	require.NoError(t, err)
	require.NotNil(t, out)

	out, err = f.r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Len(t, f.pipe.calls, 1)

	runs, err := f.st.GetRunCount(ctx, store.DayKey(testNow))
	require.NoError(t, err)
	assert.Equal(t, 1, runs)
}

func TestPanicSynthesizesSkipDecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sig := buySignal("WIF", "dexscreener", testNow.Add(-5*time.Minute))
	f.src.signals = []*core.Signal{sig}
	f.pipe.hook = func(context.Context, *core.Signal) (*pipeline.Outcome, error) {
		panic("nil evidence dereference")
	}

	out, err := f.r.RunOnce(ctx)
	require.Error(t, err)
	require.NotNil(t, out)
	require.NotNil(t, out.Decision)
	assert.Equal(t, core.ResultSkip, out.Decision.Result)
	assert.Equal(t, ReasonPipelinePanic, out.Decision.ReasonCode)
	assert.Contains(t, out.Decision.Reason, "nil evidence dereference")

	stored, err := f.st.GetDecision(ctx, core.DecisionIDFor(sig.SignalID, policy.PolicyVersion))
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, core.ResultSkip, stored.Result)
	assert.Equal(t, pipeline.CorrelationIDFor(sig.SignalID), stored.CorrelationID)
}

func TestTimeoutSynthesizesSkipDecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sig := buySignal("WIF", "dexscreener", testNow.Add(-5*time.Minute))
	f.src.signals = []*core.Signal{sig}
	f.pipe.hook = func(context.Context, *core.Signal) (*pipeline.Outcome, error) {
		return nil, fmt.Errorf("debate stage: %w", context.DeadlineExceeded)
	}

	out, err := f.r.RunOnce(ctx)
	require.Error(t, err)
	require.NotNil(t, out)
	require.NotNil(t, out.Decision)
	assert.Equal(t, ReasonPipelineTimeout, out.Decision.ReasonCode)
}

func TestPlainErrorSynthesizesSkipDecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sig := buySignal("WIF", "dexscreener", testNow.Add(-5*time.Minute))
	f.src.signals = []*core.Signal{sig}
	f.pipe.hook = func(context.Context, *core.Signal) (*pipeline.Outcome, error) {
		return nil, errors.New("store is locked")
	}

	out, err := f.r.RunOnce(ctx)
	require.Error(t, err)
	require.NotNil(t, out)
	assert.Equal(t, ReasonPipelineError, out.Decision.ReasonCode)
	assert.Contains(t, out.Decision.Reason, "store is locked")
}

func TestBlockStartsRejectionCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sig := buySignal("WIF", "dexscreener", testNow.Add(-5*time.Minute))
	f.src.signals = []*core.Signal{sig}
	f.pipe.hook = func(_ context.Context, s *core.Signal) (*pipeline.Outcome, error) {
		return &pipeline.Outcome{Decision: decisionFor(s, core.ResultBlock, "POLICY_GATE")}, nil
	}

	out, err := f.r.RunOnce(ctx)
	require.NoError(t, err)
	require.NotNil(t, out)

	cooling, err := f.st.InCooldown(ctx, "WIF", store.CooldownRejection)
	require.NoError(t, err)
	assert.True(t, cooling)

	// A fresh mention of the same token is a different signal id, so the
	// claim does not stop it; the rejection cooldown must.
	again := buySignal("WIF", "social", testNow.Add(-time.Minute))
	again.Thesis = "WIF bounced off support"
	again.SignalID = core.SignalIDFor(again.Token, again.Chain, again.SourcePrimary, again.SignalType, again.Thesis)
	f.src.signals = []*core.Signal{again}

	out, err = f.r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.Len(t, f.pipe.calls, 1)
}

func TestDecisionWithErrorIsNotResynthesized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sig := buySignal("WIF", "dexscreener", testNow.Add(-5*time.Minute))
	f.src.signals = []*core.Signal{sig}
	f.pipe.hook = func(_ context.Context, s *core.Signal) (*pipeline.Outcome, error) {
		return &pipeline.Outcome{Decision: decisionFor(s, core.ResultExecute, "EXECUTED")},
			errors.New("position row write failed")
	}

	out, err := f.r.RunOnce(ctx)
	require.Error(t, err)
	require.NotNil(t, out)
	assert.Equal(t, core.ResultExecute, out.Decision.Result)
	assert.Equal(t, "EXECUTED", out.Decision.ReasonCode)
}

func TestScoreBands(t *testing.T) {
	base := buySignal("WIF", "dexscreener", testNow.Add(-5*time.Minute))
	base.Volume24hUSD = decimal.NewFromInt(2_000_000)  // mid volume, +10
	base.LiquidityUSD = decimal.NewFromInt(600_000)    // mid liquidity, +6
	base.RugcheckScore = 85                            // +10
	// ONCHAIN source +5, no corroboration, no extras: 31 in CHOP.
	assert.InDelta(t, 31.0, Score(base, strategy.RegimeChop), 1e-9)

	assert.InDelta(t, 31.0*1.1, Score(base, strategy.RegimeBull), 1e-9)
	assert.InDelta(t, 31.0*0.85, Score(base, strategy.RegimeBear), 1e-9)

	listed := buySignal("ARB", "cex_listings", testNow.Add(-5*time.Minute))
	listed.SourceType = core.SourceCEX
	listed.CEXListed = true
	listed.Volume24hUSD = decimal.NewFromInt(30_000_000) // high volume, +15
	listed.LiquidityUSD = decimal.Zero                   // CEX book counts as deep, +10
	listed.RugcheckScore = 0
	listed.CorroborationGrade = core.GradeTawatur // +15
	// CEX listing +20, source +10: 70 in CHOP.
	assert.InDelta(t, 70.0, Score(listed, strategy.RegimeChop), 1e-9)

	base.Extras = map[string]string{
		"price_change_24h_pct": "12.5", // +10
		"top10_holder_pct":     "15",   // +5
	}
	assert.InDelta(t, 46.0, Score(base, strategy.RegimeChop), 1e-9)

	base.Extras["price_change_24h_pct"] = "-4"
	base.Extras["top10_holder_pct"] = "75"
	assert.InDelta(t, 21.0, Score(base, strategy.RegimeChop), 1e-9)

	base.Extras["price_change_24h_pct"] = "not a number"
	delete(base.Extras, "top10_holder_pct")
	assert.InDelta(t, 31.0, Score(base, strategy.RegimeChop), 1e-9)
}

func TestCorroborationFeedsScoreAndGrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := buySignal("WIF", "dexscreener", testNow.Add(-5*time.Minute))
	b := buySignal("WIF", "social", testNow.Add(-8*time.Minute))
	b.SourceType = core.SourceSocial
	b.SignalID = core.SignalIDFor(b.Token, b.Chain, b.SourcePrimary, b.SignalType, b.Thesis)
	c := buySignal("WIF", "whalewatch", testNow.Add(-9*time.Minute))
	c.SourceType = core.SourceWhale
	c.SignalID = core.SignalIDFor(c.Token, c.Chain, c.SourcePrimary, c.SignalType, c.Thesis)

	f.src.signals = []*core.Signal{a, b, c}

	out, err := f.r.RunOnce(ctx)
	require.NoError(t, err)
	require.NotNil(t, out)

	require.Len(t, f.pipe.calls, 1)
	picked := f.pipe.calls[0]
	assert.Equal(t, core.GradeTawatur, picked.CorroborationGrade)
	assert.Equal(t, 3, picked.CrossSourceCount())
	assert.Len(t, picked.Corroboration, 2)
}

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sanadbot/internal/breaker"
	"sanadbot/internal/config"
	"sanadbot/internal/core"
	"sanadbot/internal/feed"
	"sanadbot/internal/mock"
	"sanadbot/internal/oms"
	"sanadbot/internal/oracle"
	"sanadbot/internal/policy"
	"sanadbot/internal/runtime"
	"sanadbot/internal/store"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type stubEnricher struct {
	ev    *feed.Evidence
	err   error
	calls int
}

func (s *stubEnricher) Enrich(context.Context, *core.Signal) (*feed.Evidence, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.ev, nil
}

type fixture struct {
	p     *Pipeline
	rt    *runtime.Context
	st    *store.Store
	clock *mock.Clock
	ora   *mock.Oracle
	ex    *mock.Exchange
	enr   *stubEnricher
	note  *mock.Notifier
	cfg   *config.Config
}

// newFixture wires a pipeline over a real store and mock collaborators,
// with a funded paper book and a fresh reconciliation row so a clean
// signal clears every gate.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	clock := mock.NewClock(testNow)
	logger := mock.NewLogger()

	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Exchange.OrdersPerSecond = 100
	cfg.Exchange.OrderBurst = 100

	st, err := store.Open(filepath.Join(dir, "agent.db"), clock, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	breakers, err := breaker.NewPool(filepath.Join(dir, "breakers.json"),
		breaker.Settings{WindowSeconds: 300, TripThreshold: 5, CooldownSeconds: 900},
		nil, clock, logger)
	require.NoError(t, err)

	ex := mock.NewExchange("paper")
	ora := mock.NewOracle()
	note := mock.NewNotifier()
	enr := &stubEnricher{}

	rt := &runtime.Context{
		Cfg:      cfg,
		Log:      logger,
		Clock:    clock,
		Store:    st,
		Kill:     runtime.NewKillSwitch(dir, clock),
		Flags:    runtime.NewFlags(dir),
		Breakers: breakers,
		Exchange: ex,
		Oracle:   ora,
		Notifier: note,
	}

	orders := oms.NewManager(st, ex, rt.Kill, cfg.Exchange, clock, logger)

	p, err := New(rt, Deps{Enricher: enr, Orders: orders})
	require.NoError(t, err)
	t.Cleanup(p.Close)

	require.NoError(t, st.InitPortfolio(ctx, decimal.NewFromInt(10_000)))
	require.NoError(t, st.TouchReconciliation(ctx, false, "startup"))

	f := &fixture{p: p, rt: rt, st: st, clock: clock, ora: ora, ex: ex, enr: enr, note: note, cfg: cfg}
	f.seedSymbol(t, "BTCUSDT", "65000")
	return f
}

// seedSymbol gives a symbol a fresh cached price and a healthy book on the
// mock venue.
func (f *fixture) seedSymbol(t *testing.T, symbol, price string) {
	t.Helper()
	p := decimal.RequireFromString(price)
	f.ex.SetPrice(symbol, p)
	f.ex.SetSpreadBps(symbol, 25)
	f.ex.SetSlippageBps(symbol, 120)
	require.NoError(t, f.st.UpsertPrice(context.Background(), core.PricePoint{
		Symbol:    symbol,
		Price:     p,
		Volume24h: decimal.NewFromInt(5_000_000),
		UpdatedAt: f.clock.Now(),
	}))
}

func (f *fixture) run(t *testing.T, sig *core.Signal) *Outcome {
	t.Helper()
	out, err := f.p.Run(context.Background(), sig)
	require.NoError(t, err)
	require.NotNil(t, out)
	require.NotNil(t, out.Decision)
	return out
}

// scriptApproval stages a full four-call debate that ends in APPROVE.
// Evidence fields match the tier-2 requirements.
func (f *fixture) scriptApproval() {
	f.ora.Script(oracle.StageSanad, sanadText(72))
	f.ora.Script(oracle.StageBull, bullText(70, "tokenomics", "holder_distribution", "valuation"))
	f.ora.Script(oracle.StageBear, bearText)
	f.ora.Script(oracle.StageJudge, judgeText("APPROVE", 78))
}

func cexSignal() *core.Signal {
	sig := &core.Signal{
		Token:         "ARB",
		Chain:         "arbitrum",
		SourcePrimary: "cex_listings",
		SourceType:    core.SourceCEX,
		SignalType:    "LISTING_MOMENTUM",
		Thesis:        "rotation into L2 majors",
		Timestamp:     testNow.Add(-5 * time.Minute),
		PriceUSD:      decimal.RequireFromString("1.2"),
		Volume24hUSD:  decimal.NewFromInt(3_000_000),
		LiquidityUSD:  decimal.NewFromInt(40_000_000),
		MarketCapUSD:  decimal.NewFromInt(500_000_000),
		CEXListed:     true,
		RugcheckScore: 90,
	}
	sig.SignalID = core.SignalIDFor(sig.Token, sig.Chain, sig.SourcePrimary, sig.SignalType, sig.Thesis)
	return sig
}

func memeSignal() *core.Signal {
	sig := &core.Signal{
		Token:         "WIF",
		TokenAddress:  "EKpQGSJtjMFqKZ9KQanSqYXRcF8fBopzLHYxdM65zcjm",
		Chain:         "solana",
		SourcePrimary: "dexscreener",
		SourceType:    core.SourceOnChain,
		SignalType:    "VOLUME_SPIKE",
		Thesis:        "volume ramp with broadening holders",
		Timestamp:     testNow.Add(-3 * time.Minute),
		PriceUSD:      decimal.RequireFromString("2.5"),
		Volume24hUSD:  decimal.NewFromInt(900_000),
		LiquidityUSD:  decimal.NewFromInt(400_000),
		MarketCapUSD:  decimal.NewFromInt(8_000_000),
		RugcheckScore: 85,
	}
	sig.SignalID = core.SignalIDFor(sig.Token, sig.Chain, sig.SourcePrimary, sig.SignalType, sig.Thesis)
	return sig
}

// cleanMemeEvidence passes every hard gate and the tier-3 meme safety gate.
func cleanMemeEvidence(now time.Time) *feed.Evidence {
	return &feed.Evidence{
		Token:          "WIF",
		Chain:          "solana",
		HolderCount:    12_000,
		Top10HolderPct: 28,
		LPLockedPct:    85,
		RugVerdict:     feed.RugVerdictOK,
		RugcheckScore:  85,
		DeployedAt:     now.Add(-72 * time.Hour),
		FetchedAt:      now,
		HoldersOK:      true,
		HoneypotOK:     true,
		RugscanOK:      true,
	}
}

func sanadText(trust int) string {
	return fmt.Sprintf(`{"trust_score":%d,"grade":"HASAN","corroboration":"AHAD","rugpull_flags":[],"sybil_risk":"LOW","recommendation":"PROCEED"}`, trust)
}

func bullText(conviction int, fields ...string) string {
	ev := map[string]string{}
	for _, name := range fields {
		ev[name] = "supportive"
	}
	raw, _ := json.Marshal(map[string]interface{}{
		"side":       "BULL",
		"conviction": conviction,
		"thesis":     "structural demand",
		"evidence":   ev,
		"risks":      []string{"beta to btc"},
	})
	return string(raw)
}

const bearText = `{"side":"BEAR","conviction":40,"thesis":"crowded and extended","evidence":{},"risks":["mean reversion"]}`

func judgeText(verdict string, confidence int) string {
	return fmt.Sprintf(`{"verdict":"%s","confidence":%d,"reasoning":"weighed both cases"}`, verdict, confidence)
}

// packetView decodes the slice of the audit packet the tests care about.
type packetView struct {
	Sanad     *core.SanadReport     `json:"sanad"`
	Debate    *core.DebateOutcome   `json:"debate"`
	FastTrack bool                  `json:"fast_track"`
	Gates     []policy.GateEvidence `json:"gates"`
}

func decodePacket(t *testing.T, d *core.Decision) packetView {
	t.Helper()
	require.NotEmpty(t, d.PacketJSON)
	var v packetView
	require.NoError(t, json.Unmarshal([]byte(d.PacketJSON), &v))
	return v
}

func readDecisionLog(t *testing.T, f *fixture) []logEntry {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(f.p.declog.Dir(), testNow.UTC().Format("2006-01-02")+".jsonl"))
	require.NoError(t, err)
	var entries []logEntry
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		var e logEntry
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		entries = append(entries, e)
	}
	return entries
}

func TestKillSwitchBlocksBeforeAnySpend(t *testing.T) {
	f := newFixture(t)
	f.seedSymbol(t, "ARBUSDT", "1.2")
	require.NoError(t, f.rt.Kill.Activate("manual halt", "ops"))

	out := f.run(t, cexSignal())
	d := out.Decision

	assert.Equal(t, core.ResultBlock, d.Result)
	assert.Equal(t, core.StageIntake, d.Stage)
	assert.Equal(t, ReasonKillSwitch, d.ReasonCode)
	assert.Equal(t, 1, d.GateFailed)
	assert.Equal(t, "Kill Switch", d.GateFailedName)
	assert.True(t, d.HardGate)
	assert.Contains(t, d.Reason, "manual halt")
	assert.Len(t, d.StageMillis, 1)
	assert.Nil(t, out.Position)

	assert.Zero(t, f.ora.TotalCalls(), "no oracle spend under kill")
	assert.Zero(t, f.enr.calls, "no enrichment under kill")

	stored, err := f.st.GetDecision(context.Background(), d.DecisionID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, core.ResultBlock, stored.Result)

	entries := readDecisionLog(t, f)
	require.Len(t, entries, 1)
	assert.Equal(t, ReasonKillSwitch, entries[0].ReasonCode)
	assert.Equal(t, d.CorrelationID, entries[0].CorrelationID)
}

func TestIntakeRejectsMalformedAndStaleSignals(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*core.Signal)
		code   string
	}{
		{"missing thesis", func(s *core.Signal) { s.Thesis = "" }, ReasonInvalidSignal},
		{"past max age", func(s *core.Signal) { s.Timestamp = testNow.Add(-31 * time.Minute) }, ReasonStaleSignal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			sig := cexSignal()
			tt.mutate(sig)

			out := f.run(t, sig)
			assert.Equal(t, core.ResultBlock, out.Decision.Result)
			assert.Equal(t, core.StageIntake, out.Decision.Stage)
			assert.Equal(t, tt.code, out.Decision.ReasonCode)
			assert.Zero(t, f.ora.TotalCalls())
		})
	}
}

func TestHardSecurityGatesBlockBeforeOracle(t *testing.T) {
	tests := []struct {
		name string
		prep func(*fixture, *core.Signal)
		code string
		gate int
	}{
		{
			name: "honeypot confirmed",
			prep: func(f *fixture, _ *core.Signal) {
				ev := cleanMemeEvidence(testNow)
				ev.Honeypot = true
				f.enr.ev = ev
			},
			code: ReasonHoneypot,
			gate: 5,
		},
		{
			name: "rug scan verdict",
			prep: func(f *fixture, _ *core.Signal) {
				ev := cleanMemeEvidence(testNow)
				ev.RugVerdict = feed.RugVerdictRug
				f.enr.ev = ev
			},
			code: ReasonRugVerdict,
			gate: 5,
		},
		{
			name: "source flagged sybil",
			prep: func(f *fixture, sig *core.Signal) {
				f.enr.ev = cleanMemeEvidence(testNow)
				sig.Extras = map[string]string{"sybil_risk": "critical"}
			},
			code: ReasonSybilRisk,
			gate: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			sig := memeSignal()
			tt.prep(f, sig)

			out := f.run(t, sig)
			d := out.Decision
			assert.Equal(t, core.ResultBlock, d.Result)
			assert.Equal(t, core.StageSanad, d.Stage)
			assert.Equal(t, tt.code, d.ReasonCode)
			assert.True(t, d.HardGate)
			assert.Equal(t, tt.gate, d.GateFailed)
			assert.Zero(t, f.ora.TotalCalls(), "hard gates must not spend")
		})
	}
}

func TestBlacklistedTokenBlocks(t *testing.T) {
	f := newFixture(t)
	reg, err := feed.NewRegistry(filepath.Join(t.TempDir(), "rugpull_registry.json"), f.clock, mock.NewLogger())
	require.NoError(t, err)
	reg.Blacklist("WIF", "dev wallet dumped the pool", "monitor")
	f.p.blacklist = reg

	f.enr.ev = cleanMemeEvidence(testNow)
	out := f.run(t, memeSignal())

	d := out.Decision
	assert.Equal(t, core.ResultBlock, d.Result)
	assert.Equal(t, ReasonBlacklisted, d.ReasonCode)
	assert.True(t, d.HardGate)
	assert.Equal(t, 5, d.GateFailed)
	assert.Contains(t, d.Reason, "dev wallet dumped the pool")
	assert.Zero(t, f.ora.TotalCalls())
}

func TestDailyBudgetExhaustionBlocksBeforeOracle(t *testing.T) {
	f := newFixture(t)
	f.seedSymbol(t, "ARBUSDT", "1.2")
	require.NoError(t, f.st.AddSpend(context.Background(), oracle.StageSanad, "gpt-4o",
		f.cfg.Budget.DailyLLMSpendLimitUSD))

	out := f.run(t, cexSignal())
	d := out.Decision
	assert.Equal(t, core.ResultBlock, d.Result)
	assert.Equal(t, core.StageSanad, d.Stage)
	assert.Equal(t, ReasonBudgetExhausted, d.ReasonCode)
	assert.Zero(t, f.ora.TotalCalls())
}

func TestOracleOutageFailsClosed(t *testing.T) {
	f := newFixture(t)
	f.seedSymbol(t, "ARBUSDT", "1.2")
	f.ora.SetErr(errors.New("rate limited"))

	out := f.run(t, cexSignal())
	assert.Equal(t, core.ResultBlock, out.Decision.Result)
	assert.Equal(t, core.StageSanad, out.Decision.Stage)
	assert.Equal(t, ReasonOracleFailed, out.Decision.ReasonCode)
}

func TestLowTrustVerificationRejects(t *testing.T) {
	f := newFixture(t)
	f.enr.ev = cleanMemeEvidence(testNow)
	f.seedSymbol(t, "WIFUSDT", "2.5")
	f.ora.Script(oracle.StageSanad, sanadText(30))

	out := f.run(t, memeSignal())
	d := out.Decision
	assert.Equal(t, core.ResultBlock, d.Result)
	assert.Equal(t, core.StageSanad, d.Stage)
	assert.Equal(t, ReasonVerification, d.ReasonCode)
	assert.False(t, d.HardGate)
	assert.Equal(t, 1, f.ora.TotalCalls())

	v := decodePacket(t, d)
	require.NotNil(t, v.Sanad)
	assert.Equal(t, "REJECT", v.Sanad.Recommendation)
}

func TestOracleReportedCriticalSybilBlocks(t *testing.T) {
	f := newFixture(t)
	f.enr.ev = cleanMemeEvidence(testNow)
	f.ora.Script(oracle.StageSanad,
		`{"trust_score":80,"grade":"HASAN","corroboration":"AHAD","rugpull_flags":[],"sybil_risk":"CRITICAL","recommendation":"PROCEED"}`)

	out := f.run(t, memeSignal())
	assert.Equal(t, core.ResultBlock, out.Decision.Result)
	assert.Equal(t, ReasonSybilRisk, out.Decision.ReasonCode)
	assert.False(t, out.Decision.HardGate)
	assert.Equal(t, 1, f.ora.TotalCalls())
}

// The model reports single-source corroboration and votes REJECT; the
// engine recomputes both from its own source count before gating.
func TestCorroborationRecomputedFromSourceCount(t *testing.T) {
	f := newFixture(t)
	f.seedSymbol(t, "ARBUSDT", "1.2")
	sig := cexSignal()
	sig.Corroboration = []string{"whale_feed", "social_momentum"}

	f.ora.Script(oracle.StageSanad,
		`{"trust_score":60,"grade":"HASAN","corroboration":"AHAD","rugpull_flags":[],"sybil_risk":"LOW","recommendation":"REJECT"}`)
	f.ora.Script(oracle.StageBull, bullText(70, "tokenomics", "holder_distribution", "valuation"))
	f.ora.Script(oracle.StageBear, bearText)
	f.ora.Script(oracle.StageJudge, judgeText("APPROVE", 78))

	out := f.run(t, sig)
	d := out.Decision
	assert.Equal(t, core.ResultExecute, d.Result, d.Reason)

	v := decodePacket(t, d)
	require.NotNil(t, v.Sanad)
	assert.Equal(t, 70, v.Sanad.TrustScore)
	assert.Equal(t, string(core.GradeTawatur), v.Sanad.Corroboration)
	assert.Equal(t, "PROCEED", v.Sanad.Recommendation)
}

func TestFastTrackSkipsOracleEntirely(t *testing.T) {
	f := newFixture(t)
	f.seedSymbol(t, "ARBUSDT", "1.2")
	sig := cexSignal()
	sig.MarketCapUSD = decimal.NewFromInt(20_000_000_000)
	sig.Volume24hUSD = decimal.NewFromInt(50_000_000)
	sig.Corroboration = []string{"social_momentum"}

	out := f.run(t, sig)
	d := out.Decision
	assert.Equal(t, core.ResultExecute, d.Result, d.Reason)
	assert.True(t, d.FastTrack)
	assert.Zero(t, f.ora.TotalCalls(), "fast track is spend-free")
	require.NotNil(t, out.Position)

	v := decodePacket(t, d)
	require.NotNil(t, v.Sanad)
	assert.Equal(t, 80, v.Sanad.TrustScore)
	require.NotNil(t, v.Debate)
	assert.True(t, v.Debate.FastTrack)
	require.Len(t, v.Gates, 15)
	for _, g := range v.Gates {
		assert.True(t, g.Passed, g.Name)
	}
}

func TestBearFailureBlocksDebate(t *testing.T) {
	f := newFixture(t)
	f.seedSymbol(t, "ARBUSDT", "1.2")
	f.ora.Script(oracle.StageSanad, sanadText(72))
	f.ora.Script(oracle.StageBull, bullText(70, "tokenomics", "holder_distribution", "valuation"))
	// No BEAR script, so that call errors.

	out := f.run(t, cexSignal())
	d := out.Decision
	assert.Equal(t, core.ResultBlock, d.Result)
	assert.Equal(t, core.StageDebate, d.Stage)
	assert.Equal(t, ReasonBearFailed, d.ReasonCode)
	assert.Zero(t, f.ora.CallCount(oracle.StageJudge), "judge never runs without a bear case")
}

func TestIncompleteBullEvidenceDowngradesConviction(t *testing.T) {
	f := newFixture(t)
	f.seedSymbol(t, "ARBUSDT", "1.2")
	f.ora.Script(oracle.StageSanad, sanadText(72))
	f.ora.Script(oracle.StageBull, bullText(70, "tokenomics"))
	f.ora.Script(oracle.StageBear, bearText)
	f.ora.Script(oracle.StageJudge, judgeText("APPROVE", 78))

	out := f.run(t, cexSignal())
	d := out.Decision
	assert.Equal(t, core.ResultExecute, d.Result, d.Reason)

	v := decodePacket(t, d)
	require.NotNil(t, v.Debate)
	assert.True(t, v.Debate.Downgraded)
	require.NotNil(t, v.Debate.Bull)
	assert.Equal(t, 50, v.Debate.Bull.Conviction)
}

func TestJudgeParseFailureBlocks(t *testing.T) {
	f := newFixture(t)
	f.seedSymbol(t, "ARBUSDT", "1.2")
	f.ora.Script(oracle.StageSanad, sanadText(72))
	f.ora.Script(oracle.StageBull, bullText(70, "tokenomics", "holder_distribution", "valuation"))
	f.ora.Script(oracle.StageBear, bearText)
	f.ora.Script(oracle.StageJudge, "lean approve, maybe")

	out := f.run(t, cexSignal())
	assert.Equal(t, core.ResultBlock, out.Decision.Result)
	assert.Equal(t, core.StageDebate, out.Decision.Stage)
	assert.Equal(t, ReasonJudgeParse, out.Decision.ReasonCode)
}

func TestJudgeRejectSurfacesAsVerdictGate(t *testing.T) {
	f := newFixture(t)
	f.seedSymbol(t, "ARBUSDT", "1.2")
	f.ora.Script(oracle.StageSanad, sanadText(72))
	f.ora.Script(oracle.StageBull, bullText(70, "tokenomics", "holder_distribution", "valuation"))
	f.ora.Script(oracle.StageBear, bearText)
	f.ora.Script(oracle.StageJudge, judgeText("REJECT", 90))

	out := f.run(t, cexSignal())
	d := out.Decision
	assert.Equal(t, core.ResultBlock, d.Result)
	assert.Equal(t, core.StagePolicy, d.Stage)
	assert.Equal(t, ReasonPolicyGate, d.ReasonCode)
	assert.Equal(t, 15, d.GateFailed)
	assert.Equal(t, "Verdict", d.GateFailedName)
	assert.Contains(t, d.Reason, "judge REJECT")

	v := decodePacket(t, d)
	require.Len(t, v.Gates, 15)
	assert.False(t, v.Gates[14].Passed)
}

func TestSlippageBeyondCapBlocksAtLiquidityGate(t *testing.T) {
	f := newFixture(t)
	f.seedSymbol(t, "ARBUSDT", "1.2")
	f.ex.SetSlippageBps("ARBUSDT", 450)
	f.scriptApproval()

	out := f.run(t, cexSignal())
	d := out.Decision
	assert.Equal(t, core.ResultBlock, d.Result)
	assert.Equal(t, core.StagePolicy, d.Stage)
	assert.Equal(t, ReasonPolicyGate, d.ReasonCode)
	assert.Equal(t, 6, d.GateFailed)
	assert.Equal(t, "Liquidity Gate", d.GateFailedName)
	assert.Contains(t, d.Reason, "450")
	assert.Contains(t, d.Reason, "300")

	v := decodePacket(t, d)
	require.Len(t, v.Gates, 6)
	assert.False(t, v.Gates[5].Passed)

	open, err := f.st.CountOpenPositions(context.Background())
	require.NoError(t, err)
	assert.Zero(t, open)
	assert.Zero(t, f.ex.PlacedCount())
}

func TestDustCapSkipsAtClassification(t *testing.T) {
	f := newFixture(t)
	sig := cexSignal()
	sig.MarketCapUSD = decimal.NewFromInt(300_000)
	f.ora.Script(oracle.StageSanad, sanadText(72))

	out := f.run(t, sig)
	d := out.Decision
	assert.Equal(t, core.ResultSkip, d.Result)
	assert.Equal(t, core.StageClassification, d.Stage)
	assert.Equal(t, ReasonTierSkip, d.ReasonCode)
	assert.Equal(t, 1, f.ora.TotalCalls(), "skip is decided after verification only")
}

func TestUnlockedLPFailsMemeGate(t *testing.T) {
	f := newFixture(t)
	ev := cleanMemeEvidence(testNow)
	ev.LPLockedPct = 20
	f.enr.ev = ev
	f.ora.Script(oracle.StageSanad, sanadText(72))

	out := f.run(t, memeSignal())
	d := out.Decision
	assert.Equal(t, core.ResultBlock, d.Result)
	assert.Equal(t, core.StageClassification, d.Stage)
	assert.Equal(t, ReasonMemeSafety, d.ReasonCode)
	assert.Contains(t, d.Reason, "lp locked")
}

func TestMemeExecuteOpensPositionAndQueuesAnalysis(t *testing.T) {
	f := newFixture(t)
	f.enr.ev = cleanMemeEvidence(testNow)
	f.seedSymbol(t, "WIFUSDT", "2.5")
	f.ora.Script(oracle.StageSanad, sanadText(72))
	f.ora.Script(oracle.StageBull, bullText(65, "liquidity", "holder_concentration", "deployer_history"))
	f.ora.Script(oracle.StageBear, bearText)
	f.ora.Script(oracle.StageJudge, judgeText("APPROVE", 78))

	out := f.run(t, memeSignal())
	d := out.Decision
	require.Equal(t, core.ResultExecute, d.Result, d.Reason)
	assert.Equal(t, ReasonExecuted, d.ReasonCode)
	assert.Len(t, d.StageMillis, 7)
	assert.NotEmpty(t, d.PacketJSON)
	assert.Equal(t, 4, f.ora.TotalCalls())
	assert.Equal(t, 1, f.ora.CallCount(oracle.StageSanad))
	assert.Equal(t, 1, f.ora.CallCount(oracle.StageJudge))

	pos := out.Position
	require.NotNil(t, pos)
	assert.Equal(t, core.Tier3, pos.Tier)
	assert.Equal(t, core.PositionOpen, pos.Status)
	// Paper cold start: 3% default x 0.7 chop factor on 10k equity.
	assert.True(t, pos.NotionalUSD.Equal(decimal.NewFromInt(210)), "notional %s", pos.NotionalUSD)
	assert.True(t, pos.EntryPrice.Equal(decimal.RequireFromString("2.5")), "entry %s", pos.EntryPrice)
	assert.True(t, pos.Size.Equal(decimal.NewFromInt(84)), "size %s", pos.Size)
	assert.Positive(t, pos.StopLossPct)
	assert.Positive(t, pos.TakeProfitPct)

	task, err := f.st.GetTask(context.Background(), core.TaskIDFor(core.TaskTypeAnalyze, pos.PositionID))
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, core.TaskPending, task.Status)
	assert.Equal(t, pos.PositionID, task.EntityID)

	cooling, err := f.st.InCooldown(context.Background(), "WIF", store.CooldownTrade)
	require.NoError(t, err)
	assert.True(t, cooling, "a fresh open must start the trade cooldown")

	require.NotEmpty(t, f.note.Sent)
	last := f.note.Sent[len(f.note.Sent)-1]
	assert.Equal(t, core.NotifyL1, last.Level)
	assert.Equal(t, "Position opened", last.Title)
}

func TestReplayedSignalPlacesOneVenueOrder(t *testing.T) {
	f := newFixture(t)
	f.enr.ev = cleanMemeEvidence(testNow)
	f.seedSymbol(t, "WIFUSDT", "2.5")
	f.ora.Script(oracle.StageSanad, sanadText(72))
	f.ora.Script(oracle.StageBull, bullText(65, "liquidity", "holder_concentration", "deployer_history"))
	f.ora.Script(oracle.StageBear, bearText)
	f.ora.Script(oracle.StageJudge, judgeText("APPROVE", 78))

	first := f.run(t, memeSignal())
	second := f.run(t, memeSignal())

	require.Equal(t, core.ResultExecute, first.Decision.Result, first.Decision.Reason)
	require.Equal(t, core.ResultExecute, second.Decision.Result, second.Decision.Reason)
	assert.Equal(t, first.Decision.DecisionID, second.Decision.DecisionID)
	assert.Equal(t, first.Decision.CorrelationID, second.Decision.CorrelationID)

	require.NotNil(t, first.Position)
	require.NotNil(t, second.Position)
	assert.Equal(t, first.Position.PositionID, second.Position.PositionID)

	open, err := f.st.CountOpenPositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, open)
	assert.Equal(t, 1, f.ex.PlacedCount(), "replay must not reach the venue twice")
}

func TestJudgeReviseMicroSizesPaperEntry(t *testing.T) {
	f := newFixture(t)
	f.seedSymbol(t, "ARBUSDT", "1.2")
	f.ora.Script(oracle.StageSanad, sanadText(72))
	f.ora.Script(oracle.StageBull, bullText(70, "tokenomics", "holder_distribution", "valuation"))
	f.ora.Script(oracle.StageBear, bearText)
	f.ora.Script(oracle.StageJudge, judgeText("REVISE", 70))

	out := f.run(t, cexSignal())
	d := out.Decision
	require.Equal(t, core.ResultExecute, d.Result, d.Reason)

	pos := out.Position
	require.NotNil(t, pos)
	// 210 base size quartered by the revise verdict.
	assert.True(t, pos.NotionalUSD.Equal(decimal.RequireFromString("52.5")), "notional %s", pos.NotionalUSD)
}

func TestJudgeReviseBlocksLiveEntry(t *testing.T) {
	f := newFixture(t)
	f.cfg.Mode = "live"
	f.seedSymbol(t, "ARBUSDT", "1.2")
	f.ora.Script(oracle.StageSanad, sanadText(72))
	f.ora.Script(oracle.StageBull, bullText(70, "tokenomics", "holder_distribution", "valuation"))
	f.ora.Script(oracle.StageBear, bearText)
	f.ora.Script(oracle.StageJudge, judgeText("REVISE", 70))

	out := f.run(t, cexSignal())
	d := out.Decision
	assert.Equal(t, core.ResultBlock, d.Result)
	assert.Equal(t, core.StageExecute, d.Stage)
	assert.Equal(t, ReasonJudgeRevise, d.ReasonCode)
	assert.Zero(t, f.ex.PlacedCount())
}

func TestSizeBelowVenueMinimumBlocks(t *testing.T) {
	f := newFixture(t)
	f.cfg.Sizing.PaperDefaultPct = 0.25
	f.seedSymbol(t, "ARBUSDT", "1.2")
	f.scriptApproval()

	out := f.run(t, cexSignal())
	d := out.Decision
	assert.Equal(t, core.ResultBlock, d.Result)
	assert.Equal(t, core.StageExecute, d.Stage)
	assert.Equal(t, ReasonSizeTooSmall, d.ReasonCode)
	assert.Zero(t, f.ex.PlacedCount())
}

func TestRejectedOrderBlocksWithNoPosition(t *testing.T) {
	f := newFixture(t)
	f.seedSymbol(t, "ARBUSDT", "1.2")
	f.ex.SetFillStatus("REJECTED")
	f.scriptApproval()

	out := f.run(t, cexSignal())
	d := out.Decision
	assert.Equal(t, core.ResultBlock, d.Result)
	assert.Equal(t, core.StageExecute, d.Stage)
	assert.Equal(t, ReasonOrderUnfilled, d.ReasonCode)
	assert.Nil(t, out.Position)

	open, err := f.st.CountOpenPositions(context.Background())
	require.NoError(t, err)
	assert.Zero(t, open)
}

func TestEnrichmentOutageStillTradesCEX(t *testing.T) {
	f := newFixture(t)
	f.enr.err = errors.New("probes down")
	f.seedSymbol(t, "ARBUSDT", "1.2")
	f.scriptApproval()

	out := f.run(t, cexSignal())
	assert.Equal(t, core.ResultExecute, out.Decision.Result, out.Decision.Reason)
	require.NotNil(t, out.Position)
}

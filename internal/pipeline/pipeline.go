// Package pipeline runs one signal through the seven-stage decision flow:
// intake, verification, classification, strategy match, adversarial debate,
// policy gates, and execution. Every run terminates in exactly one decision,
// EXECUTE, SKIP, or BLOCK, persisted with per-stage timings and the full
// packet for audit.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"sanadbot/internal/core"
	"sanadbot/internal/feed"
	"sanadbot/internal/oms"
	"sanadbot/internal/policy"
	"sanadbot/internal/runtime"
	"sanadbot/internal/strategy"
	"sanadbot/pkg/concurrency"
	"sanadbot/pkg/telemetry"

	"github.com/google/uuid"
)

// Reason codes stamped on terminal decisions.
const (
	ReasonKillSwitch      = "KILL_SWITCH"
	ReasonInvalidSignal   = "INVALID_SIGNAL"
	ReasonStaleSignal     = "STALE_SIGNAL"
	ReasonHoneypot        = "HONEYPOT"
	ReasonRugVerdict      = "RUG_VERDICT"
	ReasonBlacklisted     = "BLACKLISTED"
	ReasonSybilRisk       = "SYBIL_RISK"
	ReasonBudgetExhausted = "BUDGET_EXHAUSTED"
	ReasonOracleFailed    = "ORACLE_FAILED"
	ReasonOracleParse     = "ORACLE_PARSE"
	ReasonVerification    = "VERIFICATION_REJECT"
	ReasonTierSkip        = "TIER_SKIP"
	ReasonMemeSafety      = "MEME_SAFETY"
	ReasonNoStrategy      = "NO_STRATEGY"
	ReasonZeroSize        = "ZERO_SIZE"
	ReasonStateLookup     = "STATE_LOOKUP"
	ReasonBearFailed      = "BEAR_FAILED"
	ReasonDebateFailed    = "DEBATE_FAILED"
	ReasonJudgeParse      = "JUDGE_PARSE"
	ReasonPolicyGate      = "POLICY_GATE"
	ReasonJudgeRevise     = "JUDGE_REVISE"
	ReasonSizeTooSmall    = "SIZE_TOO_SMALL"
	ReasonOrderFailed     = "ORDER_FAILED"
	ReasonOrderUnfilled   = "ORDER_UNFILLED"
	ReasonExecuted        = "EXECUTED"
)

// preflighter simulates a DEX sell of the proposed notional. Implemented by
// exchange.RoutePreflight; nil when no RPC route is configured.
type preflighter interface {
	Quote(ctx context.Context, tokenAddress string, notionalUSD decimal.Decimal) (*big.Int, error)
}

// Deps are the collaborators the pipeline cannot build from the runtime
// context alone.
type Deps struct {
	Enricher  feed.Enricher
	Blacklist *feed.Registry
	Orders    *oms.Manager
	Preflight preflighter
}

// Pipeline owns one signal-to-decision flow. Safe for sequential reuse; the
// router never runs two signals through the same pipeline concurrently.
type Pipeline struct {
	rt         *runtime.Context
	enricher   feed.Enricher
	blacklist  *feed.Registry
	orders     *oms.Manager
	preflight  preflighter
	detector   *strategy.Detector
	strategies *strategy.Registry
	engine     *policy.Engine
	debates    *concurrency.WorkerPool
	declog     *DecisionLog
	logger     core.ILogger
}

// New wires a pipeline against the shared runtime context.
func New(rt *runtime.Context, deps Deps) (*Pipeline, error) {
	if err := rt.Validate(); err != nil {
		return nil, err
	}
	if deps.Enricher == nil {
		return nil, fmt.Errorf("pipeline requires an enricher")
	}
	if deps.Orders == nil {
		return nil, fmt.Errorf("pipeline requires an order manager")
	}
	declog, err := NewDecisionLog(rt.DataPath("decisions"), rt.Clock)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		rt:         rt,
		enricher:   deps.Enricher,
		blacklist:  deps.Blacklist,
		orders:     deps.Orders,
		preflight:  deps.Preflight,
		detector:   strategy.NewDetector(rt.Store, rt.Clock, rt.Log),
		strategies: strategy.DefaultRegistry(),
		engine:     policy.NewEngine(rt.Cfg, rt.Log),
		debates: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:       "debate",
			MaxWorkers: 2,
		}, rt.Log),
		declog: declog,
		logger: rt.Log.WithField("component", "pipeline"),
	}, nil
}

// Outcome is what one run hands back to the router.
type Outcome struct {
	Decision *core.Decision
	Position *core.Position
}

// Close releases the debate worker pool.
func (p *Pipeline) Close() {
	p.debates.Stop()
}

type stageFn struct {
	name string
	fn   func(context.Context, *state) *core.Decision
}

// Run drives the signal through all seven stages. A non-nil decision from a
// stage terminates the run; the execute stage always terminates. The
// returned error reports persistence trouble, never a trading verdict: the
// verdict is the decision itself.
func (p *Pipeline) Run(ctx context.Context, sig *core.Signal) (*Outcome, error) {
	started := p.rt.Clock.Now()
	st := newState(sig, p.rt.Clock, core.Mode(p.rt.Cfg.Mode))

	stages := []stageFn{
		{core.StageIntake, p.intake},
		{core.StageSanad, p.sanad},
		{core.StageClassification, p.classifyStage},
		{core.StageStrategy, p.match},
		{core.StageDebate, p.debate},
		{core.StagePolicy, p.policyStage},
		{core.StageExecute, p.execute},
	}

	var final *core.Decision
	for _, stage := range stages {
		st.stageStart = p.rt.Clock.Now()
		d := stage.fn(ctx, st)
		ms := p.rt.Clock.Now().Sub(st.stageStart).Milliseconds()
		st.stageMillis[stage.name] = ms
		telemetry.GetGlobalMetrics().RecordStageLatency(ctx, stage.name, float64(ms))
		if d != nil {
			final = d
			break
		}
	}
	if final == nil {
		final = st.block(core.StageExecute, ReasonOrderFailed, "no terminal decision produced")
	}
	return p.finalize(ctx, st, final, started)
}

// state is the scratchpad one run accumulates across stages.
type state struct {
	sig   *core.Signal
	clock core.Clock
	corr  string
	mode  core.Mode

	symbol           string
	catalystVerified bool

	evidence *feed.Evidence
	profile  *core.TokenProfile
	sanad    *core.SanadReport
	debate   *core.DebateOutcome

	selection strategy.Selection
	strat     *strategy.Strategy
	regime    strategy.Regime
	sizing    strategy.Sizing

	price *core.PricePoint
	gates []policy.GateEvidence

	gateFailed     int
	gateFailedName string
	hardGate       bool
	fastTrack      bool

	stageStart  time.Time
	stageMillis map[string]int64

	position  *core.Position
	persisted bool
	err       error
}

// CorrelationIDFor derives the trace id for a signal, a UUIDv5 of the
// signal id: concurrent replays of one signal share a trace and, through
// the client order id, one venue submission.
func CorrelationIDFor(signalID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(signalID)).String()
}

func newState(sig *core.Signal, clock core.Clock, mode core.Mode) *state {
	return &state{
		sig:         sig,
		corr:        CorrelationIDFor(sig.SignalID),
		clock:       clock,
		mode:        mode,
		stageMillis: make(map[string]int64, 7),
	}
}

// failGate records which gate stopped the run. hard marks security blocks
// taken before any oracle spend.
func (st *state) failGate(number int, name string, hard bool) {
	st.gateFailed = number
	st.gateFailedName = name
	st.hardGate = hard
}

func (st *state) block(stage, code, reason string) *core.Decision {
	return st.terminal(core.ResultBlock, stage, code, reason)
}

func (st *state) skip(stage, code, reason string) *core.Decision {
	return st.terminal(core.ResultSkip, stage, code, reason)
}

func (st *state) terminal(result core.DecisionResult, stage, code, reason string) *core.Decision {
	return &core.Decision{
		DecisionID:     core.DecisionIDFor(st.sig.SignalID, policy.PolicyVersion),
		SignalID:       st.sig.SignalID,
		CorrelationID:  st.corr,
		PolicyVersion:  policy.PolicyVersion,
		Result:         result,
		Stage:          stage,
		ReasonCode:     code,
		Reason:         reason,
		GateFailed:     st.gateFailed,
		GateFailedName: st.gateFailedName,
		HardGate:       st.hardGate,
		FastTrack:      st.fastTrack,
		Mode:           st.mode,
		CreatedAt:      st.clock.Now(),
	}
}

// packet assembles the policy view of everything the run has gathered.
func (st *state) packet() *policy.Packet {
	return &policy.Packet{
		Signal:           st.sig,
		Profile:          st.profile,
		Evidence:         st.evidence,
		Sanad:            st.sanad,
		Debate:           st.debate,
		Strategy:         st.strat,
		Sizing:           st.sizing,
		Regime:           st.regime,
		Mode:             st.mode,
		Symbol:           st.symbol,
		FastTrack:        st.fastTrack,
		CatalystVerified: st.catalystVerified,
	}
}

// packetEnvelope is the audit document stored on the decision row: the
// policy packet plus the evidence trail of every gate that ran.
type packetEnvelope struct {
	*policy.Packet
	Gates []policy.GateEvidence `json:"gates,omitempty"`
}

// seal attaches the audit packet and stage timings to a terminal decision.
// Called before the decision row is written so replays of the same signal
// carry the full context of the run that won.
func (p *Pipeline) seal(st *state, d *core.Decision) {
	d.StageMillis = st.stageMillis
	raw, err := json.Marshal(packetEnvelope{Packet: st.packet(), Gates: st.gates})
	if err != nil {
		p.logger.Error("decision packet marshal failed",
			"decision_id", d.DecisionID, "error", err)
		return
	}
	d.PacketJSON = string(raw)
}

// finalize persists and publishes the terminal decision. The execute stage
// persists its own decision inside the atomic position open; everything else
// is inserted here.
func (p *Pipeline) finalize(ctx context.Context, st *state, d *core.Decision, started time.Time) (*Outcome, error) {
	if !st.persisted {
		p.seal(st, d)
		if err := p.rt.Store.InsertDecision(ctx, d); err != nil {
			p.logger.Error("decision insert failed",
				"decision_id", d.DecisionID, "error", err)
			if st.err == nil {
				st.err = fmt.Errorf("decision insert: %w", err)
			}
		}
	}
	if err := p.declog.Append(d); err != nil {
		p.logger.Warn("decision log append failed",
			"decision_id", d.DecisionID, "error", err)
	}

	elapsed := p.rt.Clock.Now().Sub(started)
	telemetry.GetGlobalMetrics().IncDecision(ctx, string(d.Result))
	telemetry.GetGlobalMetrics().RecordPipelineDuration(ctx, string(d.Result), float64(elapsed.Milliseconds()))

	p.logger.Info("pipeline decision",
		"decision_id", d.DecisionID,
		"signal_id", d.SignalID,
		"token", st.sig.Token,
		"result", string(d.Result),
		"stage", d.Stage,
		"reason_code", d.ReasonCode,
		"reason", d.Reason,
		"fast_track", d.FastTrack,
		"elapsed_ms", elapsed.Milliseconds())

	return &Outcome{Decision: d, Position: st.position}, st.err
}

// symbolFor maps a token to its venue pair. Signals may override the pair
// when the venue listing differs from TOKEN+USDT.
func symbolFor(sig *core.Signal) string {
	if s, ok := sig.Extras["symbol"]; ok && s != "" {
		return strings.ToUpper(s)
	}
	return strings.ToUpper(sig.Token) + "USDT"
}

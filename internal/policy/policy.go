// Package policy is the fifteen-gate engine: a deterministic, order-stable
// PASS/BLOCK over a decision packet plus an environment snapshot, with an
// auditable evidence trail. Gates never call out; everything they read is
// gathered into GateState before evaluation so the same packet and state
// always produce the same outcome.
package policy

import (
	"time"

	"github.com/shopspring/decimal"

	"sanadbot/internal/config"
	"sanadbot/internal/core"
	"sanadbot/internal/feed"
	"sanadbot/internal/strategy"
)

// PolicyVersion stamps every decision; bump when gate semantics change.
const PolicyVersion = "v3"

// Packet is the decision packet assembled by the pipeline stages.
type Packet struct {
	Signal           *core.Signal          `json:"signal"`
	Profile          *core.TokenProfile    `json:"profile"`
	Evidence         *feed.Evidence        `json:"evidence,omitempty"`
	Sanad            *core.SanadReport     `json:"sanad,omitempty"`
	Debate           *core.DebateOutcome   `json:"debate,omitempty"`
	Strategy         *strategy.Strategy    `json:"strategy,omitempty"`
	Sizing           strategy.Sizing       `json:"sizing"`
	Regime           strategy.Regime       `json:"regime"`
	Mode             core.Mode             `json:"mode"`
	Symbol           string                `json:"symbol"`
	FastTrack        bool                  `json:"fast_track"`
	CatalystVerified bool                  `json:"catalyst_verified"`
}

// GateState is the environment snapshot the gates evaluate against. Fields
// carry explicit known/unknown markers where absence must fail closed.
type GateState struct {
	Now time.Time

	KillActive bool
	KillReason string

	Portfolio     *core.PortfolioSnapshot
	OpenPositions []*core.Position

	Price *core.PricePoint

	SlippageBps   int
	SlippageKnown bool

	SpreadBps   int
	SpreadKnown bool

	PreflightRan    bool
	PreflightOK     bool
	PreflightDetail string

	WindowChangePct float64
	WindowKnown     bool

	ExchangeErrorRatePct float64
	ExchangeHealthy      bool
	StreamConnected      bool

	ReconAt       time.Time
	ReconMismatch bool
	ReconDetail   string

	InCooldown    bool
	CooldownUntil time.Time

	SpendDayUSD   float64
	SpendMonthUSD float64

	OpenBreakers int
}

// GateResult is one gate's verdict.
type GateResult struct {
	Pass   bool
	Detail string
}

func pass(detail string) GateResult  { return GateResult{Pass: true, Detail: detail} }
func block(detail string) GateResult { return GateResult{Pass: false, Detail: detail} }

// Gate is one numbered policy gate.
type Gate interface {
	Number() int
	Name() string
	Evaluate(p *Packet, st *GateState) GateResult
}

// GateEvidence is the recorded outcome for a single gate, kept for passed
// gates too so a decision can be audited end to end.
type GateEvidence struct {
	Gate   int    `json:"gate"`
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Outcome is the engine verdict over all gates.
type Outcome struct {
	Pass           bool           `json:"pass"`
	GateFailed     int            `json:"gate_failed,omitempty"`
	GateFailedName string         `json:"gate_failed_name,omitempty"`
	Detail         string         `json:"detail,omitempty"`
	Evidence       []GateEvidence `json:"evidence"`
}

type gateFunc struct {
	number int
	name   string
	fn     func(p *Packet, st *GateState) GateResult
}

func (g gateFunc) Number() int { return g.number }
func (g gateFunc) Name() string { return g.name }
func (g gateFunc) Evaluate(p *Packet, st *GateState) GateResult {
	return g.fn(p, st)
}

// Engine evaluates the ordered gates, stopping at the first failure.
type Engine struct {
	cfg    *config.Config
	gates  []Gate
	logger core.ILogger
}

// NewEngine builds the engine with the standard fifteen gates.
func NewEngine(cfg *config.Config, logger core.ILogger) *Engine {
	e := &Engine{cfg: cfg, logger: logger.WithField("component", "policy")}
	e.gates = []Gate{
		gateFunc{1, "Kill Switch", e.killSwitch},
		gateFunc{2, "Capital Preservation", e.capitalPreservation},
		gateFunc{3, "Data Freshness", e.dataFreshness},
		gateFunc{4, "Token Age", e.tokenAge},
		gateFunc{5, "Rugpull Safety", e.rugpullSafety},
		gateFunc{6, "Liquidity Gate", e.liquidity},
		gateFunc{7, "Spread", e.spread},
		gateFunc{8, "Pre-Flight Simulation", e.preflight},
		gateFunc{9, "Volatility Halt", e.volatilityHalt},
		gateFunc{10, "Exchange Health", e.exchangeHealth},
		gateFunc{11, "Reconciliation", e.reconciliation},
		gateFunc{12, "Exposure Limits", e.exposureLimits},
		gateFunc{13, "Cooldown", e.cooldown},
		gateFunc{14, "Budget", e.budget},
		gateFunc{15, "Verdict", e.verdict},
	}
	return e
}

// Gates exposes the ordered gate list, mostly for tests and docs.
func (e *Engine) Gates() []Gate { return e.gates }

// Evaluate runs the pre-gate breaker check then every gate in order. The
// first failure stops evaluation; evidence covers every gate that ran.
func (e *Engine) Evaluate(p *Packet, st *GateState) Outcome {
	out := Outcome{Pass: true}

	if threshold := e.cfg.CircuitBreakers.SimultaneousTripPause; threshold > 0 && st.OpenBreakers >= threshold {
		detail := gateDetail("open breakers %d >= pause threshold %d", st.OpenBreakers, threshold)
		out.Pass = false
		out.GateFailedName = "Breaker Pause"
		out.Detail = detail
		out.Evidence = append(out.Evidence, GateEvidence{Gate: 0, Name: "Breaker Pause", Passed: false, Detail: detail})
		return out
	}

	for _, g := range e.gates {
		res := g.Evaluate(p, st)
		out.Evidence = append(out.Evidence, GateEvidence{
			Gate:   g.Number(),
			Name:   g.Name(),
			Passed: res.Pass,
			Detail: res.Detail,
		})
		if !res.Pass {
			out.Pass = false
			out.GateFailed = g.Number()
			out.GateFailedName = g.Name()
			out.Detail = res.Detail
			e.logger.Info("gate blocked decision",
				"gate", g.Number(), "name", g.Name(), "detail", res.Detail,
				"token", tokenOf(p))
			return out
		}
	}
	return out
}

func tokenOf(p *Packet) string {
	if p != nil && p.Signal != nil {
		return p.Signal.Token
	}
	return ""
}

func pctOf(part, whole decimal.Decimal) float64 {
	if whole.IsZero() {
		return 0
	}
	v, _ := part.Div(whole).Mul(decimal.NewFromInt(100)).Float64()
	return v
}

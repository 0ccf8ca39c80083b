package core

import "time"

// DecisionResult is the terminal outcome of a pipeline run.
type DecisionResult string

const (
	ResultExecute DecisionResult = "EXECUTE"
	ResultSkip    DecisionResult = "SKIP"
	ResultBlock   DecisionResult = "BLOCK"
)

// Pipeline stage names, in execution order.
const (
	StageIntake         = "INTAKE"
	StageSanad          = "SANAD_VERIFICATION"
	StageClassification = "TOKEN_CLASSIFICATION"
	StageStrategy       = "STRATEGY_MATCH"
	StageDebate         = "DEBATE"
	StagePolicy         = "POLICY_ENGINE"
	StageExecute        = "EXECUTE_LOG"
)

// Decision records one pipeline run. Immutable after insert.
type Decision struct {
	DecisionID     string
	SignalID       string
	CorrelationID  string
	PolicyVersion  string
	Result         DecisionResult
	Stage          string // stage at which the run went terminal
	ReasonCode     string
	Reason         string
	GateFailed     int // 0 when no gate failed
	GateFailedName string
	HardGate       bool // blocked by a security gate before any LLM spend
	FastTrack      bool
	Mode           Mode
	PacketJSON     string // full decision packet for audit
	StageMillis    map[string]int64
	CreatedAt      time.Time
}

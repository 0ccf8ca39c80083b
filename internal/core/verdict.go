package core

// Verdict is the adversarial judge's final call.
type Verdict string

const (
	VerdictApprove Verdict = "APPROVE"
	VerdictReject  Verdict = "REJECT"
	VerdictRevise  Verdict = "REVISE"
)

// SanadReport is the JSON object the deep-verification oracle must return.
// Corroboration is deterministically overridden after the call from the
// engine-computed cross-source count; the oracle's value is never trusted.
type SanadReport struct {
	TrustScore     int      `json:"trust_score"`
	Grade          string   `json:"grade"`
	Corroboration  string   `json:"corroboration"`
	RugpullFlags   []string `json:"rugpull_flags"`
	SybilRisk      string   `json:"sybil_risk"`
	Recommendation string   `json:"recommendation"`
}

// DebateArgument is one side's case, produced by a Bull or Bear call.
type DebateArgument struct {
	Side       string            `json:"side"` // BULL or BEAR
	Conviction int               `json:"conviction"`
	Thesis     string            `json:"thesis"`
	Evidence   map[string]string `json:"evidence"`
	Risks      []string          `json:"risks"`
}

// JudgeVerdict is the adversarial reviewer's JSON output.
type JudgeVerdict struct {
	Verdict    Verdict `json:"verdict"`
	Confidence int     `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// DebateOutcome bundles the full stage-5 result carried into the gates.
type DebateOutcome struct {
	Bull       *DebateArgument `json:"bull,omitempty"`
	Bear       *DebateArgument `json:"bear,omitempty"`
	Judge      *JudgeVerdict   `json:"judge,omitempty"`
	FastTrack  bool            `json:"fast_track"`
	Downgraded bool            `json:"downgraded"` // Bull evidence was incomplete
}

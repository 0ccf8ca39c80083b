package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"sanadbot/internal/core"
	"sanadbot/internal/oracle"
)

// convictionPenalty is docked from Bull when its evidence misses required
// fields for the tier.
const convictionPenalty = 20

// debate runs the adversarial stage: Bull and Bear argue in parallel on the
// debate pool, then the Judge rules over both. A missing Bear case blocks
// the trade rather than arguing it one-sided. A Judge REJECT does not block
// here; gate 15 owns that verdict so the audit trail records it as a gate
// decision.
func (p *Pipeline) debate(ctx context.Context, st *state) *core.Decision {
	if st.fastTrack {
		st.debate = &core.DebateOutcome{FastTrack: true}
		return nil
	}

	profileJSON, err := json.Marshal(st.profile)
	if err != nil {
		return st.block(core.StageDebate, ReasonDebateFailed,
			fmt.Sprintf("profile marshal failed: %v", err))
	}

	var (
		bull, bear       *core.DebateArgument
		bullErr, bearErr error
	)
	group := p.debates.Group(ctx)
	group.Submit(func() error {
		bull, bullErr = p.argue(ctx, oracle.StageBull, st, string(profileJSON))
		return nil
	})
	group.Submit(func() error {
		bear, bearErr = p.argue(ctx, oracle.StageBear, st, string(profileJSON))
		return nil
	})
	if err := group.Wait(); err != nil {
		return st.block(core.StageDebate, ReasonDebateFailed,
			fmt.Sprintf("debate pool: %v", err))
	}

	if bearErr != nil {
		return st.block(core.StageDebate, ReasonBearFailed,
			fmt.Sprintf("bear case unavailable: %v", bearErr))
	}
	if bullErr != nil {
		return st.block(core.StageDebate, ReasonDebateFailed,
			fmt.Sprintf("bull case unavailable: %v", bullErr))
	}

	downgraded := p.checkEvidenceCompleteness(st, bull)

	sanadJSON, err := json.Marshal(st.sanad)
	if err != nil {
		return st.block(core.StageDebate, ReasonDebateFailed,
			fmt.Sprintf("trust report marshal failed: %v", err))
	}
	resp, err := p.rt.Oracle.Complete(ctx, oracle.JudgePrompt(st.sig, bull, bear, string(sanadJSON)))
	if err != nil {
		return st.block(core.StageDebate, ReasonDebateFailed,
			fmt.Sprintf("judge call failed: %v", err))
	}
	verdict, err := oracle.ParseJudge(resp.Text)
	if err != nil {
		return st.block(core.StageDebate, ReasonJudgeParse,
			fmt.Sprintf("judge response rejected: %v", err))
	}

	st.debate = &core.DebateOutcome{
		Bull:       bull,
		Bear:       bear,
		Judge:      verdict,
		Downgraded: downgraded,
	}

	p.logger.Info("debate concluded",
		"token", st.sig.Token,
		"bull_conviction", bull.Conviction,
		"bear_conviction", bear.Conviction,
		"verdict", string(verdict.Verdict),
		"confidence", verdict.Confidence,
		"downgraded", downgraded)
	return nil
}

func (p *Pipeline) argue(ctx context.Context, side string, st *state, profileJSON string) (*core.DebateArgument, error) {
	resp, err := p.rt.Oracle.Complete(ctx, oracle.DebatePrompt(side, st.profile.Tier, st.sig, profileJSON))
	if err != nil {
		return nil, err
	}
	return oracle.ParseArgument(resp.Text, side)
}

// checkEvidenceCompleteness docks Bull conviction when the argument skips
// required evidence fields for the tier.
func (p *Pipeline) checkEvidenceCompleteness(st *state, bull *core.DebateArgument) bool {
	required := oracle.RequiredEvidenceFields(st.profile.Tier)
	present := 0
	for _, field := range required {
		if v, ok := bull.Evidence[field]; ok && v != "" {
			present++
		}
	}
	if present >= len(required) {
		return false
	}

	bull.Conviction -= convictionPenalty
	if bull.Conviction < 0 {
		bull.Conviction = 0
	}
	p.logger.Warn("bull evidence incomplete, conviction downgraded",
		"token", st.sig.Token,
		"present", present,
		"required", len(required),
		"conviction", bull.Conviction)
	return true
}

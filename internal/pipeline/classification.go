package pipeline

import (
	"context"
	"fmt"
	"strings"

	"sanadbot/internal/classify"
	"sanadbot/internal/core"
)

// classifyStage finalizes the tier assignment started during verification
// and terminates what the desk will not trade: SKIP-tier tokens leave
// quietly, tier-3 memes must clear the hard safety bars first.
func (p *Pipeline) classifyStage(ctx context.Context, st *state) *core.Decision {
	if st.profile.Tier == core.TierSkip {
		return st.skip(core.StageClassification, ReasonTierSkip,
			fmt.Sprintf("tier SKIP: cap %s, volume %s below tradable floors",
				st.profile.MarketCapUSD, st.profile.Volume24hUSD))
	}

	if verdict := classify.MemeSafetyGate(st.profile, st.evidence); !verdict.Safe {
		return st.block(core.StageClassification, ReasonMemeSafety,
			"meme safety gate: "+strings.Join(verdict.Reasons, "; "))
	}

	p.logger.Debug("token classified",
		"token", st.profile.Token,
		"tier", string(st.profile.Tier),
		"detailed_tier", st.profile.DetailedTier)
	return nil
}

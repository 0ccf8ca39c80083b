package pipeline

import (
	"github.com/shopspring/decimal"

	"sanadbot/internal/core"
)

// Fast-track floors. A candidate this corroborated, this large, and this
// clean gains little from a paid verification pass, so the agent skips the
// Sanad call and the debate and lets the deterministic gates decide.
const (
	fastTrackMinSources = 2
	fastTrackComponent  = "pipeline"

	gradeSahih = "SAHIH"
	gradeHasan = "HASAN"
)

var (
	fastTrackMinVolumeUSD = decimal.NewFromInt(5_000_000)
)

// fastTrackEligible requires paper mode or an operator fast-path flag, at
// least two independent sources, a tier-1/2 token, deep volume, and a clean
// flag set. Tier-3 memes never fast-track.
func (p *Pipeline) fastTrackEligible(st *state, flags []string) bool {
	if st.mode != core.ModePaper && !p.rt.Flags.FastPath(fastTrackComponent).Active() {
		return false
	}
	if st.sig.CrossSourceCount() < fastTrackMinSources {
		return false
	}
	if st.profile.Tier != core.Tier1 && st.profile.Tier != core.Tier2 {
		return false
	}
	if st.sig.Volume24hUSD.LessThan(fastTrackMinVolumeUSD) {
		return false
	}
	return len(flags) == 0
}

// fastTrackReport synthesizes the trust report deterministically. The base
// score sits above the verdict-gate minimum; corroboration, a CEX listing,
// and a strong rugcheck raise it from there.
func (p *Pipeline) fastTrackReport(sig *core.Signal) *core.SanadReport {
	grade := core.GradeForSources(sig.CrossSourceCount())
	trust := 60 + corroborationPoints(string(grade))
	if sig.CEXListed {
		trust += 10
	}
	if sig.RugcheckScore >= 80 {
		trust += 5
	}
	if trust > 95 {
		trust = 95
	}

	r := &core.SanadReport{
		TrustScore:    trust,
		Grade:         gradeHasan,
		Corroboration: string(grade),
		SybilRisk:     "LOW",
	}
	if grade == core.GradeTawatur {
		r.Grade = gradeSahih
	}
	r.Recommendation = p.recommend(r)
	return r
}

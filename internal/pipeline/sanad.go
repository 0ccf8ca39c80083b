package pipeline

import (
	"context"
	"fmt"
	"strings"

	"sanadbot/internal/classify"
	"sanadbot/internal/core"
	"sanadbot/internal/feed"
	"sanadbot/internal/oracle"
	"sanadbot/internal/store"
)

// Verification enums. The recommendation is always derived by the engine;
// the oracle's own recommendation field is discarded.
const (
	recProceed = "PROCEED"
	recCaution = "CAUTION"
	recReject  = "REJECT"

	sybilCritical = "CRITICAL"
)

// sanad verifies the signal's chain of transmission. On-chain evidence and
// the deterministic hard gates run before any oracle call; a honeypot or
// blacklisted token blocks without LLM spend. The oracle's trust report is
// then corrected: corroboration points are recomputed from the engine's
// cross-source count and the recommendation re-derived from the final score
// and flag set.
func (p *Pipeline) sanad(ctx context.Context, st *state) *core.Decision {
	ev, err := p.enricher.Enrich(ctx, st.sig)
	if err != nil {
		p.logger.Warn("evidence enrichment failed, verifying on signal data alone",
			"token", st.sig.Token, "error", err)
	}
	st.evidence = ev
	st.profile = classify.Build(st.sig, ev, p.rt.Clock.Now())

	blacklisted, blacklistReason := false, ""
	if p.blacklist != nil {
		blacklisted, blacklistReason = p.blacklist.Blacklisted(st.sig.Token)
	}
	flags := classify.DeriveRugpullFlags(st.profile, blacklisted)

	if d := p.hardSecurityGates(st, ev, blacklisted, blacklistReason); d != nil {
		return d
	}

	if p.fastTrackEligible(st, flags) {
		st.fastTrack = true
		st.sanad = p.fastTrackReport(st.sig)
		p.logger.Info("fast-track verification",
			"token", st.sig.Token,
			"sources", st.sig.CrossSourceCount(),
			"trust", st.sanad.TrustScore)
		return nil
	}

	if d := p.budgetGuard(ctx, st); d != nil {
		return d
	}

	resp, err := p.rt.Oracle.Complete(ctx, oracle.SanadPrompt(st.sig, evidenceJSON(ev)))
	if err != nil {
		return st.block(core.StageSanad, ReasonOracleFailed,
			fmt.Sprintf("verification call failed: %v", err))
	}
	report, err := oracle.ParseSanad(resp.Text)
	if err != nil {
		return st.block(core.StageSanad, ReasonOracleParse,
			fmt.Sprintf("verification response rejected: %v", err))
	}

	grade := core.GradeForSources(st.sig.CrossSourceCount())
	report.TrustScore = clampScore(report.TrustScore -
		corroborationPoints(report.Corroboration) + corroborationPoints(string(grade)))
	report.Corroboration = string(grade)
	report.RugpullFlags = unionFlags(flags, report.RugpullFlags)

	if strings.EqualFold(report.SybilRisk, sybilCritical) {
		st.sanad = report
		return st.block(core.StageSanad, ReasonSybilRisk,
			"verification flagged critical sybil risk")
	}

	report.Recommendation = p.recommend(report)
	st.sanad = report

	if report.Recommendation == recReject {
		return st.block(core.StageSanad, ReasonVerification,
			fmt.Sprintf("verification rejected: trust %d, flags [%s]",
				report.TrustScore, strings.Join(report.RugpullFlags, ",")))
	}
	return nil
}

// hardSecurityGates are the pre-oracle kill shots: confirmed honeypot, a
// RUG or BLACKLISTED scan verdict, the local blacklist, and source-flagged
// critical sybil risk. Each blocks with HardGate set.
func (p *Pipeline) hardSecurityGates(st *state, ev *feed.Evidence, blacklisted bool, blacklistReason string) *core.Decision {
	switch {
	case ev != nil && ev.HoneypotOK && ev.Honeypot:
		st.failGate(5, "Rugpull Safety", true)
		return st.block(core.StageSanad, ReasonHoneypot, "honeypot confirmed on-chain")

	case ev != nil && ev.RugscanOK &&
		(ev.RugVerdict == feed.RugVerdictRug || ev.RugVerdict == feed.RugVerdictBlacklisted):
		st.failGate(5, "Rugpull Safety", true)
		return st.block(core.StageSanad, ReasonRugVerdict,
			fmt.Sprintf("rug scan verdict %s", ev.RugVerdict))

	case blacklisted:
		st.failGate(5, "Rugpull Safety", true)
		return st.block(core.StageSanad, ReasonBlacklisted,
			fmt.Sprintf("token blacklisted: %s", blacklistReason))

	case strings.EqualFold(st.sig.Extras["sybil_risk"], sybilCritical):
		st.hardGate = true
		return st.block(core.StageSanad, ReasonSybilRisk,
			"source flagged critical sybil risk")
	}
	return nil
}

// budgetGuard refuses to start a paid verification once the day or month
// budget is spent. Gate 14 re-checks at decision time; this guard is what
// actually stops the spend.
func (p *Pipeline) budgetGuard(ctx context.Context, st *state) *core.Decision {
	now := p.rt.Clock.Now()
	day, err := p.rt.Store.SpendForDay(ctx, store.DayKey(now))
	if err != nil {
		return st.block(core.StageSanad, ReasonStateLookup,
			fmt.Sprintf("llm spend lookup failed: %v", err))
	}
	if limit := p.rt.Cfg.Budget.DailyLLMSpendLimitUSD; limit > 0 && day >= limit {
		return st.block(core.StageSanad, ReasonBudgetExhausted,
			fmt.Sprintf("daily llm budget exhausted: $%.2f of $%.2f", day, limit))
	}
	month, err := p.rt.Store.SpendForMonth(ctx, store.MonthKey(now))
	if err != nil {
		return st.block(core.StageSanad, ReasonStateLookup,
			fmt.Sprintf("llm spend lookup failed: %v", err))
	}
	if limit := p.rt.Cfg.Budget.MonthlyLLMSpendLimitUSD; limit > 0 && month >= limit {
		return st.block(core.StageSanad, ReasonBudgetExhausted,
			fmt.Sprintf("monthly llm budget exhausted: $%.2f of $%.2f", month, limit))
	}
	return nil
}

// recommend maps the corrected trust report to the engine's recommendation.
func (p *Pipeline) recommend(r *core.SanadReport) string {
	if hasHardFlag(r.RugpullFlags) {
		return recReject
	}
	if r.TrustScore < p.rt.Cfg.Sanad.MinimumTradeScore {
		return recReject
	}
	if r.TrustScore < p.rt.Cfg.Scoring.MinTrustScore {
		return recCaution
	}
	return recProceed
}

// corroborationPoints is the trust-score weight of a corroboration grade.
func corroborationPoints(grade string) int {
	switch core.CorroborationGrade(strings.ToUpper(grade)) {
	case core.GradeTawatur:
		return 10
	case core.GradeMashhur:
		return 5
	default:
		return 0
	}
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

// hasHardFlag mirrors gate 5's hard set.
func hasHardFlag(flags []string) bool {
	for _, f := range flags {
		switch f {
		case classify.FlagHoneypot, classify.FlagMintActive, classify.FlagBlacklisted:
			return true
		}
	}
	return false
}

// unionFlags merges detected and reported flags, detected first, without
// duplicates.
func unionFlags(detected, reported []string) []string {
	seen := make(map[string]struct{}, len(detected)+len(reported))
	var out []string
	for _, set := range [][]string{detected, reported} {
		for _, f := range set {
			f = strings.ToUpper(strings.TrimSpace(f))
			if f == "" {
				continue
			}
			if _, dup := seen[f]; dup {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}

func evidenceJSON(ev *feed.Evidence) string {
	if ev == nil {
		return `{"available":false}`
	}
	return ev.JSON()
}

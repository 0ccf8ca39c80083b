package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"sanadbot/internal/core"
	apperrors "sanadbot/pkg/errors"
)

// Stage names used in oracle requests and the spend ledger.
const (
	StageSanad = "SANAD"
	StageBull  = "BULL"
	StageBear  = "BEAR"
	StageJudge = "JUDGE"
)

const sanadSystemPrompt = `You are a signal verification analyst. You evaluate the credibility of a
cryptocurrency trading signal the way a hadith scholar grades a chain of transmission: who reported
it, how independent the reporters are, and whether the on-chain evidence contradicts the claim.

Respond with ONLY a JSON object, no prose, exactly this schema:
{
  "trust_score": <integer 0-100>,
  "grade": "<SAHIH|HASAN|DAIF|MAWDU>",
  "corroboration": "<TAWATUR|MASHHUR|AHAD>",
  "rugpull_flags": [<zero or more of "HONEYPOT","MINT_ACTIVE","FREEZE_ACTIVE","LP_UNLOCKED","DEV_DUMPING","BLACKLISTED">],
  "sybil_risk": "<NONE|LOW|MEDIUM|HIGH|CRITICAL>",
  "recommendation": "<PROCEED|CAUTION|REJECT>"
}`

const judgeSystemPrompt = `You are the final adversarial reviewer of a proposed cryptocurrency trade.
You have the bull case, the bear case, and the verification report. Your job is to find the reason
this trade loses money. Approve only when the bear case is genuinely answered.

Respond with ONLY a JSON object, no prose, exactly this schema:
{
  "verdict": "<APPROVE|REJECT|REVISE>",
  "confidence": <integer 0-100>,
  "reasoning": "<one paragraph>"
}`

const debateResponseSchema = `Respond with ONLY a JSON object, no prose, exactly this schema:
{
  "side": "<BULL|BEAR>",
  "conviction": <integer 0-100>,
  "thesis": "<one paragraph>",
  "evidence": {<field name>: <string value>, ...},
  "risks": [<strings>]
}`

// Tier-specific debate framing. The tier decides what kind of argument is
// even admissible: macro flows for majors, tokenomics for mid-caps, raw
// on-chain forensics for memes, wallet behavior for whale-follow signals.
var debateFraming = map[core.Tier]string{
	core.Tier1: `Argue from macro and market-structure evidence: exchange flows, funding rates,
dominant narratives, correlation to BTC/ETH regime. Required evidence fields: "market_structure",
"volume_trend", "catalyst".`,
	core.Tier2: `Argue from tokenomics and fundamentals: emission schedule, unlock calendar,
holder distribution, protocol revenue, comparable valuations. Required evidence fields:
"tokenomics", "holder_distribution", "valuation".`,
	core.Tier3: `Argue from on-chain forensics only: LP depth and lock status, deployer history,
holder concentration, buy/sell tax, honeypot simulation results. Hype is not evidence. Required
evidence fields: "liquidity", "holder_concentration", "deployer_history".`,
	core.TierWhale: `Argue from smart-money behavior: the tracked wallet's entry size relative to
its history, its win rate, whether other tracked wallets are following, and exit liquidity.
Required evidence fields: "wallet_track_record", "entry_size", "exit_liquidity".`,
}

// RequiredEvidenceFields lists the per-tier fields a complete Bull argument
// must carry. Fewer than all of them downgrades conviction at stage 5.
func RequiredEvidenceFields(tier core.Tier) []string {
	switch tier {
	case core.Tier1:
		return []string{"market_structure", "volume_trend", "catalyst"}
	case core.Tier2:
		return []string{"tokenomics", "holder_distribution", "valuation"}
	case core.Tier3:
		return []string{"liquidity", "holder_concentration", "deployer_history"}
	case core.TierWhale:
		return []string{"wallet_track_record", "entry_size", "exit_liquidity"}
	}
	return nil
}

// SanadPrompt renders the verification request for a signal plus its
// on-chain evidence block.
func SanadPrompt(sig *core.Signal, evidenceJSON string) core.OracleRequest {
	var b strings.Builder
	fmt.Fprintf(&b, "Signal under verification:\n")
	fmt.Fprintf(&b, "token: %s (%s on %s)\n", sig.Token, sig.TokenAddress, sig.Chain)
	fmt.Fprintf(&b, "primary source: %s (%s)\n", sig.SourcePrimary, sig.SourceType)
	fmt.Fprintf(&b, "signal type: %s\n", sig.SignalType)
	fmt.Fprintf(&b, "thesis: %s\n", sig.Thesis)
	fmt.Fprintf(&b, "independent sources this window: %d (%s)\n", sig.CrossSourceCount(), sig.CorroborationGrade)
	fmt.Fprintf(&b, "\nOn-chain evidence:\n%s\n", evidenceJSON)

	return core.OracleRequest{
		Stage:        StageSanad,
		SystemPrompt: sanadSystemPrompt,
		UserPrompt:   b.String(),
		MaxTokens:    600,
	}
}

// DebatePrompt renders the Bull or Bear request for a tiered token.
func DebatePrompt(side string, tier core.Tier, sig *core.Signal, profileJSON string) core.OracleRequest {
	stance := "FOR entering this trade"
	stage := StageBull
	if side == "BEAR" {
		stance = "AGAINST entering this trade"
		stage = StageBear
	}

	framing, ok := debateFraming[tier]
	if !ok {
		framing = debateFraming[core.Tier3]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You argue %s. %s\n\n", stance, framing)
	fmt.Fprintf(&b, "Token: %s on %s\nThesis: %s\n", sig.Token, sig.Chain, sig.Thesis)
	fmt.Fprintf(&b, "Profile:\n%s\n\n%s", profileJSON, debateResponseSchema)

	return core.OracleRequest{
		Stage:        stage,
		SystemPrompt: fmt.Sprintf("You are the %s in a structured trading debate. Be concrete and quantitative.", strings.ToLower(side)),
		UserPrompt:   b.String(),
		MaxTokens:    800,
	}
}

// JudgePrompt renders the final adversarial review request.
func JudgePrompt(sig *core.Signal, bull, bear *core.DebateArgument, sanadJSON string) core.OracleRequest {
	bullJSON, _ := json.Marshal(bull)
	bearJSON, _ := json.Marshal(bear)

	var b strings.Builder
	fmt.Fprintf(&b, "Token: %s on %s\nThesis: %s\n\n", sig.Token, sig.Chain, sig.Thesis)
	fmt.Fprintf(&b, "Verification report:\n%s\n\n", sanadJSON)
	fmt.Fprintf(&b, "Bull case:\n%s\n\n", bullJSON)
	fmt.Fprintf(&b, "Bear case:\n%s\n", bearJSON)

	return core.OracleRequest{
		Stage:        StageJudge,
		SystemPrompt: judgeSystemPrompt,
		UserPrompt:   b.String(),
		MaxTokens:    500,
	}
}

// ParseSanad extracts and validates the verification report.
func ParseSanad(text string) (*core.SanadReport, error) {
	var rep core.SanadReport
	if err := ExtractJSON(text, &rep); err != nil {
		return nil, err
	}
	if rep.TrustScore < 0 || rep.TrustScore > 100 {
		return nil, fmt.Errorf("%w: trust_score %d outside [0,100]", apperrors.ErrParse, rep.TrustScore)
	}
	rep.SybilRisk = strings.ToUpper(rep.SybilRisk)
	return &rep, nil
}

// ParseArgument extracts and validates one debate side's case.
func ParseArgument(text, wantSide string) (*core.DebateArgument, error) {
	var arg core.DebateArgument
	if err := ExtractJSON(text, &arg); err != nil {
		return nil, err
	}
	arg.Side = strings.ToUpper(arg.Side)
	if arg.Side == "" {
		arg.Side = wantSide
	}
	if arg.Side != wantSide {
		return nil, fmt.Errorf("%w: expected %s argument, got %s", apperrors.ErrParse, wantSide, arg.Side)
	}
	if arg.Conviction < 0 || arg.Conviction > 100 {
		return nil, fmt.Errorf("%w: conviction %d outside [0,100]", apperrors.ErrParse, arg.Conviction)
	}
	return &arg, nil
}

// ParseJudge extracts and validates the final verdict.
func ParseJudge(text string) (*core.JudgeVerdict, error) {
	var v core.JudgeVerdict
	if err := ExtractJSON(text, &v); err != nil {
		return nil, err
	}
	v.Verdict = core.Verdict(strings.ToUpper(string(v.Verdict)))
	switch v.Verdict {
	case core.VerdictApprove, core.VerdictReject, core.VerdictRevise:
	default:
		return nil, fmt.Errorf("%w: unknown verdict %q", apperrors.ErrParse, v.Verdict)
	}
	if v.Confidence < 0 || v.Confidence > 100 {
		return nil, fmt.Errorf("%w: confidence %d outside [0,100]", apperrors.ErrParse, v.Confidence)
	}
	return &v, nil
}

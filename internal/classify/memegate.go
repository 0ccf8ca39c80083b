package classify

import (
	"fmt"

	"sanadbot/internal/core"
	"sanadbot/internal/feed"
)

// Meme safety thresholds. These are hard safety bars, not tunables.
const (
	minLPLockedPct    = 50.0
	maxTop10HolderPct = 60.0
	minRugcheckScore  = 30
	maxMCapToLiq      = 50.0
	maxTaxPct         = 10.0
)

// SafetyVerdict is the meme gate outcome. Reasons list every failed check,
// not just the first, so the decision packet shows the full picture.
type SafetyVerdict struct {
	Safe    bool
	Reasons []string
}

// MemeSafetyGate runs the tier-3 hard blocks. Evidence gaps block: a meme
// token whose honeypot or rugpull status could not be verified is treated
// as unsafe. Non-tier-3 profiles pass unconditionally.
func MemeSafetyGate(p *core.TokenProfile, ev *feed.Evidence) SafetyVerdict {
	if p.Tier != core.Tier3 {
		return SafetyVerdict{Safe: true}
	}

	var reasons []string
	add := func(format string, args ...interface{}) {
		reasons = append(reasons, fmt.Sprintf(format, args...))
	}

	if ev == nil || !ev.HoneypotOK {
		add("honeypot status unverified")
	} else if p.Honeypot {
		add("honeypot")
	}

	if ev == nil || !ev.RugscanOK {
		add("rugpull scan unverified")
	} else {
		if p.MintActive {
			add("mint authority active")
		}
		if p.FreezeActive {
			add("freeze authority active")
		}
		if p.LPLockedPct < minLPLockedPct {
			add("lp locked %.1f%% < %.0f%%", p.LPLockedPct, minLPLockedPct)
		}
	}

	if ev != nil && ev.HoldersOK && p.Top10HolderPct > maxTop10HolderPct {
		add("top-10 holders %.1f%% > %.0f%%", p.Top10HolderPct, maxTop10HolderPct)
	}
	if p.RugcheckScore < minRugcheckScore {
		add("rugcheck score %d < %d", p.RugcheckScore, minRugcheckScore)
	}
	if ratio := p.MCapToLiquidity(); ratio > maxMCapToLiq {
		add("mcap/liquidity %.1fx > %.0fx", ratio, maxMCapToLiq)
	}
	if p.BuyTaxPct > maxTaxPct || p.SellTaxPct > maxTaxPct {
		add("tax buy %.1f%% sell %.1f%% > %.0f%%", p.BuyTaxPct, p.SellTaxPct, maxTaxPct)
	}

	return SafetyVerdict{Safe: len(reasons) == 0, Reasons: reasons}
}

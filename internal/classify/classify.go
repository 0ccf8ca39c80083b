// Package classify computes the TokenProfile at pipeline stage 3: detailed
// market-cap tier, the simplified tier that picks strategies and prompt
// framing, and the meme safety gate for tier-3 tokens.
package classify

import (
	"time"

	"github.com/shopspring/decimal"

	"sanadbot/internal/core"
	"sanadbot/internal/feed"
)

// Detailed market-cap tiers.
const (
	TierMegaCap  = "MEGA_CAP"  // >= 10B
	TierLargeCap = "LARGE_CAP" // 1B .. 10B
	TierMidCap   = "MID_CAP"   // 100M .. 1B
	TierSmallCap = "SMALL_CAP" // 10M .. 100M
	TierMicroCap = "MICRO_CAP" // 1M .. 10M
	TierNanoCap  = "NANO_CAP"  // < 1M
)

var (
	capMega  = decimal.NewFromInt(10_000_000_000)
	capLarge = decimal.NewFromInt(1_000_000_000)
	capMid   = decimal.NewFromInt(100_000_000)
	capSmall = decimal.NewFromInt(10_000_000)
	capMicro = decimal.NewFromInt(1_000_000)

	// Floors below which a candidate is not worth pipeline spend.
	minMarketCapUSD = decimal.NewFromInt(500_000)
	minVolumeUSD    = decimal.NewFromInt(100_000)
	minLiquidityUSD = decimal.NewFromInt(50_000)
)

// Build merges the signal and its on-chain evidence into a classified
// profile. Evidence may be nil when every probe failed; the profile then
// carries only what the signal itself asserted and the meme gate fails
// closed on the gaps.
func Build(sig *core.Signal, ev *feed.Evidence, now time.Time) *core.TokenProfile {
	p := &core.TokenProfile{
		Token:         sig.Token,
		Chain:         sig.Chain,
		MarketCapUSD:  sig.MarketCapUSD,
		LiquidityUSD:  sig.LiquidityUSD,
		Volume24hUSD:  sig.Volume24hUSD,
		CEXListed:     sig.CEXListed,
		RugcheckScore: sig.RugcheckScore,
	}

	if fdv, ok := sig.Extras["fdv_usd"]; ok {
		if d, err := decimal.NewFromString(fdv); err == nil && d.IsPositive() {
			p.FDVUSD = d
		}
	}
	if p.FDVUSD.IsZero() {
		p.FDVUSD = p.MarketCapUSD
	}
	if p.FDVUSD.IsPositive() {
		p.CirculatingFraction, _ = p.MarketCapUSD.Div(p.FDVUSD).Float64()
	}

	if ev != nil {
		if ev.HoldersOK {
			p.HolderCount = ev.HolderCount
			p.Top10HolderPct = ev.Top10HolderPct
		}
		if ev.HoneypotOK {
			p.Honeypot = ev.Honeypot
			p.BuyTaxPct = ev.BuyTaxPct
			p.SellTaxPct = ev.SellTaxPct
		}
		if ev.RugscanOK {
			p.MintActive = ev.MintActive
			p.FreezeActive = ev.FreezeActive
			p.LPLockedPct = ev.LPLockedPct
			if ev.RugcheckScore > 0 {
				p.RugcheckScore = ev.RugcheckScore
			}
		}
		if !ev.DeployedAt.IsZero() {
			p.AgeHours = now.Sub(ev.DeployedAt).Hours()
		}
	}

	Assign(p, sig.SourceType)
	return p
}

// Assign sets DetailedTier and Tier on an already populated profile.
// SKIP wins over everything, whale-source signals classify WHALE regardless
// of cap, and the rest map off market cap alone.
func Assign(p *core.TokenProfile, sourceType core.SourceType) {
	p.DetailedTier = detailedTier(p.MarketCapUSD)

	switch {
	case skip(p):
		p.Tier = core.TierSkip
	case sourceType == core.SourceWhale:
		p.Tier = core.TierWhale
	case p.DetailedTier == TierMegaCap || p.DetailedTier == TierLargeCap:
		p.Tier = core.Tier1
	case p.DetailedTier == TierMidCap:
		p.Tier = core.Tier2
	default:
		p.Tier = core.Tier3
	}
}

func detailedTier(mcap decimal.Decimal) string {
	switch {
	case mcap.GreaterThanOrEqual(capMega):
		return TierMegaCap
	case mcap.GreaterThanOrEqual(capLarge):
		return TierLargeCap
	case mcap.GreaterThanOrEqual(capMid):
		return TierMidCap
	case mcap.GreaterThanOrEqual(capSmall):
		return TierSmallCap
	case mcap.GreaterThanOrEqual(capMicro):
		return TierMicroCap
	default:
		return TierNanoCap
	}
}

// skip screens out candidates not worth pipeline spend: unknown or dust
// market cap, dead volume, or an unlisted token whose pool is too thin to
// exit. CEX-listed tokens carry no pool figure, so the liquidity floor only
// applies off-exchange.
func skip(p *core.TokenProfile) bool {
	if p.MarketCapUSD.LessThan(minMarketCapUSD) {
		return true
	}
	if p.Volume24hUSD.LessThan(minVolumeUSD) {
		return true
	}
	if !p.CEXListed && p.LiquidityUSD.LessThan(minLiquidityUSD) {
		return true
	}
	return false
}

// Rugpull flag names shared by the deterministic derivation and the trust
// assessment prompt schema.
const (
	FlagHoneypot    = "HONEYPOT"
	FlagMintActive  = "MINT_ACTIVE"
	FlagFreezeOn    = "FREEZE_ACTIVE"
	FlagLPUnlocked  = "LP_UNLOCKED"
	FlagDevDumping  = "DEV_DUMPING"
	FlagBlacklisted = "BLACKLISTED"
)

// DeriveRugpullFlags computes the flags that never depend on LLM judgment.
// DEV_DUMPING is the one flag only the model can raise.
func DeriveRugpullFlags(p *core.TokenProfile, blacklisted bool) []string {
	var flags []string
	if p.Honeypot {
		flags = append(flags, FlagHoneypot)
	}
	if p.MintActive {
		flags = append(flags, FlagMintActive)
	}
	if p.FreezeActive {
		flags = append(flags, FlagFreezeOn)
	}
	if p.LPLockedPct > 0 && p.LPLockedPct < minLPLockedPct {
		flags = append(flags, FlagLPUnlocked)
	}
	if blacklisted {
		flags = append(flags, FlagBlacklisted)
	}
	return flags
}

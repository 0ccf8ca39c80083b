package core

import "github.com/shopspring/decimal"

// Tier is the simplified asset class that picks strategies, prompt
// templates, and veto rules. SKIP terminates the pipeline at classification.
type Tier string

const (
	TierSkip  Tier = "SKIP"
	Tier1     Tier = "TIER_1"
	Tier2     Tier = "TIER_2"
	Tier3     Tier = "TIER_3"
	TierWhale Tier = "WHALE"
)

// TokenProfile is the classified view of a token computed at stage 3.
type TokenProfile struct {
	Token               string
	Chain               string
	MarketCapUSD        decimal.Decimal
	FDVUSD              decimal.Decimal
	CirculatingFraction float64
	AgeHours            float64
	LiquidityUSD        decimal.Decimal
	Volume24hUSD        decimal.Decimal
	CEXListed           bool
	RugcheckScore       int
	Top10HolderPct      float64
	HolderCount         int
	Honeypot            bool
	MintActive          bool
	FreezeActive        bool
	LPLockedPct         float64
	BuyTaxPct           float64
	SellTaxPct          float64
	DetailedTier        string
	Tier                Tier
}

// MCapToLiquidity is market cap divided by pool liquidity; large ratios mean
// the quoted cap cannot be exited through the pool.
func (p *TokenProfile) MCapToLiquidity() float64 {
	if p.LiquidityUSD.IsZero() {
		return 0
	}
	ratio, _ := p.MarketCapUSD.Div(p.LiquidityUSD).Float64()
	return ratio
}

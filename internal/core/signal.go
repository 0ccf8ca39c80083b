package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// SourceType buckets feed sources by the kind of evidence they carry.
type SourceType string

const (
	SourceOnChain SourceType = "ONCHAIN"
	SourceCEX     SourceType = "CEX"
	SourceSocial  SourceType = "SOCIAL"
	SourceNews    SourceType = "NEWS"
	SourceWhale   SourceType = "WHALE"
)

// CorroborationGrade ranks a signal by how many independent sources confirm
// the same token in the current window.
type CorroborationGrade string

const (
	GradeAhad    CorroborationGrade = "AHAD"    // single source
	GradeMashhur CorroborationGrade = "MASHHUR" // two independent sources
	GradeTawatur CorroborationGrade = "TAWATUR" // three or more
)

// GradeForSources maps a distinct-source count to its grade.
func GradeForSources(n int) CorroborationGrade {
	switch {
	case n >= 3:
		return GradeTawatur
	case n == 2:
		return GradeMashhur
	default:
		return GradeAhad
	}
}

// Signal is one normalized candidate opportunity. Feed adapters produce the
// upper block; the router fills the enrichment block before the pipeline
// ever sees the signal. Genuinely open source-specific fields go in Extras.
type Signal struct {
	SignalID      string          `json:"signal_id"`
	Token         string          `json:"token"`
	TokenAddress  string          `json:"token_address"`
	Chain         string          `json:"chain"`
	SourcePrimary string          `json:"source_primary"`
	SourceType    SourceType      `json:"source_type"`
	SignalType    string          `json:"signal_type"`
	Thesis        string          `json:"thesis"`
	Timestamp     time.Time       `json:"timestamp"`
	PriceUSD      decimal.Decimal `json:"price_usd"`
	Volume24hUSD  decimal.Decimal `json:"volume_24h_usd"`
	LiquidityUSD  decimal.Decimal `json:"liquidity_usd"`
	MarketCapUSD  decimal.Decimal `json:"market_cap_usd"`
	CEXListed     bool            `json:"cex_listed"`
	PaidPromotion bool            `json:"paid_promotion"`
	RugcheckScore int             `json:"rugcheck_score"`

	// Enrichment, router-owned.
	Corroboration      []string           `json:"corroboration,omitempty"`
	CorroborationGrade CorroborationGrade `json:"corroboration_grade,omitempty"`
	Score              float64            `json:"score,omitempty"`

	Extras map[string]string `json:"extras,omitempty"`
}

// CrossSourceCount is the number of distinct sources that mentioned the
// token in the window, the primary source included.
func (s *Signal) CrossSourceCount() int {
	if len(s.Corroboration) == 0 {
		return 1
	}
	seen := map[string]struct{}{s.SourcePrimary: {}}
	for _, src := range s.Corroboration {
		seen[src] = struct{}{}
	}
	return len(seen)
}

// Age reports signal staleness relative to now.
func (s *Signal) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}

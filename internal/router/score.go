package router

import (
	"strconv"

	"github.com/shopspring/decimal"

	"sanadbot/internal/core"
	"sanadbot/internal/strategy"
)

// Scoring bands. The formula is deterministic so the same batch ranks the
// same way on every replay; weights favor venue quality and independent
// corroboration over raw momentum.
const (
	scoreCEXListing = 20

	scoreVolumeHigh = 15 // >= $10M 24h
	scoreVolumeMid  = 10 // >= $1M
	scoreVolumeLow  = 5  // >= $100k

	scoreLiquidityDeep = 10 // >= $5M, or a CEX order book
	scoreLiquidityMid  = 6  // >= $500k
	scoreLiquidityThin = 3  // >= $50k

	scoreTawatur = 15
	scoreMashhur = 8

	scoreRugcheckStrong = 10 // >= 80
	scoreRugcheckOK     = 5  // >= 50

	scoreHoldersHealthy      = 5  // top-10 concentration <= 20%
	scoreHoldersConcentrated = -5 // top-10 concentration > 60%

	scoreMomentumSurge = 10 // 24h change >= +10%
	scoreMomentumUp    = 5  // >= +3%
	scoreMomentumDown  = -5 // negative

	scoreSourceCEX     = 10
	scoreSourceWhale   = 8
	scoreSourceOnChain = 5
	scoreSourceSocial  = 2
)

var (
	volumeHigh = decimal.NewFromInt(10_000_000)
	volumeMid  = decimal.NewFromInt(1_000_000)
	volumeLow  = decimal.NewFromInt(100_000)

	liquidityDeep = decimal.NewFromInt(5_000_000)
	liquidityMid  = decimal.NewFromInt(500_000)
	liquidityThin = decimal.NewFromInt(50_000)
)

// Score computes the selection score for one corroborated signal. The
// regime multiplier leans into strength and trims weakness without ever
// zeroing the queue.
func Score(sig *core.Signal, regime strategy.Regime) float64 {
	pts := 0

	if sig.CEXListed {
		pts += scoreCEXListing
	}

	switch {
	case sig.Volume24hUSD.GreaterThanOrEqual(volumeHigh):
		pts += scoreVolumeHigh
	case sig.Volume24hUSD.GreaterThanOrEqual(volumeMid):
		pts += scoreVolumeMid
	case sig.Volume24hUSD.GreaterThanOrEqual(volumeLow):
		pts += scoreVolumeLow
	}

	switch {
	case sig.CEXListed || sig.LiquidityUSD.GreaterThanOrEqual(liquidityDeep):
		pts += scoreLiquidityDeep
	case sig.LiquidityUSD.GreaterThanOrEqual(liquidityMid):
		pts += scoreLiquidityMid
	case sig.LiquidityUSD.GreaterThanOrEqual(liquidityThin):
		pts += scoreLiquidityThin
	}

	switch sig.CorroborationGrade {
	case core.GradeTawatur:
		pts += scoreTawatur
	case core.GradeMashhur:
		pts += scoreMashhur
	}

	switch {
	case sig.RugcheckScore >= 80:
		pts += scoreRugcheckStrong
	case sig.RugcheckScore >= 50:
		pts += scoreRugcheckOK
	}

	if top10, ok := extraFloat(sig, "top10_holder_pct"); ok {
		switch {
		case top10 <= 20:
			pts += scoreHoldersHealthy
		case top10 > 60:
			pts += scoreHoldersConcentrated
		}
	}

	if change, ok := extraFloat(sig, "price_change_24h_pct"); ok {
		switch {
		case change >= 10:
			pts += scoreMomentumSurge
		case change >= 3:
			pts += scoreMomentumUp
		case change < 0:
			pts += scoreMomentumDown
		}
	}

	switch sig.SourceType {
	case core.SourceCEX:
		pts += scoreSourceCEX
	case core.SourceWhale:
		pts += scoreSourceWhale
	case core.SourceOnChain:
		pts += scoreSourceOnChain
	case core.SourceSocial:
		pts += scoreSourceSocial
	}

	return float64(pts) * regimeMultiplier(regime)
}

func regimeMultiplier(regime strategy.Regime) float64 {
	switch regime {
	case strategy.RegimeBull:
		return 1.1
	case strategy.RegimeBear:
		return 0.85
	default:
		return 1.0
	}
}

// extraFloat reads a numeric enrichment field from the signal's open
// key-value block. Absent or malformed values contribute nothing.
func extraFloat(sig *core.Signal, key string) (float64, bool) {
	raw, ok := sig.Extras[key]
	if !ok || raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

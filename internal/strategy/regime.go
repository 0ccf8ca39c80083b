package strategy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"sanadbot/internal/core"
)

// Regime is the coarse market state tag used as the bandit's context key
// and as a sizing modulator.
type Regime string

const (
	RegimeBull Regime = "BULL"
	RegimeBear Regime = "BEAR"
	RegimeChop Regime = "CHOP"
)

// SizeFactor scales position size by regime. Bear markets cut size hard;
// paper mode floors the factor via sizing config so simulations keep trading.
func (r Regime) SizeFactor() float64 {
	switch r {
	case RegimeBull:
		return 1.0
	case RegimeBear:
		return 0.4
	default:
		return 0.7
	}
}

const (
	regimeSymbol     = "BTCUSDT"
	regimeWindow     = 24 * time.Hour
	regimeBullThresh = 3.0  // percent
	regimeBearThresh = -3.0 // percent
)

// regimePrices is the slice of the store the detector needs.
type regimePrices interface {
	GetPrice(ctx context.Context, symbol string) (*core.PricePoint, error)
	PriceAt(ctx context.Context, symbol string, asOf time.Time) (decimal.Decimal, bool, error)
}

// Detector classifies the market regime from the reference symbol's 24h
// return in the price cache.
type Detector struct {
	prices regimePrices
	clock  core.Clock
	logger core.ILogger
}

// NewDetector builds a regime detector over the price cache.
func NewDetector(prices regimePrices, clock core.Clock, logger core.ILogger) *Detector {
	return &Detector{prices: prices, clock: clock, logger: logger.WithField("component", "regime")}
}

// Detect returns the current regime. Missing reference data degrades to
// CHOP: neutral sizing, never a reason to halt.
func (d *Detector) Detect(ctx context.Context) Regime {
	now := d.clock.Now()

	current, err := d.prices.GetPrice(ctx, regimeSymbol)
	if err != nil || current == nil || current.Price.IsZero() {
		d.logger.Warn("regime reference price unavailable", "symbol", regimeSymbol, "error", err)
		return RegimeChop
	}
	past, ok, err := d.prices.PriceAt(ctx, regimeSymbol, now.Add(-regimeWindow))
	if err != nil || !ok || past.IsZero() {
		d.logger.Warn("regime window price unavailable", "symbol", regimeSymbol, "error", err)
		return RegimeChop
	}

	changePct, _ := current.Price.Sub(past).Div(past).Mul(decimal.NewFromInt(100)).Float64()
	switch {
	case changePct >= regimeBullThresh:
		return RegimeBull
	case changePct <= regimeBearThresh:
		return RegimeBear
	default:
		return RegimeChop
	}
}

package strategy

import (
	"github.com/shopspring/decimal"

	"sanadbot/internal/config"
	"sanadbot/internal/core"
)

// Sizing is the stage-4 sizing result, recorded into the decision packet.
type Sizing struct {
	SizeUSD      decimal.Decimal
	FractionPct  float64 // percent of equity, after caps and regime factor
	KellyPct     float64 // raw fractional-Kelly percent before caps
	KellyUsed    bool    // false = cold start default
	RegimeFactor float64
	WinRate      float64
	Payoff       float64 // avg win / avg loss
	TradesUsed   int
}

// ComputeSize sizes the position. Kelly kicks in only once the arm has
// kelly_min_trades closed trades behind it; until then the mode's cold-start
// default applies. The result is always bounded by the mode cap and scaled
// by the regime factor (floored in paper mode so simulations keep trading).
func ComputeSize(cfg config.SizingConfig, mode core.Mode, equity decimal.Decimal, history []*core.TradeRecord, strategyID string, regime Regime) Sizing {
	out := Sizing{RegimeFactor: regime.SizeFactor()}
	if mode == core.ModePaper && out.RegimeFactor < cfg.PaperRegimeFloor {
		out.RegimeFactor = cfg.PaperRegimeFloor
	}

	fraction := coldStartPct(cfg, mode)
	wins, losses, sumWin, sumLoss := tally(history, strategyID)
	out.TradesUsed = wins + losses

	if out.TradesUsed >= cfg.KellyMinTrades && wins > 0 && losses > 0 && sumLoss > 0 {
		out.WinRate = float64(wins) / float64(out.TradesUsed)
		out.Payoff = (sumWin / float64(wins)) / (sumLoss / float64(losses))
		kelly := out.WinRate - (1-out.WinRate)/out.Payoff
		if kelly > 0 {
			out.KellyPct = kelly * cfg.KellyFraction * 100
			fraction = out.KellyPct
			out.KellyUsed = true
		} else {
			// Negative edge: stay at the floor-sized default, never zero,
			// so the arm keeps generating the trades that update it.
			fraction = coldStartPct(cfg, mode)
		}
	}

	fraction *= out.RegimeFactor

	cap := cfg.MaxPositionPct
	if mode == core.ModePaper {
		cap = cfg.PaperMaxPositionPct
	}
	if cap > 0 && fraction > cap {
		fraction = cap
	}
	if fraction < 0 {
		fraction = 0
	}

	out.FractionPct = fraction
	out.SizeUSD = equity.Mul(decimal.NewFromFloat(fraction / 100)).Round(2)
	return out
}

func coldStartPct(cfg config.SizingConfig, mode core.Mode) float64 {
	if mode == core.ModePaper {
		return cfg.PaperDefaultPct
	}
	return cfg.KellyDefaultPct
}

// tally splits the arm's closed trades into win/loss aggregates in USD.
func tally(history []*core.TradeRecord, strategyID string) (wins, losses int, sumWin, sumLoss float64) {
	for _, tr := range history {
		if tr.StrategyID != strategyID {
			continue
		}
		pnl, _ := tr.NetPnLUSD.Float64()
		switch {
		case pnl > 0:
			wins++
			sumWin += pnl
		case pnl < 0:
			losses++
			sumLoss += -pnl
		}
	}
	return wins, losses, sumWin, sumLoss
}

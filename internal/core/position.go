package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus is the two-state position lifecycle. Rows are never deleted.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// Risk flags raised by the cold path after execution.
const (
	FlagAsyncFailedPermanent = "FLAG_ASYNC_FAILED_PERMANENT"
	FlagJudgeHighConfReject  = "FLAG_JUDGE_HIGH_CONF_REJECT"
)

// Exit reasons recorded on close.
const (
	ExitEmergencySell  = "EMERGENCY_SELL"
	ExitStopLoss       = "STOP_LOSS"
	ExitTakeProfit     = "TAKE_PROFIT"
	ExitTrailingStop   = "TRAILING_STOP"
	ExitTimeLimit      = "TIME_EXIT"
	ExitMomentumDecay  = "MOMENTUM_DECAY"
	ExitExternalSignal = "EXTERNAL_EXIT"
	ExitManual         = "MANUAL"
)

// Position is one open or closed trade. Opened only by the pipeline through
// the store's atomic open; mutated afterwards by the monitor and cold path.
type Position struct {
	PositionID     string
	DecisionID     string
	Symbol         string
	Token          string
	Chain          string
	Tier           Tier
	StrategyID     string
	RegimeTag      string
	Status         PositionStatus
	Side           OrderSide
	EntryPrice     decimal.Decimal
	Size           decimal.Decimal
	NotionalUSD    decimal.Decimal
	StopLossPct    float64
	TakeProfitPct  float64
	EntryVolume24h decimal.Decimal
	ExitPrice      decimal.Decimal
	ExitReason     string
	GrossPnLUSD    decimal.Decimal
	FeeUSD         decimal.Decimal
	NetPnLUSD      decimal.Decimal
	RiskFlag       string
	AsyncDone      bool
	AsyncJSON      string
	Mode           Mode
	OpenedAt       time.Time
	ClosedAt       time.Time
}

// UnrealizedPnLPct is the signed move from entry at the given price,
// in percent. Sell-side positions invert the sign.
func (p *Position) UnrealizedPnLPct(current decimal.Decimal) float64 {
	if p.EntryPrice.IsZero() {
		return 0
	}
	move, _ := current.Sub(p.EntryPrice).Div(p.EntryPrice).Float64()
	if p.Side == SideSell {
		move = -move
	}
	return move * 100
}

// HoldDuration reports how long the position has been held as of now.
func (p *Position) HoldDuration(now time.Time) time.Duration {
	return now.Sub(p.OpenedAt)
}

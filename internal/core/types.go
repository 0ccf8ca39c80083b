package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Mode selects paper or live execution.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// PricePoint is one row of the shared price cache. The pricefeed worker is
// the single writer; monitor, heartbeat, and gates only read.
type PricePoint struct {
	Symbol    string
	Price     decimal.Decimal
	Volume24h decimal.Decimal
	UpdatedAt time.Time
}

// Age reports how stale the point is relative to now.
func (p PricePoint) Age(now time.Time) time.Duration {
	return now.Sub(p.UpdatedAt)
}

// TradeRecord is the append-only history row emitted when a position closes.
type TradeRecord struct {
	PositionID  string
	Symbol      string
	Side        OrderSide
	EntryPrice  decimal.Decimal
	ExitPrice   decimal.Decimal
	Size        decimal.Decimal
	GrossPnLUSD decimal.Decimal
	FeeUSD      decimal.Decimal
	NetPnLUSD   decimal.Decimal
	HoldMinutes int64
	ExitReason  string
	StrategyID  string
	RegimeTag   string
	Mode        Mode
	ClosedAt    time.Time
}

// PortfolioSnapshot aggregates account-level state for gates and heartbeat.
type PortfolioSnapshot struct {
	BalanceUSD        decimal.Decimal
	EquityUSD         decimal.Decimal
	PeakEquityUSD     decimal.Decimal
	DailyPnLUSD       decimal.Decimal
	TotalPnLUSD       decimal.Decimal
	DrawdownPct       float64
	MemeAllocationPct float64
	OpenPositions     int
	UpdatedAt         time.Time
}

// ExecutionQuality compares realized entry/exit against the estimates the
// policy engine approved, feeding the reconciliation evidence.
type ExecutionQuality struct {
	PositionID          string
	EstimatedSlipBps    int
	RealizedSlipBps     int
	SubmitToFillMillis  int64
	PartialFills        int
	RecordedAt          time.Time
}

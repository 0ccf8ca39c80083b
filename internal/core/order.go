package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderState is the exchange-facing order lifecycle.
//
//	NEW → SUBMITTED → ACKNOWLEDGED → PARTIALLY_FILLED* → FILLED
//	                              ↘ CANCELED | EXPIRED
//	                ↘ REJECTED | FAILED
type OrderState string

const (
	OrderNew             OrderState = "NEW"
	OrderSubmitted       OrderState = "SUBMITTED"
	OrderAcknowledged    OrderState = "ACKNOWLEDGED"
	OrderPartiallyFilled OrderState = "PARTIALLY_FILLED"
	OrderFilled          OrderState = "FILLED"
	OrderCanceled        OrderState = "CANCELED"
	OrderRejected        OrderState = "REJECTED"
	OrderExpired         OrderState = "EXPIRED"
	OrderFailed          OrderState = "FAILED"
)

// Terminal reports whether no further transition is allowed from s.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderFilled, OrderCanceled, OrderRejected, OrderExpired, OrderFailed:
		return true
	}
	return false
}

// OrderSide is BUY or SELL.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Order types and time-in-force values the venues accept.
const (
	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"

	TIFGoodTillCancel  = "GTC"
	TIFImmediateOrKill = "IOC"
	TIFFillOrKill      = "FOK"
)

// Order is the persisted exchange-facing order record. ClientOrderID is the
// idempotency key; the intent row is written before any exchange call.
type Order struct {
	ClientOrderID   string
	ExchangeOrderID string
	PositionID      string
	CorrelationID   string
	StrategyID      string
	Symbol          string
	Side            OrderSide
	Type            string
	TimeInForce     string
	Price           decimal.Decimal // zero for market orders
	Quantity        decimal.Decimal
	FilledQuantity  decimal.Decimal
	AvgFillPrice    decimal.Decimal
	FeeUSD          decimal.Decimal
	State           OrderState
	Retries         int
	Paper           bool
	Venue           string
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Remaining is the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Fill is one execution against an order.
type Fill struct {
	ClientOrderID string
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	FeeUSD        decimal.Decimal
	Timestamp     time.Time
}

// OrderRequest is the normalized request shape handed to a venue.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Type          string
	TimeInForce   string
	Quantity      decimal.Decimal
	Price         decimal.Decimal
}

// OrderResult is the normalized venue response shape.
type OrderResult struct {
	OrderID     string          `json:"orderId"`
	Status      string          `json:"status"`
	ExecutedQty decimal.Decimal `json:"executedQty"`
	Price       decimal.Decimal `json:"price"`
	FeeUSD      decimal.Decimal `json:"fee_usd"`
}

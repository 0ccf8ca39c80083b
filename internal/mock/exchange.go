// Package mock provides in-memory implementations of the core
// interfaces for tests.
package mock

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"sanadbot/internal/core"
)

// Exchange implements core.IExchange with settable market data and
// scripted failures. Fills are immediate and full unless FillStatus
// overrides the reported status.
type Exchange struct {
	mu sync.RWMutex

	name        string
	prices      map[string]decimal.Decimal
	volumes     map[string]decimal.Decimal
	spreads     map[string]int
	slippage    map[string]int
	serverTime  time.Time
	healthErr   error
	priceErr    error
	placeErr    error
	cancelErr   error
	feeRate     decimal.Decimal
	fillStatus  string
	fillPartial decimal.Decimal // when set, executed quantity of the next fill

	orderSeq  int64
	byClient  map[string]*core.OrderResult
	Placed    []*core.OrderRequest
	Canceled  []string
	PlaceHook func(req *core.OrderRequest) (*core.OrderResult, error)
}

func NewExchange(name string) *Exchange {
	return &Exchange{
		name:       name,
		prices:     make(map[string]decimal.Decimal),
		volumes:    make(map[string]decimal.Decimal),
		spreads:    make(map[string]int),
		slippage:   make(map[string]int),
		serverTime: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		feeRate:    decimal.NewFromFloat(0.001),
		fillStatus: "FILLED",
		orderSeq:   1000,
		byClient:   make(map[string]*core.OrderResult),
	}
}

func (m *Exchange) SetPrice(symbol string, p decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = p
}

func (m *Exchange) SetVolume(symbol string, v decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volumes[symbol] = v
}

func (m *Exchange) SetSpreadBps(symbol string, bps int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spreads[symbol] = bps
}

func (m *Exchange) SetSlippageBps(symbol string, bps int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slippage[symbol] = bps
}

func (m *Exchange) SetServerTime(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serverTime = t
}

func (m *Exchange) SetHealthErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthErr = err
}

func (m *Exchange) SetPriceErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.priceErr = err
}

func (m *Exchange) SetPlaceErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placeErr = err
}

func (m *Exchange) SetCancelErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelErr = err
}

func (m *Exchange) SetFillStatus(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fillStatus = status
}

// SetPartialFill makes subsequent orders report qty as executed.
func (m *Exchange) SetPartialFill(qty decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fillStatus = "PARTIALLY_FILLED"
	m.fillPartial = qty
}

func (m *Exchange) Name() string { return m.name }

func (m *Exchange) CheckHealth(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthErr
}

func (m *Exchange) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.priceErr != nil {
		return decimal.Zero, m.priceErr
	}
	p, ok := m.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("mock: no price for %s", symbol)
	}
	return p, nil
}

func (m *Exchange) GetVolume24h(ctx context.Context, symbol string) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.volumes[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("mock: no volume for %s", symbol)
	}
	return v, nil
}

func (m *Exchange) GetSpreadBps(ctx context.Context, symbol string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bps, ok := m.spreads[symbol]
	if !ok {
		return 0, fmt.Errorf("mock: no book for %s", symbol)
	}
	return bps, nil
}

func (m *Exchange) EstimateSlippageBps(ctx context.Context, symbol string, notionalUSD decimal.Decimal) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bps, ok := m.slippage[symbol]
	if !ok {
		return 0, fmt.Errorf("mock: no depth for %s", symbol)
	}
	return bps, nil
}

// PlaceOrder fills at the configured price. Repeats of a client order ID
// return the original result without recording a second order.
func (m *Exchange) PlaceOrder(ctx context.Context, req *core.OrderRequest) (*core.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PlaceHook != nil {
		return m.PlaceHook(req)
	}
	if m.placeErr != nil {
		return nil, m.placeErr
	}
	if prior, ok := m.byClient[req.ClientOrderID]; ok {
		return prior, nil
	}

	price, ok := m.prices[req.Symbol]
	if !ok {
		return nil, fmt.Errorf("mock: no price for %s", req.Symbol)
	}
	if req.Type == core.OrderTypeLimit && !req.Price.IsZero() {
		price = req.Price
	}
	executed := req.Quantity
	if m.fillStatus == "PARTIALLY_FILLED" && !m.fillPartial.IsZero() {
		executed = m.fillPartial
	}

	m.orderSeq++
	res := &core.OrderResult{
		OrderID:     strconv.FormatInt(m.orderSeq, 10),
		Status:      m.fillStatus,
		ExecutedQty: executed,
		Price:       price,
		FeeUSD:      price.Mul(executed).Mul(m.feeRate),
	}
	m.byClient[req.ClientOrderID] = res
	m.Placed = append(m.Placed, req)
	return res, nil
}

func (m *Exchange) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelErr != nil {
		return m.cancelErr
	}
	m.Canceled = append(m.Canceled, clientOrderID)
	return nil
}

func (m *Exchange) GetServerTime(ctx context.Context) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.serverTime, nil
}

// PlacedCount returns how many distinct orders were recorded.
func (m *Exchange) PlacedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.Placed)
}

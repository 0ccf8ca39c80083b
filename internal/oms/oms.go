// Package oms drives exchange orders through their lifecycle: idempotent
// placement, rate-limited submission with bounded retry, fill accounting,
// and cancellation. The intent row is persisted before any venue call so a
// crash between the two leaves a resumable order instead of an untracked
// venue order.
package oms

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"sanadbot/internal/config"
	"sanadbot/internal/core"
	"sanadbot/internal/store"
	apperrors "sanadbot/pkg/errors"
	"sanadbot/pkg/retry"
	"sanadbot/pkg/telemetry"
)

// Venue statuses as normalized by the exchange layer.
const (
	statusFilled          = "FILLED"
	statusPartiallyFilled = "PARTIALLY_FILLED"
	statusRejected        = "REJECTED"
	statusExpired         = "EXPIRED"
	statusCanceled        = "CANCELED"
)

// callWindowCapacity bounds the submission outcome ring buffer backing
// ErrorRatePct.
const callWindowCapacity = 1024

var submitPolicy = retry.RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
}

// killCheck is the slice of the kill switch the manager needs.
type killCheck interface {
	Active() bool
}

// PlaceRequest describes one order to place. CorrelationID, StrategyID,
// Side, Symbol, and the submission time derive the deterministic client
// order id; PositionID links fills back to the owning position.
type PlaceRequest struct {
	Symbol        string
	Side          core.OrderSide
	Type          string // defaults to MARKET
	TimeInForce   string // defaults to GTC
	Quantity      decimal.Decimal
	Price         decimal.Decimal // limit orders only
	StrategyID    string
	CorrelationID string
	PositionID    string
	Paper         bool
}

type callRecord struct {
	at     time.Time
	failed bool
}

// Manager owns the order state machine over the store and one venue.
type Manager struct {
	store    *store.Store
	exchange core.IExchange
	kill     killCheck
	limiter  *rate.Limiter
	policy   retry.RetryPolicy
	clock    core.Clock
	logger   core.ILogger

	callMu    sync.Mutex
	calls     []callRecord
	callIndex int
}

// NewManager wires the manager onto its venue. The rate limiter bounds
// venue submissions, not local bookkeeping.
func NewManager(st *store.Store, ex core.IExchange, kill killCheck, cfg config.ExchangeConfig, clock core.Clock, logger core.ILogger) *Manager {
	perSec := cfg.OrdersPerSecond
	if perSec <= 0 {
		perSec = 5
	}
	burst := cfg.OrderBurst
	if burst <= 0 {
		burst = perSec
	}
	return &Manager{
		store:    st,
		exchange: ex,
		kill:     kill,
		limiter:  rate.NewLimiter(rate.Limit(perSec), burst),
		policy:   submitPolicy,
		clock:    clock,
		logger:   logger.WithField("component", "oms"),
		calls:    make([]callRecord, 0, callWindowCapacity),
	}
}

// PlaceOrder persists the order intent, then submits it to the venue.
//
// The client order id is deterministic over (correlation id, strategy,
// side, symbol, 5-minute bucket), so a repeated call inside the bucket
// finds the stored row and returns it without a second venue submission.
// Rows still in NEW or SUBMITTED resume: the venue deduplicates repeats
// by client order id, so resubmission after a crash is safe.
//
// When submission fails after the intent was stored, the returned order
// carries the persisted terminal state and LastError alongside the error.
func (m *Manager) PlaceOrder(ctx context.Context, req *PlaceRequest) (*core.Order, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if !req.Paper && m.kill.Active() {
		m.logger.Warn("live order refused, kill switch active",
			"symbol", req.Symbol, "side", string(req.Side))
		return nil, apperrors.ErrKillSwitchActive
	}

	now := m.clock.Now()
	intent := &core.Order{
		ClientOrderID: core.ClientOrderIDFor(req.CorrelationID, req.StrategyID, req.Side, req.Symbol, now),
		PositionID:    req.PositionID,
		CorrelationID: req.CorrelationID,
		StrategyID:    req.StrategyID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		TimeInForce:   req.TimeInForce,
		Price:         req.Price,
		Quantity:      req.Quantity,
		State:         core.OrderNew,
		Paper:         req.Paper,
		Venue:         m.exchange.Name(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if intent.Type == "" {
		intent.Type = core.OrderTypeMarket
	}
	if intent.TimeInForce == "" {
		intent.TimeInForce = core.TIFGoodTillCancel
	}

	stored, created, err := m.store.CreateOrderIntent(ctx, intent)
	if err != nil {
		return nil, fmt.Errorf("persist order intent: %w", err)
	}
	if !created && stored.State != core.OrderNew && stored.State != core.OrderSubmitted {
		m.logger.Info("order already settled, returning stored row",
			"client_order_id", stored.ClientOrderID, "state", string(stored.State))
		return stored, nil
	}

	return m.submit(ctx, stored)
}

// submit walks one order from NEW (or a resumed SUBMITTED) to its ack
// state. The guarded transitions make concurrent resumers safe: the loser
// re-reads and returns whatever the winner persisted.
func (m *Manager) submit(ctx context.Context, o *core.Order) (*core.Order, error) {
	if o.State == core.OrderNew {
		o.State = core.OrderSubmitted
		if err := m.store.UpdateOrder(ctx, o, core.OrderNew); err != nil {
			return m.settled(ctx, o, err)
		}
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req := &core.OrderRequest{
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          o.Side,
		Type:          o.Type,
		TimeInForce:   o.TimeInForce,
		Quantity:      o.Quantity,
		Price:         o.Price,
	}

	var res *core.OrderResult
	start := m.clock.Now()
	attempts, err := retry.DoWithAttempts(ctx, m.policy, apperrors.Retryable, func() error {
		r, perr := m.exchange.PlaceOrder(ctx, req)
		if perr != nil {
			return perr
		}
		res = r
		return nil
	})
	o.Retries += attempts - 1
	m.recordCall(err != nil)
	telemetry.GetGlobalMetrics().RecordExchangeLatency(ctx, o.Venue, "place_order",
		float64(m.clock.Now().Sub(start).Milliseconds()))

	if err != nil {
		if apperrors.Retryable(err) {
			o.State = core.OrderFailed
		} else {
			o.State = core.OrderRejected
		}
		o.LastError = err.Error()
		m.logger.Error("order submission failed",
			"client_order_id", o.ClientOrderID,
			"symbol", o.Symbol,
			"state", string(o.State),
			"attempts", attempts,
			"error", err.Error())
		telemetry.GetGlobalMetrics().IncOrderFailed(ctx, o.Venue, string(o.State))
		if uerr := m.store.UpdateOrder(ctx, o, core.OrderSubmitted); uerr != nil {
			return m.settled(ctx, o, uerr)
		}
		return o, err
	}

	telemetry.GetGlobalMetrics().IncOrderPlaced(ctx, o.Venue)
	if err := m.settleAck(ctx, o, res); err != nil {
		return m.settled(ctx, o, err)
	}
	m.logger.Info("order submitted",
		"client_order_id", o.ClientOrderID,
		"symbol", o.Symbol,
		"side", string(o.Side),
		"state", string(o.State),
		"filled", o.FilledQuantity.String())
	return o, nil
}

// settleAck maps the venue's ack status onto the state machine. FILLED and
// PARTIALLY_FILLED short-circuit straight from SUBMITTED; IOC and FOK
// remainders come back EXPIRED or CANCELED with any executed quantity in
// the same ack.
func (m *Manager) settleAck(ctx context.Context, o *core.Order, res *core.OrderResult) error {
	o.ExchangeOrderID = res.OrderID

	switch res.Status {
	case statusFilled, statusPartiallyFilled:
		return m.recordFill(ctx, o, m.fillFrom(o, res), core.OrderSubmitted)

	case statusRejected:
		o.State = core.OrderRejected
		o.LastError = "venue rejected order"
		telemetry.GetGlobalMetrics().IncOrderFailed(ctx, o.Venue, string(core.OrderRejected))
		return m.store.UpdateOrder(ctx, o, core.OrderSubmitted)

	case statusExpired, statusCanceled:
		if res.ExecutedQty.IsPositive() {
			f := m.fillFrom(o, res)
			accumulate(o, f)
			if res.Status == statusExpired {
				o.State = core.OrderExpired
			} else {
				o.State = core.OrderCanceled
			}
			return m.store.RecordFill(ctx, o, f, core.OrderSubmitted)
		}
		if res.Status == statusExpired {
			o.State = core.OrderExpired
		} else {
			o.State = core.OrderCanceled
		}
		return m.store.UpdateOrder(ctx, o, core.OrderSubmitted)

	default:
		o.State = core.OrderAcknowledged
		return m.store.UpdateOrder(ctx, o, core.OrderSubmitted)
	}
}

func (m *Manager) fillFrom(o *core.Order, res *core.OrderResult) core.Fill {
	return core.Fill{
		ClientOrderID: o.ClientOrderID,
		Price:         res.Price,
		Quantity:      res.ExecutedQty,
		FeeUSD:        res.FeeUSD,
		Timestamp:     m.clock.Now(),
	}
}

// recordFill accumulates one execution into the order and persists both in
// a single transaction.
func (m *Manager) recordFill(ctx context.Context, o *core.Order, f core.Fill, allowedFrom ...core.OrderState) error {
	accumulate(o, f)
	if err := m.store.RecordFill(ctx, o, f, allowedFrom...); err != nil {
		return err
	}
	if o.State == core.OrderFilled {
		telemetry.GetGlobalMetrics().IncOrderFilled(ctx, o.Venue)
	}
	return nil
}

// accumulate folds a fill into the order aggregates. The order becomes
// FILLED exactly when the accumulated quantity reaches the requested
// quantity, PARTIALLY_FILLED otherwise.
func accumulate(o *core.Order, f core.Fill) {
	prevNotional := o.AvgFillPrice.Mul(o.FilledQuantity)
	o.FilledQuantity = o.FilledQuantity.Add(f.Quantity)
	if o.FilledQuantity.IsPositive() {
		o.AvgFillPrice = prevNotional.Add(f.Price.Mul(f.Quantity)).Div(o.FilledQuantity)
	}
	o.FeeUSD = o.FeeUSD.Add(f.FeeUSD)
	if o.FilledQuantity.GreaterThanOrEqual(o.Quantity) {
		o.State = core.OrderFilled
	} else {
		o.State = core.OrderPartiallyFilled
	}
}

// ApplyFill records an execution reported asynchronously by the venue for
// an order already past submission. Terminal orders absorb duplicate
// stream deliveries without change.
func (m *Manager) ApplyFill(ctx context.Context, clientOrderID string, f core.Fill) (*core.Order, error) {
	o, err := m.store.GetOrder(ctx, clientOrderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, apperrors.ErrOrderNotFound
	}
	if o.State.Terminal() {
		return o, nil
	}

	f.ClientOrderID = clientOrderID
	if f.Timestamp.IsZero() {
		f.Timestamp = m.clock.Now()
	}
	if err := m.recordFill(ctx, o, f,
		core.OrderSubmitted, core.OrderAcknowledged, core.OrderPartiallyFilled); err != nil {
		return m.settled(ctx, o, err)
	}
	return o, nil
}

// CancelOrder cancels on the venue when the order is live and always
// transitions a non-terminal order to CANCELED locally. A venue refusing
// the cancel is logged and left for the reconciliation sweep to settle.
func (m *Manager) CancelOrder(ctx context.Context, clientOrderID string) (*core.Order, error) {
	o, err := m.store.GetOrder(ctx, clientOrderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, apperrors.ErrOrderNotFound
	}
	if o.State.Terminal() {
		return o, nil
	}

	if !o.Paper {
		if err := m.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
		cerr := retry.Do(ctx, m.policy, apperrors.Retryable, func() error {
			return m.exchange.CancelOrder(ctx, o.Symbol, o.ClientOrderID)
		})
		if cerr != nil {
			m.logger.Warn("venue cancel failed, forcing local cancel",
				"client_order_id", o.ClientOrderID, "error", cerr.Error())
		}
	}

	o.State = core.OrderCanceled
	if err := m.store.UpdateOrder(ctx, o,
		core.OrderNew, core.OrderSubmitted, core.OrderAcknowledged, core.OrderPartiallyFilled); err != nil {
		return m.settled(ctx, o, err)
	}
	m.logger.Info("order canceled", "client_order_id", o.ClientOrderID, "symbol", o.Symbol)
	return o, nil
}

// CancelAll cancels every non-terminal order, optionally narrowed to one
// symbol. It keeps going past individual failures and reports them joined.
func (m *Manager) CancelAll(ctx context.Context, symbol string) (int, error) {
	active, err := m.store.ActiveOrders(ctx)
	if err != nil {
		return 0, err
	}

	var (
		canceled int
		errs     []error
	)
	for _, o := range active {
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		if _, cerr := m.CancelOrder(ctx, o.ClientOrderID); cerr != nil {
			errs = append(errs, fmt.Errorf("cancel %s: %w", o.ClientOrderID, cerr))
			continue
		}
		canceled++
	}
	return canceled, errors.Join(errs...)
}

// settled resolves a lost transition race by re-reading the row another
// worker finished first. Any other failure propagates.
func (m *Manager) settled(ctx context.Context, o *core.Order, err error) (*core.Order, error) {
	if !errors.Is(err, apperrors.ErrInvalidTransition) {
		return nil, err
	}
	cur, gerr := m.store.GetOrder(ctx, o.ClientOrderID)
	if gerr != nil || cur == nil {
		return nil, err
	}
	m.logger.Debug("order transition lost race, deferring to stored state",
		"client_order_id", o.ClientOrderID, "state", string(cur.State))
	return cur, nil
}

// recordCall tracks one venue submission outcome in the ring buffer behind
// ErrorRatePct.
func (m *Manager) recordCall(failed bool) {
	m.callMu.Lock()
	defer m.callMu.Unlock()
	rec := callRecord{at: m.clock.Now(), failed: failed}
	if len(m.calls) < callWindowCapacity {
		m.calls = append(m.calls, rec)
		return
	}
	m.calls[m.callIndex] = rec
	m.callIndex = (m.callIndex + 1) % callWindowCapacity
}

// ErrorRatePct reports the failed share of venue submissions inside the
// window, as a percentage. No calls in the window reads as zero.
func (m *Manager) ErrorRatePct(window time.Duration) float64 {
	m.callMu.Lock()
	defer m.callMu.Unlock()

	cutoff := m.clock.Now().Add(-window)
	var calls, failures int
	for _, rec := range m.calls {
		if rec.at.Before(cutoff) {
			continue
		}
		calls++
		if rec.failed {
			failures++
		}
	}
	if calls == 0 {
		return 0
	}
	return float64(failures) * 100 / float64(calls)
}

func validate(req *PlaceRequest) error {
	switch {
	case req.Symbol == "":
		return fmt.Errorf("%w: symbol required", apperrors.ErrInvalidOrderParameter)
	case req.Side != core.SideBuy && req.Side != core.SideSell:
		return fmt.Errorf("%w: side %q", apperrors.ErrInvalidOrderParameter, req.Side)
	case !req.Quantity.IsPositive():
		return fmt.Errorf("%w: quantity must be positive", apperrors.ErrInvalidOrderParameter)
	case req.Type == core.OrderTypeLimit && !req.Price.IsPositive():
		return fmt.Errorf("%w: limit order requires a price", apperrors.ErrInvalidOrderParameter)
	case req.CorrelationID == "":
		return fmt.Errorf("%w: correlation id required", apperrors.ErrInvalidOrderParameter)
	}
	return nil
}

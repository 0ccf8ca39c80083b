package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"sanadbot/internal/config"
	"sanadbot/internal/core"
)

// Paper simulates fills against live market data from an underlying
// read-only venue. Market orders fill instantly at the reference price
// moved adversely by a uniform draw in [0, PaperSlippageBps]; limit
// orders fill IOC-style only when the slipped price crosses the limit.
type Paper struct {
	data    core.IExchange
	feeRate decimal.Decimal
	maxSlip int
	logger  core.ILogger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewPaper wraps data as the price reference. rng may be nil, in which
// case a time-seeded source is used; tests pass a seeded one.
func NewPaper(cfg config.ExchangeConfig, data core.IExchange, rng *rand.Rand, logger core.ILogger) *Paper {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Paper{
		data:    data,
		feeRate: decimal.NewFromFloat(cfg.FeeRate),
		maxSlip: cfg.PaperSlippageBps,
		logger:  logger.WithField("venue", "paper"),
		rng:     rng,
	}
}

func (p *Paper) Name() string { return "paper" }

func (p *Paper) CheckHealth(ctx context.Context) error {
	return p.data.CheckHealth(ctx)
}

func (p *Paper) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return p.data.GetPrice(ctx, symbol)
}

func (p *Paper) GetVolume24h(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return p.data.GetVolume24h(ctx, symbol)
}

func (p *Paper) GetSpreadBps(ctx context.Context, symbol string) (int, error) {
	return p.data.GetSpreadBps(ctx, symbol)
}

func (p *Paper) EstimateSlippageBps(ctx context.Context, symbol string, notionalUSD decimal.Decimal) (int, error) {
	return p.data.EstimateSlippageBps(ctx, symbol, notionalUSD)
}

func (p *Paper) GetServerTime(ctx context.Context) (time.Time, error) {
	return p.data.GetServerTime(ctx)
}

func (p *Paper) PlaceOrder(ctx context.Context, req *core.OrderRequest) (*core.OrderResult, error) {
	ref, err := p.data.GetPrice(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("paper fill %s: %w", req.Symbol, err)
	}
	fill := p.slippedPrice(ref, req.Side)

	if req.Type == core.OrderTypeLimit {
		crossed := (req.Side == core.SideBuy && fill.LessThanOrEqual(req.Price)) ||
			(req.Side == core.SideSell && fill.GreaterThanOrEqual(req.Price))
		if !crossed {
			p.logger.Debug("paper limit not crossed",
				"symbol", req.Symbol, "limit", req.Price.String(), "market", fill.String())
			return &core.OrderResult{
				OrderID:     "paper-" + req.ClientOrderID,
				Status:      "EXPIRED",
				ExecutedQty: decimal.Zero,
				Price:       decimal.Zero,
				FeeUSD:      decimal.Zero,
			}, nil
		}
	}

	notional := fill.Mul(req.Quantity)
	fee := notional.Mul(p.feeRate)
	p.logger.Info("paper fill",
		"symbol", req.Symbol,
		"side", string(req.Side),
		"qty", req.Quantity.String(),
		"ref_price", ref.String(),
		"fill_price", fill.String(),
		"fee_usd", fee.StringFixed(4))

	return &core.OrderResult{
		OrderID:     "paper-" + req.ClientOrderID,
		Status:      "FILLED",
		ExecutedQty: req.Quantity,
		Price:       fill,
		FeeUSD:      fee,
	}, nil
}

// CancelOrder is a no-op: paper fills are instantaneous so nothing rests.
func (p *Paper) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	p.logger.Debug("paper cancel ignored", "symbol", symbol, "client_order_id", clientOrderID)
	return nil
}

// slippedPrice moves ref against the taker by a uniform draw in
// [0, maxSlip] basis points. Buys pay up, sells receive less.
func (p *Paper) slippedPrice(ref decimal.Decimal, side core.OrderSide) decimal.Decimal {
	p.mu.Lock()
	draw := p.rng.Float64() * float64(p.maxSlip)
	p.mu.Unlock()

	frac := decimal.NewFromFloat(draw).Div(bpsFactor)
	if side == core.SideBuy {
		return ref.Mul(decimal.NewFromInt(1).Add(frac))
	}
	return ref.Mul(decimal.NewFromInt(1).Sub(frac))
}

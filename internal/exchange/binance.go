// Package exchange provides core.IExchange adapters: the Binance spot
// venue, a paper venue that simulates fills against live market data,
// and a DEX route preflight used by the policy engine.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"

	"sanadbot/internal/config"
	"sanadbot/internal/core"
	apperrors "sanadbot/pkg/errors"
	"sanadbot/pkg/telemetry"
)

const depthLevels = 100

var bpsFactor = decimal.NewFromInt(10000)

// Binance adapts the Binance spot REST API to core.IExchange.
type Binance struct {
	client  *binance.Client
	feeRate decimal.Decimal
	logger  core.ILogger
}

// NewBinance builds a spot client. cfg.BaseURL overrides the endpoint,
// which also lets tests point the client at a local server.
func NewBinance(cfg config.ExchangeConfig, logger core.ILogger) *Binance {
	client := binance.NewClient(cfg.APIKey.Reveal(), cfg.SecretKey.Reveal())
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	return &Binance{
		client:  client,
		feeRate: decimal.NewFromFloat(cfg.FeeRate),
		logger:  logger.WithField("venue", "binance"),
	}
}

func (b *Binance) Name() string { return "binance" }

func (b *Binance) CheckHealth(ctx context.Context) error {
	start := time.Now()
	err := b.client.NewPingService().Do(ctx)
	b.observe(ctx, "ping", start)
	if err != nil {
		return mapVenueError("ping", err)
	}
	return nil
}

func (b *Binance) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	start := time.Now()
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	b.observe(ctx, "price", start)
	if err != nil {
		return decimal.Zero, mapVenueError("price", err)
	}
	if len(prices) == 0 {
		return decimal.Zero, fmt.Errorf("price %s: %w", symbol, apperrors.ErrInvalidSymbol)
	}
	p, err := decimal.NewFromString(prices[0].Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price %s: parse %q: %w", symbol, prices[0].Price, err)
	}
	return p, nil
}

// GetVolume24h returns the rolling 24h quote volume for the symbol.
func (b *Binance) GetVolume24h(ctx context.Context, symbol string) (decimal.Decimal, error) {
	start := time.Now()
	stats, err := b.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	b.observe(ctx, "volume24h", start)
	if err != nil {
		return decimal.Zero, mapVenueError("volume24h", err)
	}
	if len(stats) == 0 {
		return decimal.Zero, fmt.Errorf("volume24h %s: %w", symbol, apperrors.ErrInvalidSymbol)
	}
	v, err := decimal.NewFromString(stats[0].QuoteVolume)
	if err != nil {
		return decimal.Zero, fmt.Errorf("volume24h %s: parse %q: %w", symbol, stats[0].QuoteVolume, err)
	}
	return v, nil
}

// GetSpreadBps returns the current top-of-book spread in basis points
// of the mid price.
func (b *Binance) GetSpreadBps(ctx context.Context, symbol string) (int, error) {
	start := time.Now()
	books, err := b.client.NewListBookTickersService().Symbol(symbol).Do(ctx)
	b.observe(ctx, "bookTicker", start)
	if err != nil {
		return 0, mapVenueError("bookTicker", err)
	}
	if len(books) == 0 {
		return 0, fmt.Errorf("bookTicker %s: %w", symbol, apperrors.ErrInvalidSymbol)
	}
	bid, err := decimal.NewFromString(books[0].BidPrice)
	if err != nil {
		return 0, fmt.Errorf("bookTicker %s: parse bid %q: %w", symbol, books[0].BidPrice, err)
	}
	ask, err := decimal.NewFromString(books[0].AskPrice)
	if err != nil {
		return 0, fmt.Errorf("bookTicker %s: parse ask %q: %w", symbol, books[0].AskPrice, err)
	}
	if !bid.IsPositive() || !ask.IsPositive() {
		return 0, fmt.Errorf("bookTicker %s: one-sided book: %w", symbol, apperrors.ErrThinBook)
	}
	mid := bid.Add(ask).Div(decimal.NewFromInt(2))
	spread := ask.Sub(bid).Div(mid).Mul(bpsFactor)
	return int(spread.Round(0).IntPart()), nil
}

// EstimateSlippageBps walks the ask side of the book and reports how far
// the volume-weighted fill price for notionalUSD sits above the best ask.
// A book that cannot absorb the notional yields ErrThinBook.
func (b *Binance) EstimateSlippageBps(ctx context.Context, symbol string, notionalUSD decimal.Decimal) (int, error) {
	start := time.Now()
	book, err := b.client.NewDepthService().Symbol(symbol).Limit(depthLevels).Do(ctx)
	b.observe(ctx, "depth", start)
	if err != nil {
		return 0, mapVenueError("depth", err)
	}
	if len(book.Asks) == 0 {
		return 0, fmt.Errorf("depth %s: empty ask side: %w", symbol, apperrors.ErrThinBook)
	}
	best, err := decimal.NewFromString(book.Asks[0].Price)
	if err != nil {
		return 0, fmt.Errorf("depth %s: parse %q: %w", symbol, book.Asks[0].Price, err)
	}

	remaining := notionalUSD
	spent := decimal.Zero
	acquired := decimal.Zero
	for _, lvl := range book.Asks {
		price, perr := decimal.NewFromString(lvl.Price)
		if perr != nil {
			return 0, fmt.Errorf("depth %s: parse %q: %w", symbol, lvl.Price, perr)
		}
		qty, qerr := decimal.NewFromString(lvl.Quantity)
		if qerr != nil {
			return 0, fmt.Errorf("depth %s: parse %q: %w", symbol, lvl.Quantity, qerr)
		}
		take := price.Mul(qty)
		if take.GreaterThan(remaining) {
			take = remaining
		}
		spent = spent.Add(take)
		acquired = acquired.Add(take.Div(price))
		remaining = remaining.Sub(take)
		if remaining.Sign() <= 0 {
			break
		}
	}
	if remaining.Sign() > 0 {
		return 0, fmt.Errorf("depth %s: %s USD visible of %s requested: %w",
			symbol, spent.StringFixed(2), notionalUSD.StringFixed(2), apperrors.ErrThinBook)
	}
	avg := spent.Div(acquired)
	slip := avg.Sub(best).Div(best).Mul(bpsFactor)
	return int(slip.Round(0).IntPart()), nil
}

func (b *Binance) PlaceOrder(ctx context.Context, req *core.OrderRequest) (*core.OrderResult, error) {
	svc := b.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(binance.SideType(req.Side)).
		Type(binance.OrderType(req.Type)).
		Quantity(req.Quantity.String()).
		NewClientOrderID(req.ClientOrderID)
	if req.Type == core.OrderTypeLimit {
		svc = svc.TimeInForce(binance.TimeInForceType(req.TimeInForce)).Price(req.Price.String())
	}

	start := time.Now()
	res, err := svc.Do(ctx)
	b.observe(ctx, "createOrder", start)
	if err != nil {
		return nil, mapVenueError("createOrder", err)
	}
	return b.normalizeOrder(res)
}

func (b *Binance) normalizeOrder(res *binance.CreateOrderResponse) (*core.OrderResult, error) {
	executed, err := decimal.NewFromString(res.ExecutedQuantity)
	if err != nil {
		return nil, fmt.Errorf("createOrder: parse executedQty %q: %w", res.ExecutedQuantity, err)
	}
	cumQuote, err := decimal.NewFromString(res.CummulativeQuoteQuantity)
	if err != nil {
		return nil, fmt.Errorf("createOrder: parse cumQuote %q: %w", res.CummulativeQuoteQuantity, err)
	}
	avg := decimal.Zero
	if executed.IsPositive() {
		avg = cumQuote.Div(executed)
	}

	// Commission is only directly usable when charged in the quote
	// currency. BNB-discounted or base-asset commissions fall back to
	// the configured fee rate on the filled notional.
	fee := decimal.Zero
	feeExact := true
	for _, f := range res.Fills {
		if !usdCommission(f.CommissionAsset) {
			feeExact = false
			break
		}
		c, cerr := decimal.NewFromString(f.Commission)
		if cerr != nil {
			return nil, fmt.Errorf("createOrder: parse commission %q: %w", f.Commission, cerr)
		}
		fee = fee.Add(c)
	}
	if !feeExact || len(res.Fills) == 0 {
		fee = cumQuote.Mul(b.feeRate)
	}

	return &core.OrderResult{
		OrderID:     strconv.FormatInt(res.OrderID, 10),
		Status:      string(res.Status),
		ExecutedQty: executed,
		Price:       avg,
		FeeUSD:      fee,
	}, nil
}

func (b *Binance) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	start := time.Now()
	_, err := b.client.NewCancelOrderService().
		Symbol(symbol).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	b.observe(ctx, "cancelOrder", start)
	if err != nil {
		return mapVenueError("cancelOrder", err)
	}
	return nil
}

func (b *Binance) GetServerTime(ctx context.Context) (time.Time, error) {
	start := time.Now()
	ms, err := b.client.NewServerTimeService().Do(ctx)
	b.observe(ctx, "serverTime", start)
	if err != nil {
		return time.Time{}, mapVenueError("serverTime", err)
	}
	return time.UnixMilli(ms).UTC(), nil
}

func (b *Binance) observe(ctx context.Context, op string, start time.Time) {
	telemetry.GetGlobalMetrics().RecordExchangeLatency(ctx, "binance", op,
		float64(time.Since(start).Microseconds())/1000.0)
}

func usdCommission(asset string) bool {
	switch strings.ToUpper(asset) {
	case "USDT", "USDC", "BUSD", "FDUSD", "TUSD", "DAI":
		return true
	}
	return false
}

// mapVenueError folds venue responses into the standardized sentinels so
// callers can branch on errors.Is and apperrors.Retryable.
// Codes per the Binance spot error reference.
func mapVenueError(op string, err error) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("binance %s: %w: %v", op, apperrors.ErrNetwork, err)
	}

	msg := strings.ToLower(apiErr.Message)
	var sentinel error
	switch apiErr.Code {
	case -1000, -1001:
		sentinel = apperrors.ErrSystemOverload
	case -1003, -1015:
		sentinel = apperrors.ErrRateLimitExceeded
	case -1007:
		sentinel = apperrors.ErrNetwork
	case -1021:
		sentinel = apperrors.ErrTimestampOutOfBounds
	case -1022, -2014, -2015:
		sentinel = apperrors.ErrAuthenticationFailed
	case -1121:
		sentinel = apperrors.ErrInvalidSymbol
	case -1013, -1100, -1111:
		sentinel = apperrors.ErrInvalidOrderParameter
	case -2010:
		switch {
		case strings.Contains(msg, "insufficient"):
			sentinel = apperrors.ErrInsufficientFunds
		case strings.Contains(msg, "duplicate"):
			sentinel = apperrors.ErrDuplicateOrder
		default:
			sentinel = apperrors.ErrOrderRejected
		}
	case -2011, -2013:
		sentinel = apperrors.ErrOrderNotFound
	case -3044:
		sentinel = apperrors.ErrSystemOverload
	default:
		if strings.Contains(msg, "maintenance") {
			sentinel = apperrors.ErrExchangeMaintenance
		}
	}
	if sentinel == nil {
		// Unmapped codes stay non-retryable.
		return fmt.Errorf("binance %s: venue error code=%d msg=%q", op, apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("binance %s: %w: code=%d msg=%q", op, sentinel, apiErr.Code, apiErr.Message)
}

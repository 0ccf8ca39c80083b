package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sanadbot/internal/config"
	"sanadbot/internal/core"
	"sanadbot/internal/mock"
	apperrors "sanadbot/pkg/errors"
)

func newTestBinance(t *testing.T, handler http.HandlerFunc) *Binance {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := config.ExchangeConfig{
		Name:      "binance",
		BaseURL:   srv.URL,
		APIKey:    config.Secret("test-key"),
		SecretKey: config.Secret("test-secret"),
		FeeRate:   0.001,
	}
	return NewBinance(cfg, mock.NewLogger())
}

func TestBinanceGetPrice(t *testing.T) {
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		require.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"symbol":"BTCUSDT","price":"95000.50000000"}`))
	})

	p, err := b.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, p.Equal(decimal.RequireFromString("95000.5")), "got %s", p)
}

func TestBinanceGetVolume24h(t *testing.T) {
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/ticker/24hr", r.URL.Path)
		w.Write([]byte(`{"symbol":"PEPEUSDT","quoteVolume":"2500000.00","volume":"1000000000"}`))
	})

	v, err := b.GetVolume24h(context.Background(), "PEPEUSDT")
	require.NoError(t, err)
	assert.True(t, v.Equal(decimal.NewFromInt(2500000)), "got %s", v)
}

func TestBinanceGetSpreadBps(t *testing.T) {
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/ticker/bookTicker", r.URL.Path)
		w.Write([]byte(`{"symbol":"SOLUSDT","bidPrice":"99.95","bidQty":"120","askPrice":"100.05","askQty":"80"}`))
	})

	bps, err := b.GetSpreadBps(context.Background(), "SOLUSDT")
	require.NoError(t, err)
	assert.Equal(t, 10, bps)
}

func TestBinanceEstimateSlippage(t *testing.T) {
	depth := `{"lastUpdateId":1,"bids":[["99.00","10"]],"asks":[["100.00","10"],["101.00","10"]]}`
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/depth", r.URL.Path)
		w.Write([]byte(depth))
	})

	// 1000 at the touch, 500 one level up.
	bps, err := b.EstimateSlippageBps(context.Background(), "SOLUSDT", decimal.NewFromInt(1500))
	require.NoError(t, err)
	assert.Equal(t, 33, bps)
}

func TestBinanceEstimateSlippageThinBook(t *testing.T) {
	depth := `{"lastUpdateId":1,"bids":[],"asks":[["100.00","10"],["101.00","10"]]}`
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(depth))
	})

	// Visible asks hold 2010 USD.
	_, err := b.EstimateSlippageBps(context.Background(), "SOLUSDT", decimal.NewFromInt(5000))
	assert.ErrorIs(t, err, apperrors.ErrThinBook)
}

func TestBinancePlaceOrderMarket(t *testing.T) {
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/order", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		body := `{
			"symbol":"BTCUSDT","orderId":12345,"clientOrderId":"sb-test-1",
			"transactTime":1748779200000,
			"price":"0.00000000","origQty":"0.001","executedQty":"0.001",
			"cummulativeQuoteQty":"95.00","status":"FILLED","timeInForce":"GTC",
			"type":"MARKET","side":"BUY",
			"fills":[{"price":"95000.00","qty":"0.001","commission":"0.095","commissionAsset":"USDT","tradeId":1}]
		}`
		w.Write([]byte(body))
	})

	res, err := b.PlaceOrder(context.Background(), &core.OrderRequest{
		ClientOrderID: "sb-test-1",
		Symbol:        "BTCUSDT",
		Side:          core.SideBuy,
		Type:          core.OrderTypeMarket,
		Quantity:      decimal.RequireFromString("0.001"),
	})
	require.NoError(t, err)
	assert.Equal(t, "12345", res.OrderID)
	assert.Equal(t, "FILLED", res.Status)
	assert.True(t, res.ExecutedQty.Equal(decimal.RequireFromString("0.001")))
	assert.True(t, res.Price.Equal(decimal.NewFromInt(95000)), "avg fill %s", res.Price)
	assert.True(t, res.FeeUSD.Equal(decimal.RequireFromString("0.095")), "fee %s", res.FeeUSD)
}

func TestBinancePlaceOrderNonQuoteCommission(t *testing.T) {
	// BNB commission cannot be summed as USD; expect feeRate * notional.
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		body := `{
			"symbol":"BTCUSDT","orderId":9,"clientOrderId":"sb-test-2",
			"price":"0","origQty":"0.002","executedQty":"0.002",
			"cummulativeQuoteQty":"200.00","status":"FILLED",
			"type":"MARKET","side":"BUY",
			"fills":[{"price":"100000.00","qty":"0.002","commission":"0.0001","commissionAsset":"BNB","tradeId":2}]
		}`
		w.Write([]byte(body))
	})

	res, err := b.PlaceOrder(context.Background(), &core.OrderRequest{
		ClientOrderID: "sb-test-2",
		Symbol:        "BTCUSDT",
		Side:          core.SideBuy,
		Type:          core.OrderTypeMarket,
		Quantity:      decimal.RequireFromString("0.002"),
	})
	require.NoError(t, err)
	assert.True(t, res.FeeUSD.Equal(decimal.RequireFromString("0.2")), "fee %s", res.FeeUSD)
}

func TestBinanceCancelOrder(t *testing.T) {
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/order", r.URL.Path)
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "sb-test-1", r.URL.Query().Get("origClientOrderId"))
		w.Write([]byte(`{"symbol":"BTCUSDT","origClientOrderId":"sb-test-1","orderId":12345,"clientOrderId":"cancel-1","status":"CANCELED"}`))
	})

	err := b.CancelOrder(context.Background(), "BTCUSDT", "sb-test-1")
	require.NoError(t, err)
}

func TestBinanceServerTime(t *testing.T) {
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/time", r.URL.Path)
		w.Write([]byte(`{"serverTime":1748779200000}`))
	})

	ts, err := b.GetServerTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025-06-01T12:00:00Z", ts.Format("2006-01-02T15:04:05Z07:00"))
}

func TestBinanceVenueErrorWire(t *testing.T) {
	b := newTestBinance(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"code":-1003,"msg":"Too many requests."}`))
	})

	_, err := b.GetPrice(context.Background(), "BTCUSDT")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrRateLimitExceeded)
	assert.True(t, apperrors.Retryable(err))
}

func TestMapVenueError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		want      error
		retryable bool
	}{
		{"rate limit", &common.APIError{Code: -1003, Message: "Too many requests."}, apperrors.ErrRateLimitExceeded, true},
		{"order rate limit", &common.APIError{Code: -1015, Message: "Too many new orders."}, apperrors.ErrRateLimitExceeded, true},
		{"timestamp skew", &common.APIError{Code: -1021, Message: "Timestamp for this request is outside of the recvWindow."}, apperrors.ErrTimestampOutOfBounds, true},
		{"insufficient balance", &common.APIError{Code: -2010, Message: "Account has insufficient balance for requested action."}, apperrors.ErrInsufficientFunds, false},
		{"duplicate order", &common.APIError{Code: -2010, Message: "Duplicate order sent."}, apperrors.ErrDuplicateOrder, false},
		{"other rejection", &common.APIError{Code: -2010, Message: "Market is closed."}, apperrors.ErrOrderRejected, false},
		{"unknown order", &common.APIError{Code: -2011, Message: "Unknown order sent."}, apperrors.ErrOrderNotFound, false},
		{"bad symbol", &common.APIError{Code: -1121, Message: "Invalid symbol."}, apperrors.ErrInvalidSymbol, false},
		{"bad key", &common.APIError{Code: -2014, Message: "API-key format invalid."}, apperrors.ErrAuthenticationFailed, false},
		{"lot size filter", &common.APIError{Code: -1013, Message: "Filter failure: LOT_SIZE"}, apperrors.ErrInvalidOrderParameter, false},
		{"internal error", &common.APIError{Code: -1001, Message: "Internal error; unable to process your request."}, apperrors.ErrSystemOverload, true},
		{"transport", errors.New("dial tcp: connection refused"), apperrors.ErrNetwork, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := mapVenueError("test", tt.err)
			assert.ErrorIs(t, mapped, tt.want)
			assert.Equal(t, tt.retryable, apperrors.Retryable(mapped))
		})
	}
}

func TestMapVenueErrorUnknownCodeNotRetryable(t *testing.T) {
	mapped := mapVenueError("test", &common.APIError{Code: -9999, Message: "mystery"})
	require.Error(t, mapped)
	assert.False(t, apperrors.Retryable(mapped))
	assert.Contains(t, mapped.Error(), "-9999")
}

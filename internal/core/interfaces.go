// Package core defines the shared domain types and component interfaces
// for the trading agent.
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// IExchange is the narrow surface the agent needs from a trading venue.
// Implementations normalize venue responses into OrderResult.
type IExchange interface {
	Name() string
	CheckHealth(ctx context.Context) error

	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetVolume24h(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetSpreadBps(ctx context.Context, symbol string) (int, error)
	EstimateSlippageBps(ctx context.Context, symbol string, notionalUSD decimal.Decimal) (int, error)

	PlaceOrder(ctx context.Context, req *OrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, symbol, clientOrderID string) error

	GetServerTime(ctx context.Context) (time.Time, error)
}

// IOracle is a request→text LLM endpoint. Callers are responsible for
// extracting and validating structured content from the returned text.
type IOracle interface {
	Complete(ctx context.Context, req OracleRequest) (*OracleResponse, error)
}

// OracleRequest carries one prompt pair to the oracle.
type OracleRequest struct {
	Stage        string // SANAD, BULL, BEAR, JUDGE
	Model        string
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
}

// OracleResponse is the raw oracle output plus accounting metadata.
type OracleResponse struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      decimal.Decimal
	Latency      time.Duration
}

// INotifier delivers operator notifications. Delivery failures are logged
// and swallowed; they never abort the caller's primary operation.
type INotifier interface {
	Name() string
	Send(ctx context.Context, level NotifyLevel, title, message string) error
}

// Clock abstracts wall time so schedules and buckets are testable.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

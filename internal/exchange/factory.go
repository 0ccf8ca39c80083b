package exchange

import (
	"fmt"
	"strings"

	"sanadbot/internal/config"
	"sanadbot/internal/core"
)

// NewVenue builds the configured trading venue. The paper venue wraps a
// Binance client for market data so simulated fills track real prices.
func NewVenue(cfg config.ExchangeConfig, logger core.ILogger) (core.IExchange, error) {
	switch strings.ToLower(cfg.Name) {
	case "binance":
		return NewBinance(cfg, logger), nil
	case "paper":
		return NewPaper(cfg, NewBinance(cfg, logger), nil, logger), nil
	default:
		return nil, fmt.Errorf("unsupported venue: %s", cfg.Name)
	}
}

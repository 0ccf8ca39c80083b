// Package pricefeed is the single writer of the shared price cache. It rides
// the venue's market-data stream and falls back to REST polling for any
// symbol the stream has gone quiet on, so the monitor and the gates always
// judge against a quote somebody stands behind.
package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"sanadbot/internal/core"
	"sanadbot/internal/runtime"
	"sanadbot/pkg/websocket"
)

const worker = "pricefeed"

// writeTimeout bounds each cache write; a busy store drops the tick and the
// next one replaces it.
const writeTimeout = 2 * time.Second

// stream is the consumer seam over pkg/websocket; tests inject a stub.
type stream interface {
	Start(ctx context.Context)
	Stop()
}

// Pricefeed keeps the price cache fresh for the watch symbols and every
// symbol with an open position.
type Pricefeed struct {
	rt     *runtime.Context
	logger core.ILogger

	newStream func(url string) stream

	// lastTick tracks per-symbol stream liveness; symbols whose last tick
	// is older than the stale cutoff get a REST poll instead. Guarded by
	// mu: the stream handler and the poll loop run on different goroutines.
	mu       sync.Mutex
	lastTick map[string]time.Time
}

// New wires a pricefeed over the shared runtime context.
func New(rt *runtime.Context) *Pricefeed {
	p := &Pricefeed{
		rt:       rt,
		logger:   rt.Log.WithField("component", worker),
		lastTick: make(map[string]time.Time),
	}
	p.newStream = func(url string) stream {
		return websocket.NewClient(url, p.handleMessage, p.logger)
	}
	return p
}

// Run streams until ctx ends. The combined stream is fixed at the watchlist
// taken at startup; symbols opened later are covered by the REST fallback
// until the next restart re-subscribes them.
func (p *Pricefeed) Run(ctx context.Context) error {
	lease := runtime.NewLeaseKeeper(p.rt.Cfg.DataDir, worker,
		p.rt.Cfg.Watchdog.LeaseTTL(), p.rt.Clock)
	if err := lease.Begin(); err != nil {
		return fmt.Errorf("pricefeed lease: %w", err)
	}
	defer func() {
		if err := lease.Complete(); err != nil {
			p.logger.Warn("lease completion failed", "error", err)
		}
	}()

	symbols := p.watchlist(ctx)
	if len(symbols) == 0 {
		return fmt.Errorf("pricefeed has no symbols to watch")
	}

	var cli stream
	if url := p.streamURL(symbols); url != "" {
		cli = p.newStream(url)
		cli.Start(ctx)
		defer cli.Stop()
		p.logger.Info("market-data stream started", "symbols", len(symbols))
	} else {
		p.logger.Warn("no stream URL configured, REST polling only")
	}

	poll := p.rt.Cfg.Pricefeed.PollInterval()
	if poll <= 0 {
		poll = 30 * time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	lastPrune := p.rt.Clock.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := lease.Beat(); err != nil {
				p.logger.Warn("lease heartbeat failed", "error", err)
			}
			polled, err := p.PollOnce(ctx)
			if err != nil {
				p.logger.Warn("fallback poll failed", "error", err)
			} else if polled > 0 {
				p.logger.Debug("fallback poll wrote quotes", "count", polled)
			}

			now := p.rt.Clock.Now()
			if now.Sub(lastPrune) >= time.Hour {
				lastPrune = now
				cutoff := now.Add(-p.rt.Cfg.Pricefeed.HistoryRetention())
				if n, err := p.rt.Store.PrunePriceHistory(ctx, cutoff); err != nil {
					p.logger.Warn("price history prune failed", "error", err)
				} else if n > 0 {
					p.logger.Debug("pruned price history", "rows", n)
				}
			}
		}
	}
}

// PollOnce REST-polls every watched symbol the stream has not ticked
// recently and writes the quotes to the cache. It is the whole cycle body
// when no stream is configured.
func (p *Pricefeed) PollOnce(ctx context.Context) (int, error) {
	if p.rt.Exchange == nil {
		return 0, fmt.Errorf("pricefeed requires an exchange")
	}

	stale := p.rt.Cfg.Pricefeed.StreamStale()
	if stale <= 0 {
		stale = 90 * time.Second
	}
	now := p.rt.Clock.Now()

	written := 0
	for _, sym := range p.watchlist(ctx) {
		p.mu.Lock()
		tick, ok := p.lastTick[sym]
		p.mu.Unlock()
		if ok && now.Sub(tick) < stale {
			continue
		}
		price, err := p.rt.Exchange.GetPrice(ctx, sym)
		if err != nil {
			p.logger.Warn("price poll failed", "symbol", sym, "error", err)
			continue
		}
		volume, err := p.rt.Exchange.GetVolume24h(ctx, sym)
		if err != nil {
			// A missing volume is not worth losing the price over.
			p.logger.Debug("volume poll failed", "symbol", sym, "error", err)
			volume = decimal.Zero
		}
		if err := p.write(ctx, sym, price, volume); err != nil {
			p.logger.Warn("price cache write failed", "symbol", sym, "error", err)
			continue
		}
		written++
	}
	return written, nil
}

// watchlist is the flash-crash watch symbols plus every open position's
// symbol, uppercased and deduplicated.
func (p *Pricefeed) watchlist(ctx context.Context) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(sym string) {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" || seen[sym] {
			return
		}
		seen[sym] = true
		out = append(out, sym)
	}

	for _, sym := range p.rt.Cfg.Monitor.FlashCrash.WatchSymbols {
		add(sym)
	}
	positions, err := p.rt.Store.GetOpenPositions(ctx)
	if err != nil {
		p.logger.Warn("open positions read failed, watching configured symbols only", "error", err)
	} else {
		for _, pos := range positions {
			add(pos.Symbol)
		}
	}
	sort.Strings(out)
	return out
}

// streamURL builds the combined miniTicker stream URL.
func (p *Pricefeed) streamURL(symbols []string) string {
	base := strings.TrimRight(p.rt.Cfg.Exchange.StreamURL, "/")
	if base == "" {
		return ""
	}
	streams := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		streams = append(streams, strings.ToLower(sym)+"@miniTicker")
	}
	return base + "?streams=" + strings.Join(streams, "/")
}

// combinedEnvelope is the venue's combined-stream frame.
type combinedEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// miniTicker is the 24h rolling-window ticker event. QuoteVolume approximates
// USD volume on stable-quoted pairs.
type miniTicker struct {
	Event       string `json:"e"`
	Symbol      string `json:"s"`
	ClosePrice  string `json:"c"`
	QuoteVolume string `json:"q"`
}

func (p *Pricefeed) handleMessage(raw []byte) {
	var env combinedEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		p.logger.Debug("unparseable stream frame", "error", err)
		return
	}
	payload := env.Data
	if len(payload) == 0 {
		// Raw (non-combined) stream delivers the event directly.
		payload = raw
	}

	var tick miniTicker
	if err := json.Unmarshal(payload, &tick); err != nil || tick.Symbol == "" {
		return
	}
	price, err := decimal.NewFromString(tick.ClosePrice)
	if err != nil || price.LessThanOrEqual(decimal.Zero) {
		return
	}
	volume, err := decimal.NewFromString(tick.QuoteVolume)
	if err != nil {
		volume = decimal.Zero
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	symbol := strings.ToUpper(tick.Symbol)
	if err := p.write(ctx, symbol, price, volume); err != nil {
		p.logger.Debug("stream tick dropped", "symbol", symbol, "error", err)
		return
	}
	p.mu.Lock()
	p.lastTick[symbol] = p.rt.Clock.Now()
	p.mu.Unlock()
}

func (p *Pricefeed) write(ctx context.Context, symbol string, price, volume decimal.Decimal) error {
	return p.rt.Store.UpsertPrice(ctx, core.PricePoint{
		Symbol:    symbol,
		Price:     price,
		Volume24h: volume,
		UpdatedAt: p.rt.Clock.Now(),
	})
}

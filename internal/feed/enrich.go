package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"sanadbot/internal/breaker"
	"sanadbot/internal/core"
	apperrors "sanadbot/pkg/errors"
	"sanadbot/pkg/httpx"
)

// Rugpull verdicts from the scan API.
const (
	RugVerdictOK          = "OK"
	RugVerdictWarn        = "WARN"
	RugVerdictRug         = "RUG"
	RugVerdictBlacklisted = "BLACKLISTED"
)

// Evidence is the on-chain snapshot attached to a signal before the trust
// assessment runs. Zero values mean the corresponding probe failed or was
// unavailable; downstream gates fail closed on what they cannot see.
type Evidence struct {
	Token          string    `json:"token"`
	Chain          string    `json:"chain"`
	HolderCount    int       `json:"holder_count"`
	Top10HolderPct float64   `json:"top10_holder_pct"`
	Honeypot       bool      `json:"honeypot"`
	BuyTaxPct      float64   `json:"buy_tax_pct"`
	SellTaxPct     float64   `json:"sell_tax_pct"`
	MintActive     bool      `json:"mint_active"`
	FreezeActive   bool      `json:"freeze_active"`
	LPLockedPct    float64   `json:"lp_locked_pct"`
	RugVerdict     string    `json:"rug_verdict"`
	RugcheckScore  int       `json:"rugcheck_score"`
	DeployedAt     time.Time `json:"deployed_at,omitempty"`
	FetchedAt      time.Time `json:"fetched_at"`

	// Probe availability, per concern. Gates treat false as unknown.
	HoldersOK  bool `json:"holders_ok"`
	HoneypotOK bool `json:"honeypot_ok"`
	RugscanOK  bool `json:"rugscan_ok"`
}

// JSON renders the evidence for LLM prompts and the decision packet.
func (e *Evidence) JSON() string {
	raw, err := json.Marshal(e)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// Enricher fetches on-chain evidence for a candidate signal.
type Enricher interface {
	Enrich(ctx context.Context, sig *core.Signal) (*Evidence, error)
}

// Breaker components for the enrichment probes.
const (
	BreakerHolders  = "enrich_holders"
	BreakerHoneypot = "enrich_honeypot"
	BreakerRugscan  = "enrich_rugscan"
)

// HTTPEnricher fans the three probes out in parallel. Each probe is guarded
// by its own circuit breaker; a single dead upstream degrades that probe to
// unknown instead of stalling the pipeline.
type HTTPEnricher struct {
	holders  *httpx.Client
	honeypot *httpx.Client
	rugscan  *httpx.Client
	breakers *breaker.Pool
	clock    core.Clock
	logger   core.ILogger
}

// NewHTTPEnricher wires the probe clients. Empty base URLs disable the
// corresponding probe, which matters for chains without coverage.
func NewHTTPEnricher(holdersURL, honeypotURL, rugscanURL string, breakers *breaker.Pool, clock core.Clock, logger core.ILogger) *HTTPEnricher {
	e := &HTTPEnricher{
		breakers: breakers,
		clock:    clock,
		logger:   logger.WithField("component", "enricher"),
	}
	const connect, read = 10 * time.Second, 60 * time.Second
	if holdersURL != "" {
		e.holders = httpx.NewClient(holdersURL, connect, read, nil)
	}
	if honeypotURL != "" {
		e.honeypot = httpx.NewClient(honeypotURL, connect, read, nil)
	}
	if rugscanURL != "" {
		e.rugscan = httpx.NewClient(rugscanURL, connect, read, nil)
	}
	return e
}

// Enrich runs all probes and merges whatever succeeded. It only errors when
// the context dies; individual probe failures are recorded on the breaker
// pool and surface as unknown evidence.
func (e *HTTPEnricher) Enrich(ctx context.Context, sig *core.Signal) (*Evidence, error) {
	ev := &Evidence{
		Token:     sig.Token,
		Chain:     sig.Chain,
		FetchedAt: e.clock.Now(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { e.fetchHolders(gctx, sig, ev); return nil })
	g.Go(func() error { e.fetchHoneypot(gctx, sig, ev); return nil })
	g.Go(func() error { e.fetchRugscan(gctx, sig, ev); return nil })
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ev, nil
}

type holdersResponse struct {
	HolderCount    int     `json:"holder_count"`
	Top10HolderPct float64 `json:"top10_holder_pct"`
	DeployedAt     int64   `json:"deployed_at"`
}

func (e *HTTPEnricher) fetchHolders(ctx context.Context, sig *core.Signal, ev *Evidence) {
	var resp holdersResponse
	err := e.probe(ctx, e.holders, BreakerHolders, "/v1/holders", sig, &resp)
	if err != nil {
		e.logger.Warn("holder analysis unavailable", "token", sig.Token, "error", err)
		return
	}
	ev.HolderCount = resp.HolderCount
	ev.Top10HolderPct = resp.Top10HolderPct
	if resp.DeployedAt > 0 {
		ev.DeployedAt = time.Unix(resp.DeployedAt, 0).UTC()
	}
	ev.HoldersOK = true
}

type honeypotResponse struct {
	IsHoneypot bool    `json:"is_honeypot"`
	BuyTaxPct  float64 `json:"buy_tax_pct"`
	SellTaxPct float64 `json:"sell_tax_pct"`
}

func (e *HTTPEnricher) fetchHoneypot(ctx context.Context, sig *core.Signal, ev *Evidence) {
	var resp honeypotResponse
	err := e.probe(ctx, e.honeypot, BreakerHoneypot, "/v1/honeypot", sig, &resp)
	if err != nil {
		e.logger.Warn("honeypot check unavailable", "token", sig.Token, "error", err)
		return
	}
	ev.Honeypot = resp.IsHoneypot
	ev.BuyTaxPct = resp.BuyTaxPct
	ev.SellTaxPct = resp.SellTaxPct
	ev.HoneypotOK = true
}

type rugscanResponse struct {
	Verdict      string  `json:"verdict"`
	Score        int     `json:"score"`
	MintActive   bool    `json:"mint_active"`
	FreezeActive bool    `json:"freeze_active"`
	LPLockedPct  float64 `json:"lp_locked_pct"`
}

func (e *HTTPEnricher) fetchRugscan(ctx context.Context, sig *core.Signal, ev *Evidence) {
	var resp rugscanResponse
	err := e.probe(ctx, e.rugscan, BreakerRugscan, "/v1/scan", sig, &resp)
	if err != nil {
		e.logger.Warn("rugpull scan unavailable", "token", sig.Token, "error", err)
		return
	}
	ev.RugVerdict = strings.ToUpper(resp.Verdict)
	ev.RugcheckScore = resp.Score
	ev.MintActive = resp.MintActive
	ev.FreezeActive = resp.FreezeActive
	ev.LPLockedPct = resp.LPLockedPct
	ev.RugscanOK = true
}

// probe runs one guarded GET and unmarshals the body.
func (e *HTTPEnricher) probe(ctx context.Context, client *httpx.Client, component, path string, sig *core.Signal, out interface{}) error {
	if client == nil {
		return fmt.Errorf("probe not configured")
	}
	if !e.breakers.Allow(component) {
		return fmt.Errorf("%s: %w", component, apperrors.ErrBreakerOpen)
	}
	params := map[string]string{
		"token": sig.Token,
		"chain": sig.Chain,
	}
	if sig.TokenAddress != "" {
		params["address"] = sig.TokenAddress
	}
	body, err := client.Get(ctx, path, params)
	if err != nil {
		e.breakers.RecordFailure(component, err.Error())
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		e.breakers.RecordFailure(component, err.Error())
		return fmt.Errorf("failed to decode %s response: %w", component, err)
	}
	e.breakers.RecordSuccess(component)
	return nil
}

package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricDecisionsTotal     = "sanadbot_decisions_total"
	MetricOrdersPlacedTotal  = "sanadbot_orders_placed_total"
	MetricOrdersFilledTotal  = "sanadbot_orders_filled_total"
	MetricOrdersFailedTotal  = "sanadbot_orders_failed_total"
	MetricLLMCallsTotal      = "sanadbot_llm_calls_total"
	MetricLLMSpendUSDTotal   = "sanadbot_llm_spend_usd_total"
	MetricTaskClaimsTotal    = "sanadbot_task_claims_total"
	MetricPositionsOpen      = "sanadbot_positions_open"
	MetricBreakerOpen        = "sanadbot_circuit_breaker_open"
	MetricQueueBacklog       = "sanadbot_async_queue_backlog"
	MetricKillSwitchActive   = "sanadbot_kill_switch_active"
	MetricEquityUSD          = "sanadbot_portfolio_equity_usd"
	MetricDrawdownPct        = "sanadbot_portfolio_drawdown_pct"
	MetricRealizedPnLUSD     = "sanadbot_pnl_realized_usd"
	MetricStageLatency       = "sanadbot_pipeline_stage_latency_ms"
	MetricPipelineDuration   = "sanadbot_pipeline_duration_ms"
	MetricExchangeLatency    = "sanadbot_latency_exchange_ms"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	DecisionsTotal    metric.Int64Counter
	OrdersPlacedTotal metric.Int64Counter
	OrdersFilledTotal metric.Int64Counter
	OrdersFailedTotal metric.Int64Counter
	LLMCallsTotal     metric.Int64Counter
	LLMSpendUSDTotal  metric.Float64Counter
	TaskClaimsTotal   metric.Int64Counter
	PositionsOpen     metric.Int64ObservableGauge
	BreakerOpen       metric.Int64ObservableGauge
	QueueBacklog      metric.Int64ObservableGauge
	KillSwitchActive  metric.Int64ObservableGauge
	EquityUSD         metric.Float64ObservableGauge
	DrawdownPct       metric.Float64ObservableGauge
	RealizedPnLUSD    metric.Float64ObservableGauge
	StageLatency      metric.Float64Histogram
	PipelineDuration  metric.Float64Histogram
	ExchangeLatency   metric.Float64Histogram

	// State for observable gauges
	mu             sync.RWMutex
	openPositions  map[string]int64 // keyed by tier
	breakerOpenMap map[string]int64 // keyed by component
	backlogMap     map[string]int64 // keyed by task status
	killSwitch     int64
	equityUSD      float64
	drawdownPct    float64
	realizedPnLUSD float64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			openPositions:  make(map[string]int64),
			breakerOpenMap: make(map[string]int64),
			backlogMap:     make(map[string]int64),
		}
		// Initialization of instruments happens in InitMetrics
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.DecisionsTotal, err = meter.Int64Counter(MetricDecisionsTotal, metric.WithDescription("Total pipeline decisions by result"))
	if err != nil {
		return err
	}

	m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal, metric.WithDescription("Total orders placed"))
	if err != nil {
		return err
	}

	m.OrdersFilledTotal, err = meter.Int64Counter(MetricOrdersFilledTotal, metric.WithDescription("Total orders fully filled"))
	if err != nil {
		return err
	}

	m.OrdersFailedTotal, err = meter.Int64Counter(MetricOrdersFailedTotal, metric.WithDescription("Total orders rejected or failed"))
	if err != nil {
		return err
	}

	m.LLMCallsTotal, err = meter.Int64Counter(MetricLLMCallsTotal, metric.WithDescription("Total oracle calls by stage"))
	if err != nil {
		return err
	}

	m.LLMSpendUSDTotal, err = meter.Float64Counter(MetricLLMSpendUSDTotal, metric.WithDescription("Cumulative oracle spend in USD"))
	if err != nil {
		return err
	}

	m.TaskClaimsTotal, err = meter.Int64Counter(MetricTaskClaimsTotal, metric.WithDescription("Total successful async task claims"))
	if err != nil {
		return err
	}

	m.StageLatency, err = meter.Float64Histogram(MetricStageLatency, metric.WithDescription("Latency of individual pipeline stages"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.PipelineDuration, err = meter.Float64Histogram(MetricPipelineDuration, metric.WithDescription("End-to-end pipeline run duration"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.ExchangeLatency, err = meter.Float64Histogram(MetricExchangeLatency, metric.WithDescription("Latency of exchange API calls"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	// Observables
	m.PositionsOpen, err = meter.Int64ObservableGauge(MetricPositionsOpen, metric.WithDescription("Open positions by tier"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for tier, val := range m.openPositions {
				obs.Observe(val, metric.WithAttributes(attribute.String("tier", tier)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.BreakerOpen, err = meter.Int64ObservableGauge(MetricBreakerOpen, metric.WithDescription("Circuit breaker open state (1=open, 0=closed)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for component, val := range m.breakerOpenMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("component", component)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.QueueBacklog, err = meter.Int64ObservableGauge(MetricQueueBacklog, metric.WithDescription("Async queue depth by status"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for status, val := range m.backlogMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("status", status)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.KillSwitchActive, err = meter.Int64ObservableGauge(MetricKillSwitchActive, metric.WithDescription("Kill switch state (1=active)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.killSwitch)
			return nil
		}))
	if err != nil {
		return err
	}

	m.EquityUSD, err = meter.Float64ObservableGauge(MetricEquityUSD, metric.WithDescription("Current portfolio equity"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.equityUSD)
			return nil
		}))
	if err != nil {
		return err
	}

	m.DrawdownPct, err = meter.Float64ObservableGauge(MetricDrawdownPct, metric.WithDescription("Current drawdown from peak equity"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.drawdownPct)
			return nil
		}))
	if err != nil {
		return err
	}

	m.RealizedPnLUSD, err = meter.Float64ObservableGauge(MetricRealizedPnLUSD, metric.WithDescription("Cumulative realized PnL"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.realizedPnLUSD)
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Recording helpers for counters and histograms

func (m *MetricsHolder) IncDecision(ctx context.Context, result string) {
	if m.DecisionsTotal != nil {
		m.DecisionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}
}

func (m *MetricsHolder) IncLLMCall(ctx context.Context, stage, model string, costUSD float64) {
	if m.LLMCallsTotal != nil {
		m.LLMCallsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("model", model),
		))
	}
	if m.LLMSpendUSDTotal != nil {
		m.LLMSpendUSDTotal.Add(ctx, costUSD, metric.WithAttributes(attribute.String("stage", stage)))
	}
}

func (m *MetricsHolder) RecordStageLatency(ctx context.Context, stage string, millis float64) {
	if m.StageLatency != nil {
		m.StageLatency.Record(ctx, millis, metric.WithAttributes(attribute.String("stage", stage)))
	}
}

func (m *MetricsHolder) RecordPipelineDuration(ctx context.Context, result string, millis float64) {
	if m.PipelineDuration != nil {
		m.PipelineDuration.Record(ctx, millis, metric.WithAttributes(attribute.String("result", result)))
	}
}

func (m *MetricsHolder) RecordExchangeLatency(ctx context.Context, venue, op string, millis float64) {
	if m.ExchangeLatency != nil {
		m.ExchangeLatency.Record(ctx, millis, metric.WithAttributes(
			attribute.String("venue", venue),
			attribute.String("op", op),
		))
	}
}

func (m *MetricsHolder) IncOrderPlaced(ctx context.Context, venue string) {
	if m.OrdersPlacedTotal != nil {
		m.OrdersPlacedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("venue", venue)))
	}
}

func (m *MetricsHolder) IncOrderFilled(ctx context.Context, venue string) {
	if m.OrdersFilledTotal != nil {
		m.OrdersFilledTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("venue", venue)))
	}
}

func (m *MetricsHolder) IncOrderFailed(ctx context.Context, venue, reason string) {
	if m.OrdersFailedTotal != nil {
		m.OrdersFailedTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("venue", venue),
			attribute.String("reason", reason),
		))
	}
}

func (m *MetricsHolder) IncTaskClaim(ctx context.Context) {
	if m.TaskClaimsTotal != nil {
		m.TaskClaimsTotal.Add(ctx, 1)
	}
}

// Helpers to update observable state

func (m *MetricsHolder) SetOpenPositions(tier string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openPositions[tier] = count
}

func (m *MetricsHolder) SetBreakerOpen(component string, open bool) {
	val := int64(0)
	if open {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakerOpenMap[component] = val
}

func (m *MetricsHolder) SetQueueBacklog(status string, depth int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backlogMap[status] = depth
}

func (m *MetricsHolder) SetKillSwitch(active bool) {
	val := int64(0)
	if active {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.killSwitch = val
}

func (m *MetricsHolder) SetPortfolio(equityUSD, drawdownPct, realizedPnLUSD float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equityUSD = equityUSD
	m.drawdownPct = drawdownPct
	m.realizedPnLUSD = realizedPnLUSD
}

func (m *MetricsHolder) GetBreakerStates() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64)
	for k, v := range m.breakerOpenMap {
		res[k] = v
	}
	return res
}

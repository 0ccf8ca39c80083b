package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"sanadbot/internal/core"
	"sanadbot/internal/oms"
	"sanadbot/internal/store"
	apperrors "sanadbot/pkg/errors"
	"sanadbot/pkg/telemetry"
)

// closePosition sells the book entry and transitions the row. The order
// goes to the venue first, mirroring the entry: if the process dies in
// between, the idempotent client order id absorbs the resubmission and
// reconciliation squares the row. A lost close race is a warning, not a
// double count; UpdatePositionClose refuses the second transition.
func (m *Monitor) closePosition(ctx context.Context, pos *core.Position, price *core.PricePoint, call *exitCall) error {
	d, err := m.rt.Store.GetDecision(ctx, pos.DecisionID)
	if err != nil {
		m.logger.Warn("decision lookup failed at close",
			"position_id", pos.PositionID, "error", err)
	}
	corr := pos.PositionID
	if d != nil && d.CorrelationID != "" {
		corr = d.CorrelationID
	}

	order, err := m.orders.PlaceOrder(ctx, &oms.PlaceRequest{
		Symbol:        pos.Symbol,
		Side:          core.SideSell,
		Quantity:      pos.Size,
		StrategyID:    pos.StrategyID,
		CorrelationID: corr,
		PositionID:    pos.PositionID,
		Paper:         pos.Mode == core.ModePaper,
	})
	if err != nil {
		return fmt.Errorf("exit order failed: %w", err)
	}
	if !order.FilledQuantity.IsPositive() {
		return fmt.Errorf("exit order %s finished %s with no fill",
			order.ClientOrderID, order.State)
	}

	exit := order.AvgFillPrice
	gross := exit.Sub(pos.EntryPrice).Mul(order.FilledQuantity)
	fees := pos.FeeUSD.Add(order.FeeUSD)
	net := gross.Sub(fees)

	res := store.CloseResult{
		ExitPrice:   exit,
		ExitReason:  call.reason,
		GrossPnLUSD: gross,
		FeeUSD:      fees,
		NetPnLUSD:   net,
	}
	if err := m.rt.Store.UpdatePositionClose(ctx, pos.PositionID, res); err != nil {
		if errors.Is(err, apperrors.ErrInvalidTransition) {
			m.logger.Warn("position already closed, skipping settlement",
				"position_id", pos.PositionID)
			return nil
		}
		return fmt.Errorf("close transition failed: %w", err)
	}

	m.settle(ctx, pos, d, order, price, call, net)

	m.logger.Info("position closed",
		"position_id", pos.PositionID,
		"symbol", pos.Symbol,
		"reason", call.reason,
		"exit_price", exit.String(),
		"net_pnl_usd", net.StringFixed(2))
	return nil
}

// settle runs the post-close side effects. Each is best-effort and logged:
// the position row is already closed and must not be unwound over a failed
// bookkeeping write.
func (m *Monitor) settle(ctx context.Context, pos *core.Position, d *core.Decision, order *core.Order, price *core.PricePoint, call *exitCall, net decimal.Decimal) {
	m.recordQuality(ctx, pos, order, price)

	reward := 0.0
	if net.IsPositive() {
		reward = 1.0
	}
	if err := m.rt.Store.UpdateBanditReward(ctx, pos.StrategyID, pos.RegimeTag, reward); err != nil {
		m.logger.Warn("bandit update failed",
			"strategy", pos.StrategyID, "regime", pos.RegimeTag, "error", err)
	}
	if source := sourceFrom(d); source != "" {
		if err := m.rt.Store.BumpSourceReward(ctx, source, reward); err != nil {
			m.logger.Warn("source reward update failed", "source", source, "error", err)
		}
	}

	if err := m.rt.Store.ApplyRealizedPnL(ctx, net); err != nil {
		m.logger.Error("portfolio update failed after close",
			"position_id", pos.PositionID, "error", err)
	} else if snap, err := m.rt.Store.GetPortfolio(ctx); err == nil && snap != nil {
		equity, _ := snap.EquityUSD.Float64()
		realized, _ := snap.TotalPnLUSD.Float64()
		telemetry.GetGlobalMetrics().SetPortfolio(equity, snap.DrawdownPct, realized)
	}

	if err := m.rt.Store.ClearHighWaterMark(ctx, pos.PositionID); err != nil {
		m.logger.Warn("high water mark clear failed",
			"position_id", pos.PositionID, "error", err)
	}

	m.rt.Notify(ctx, call.level, "Position closed",
		fmt.Sprintf("%s %s %s: %s (net $%s)",
			pos.Mode, pos.Symbol, call.reason, call.detail, net.StringFixed(2)))
}

// recordQuality compares the exit fill against the cached quote the rules
// were judged on.
func (m *Monitor) recordQuality(ctx context.Context, pos *core.Position, order *core.Order, price *core.PricePoint) {
	q := core.ExecutionQuality{
		PositionID:         pos.PositionID,
		SubmitToFillMillis: order.UpdatedAt.Sub(order.CreatedAt).Milliseconds(),
		RecordedAt:         m.rt.Clock.Now(),
	}
	if m.rt.Exchange != nil {
		notional := order.AvgFillPrice.Mul(order.FilledQuantity)
		if bps, err := m.rt.Exchange.EstimateSlippageBps(ctx, pos.Symbol, notional); err == nil {
			q.EstimatedSlipBps = bps
		}
	}
	if price.Price.IsPositive() {
		diff := order.AvgFillPrice.Sub(price.Price).Abs().Div(price.Price).Mul(decimal.NewFromInt(10_000))
		q.RealizedSlipBps = int(diff.IntPart())
	}
	if fills, err := m.rt.Store.GetFills(ctx, order.ClientOrderID); err == nil {
		q.PartialFills = len(fills)
	}
	if err := m.rt.Store.AppendExecutionQuality(ctx, q); err != nil {
		m.logger.Warn("execution quality write failed",
			"position_id", pos.PositionID, "error", err)
	}
}

// sourceFrom digs the originating feed source out of the decision packet
// for the post-trade source reward.
func sourceFrom(d *core.Decision) string {
	if d == nil || d.PacketJSON == "" {
		return ""
	}
	var pkt struct {
		Signal *core.Signal `json:"signal"`
	}
	if err := json.Unmarshal([]byte(d.PacketJSON), &pkt); err != nil || pkt.Signal == nil {
		return ""
	}
	return pkt.Signal.SourcePrimary
}

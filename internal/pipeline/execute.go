package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"sanadbot/internal/core"
	"sanadbot/internal/oms"
	"sanadbot/internal/policy"
	"sanadbot/internal/store"
)

var (
	// reviseSizeFactor shrinks a paper entry the Judge asked to revise.
	reviseSizeFactor = decimal.NewFromFloat(0.25)

	// minOrderNotionalUSD is the venue floor a half fill must still clear.
	minOrderNotionalUSD = decimal.NewFromInt(10)

	halfFill = decimal.NewFromFloat(0.5)
)

// execute turns the approved packet into an order and, atomically with the
// decision row, an open position plus its deep-analysis task. The order is
// placed before the rows are written: if the process dies in between, the
// idempotent client order id and reconciliation close the gap on restart.
func (p *Pipeline) execute(ctx context.Context, st *state) *core.Decision {
	sizeUSD := st.sizing.SizeUSD

	if st.debate != nil && st.debate.Judge != nil && st.debate.Judge.Verdict == core.VerdictRevise {
		if st.mode != core.ModePaper {
			return st.block(core.StageExecute, ReasonJudgeRevise,
				"judge requested revision, live entries do not micro-size")
		}
		sizeUSD = sizeUSD.Mul(reviseSizeFactor)
		p.logger.Info("judge requested revision, micro-sizing paper entry",
			"token", st.sig.Token, "size_usd", sizeUSD.StringFixed(2))
	}

	if sizeUSD.Mul(halfFill).LessThan(minOrderNotionalUSD) {
		return st.block(core.StageExecute, ReasonSizeTooSmall,
			fmt.Sprintf("size $%s cannot survive a partial fill above the $%s venue minimum",
				sizeUSD.StringFixed(2), minOrderNotionalUSD))
	}

	if st.price == nil || !st.price.Price.IsPositive() {
		return st.block(core.StageExecute, ReasonStateLookup, "no price for sizing the entry")
	}
	quantity := sizeUSD.DivRound(st.price.Price, 8)

	decisionID := core.DecisionIDFor(st.sig.SignalID, policy.PolicyVersion)
	positionID := core.PositionIDFor(decisionID, 1)

	order, err := p.orders.PlaceOrder(ctx, &oms.PlaceRequest{
		Symbol:        st.symbol,
		Side:          core.SideBuy,
		Quantity:      quantity,
		StrategyID:    st.strat.ID,
		CorrelationID: st.corr,
		PositionID:    positionID,
		Paper:         st.mode == core.ModePaper,
	})
	if err != nil {
		return st.block(core.StageExecute, ReasonOrderFailed,
			fmt.Sprintf("order failed: %v", err))
	}
	if !order.FilledQuantity.IsPositive() {
		return st.block(core.StageExecute, ReasonOrderUnfilled,
			fmt.Sprintf("order %s finished %s with no fill", order.ClientOrderID, order.State))
	}

	now := p.rt.Clock.Now()
	d := st.terminal(core.ResultExecute, core.StageExecute, ReasonExecuted,
		fmt.Sprintf("opened %s %s at %s", order.FilledQuantity, st.symbol, order.AvgFillPrice))

	pos := &core.Position{
		PositionID:     positionID,
		DecisionID:     decisionID,
		Symbol:         st.symbol,
		Token:          st.sig.Token,
		Chain:          st.sig.Chain,
		Tier:           st.profile.Tier,
		StrategyID:     st.strat.ID,
		RegimeTag:      string(st.regime),
		Status:         core.PositionOpen,
		Side:           core.SideBuy,
		EntryPrice:     order.AvgFillPrice,
		Size:           order.FilledQuantity,
		NotionalUSD:    order.AvgFillPrice.Mul(order.FilledQuantity),
		StopLossPct:    exitPct(st.strat.StopLossPct, p.rt.Cfg.Risk.StopLossDefaultPct),
		TakeProfitPct:  exitPct(st.strat.TakeProfitPct, p.rt.Cfg.Risk.TakeProfitDefaultPct),
		EntryVolume24h: st.sig.Volume24hUSD,
		FeeUSD:         order.FeeUSD,
		Mode:           st.mode,
		OpenedAt:       now,
	}
	task := &core.AsyncTask{
		TaskID:    core.TaskIDFor(core.TaskTypeAnalyze, pos.PositionID),
		TaskType:  core.TaskTypeAnalyze,
		EntityID:  pos.PositionID,
		Status:    core.TaskPending,
		NextRunAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}

	st.stageMillis[core.StageExecute] = now.Sub(st.stageStart).Milliseconds()
	p.seal(st, d)

	stored, created, err := p.rt.Store.TryOpenPositionAtomic(ctx, d, pos, task)
	if err != nil {
		st.err = fmt.Errorf("position open failed after fill: %w", err)
		p.logger.Error("atomic position open failed, order is live without a position row",
			"decision_id", d.DecisionID,
			"client_order_id", order.ClientOrderID,
			"error", err)
		p.rt.Notify(ctx, core.NotifyL2, "Position open failed",
			fmt.Sprintf("%s filled on %s but the position row could not be written: %v",
				order.ClientOrderID, st.symbol, err))
		return d
	}
	st.persisted = true
	st.position = stored

	if !created {
		p.logger.Warn("position already open for decision, replay absorbed",
			"decision_id", d.DecisionID, "position_id", stored.PositionID)
		return d
	}

	cooldownUntil := now.Add(time.Duration(p.rt.Cfg.PolicyGates.CooldownMinutes) * time.Minute)
	if err := p.rt.Store.SetCooldown(ctx, st.sig.Token, store.CooldownTrade, cooldownUntil); err != nil {
		p.logger.Warn("trade cooldown write failed",
			"token", st.sig.Token, "error", err)
	}

	p.rt.Notify(ctx, core.NotifyL1, "Position opened",
		fmt.Sprintf("%s %s %s at %s ($%s, strategy %s)",
			st.mode, st.symbol, order.FilledQuantity, order.AvgFillPrice,
			pos.NotionalUSD.StringFixed(2), st.strat.ID))
	return d
}

// exitPct resolves a strategy exit threshold, falling back to the risk
// config default when the arm leaves it unset.
func exitPct(armPct, defaultPct float64) float64 {
	if armPct > 0 {
		return armPct
	}
	return defaultPct
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sanadbot/internal/core"
)

// BanditStat is one Beta posterior for a (strategy, regime) arm.
type BanditStat struct {
	StrategyID string
	RegimeTag  string
	Alpha      float64
	Beta       float64
	Trials     int
	UpdatedAt  time.Time
}

// GetBanditStats returns all arms recorded for a regime. Strategies with no
// row yet simply have the uniform prior; callers fill that in.
func (s *Store) GetBanditStats(ctx context.Context, regimeTag string) ([]BanditStat, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT strategy_id, regime_tag, alpha, beta, trials, updated_at
		FROM bandit_stats WHERE regime_tag = ?`, regimeTag)
	if err != nil {
		return nil, fmt.Errorf("failed to query bandit stats: %w", err)
	}
	defer rows.Close()

	var out []BanditStat
	for rows.Next() {
		var (
			b         BanditStat
			updatedAt int64
		)
		if err := rows.Scan(&b.StrategyID, &b.RegimeTag, &b.Alpha, &b.Beta, &b.Trials, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bandit stat: %w", err)
		}
		b.UpdatedAt = timeOrZero(updatedAt)
		out = append(out, b)
	}
	return out, rows.Err()
}

// UpdateBanditReward folds one trade outcome into the arm's posterior.
// Reward is clamped to [0,1]; a win adds to alpha, a loss to beta.
func (s *Store) UpdateBanditReward(ctx context.Context, strategyID, regimeTag string, reward float64) error {
	if reward < 0 {
		reward = 0
	}
	if reward > 1 {
		reward = 1
	}
	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO bandit_stats (strategy_id, regime_tag, alpha, beta, trials, updated_at)
		VALUES (?, ?, 1 + ?, 1 + ?, 1, ?)
		ON CONFLICT(strategy_id, regime_tag) DO UPDATE SET
			alpha = alpha + excluded.alpha - 1,
			beta = beta + excluded.beta - 1,
			trials = trials + 1,
			updated_at = excluded.updated_at`,
		strategyID, regimeTag, reward, 1-reward, s.now().Unix())
	if err != nil {
		return mapBusy(fmt.Errorf("failed to update bandit reward: %w", err))
	}
	return nil
}

// SourceStat is the per-source pull count and cumulative reward behind the
// router's UCB source ranking.
type SourceStat struct {
	SourceID  string
	Pulls     int
	RewardSum float64
	UpdatedAt time.Time
}

// BumpSourceReward records one routed signal's reward for its source.
func (s *Store) BumpSourceReward(ctx context.Context, sourceID string, reward float64) error {
	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO source_ucb (source_id, pulls, reward_sum, updated_at)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			pulls = pulls + 1,
			reward_sum = reward_sum + excluded.reward_sum,
			updated_at = excluded.updated_at`,
		sourceID, reward, s.now().Unix())
	if err != nil {
		return mapBusy(fmt.Errorf("failed to bump source reward: %w", err))
	}
	return nil
}

// GetSourceStats returns all per-source pull counts and rewards.
func (s *Store) GetSourceStats(ctx context.Context) ([]SourceStat, error) {
	rows, err := s.reader.QueryContext(ctx,
		`SELECT source_id, pulls, reward_sum, updated_at FROM source_ucb`)
	if err != nil {
		return nil, fmt.Errorf("failed to query source stats: %w", err)
	}
	defer rows.Close()

	var out []SourceStat
	for rows.Next() {
		var (
			st        SourceStat
			updatedAt int64
		)
		if err := rows.Scan(&st.SourceID, &st.Pulls, &st.RewardSum, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan source stat: %w", err)
		}
		st.UpdatedAt = timeOrZero(updatedAt)
		out = append(out, st)
	}
	return out, rows.Err()
}

// AddSpend appends one LLM call's cost to the ledger, bucketed by UTC day
// and month for the budget gate.
func (s *Store) AddSpend(ctx context.Context, stage, model string, costUSD float64) error {
	now := s.now()
	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO spend_ledger (day, month, stage, model, cost_usd, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		DayKey(now), MonthKey(now), stage, model, costUSD, now.Unix())
	if err != nil {
		return mapBusy(fmt.Errorf("failed to record spend: %w", err))
	}
	return nil
}

// SpendForDay sums the ledger for one UTC day.
func (s *Store) SpendForDay(ctx context.Context, day string) (float64, error) {
	return s.sumSpend(ctx, `SELECT COALESCE(SUM(cost_usd), 0) FROM spend_ledger WHERE day = ?`, day)
}

// SpendForMonth sums the ledger for one UTC month.
func (s *Store) SpendForMonth(ctx context.Context, month string) (float64, error) {
	return s.sumSpend(ctx, `SELECT COALESCE(SUM(cost_usd), 0) FROM spend_ledger WHERE month = ?`, month)
}

func (s *Store) sumSpend(ctx context.Context, query, key string) (float64, error) {
	var sum float64
	if err := s.reader.QueryRowContext(ctx, query, key).Scan(&sum); err != nil {
		return 0, fmt.Errorf("failed to sum spend: %w", err)
	}
	return sum, nil
}

// RecentTrades returns the last closed trades, newest first. The capital
// preservation gate derives the consecutive-loss streak from this.
func (s *Store) RecentTrades(ctx context.Context, limit int) ([]*core.TradeRecord, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT position_id, symbol, side, entry_price, exit_price, size,
		       gross_pnl_usd, fee_usd, net_pnl_usd,
		       hold_seconds, exit_reason, strategy_id, regime_tag, mode, closed_at
		FROM trade_history ORDER BY closed_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade history: %w", err)
	}
	defer rows.Close()

	var out []*core.TradeRecord
	for rows.Next() {
		var (
			t                        core.TradeRecord
			side, mode               string
			entry, exit, size        sql.NullString
			gross, fee, net          sql.NullString
			strategyID, regimeTag    sql.NullString
			holdSeconds, closedAt    int64
		)
		err := rows.Scan(&t.PositionID, &t.Symbol, &side, &entry, &exit, &size,
			&gross, &fee, &net, &holdSeconds, &t.ExitReason,
			&strategyID, &regimeTag, &mode, &closedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Side = core.OrderSide(side)
		t.EntryPrice = scanDecimal(entry)
		t.ExitPrice = scanDecimal(exit)
		t.Size = scanDecimal(size)
		t.GrossPnLUSD = scanDecimal(gross)
		t.FeeUSD = scanDecimal(fee)
		t.NetPnLUSD = scanDecimal(net)
		t.HoldMinutes = holdSeconds / 60
		t.StrategyID = strategyID.String
		t.RegimeTag = regimeTag.String
		t.Mode = core.Mode(mode)
		t.ClosedAt = timeOrZero(closedAt)
		out = append(out, &t)
	}
	return out, rows.Err()
}

// RealizedPnLSince sums net PnL for trades closed at or after the cutoff.
func (s *Store) RealizedPnLSince(ctx context.Context, since time.Time) (float64, error) {
	var sum float64
	err := s.reader.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CAST(net_pnl_usd AS REAL)), 0)
		FROM trade_history WHERE closed_at >= ?`, since.Unix()).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum realized pnl: %w", err)
	}
	return sum, nil
}

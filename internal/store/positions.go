package store

import (
	"context"
	"database/sql"
	"fmt"

	"sanadbot/internal/core"
	apperrors "sanadbot/pkg/errors"

	"github.com/shopspring/decimal"
)

const positionColumns = `
	position_id, decision_id, symbol, token, chain, tier,
	strategy_id, regime_tag, status, side,
	entry_price, size, notional_usd, stop_loss_pct, take_profit_pct,
	entry_volume_24h, exit_price, exit_reason,
	gross_pnl_usd, fee_usd, net_pnl_usd,
	risk_flag, async_done, async_json, mode, opened_at, closed_at`

// TryOpenPositionAtomic opens a position for a decision in one transaction:
// the decision row is upserted, the position insert is keyed on the
// decision_id unique constraint, and the follow-up analysis task is enqueued
// only when this caller won the insert. When the position already exists the
// stored row is returned and nothing is enqueued, so concurrent duplicate
// signals produce exactly one position and one task.
func (s *Store) TryOpenPositionAtomic(ctx context.Context, d *core.Decision, p *core.Position, task *core.AsyncTask) (*core.Position, bool, error) {
	var (
		created bool
		out     *core.Position
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertDecisionTx(ctx, tx, d); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO positions (`+positionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.PositionID, p.DecisionID, p.Symbol, p.Token, nullStr(p.Chain), string(p.Tier),
			nullStr(p.StrategyID), nullStr(p.RegimeTag), string(p.Status), string(p.Side),
			decString(p.EntryPrice), decString(p.Size), decString(p.NotionalUSD), p.StopLossPct, p.TakeProfitPct,
			decString(p.EntryVolume24h), nullStr(""), nullStr(""),
			nullStr(""), nullStr(""), nullStr(""),
			nullStr(p.RiskFlag), boolInt(p.AsyncDone), nullStr(p.AsyncJSON), string(p.Mode),
			unixOrZero(p.OpenedAt), unixOrZero(p.ClosedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert position: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read insert result: %w", err)
		}
		created = n == 1

		if created && task != nil {
			if err := insertTaskTx(ctx, tx, task); err != nil {
				return err
			}
		}

		row := tx.QueryRowContext(ctx,
			`SELECT `+positionColumns+` FROM positions WHERE decision_id = ?`, p.DecisionID)
		pos, err := scanPosition(row)
		if err != nil {
			return err
		}
		if pos == nil {
			return fmt.Errorf("position for decision %s vanished inside transaction", p.DecisionID)
		}
		out = pos
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

func insertDecisionTx(ctx context.Context, tx *sql.Tx, d *core.Decision) error {
	stageMillis := "{}"
	if d.StageMillis != nil {
		raw, err := marshalStageMillis(d.StageMillis)
		if err != nil {
			return err
		}
		stageMillis = raw
	}
	_, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO decisions (
			decision_id, signal_id, correlation_id, policy_version,
			result, stage, reason_code, reason,
			gate_failed, gate_failed_name, hard_gate, fast_track,
			mode, packet_json, stage_millis, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.DecisionID, d.SignalID, d.CorrelationID, d.PolicyVersion,
		string(d.Result), d.Stage, nullStr(d.ReasonCode), nullStr(d.Reason),
		d.GateFailed, nullStr(d.GateFailedName), boolInt(d.HardGate), boolInt(d.FastTrack),
		string(d.Mode), nullStr(d.PacketJSON), stageMillis, unixOrZero(d.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert decision: %w", err)
	}
	return nil
}

// CloseResult carries the exit fields written when a position closes.
type CloseResult struct {
	ExitPrice   decimal.Decimal
	ExitReason  string
	GrossPnLUSD decimal.Decimal
	FeeUSD      decimal.Decimal
	NetPnLUSD   decimal.Decimal
}

// UpdatePositionClose transitions OPEN -> CLOSED and appends the immutable
// trade history row in the same transaction. A second close of the same
// position observes zero rows and returns ErrInvalidTransition so callers
// can treat the race as a warning rather than double-counting PnL.
func (s *Store) UpdatePositionClose(ctx context.Context, positionID string, res CloseResult) error {
	now := s.now()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		r, err := tx.ExecContext(ctx, `
			UPDATE positions SET
				status = ?, exit_price = ?, exit_reason = ?,
				gross_pnl_usd = ?, fee_usd = ?, net_pnl_usd = ?, closed_at = ?
			WHERE position_id = ? AND status = ?`,
			string(core.PositionClosed), decString(res.ExitPrice), res.ExitReason,
			decString(res.GrossPnLUSD), decString(res.FeeUSD), decString(res.NetPnLUSD), now.Unix(),
			positionID, string(core.PositionOpen),
		)
		if err != nil {
			return fmt.Errorf("failed to close position: %w", err)
		}
		n, err := r.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read close result: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("position %s not open: %w", positionID, apperrors.ErrInvalidTransition)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO trade_history (
				position_id, symbol, token, strategy_id, regime_tag, side,
				entry_price, exit_price, size,
				gross_pnl_usd, fee_usd, net_pnl_usd,
				exit_reason, hold_seconds, mode, closed_at
			)
			SELECT position_id, symbol, token, strategy_id, regime_tag, side,
			       entry_price, exit_price, size,
			       gross_pnl_usd, fee_usd, net_pnl_usd,
			       exit_reason, ? - opened_at, mode, closed_at
			FROM positions WHERE position_id = ?`,
			now.Unix(), positionID,
		)
		if err != nil {
			return fmt.Errorf("failed to append trade history: %w", err)
		}
		return nil
	})
}

// GetPosition returns the position row, or nil when none exists.
func (s *Store) GetPosition(ctx context.Context, positionID string) (*core.Position, error) {
	row := s.reader.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE position_id = ?`, positionID)
	return scanPosition(row)
}

// GetPositionByDecision returns the position opened for a decision, or nil.
func (s *Store) GetPositionByDecision(ctx context.Context, decisionID string) (*core.Position, error) {
	row := s.reader.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE decision_id = ?`, decisionID)
	return scanPosition(row)
}

// GetOpenPositions returns all OPEN positions ordered by open time.
func (s *Store) GetOpenPositions(ctx context.Context) ([]*core.Position, error) {
	rows, err := s.reader.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE status = ? ORDER BY opened_at ASC`,
		string(core.PositionOpen))
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()

	var out []*core.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountOpenPositions reports how many positions are OPEN.
func (s *Store) CountOpenPositions(ctx context.Context) (int, error) {
	var n int
	err := s.reader.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM positions WHERE status = ?`, string(core.PositionOpen)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count open positions: %w", err)
	}
	return n, nil
}

// HasOpenPositionForToken reports whether any OPEN position exists for token.
func (s *Store) HasOpenPositionForToken(ctx context.Context, token string) (bool, error) {
	var n int
	err := s.reader.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM positions WHERE status = ? AND token = ?`,
		string(core.PositionOpen), token).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check token exposure: %w", err)
	}
	return n > 0, nil
}

// TightenStopLoss lowers an open position's stop distance. The predicate
// keeps the ratchet monotonic: a concurrent cycle can tighten further but
// never widen back. Zero rows touched means the stop was already at least
// this tight, or the position closed; neither is an error.
func (s *Store) TightenStopLoss(ctx context.Context, positionID string, slPct float64) (bool, error) {
	res, err := s.writer.ExecContext(ctx, `
		UPDATE positions SET stop_loss_pct = ?
		WHERE position_id = ? AND status = ? AND stop_loss_pct > ?`,
		slPct, positionID, string(core.PositionOpen), slPct)
	if err != nil {
		return false, mapBusy(fmt.Errorf("failed to tighten stop: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read tighten result: %w", err)
	}
	return n > 0, nil
}

// SetRiskFlag stamps a risk flag on a position. Last writer wins; flags are
// advisory inputs to the monitor, not transitions.
func (s *Store) SetRiskFlag(ctx context.Context, positionID, flag string) error {
	_, err := s.writer.ExecContext(ctx,
		`UPDATE positions SET risk_flag = ? WHERE position_id = ?`, flag, positionID)
	if err != nil {
		return mapBusy(fmt.Errorf("failed to set risk flag: %w", err))
	}
	return nil
}

// AttachAsyncAnalysis stores the cold-path verdict JSON and marks the
// position's deep analysis complete.
func (s *Store) AttachAsyncAnalysis(ctx context.Context, positionID, verdictJSON string) error {
	_, err := s.writer.ExecContext(ctx,
		`UPDATE positions SET async_done = 1, async_json = ? WHERE position_id = ?`,
		verdictJSON, positionID)
	if err != nil {
		return mapBusy(fmt.Errorf("failed to attach analysis: %w", err))
	}
	return nil
}

func scanPosition(row rowScanner) (*core.Position, error) {
	var (
		p                                 core.Position
		chain, tier, strategy, regime     sql.NullString
		status, side, mode                string
		entry, size, notional, entryVol   sql.NullString
		exitPrice, exitReason             sql.NullString
		gross, fee, net                   sql.NullString
		riskFlag, asyncJSON               sql.NullString
		asyncDone                         int
		openedAt                          int64
		closedAt                          sql.NullInt64
	)
	err := row.Scan(
		&p.PositionID, &p.DecisionID, &p.Symbol, &p.Token, &chain, &tier,
		&strategy, &regime, &status, &side,
		&entry, &size, &notional, &p.StopLossPct, &p.TakeProfitPct,
		&entryVol, &exitPrice, &exitReason,
		&gross, &fee, &net,
		&riskFlag, &asyncDone, &asyncJSON, &mode, &openedAt, &closedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan position: %w", err)
	}
	p.Chain = chain.String
	p.Tier = core.Tier(tier.String)
	p.StrategyID = strategy.String
	p.RegimeTag = regime.String
	p.Status = core.PositionStatus(status)
	p.Side = core.OrderSide(side)
	p.EntryPrice = scanDecimal(entry)
	p.Size = scanDecimal(size)
	p.NotionalUSD = scanDecimal(notional)
	p.EntryVolume24h = scanDecimal(entryVol)
	p.ExitPrice = scanDecimal(exitPrice)
	p.ExitReason = exitReason.String
	p.GrossPnLUSD = scanDecimal(gross)
	p.FeeUSD = scanDecimal(fee)
	p.NetPnLUSD = scanDecimal(net)
	p.RiskFlag = riskFlag.String
	p.AsyncDone = asyncDone != 0
	p.AsyncJSON = asyncJSON.String
	p.Mode = core.Mode(mode)
	p.OpenedAt = timeOrZero(openedAt)
	if closedAt.Valid {
		p.ClosedAt = timeOrZero(closedAt.Int64)
	}
	return &p, nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sanadbot/internal/core"

	"github.com/shopspring/decimal"
)

// Cooldown kinds. A trade cooldown starts when a position opens for the
// token; a rejection cooldown starts when the pipeline rejects it.
const (
	CooldownTrade     = "TRADE"
	CooldownRejection = "REJECTION"
)

// IncrementRunCount bumps and returns the router's run counter for a day.
func (s *Store) IncrementRunCount(ctx context.Context, day string) (int, error) {
	var count int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO router_state (day, run_count, updated_at) VALUES (?, 1, ?)
			ON CONFLICT(day) DO UPDATE SET
				run_count = run_count + 1,
				updated_at = excluded.updated_at`,
			day, s.now().Unix())
		if err != nil {
			return fmt.Errorf("failed to increment run count: %w", err)
		}
		return tx.QueryRowContext(ctx,
			`SELECT run_count FROM router_state WHERE day = ?`, day).Scan(&count)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// GetRunCount returns the router's run counter for a day, zero when unseen.
func (s *Store) GetRunCount(ctx context.Context, day string) (int, error) {
	var count int
	err := s.reader.QueryRowContext(ctx,
		`SELECT run_count FROM router_state WHERE day = ?`, day).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get run count: %w", err)
	}
	return count, nil
}

// MarkSignalProcessed records a signal id for the day. Returns true when this
// call was the first sighting, false for duplicates.
func (s *Store) MarkSignalProcessed(ctx context.Context, signalID, day string) (bool, error) {
	res, err := s.writer.ExecContext(ctx, `
		INSERT OR IGNORE INTO processed_signals (signal_id, day, created_at)
		VALUES (?, ?, ?)`,
		signalID, day, s.now().Unix())
	if err != nil {
		return false, mapBusy(fmt.Errorf("failed to mark signal processed: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read processed result: %w", err)
	}
	return n == 1, nil
}

// PruneProcessedSignals deletes dedup rows older than the cutoff day.
func (s *Store) PruneProcessedSignals(ctx context.Context, beforeDay string) (int64, error) {
	res, err := s.writer.ExecContext(ctx,
		`DELETE FROM processed_signals WHERE day < ?`, beforeDay)
	if err != nil {
		return 0, mapBusy(fmt.Errorf("failed to prune processed signals: %w", err))
	}
	return res.RowsAffected()
}

// SetCooldown stamps a cooldown of the given kind on a token.
func (s *Store) SetCooldown(ctx context.Context, token, kind string, until time.Time) error {
	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO token_cooldowns (token, kind, until, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(token, kind) DO UPDATE SET
			until = excluded.until,
			updated_at = excluded.updated_at`,
		token, kind, until.Unix(), s.now().Unix())
	if err != nil {
		return mapBusy(fmt.Errorf("failed to set cooldown: %w", err))
	}
	return nil
}

// CooldownUntil returns when the token's cooldown of the given kind expires.
// ok is false when no cooldown was ever set.
func (s *Store) CooldownUntil(ctx context.Context, token, kind string) (time.Time, bool, error) {
	var until int64
	err := s.reader.QueryRowContext(ctx,
		`SELECT until FROM token_cooldowns WHERE token = ? AND kind = ?`,
		token, kind).Scan(&until)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get cooldown: %w", err)
	}
	return timeOrZero(until), true, nil
}

// InCooldown reports whether the token is inside an active cooldown window.
func (s *Store) InCooldown(ctx context.Context, token, kind string) (bool, error) {
	until, ok, err := s.CooldownUntil(ctx, token, kind)
	if err != nil || !ok {
		return false, err
	}
	return s.now().Before(until), nil
}

// InitPortfolio seeds the singleton portfolio row if absent.
func (s *Store) InitPortfolio(ctx context.Context, startingBalance decimal.Decimal) error {
	now := s.now()
	_, err := s.writer.ExecContext(ctx, `
		INSERT OR IGNORE INTO portfolio (
			id, balance_usd, equity_usd, peak_equity_usd,
			daily_pnl_usd, daily_pnl_day, total_pnl_usd, updated_at
		) VALUES (1, ?, ?, ?, '0', ?, '0', ?)`,
		decString(startingBalance), decString(startingBalance), decString(startingBalance),
		DayKey(now), now.Unix())
	if err != nil {
		return mapBusy(fmt.Errorf("failed to init portfolio: %w", err))
	}
	return nil
}

// GetPortfolio returns the account snapshot. The daily PnL reads as zero when
// the stored day has rolled over; drawdown is derived from peak vs equity.
// Returns nil when InitPortfolio has never run.
func (s *Store) GetPortfolio(ctx context.Context) (*core.PortfolioSnapshot, error) {
	var (
		balance, equity, peak     sql.NullString
		dailyPnL, totalPnL        sql.NullString
		dailyDay                  string
		updatedAt                 int64
	)
	err := s.reader.QueryRowContext(ctx, `
		SELECT balance_usd, equity_usd, peak_equity_usd,
		       daily_pnl_usd, daily_pnl_day, total_pnl_usd, updated_at
		FROM portfolio WHERE id = 1`).
		Scan(&balance, &equity, &peak, &dailyPnL, &dailyDay, &totalPnL, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}

	snap := &core.PortfolioSnapshot{
		BalanceUSD:    scanDecimal(balance),
		EquityUSD:     scanDecimal(equity),
		PeakEquityUSD: scanDecimal(peak),
		DailyPnLUSD:   scanDecimal(dailyPnL),
		TotalPnLUSD:   scanDecimal(totalPnL),
		UpdatedAt:     timeOrZero(updatedAt),
	}
	if dailyDay != DayKey(s.now()) {
		snap.DailyPnLUSD = decimal.Zero
	}
	if snap.PeakEquityUSD.IsPositive() {
		dd, _ := snap.PeakEquityUSD.Sub(snap.EquityUSD).
			Div(snap.PeakEquityUSD).Float64()
		if dd > 0 {
			snap.DrawdownPct = dd * 100
		}
	}
	return snap, nil
}

// ApplyRealizedPnL folds one closed trade's net PnL into the portfolio:
// balance, equity, peak, the daily bucket (rolled on UTC day change), and
// the lifetime total.
func (s *Store) ApplyRealizedPnL(ctx context.Context, netPnL decimal.Decimal) error {
	now := s.now()
	today := DayKey(now)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			balance, equity, peak sql.NullString
			daily, total          sql.NullString
			dailyDay              string
		)
		err := tx.QueryRowContext(ctx, `
			SELECT balance_usd, equity_usd, peak_equity_usd,
			       daily_pnl_usd, daily_pnl_day, total_pnl_usd
			FROM portfolio WHERE id = 1`).
			Scan(&balance, &equity, &peak, &daily, &dailyDay, &total)
		if err == sql.ErrNoRows {
			return fmt.Errorf("portfolio row missing; InitPortfolio must run first")
		}
		if err != nil {
			return fmt.Errorf("failed to read portfolio: %w", err)
		}

		newBalance := scanDecimal(balance).Add(netPnL)
		newEquity := scanDecimal(equity).Add(netPnL)
		newPeak := scanDecimal(peak)
		if newEquity.GreaterThan(newPeak) {
			newPeak = newEquity
		}
		dailySum := scanDecimal(daily)
		if dailyDay != today {
			dailySum = decimal.Zero
		}
		dailySum = dailySum.Add(netPnL)
		newTotal := scanDecimal(total).Add(netPnL)

		_, err = tx.ExecContext(ctx, `
			UPDATE portfolio SET
				balance_usd = ?, equity_usd = ?, peak_equity_usd = ?,
				daily_pnl_usd = ?, daily_pnl_day = ?, total_pnl_usd = ?, updated_at = ?
			WHERE id = 1`,
			decString(newBalance), decString(newEquity), decString(newPeak),
			decString(dailySum), today, decString(newTotal), now.Unix())
		if err != nil {
			return fmt.Errorf("failed to update portfolio: %w", err)
		}
		return nil
	})
}

// TouchReconciliation records a reconciliation sweep's outcome.
func (s *Store) TouchReconciliation(ctx context.Context, mismatch bool, detail string) error {
	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO reconciliation (id, last_run_at, mismatch, detail)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_run_at = excluded.last_run_at,
			mismatch = excluded.mismatch,
			detail = excluded.detail`,
		s.now().Unix(), boolInt(mismatch), nullStr(detail))
	if err != nil {
		return mapBusy(fmt.Errorf("failed to touch reconciliation: %w", err))
	}
	return nil
}

// GetReconciliation returns the last sweep time and whether it found an
// unresolved mismatch. Zero time means no sweep has ever run.
func (s *Store) GetReconciliation(ctx context.Context) (time.Time, bool, string, error) {
	var (
		lastRun  int64
		mismatch int
		detail   sql.NullString
	)
	err := s.reader.QueryRowContext(ctx,
		`SELECT last_run_at, mismatch, detail FROM reconciliation WHERE id = 1`).
		Scan(&lastRun, &mismatch, &detail)
	if err == sql.ErrNoRows {
		return time.Time{}, false, "", nil
	}
	if err != nil {
		return time.Time{}, false, "", fmt.Errorf("failed to get reconciliation: %w", err)
	}
	return timeOrZero(lastRun), mismatch != 0, detail.String, nil
}

// ExitSignal is an externally sourced urgent exit hint (whale movement,
// sentiment collapse) consumed by the monitor's last exit rule.
type ExitSignal struct {
	Token     string
	Source    string
	Urgency   string
	Reason    string
	CreatedAt time.Time
}

// AppendExitSignal records an urgent exit hint for a token.
func (s *Store) AppendExitSignal(ctx context.Context, e ExitSignal) error {
	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO exit_signals (token, source, urgency, reason, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.Token, e.Source, e.Urgency, nullStr(e.Reason), unixOrZero(e.CreatedAt))
	if err != nil {
		return mapBusy(fmt.Errorf("failed to append exit signal: %w", err))
	}
	return nil
}

// LatestExitSignal returns the most recent exit hint for a token at or after
// the cutoff, or nil when none arrived inside the window.
func (s *Store) LatestExitSignal(ctx context.Context, token string, since time.Time) (*ExitSignal, error) {
	var (
		e         ExitSignal
		reason    sql.NullString
		createdAt int64
	)
	err := s.reader.QueryRowContext(ctx, `
		SELECT token, source, urgency, reason, created_at
		FROM exit_signals WHERE token = ? AND created_at >= ?
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		token, since.Unix()).Scan(&e.Token, &e.Source, &e.Urgency, &reason, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get exit signal: %w", err)
	}
	e.Reason = reason.String
	e.CreatedAt = timeOrZero(createdAt)
	return &e, nil
}

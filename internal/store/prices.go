package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sanadbot/internal/core"

	"github.com/shopspring/decimal"
)

// UpsertPrice writes the latest price for a symbol and appends the same
// observation to the history the flash-crash and momentum scans read.
func (s *Store) UpsertPrice(ctx context.Context, p core.PricePoint) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO price_cache (symbol, price, volume_24h, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(symbol) DO UPDATE SET
				price = excluded.price,
				volume_24h = excluded.volume_24h,
				updated_at = excluded.updated_at`,
			p.Symbol, decString(p.Price), decString(p.Volume24h), unixOrZero(p.UpdatedAt))
		if err != nil {
			return fmt.Errorf("failed to upsert price: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO price_history (symbol, price, ts) VALUES (?, ?, ?)`,
			p.Symbol, decString(p.Price), unixOrZero(p.UpdatedAt))
		if err != nil {
			return fmt.Errorf("failed to append price history: %w", err)
		}
		return nil
	})
}

// GetPrice returns the cached price point, or nil when the symbol has never
// been quoted. Staleness is the caller's judgment; the point carries its age.
func (s *Store) GetPrice(ctx context.Context, symbol string) (*core.PricePoint, error) {
	var (
		p         core.PricePoint
		price     sql.NullString
		volume    sql.NullString
		updatedAt int64
	)
	err := s.reader.QueryRowContext(ctx,
		`SELECT symbol, price, volume_24h, updated_at FROM price_cache WHERE symbol = ?`,
		symbol).Scan(&p.Symbol, &price, &volume, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get price: %w", err)
	}
	p.Price = scanDecimal(price)
	p.Volume24h = scanDecimal(volume)
	p.UpdatedAt = timeOrZero(updatedAt)
	return &p, nil
}

// MaxPriceSince returns the highest observed price for symbol at or after
// the cutoff. ok is false when no observation falls inside the window.
func (s *Store) MaxPriceSince(ctx context.Context, symbol string, since time.Time) (decimal.Decimal, bool, error) {
	rows, err := s.reader.QueryContext(ctx,
		`SELECT price FROM price_history WHERE symbol = ? AND ts >= ?`,
		symbol, since.Unix())
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to query price window: %w", err)
	}
	defer rows.Close()

	max := decimal.Zero
	found := false
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return decimal.Zero, false, fmt.Errorf("failed to scan price: %w", err)
		}
		p := scanDecimal(sql.NullString{String: raw, Valid: true})
		if !found || p.GreaterThan(max) {
			max = p
			found = true
		}
	}
	return max, found, rows.Err()
}

// PriceAt returns the last observation at or before the given instant. ok is
// false when the history does not reach back that far.
func (s *Store) PriceAt(ctx context.Context, symbol string, asOf time.Time) (decimal.Decimal, bool, error) {
	var raw string
	err := s.reader.QueryRowContext(ctx, `
		SELECT price FROM price_history
		WHERE symbol = ? AND ts <= ?
		ORDER BY ts DESC LIMIT 1`,
		symbol, asOf.Unix()).Scan(&raw)
	if err == sql.ErrNoRows {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to query price at: %w", err)
	}
	return scanDecimal(sql.NullString{String: raw, Valid: true}), true, nil
}

// PrunePriceHistory deletes observations older than the cutoff.
func (s *Store) PrunePriceHistory(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.writer.ExecContext(ctx,
		`DELETE FROM price_history WHERE ts < ?`, before.Unix())
	if err != nil {
		return 0, mapBusy(fmt.Errorf("failed to prune price history: %w", err))
	}
	return res.RowsAffected()
}

// GetHighWaterMark returns the persisted trailing-stop high for a position.
func (s *Store) GetHighWaterMark(ctx context.Context, positionID string) (decimal.Decimal, bool, error) {
	var raw string
	err := s.reader.QueryRowContext(ctx,
		`SELECT high_price FROM high_water_marks WHERE position_id = ?`,
		positionID).Scan(&raw)
	if err == sql.ErrNoRows {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to get high water mark: %w", err)
	}
	return scanDecimal(sql.NullString{String: raw, Valid: true}), true, nil
}

// RaiseHighWaterMark lifts the persisted high to price if higher, creating
// the row on first sight. The mark never moves down, so a monitor restart
// resumes trailing from where the last cycle left off.
func (s *Store) RaiseHighWaterMark(ctx context.Context, positionID string, price decimal.Decimal) (decimal.Decimal, error) {
	var out decimal.Decimal
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(ctx,
			`SELECT high_price FROM high_water_marks WHERE position_id = ?`,
			positionID).Scan(&raw)
		switch {
		case err == sql.ErrNoRows:
			_, err = tx.ExecContext(ctx,
				`INSERT INTO high_water_marks (position_id, high_price, updated_at) VALUES (?, ?, ?)`,
				positionID, decString(price), s.now().Unix())
			if err != nil {
				return fmt.Errorf("failed to insert high water mark: %w", err)
			}
			out = price
			return nil
		case err != nil:
			return fmt.Errorf("failed to read high water mark: %w", err)
		}

		current := scanDecimal(sql.NullString{String: raw, Valid: true})
		if price.LessThanOrEqual(current) {
			out = current
			return nil
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE high_water_marks SET high_price = ?, updated_at = ? WHERE position_id = ?`,
			decString(price), s.now().Unix(), positionID)
		if err != nil {
			return fmt.Errorf("failed to raise high water mark: %w", err)
		}
		out = price
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return out, nil
}

// ClearHighWaterMark removes the mark after a position closes.
func (s *Store) ClearHighWaterMark(ctx context.Context, positionID string) error {
	_, err := s.writer.ExecContext(ctx,
		`DELETE FROM high_water_marks WHERE position_id = ?`, positionID)
	if err != nil {
		return mapBusy(fmt.Errorf("failed to clear high water mark: %w", err))
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"sanadbot/internal/core"
	apperrors "sanadbot/pkg/errors"
)

const orderColumns = `
	client_order_id, exchange_order_id, position_id, correlation_id, strategy_id,
	symbol, side, order_type, time_in_force, price, quantity,
	filled_quantity, avg_fill_price, fee_usd, state, retries, paper, venue,
	last_error, created_at, updated_at`

// CreateOrderIntent writes the NEW order row before any venue call, keyed on
// client_order_id. When the row already exists the stored order is returned
// with created=false, which is how a replayed submit discovers the earlier
// attempt instead of double-sending.
func (s *Store) CreateOrderIntent(ctx context.Context, o *core.Order) (*core.Order, bool, error) {
	var (
		created bool
		out     *core.Order
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO orders (`+orderColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			o.ClientOrderID, nullStr(o.ExchangeOrderID), nullStr(o.PositionID),
			nullStr(o.CorrelationID), nullStr(o.StrategyID),
			o.Symbol, string(o.Side), o.Type, nullStr(o.TimeInForce),
			decString(o.Price), decString(o.Quantity),
			decString(o.FilledQuantity), decString(o.AvgFillPrice), decString(o.FeeUSD),
			string(o.State), o.Retries, boolInt(o.Paper), nullStr(o.Venue),
			nullStr(o.LastError), unixOrZero(o.CreatedAt), unixOrZero(o.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert order intent: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read intent result: %w", err)
		}
		created = n == 1

		row := tx.QueryRowContext(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE client_order_id = ?`, o.ClientOrderID)
		got, err := scanOrder(row)
		if err != nil {
			return err
		}
		if got == nil {
			return fmt.Errorf("order %s vanished inside transaction", o.ClientOrderID)
		}
		out = got
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

// UpdateOrder persists the mutable order fields, guarded by the current
// state being one of allowedFrom. Zero rows affected means another worker
// transitioned the order first, reported as ErrInvalidTransition.
func (s *Store) UpdateOrder(ctx context.Context, o *core.Order, allowedFrom ...core.OrderState) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return updateOrderTx(ctx, tx, s.now().Unix(), o, allowedFrom)
	})
}

// RecordFill persists a fill row and the order's post-fill aggregates in one
// transaction. The caller computes the new filled quantity, average price,
// and state before invoking.
func (s *Store) RecordFill(ctx context.Context, o *core.Order, f core.Fill, allowedFrom ...core.OrderState) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := updateOrderTx(ctx, tx, s.now().Unix(), o, allowedFrom); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_fills (client_order_id, price, quantity, fee_usd, filled_at)
			VALUES (?, ?, ?, ?, ?)`,
			f.ClientOrderID, decString(f.Price), decString(f.Quantity),
			decString(f.FeeUSD), f.Timestamp.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to record fill: %w", err)
		}
		return nil
	})
}

func updateOrderTx(ctx context.Context, tx *sql.Tx, nowUnix int64, o *core.Order, allowedFrom []core.OrderState) error {
	if len(allowedFrom) == 0 {
		return fmt.Errorf("order update requires at least one allowed source state")
	}
	placeholders := make([]string, len(allowedFrom))
	args := []any{
		nullStr(o.ExchangeOrderID), string(o.State),
		decString(o.FilledQuantity), decString(o.AvgFillPrice), decString(o.FeeUSD),
		o.Retries, nullStr(o.LastError), nowUnix,
		o.ClientOrderID,
	}
	for i, st := range allowedFrom {
		placeholders[i] = "?"
		args = append(args, string(st))
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE orders SET
			exchange_order_id = ?, state = ?,
			filled_quantity = ?, avg_fill_price = ?, fee_usd = ?,
			retries = ?, last_error = ?, updated_at = ?
		WHERE client_order_id = ? AND state IN (`+strings.Join(placeholders, ",")+`)`,
		args...)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read order update result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("order %s not in expected state: %w", o.ClientOrderID, apperrors.ErrInvalidTransition)
	}
	return nil
}

// GetOrder returns the order row, or nil when none exists.
func (s *Store) GetOrder(ctx context.Context, clientOrderID string) (*core.Order, error) {
	row := s.reader.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE client_order_id = ?`, clientOrderID)
	return scanOrder(row)
}

// GetOrdersForPosition returns all orders attached to a position.
func (s *Store) GetOrdersForPosition(ctx context.Context, positionID string) ([]*core.Order, error) {
	return s.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE position_id = ? ORDER BY created_at ASC`, positionID)
}

// ActiveOrders returns every order in a non-terminal state, the set the
// reconciliation sweep compares against the venue.
func (s *Store) ActiveOrders(ctx context.Context) ([]*core.Order, error) {
	return s.queryOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE state NOT IN (?, ?, ?, ?, ?) ORDER BY created_at ASC`,
		string(core.OrderFilled), string(core.OrderCanceled), string(core.OrderRejected),
		string(core.OrderExpired), string(core.OrderFailed))
}

func (s *Store) queryOrders(ctx context.Context, query string, args ...any) ([]*core.Order, error) {
	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var out []*core.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetFills returns the fills recorded against an order, oldest first.
func (s *Store) GetFills(ctx context.Context, clientOrderID string) ([]core.Fill, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT client_order_id, price, quantity, fee_usd, filled_at
		FROM order_fills WHERE client_order_id = ? ORDER BY filled_at ASC, id ASC`,
		clientOrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query fills: %w", err)
	}
	defer rows.Close()

	var out []core.Fill
	for rows.Next() {
		var (
			f                   core.Fill
			price, qty, fee     string
			filledAt            int64
		)
		if err := rows.Scan(&f.ClientOrderID, &price, &qty, &fee, &filledAt); err != nil {
			return nil, fmt.Errorf("failed to scan fill: %w", err)
		}
		f.Price = scanDecimal(sql.NullString{String: price, Valid: true})
		f.Quantity = scanDecimal(sql.NullString{String: qty, Valid: true})
		f.FeeUSD = scanDecimal(sql.NullString{String: fee, Valid: true})
		f.Timestamp = timeOrZero(filledAt)
		out = append(out, f)
	}
	return out, rows.Err()
}

// AppendExecutionQuality stores one realized-vs-estimated execution record.
func (s *Store) AppendExecutionQuality(ctx context.Context, q core.ExecutionQuality) error {
	_, err := s.writer.ExecContext(ctx, `
		INSERT INTO execution_quality (
			position_id, estimated_slip_bps, realized_slip_bps,
			submit_to_fill_ms, partial_fills, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		q.PositionID, q.EstimatedSlipBps, q.RealizedSlipBps,
		q.SubmitToFillMillis, q.PartialFills, unixOrZero(q.RecordedAt))
	if err != nil {
		return mapBusy(fmt.Errorf("failed to append execution quality: %w", err))
	}
	return nil
}

func scanOrder(row rowScanner) (*core.Order, error) {
	var (
		o                                  core.Order
		exchangeID, positionID, corrID     sql.NullString
		strategyID, tif, venue, lastErr    sql.NullString
		side, state                        string
		price, qty, filled, avg, fee       sql.NullString
		paper                              int
		createdAt, updatedAt               int64
	)
	err := row.Scan(
		&o.ClientOrderID, &exchangeID, &positionID, &corrID, &strategyID,
		&o.Symbol, &side, &o.Type, &tif, &price, &qty,
		&filled, &avg, &fee, &state, &o.Retries, &paper, &venue,
		&lastErr, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}
	o.ExchangeOrderID = exchangeID.String
	o.PositionID = positionID.String
	o.CorrelationID = corrID.String
	o.StrategyID = strategyID.String
	o.Side = core.OrderSide(side)
	o.TimeInForce = tif.String
	o.Price = scanDecimal(price)
	o.Quantity = scanDecimal(qty)
	o.FilledQuantity = scanDecimal(filled)
	o.AvgFillPrice = scanDecimal(avg)
	o.FeeUSD = scanDecimal(fee)
	o.State = core.OrderState(state)
	o.Paper = paper != 0
	o.Venue = venue.String
	o.LastError = lastErr.String
	o.CreatedAt = timeOrZero(createdAt)
	o.UpdatedAt = timeOrZero(updatedAt)
	return &o, nil
}

// Package store is the durable state store shared by every worker. SQLite in
// WAL mode, one writer pool with a short busy timeout that fails fast, and a
// reader pool that may wait longer. All guarded transitions are conditional
// updates; zero rows affected means another worker raced.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sanadbot/internal/core"
	apperrors "sanadbot/pkg/errors"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

const (
	writerBusyTimeoutMS = 250
	readerBusyTimeoutMS = 2000
)

// Store owns the SQLite database used by all workers on the host.
type Store struct {
	writer *sql.DB
	reader *sql.DB
	clock  core.Clock
	logger core.ILogger
}

// Open opens (and if needed provisions) the database at path.
func Open(path string, clock core.Clock, logger core.ILogger) (*Store, error) {
	writer, err := open(path, writerBusyTimeoutMS)
	if err != nil {
		return nil, fmt.Errorf("failed to open writer: %w", err)
	}
	// SQLite allows one writer at a time; a single connection keeps the
	// busy handling in the database instead of in the Go pool.
	writer.SetMaxOpenConns(1)

	reader, err := open(path, readerBusyTimeoutMS)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)

	s := &Store{
		writer: writer,
		reader: reader,
		clock:  clock,
		logger: logger.WithField("component", "store"),
	}
	if err := s.migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return s, nil
}

func open(path string, busyTimeoutMS int) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on", path, busyTimeoutMS)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Close closes both pools.
func (s *Store) Close() error {
	rerr := s.reader.Close()
	werr := s.writer.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

func (s *Store) now() time.Time {
	return s.clock.Now()
}

// mapBusy converts the driver's busy/locked errors into the distinct store
// sentinel so callers abandon the cycle instead of treating it as fatal.
func mapBusy(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return fmt.Errorf("%w: %v", apperrors.ErrStoreBusy, err)
	}
	return err
}

// withTx runs fn in a write transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return mapBusy(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return mapBusy(err)
	}
	return mapBusy(tx.Commit())
}

// Decimal columns are stored as canonical strings.

func decString(d decimal.Decimal) string {
	return d.String()
}

func scanDecimal(s sql.NullString) decimal.Decimal {
	if !s.Valid || s.String == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0).UTC()
}

// DayKey formats t as the YYYY-MM-DD bucket used for daily counters.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// MonthKey formats t as the YYYY-MM bucket used for monthly budgets.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

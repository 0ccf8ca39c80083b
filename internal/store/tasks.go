package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sanadbot/internal/core"
	apperrors "sanadbot/pkg/errors"
)

const taskColumns = `task_id, task_type, entity_id, status, attempts, next_run_at, last_error, payload, created_at, updated_at`

// EnqueueTask inserts a PENDING task. Re-enqueues of an existing task_id are
// ignored so enqueue is safe to replay.
func (s *Store) EnqueueTask(ctx context.Context, t *core.AsyncTask) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertTaskTx(ctx, tx, t)
	})
}

func insertTaskTx(ctx context.Context, tx *sql.Tx, t *core.AsyncTask) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO async_tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TaskID, t.TaskType, t.EntityID, string(t.Status), t.Attempts,
		unixOrZero(t.NextRunAt), nullStr(t.LastError), nullStr(t.Payload),
		unixOrZero(t.CreatedAt), unixOrZero(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// ClaimAsyncTask attempts the PENDING→RUNNING transition, incrementing
// attempts in the same statement. It returns the authoritative post-claim row,
// or nil when another worker already owns the task (or it is not yet due).
// Attempts counts successful claims only; losing the race costs nothing.
func (s *Store) ClaimAsyncTask(ctx context.Context, taskID string) (*core.AsyncTask, error) {
	now := s.now()
	var claimed *core.AsyncTask
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE async_tasks
			SET status = ?, attempts = attempts + 1, updated_at = ?
			WHERE task_id = ? AND status = ? AND next_run_at <= ?`,
			string(core.TaskRunning), now.Unix(),
			taskID, string(core.TaskPending), now.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to claim task: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read claim result: %w", err)
		}
		if n == 0 {
			return nil
		}
		row := tx.QueryRowContext(ctx,
			`SELECT `+taskColumns+` FROM async_tasks WHERE task_id = ?`, taskID)
		t, err := scanTask(row)
		if err != nil {
			return err
		}
		claimed = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkTaskDone transitions RUNNING→DONE. Returns ErrInvalidTransition when
// the task is not RUNNING, which callers log as a warning and drop.
func (s *Store) MarkTaskDone(ctx context.Context, taskID string) error {
	return s.guardedTaskUpdate(ctx, `
		UPDATE async_tasks SET status = ?, last_error = NULL, updated_at = ?
		WHERE task_id = ? AND status = ?`,
		string(core.TaskDone), s.now().Unix(), taskID, string(core.TaskRunning))
}

// MarkTaskFailed transitions RUNNING→FAILED, recording the terminal error.
func (s *Store) MarkTaskFailed(ctx context.Context, taskID, errCode, errMsg string) error {
	return s.guardedTaskUpdate(ctx, `
		UPDATE async_tasks SET status = ?, last_error = ?, updated_at = ?
		WHERE task_id = ? AND status = ?`,
		string(core.TaskFailed), errCode+": "+errMsg, s.now().Unix(),
		taskID, string(core.TaskRunning))
}

// RescheduleTask transitions RUNNING→PENDING with a future next_run_at.
// Attempts is untouched; it only moves on claim.
func (s *Store) RescheduleTask(ctx context.Context, taskID string, nextRunAt time.Time, errCode, errMsg string) error {
	return s.guardedTaskUpdate(ctx, `
		UPDATE async_tasks SET status = ?, next_run_at = ?, last_error = ?, updated_at = ?
		WHERE task_id = ? AND status = ?`,
		string(core.TaskPending), nextRunAt.Unix(), errCode+": "+errMsg, s.now().Unix(),
		taskID, string(core.TaskRunning))
}

// RequeueStuckTask forces RUNNING→PENDING for a task whose worker died
// mid-flight. Used by the heartbeat after the stuck grace period.
func (s *Store) RequeueStuckTask(ctx context.Context, taskID string) error {
	return s.guardedTaskUpdate(ctx, `
		UPDATE async_tasks SET status = ?, next_run_at = ?, updated_at = ?
		WHERE task_id = ? AND status = ?`,
		string(core.TaskPending), s.now().Unix(), s.now().Unix(),
		taskID, string(core.TaskRunning))
}

func (s *Store) guardedTaskUpdate(ctx context.Context, query string, args ...any) error {
	res, err := s.writer.ExecContext(ctx, query, args...)
	if err != nil {
		return mapBusy(fmt.Errorf("failed to update task: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read task update result: %w", err)
	}
	if n == 0 {
		return apperrors.ErrInvalidTransition
	}
	return nil
}

// GetTask returns the task row, or nil when none exists.
func (s *Store) GetTask(ctx context.Context, taskID string) (*core.AsyncTask, error) {
	row := s.reader.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM async_tasks WHERE task_id = ?`, taskID)
	return scanTask(row)
}

// PollPendingTasks returns due PENDING tasks, oldest next_run_at first.
func (s *Store) PollPendingTasks(ctx context.Context, limit int) ([]*core.AsyncTask, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM async_tasks
		WHERE status = ? AND next_run_at <= ?
		ORDER BY next_run_at ASC LIMIT ?`,
		string(core.TaskPending), s.now().Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to poll tasks: %w", err)
	}
	defer rows.Close()

	var out []*core.AsyncTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountTasksByStatus returns the queue depth per status, for the backlog
// gauge and the heartbeat's stale-pending check.
func (s *Store) CountTasksByStatus(ctx context.Context) (map[core.TaskStatus]int, error) {
	rows, err := s.reader.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM async_tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	out := make(map[core.TaskStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan task count: %w", err)
		}
		out[core.TaskStatus(status)] = n
	}
	return out, rows.Err()
}

// StuckRunningTasks returns RUNNING tasks not updated since the cutoff,
// candidates for the heartbeat's requeue.
func (s *Store) StuckRunningTasks(ctx context.Context, updatedBefore time.Time) ([]*core.AsyncTask, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM async_tasks
		WHERE status = ? AND updated_at < ?`,
		string(core.TaskRunning), updatedBefore.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query stuck tasks: %w", err)
	}
	defer rows.Close()

	var out []*core.AsyncTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// OldestDuePending reports the next_run_at of the most overdue PENDING task,
// or zero time when nothing is due. Tasks waiting out a retry backoff are not
// due and do not count as backlog.
func (s *Store) OldestDuePending(ctx context.Context) (time.Time, error) {
	var nextRunAt sql.NullInt64
	err := s.reader.QueryRowContext(ctx,
		`SELECT MIN(next_run_at) FROM async_tasks WHERE status = ? AND next_run_at <= ?`,
		string(core.TaskPending), s.now().Unix()).Scan(&nextRunAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query oldest pending: %w", err)
	}
	if !nextRunAt.Valid {
		return time.Time{}, nil
	}
	return timeOrZero(nextRunAt.Int64), nil
}

func scanTask(row rowScanner) (*core.AsyncTask, error) {
	var (
		t                  core.AsyncTask
		status             string
		lastError, payload sql.NullString
		nextRunAt          int64
		createdAt          int64
		updatedAt          int64
	)
	err := row.Scan(&t.TaskID, &t.TaskType, &t.EntityID, &status, &t.Attempts,
		&nextRunAt, &lastError, &payload, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	t.Status = core.TaskStatus(status)
	t.LastError = lastError.String
	t.Payload = payload.String
	t.NextRunAt = timeOrZero(nextRunAt)
	t.CreatedAt = timeOrZero(createdAt)
	t.UpdatedAt = timeOrZero(updatedAt)
	return &t, nil
}

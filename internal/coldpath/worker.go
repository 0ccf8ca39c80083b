// Package coldpath drains the async deep-analysis queue: for every executed
// position it re-runs verification and the adversarial debate with the
// stronger cold-path models and attaches the verdict to the position row.
// The atomic claim is the only place attempts moves; the post-claim row is
// the sole authority for every retry decision downstream.
package coldpath

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sanadbot/internal/core"
	"sanadbot/internal/runtime"
	"sanadbot/pkg/concurrency"
	apperrors "sanadbot/pkg/errors"
	"sanadbot/pkg/telemetry"
)

const pauseComponent = "coldpath"

// retryLadder is indexed by the authoritative post-claim attempts value.
var retryLadder = []time.Duration{
	300 * time.Second,
	900 * time.Second,
	3600 * time.Second,
}

const defaultPollLimit = 5

// Worker processes claimed analysis tasks. One RunOnce is one poll batch;
// the scheduler owns the cadence.
type Worker struct {
	rt     *runtime.Context
	pool   *concurrency.WorkerPool
	logger core.ILogger
}

func New(rt *runtime.Context) *Worker {
	return &Worker{
		rt: rt,
		pool: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:       "deep-analysis",
			MaxWorkers: 2,
		}, rt.Log),
		logger: rt.Log.WithField("component", "coldpath"),
	}
}

// Close releases the debate worker pool.
func (w *Worker) Close() {
	w.pool.Stop()
}

// RunOnce polls due PENDING tasks and walks each through claim, analysis
// and retirement. It returns how many tasks reached DONE. A failed task
// never aborts the batch; its retry state is its own.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	if w.rt.ComponentPaused(pauseComponent) {
		w.logger.Info("cold path paused, skipping cycle")
		return 0, nil
	}

	limit := w.rt.Cfg.ColdPath.PollLimit
	if limit <= 0 {
		limit = defaultPollLimit
	}
	tasks, err := w.rt.Store.PollPendingTasks(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to poll tasks: %w", err)
	}

	done := 0
	for _, t := range tasks {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		claimed, err := w.rt.Store.ClaimAsyncTask(ctx, t.TaskID)
		if err != nil {
			w.logger.Error("task claim failed", "task_id", t.TaskID, "error", err)
			continue
		}
		if claimed == nil {
			// Another worker won, or the task moved since the poll.
			continue
		}
		telemetry.GetGlobalMetrics().IncTaskClaim(ctx)
		w.logger.Info("task claimed",
			"task_id", claimed.TaskID,
			"position_id", claimed.EntityID,
			"attempt", claimed.Attempts)

		analysis, aerr := w.analyze(ctx, claimed)
		if aerr != nil {
			w.retire(ctx, claimed, aerr)
			continue
		}
		if err := w.finish(ctx, claimed, analysis); err != nil {
			w.retire(ctx, claimed, err)
			continue
		}
		done++
	}
	return done, nil
}

// finish attaches the verdict document, raises the catastrophic flag when
// the Judge rejects with high confidence, and settles the task DONE. The
// analysis itself succeeded, so a catastrophic verdict is still DONE.
func (w *Worker) finish(ctx context.Context, task *core.AsyncTask, a *Analysis) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return coded(core.ErrCodeWorker, fmt.Errorf("analysis marshal failed: %w", err))
	}
	if err := w.rt.Store.AttachAsyncAnalysis(ctx, task.EntityID, string(raw)); err != nil {
		return coded(core.ErrCodeWorker, fmt.Errorf("analysis attach failed: %w", err))
	}

	if a.Judge.Verdict == core.VerdictReject &&
		a.Judge.Confidence >= w.rt.Cfg.ColdPath.CatastrophicConfidenceThreshold {
		if err := w.rt.Store.SetRiskFlag(ctx, task.EntityID, core.FlagJudgeHighConfReject); err != nil {
			w.logger.Error("risk flag write failed",
				"position_id", task.EntityID, "error", err)
		}
		w.rt.Notify(ctx, core.NotifyL2, "Deep analysis rejected position",
			fmt.Sprintf("judge rejected %s at confidence %d: %s",
				task.EntityID, a.Judge.Confidence, a.Judge.Reasoning))
	}

	if err := w.rt.Store.MarkTaskDone(ctx, task.TaskID); err != nil {
		if errors.Is(err, apperrors.ErrInvalidTransition) {
			w.logger.Warn("task no longer running, verdict kept",
				"task_id", task.TaskID)
			return nil
		}
		return coded(core.ErrCodeWorker, fmt.Errorf("task done transition failed: %w", err))
	}

	w.logger.Info("deep analysis complete",
		"task_id", task.TaskID,
		"position_id", task.EntityID,
		"verdict", string(a.Judge.Verdict),
		"confidence", a.Judge.Confidence)
	return nil
}

// retire routes a failed run onto the ladder: reschedule with backoff while
// attempts remain, otherwise FAILED plus the permanent risk flag. The flag
// is raised only when this worker won the RUNNING→FAILED transition.
func (w *Worker) retire(ctx context.Context, task *core.AsyncTask, cause error) {
	code := codeOf(cause)

	if task.Attempts >= w.rt.Cfg.ColdPath.MaxAttempts {
		if err := w.rt.Store.MarkTaskFailed(ctx, task.TaskID, code, cause.Error()); err != nil {
			if errors.Is(err, apperrors.ErrInvalidTransition) {
				w.logger.Warn("task no longer running, skipping giveup",
					"task_id", task.TaskID)
				return
			}
			w.logger.Error("task failure write failed",
				"task_id", task.TaskID, "error", err)
			return
		}
		if err := w.rt.Store.SetRiskFlag(ctx, task.EntityID, core.FlagAsyncFailedPermanent); err != nil {
			w.logger.Error("risk flag write failed",
				"position_id", task.EntityID, "error", err)
		}
		w.logger.Error("deep analysis abandoned",
			"task_id", task.TaskID,
			"position_id", task.EntityID,
			"attempts", task.Attempts,
			"code", code,
			"error", cause.Error())
		w.rt.Notify(ctx, core.NotifyL2, "Deep analysis abandoned",
			fmt.Sprintf("%s gave up after %d attempts (%s)", task.EntityID, task.Attempts, code))
		return
	}

	delay := retryDelay(task.Attempts)
	if err := w.rt.Store.RescheduleTask(ctx, task.TaskID, w.rt.Clock.Now().Add(delay), code, cause.Error()); err != nil {
		if errors.Is(err, apperrors.ErrInvalidTransition) {
			w.logger.Warn("task no longer running, skipping retry",
				"task_id", task.TaskID)
			return
		}
		w.logger.Error("task reschedule failed", "task_id", task.TaskID, "error", err)
		return
	}
	w.logger.Warn("deep analysis retry scheduled",
		"task_id", task.TaskID,
		"attempt", task.Attempts,
		"retry_in", delay.String(),
		"code", code,
		"error", cause.Error())
}

// retryDelay indexes the ladder by the post-claim attempts value; attempts
// beyond the ladder saturate at the longest delay.
func retryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > len(retryLadder) {
		attempts = len(retryLadder)
	}
	return retryLadder[attempts-1]
}

package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"sanadbot/internal/core"
	apperrors "sanadbot/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{})                {}
func (nopLogger) Info(string, ...interface{})                 {}
func (nopLogger) Warn(string, ...interface{})                 {}
func (nopLogger) Error(string, ...interface{})                {}
func (nopLogger) Fatal(string, ...interface{})                {}
func (l nopLogger) WithField(string, interface{}) core.ILogger { return l }
func (l nopLogger) WithFields(map[string]interface{}) core.ILogger {
	return l
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	s, err := Open(filepath.Join(t.TempDir(), "agent.db"), clock, nopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func makeDecision(id string, now time.Time) *core.Decision {
	return &core.Decision{
		DecisionID:    id,
		SignalID:      "sig-" + id,
		CorrelationID: "corr-" + id,
		PolicyVersion: "v1",
		Result:        core.ResultExecute,
		Stage:         core.StageExecute,
		Mode:          core.ModePaper,
		StageMillis:   map[string]int64{"POLICY_ENGINE": 12},
		CreatedAt:     now,
	}
}

func makePosition(id, decisionID string, now time.Time) *core.Position {
	return &core.Position{
		PositionID:     id,
		DecisionID:     decisionID,
		Symbol:         "PEPEUSDT",
		Token:          "PEPE",
		Chain:          "solana",
		Tier:           core.Tier3,
		StrategyID:     "meme_momentum",
		RegimeTag:      "risk_on",
		Status:         core.PositionOpen,
		Side:           core.SideBuy,
		EntryPrice:     decimal.RequireFromString("0.000012"),
		Size:           decimal.RequireFromString("1000000"),
		NotionalUSD:    decimal.RequireFromString("12"),
		StopLossPct:    15,
		TakeProfitPct:  40,
		EntryVolume24h: decimal.RequireFromString("500000"),
		Mode:           core.ModePaper,
		OpenedAt:       now,
	}
}

func makeTask(id, entityID string, now time.Time) *core.AsyncTask {
	return &core.AsyncTask{
		TaskID:    id,
		TaskType:  core.TaskTypeAnalyze,
		EntityID:  entityID,
		Status:    core.TaskPending,
		NextRunAt: now,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestInsertDecisionIdempotent(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	d := makeDecision("dec-1", clock.Now())
	require.NoError(t, s.InsertDecision(ctx, d))

	replay := makeDecision("dec-1", clock.Now())
	replay.Result = core.ResultBlock
	replay.Reason = "should not overwrite"
	require.NoError(t, s.InsertDecision(ctx, replay))

	got, err := s.GetDecision(ctx, "dec-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, core.ResultExecute, got.Result)
	assert.Empty(t, got.Reason)
	assert.Equal(t, int64(12), got.StageMillis["POLICY_ENGINE"])
}

func TestTryOpenPositionAtomicRace(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	now := clock.Now()

	const workers = 8
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		createdWins int
		positionIDs = make(map[string]struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pos, created, err := s.TryOpenPositionAtomic(ctx,
				makeDecision("dec-race", now),
				makePosition("pos-race", "dec-race", now),
				makeTask("task-race", "pos-race", now))
			mu.Lock()
			defer mu.Unlock()
			require.NoError(t, err)
			if created {
				createdWins++
			}
			positionIDs[pos.PositionID] = struct{}{}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, createdWins, "exactly one caller must win the insert")
	assert.Len(t, positionIDs, 1, "all callers must observe the same position")

	open, err := s.GetOpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)

	counts, err := s.CountTasksByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[core.TaskPending], "exactly one analysis task enqueued")
}

func TestTryOpenPositionAtomicExistingReturnsRowWithoutTask(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	now := clock.Now()

	_, created, err := s.TryOpenPositionAtomic(ctx,
		makeDecision("dec-2", now), makePosition("pos-2", "dec-2", now),
		makeTask("task-2", "pos-2", now))
	require.NoError(t, err)
	require.True(t, created)

	// Replay with a different task id: the loser must not enqueue anything.
	pos, created, err := s.TryOpenPositionAtomic(ctx,
		makeDecision("dec-2", now), makePosition("pos-2b", "dec-2", now),
		makeTask("task-2b", "pos-2b", now))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "pos-2", pos.PositionID)

	replayTask, err := s.GetTask(ctx, "task-2b")
	require.NoError(t, err)
	assert.Nil(t, replayTask)
}

func TestClaimAsyncTaskExactlyOnce(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	now := clock.Now()

	require.NoError(t, s.EnqueueTask(ctx, makeTask("task-claim", "pos-x", now)))

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := s.ClaimAsyncTask(ctx, "task-claim")
			mu.Lock()
			defer mu.Unlock()
			require.NoError(t, err)
			if claimed != nil {
				winners++
				assert.Equal(t, core.TaskRunning, claimed.Status)
				assert.Equal(t, 1, claimed.Attempts)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners, "exactly one worker must claim the task")

	got, err := s.GetTask(ctx, "task-claim")
	require.NoError(t, err)
	assert.Equal(t, core.TaskRunning, got.Status)
	assert.Equal(t, 1, got.Attempts, "attempts must count successful claims only")
}

func TestClaimSkipsTaskNotYetDue(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	task := makeTask("task-future", "pos-x", clock.Now().Add(5*time.Minute))
	task.CreatedAt = clock.Now()
	require.NoError(t, s.EnqueueTask(ctx, task))

	claimed, err := s.ClaimAsyncTask(ctx, "task-future")
	require.NoError(t, err)
	assert.Nil(t, claimed)

	pending, err := s.PollPendingTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	clock.Advance(6 * time.Minute)
	pending, err = s.PollPendingTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestTaskRetryLadderTransitions(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnqueueTask(ctx, makeTask("task-retry", "pos-x", clock.Now())))

	first, err := s.ClaimAsyncTask(ctx, "task-retry")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, 1, first.Attempts)

	// Transient failure: back to PENDING with a future due time.
	due := clock.Now().Add(300 * time.Second)
	require.NoError(t, s.RescheduleTask(ctx, "task-retry", due, core.ErrCodeJudgeParse, "malformed verdict"))

	got, err := s.GetTask(ctx, "task-retry")
	require.NoError(t, err)
	assert.Equal(t, core.TaskPending, got.Status)
	assert.Equal(t, 1, got.Attempts, "reschedule must not touch attempts")
	assert.Contains(t, got.LastError, core.ErrCodeJudgeParse)

	// Not due yet.
	claimed, err := s.ClaimAsyncTask(ctx, "task-retry")
	require.NoError(t, err)
	assert.Nil(t, claimed)

	clock.Advance(301 * time.Second)
	second, err := s.ClaimAsyncTask(ctx, "task-retry")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, 2, second.Attempts)

	require.NoError(t, s.MarkTaskFailed(ctx, "task-retry", core.ErrCodeWorker, "gave up"))
	got, err = s.GetTask(ctx, "task-retry")
	require.NoError(t, err)
	assert.Equal(t, core.TaskFailed, got.Status)

	// Terminal states reject further transitions.
	err = s.MarkTaskDone(ctx, "task-retry")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestMarkTaskDoneRequiresRunning(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnqueueTask(ctx, makeTask("task-done", "pos-x", clock.Now())))

	err := s.MarkTaskDone(ctx, "task-done")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	_, err = s.ClaimAsyncTask(ctx, "task-done")
	require.NoError(t, err)
	require.NoError(t, s.MarkTaskDone(ctx, "task-done"))

	got, err := s.GetTask(ctx, "task-done")
	require.NoError(t, err)
	assert.Equal(t, core.TaskDone, got.Status)
	assert.Empty(t, got.LastError)
}

func TestUpdatePositionCloseOnce(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	now := clock.Now()

	_, _, err := s.TryOpenPositionAtomic(ctx,
		makeDecision("dec-close", now), makePosition("pos-close", "dec-close", now),
		makeTask("task-close", "pos-close", now))
	require.NoError(t, err)

	clock.Advance(45 * time.Minute)
	res := CloseResult{
		ExitPrice:   decimal.RequireFromString("0.000015"),
		ExitReason:  core.ExitTakeProfit,
		GrossPnLUSD: decimal.RequireFromString("3"),
		FeeUSD:      decimal.RequireFromString("0.02"),
		NetPnLUSD:   decimal.RequireFromString("2.98"),
	}
	require.NoError(t, s.UpdatePositionClose(ctx, "pos-close", res))

	got, err := s.GetPosition(ctx, "pos-close")
	require.NoError(t, err)
	assert.Equal(t, core.PositionClosed, got.Status)
	assert.Equal(t, core.ExitTakeProfit, got.ExitReason)
	assert.True(t, got.NetPnLUSD.Equal(decimal.RequireFromString("2.98")))

	trades, err := s.RecentTrades(ctx, 5)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "pos-close", trades[0].PositionID)
	assert.Equal(t, int64(45), trades[0].HoldMinutes)

	// Racing monitor cycle: the second close must observe the transition.
	err = s.UpdatePositionClose(ctx, "pos-close", res)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	trades, err = s.RecentTrades(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, trades, 1, "losing close must not double-count the trade")
}

func TestOrderIntentIdempotent(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	now := clock.Now()

	o := &core.Order{
		ClientOrderID: "sb-abc123",
		PositionID:    "pos-1",
		Symbol:        "PEPEUSDT",
		Side:          core.SideBuy,
		Type:          core.OrderTypeMarket,
		Quantity:      decimal.RequireFromString("1000000"),
		State:         core.OrderNew,
		Paper:         true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	first, created, err := s.CreateOrderIntent(ctx, o)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, core.OrderNew, first.State)

	// Replayed submit finds the earlier attempt instead of double-sending.
	replay := *o
	replay.Quantity = decimal.RequireFromString("999")
	second, created, err := s.CreateOrderIntent(ctx, &replay)
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, second.Quantity.Equal(decimal.RequireFromString("1000000")))
}

func TestUpdateOrderGuardedByState(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	now := clock.Now()

	o := &core.Order{
		ClientOrderID: "sb-guard",
		Symbol:        "DOGEUSDT",
		Side:          core.SideBuy,
		Type:          core.OrderTypeMarket,
		Quantity:      decimal.RequireFromString("100"),
		State:         core.OrderNew,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	_, _, err := s.CreateOrderIntent(ctx, o)
	require.NoError(t, err)

	o.State = core.OrderSubmitted
	require.NoError(t, s.UpdateOrder(ctx, o, core.OrderNew))

	// The same transition replayed races against the first and loses.
	err = s.UpdateOrder(ctx, o, core.OrderNew)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	o.State = core.OrderFilled
	o.FilledQuantity = o.Quantity
	o.AvgFillPrice = decimal.RequireFromString("0.1")
	require.NoError(t, s.RecordFill(ctx, o, core.Fill{
		ClientOrderID: "sb-guard",
		Price:         decimal.RequireFromString("0.1"),
		Quantity:      decimal.RequireFromString("100"),
		FeeUSD:        decimal.RequireFromString("0.01"),
		Timestamp:     clock.Now(),
	}, core.OrderSubmitted, core.OrderAcknowledged, core.OrderPartiallyFilled))

	fills, err := s.GetFills(ctx, "sb-guard")
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.True(t, fills[0].Quantity.Equal(decimal.RequireFromString("100")))

	active, err := s.ActiveOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, active, "filled order is terminal")
}

func TestHighWaterMarkNeverDrops(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	hwm, err := s.RaiseHighWaterMark(ctx, "pos-hwm", decimal.RequireFromString("100"))
	require.NoError(t, err)
	assert.True(t, hwm.Equal(decimal.RequireFromString("100")))

	hwm, err = s.RaiseHighWaterMark(ctx, "pos-hwm", decimal.RequireFromString("90"))
	require.NoError(t, err)
	assert.True(t, hwm.Equal(decimal.RequireFromString("100")), "mark must not move down")

	hwm, err = s.RaiseHighWaterMark(ctx, "pos-hwm", decimal.RequireFromString("110"))
	require.NoError(t, err)
	assert.True(t, hwm.Equal(decimal.RequireFromString("110")))

	require.NoError(t, s.ClearHighWaterMark(ctx, "pos-hwm"))
	_, ok, err := s.GetHighWaterMark(ctx, "pos-hwm")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPortfolioDailyRoll(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InitPortfolio(ctx, decimal.RequireFromString("1000")))
	require.NoError(t, s.ApplyRealizedPnL(ctx, decimal.RequireFromString("50")))

	snap, err := s.GetPortfolio(ctx)
	require.NoError(t, err)
	assert.True(t, snap.EquityUSD.Equal(decimal.RequireFromString("1050")))
	assert.True(t, snap.DailyPnLUSD.Equal(decimal.RequireFromString("50")))
	assert.True(t, snap.PeakEquityUSD.Equal(decimal.RequireFromString("1050")))

	clock.Advance(24 * time.Hour)
	require.NoError(t, s.ApplyRealizedPnL(ctx, decimal.RequireFromString("-20")))

	snap, err = s.GetPortfolio(ctx)
	require.NoError(t, err)
	assert.True(t, snap.EquityUSD.Equal(decimal.RequireFromString("1030")))
	assert.True(t, snap.DailyPnLUSD.Equal(decimal.RequireFromString("-20")), "daily bucket rolls on day change")
	assert.True(t, snap.TotalPnLUSD.Equal(decimal.RequireFromString("30")))
	assert.True(t, snap.PeakEquityUSD.Equal(decimal.RequireFromString("1050")), "peak is sticky")
	assert.InDelta(t, 1.9, snap.DrawdownPct, 0.05)
}

func TestSpendLedgerBuckets(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddSpend(ctx, "SANAD", "gpt-4o-mini", 0.004))
	require.NoError(t, s.AddSpend(ctx, "JUDGE", "gpt-4o", 0.03))

	day, err := s.SpendForDay(ctx, DayKey(clock.Now()))
	require.NoError(t, err)
	assert.InDelta(t, 0.034, day, 1e-9)

	clock.Advance(24 * time.Hour)
	require.NoError(t, s.AddSpend(ctx, "BULL", "gpt-4o-mini", 0.002))

	month, err := s.SpendForMonth(ctx, MonthKey(clock.Now()))
	require.NoError(t, err)
	assert.InDelta(t, 0.036, month, 1e-9)

	yesterday, err := s.SpendForDay(ctx, DayKey(clock.Now().Add(-24*time.Hour)))
	require.NoError(t, err)
	assert.InDelta(t, 0.034, yesterday, 1e-9)
}

func TestCooldownWindow(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetCooldown(ctx, "PEPE", CooldownRejection, clock.Now().Add(30*time.Minute)))

	hot, err := s.InCooldown(ctx, "PEPE", CooldownRejection)
	require.NoError(t, err)
	assert.True(t, hot)

	hot, err = s.InCooldown(ctx, "PEPE", CooldownTrade)
	require.NoError(t, err)
	assert.False(t, hot, "kinds are independent")

	clock.Advance(31 * time.Minute)
	hot, err = s.InCooldown(ctx, "PEPE", CooldownRejection)
	require.NoError(t, err)
	assert.False(t, hot)
}

func TestSignalDedupPerDay(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()
	day := DayKey(clock.Now())

	first, err := s.MarkSignalProcessed(ctx, "sig-1", day)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := s.MarkSignalProcessed(ctx, "sig-1", day)
	require.NoError(t, err)
	assert.False(t, again)
}

func TestPriceWindowQueries(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	put := func(price string) {
		require.NoError(t, s.UpsertPrice(ctx, core.PricePoint{
			Symbol:    "BTCUSDT",
			Price:     decimal.RequireFromString(price),
			Volume24h: decimal.RequireFromString("1000000"),
			UpdatedAt: clock.Now(),
		}))
	}

	put("95000")
	clock.Advance(5 * time.Minute)
	put("94000")
	clock.Advance(5 * time.Minute)
	put("66500")

	point, err := s.GetPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, point)
	assert.True(t, point.Price.Equal(decimal.RequireFromString("66500")))

	max, ok, err := s.MaxPriceSince(ctx, "BTCUSDT", clock.Now().Add(-15*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, max.Equal(decimal.RequireFromString("95000")))

	at, ok, err := s.PriceAt(ctx, "BTCUSDT", clock.Now().Add(-4*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, at.Equal(decimal.RequireFromString("94000")))

	missing, err := s.GetPrice(ctx, "NEVERSEEN")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

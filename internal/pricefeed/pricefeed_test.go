package pricefeed

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sanadbot/internal/config"
	"sanadbot/internal/core"
	"sanadbot/internal/mock"
	"sanadbot/internal/policy"
	"sanadbot/internal/runtime"
	"sanadbot/internal/store"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	p     *Pricefeed
	rt    *runtime.Context
	st    *store.Store
	clock *mock.Clock
	ex    *mock.Exchange
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	clock := mock.NewClock(testNow)
	logger := mock.NewLogger()

	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.Monitor.FlashCrash.WatchSymbols = []string{"BTCUSDT", "ETHUSDT"}

	st, err := store.Open(filepath.Join(dir, "agent.db"), clock, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ex := mock.NewExchange("paper")

	rt := &runtime.Context{
		Cfg:      cfg,
		Log:      logger,
		Clock:    clock,
		Store:    st,
		Kill:     runtime.NewKillSwitch(dir, clock),
		Flags:    runtime.NewFlags(dir),
		Exchange: ex,
	}
	return &fixture{p: New(rt), rt: rt, st: st, clock: clock, ex: ex}
}

func (f *fixture) openPosition(t *testing.T, token, symbol string) {
	t.Helper()
	ctx := context.Background()

	sigID := core.SignalIDFor(token, "solana", "dexscreener", "VOLUME_SPIKE", token+" ramp")
	d := &core.Decision{
		DecisionID:    core.DecisionIDFor(sigID, policy.PolicyVersion),
		SignalID:      sigID,
		CorrelationID: "corr-" + token,
		PolicyVersion: policy.PolicyVersion,
		Result:        core.ResultExecute,
		Stage:         "EXECUTE_LOG",
		ReasonCode:    "EXECUTED",
		Mode:          core.ModePaper,
		PacketJSON:    fmt.Sprintf(`{"signal":{"signal_id":%q,"token":%q}}`, sigID, token),
		CreatedAt:     testNow.Add(-time.Hour),
	}
	pos := &core.Position{
		PositionID:  core.PositionIDFor(d.DecisionID, 1),
		DecisionID:  d.DecisionID,
		Symbol:      symbol,
		Token:       token,
		Chain:       "solana",
		Tier:        core.Tier3,
		StrategyID:  "meme_momentum",
		RegimeTag:   "CHOP",
		Status:      core.PositionOpen,
		Side:        core.SideBuy,
		EntryPrice:  decimal.RequireFromString("2.5"),
		Size:        decimal.NewFromInt(84),
		NotionalUSD: decimal.NewFromInt(210),
		Mode:        core.ModePaper,
		OpenedAt:    testNow.Add(-time.Hour),
	}
	task := &core.AsyncTask{
		TaskID:    core.TaskIDFor(core.TaskTypeAnalyze, pos.PositionID),
		TaskType:  core.TaskTypeAnalyze,
		EntityID:  pos.PositionID,
		Status:    core.TaskPending,
		NextRunAt: pos.OpenedAt,
		CreatedAt: pos.OpenedAt,
		UpdatedAt: pos.OpenedAt,
	}
	_, created, err := f.st.TryOpenPositionAtomic(ctx, d, pos, task)
	require.NoError(t, err)
	require.True(t, created)
}

func TestWatchlistMergesPositionsAndDedupes(t *testing.T) {
	f := newFixture(t)
	f.openPosition(t, "tok-pepe", "PEPEUSDT")
	f.openPosition(t, "tok-btc", "btcusdt") // already watched, different case

	got := f.p.watchlist(context.Background())
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "PEPEUSDT"}, got)
}

func TestStreamURLCombinesMiniTickers(t *testing.T) {
	f := newFixture(t)
	url := f.p.streamURL([]string{"BTCUSDT", "ETHUSDT"})
	assert.Equal(t,
		"wss://stream.binance.com:9443/stream?streams=btcusdt@miniTicker/ethusdt@miniTicker",
		url)

	f.rt.Cfg.Exchange.StreamURL = ""
	assert.Empty(t, f.p.streamURL([]string{"BTCUSDT"}))
}

func TestHandleMessageWritesCache(t *testing.T) {
	f := newFixture(t)

	frame := `{"stream":"btcusdt@miniTicker","data":{"e":"24hrMiniTicker","s":"BTCUSDT","c":"64250.10","q":"1850000000"}}`
	f.p.handleMessage([]byte(frame))

	point, err := f.st.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, point)
	assert.True(t, point.Price.Equal(decimal.RequireFromString("64250.10")))
	assert.True(t, point.Volume24h.Equal(decimal.NewFromInt(1_850_000_000)))
	assert.True(t, point.UpdatedAt.Equal(testNow))
}

func TestHandleMessageRawStreamFrame(t *testing.T) {
	f := newFixture(t)

	// A raw (non-combined) stream delivers the event without an envelope.
	frame := `{"e":"24hrMiniTicker","s":"ETHUSDT","c":"3120.55","q":"920000000"}`
	f.p.handleMessage([]byte(frame))

	point, err := f.st.GetPrice(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	require.NotNil(t, point)
	assert.True(t, point.Price.Equal(decimal.RequireFromString("3120.55")))
}

func TestHandleMessageRejectsGarbage(t *testing.T) {
	f := newFixture(t)

	for _, frame := range []string{
		"not json",
		`{"stream":"x","data":{"e":"24hrMiniTicker","s":"","c":"1"}}`,
		`{"e":"24hrMiniTicker","s":"BTCUSDT","c":"0"}`,
		`{"e":"24hrMiniTicker","s":"BTCUSDT","c":"-5"}`,
	} {
		f.p.handleMessage([]byte(frame))
	}

	point, err := f.st.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, point)
}

func TestPollOnceCoversSilentSymbols(t *testing.T) {
	f := newFixture(t)
	f.ex.SetPrice("BTCUSDT", decimal.NewFromInt(64000))
	f.ex.SetVolume("BTCUSDT", decimal.NewFromInt(1_000_000))
	f.ex.SetPrice("ETHUSDT", decimal.NewFromInt(3100))
	f.ex.SetVolume("ETHUSDT", decimal.NewFromInt(500_000))

	// BTC ticked over the stream moments ago; only ETH needs the fallback.
	f.p.handleMessage([]byte(`{"e":"24hrMiniTicker","s":"BTCUSDT","c":"64250.10","q":"1850000000"}`))

	written, err := f.p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	btc, err := f.st.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, btc.Price.Equal(decimal.RequireFromString("64250.10")),
		"stream quote must not be overwritten by the poll")

	eth, err := f.st.GetPrice(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.True(t, eth.Price.Equal(decimal.NewFromInt(3100)))
}

func TestPollOnceRepollsWhenStreamGoesQuiet(t *testing.T) {
	f := newFixture(t)
	f.ex.SetPrice("BTCUSDT", decimal.NewFromInt(63900))
	f.ex.SetPrice("ETHUSDT", decimal.NewFromInt(3100))

	f.p.handleMessage([]byte(`{"e":"24hrMiniTicker","s":"BTCUSDT","c":"64250.10","q":"1850000000"}`))
	f.clock.Advance(f.rt.Cfg.Pricefeed.StreamStale() + time.Second)

	written, err := f.p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, written)

	btc, err := f.st.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, btc.Price.Equal(decimal.NewFromInt(63900)))
}

func TestPollOnceSkipsFailingSymbol(t *testing.T) {
	f := newFixture(t)
	// Only ETH has a quote; BTC polls fail but must not abort the pass.
	f.ex.SetPrice("ETHUSDT", decimal.NewFromInt(3100))

	written, err := f.p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, written)
}

type stubStream struct {
	started chan string
	stopped chan struct{}
	url     string
}

func (s *stubStream) Start(ctx context.Context) { s.started <- s.url }
func (s *stubStream) Stop()                     { close(s.stopped) }

func TestRunStartsStreamAndWritesLease(t *testing.T) {
	f := newFixture(t)

	started := make(chan string, 1)
	stopped := make(chan struct{})
	f.p.newStream = func(url string) stream {
		return &stubStream{started: started, stopped: stopped, url: url}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.p.Run(ctx) }()

	select {
	case url := <-started:
		assert.True(t, strings.Contains(url, "btcusdt@miniTicker"))
	case <-time.After(3 * time.Second):
		t.Fatal("stream never started")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return on cancel")
	}
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stream never stopped")
	}

	lease, err := runtime.ReadLease(f.rt.Cfg.DataDir, "pricefeed")
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.Equal(t, "pricefeed", lease.Owner)
	assert.False(t, lease.CompletedAt.IsZero())
}

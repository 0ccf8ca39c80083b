package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"sanadbot/internal/core"
	"sanadbot/internal/mock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingChannel struct {
	mu   sync.Mutex
	name string
	err  error
	sent []string
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Send(ctx context.Context, level core.NotifyLevel, title, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, title)
	return c.err
}

func (c *recordingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func TestSendFansOutToAllChannels(t *testing.T) {
	m := NewManager(core.NotifyL1, mock.NewLogger())
	ch1 := &recordingChannel{name: "one"}
	ch2 := &recordingChannel{name: "two"}
	m.AddChannel(ch1)
	m.AddChannel(ch2)

	err := m.Send(context.Background(), core.NotifyL2, "position closed", "pnl +4.2%")
	require.NoError(t, err)
	assert.Equal(t, 1, ch1.count())
	assert.Equal(t, 1, ch2.count())
}

func TestSendDropsBelowMinimumLevel(t *testing.T) {
	m := NewManager(core.NotifyL3, mock.NewLogger())
	ch := &recordingChannel{name: "one"}
	m.AddChannel(ch)

	require.NoError(t, m.Send(context.Background(), core.NotifyL2, "routine", "skipped"))
	assert.Equal(t, 0, ch.count())

	require.NoError(t, m.Send(context.Background(), core.NotifyL4, "emergency", "sell-all"))
	assert.Equal(t, 1, ch.count())
}

func TestSendReportsChannelFailureButDeliversRest(t *testing.T) {
	m := NewManager(core.NotifyL1, mock.NewLogger())
	bad := &recordingChannel{name: "bad", err: errors.New("webhook down")}
	good := &recordingChannel{name: "good"}
	m.AddChannel(bad)
	m.AddChannel(good)

	err := m.Send(context.Background(), core.NotifyL3, "gate blocked", "slippage too high")
	assert.Error(t, err)
	assert.Equal(t, 1, good.count(), "healthy channel still delivers")
}

func TestSendWithNoChannelsIsNoop(t *testing.T) {
	m := NewManager(core.NotifyL1, mock.NewLogger())
	assert.NoError(t, m.Send(context.Background(), core.NotifyL4, "anything", "no channels"))
}

func TestChannelsSilentWithoutCredentials(t *testing.T) {
	tg := NewTelegram("", "")
	require.NoError(t, tg.Send(context.Background(), core.NotifyL4, "t", "m"))

	sl := NewSlack("", core.RealClock{})
	require.NoError(t, sl.Send(context.Background(), core.NotifyL4, "t", "m"))
}

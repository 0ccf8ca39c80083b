// Package notify delivers operator notifications over one or more channels.
// Delivery is best-effort: failures are logged and reported back, and callers
// are expected to swallow them so a dead webhook never blocks a trade close.
package notify

import (
	"context"
	"sync"
	"time"

	"sanadbot/internal/core"
)

// channelTimeout bounds each channel delivery independently so one slow
// webhook cannot starve the rest.
const channelTimeout = 10 * time.Second

// Channel is one delivery transport.
type Channel interface {
	Name() string
	Send(ctx context.Context, level core.NotifyLevel, title, message string) error
}

// Manager fans a notification out to every registered channel at or above
// the configured minimum level. It implements core.INotifier.
type Manager struct {
	mu       sync.RWMutex
	channels []Channel
	minLevel core.NotifyLevel
	logger   core.ILogger
}

// NewManager builds a manager that drops notifications below minLevel.
func NewManager(minLevel core.NotifyLevel, logger core.ILogger) *Manager {
	if minLevel < core.NotifyL1 || minLevel > core.NotifyL4 {
		minLevel = core.NotifyL1
	}
	return &Manager{
		minLevel: minLevel,
		logger:   logger.WithField("component", "notify"),
	}
}

// AddChannel registers a delivery transport.
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
	m.logger.Info("notification channel registered", "channel", ch.Name())
}

func (m *Manager) Name() string { return "notify_manager" }

// Send delivers to all channels concurrently and waits for them, so callers
// that act-then-notify observe delivery before moving on. The returned error
// is the first channel failure; every failure is logged regardless.
func (m *Manager) Send(ctx context.Context, level core.NotifyLevel, title, message string) error {
	if level < m.minLevel {
		m.logger.Debug("notification below minimum level, dropped",
			"level", level.String(), "title", title)
		return nil
	}

	m.mu.RLock()
	channels := make([]Channel, len(m.channels))
	copy(channels, m.channels)
	m.mu.RUnlock()

	if len(channels) == 0 {
		m.logger.Debug("no notification channels configured", "title", title)
		return nil
	}

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	for _, ch := range channels {
		wg.Add(1)
		go func(c Channel) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, channelTimeout)
			defer cancel()

			if err := c.Send(sendCtx, level, title, message); err != nil {
				m.logger.Error("failed to deliver notification",
					"channel", c.Name(), "level", level.String(), "title", title, "error", err)
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
			}
		}(ch)
	}
	wg.Wait()
	return firstErr
}

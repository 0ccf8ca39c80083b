package mock

import (
	"context"
	"sync"

	"sanadbot/internal/core"
)

// Notification is one recorded Send call.
type Notification struct {
	Level   core.NotifyLevel
	Title   string
	Message string
}

// Notifier implements core.INotifier and records deliveries.
type Notifier struct {
	mu   sync.Mutex
	err  error
	Sent []Notification
}

func NewNotifier() *Notifier { return &Notifier{} }

func (m *Notifier) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *Notifier) Name() string { return "mock" }

func (m *Notifier) Send(ctx context.Context, level core.NotifyLevel, title, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.Sent = append(m.Sent, Notification{Level: level, Title: title, Message: message})
	return nil
}

// SentCount returns the number of successful deliveries.
func (m *Notifier) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// LastTitle returns the title of the most recent delivery, or "".
func (m *Notifier) LastTitle() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return ""
	}
	return m.Sent[len(m.Sent)-1].Title
}

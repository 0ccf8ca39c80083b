package feed

import (
	"os"
	"strings"
	"sync"
	"time"

	"sanadbot/internal/core"
	"sanadbot/pkg/fsatomic"
)

// registryEntry records why and when a token was blacklisted.
type registryEntry struct {
	Reason  string    `json:"reason"`
	AddedAt time.Time `json:"added_at"`
	Source  string    `json:"source"`
}

// Registry is the persistent rugpull blacklist. Once a token lands here it
// never reaches the pipeline again; entries are only removed by an operator
// editing the file.
type Registry struct {
	mu      sync.Mutex
	path    string
	entries map[string]registryEntry
	clock   core.Clock
	logger  core.ILogger
}

// NewRegistry loads the blacklist from path, starting empty when absent.
func NewRegistry(path string, clock core.Clock, logger core.ILogger) (*Registry, error) {
	r := &Registry{
		path:    path,
		entries: make(map[string]registryEntry),
		clock:   clock,
		logger:  logger.WithField("component", "rugpull_registry"),
	}
	if err := fsatomic.ReadJSON(path, &r.entries); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	return r, nil
}

// Blacklist adds a token with the given reason. Re-adding keeps the original
// entry so the first verdict stays on record.
func (r *Registry) Blacklist(token, reason, source string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToUpper(token)
	if _, ok := r.entries[key]; ok {
		return
	}
	r.entries[key] = registryEntry{
		Reason:  reason,
		AddedAt: r.clock.Now(),
		Source:  source,
	}
	if err := fsatomic.WriteJSON(r.path, r.entries); err != nil {
		r.logger.Error("failed to persist rugpull registry", "token", key, "error", err)
	}
	r.logger.Warn("token blacklisted", "token", key, "reason", reason, "source", source)
}

// Blacklisted reports whether the token is banned and why.
func (r *Registry) Blacklisted(token string) (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[strings.ToUpper(token)]
	if !ok {
		return false, ""
	}
	return true, e.Reason
}

// Len is the number of blacklisted tokens.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Package breaker tracks per-component failure state so one faulty external
// dependency cannot keep dragging the pipeline down. Each component runs the
// closed → open → half_open machine over a sliding window of error
// timestamps, and the whole pool is persisted to a shared JSON record that
// the policy engine and the heartbeat read.
package breaker

import (
	"fmt"
	"sync"
	"time"

	"sanadbot/internal/core"
	"sanadbot/pkg/fsatomic"
	"sanadbot/pkg/telemetry"
)

// State is the breaker state machine position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Settings controls one component's trip behavior.
type Settings struct {
	WindowSeconds   int
	TripThreshold   int
	CooldownSeconds int
}

func (s Settings) window() time.Duration   { return time.Duration(s.WindowSeconds) * time.Second }
func (s Settings) cooldown() time.Duration { return time.Duration(s.CooldownSeconds) * time.Second }

// Snapshot is one component's externally visible state.
type Snapshot struct {
	Component     string    `json:"component"`
	State         State     `json:"state"`
	FailureCount  int       `json:"failure_count"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

type entry struct {
	settings      Settings
	state         State
	errorTimes    []time.Time
	cooldownUntil time.Time
	lastError     string
}

// Pool owns every component breaker and the JSON record behind them.
type Pool struct {
	mu        sync.Mutex
	path      string
	defaults  Settings
	overrides map[string]Settings
	entries   map[string]*entry
	clock     core.Clock
	logger    core.ILogger
}

// NewPool loads (or initializes) the pool persisted at path. Overrides apply
// per component name; everything else uses defaults.
func NewPool(path string, defaults Settings, overrides map[string]Settings, clock core.Clock, logger core.ILogger) (*Pool, error) {
	p := &Pool{
		path:      path,
		defaults:  defaults,
		overrides: overrides,
		entries:   make(map[string]*entry),
		clock:     clock,
		logger:    logger.WithField("component", "breaker_pool"),
	}
	if err := p.load(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pool) settingsFor(component string) Settings {
	if s, ok := p.overrides[component]; ok {
		return s
	}
	return p.defaults
}

func (p *Pool) entryFor(component string) *entry {
	e, ok := p.entries[component]
	if !ok {
		e = &entry{settings: p.settingsFor(component), state: StateClosed}
		p.entries[component] = e
	}
	return e
}

// Allow reports whether a call to the component may proceed. An open breaker
// whose cooldown has elapsed moves to half_open and admits the probe.
func (p *Pool) Allow(component string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.entryFor(component)
	now := p.clock.Now()
	switch e.state {
	case StateOpen:
		if now.Before(e.cooldownUntil) {
			return false
		}
		e.state = StateHalfOpen
		p.logger.Info("circuit breaker half-open, admitting probe", "breaker", component)
		p.persistLocked()
		return true
	default:
		return true
	}
}

// RecordFailure notes one error against the component, trips the breaker
// when the windowed count reaches the threshold, and re-opens a failed
// half_open probe immediately.
func (p *Pool) RecordFailure(component string, errMsg string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.entryFor(component)
	now := p.clock.Now()
	e.lastError = errMsg
	e.errorTimes = append(pruneWindow(e.errorTimes, now, e.settings.window()), now)

	switch e.state {
	case StateHalfOpen:
		p.trip(component, e, now)
	case StateClosed:
		if len(e.errorTimes) >= e.settings.TripThreshold {
			p.trip(component, e, now)
		}
	}
	p.persistLocked()
}

// RecordSuccess closes a half_open breaker after a good probe. Successes in
// the closed state do not erase the error window; only time does.
func (p *Pool) RecordSuccess(component string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e := p.entryFor(component)
	if e.state != StateHalfOpen {
		return
	}
	e.state = StateClosed
	e.errorTimes = nil
	e.cooldownUntil = time.Time{}
	e.lastError = ""
	p.logger.Info("circuit breaker closed after successful probe", "breaker", component)
	telemetry.GetGlobalMetrics().SetBreakerOpen(component, false)
	p.persistLocked()
}

func (p *Pool) trip(component string, e *entry, now time.Time) {
	e.state = StateOpen
	e.cooldownUntil = now.Add(e.settings.cooldown())
	p.logger.Warn("circuit breaker tripped",
		"breaker", component,
		"failures", len(e.errorTimes),
		"cooldown_until", e.cooldownUntil,
		"last_error", e.lastError)
	telemetry.GetGlobalMetrics().SetBreakerOpen(component, true)
}

// StateOf returns the component's current state, resolving an elapsed
// cooldown to half_open the way Allow would.
func (p *Pool) StateOf(component string) State {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[component]
	if !ok {
		return StateClosed
	}
	if e.state == StateOpen && !p.clock.Now().Before(e.cooldownUntil) {
		return StateHalfOpen
	}
	return e.state
}

// OpenCount reports how many breakers are currently open, the input to the
// policy engine's pre-gate simultaneous-trip check.
func (p *Pool) OpenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	n := 0
	for _, e := range p.entries {
		if e.state == StateOpen && now.Before(e.cooldownUntil) {
			n++
		}
	}
	return n
}

// Snapshots returns the externally visible state of every tracked component.
func (p *Pool) Snapshots() []Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	out := make([]Snapshot, 0, len(p.entries))
	for name, e := range p.entries {
		state := e.state
		if state == StateOpen && !now.Before(e.cooldownUntil) {
			state = StateHalfOpen
		}
		out = append(out, Snapshot{
			Component:     name,
			State:         state,
			FailureCount:  countWithinWindow(e.errorTimes, now, e.settings.window()),
			CooldownUntil: e.cooldownUntil,
			LastError:     e.lastError,
		})
	}
	return out
}

func pruneWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func countWithinWindow(times []time.Time, now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	n := 0
	for _, t := range times {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

// Persistence. The record is a plain JSON document so crashed processes and
// operators can inspect breaker state without the store.

type fileRecord struct {
	UpdatedAt  int64                      `json:"updated_at"`
	Components map[string]componentRecord `json:"components"`
}

type componentRecord struct {
	State         State   `json:"state"`
	ErrorTimes    []int64 `json:"error_times,omitempty"`
	CooldownUntil int64   `json:"cooldown_until,omitempty"`
	LastError     string  `json:"last_error,omitempty"`
}

func (p *Pool) persistLocked() {
	rec := fileRecord{
		UpdatedAt:  p.clock.Now().Unix(),
		Components: make(map[string]componentRecord, len(p.entries)),
	}
	for name, e := range p.entries {
		times := make([]int64, 0, len(e.errorTimes))
		for _, t := range e.errorTimes {
			times = append(times, t.Unix())
		}
		rec.Components[name] = componentRecord{
			State:         e.state,
			ErrorTimes:    times,
			CooldownUntil: e.cooldownUntil.Unix(),
			LastError:     e.lastError,
		}
	}
	if err := fsatomic.WriteJSON(p.path, rec); err != nil {
		p.logger.Error("failed to persist breaker pool", "error", err, "path", p.path)
	}
}

func (p *Pool) load() error {
	if !fsatomic.Exists(p.path) {
		return nil
	}
	var rec fileRecord
	if err := fsatomic.ReadJSON(p.path, &rec); err != nil {
		return fmt.Errorf("failed to load breaker pool: %w", err)
	}
	for name, c := range rec.Components {
		e := &entry{
			settings:      p.settingsFor(name),
			state:         c.State,
			cooldownUntil: timeFromUnix(c.CooldownUntil),
			lastError:     c.LastError,
		}
		for _, ts := range c.ErrorTimes {
			e.errorTimes = append(e.errorTimes, time.Unix(ts, 0).UTC())
		}
		p.entries[name] = e
		telemetry.GetGlobalMetrics().SetBreakerOpen(name, c.State == StateOpen)
	}
	return nil
}

func timeFromUnix(ts int64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}

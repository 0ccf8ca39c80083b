package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sanadbot/internal/core"
	"sanadbot/pkg/fsatomic"
)

// Lease is one worker's liveness token. The owning worker is the only
// writer; the watchdog only reads.
type Lease struct {
	Owner       string    `json:"owner"`
	PID         int       `json:"pid"`
	StartedAt   time.Time `json:"started_at"`
	HeartbeatAt time.Time `json:"heartbeat_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	TTLSeconds  int       `json:"ttl_seconds"`
}

// Fresh reports whether the heartbeat is within TTL of now.
func (l *Lease) Fresh(now time.Time) bool {
	if l == nil || l.HeartbeatAt.IsZero() {
		return false
	}
	return now.Sub(l.HeartbeatAt) <= time.Duration(l.TTLSeconds)*time.Second
}

// LeaseDir is where every worker's lease file lives.
func LeaseDir(dataDir string) string {
	return filepath.Join(dataDir, "leases")
}

func leasePath(dataDir, owner string) string {
	return filepath.Join(LeaseDir(dataDir), owner+".json")
}

// ReadLease loads a worker's lease, nil when the worker never ran.
func ReadLease(dataDir, owner string) (*Lease, error) {
	var l Lease
	err := fsatomic.ReadJSON(leasePath(dataDir, owner), &l)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read lease for %s: %w", owner, err)
	}
	return &l, nil
}

// ListLeases loads every lease under dataDir.
func ListLeases(dataDir string) ([]*Lease, error) {
	entries, err := os.ReadDir(LeaseDir(dataDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list leases: %w", err)
	}
	var out []*Lease
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		var l Lease
		if err := fsatomic.ReadJSON(filepath.Join(LeaseDir(dataDir), e.Name()), &l); err != nil {
			continue
		}
		out = append(out, &l)
	}
	return out, nil
}

// LeaseKeeper maintains one worker's lease across a run: Begin at entry,
// Beat inside long loops, Complete on clean exit.
type LeaseKeeper struct {
	path    string
	owner   string
	ttl     time.Duration
	clock   core.Clock
	started time.Time
}

// NewLeaseKeeper binds a keeper to the worker's lease file.
func NewLeaseKeeper(dataDir, owner string, ttl time.Duration, clock core.Clock) *LeaseKeeper {
	return &LeaseKeeper{
		path:  leasePath(dataDir, owner),
		owner: owner,
		ttl:   ttl,
		clock: clock,
	}
}

// Begin writes a fresh lease for this run.
func (k *LeaseKeeper) Begin() error {
	k.started = k.clock.Now()
	return k.write(k.started, time.Time{})
}

// Beat refreshes heartbeat_at, keeping the run's started_at.
func (k *LeaseKeeper) Beat() error {
	return k.write(k.clock.Now(), time.Time{})
}

// Complete stamps completed_at alongside a final heartbeat.
func (k *LeaseKeeper) Complete() error {
	now := k.clock.Now()
	return k.write(now, now)
}

func (k *LeaseKeeper) write(heartbeatAt, completedAt time.Time) error {
	l := Lease{
		Owner:       k.owner,
		PID:         os.Getpid(),
		StartedAt:   k.started,
		HeartbeatAt: heartbeatAt,
		CompletedAt: completedAt,
		TTLSeconds:  int(k.ttl / time.Second),
	}
	if err := fsatomic.WriteJSON(k.path, l); err != nil {
		return fmt.Errorf("failed to write lease for %s: %w", k.owner, err)
	}
	return nil
}

package watchdog

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"sanadbot/internal/runtime"
)

// outputTrees maps a worker to the artifact directories it writes each
// cycle, relative to the data dir. Workers absent here are judged on the
// lease alone.
var outputTrees = map[string][]string{
	"router":    {"decisions"},
	"heartbeat": {"heartbeat"},
}

// healthOf applies the two liveness signals: a fresh lease proves the
// worker beat recently; failing that, a fresh output tree proves it is
// producing work even when its lease writes are broken.
func (w *Watchdog) healthOf(comp string, now time.Time) (bool, string) {
	lease, err := runtime.ReadLease(w.rt.Cfg.DataDir, comp)
	if err != nil {
		w.logger.Warn("lease read failed", "component", comp, "error", err)
	}
	if lease.Fresh(now) {
		return true, fmt.Sprintf("lease fresh, beat %s ago", now.Sub(lease.HeartbeatAt).Round(time.Second))
	}

	ttl := time.Duration(w.rt.Cfg.Watchdog.LeaseTTLSeconds) * time.Second
	if newest, ok := w.newestOutput(comp); ok {
		if age := now.Sub(newest); age <= ttl {
			return true, fmt.Sprintf("lease stale but outputs %s old", age.Round(time.Second))
		}
	}

	if lease == nil {
		return false, "no lease and no fresh outputs"
	}
	return false, fmt.Sprintf("lease stale %s, outputs stale", now.Sub(lease.HeartbeatAt).Round(time.Second))
}

func (w *Watchdog) newestOutput(comp string) (time.Time, bool) {
	dirs, ok := outputTrees[comp]
	if !ok {
		return time.Time{}, false
	}
	var newest time.Time
	found := false
	for _, dir := range dirs {
		root := w.rt.DataPath(dir)
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			info, ierr := d.Info()
			if ierr != nil {
				return nil
			}
			if info.ModTime().After(newest) {
				newest = info.ModTime()
				found = true
			}
			return nil
		})
	}
	return newest, found
}

// sweepStaleLocks reclaims abandoned singleton locks so a crashed worker
// does not block its replacement for longer than the lock TTL.
func (w *Watchdog) sweepStaleLocks() {
	locksDir := filepath.Join(w.rt.Cfg.DataDir, "locks")
	entries, err := os.ReadDir(locksDir)
	if err != nil {
		return
	}
	ttl := time.Duration(w.rt.Cfg.Watchdog.LockTTLMinutes) * time.Minute
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".lock" {
			continue
		}
		lock := runtime.NewLockFile(filepath.Join(locksDir, e.Name()), ttl, w.logger)
		stale, err := lock.Stale()
		if err != nil || !stale {
			continue
		}
		if err := lock.Release(); err != nil {
			w.logger.Warn("stale lock release failed", "path", lock.Path(), "error", err)
			continue
		}
		w.logger.Warn("reclaimed stale lock", "path", lock.Path())
	}
}

package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sanadbot/internal/core"
	"sanadbot/pkg/fsatomic"
)

// LockPath is the conventional location of a worker's singleton lock.
func LockPath(dataDir, owner string) string {
	return filepath.Join(dataDir, "locks", owner+".lock")
}

// LockFile is a lightweight singleton marker with a TTL. A fresh lock means
// another instance of the worker is running; a stale one is reclaimed on the
// spot, since only a crashed process leaves its lock behind.
type LockFile struct {
	path   string
	ttl    time.Duration
	logger core.ILogger
}

// NewLockFile binds a lock to its path with the given staleness TTL.
func NewLockFile(path string, ttl time.Duration, logger core.ILogger) *LockFile {
	return &LockFile{path: path, ttl: ttl, logger: logger}
}

// Acquire attempts to take the lock. false with a nil error means another
// live instance holds it; stale locks are removed and retried once.
func (l *LockFile) Acquire() (bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
			if cerr := f.Close(); cerr != nil {
				return false, fmt.Errorf("failed to write lock %s: %w", l.path, cerr)
			}
			return true, nil
		}
		if !os.IsExist(err) {
			return false, fmt.Errorf("failed to create lock %s: %w", l.path, err)
		}

		stale, serr := l.Stale()
		if serr != nil {
			return false, serr
		}
		if !stale {
			return false, nil
		}
		l.logger.Warn("reclaiming stale lock file", "path", l.path)
		if rerr := os.Remove(l.path); rerr != nil && !os.IsNotExist(rerr) {
			return false, fmt.Errorf("failed to reclaim lock %s: %w", l.path, rerr)
		}
	}
	return false, nil
}

// Stale reports whether the lock file exists and its mtime exceeds the TTL.
// Missing files are not stale; they are free.
func (l *LockFile) Stale() (bool, error) {
	fi, err := os.Stat(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat lock %s: %w", l.path, err)
	}
	return time.Since(fi.ModTime()) > l.ttl, nil
}

// Release removes the lock. Absence is not an error, so Release is safe in
// a defer even when Acquire lost.
func (l *LockFile) Release() error {
	return fsatomic.Remove(l.path)
}

// Path returns the lock's filesystem location.
func (l *LockFile) Path() string {
	return l.path
}

package watchdog

import (
	"os"

	"sanadbot/pkg/fsatomic"
)

func (w *Watchdog) attemptsPath() string {
	return w.rt.DataPath("watchdog", "attempts.json")
}

// loadAttempts reads the persisted ladder state. An unreadable file starts
// the ladder over rather than blocking recovery; the cost is at most a few
// redundant tier-1 kills on an already-dead process.
func (w *Watchdog) loadAttempts() map[string]*Attempt {
	out := make(map[string]*Attempt)
	if err := fsatomic.ReadJSON(w.attemptsPath(), &out); err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn("attempts file unreadable, ladder restarts", "error", err)
		}
		return make(map[string]*Attempt)
	}
	return out
}

func (w *Watchdog) saveAttempts(m map[string]*Attempt) error {
	return fsatomic.WriteJSON(w.attemptsPath(), m)
}

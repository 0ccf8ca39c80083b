// Package runtime owns the process-external control plane: the kill switch,
// operator flag files, worker leases, and singleton lock files, plus the
// Context handed to every worker at entry. These survive crashes on purpose;
// hot shared state lives in the store instead.
package runtime

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"sanadbot/internal/core"
	"sanadbot/pkg/fsatomic"
	"sanadbot/pkg/telemetry"
)

const killMarkerContent = "TRUE"

// KillRecord is the sidecar metadata written when the switch activates.
type KillRecord struct {
	Reason      string    `json:"reason"`
	ActivatedBy string    `json:"activated_by"`
	ActivatedAt time.Time `json:"activated_at"`
}

// KillSwitch is the process-wide halt marker: a file whose contents spell
// TRUE. Any writer may activate it; every write path must check it first.
type KillSwitch struct {
	markerPath string
	reasonPath string
	clock      core.Clock
}

// NewKillSwitch binds the switch to its well-known paths under dataDir.
func NewKillSwitch(dataDir string, clock core.Clock) *KillSwitch {
	return &KillSwitch{
		markerPath: filepath.Join(dataDir, "KILL_SWITCH"),
		reasonPath: filepath.Join(dataDir, "KILL_SWITCH.reason.json"),
		clock:      clock,
	}
}

// Active reports whether the marker exists and its contents spell TRUE.
// Unreadable or misspelled markers read as inactive; activation is explicit.
func (k *KillSwitch) Active() bool {
	raw, err := os.ReadFile(k.markerPath)
	if err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(string(raw)), killMarkerContent)
}

// Activate writes the reason sidecar first, then the marker, so a reader
// that observes the switch active always finds the reason.
func (k *KillSwitch) Activate(reason, activatedBy string) error {
	rec := KillRecord{
		Reason:      reason,
		ActivatedBy: activatedBy,
		ActivatedAt: k.clock.Now(),
	}
	if err := fsatomic.WriteJSON(k.reasonPath, rec); err != nil {
		return err
	}
	if err := fsatomic.WriteFile(k.markerPath, []byte(killMarkerContent+"\n"), 0o644); err != nil {
		return err
	}
	telemetry.GetGlobalMetrics().SetKillSwitch(true)
	return nil
}

// Clear deactivates the switch. Only a human operator path calls this.
func (k *KillSwitch) Clear() error {
	if err := fsatomic.Remove(k.markerPath); err != nil {
		return err
	}
	telemetry.GetGlobalMetrics().SetKillSwitch(false)
	return fsatomic.Remove(k.reasonPath)
}

// Status returns the last activation record and whether the switch is
// currently active. The record may be stale when the switch was cleared.
func (k *KillSwitch) Status() (KillRecord, bool) {
	var rec KillRecord
	_ = fsatomic.ReadJSON(k.reasonPath, &rec)
	return rec, k.Active()
}

// Flag is a single operator-writable marker file. Existence is the signal;
// contents are a free-form note.
type Flag struct {
	path string
}

// Raise creates the flag with an explanatory note.
func (f *Flag) Raise(note string) error {
	if note == "" {
		note = "1"
	}
	return fsatomic.WriteFile(f.path, []byte(note+"\n"), 0o644)
}

// Active reports whether the flag file exists.
func (f *Flag) Active() bool {
	return fsatomic.Exists(f.path)
}

// Note returns the flag's contents, empty when absent.
func (f *Flag) Note() string {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

// Clear removes the flag. Absence is not an error.
func (f *Flag) Clear() error {
	return fsatomic.Remove(f.path)
}

// Path returns the flag's filesystem location, for diagnostics.
func (f *Flag) Path() string {
	return f.path
}

// Flags hands out the per-component pause and fast-path flags the watchdog
// raises and workers honor.
type Flags struct {
	dir string
}

// NewFlags roots the flag directory under dataDir.
func NewFlags(dataDir string) *Flags {
	return &Flags{dir: filepath.Join(dataDir, "flags")}
}

// Pause is the Tier 4 stop-work flag for a component.
func (f *Flags) Pause(component string) *Flag {
	return &Flag{path: filepath.Join(f.dir, "pause."+component)}
}

// FastPath is the Tier 3 degraded-startup flag a component honors on boot.
func (f *Flags) FastPath(component string) *Flag {
	return &Flag{path: filepath.Join(f.dir, "fast_path."+component)}
}

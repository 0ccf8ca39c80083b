package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"sanadbot/internal/core"
)

// DecisionLog appends every terminal decision as one JSON line, one file
// per UTC day. The files are the replayable audit trail; the archiver ships
// day-old files to cold storage.
type DecisionLog struct {
	mu    sync.Mutex
	dir   string
	clock core.Clock
}

func NewDecisionLog(dir string, clock core.Clock) (*DecisionLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("decision log dir: %w", err)
	}
	return &DecisionLog{dir: dir, clock: clock}, nil
}

// Dir is the directory holding the daily files.
func (l *DecisionLog) Dir() string { return l.dir }

// logEntry is the on-disk line shape. The packet rides along raw so a day
// file is self-contained without the database.
type logEntry struct {
	DecisionID     string           `json:"decision_id"`
	SignalID       string           `json:"signal_id"`
	CorrelationID  string           `json:"correlation_id"`
	PolicyVersion  string           `json:"policy_version"`
	Result         string           `json:"result"`
	Stage          string           `json:"stage"`
	ReasonCode     string           `json:"reason_code"`
	Reason         string           `json:"reason"`
	GateFailed     int              `json:"gate_failed,omitempty"`
	GateFailedName string           `json:"gate_failed_name,omitempty"`
	HardGate       bool             `json:"hard_gate,omitempty"`
	FastTrack      bool             `json:"fast_track,omitempty"`
	Mode           string           `json:"mode"`
	StageMillis    map[string]int64 `json:"stage_millis,omitempty"`
	Packet         json.RawMessage  `json:"packet,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// Append writes one decision line to today's file. The handle is opened per
// call; decision volume is a handful per hour and append-open keeps the
// file consistent across processes.
func (l *DecisionLog) Append(d *core.Decision) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := logEntry{
		DecisionID:     d.DecisionID,
		SignalID:       d.SignalID,
		CorrelationID:  d.CorrelationID,
		PolicyVersion:  d.PolicyVersion,
		Result:         string(d.Result),
		Stage:          d.Stage,
		ReasonCode:     d.ReasonCode,
		Reason:         d.Reason,
		GateFailed:     d.GateFailed,
		GateFailedName: d.GateFailedName,
		HardGate:       d.HardGate,
		FastTrack:      d.FastTrack,
		Mode:           string(d.Mode),
		StageMillis:    d.StageMillis,
		CreatedAt:      d.CreatedAt,
	}
	if d.PacketJSON != "" {
		entry.Packet = json.RawMessage(d.PacketJSON)
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("decision log marshal: %w", err)
	}

	path := filepath.Join(l.dir, l.clock.Now().UTC().Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("decision log open: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("decision log write: %w", err)
	}
	return nil
}

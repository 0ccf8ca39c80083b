package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"sanadbot/internal/core"
)

func marshalStageMillis(m map[string]int64) (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal stage timings: %w", err)
	}
	return string(raw), nil
}

// InsertDecision persists a pipeline decision. Replays of the same
// decision_id are silently ignored so the audit row never changes after the
// first write.
func (s *Store) InsertDecision(ctx context.Context, d *core.Decision) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertDecisionTx(ctx, tx, d)
	})
}

// GetDecision returns the decision row, or nil when none exists.
func (s *Store) GetDecision(ctx context.Context, decisionID string) (*core.Decision, error) {
	row := s.reader.QueryRowContext(ctx, `
		SELECT decision_id, signal_id, correlation_id, policy_version,
		       result, stage, reason_code, reason,
		       gate_failed, gate_failed_name, hard_gate, fast_track,
		       mode, packet_json, stage_millis, created_at
		FROM decisions WHERE decision_id = ?`, decisionID)
	return scanDecision(row)
}

// RecentDecisions returns up to limit decisions, newest first.
func (s *Store) RecentDecisions(ctx context.Context, limit int) ([]*core.Decision, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT decision_id, signal_id, correlation_id, policy_version,
		       result, stage, reason_code, reason,
		       gate_failed, gate_failed_name, hard_gate, fast_track,
		       mode, packet_json, stage_millis, created_at
		FROM decisions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var out []*core.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountExecutesSince counts EXECUTE decisions created at or after the cutoff.
// The volatility halt gate uses this to cap trade frequency per window.
func (s *Store) CountExecutesSince(ctx context.Context, sinceUnix int64) (int, error) {
	var n int
	err := s.reader.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM decisions WHERE result = ? AND created_at >= ?`,
		string(core.ResultExecute), sinceUnix).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count executes: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner) (*core.Decision, error) {
	var (
		d                                      core.Decision
		result, mode                           string
		reasonCode, reason, gateName           sql.NullString
		packet, stageMillis                    sql.NullString
		hardGate, fastTrack                    int
		createdAt                              int64
	)
	err := row.Scan(
		&d.DecisionID, &d.SignalID, &d.CorrelationID, &d.PolicyVersion,
		&result, &d.Stage, &reasonCode, &reason,
		&d.GateFailed, &gateName, &hardGate, &fastTrack,
		&mode, &packet, &stageMillis, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan decision: %w", err)
	}
	d.Result = core.DecisionResult(result)
	d.Mode = core.Mode(mode)
	d.ReasonCode = reasonCode.String
	d.Reason = reason.String
	d.GateFailedName = gateName.String
	d.HardGate = hardGate != 0
	d.FastTrack = fastTrack != 0
	d.PacketJSON = packet.String
	d.CreatedAt = timeOrZero(createdAt)
	if stageMillis.Valid && stageMillis.String != "" {
		_ = json.Unmarshal([]byte(stageMillis.String), &d.StageMillis)
	}
	return &d, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

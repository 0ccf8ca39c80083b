package watchdog

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sanadbot/internal/runtime"
	"sanadbot/pkg/fsatomic"
)

// writeDiagnostics assembles the tier 3.5 package: one gzipped tar of the
// state an operator agent needs to triage a component three resets could
// not revive. Collection is best effort; a failing source becomes an error
// note inside the package instead of sinking the tier.
func (w *Watchdog) writeDiagnostics(ctx context.Context, comp string, now time.Time) (string, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	lease, _ := runtime.ReadLease(w.rt.Cfg.DataDir, comp)
	w.addJSON(tw, now, "component.json", map[string]any{
		"component":         comp,
		"lease":             lease,
		"generated_at":      now,
		"deadline_minutes":  w.rt.Cfg.Watchdog.DiagnosticDeadline,
		"fast_path_flagged": w.rt.Flags.FastPath(comp).Active(),
	})

	leases, err := runtime.ListLeases(w.rt.Cfg.DataDir)
	w.addOrErr(tw, now, "leases.json", leases, err)

	w.addJSON(tw, now, "breakers.json", w.rt.Breakers.Snapshots())

	counts, err := w.rt.Store.CountTasksByStatus(ctx)
	w.addOrErr(tw, now, "tasks.json", counts, err)

	snap, err := w.rt.Store.GetPortfolio(ctx)
	w.addOrErr(tw, now, "portfolio.json", snap, err)

	positions, err := w.rt.Store.GetOpenPositions(ctx)
	w.addOrErr(tw, now, "positions.json", positions, err)

	killRec, killActive := w.rt.Kill.Status()
	w.addJSON(tw, now, "kill_switch.json", map[string]any{"active": killActive, "record": killRec})

	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("failed to finish diagnostics tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("failed to finish diagnostics gzip: %w", err)
	}

	name := fmt.Sprintf("%s-%s.tar.gz", comp, now.UTC().Format("20060102T150405Z"))
	path := w.rt.DataPath(w.rt.Cfg.Watchdog.DiagnosticDir, name)
	if err := fsatomic.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (w *Watchdog) addOrErr(tw *tar.Writer, now time.Time, name string, v any, err error) {
	if err != nil {
		w.addJSON(tw, now, name, map[string]string{"error": err.Error()})
		return
	}
	w.addJSON(tw, now, name, v)
}

func (w *Watchdog) addJSON(tw *tar.Writer, now time.Time, name string, v any) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		raw = []byte(fmt.Sprintf("{\"error\":%q}", err.Error()))
	}
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(raw)),
		ModTime: now,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		w.logger.Warn("diagnostics entry failed", "name", name, "error", err)
		return
	}
	if _, err := tw.Write(raw); err != nil {
		w.logger.Warn("diagnostics entry failed", "name", name, "error", err)
	}
}

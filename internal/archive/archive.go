// Package archive moves closed-out decision logs to cold storage. Each UTC
// day's JSONL log is gzipped and uploaded once; local copies are pruned only
// after the upload has been verified and the retention window has passed, so
// a failed upload can never cost the audit trail.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"

	"sanadbot/internal/core"
	"sanadbot/internal/runtime"
)

const worker = "archive"

// dayFile matches one decision-log file per UTC day.
var dayFile = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})\.jsonl$`)

// Uploader is the blob-store seam. *S3Uploader is the production
// implementation; tests record instead.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Result summarizes one archival pass.
type Result struct {
	Uploaded int
	Pruned   int
	Skipped  int
}

// Archiver sweeps the decision-log directory once per invocation.
type Archiver struct {
	rt     *runtime.Context
	up     Uploader
	logger core.ILogger
}

// New wires an archiver over the shared runtime context.
func New(rt *runtime.Context, up Uploader) *Archiver {
	return &Archiver{
		rt:     rt,
		up:     up,
		logger: rt.Log.WithField("component", worker),
	}
}

// RunOnce uploads every day-old decision log that is not yet in the bucket
// and prunes local files past retention. Today's log is never touched; the
// pipeline is still appending to it.
func (a *Archiver) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	if a.up == nil {
		return res, fmt.Errorf("archiver requires an uploader")
	}

	dir := a.rt.DataPath("decisions")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("decision log dir: %w", err)
	}

	now := a.rt.Clock.Now().UTC()
	today := now.Format("2006-01-02")
	retain := a.rt.Cfg.Archive.RetainDays
	if retain < 1 {
		retain = 1
	}
	pruneBefore := now.AddDate(0, 0, -retain).Format("2006-01-02")

	var days []string
	for _, e := range entries {
		if m := dayFile.FindStringSubmatch(e.Name()); m != nil && m[1] < today {
			days = append(days, m[1])
		}
	}
	sort.Strings(days)

	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		local := filepath.Join(dir, day+".jsonl")
		key := a.keyFor(day)

		archived, err := a.up.Exists(ctx, key)
		if err != nil {
			a.logger.Warn("archive presence check failed", "day", day, "error", err)
			continue
		}
		if !archived {
			if err := a.uploadDay(ctx, local, key, day); err != nil {
				a.logger.Warn("archive upload failed", "day", day, "error", err)
				continue
			}
			res.Uploaded++
		} else {
			res.Skipped++
		}

		if day < pruneBefore {
			if err := os.Remove(local); err != nil {
				a.logger.Warn("local prune failed", "day", day, "error", err)
				continue
			}
			res.Pruned++
		}
	}

	a.logger.Info("archive pass complete",
		"uploaded", res.Uploaded, "skipped", res.Skipped, "pruned", res.Pruned)
	return res, nil
}

func (a *Archiver) keyFor(day string) string {
	// 2025-06-01 → <prefix>/2025/06/2025-06-01.jsonl.gz
	return path.Join(a.rt.Cfg.Archive.Prefix, day[:4], day[5:7], day+".jsonl.gz")
}

// uploadDay gzips the day's log and uploads it, then re-checks presence so
// a silently dropped object is retried next pass instead of being pruned.
func (a *Archiver) uploadDay(ctx context.Context, local, key, day string) error {
	raw, err := os.ReadFile(local)
	if err != nil {
		return fmt.Errorf("read %s: %w", local, err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Name = day + ".jsonl"
	gz.ModTime = a.rt.Clock.Now().UTC()
	if _, err := gz.Write(raw); err != nil {
		return fmt.Errorf("gzip %s: %w", day, err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("gzip close %s: %w", day, err)
	}

	compressed := buf.Len()
	if err := a.up.Upload(ctx, key, &buf); err != nil {
		return err
	}
	ok, err := a.up.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("verify %s: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("uploaded object %s not found on verify", key)
	}

	a.logger.Info("decision log archived", "day", day, "key", key,
		"raw_bytes", len(raw), "compressed_bytes", compressed)
	return nil
}

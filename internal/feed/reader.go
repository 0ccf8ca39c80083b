// Package feed reads normalized signals from source feed directories and
// enriches candidates with on-chain evidence. Source-specific adapters live
// outside the core and drop Signal JSON files here; the reader only consumes
// the normalized schema.
package feed

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"sanadbot/internal/core"
)

// DirReader scans <root>/<source>/*.json for signals newer than the window.
type DirReader struct {
	root    string
	sources []string
	window  time.Duration
	clock   core.Clock
	logger  core.ILogger
}

// NewDirReader builds a reader over the configured feed sources.
func NewDirReader(root string, sources []string, window time.Duration, clock core.Clock, logger core.ILogger) *DirReader {
	return &DirReader{
		root:    root,
		sources: sources,
		window:  window,
		clock:   clock,
		logger:  logger.WithField("component", "feed_reader"),
	}
}

// Read returns every valid signal within the freshness window, newest first.
// Invalid files are logged and skipped; one bad adapter must not starve the
// rest of the feeds.
func (r *DirReader) Read() []*core.Signal {
	now := r.clock.Now()
	cutoff := now.Add(-r.window)

	var out []*core.Signal
	for _, source := range r.sources {
		dir := filepath.Join(r.root, source)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				r.logger.Warn("failed to read feed directory", "source", source, "error", err)
			}
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			info, err := e.Info()
			if err != nil || info.ModTime().Before(cutoff) {
				continue
			}
			sig, err := r.loadSignal(filepath.Join(dir, e.Name()), source)
			if err != nil {
				r.logger.Warn("skipping malformed signal file",
					"source", source, "file", e.Name(), "error", err)
				continue
			}
			if sig.Timestamp.Before(cutoff) {
				continue
			}
			out = append(out, sig)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

func (r *DirReader) loadSignal(path, source string) (*core.Signal, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signal: %w", err)
	}
	var sig core.Signal
	if err := json.Unmarshal(raw, &sig); err != nil {
		return nil, fmt.Errorf("failed to parse signal: %w", err)
	}
	if sig.SourcePrimary == "" {
		sig.SourcePrimary = source
	}
	if err := Validate(&sig); err != nil {
		return nil, err
	}
	if sig.SignalID == "" {
		sig.SignalID = core.SignalIDFor(sig.Token, sig.Chain, sig.SourcePrimary, sig.SignalType, sig.Thesis)
	}
	return &sig, nil
}

// Validate checks the fields every downstream stage depends on.
func Validate(sig *core.Signal) error {
	switch {
	case sig.Token == "":
		return fmt.Errorf("signal missing token")
	case sig.Chain == "":
		return fmt.Errorf("signal missing chain")
	case sig.SignalType == "":
		return fmt.Errorf("signal missing signal_type")
	case sig.Thesis == "":
		return fmt.Errorf("signal missing thesis")
	case sig.Timestamp.IsZero():
		return fmt.Errorf("signal missing timestamp")
	}
	return nil
}

// Corroborate fills each signal's cross-source set: the distinct sources
// that mentioned the same token anywhere in the batch. The batch is the
// current window, so corroboration is windowed by construction.
func Corroborate(signals []*core.Signal) {
	sourcesByToken := make(map[string]map[string]struct{})
	for _, sig := range signals {
		token := strings.ToUpper(sig.Token)
		if sourcesByToken[token] == nil {
			sourcesByToken[token] = make(map[string]struct{})
		}
		sourcesByToken[token][sig.SourcePrimary] = struct{}{}
	}

	for _, sig := range signals {
		token := strings.ToUpper(sig.Token)
		var others []string
		for src := range sourcesByToken[token] {
			if src != sig.SourcePrimary {
				others = append(others, src)
			}
		}
		sort.Strings(others)
		sig.Corroboration = others
		sig.CorroborationGrade = core.GradeForSources(sig.CrossSourceCount())
	}
}

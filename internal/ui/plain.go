package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer outputs plain text progress (for CI/pipes).
type PlainRenderer struct {
	mu      sync.Mutex
	out     io.Writer
	noColor bool
	stage   Stage
	errors  []ErrorEvent
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{
		out:     cfg.Output,
		noColor: cfg.NoColor,
	}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error {
	return nil
}

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stage = event.Stage

	// Format: [STAGE] current/total - message or document path
	var msg string
	if event.Message != "" {
		msg = event.Message
	} else if event.Path != "" {
		msg = event.Path
	}

	if event.Total > 0 {
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d - %s\n", event.Stage.Icon(), event.Current, event.Total, msg)
	} else if msg != "" {
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), msg)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors = append(r.errors, event)

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}

	if event.Path != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.Path, event.Err)
	} else {
		_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Complete: %d documents, %d chunks indexed in %s",
		stats.Documents, stats.Chunks, stats.Duration.Round(100*time.Millisecond))

	if stats.Errors > 0 || stats.Warnings > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d errors, %d warnings)", stats.Errors, stats.Warnings)
	}

	_, _ = fmt.Fprintln(r.out)

	if stats.Skipped > 0 || stats.Removed > 0 {
		_, _ = fmt.Fprintf(r.out, "Unchanged: %d documents skipped, %d removed from index\n",
			stats.Skipped, stats.Removed)
	}

	// Stage breakdown when timings were recorded
	if stats.Stages.Scan > 0 || stats.Stages.Process > 0 {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintln(r.out, "Stage Breakdown:")
		_, _ = fmt.Fprintf(r.out, "  Scan:    %s (documents discovered)\n", stats.Stages.Scan.Round(100*time.Millisecond))
		if stats.Stages.Process > 0 && stats.Chunks > 0 {
			chunksPerSec := float64(stats.Chunks) / stats.Stages.Process.Seconds()
			_, _ = fmt.Fprintf(r.out, "  Process: %s (%d chunks @ %.1f/sec)\n",
				stats.Stages.Process.Round(100*time.Millisecond), stats.Chunks, chunksPerSec)
		} else {
			_, _ = fmt.Fprintf(r.out, "  Process: %s (parse + embed + index)\n", stats.Stages.Process.Round(100*time.Millisecond))
		}
		_, _ = fmt.Fprintf(r.out, "  Flush:   %s (indexes persisted)\n", stats.Stages.Flush.Round(100*time.Millisecond))
	}

	if stats.Embedder.Provider != "" {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintf(r.out, "Embedder: %s (%s, %d dims)\n",
			stats.Embedder.Provider, stats.Embedder.Model, stats.Embedder.Dimensions)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}

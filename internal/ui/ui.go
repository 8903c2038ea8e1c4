// Package ui provides terminal UI components for ingest progress and
// corpus status display.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage represents an ingest pipeline stage.
type Stage int

const (
	// StageScanning is the corpus discovery stage.
	StageScanning Stage = iota
	// StageProcessing covers per-document parse, chunk, embed and index work.
	StageProcessing
	// StageFlushing is the final index persistence stage.
	StageFlushing
	// StageComplete indicates the ingest run finished.
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageScanning:
		return "Scanning"
	case StageProcessing:
		return "Processing"
	case StageFlushing:
		return "Flushing"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage icon for plain text output.
func (s Stage) Icon() string {
	switch s {
	case StageScanning:
		return "SCAN"
	case StageProcessing:
		return "PROC"
	case StageFlushing:
		return "FLUSH"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent represents a progress update.
type ProgressEvent struct {
	Stage   Stage
	Current int
	Total   int
	Path    string // document currently being processed
	Message string
}

// ErrorEvent represents an error during processing.
type ErrorEvent struct {
	Path   string
	Err    error
	IsWarn bool
}

// StageTimings tracks wall-clock duration for each ingest stage.
type StageTimings struct {
	Scan    time.Duration // Corpus discovery
	Process time.Duration // Per-document parse + chunk + embed + index
	Flush   time.Duration // Index persistence
}

// EmbedderInfo describes the embedding backend an ingest run used.
type EmbedderInfo struct {
	Provider   string // "openai" or "static"
	Model      string // e.g. "nomic-embed-text"
	Dimensions int
}

// CompletionStats contains final ingest statistics.
type CompletionStats struct {
	Documents int // Documents indexed or re-indexed this run
	Chunks    int // Chunks written to the indexes
	Skipped   int // Documents unchanged since the last run
	Removed   int // Documents removed from the index
	Duration  time.Duration
	Errors    int
	Warnings  int
	Stages    StageTimings
	Embedder  EmbedderInfo
}

// Renderer defines the interface for ingest progress display.
type Renderer interface {
	// Start initializes the renderer.
	Start(ctx context.Context) error

	// UpdateProgress updates progress display.
	UpdateProgress(event ProgressEvent)

	// AddError adds an error to display.
	AddError(event ErrorEvent)

	// Complete marks rendering as complete with summary.
	Complete(stats CompletionStats)

	// Stop stops the renderer and cleans up.
	Stop() error
}

// Config configures the UI renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	CorpusDir  string // Corpus root path to display in the header
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithCorpusDir sets the corpus root path to display in the header.
func WithCorpusDir(dir string) ConfigOption {
	return func(c *Config) {
		c.CorpusDir = dir
	}
}

// NewConfig creates a new Config with the given output and options.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{
		Output: output,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg
}

// NewRenderer creates an appropriate renderer based on config and environment.
// It returns a TUI renderer for interactive terminals, and a plain text
// renderer for CI environments, pipes, or when --no-tui is specified.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain {
		return NewPlainRenderer(cfg)
	}

	if !IsTTY(cfg.Output) {
		return NewPlainRenderer(cfg)
	}

	if DetectCI() {
		return NewPlainRenderer(cfg)
	}

	// Try TUI mode, fall back to plain on failure
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}

	return tui
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}

	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	return false
}

// DetectNoColor checks if the NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	ciVars := []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"}
	for _, v := range ciVars {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}

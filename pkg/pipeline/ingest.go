package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/documind-hq/documind/internal/ingest"
	"github.com/documind-hq/documind/internal/store"
	"github.com/documind-hq/documind/internal/ui"
)

// IngestOptions configures one Ingest pass.
type IngestOptions struct {
	// Rebuild forces every document through the full pipeline, ignoring
	// stored content hashes.
	Rebuild bool
}

// IngestSummary reports what one Ingest pass did.
type IngestSummary struct {
	Documents int
	Chunks    int
	Skipped   int
	Removed   int
	Errors    int
	Warnings  int
	Duration  time.Duration
}

// Ingest scans the corpus root and brings the indexes up to date.
// Unchanged documents are skipped, removed documents are dropped from
// the index. It holds an exclusive cross-process lock on the data
// directory for its duration.
func (p *Pipeline) Ingest(ctx context.Context, opts IngestOptions) (*IngestSummary, error) {
	if p.isClosed() {
		return nil, ErrClosed
	}

	lock := store.NewDirLock(p.dataDir)
	if err := lock.Acquire(); err != nil {
		return nil, fmt.Errorf("corpus is in use by another process: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	renderer := ui.NewRenderer(ui.NewConfig(p.progress,
		ui.WithForcePlain(true), ui.WithCorpusDir(p.root)))
	if err := renderer.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start progress renderer: %w", err)
	}
	defer func() { _ = renderer.Stop() }()

	pl, err := ingest.NewPipeline(ingest.Dependencies{
		Renderer: renderer,
		Config:   p.cfg,
		Metadata: p.metadata,
		Lexical:  p.lexical,
		Vector:   p.vector,
		Embedder: p.embedder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build ingest pipeline: %w", err)
	}

	result, err := pl.Run(ctx, ingest.Config{
		RootDir: p.root,
		Rebuild: opts.Rebuild,
	})
	if err != nil {
		return nil, err
	}

	return &IngestSummary{
		Documents: result.Documents,
		Chunks:    result.Chunks,
		Skipped:   result.Skipped,
		Removed:   result.Removed,
		Errors:    result.Errors,
		Warnings:  result.Warnings,
		Duration:  result.Duration,
	}, nil
}

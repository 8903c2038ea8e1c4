// Package ingest builds and maintains the document indexes. The Pipeline
// runs full corpus passes with a bounded worker pool; the Coordinator
// applies incremental file events from the watcher. Both share the same
// per-document indexing core, so a document ends up in the same state no
// matter which path indexed it.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/documind-hq/documind/internal/chunk"
	"github.com/documind-hq/documind/internal/config"
	"github.com/documind-hq/documind/internal/embed"
	"github.com/documind-hq/documind/internal/scanner"
	"github.com/documind-hq/documind/internal/store"
	"github.com/documind-hq/documind/internal/ui"
)

// Config controls a single pipeline run.
type Config struct {
	// RootDir is the corpus root to ingest.
	RootDir string

	// Rebuild forces every document through the full pipeline, ignoring
	// stored hashes and stat fields.
	Rebuild bool
}

// Result summarizes a completed pipeline run.
type Result struct {
	Documents int
	Chunks    int
	Skipped   int
	Removed   int
	Duration  time.Duration
	Errors    int
	Warnings  int
}

// Dependencies carries everything a Pipeline or Coordinator needs.
// Scanner and Chunker are optional; defaults are built from the config.
type Dependencies struct {
	Renderer ui.Renderer
	Config   *config.Config
	Metadata store.MetadataStore
	Lexical  store.LexicalIndex
	Vector   store.VectorIndex
	Embedder embed.Embedder
	Scanner  *scanner.Scanner
	Chunker  *chunk.Engine
}

func (d *Dependencies) validate(needRenderer bool) error {
	if needRenderer && d.Renderer == nil {
		return fmt.Errorf("renderer is required")
	}
	if d.Config == nil {
		return fmt.Errorf("config is required")
	}
	if d.Metadata == nil {
		return fmt.Errorf("metadata store is required")
	}
	if d.Lexical == nil {
		return fmt.Errorf("lexical index is required")
	}
	if d.Vector == nil {
		return fmt.Errorf("vector index is required")
	}
	if d.Embedder == nil {
		return fmt.Errorf("embedder is required")
	}
	return nil
}

// fill builds the optional dependencies that were not supplied.
func (d *Dependencies) fill() error {
	if d.Scanner == nil {
		sc, err := scanner.New()
		if err != nil {
			return fmt.Errorf("create scanner: %w", err)
		}
		d.Scanner = sc
	}
	if d.Chunker == nil {
		eng, err := chunk.NewEngine(chunk.Options{
			Strategy:      chunk.Strategy(d.Config.Chunking.Strategy),
			MaxTokens:     d.Config.Chunking.MaxTokens,
			OverlapTokens: d.Config.Chunking.OverlapTokens,
		})
		if err != nil {
			return fmt.Errorf("create chunk engine: %w", err)
		}
		d.Chunker = eng
	}
	return nil
}

// Pipeline runs full ingest passes over a corpus. Run is not safe for
// concurrent use; create one Pipeline per run or serialize callers.
type Pipeline struct {
	renderer ui.Renderer
	cfg      *config.Config
	metadata store.MetadataStore
	embedder embed.Embedder
	lexical  store.LexicalIndex
	vector   store.VectorIndex
	scanner  *scanner.Scanner
	idx      *indexer

	warnCount atomic.Int64
}

// NewPipeline validates the dependencies and wires the indexing core.
func NewPipeline(deps Dependencies) (*Pipeline, error) {
	if err := deps.validate(true); err != nil {
		return nil, err
	}
	if err := deps.fill(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		renderer: deps.Renderer,
		cfg:      deps.Config,
		metadata: deps.Metadata,
		embedder: deps.Embedder,
		lexical:  deps.Lexical,
		vector:   deps.Vector,
		scanner:  deps.Scanner,
	}
	p.idx = &indexer{
		metadata: deps.Metadata,
		lexical:  deps.Lexical,
		vector:   deps.Vector,
		chunker:  deps.Chunker,
		gen:      embed.NewGenerator(deps.Embedder, deps.Config.Embeddings.BatchSize),
		warn:     p.warnf,
	}
	return p, nil
}

// Run executes a full ingest pass: scan the corpus, remove documents that
// no longer exist, index new and changed documents with a worker pool,
// then flush the indexes and record the run state. The caller owns the
// renderer lifecycle (Start before, Stop after).
func (p *Pipeline) Run(ctx context.Context, cfg Config) (*Result, error) {
	if cfg.RootDir == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	start := time.Now()
	p.warnCount.Store(0)

	if err := p.checkEmbedderModel(ctx, cfg.Rebuild); err != nil {
		return nil, err
	}

	var timing ui.StageTimings

	scanStart := time.Now()
	files, err := p.scanCorpus(ctx, cfg.RootDir)
	if err != nil {
		return nil, err
	}
	timing.Scan = time.Since(scanStart)

	// An empty scan is a valid run: every previously indexed document is
	// stale and gets removed below.
	processStart := time.Now()
	removed, err := p.removeStale(ctx, files)
	if err != nil {
		return nil, err
	}

	stats, err := p.processFiles(ctx, files, cfg.Rebuild)
	if err != nil {
		return nil, err
	}
	timing.Process = time.Since(processStart)

	flushStart := time.Now()
	if err := p.flushIndexes(); err != nil {
		return nil, err
	}
	p.storeIndexState(ctx, cfg.RootDir)
	timing.Flush = time.Since(flushStart)

	result := &Result{
		Documents: stats.indexed,
		Chunks:    stats.chunks,
		Skipped:   stats.skipped,
		Removed:   removed + stats.removed,
		Duration:  time.Since(start),
		Warnings:  int(p.warnCount.Load()),
	}
	p.complete(ctx, cfg.RootDir, result, timing)
	return result, nil
}

// checkEmbedderModel refuses to mix embedding models in one index. A
// stored model that differs from the configured one poisons vector
// search, so the run fails before touching anything.
func (p *Pipeline) checkEmbedderModel(ctx context.Context, rebuild bool) error {
	if rebuild {
		return nil
	}
	stored, err := p.metadata.GetState(ctx, store.StateKeyIndexModel)
	if err != nil {
		return fmt.Errorf("read index state: %w", err)
	}
	current := p.embedder.ModelName()
	if stored == "" || stored == current {
		return nil
	}
	stats, err := p.metadata.Stats(ctx)
	if err != nil {
		return fmt.Errorf("read corpus stats: %w", err)
	}
	if stats.DocumentCount == 0 {
		return nil
	}
	return fmt.Errorf("embedder mismatch: index was built with %q but the configured embedder is %q. "+
		"Run 'documind ingest --rebuild' to re-embed the corpus, or restore the original embedder",
		stored, current)
}

func (p *Pipeline) scanCorpus(ctx context.Context, rootDir string) ([]*scanner.FileInfo, error) {
	p.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageScanning,
		Message: "Scanning corpus...",
	})
	slog.Info("ingest_scan_started", slog.String("path", rootDir))

	results, err := p.scanner.Scan(ctx, p.scanOptions(rootDir))
	if err != nil {
		return nil, fmt.Errorf("start corpus scan: %w", err)
	}

	var files []*scanner.FileInfo
	for res := range results {
		if res.Error != nil {
			// Walk errors carry no file.
			path := ""
			if res.File != nil {
				path = res.File.Path
			}
			p.warnf(path, res.Error)
			continue
		}
		files = append(files, res.File)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slog.Info("ingest_scan_finished", slog.Int("files", len(files)))
	return files, nil
}

func (p *Pipeline) scanOptions(rootDir string) *scanner.ScanOptions {
	return &scanner.ScanOptions{
		RootDir:      rootDir,
		IncludeGlobs: p.cfg.Corpus.Include,
		ExcludeGlobs: p.cfg.Corpus.Exclude,
		MaxFileSize:  int64(p.cfg.Corpus.MaxFileSizeMB) * 1024 * 1024,
		MaxFiles:     p.cfg.Performance.MaxFiles,
	}
}

// removeStale drops indexed documents whose files were not found by the
// scan, whether deleted, excluded by new rules, or grown past the size cap.
func (p *Pipeline) removeStale(ctx context.Context, files []*scanner.FileInfo) (int, error) {
	docs, err := p.metadata.ListDocuments(ctx)
	if err != nil {
		return 0, fmt.Errorf("list indexed documents: %w", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		seen[f.Path] = struct{}{}
	}

	removed := 0
	for _, doc := range docs {
		if _, ok := seen[doc.Path]; ok {
			continue
		}
		if err := p.idx.removeDocument(ctx, doc); err != nil {
			return removed, err
		}
		removed++
		slog.Info("document_removed", slog.String("path", doc.Path))
	}
	return removed, nil
}

type processCounts struct {
	indexed int
	chunks  int
	skipped int
	removed int
}

func (p *Pipeline) processFiles(ctx context.Context, files []*scanner.FileInfo, rebuild bool) (processCounts, error) {
	total := len(files)
	p.renderer.UpdateProgress(ui.ProgressEvent{
		Stage: ui.StageProcessing,
		Total: total,
	})

	workers := p.cfg.Performance.IngestWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var indexed, chunks, skipped, removed, done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcome, err := p.idx.indexDocument(gctx, file, rebuild)
			if err != nil {
				return err
			}
			switch outcome.status {
			case statusIndexed:
				indexed.Add(1)
				chunks.Add(int64(outcome.chunks))
			case statusSkipped:
				skipped.Add(1)
			case statusRemoved:
				removed.Add(1)
			}
			p.renderer.UpdateProgress(ui.ProgressEvent{
				Stage:   ui.StageProcessing,
				Current: int(done.Add(1)),
				Total:   total,
				Path:    file.Path,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return processCounts{}, fmt.Errorf("process documents: %w", err)
	}

	return processCounts{
		indexed: int(indexed.Load()),
		chunks:  int(chunks.Load()),
		skipped: int(skipped.Load()),
		removed: int(removed.Load()),
	}, nil
}

func (p *Pipeline) flushIndexes() error {
	p.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageFlushing,
		Message: "Flushing indexes...",
	})
	if err := p.lexical.Flush(); err != nil {
		return fmt.Errorf("flush lexical index: %w", err)
	}
	if err := p.vector.Flush(); err != nil {
		return fmt.Errorf("flush vector index: %w", err)
	}
	return nil
}

// storeIndexState records which embedder and backends built the index,
// plus the ingest timestamp and the ignore file hash the watch startup
// check compares against. Failures here degrade later runs but do not
// invalidate this one, so they only warn.
func (p *Pipeline) storeIndexState(ctx context.Context, rootDir string) {
	entries := map[string]string{
		store.StateKeyIndexModel:          p.embedder.ModelName(),
		store.StateKeyIndexDimension:      strconv.Itoa(p.embedder.Dimensions()),
		store.StateKeyIndexLexicalBackend: p.cfg.Search.LexicalBackend,
		store.StateKeyIndexVectorBackend:  p.cfg.Search.VectorBackend,
		store.StateKeyLastIngest:          time.Now().UTC().Format(time.RFC3339),
		stateIgnoreHash:                   ComputeIgnoreHash(rootDir),
	}
	for key, value := range entries {
		if err := p.metadata.SetState(ctx, key, value); err != nil {
			slog.Warn("failed to store index state",
				slog.String("key", key),
				slog.String("error", err.Error()))
		}
	}
	slog.Info("index_state_stored",
		slog.String("model", p.embedder.ModelName()),
		slog.Int("dimensions", p.embedder.Dimensions()))
}

func (p *Pipeline) complete(ctx context.Context, rootDir string, res *Result, timing ui.StageTimings) {
	info := embed.GetInfo(ctx, p.embedder)
	p.renderer.Complete(ui.CompletionStats{
		Documents: res.Documents,
		Chunks:    res.Chunks,
		Skipped:   res.Skipped,
		Removed:   res.Removed,
		Duration:  res.Duration,
		Errors:    res.Errors,
		Warnings:  res.Warnings,
		Stages:    timing,
		Embedder: ui.EmbedderInfo{
			Provider:   string(info.Provider),
			Model:      info.Model,
			Dimensions: info.Dimensions,
		},
	})

	chunksPerSec := 0.0
	if res.Duration > 0 {
		chunksPerSec = float64(res.Chunks) / res.Duration.Seconds()
	}
	slog.Info("ingest_complete",
		slog.String("path", rootDir),
		slog.Int("documents", res.Documents),
		slog.Int("chunks", res.Chunks),
		slog.Int("skipped", res.Skipped),
		slog.Int("removed", res.Removed),
		slog.Int("warnings", res.Warnings),
		slog.String("duration", res.Duration.Round(time.Millisecond).String()),
		slog.String("scan", timing.Scan.Round(time.Millisecond).String()),
		slog.String("process", timing.Process.Round(time.Millisecond).String()),
		slog.String("flush", timing.Flush.Round(time.Millisecond).String()),
		slog.String("chunks_per_sec", fmt.Sprintf("%.1f", chunksPerSec)),
		slog.String("embedder", info.Model))
}

// warnf reports a non-fatal problem to the renderer and counts it.
func (p *Pipeline) warnf(path string, err error) {
	p.warnCount.Add(1)
	p.renderer.AddError(ui.ErrorEvent{Path: path, Err: err, IsWarn: true})
}

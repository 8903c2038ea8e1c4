package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/documind-hq/documind/internal/config"
	"github.com/documind-hq/documind/internal/embed"
	"github.com/documind-hq/documind/internal/ignore"
	"github.com/documind-hq/documind/internal/scanner"
	"github.com/documind-hq/documind/internal/store"
	"github.com/documind-hq/documind/internal/watcher"
)

// stateIgnoreHash stores the corpus ignore file hash as of the last
// ingest or reconcile, so startup can tell whether the rules changed
// while nothing was watching.
const stateIgnoreHash = "ignore_file_hash"

// Coordinator applies watcher events to the indexes incrementally. All
// mutations run under one mutex, so event batches and reconciles never
// interleave.
type Coordinator struct {
	cfg      *config.Config
	metadata store.MetadataStore
	scanner  *scanner.Scanner
	idx      *indexer
	rootDir  string

	mu sync.Mutex
}

// NewCoordinator wires the indexing core for watch mode. No renderer is
// involved; watch mode reports through the structured log.
func NewCoordinator(deps Dependencies, rootDir string) (*Coordinator, error) {
	if rootDir == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	if err := deps.validate(false); err != nil {
		return nil, err
	}
	if err := deps.fill(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		cfg:      deps.Config,
		metadata: deps.Metadata,
		scanner:  deps.Scanner,
		rootDir:  rootDir,
	}
	c.idx = &indexer{
		metadata: deps.Metadata,
		lexical:  deps.Lexical,
		vector:   deps.Vector,
		chunker:  deps.Chunker,
		gen:      embed.NewGenerator(deps.Embedder, deps.Config.Embeddings.BatchSize),
		warn:     warnToLog,
	}
	return c, nil
}

func warnToLog(path string, err error) {
	slog.Warn("document not indexed",
		slog.String("path", path),
		slog.String("error", err.Error()))
}

// HandleEvents processes one debounced batch in order. A failing event
// is logged and skipped so one bad file cannot stall the watch loop.
// Returns the number of events applied.
func (c *Coordinator) HandleEvents(ctx context.Context, events []watcher.FileEvent) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	processed := 0
	for _, ev := range events {
		if ctx.Err() != nil {
			return processed
		}
		if err := c.handleEvent(ctx, ev); err != nil {
			slog.Warn("failed to process file event",
				slog.String("path", ev.Path),
				slog.String("operation", ev.Operation.String()),
				slog.String("error", err.Error()))
			continue
		}
		processed++
	}
	return processed
}

func (c *Coordinator) handleEvent(ctx context.Context, ev watcher.FileEvent) error {
	switch ev.Operation {
	case watcher.OpIgnoreChange:
		return c.handleIgnoreChange(ctx)
	case watcher.OpConfigChange:
		// Config is loaded once at startup; restart the server to apply
		// the new settings.
		slog.Info("configuration file changed; restart to apply")
		return nil
	}

	// Directory events carry no indexable content. File events follow
	// for anything inside.
	if ev.IsDir {
		return nil
	}

	switch ev.Operation {
	case watcher.OpCreate, watcher.OpModify:
		return c.indexPath(ctx, ev.Path)
	case watcher.OpDelete:
		return c.removePath(ctx, ev.Path)
	case watcher.OpRename:
		// The watcher reports renames as delete + create pairs.
		return nil
	default:
		return nil
	}
}

// indexPath re-runs the eligibility checks before indexing. A path that
// no longer qualifies (excluded, oversized, binary, gone) is removed
// instead, so the index always reflects what a fresh scan would see.
func (c *Coordinator) indexPath(ctx context.Context, relPath string) error {
	file, err := c.scanner.ScanFile(c.rootDir, relPath, c.scanOptions())
	if err != nil {
		return fmt.Errorf("scan %s: %w", relPath, err)
	}
	if file == nil {
		return c.removePath(ctx, relPath)
	}

	outcome, err := c.idx.indexDocument(ctx, file, false)
	if err != nil {
		return err
	}
	if outcome.status == statusIndexed {
		slog.Info("document_indexed",
			slog.String("path", relPath),
			slog.Int("chunks", outcome.chunks))
	}
	return nil
}

func (c *Coordinator) removePath(ctx context.Context, relPath string) error {
	doc, err := c.metadata.GetDocumentByPath(ctx, relPath)
	if err != nil {
		return fmt.Errorf("look up document %s: %w", relPath, err)
	}
	if doc == nil {
		return nil
	}
	if err := c.idx.removeDocument(ctx, doc); err != nil {
		return err
	}
	slog.Info("document_removed", slog.String("path", relPath))
	return nil
}

func (c *Coordinator) handleIgnoreChange(ctx context.Context) error {
	slog.Info("ignore rules changed, reconciling corpus")
	c.scanner.InvalidateIgnoreCache()
	if err := c.reconcile(ctx); err != nil {
		return err
	}
	c.saveIgnoreHash(ctx)
	return nil
}

// saveIgnoreHash stamps the current ignore file hash so the next
// startup can tell whether the eligible set shifted while nothing was
// watching. A failed stamp only costs one extra reconcile, so it is
// logged rather than propagated.
func (c *Coordinator) saveIgnoreHash(ctx context.Context) {
	if err := c.metadata.SetState(ctx, stateIgnoreHash, ComputeIgnoreHash(c.rootDir)); err != nil {
		slog.Warn("failed to save ignore hash", slog.String("error", err.Error()))
	}
}

// Reconcile diffs the corpus against the index: stale documents are
// removed, new and changed ones indexed. Unchanged documents take the
// stat fast path, so reconciling a settled corpus is cheap.
func (c *Coordinator) Reconcile(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconcile(ctx)
}

// ReconcileOnStartup reconciles only when the corpus ignore file changed
// while nothing was running, which shifts the eligible set without
// producing any file events. An index that has never been stamped also
// reconciles, so a fresh server builds itself without a prior ingest.
func (c *Coordinator) ReconcileOnStartup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stored, err := c.metadata.GetState(ctx, stateIgnoreHash)
	if err != nil {
		return fmt.Errorf("read ignore state: %w", err)
	}
	current := ComputeIgnoreHash(c.rootDir)
	if stored == current {
		slog.Debug("ignore rules unchanged since last run")
		return nil
	}

	slog.Info("ignore rules changed while not watching, reconciling corpus")
	c.scanner.InvalidateIgnoreCache()
	if err := c.reconcile(ctx); err != nil {
		return err
	}
	c.saveIgnoreHash(ctx)
	return nil
}

// reconcile holds c.mu.
func (c *Coordinator) reconcile(ctx context.Context) error {
	results, err := c.scanner.Scan(ctx, c.scanOptions())
	if err != nil {
		return fmt.Errorf("start corpus scan: %w", err)
	}

	var files []*scanner.FileInfo
	for res := range results {
		if res.Error != nil {
			// Walk errors carry no file.
			path := ""
			if res.File != nil {
				path = res.File.Path
			}
			warnToLog(path, res.Error)
			continue
		}
		files = append(files, res.File)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		seen[f.Path] = struct{}{}
	}
	docs, err := c.metadata.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("list indexed documents: %w", err)
	}
	removed := 0
	for _, doc := range docs {
		if _, ok := seen[doc.Path]; ok {
			continue
		}
		if err := c.idx.removeDocument(ctx, doc); err != nil {
			return err
		}
		removed++
	}

	indexed := 0
	for _, file := range files {
		outcome, err := c.idx.indexDocument(ctx, file, false)
		if err != nil {
			return err
		}
		if outcome.status == statusIndexed {
			indexed++
		}
	}

	slog.Info("corpus_reconciled",
		slog.Int("files", len(files)),
		slog.Int("indexed", indexed),
		slog.Int("removed", removed))
	return nil
}

// Flush persists buffered index writes. Call it after event bursts
// settle or before shutdown; flushing per event would rewrite the vector
// graph far too often.
func (c *Coordinator) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.idx.lexical.Flush(); err != nil {
		return fmt.Errorf("flush lexical index: %w", err)
	}
	if err := c.idx.vector.Flush(); err != nil {
		return fmt.Errorf("flush vector index: %w", err)
	}
	return nil
}

func (c *Coordinator) scanOptions() *scanner.ScanOptions {
	return &scanner.ScanOptions{
		RootDir:      c.rootDir,
		IncludeGlobs: c.cfg.Corpus.Include,
		ExcludeGlobs: c.cfg.Corpus.Exclude,
		MaxFileSize:  int64(c.cfg.Corpus.MaxFileSizeMB) * 1024 * 1024,
		MaxFiles:     c.cfg.Performance.MaxFiles,
	}
}

// ComputeIgnoreHash hashes the corpus root ignore file. A missing file
// hashes as empty content, so creating and later deleting the file both
// read as changes.
func ComputeIgnoreHash(rootDir string) string {
	raw, err := os.ReadFile(filepath.Join(rootDir, ignore.IgnoreFileName))
	if err != nil {
		raw = nil
	}
	h := sha256.Sum256(raw)
	return hex.EncodeToString(h[:])
}

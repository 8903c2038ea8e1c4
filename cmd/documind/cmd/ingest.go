package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/documind-hq/documind/internal/config"
	"github.com/documind-hq/documind/internal/embed"
	"github.com/documind-hq/documind/internal/ingest"
	"github.com/documind-hq/documind/internal/logging"
	"github.com/documind-hq/documind/internal/store"
	"github.com/documind-hq/documind/internal/ui"
)

func newIngestCmd() *cobra.Command {
	var (
		noTUI    bool
		rebuild  bool
		embedder string
	)

	cmd := &cobra.Command{
		Use:   "ingest [path]",
		Short: "Ingest documents into the knowledge base",
		Long: `Ingest a directory of documents to enable hybrid search.

This scans documents, splits them into hierarchy-aware chunks, generates
embeddings, and builds both the lexical and vector indexes.

Incremental by default: unchanged documents (same content hash) are
skipped, removed documents are dropped from the index. Use --rebuild to
clear everything and re-ingest from scratch.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Signal handling so Ctrl+C cancels in-flight embedding calls.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			// The env override reaches the factory and everything below it.
			if embedder != "" {
				if !embed.IsValidProvider(embedder) {
					return fmt.Errorf("unknown embedder %q (valid options: openai, static)", embedder)
				}
				os.Setenv("DOCUMIND_EMBEDDER", embedder)
			}

			return runIngest(ctx, cmd, path, noTUI, rebuild, false)
		},
	}

	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Disable TUI mode, use plain text output")
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "Clear existing index and re-ingest from scratch")
	cmd.Flags().StringVar(&embedder, "embedder", "", "Embedding provider: openai (default) or static")

	return cmd
}

// runIngestInternal runs an ingest pass without a cobra command, for the
// smart-default flow. Output is plain and logged rather than rendered.
func runIngestInternal(ctx context.Context, root string, offline, rebuild bool) error {
	cmd := &cobra.Command{}
	cmd.SetOut(os.Stderr) // stdout is reserved for MCP in this flow
	return runIngest(ctx, cmd, root, true, rebuild, offline)
}

func runIngest(ctx context.Context, cmd *cobra.Command, path string, noTUI, rebuild, offline bool) error {
	// File-only logging keeps the progress renderer's terminal clean.
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("failed to access path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", absPath)
	}

	root, err := resolveRoot(absPath)
	if err != nil {
		return err
	}
	cfg := loadConfig(root)

	dataDir := config.DataDir(root)
	if rebuild {
		if err := clearIndexData(dataDir); err != nil {
			return fmt.Errorf("failed to clear index data: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Cleared existing index data, starting fresh...")
		slog.Info("ingest_rebuild_clear", slog.String("data_dir", dataDir))
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// One writer at a time per data dir.
	lock := store.NewDirLock(dataDir)
	if err := lock.Acquire(); err != nil {
		return fmt.Errorf("another documind process is using this corpus: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	uiCfg := ui.NewConfig(cmd.OutOrStdout(), ui.WithForcePlain(noTUI), ui.WithCorpusDir(root))
	renderer := ui.NewRenderer(uiCfg)
	if err := renderer.Start(ctx); err != nil {
		slog.Warn("failed to start progress renderer", slog.String("error", err.Error()))
	}
	defer func() { _ = renderer.Stop() }()

	metadata, err := store.NewSQLiteStore(metadataDBPath(dataDir))
	if err != nil {
		return fmt.Errorf("failed to create metadata store: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	lexical, err := store.NewLexicalIndexWithBackend(
		store.LexicalIndexBasePath(dataDir), store.DefaultLexicalConfig(), cfg.Search.LexicalBackend)
	if err != nil {
		return fmt.Errorf("failed to create lexical index: %w", err)
	}
	defer func() { _ = lexical.Close() }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	e := &env{Root: root, DataDir: dataDir, Config: cfg}
	if err := e.openEmbedder(ctx, offline); err != nil {
		return err
	}
	defer e.Close()

	vector, err := store.NewVectorIndexWithBackend(ctx,
		store.VectorIndexBasePath(dataDir),
		store.DefaultVectorIndexConfig(e.Embedder.Dimensions()),
		cfg.Search.VectorBackend,
		store.QdrantConfig{URL: cfg.Search.QdrantURL, Dimensions: e.Embedder.Dimensions()},
	)
	if err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}
	defer func() { _ = vector.Close() }()

	pipeline, err := ingest.NewPipeline(ingest.Dependencies{
		Renderer: renderer,
		Config:   cfg,
		Metadata: metadata,
		Lexical:  lexical,
		Vector:   vector,
		Embedder: e.Embedder,
	})
	if err != nil {
		return fmt.Errorf("failed to create ingest pipeline: %w", err)
	}

	_, err = pipeline.Run(ctx, ingest.Config{
		RootDir: root,
		Rebuild: rebuild,
	})
	return err
}

// clearIndexData removes index files from the data directory, preserving
// the lock file, logs and config (config lives at the corpus root anyway).
func clearIndexData(dataDir string) error {
	indexFiles := []string{
		metadataDBPath(dataDir),
		metadataDBPath(dataDir) + "-shm",
		metadataDBPath(dataDir) + "-wal",
		store.LexicalIndexBasePath(dataDir) + ".db",
		store.LexicalIndexBasePath(dataDir) + ".db-shm",
		store.LexicalIndexBasePath(dataDir) + ".db-wal",
		store.LexicalIndexBasePath(dataDir) + ".bleve",
		store.VectorIndexBasePath(dataDir) + ".hnsw",
	}

	for _, path := range indexFiles {
		if err := os.RemoveAll(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

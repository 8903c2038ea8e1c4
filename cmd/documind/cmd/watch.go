package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/documind-hq/documind/internal/ingest"
	"github.com/documind-hq/documind/internal/logging"
	"github.com/documind-hq/documind/internal/output"
	"github.com/documind-hq/documind/internal/store"
	"github.com/documind-hq/documind/internal/watcher"
)

func newWatchCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Watch the corpus and keep the index fresh",
		Long: `Watch the corpus for document changes and update the index
incrementally.

Creates, edits, renames and deletions are picked up, debounced, and
applied to all three indexes. Changes to the ignore rules trigger a
full reconcile. The watcher prefers OS file notifications and falls
back to polling on filesystems that do not support them (network
mounts, some containers).

Runs until interrupted. The index stays consistent at every point, so
searches against the corpus keep working while watch runs.`,
		Example: `  # Watch the current corpus
  documind watch

  # Watch a specific corpus
  documind watch ~/handbook`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runWatch(ctx, cmd, path, offline)
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Use static embeddings (no embedding service needed)")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, path string, offline bool) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}

	root, err := resolveRoot(path)
	if err != nil {
		return err
	}
	cfg := loadConfig(root)

	dataDir, err := requireIndex(root)
	if err != nil {
		return err
	}

	// Watch mutates the index, so it takes the writer lock for its whole
	// lifetime. Ingest and a second watch are excluded; search is not.
	lock := store.NewDirLock(dataDir)
	if err := lock.Acquire(); err != nil {
		return fmt.Errorf("another documind process is using this corpus: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	e, err := openStores(ctx, root, cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.openEmbedder(ctx, offline); err != nil {
		return err
	}

	coordinator, err := ingest.NewCoordinator(ingest.Dependencies{
		Config:   cfg,
		Metadata: e.Metadata,
		Lexical:  e.Lexical,
		Vector:   e.Vector,
		Embedder: e.Embedder,
	}, root)
	if err != nil {
		return fmt.Errorf("failed to create watch coordinator: %w", err)
	}

	// Catch up on anything that changed while nothing was watching.
	if err := coordinator.ReconcileOnStartup(ctx); err != nil {
		return fmt.Errorf("startup reconcile failed: %w", err)
	}

	opts := watcher.DefaultOptions()
	opts.ExcludeGlobs = cfg.Corpus.Exclude
	if cfg.Performance.WatchDebounce != "" {
		if d, err := time.ParseDuration(cfg.Performance.WatchDebounce); err == nil && d > 0 {
			opts.DebounceWindow = d
		}
	}

	w, err := watcher.NewHybridWatcher(opts)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Start(ctx, root); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer func() { _ = w.Stop() }()

	out := output.New(cmd.OutOrStdout(), useColor(cmd.OutOrStdout()))
	out.Successf("Watching %s (%s mode)", root, w.WatcherType())
	out.Status("", "Press Ctrl+C to stop")

	slog.Info("watch started",
		slog.String("root", root),
		slog.String("watcher", w.WatcherType()),
		slog.Duration("debounce", opts.DebounceWindow))

	errs := w.Errors()
	for {
		select {
		case <-ctx.Done():
			// Flush so a Ctrl+C never leaves buffered index writes behind.
			if err := coordinator.Flush(); err != nil {
				slog.Warn("final flush failed", slog.String("error", err.Error()))
			}
			out.Newline()
			out.Status("", "Watch stopped")
			return nil

		case events, ok := <-w.Events():
			if !ok {
				return fmt.Errorf("watcher stopped unexpectedly")
			}
			processed := coordinator.HandleEvents(ctx, events)
			if processed > 0 {
				if err := coordinator.Flush(); err != nil {
					slog.Warn("index flush failed", slog.String("error", err.Error()))
				}
				out.Statusf("", "Applied %d change(s)", processed)
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil // stop selecting on the closed channel
				continue
			}
			slog.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

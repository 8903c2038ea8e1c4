package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/documind-hq/documind/internal/config"
	"github.com/documind-hq/documind/internal/embed"
	"github.com/documind-hq/documind/internal/store"
	"github.com/documind-hq/documind/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show knowledge base health and status",
		Long: `Display information about the knowledge base including:
  - Number of indexed documents and chunks
  - Last ingest time
  - Storage sizes (metadata, lexical, vector)
  - Configured backends and embedder status`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	root, err := resolveRoot(".")
	if err != nil {
		return err
	}

	dataDir, err := requireIndex(root)
	if err != nil {
		return err
	}

	info, err := collectStatus(ctx, root, dataDir)
	if err != nil {
		return fmt.Errorf("failed to collect status: %w", err)
	}

	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.DetectNoColor())
	if jsonOutput {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

func collectStatus(ctx context.Context, root, dataDir string) (ui.StatusInfo, error) {
	info := ui.StatusInfo{
		CorpusName: filepath.Base(root),
	}

	metadata, err := store.NewSQLiteStore(metadataDBPath(dataDir))
	if err != nil {
		return info, fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	if stats, err := metadata.Stats(ctx); err == nil && stats != nil {
		info.TotalDocuments = stats.DocumentCount
		info.TotalChunks = stats.ChunkCount
	}
	if last, err := metadata.GetState(ctx, store.StateKeyLastIngest); err == nil && last != "" {
		if t, parseErr := time.Parse(time.RFC3339, last); parseErr == nil {
			info.LastIngest = t
		}
	}

	cfg := loadConfig(root)

	info.LexicalBackend = cfg.Search.LexicalBackend
	if detected := store.DetectLexicalBackend(store.LexicalIndexBasePath(dataDir)); detected != "" {
		info.LexicalBackend = string(detected)
	}
	info.VectorBackend = cfg.Search.VectorBackend
	if b, err := metadata.GetState(ctx, store.StateKeyIndexVectorBackend); err == nil && b != "" {
		info.VectorBackend = b
	}

	info.MetadataSize = getFileSize(metadataDBPath(dataDir))
	lexBase := store.LexicalIndexBasePath(dataDir)
	if size := getFileSize(lexBase + ".db"); size > 0 {
		info.LexicalSize = size
	} else {
		info.LexicalSize = getDirSize(lexBase + ".bleve")
	}
	info.VectorSize = getFileSize(store.VectorIndexBasePath(dataDir) + ".hnsw")
	info.TotalSize = info.MetadataSize + info.LexicalSize + info.VectorSize

	info.EmbedderProvider = cfg.Embeddings.Provider
	if info.EmbedderProvider == "" {
		info.EmbedderProvider = string(embed.ProviderOpenAI)
	}
	info.EmbedderModel = cfg.Embeddings.Model
	if model, err := metadata.GetState(ctx, store.StateKeyIndexModel); err == nil && model != "" {
		info.EmbedderModel = model
	}
	info.EmbedderStatus = probeEmbedder(ctx, cfg)

	// No cross-process watcher discovery; watch mode runs in the foreground.
	info.WatcherStatus = "n/a"

	return info, nil
}

// probeEmbedder checks whether the configured embedding service answers.
func probeEmbedder(ctx context.Context, cfg *config.Config) string {
	if embed.ParseProvider(cfg.Embeddings.Provider) == embed.ProviderStatic {
		return "ready"
	}

	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	embedder, err := embed.NewEmbedder(probeCtx, embed.ParseProvider(cfg.Embeddings.Provider), cfg.Embeddings.Model)
	if err != nil {
		return "offline"
	}
	defer func() { _ = embedder.Close() }()

	if embedder.Available(probeCtx) {
		return "ready"
	}
	return "offline"
}

// getFileSize returns the size of a file in bytes, 0 when absent.
func getFileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// getDirSize returns the total size of all files in a directory.
func getDirSize(path string) int64 {
	var size int64
	_ = filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size
}

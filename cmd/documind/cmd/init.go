package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/documind-hq/documind/configs"
	"github.com/documind-hq/documind/internal/config"
	"github.com/documind-hq/documind/internal/output"
)

func newInitCmd() *cobra.Command {
	var (
		force      bool
		offline    bool
		configOnly bool
	)

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Initialize a document corpus",
		Long: `Initialize DocuMind for a document corpus.

This command:
1. Generates a .documind.yaml configuration template at the corpus root
2. Suggests include patterns based on discovered documentation directories
3. Verifies the embedding service (or falls back to static embeddings)
4. Ingests the corpus with a progress display (unless --config-only)

The generated .documind.yaml is meant to be version-controlled alongside
the documents; index data lives in .documind/ which should be ignored.`,
		Example: `  # Initialize the current directory
  documind init

  # Initialize a specific directory
  documind init ~/handbook

  # Regenerate config only (skip ingestion)
  documind init --force --config-only

  # Use static embeddings (no embedding service required)
  documind init --offline`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runInit(ctx, cmd, path, force, offline, configOnly)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")
	cmd.Flags().BoolVar(&offline, "offline", false, "Use static embeddings (no embedding service required)")
	cmd.Flags().BoolVar(&configOnly, "config-only", false, "Write configuration only, skip ingestion")

	return cmd
}

func runInit(ctx context.Context, cmd *cobra.Command, path string, force, offline, configOnly bool) error {
	out := output.New(cmd.OutOrStdout(), useColor(cmd.OutOrStdout()))

	root, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("cannot access %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", root)
	}

	out.Header("DocuMind Init")
	out.Field("corpus", root)
	out.Newline()

	configPath := filepath.Join(root, config.ProjectConfigName)
	switch {
	case fileExists(configPath) && !force:
		out.Status("", fmt.Sprintf("%s already exists (use --force to overwrite)", config.ProjectConfigName))
	default:
		if err := writeProjectConfig(root, configPath); err != nil {
			return err
		}
		out.Successf("Created %s", config.ProjectConfigName)
	}

	if docDirs := config.DiscoverDocDirs(root); len(docDirs) > 0 {
		out.Statusf("", "Discovered documentation sources: %s", strings.Join(docDirs, ", "))
	}

	if err := ensureDataDirIgnored(root, out); err != nil {
		return err
	}

	// Embedder probe is informational: ingest falls back to static
	// embeddings when no service is reachable.
	if !offline {
		cfg := loadConfig(root)
		if probeEmbedder(ctx, cfg) == "ready" {
			out.Successf("Embedding service ready (%s)", cfg.Embeddings.Provider)
		} else {
			out.Warning("No embedding service reachable; ingest will use static embeddings")
			out.Status("", "Set DOCUMIND_EMBED_URL once a service is up, then 'documind ingest --rebuild'")
		}
	}

	if configOnly {
		out.Newline()
		out.Success("Configuration complete. Run 'documind ingest' to build the index.")
		return nil
	}

	out.Newline()
	return runIngest(ctx, cmd, root, false, false, offline)
}

// writeProjectConfig writes the embedded template, substituting discovered
// doc directories into the include patterns when any are found.
func writeProjectConfig(root, configPath string) error {
	content := configs.ProjectConfigTemplate

	if docDirs := config.DiscoverDocDirs(root); len(docDirs) > 0 {
		var patterns strings.Builder
		patterns.WriteString("  include:")
		for _, d := range docDirs {
			if strings.Contains(d, ".") {
				patterns.WriteString(fmt.Sprintf("\n    - %q", d))
			} else {
				patterns.WriteString(fmt.Sprintf("\n    - %q", d+"/**"))
			}
		}
		content = strings.Replace(content, "  include: []", patterns.String(), 1)
	}

	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", configPath, err)
	}
	return nil
}

// ensureDataDirIgnored appends .documind/ to .gitignore when the corpus is
// a git repository and the entry is missing.
func ensureDataDirIgnored(root string, out *output.Writer) error {
	if !dirExists(filepath.Join(root, ".git")) {
		return nil
	}

	gitignorePath := filepath.Join(root, ".gitignore")
	data, err := os.ReadFile(gitignorePath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read .gitignore: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == ".documind/" || trimmed == ".documind" {
			return nil
		}
	}

	entry := ".documind/\n"
	if len(data) > 0 && !strings.HasSuffix(string(data), "\n") {
		entry = "\n" + entry
	}

	f, err := os.OpenFile(gitignorePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to update .gitignore: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(entry); err != nil {
		return fmt.Errorf("failed to update .gitignore: %w", err)
	}
	out.Status("", "Added .documind/ to .gitignore")
	return nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/documind-hq/documind/internal/config"
	"github.com/documind-hq/documind/internal/index"
	"github.com/documind-hq/documind/internal/output"
	"github.com/documind-hq/documind/internal/preflight"
)

func newDoctorCmd() *cobra.Command {
	var (
		verbose    bool
		jsonOutput bool
		offline    bool
		repair     bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system requirements and index consistency",
		Long: `Run diagnostics to ensure DocuMind can operate correctly.

System checks:
  - Disk space (100MB minimum)
  - Memory availability (1GB minimum)
  - Write permissions
  - File descriptor limits (1024 minimum)
  - Embedding service reachability

Index checks (when an index exists):
  - Metadata / lexical / vector chunk agreement
  - Orphaned index entries

Embedder checks are warnings, not failures: ingest can run with static
embeddings and search degrades to lexical-only.`,
		Example: `  # Run diagnostics
  documind doctor

  # Delete orphaned index entries
  documind doctor --repair

  # JSON output for scripting
  documind doctor --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, verbose, jsonOutput, offline, repair)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed diagnostic info")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&offline, "offline", false, "Skip the embedding service probe")
	cmd.Flags().BoolVar(&repair, "repair", false, "Delete orphaned index entries")

	return cmd
}

// doctorReport is the JSON shape of a doctor run.
type doctorReport struct {
	Summary     string                  `json:"summary"`
	Checks      []preflight.CheckResult `json:"checks"`
	Consistency *consistencyReport      `json:"consistency,omitempty"`
}

type consistencyReport struct {
	Consistent     bool     `json:"consistent"`
	CheckedChunks  int      `json:"checked_chunks"`
	MissingVectors int      `json:"missing_vectors"`
	Issues         []string `json:"issues,omitempty"`
	Repaired       bool     `json:"repaired,omitempty"`
}

func runDoctor(cmd *cobra.Command, verbose, jsonOutput, offline, repair bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, err := resolveRoot(".")
	if err != nil {
		return err
	}
	cfg := loadConfig(root)

	checker := preflight.New(
		preflight.WithOffline(offline),
		preflight.WithVerbose(verbose),
		preflight.WithOutput(cmd.OutOrStdout()),
		preflight.WithEmbedder(cfg.Embeddings.Provider, cfg.Embeddings.Endpoint),
	)
	results := checker.RunAll(ctx, root)

	report := doctorReport{
		Summary: checker.SummaryStatus(results),
		Checks:  results,
	}

	// Consistency only applies once an index exists.
	dataDir := config.DataDir(root)
	if fileExists(metadataDBPath(dataDir)) {
		consistency, err := checkConsistency(ctx, root, cfg, repair)
		if err != nil {
			return err
		}
		report.Consistency = consistency
	}

	out := output.New(cmd.OutOrStdout(), useColor(cmd.OutOrStdout()))
	if jsonOutput {
		return out.JSON(report)
	}

	checker.PrintResults(results)

	if report.Consistency != nil {
		out.Newline()
		out.Header("Index Consistency")
		c := report.Consistency
		out.Field("chunks checked", fmt.Sprintf("%d", c.CheckedChunks))
		if c.MissingVectors > 0 {
			out.Warningf("%d chunks have no vector (embedding fallback or lost writes)", c.MissingVectors)
		}
		switch {
		case c.Consistent:
			out.Success("Indexes are consistent")
		case c.Repaired:
			out.Success("Orphaned entries removed; missing entries need 'documind ingest --rebuild'")
		default:
			for _, issue := range c.Issues {
				out.Warning(issue)
			}
			out.Status("", "Run 'documind doctor --repair' to delete orphans, or 'documind ingest --rebuild' to rebuild.")
		}
	}

	if checker.HasCriticalFailures(results) {
		return fmt.Errorf("system check failed")
	}
	return nil
}

func checkConsistency(ctx context.Context, root string, cfg *config.Config, repair bool) (*consistencyReport, error) {
	e, err := openStores(ctx, root, cfg)
	if err != nil {
		return nil, err
	}
	defer e.Close()

	checker := index.NewConsistencyChecker(e.Metadata, e.Lexical, e.Vector)
	result, err := checker.Check(ctx)
	if err != nil {
		return nil, fmt.Errorf("consistency check failed: %w", err)
	}

	report := &consistencyReport{
		Consistent:     len(result.Inconsistencies) == 0,
		CheckedChunks:  result.Checked,
		MissingVectors: result.MissingVectors(),
	}
	for _, issue := range result.Inconsistencies {
		report.Issues = append(report.Issues, fmt.Sprintf("%s: chunk %s", issue.Type, issue.ChunkID))
	}

	if repair && len(result.Inconsistencies) > 0 {
		if err := checker.Repair(ctx, result.Inconsistencies); err != nil {
			return nil, fmt.Errorf("repair failed: %w", err)
		}
		report.Repaired = true
	}

	return report, nil
}

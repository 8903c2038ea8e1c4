// Package cmd provides the CLI commands for DocuMind.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/documind-hq/documind/internal/config"
	"github.com/documind-hq/documind/internal/logging"
	"github.com/documind-hq/documind/internal/preflight"
	"github.com/documind-hq/documind/internal/profiling"
	"github.com/documind-hq/documind/pkg/version"
)

// Profiling flags.
var (
	profileCPU   string
	profileMem   string
	profileTrace string
	profiler     = profiling.NewProfiler()
	cpuCleanup   func()
	traceCleanup func()
)

// Debug logging flag.
var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the documind CLI.
func NewRootCmd() *cobra.Command {
	var offline bool
	var reingest bool
	var skipCheck bool

	cmd := &cobra.Command{
		Use:   "documind",
		Short: "Local-first document knowledge base with verifiable citations",
		Long: `DocuMind turns a directory of documents into a queryable knowledge
base: hybrid search (BM25 + semantic) with score fusion, optional
reranking, and citations that map answers back to exact source spans.

Running 'documind' with no arguments ingests the corpus if needed and
starts the MCP server on stdio.`,
		Version: version.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return cmd.Help()
			}
			return runSmartDefault(cmd.Context(), offline, reingest, skipCheck)
		},
	}

	cmd.SetVersionTemplate("documind version {{.Version}}\n")

	cmd.Flags().BoolVar(&offline, "offline", false, "Use static embeddings (no embedding service needed)")
	cmd.Flags().BoolVar(&reingest, "reingest", false, "Force re-ingest even if an index exists")
	cmd.Flags().BoolVar(&skipCheck, "skip-check", false, "Skip pre-flight system checks")

	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.documind/logs/")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newCiteCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging starts CPU/trace profiling and debug logging if flags are set.
func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	var err error

	if debugMode {
		logger, cleanup, err := logging.Setup(logging.DebugConfig())
		if err != nil {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		loggingCleanup = cleanup
		slog.SetDefault(logger)
		slog.Info("Debug logging enabled",
			slog.String("log_file", logging.DefaultLogPath()))
	}

	if profileCPU != "" {
		cpuCleanup, err = profiler.StartCPU(profileCPU)
		if err != nil {
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
	}

	if profileTrace != "" {
		traceCleanup, err = profiler.StartTrace(profileTrace)
		if err != nil {
			if cpuCleanup != nil {
				cpuCleanup()
			}
			return fmt.Errorf("failed to start trace: %w", err)
		}
	}

	return nil
}

// stopProfilingAndLogging stops profiling and logging, writes memory profile if requested.
func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if cpuCleanup != nil {
		cpuCleanup()
		cpuCleanup = nil
	}

	if traceCleanup != nil {
		traceCleanup()
		traceCleanup = nil
	}

	if profileMem != "" {
		if err := profiler.WriteHeap(profileMem); err != nil {
			return fmt.Errorf("failed to write memory profile: %w", err)
		}
	}

	if loggingCleanup != nil {
		slog.Info("Debug logging stopped")
		loggingCleanup()
		loggingCleanup = nil
	}

	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// runSmartDefault implements the zero-argument flow: check, ingest if
// needed, serve. The MCP protocol requires stdout to carry nothing but
// JSON-RPC, so every status line goes to the log file instead; use
// 'documind status' or 'documind doctor' for diagnostics.
func runSmartDefault(ctx context.Context, offline, reingest, skipCheck bool) error {
	root, err := config.FindCorpusRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	dataDir := config.DataDir(root)

	if !skipCheck && preflight.NeedsCheck(dataDir) {
		checker := preflight.New(
			preflight.WithOffline(offline),
			preflight.WithOutput(io.Discard), // stdout belongs to MCP
		)
		results := checker.RunAll(ctx, root)

		if checker.HasCriticalFailures(results) {
			slog.Error("System check failed - run 'documind doctor' for diagnostics")
			return fmt.Errorf("system check failed")
		}

		if err := preflight.MarkPassed(dataDir); err != nil {
			slog.Debug("Failed to mark preflight as passed", slog.String("error", err.Error()))
		}
	}

	needsIngest := reingest || !fileExists(metadataDBPath(dataDir))
	if needsIngest {
		slog.Info("Index not found, ingesting corpus", slog.String("root", root))
		if err := runIngestInternal(ctx, root, offline, reingest); err != nil {
			slog.Error("Ingest failed", slog.String("error", err.Error()))
			return fmt.Errorf("ingest failed: %w", err)
		}
		slog.Info("Ingest complete")
	}

	// No stdout output may happen before this point.
	return runServe(ctx, "stdio")
}

// fileExists checks if a file exists.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

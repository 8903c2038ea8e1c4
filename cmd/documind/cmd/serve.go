package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/documind-hq/documind/internal/cite"
	"github.com/documind-hq/documind/internal/logging"
	"github.com/documind-hq/documind/internal/mcp"
	"github.com/documind-hq/documind/internal/search"
	"github.com/documind-hq/documind/internal/store"
	"github.com/documind-hq/documind/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	var transport string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the Model Context Protocol server for AI clients.

The server exposes the corpus through three tools:
  search        - hybrid keyword + semantic retrieval with provenance
  cite          - resolve answer spans into verifiable citations
  corpus_status - index readiness and embedder capability

With the stdio transport, stdout carries nothing but JSON-RPC; all
logging goes to the log file.`,
		Example: `  # Start on stdio (what MCP clients expect)
  documind serve

  # MCP client configuration (e.g. in an mcpServers block):
  #   "documind": {"command": "documind", "args": ["serve"]}`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, transport)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "MCP transport (stdio)")

	return cmd
}

// runServe wires the retrieval pipeline into an MCP server and blocks
// until the context is canceled or the client hangs up.
func runServe(ctx context.Context, transport string) error {
	root, err := resolveRoot(".")
	if err != nil {
		return err
	}
	cfg := loadConfig(root)

	// Stdout belongs to JSON-RPC; logs go to the file sink only.
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if cfg.Server.LogLevel != "" {
		logCfg.Level = cfg.Server.LogLevel
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer cleanup()
	slog.SetDefault(logger)

	if transport == "" {
		transport = cfg.Server.Transport
	}
	if transport == "" {
		transport = "stdio"
	}

	e, err := openStores(ctx, root, cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.openEmbedder(ctx, false); err != nil {
		// Search still works lexical-only; static embeddings keep the
		// vector branch dimensionally consistent.
		slog.Warn("Embedder unavailable, using static fallback", slog.String("error", err.Error()))
		if err := e.openEmbedder(ctx, true); err != nil {
			return err
		}
	}

	var (
		metrics    *telemetry.QueryMetrics
		engineOpts []search.EngineOption
	)
	if cfg.Telemetry.Enabled {
		if sqlStore, ok := e.Metadata.(*store.SQLiteStore); ok {
			metricsStore, err := telemetry.NewSQLiteMetricsStore(sqlStore.DB())
			if err != nil {
				slog.Warn("Telemetry disabled", slog.String("error", err.Error()))
			} else {
				metrics = telemetry.NewQueryMetrics(metricsStore)
				engineOpts = append(engineOpts, search.WithObserver(metrics))
			}
		}
	}

	engine, err := e.buildEngine(ctx, engineOpts...)
	if err != nil {
		return fmt.Errorf("failed to build search engine: %w", err)
	}

	server, err := mcp.NewServer(engine, cite.NewResolver(e.Metadata), e.Metadata, e.Embedder, cfg, root)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	if metrics != nil {
		server.SetMetrics(metrics)
	}
	defer func() { _ = server.Close() }()

	return server.Serve(ctx, transport)
}

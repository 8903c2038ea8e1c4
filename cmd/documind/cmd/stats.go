package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/documind-hq/documind/internal/output"
	"github.com/documind-hq/documind/internal/store"
	"github.com/documind-hq/documind/internal/telemetry"
)

func newStatsCmd() *cobra.Command {
	var (
		jsonOutput bool
		days       int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show query statistics",
		Long: `Display local query telemetry collected while serving:
  - Query type distribution (lexical / semantic / mixed)
  - Most frequent query terms
  - Recent zero-result queries (coverage gaps in the corpus)
  - Latency histogram

Telemetry is stored in the corpus data directory and never leaves the
machine. Disable it with telemetry.enabled: false in .documind.yaml.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Context(), cmd, jsonOutput, days)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&days, "days", 30, "How many days of history to include")

	return cmd
}

// statsReport is the aggregate the command renders.
type statsReport struct {
	From        string                    `json:"from"`
	To          string                    `json:"to"`
	QueryTypes  map[string]int64          `json:"query_types"`
	TopTerms    []telemetry.TermCount     `json:"top_terms"`
	ZeroResults []telemetry.ZeroResultQuery `json:"zero_result_queries"`
	Latency     map[string]int64          `json:"latency_buckets"`
}

func runStats(ctx context.Context, cmd *cobra.Command, jsonOutput bool, days int) error {
	root, err := resolveRoot(".")
	if err != nil {
		return err
	}
	dataDir, err := requireIndex(root)
	if err != nil {
		return err
	}

	metadata, err := store.NewSQLiteStore(metadataDBPath(dataDir))
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	metrics, err := telemetry.NewSQLiteMetricsStore(metadata.DB())
	if err != nil {
		return fmt.Errorf("failed to open telemetry store: %w", err)
	}

	if days <= 0 {
		days = 30
	}
	to := time.Now().Format("2006-01-02")
	from := time.Now().AddDate(0, 0, -days).Format("2006-01-02")

	report := statsReport{From: from, To: to}

	if report.QueryTypes, err = metrics.GetQueryTypeCounts(from, to); err != nil {
		return fmt.Errorf("failed to read query type counts: %w", err)
	}
	if report.TopTerms, err = metrics.GetTopTerms(10); err != nil {
		return fmt.Errorf("failed to read top terms: %w", err)
	}
	if report.ZeroResults, err = metrics.GetZeroResultQueries(10); err != nil {
		return fmt.Errorf("failed to read zero-result queries: %w", err)
	}
	latency, err := metrics.GetLatencyCounts(from, to)
	if err != nil {
		return fmt.Errorf("failed to read latency counts: %w", err)
	}
	report.Latency = make(map[string]int64, len(latency))
	for bucket, count := range latency {
		report.Latency[string(bucket)] = count
	}

	out := output.New(cmd.OutOrStdout(), useColor(cmd.OutOrStdout()))
	if jsonOutput {
		return out.JSON(report)
	}
	renderStats(out, report, latency)
	return nil
}

func renderStats(out *output.Writer, report statsReport, latency map[telemetry.LatencyBucket]int64) {
	out.Header(fmt.Sprintf("Query Statistics (%s to %s)", report.From, report.To))
	out.Newline()

	var total int64
	for _, c := range report.QueryTypes {
		total += c
	}
	if total == 0 {
		out.Status("", "No queries recorded yet. Stats accumulate while 'documind serve' runs.")
		return
	}

	out.Header("Query Types")
	var maxType int64
	for _, c := range report.QueryTypes {
		if c > maxType {
			maxType = c
		}
	}
	for _, qt := range []string{"LEXICAL", "SEMANTIC", "MIXED"} {
		count := report.QueryTypes[qt]
		out.Field(qt, fmt.Sprintf("%s %d", output.Bar(count, maxType, 20), count))
	}
	out.Newline()

	if len(report.TopTerms) > 0 {
		out.Header("Top Query Terms")
		for _, tc := range report.TopTerms {
			out.Field(tc.Term, fmt.Sprintf("%d", tc.Count))
		}
		out.Newline()
	}

	if len(report.ZeroResults) > 0 {
		out.Header("Recent Zero-Result Queries")
		for _, zq := range report.ZeroResults {
			out.Statusf("", "  %q", zq.Query)
		}
		out.Newline()
	}

	out.Header("Latency")
	var maxLatency int64
	for _, c := range latency {
		if c > maxLatency {
			maxLatency = c
		}
	}
	var series []int64
	for _, bucket := range telemetry.LatencyBuckets() {
		count := latency[bucket]
		series = append(series, count)
		out.Field(string(bucket), fmt.Sprintf("%s %d", output.Bar(count, maxLatency, 20), count))
	}
	out.Field("trend", output.Sparkline(series))
}

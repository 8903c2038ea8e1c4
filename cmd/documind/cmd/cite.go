package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/documind-hq/documind/internal/cite"
	"github.com/documind-hq/documind/internal/logging"
	"github.com/documind-hq/documind/internal/output"
	"github.com/documind-hq/documind/internal/search"
)

func newCiteCmd() *cobra.Command {
	var (
		limit   int
		jsonOut bool
		offline bool
	)

	cmd := &cobra.Command{
		Use:   "cite <query> <chunk-ref>...",
		Short: "Resolve answer references to verifiable citations",
		Long: `Resolve chunk references against the candidate set of a query.

Runs the hybrid query, then resolves each reference the way the MCP cite
tool does for generated answers: a reference is only cited if its chunk
was in the query's candidate set, so citations can never be fabricated.

A chunk-ref is a chunk id, optionally narrowed to a rune range within
the chunk text: <chunk_id>[:<start>-<end>].

Examples:
  documind cite "refund policy" a1b2c3d4_chunk_0
  documind cite "refund policy" a1b2c3d4_chunk_0:120-240 a1b2c3d4_chunk_3`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCite(cmd.Context(), cmd, args[0], args[1:], limit, jsonOut, offline)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Candidate set size for the query")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&offline, "offline", false, "Use static embeddings for the query vector")

	return cmd
}

// parseSpan parses "<chunk_id>[:<start>-<end>]" into an AnswerSpan.
func parseSpan(ref string) (cite.AnswerSpan, error) {
	id, rangePart, hasRange := strings.Cut(ref, ":")
	span := cite.AnswerSpan{ChunkID: id}
	if !hasRange {
		return span, nil
	}

	startStr, endStr, ok := strings.Cut(rangePart, "-")
	if !ok {
		return span, fmt.Errorf("invalid span %q: range must be <start>-<end>", ref)
	}
	start, err := strconv.Atoi(startStr)
	if err != nil {
		return span, fmt.Errorf("invalid span %q: %w", ref, err)
	}
	end, err := strconv.Atoi(endStr)
	if err != nil {
		return span, fmt.Errorf("invalid span %q: %w", ref, err)
	}
	span.Start, span.End = start, end
	return span, nil
}

func runCite(ctx context.Context, cmd *cobra.Command, query string, refs []string, limit int, jsonOut, offline bool) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if _, cleanup, err := logging.Setup(logCfg); err == nil {
		defer cleanup()
	}

	spans := make([]cite.AnswerSpan, 0, len(refs))
	for _, ref := range refs {
		span, err := parseSpan(ref)
		if err != nil {
			return err
		}
		spans = append(spans, span)
	}

	out := output.New(cmd.OutOrStdout(), useColor(cmd.OutOrStdout()))

	root, err := resolveRoot(".")
	if err != nil {
		return err
	}
	cfg := loadConfig(root)

	e, err := openStores(ctx, root, cfg)
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.openEmbedder(ctx, offline); err != nil {
		return err
	}

	engine, err := e.buildEngine(ctx)
	if err != nil {
		return fmt.Errorf("failed to create search engine: %w", err)
	}
	defer func() { _ = engine.Close() }()

	resp, err := engine.Search(ctx, query, search.Options{TopK: limit})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	resolver := cite.NewResolver(e.Metadata)
	citations, warnings := resolver.Resolve(ctx, spans, resp.Results)

	if jsonOut {
		return out.JSON(struct {
			Citations []cite.Citation  `json:"citations"`
			Warnings  []search.Warning `json:"warnings,omitempty"`
		}{citations, warnings})
	}

	for _, w := range warnings {
		out.Warningf("%s: %s", w.Code, w.Message)
	}

	if len(citations) == 0 {
		out.Status("", "No references resolved to citations")
		return nil
	}

	out.Statusf("📎", "Resolved %d citation(s) for %q:", len(citations), query)
	out.Newline()
	for i, c := range citations {
		out.Statusf("", "%d. %s", i+1, c.Format())
		out.Statusf("", "   chunk %s, chars [%d, %d)", c.ChunkID, c.CharRange.Start, c.CharRange.End)
	}
	return nil
}

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/documind-hq/documind/internal/logging"
	"github.com/documind-hq/documind/internal/output"
	"github.com/documind-hq/documind/internal/search"
	"github.com/documind-hq/documind/internal/store"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit       int
	jsonOut     bool
	lexicalOnly bool
	offline     bool
	documents   []string // document path or id filters
	section     string   // hierarchy prefix filter, "A > B" syntax
	pageMin     int
	pageMax     int
	explain     bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the knowledge base",
		Long: `Search the knowledge base using hybrid retrieval.

Combines BM25 (keyword) and semantic (embedding) search with reciprocal
rank fusion. Filters are pushed into both branches before scoring, so
--limit is honored against the filtered population.

Examples:
  documind search "refund policy"
  documind search "data retention" --section "Compliance" -n 5
  documind search "SSO-4012" --lexical-only
  documind search "quarterly targets" --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&opts.lexicalOnly, "lexical-only", false, "Keyword search only (skip the vector branch)")
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "Use static embeddings for the query vector")
	cmd.Flags().StringSliceVarP(&opts.documents, "document", "d", nil, "Restrict to documents by path (repeatable)")
	cmd.Flags().StringVar(&opts.section, "section", "", "Restrict to a section prefix, e.g. \"Policies > Returns\"")
	cmd.Flags().IntVar(&opts.pageMin, "page-min", 0, "Restrict to pages at or after this page")
	cmd.Flags().IntVar(&opts.pageMax, "page-max", 0, "Restrict to pages at or before this page")
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "Show branch ranks, scores and fusion weights")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if _, cleanup, err := logging.Setup(logCfg); err == nil {
		defer cleanup()
	}

	slog.Info("search_started", slog.String("query", query), slog.Int("limit", opts.limit))
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

	// Lexical-only queries never need the embedding service.
	if err := e.openEmbedder(ctx, opts.offline || opts.lexicalOnly); err != nil {
		return err
	}

	engine, err := e.buildEngine(ctx)
	if err != nil {
		return fmt.Errorf("failed to create search engine: %w", err)
	}
	defer func() { _ = engine.Close() }()

	filter, err := buildFilter(ctx, e, opts)
	if err != nil {
		return err
	}

	resp, err := engine.Search(ctx, query, search.Options{
		TopK:        opts.limit,
		Filter:      filter,
		LexicalOnly: opts.lexicalOnly,
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	slog.Info("search_complete",
		slog.Int("results", len(resp.Results)),
		slog.Bool("degraded", resp.Degraded),
		slog.Bool("reranked", resp.Reranked))

	if opts.jsonOut {
		return writeSearchJSON(out, resp)
	}
	return writeSearchText(ctx, out, e, query, resp, opts.explain)
}

// buildFilter maps the CLI filter flags onto the store filter IR.
// Document paths are resolved to ids so the branches can match on id.
func buildFilter(ctx context.Context, e *env, opts searchOptions) (*store.Filter, error) {
	f := &store.Filter{
		PageMin: opts.pageMin,
		PageMax: opts.pageMax,
	}

	for _, ref := range opts.documents {
		doc, err := e.Metadata.GetDocumentByPath(ctx, ref)
		if err != nil || doc == nil {
			// Allow raw ids too.
			if byID, idErr := e.Metadata.GetDocument(ctx, ref); idErr == nil && byID != nil {
				f.DocumentIDs = append(f.DocumentIDs, byID.ID)
				continue
			}
			return nil, fmt.Errorf("document not found: %s", ref)
		}
		f.DocumentIDs = append(f.DocumentIDs, doc.ID)
	}

	if opts.section != "" {
		for _, part := range strings.Split(opts.section, ">") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				f.HierarchyPrefix = append(f.HierarchyPrefix, trimmed)
			}
		}
	}

	if f.IsZero() {
		return nil, nil
	}
	return f, nil
}

// writeSearchText renders results for humans.
func writeSearchText(ctx context.Context, out *output.Writer, e *env, query string, resp *search.Response, explain bool) error {
	for _, w := range resp.Warnings {
		out.Warningf("%s: %s", w.Code, w.Message)
	}
	if resp.Degraded {
		out.Warningf("degraded: ranked by %s only", survivingBranch(resp))
	}

	if len(resp.Results) == 0 {
		out.Statusf("", "No results found for %q", query)
		return nil
	}

	out.Statusf("🔍", "Found %d results for %q:", len(resp.Results), query)
	out.Newline()

	docNames := map[string]string{}
	for i, r := range resp.Results {
		if r.Chunk == nil {
			continue
		}

		name := docNames[r.Chunk.DocumentID]
		if name == "" {
			if doc, err := e.Metadata.GetDocument(ctx, r.Chunk.DocumentID); err == nil && doc != nil {
				name = doc.Path
			} else {
				name = r.Chunk.DocumentID
			}
			docNames[r.Chunk.DocumentID] = name
		}

		location := fmt.Sprintf("%s, page %d", name, r.Chunk.Page)
		if len(r.Chunk.HierarchyPath) > 0 {
			location += " › " + strings.Join(r.Chunk.HierarchyPath, " › ")
		}

		out.Statusf("", "%d. %s (score: %.3f)", i+1, location, r.Score)
		if explain {
			out.Statusf("", "      lexical: rank %d (%.3f) | vector: rank %d (%.3f) | chunk %s",
				r.LexRank, r.LexScore, r.VecRank, r.VecScore, r.Chunk.ID)
		}

		for _, line := range snippetLines(r.Chunk.Text, 3) {
			out.Status("", "   "+line)
		}
		out.Newline()
	}
	return nil
}

// writeSearchJSON renders the response for scripts.
func writeSearchJSON(out *output.Writer, resp *search.Response) error {
	type jsonResult struct {
		ChunkID    string   `json:"chunk_id"`
		DocumentID string   `json:"document_id"`
		Page       int      `json:"page"`
		Section    []string `json:"section,omitempty"`
		Score      float64  `json:"score"`
		LexScore   float64  `json:"lexical_score"`
		VecScore   float64  `json:"vector_score"`
		Text       string   `json:"text"`
	}
	type jsonResponse struct {
		Results  []jsonResult     `json:"results"`
		Degraded bool             `json:"degraded"`
		Reranked bool             `json:"reranked"`
		Warnings []search.Warning `json:"warnings,omitempty"`
	}

	payload := jsonResponse{
		Degraded: resp.Degraded,
		Reranked: resp.Reranked,
		Warnings: resp.Warnings,
	}
	for _, r := range resp.Results {
		if r.Chunk == nil {
			continue
		}
		payload.Results = append(payload.Results, jsonResult{
			ChunkID:    r.Chunk.ID,
			DocumentID: r.Chunk.DocumentID,
			Page:       r.Chunk.Page,
			Section:    r.Chunk.HierarchyPath,
			Score:      r.Score,
			LexScore:   r.LexScore,
			VecScore:   r.VecScore,
			Text:       r.Chunk.Text,
		})
	}
	return out.JSON(payload)
}

func survivingBranch(resp *search.Response) string {
	for _, b := range []string{search.BranchLexical, search.BranchVector} {
		degraded := false
		for _, d := range resp.DegradedBranches {
			if d == b {
				degraded = true
			}
		}
		if !degraded {
			return b
		}
	}
	return "no"
}

// snippetLines returns the first n non-empty-tailed lines of chunk text.
func snippetLines(text string, n int) []string {
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/documind-hq/documind/internal/cite"
	"github.com/documind-hq/documind/internal/config"
	"github.com/documind-hq/documind/internal/embed"
	"github.com/documind-hq/documind/internal/search"
	"github.com/documind-hq/documind/internal/store"
	"github.com/documind-hq/documind/internal/telemetry"
	"github.com/documind-hq/documind/pkg/version"
)

// SearchEngine is the retrieval surface the server needs. *search.Engine
// satisfies it.
type SearchEngine interface {
	Search(ctx context.Context, query string, opts search.Options) (*search.Response, error)
	Stats() *search.EngineStats
}

// CitationResolver maps answer spans back to source locations.
// *cite.Resolver satisfies it.
type CitationResolver interface {
	Resolve(ctx context.Context, spans []cite.AnswerSpan, candidates []*search.Result) ([]cite.Citation, []search.Warning)
}

// Server is the MCP server for DocuMind. It bridges AI clients with the
// hybrid retrieval pipeline: search over the corpus, citation resolution
// for generated answers, and corpus diagnostics.
type Server struct {
	mcp      *mcp.Server
	engine   SearchEngine
	resolver CitationResolver
	metadata store.MetadataStore
	embedder embed.Embedder // May be nil - reported as unavailable
	config   *config.Config
	logger   *slog.Logger

	rootPath string

	// Query telemetry (optional, set via SetMetrics)
	metrics *telemetry.QueryMetrics

	mu sync.RWMutex
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// Tool descriptions double as the client-facing contract: they tell the AI
// when to reach for each tool.
const (
	searchToolDesc = "Search the document corpus. Combines keyword and semantic retrieval " +
		"over the indexed documents and returns ranked chunks with provenance " +
		"(document, page, section). Every result carries a chunk_id usable with the cite tool."

	citeToolDesc = "Resolve answer spans into citations. Given the query and chunk references " +
		"from a prior search, returns formatted citations (document, page, section, character range). " +
		"Only chunks from the retrieved set can be cited; unresolvable spans come back as warnings, " +
		"never as fabricated citations."

	statusToolDesc = "Check whether the corpus index is ready and which embedder is active. " +
		"When is_fallback_active is true, semantic recall is poor; prefer lexical_only searches."
)

// NewServer creates a new MCP server. The embedder is used for capability
// signaling only; it may be nil.
func NewServer(engine SearchEngine, resolver CitationResolver, metadata store.MetadataStore, embedder embed.Embedder, cfg *config.Config, rootPath string) (*Server, error) {
	if engine == nil {
		return nil, errors.New("search engine is required")
	}
	if metadata == nil {
		return nil, errors.New("metadata store is required")
	}
	if resolver == nil {
		resolver = cite.NewResolver(metadata)
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		engine:   engine,
		resolver: resolver,
		metadata: metadata,
		embedder: embedder,
		config:   cfg,
		rootPath: rootPath,
		logger:   slog.Default(),
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "DocuMind",
			Version: version.Version,
		},
		nil, // ServerOptions - capabilities are inferred from registered tools
	)

	s.registerTools()

	return s, nil
}

// SetMetrics sets the query metrics collector for telemetry.
func (s *Server) SetMetrics(m *telemetry.QueryMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return "DocuMind", version.Version
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return []ToolInfo{
		{Name: "search", Description: searchToolDesc},
		{Name: "cite", Description: citeToolDesc},
		{Name: "corpus_status", Description: statusToolDesc},
	}
}

// CallTool invokes a tool by name with the given arguments. This is the
// transport-independent path used by tests and the CLI debug surface; the
// registered SDK handlers go through the typed entry points below.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "search":
		return s.handleSearchTool(ctx, args)
	case "cite":
		return s.handleCiteTool(ctx, args)
	case "corpus_status":
		return s.handleCorpusStatusTool(ctx)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

// handleSearchTool handles the search tool invocation with loosely typed
// arguments. Returns markdown-formatted results.
func (s *Server) handleSearchTool(ctx context.Context, args map[string]any) (string, error) {
	input := SearchInput{}

	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return "", NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}
	input.Query = query

	if l, ok := args["limit"].(float64); ok {
		input.Limit = int(l)
	}
	if sec, ok := args["section"].(string); ok {
		input.Section = sec
	}
	if lex, ok := args["lexical_only"].(bool); ok {
		input.LexicalOnly = lex
	}
	if docs, ok := args["documents"].([]any); ok {
		for _, d := range docs {
			if str, ok := d.(string); ok {
				input.Documents = append(input.Documents, str)
			}
		}
	}
	if p, ok := args["page_min"].(float64); ok {
		input.PageMin = int(p)
	}
	if p, ok := args["page_max"].(float64); ok {
		input.PageMax = int(p)
	}

	resp, err := s.executeSearch(ctx, input)
	if err != nil {
		return "", err
	}
	return FormatSearchResults(input.Query, resp), nil
}

// executeSearch runs a search with logging and telemetry shared by both
// handler paths.
func (s *Server) executeSearch(ctx context.Context, input SearchInput) (*search.Response, error) {
	start := time.Now()
	requestID := generateRequestID()

	limit := clampLimit(input.Limit, 10, 1, 50)

	s.logger.Info("search started",
		slog.String("request_id", requestID),
		slog.String("query", input.Query),
		slog.Int("limit", limit))

	opts := search.Options{
		TopK:        limit,
		LexicalOnly: input.LexicalOnly,
	}

	filter, err := s.buildFilter(ctx, input)
	if err != nil {
		return nil, err
	}
	opts.Filter = filter

	resp, err := s.engine.Search(ctx, input.Query, opts)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("search failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	s.logger.Info("search completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(resp.Results)),
		slog.Bool("degraded", resp.Degraded))

	return resp, nil
}

// buildFilter translates the tool-level filter fields into a store filter.
// Document references may be corpus-relative paths or raw document IDs.
func (s *Server) buildFilter(ctx context.Context, input SearchInput) (*store.Filter, error) {
	f := &store.Filter{
		PageMin: input.PageMin,
		PageMax: input.PageMax,
	}
	if input.Section != "" {
		for _, seg := range strings.Split(input.Section, ">") {
			if seg = strings.TrimSpace(seg); seg != "" {
				f.HierarchyPrefix = append(f.HierarchyPrefix, seg)
			}
		}
	}

	for _, ref := range input.Documents {
		doc, err := s.metadata.GetDocumentByPath(ctx, ref)
		if err != nil {
			return nil, MapError(err)
		}
		if doc == nil {
			doc, err = s.metadata.GetDocument(ctx, ref)
			if err != nil {
				return nil, MapError(err)
			}
		}
		if doc == nil {
			return nil, NewInvalidParamsError(fmt.Sprintf("unknown document %q", ref))
		}
		f.DocumentIDs = append(f.DocumentIDs, doc.ID)
	}

	if f.IsZero() {
		return nil, nil
	}
	return f, nil
}

// handleCiteTool handles the cite tool invocation with loosely typed
// arguments. Returns markdown-formatted citations.
func (s *Server) handleCiteTool(ctx context.Context, args map[string]any) (string, error) {
	input := CiteInput{}

	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return "", NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}
	input.Query = query

	if l, ok := args["limit"].(float64); ok {
		input.Limit = int(l)
	}

	rawSpans, ok := args["spans"].([]any)
	if !ok || len(rawSpans) == 0 {
		return "", NewInvalidParamsError("spans parameter is required and must be a non-empty array")
	}
	for _, raw := range rawSpans {
		m, ok := raw.(map[string]any)
		if !ok {
			return "", NewInvalidParamsError("each span must be an object with a chunk_id")
		}
		span := SpanInput{}
		if id, ok := m["chunk_id"].(string); ok {
			span.ChunkID = id
		}
		if span.ChunkID == "" {
			return "", NewInvalidParamsError("each span must carry a chunk_id")
		}
		if v, ok := m["start"].(float64); ok {
			span.Start = int(v)
		}
		if v, ok := m["end"].(float64); ok {
			span.End = int(v)
		}
		input.Spans = append(input.Spans, span)
	}

	out, err := s.executeCite(ctx, input)
	if err != nil {
		return "", err
	}
	return FormatCitations(out), nil
}

// executeCite re-runs the retrieval for the query and resolves the spans
// against the retrieved set. Spans naming chunks outside that set are
// rejected, never fabricated into citations.
func (s *Server) executeCite(ctx context.Context, input CiteInput) (*CiteOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	limit := clampLimit(input.Limit, 10, 1, 50)

	s.logger.Info("cite started",
		slog.String("request_id", requestID),
		slog.String("query", input.Query),
		slog.Int("spans", len(input.Spans)))

	resp, err := s.engine.Search(ctx, input.Query, search.Options{TopK: limit})
	if err != nil {
		return nil, MapError(err)
	}

	spans := make([]cite.AnswerSpan, 0, len(input.Spans))
	for _, sp := range input.Spans {
		spans = append(spans, cite.AnswerSpan{ChunkID: sp.ChunkID, Start: sp.Start, End: sp.End})
	}

	citations, warnings := s.resolver.Resolve(ctx, spans, resp.Results)

	out := &CiteOutput{
		Citations: make([]CitationOutput, 0, len(citations)),
	}
	for _, c := range citations {
		out.Citations = append(out.Citations, CitationOutput{
			Formatted: c.Format(),
			ChunkID:   c.ChunkID,
			Document:  c.DocumentName,
			Page:      c.Page,
			Section:   strings.Join(c.ParagraphPath, " > "),
			CharStart: c.CharRange.Start,
			CharEnd:   c.CharRange.End,
		})
	}
	for _, w := range warnings {
		out.Warnings = append(out.Warnings, w.Message)
	}

	s.logger.Info("cite completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("resolved", len(out.Citations)),
		slog.Int("rejected", len(out.Warnings)))

	return out, nil
}

// handleCorpusStatusTool reports index readiness and embedder capability.
func (s *Server) handleCorpusStatusTool(ctx context.Context) (*CorpusStatusOutput, error) {
	stats, err := s.metadata.Stats(ctx)
	if err != nil {
		return nil, MapError(err)
	}

	out := &CorpusStatusOutput{
		Corpus: CorpusInfo{
			Name:     corpusName(s.rootPath),
			RootPath: s.rootPath,
		},
		Stats: CorpusStats{
			DocumentCount: stats.DocumentCount,
			ChunkCount:    stats.ChunkCount,
		},
	}

	if lastIngest, err := s.metadata.GetState(ctx, store.StateKeyLastIngest); err == nil {
		out.Stats.LastIngest = lastIngest
	}
	if es := s.engine.Stats(); es != nil {
		out.Stats.VectorCount = es.VectorCount
	}

	out.Embeddings = s.embeddingInfo(ctx)
	return out, nil
}

// embeddingInfo derives the runtime embedder state for capability signaling.
func (s *Server) embeddingInfo(ctx context.Context) EmbeddingInfo {
	info := EmbeddingInfo{
		Provider: s.config.Embeddings.Provider,
		Model:    s.config.Embeddings.Model,
	}

	if s.embedder == nil {
		info.Status = "unavailable"
		info.ActualModel = "none"
		info.IsFallbackActive = true
		info.SemanticQuality = "none"
		return info
	}

	info.ActualModel = s.embedder.ModelName()
	info.Dimensions = s.embedder.Dimensions()
	info.IsFallbackActive = info.ActualModel == "static" || info.Dimensions == embed.StaticDimensions
	if info.IsFallbackActive {
		info.SemanticQuality = "low"
	} else {
		info.SemanticQuality = "high"
	}

	if s.embedder.Available(ctx) {
		info.Status = "ready"
	} else {
		info.Status = "unavailable"
	}
	return info
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: searchToolDesc,
	}, s.mcpSearchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "cite",
		Description: citeToolDesc,
	}, s.mcpCiteHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "corpus_status",
		Description: statusToolDesc,
	}, s.mcpCorpusStatusHandler)

	s.logger.Debug("MCP tools registered", slog.Int("count", 3))
}

// mcpSearchHandler is the MCP SDK handler for the search tool.
func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required")
	}

	resp, err := s.executeSearch(ctx, input)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	output := SearchOutput{
		Results:  make([]SearchResultOutput, 0, len(resp.Results)),
		Degraded: resp.Degraded,
	}
	for _, r := range resp.Results {
		if r.Chunk == nil {
			continue
		}
		output.Results = append(output.Results, s.toResultOutput(ctx, r))
	}
	for _, w := range resp.Warnings {
		output.Warnings = append(output.Warnings, w.Message)
	}

	return nil, output, nil
}

// mcpCiteHandler is the MCP SDK handler for the cite tool.
func (s *Server) mcpCiteHandler(ctx context.Context, _ *mcp.CallToolRequest, input CiteInput) (
	*mcp.CallToolResult,
	CiteOutput,
	error,
) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, CiteOutput{}, NewInvalidParamsError("query parameter is required")
	}
	if len(input.Spans) == 0 {
		return nil, CiteOutput{}, NewInvalidParamsError("at least one span is required")
	}
	for _, sp := range input.Spans {
		if sp.ChunkID == "" {
			return nil, CiteOutput{}, NewInvalidParamsError("each span must carry a chunk_id")
		}
	}

	out, err := s.executeCite(ctx, input)
	if err != nil {
		return nil, CiteOutput{}, err
	}
	return nil, *out, nil
}

// mcpCorpusStatusHandler is the MCP SDK handler for the corpus_status tool.
func (s *Server) mcpCorpusStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ CorpusStatusInput) (
	*mcp.CallToolResult,
	*CorpusStatusOutput,
	error,
) {
	output, err := s.handleCorpusStatusTool(ctx)
	if err != nil {
		return nil, nil, err
	}
	return nil, output, nil
}

// toResultOutput converts an engine result, resolving the parent document
// name for provenance.
func (s *Server) toResultOutput(ctx context.Context, r *search.Result) SearchResultOutput {
	out := SearchResultOutput{
		ChunkID:        r.Chunk.ID,
		Page:           r.Chunk.Page,
		Section:        strings.Join(r.Chunk.HierarchyPath, " > "),
		Content:        r.Chunk.Text,
		Score:          r.Score,
		MatchedTerms:   r.MatchedTerms,
		InBothBranches: r.InBothBranches,
	}

	if doc, err := s.metadata.GetDocument(ctx, r.Chunk.DocumentID); err == nil && doc != nil {
		out.Document = doc.Name
		out.DocumentPath = doc.Path
	} else {
		out.Document = r.Chunk.DocumentID
	}
	return out
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("Starting MCP server",
		slog.String("transport", transport),
		slog.String("corpus", s.rootPath))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("MCP server stopped with error",
				slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("MCP server stopped gracefully")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// Close releases server resources.
func (s *Server) Close() error {
	s.mu.Lock()
	m := s.metrics
	s.metrics = nil
	s.mu.Unlock()

	if m != nil {
		return m.Close()
	}
	return nil
}

// corpusName derives a display name from the corpus root path.
func corpusName(rootPath string) string {
	rootPath = strings.TrimRight(rootPath, "/")
	if idx := strings.LastIndex(rootPath, "/"); idx >= 0 {
		rootPath = rootPath[idx+1:]
	}
	if rootPath == "" {
		return "corpus"
	}
	return rootPath
}

// clampLimit clamps a requested limit into [min, max], substituting the
// default for zero or negative values.
func clampLimit(limit, def, min, max int) int {
	if limit <= 0 {
		return def
	}
	if limit < min {
		return min
	}
	if limit > max {
		return max
	}
	return limit
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

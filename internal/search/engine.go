package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/documind-hq/documind/internal/embed"
	dmerrors "github.com/documind-hq/documind/internal/errors"
	"github.com/documind-hq/documind/internal/store"
)

const maxHighlightsPerTerm = 10

// Engine runs hybrid queries: both branches in parallel, weighted fusion,
// optional reranking of the head. One failed branch degrades the response;
// only both failing makes a query error.
type Engine struct {
	lexical  store.LexicalIndex
	vector   store.VectorIndex
	metadata store.MetadataStore
	embedder embed.Embedder
	fuser    *Fuser
	config   EngineConfig

	reranker   Reranker
	classifier Classifier
	observer   QueryObserver
}

// EngineOption configures optional engine collaborators.
type EngineOption func(*Engine)

// WithReranker attaches a cross-encoder reranker. A NoOpReranker is
// treated as no reranker at all so responses never claim a rerank that
// did not happen.
func WithReranker(r Reranker) EngineOption {
	return func(e *Engine) {
		if _, noop := r.(*NoOpReranker); noop {
			return
		}
		e.reranker = r
	}
}

// WithClassifier attaches a query classifier that nudges fusion weights.
func WithClassifier(c Classifier) EngineOption {
	return func(e *Engine) { e.classifier = c }
}

// WithObserver attaches a telemetry sink for completed queries.
func WithObserver(o QueryObserver) EngineOption {
	return func(e *Engine) { e.observer = o }
}

// NewEngine creates a hybrid search engine over the given indexes. The
// engine borrows the indexes and metadata store; closing it releases only
// what the engine itself owns.
func NewEngine(lexical store.LexicalIndex, vector store.VectorIndex, metadata store.MetadataStore, embedder embed.Embedder, cfg EngineConfig, opts ...EngineOption) (*Engine, error) {
	if lexical == nil {
		return nil, fmt.Errorf("%w: lexical index", ErrNilDependency)
	}
	if vector == nil {
		return nil, fmt.Errorf("%w: vector index", ErrNilDependency)
	}
	if metadata == nil {
		return nil, fmt.Errorf("%w: metadata store", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder", ErrNilDependency)
	}

	def := DefaultConfig()
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = def.DefaultTopK
	}
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = def.MaxTopK
	}
	if cfg.DefaultWeights.Lexical <= 0 && cfg.DefaultWeights.Vector <= 0 {
		cfg.DefaultWeights = def.DefaultWeights
	}
	if cfg.CandidatePool <= 0 {
		cfg.CandidatePool = def.CandidatePool
	}
	if cfg.RerankTopK <= 0 {
		cfg.RerankTopK = def.RerankTopK
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = def.SearchTimeout
	}
	if cfg.BranchTimeout <= 0 || cfg.BranchTimeout > cfg.SearchTimeout {
		cfg.BranchTimeout = def.BranchTimeout
		if cfg.BranchTimeout > cfg.SearchTimeout {
			cfg.BranchTimeout = cfg.SearchTimeout
		}
	}

	e := &Engine{
		lexical:  lexical,
		vector:   vector,
		metadata: metadata,
		embedder: embedder,
		fuser:    NewFuser(cfg),
		config:   cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Search executes a hybrid query and returns ranked, enriched results.
//
// Both branches run in parallel under their own deadline. A branch that
// fails or times out degrades the response to the surviving signal; the
// query only errors when no branch produced a ranking at all, in which
// case the error is a *SearchUnavailableError carrying both causes.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, dmerrors.ValidationError("search query is empty", nil)
	}
	topK, err := e.resolveTopK(opts.TopK)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.SearchTimeout)
	defer cancel()

	qt, weights, err := e.resolveWeights(ctx, query, opts)
	if err != nil {
		return nil, err
	}

	// The vector branch is pointless when the index was built by a
	// different embedder. Degrade it up front instead of serving
	// nearest neighbors in the wrong space.
	var vecPreflightErr error
	if !opts.LexicalOnly {
		vecPreflightErr = e.validateDimensions(ctx)
	}

	br := e.runBranches(ctx, query, e.branchPool(topK), opts, vecPreflightErr)

	resp := &Response{}
	switch {
	case opts.LexicalOnly:
		if br.lexErr != nil {
			return nil, &SearchUnavailableError{LexicalErr: br.lexErr}
		}
		weights = Weights{Lexical: 1}
	case br.lexErr != nil && br.vecErr != nil:
		return nil, &SearchUnavailableError{LexicalErr: br.lexErr, VectorErr: br.vecErr}
	case br.lexErr != nil:
		resp.Degraded = true
		resp.DegradedBranches = append(resp.DegradedBranches, BranchLexical)
		resp.Warnings = append(resp.Warnings, branchWarning(BranchLexical, br.lexErr))
		weights = Weights{Vector: 1}
	case br.vecErr != nil:
		resp.Degraded = true
		resp.DegradedBranches = append(resp.DegradedBranches, BranchVector)
		resp.Warnings = append(resp.Warnings, branchWarning(BranchVector, br.vecErr))
		weights = Weights{Lexical: 1}
	}

	fused := e.fuser.Fuse(br.lex, br.vec, weights)

	results, err := e.enrich(ctx, fused)
	if err != nil {
		return nil, err
	}
	if len(results) > topK {
		results = results[:topK]
	}
	for _, r := range results {
		r.Highlights = highlightRanges(r.Chunk.Text, r.MatchedTerms)
	}
	resp.Results = results

	e.rerankHead(ctx, query, resp)

	latency := time.Since(start)
	if e.observer != nil {
		e.observer.Observe(QueryEvent{
			Query:       query,
			Type:        qt,
			ResultCount: len(resp.Results),
			Degraded:    resp.Degraded,
			Reranked:    resp.Reranked,
			Latency:     latency,
			Timestamp:   start,
		})
	}
	slog.Debug("search_complete",
		slog.String("query", truncateQuery(query, 50)),
		slog.Int("results", len(resp.Results)),
		slog.Bool("degraded", resp.Degraded),
		slog.Bool("reranked", resp.Reranked),
		slog.Duration("latency", latency))

	return resp, nil
}

func (e *Engine) resolveTopK(topK int) (int, error) {
	if topK < 0 {
		return 0, dmerrors.ValidationError(fmt.Sprintf("top_k must be positive, got %d", topK), nil)
	}
	if topK == 0 {
		topK = e.config.DefaultTopK
	}
	if topK > e.config.MaxTopK {
		topK = e.config.MaxTopK
	}
	return topK, nil
}

// branchPool sizes each branch's candidate list. Branches over-fetch
// relative to topK so fusion has disagreement to work with.
func (e *Engine) branchPool(topK int) int {
	pool := topK * 2
	if pool < e.config.CandidatePool {
		pool = e.config.CandidatePool
	}
	return pool
}

// resolveWeights picks fusion weights: explicit options win, then the
// classifier, then configured defaults. The result always sums to 1.
func (e *Engine) resolveWeights(ctx context.Context, query string, opts Options) (QueryType, Weights, error) {
	qt := QueryTypeMixed
	weights := e.config.DefaultWeights

	if opts.Weights != nil {
		w, err := normalizeWeights(*opts.Weights)
		if err != nil {
			return qt, Weights{}, err
		}
		return qt, w, nil
	}

	if e.classifier != nil {
		t, w, err := e.classifier.Classify(ctx, query)
		if err != nil {
			slog.Debug("query_classification_failed", slog.String("error", err.Error()))
		} else {
			qt, weights = t, w
		}
	}

	w, err := normalizeWeights(weights)
	if err != nil {
		return qt, Weights{}, err
	}
	return qt, w, nil
}

func normalizeWeights(w Weights) (Weights, error) {
	if w.Lexical < 0 || w.Vector < 0 {
		return Weights{}, dmerrors.ValidationError(
			fmt.Sprintf("search weights must be non-negative, got lexical=%g vector=%g", w.Lexical, w.Vector), nil)
	}
	sum := w.Lexical + w.Vector
	if sum == 0 {
		return DefaultWeights(), nil
	}
	return Weights{Lexical: w.Lexical / sum, Vector: w.Vector / sum}, nil
}

// validateDimensions compares the embedder's dimensions against what the
// index was built with. A missing or unparseable state entry passes: the
// index is new or predates dimension tracking.
func (e *Engine) validateDimensions(ctx context.Context) error {
	stored, err := e.metadata.GetState(ctx, store.StateKeyIndexDimension)
	if err != nil || stored == "" {
		return nil
	}
	var dims int
	if _, err := fmt.Sscanf(stored, "%d", &dims); err != nil || dims <= 0 {
		return nil
	}
	if got := e.embedder.Dimensions(); got != dims {
		return store.ErrDimensionMismatch{Expected: dims, Got: got}
	}
	return nil
}

type branchResults struct {
	lex    []*store.LexicalResult
	lexErr error
	vec    []*store.VectorResult
	vecErr error
}

// runBranches queries both indexes in parallel. Each branch runs under its
// own deadline and captures its error instead of returning it, so one
// branch failing never cancels its sibling.
func (e *Engine) runBranches(ctx context.Context, query string, pool int, opts Options, vecPreflightErr error) branchResults {
	var br branchResults
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		bctx, cancel := context.WithTimeout(gctx, e.config.BranchTimeout)
		defer cancel()
		branchStart := time.Now()
		results, err := e.lexical.Query(bctx, query, pool, opts.Filter)
		if err != nil {
			br.lexErr = err
			return nil
		}
		br.lex = results
		slog.Debug("lexical_branch_complete",
			slog.Int("results", len(results)),
			slog.Duration("latency", time.Since(branchStart)))
		return nil
	})

	if !opts.LexicalOnly && vecPreflightErr == nil {
		g.Go(func() error {
			bctx, cancel := context.WithTimeout(gctx, e.config.BranchTimeout)
			defer cancel()
			branchStart := time.Now()
			vector, err := e.embedder.Embed(bctx, query)
			if err != nil {
				br.vecErr = fmt.Errorf("embed query: %w", err)
				return nil
			}
			results, err := e.vector.Query(bctx, vector, pool, opts.Filter)
			if err != nil {
				br.vecErr = err
				return nil
			}
			br.vec = results
			slog.Debug("vector_branch_complete",
				slog.Int("results", len(results)),
				slog.Duration("latency", time.Since(branchStart)))
			return nil
		})
	}

	_ = g.Wait()
	if vecPreflightErr != nil {
		br.vecErr = vecPreflightErr
	}
	return br
}

func branchWarning(branch string, err error) Warning {
	code := WarnLexicalUnavailable
	if branch == BranchVector {
		code = WarnVectorUnavailable
	}
	msg := fmt.Sprintf("%s branch failed: %v", branch, err)
	if errors.Is(err, context.DeadlineExceeded) {
		msg = fmt.Sprintf("%s branch timed out", branch)
	}
	return Warning{Code: code, Stage: StageSearch, Message: msg}
}

// enrich loads full chunk records for fused results, preserving fused
// order. Results whose metadata has gone missing are dropped rather than
// returned half-populated.
func (e *Engine) enrich(ctx context.Context, fused []*Result) ([]*Result, error) {
	if len(fused) == 0 {
		return nil, nil
	}
	ids := make([]string, len(fused))
	for i, r := range fused {
		ids[i] = r.Chunk.ID
	}
	chunks, err := e.metadata.GetChunks(ctx, ids)
	if err != nil {
		return nil, dmerrors.InternalError("failed to load result metadata", err)
	}
	byID := make(map[string]*store.ChunkRecord, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	enriched := make([]*Result, 0, len(fused))
	for _, r := range fused {
		chunk, ok := byID[r.Chunk.ID]
		if !ok {
			slog.Warn("search_result_missing_metadata", slog.String("chunk_id", r.Chunk.ID))
			continue
		}
		r.Chunk = chunk
		enriched = append(enriched, r)
	}
	return enriched, nil
}

// rerankHead reorders the top candidates with the cross-encoder. Any
// rerank problem falls back to the fused order with a warning; a caller
// that cancelled between fusion and rerank gets the fused order silently.
func (e *Engine) rerankHead(ctx context.Context, query string, resp *Response) {
	if e.reranker == nil || len(resp.Results) == 0 {
		return
	}
	if ctx.Err() != nil {
		return
	}

	k := e.config.RerankTopK
	if k > len(resp.Results) {
		k = len(resp.Results)
	}

	if !e.reranker.Available(ctx) {
		resp.Warnings = append(resp.Warnings, Warning{
			Code:    WarnRerankUnavailable,
			Stage:   StageRerank,
			Message: "rerank service unavailable, results in fused order",
		})
		return
	}

	docs := make([]string, k)
	for i := 0; i < k; i++ {
		docs[i] = resp.Results[i].Chunk.Text
	}

	ranked, err := e.reranker.Rerank(ctx, query, docs, k)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		slog.Warn("rerank_failed", slog.String("error", err.Error()))
		resp.Warnings = append(resp.Warnings, Warning{
			Code:    WarnRerankFailed,
			Stage:   StageRerank,
			Message: fmt.Sprintf("rerank failed, results in fused order: %v", err),
		})
		return
	}
	if len(ranked) == 0 {
		return
	}

	// Score ties keep their fused rank; Index is the fused position.
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Index < ranked[j].Index
	})

	head := make([]*Result, 0, k)
	seen := make(map[int]bool, len(ranked))
	for _, rr := range ranked {
		if rr.Index < 0 || rr.Index >= k || seen[rr.Index] {
			continue
		}
		seen[rr.Index] = true
		head = append(head, resp.Results[rr.Index])
	}
	// Candidates the service dropped stay ranked, after the scored ones.
	for i := 0; i < k; i++ {
		if !seen[i] {
			head = append(head, resp.Results[i])
		}
	}
	copy(resp.Results[:k], head)
	resp.Reranked = true
}

// highlightRanges locates matched terms in chunk text for display. Case
// folding is ASCII-style lowercase, matching the lexical analyzers.
func highlightRanges(text string, terms []string) []Range {
	if len(terms) == 0 || text == "" {
		return nil
	}
	lower := strings.ToLower(text)
	var ranges []Range
	for _, term := range terms {
		t := strings.ToLower(strings.TrimSpace(term))
		if t == "" {
			continue
		}
		offset := 0
		for found := 0; found < maxHighlightsPerTerm; found++ {
			i := strings.Index(lower[offset:], t)
			if i < 0 {
				break
			}
			start := offset + i
			ranges = append(ranges, Range{Start: start, End: start + len(t)})
			offset = start + len(t)
		}
	}
	sort.Slice(ranges, func(i, j int) bool {
		if ranges[i].Start != ranges[j].Start {
			return ranges[i].Start < ranges[j].Start
		}
		return ranges[i].End < ranges[j].End
	})
	return ranges
}

// Stats reports index sizes for status output.
func (e *Engine) Stats() *EngineStats {
	return &EngineStats{
		Lexical:     e.lexical.Stats(),
		VectorCount: e.vector.Count(),
	}
}

// Close releases engine-owned resources. The indexes and metadata store
// belong to the caller and stay open.
func (e *Engine) Close() error {
	if e.reranker != nil {
		return e.reranker.Close()
	}
	return nil
}

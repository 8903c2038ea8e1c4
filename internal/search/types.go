// Package search provides hybrid retrieval combining lexical (BM25) and
// semantic (vector) search. Branch results are fused with weighted
// reciprocal-rank fusion, optionally refined by a cross-encoder reranker.
package search

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/documind-hq/documind/internal/store"
)

// Options configures a single search query.
type Options struct {
	// TopK is the maximum number of results to return (default: 10, max: 100).
	TopK int

	// Filter restricts results to a corpus subset. Applied inside each
	// branch before scoring, so TopK is honored against the filtered
	// population.
	Filter *store.Filter

	// Weights overrides the default lexical/vector weights.
	Weights *Weights

	// LexicalOnly skips the vector branch entirely. Useful when the
	// embedding service is down or for exact keyword lookups. Not a
	// degraded mode: the caller asked for it.
	LexicalOnly bool
}

// Weights configures the relative importance of the two branches. They are
// blend proportions applied to normalized per-branch scores.
type Weights struct {
	Lexical float64
	Vector  float64
}

// DefaultWeights returns the equal-weight default.
func DefaultWeights() Weights {
	return Weights{Lexical: 0.5, Vector: 0.5}
}

// Result is a single search hit after fusion and enrichment.
type Result struct {
	// Chunk is the full chunk record from the metadata store.
	Chunk *store.ChunkRecord

	// Score is the fused score in [0, 1].
	Score float64

	// LexScore is the raw BM25 score (0 if the chunk missed that branch).
	LexScore float64

	// VecScore is the raw vector similarity in [0, 1] (0 if missed).
	VecScore float64

	// LexRank and VecRank are 1-indexed positions in the branch results,
	// 0 when the chunk was absent from that branch.
	LexRank int
	VecRank int

	// InBothBranches marks chunks both branches agreed on.
	InBothBranches bool

	// MatchedTerms are the query terms the lexical branch matched.
	MatchedTerms []string

	// Highlights are offsets of matched terms within the chunk text.
	Highlights []Range
}

// Range is a half-open [Start, End) byte range into chunk text.
type Range struct {
	Start int
	End   int
}

// Warning is a non-fatal condition attached to a response. ChunkID is empty
// for query-level warnings.
type Warning struct {
	Code    string
	Stage   string
	Message string
	ChunkID string
}

// Warning codes.
const (
	WarnLexicalUnavailable = "lexical_unavailable"
	WarnVectorUnavailable  = "vector_unavailable"
	WarnRerankUnavailable  = "rerank_unavailable"
	WarnRerankFailed       = "rerank_failed"
)

// Warning stages.
const (
	StageSearch = "search"
	StageRerank = "rerank"
)

// Response is the outcome of one hybrid search.
type Response struct {
	// Results are ranked hits, best first.
	Results []*Result

	// Degraded is true when a branch failed or timed out and ranking fell
	// back to the surviving signal.
	Degraded bool

	// DegradedBranches names the failed branches ("lexical", "vector").
	DegradedBranches []string

	// Reranked is true only when a cross-encoder actually scored the head
	// of the list. Passthrough (no reranker, no-op, unavailable, failed)
	// leaves it false.
	Reranked bool

	// Warnings carries non-fatal conditions (degraded branches, rerank
	// passthrough reasons).
	Warnings []Warning
}

// Branch names used in DegradedBranches and log fields.
const (
	BranchLexical = "lexical"
	BranchVector  = "vector"
)

// SearchUnavailableError reports that both branches failed and no ranking
// signal survived. Partial failure degrades instead; this error means zero
// results could be produced at all.
type SearchUnavailableError struct {
	LexicalErr error
	VectorErr  error
}

func (e *SearchUnavailableError) Error() string {
	switch {
	case e.LexicalErr != nil && e.VectorErr != nil:
		return fmt.Sprintf("search unavailable: lexical: %v; vector: %v", e.LexicalErr, e.VectorErr)
	case e.LexicalErr != nil:
		return fmt.Sprintf("search unavailable: lexical: %v", e.LexicalErr)
	case e.VectorErr != nil:
		return fmt.Sprintf("search unavailable: vector: %v", e.VectorErr)
	default:
		return "search unavailable"
	}
}

// Unwrap exposes both causes to errors.Is/As.
func (e *SearchUnavailableError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.LexicalErr != nil {
		errs = append(errs, e.LexicalErr)
	}
	if e.VectorErr != nil {
		errs = append(errs, e.VectorErr)
	}
	return errs
}

// EngineConfig configures the hybrid search engine.
type EngineConfig struct {
	// DefaultTopK is the default number of results (default: 10).
	DefaultTopK int

	// MaxTopK is the maximum allowed results (default: 100).
	MaxTopK int

	// DefaultWeights are the lexical/vector blend weights (default: 0.5/0.5).
	DefaultWeights Weights

	// FusionMethod selects score normalization: "rrf" (default) or "minmax".
	FusionMethod string

	// RRFConstant is the reciprocal-rank smoothing constant k (default: 60).
	RRFConstant int

	// CandidatePool is how many candidates each branch contributes to
	// fusion, independent of TopK (default: 20).
	CandidatePool int

	// RerankTopK is how many fused heads the reranker scores (default: 5).
	RerankTopK int

	// SearchTimeout bounds the whole query (default: 5s).
	SearchTimeout time.Duration

	// BranchTimeout bounds each branch inside the query deadline
	// (default: 3s). A branch that misses it degrades; it does not fail
	// the query.
	BranchTimeout time.Duration
}

// DefaultConfig returns sensible engine defaults.
func DefaultConfig() EngineConfig {
	return EngineConfig{
		DefaultTopK:    10,
		MaxTopK:        100,
		DefaultWeights: DefaultWeights(),
		FusionMethod:   FusionMethodRRF,
		RRFConstant:    DefaultRRFConstant,
		CandidatePool:  20,
		RerankTopK:     5,
		SearchTimeout:  5 * time.Second,
		BranchTimeout:  3 * time.Second,
	}
}

// EngineStats summarizes index state for status reporting.
type EngineStats struct {
	Lexical     *store.LexicalStats
	VectorCount int
}

// QueryType classifies what kind of matching a query wants.
type QueryType string

const (
	// QueryTypeLexical wants exact matching: codes, quoted phrases, paths.
	QueryTypeLexical QueryType = "LEXICAL"

	// QueryTypeSemantic is natural language seeking meaning.
	QueryTypeSemantic QueryType = "SEMANTIC"

	// QueryTypeMixed benefits from both branches.
	QueryTypeMixed QueryType = "MIXED"
)

// Classifier nudges fusion weights based on query shape. Optional: engines
// without one keep the configured defaults.
type Classifier interface {
	Classify(ctx context.Context, query string) (QueryType, Weights, error)
}

// WeightsForQueryType maps a classification to blend weights. The nudges
// stay mild so one branch never drowns out the other.
func WeightsForQueryType(qt QueryType) Weights {
	switch qt {
	case QueryTypeLexical:
		return Weights{Lexical: 0.7, Vector: 0.3}
	case QueryTypeSemantic:
		return Weights{Lexical: 0.3, Vector: 0.7}
	default:
		return DefaultWeights()
	}
}

// QueryEvent describes one completed search for telemetry.
type QueryEvent struct {
	Query       string
	Type        QueryType
	ResultCount int
	Degraded    bool
	Reranked    bool
	Latency     time.Duration
	Timestamp   time.Time
}

// QueryObserver receives query events. The telemetry store implements it;
// a nil observer disables recording.
type QueryObserver interface {
	Observe(ev QueryEvent)
}

// ErrNilDependency is returned by NewEngine when a required dependency is
// missing.
var ErrNilDependency = errors.New("nil dependency")

// sequenceFromChunkID extracts the sequence index from a
// "<doc_id>_chunk_<seq>" identifier. Returns -1 when the ID has another
// shape.
func sequenceFromChunkID(chunkID string) int {
	idx := strings.LastIndex(chunkID, "_chunk_")
	if idx < 0 {
		return -1
	}
	seq, err := strconv.Atoi(chunkID[idx+len("_chunk_"):])
	if err != nil || seq < 0 {
		return -1
	}
	return seq
}

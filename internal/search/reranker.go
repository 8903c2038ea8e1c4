package search

import (
	"context"
)

// Reranker reorders a small candidate set by scoring each document against
// the query with a cross-encoder. Rerankers see only the fused top
// candidates, never full branch results.
type Reranker interface {
	// Rerank scores documents against the query and returns up to topK of
	// them, best first. Result indexes refer to positions in the input
	// slice.
	Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error)

	// Available reports whether the backing service is reachable.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// RerankResult is one reranked document.
type RerankResult struct {
	// Index is the document's position in the Rerank input.
	Index int

	// Score is the cross-encoder relevance score, higher is better.
	Score float64

	// Document is the scored text.
	Document string
}

// NoOpReranker keeps the incoming order. It exists so configuration can
// name a reranker unconditionally; the engine treats it as no reranker and
// reports results as not reranked.
type NoOpReranker struct{}

var _ Reranker = (*NoOpReranker)(nil)

// NewNoOpReranker creates a pass-through reranker.
func NewNoOpReranker() *NoOpReranker {
	return &NoOpReranker{}
}

// Rerank returns the first topK documents in their incoming order.
func (r *NoOpReranker) Rerank(_ context.Context, _ string, documents []string, topK int) ([]RerankResult, error) {
	if topK <= 0 || topK > len(documents) {
		topK = len(documents)
	}
	results := make([]RerankResult, topK)
	for i := 0; i < topK; i++ {
		results[i] = RerankResult{Index: i, Score: 0, Document: documents[i]}
	}
	return results, nil
}

// Available always reports true.
func (r *NoOpReranker) Available(_ context.Context) bool { return true }

// Close is a no-op.
func (r *NoOpReranker) Close() error { return nil }

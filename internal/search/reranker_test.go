package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dmerrors "github.com/documind-hq/documind/internal/errors"
)

func TestNoOpReranker_KeepsOrder(t *testing.T) {
	r := NewNoOpReranker()

	docs := []string{"first", "second", "third"}
	results, err := r.Rerank(context.Background(), "query", docs, 2)

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 0, results[0].Index)
	assert.Equal(t, "first", results[0].Document)
	assert.Equal(t, 1, results[1].Index)

	// Zero and oversized topK return everything.
	all, err := r.Rerank(context.Background(), "query", docs, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	all, err = r.Rerank(context.Background(), "query", docs, 99)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	assert.True(t, r.Available(context.Background()))
	assert.NoError(t, r.Close())
}

// rerankService is a stand-in cross-encoder with canned scores.
type rerankService struct {
	t *testing.T

	healthStatus int
	rerankStatus int
	response     rerankResponse
	lastRequest  rerankRequest
	rerankCalls  int
}

func newRerankService(t *testing.T) *rerankService {
	return &rerankService{t: t, healthStatus: http.StatusOK, rerankStatus: http.StatusOK}
}

func (s *rerankService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(s.healthStatus)
	})
	mux.HandleFunc("POST /rerank", func(w http.ResponseWriter, r *http.Request) {
		s.rerankCalls++
		require.NoError(s.t, json.NewDecoder(r.Body).Decode(&s.lastRequest))
		if s.rerankStatus != http.StatusOK {
			w.WriteHeader(s.rerankStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(s.t, json.NewEncoder(w).Encode(s.response))
	})
	return mux
}

func newTestHTTPReranker(t *testing.T, svc *rerankService) *HTTPReranker {
	t.Helper()
	srv := httptest.NewServer(svc.handler())
	t.Cleanup(srv.Close)

	r, err := NewHTTPReranker(context.Background(), HTTPRerankerConfig{
		Endpoint: srv.URL,
		Model:    "test-cross-encoder",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestNewHTTPReranker_HealthCheckFails(t *testing.T) {
	svc := newRerankService(t)
	svc.healthStatus = http.StatusServiceUnavailable
	srv := httptest.NewServer(svc.handler())
	defer srv.Close()

	_, err := NewHTTPReranker(context.Background(), HTTPRerankerConfig{Endpoint: srv.URL})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "rerank service unavailable")
}

func TestHTTPReranker_Rerank(t *testing.T) {
	svc := newRerankService(t)
	svc.response = rerankResponse{Results: []rerankHit{
		{Index: 2, Score: 0.97, Document: "gamma"},
		{Index: 0, Score: 0.41, Document: "alpha"},
	}}
	r := newTestHTTPReranker(t, svc)

	results, err := r.Rerank(context.Background(), "refund deadline", []string{"alpha", "beta", "gamma"}, 2)

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, RerankResult{Index: 2, Score: 0.97, Document: "gamma"}, results[0])
	assert.Equal(t, RerankResult{Index: 0, Score: 0.41, Document: "alpha"}, results[1])

	// The request carries the query, all candidates, the model, and topK.
	assert.Equal(t, "refund deadline", svc.lastRequest.Query)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, svc.lastRequest.Documents)
	assert.Equal(t, "test-cross-encoder", svc.lastRequest.Model)
	assert.Equal(t, 2, svc.lastRequest.TopK)
}

func TestHTTPReranker_Rerank_SkipsOutOfRangeIndexes(t *testing.T) {
	svc := newRerankService(t)
	svc.response = rerankResponse{Results: []rerankHit{
		{Index: 7, Score: 0.99},
		{Index: -1, Score: 0.98},
		{Index: 1, Score: 0.55, Document: "beta"},
	}}
	r := newTestHTTPReranker(t, svc)

	results, err := r.Rerank(context.Background(), "q", []string{"alpha", "beta"}, 2)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Index)
}

func TestHTTPReranker_Rerank_EmptyDocuments(t *testing.T) {
	svc := newRerankService(t)
	r := newTestHTTPReranker(t, svc)

	results, err := r.Rerank(context.Background(), "q", nil, 5)

	require.NoError(t, err)
	assert.Nil(t, results)
	assert.Zero(t, svc.rerankCalls)
}

func TestHTTPReranker_Rerank_ServerError(t *testing.T) {
	svc := newRerankService(t)
	svc.rerankStatus = http.StatusInternalServerError
	r := newTestHTTPReranker(t, svc)

	_, err := r.Rerank(context.Background(), "q", []string{"alpha"}, 1)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	assert.Equal(t, dmerrors.ErrCodeRerankService, dmerrors.GetCode(err))
}

func TestHTTPReranker_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	svc := newRerankService(t)
	svc.rerankStatus = http.StatusInternalServerError
	r := newTestHTTPReranker(t, svc)

	for i := 0; i < 5; i++ {
		_, err := r.Rerank(context.Background(), "q", []string{"alpha"}, 1)
		require.Error(t, err)
	}
	callsBeforeOpen := svc.rerankCalls

	// The open circuit fails fast without touching the service.
	_, err := r.Rerank(context.Background(), "q", []string{"alpha"}, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, dmerrors.ErrCircuitOpen)
	assert.Equal(t, callsBeforeOpen, svc.rerankCalls)
}

func TestHTTPReranker_Available(t *testing.T) {
	svc := newRerankService(t)
	r := newTestHTTPReranker(t, svc)

	assert.True(t, r.Available(context.Background()))

	svc.healthStatus = http.StatusServiceUnavailable
	assert.False(t, r.Available(context.Background()))
}

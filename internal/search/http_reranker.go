package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	dmerrors "github.com/documind-hq/documind/internal/errors"
)

// HTTPReranker defaults.
const (
	DefaultRerankEndpoint = "http://localhost:8765"
	DefaultRerankModel    = "cross-encoder/ms-marco-MiniLM-L6-v2"
	DefaultRerankTimeout  = 10 * time.Second
	rerankHealthTimeout   = 5 * time.Second
	rerankPoolSize        = 4
)

// HTTPRerankerConfig configures a cross-encoder reranking service client.
type HTTPRerankerConfig struct {
	// Endpoint is the service base URL (default: http://localhost:8765).
	Endpoint string

	// Model names the cross-encoder to score with.
	Model string

	// Timeout bounds a single rerank call (default: 10s).
	Timeout time.Duration

	// SkipHealthCheck skips server probing at construction (tests).
	SkipHealthCheck bool
}

// HTTPReranker scores candidates through a cross-encoder service exposing
// POST /rerank and GET /health. Failures are reported to the caller, which
// falls back to the fused order; a circuit breaker keeps a dead service
// from taxing every query with a full timeout.
type HTTPReranker struct {
	client    *http.Client
	transport *http.Transport
	config    HTTPRerankerConfig
	breaker   *dmerrors.CircuitBreaker
}

var _ Reranker = (*HTTPReranker)(nil)

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
	TopK      int      `json:"top_k,omitempty"`
}

type rerankResponse struct {
	Results []rerankHit `json:"results"`
}

type rerankHit struct {
	Index    int     `json:"index"`
	Score    float64 `json:"score"`
	Document string  `json:"document"`
}

// NewHTTPReranker creates a reranker client, probing the service health
// endpoint unless skipped. An unreachable service is an error here; once
// constructed, outages degrade to passthrough instead.
func NewHTTPReranker(ctx context.Context, cfg HTTPRerankerConfig) (*HTTPReranker, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultRerankEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultRerankModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRerankTimeout
	}

	transport := &http.Transport{
		MaxIdleConns:        rerankPoolSize,
		MaxIdleConnsPerHost: rerankPoolSize,
		IdleConnTimeout:     10 * time.Second,
	}

	r := &HTTPReranker{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		breaker:   dmerrors.NewCircuitBreaker("reranker"),
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, rerankHealthTimeout)
		defer cancel()
		if err := r.healthCheck(checkCtx); err != nil {
			transport.CloseIdleConnections()
			return nil, fmt.Errorf("rerank service unavailable at %s: %w", cfg.Endpoint, err)
		}
	}

	return r, nil
}

func (r *HTTPReranker) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.config.Endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// Rerank scores documents against the query. The service returns results
// best-first with indexes into the input slice.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, documents []string, topK int) ([]RerankResult, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	if topK <= 0 || topK > len(documents) {
		topK = len(documents)
	}

	if !r.breaker.Allow() {
		return nil, dmerrors.New(dmerrors.ErrCodeRerankService, "rerank service circuit open", dmerrors.ErrCircuitOpen).
			WithDetail("endpoint", r.config.Endpoint)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	body, err := json.Marshal(rerankRequest{
		Query:     query,
		Documents: documents,
		Model:     r.config.Model,
		TopK:      topK,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, r.config.Endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		r.breaker.RecordFailure()
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		r.breaker.RecordFailure()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, dmerrors.New(dmerrors.ErrCodeRerankService,
			fmt.Sprintf("rerank service returned status %d", resp.StatusCode), nil).
			WithDetail("endpoint", r.config.Endpoint).
			WithDetail("body", string(respBody))
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		r.breaker.RecordFailure()
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}
	r.breaker.RecordSuccess()

	results := make([]RerankResult, 0, len(parsed.Results))
	for _, pr := range parsed.Results {
		if pr.Index < 0 || pr.Index >= len(documents) {
			slog.Warn("rerank_result_index_out_of_range",
				slog.Int("index", pr.Index),
				slog.Int("documents", len(documents)))
			continue
		}
		results = append(results, RerankResult{
			Index:    pr.Index,
			Score:    pr.Score,
			Document: pr.Document,
		})
	}
	if len(results) > topK {
		results = results[:topK]
	}

	slog.Debug("rerank_complete",
		slog.String("query", truncateQuery(query, 50)),
		slog.Int("documents", len(documents)),
		slog.Int("results", len(results)),
		slog.Duration("latency", time.Since(start)))

	return results, nil
}

// Available probes the health endpoint with a short timeout.
func (r *HTTPReranker) Available(ctx context.Context) bool {
	checkCtx, cancel := context.WithTimeout(ctx, rerankHealthTimeout)
	defer cancel()
	return r.healthCheck(checkCtx) == nil
}

// Close releases idle connections.
func (r *HTTPReranker) Close() error {
	r.transport.CloseIdleConnections()
	return nil
}

// truncateQuery shortens a query for log lines.
func truncateQuery(query string, maxLen int) string {
	if len(query) <= maxLen {
		return query
	}
	return query[:maxLen] + "..."
}

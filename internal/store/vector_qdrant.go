package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// QdrantConfig configures the Qdrant-backed vector index.
type QdrantConfig struct {
	// URL is the Qdrant REST endpoint, e.g. "http://localhost:6333".
	URL string

	// APIKey is sent as the api-key header when non-empty.
	APIKey string

	// Collection is the collection name (default: "documind_chunks").
	Collection string

	// Dimensions is the vector dimension for the collection.
	Dimensions int

	// Timeout bounds each REST call (default: 30s).
	Timeout time.Duration
}

// DefaultQdrantConfig returns defaults for a local Qdrant instance.
func DefaultQdrantConfig(dimensions int) QdrantConfig {
	return QdrantConfig{
		URL:        "http://localhost:6333",
		Collection: "documind_chunks",
		Dimensions: dimensions,
		Timeout:    30 * time.Second,
	}
}

// QdrantVectorIndex implements VectorIndex against a remote Qdrant server.
// It exists for corpora too large for the in-process HNSW graph; the HNSW
// backend remains the zero-dependency default.
type QdrantVectorIndex struct {
	mu         sync.RWMutex
	baseURL    string
	apiKey     string
	collection string
	dims       int
	client     *http.Client
	closed     bool
}

// Verify interface implementation at compile time
var _ VectorIndex = (*QdrantVectorIndex)(nil)

// qdrantPointID derives a deterministic UUID from a chunk ID. Qdrant only
// accepts UUIDs or unsigned integers as point IDs, so the chunk ID itself
// rides in the payload.
func qdrantPointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

// NewQdrantVectorIndex connects to Qdrant and ensures the collection exists
// with the expected dimension.
func NewQdrantVectorIndex(ctx context.Context, cfg QdrantConfig) (*QdrantVectorIndex, error) {
	if cfg.URL == "" {
		cfg.URL = "http://localhost:6333"
	}
	if cfg.Collection == "" {
		cfg.Collection = "documind_chunks"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("qdrant: dimensions must be positive, got %d", cfg.Dimensions)
	}

	q := &QdrantVectorIndex{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dims:       cfg.Dimensions,
		client:     &http.Client{Timeout: cfg.Timeout},
	}

	if err := q.ensureCollection(ctx); err != nil {
		return nil, err
	}

	return q, nil
}

// doRequest performs a Qdrant REST call and decodes the "result" envelope
// into out (which may be nil).
func (q *QdrantVectorIndex) doRequest(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("qdrant: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("qdrant: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("qdrant: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &qdrantAPIError{Status: resp.StatusCode, Body: string(data)}
	}

	if out != nil {
		envelope := struct {
			Result json.RawMessage `json:"result"`
		}{}
		if err := json.Unmarshal(data, &envelope); err != nil {
			return fmt.Errorf("qdrant: decode envelope: %w", err)
		}
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("qdrant: decode result: %w", err)
		}
	}

	return nil
}

// qdrantAPIError is a non-2xx response from the Qdrant server.
type qdrantAPIError struct {
	Status int
	Body   string
}

func (e *qdrantAPIError) Error() string {
	return fmt.Sprintf("qdrant: status %d: %s", e.Status, e.Body)
}

// ensureCollection creates the collection if it does not exist and verifies
// the dimension if it does.
func (q *QdrantVectorIndex) ensureCollection(ctx context.Context) error {
	var info struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size int `json:"size"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}

	err := q.doRequest(ctx, http.MethodGet, "/collections/"+q.collection, nil, &info)
	if err == nil {
		if info.Config.Params.Vectors.Size != 0 && info.Config.Params.Vectors.Size != q.dims {
			return ErrDimensionMismatch{
				Expected: info.Config.Params.Vectors.Size,
				Got:      q.dims,
			}
		}
		return nil
	}

	apiErr, ok := err.(*qdrantAPIError)
	if !ok || apiErr.Status != http.StatusNotFound {
		return fmt.Errorf("qdrant: check collection: %w", err)
	}

	createReq := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     q.dims,
			"distance": "Cosine",
		},
	}
	if err := q.doRequest(ctx, http.MethodPut, "/collections/"+q.collection, createReq, nil); err != nil {
		return fmt.Errorf("qdrant: create collection: %w", err)
	}

	return nil
}

// qdrantPayload is stored with each point. hierarchy_prefixes holds every
// joined prefix of the heading trail so prefix filters become exact matches
// the server can push down.
func qdrantPayload(e *VectorEntry) map[string]interface{} {
	return map[string]interface{}{
		"chunk_id":           e.ChunkID,
		"document_id":        e.DocumentID,
		"page":               e.Page,
		"hierarchy":          joinHierarchy(e.HierarchyPath),
		"hierarchy_prefixes": hierarchyPrefixes(e.HierarchyPath),
	}
}

// hierarchyPrefixes returns every joined prefix of a heading trail:
// ["A","B"] -> ["A", "A<sep>B"].
func hierarchyPrefixes(path []string) []string {
	prefixes := make([]string, 0, len(path))
	for i := 1; i <= len(path); i++ {
		prefixes = append(prefixes, joinHierarchy(path[:i]))
	}
	return prefixes
}

// Upsert inserts vectors with their chunk IDs. Qdrant upserts by point ID
// natively.
func (q *QdrantVectorIndex) Upsert(ctx context.Context, entries []*VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return fmt.Errorf("store is closed")
	}

	for _, e := range entries {
		if len(e.Vector) != q.dims {
			return ErrDimensionMismatch{Expected: q.dims, Got: len(e.Vector)}
		}
	}

	points := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		points = append(points, map[string]interface{}{
			"id":      qdrantPointID(e.ChunkID),
			"vector":  e.Vector,
			"payload": qdrantPayload(e),
		})
	}

	req := map[string]interface{}{"points": points}
	if err := q.doRequest(ctx, http.MethodPut, "/collections/"+q.collection+"/points?wait=true", req, nil); err != nil {
		return fmt.Errorf("qdrant: upsert points: %w", err)
	}

	return nil
}

// buildQdrantFilter translates a Filter into Qdrant filter JSON. All
// predicates go into must clauses so the server intersects them before
// scoring.
func buildQdrantFilter(filter *Filter) map[string]interface{} {
	if filter.IsZero() {
		return nil
	}

	var must []map[string]interface{}
	if len(filter.DocumentIDs) > 0 {
		must = append(must, map[string]interface{}{
			"key":   "document_id",
			"match": map[string]interface{}{"any": filter.DocumentIDs},
		})
	}
	if len(filter.HierarchyPrefix) > 0 {
		must = append(must, map[string]interface{}{
			"key":   "hierarchy_prefixes",
			"match": map[string]interface{}{"value": joinHierarchy(filter.HierarchyPrefix)},
		})
	}
	if filter.PageMin > 0 || filter.PageMax > 0 {
		rng := map[string]interface{}{}
		if filter.PageMin > 0 {
			rng["gte"] = filter.PageMin
		}
		if filter.PageMax > 0 {
			rng["lte"] = filter.PageMax
		}
		must = append(must, map[string]interface{}{
			"key":   "page",
			"range": rng,
		})
	}

	return map[string]interface{}{"must": must}
}

// Query finds the topK nearest neighbors, with filters pushed down to the
// server so they apply before scoring.
func (q *QdrantVectorIndex) Query(ctx context.Context, vector []float32, topK int, filter *Filter) ([]*VectorResult, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return nil, fmt.Errorf("store is closed")
	}

	if len(vector) != q.dims {
		return nil, ErrDimensionMismatch{Expected: q.dims, Got: len(vector)}
	}
	if topK <= 0 {
		return []*VectorResult{}, nil
	}

	req := map[string]interface{}{
		"vector":       vector,
		"limit":        topK,
		"with_payload": []string{"chunk_id"},
	}
	if f := buildQdrantFilter(filter); f != nil {
		req["filter"] = f
	}

	var hits []struct {
		Score   float32                `json:"score"`
		Payload map[string]interface{} `json:"payload"`
	}
	if err := q.doRequest(ctx, http.MethodPost, "/collections/"+q.collection+"/points/search", req, &hits); err != nil {
		return nil, fmt.Errorf("qdrant: search: %w", err)
	}

	results := make([]*VectorResult, 0, len(hits))
	for _, hit := range hits {
		chunkID, _ := hit.Payload["chunk_id"].(string)
		if chunkID == "" {
			continue
		}
		// Qdrant returns cosine similarity in [-1, 1]; map onto the same
		// distance/score convention as the HNSW backend.
		results = append(results, &VectorResult{
			ChunkID:  chunkID,
			Distance: 1 - hit.Score,
			Score:    (1 + hit.Score) / 2,
		})
	}

	return results, nil
}

// Delete removes vectors by chunk ID. Unknown IDs are ignored by the server.
func (q *QdrantVectorIndex) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return fmt.Errorf("store is closed")
	}

	pointIDs := make([]string, len(chunkIDs))
	for i, id := range chunkIDs {
		pointIDs[i] = qdrantPointID(id)
	}

	req := map[string]interface{}{"points": pointIDs}
	if err := q.doRequest(ctx, http.MethodPost, "/collections/"+q.collection+"/points/delete?wait=true", req, nil); err != nil {
		return fmt.Errorf("qdrant: delete points: %w", err)
	}

	return nil
}

// AllIDs returns all chunk IDs by scrolling the collection.
func (q *QdrantVectorIndex) AllIDs() ([]string, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return nil, fmt.Errorf("store is closed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var ids []string
	var offset interface{}
	for {
		req := map[string]interface{}{
			"limit":        1000,
			"with_payload": []string{"chunk_id"},
		}
		if offset != nil {
			req["offset"] = offset
		}

		var page struct {
			Points []struct {
				Payload map[string]interface{} `json:"payload"`
			} `json:"points"`
			NextPageOffset interface{} `json:"next_page_offset"`
		}
		if err := q.doRequest(ctx, http.MethodPost, "/collections/"+q.collection+"/points/scroll", req, &page); err != nil {
			return nil, fmt.Errorf("qdrant: scroll: %w", err)
		}

		for _, p := range page.Points {
			if chunkID, ok := p.Payload["chunk_id"].(string); ok && chunkID != "" {
				ids = append(ids, chunkID)
			}
		}

		if page.NextPageOffset == nil {
			break
		}
		offset = page.NextPageOffset
	}

	return ids, nil
}

// Contains checks if a chunk ID exists.
func (q *QdrantVectorIndex) Contains(chunkID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req := map[string]interface{}{
		"ids":          []string{qdrantPointID(chunkID)},
		"with_payload": false,
	}

	var points []struct {
		ID interface{} `json:"id"`
	}
	if err := q.doRequest(ctx, http.MethodPost, "/collections/"+q.collection+"/points", req, &points); err != nil {
		return false
	}

	return len(points) > 0
}

// Count returns the number of vectors.
func (q *QdrantVectorIndex) Count() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var result struct {
		Count int `json:"count"`
	}
	req := map[string]interface{}{"exact": true}
	if err := q.doRequest(ctx, http.MethodPost, "/collections/"+q.collection+"/points/count", req, &result); err != nil {
		return 0
	}

	return result.Count
}

// Flush is a no-op: Qdrant persists server-side, and upserts already pass
// wait=true.
func (q *QdrantVectorIndex) Flush() error {
	return nil
}

// Close releases the HTTP client's idle connections.
func (q *QdrantVectorIndex) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	q.client.CloseIdleConnections()
	return nil
}

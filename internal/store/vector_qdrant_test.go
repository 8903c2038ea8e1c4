package store

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQdrant fakes the slice of the Qdrant REST API the adapter talks to.
type fakeQdrant struct {
	t  *testing.T
	mu sync.Mutex

	collectionExists bool
	collectionSize   int
	createCalls      int
	createBody       map[string]interface{}

	upserts     []map[string]interface{}
	upsertQuery string

	lastSearch       map[string]interface{}
	searchHits       []map[string]interface{}
	failSearchStatus int

	deletes     []map[string]interface{}
	deleteQuery string

	scrollPages  [][]string
	scrollCalls  int
	scrollBodies []map[string]interface{}

	countValue  int
	containsIDs map[string]bool

	lastAPIKey string

	server *httptest.Server
}

func newFakeQdrant(t *testing.T) *fakeQdrant {
	t.Helper()
	f := &fakeQdrant{t: t, containsIDs: map[string]bool{}}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeQdrant) config(dims int) QdrantConfig {
	cfg := DefaultQdrantConfig(dims)
	cfg.URL = f.server.URL
	cfg.Collection = "test_chunks"
	return cfg
}

func (f *fakeQdrant) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastAPIKey = r.Header.Get("api-key")

	var body map[string]interface{}
	if data, err := io.ReadAll(r.Body); err == nil && len(data) > 0 {
		_ = json.Unmarshal(data, &body)
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/collections/test_chunks":
		if !f.collectionExists {
			writeQdrantJSON(w, http.StatusNotFound,
				map[string]interface{}{"status": map[string]interface{}{"error": "Not found"}})
			return
		}
		writeQdrantJSON(w, http.StatusOK, map[string]interface{}{
			"result": map[string]interface{}{
				"config": map[string]interface{}{
					"params": map[string]interface{}{
						"vectors": map[string]interface{}{"size": f.collectionSize},
					},
				},
			},
		})

	case r.Method == http.MethodPut && r.URL.Path == "/collections/test_chunks":
		f.createCalls++
		f.createBody = body
		f.collectionExists = true
		writeQdrantJSON(w, http.StatusOK, map[string]interface{}{"result": true})

	case r.Method == http.MethodPut && r.URL.Path == "/collections/test_chunks/points":
		f.upserts = append(f.upserts, body)
		f.upsertQuery = r.URL.RawQuery
		writeQdrantJSON(w, http.StatusOK,
			map[string]interface{}{"result": map[string]interface{}{"status": "acknowledged"}})

	case r.Method == http.MethodPost && r.URL.Path == "/collections/test_chunks/points/search":
		if f.failSearchStatus != 0 {
			writeQdrantJSON(w, f.failSearchStatus,
				map[string]interface{}{"status": map[string]interface{}{"error": "internal error"}})
			return
		}
		f.lastSearch = body
		writeQdrantJSON(w, http.StatusOK, map[string]interface{}{"result": f.searchHits})

	case r.Method == http.MethodPost && r.URL.Path == "/collections/test_chunks/points/delete":
		f.deletes = append(f.deletes, body)
		f.deleteQuery = r.URL.RawQuery
		writeQdrantJSON(w, http.StatusOK,
			map[string]interface{}{"result": map[string]interface{}{"status": "acknowledged"}})

	case r.Method == http.MethodPost && r.URL.Path == "/collections/test_chunks/points/scroll":
		f.scrollBodies = append(f.scrollBodies, body)
		pageIdx := f.scrollCalls
		f.scrollCalls++

		var points []map[string]interface{}
		if pageIdx < len(f.scrollPages) {
			for _, id := range f.scrollPages[pageIdx] {
				points = append(points, map[string]interface{}{
					"payload": map[string]interface{}{"chunk_id": id},
				})
			}
		}
		var next interface{}
		if pageIdx+1 < len(f.scrollPages) {
			next = pageIdx + 1
		}
		writeQdrantJSON(w, http.StatusOK, map[string]interface{}{
			"result": map[string]interface{}{"points": points, "next_page_offset": next},
		})

	case r.Method == http.MethodPost && r.URL.Path == "/collections/test_chunks/points/count":
		writeQdrantJSON(w, http.StatusOK,
			map[string]interface{}{"result": map[string]interface{}{"count": f.countValue}})

	case r.Method == http.MethodPost && r.URL.Path == "/collections/test_chunks/points":
		var points []map[string]interface{}
		if ids, ok := body["ids"].([]interface{}); ok {
			for _, id := range ids {
				if s, ok := id.(string); ok && f.containsIDs[s] {
					points = append(points, map[string]interface{}{"id": s})
				}
			}
		}
		writeQdrantJSON(w, http.StatusOK, map[string]interface{}{"result": points})

	default:
		http.NotFound(w, r)
	}
}

func writeQdrantJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newQdrantIndex(t *testing.T, f *fakeQdrant, dims int) *QdrantVectorIndex {
	t.Helper()
	idx, err := NewQdrantVectorIndex(context.Background(), f.config(dims))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestQdrantVectorIndex_CreatesMissingCollection(t *testing.T) {
	// Given: a server with no collection
	fake := newFakeQdrant(t)

	// When: connecting
	newQdrantIndex(t, fake, 256)

	// Then: the collection was created with the right shape
	assert.Equal(t, 1, fake.createCalls)
	vectors := fake.createBody["vectors"].(map[string]interface{})
	assert.Equal(t, float64(256), vectors["size"])
	assert.Equal(t, "Cosine", vectors["distance"])
}

func TestQdrantVectorIndex_ExistingCollection_DimensionMismatch(t *testing.T) {
	// Given: a collection built for 768-dim vectors
	fake := newFakeQdrant(t)
	fake.collectionExists = true
	fake.collectionSize = 768

	// When: connecting with a 256-dim embedder
	_, err := NewQdrantVectorIndex(context.Background(), fake.config(256))

	// Then: the mismatch is reported, not papered over
	require.Error(t, err)
	var dimErr ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 768, dimErr.Expected)
	assert.Equal(t, 256, dimErr.Got)
}

func TestQdrantVectorIndex_Upsert_SendsDeterministicPointIDs(t *testing.T) {
	fake := newFakeQdrant(t)
	idx := newQdrantIndex(t, fake, 3)

	entries := []*VectorEntry{
		vecEntry("doc-1_chunk_0", "doc-1", []string{"Returns", "Refund Policy"}, 2, []float32{1, 0, 0}),
		vecEntry("doc-1_chunk_1", "doc-1", nil, 1, []float32{0, 1, 0}),
	}
	require.NoError(t, idx.Upsert(context.Background(), entries))

	require.Len(t, fake.upserts, 1)
	assert.Equal(t, "wait=true", fake.upsertQuery)

	points := fake.upserts[0]["points"].([]interface{})
	require.Len(t, points, 2)

	p0 := points[0].(map[string]interface{})
	assert.Equal(t, qdrantPointID("doc-1_chunk_0"), p0["id"])

	// The chunk ID and its provenance ride in the payload
	payload := p0["payload"].(map[string]interface{})
	assert.Equal(t, "doc-1_chunk_0", payload["chunk_id"])
	assert.Equal(t, "doc-1", payload["document_id"])
	assert.Equal(t, float64(2), payload["page"])
	assert.Equal(t, joinHierarchy([]string{"Returns", "Refund Policy"}), payload["hierarchy"])
	assert.Equal(t, []interface{}{
		joinHierarchy([]string{"Returns"}),
		joinHierarchy([]string{"Returns", "Refund Policy"}),
	}, payload["hierarchy_prefixes"])
}

func TestQdrantVectorIndex_Upsert_DimensionMismatch(t *testing.T) {
	fake := newFakeQdrant(t)
	idx := newQdrantIndex(t, fake, 3)

	err := idx.Upsert(context.Background(),
		[]*VectorEntry{vecEntry("c1", "doc-1", nil, 1, []float32{1, 0})})
	require.Error(t, err)

	var dimErr ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)

	// Rejected locally, nothing was sent
	assert.Empty(t, fake.upserts)
}

func TestQdrantVectorIndex_Query_MapsScores(t *testing.T) {
	// Given: server hits across the cosine similarity range
	fake := newFakeQdrant(t)
	fake.searchHits = []map[string]interface{}{
		{"score": 1.0, "payload": map[string]interface{}{"chunk_id": "c1"}},
		{"score": 0.0, "payload": map[string]interface{}{"chunk_id": "c2"}},
		{"score": -1.0, "payload": map[string]interface{}{"chunk_id": "c3"}},
	}
	idx := newQdrantIndex(t, fake, 3)

	results, err := idx.Query(context.Background(), []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Then: similarity maps onto the same distance/score convention as HNSW
	assert.InDelta(t, 0.0, float64(results[0].Distance), 0.001)
	assert.InDelta(t, 1.0, float64(results[0].Score), 0.001)
	assert.InDelta(t, 1.0, float64(results[1].Distance), 0.001)
	assert.InDelta(t, 0.5, float64(results[1].Score), 0.001)
	assert.InDelta(t, 2.0, float64(results[2].Distance), 0.001)
	assert.InDelta(t, 0.0, float64(results[2].Score), 0.001)
}

func TestQdrantVectorIndex_Query_PushesFilterDown(t *testing.T) {
	fake := newFakeQdrant(t)
	idx := newQdrantIndex(t, fake, 3)

	_, err := idx.Query(context.Background(), []float32{1, 0, 0}, 5, &Filter{
		DocumentIDs:     []string{"doc-a", "doc-b"},
		HierarchyPrefix: []string{"Returns", "Refund Policy"},
		PageMin:         2,
		PageMax:         3,
	})
	require.NoError(t, err)

	require.NotNil(t, fake.lastSearch)
	assert.Equal(t, float64(5), fake.lastSearch["limit"])

	filter := fake.lastSearch["filter"].(map[string]interface{})
	must := filter["must"].([]interface{})
	require.Len(t, must, 3)

	byKey := map[string]map[string]interface{}{}
	for _, clause := range must {
		m := clause.(map[string]interface{})
		byKey[m["key"].(string)] = m
	}

	docClause := byKey["document_id"]["match"].(map[string]interface{})
	assert.Equal(t, []interface{}{"doc-a", "doc-b"}, docClause["any"])

	// Prefix filters become exact matches against the stored prefix list
	hierClause := byKey["hierarchy_prefixes"]["match"].(map[string]interface{})
	assert.Equal(t, joinHierarchy([]string{"Returns", "Refund Policy"}), hierClause["value"])

	pageClause := byKey["page"]["range"].(map[string]interface{})
	assert.Equal(t, float64(2), pageClause["gte"])
	assert.Equal(t, float64(3), pageClause["lte"])
}

func TestQdrantVectorIndex_Query_NoFilterOmitsFilterKey(t *testing.T) {
	fake := newFakeQdrant(t)
	idx := newQdrantIndex(t, fake, 3)

	_, err := idx.Query(context.Background(), []float32{1, 0, 0}, 5, nil)
	require.NoError(t, err)

	_, hasFilter := fake.lastSearch["filter"]
	assert.False(t, hasFilter)
}

func TestQdrantVectorIndex_Query_ServerErrorSurfaces(t *testing.T) {
	fake := newFakeQdrant(t)
	fake.failSearchStatus = http.StatusInternalServerError
	idx := newQdrantIndex(t, fake, 3)

	_, err := idx.Query(context.Background(), []float32{1, 0, 0}, 5, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestQdrantVectorIndex_Delete_MapsChunkIDsToPointIDs(t *testing.T) {
	fake := newFakeQdrant(t)
	idx := newQdrantIndex(t, fake, 3)

	require.NoError(t, idx.Delete(context.Background(), []string{"c1", "c2"}))

	require.Len(t, fake.deletes, 1)
	assert.Equal(t, "wait=true", fake.deleteQuery)
	assert.Equal(t, []interface{}{qdrantPointID("c1"), qdrantPointID("c2")},
		fake.deletes[0]["points"])
}

func TestQdrantVectorIndex_AllIDs_ScrollsAllPages(t *testing.T) {
	// Given: a collection spread over two scroll pages
	fake := newFakeQdrant(t)
	fake.scrollPages = [][]string{{"c1", "c2"}, {"c3"}}
	idx := newQdrantIndex(t, fake, 3)

	ids, err := idx.AllIDs()
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"c1", "c2", "c3"}, ids)
	assert.Equal(t, 2, fake.scrollCalls)

	// The second request carried the offset the first response returned
	require.Len(t, fake.scrollBodies, 2)
	_, firstHasOffset := fake.scrollBodies[0]["offset"]
	assert.False(t, firstHasOffset)
	assert.Equal(t, float64(1), fake.scrollBodies[1]["offset"])
}

func TestQdrantVectorIndex_Contains(t *testing.T) {
	fake := newFakeQdrant(t)
	fake.containsIDs[qdrantPointID("c1")] = true
	idx := newQdrantIndex(t, fake, 3)

	assert.True(t, idx.Contains("c1"))
	assert.False(t, idx.Contains("c2"))
}

func TestQdrantVectorIndex_Count(t *testing.T) {
	fake := newFakeQdrant(t)
	fake.countValue = 42
	idx := newQdrantIndex(t, fake, 3)

	assert.Equal(t, 42, idx.Count())
}

func TestQdrantVectorIndex_APIKeyHeader(t *testing.T) {
	fake := newFakeQdrant(t)

	cfg := fake.config(3)
	cfg.APIKey = "secret-key"
	idx, err := NewQdrantVectorIndex(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	assert.Equal(t, "secret-key", fake.lastAPIKey)
}

func TestQdrantVectorIndex_ClosedReturnsErrors(t *testing.T) {
	fake := newFakeQdrant(t)
	idx := newQdrantIndex(t, fake, 3)
	require.NoError(t, idx.Close())

	err := idx.Upsert(context.Background(),
		[]*VectorEntry{vecEntry("c1", "doc-1", nil, 1, []float32{1, 0, 0})})
	assert.Error(t, err)

	_, err = idx.Query(context.Background(), []float32{1, 0, 0}, 5, nil)
	assert.Error(t, err)

	assert.False(t, idx.Contains("c1"))
	assert.Equal(t, 0, idx.Count())
	assert.NoError(t, idx.Close())
}

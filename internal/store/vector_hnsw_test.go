package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHNSW(t *testing.T, dims int) *HNSWVectorIndex {
	t.Helper()
	idx, err := NewHNSWVectorIndex("", DefaultVectorIndexConfig(dims))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func vecEntry(id, docID string, hierarchy []string, page int, vec []float32) *VectorEntry {
	return &VectorEntry{
		ChunkID:       id,
		Vector:        vec,
		DocumentID:    docID,
		HierarchyPath: hierarchy,
		Page:          page,
	}
}

func TestHNSWVectorIndex_UpsertAndQuery_Basic(t *testing.T) {
	// Given: three vectors with known cosine relationships to the query
	idx := newHNSW(t, 3)

	entries := []*VectorEntry{
		vecEntry("c1", "doc-1", nil, 1, []float32{1, 0, 0}),
		vecEntry("c2", "doc-1", nil, 1, []float32{0, 1, 0}),
		vecEntry("c3", "doc-1", nil, 1, []float32{0.8, 0.6, 0}),
	}
	require.NoError(t, idx.Upsert(context.Background(), entries))

	// When: querying with [1,0,0]
	results, err := idx.Query(context.Background(), []float32{1, 0, 0}, 3, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Then: results are ordered by distance
	assert.Equal(t, "c1", results[0].ChunkID)
	assert.Equal(t, "c3", results[1].ChunkID)
	assert.Equal(t, "c2", results[2].ChunkID)

	// Identical vector: distance 0, score 1. Orthogonal: distance 1, score 0.5.
	assert.InDelta(t, 0.0, float64(results[0].Distance), 0.001)
	assert.InDelta(t, 1.0, float64(results[0].Score), 0.001)
	assert.InDelta(t, 0.2, float64(results[1].Distance), 0.001)
	assert.InDelta(t, 1.0, float64(results[2].Distance), 0.001)
	assert.InDelta(t, 0.5, float64(results[2].Score), 0.001)
}

func TestHNSWVectorIndex_Upsert_NormalizesForCosine(t *testing.T) {
	// Given: a vector with magnitude 4
	idx := newHNSW(t, 3)

	require.NoError(t, idx.Upsert(context.Background(),
		[]*VectorEntry{vecEntry("c1", "doc-1", nil, 1, []float32{4, 0, 0})}))

	// When: querying with the unit vector in the same direction
	results, err := idx.Query(context.Background(), []float32{1, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	// Then: magnitude doesn't matter for cosine
	assert.InDelta(t, 0.0, float64(results[0].Distance), 0.001)
	assert.InDelta(t, 1.0, float64(results[0].Score), 0.001)
}

func TestHNSWVectorIndex_Upsert_ReplacesExisting(t *testing.T) {
	idx := newHNSW(t, 3)

	require.NoError(t, idx.Upsert(context.Background(),
		[]*VectorEntry{vecEntry("c1", "doc-1", nil, 1, []float32{1, 0, 0})}))
	require.NoError(t, idx.Upsert(context.Background(),
		[]*VectorEntry{vecEntry("c1", "doc-1", nil, 1, []float32{0, 1, 0})}))

	results, err := idx.Query(context.Background(), []float32{0, 1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ChunkID)
	assert.InDelta(t, 0.0, float64(results[0].Distance), 0.001)

	assert.Equal(t, 1, idx.Count())

	// The old node stays in the graph as an orphan until a rebuild
	stats := idx.GraphStats()
	assert.Equal(t, 1, stats.ValidIDs)
	assert.Equal(t, 2, stats.GraphNodes)
	assert.Equal(t, 1, stats.Orphans)
}

func TestHNSWVectorIndex_Upsert_DimensionMismatch(t *testing.T) {
	idx := newHNSW(t, 3)

	// A batch with one bad entry is rejected whole
	entries := []*VectorEntry{
		vecEntry("c1", "doc-1", nil, 1, []float32{1, 0, 0}),
		vecEntry("c2", "doc-1", nil, 1, []float32{1, 0}),
	}
	err := idx.Upsert(context.Background(), entries)
	require.Error(t, err)

	var dimErr ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 3, dimErr.Expected)
	assert.Equal(t, 2, dimErr.Got)

	assert.Equal(t, 0, idx.Count())
}

func TestHNSWVectorIndex_Query_DimensionMismatch(t *testing.T) {
	idx := newHNSW(t, 3)

	require.NoError(t, idx.Upsert(context.Background(),
		[]*VectorEntry{vecEntry("c1", "doc-1", nil, 1, []float32{1, 0, 0})}))

	_, err := idx.Query(context.Background(), []float32{1, 0, 0, 0}, 10, nil)
	require.Error(t, err)

	var dimErr ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 3, dimErr.Expected)
	assert.Equal(t, 4, dimErr.Got)
}

func TestHNSWVectorIndex_Query_EmptyIndex(t *testing.T) {
	idx := newHNSW(t, 3)

	results, err := idx.Query(context.Background(), []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHNSWVectorIndex_Query_ZeroTopK(t *testing.T) {
	idx := newHNSW(t, 3)

	require.NoError(t, idx.Upsert(context.Background(),
		[]*VectorEntry{vecEntry("c1", "doc-1", nil, 1, []float32{1, 0, 0})}))

	results, err := idx.Query(context.Background(), []float32{1, 0, 0}, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHNSWVectorIndex_Delete_LazyRemovesFromResults(t *testing.T) {
	idx := newHNSW(t, 3)

	entries := []*VectorEntry{
		vecEntry("c1", "doc-1", nil, 1, []float32{1, 0, 0}),
		vecEntry("c2", "doc-1", nil, 1, []float32{0.9, 0.1, 0}),
		vecEntry("c3", "doc-1", nil, 1, []float32{0, 1, 0}),
	}
	require.NoError(t, idx.Upsert(context.Background(), entries))

	require.NoError(t, idx.Delete(context.Background(), []string{"c2", "missing"}))

	results, err := idx.Query(context.Background(), []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, "c2", r.ChunkID)
	}

	assert.False(t, idx.Contains("c2"))
	assert.True(t, idx.Contains("c1"))
	assert.Equal(t, 2, idx.Count())

	ids, err := idx.AllIDs()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c1", "c3"}, ids)

	stats := idx.GraphStats()
	assert.Equal(t, 1, stats.Orphans)
}

func TestHNSWVectorIndex_Query_FilterByDocument(t *testing.T) {
	idx := newHNSW(t, 3)

	entries := []*VectorEntry{
		vecEntry("a-0", "doc-a", nil, 1, []float32{1, 0, 0}),
		vecEntry("a-1", "doc-a", nil, 1, []float32{0.99, 0.14, 0}),
		vecEntry("b-0", "doc-b", nil, 1, []float32{0, 1, 0}),
	}
	require.NoError(t, idx.Upsert(context.Background(), entries))

	// doc-a's vectors are far closer to the query, but the filter runs first
	results, err := idx.Query(context.Background(), []float32{1, 0, 0}, 1,
		&Filter{DocumentIDs: []string{"doc-b"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b-0", results[0].ChunkID)
}

func TestHNSWVectorIndex_Query_FilterByHierarchyAndPage(t *testing.T) {
	idx := newHNSW(t, 3)

	entries := []*VectorEntry{
		vecEntry("c1", "doc-1", []string{"Returns"}, 1, []float32{1, 0, 0}),
		vecEntry("c2", "doc-1", []string{"Returns", "Refund Policy"}, 2, []float32{0.9, 0.44, 0}),
		vecEntry("c3", "doc-1", []string{"Guidelines"}, 3, []float32{0.8, 0.6, 0}),
	}
	require.NoError(t, idx.Upsert(context.Background(), entries))

	results, err := idx.Query(context.Background(), []float32{1, 0, 0}, 10,
		&Filter{HierarchyPrefix: []string{"Returns"}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c1", "c2"}, vectorResultIDs(results))

	// Prefixes match whole elements, not substrings
	results, err = idx.Query(context.Background(), []float32{1, 0, 0}, 10,
		&Filter{HierarchyPrefix: []string{"Guide"}})
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = idx.Query(context.Background(), []float32{1, 0, 0}, 10,
		&Filter{PageMin: 2, PageMax: 3})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c2", "c3"}, vectorResultIDs(results))
}

func TestHNSWVectorIndex_Query_FilteredResultsStayOrdered(t *testing.T) {
	idx := newHNSW(t, 3)

	entries := []*VectorEntry{
		vecEntry("far", "doc-a", nil, 1, []float32{0, 1, 0}),
		vecEntry("near", "doc-a", nil, 1, []float32{1, 0, 0}),
		vecEntry("mid", "doc-a", nil, 1, []float32{0.8, 0.6, 0}),
	}
	require.NoError(t, idx.Upsert(context.Background(), entries))

	results, err := idx.Query(context.Background(), []float32{1, 0, 0}, 10,
		&Filter{DocumentIDs: []string{"doc-a"}})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"near", "mid", "far"}, vectorResultIDs(results))
}

func TestHNSWVectorIndex_Query_TieBreaksByChunkID(t *testing.T) {
	// Given: two identical vectors
	idx := newHNSW(t, 3)

	entries := []*VectorEntry{
		vecEntry("c-b", "doc-1", nil, 1, []float32{1, 0, 0}),
		vecEntry("c-a", "doc-1", nil, 1, []float32{1, 0, 0}),
	}
	require.NoError(t, idx.Upsert(context.Background(), entries))

	// When: querying repeatedly
	for i := 0; i < 5; i++ {
		results, err := idx.Query(context.Background(), []float32{1, 0, 0}, 2, nil)
		require.NoError(t, err)
		require.Len(t, results, 2)

		// Then: equal distances always order by ID
		assert.Equal(t, "c-a", results[0].ChunkID)
		assert.Equal(t, "c-b", results[1].ChunkID)
	}
}

func TestHNSWVectorIndex_Persistence_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	indexPath := filepath.Join(tmpDir, "vectors.hnsw")

	idx1, err := NewHNSWVectorIndex(indexPath, DefaultVectorIndexConfig(3))
	require.NoError(t, err)

	entries := []*VectorEntry{
		vecEntry("c1", "doc-1", []string{"Returns"}, 1, []float32{1, 0, 0}),
		vecEntry("c2", "doc-1", []string{"Guidelines"}, 2, []float32{0, 1, 0}),
	}
	require.NoError(t, idx1.Upsert(context.Background(), entries))
	require.NoError(t, idx1.Flush())
	require.NoError(t, idx1.Close())

	// When: reopening from disk
	idx2, err := NewHNSWVectorIndex(indexPath, DefaultVectorIndexConfig(3))
	require.NoError(t, err)
	defer func() { _ = idx2.Close() }()

	// Then: vectors and provenance survive
	assert.Equal(t, 2, idx2.Count())
	assert.True(t, idx2.Contains("c1"))

	results, err := idx2.Query(context.Background(), []float32{1, 0, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "c1", results[0].ChunkID)

	// Filtered queries need the provenance sidecar, so they prove the
	// round trip kept it
	results, err = idx2.Query(context.Background(), []float32{1, 0, 0}, 10,
		&Filter{HierarchyPrefix: []string{"Returns"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ChunkID)

	dims, err := ReadHNSWDimensions(indexPath)
	require.NoError(t, err)
	assert.Equal(t, 3, dims)
}

func TestHNSWVectorIndex_Reopen_DimensionMismatch(t *testing.T) {
	tmpDir := t.TempDir()
	indexPath := filepath.Join(tmpDir, "vectors.hnsw")

	idx1, err := NewHNSWVectorIndex(indexPath, DefaultVectorIndexConfig(3))
	require.NoError(t, err)
	require.NoError(t, idx1.Upsert(context.Background(),
		[]*VectorEntry{vecEntry("c1", "doc-1", nil, 1, []float32{1, 0, 0})}))
	require.NoError(t, idx1.Flush())
	require.NoError(t, idx1.Close())

	// When: reopening with a different dimension
	_, err = NewHNSWVectorIndex(indexPath, DefaultVectorIndexConfig(4))
	require.Error(t, err)

	var dimErr ErrDimensionMismatch
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 3, dimErr.Expected)
	assert.Equal(t, 4, dimErr.Got)
}

func TestReadHNSWDimensions_MissingFile(t *testing.T) {
	dims, err := ReadHNSWDimensions(filepath.Join(t.TempDir(), "does-not-exist.hnsw"))
	require.NoError(t, err)
	assert.Equal(t, 0, dims)
}

func TestHNSWVectorIndex_CorruptedFileAutoCleared(t *testing.T) {
	tmpDir := t.TempDir()
	indexPath := filepath.Join(tmpDir, "vectors.hnsw")
	require.NoError(t, os.WriteFile(indexPath, []byte("not an hnsw graph"), 0644))
	require.NoError(t, os.WriteFile(indexPath+".meta", []byte("not gob"), 0644))

	// When: opening over the corrupt files
	idx, err := NewHNSWVectorIndex(indexPath, DefaultVectorIndexConfig(3))

	// Then: they are cleared and the index starts fresh
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()
	assert.Equal(t, 0, idx.Count())

	require.NoError(t, idx.Upsert(context.Background(),
		[]*VectorEntry{vecEntry("c1", "doc-1", nil, 1, []float32{1, 0, 0})}))
	assert.Equal(t, 1, idx.Count())
}

func TestHNSWVectorIndex_ClosedReturnsErrors(t *testing.T) {
	idx := newHNSW(t, 3)
	require.NoError(t, idx.Close())

	err := idx.Upsert(context.Background(),
		[]*VectorEntry{vecEntry("c1", "doc-1", nil, 1, []float32{1, 0, 0})})
	assert.Error(t, err)

	_, err = idx.Query(context.Background(), []float32{1, 0, 0}, 10, nil)
	assert.Error(t, err)

	_, err = idx.AllIDs()
	assert.Error(t, err)

	assert.False(t, idx.Contains("c1"))
	assert.Equal(t, 0, idx.Count())
	assert.Error(t, idx.Flush())
	assert.NoError(t, idx.Close())
}

func vectorResultIDs(results []*VectorResult) []string {
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ChunkID)
	}
	return ids
}

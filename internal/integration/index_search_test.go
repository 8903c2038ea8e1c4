// Package integration exercises the full path from ingestion through
// hybrid search and citation resolution, with real stores on disk.
package integration

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/documind-hq/documind/internal/cite"
	"github.com/documind-hq/documind/internal/config"
	"github.com/documind-hq/documind/internal/embed"
	"github.com/documind-hq/documind/internal/ingest"
	"github.com/documind-hq/documind/internal/search"
	"github.com/documind-hq/documind/internal/store"
	"github.com/documind-hq/documind/internal/ui"
)

// stack bundles the real components one corpus needs.
type stack struct {
	root     string
	cfg      *config.Config
	metadata *store.SQLiteStore
	lexical  store.LexicalIndex
	vector   store.VectorIndex
	embedder embed.Embedder
	engine   *search.Engine
}

// newStack opens real stores in a temp directory with the static
// embedder, so tests run hermetically.
func newStack(t *testing.T) *stack {
	t.Helper()
	ctx := context.Background()

	s := &stack{
		root: t.TempDir(),
		cfg:  config.NewConfig(),
	}
	dataDir := filepath.Join(t.TempDir(), "data")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))

	metadata, err := store.NewSQLiteStore(filepath.Join(dataDir, "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = metadata.Close() })
	s.metadata = metadata

	lexical, err := store.NewLexicalIndexWithBackend(
		store.LexicalIndexBasePath(dataDir), store.DefaultLexicalConfig(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = lexical.Close() })
	s.lexical = lexical

	s.embedder = embed.NewStaticEmbedder()
	t.Cleanup(func() { _ = s.embedder.Close() })

	vector, err := store.NewVectorIndexWithBackend(ctx,
		store.VectorIndexBasePath(dataDir),
		store.DefaultVectorIndexConfig(s.embedder.Dimensions()),
		"", store.QdrantConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = vector.Close() })
	s.vector = vector

	engine, err := search.NewEngine(lexical, vector, metadata, s.embedder, search.DefaultConfig())
	require.NoError(t, err)
	s.engine = engine

	return s
}

// ingestCorpus runs the real pipeline over the stack's corpus root.
func (s *stack) ingestCorpus(t *testing.T) *ingest.Result {
	t.Helper()

	renderer := ui.NewRenderer(ui.NewConfig(io.Discard, ui.WithForcePlain(true)))
	require.NoError(t, renderer.Start(context.Background()))
	defer func() { _ = renderer.Stop() }()

	p, err := ingest.NewPipeline(ingest.Dependencies{
		Renderer: renderer,
		Config:   s.cfg,
		Metadata: s.metadata,
		Lexical:  s.lexical,
		Vector:   s.vector,
		Embedder: s.embedder,
	})
	require.NoError(t, err)

	result, err := p.Run(context.Background(), ingest.Config{RootDir: s.root})
	require.NoError(t, err)
	return result
}

func (s *stack) writeDoc(t *testing.T, name, content string) {
	t.Helper()
	path := filepath.Join(s.root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const refundDoc = `# Refund Policy

## Returns

Items may be returned within 30 days of purchase for a full refund.

## Exchanges

Exchanges are processed within 5 business days.
`

func TestIngestAndSearch_FindsExpectedDocument(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := newStack(t)
	s.writeDoc(t, "policies/refunds.md", refundDoc)
	s.writeDoc(t, "shipping.md", "# Shipping\n\nStandard shipping takes 3 to 7 business days.\n")

	result := s.ingestCorpus(t)
	assert.Equal(t, 2, result.Documents)
	assert.Greater(t, result.Chunks, 0)

	resp, err := s.engine.Search(context.Background(), "returned 30 days full refund", search.Options{TopK: 5})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)

	top := resp.Results[0]
	require.NotNil(t, top.Chunk)
	doc, err := s.metadata.GetDocument(context.Background(), top.Chunk.DocumentID)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "policies/refunds.md", doc.Path)
	assert.Contains(t, top.Chunk.HierarchyPath, "Refund Policy")
}

func TestReingestAfterEdit_ReplacesStaleChunks(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := newStack(t)
	s.writeDoc(t, "notes.md", "# Notes\n\nThe keyboard shortcut is control shift p.\n")
	s.ingestCorpus(t)

	resp, err := s.engine.Search(context.Background(), "keyboard shortcut", search.Options{TopK: 5})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)

	s.writeDoc(t, "notes.md", "# Notes\n\nThe menu entry replaced the old binding entirely.\n")
	result := s.ingestCorpus(t)
	assert.Equal(t, 1, result.Documents)

	resp, err = s.engine.Search(context.Background(), "menu entry replaced binding", search.Options{TopK: 5})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	for _, r := range resp.Results {
		require.NotNil(t, r.Chunk)
		assert.NotContains(t, r.Chunk.Text, "keyboard shortcut",
			"stale chunk text must not survive a re-ingest")
	}
}

func TestReingestAfterDelete_RemovesDocument(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := newStack(t)
	s.writeDoc(t, "keep.md", "# Keep\n\nThis document stays in the corpus.\n")
	s.writeDoc(t, "drop.md", "# Drop\n\nThis document will be deleted before re-ingest.\n")
	s.ingestCorpus(t)

	require.NoError(t, os.Remove(filepath.Join(s.root, "drop.md")))
	result := s.ingestCorpus(t)
	assert.Equal(t, 1, result.Removed)

	stats, err := s.metadata.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DocumentCount)

	doc, err := s.metadata.GetDocumentByPath(context.Background(), "drop.md")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestSearch_EmptyIndex_ReturnsNoResults(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := newStack(t)

	resp, err := s.engine.Search(context.Background(), "anything at all", search.Options{TopK: 10})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestSearch_SectionFilter_RestrictsResults(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := newStack(t)
	s.writeDoc(t, "refunds.md", refundDoc)
	s.ingestCorpus(t)

	resp, err := s.engine.Search(context.Background(), "processed business days", search.Options{
		TopK:   10,
		Filter: &store.Filter{HierarchyPrefix: []string{"Refund Policy", "Exchanges"}},
	})
	require.NoError(t, err)

	for _, r := range resp.Results {
		require.NotNil(t, r.Chunk)
		require.GreaterOrEqual(t, len(r.Chunk.HierarchyPath), 2)
		assert.Equal(t, "Exchanges", r.Chunk.HierarchyPath[1])
	}
}

func TestSearchAndCite_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := newStack(t)
	s.writeDoc(t, "refunds.md", refundDoc)
	s.ingestCorpus(t)

	ctx := context.Background()
	resp, err := s.engine.Search(ctx, "returned 30 days full refund", search.Options{TopK: 5})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)

	resolver := cite.NewResolver(s.metadata)
	citations, warnings := resolver.Resolve(ctx,
		[]cite.AnswerSpan{{ChunkID: resp.Results[0].Chunk.ID}}, resp.Results)

	require.Len(t, citations, 1)
	assert.Empty(t, warnings)
	// Citations carry the document's heading, not its filename.
	assert.Contains(t, citations[0].Format(), "Refund Policy")

	// A span naming a chunk outside the retrieved set must never
	// produce a citation.
	citations, warnings = resolver.Resolve(ctx,
		[]cite.AnswerSpan{{ChunkID: "unrelated_chunk_7"}}, resp.Results)
	assert.Empty(t, citations)
	require.Len(t, warnings, 1)
	assert.Equal(t, cite.WarnOutOfSet, warnings[0].Code)
}

func TestSearch_ConcurrentQueries_NoRace(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := newStack(t)
	s.writeDoc(t, "refunds.md", refundDoc)
	s.ingestCorpus(t)

	ctx := context.Background()
	done := make(chan error, 20)
	queries := []string{"refund", "exchange", "business days", "returned"}
	for i := 0; i < 20; i++ {
		go func(q string) {
			_, err := s.engine.Search(ctx, q, search.Options{TopK: 5})
			done <- err
		}(queries[i%len(queries)])
	}

	timeout := time.After(30 * time.Second)
	for i := 0; i < 20; i++ {
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-timeout:
			t.Fatal("concurrent searches timed out")
		}
	}
}

// failingVectorIndex satisfies store.VectorIndex but fails every query.
type failingVectorIndex struct{}

func (f *failingVectorIndex) Upsert(ctx context.Context, entries []*store.VectorEntry) error {
	return nil
}
func (f *failingVectorIndex) Query(ctx context.Context, vector []float32, topK int, filter *store.Filter) ([]*store.VectorResult, error) {
	return nil, errors.New("vector index unavailable")
}
func (f *failingVectorIndex) Delete(ctx context.Context, chunkIDs []string) error { return nil }
func (f *failingVectorIndex) AllIDs() ([]string, error)                           { return nil, nil }
func (f *failingVectorIndex) Contains(chunkID string) bool                        { return false }
func (f *failingVectorIndex) Count() int                                          { return 1 }
func (f *failingVectorIndex) Flush() error                                        { return nil }
func (f *failingVectorIndex) Close() error                                        { return nil }

func TestSearch_VectorBranchDown_DegradesToLexical(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := newStack(t)
	s.writeDoc(t, "refunds.md", refundDoc)
	s.ingestCorpus(t)

	degraded, err := search.NewEngine(s.lexical, &failingVectorIndex{}, s.metadata, s.embedder, search.DefaultConfig())
	require.NoError(t, err)

	resp, err := degraded.Search(context.Background(), "returned 30 days refund", search.Options{TopK: 5})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Results, "lexical branch alone should still answer")
	assert.True(t, resp.Degraded)
	assert.Contains(t, resp.DegradedBranches, search.BranchVector)
}

// failingLexicalIndex satisfies store.LexicalIndex but fails every query.
type failingLexicalIndex struct{}

func (f *failingLexicalIndex) Upsert(ctx context.Context, entries []*store.LexicalEntry) error {
	return nil
}
func (f *failingLexicalIndex) Query(ctx context.Context, text string, topK int, filter *store.Filter) ([]*store.LexicalResult, error) {
	return nil, errors.New("lexical index unavailable")
}
func (f *failingLexicalIndex) Delete(ctx context.Context, chunkIDs []string) error { return nil }
func (f *failingLexicalIndex) AllIDs() ([]string, error)                           { return nil, nil }
func (f *failingLexicalIndex) Stats() *store.LexicalStats                          { return &store.LexicalStats{} }
func (f *failingLexicalIndex) Flush() error                                        { return nil }
func (f *failingLexicalIndex) Close() error                                        { return nil }

func TestSearch_BothBranchesDown_ReturnsSearchUnavailable(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	s := newStack(t)
	s.writeDoc(t, "refunds.md", refundDoc)
	s.ingestCorpus(t)

	dead, err := search.NewEngine(&failingLexicalIndex{}, &failingVectorIndex{}, s.metadata, s.embedder, search.DefaultConfig())
	require.NoError(t, err)

	_, err = dead.Search(context.Background(), "refund", search.Options{TopK: 5})
	require.Error(t, err)
	var unavailable *search.SearchUnavailableError
	assert.ErrorAs(t, err, &unavailable)
}

func TestConfigLoad_AppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := config.Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, 0.5, cfg.Search.LexicalWeight)
	assert.Equal(t, 0.5, cfg.Search.VectorWeight)
	assert.Equal(t, "rrf", cfg.Search.Fusion)
}

func TestConfigLoad_ProjectFileOverridesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configContent := `
version: 1
search:
  fusion: minmax
  max_results: 25
embeddings:
  provider: static
`
	require.NoError(t, os.WriteFile(
		filepath.Join(tmpDir, config.ProjectConfigName), []byte(configContent), 0o644))

	cfg, err := config.Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "minmax", cfg.Search.Fusion)
	assert.Equal(t, 25, cfg.Search.MaxResults)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
	// Untouched fields keep their defaults.
	assert.Equal(t, 60, cfg.Search.RRFConstant)
}

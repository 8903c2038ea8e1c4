// Package validation is the retrieval quality harness. It runs a fixed
// set of queries against a real index and checks that the expected
// documents come back, so ranking regressions surface before release.
//
// Queries are data-driven, loaded from testdata/queries.yaml, and can
// be edited without rebuilding anything.
package validation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/documind-hq/documind/internal/config"
	"github.com/documind-hq/documind/internal/embed"
	"github.com/documind-hq/documind/internal/search"
	"github.com/documind-hq/documind/internal/store"
)

// QuerySpec defines one harness query with its expected documents.
type QuerySpec struct {
	ID       string   `yaml:"id"`       // e.g. "T1-Q7"
	Name     string   `yaml:"name"`     // Human-readable name
	Query    string   `yaml:"query"`    // The search query
	Expected []string `yaml:"expected"` // Document paths or prefixes that should appear
	Notes    string   `yaml:"notes"`    // Optional explanation for maintainers
	Tier     int      `yaml:"-"`        // Set from the section the spec was loaded from
}

// QueryConfig holds all harness queries loaded from YAML. Tier 1 is the
// must-pass set, Tier 2 is aspirational, Negative queries only need to
// not crash.
type QueryConfig struct {
	Tier1    []QuerySpec `yaml:"tier1"`
	Tier2    []QuerySpec `yaml:"tier2"`
	Negative []QuerySpec `yaml:"negative"`
}

var (
	queriesOnce sync.Once
	queriesData *QueryConfig
	queriesErr  error
)

// LoadQueries loads harness queries from testdata/queries.yaml. Results
// are cached after the first load.
func LoadQueries() (*QueryConfig, error) {
	queriesOnce.Do(func() {
		_, filename, _, ok := runtime.Caller(0)
		if !ok {
			queriesErr = fmt.Errorf("failed to get current file path")
			return
		}

		path := filepath.Join(filepath.Dir(filename), "testdata", "queries.yaml")
		data, err := os.ReadFile(path)
		if err != nil {
			queriesErr = fmt.Errorf("failed to read queries file %s: %w", path, err)
			return
		}

		var cfg QueryConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			queriesErr = fmt.Errorf("failed to parse queries YAML: %w", err)
			return
		}

		for i := range cfg.Tier1 {
			cfg.Tier1[i].Tier = 1
		}
		for i := range cfg.Tier2 {
			cfg.Tier2[i].Tier = 2
		}
		for i := range cfg.Negative {
			cfg.Negative[i].Tier = 0
		}

		queriesData = &cfg
	})

	return queriesData, queriesErr
}

// ResetQueries clears the cached queries (for testing).
func ResetQueries() {
	queriesOnce = sync.Once{}
	queriesData = nil
	queriesErr = nil
}

// TestResult captures the outcome of a single harness query.
type TestResult struct {
	Spec       QuerySpec     `json:"spec"`
	Passed     bool          `json:"passed"`
	Duration   time.Duration `json:"duration_ms"`
	TopResults []string      `json:"top_results"` // Document paths returned
	MatchedAt  int           `json:"matched_at"`  // Position of first match (-1 if not found)
	Degraded   bool          `json:"degraded"`    // A retrieval branch was unavailable
	Error      string        `json:"error,omitempty"`
}

// RunResult captures one full harness run.
type RunResult struct {
	Timestamp   time.Time    `json:"timestamp"`
	Tier1       []TestResult `json:"tier1"`
	Tier2       []TestResult `json:"tier2"`
	Negative    []TestResult `json:"negative"`
	Tier1Pass   int          `json:"tier1_pass"`
	Tier1Total  int          `json:"tier1_total"`
	Tier2Pass   int          `json:"tier2_pass"`
	Tier2Total  int          `json:"tier2_total"`
	NegPass     int          `json:"negative_pass"`
	NegTotal    int          `json:"negative_total"`
	Embedder    string       `json:"embedder"`
	IndexChunks int          `json:"index_chunks"`
}

// searcher is the slice of the engine the harness needs.
type searcher interface {
	Search(ctx context.Context, query string, opts search.Options) (*search.Response, error)
}

// Validator runs harness queries against an opened index.
type Validator struct {
	engine   searcher
	metadata store.MetadataStore
	embedder embed.Embedder
	closers  []func() error
}

// NewValidator opens the index under root and builds a validator over
// it. Pass offline to use the static embedder instead of the configured
// provider.
func NewValidator(ctx context.Context, root string, offline bool) (*Validator, error) {
	dataDir := config.DataDir(root)
	metadataPath := filepath.Join(dataDir, "metadata.db")
	if _, err := os.Stat(metadataPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("no index found at %s - run 'documind ingest' first", dataDir)
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	v := &Validator{}
	fail := func(err error) (*Validator, error) {
		_ = v.Close()
		return nil, err
	}

	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	v.metadata = metadata
	v.closers = append(v.closers, metadata.Close)

	lexBackend := cfg.Search.LexicalBackend
	if detected := store.DetectLexicalBackend(store.LexicalIndexBasePath(dataDir)); detected != "" {
		lexBackend = string(detected)
	}
	lexical, err := store.NewLexicalIndexWithBackend(
		store.LexicalIndexBasePath(dataDir), store.DefaultLexicalConfig(), lexBackend)
	if err != nil {
		return fail(fmt.Errorf("failed to open lexical index: %w", err))
	}
	v.closers = append(v.closers, lexical.Close)

	if offline {
		v.embedder = embed.NewStaticEmbedder()
	} else {
		provider := embed.ParseProvider(cfg.Embeddings.Provider)
		embedder, err := embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
		if err != nil {
			return fail(fmt.Errorf("failed to create embedder: %w", err))
		}
		v.embedder = embedder
	}
	v.closers = append(v.closers, v.embedder.Close)

	dims := v.embedder.Dimensions()
	if stored, err := metadata.GetState(ctx, store.StateKeyIndexDimension); err == nil && stored != "" {
		fmt.Sscanf(stored, "%d", &dims)
	}
	vector, err := store.NewVectorIndexWithBackend(ctx,
		store.VectorIndexBasePath(dataDir),
		store.DefaultVectorIndexConfig(dims),
		cfg.Search.VectorBackend,
		store.QdrantConfig{URL: cfg.Search.QdrantURL, Dimensions: dims},
	)
	if err != nil {
		return fail(fmt.Errorf("failed to open vector index: %w", err))
	}
	v.closers = append(v.closers, vector.Close)

	engine, err := search.NewEngine(lexical, vector, metadata, v.embedder, search.DefaultConfig(),
		search.WithClassifier(search.NewPatternClassifier()))
	if err != nil {
		return fail(fmt.Errorf("failed to build search engine: %w", err))
	}
	v.engine = engine

	return v, nil
}

// Close releases everything the validator opened, in reverse order.
func (v *Validator) Close() error {
	var firstErr error
	for i := len(v.closers) - 1; i >= 0; i-- {
		if err := v.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	v.closers = nil
	return firstErr
}

// RunQuery executes one harness query and scores it against the spec.
func (v *Validator) RunQuery(ctx context.Context, spec QuerySpec) TestResult {
	start := time.Now()
	result := TestResult{
		Spec:      spec,
		MatchedAt: -1,
	}

	resp, err := v.engine.Search(ctx, spec.Query, search.Options{TopK: 10})
	result.Duration = time.Since(start)

	if err != nil {
		// Negative specs only assert that the engine does not crash;
		// a clean error return counts as surviving.
		if spec.Tier == 0 {
			result.Passed = true
		} else {
			result.Error = err.Error()
		}
		return result
	}

	result.Degraded = resp.Degraded
	result.TopResults = v.documentPaths(ctx, resp)

	if len(spec.Expected) == 0 {
		result.Passed = true
	} else {
		result.Passed, result.MatchedAt = checkExpected(result.TopResults, spec.Expected)
	}
	return result
}

// RunAll executes every loaded harness query.
func (v *Validator) RunAll(ctx context.Context) *RunResult {
	result := &RunResult{Timestamp: time.Now()}
	if v.embedder != nil {
		result.Embedder = v.embedder.ModelName()
	}
	if stats, err := v.metadata.Stats(ctx); err == nil {
		result.IndexChunks = stats.ChunkCount
	}

	cfg, err := LoadQueries()
	if err != nil {
		return result
	}

	for _, spec := range cfg.Tier1 {
		tr := v.RunQuery(ctx, spec)
		result.Tier1 = append(result.Tier1, tr)
		result.Tier1Total++
		if tr.Passed {
			result.Tier1Pass++
		}
	}
	for _, spec := range cfg.Tier2 {
		tr := v.RunQuery(ctx, spec)
		result.Tier2 = append(result.Tier2, tr)
		result.Tier2Total++
		if tr.Passed {
			result.Tier2Pass++
		}
	}
	for _, spec := range cfg.Negative {
		tr := v.RunQuery(ctx, spec)
		result.Negative = append(result.Negative, tr)
		result.NegTotal++
		if tr.Passed {
			result.NegPass++
		}
	}

	return result
}

// documentPaths maps ranked chunks to their document paths, deduplicated
// in rank order.
func (v *Validator) documentPaths(ctx context.Context, resp *search.Response) []string {
	var paths []string
	seen := map[string]bool{}
	for _, r := range resp.Results {
		if r == nil || r.Chunk == nil || seen[r.Chunk.DocumentID] {
			continue
		}
		seen[r.Chunk.DocumentID] = true
		if doc, err := v.metadata.GetDocument(ctx, r.Chunk.DocumentID); err == nil && doc != nil {
			paths = append(paths, doc.Path)
		}
	}
	return paths
}

// checkExpected reports whether any expected path appears in the ranked
// results, and at which position.
func checkExpected(results []string, expected []string) (bool, int) {
	for i, path := range results {
		for _, exp := range expected {
			if strings.HasPrefix(path, exp) || strings.Contains(path, exp) {
				return true, i
			}
		}
	}
	return false, -1
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/documind-hq/documind/internal/config"
	"github.com/documind-hq/documind/internal/embed"
	"github.com/documind-hq/documind/internal/search"
	"github.com/documind-hq/documind/internal/store"
	"github.com/documind-hq/documind/internal/ui"
)

// env bundles the opened stores and configuration a command works with.
// Every open* helper returns resources the caller must Close; env.Close
// releases them in reverse order.
type env struct {
	Root    string
	DataDir string
	Config  *config.Config

	Metadata store.MetadataStore
	Lexical  store.LexicalIndex
	Vector   store.VectorIndex
	Embedder embed.Embedder

	closers []func() error
}

// Close releases resources in reverse acquisition order.
func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i]()
	}
	e.closers = nil
}

func metadataDBPath(dataDir string) string {
	return store.MetadataPath(dataDir)
}

// resolveRoot finds the corpus root for a path argument, falling back to
// the path itself when no marker is found.
func resolveRoot(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	root, err := config.FindCorpusRoot(abs)
	if err != nil {
		return abs, nil
	}
	return root, nil
}

// loadConfig loads layered configuration for a corpus root, falling back
// to defaults when no config file exists.
func loadConfig(root string) *config.Config {
	cfg, err := config.Load(root)
	if err != nil {
		return config.NewConfig()
	}
	return cfg
}

// requireIndex errors with a directive message when no index exists yet.
func requireIndex(root string) (dataDir string, err error) {
	dataDir = config.DataDir(root)
	if !fileExists(metadataDBPath(dataDir)) {
		return "", fmt.Errorf("no index found in %s\nRun 'documind ingest' to create one", root)
	}
	return dataDir, nil
}

// openStores opens the metadata store and both indexes for an existing
// corpus, honoring the backends recorded by the last ingest.
func openStores(ctx context.Context, root string, cfg *config.Config) (*env, error) {
	dataDir, err := requireIndex(root)
	if err != nil {
		return nil, err
	}

	e := &env{Root: root, DataDir: dataDir, Config: cfg}

	metadata, err := store.NewSQLiteStore(metadataDBPath(dataDir))
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	e.Metadata = metadata
	e.closers = append(e.closers, metadata.Close)

	lexBackend := cfg.Search.LexicalBackend
	if detected := store.DetectLexicalBackend(store.LexicalIndexBasePath(dataDir)); detected != "" {
		lexBackend = string(detected)
	}
	lexCfg := store.DefaultLexicalConfig()
	lexical, err := store.NewLexicalIndexWithBackend(store.LexicalIndexBasePath(dataDir), lexCfg, lexBackend)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to open lexical index: %w", err)
	}
	e.Lexical = lexical
	e.closers = append(e.closers, lexical.Close)

	dims := cfg.Embeddings.Dimensions
	if stored, err := metadata.GetState(ctx, store.StateKeyIndexDimension); err == nil && stored != "" {
		fmt.Sscanf(stored, "%d", &dims)
	}
	if dims <= 0 {
		dims = embed.StaticDimensions
	}
	vector, err := store.NewVectorIndexWithBackend(ctx,
		store.VectorIndexBasePath(dataDir),
		store.DefaultVectorIndexConfig(dims),
		cfg.Search.VectorBackend,
		store.QdrantConfig{URL: cfg.Search.QdrantURL, Dimensions: dims},
	)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}
	e.Vector = vector
	e.closers = append(e.closers, vector.Close)

	return e, nil
}

// openEmbedder attaches an embedder to the env. Pass offline to force the
// static embedder regardless of configuration.
func (e *env) openEmbedder(ctx context.Context, offline bool) error {
	if offline {
		e.Embedder = embed.NewStaticEmbedder()
		e.closers = append(e.closers, e.Embedder.Close)
		return nil
	}

	provider := embed.ParseProvider(e.Config.Embeddings.Provider)
	initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	embedder, err := embed.NewEmbedder(initCtx, provider, e.Config.Embeddings.Model)
	if err != nil {
		return fmt.Errorf("embedder initialization failed: %w", err)
	}
	e.Embedder = embedder
	e.closers = append(e.closers, embedder.Close)
	return nil
}

// buildEngine constructs the hybrid search engine from the opened stores,
// wiring the configured reranker and classifier. Callers may pass extra
// options (telemetry observers and the like).
func (e *env) buildEngine(ctx context.Context, extra ...search.EngineOption) (*search.Engine, error) {
	engineCfg := engineConfigFromFile(e.Config)

	var opts []search.EngineOption
	opts = append(opts, extra...)
	if e.Config.Rerank.Enabled {
		reranker, err := search.NewHTTPReranker(ctx, search.HTTPRerankerConfig{
			Endpoint: e.Config.Rerank.Endpoint,
			Model:    e.Config.Rerank.Model,
		})
		if err == nil {
			opts = append(opts, search.WithReranker(reranker))
		}
		// An unreachable reranker is not fatal: search passes through.
	}
	opts = append(opts, search.WithClassifier(search.NewPatternClassifier()))

	return search.NewEngine(e.Lexical, e.Vector, e.Metadata, e.Embedder, engineCfg, opts...)
}

// engineConfigFromFile maps the search section of the config file onto
// engine configuration, leaving zero values for NewEngine's defaults.
func engineConfigFromFile(cfg *config.Config) search.EngineConfig {
	ec := search.DefaultConfig()
	if cfg.Search.MaxResults > 0 {
		ec.MaxTopK = cfg.Search.MaxResults
	}
	if cfg.Search.LexicalWeight > 0 || cfg.Search.VectorWeight > 0 {
		ec.DefaultWeights = search.Weights{
			Lexical: cfg.Search.LexicalWeight,
			Vector:  cfg.Search.VectorWeight,
		}
	}
	if cfg.Search.RRFConstant > 0 {
		ec.RRFConstant = cfg.Search.RRFConstant
	}
	if cfg.Search.Fusion != "" {
		ec.FusionMethod = cfg.Search.Fusion
	}
	if cfg.Search.CandidatePool > 0 {
		ec.CandidatePool = cfg.Search.CandidatePool
	}
	if cfg.Rerank.TopK > 0 {
		ec.RerankTopK = cfg.Rerank.TopK
	}
	if cfg.Search.BranchTimeout != "" {
		if d, err := time.ParseDuration(cfg.Search.BranchTimeout); err == nil && d > 0 {
			ec.BranchTimeout = d
		}
	}
	return ec
}

// useColor reports whether styled output should be used for a writer.
func useColor(w io.Writer) bool {
	return ui.IsTTY(w) && !ui.DetectNoColor()
}

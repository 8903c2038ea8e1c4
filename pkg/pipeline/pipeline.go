package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/documind-hq/documind/internal/cite"
	"github.com/documind-hq/documind/internal/config"
	"github.com/documind-hq/documind/internal/embed"
	"github.com/documind-hq/documind/internal/search"
	"github.com/documind-hq/documind/internal/store"
)

// ErrClosed is returned by operations on a closed Pipeline.
var ErrClosed = errors.New("pipeline is closed")

// Option configures Open.
type Option func(*settings)

type settings struct {
	cfg      *config.Config
	offline  bool
	progress io.Writer
}

// WithConfig supplies an explicit configuration instead of loading the
// user and project config files for the corpus root.
func WithConfig(cfg *config.Config) Option {
	return func(s *settings) { s.cfg = cfg }
}

// WithOffline forces the deterministic static embedder, skipping any
// network-backed embedding provider. Lexical quality is unaffected;
// semantic recall is reduced.
func WithOffline() Option {
	return func(s *settings) { s.offline = true }
}

// WithProgressWriter directs plain-text ingest progress to w. Progress
// is discarded by default.
func WithProgressWriter(w io.Writer) Option {
	return func(s *settings) { s.progress = w }
}

// Pipeline is an open corpus: metadata store, both indexes, an embedder
// and the hybrid search engine, all rooted at one directory.
type Pipeline struct {
	root     string
	dataDir  string
	cfg      *config.Config
	progress io.Writer

	metadata *store.SQLiteStore
	lexical  store.LexicalIndex
	vector   store.VectorIndex
	embedder embed.Embedder
	engine   *search.Engine
	resolver *cite.Resolver

	mu     sync.Mutex
	closed bool
}

// Open prepares a corpus directory for use. The index data directory is
// created if it does not exist yet, so Open works on a fresh corpus; call
// Ingest before the first Search.
//
// The returned Pipeline holds open files and must be closed.
func Open(ctx context.Context, root string, opts ...Option) (*Pipeline, error) {
	s := settings{progress: io.Discard}
	for _, opt := range opts {
		opt(&s)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve corpus root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to access corpus root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("corpus root is not a directory: %s", absRoot)
	}

	cfg := s.cfg
	if cfg == nil {
		loaded, err := config.Load(absRoot)
		if err != nil {
			loaded = config.NewConfig()
		}
		cfg = loaded
	}

	dataDir := config.DataDir(absRoot)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	p := &Pipeline{
		root:     absRoot,
		dataDir:  dataDir,
		cfg:      cfg,
		progress: s.progress,
	}
	if err := p.open(ctx, s.offline); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) open(ctx context.Context, offline bool) error {
	metadata, err := store.NewSQLiteStore(filepath.Join(p.dataDir, "metadata.db"))
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	p.metadata = metadata

	lexBackend := p.cfg.Search.LexicalBackend
	if detected := store.DetectLexicalBackend(store.LexicalIndexBasePath(p.dataDir)); detected != "" {
		lexBackend = string(detected)
	}
	lexical, err := store.NewLexicalIndexWithBackend(
		store.LexicalIndexBasePath(p.dataDir), store.DefaultLexicalConfig(), lexBackend)
	if err != nil {
		return fmt.Errorf("failed to open lexical index: %w", err)
	}
	p.lexical = lexical

	if offline {
		p.embedder = embed.NewStaticEmbedder()
	} else {
		provider := embed.ParseProvider(p.cfg.Embeddings.Provider)
		initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		embedder, err := embed.NewEmbedder(initCtx, provider, p.cfg.Embeddings.Model)
		if err != nil {
			return fmt.Errorf("embedder initialization failed: %w", err)
		}
		p.embedder = embedder
	}

	// An existing index pins the vector dimension; a fresh corpus takes
	// it from the embedder.
	dims := p.embedder.Dimensions()
	if stored, err := metadata.GetState(ctx, store.StateKeyIndexDimension); err == nil && stored != "" {
		fmt.Sscanf(stored, "%d", &dims)
	}
	vector, err := store.NewVectorIndexWithBackend(ctx,
		store.VectorIndexBasePath(p.dataDir),
		store.DefaultVectorIndexConfig(dims),
		p.cfg.Search.VectorBackend,
		store.QdrantConfig{URL: p.cfg.Search.QdrantURL, Dimensions: dims},
	)
	if err != nil {
		return fmt.Errorf("failed to open vector index: %w", err)
	}
	p.vector = vector

	engineCfg := engineConfig(p.cfg)
	engine, err := search.NewEngine(p.lexical, p.vector, p.metadata, p.embedder, engineCfg,
		search.WithClassifier(search.NewPatternClassifier()))
	if err != nil {
		return fmt.Errorf("failed to build search engine: %w", err)
	}
	p.engine = engine
	p.resolver = cite.NewResolver(p.metadata)

	return nil
}

// engineConfig maps the config file's search section onto engine
// configuration, leaving defaults for unset values.
func engineConfig(cfg *config.Config) search.EngineConfig {
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
	if cfg.Search.BranchTimeout != "" {
		if d, err := time.ParseDuration(cfg.Search.BranchTimeout); err == nil && d > 0 {
			ec.BranchTimeout = d
		}
	}
	return ec
}

// Root returns the absolute corpus root directory.
func (p *Pipeline) Root() string { return p.root }

// Stats returns corpus-level counters from the metadata store.
func (p *Pipeline) Stats(ctx context.Context) (*store.CorpusStats, error) {
	if p.isClosed() {
		return nil, ErrClosed
	}
	return p.metadata.Stats(ctx)
}

func (p *Pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close releases every resource the Pipeline holds. All components are
// closed even if one fails; errors are joined.
//
// Close is idempotent.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	if p.engine != nil {
		if err := p.engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("engine close: %w", err))
		}
	}
	if p.embedder != nil {
		if err := p.embedder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("embedder close: %w", err))
		}
	}
	if p.vector != nil {
		if err := p.vector.Close(); err != nil {
			errs = append(errs, fmt.Errorf("vector index close: %w", err))
		}
	}
	if p.lexical != nil {
		if err := p.lexical.Close(); err != nil {
			errs = append(errs, fmt.Errorf("lexical index close: %w", err))
		}
	}
	if p.metadata != nil {
		if err := p.metadata.Close(); err != nil {
			errs = append(errs, fmt.Errorf("metadata store close: %w", err))
		}
	}
	return errors.Join(errs...)
}

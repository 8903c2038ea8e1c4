package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DataDirName is the per-corpus data directory holding the indexes,
	// metadata store, telemetry and lock file.
	DataDirName = ".documind"

	// ProjectConfigName is the per-corpus config file name.
	ProjectConfigName = ".documind.yaml"
)

// Config is the complete DocuMind configuration. Values merge in order of
// increasing precedence: hardcoded defaults, user config, project config,
// DOCUMIND_* environment variables.
type Config struct {
	Version     int               `yaml:"version" json:"version"`
	Corpus      CorpusConfig      `yaml:"corpus" json:"corpus"`
	Chunking    ChunkingConfig    `yaml:"chunking" json:"chunking"`
	Embeddings  EmbeddingsConfig  `yaml:"embeddings" json:"embeddings"`
	Search      SearchConfig      `yaml:"search" json:"search"`
	Rerank      RerankConfig      `yaml:"rerank" json:"rerank"`
	Performance PerformanceConfig `yaml:"performance" json:"performance"`
	Server      ServerConfig      `yaml:"server" json:"server"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" json:"telemetry"`
}

// CorpusConfig selects which documents enter the knowledge base.
type CorpusConfig struct {
	// Include lists directories or globs relative to the corpus root.
	// Empty means the whole root.
	Include []string `yaml:"include" json:"include"`

	// Exclude lists glob patterns to skip. User patterns extend the
	// defaults rather than replace them.
	Exclude []string `yaml:"exclude" json:"exclude"`

	// MaxFileSizeMB skips documents larger than this (default: 20).
	MaxFileSizeMB int `yaml:"max_file_size_mb" json:"max_file_size_mb"`
}

// ChunkingConfig configures how documents are cut into chunks.
type ChunkingConfig struct {
	// Strategy is "fixed", "structure" or "hybrid" (default: hybrid).
	Strategy string `yaml:"strategy" json:"strategy"`

	// MaxTokens is the per-chunk token budget (default: 250).
	MaxTokens int `yaml:"max_tokens" json:"max_tokens"`

	// OverlapTokens is the overlap between consecutive fixed-size
	// chunks (default: 50).
	OverlapTokens int `yaml:"overlap_tokens" json:"overlap_tokens"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "openai" (any OpenAI-compatible /v1 endpoint: Ollama,
	// vLLM, LM Studio) or "static". Empty defaults to openai.
	Provider string `yaml:"provider" json:"provider"`

	// Endpoint is the base URL of the embedding service
	// (default: http://localhost:11434/v1).
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Model is the embedding model name (default: nomic-embed-text).
	Model string `yaml:"model" json:"model"`

	// Dimensions pins the expected vector width. 0 auto-detects from
	// the embedder and records it in the metadata store.
	Dimensions int `yaml:"dimensions" json:"dimensions"`

	// BatchSize is texts per embedding request (default: 32).
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// CacheSize is the LRU embedding cache capacity in entries
	// (default: 10000).
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// SearchConfig configures hybrid retrieval. Weights are configurable via:
//  1. User config (~/.config/documind/config.yaml) - personal defaults
//  2. Project config (.documind.yaml) - per-corpus tuning
//  3. Env vars (DOCUMIND_LEXICAL_WEIGHT, DOCUMIND_VECTOR_WEIGHT,
//     DOCUMIND_RRF_CONSTANT) - highest priority
type SearchConfig struct {
	// LexicalWeight scales the keyword branch contribution (0.0-1.0).
	LexicalWeight float64 `yaml:"lexical_weight" json:"lexical_weight"`

	// VectorWeight scales the semantic branch contribution (0.0-1.0).
	VectorWeight float64 `yaml:"vector_weight" json:"vector_weight"`

	// RRFConstant is the rank fusion smoothing parameter k (default: 60).
	// Higher values flatten the impact of rank differences.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// Fusion selects the score combination method: "rrf" (default) or
	// "minmax".
	Fusion string `yaml:"fusion" json:"fusion"`

	// LexicalBackend is "sqlite" (default, concurrent access via WAL)
	// or "bleve" (single process).
	LexicalBackend string `yaml:"lexical_backend" json:"lexical_backend"`

	// VectorBackend is "hnsw" (default, in-process) or "qdrant"
	// (remote, for corpora too large to hold in memory).
	VectorBackend string `yaml:"vector_backend" json:"vector_backend"`

	// QdrantURL is the Qdrant REST endpoint when vector_backend is
	// "qdrant" (default: http://localhost:6333).
	QdrantURL string `yaml:"qdrant_url" json:"qdrant_url"`

	// CandidatePool is how many candidates each branch contributes
	// before fusion (default: 20).
	CandidatePool int `yaml:"candidate_pool" json:"candidate_pool"`

	// MaxResults caps top_k per query (default: 100).
	MaxResults int `yaml:"max_results" json:"max_results"`

	// BranchTimeout bounds each retrieval branch, e.g. "3s".
	BranchTimeout string `yaml:"branch_timeout" json:"branch_timeout"`
}

// RerankConfig configures the optional cross-encoder reranking stage.
type RerankConfig struct {
	// Enabled turns reranking on (default: false; results pass through
	// in fused order).
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Endpoint is the rerank service URL (default: http://localhost:8765).
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Model is the cross-encoder model name.
	Model string `yaml:"model" json:"model"`

	// TopK is how many fused results are rescored (default: 5).
	TopK int `yaml:"top_k" json:"top_k"`
}

// PerformanceConfig configures ingestion and storage tuning.
type PerformanceConfig struct {
	// MaxFiles caps documents per ingest run (default: 100000).
	MaxFiles int `yaml:"max_files" json:"max_files"`

	// IngestWorkers is the ingestion pool size (default: NumCPU).
	IngestWorkers int `yaml:"ingest_workers" json:"ingest_workers"`

	// WatchDebounce is the quiet period before watch mode re-ingests,
	// e.g. "500ms".
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`

	// SQLiteCacheMB is the page cache size for SQLite stores (default: 64).
	SQLiteCacheMB int `yaml:"sqlite_cache_mb" json:"sqlite_cache_mb"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	// Transport is the MCP transport; only "stdio" is supported.
	Transport string `yaml:"transport" json:"transport"`

	// LogLevel is the server log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// TelemetryConfig configures local query telemetry.
type TelemetryConfig struct {
	// Enabled records query metrics in the data dir (default: true).
	// Nothing ever leaves the machine.
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// defaultExcludePatterns are always excluded from the corpus.
var defaultExcludePatterns = []string{
	"**/.git/**",
	"**/.documind/**",
	"**/node_modules/**",
	"**/.obsidian/**",
	"**/.trash/**",
	"**/~$*",
	"**/*.tmp",
}

// NewConfig creates a Config with the hardcoded defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Corpus: CorpusConfig{
			Include:       []string{},
			Exclude:       defaultExcludePatterns,
			MaxFileSizeMB: 20,
		},
		Chunking: ChunkingConfig{
			Strategy:      "hybrid",
			MaxTokens:     250,
			OverlapTokens: 50,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "", // Empty defaults to the OpenAI-compatible client
			Endpoint:   "", // Empty uses http://localhost:11434/v1
			Model:      "nomic-embed-text",
			Dimensions: 0, // Auto-detect from embedder
			BatchSize:  32,
			CacheSize:  10000,
		},
		Search: SearchConfig{
			// A prose corpus starts neutral; the query classifier and
			// per-query overrides shift the balance.
			LexicalWeight: 0.5,
			VectorWeight:  0.5,
			// k=60 is the industry standard (Azure AI Search, OpenSearch)
			RRFConstant:    60,
			Fusion:         "rrf",
			LexicalBackend: "sqlite",
			VectorBackend:  "hnsw",
			QdrantURL:      "",
			CandidatePool:  20,
			MaxResults:     100,
			BranchTimeout:  "3s",
		},
		Rerank: RerankConfig{
			Enabled:  false,
			Endpoint: "", // Empty uses http://localhost:8765
			Model:    "",
			TopK:     5,
		},
		Performance: PerformanceConfig{
			MaxFiles:      100000,
			IngestWorkers: runtime.NumCPU(),
			WatchDebounce: "500ms",
			SQLiteCacheMB: 64,
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
		},
	}
}

// DataDir returns the data directory for a corpus root.
func DataDir(root string) string {
	return filepath.Join(root, DataDirName)
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/documind/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/documind/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "documind", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "documind", "config.yaml")
	}
	return filepath.Join(home, ".config", "documind", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil // No user config is fine
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// Load loads configuration for the given corpus root. It applies
// configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/documind/config.yaml)
//  3. Project config (.documind.yaml in the corpus root)
//  4. Environment variables (DOCUMIND_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFromFile attempts to load configuration from .documind.yaml or
// .documind.yml in dir.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ProjectConfigName)
	if _, err := os.Stat(yamlPath); err == nil {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".documind.yml")
	if _, err := os.Stat(ymlPath); err == nil {
		return c.loadYAML(ymlPath)
	}

	// No config file is fine - use defaults
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Corpus
	if len(other.Corpus.Include) > 0 {
		c.Corpus.Include = other.Corpus.Include
	}
	if len(other.Corpus.Exclude) > 0 {
		// Extend the defaults rather than replace
		c.Corpus.Exclude = append(c.Corpus.Exclude, other.Corpus.Exclude...)
	}
	if other.Corpus.MaxFileSizeMB != 0 {
		c.Corpus.MaxFileSizeMB = other.Corpus.MaxFileSizeMB
	}

	// Chunking
	if other.Chunking.Strategy != "" {
		c.Chunking.Strategy = other.Chunking.Strategy
	}
	if other.Chunking.MaxTokens != 0 {
		c.Chunking.MaxTokens = other.Chunking.MaxTokens
	}
	if other.Chunking.OverlapTokens != 0 {
		c.Chunking.OverlapTokens = other.Chunking.OverlapTokens
	}

	// Embeddings
	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Endpoint != "" {
		c.Embeddings.Endpoint = other.Embeddings.Endpoint
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}

	// Search
	// 0 is not a practical weight, so only non-zero values merge; an
	// explicit zero is possible via env vars.
	if other.Search.LexicalWeight != 0 {
		c.Search.LexicalWeight = other.Search.LexicalWeight
	}
	if other.Search.VectorWeight != 0 {
		c.Search.VectorWeight = other.Search.VectorWeight
	}
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.Fusion != "" {
		c.Search.Fusion = other.Search.Fusion
	}
	if other.Search.LexicalBackend != "" {
		c.Search.LexicalBackend = other.Search.LexicalBackend
	}
	if other.Search.VectorBackend != "" {
		c.Search.VectorBackend = other.Search.VectorBackend
	}
	if other.Search.QdrantURL != "" {
		c.Search.QdrantURL = other.Search.QdrantURL
	}
	if other.Search.CandidatePool != 0 {
		c.Search.CandidatePool = other.Search.CandidatePool
	}
	if other.Search.MaxResults != 0 {
		c.Search.MaxResults = other.Search.MaxResults
	}
	if other.Search.BranchTimeout != "" {
		c.Search.BranchTimeout = other.Search.BranchTimeout
	}

	// Rerank
	// Enabled is boolean, so the presence of any other rerank field
	// carries it along.
	if other.Rerank.Enabled || other.Rerank.Endpoint != "" || other.Rerank.Model != "" || other.Rerank.TopK != 0 {
		c.Rerank.Enabled = other.Rerank.Enabled
	}
	if other.Rerank.Endpoint != "" {
		c.Rerank.Endpoint = other.Rerank.Endpoint
	}
	if other.Rerank.Model != "" {
		c.Rerank.Model = other.Rerank.Model
	}
	if other.Rerank.TopK != 0 {
		c.Rerank.TopK = other.Rerank.TopK
	}

	// Performance
	if other.Performance.MaxFiles != 0 {
		c.Performance.MaxFiles = other.Performance.MaxFiles
	}
	if other.Performance.IngestWorkers != 0 {
		c.Performance.IngestWorkers = other.Performance.IngestWorkers
	}
	if other.Performance.WatchDebounce != "" {
		c.Performance.WatchDebounce = other.Performance.WatchDebounce
	}
	if other.Performance.SQLiteCacheMB != 0 {
		c.Performance.SQLiteCacheMB = other.Performance.SQLiteCacheMB
	}

	// Server
	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}

	// Telemetry
	// Enabled defaults to true and a plain bool cannot distinguish
	// "false" from "unset"; disabling goes through DOCUMIND_TELEMETRY.
	if other.Telemetry.Enabled {
		c.Telemetry.Enabled = true
	}
}

// applyEnvOverrides applies DOCUMIND_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// Search weights support explicit zero values via env vars
	if v := os.Getenv("DOCUMIND_LEXICAL_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Search.LexicalWeight = w
		}
	}
	if v := os.Getenv("DOCUMIND_VECTOR_WEIGHT"); v != "" {
		if w, err := parseFloat64(v); err == nil && w >= 0 && w <= 1 {
			c.Search.VectorWeight = w
		}
	}
	if v := os.Getenv("DOCUMIND_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}

	if v := os.Getenv("DOCUMIND_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("DOCUMIND_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("DOCUMIND_EMBED_URL"); v != "" {
		c.Embeddings.Endpoint = v
	}

	if v := os.Getenv("DOCUMIND_RERANK_ENABLED"); v != "" {
		c.Rerank.Enabled = isTruthy(v)
	}
	if v := os.Getenv("DOCUMIND_RERANK_URL"); v != "" {
		c.Rerank.Endpoint = v
	}

	if v := os.Getenv("DOCUMIND_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("DOCUMIND_TELEMETRY"); v != "" {
		c.Telemetry.Enabled = isTruthy(v)
	}
}

// parseFloat64 parses a string to float64, used for config parsing.
func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

func isTruthy(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "on" || s == "yes"
}

// FindCorpusRoot finds the corpus root directory. It looks for a
// .documind data dir, a .documind.yaml/.yml config file or a .git
// directory by walking up the directory tree; if none is found it
// returns the starting directory.
func FindCorpusRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, DataDirName)) {
			return currentDir, nil
		}
		if fileExists(filepath.Join(currentDir, ProjectConfigName)) ||
			fileExists(filepath.Join(currentDir, ".documind.yml")) {
			return currentDir, nil
		}
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			// Reached filesystem root, fall back to where we started
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// DiscoverDocDirs discovers common documentation directories under the
// corpus root, for `documind init` suggestions.
func DiscoverDocDirs(dir string) []string {
	commonDocDirs := []string{"docs", "doc", "handbook", "wiki", "notes", "kb"}
	commonDocFiles := []string{"README.md", "readme.md", "README.markdown"}

	var found []string
	for _, d := range commonDocDirs {
		if dirExists(filepath.Join(dir, d)) {
			found = append(found, d)
		}
	}
	for _, f := range commonDocFiles {
		if fileExists(filepath.Join(dir, f)) {
			found = append(found, f)
			break // Only add one README
		}
	}
	return found
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Search.LexicalWeight < 0 || c.Search.LexicalWeight > 1 {
		return fmt.Errorf("lexical_weight must be between 0 and 1, got %f", c.Search.LexicalWeight)
	}
	if c.Search.VectorWeight < 0 || c.Search.VectorWeight > 1 {
		return fmt.Errorf("vector_weight must be between 0 and 1, got %f", c.Search.VectorWeight)
	}
	sum := c.Search.LexicalWeight + c.Search.VectorWeight
	if math.Abs(sum) < 1e-9 {
		return fmt.Errorf("lexical_weight + vector_weight must be positive; set at least one weight above 0")
	}

	switch strings.ToLower(c.Search.Fusion) {
	case "rrf", "minmax":
	default:
		return fmt.Errorf("search.fusion must be 'rrf' or 'minmax', got %s", c.Search.Fusion)
	}

	switch strings.ToLower(c.Search.LexicalBackend) {
	case "", "sqlite", "bleve":
	default:
		return fmt.Errorf("search.lexical_backend must be 'sqlite' or 'bleve', got %s", c.Search.LexicalBackend)
	}
	switch strings.ToLower(c.Search.VectorBackend) {
	case "", "hnsw":
	case "qdrant":
		if c.Search.QdrantURL == "" {
			return fmt.Errorf("search.qdrant_url is required when vector_backend is 'qdrant'")
		}
	default:
		return fmt.Errorf("search.vector_backend must be 'hnsw' or 'qdrant', got %s", c.Search.VectorBackend)
	}

	if c.Search.MaxResults < 0 {
		return fmt.Errorf("max_results must be non-negative, got %d", c.Search.MaxResults)
	}

	switch strings.ToLower(c.Chunking.Strategy) {
	case "", "fixed", "structure", "hybrid":
	default:
		return fmt.Errorf("chunking.strategy must be 'fixed', 'structure' or 'hybrid', got %s", c.Chunking.Strategy)
	}
	if c.Chunking.MaxTokens < 0 {
		return fmt.Errorf("chunking.max_tokens must be non-negative, got %d", c.Chunking.MaxTokens)
	}
	if c.Chunking.MaxTokens > 0 && c.Chunking.OverlapTokens >= c.Chunking.MaxTokens {
		return fmt.Errorf("chunking.overlap_tokens (%d) must be smaller than max_tokens (%d)",
			c.Chunking.OverlapTokens, c.Chunking.MaxTokens)
	}

	if c.Embeddings.Provider != "" {
		validProviders := map[string]bool{"openai": true, "ollama": true, "vllm": true, "lmstudio": true, "static": true}
		if !validProviders[strings.ToLower(c.Embeddings.Provider)] {
			return fmt.Errorf("embeddings.provider must be 'openai', 'ollama', 'vllm', 'lmstudio', 'static' or empty, got %s", c.Embeddings.Provider)
		}
	}

	if strings.ToLower(c.Server.Transport) != "stdio" {
		return fmt.Errorf("server.transport must be 'stdio', got %s", c.Server.Transport)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadUserConfig loads the user configuration file.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	return loadUserConfig()
}

// MergeNewDefaults adds fields introduced after the config was written,
// preserving existing values. Returns the field names that were added.
func (c *Config) MergeNewDefaults() []string {
	defaults := NewConfig()
	var added []string

	if c.Search.LexicalWeight == 0 && c.Search.VectorWeight == 0 {
		c.Search.LexicalWeight = defaults.Search.LexicalWeight
		c.Search.VectorWeight = defaults.Search.VectorWeight
		added = append(added, "search.lexical_weight", "search.vector_weight")
	}
	if c.Search.RRFConstant == 0 {
		c.Search.RRFConstant = defaults.Search.RRFConstant
		added = append(added, "search.rrf_constant")
	}
	if c.Search.Fusion == "" {
		c.Search.Fusion = defaults.Search.Fusion
		added = append(added, "search.fusion")
	}
	if c.Search.CandidatePool == 0 {
		c.Search.CandidatePool = defaults.Search.CandidatePool
		added = append(added, "search.candidate_pool")
	}

	if c.Chunking.Strategy == "" {
		c.Chunking.Strategy = defaults.Chunking.Strategy
		added = append(added, "chunking.strategy")
	}

	if c.Embeddings.CacheSize == 0 {
		c.Embeddings.CacheSize = defaults.Embeddings.CacheSize
		added = append(added, "embeddings.cache_size")
	}

	if c.Rerank.TopK == 0 {
		c.Rerank.TopK = defaults.Rerank.TopK
		added = append(added, "rerank.top_k")
	}

	if c.Performance.SQLiteCacheMB == 0 {
		c.Performance.SQLiteCacheMB = defaults.Performance.SQLiteCacheMB
		added = append(added, "performance.sqlite_cache_mb")
	}

	return added
}

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LexicalBackend represents the lexical index backend type.
type LexicalBackend string

const (
	// LexicalBackendSQLite uses SQLite FTS5 for BM25 search (default).
	// Enables concurrent multi-process access via WAL mode.
	LexicalBackendSQLite LexicalBackend = "sqlite"

	// LexicalBackendBleve uses Bleve v2 for BM25 search.
	// Has exclusive file locking via BoltDB - single process only.
	LexicalBackendBleve LexicalBackend = "bleve"
)

// VectorBackend represents the vector index backend type.
type VectorBackend string

const (
	// VectorBackendHNSW uses an in-process HNSW graph (default).
	VectorBackendHNSW VectorBackend = "hnsw"

	// VectorBackendQdrant uses a remote Qdrant server, for corpora too
	// large to hold in process memory.
	VectorBackendQdrant VectorBackend = "qdrant"
)

// NewLexicalIndexWithBackend creates a LexicalIndex using the specified
// backend. The path should be the base path without extension - the
// extension is added based on the backend type (.db for SQLite, .bleve for
// Bleve).
//
// If basePath is empty, creates an in-memory index for testing.
func NewLexicalIndexWithBackend(basePath string, config LexicalConfig, backend string) (LexicalIndex, error) {
	switch backend {
	case string(LexicalBackendSQLite), "":
		// Default to SQLite (concurrent access, pure Go)
		var path string
		if basePath != "" {
			path = basePath + ".db"
		}
		return NewSQLiteLexicalIndex(path, config)

	case string(LexicalBackendBleve):
		// Bleve backend (single process due to BoltDB lock)
		var path string
		if basePath != "" {
			path = basePath + ".bleve"
		}
		return NewBleveLexicalIndex(path, config)

	default:
		return nil, fmt.Errorf("unknown lexical backend: %s (valid options: sqlite, bleve)", backend)
	}
}

// NewVectorIndexWithBackend creates a VectorIndex using the specified
// backend. HNSW stores at basePath + ".hnsw"; Qdrant ignores basePath and
// connects to qdrantCfg.URL.
func NewVectorIndexWithBackend(ctx context.Context, basePath string, cfg VectorIndexConfig, backend string, qdrantCfg QdrantConfig) (VectorIndex, error) {
	switch backend {
	case string(VectorBackendHNSW), "":
		var path string
		if basePath != "" {
			path = basePath + ".hnsw"
		}
		return NewHNSWVectorIndex(path, cfg)

	case string(VectorBackendQdrant):
		if qdrantCfg.Dimensions == 0 {
			qdrantCfg.Dimensions = cfg.Dimensions
		}
		return NewQdrantVectorIndex(ctx, qdrantCfg)

	default:
		return nil, fmt.Errorf("unknown vector backend: %s (valid options: hnsw, qdrant)", backend)
	}
}

// DetectLexicalBackend detects which backend an existing index uses based on
// file existence. Returns the detected backend or an empty string if no
// index exists. Useful when opening an index built by an older config.
func DetectLexicalBackend(basePath string) LexicalBackend {
	// Check for SQLite first (preferred)
	if fileExists(basePath + ".db") {
		return LexicalBackendSQLite
	}

	if dirExists(basePath + ".bleve") {
		return LexicalBackendBleve
	}

	// No existing index
	return ""
}

// LexicalIndexBasePath returns the extension-less base path for the lexical
// index inside a data directory.
func LexicalIndexBasePath(dataDir string) string {
	return filepath.Join(dataDir, "lexical")
}

// VectorIndexBasePath returns the extension-less base path for the vector
// index inside a data directory.
func VectorIndexBasePath(dataDir string) string {
	return filepath.Join(dataDir, "vectors")
}

// MetadataPath returns the metadata database path inside a data directory.
func MetadataPath(dataDir string) string {
	return filepath.Join(dataDir, "metadata.db")
}

// fileExists checks if a file exists at the given path.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// dirExists checks if a directory exists at the given path.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

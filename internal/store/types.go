// Package store provides lexical (BM25) and vector index adapters plus
// document and chunk metadata persistence (SQLite).
// This is the persistence layer for all indexed data.
package store

import (
	"context"
	"fmt"
	"time"
)

// State keys for the metadata store. The model and dimension keys guard
// against serving vectors produced by a different embedder than the one
// currently configured.
const (
	// StateKeyIndexModel stores the embedding model name used to build the index
	StateKeyIndexModel = "index_embedding_model"
	// StateKeyIndexDimension stores the embedding dimension used for the index
	StateKeyIndexDimension = "index_embedding_dimension"
	// StateKeyIndexLexicalBackend stores which lexical backend built the index ("sqlite"|"bleve")
	StateKeyIndexLexicalBackend = "index_lexical_backend"
	// StateKeyIndexVectorBackend stores which vector backend built the index ("hnsw"|"qdrant")
	StateKeyIndexVectorBackend = "index_vector_backend"
	// StateKeyLastIngest stores when the last ingest run completed (RFC 3339)
	StateKeyLastIngest = "last_ingest_at"
)

// CurrentSchemaVersion is the current metadata database schema version.
const CurrentSchemaVersion = 1

// Document represents a tracked source document in the index.
type Document struct {
	ID          string    // SHA256(relative_path)
	Name        string    // Display name (base name without extension)
	Path        string    // Relative to the corpus root
	ContentHash string    // SHA256 of content
	SizeBytes   int64     // Document size in bytes
	ModTime     time.Time // Last modification time
	PageCount   int       // Number of pages (1 if the source has no page breaks)
	ChunkCount  int       // Number of chunks produced from this document
	IndexedAt   time.Time // When indexed
}

// ChunkRecord is the persisted form of a chunk. It carries everything the
// citation resolver needs: the exact text span, its provenance, and its
// position within the document.
type ChunkRecord struct {
	ID            string   // "<doc_id>_chunk_<seq>"
	DocumentID    string   // Parent document ID
	Text          string   // Exact substring of the normalized document text
	StartOffset   int      // Rune offset into the normalized document text
	EndOffset     int      // Exclusive
	HierarchyPath []string // Heading trail from the document root
	Page          int      // 1-indexed page the chunk starts on
	SequenceIndex int      // Position of the chunk within its document
	Truncated     bool     // Chunk was cut mid-sentence at a fixed-size boundary
	TokenCount    int      // Approximate token count
}

// LexicalEntry is a chunk prepared for the lexical index. The provenance
// fields ride along so backends can push filters down into the query.
type LexicalEntry struct {
	ChunkID       string
	DocumentID    string
	Text          string
	HierarchyPath []string
	Page          int
}

// VectorEntry is a chunk embedding prepared for the vector index.
type VectorEntry struct {
	ChunkID       string
	Vector        []float32
	DocumentID    string
	HierarchyPath []string
	Page          int
}

// LexicalResult represents a single lexical search result.
type LexicalResult struct {
	ChunkID      string
	Score        float64
	MatchedTerms []string
}

// VectorResult represents a single vector search result.
type VectorResult struct {
	ChunkID  string
	Distance float32 // Lower is more similar (0-2 for cosine)
	Score    float32 // Normalized similarity (0-1)
}

// Filter restricts a query to a subset of the corpus. A nil or zero Filter
// matches everything. Backends apply filters before scoring so a small
// filtered result set cannot be crowded out of top-k by unfiltered high
// scorers.
type Filter struct {
	// DocumentIDs limits results to chunks from these documents.
	DocumentIDs []string

	// HierarchyPrefix limits results to chunks whose heading trail starts
	// with these elements. Matching is per-element: ["Guide"] does not
	// match a trail starting with "Guidelines".
	HierarchyPrefix []string

	// PageMin and PageMax bound the chunk's 1-indexed page. Zero means
	// unbounded on that side.
	PageMin int
	PageMax int
}

// IsZero reports whether the filter matches everything.
func (f *Filter) IsZero() bool {
	if f == nil {
		return true
	}
	return len(f.DocumentIDs) == 0 && len(f.HierarchyPrefix) == 0 && f.PageMin == 0 && f.PageMax == 0
}

// Match reports whether a chunk with the given provenance passes the filter.
// Backends that cannot push a predicate into their query engine fall back to
// this as the reference semantics.
func (f *Filter) Match(documentID string, hierarchy []string, page int) bool {
	if f == nil {
		return true
	}
	if len(f.DocumentIDs) > 0 {
		found := false
		for _, id := range f.DocumentIDs {
			if id == documentID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.HierarchyPrefix) > 0 {
		if len(hierarchy) < len(f.HierarchyPrefix) {
			return false
		}
		for i, want := range f.HierarchyPrefix {
			if hierarchy[i] != want {
				return false
			}
		}
	}
	if f.PageMin > 0 && page < f.PageMin {
		return false
	}
	if f.PageMax > 0 && page > f.PageMax {
		return false
	}
	return true
}

// LexicalStats provides statistics about the lexical index.
type LexicalStats struct {
	ChunkCount   int
	TermCount    int
	AvgDocLength float64
}

// LexicalIndex provides keyword search scored by BM25.
type LexicalIndex interface {
	// Upsert adds entries to the index. Existing chunk IDs are replaced.
	Upsert(ctx context.Context, entries []*LexicalEntry) error

	// Query returns the top chunks matching the query text. The filter is
	// applied before scoring; nil matches everything.
	Query(ctx context.Context, text string, topK int, filter *Filter) ([]*LexicalResult, error)

	// Delete removes chunks from the index. Unknown IDs are ignored.
	Delete(ctx context.Context, chunkIDs []string) error

	// AllIDs returns all chunk IDs in the index (for consistency checks)
	AllIDs() ([]string, error)

	// Stats returns index statistics
	Stats() *LexicalStats

	// Flush persists pending writes to disk.
	Flush() error

	Close() error
}

// VectorIndex provides semantic nearest-neighbor search.
type VectorIndex interface {
	// Upsert inserts vectors with their chunk IDs. Existing IDs are replaced.
	Upsert(ctx context.Context, entries []*VectorEntry) error

	// Query finds the topK nearest neighbors to the query vector. The filter
	// is applied before scoring; nil matches everything.
	Query(ctx context.Context, vector []float32, topK int, filter *Filter) ([]*VectorResult, error)

	// Delete removes vectors by chunk ID. Unknown IDs are ignored.
	Delete(ctx context.Context, chunkIDs []string) error

	// AllIDs returns all chunk IDs in the index (for consistency checks)
	AllIDs() ([]string, error)

	// Contains checks if a chunk ID exists.
	Contains(chunkID string) bool

	// Count returns the number of vectors.
	Count() int

	// Flush persists pending writes to disk.
	Flush() error

	Close() error
}

// MetadataStore persists document and chunk metadata in SQLite.
type MetadataStore interface {
	// Document operations
	SaveDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	GetDocumentByPath(ctx context.Context, path string) (*Document, error)
	ListDocuments(ctx context.Context) ([]*Document, error)
	DeleteDocument(ctx context.Context, id string) error // Cascades to chunks

	// Chunk operations
	SaveChunks(ctx context.Context, chunks []*ChunkRecord) error
	GetChunk(ctx context.Context, id string) (*ChunkRecord, error)
	GetChunks(ctx context.Context, ids []string) ([]*ChunkRecord, error) // Batch retrieval for performance
	GetChunksByDocument(ctx context.Context, documentID string) ([]*ChunkRecord, error)
	DeleteChunksByDocument(ctx context.Context, documentID string) error

	// State operations (key-value store for runtime state)
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	// Stats returns corpus-wide counts.
	Stats(ctx context.Context) (*CorpusStats, error)

	Close() error
}

// CorpusStats summarizes what the metadata store holds.
type CorpusStats struct {
	DocumentCount int
	ChunkCount    int
	TotalBytes    int64
}

// LexicalConfig configures the lexical index.
type LexicalConfig struct {
	// K1 is the term frequency saturation parameter (default: 1.2)
	K1 float64

	// B is the length normalization parameter (default: 0.75)
	B float64

	// StopWords is a list of words to filter out during tokenization
	StopWords []string

	// MinTokenLength is minimum token length to index (default: 2)
	MinTokenLength int
}

// DefaultLexicalConfig returns default lexical index configuration.
func DefaultLexicalConfig() LexicalConfig {
	return LexicalConfig{
		K1:             1.2,
		B:              0.75,
		StopWords:      DefaultStopWords,
		MinTokenLength: 2,
	}
}

// DefaultStopWords contains common English words that carry no signal when
// searching enterprise documents.
var DefaultStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "but", "by",
	"for", "if", "in", "into", "is", "it", "its",
	"no", "not", "of", "on", "or", "such",
	"that", "the", "their", "then", "there", "these", "they",
	"this", "to", "was", "will", "with",
}

// VectorIndexConfig configures the vector index.
type VectorIndexConfig struct {
	// Dimensions is the vector dimension (768 for nomic-embed-text, 1024 for mxbai-embed-large, 256 for static)
	Dimensions int

	// Metric is the distance metric: "cos" (cosine), "l2" (euclidean) (default: "cos")
	Metric string

	// M is HNSW max connections per layer (default: 16)
	M int

	// EfSearch is HNSW query-time search width (default: 64)
	EfSearch int
}

// DefaultVectorIndexConfig returns sensible defaults for the vector index.
func DefaultVectorIndexConfig(dimensions int) VectorIndexConfig {
	return VectorIndexConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   64,
	}
}

// ErrDimensionMismatch indicates a vector dimension mismatch between the
// stored index and the current embedder.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'documind ingest --rebuild')", e.Expected, e.Got)
}

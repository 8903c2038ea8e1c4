package embed

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Common embedding constants
const (
	// MinBatchSize is the minimum allowed batch size
	MinBatchSize = 1

	// MaxBatchSize is the maximum allowed batch size (prevents memory exhaustion)
	MaxBatchSize = 256

	// DefaultBatchSize is the default batch size for embedding requests
	DefaultBatchSize = 32

	// DefaultWarmTimeout is the timeout for requests once the model is loaded
	DefaultWarmTimeout = 60 * time.Second

	// DefaultColdTimeout is the timeout for the first request, when the
	// serving side may still need to load the model
	DefaultColdTimeout = 180 * time.Second

	// ModelUnloadThreshold is the idle duration after which a model is
	// considered cold again. Ollama-style servers unload after ~5 minutes.
	ModelUnloadThreshold = 5 * time.Minute

	// DefaultMaxRetries is the default number of retry attempts
	DefaultMaxRetries = 3
)

// Static embedder constants
const (
	// StaticDimensions is the embedding dimension for the static embedder
	StaticDimensions = 256
)

// Embedder generates vector embeddings for text
type Embedder interface {
	// Embed generates an embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension
	Dimensions() int

	// ModelName returns the model identifier
	ModelName() string

	// Available checks if the embedder is ready
	Available(ctx context.Context) bool

	// Close releases resources
	Close() error
}

// EmbeddingUnavailableError reports that one chunk could not be embedded.
// Callers keep the chunk lexically searchable and continue with the rest
// of the batch; the error never aborts ingestion on its own.
type EmbeddingUnavailableError struct {
	ChunkID string
	ModelID string
	Cause   error
}

func (e *EmbeddingUnavailableError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("embedding unavailable for chunk %s (model %s)", e.ChunkID, e.ModelID)
	}
	return fmt.Sprintf("embedding unavailable for chunk %s (model %s): %v", e.ChunkID, e.ModelID, e.Cause)
}

func (e *EmbeddingUnavailableError) Unwrap() error {
	return e.Cause
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v // Return as-is if zero vector
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

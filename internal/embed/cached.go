package embed

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Cache configuration constants.
const (
	// DefaultEmbeddingCacheSize is the default number of embeddings to
	// cache. At 768 dimensions * 4 bytes * 1000 entries = ~3MB memory.
	DefaultEmbeddingCacheSize = 1000
)

// CachedEmbedder wraps an Embedder with an LRU cache keyed by the
// (model, normalized text) fingerprint. Concurrent requests for the same
// fingerprint are collapsed into a single computation; everyone waiting
// shares the one result.
type CachedEmbedder struct {
	inner  Embedder
	cache  *lru.Cache[string, []float32]
	flight singleflight.Group
}

var _ Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder creates a cached embedder wrapping the given embedder.
// Cache size determines the number of unique embeddings kept in memory.
func NewCachedEmbedder(inner Embedder, cacheSize int) *CachedEmbedder {
	if cacheSize <= 0 {
		cacheSize = DefaultEmbeddingCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &CachedEmbedder{
		inner: inner,
		cache: cache,
	}
}

// NewCachedEmbedderWithDefaults creates a cached embedder with default settings.
func NewCachedEmbedderWithDefaults(inner Embedder) *CachedEmbedder {
	return NewCachedEmbedder(inner, DefaultEmbeddingCacheSize)
}

func (c *CachedEmbedder) fingerprint(text string) string {
	return Fingerprint(c.inner.ModelName(), text)
}

// Embed returns the cached embedding when available. On a miss, exactly
// one concurrent caller computes the vector; the rest wait and share it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.fingerprint(text)

	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		// Re-check: a previous flight may have landed between the cache
		// miss and this call.
		if vec, ok := c.cache.Get(key); ok {
			return vec, nil
		}
		vec, err := c.inner.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		c.cache.Add(key, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	vec, ok := v.([]float32)
	if !ok {
		return nil, fmt.Errorf("unexpected embedding type %T", v)
	}
	return vec, nil
}

// EmbedBatch resolves each text against the cache first, then computes
// the misses. Duplicate texts inside one batch collapse to a single
// computation. The first miss leads the flight for the whole remaining
// miss set in one inner batch call, so ingest keeps its batching while
// honoring one computation per fingerprint.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))

	// Input positions per missing fingerprint, in first-seen order.
	positions := make(map[string][]int)
	var missKeys []string
	var missTexts []string

	for i, text := range texts {
		key := c.fingerprint(text)
		if vec, ok := c.cache.Get(key); ok {
			results[i] = vec
			continue
		}
		if _, seen := positions[key]; !seen {
			missKeys = append(missKeys, key)
			missTexts = append(missTexts, text)
		}
		positions[key] = append(positions[key], i)
	}
	if len(missKeys) == 0 {
		return results, nil
	}

	fill := func(key string, vec []float32) {
		for _, pos := range positions[key] {
			results[pos] = vec
		}
	}

	for k, key := range missKeys {
		// An earlier leader in this loop may have cached it already.
		if vec, ok := c.cache.Get(key); ok {
			fill(key, vec)
			continue
		}

		v, err, _ := c.flight.Do(key, func() (any, error) {
			if vec, ok := c.cache.Get(key); ok {
				return vec, nil
			}

			remaining := missTexts[k:]
			vecs, err := c.inner.EmbedBatch(ctx, remaining)
			if err != nil {
				return nil, err
			}
			if len(vecs) != len(remaining) {
				return nil, fmt.Errorf("expected %d embeddings, got %d", len(remaining), len(vecs))
			}
			for i, vec := range vecs {
				c.cache.Add(missKeys[k+i], vec)
			}
			return vecs[0], nil
		})
		if err != nil {
			return nil, err
		}
		vec, ok := v.([]float32)
		if !ok {
			return nil, fmt.Errorf("unexpected embedding type %T", v)
		}
		fill(key, vec)
	}

	return results, nil
}

// Dimensions returns the embedding dimension (passthrough to inner).
func (c *CachedEmbedder) Dimensions() int {
	return c.inner.Dimensions()
}

// ModelName returns the model identifier (passthrough to inner).
func (c *CachedEmbedder) ModelName() string {
	return c.inner.ModelName()
}

// Available checks if the embedder is ready (passthrough to inner).
func (c *CachedEmbedder) Available(ctx context.Context) bool {
	return c.inner.Available(ctx)
}

// Close releases resources and closes the inner embedder.
func (c *CachedEmbedder) Close() error {
	return c.inner.Close()
}

// Inner returns the underlying embedder for callers that need features
// outside the Embedder interface, like progress callbacks.
func (c *CachedEmbedder) Inner() Embedder {
	return c.inner
}

package embed

import (
	"context"
	"log/slog"

	"github.com/documind-hq/documind/internal/chunk"
)

// ChunkEmbedding pairs a chunk with its computed vector.
type ChunkEmbedding struct {
	ChunkID string
	Vector  []float32
}

// Generator embeds chunks in batches with per-chunk failure isolation.
// A batch that fails for a reason other than cancellation is retried one
// chunk at a time, so a single poisoned chunk cannot sink its neighbors.
type Generator struct {
	embedder  Embedder
	batchSize int
	progress  func(completed, total int)
}

// NewGenerator creates a generator using the given embedder. Batch size
// is clamped to the valid range; zero selects the default.
func NewGenerator(embedder Embedder, batchSize int) *Generator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if batchSize < MinBatchSize {
		batchSize = MinBatchSize
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}
	return &Generator{
		embedder:  embedder,
		batchSize: batchSize,
	}
}

// SetProgressFunc sets a callback invoked after each chunk resolves,
// successfully or not. Pass nil to disable.
func (g *Generator) SetProgressFunc(fn func(completed, total int)) {
	g.progress = fn
}

// EmbedChunks embeds every chunk and returns the vectors that succeeded
// alongside the per-chunk failures. The error return is reserved for
// cancellation; provider failures land in the failure slice instead so
// callers can index what worked and report the rest.
func (g *Generator) EmbedChunks(ctx context.Context, chunks []*chunk.Chunk) ([]ChunkEmbedding, []*EmbeddingUnavailableError, error) {
	if len(chunks) == 0 {
		return []ChunkEmbedding{}, nil, nil
	}

	total := len(chunks)
	embeddings := make([]ChunkEmbedding, 0, total)
	var failures []*EmbeddingUnavailableError
	completed := 0

	report := func() {
		completed++
		if g.progress != nil {
			g.progress(completed, total)
		}
	}

	for start := 0; start < total; start += g.batchSize {
		if err := ctx.Err(); err != nil {
			return embeddings, failures, err
		}

		end := start + g.batchSize
		if end > total {
			end = total
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		vecs, err := g.embedder.EmbedBatch(ctx, texts)
		if err == nil {
			for i, c := range batch {
				embeddings = append(embeddings, ChunkEmbedding{ChunkID: c.ID, Vector: vecs[i]})
				report()
			}
			continue
		}
		if ctx.Err() != nil {
			return embeddings, failures, ctx.Err()
		}

		slog.Warn("embedding batch failed, retrying per chunk",
			"batch_start", start,
			"batch_size", len(batch),
			"error", err)

		for _, c := range batch {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return embeddings, failures, ctxErr
			}
			vec, embedErr := g.embedder.Embed(ctx, c.Text)
			if embedErr != nil {
				if ctx.Err() != nil {
					return embeddings, failures, ctx.Err()
				}
				failures = append(failures, &EmbeddingUnavailableError{
					ChunkID: c.ID,
					ModelID: g.embedder.ModelName(),
					Cause:   embedErr,
				})
				report()
				continue
			}
			embeddings = append(embeddings, ChunkEmbedding{ChunkID: c.ID, Vector: vec})
			report()
		}
	}

	if len(failures) > 0 {
		slog.Warn("some chunks could not be embedded",
			"failed", len(failures),
			"succeeded", len(embeddings),
			"model", g.embedder.ModelName())
	}

	return embeddings, failures, nil
}

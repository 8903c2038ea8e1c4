package embed

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/documind-hq/documind/internal/chunk"
)

func makeChunks(n int) []*chunk.Chunk {
	chunks := make([]*chunk.Chunk, n)
	for i := range chunks {
		chunks[i] = &chunk.Chunk{
			ID:            chunk.ChunkID("doc-1", i),
			DocumentID:    "doc-1",
			Text:          fmt.Sprintf("chunk body %d", i),
			SequenceIndex: i,
		}
	}
	return chunks
}

func TestGenerator_EmbedChunks_AllSucceed(t *testing.T) {
	fake := newFakeEmbedder(32)
	gen := NewGenerator(fake, 2)

	chunks := makeChunks(5)
	embeddings, failures, err := gen.EmbedChunks(context.Background(), chunks)

	require.NoError(t, err)
	assert.Empty(t, failures)
	require.Len(t, embeddings, 5)
	assert.Equal(t, int64(3), fake.batchCalls.Load(), "5 chunks at batch size 2 is 3 batches")

	for i, emb := range embeddings {
		assert.Equal(t, chunks[i].ID, emb.ChunkID)
		assert.Equal(t, fake.vectorFor(chunks[i].Text), emb.Vector)
	}
}

func TestGenerator_EmbedChunks_IsolatesPoisonedChunk(t *testing.T) {
	// Given: one chunk whose text the provider rejects
	fake := newFakeEmbedder(32)
	poison := errors.New("input too long")
	fake.failText("chunk body 2", poison)
	gen := NewGenerator(fake, 4)

	chunks := makeChunks(4)

	// When: the batch fails and the generator retries per chunk
	embeddings, failures, err := gen.EmbedChunks(context.Background(), chunks)

	// Then: only the poisoned chunk is reported, the rest embed fine
	require.NoError(t, err)
	require.Len(t, embeddings, 3)
	require.Len(t, failures, 1)

	assert.Equal(t, "doc-1_chunk_2", failures[0].ChunkID)
	assert.Equal(t, "fake-model", failures[0].ModelID)
	assert.ErrorIs(t, failures[0], poison)

	ids := make([]string, len(embeddings))
	for i, emb := range embeddings {
		ids[i] = emb.ChunkID
	}
	assert.Equal(t, []string{"doc-1_chunk_0", "doc-1_chunk_1", "doc-1_chunk_3"}, ids)

	assert.Equal(t, int64(1), fake.batchCalls.Load())
	assert.Equal(t, int64(4), fake.embedCalls.Load(), "fallback embeds every chunk of the failed batch")
}

func TestGenerator_EmbedChunks_CancelledContextAborts(t *testing.T) {
	fake := newFakeEmbedder(32)
	gen := NewGenerator(fake, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	embeddings, failures, err := gen.EmbedChunks(ctx, makeChunks(4))

	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, embeddings)
	assert.Empty(t, failures)
}

func TestGenerator_EmbedChunks_EmptyInput(t *testing.T) {
	fake := newFakeEmbedder(32)
	gen := NewGenerator(fake, 2)

	embeddings, failures, err := gen.EmbedChunks(context.Background(), nil)

	require.NoError(t, err)
	assert.Empty(t, embeddings)
	assert.Empty(t, failures)
	assert.Equal(t, int64(0), fake.batchCalls.Load())
}

func TestGenerator_EmbedChunks_ReportsProgress(t *testing.T) {
	fake := newFakeEmbedder(32)
	gen := NewGenerator(fake, 2)

	var dones []int
	var lastTotal int
	gen.SetProgressFunc(func(completed, total int) {
		dones = append(dones, completed)
		lastTotal = total
	})

	_, _, err := gen.EmbedChunks(context.Background(), makeChunks(3))

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, dones)
	assert.Equal(t, 3, lastTotal)
}

func TestNewGenerator_ClampsBatchSize(t *testing.T) {
	t.Run("zero uses default", func(t *testing.T) {
		fake := newFakeEmbedder(8)
		gen := NewGenerator(fake, 0)

		_, _, err := gen.EmbedChunks(context.Background(), makeChunks(DefaultBatchSize+1))
		require.NoError(t, err)
		assert.Equal(t, int64(2), fake.batchCalls.Load())
	})

	t.Run("oversized clamps to max", func(t *testing.T) {
		fake := newFakeEmbedder(8)
		gen := NewGenerator(fake, MaxBatchSize*10)

		_, _, err := gen.EmbedChunks(context.Background(), makeChunks(MaxBatchSize+1))
		require.NoError(t, err)
		assert.Equal(t, int64(2), fake.batchCalls.Load())
	})
}

package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedder_Embed_ReturnsCorrectDimensions(t *testing.T) {
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	embedding, err := embedder.Embed(context.Background(), "invoices are due within thirty days")

	require.NoError(t, err)
	assert.Len(t, embedding, StaticDimensions)
	assert.Equal(t, StaticDimensions, embedder.Dimensions())
}

func TestStaticEmbedder_Embed_VectorIsNormalized(t *testing.T) {
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	embedding, err := embedder.Embed(context.Background(), "refund policy for enterprise customers")
	require.NoError(t, err)

	magnitude := vectorMagnitude(embedding)
	assert.InDelta(t, 1.0, magnitude, 0.001, "vector should be normalized to unit length")
}

func TestStaticEmbedder_Embed_IsDeterministic(t *testing.T) {
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	text := "the onboarding checklist covers accounts, hardware, and access"

	emb1, err1 := embedder.Embed(context.Background(), text)
	emb2, err2 := embedder.Embed(context.Background(), text)

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, emb1, emb2, "same text should produce identical vectors")
}

func TestStaticEmbedder_Embed_DeterministicAcrossInstances(t *testing.T) {
	embedder1 := NewStaticEmbedder()
	embedder2 := NewStaticEmbedder()
	defer func() { _ = embedder1.Close() }()
	defer func() { _ = embedder2.Close() }()

	text := "expense reports need a manager approval"

	emb1, _ := embedder1.Embed(context.Background(), text)
	emb2, _ := embedder2.Embed(context.Background(), text)

	assert.Equal(t, emb1, emb2)
}

func TestStaticEmbedder_Embed_DifferentTextsProduceDifferentVectors(t *testing.T) {
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	emb1, _ := embedder.Embed(context.Background(), "refund policy")
	emb2, _ := embedder.Embed(context.Background(), "data retention schedule")

	assert.NotEqual(t, emb1, emb2)
}

func TestStaticEmbedder_Embed_SimilarTextsScoreCloser(t *testing.T) {
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	ctx := context.Background()
	policy1, _ := embedder.Embed(ctx, "the refund policy document")
	policy2, _ := embedder.Embed(ctx, "refund policy documents")
	unrelated, _ := embedder.Embed(ctx, "quarterly hardware inventory audit")

	simPolicies := cosineSimilarity(policy1, policy2)
	simUnrelated := cosineSimilarity(policy1, unrelated)

	assert.Greater(t, simPolicies, simUnrelated,
		"near-duplicate texts should score closer than unrelated ones")
}

func TestStaticEmbedder_Embed_EmptyTextReturnsZeroVector(t *testing.T) {
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	for _, text := range []string{"", "   ", "\n\t"} {
		embedding, err := embedder.Embed(context.Background(), text)
		require.NoError(t, err)
		require.Len(t, embedding, StaticDimensions)
		assert.Zero(t, vectorMagnitude(embedding))
	}
}

func TestStaticEmbedder_EmbedBatch_MatchesSingleEmbeds(t *testing.T) {
	embedder := NewStaticEmbedder()
	defer func() { _ = embedder.Close() }()

	ctx := context.Background()
	texts := []string{"travel policy", "security baseline", "release notes"}

	batch, err := embedder.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, len(texts))

	for i, text := range texts {
		single, err := embedder.Embed(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i])
	}
}

func TestStaticEmbedder_ClosedRejectsRequests(t *testing.T) {
	embedder := NewStaticEmbedder()
	require.NoError(t, embedder.Close())

	_, err := embedder.Embed(context.Background(), "anything")
	assert.Error(t, err)

	_, err = embedder.EmbedBatch(context.Background(), []string{"anything"})
	assert.Error(t, err)

	assert.False(t, embedder.Available(context.Background()))
}

func TestTokenizeWords_DropsStopWords(t *testing.T) {
	tokens := tokenizeWords("The refund policy for a customer")

	assert.Equal(t, []string{"refund", "policy", "customer"}, tokens)
}

func TestExtractNgrams(t *testing.T) {
	assert.Equal(t, []string{"abc", "bcd"}, extractNgrams("abcd", 3))
	assert.Empty(t, extractNgrams("ab", 3))
}

func TestHashToIndex_StaysInRange(t *testing.T) {
	for _, s := range []string{"", "a", "refund", "longer input with spaces"} {
		idx := hashToIndex(s, StaticDimensions)
		assert.GreaterOrEqual(t, idx, 0)
		assert.Less(t, idx, StaticDimensions)
	}
}

package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProvider(t *testing.T) {
	tests := []struct {
		input string
		want  ProviderType
	}{
		{"openai", ProviderOpenAI},
		{"OpenAI", ProviderOpenAI},
		{"ollama", ProviderOpenAI},
		{"vllm", ProviderOpenAI},
		{"lmstudio", ProviderOpenAI},
		{"static", ProviderStatic},
		{"STATIC", ProviderStatic},
		{"", ProviderOpenAI},
		{"unknown", ProviderOpenAI},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseProvider(tt.input))
		})
	}
}

func TestProviderTypeString(t *testing.T) {
	assert.Equal(t, "openai", ProviderOpenAI.String())
	assert.Equal(t, "static", ProviderStatic.String())
}

func TestIsValidProvider(t *testing.T) {
	assert.True(t, IsValidProvider("openai"))
	assert.True(t, IsValidProvider("STATIC"))
	assert.False(t, IsValidProvider("mlx"))
	assert.False(t, IsValidProvider(""))
}

func TestValidProviders(t *testing.T) {
	providers := ValidProviders()

	assert.Contains(t, providers, "openai")
	assert.Contains(t, providers, "static")
}

func TestNewEmbedder_StaticProvider(t *testing.T) {
	t.Setenv("DOCUMIND_EMBEDDER", "")
	t.Setenv("DOCUMIND_EMBED_CACHE", "")

	embedder, err := NewEmbedder(context.Background(), ProviderStatic, "")
	require.NoError(t, err)
	defer func() { _ = embedder.Close() }()

	assert.IsType(t, &CachedEmbedder{}, embedder, "caching is on by default")

	info := GetInfo(context.Background(), embedder)
	assert.Equal(t, ProviderStatic, info.Provider)
	assert.Equal(t, "static", info.Model)
	assert.Equal(t, StaticDimensions, info.Dimensions)
	assert.True(t, info.Available)
}

func TestNewEmbedder_EnvOverridesProvider(t *testing.T) {
	// The override wins even when the caller asks for a remote provider,
	// so no network is touched here.
	t.Setenv("DOCUMIND_EMBEDDER", "static")
	t.Setenv("DOCUMIND_EMBED_CACHE", "")

	embedder, err := NewEmbedder(context.Background(), ProviderOpenAI, "nomic-embed-text")
	require.NoError(t, err)
	defer func() { _ = embedder.Close() }()

	info := GetInfo(context.Background(), embedder)
	assert.Equal(t, ProviderStatic, info.Provider)
}

func TestNewEmbedder_CacheDisabledByEnv(t *testing.T) {
	t.Setenv("DOCUMIND_EMBEDDER", "static")
	t.Setenv("DOCUMIND_EMBED_CACHE", "false")

	embedder, err := NewEmbedder(context.Background(), ProviderStatic, "")
	require.NoError(t, err)
	defer func() { _ = embedder.Close() }()

	assert.IsType(t, &StaticEmbedder{}, embedder)
}

func TestIsCacheDisabled(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"false", true},
		{"FALSE", true},
		{"0", true},
		{"off", true},
		{"disabled", true},
		{"", false},
		{"true", false},
		{"1", false},
	}

	for _, tt := range tests {
		t.Run("value "+tt.value, func(t *testing.T) {
			t.Setenv("DOCUMIND_EMBED_CACHE", tt.value)
			assert.Equal(t, tt.want, isCacheDisabled())
		})
	}
}

func TestGetInfo_UnwrapsCachedEmbedder(t *testing.T) {
	cached := NewCachedEmbedderWithDefaults(NewStaticEmbedder())
	defer func() { _ = cached.Close() }()

	info := GetInfo(context.Background(), cached)

	assert.Equal(t, ProviderStatic, info.Provider)
	assert.Equal(t, "static", info.Model)
	assert.Equal(t, StaticDimensions, info.Dimensions)
}

func TestMustNewEmbedder_ReturnsEmbedder(t *testing.T) {
	t.Setenv("DOCUMIND_EMBEDDER", "static")

	assert.NotPanics(t, func() {
		embedder := MustNewEmbedder(context.Background(), ProviderStatic, "")
		_ = embedder.Close()
	})
}

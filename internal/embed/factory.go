package embed

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderOpenAI uses an OpenAI-compatible /v1 endpoint for embeddings
	// (Ollama, vLLM, LM Studio all speak it). Default on all platforms.
	ProviderOpenAI ProviderType = "openai"

	// ProviderStatic uses hash-based embeddings (fallback when no service is available)
	ProviderStatic ProviderType = "static"
)

// NewEmbedder creates an embedder based on provider type.
// The DOCUMIND_EMBEDDER environment variable can override the provider:
//   - "openai": Use OpenAIEmbedder against any compatible /v1 endpoint
//   - "static": Use StaticEmbedder (lexical-only quality, no service needed)
//
// There is no silent fallback between providers: if the configured service
// is unreachable the error says so, and static mode must be chosen
// explicitly. A stale vector index built against one model must never be
// silently served by another.
//
// Query embedding caching is enabled by default (saves a round trip per
// repeated query). Set DOCUMIND_EMBED_CACHE=false to disable caching.
func NewEmbedder(ctx context.Context, provider ProviderType, model string) (Embedder, error) {
	var embedder Embedder
	var err error

	// Check for environment variable override
	envProvider := os.Getenv("DOCUMIND_EMBEDDER")
	if envProvider != "" {
		switch strings.ToLower(envProvider) {
		case "openai":
			embedder, err = newOpenAIFromEnv(ctx, model)
		case "static":
			embedder, err = NewStaticEmbedder(), nil
		}
	}

	// If no override or unrecognized, use provider switch
	if embedder == nil && err == nil {
		switch provider {
		case ProviderOpenAI:
			embedder, err = newOpenAIFromEnv(ctx, model)

		case ProviderStatic:
			embedder, err = NewStaticEmbedder(), nil

		default:
			embedder, err = newOpenAIFromEnv(ctx, model)
		}
	}

	if err != nil {
		return nil, err
	}

	// Wrap with cache unless disabled
	if !isCacheDisabled() {
		embedder = NewCachedEmbedderWithDefaults(embedder)
	}

	return embedder, nil
}

// isCacheDisabled checks if embedding cache is disabled via environment.
func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("DOCUMIND_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}

// newOpenAIFromEnv creates an OpenAI-compatible embedder, applying
// environment overrides on top of the caller's model choice.
func newOpenAIFromEnv(ctx context.Context, model string) (Embedder, error) {
	cfg := OpenAIConfig{Model: model}

	if url := os.Getenv("DOCUMIND_EMBED_URL"); url != "" {
		cfg.BaseURL = url
	}
	if modelOverride := os.Getenv("DOCUMIND_EMBED_MODEL"); modelOverride != "" {
		cfg.Model = modelOverride
	}
	if key := os.Getenv("DOCUMIND_EMBED_API_KEY"); key != "" {
		cfg.APIKey = key
	}

	embedder, err := NewOpenAIEmbedder(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("embedding service unavailable: %w\n\nTo fix:\n  1. Start Ollama: ollama serve\n  2. Or point DOCUMIND_EMBED_URL at any OpenAI-compatible /v1 endpoint\n  3. Or use lexical-only search: documind ingest --embedder=static", err)
	}
	return embedder, nil
}

// ParseProvider converts a string to ProviderType
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(s) {
	case "openai", "ollama", "vllm", "lmstudio":
		// Runtime names all map to the OpenAI-compatible client
		return ProviderOpenAI
	case "static":
		return ProviderStatic
	default:
		return ProviderOpenAI
	}
}

// String returns the string representation of ProviderType
func (p ProviderType) String() string {
	return string(p)
}

// ValidProviders returns all valid provider names
func ValidProviders() []string {
	return []string{
		string(ProviderOpenAI),
		string(ProviderStatic),
	}
}

// IsValidProvider checks if a provider name is valid
func IsValidProvider(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range ValidProviders() {
		if lower == p {
			return true
		}
	}
	return false
}

// EmbedderInfo contains information about an embedder
type EmbedderInfo struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	Available  bool
}

// GetInfo returns information about an embedder
func GetInfo(ctx context.Context, embedder Embedder) EmbedderInfo {
	info := EmbedderInfo{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
	}

	// Unwrap cached embedder to get underlying type
	inner := embedder
	if cached, ok := embedder.(*CachedEmbedder); ok {
		inner = cached.inner
	}

	switch inner.(type) {
	case *OpenAIEmbedder:
		info.Provider = ProviderOpenAI
	default:
		info.Provider = ProviderStatic
	}

	return info
}

// MustNewEmbedder creates an embedder and panics on failure
// Use only in tests or initialization code where failure is fatal
func MustNewEmbedder(ctx context.Context, provider ProviderType, model string) Embedder {
	embedder, err := NewEmbedder(ctx, provider, model)
	if err != nil {
		panic(fmt.Sprintf("failed to create embedder: %v", err))
	}
	return embedder
}

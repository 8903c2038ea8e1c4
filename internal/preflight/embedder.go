package preflight

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/documind-hq/documind/internal/embed"
)

// embedderProbeTimeout bounds the health probe. The service is local in
// the common case, so a short timeout keeps doctor snappy.
const embedderProbeTimeout = 3 * time.Second

// CheckEmbedder probes the embedding service over HTTP. An unreachable
// service is a warning, not a failure: ingest can run with the static
// embedder and search degrades to lexical-only.
func (c *Checker) CheckEmbedder(ctx context.Context) CheckResult {
	result := CheckResult{
		Name:     "embedder",
		Required: false,
	}

	if embed.ParseProvider(c.embedProvider) == embed.ProviderStatic {
		result.Status = StatusPass
		result.Message = "static embedder (no service required)"
		return result
	}

	if c.offline {
		result.Status = StatusWarn
		result.Message = "embedding service check skipped (offline mode)"
		return result
	}

	endpoint := c.embedEndpoint
	if endpoint == "" {
		endpoint = embed.DefaultOpenAIBaseURL
	}
	probeURL := strings.TrimSuffix(endpoint, "/") + "/models"

	probeCtx, cancel := context.WithTimeout(ctx, embedderProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, probeURL, nil)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("invalid embedding endpoint: %v", err)
		return result
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("embedding service unreachable at %s", endpoint)
		result.Details = "Start the embedding service or set embeddings.provider: static"
		return result
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusInternalServerError {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("embedding service unhealthy (HTTP %d)", resp.StatusCode)
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("embedding service reachable at %s", endpoint)
	return result
}

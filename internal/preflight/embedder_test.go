package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecker_CheckEmbedder_ServiceUp(t *testing.T) {
	// Given: an OpenAI-compatible service answering /models
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"object":"list","data":[]}`))
	}))
	defer srv.Close()

	checker := New(WithEmbedder("openai", srv.URL+"/v1"))

	// When: probing the service
	result := checker.CheckEmbedder(context.Background())

	// Then: passes
	assert.Equal(t, StatusPass, result.Status)
	assert.Equal(t, "embedder", result.Name)
	assert.False(t, result.Required)
	assert.Contains(t, result.Message, "reachable")
}

func TestChecker_CheckEmbedder_ServiceDown(t *testing.T) {
	// Given: a server that is already closed
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := srv.URL + "/v1"
	srv.Close()

	checker := New(WithEmbedder("openai", endpoint))

	// When: probing the service
	result := checker.CheckEmbedder(context.Background())

	// Then: warns but is not critical
	assert.Equal(t, StatusWarn, result.Status)
	assert.False(t, result.Required)
	assert.Contains(t, result.Message, "unreachable")
	assert.Contains(t, result.Details, "static")
}

func TestChecker_CheckEmbedder_ServiceUnhealthy(t *testing.T) {
	// Given: a service answering with a server error
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	checker := New(WithEmbedder("openai", srv.URL+"/v1"))

	// When: probing the service
	result := checker.CheckEmbedder(context.Background())

	// Then: warns with the status code
	assert.Equal(t, StatusWarn, result.Status)
	assert.Contains(t, result.Message, "500")
}

func TestChecker_CheckEmbedder_StaticProvider(t *testing.T) {
	// Given: the static provider, no service anywhere
	checker := New(WithEmbedder("static", ""))

	// When: probing
	result := checker.CheckEmbedder(context.Background())

	// Then: passes without any network traffic
	assert.Equal(t, StatusPass, result.Status)
	assert.Contains(t, result.Message, "static")
}

func TestChecker_CheckEmbedder_Offline(t *testing.T) {
	// Given: offline mode with a remote provider
	checker := New(WithOffline(true), WithEmbedder("openai", "http://localhost:1/v1"))

	// When: probing
	result := checker.CheckEmbedder(context.Background())

	// Then: skipped with a warning
	assert.Equal(t, StatusWarn, result.Status)
	assert.Contains(t, result.Message, "skipped")
}

package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	derrors "github.com/documind-hq/documind/internal/errors"
	"github.com/documind-hq/documind/internal/search"
)

func TestMapError_Nil(t *testing.T) {
	assert.Nil(t, MapError(nil))
}

func TestMapError_Sentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"index not found", ErrIndexNotFound, ErrCodeIndexNotFound},
		{"embedding failed", ErrEmbeddingFailed, ErrCodeEmbeddingFailed},
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout},
		{"canceled", context.Canceled, ErrCodeTimeout},
		{"tool not found", ErrToolNotFound, ErrCodeMethodNotFound},
		{"invalid params", ErrInvalidParams, ErrCodeInvalidParams},
		{"unknown", errors.New("boom"), ErrCodeInternalError},
		{"wrapped sentinel", fmt.Errorf("outer: %w", ErrIndexNotFound), ErrCodeIndexNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mcpErr := MapError(tt.err)
			assert.Equal(t, tt.wantCode, mcpErr.Code)
			assert.NotEmpty(t, mcpErr.Message)
		})
	}
}

func TestMapError_SearchUnavailable(t *testing.T) {
	err := &search.SearchUnavailableError{
		LexicalErr: errors.New("fts down"),
		VectorErr:  errors.New("hnsw down"),
	}

	mcpErr := MapError(err)
	assert.Equal(t, ErrCodeSearchUnavailable, mcpErr.Code)
	assert.Contains(t, mcpErr.Message, "documind doctor")
}

func TestMapError_DocuErrorCategories(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		wantCode int
	}{
		{"validation", derrors.ErrCodeQueryEmpty, ErrCodeInvalidParams},
		{"embedding service", derrors.ErrCodeEmbeddingService, ErrCodeEmbeddingFailed},
		{"network timeout", derrors.ErrCodeNetworkTimeout, ErrCodeTimeout},
		{"corrupt index", derrors.ErrCodeCorruptIndex, ErrCodeIndexNotFound},
		{"document too large", derrors.ErrCodeDocumentTooLarge, ErrCodeDocumentTooLarge},
		{"config", derrors.ErrCodeConfigInvalid, ErrCodeInternalError},
		{"internal", derrors.ErrCodeInternal, ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			de := derrors.New(tt.code, "it broke", nil)
			mcpErr := MapError(de)
			assert.Equal(t, tt.wantCode, mcpErr.Code)
		})
	}
}

func TestMapError_SuggestionRidesAlong(t *testing.T) {
	de := derrors.New(derrors.ErrCodeQueryEmpty, "query is empty", nil).
		WithSuggestion("Provide a non-empty query.")

	mcpErr := MapError(de)
	assert.Contains(t, mcpErr.Message, "query is empty")
	assert.Contains(t, mcpErr.Message, "Provide a non-empty query.")
}

func TestMCPError_Error(t *testing.T) {
	err := &MCPError{Code: ErrCodeInvalidParams, Message: "bad input"}
	assert.Equal(t, "MCP error -32602: bad input", err.Error())
}

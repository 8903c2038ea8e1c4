// Package mcp implements the Model Context Protocol (MCP) server for
// DocuMind. It exposes the hybrid retrieval pipeline to AI clients as
// search, cite and corpus_status tools over stdio JSON-RPC.
package mcp

import (
	"context"
	"errors"
	"fmt"

	derrors "github.com/documind-hq/documind/internal/errors"
	"github.com/documind-hq/documind/internal/search"
)

// Custom MCP error codes for DocuMind.
const (
	// ErrCodeIndexNotFound indicates no index exists for the corpus.
	ErrCodeIndexNotFound = -32001

	// ErrCodeEmbeddingFailed indicates embedding generation failed.
	ErrCodeEmbeddingFailed = -32002

	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout = -32003

	// ErrCodeSearchUnavailable indicates both retrieval branches failed.
	ErrCodeSearchUnavailable = -32004

	// ErrCodeDocumentTooLarge indicates a document is too large to process.
	ErrCodeDocumentTooLarge = -32005

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Sentinel errors for internal use.
var (
	// ErrIndexNotFound indicates no index exists for the corpus.
	ErrIndexNotFound = errors.New("index not found")

	// ErrEmbeddingFailed indicates embedding generation failed.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrToolNotFound indicates the requested tool does not exist.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidParams indicates invalid parameters were provided.
	ErrInvalidParams = errors.New("invalid parameters")
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var docuErr *derrors.DocuError
	if errors.As(err, &docuErr) {
		return mapDocuError(docuErr)
	}

	var unavailable *search.SearchUnavailableError
	if errors.As(err, &unavailable) {
		return &MCPError{
			Code:    ErrCodeSearchUnavailable,
			Message: "Search is unavailable: both retrieval branches failed. Run 'documind doctor' to diagnose.",
		}
	}

	switch {
	case errors.Is(err, ErrIndexNotFound):
		return &MCPError{
			Code:    ErrCodeIndexNotFound,
			Message: "Index not found. Run 'documind ingest' first.",
		}
	case errors.Is(err, ErrEmbeddingFailed):
		return &MCPError{
			Code:    ErrCodeEmbeddingFailed,
			Message: "Embedding generation failed. Results are lexical-only.",
		}
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{
			Code:    ErrCodeTimeout,
			Message: "Request timed out.",
		}
	case errors.Is(err, context.Canceled):
		return &MCPError{
			Code:    ErrCodeTimeout,
			Message: "Request was canceled.",
		}
	case errors.Is(err, ErrToolNotFound):
		return &MCPError{
			Code:    ErrCodeMethodNotFound,
			Message: "Tool not found.",
		}
	case errors.Is(err, ErrInvalidParams):
		return &MCPError{
			Code:    ErrCodeInvalidParams,
			Message: "Invalid parameters.",
		}
	default:
		return &MCPError{
			Code:    ErrCodeInternalError,
			Message: "Internal server error.",
		}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{
		Code:    ErrCodeInvalidParams,
		Message: msg,
	}
}

// NewMethodNotFoundError creates an error for unknown methods/tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Tool '%s' not found.", name),
	}
}

// mapDocuError converts a DocuError to an MCPError. The suggestion, when
// present, rides along in the message so AI clients can surface it.
func mapDocuError(de *derrors.DocuError) *MCPError {
	message := de.Message
	if de.Suggestion != "" {
		message = fmt.Sprintf("%s %s", de.Message, de.Suggestion)
	}

	switch de.Category {
	case derrors.CategoryIO:
		switch de.Code {
		case derrors.ErrCodeDocumentTooLarge:
			return &MCPError{Code: ErrCodeDocumentTooLarge, Message: message}
		case derrors.ErrCodeCorruptIndex:
			return &MCPError{Code: ErrCodeIndexNotFound, Message: message}
		default:
			return &MCPError{Code: ErrCodeInternalError, Message: message}
		}
	case derrors.CategoryNetwork:
		if de.Code == derrors.ErrCodeEmbeddingService {
			return &MCPError{Code: ErrCodeEmbeddingFailed, Message: message}
		}
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	case derrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	default: // CategoryConfig, CategoryInternal and unknown
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}

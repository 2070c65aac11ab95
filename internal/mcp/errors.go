// Package mcp exposes the search engine as a Model Context Protocol server.
package mcp

import (
	"context"
	"errors"
	"fmt"

	apperrors "github.com/RyugoHori/AssistChat-Portfolio/internal/errors"
)

// Custom MCP error codes.
const (
	// ErrCodeIndexUnavailable indicates no snapshot is loaded.
	ErrCodeIndexUnavailable = -32001

	// ErrCodeCapabilityFailed indicates the embedder or scorer misbehaved.
	ErrCodeCapabilityFailed = -32002

	// ErrCodeTimeout indicates the request timed out or was cancelled.
	ErrCodeTimeout = -32003

	// ErrCodeDocumentNotFound indicates an unknown doc_id.
	ErrCodeDocumentNotFound = -32004

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError is an MCP protocol error with code and message.
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

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return mapAppError(appErr)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("Tool '%s' not found.", name)}
}

// NewDocumentNotFoundError creates an error for an unknown document.
func NewDocumentNotFoundError(docID string) *MCPError {
	return &MCPError{Code: ErrCodeDocumentNotFound, Message: fmt.Sprintf("Document '%s' not found.", docID)}
}

func mapAppError(ae *apperrors.AppError) *MCPError {
	message := ae.Message
	if ae.Suggestion != "" {
		message = fmt.Sprintf("%s %s", ae.Message, ae.Suggestion)
	}

	switch {
	case ae.Code == apperrors.ErrCodeDocumentNotFound:
		return &MCPError{Code: ErrCodeDocumentNotFound, Message: message}
	case ae.Code == apperrors.ErrCodeNetworkTimeout:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	case ae.Category == apperrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case ae.Category == apperrors.CategoryIndex:
		return &MCPError{Code: ErrCodeIndexUnavailable, Message: message}
	case ae.Category == apperrors.CategoryCapability:
		return &MCPError{Code: ErrCodeCapabilityFailed, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}

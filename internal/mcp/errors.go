// Package mcp implements the Model Context Protocol (MCP) server for nexus.
package mcp

import (
	"context"
	"errors"
	"fmt"

	nexuserrors "github.com/Aman-CERP/nexus/internal/errors"
)

// Custom MCP error codes for nexus.
const (
	// ErrCodeIndexUnavailable indicates the store could not be read or written.
	ErrCodeIndexUnavailable = -32001

	// ErrCodeEmbeddingFailed indicates embedding generation failed.
	ErrCodeEmbeddingFailed = -32002

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// ErrCodeFileNotFound indicates a file or document is not in the store.
	ErrCodeFileNotFound = -32004

	// ErrCodeFileTooLarge indicates a file is too large to process.
	ErrCodeFileTooLarge = -32005

	// ErrCodeIndexBusy indicates another writer holds the store lock.
	ErrCodeIndexBusy = -32006

	// Standard JSON-RPC error codes.
	ErrCodeInvalidParams = -32602
	ErrCodeInternalError = -32603
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

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	var ne *nexuserrors.NexusError
	if errors.As(err, &ne) {
		return mapNexusError(ne)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: err.Error()}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{
		Code:    ErrCodeInvalidParams,
		Message: msg,
	}
}

func mapNexusError(ne *nexuserrors.NexusError) *MCPError {
	message := ne.Message
	if ne.Suggestion != "" {
		message = fmt.Sprintf("%s. %s", ne.Message, ne.Suggestion)
	}

	switch ne.Code {
	case nexuserrors.ErrCodeFileNotFound:
		return &MCPError{Code: ErrCodeFileNotFound, Message: message}
	case nexuserrors.ErrCodeFileTooLarge:
		return &MCPError{Code: ErrCodeFileTooLarge, Message: message}
	case nexuserrors.ErrCodeIndexLocked:
		return &MCPError{Code: ErrCodeIndexBusy, Message: message}
	case nexuserrors.ErrCodeEmbeddingFailed, nexuserrors.ErrCodeDimensionMismatch:
		return &MCPError{Code: ErrCodeEmbeddingFailed, Message: message}
	case nexuserrors.ErrCodeCorruptIndex, nexuserrors.ErrCodeStoreWrite,
		nexuserrors.ErrCodeStoreRead, nexuserrors.ErrCodeStateStoreFailure, nexuserrors.ErrCodeDiskFull:
		return &MCPError{Code: ErrCodeIndexUnavailable, Message: message}
	}

	switch ne.Category {
	case nexuserrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case nexuserrors.CategoryNetwork:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}

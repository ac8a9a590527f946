package errors

import (
	stderrors "errors"
	"fmt"
)

// NexusError is the structured error type for nexus.
// It carries enough context for logging, progress reports and CLI output.
type NexusError struct {
	// Code is the unique error code (e.g., "ERR_210_EXTRACTION_FAILED").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *NexusError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *NexusError) Unwrap() error {
	return e.Cause
}

// Is matches by code so sentinel values work with errors.Is.
func (e *NexusError) Is(target error) bool {
	if t, ok := target.(*NexusError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *NexusError) WithDetail(key, value string) *NexusError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *NexusError) WithSuggestion(suggestion string) *NexusError {
	e.Suggestion = suggestion
	return e
}

// New creates a new NexusError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *NexusError {
	return &NexusError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a NexusError from an existing error.
// The error's message becomes the NexusError message.
func Wrap(code string, err error) *NexusError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for errors.Is checks. Matching is by code only.
var (
	ErrExtraction         = &NexusError{Code: ErrCodeExtractionFailed}
	ErrUnsupportedType    = &NexusError{Code: ErrCodeUnsupportedType}
	ErrOCRUnavailable     = &NexusError{Code: ErrCodeOCRUnavailable}
	ErrChunkLimitExceeded = &NexusError{Code: ErrCodeChunkLimitExceeded}
	ErrEmbedding          = &NexusError{Code: ErrCodeEmbeddingFailed}
	ErrStoreWrite         = &NexusError{Code: ErrCodeStoreWrite}
	ErrIndexLocked        = &NexusError{Code: ErrCodeIndexLocked}
	ErrQueryEmpty         = &NexusError{Code: ErrCodeQueryEmpty}
)

// ExtractionError creates a recoverable per-file or per-page extraction error.
func ExtractionError(path string, cause error) *NexusError {
	return New(ErrCodeExtractionFailed, fmt.Sprintf("extract %s: %v", path, cause), cause).
		WithDetail("path", path)
}

// ChunkLimitError reports that a document produced more chunks than allowed.
func ChunkLimitError(limit int) *NexusError {
	return New(ErrCodeChunkLimitExceeded, fmt.Sprintf("document exceeds %d chunks, remainder skipped", limit), nil).
		WithSuggestion("raise index.max_chunks or split the document")
}

// EmbeddingError wraps a failed embedding call.
func EmbeddingError(message string, cause error) *NexusError {
	return New(ErrCodeEmbeddingFailed, message, cause)
}

// StoreWriteError wraps a failed vector or lexical store write. It is fatal.
func StoreWriteError(store string, cause error) *NexusError {
	return New(ErrCodeStoreWrite, fmt.Sprintf("%s store write failed: %v", store, cause), cause).
		WithDetail("store", store)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *NexusError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *NexusError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *NexusError {
	return New(ErrCodeInternal, message, cause)
}

// as finds the first NexusError in the chain.
func as(err error) (*NexusError, bool) {
	var ne *NexusError
	if stderrors.As(err, &ne) {
		return ne, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if ne, ok := as(err); ok {
		return ne.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors abort the current indexing run.
func IsFatal(err error) bool {
	if ne, ok := as(err); ok {
		return ne.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a NexusError.
// Returns empty string if the chain holds no NexusError.
func GetCode(err error) string {
	if ne, ok := as(err); ok {
		return ne.Code
	}
	return ""
}

// GetCategory extracts the category from a NexusError.
func GetCategory(err error) Category {
	if ne, ok := as(err); ok {
		return ne.Category
	}
	return ""
}

package errors

import (
	"errors"
	"fmt"
)

// AppError is the structured error type used across the engine.
// It carries enough context for logging, API mapping and CLI presentation.
type AppError struct {
	// Code is the unique error code (e.g., "ERR_201_INDEX_UNAVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
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
func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches another AppError by code, so errors.Is works on sentinels
// built with New.
func (e *AppError) Is(target error) bool {
	if t, ok := target.(*AppError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *AppError) WithSuggestion(suggestion string) *AppError {
	e.Suggestion = suggestion
	return e
}

// New creates a new AppError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an AppError from an existing error.
func Wrap(code string, err error) *AppError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ErrInvalidInput reports malformed build or request input.
func ErrInvalidInput(message string, cause error) *AppError {
	return New(ErrCodeInvalidInput, message, cause)
}

// ErrIndexUnavailable reports an index that has not been built or loaded.
func ErrIndexUnavailable(message string, cause error) *AppError {
	return New(ErrCodeIndexUnavailable, message, cause).
		WithSuggestion("Run 'assistchat build' to create the index snapshot")
}

// ErrScorerUnavailable reports a pairwise scorer that failed to initialize
// or errored at call time.
func ErrScorerUnavailable(message string, cause error) *AppError {
	return New(ErrCodeScorerUnavailable, message, cause)
}

// ErrEmbedderUnavailable reports a query embedding that could not be
// computed.
func ErrEmbedderUnavailable(message string, cause error) *AppError {
	return New(ErrCodeEmbedderUnavailable, message, cause).
		WithSuggestion("Check that the embedding service is reachable (assistchat doctor)")
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *AppError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *AppError {
	return New(ErrCodeInternal, message, cause)
}

// IsInvalidInput reports whether err carries ErrCodeInvalidInput.
func IsInvalidInput(err error) bool { return GetCode(err) == ErrCodeInvalidInput }

// IsIndexUnavailable reports whether err carries ErrCodeIndexUnavailable.
func IsIndexUnavailable(err error) bool { return GetCode(err) == ErrCodeIndexUnavailable }

// IsScorerUnavailable reports whether err carries ErrCodeScorerUnavailable.
func IsScorerUnavailable(err error) bool { return GetCode(err) == ErrCodeScorerUnavailable }

// IsEmbedderUnavailable reports whether err carries ErrCodeEmbedderUnavailable.
func IsEmbedderUnavailable(err error) bool { return GetCode(err) == ErrCodeEmbedderUnavailable }

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from the first AppError in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// GetCategory extracts the category from the first AppError in the chain.
func GetCategory(err error) Category {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Category
	}
	return ""
}

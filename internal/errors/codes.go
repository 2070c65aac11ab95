// Package errors provides structured error handling for the retrieval engine.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Index and storage errors
//   - 3XX: Remote capability errors (embedder, scorer)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIndex indicates index build, load and storage errors.
	CategoryIndex Category = "INDEX"
	// CategoryCapability indicates an external model service misbehaving.
	CategoryCapability Category = "CAPABILITY"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Index errors (200-299)
	ErrCodeIndexUnavailable = "ERR_201_INDEX_UNAVAILABLE"
	ErrCodeIndexCorrupt     = "ERR_202_INDEX_CORRUPT"
	ErrCodeIndexLocked      = "ERR_203_INDEX_LOCKED"
	ErrCodeIndexWrite       = "ERR_204_INDEX_WRITE"

	// Capability errors (300-399)
	ErrCodeScorerUnavailable   = "ERR_301_SCORER_UNAVAILABLE"
	ErrCodeEmbedderUnavailable = "ERR_302_EMBEDDER_UNAVAILABLE"
	ErrCodeNetworkTimeout      = "ERR_303_NETWORK_TIMEOUT"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeQueryTooLong      = "ERR_403_QUERY_TOO_LONG"
	ErrCodeDocumentNotFound  = "ERR_404_DOCUMENT_NOT_FOUND"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeBuildFailed     = "ERR_503_BUILD_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// "101" from "ERR_101_CONFIG_NOT_FOUND"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIndex
	case '3':
		return CategoryCapability
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeIndexCorrupt, ErrCodeInvalidInput, ErrCodeDimensionMismatch:
		return SeverityFatal
	case ErrCodeIndexUnavailable, ErrCodeScorerUnavailable:
		// Both degrade instead of failing the request.
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeEmbedderUnavailable, ErrCodeIndexLocked:
		return true
	default:
		return false
	}
}

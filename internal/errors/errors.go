// Package errors provides structured error types for datapack.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across the planner, loader, and cache.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryPlanning ErrorCategory = "PLANNING"
	ErrCategoryManifest ErrorCategory = "MANIFEST"
	ErrCategoryChunk    ErrorCategory = "CHUNK"
	ErrCategoryCache    ErrorCategory = "CACHE"
	ErrCategoryStorage  ErrorCategory = "STORAGE"
	ErrCategoryConfig   ErrorCategory = "CONFIG"
	ErrCategoryInternal ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Planning codes
	CodePlanningInfeasible = "PLANNING_INFEASIBLE"
	CodeInvalidStats       = "INVALID_STATS"

	// Manifest codes
	CodeManifestUnavailable = "MANIFEST_UNAVAILABLE"
	CodeUnsupportedVersion  = "UNSUPPORTED_VERSION"
	CodeInvalidManifest     = "INVALID_MANIFEST"

	// Chunk codes
	CodeChunkFetchFailed  = "CHUNK_FETCH_FAILED"
	CodeChunkDecodeFailed = "CHUNK_DECODE_FAILED"
	CodeChecksumMismatch  = "CHECKSUM_MISMATCH"

	// Cache codes
	CodeCacheFetchFailed = "CACHE_FETCH_FAILED"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Config codes
	CodeInvalidConfig = "INVALID_CONFIG"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// Error is the structured error type used throughout the system.
type Error struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new Error.
func New(category ErrorCategory, code, message string) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not an *Error.
func GetCategory(err error) ErrorCategory {
	var de *Error
	if errors.As(err, &de) {
		return de.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not an *Error.
func GetCode(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code string) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Cause
	}
	return false
}

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryChunk && code == CodeChunkFetchFailed:
		return true
	case category == ErrCategoryManifest && code == CodeManifestUnavailable:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewPlanningError(code, message string) *Error {
	return New(ErrCategoryPlanning, code, message)
}

func NewManifestError(code, message string, cause error) *Error {
	return Wrap(ErrCategoryManifest, code, message, cause)
}

func NewChunkError(code, message string, cause error) *Error {
	return Wrap(ErrCategoryChunk, code, message, cause)
}

func NewCacheError(code, message string, cause error) *Error {
	return Wrap(ErrCategoryCache, code, message, cause)
}

func NewStorageError(code, message string, cause error) *Error {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewConfigError(message string, cause error) *Error {
	return Wrap(ErrCategoryConfig, CodeInvalidConfig, message, cause)
}

func NewInternalError(message string, cause error) *Error {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

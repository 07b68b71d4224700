// Package errors provides structured error types for the relmeta system.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryCache      ErrorCategory = "CACHE"
	ErrCategoryCatalog    ErrorCategory = "CATALOG"
	ErrCategoryExpression ErrorCategory = "EXPRESSION"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeMalformedRangeSet = "MALFORMED_RANGE_SET"
	CodeUnknownType       = "UNKNOWN_TYPE"

	// Cache codes
	CodeNotFound                 = "NOT_FOUND"
	CodeInconsistentPartitioning = "INCONSISTENT_PARTITIONING"
	CodeBuildAborted             = "BUILD_ABORTED"

	// Catalog codes
	CodeRelationGone  = "RELATION_GONE"
	CodeIndeterminate = "INDETERMINATE"
	CodeCatalogIO     = "CATALOG_IO"

	// Expression codes
	CodeParseError = "PARSE_ERROR"
	CodeCookError  = "COOK_ERROR"

	// Internal codes
	CodeInvalidState            = "INVALID_STATE"
	CodeUnknownPartitioningKind = "UNKNOWN_PARTITIONING_KIND"
	CodeUnexpected              = "UNEXPECTED"
)

// RelmetaError is the structured error type used throughout the system.
type RelmetaError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *RelmetaError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *RelmetaError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *RelmetaError) Is(target error) bool {
	var t *RelmetaError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new RelmetaError.
func New(category ErrorCategory, code, message string) *RelmetaError {
	return &RelmetaError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new RelmetaError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *RelmetaError {
	return &RelmetaError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *RelmetaError) WithDetails(details map[string]interface{}) *RelmetaError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var re *RelmetaError
	if errors.As(err, &re) {
		return re.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a RelmetaError.
func GetCategory(err error) ErrorCategory {
	var re *RelmetaError
	if errors.As(err, &re) {
		return re.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a RelmetaError.
func GetCode(err error) string {
	var re *RelmetaError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsNotFound reports whether the error is a cache or catalog miss. A miss is
// not a failure: callers react by rebuilding or by falling back to catalog
// truth, never by surfacing it.
func IsNotFound(err error) bool {
	return GetCode(err) == CodeNotFound
}

// isRetryable determines if an error code is retryable. Nothing in this
// subsystem retries automatically; the flag tells the caller whether a
// re-resolve later can possibly produce a different answer.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryCatalog && code == CodeIndeterminate:
		return true
	case category == ErrCategoryCatalog && code == CodeCatalogIO:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewNotFoundError(message string) *RelmetaError {
	return New(ErrCategoryCache, CodeNotFound, message)
}

func NewValidationError(code, message string) *RelmetaError {
	return New(ErrCategoryValidation, code, message)
}

func NewCacheError(code, message string) *RelmetaError {
	return New(ErrCategoryCache, code, message)
}

func NewCatalogError(code, message string, cause error) *RelmetaError {
	return Wrap(ErrCategoryCatalog, code, message, cause)
}

func NewExpressionError(code, message string, cause error) *RelmetaError {
	return Wrap(ErrCategoryExpression, code, message, cause)
}

func NewInternalError(code, message string) *RelmetaError {
	return New(ErrCategoryInternal, code, message)
}

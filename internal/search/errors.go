package search

import "fmt"

// ErrorCode identifies a caller-fixable validation failure.
type ErrorCode string

const (
	ErrInvalidField     ErrorCode = "INVALID_FIELD"
	ErrInvalidOperator  ErrorCode = "INVALID_OPERATOR"
	ErrTypeMismatch     ErrorCode = "TYPE_MISMATCH"
	ErrMaxDepthExceeded ErrorCode = "MAX_DEPTH_EXCEEDED"
	ErrInvalidSortField ErrorCode = "INVALID_SORT_FIELD"
	ErrInvalidLimit     ErrorCode = "INVALID_LIMIT"
	ErrInvalidCursor    ErrorCode = "INVALID_CURSOR"
)

// ValidationError is returned for requests rejected before any store access.
type ValidationError struct {
	Code    ErrorCode
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newValidationError(code ErrorCode, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// QueryExecutionError wraps a store-level failure. The message carries only
// the compiled query shape, never bound values.
type QueryExecutionError struct {
	Err error
}

func (e *QueryExecutionError) Error() string {
	return fmt.Sprintf("query execution failed: %v", e.Err)
}

func (e *QueryExecutionError) Unwrap() error {
	return e.Err
}

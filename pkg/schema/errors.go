package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeMalformedKey = "MALFORMED_KEY"
	ErrCodeTypeMismatch = "TYPE_MISMATCH"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodePlugin       = "PLUGIN_FAILURE"
	ErrCodeExecution    = "EXECUTION_ERROR"
	ErrCodeStore        = "STORE_ERROR"
)

// CatalystError is the structured error type for all catalyst operations.
type CatalystError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Key     string         `json:"key,omitempty"`
	Cause   error          `json:"-"`
}

func (e *CatalystError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Key, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *CatalystError) Unwrap() error {
	return e.Cause
}

// NewError creates a new CatalystError.
func NewError(code, message string) *CatalystError {
	return &CatalystError{Code: code, Message: message}
}

// NewErrorf creates a new CatalystError with a formatted message.
func NewErrorf(code, format string, args ...any) *CatalystError {
	return &CatalystError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithKey attaches an action key to the error.
func (e *CatalystError) WithKey(key string) *CatalystError {
	e.Key = key
	return e
}

// WithCause attaches an underlying cause.
func (e *CatalystError) WithCause(err error) *CatalystError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *CatalystError) WithDetails(details map[string]any) *CatalystError {
	e.Details = details
	return e
}

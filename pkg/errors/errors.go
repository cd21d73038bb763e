package errors

import (
	"errors"
	"fmt"
)

// Common application errors
var (
	// Input data errors
	ErrMalformedRow      = errors.New("row column count does not match the header")
	ErrEmptyInput        = errors.New("input has no header row")
	ErrUnknownColumn     = errors.New("unknown column")
	ErrInvalidAggregates = errors.New("invalid aggregates line")

	// Parameter errors
	ErrInvalidDelimiter      = errors.New("invalid delimiter: must be a single character")
	ErrInvalidResolution     = errors.New("invalid resolution: must be greater than zero")
	ErrInvalidSynthesisMode  = errors.New("invalid synthesis mode")
	ErrInvalidNoise          = errors.New("invalid noise parameters")
	ErrMissingSensitiveData  = errors.New("sensitive data has not been set")
	ErrMissingSyntheticData  = errors.New("synthetic data has not been generated")
	ErrMissingEvaluateResult = errors.New("data has not been evaluated")
	ErrLongFormSynthetic     = errors.New("long form synthetic data cannot be evaluated")

	// I/O errors
	ErrOutputCreate       = errors.New("failed to create output destination")
	ErrOutputWrite        = errors.New("failed to write output")
	ErrInputRead          = errors.New("failed to read input")
	ErrInvalidDestination = errors.New("invalid output destination")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrConfigurationLoad    = errors.New("failed to load configuration")
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeIO            ErrorType = "io"
	ErrorTypeData          ErrorType = "data"
	ErrorTypeParameter     ErrorType = "parameter"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeInternal      ErrorType = "internal"
)

// AppError represents an application-specific error with additional context
type AppError struct {
	Type      ErrorType              `json:"type"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Cause     error                  `json:"-"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Retryable bool                   `json:"retryable"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// NewAppError creates a new application error.
// Nothing in the pipeline is retried, so Retryable is always false.
func NewAppError(errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:    errType,
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error with application context
func WrapError(err error, errType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:    errType,
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// NewIOError creates an I/O error
func NewIOError(code, message string, cause error) *AppError {
	return WrapError(cause, ErrorTypeIO, code, message)
}

// NewDataError creates an input data error
func NewDataError(code, message string, cause error) *AppError {
	return WrapError(cause, ErrorTypeData, code, message)
}

// NewParameterError creates a parameter error
func NewParameterError(code, message string, cause error) *AppError {
	return WrapError(cause, ErrorTypeParameter, code, message)
}

// NewConfigurationError creates a configuration error
func NewConfigurationError(code, message string, cause error) *AppError {
	return WrapError(cause, ErrorTypeConfiguration, code, message)
}

// IsType reports whether err is an AppError of the given type
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errType
	}
	return false
}

// Error codes for different error scenarios
const (
	// Data error codes
	CodeMalformedRow      = "MALFORMED_ROW"
	CodeEmptyInput        = "EMPTY_INPUT"
	CodeUnknownColumn     = "UNKNOWN_COLUMN"
	CodeInvalidAggregates = "INVALID_AGGREGATES"

	// Parameter error codes
	CodeInvalidDelimiter  = "INVALID_DELIMITER"
	CodeInvalidResolution = "INVALID_RESOLUTION"
	CodeInvalidMode       = "INVALID_MODE"
	CodeInvalidNoise      = "INVALID_NOISE"
	CodeMissingState      = "MISSING_STATE"
	CodeUnsupportedFormat = "UNSUPPORTED_FORMAT"

	// I/O error codes
	CodeCreateFailed       = "CREATE_FAILED"
	CodeWriteFailed        = "WRITE_FAILED"
	CodeReadFailed         = "READ_FAILED"
	CodeInvalidDestination = "INVALID_DESTINATION"

	// Configuration error codes
	CodeInvalidConfig = "INVALID_CONFIG"
	CodeConfigLoad    = "CONFIG_LOAD_FAILED"
)

package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeConfiguration      ErrorType = "configuration"
	ErrorTypeService            ErrorType = "service"
	ErrorTypeUnexpectedResponse ErrorType = "unexpected_response"
	ErrorTypeValidation         ErrorType = "validation"
	ErrorTypePollLimit          ErrorType = "poll_limit"
)

// AppError represents a structured client error.
// Network failures are never wrapped into an AppError.
type AppError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	// Body is the raw response body for unexpected responses
	Body       string `json:"body,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Cause      error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewConfigurationError creates an error for a missing or unusable configuration
func NewConfigurationError(message string, cause error) *AppError {
	return &AppError{
		Type:    ErrorTypeConfiguration,
		Message: message,
		Cause:   cause,
	}
}

// NewServiceError creates an error carrying the message reported by the service
func NewServiceError(message string, statusCode int) *AppError {
	return &AppError{
		Type:       ErrorTypeService,
		Message:    message,
		StatusCode: statusCode,
	}
}

// NewUnexpectedResponseError creates an error for a response of an unknown shape
func NewUnexpectedResponseError(body string, statusCode int, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeUnexpectedResponse,
		Message:    "unexpected response",
		Body:       body,
		StatusCode: statusCode,
		Cause:      cause,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string, cause error) *AppError {
	return &AppError{
		Type:    ErrorTypeValidation,
		Message: message,
		Cause:   cause,
	}
}

// NewPollLimitError reports a poll loop that ran out of attempts
func NewPollLimitError(token string, attempts int) *AppError {
	return &AppError{
		Type:    ErrorTypePollLimit,
		Message: fmt.Sprintf("token %s still pending after %d polls", token, attempts),
	}
}

// IsType checks if the error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// GetStatusCode extracts the HTTP status code from an error, 0 when none is known
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 0
}

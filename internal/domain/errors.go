package domain

import (
	"errors"
	"fmt"
)

// Common errors used throughout the application.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrConflict        = errors.New("conflict")
	ErrInvalidToken    = errors.New("invalid token")
	ErrInvalidKey      = errors.New("invalid storefront key")
	ErrRateLimited     = errors.New("rate limit exceeded")
	ErrOperationFailed = errors.New("operation failed")
	ErrRotationCycle   = errors.New("rotation chain contains a cycle")
)

// Category is the client-safe classification attached to every error that
// reaches a caller.
type Category string

const (
	CategoryInvalidInput      Category = "invalid_input"
	CategoryAuthentication    Category = "authentication_failure"
	CategoryAuthorization     Category = "authorization_failure"
	CategoryNotFound          Category = "resource_not_found"
	CategoryConflict          Category = "conflict"
	CategoryOperationFailed   Category = "operation_failed"
	CategoryRateLimitExceeded Category = "rate_limit_exceeded"
)

// Error codes for standardized API error responses.
const (
	ErrCodeResourceNotFound      = "RESOURCE_NOT_FOUND"
	ErrCodeResourceAlreadyExists = "RESOURCE_ALREADY_EXISTS"
	ErrCodeInvalidInput          = "INVALID_INPUT"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeForbidden             = "FORBIDDEN"
	ErrCodeValidationError       = "VALIDATION_ERROR"
	ErrCodeBadRequest            = "BAD_REQUEST"
	ErrCodeRateLimited           = "RATE_LIMITED"
	ErrCodePreconditionFailed    = "PRECONDITION_FAILED"
	ErrCodeInternalError         = "INTERNAL_ERROR"
)

// Error is a categorized error that is safe to show to API clients.
// Err carries the underlying cause for errors.Is and logging; it is never
// rendered.
type Error struct {
	Category   Category
	Message    string
	RetryAfter int
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a categorized error wrapping cause.
func NewError(category Category, message string, cause error) *Error {
	return &Error{Category: category, Message: message, Err: cause}
}

// CategoryOf returns the category of err. Uncategorized errors are classified
// by the sentinel they wrap and fall back to operation_failed.
func CategoryOf(err error) Category {
	var de *Error
	if errors.As(err, &de) {
		return de.Category
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidToken):
		return CategoryNotFound
	case errors.Is(err, ErrInvalidInput):
		return CategoryInvalidInput
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrInvalidKey):
		return CategoryAuthentication
	case errors.Is(err, ErrForbidden):
		return CategoryAuthorization
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrConflict), errors.Is(err, ErrRotationCycle):
		return CategoryConflict
	case errors.Is(err, ErrRateLimited):
		return CategoryRateLimitExceeded
	default:
		return CategoryOperationFailed
	}
}

// StandardError represents a standardized error response from the API.
type StandardError struct {
	Code       string         `json:"code"`
	Category   Category       `json:"category"`
	Message    string         `json:"message"`
	Field      string         `json:"field,omitempty"`
	RetryAfter int            `json:"retry_after,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// StandardErrorResponse wraps a StandardError for JSON responses.
type StandardErrorResponse struct {
	Error StandardError `json:"error"`
}

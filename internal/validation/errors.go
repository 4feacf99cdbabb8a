package validation

import (
	"strings"

	"github.com/bcnelson/storefront-gateway/internal/domain"
)

// ValidationError is a single rejected request field.
type ValidationError struct {
	Field   string `json:"field"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, value, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// ValidationErrors collects every rejected field of a request. It matches
// domain.ErrInvalidInput under errors.Is, so services return it as is.
type ValidationErrors []*ValidationError

// Invalid returns a ValidationErrors holding one field error.
func Invalid(field, value, message string) ValidationErrors {
	return ValidationErrors{NewValidationError(field, value, message)}
}

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, fe := range e {
		msgs[i] = fe.Error()
	}
	return strings.Join(msgs, "; ")
}

func (e ValidationErrors) Is(target error) bool {
	return target == domain.ErrInvalidInput
}

// Add records a rejected field.
func (e *ValidationErrors) Add(field, value, message string) {
	*e = append(*e, NewValidationError(field, value, message))
}

// HasErrors reports whether any field was rejected.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Err returns e as an error, or nil when no field was rejected.
func (e ValidationErrors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// StandardError renders e for API clients: the first rejected field is
// reported at the top level and every rejection is listed in details.
func (e ValidationErrors) StandardError() domain.StandardError {
	se := domain.StandardError{
		Code:     domain.ErrCodeValidationError,
		Category: domain.CategoryInvalidInput,
		Message:  "validation failed",
	}
	if len(e) > 0 {
		se.Field = e[0].Field
		se.Message = e[0].Message
		se.Details = map[string]any{"errors": []*ValidationError(e)}
	}
	return se
}

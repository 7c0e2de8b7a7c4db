package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity is not found
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidInput is returned when input validation fails
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoPendingWorkflow is returned by confirm when nothing awaits confirmation
	ErrNoPendingWorkflow = errors.New("no workflow pending confirmation")

	// ErrIllegalStateTransition is returned for disallowed context state moves
	ErrIllegalStateTransition = errors.New("illegal state transition")

	// ErrFileRequired is returned when a workflow needs an upload first
	ErrFileRequired = errors.New("file upload required")

	// ErrConversationBusy is returned when a workflow is already running
	ErrConversationBusy = errors.New("conversation is processing a workflow")
)

// ValidationError wraps field-specific validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

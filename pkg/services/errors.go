package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity is not found
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when attempting to create a duplicate entity
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrWrongState is returned when an operation is not valid for the
	// workflow's current status
	ErrWrongState = errors.New("operation not valid in current state")

	// ErrWorktreeConflict is returned when a worktree already has an active workflow
	ErrWorktreeConflict = errors.New("worktree already has an active workflow")

	// ErrConcurrencyLimit is returned when the concurrent workflow cap is reached
	ErrConcurrencyLimit = errors.New("concurrent workflow limit reached")

	// ErrNotCancellable is returned when cancelling a workflow that already
	// reached a terminal status
	ErrNotCancellable = errors.New("workflow is not cancellable")
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

// Kind returns the machine-readable error kind for API responses and batch
// results. Unrecognized errors are Internal.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrWrongState), errors.Is(err, ErrNotCancellable):
		return "WrongState"
	case errors.Is(err, ErrWorktreeConflict):
		return "WorktreeConflict"
	case errors.Is(err, ErrConcurrencyLimit):
		return "ConcurrencyLimit"
	case errors.Is(err, ErrAlreadyExists):
		return "AlreadyExists"
	case IsValidationError(err):
		return "ValidationError"
	default:
		return "Internal"
	}
}

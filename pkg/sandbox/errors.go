// Package sandbox implements the Sandbox Registry & Lifecycle Manager: it
// owns the sandbox state machine, validates transitions, computes
// auto-termination deadlines, and runs the idle-timeout sweeper.
package sandbox

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a sandbox does not exist.
	ErrNotFound = errors.New("sandbox not found")

	// ErrConflict is returned when a name collides or a state transition
	// is illegal (including a losing race against the sweeper).
	ErrConflict = errors.New("sandbox conflict")

	// ErrBadRequest is returned when a sandbox name fails URL-safety
	// validation.
	ErrBadRequest = errors.New("invalid sandbox request")
)

// ValidationError wraps a field-specific rejection reason.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError constructs a ValidationError.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

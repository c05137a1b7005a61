package store

import "errors"

// Sentinel errors returned by store operations. Callers use errors.Is
// to distinguish retry-vs-fail per the state store's failure semantics.
var (
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("conflict")
	ErrNoTask    = errors.New("no eligible task")
)

// ValidationError reports a malformed request before it ever reaches a query.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

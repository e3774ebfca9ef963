package types

import (
	"errors"
	"strings"
)

// Error taxonomy shared by every component
var (
	// ErrValidation marks malformed specs, payloads, or entity fields. Never persisted.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a missing ledger row, task, or catalog entity
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists marks a unique-constraint violation on save
	ErrAlreadyExists = errors.New("already exists")
	// ErrCouldNotSave marks any other write failure
	ErrCouldNotSave = errors.New("could not save")
	// ErrStorageIO marks file write, compress, or local read failures
	ErrStorageIO = errors.New("storage i/o failed")
	// ErrUpstream marks non-2xx or transport failures from the upload or live-sync endpoints
	ErrUpstream = errors.New("upstream request failed")
	// ErrConfiguration marks unsupported formats or missing endpoints/secrets
	ErrConfiguration = errors.New("invalid configuration")
)

// ValidationError carries one message per failed field check
type ValidationError struct {
	Messages []string
}

// NewValidationError creates a ValidationError from the given messages
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Messages: messages}
}

func (e *ValidationError) Error() string {
	if len(e.Messages) == 0 {
		return ErrValidation.Error()
	}
	return ErrValidation.Error() + ": " + strings.Join(e.Messages, "; ")
}

// Unwrap lets errors.Is(err, ErrValidation) match
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

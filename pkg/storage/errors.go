package storage

import (
	"errors"
	"fmt"
)

// Common errors returned by storage operations.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrMissing is returned when a database that must already exist is absent.
	ErrMissing = errors.New("database file missing")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrClosed is returned when attempting to use a closed database.
	ErrClosed = errors.New("database is closed")
)

// NotFoundError wraps ErrNotFound with additional context.
type NotFoundError struct {
	ResourceType string // "session", "product", ...
	ResourceID   string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.ResourceType, e.ResourceID)
}

// Unwrap returns the underlying error.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// Is checks if the error matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// MissingError reports a database path that was expected to exist.
type MissingError struct {
	Path string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("database file missing: %s", e.Path)
}

func (e *MissingError) Unwrap() error {
	return ErrMissing
}

// InvalidInputError wraps ErrInvalidInput with details.
type InvalidInputError struct {
	Field  string // Field name that failed validation
	Reason string // Why validation failed
}

// Error implements the error interface.
func (e *InvalidInputError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid input for field %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid input: %s", e.Reason)
}

// Unwrap returns the underlying error.
func (e *InvalidInputError) Unwrap() error {
	return ErrInvalidInput
}

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(resourceType, resourceID string) error {
	return &NotFoundError{
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// NewMissingError creates a MissingError.
func NewMissingError(path string) error {
	return &MissingError{Path: path}
}

// NewInvalidInputError creates an InvalidInputError.
func NewInvalidInputError(field, reason string) error {
	return &InvalidInputError{
		Field:  field,
		Reason: reason,
	}
}

// IsMissing checks if an error is or wraps ErrMissing.
func IsMissing(err error) bool {
	return errors.Is(err, ErrMissing)
}

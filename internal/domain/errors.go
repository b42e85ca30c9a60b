package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing resource (collection, index, document, job).
	ErrNotFound = errors.New("not found")
	// ErrConflict signals a duplicate resource name.
	ErrConflict = errors.New("already exists")
	// ErrInvalidState signals an operation not permitted in the index's current
	// lifecycle state.
	ErrInvalidState = errors.New("invalid state")
	// ErrSchema signals an invalid or violated mapping definition.
	ErrSchema = errors.New("schema error")
	// ErrTypeMismatch signals a field value that cannot be coerced to its
	// declared type.
	ErrTypeMismatch = errors.New("type mismatch")
)

// TypeMismatchError wraps ErrTypeMismatch with the offending field.
type TypeMismatchError struct {
	Field string
	Want  string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("field %q is not a valid %s", e.Field, e.Want)
}

func (e *TypeMismatchError) Unwrap() error { return ErrTypeMismatch }

// NewTypeMismatch creates a type mismatch error for a field.
func NewTypeMismatch(field, want string) error {
	return &TypeMismatchError{Field: field, Want: want}
}

// InvalidStateError wraps ErrInvalidState with the rejected operation and the
// state that rejected it.
type InvalidStateError struct {
	Op    string
	State string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: index is %s", e.Op, e.State)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// NewInvalidState creates an invalid state error.
func NewInvalidState(op, state string) error {
	return &InvalidStateError{Op: op, State: state}
}

// Package storage defines the error taxonomy shared by every layer of the
// persistence engine.
package storage

import (
	"errors"
	"fmt"
)

// Error is the failure type surfaced to callers of the persistence engine.
//
// Errors fall into four categories:
//   - Configuration: unknown field or type referenced by a query or accessor
//   - State: double create, removing a removed fragment, writing a read-only property
//   - Store: connectivity or constraint failure reported by the database
//   - Multiplicity: a by-id or by-name lookup returned more than one row
//
// None of them are retried by the engine.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op names the operation that failed, e.g. "insert hierarchy".
	Op string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes storage errors.
type ErrorCode string

const (
	// ErrCodeConfig indicates an unknown field, type or table.
	ErrCodeConfig ErrorCode = "CONFIG"

	// ErrCodeState indicates an illegal state transition.
	ErrCodeState ErrorCode = "STATE"

	// ErrCodeStore indicates a failure reported by the backing store.
	ErrCodeStore ErrorCode = "STORE"

	// ErrCodeMultiplicity indicates more rows than a lookup allows.
	ErrCodeMultiplicity ErrorCode = "MULTIPLICITY"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewConfigError creates an Error for an unknown name.
func NewConfigError(format string, args ...any) *Error {
	return &Error{Code: ErrCodeConfig, Message: fmt.Sprintf(format, args...)}
}

// NewStateError creates an Error for an illegal transition.
func NewStateError(format string, args ...any) *Error {
	return &Error{Code: ErrCodeState, Message: fmt.Sprintf(format, args...)}
}

// NewMultiplicityError creates an Error for a lookup that matched too many rows.
func NewMultiplicityError(op string, count int) *Error {
	return &Error{
		Code:    ErrCodeMultiplicity,
		Op:      op,
		Message: fmt.Sprintf("expected at most one row, got %d", count),
	}
}

// WrapStoreError wraps a database failure. Returns nil for a nil err and
// leaves an existing *Error untouched.
func WrapStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Code: ErrCodeStore, Op: op, Message: "store failure", Err: err}
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	return hasCode(err, ErrCodeConfig)
}

// IsStateError reports whether err is a state violation.
func IsStateError(err error) bool {
	return hasCode(err, ErrCodeState)
}

// IsStoreError reports whether err is a store failure.
func IsStoreError(err error) bool {
	return hasCode(err, ErrCodeStore)
}

// IsMultiplicityError reports whether err is a multiplicity failure.
func IsMultiplicityError(err error) bool {
	return hasCode(err, ErrCodeMultiplicity)
}

func hasCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

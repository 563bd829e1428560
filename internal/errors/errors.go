// Package errors defines the coded error type used across the service.
// Every error surfaced to a caller carries a Code that the HTTP layer maps
// to a status and that tests assert on.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code identifies a class of failure.
type Code string

const (
	ErrCodeInvalidAmount     Code = "INVALID_AMOUNT"
	ErrCodeEmptyChain        Code = "EMPTY_CHAIN"
	ErrCodeInvalidTransition Code = "INVALID_TRANSITION"
	ErrCodeNotFound          Code = "NOT_FOUND"
	ErrCodeStaleLevel        Code = "STALE_LEVEL"
	ErrCodeUnauthorized      Code = "UNAUTHORIZED"
	ErrCodeSelfApproval      Code = "SELF_APPROVAL"
	ErrCodeInvalidInput      Code = "INVALID_INPUT"
	ErrCodeConflict          Code = "CONFLICT"
	ErrCodeInternal          Code = "INTERNAL"
)

// Error is a coded error, optionally wrapping a cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error with no cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports that a resource does not exist.
func NotFound(resource, id string) *Error {
	return Newf(ErrCodeNotFound, "%s not found: %s", resource, id)
}

// InvalidInput reports a validation failure on a named field.
func InvalidInput(field, message string) *Error {
	return Newf(ErrCodeInvalidInput, "invalid %s: %s", field, message)
}

// InvalidAmount reports a non-positive request amount.
func InvalidAmount(amount int64) *Error {
	return Newf(ErrCodeInvalidAmount, "amount must be positive, got %d", amount)
}

// EmptyChain reports that chain resolution produced zero levels.
func EmptyChain() *Error {
	return New(ErrCodeEmptyChain, "resolved approval chain has no levels")
}

// InvalidTransition reports an attempted lifecycle transition that is not allowed.
func InvalidTransition(from, to string) *Error {
	return Newf(ErrCodeInvalidTransition, "cannot transition request from %q to %q", from, to)
}

// StaleLevel reports a decision on a level that has already been decided or
// that the request has moved past.
func StaleLevel(requestID string, level int) *Error {
	return Newf(ErrCodeStaleLevel, "level %d of request %s is no longer pending", level, requestID)
}

// Unauthorized reports a caller acting without the required role.
func Unauthorized(message string) *Error {
	return New(ErrCodeUnauthorized, message)
}

// SelfApproval reports a requester attempting to approve their own request.
func SelfApproval() *Error {
	return New(ErrCodeSelfApproval, "requester cannot approve their own request")
}

// CodeOf extracts the Code from an error chain, or ErrCodeInternal when the
// error carries no code.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

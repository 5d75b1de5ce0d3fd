package services

import (
	"errors"
	"fmt"
)

// The three local error classes of the trade engine. They are never retried by
// the engine itself; the HTTP layer maps them to distinct status codes.
// Not-found conditions reuse mongo.ErrNoDocuments, as elsewhere in the store
// layer.

// ValidationError marks malformed or inconsistent input (wrong trade shape,
// self-trade, missing precondition at proposal time).
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// NewValidationError builds a ValidationError from a format string.
func NewValidationError(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ConflictError marks an operation that is legal in principle but impossible
// in the current state: wrong status for a transition, or no unreserved row
// left at accept time. The caller may re-propose.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

// NewConflictError builds a ConflictError from a format string.
func NewConflictError(format string, args ...interface{}) error {
	return &ConflictError{Reason: fmt.Sprintf(format, args...)}
}

// AuthorizationError marks an acting user who is not allowed to perform the
// operation (not a party of the trade, or not the responder where required).
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string { return e.Reason }

// NewAuthorizationError builds an AuthorizationError from a format string.
func NewAuthorizationError(format string, args ...interface{}) error {
	return &AuthorizationError{Reason: fmt.Sprintf(format, args...)}
}

// ErrNoUnreservedRow is returned by the reservation primitives when every row
// for the requested (owner, sticker) pair is already reserved or none exists.
var ErrNoUnreservedRow = errors.New("no unreserved inventory row available")

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsAuthorization reports whether err is an AuthorizationError.
func IsAuthorization(err error) bool {
	var ae *AuthorizationError
	return errors.As(err, &ae)
}

// Package apperr provides the categorized error taxonomy used across every
// service instead of ad hoc sentinel errors or exceptions.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error into one of the categories the REST and saga
// layers need to react to differently.
type Kind string

const (
	Validation         Kind = "VALIDATION"
	AuthN              Kind = "AUTHN"
	AuthZ              Kind = "AUTHZ"
	NotFound           Kind = "NOT_FOUND"
	InvalidState       Kind = "INVALID_STATE"
	InsufficientStock  Kind = "INSUFFICIENT_STOCK"
	ExternalUnavailable Kind = "EXTERNAL_UNAVAILABLE"
	Conflict           Kind = "CONFLICT"
	Internal           Kind = "INTERNAL"
)

// Error is the categorized result type surfaced to callers in place of raw
// Go errors wherever the caller needs to branch on error category.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs a categorized error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a categorized error that preserves cause for %w chains.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// As extracts an *Error from err, if present in its chain.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// HTTPStatus maps a Kind to the status code spec §7 assigns it.
func HTTPStatus(kind Kind) int {
	switch kind {
	case Validation:
		return http.StatusBadRequest
	case AuthN:
		return http.StatusUnauthorized
	case AuthZ:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case InvalidState:
		return http.StatusBadRequest
	case InsufficientStock:
		return http.StatusUnprocessableEntity
	case ExternalUnavailable:
		return http.StatusBadGateway
	case Conflict:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

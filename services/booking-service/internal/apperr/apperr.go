// Package apperr defines the typed errors returned by the slot and booking services
// and their mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Type classifies an application error.
type Type string

const (
	TypeConfiguration     Type = "CONFIGURATION"
	TypeNotFound          Type = "NOT_FOUND"
	TypeValidation        Type = "VALIDATION"
	TypeExternal          Type = "EXTERNAL_ADAPTER"
	TypeConflict          Type = "BOOKING_CONFLICT"
	TypeSlotUnavailable   Type = "SLOT_UNAVAILABLE"
	TypeInvalidTransition Type = "INVALID_TRANSITION"
	TypeInternal          Type = "INTERNAL"
)

// Store-level sentinels translated by the services.
var (
	// ErrDuplicateIdempotencyKey means another reservation already used the key.
	ErrDuplicateIdempotencyKey = errors.New("idempotency key already used")
	// ErrStaleStatus means the appointment's status changed between read and conditional update.
	ErrStaleStatus = errors.New("appointment status changed concurrently")
)

// Error is an application error carrying a Type for callers and an optional cause.
type Error struct {
	Type    Type
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Configuration(format string, args ...any) *Error {
	return &Error{Type: TypeConfiguration, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Type: TypeNotFound, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return &Error{Type: TypeValidation, Message: fmt.Sprintf(format, args...)}
}

// External wraps a failure of an external availability system.
func External(system string, err error) *Error {
	return &Error{Type: TypeExternal, Message: "availability system " + system + " failed", Err: err}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Type: TypeConflict, Message: fmt.Sprintf(format, args...)}
}

func SlotUnavailable(format string, args ...any) *Error {
	return &Error{Type: TypeSlotUnavailable, Message: fmt.Sprintf(format, args...)}
}

func InvalidTransition(from, to string) *Error {
	return &Error{Type: TypeInvalidTransition, Message: fmt.Sprintf("cannot change status from %s to %s", from, to)}
}

func Internal(message string, err error) *Error {
	return &Error{Type: TypeInternal, Message: message, Err: err}
}

// TypeOf returns the Type of the first *Error in err's chain, or TypeInternal.
func TypeOf(err error) Type {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return TypeInternal
}

// Is reports whether err carries an *Error of type t.
func Is(err error, t Type) bool {
	return err != nil && TypeOf(err) == t
}

// HTTPStatus maps err onto the response status code.
func HTTPStatus(err error) int {
	switch TypeOf(err) {
	case TypeConfiguration:
		return http.StatusUnprocessableEntity
	case TypeNotFound:
		return http.StatusNotFound
	case TypeValidation:
		return http.StatusBadRequest
	case TypeExternal:
		return http.StatusBadGateway
	case TypeConflict, TypeSlotUnavailable, TypeInvalidTransition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the message safe to return to clients; internal causes are hidden.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Type != TypeInternal {
		return e.Message
	}
	return "internal error"
}

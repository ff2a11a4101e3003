package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced to the session layer.
type ErrorKind int

const (
	// KindNetwork means no response reached the client.
	KindNetwork ErrorKind = iota + 1
	// KindAuth is a 4xx from the backend: bad credentials, duplicate user, bad OTP.
	KindAuth
	// KindServer is a 5xx or a malformed success body.
	KindServer
	// KindValidation is a client-side constraint violated before any call.
	KindValidation
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindServer:
		return "server"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// NetworkErrorMessage is shown when the backend could not be reached.
const NetworkErrorMessage = "Network error - please check your connection"

// Error is the client-side error taxonomy. Message is safe to show to users.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s error (HTTP %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError builds a KindValidation error.
func NewValidationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// KindOf returns the ErrorKind of err, or 0 if err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// UserMessage returns the human-readable message carried by err,
// falling back to fallback for errors outside the taxonomy.
func UserMessage(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return fallback
}

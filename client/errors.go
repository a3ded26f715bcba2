package client

import (
	"errors"
	"fmt"
)

// Kind classifies a failed client operation.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindInvalidCredentials
	KindUnauthenticated
	KindUnauthorized
	KindForbidden
	KindNetwork
	KindServer
	KindUnexpectedResponse
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation error"
	case KindInvalidCredentials:
		return "invalid credentials"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNetwork:
		return "network failure"
	case KindServer:
		return "server error"
	case KindUnexpectedResponse:
		return "unexpected response"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinel errors for use with errors.Is. Every *Error matches the sentinel
// of its Kind.
var (
	ErrValidation         = errors.New("validation error")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNetwork            = errors.New("network failure")
	ErrServer             = errors.New("server error")
	ErrUnexpectedResponse = errors.New("unexpected response")
)

var sentinels = map[Kind]error{
	KindValidation:         ErrValidation,
	KindInvalidCredentials: ErrInvalidCredentials,
	KindUnauthenticated:    ErrUnauthenticated,
	KindUnauthorized:       ErrUnauthorized,
	KindForbidden:          ErrForbidden,
	KindNetwork:            ErrNetwork,
	KindServer:             ErrServer,
	KindUnexpectedResponse: ErrUnexpectedResponse,
}

const (
	loginRetryMessage   = "Login failed. Please check your internet connection and try again."
	fetchRetryMessage   = "Failed to fetch protected data. Please try again."
	requestRetryMessage = "Request failed. Please try again."
	loginRequired       = "Please log in to continue."
	sessionExpired      = "Your session has expired. Please log in again."
	accessDenied        = "You do not have permission to perform this action."
	fallbackMessage     = "Something went wrong. Please try again."
)

// Error is returned by every Client operation that fails for a reason other
// than the session store itself.
type Error struct {
	Kind Kind
	// Op names the client operation, e.g. "login".
	Op string
	// Message is safe to show to a user.
	Message string
	// Detail is the server-supplied error text when it is not user facing.
	Detail string
	// Status is the HTTP status code, or 0 when no response was received.
	Status int
	// Err is the underlying transport, decoding or store error, if any.
	Err error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.String()
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// UserMessage returns a short, human-readable description of err. Raw
// transport and store errors are never included.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return fallbackMessage
}

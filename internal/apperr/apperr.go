// Package apperr defines the error taxonomy shared by the HTTP-facing Lambdas.
//
// Handlers return *Error values (or wrap them); the outermost boundary maps
// them to a status code with HTTPStatus and sends only Message to the client.
// Any error that is not an *Error is treated as an upstream failure (500).
package apperr

import (
	"errors"
	"net/http"
)

// Kind categorizes a failure by how the caller should react to it.
type Kind int

const (
	// KindUpstream indicates a managed-service call (S3, DynamoDB, Rekognition,
	// Step Functions, Cognito) failed.
	KindUpstream Kind = iota
	// KindValidation indicates missing or invalid input.
	KindValidation
	// KindAuth indicates a missing or unverifiable identity.
	KindAuth
	// KindNotFound indicates an unknown image id.
	KindNotFound
	// KindConflict indicates a duplicate registration.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "upstream"
	}
}

// Error is a classified application error. Message is safe to return to the
// client; Err carries internal detail for logs only.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation returns a 400-class error.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// Auth returns a 401-class error.
func Auth(msg string, err error) *Error {
	return &Error{Kind: KindAuth, Message: msg, Err: err}
}

// NotFound returns a 404-class error.
func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// Conflict returns a 409-class error.
func Conflict(msg string, err error) *Error {
	return &Error{Kind: KindConflict, Message: msg, Err: err}
}

// Upstream returns a 500-class error wrapping the failed call.
func Upstream(msg string, err error) *Error {
	return &Error{Kind: KindUpstream, Message: msg, Err: err}
}

// KindOf reports the Kind of err, or KindUpstream when err is not classified.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUpstream
}

// HTTPStatus maps err to the response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ClientMessage returns the message that may be shown to the caller.
// Unclassified errors collapse to a generic message.
func ClientMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal server error"
}

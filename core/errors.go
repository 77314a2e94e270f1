package core

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure in the sketch pipeline.
type Kind string

const (
	// KindUserInput: the user asked for something the canvas cannot give (empty canvas).
	KindUserInput Kind = "USER_INPUT"
	// KindExport: the buffer could not be flattened or encoded.
	KindExport Kind = "EXPORT"
	// KindTransport: network failure or non-2xx status.
	KindTransport Kind = "TRANSPORT"
	// KindProtocol: 2xx status but the body is missing the expected field.
	KindProtocol Kind = "PROTOCOL"
	// KindNotFound: unknown session or story.
	KindNotFound Kind = "NOT_FOUND"
	// KindInternal: anything else.
	KindInternal Kind = "INTERNAL"
)

// Error is a pipeline error with a kind, an optional HTTP status and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Status  int // HTTP status of the inference response, TRANSPORT only
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrUserInput = &Error{Kind: KindUserInput}
	ErrExport    = &Error{Kind: KindExport}
	ErrTransport = &Error{Kind: KindTransport}
	ErrProtocol  = &Error{Kind: KindProtocol}
	ErrNotFound  = &Error{Kind: KindNotFound}
)

// NewError creates an error of the given kind.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates an error of the given kind around cause.
func WrapError(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf reports the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// StatusOf returns the inference HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// HTTPStatus maps a kind onto the status an API handler should answer with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindUserInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindTransport, KindProtocol:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

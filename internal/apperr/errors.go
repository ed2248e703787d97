package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrBadRequest         = errors.New("bad request")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("permission denied")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrRateLimited        = errors.New("rate limited")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrInternal           = errors.New("internal error")
)

// Error carries one of the sentinels above as its kind, the operation that
// failed and an optional cause.
type Error struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func Invalid(op, msg string) error {
	return &Error{Op: op, Kind: ErrBadRequest, Msg: msg}
}

// Auth is returned for rejected credentials or tokens.
func Auth(op, msg string) error {
	return &Error{Op: op, Kind: ErrUnauthorized, Msg: msg}
}

// Permission is returned when the caller is not allowed to act on a resource.
func Permission(op, msg string) error {
	return &Error{Op: op, Kind: ErrForbidden, Msg: msg}
}

func NotFound(op, msg string) error {
	return &Error{Op: op, Kind: ErrNotFound, Msg: msg}
}

func Conflict(op, msg string) error {
	return &Error{Op: op, Kind: ErrConflict, Msg: msg}
}

// Transient wraps a failure of a backing service that may succeed on retry.
func Transient(op string, err error) error {
	return &Error{Op: op, Kind: ErrServiceUnavailable, Err: err}
}

// Status maps err to an HTTP status code.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Message is the client-facing text for err. Internal causes are not exposed.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Msg != "" {
			return e.Msg
		}
		return e.Kind.Error()
	}
	for _, k := range []error{ErrBadRequest, ErrUnauthorized, ErrForbidden, ErrNotFound, ErrConflict, ErrRateLimited, ErrServiceUnavailable} {
		if errors.Is(err, k) {
			return k.Error()
		}
	}
	return ErrInternal.Error()
}

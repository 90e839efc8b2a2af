// Package apperr defines the closed set of error kinds used across
// the control plane (spec §7) and the HTTP status/reason each maps
// to, mirroring the teacher's api.Status{Code,Message,Reason} +
// middleware.WriteJSONError convention.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	BadRequest  Kind = "BadRequest"
	Unauthorized Kind = "Unauthorized"
	Forbidden   Kind = "Forbidden"
	NotFound    Kind = "NotFound"
	Conflict    Kind = "Conflict"
	RateLimited Kind = "RateLimited"
	Unavailable Kind = "Unavailable"
	Internal    Kind = "Internal"
)

var httpStatus = map[Kind]int{
	BadRequest:   http.StatusBadRequest,
	Unauthorized: http.StatusUnauthorized,
	Forbidden:    http.StatusForbidden,
	NotFound:     http.StatusNotFound,
	Conflict:     http.StatusConflict,
	RateLimited:  http.StatusTooManyRequests,
	Unavailable:  http.StatusServiceUnavailable,
	Internal:     http.StatusInternalServerError,
}

// Error is a typed application error carrying a Kind, an optional
// machine-readable Reason beyond the Kind (e.g. "token_mismatch"),
// and a wrapped cause.
type Error struct {
	Kind   Kind
	Reason string
	Msg    string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus returns the status code for this error's Kind.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

func WithReason(kind Kind, reason, msg string) *Error {
	return &Error{Kind: kind, Reason: reason, Msg: msg}
}

// KindOf extracts the Kind of err if it is (or wraps) an *Error,
// defaulting to Internal for unrecognized errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// ReasonOf extracts the Reason, if any.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

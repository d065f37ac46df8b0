// Package errors defines the error type shared by the coordinator, the
// server, and the tunnel client, with a stable mapping to HTTP status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for handling and HTTP mapping.
type Kind int

const (
	// KindOther is the fallback for errors with no better classification.
	KindOther Kind = iota
	// KindAlreadyExists reports that the target resource already exists.
	KindAlreadyExists
	// KindNotFound reports that the target resource does not exist.
	KindNotFound
	// KindCommandFailed reports a subprocess exiting non-zero.
	KindCommandFailed
	// KindTimeout reports a subprocess or dial exceeding its deadline.
	KindTimeout
	// KindConfig reports invalid or unloadable configuration.
	KindConfig
	// KindIO reports a filesystem or network I/O failure.
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindAlreadyExists:
		return "already_exists"
	case KindNotFound:
		return "not_found"
	case KindCommandFailed:
		return "command_failed"
	case KindTimeout:
		return "timeout"
	case KindConfig:
		return "config"
	case KindIO:
		return "io"
	default:
		return "other"
	}
}

// Error is the error type used across the project. It carries a Kind for
// classification, a human-readable message, and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message != "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two Errors by Kind, so sentinel-style checks with errors.Is
// work across wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// HTTPStatus maps the error kind to an HTTP status code. Conflicts map to
// 409, missing resources to 404, everything else to 500. Handlers that need
// a different code for a specific route set it themselves.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindAlreadyExists:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// AlreadyExists returns a KindAlreadyExists error.
func AlreadyExists(format string, args ...any) *Error {
	return &Error{Kind: KindAlreadyExists, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a KindNotFound error.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// CommandFailed returns a KindCommandFailed error carrying the subprocess
// stderr in the message.
func CommandFailed(stderr string) *Error {
	return &Error{Kind: KindCommandFailed, Message: fmt.Sprintf("command failed: %s", stderr)}
}

// Timeout returns a KindTimeout error for an operation that exceeded the
// given number of seconds.
func Timeout(seconds int) *Error {
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf("operation timed out after %ds", seconds)}
}

// Config returns a KindConfig error.
func Config(format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Message: fmt.Sprintf(format, args...)}
}

// IO wraps an I/O failure.
func IO(err error) *Error {
	return &Error{Kind: KindIO, Err: err}
}

// Wrap attaches a kind and message to an underlying error. A nil err
// returns nil.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and
// KindOther otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOther
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// StatusFor returns the HTTP status for any error, defaulting to 500 for
// errors that are not *Error.
func StatusFor(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}

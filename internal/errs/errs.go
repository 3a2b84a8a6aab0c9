// Package errs defines the error taxonomy shared by the supervisor, its
// monitors and the HTTP API.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a short machine-readable error category.
type Kind string

const (
	KindIO              Kind = "io"
	KindInvalidState    Kind = "invalid_state"
	KindMissingArtifact Kind = "missing_artifact"
	KindInternal        Kind = "internal"
	KindNotFound        Kind = "not_found"
	KindProcess         Kind = "process"
	KindTimeout         Kind = "timeout"
)

// Error is a classified error with an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind && (other.Message == "" || other.Message == e.Message)
	}
	return false
}

func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func IO(message string, cause error) *Error { return New(KindIO, message, cause) }

func InvalidState(message string) *Error { return New(KindInvalidState, message, nil) }

func MissingArtifact(path string) *Error {
	return New(KindMissingArtifact, "jar not found: "+path, nil)
}

func Internal(message string, cause error) *Error { return New(KindInternal, message, cause) }

func NotFound(message string) *Error { return New(KindNotFound, message, nil) }

func Process(message string, cause error) *Error { return New(KindProcess, message, cause) }

func Timeout(message string) *Error { return New(KindTimeout, message, nil) }

// KindOf returns the kind of err, KindInternal for unclassified errors and
// the empty kind for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Has reports whether err is classified as kind.
func Has(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

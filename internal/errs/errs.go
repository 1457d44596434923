// Package errs defines the error taxonomy used across an evaluation run.
// Errors carry a Kind so the scheduler and reports can tell configuration
// problems apart from engine failures without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an evaluation error.
type Kind string

const (
	// KindConfig covers missing directories, malformed ground truth and
	// samples without audio. Only the affected node fails.
	KindConfig Kind = "config"
	// KindExternal covers non-zero exits and missing executables.
	KindExternal Kind = "external"
	// KindIntegrity covers an unreadable or corrupt fingerprint store.
	KindIntegrity Kind = "integrity"
	// KindUpstream marks nodes that never ran because a dependency failed.
	KindUpstream Kind = "upstream"
	// KindCancelled marks work interrupted by context cancellation.
	KindCancelled Kind = "cancelled"
)

// Error is the structured error attached to task nodes.
type Error struct {
	Kind    Kind
	Op      string
	Subject string
	// Detail holds diagnostic text such as a subprocess's stderr.
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Subject != "" {
		msg += " " + e.Subject
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// WithDetail sets the diagnostic detail and returns the receiver.
func (e *Error) WithDetail(detail string) *Error {
	e.Detail = detail
	return e
}

// Config creates a configuration error for subject.
func Config(op, subject string, cause error) *Error {
	return &Error{Kind: KindConfig, Op: op, Subject: subject, Cause: cause}
}

// Configf creates a configuration error with a formatted cause.
func Configf(op, subject, format string, args ...any) *Error {
	return Config(op, subject, fmt.Errorf(format, args...))
}

// External creates an external-process error.
func External(op, subject string, cause error) *Error {
	return &Error{Kind: KindExternal, Op: op, Subject: subject, Cause: cause}
}

// Integrity creates a fingerprint-store integrity error.
func Integrity(op, subject string, cause error) *Error {
	return &Error{Kind: KindIntegrity, Op: op, Subject: subject, Cause: cause}
}

// Upstream creates the error recorded on nodes blocked by a failed dependency.
func Upstream(failedID string) *Error {
	return &Error{Kind: KindUpstream, Op: "upstream failed", Subject: failedID}
}

// Cancelled wraps a context error.
func Cancelled(op string, cause error) *Error {
	return &Error{Kind: KindCancelled, Op: op, Cause: cause}
}

// KindOf returns the Kind of err, or "" if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// DetailOf returns the diagnostic detail attached to err, if any.
func DetailOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail
	}
	return ""
}

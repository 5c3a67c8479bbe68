package adapter

import (
	"errors"
	"fmt"
)

// Class categorizes adapter failures for the orchestrator's failure
// handling: connectivity errors are retryable on the next scheduled run,
// format errors need operator intervention, auth errors mean rejected
// credentials.
type Class string

const (
	// ClassConnectivity marks network or upstream availability failures.
	ClassConnectivity Class = "connectivity"
	// ClassFormat marks data that violates the adapter's declared schema.
	ClassFormat Class = "format"
	// ClassAuth marks rejected credentials.
	ClassAuth Class = "auth"
)

// Error is a classified adapter failure.
type Error struct {
	// Class is the failure category.
	Class Class
	// Op names the failing operation, e.g. "fetch users".
	Op string
	// Err is the underlying cause, may be nil for pure schema violations.
	Err error
	// Detail is an optional human readable explanation.
	Detail string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error during %s", e.Class, e.Op)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap exposes the underlying cause to errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewConnectivityError wraps err as a connectivity failure.
func NewConnectivityError(op string, err error) *Error {
	return &Error{Class: ClassConnectivity, Op: op, Err: err}
}

// NewAuthError wraps err as a credentials failure.
func NewAuthError(op string, err error) *Error {
	return &Error{Class: ClassAuth, Op: op, Err: err}
}

// NewFormatError reports a schema violation with a human readable detail.
func NewFormatError(op, detail string) *Error {
	return &Error{Class: ClassFormat, Op: op, Detail: detail}
}

// NewFormatErrorCause wraps err as a schema violation.
func NewFormatErrorCause(op string, err error) *Error {
	return &Error{Class: ClassFormat, Op: op, Err: err}
}

// ClassOf extracts the failure class from an error chain.
func ClassOf(err error) (Class, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Class, true
	}

	return "", false
}

// IsConnectivity reports whether err is a connectivity failure.
func IsConnectivity(err error) bool {
	class, ok := ClassOf(err)
	return ok && class == ClassConnectivity
}

// IsFormat reports whether err is a schema violation.
func IsFormat(err error) bool {
	class, ok := ClassOf(err)
	return ok && class == ClassFormat
}

// IsAuth reports whether err is a credentials failure.
func IsAuth(err error) bool {
	class, ok := ClassOf(err)
	return ok && class == ClassAuth
}

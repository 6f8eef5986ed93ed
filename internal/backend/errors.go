package backend

import (
	"errors"
	"fmt"
)

// Code categorizes storage errors.
type Code string

const (
	// CodeNotFound: record absent for update.
	CodeNotFound Code = "NOT_FOUND"

	// CodeDuplicate: create conflict.
	CodeDuplicate Code = "DUPLICATE"

	// CodeUnavailable: no usable backend remains for a role, or the
	// coordinator is closed.
	CodeUnavailable Code = "BACKEND_UNAVAILABLE"

	// CodeSerialization: payload could not be encoded or decoded.
	CodeSerialization Code = "SERIALIZATION"

	// CodeFanout: a side-effect role failed after the record write
	// succeeded. Logged and counted, never returned from writes.
	CodeFanout Code = "FANOUT_FAILURE"

	// CodeFatal: coordinator invariant violated. Writes stop.
	CodeFatal Code = "FATAL"

	// CodeInvalid: malformed kind, id or argument.
	CodeInvalid Code = "INVALID"
)

// Error is the structured storage error. Match with errors.Is against the
// sentinel values below; matching compares Code only.
type Error struct {
	Code    Code
	Op      string
	Backend string
	Kind    string
	ID      string
	Err     error
}

// Sentinels for errors.Is.
var (
	ErrNotFound      = &Error{Code: CodeNotFound}
	ErrDuplicate     = &Error{Code: CodeDuplicate}
	ErrUnavailable   = &Error{Code: CodeUnavailable}
	ErrSerialization = &Error{Code: CodeSerialization}
	ErrFanout        = &Error{Code: CodeFanout}
	ErrFatal         = &Error{Code: CodeFatal}
	ErrInvalid       = &Error{Code: CodeInvalid}
)

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Kind != "" || e.ID != "" {
		msg += fmt.Sprintf(" (%s:%s)", e.Kind, e.ID)
	}
	if e.Backend != "" {
		msg += fmt.Sprintf(" [backend=%s]", e.Backend)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError builds an Error.
func NewError(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// NotFound reports (kind, id) absent during op.
func NotFound(op, kind, id string) *Error {
	return &Error{Code: CodeNotFound, Op: op, Kind: kind, ID: id}
}

// Duplicate reports (kind, id) already present during op.
func Duplicate(op, kind, id string) *Error {
	return &Error{Code: CodeDuplicate, Op: op, Kind: kind, ID: id}
}

// CodeOf extracts the Code from err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Package errs classifies the failures that short-circuit a request before
// or instead of producing a per-table summary.
package errs

import (
	"errors"
	"fmt"
)

// Kind is the category of a fatal request error.
type Kind int

const (
	KindUnknown Kind = iota
	// KindUnauthenticated means the caller presented no recognizable credentials.
	KindUnauthenticated
	// KindForbidden means the caller is known but is not an administrator.
	KindForbidden
	// KindValidation means the request was rejected before any I/O.
	KindValidation
	// KindConnectivity means an endpoint could not be reached.
	KindConnectivity
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindValidation:
		return "validation"
	case KindConnectivity:
		return "connectivity"
	default:
		return "unknown"
	}
}

// Error carries a Kind alongside the message shown to the caller.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Validation returns a KindValidation error.
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// Connectivity wraps err as a KindConnectivity error.
func Connectivity(err error, format string, args ...any) error {
	return &Error{Kind: KindConnectivity, Msg: fmt.Sprintf(format, args...), Err: err}
}

func Unauthenticated(msg string) error {
	return &Error{Kind: KindUnauthenticated, Msg: msg}
}

func Forbidden(msg string) error {
	return &Error{Kind: KindForbidden, Msg: msg}
}

// KindOf reports the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

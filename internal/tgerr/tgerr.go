// Package tgerr implements the sum-type error model shared by every core
// component: a small enumerated kind, an optional human message, optional
// structured values, an optional source location, and an optional chained
// cause. Errors are themselves storable as Error objects (see
// internal/object.Error); internal/object's FromTgerr and Error.ToTgerr
// convert to and from that representation.
package tgerr

import (
	"errors"
	"fmt"
)

// Kind enumerates the error categories from spec §7. Propagation policy is
// keyed off Kind: Unavailable is retried locally with backoff; NotFound,
// InvalidArgument, and Conflict are returned to the caller immediately.
type Kind string

const (
	NotFound        Kind = "not-found"
	InvalidArgument Kind = "invalid-argument"
	Conflict        Kind = "conflict"
	Unauthorized    Kind = "unauthorized"
	Canceled        Kind = "canceled"
	Deadline        Kind = "deadline"
	Unavailable     Kind = "unavailable"
	Internal        Kind = "internal"
)

// Location is a source location attached to module-runtime errors.
type Location struct {
	Symbol string
	File   string
	Line   int
	Column int
}

// Error is the concrete error type produced by every core package.
type Error struct {
	Kind     Kind
	Message  string
	Values   map[string]string
	Location *Location
	Source   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Source != nil {
		return fmt.Sprintf("%s: %s", msg, e.Source.Error())
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Source
}

// Is matches a Sentinel(kind) target against e.Kind, so
// errors.Is(err, tgerr.Sentinel(tgerr.NotFound)) tests an error's kind.
func (e *Error) Is(target error) bool {
	var k Kind
	if ke, ok := target.(kindSentinel); ok {
		k = ke.kind
	} else {
		return false
	}
	return e != nil && e.Kind == k
}

type kindSentinel struct{ kind Kind }

func (k kindSentinel) Error() string { return string(k.kind) }

// Sentinel returns a comparison target usable with errors.Is to test an
// error's Kind, e.g. errors.Is(err, tgerr.Sentinel(tgerr.NotFound)).
func Sentinel(k Kind) error { return kindSentinel{kind: k} }

// New constructs an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a new error of the given kind.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Source: cause}
}

// WithValue returns a copy of e with an additional structured key/value.
func (e *Error) WithValue(key, value string) *Error {
	n := *e
	n.Values = make(map[string]string, len(e.Values)+1)
	for k, v := range e.Values {
		n.Values[k] = v
	}
	n.Values[key] = value
	return &n
}

// WithLocation returns a copy of e annotated with a source location.
func (e *Error) WithLocation(loc Location) *Error {
	n := *e
	n.Location = &loc
	return &n
}

// KindOf extracts the Kind of err if it (transitively) wraps a *Error,
// defaulting to Internal for opaque errors.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	if err == nil {
		return ""
	}
	return Internal
}

// Retryable reports whether the propagation policy in spec §7 calls for a
// local bounded retry of this error (transient I/O: disk full, reset
// connections, lock contention) rather than returning it to the caller.
func Retryable(err error) bool {
	switch KindOf(err) {
	case Unavailable, Deadline:
		return true
	default:
		return false
	}
}

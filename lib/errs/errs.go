// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package errs gives the error kinds from the core's error handling
// design stable identity. Callers compare with [Is] rather than
// matching on message text; every boundary error is constructed with
// [New] or [Wrap] so a [Kind] survives across package calls.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies the category of an error without tying callers to
// its message text.
type Kind int

const (
	// Internal is the zero value: an error with no assigned kind.
	Internal Kind = iota
	NotFound
	AlreadyExists
	InvalidArgument
	PermissionDenied
	OutOfRange
	IO
	Corrupt
	MalformedObject
	Cancelled
	Unsupported
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case AlreadyExists:
		return "AlreadyExists"
	case InvalidArgument:
		return "InvalidArgument"
	case PermissionDenied:
		return "PermissionDenied"
	case OutOfRange:
		return "OutOfRange"
	case IO:
		return "IO"
	case Corrupt:
		return "Corrupt"
	case MalformedObject:
		return "MalformedObject"
	case Cancelled:
		return "Cancelled"
	case Unsupported:
		return "Unsupported"
	default:
		return "Internal"
	}
}

// kindError wraps an underlying error with a stable Kind. The
// wrapped error is produced by github.com/pkg/errors so %+v on a
// kindError still prints a stack trace from the point New/Wrap was
// called.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }
func (e *kindError) Cause() error  { return e.err }

// New creates an error of the given kind with a formatted message.
// The returned error carries a stack trace (via pkg/errors) captured
// at the call site.
func New(kind Kind, format string, args ...any) error {
	return &kindError{kind: kind, err: errors.Errorf(format, args...)}
}

// Wrap attaches a kind and a message to an existing error, preserving
// it for Unwrap/errors.Is/errors.As. Returns nil if err is nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	wrapped := errors.Wrapf(err, format, args...)
	return &kindError{kind: kind, err: wrapped}
}

// KindOf returns the Kind attached to err, or Internal if err carries
// no Kind (including err == nil, where the zero Kind is meaningless
// but harmless).
func KindOf(err error) Kind {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return Internal
}

// Is reports whether err (or anything it wraps) carries the given
// Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Format delegates to the wrapped pkg/errors value, so %+v prints the
// stack trace captured by New/Wrap.
func (e *kindError) Format(s fmt.State, verb rune) {
	if f, ok := e.err.(fmt.Formatter); ok {
		f.Format(s, verb)
		return
	}
	fmt.Fprint(s, e.err.Error())
}

// ensure kindError satisfies the standard fmt.Formatter contract used
// by pkg/errors for %+v stack traces.
var _ fmt.Formatter = (*kindError)(nil)

var _ fmt.Stringer = Kind(0)

// Copyright 2026 The pyprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package remote reads raw memory and module layout out of another,
// already-running process, without pausing it for longer than a single
// read and without any cooperation from the process itself.
package remote

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies why an operation against a remote process failed.
// Kinds drive the propagation policy described in the error handling
// design: some are local to a single sample, some abort engine
// construction, some are counted by the caller across many samples.
type Kind int

const (
	// ProcessGone means the target exited, or its memory mapping
	// disappeared, or its handle was invalidated.
	ProcessGone Kind = iota
	// PermissionDenied means the OS refused the read outright.
	PermissionDenied
	// BadAddress means the address isn't in any mapped region, or the
	// read crossed a region boundary into unmapped space.
	BadAddress
	// UnreadableBinary means a local executable/library path couldn't
	// be opened or read.
	UnreadableBinary
	// UnsupportedFormat means a local binary isn't ELF, Mach-O, or PE.
	UnsupportedFormat
	// UnsupportedVersion means no layout descriptor matches the
	// detected interpreter version.
	UnsupportedVersion
	// InterpreterNotFound means no loaded module looks like the
	// interpreter.
	InterpreterNotFound
	// RuntimeUninitialized means candidate root addresses exist but
	// none validate yet — the interpreter may still be starting up.
	RuntimeUninitialized
	// LayoutValidationFailed means a decoded struct failed the
	// validation predicate: a torn read, a false positive, or a
	// genuinely corrupt interpreter.
	LayoutValidationFailed
	// TransientRead means an OS-specific short read occurred; the
	// caller's retry policy decides what to do about it.
	TransientRead
)

func (k Kind) String() string {
	switch k {
	case ProcessGone:
		return "ProcessGone"
	case PermissionDenied:
		return "PermissionDenied"
	case BadAddress:
		return "BadAddress"
	case UnreadableBinary:
		return "UnreadableBinary"
	case UnsupportedFormat:
		return "UnsupportedFormat"
	case UnsupportedVersion:
		return "UnsupportedVersion"
	case InterpreterNotFound:
		return "InterpreterNotFound"
	case RuntimeUninitialized:
		return "RuntimeUninitialized"
	case LayoutValidationFailed:
		return "LayoutValidationFailed"
	case TransientRead:
		return "TransientRead"
	default:
		return "Unknown"
	}
}

// Error pairs a Kind with the underlying cause, so that a top-level
// reporter can print the full chain while a caller that only cares
// about the kind can still dispatch on it with As.
type Error struct {
	Kind  Kind
	cause error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// Wrap builds an *Error of the given kind with cause as its chained
// underlying error. cause may be nil.
func Wrap(kind Kind, cause error, msg string) error {
	if cause == nil {
		return &Error{Kind: kind, cause: errors.New(msg)}
	}
	return &Error{Kind: kind, cause: errors.Wrap(cause, msg)}
}

// Is reports whether err (or anything in its cause chain) is a remote
// Error of the given kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

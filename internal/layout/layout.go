// Copyright 2026 The pyprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package layout holds the per-interpreter-version Layout Descriptors
// the engine needs to decode struct fields out of a foreign address
// space: the byte offset and width of every field the walker reads,
// selected by version rather than by a Go type hierarchy (see the
// "Version polymorphism" design note: the engine is polymorphic over
// "which table", never over type identity).
package layout

import "fmt"

// Version identifies which Descriptor set to use. It must be
// discovered (internal/version) before any structured remote read.
type Version struct {
	Major, Minor, Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Less orders versions so callers can pick "the highest that
// validates" per the version detector's tiebreak rule.
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

// Field describes one struct field the engine reads: its byte offset
// from the start of the struct and its width in bytes. A Width of 0
// marks inline, variable-length data (a string's characters, a
// tuple's items) that starts at Offset and has no fixed scalar width.
type Field struct {
	Offset int64
	Width  int64
}

// Struct names the interpreter structs the engine decodes, addressed
// by the spec's own vocabulary rather than a type switch.
type Struct string

const (
	ThreadState      Struct = "thread_state"
	Frame            Struct = "frame"
	Code             Struct = "code"
	InterpreterState Struct = "interpreter_state"
	StringASCII      Struct = "string_ascii"
	StringUnicode    Struct = "string_unicode"
	Tuple            Struct = "tuple"
	Dict             Struct = "dict"
	Type             Struct = "type"
)

// Descriptor gives the total size of one interpreter struct as laid
// out on the target, and the offset/width of each field the engine
// reads out of it.
type Descriptor struct {
	Size   int64
	Fields map[string]Field
}

// Field looks up a named field, panicking if the descriptor doesn't
// describe it — a missing field is a programming error (a version
// table gap), not a runtime condition to recover from.
func (d Descriptor) Field(name string) Field {
	f, ok := d.Fields[name]
	if !ok {
		panic(fmt.Sprintf("layout: struct has no field %q", name))
	}
	return f
}

// HasField reports whether the descriptor describes a field by that
// name, for fields that only exist from some version onward (e.g.
// "f_lasti" moving from the frame object to relative byte offsets
// across interpreter releases).
func (d Descriptor) HasField(name string) bool {
	_, ok := d.Fields[name]
	return ok
}

// Descriptors is one complete set of struct layouts for a single
// interpreter version and pointer width.
type Descriptors struct {
	Version  Version
	PtrWidth int64
	Structs  map[Struct]Descriptor
}

// Struct looks up one of this version's struct descriptors.
func (d *Descriptors) Struct(s Struct) Descriptor {
	desc, ok := d.Structs[s]
	if !ok {
		panic(fmt.Sprintf("layout: version %s has no descriptor for %q", d.Version, s))
	}
	return desc
}

// ptrField builds a Field for a pointer-width slot at offset off.
func ptrField(off int64, ptrWidth int64) Field {
	return Field{Offset: off, Width: ptrWidth}
}

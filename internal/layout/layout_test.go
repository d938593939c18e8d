// Copyright 2026 The pyprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

import (
	"encoding/binary"
	"testing"
)

// writeField and readField model exactly what internal/stackwalk does
// with a Field: write a known value into a byte buffer at its offset,
// then read it back out. Round-tripping every field of every
// registered struct through this pair is the "decode of an encoded
// buffer reproduces the original fixed fields" property.
func writeField(buf []byte, f Field, order binary.ByteOrder, v uint64) {
	switch f.Width {
	case 4:
		order.PutUint32(buf[f.Offset:], uint32(v))
	case 8:
		order.PutUint64(buf[f.Offset:], v)
	default:
		// Width 0 (inline/variable data) and anything else carries no
		// fixed scalar to round-trip.
	}
}

func readField(buf []byte, f Field, order binary.ByteOrder) uint64 {
	switch f.Width {
	case 4:
		return uint64(order.Uint32(buf[f.Offset:]))
	case 8:
		return order.Uint64(buf[f.Offset:])
	default:
		return 0
	}
}

func TestDescriptorsRoundTrip(t *testing.T) {
	order := binary.LittleEndian
	for _, v := range Supported() {
		d := For(v)
		if d == nil {
			t.Fatalf("Supported() listed %s but For(%s) is nil", v, v)
		}
		for name, desc := range d.Structs {
			buf := make([]byte, desc.Size+8) // slack past the struct end
			wantByField := make(map[string]uint64)
			i := uint64(1)
			for fname, f := range desc.Fields {
				if f.Width != 4 && f.Width != 8 {
					continue
				}
				want := i * 0x1111
				i++
				writeField(buf, f, order, want)
				wantByField[fname] = want
			}
			for fname, want := range wantByField {
				got := readField(buf, desc.Field(fname), order)
				if got != want {
					t.Errorf("%s/%s field %q: round-trip got %#x, want %#x", v, name, fname, got, want)
				}
			}
		}
	}
}

func TestDescriptorFieldPanicsOnMissing(t *testing.T) {
	d := For(Version{3, 9, 0})
	if d == nil {
		t.Fatal("no 3.9.0 descriptors registered")
	}
	desc := d.Struct(ThreadState)
	if desc.HasField("does_not_exist") {
		t.Fatal("HasField reported a nonexistent field as present")
	}
	defer func() {
		if recover() == nil {
			t.Error("Field did not panic on a missing field name")
		}
	}()
	desc.Field("does_not_exist")
}

func TestDescriptorsStructPanicsOnMissing(t *testing.T) {
	d := &Descriptors{Version: Version{9, 9, 9}, PtrWidth: 8, Structs: map[Struct]Descriptor{}}
	defer func() {
		if recover() == nil {
			t.Error("Struct did not panic for an unregistered struct kind")
		}
	}()
	d.Struct(ThreadState)
}

func TestVersionLess(t *testing.T) {
	cases := []struct {
		a, b Version
		want bool
	}{
		{Version{3, 7, 0}, Version{3, 8, 0}, true},
		{Version{3, 8, 0}, Version{3, 7, 0}, false},
		{Version{3, 9, 1}, Version{3, 9, 2}, true},
		{Version{3, 9, 0}, Version{3, 9, 0}, false},
		{Version{2, 9, 0}, Version{3, 0, 0}, true},
	}
	for _, c := range cases {
		if got := c.a.Less(c.b); got != c.want {
			t.Errorf("%s.Less(%s) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestSupportedMatchesFor(t *testing.T) {
	for _, v := range Supported() {
		if For(v) == nil {
			t.Errorf("Supported() listed %s but For(%s) returned nil", v, v)
		}
	}
	if For(Version{99, 99, 99}) != nil {
		t.Error("For reported descriptors for an unregistered version")
	}
}

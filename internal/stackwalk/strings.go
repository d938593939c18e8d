// Copyright 2026 The pyprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stackwalk

import (
	"github.com/pyprof/pyprof/internal/layout"
	"github.com/pyprof/pyprof/internal/remote"
)

// asciiBit is bit 0 of a string object's "state" word: set for the
// compact ASCII/Latin-1 layout (one byte per character, inline right
// after the header), clear for the compact unicode layout (a "kind"
// byte selects 1/2/4 bytes per character). Both layouts share the
// same length/state offsets, which is what lets decodeString read the
// discriminant before knowing which one it has.
const asciiBit = 1

// decodeString reads a string object at addr, choosing the ASCII or
// unicode decode path per spec.md §4.6 point 5. An addr of zero
// decodes to the empty string, not an error, since the null-string
// case is handled by callers checking the pointer before decoding.
func (w *Walker) decodeString(addr remote.Address) (string, error) {
	if addr == 0 {
		return "", nil
	}
	asciiDesc := w.desc.Struct(layout.StringASCII)
	state, ok := w.readUint32Field(addr, asciiDesc, "state")
	if !ok {
		return "", remote.Wrap(remote.BadAddress, nil, "string state unreadable at "+addr.String())
	}
	length, ok := w.readUint64Field(addr, asciiDesc, "length")
	if !ok {
		return "", remote.Wrap(remote.BadAddress, nil, "string length unreadable at "+addr.String())
	}
	if length == 0 {
		return "", nil
	}
	if state&asciiBit != 0 {
		return w.decodeASCII(addr, asciiDesc, length)
	}
	return w.decodeUnicode(addr, length)
}

func (w *Walker) decodeASCII(addr remote.Address, d layout.Descriptor, length uint64) (string, error) {
	buf := make([]byte, length)
	if err := w.proc.ReadAt(addr.Add(d.Field("data").Offset), buf); err != nil {
		return "", err
	}
	return latin1ToString(buf), nil
}

// decodeUnicode handles the compact unicode layout, whose "kind" byte
// says whether each character occupies 1, 2, or 4 bytes. Edge case
// (ii): a kind this walker doesn't recognize decodes to "<unknown>"
// rather than failing the whole frame.
func (w *Walker) decodeUnicode(addr remote.Address, length uint64) (string, error) {
	d := w.desc.Struct(layout.StringUnicode)
	kind, ok := w.readUint8Field(addr, d, "kind")
	if !ok {
		return "", remote.Wrap(remote.BadAddress, nil, "string kind unreadable at "+addr.String())
	}
	dataOff := d.Field("data").Offset

	switch kind {
	case 1:
		buf := make([]byte, length)
		if err := w.proc.ReadAt(addr.Add(dataOff), buf); err != nil {
			return "", err
		}
		return latin1ToString(buf), nil
	case 2:
		buf := make([]byte, length*2)
		if err := w.proc.ReadAt(addr.Add(dataOff), buf); err != nil {
			return "", err
		}
		runes := make([]rune, length)
		order := w.proc.ByteOrder()
		for i := range runes {
			runes[i] = rune(order.Uint16(buf[i*2:]))
		}
		return string(runes), nil
	case 4:
		buf := make([]byte, length*4)
		if err := w.proc.ReadAt(addr.Add(dataOff), buf); err != nil {
			return "", err
		}
		runes := make([]rune, length)
		order := w.proc.ByteOrder()
		for i := range runes {
			runes[i] = rune(order.Uint32(buf[i*4:]))
		}
		return string(runes), nil
	default:
		return "<unknown>", nil
	}
}

// decodeBytes reads a bytes object's payload. It is only ever used
// for co_lnotab, so it reuses the ASCII string descriptor's
// length/data offsets: a bytes object and a compact ASCII string
// share the same "count of payload bytes, then inline payload" shape
// in this module's simplified model.
func (w *Walker) decodeBytes(addr remote.Address) ([]byte, error) {
	d := w.desc.Struct(layout.StringASCII)
	length, ok := w.readUint64Field(addr, d, "length")
	if !ok {
		return nil, remote.Wrap(remote.BadAddress, nil, "bytes length unreadable at "+addr.String())
	}
	if length == 0 {
		return nil, nil
	}
	buf := make([]byte, length)
	if err := w.proc.ReadAt(addr.Add(d.Field("data").Offset), buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func latin1ToString(b []byte) string {
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

func (w *Walker) readUint8Field(base remote.Address, d layout.Descriptor, field string) (uint8, bool) {
	if !d.HasField(field) {
		return 0, false
	}
	v, err := w.proc.ReadUint8(base.Add(d.Field(field).Offset))
	return v, err == nil
}

func (w *Walker) readUint32Field(base remote.Address, d layout.Descriptor, field string) (uint32, bool) {
	if !d.HasField(field) {
		return 0, false
	}
	v, err := w.proc.ReadUint32(base.Add(d.Field(field).Offset))
	return v, err == nil
}

func (w *Walker) readUint64Field(base remote.Address, d layout.Descriptor, field string) (uint64, bool) {
	if !d.HasField(field) {
		return 0, false
	}
	v, err := w.proc.ReadUint64(base.Add(d.Field(field).Offset))
	return v, err == nil
}

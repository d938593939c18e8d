// Copyright 2026 The pyprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layout

// All supports versions share the classic frame-object design (a
// PyFrameObject chained by f_back, a PyCodeObject with a co_lnotab
// byte string). The 3.11+ "zero-cost exceptions" frame redesign
// replaced PyFrameObject with an interpreter-private _PyInterpreterFrame
// and co_lnotab with co_linetable's PEP 626 encoding; that is a
// genuinely different struct shape, not just different offsets, and
// is out of scope for this table.
var supported = map[Version]*Descriptors{}

func register(d *Descriptors) {
	supported[d.Version] = d
}

// Supported returns the versions this build has a Descriptor set for,
// in no particular order (map iteration order).
func Supported() []Version {
	vs := make([]Version, 0, len(supported))
	for v := range supported {
		vs = append(vs, v)
	}
	return vs
}

// For returns the Descriptors for an exact version match, or nil.
func For(v Version) *Descriptors {
	return supported[v]
}

// ForMinor returns the Descriptors registered for a given (major,
// minor) family, ignoring patch. The struct layouts this package
// tracks change at minor-version boundaries, essentially never at
// patch boundaries, so every registered entry uses Patch 0 as the
// family's representative and version detection resolves down to
// (major, minor) even though spec.md's detector contract returns a
// full triple.
func ForMinor(major, minor int) *Descriptors {
	for v, d := range supported {
		if v.Major == major && v.Minor == minor {
			return d
		}
	}
	return nil
}

func init() {
	// 3.7: PyGC_Head is a 2-word (prev/next) header preceding every
	// tracked object; PyObject follows immediately after.
	const objHeader37 = 16 // ob_refcnt + ob_type, after the GC head
	register(&Descriptors{
		Version:  Version{3, 7, 0},
		PtrWidth: 8,
		Structs: map[Struct]Descriptor{
			ThreadState: {Size: 160, Fields: map[string]Field{
				"next":      ptrField(0, 8),
				"interp":    ptrField(8, 8),
				"frame":     ptrField(16, 8),
				"thread_id": {Offset: 152, Width: 8},
			}},
			InterpreterState: {Size: 32, Fields: map[string]Field{
				"next":            ptrField(0, 8),
				"tstate_head":     ptrField(8, 8),
				"gil_last_holder": ptrField(16, 8),
			}},
			Frame: {Size: 64, Fields: map[string]Field{
				"ob_base.ob_refcnt": {Offset: 0, Width: 8},
				"ob_base.ob_type":   ptrField(8, 8),
				"f_back":            ptrField(objHeader37, 8),
				"f_code":            ptrField(objHeader37+8, 8),
				"f_lasti":           {Offset: objHeader37 + 40, Width: 4},
			}},
			Code: {Size: 112, Fields: map[string]Field{
				"ob_base.ob_type": ptrField(8, 8),
				"co_firstlineno": {Offset: objHeader37 + 24, Width: 4},
				"co_name":        ptrField(objHeader37+64, 8),
				"co_filename":    ptrField(objHeader37+56, 8),
				"co_lnotab":      ptrField(objHeader37+88, 8),
			}},
			StringASCII: {Size: 48, Fields: map[string]Field{
				"length": {Offset: 16, Width: 8},
				"state":  {Offset: 32, Width: 4},
				"data":   {Offset: 48, Width: 0}, // inline, just past the header
			}},
			StringUnicode: {Size: 72, Fields: map[string]Field{
				"length":      {Offset: 16, Width: 8},
				"state":       {Offset: 32, Width: 4},
				"kind":        {Offset: 33, Width: 1}, // bytes per char: 1, 2, or 4
				"utf8_length": {Offset: 40, Width: 8},
				"utf8":        ptrField(48, 8),
				"data":        {Offset: 64, Width: 0}, // compact: char array starts here, inline
			}},
			Tuple: {Size: 24, Fields: map[string]Field{
				"ob_size": {Offset: 16, Width: 8},
				"items":   {Offset: 24, Width: 0},
			}},
			Dict: {Size: 48, Fields: map[string]Field{
				"ma_used": {Offset: 24, Width: 8},
			}},
			Type: {Size: 96, Fields: map[string]Field{
				"tp_name": ptrField(24, 8),
			}},
		},
	})

	// 3.8: added tstate->trash to PyThreadState ahead of the frame
	// pointer, and grew PyCodeObject with co_posonlyargcount.
	register(&Descriptors{
		Version:  Version{3, 8, 0},
		PtrWidth: 8,
		Structs: map[Struct]Descriptor{
			ThreadState: {Size: 168, Fields: map[string]Field{
				"next":      ptrField(0, 8),
				"interp":    ptrField(8, 8),
				"frame":     ptrField(24, 8),
				"thread_id": {Offset: 160, Width: 8},
			}},
			InterpreterState: {Size: 32, Fields: map[string]Field{
				"next":            ptrField(0, 8),
				"tstate_head":     ptrField(8, 8),
				"gil_last_holder": ptrField(16, 8),
			}},
			Frame: {Size: 64, Fields: map[string]Field{
				"ob_base.ob_refcnt": {Offset: 0, Width: 8},
				"ob_base.ob_type":   ptrField(8, 8),
				"f_back":            ptrField(objHeader37, 8),
				"f_code":            ptrField(objHeader37+8, 8),
				"f_lasti":           {Offset: objHeader37 + 40, Width: 4},
			}},
			Code: {Size: 120, Fields: map[string]Field{
				"ob_base.ob_type": ptrField(8, 8),
				"co_firstlineno": {Offset: objHeader37 + 28, Width: 4},
				"co_name":        ptrField(objHeader37+72, 8),
				"co_filename":    ptrField(objHeader37+64, 8),
				"co_lnotab":      ptrField(objHeader37+96, 8),
			}},
			StringASCII: {Size: 48, Fields: map[string]Field{
				"length": {Offset: 16, Width: 8},
				"state":  {Offset: 32, Width: 4},
				"data":   {Offset: 48, Width: 0},
			}},
			StringUnicode: {Size: 72, Fields: map[string]Field{
				"length":      {Offset: 16, Width: 8},
				"state":       {Offset: 32, Width: 4},
				"kind":        {Offset: 33, Width: 1},
				"utf8_length": {Offset: 40, Width: 8},
				"utf8":        ptrField(48, 8),
				"data":        {Offset: 64, Width: 0},
			}},
			Tuple: {Size: 24, Fields: map[string]Field{
				"ob_size": {Offset: 16, Width: 8},
				"items":   {Offset: 24, Width: 0},
			}},
			Dict: {Size: 48, Fields: map[string]Field{
				"ma_used": {Offset: 24, Width: 8},
			}},
			Type: {Size: 96, Fields: map[string]Field{
				"tp_name": ptrField(24, 8),
			}},
		},
	})

	// 3.9: PyInterpreterState grew a "runtime" back-pointer ahead of
	// tstate_head.
	register(&Descriptors{
		Version:  Version{3, 9, 0},
		PtrWidth: 8,
		Structs: map[Struct]Descriptor{
			ThreadState: {Size: 168, Fields: map[string]Field{
				"next":      ptrField(0, 8),
				"interp":    ptrField(8, 8),
				"frame":     ptrField(24, 8),
				"thread_id": {Offset: 160, Width: 8},
			}},
			InterpreterState: {Size: 40, Fields: map[string]Field{
				"next":            ptrField(0, 8),
				"runtime":         ptrField(8, 8),
				"tstate_head":     ptrField(16, 8),
				"gil_last_holder": ptrField(24, 8),
			}},
			Frame: {Size: 64, Fields: map[string]Field{
				"ob_base.ob_refcnt": {Offset: 0, Width: 8},
				"ob_base.ob_type":   ptrField(8, 8),
				"f_back":            ptrField(objHeader37, 8),
				"f_code":            ptrField(objHeader37+8, 8),
				"f_lasti":           {Offset: objHeader37 + 40, Width: 4},
			}},
			Code: {Size: 120, Fields: map[string]Field{
				"ob_base.ob_type": ptrField(8, 8),
				"co_firstlineno": {Offset: objHeader37 + 28, Width: 4},
				"co_name":        ptrField(objHeader37+72, 8),
				"co_filename":    ptrField(objHeader37+64, 8),
				"co_lnotab":      ptrField(objHeader37+96, 8),
			}},
			StringASCII: {Size: 48, Fields: map[string]Field{
				"length": {Offset: 16, Width: 8},
				"state":  {Offset: 32, Width: 4},
				"data":   {Offset: 48, Width: 0},
			}},
			StringUnicode: {Size: 72, Fields: map[string]Field{
				"length":      {Offset: 16, Width: 8},
				"state":       {Offset: 32, Width: 4},
				"kind":        {Offset: 33, Width: 1},
				"utf8_length": {Offset: 40, Width: 8},
				"utf8":        ptrField(48, 8),
				"data":        {Offset: 64, Width: 0},
			}},
			Tuple: {Size: 24, Fields: map[string]Field{
				"ob_size": {Offset: 16, Width: 8},
				"items":   {Offset: 24, Width: 0},
			}},
			Dict: {Size: 48, Fields: map[string]Field{
				"ma_used": {Offset: 24, Width: 8},
			}},
			Type: {Size: 96, Fields: map[string]Field{
				"tp_name": ptrField(24, 8),
			}},
		},
	})

	// 3.10: co_linetable is still PEP 626's *replacement name* for the
	// lnotab bytes on the wire in 3.10 even though the decode algorithm
	// is unchanged until 3.11's format switch; keep the field named
	// co_lnotab here since the decode rule (spec 4.6 step 4) is the
	// classic one through 3.10.
	register(&Descriptors{
		Version:  Version{3, 10, 0},
		PtrWidth: 8,
		Structs: map[Struct]Descriptor{
			ThreadState: {Size: 176, Fields: map[string]Field{
				"next":      ptrField(0, 8),
				"interp":    ptrField(8, 8),
				"frame":     ptrField(24, 8),
				"thread_id": {Offset: 168, Width: 8},
			}},
			InterpreterState: {Size: 40, Fields: map[string]Field{
				"next":            ptrField(0, 8),
				"runtime":         ptrField(8, 8),
				"tstate_head":     ptrField(16, 8),
				"gil_last_holder": ptrField(24, 8),
			}},
			Frame: {Size: 64, Fields: map[string]Field{
				"ob_base.ob_refcnt": {Offset: 0, Width: 8},
				"ob_base.ob_type":   ptrField(8, 8),
				"f_back":            ptrField(objHeader37, 8),
				"f_code":            ptrField(objHeader37+8, 8),
				"f_lasti":           {Offset: objHeader37 + 40, Width: 4},
			}},
			Code: {Size: 128, Fields: map[string]Field{
				"ob_base.ob_type": ptrField(8, 8),
				"co_firstlineno": {Offset: objHeader37 + 32, Width: 4},
				"co_name":        ptrField(objHeader37+80, 8),
				"co_filename":    ptrField(objHeader37+72, 8),
				"co_lnotab":      ptrField(objHeader37+104, 8),
			}},
			StringASCII: {Size: 48, Fields: map[string]Field{
				"length": {Offset: 16, Width: 8},
				"state":  {Offset: 32, Width: 4},
				"data":   {Offset: 48, Width: 0},
			}},
			StringUnicode: {Size: 72, Fields: map[string]Field{
				"length":      {Offset: 16, Width: 8},
				"state":       {Offset: 32, Width: 4},
				"kind":        {Offset: 33, Width: 1},
				"utf8_length": {Offset: 40, Width: 8},
				"utf8":        ptrField(48, 8),
				"data":        {Offset: 64, Width: 0},
			}},
			Tuple: {Size: 24, Fields: map[string]Field{
				"ob_size": {Offset: 16, Width: 8},
				"items":   {Offset: 24, Width: 0},
			}},
			Dict: {Size: 48, Fields: map[string]Field{
				"ma_used": {Offset: 24, Width: 8},
			}},
			Type: {Size: 96, Fields: map[string]Field{
				"tp_name": ptrField(24, 8),
			}},
		},
	})
}

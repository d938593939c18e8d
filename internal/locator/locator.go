// Copyright 2026 The pyprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package locator finds the remote address of an interpreter's live
// thread-state list: the one piece of global state every other read
// in this module hangs off of. It tries an exported symbol, then a
// BSS symbol, then a heap scan, and validates every candidate the same
// way regardless of where it came from (spec's "Validation-as-typing"
// design note — see the predicate at the bottom of this file).
package locator

import (
	"fmt"

	"github.com/pyprof/pyprof/internal/binutil"
	"github.com/pyprof/pyprof/internal/layout"
	"github.com/pyprof/pyprof/internal/remote"
)

// maxThreadChain bounds the thread-state linked list walked during
// validation, per spec.md §4.5's "(≤ some bound, e.g. 1024)".
const maxThreadChain = 1024

// threadStateSymbol is the exported-symbol name tried first, matching
// CPython's own public name for the current thread-state pointer.
// candidateBSSSymbols lists runtime-struct-relative fallbacks that
// resolve to the same address by a different path (BSS, not dynamic
// export) when the interpreter was built without exporting the first.
const threadStateSymbol = "_PyThreadState_Current"

var candidateBSSSymbols = []string{
	"_PyRuntime",
	"interp_head",
}

// Locator locates and caches an interpreter's thread-state root.
type Locator struct {
	proc *remote.Process
	desc *layout.Descriptors
	mod  *remote.Module
	sym  *binutil.Symbols

	cached remote.Address
	have   bool
}

// New builds a Locator for the interpreter module mod within proc,
// described by desc. sym is the result of parsing mod's on-disk
// binary with internal/binutil — the locator's first two search
// sources are hints read from sym, never trusted without validation.
func New(proc *remote.Process, desc *layout.Descriptors, mod *remote.Module, sym *binutil.Symbols) *Locator {
	return &Locator{proc: proc, desc: desc, mod: mod, sym: sym}
}

// Locate returns the thread-state root address, from cache if the
// cached value still validates, otherwise by re-running the full
// priority chain. This is the entry point both the engine (per sample)
// and the version detector's tiebreak (§4.4 step 3) call.
func (l *Locator) Locate() (remote.Address, error) {
	if l.have && l.Validate(l.cached) {
		return l.cached, nil
	}
	if l.have {
		// The cached root stopped validating: re-read the module map
		// before searching again. On failure the previous list is kept.
		_ = l.proc.RefreshModules()
	}
	l.have = false

	if addr, ok := l.tryExport(); ok {
		l.cached, l.have = addr, true
		return addr, nil
	}
	if addr, ok := l.tryBSS(); ok {
		l.cached, l.have = addr, true
		return addr, nil
	}
	if addr, ok := l.tryHeapScan(); ok {
		l.cached, l.have = addr, true
		return addr, nil
	}
	return 0, remote.Wrap(remote.InterpreterNotFound, nil,
		fmt.Sprintf("no validating thread-state candidate found in %s", l.mod.Path))
}

func (l *Locator) tryExport() (remote.Address, bool) {
	off, ok := l.sym.Exports[threadStateSymbol]
	if !ok {
		return 0, false
	}
	slot := l.mod.Base.Add(int64(off))
	ptr, err := l.proc.ReadPtr(slot)
	if err != nil {
		return 0, false
	}
	addr := remote.Address(ptr)
	if l.Validate(addr) {
		return addr, true
	}
	return 0, false
}

func (l *Locator) tryBSS() (remote.Address, bool) {
	for _, name := range candidateBSSSymbols {
		off, ok := l.sym.BSS[name]
		if !ok {
			continue
		}
		slot := l.mod.Base.Add(int64(off))
		ptr, err := l.proc.ReadPtr(slot)
		if err != nil {
			continue
		}
		addr := remote.Address(ptr)
		if l.Validate(addr) {
			return addr, true
		}
	}
	return 0, false
}

// tryHeapScan enumerates writable, anonymous regions and scans them
// pointer-aligned for a candidate that validates. This is the most
// expensive source and the last resort, matching spec.md §4.5's
// ordering. The first candidate that passes Validate is returned and
// trusted: this is an assumption, not a guarantee, since nothing
// beyond Validate's checks rules out a false positive.
func (l *Locator) tryHeapScan() (remote.Address, bool) {
	ptrSize := l.proc.PtrSize()
	for _, m := range l.proc.Modules() {
		if !m.Anon || m.Perm&remote.Write == 0 {
			continue
		}
		buf := make([]byte, 4096)
		for off := int64(0); off < m.Size; off += int64(len(buf)) {
			n := int64(len(buf))
			if off+n > m.Size {
				n = m.Size - off
			}
			chunk := buf[:n]
			addr := m.Base.Add(off)
			if err := l.proc.ReadAt(addr, chunk); err != nil {
				continue
			}
			for i := int64(0); i+ptrSize <= n; i += ptrSize {
				var ptr uint64
				if ptrSize == 4 {
					ptr = uint64(l.proc.ByteOrder().Uint32(chunk[i:]))
				} else {
					ptr = l.proc.ByteOrder().Uint64(chunk[i:])
				}
				candidate := remote.Address(ptr)
				if candidate == 0 {
					continue
				}
				if l.Validate(candidate) {
					return candidate, true
				}
			}
		}
	}
	return 0, false
}

// Validate implements spec.md §4.5's validation predicate: a
// candidate thread-state address is accepted only if its interpreter
// pointer, thread chain, and (when present) current frame's code
// object all resemble what a real CPython process would have. It is
// shared verbatim by the locator and the version detector's tiebreak.
func (l *Locator) Validate(candidate remote.Address) bool {
	if candidate == 0 {
		return false
	}
	ts := l.desc.Struct(layout.ThreadState)
	is := l.desc.Struct(layout.InterpreterState)

	interpPtr, ok := l.readPtrField(candidate, ts, "interp")
	if !ok || interpPtr == 0 {
		return false
	}
	head, ok := l.readPtrField(remote.Address(interpPtr), is, "tstate_head")
	if !ok {
		return false
	}

	seen := map[remote.Address]bool{}
	cur := remote.Address(head)
	found := false
	for i := 0; cur != 0 && i < maxThreadChain; i++ {
		if seen[cur] {
			return false // cycle: not a valid singly linked list
		}
		seen[cur] = true
		if cur == candidate {
			found = true
		}
		if !l.validateFrame(cur, ts) {
			return false
		}
		next, ok := l.readPtrField(cur, ts, "next")
		if !ok {
			return false
		}
		cur = remote.Address(next)
	}
	return found
}

// validateFrame checks that ts's current frame, if any, has a code
// object whose declared type slot looks like a real type object
// rather than garbage — the closest this module gets to type-checking
// a struct it has no compiler cooperation for.
func (l *Locator) validateFrame(ts remote.Address, tsDesc layout.Descriptor) bool {
	framePtr, ok := l.readPtrField(ts, tsDesc, "frame")
	if !ok {
		return false
	}
	if framePtr == 0 {
		return true // idle thread: no current frame is perfectly valid
	}
	frameDesc := l.desc.Struct(layout.Frame)
	codePtr, ok := l.readPtrField(remote.Address(framePtr), frameDesc, "f_code")
	if !ok || codePtr == 0 {
		return false
	}
	codeDesc := l.desc.Struct(layout.Code)
	typeDesc := l.desc.Struct(layout.Type)
	if !codeDesc.HasField("ob_base.ob_type") {
		// This version's Code descriptor doesn't track ob_type; absence
		// of the field isn't itself a validation failure.
		return true
	}
	typePtr, ok := l.readPtrField(remote.Address(codePtr), codeDesc, "ob_base.ob_type")
	if !ok || typePtr == 0 {
		return false
	}
	tpName, ok := l.readPtrField(remote.Address(typePtr), typeDesc, "tp_name")
	return ok && tpName != 0
}

func (l *Locator) readPtrField(base remote.Address, d layout.Descriptor, field string) (uint64, bool) {
	if !d.HasField(field) {
		return 0, false
	}
	f := d.Field(field)
	addr := base.Add(f.Offset)
	width := f.Width
	if width == 0 {
		width = l.proc.PtrSize()
	}
	switch width {
	case 4:
		v, err := l.proc.ReadUint32(addr)
		return uint64(v), err == nil
	case 8:
		v, err := l.proc.ReadUint64(addr)
		return v, err == nil
	default:
		return 0, false
	}
}

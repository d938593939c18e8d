// Copyright 2026 The pyprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package remote

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// platformProcess is the OS-specific half of Process: a way to read
// bytes out of pid's address space and a way to release whatever
// handle that took. Each OS file (process_linux.go, process_darwin.go,
// process_windows.go) implements this and a matching openPlatform.
type platformProcess interface {
	readAt(addr Address, buf []byte) error
	close() error
}

// Process is a handle on another, already-running process, with a
// cache of its loaded modules. It never writes to the target and
// never pauses it for longer than a single read.
type Process struct {
	pid       int
	ptrSize   int64
	byteOrder binary.ByteOrder
	impl      platformProcess

	modules ModuleList // cached; refreshed by RefreshModules
}

// Open attaches to the already-running process pid. It does not
// retry; callers that need to tolerate a not-yet-initialized target
// should loop at the engine layer (see internal/engine.RetryNew).
func Open(pid int) (*Process, error) {
	impl, err := openPlatform(pid)
	if err != nil {
		return nil, err
	}
	p := &Process{
		pid:       pid,
		ptrSize:   8,
		byteOrder: binary.LittleEndian,
		impl:      impl,
	}
	if err := p.RefreshModules(); err != nil {
		impl.close()
		return nil, err
	}
	return p, nil
}

// Pid returns the target's process id.
func (p *Process) Pid() int { return p.pid }

// PtrSize returns the pointer width, in bytes, to use when decoding a
// pointer-typed field read from this process.
func (p *Process) PtrSize() int64 { return p.ptrSize }

// SetPtrSize overrides the pointer width Open guessed before anything
// had actually inspected the target's binary. Open defaults to 8 since
// it runs before the interpreter module is even found; once
// internal/binutil has parsed that module's symbols, the engine layer
// calls this with the binary's real, possibly 32-bit, width.
func (p *Process) SetPtrSize(n int64) { p.ptrSize = n }

// ByteOrder returns the byte order to use when decoding integers read
// from this process.
func (p *Process) ByteOrder() binary.ByteOrder { return p.byteOrder }

// Close releases the handle on the target. Safe to call more than
// once.
func (p *Process) Close() error {
	if p.impl == nil {
		return nil
	}
	err := p.impl.close()
	p.impl = nil
	return err
}

// Modules returns the cached module list, sorted by base address.
func (p *Process) Modules() ModuleList { return p.modules }

// RefreshModules re-reads the target's loaded-module list. Called at
// construction and by the locator on a cache miss; never on every
// sample (see the Process Map Enumerator contract).
func (p *Process) RefreshModules() error {
	mods, err := platformMaps(p.pid)
	if err != nil {
		return err
	}
	mods.Sort()
	p.modules = mods
	return nil
}

// Containing returns the module mapping addr, if any.
func (p *Process) Containing(addr Address) *Module {
	return p.modules.Containing(addr)
}

// ReadAt reads exactly len(buf) bytes starting at addr. It never
// assumes alignment and never writes to the target.
func (p *Process) ReadAt(addr Address, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	if m := p.Containing(addr); m == nil {
		return Wrap(BadAddress, nil, addr.String()+" is not in any mapped region")
	} else if m.Max().Sub(addr) < int64(len(buf)) {
		return Wrap(BadAddress, nil, addr.String()+" read crosses a mapping boundary")
	}
	if err := p.impl.readAt(addr, buf); err != nil {
		return err
	}
	return nil
}

// ReadUint8 reads a single byte.
func (p *Process) ReadUint8(addr Address) (uint8, error) {
	var b [1]byte
	if err := p.ReadAt(addr, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadUint16 reads a little/big-endian (per ByteOrder) uint16.
func (p *Process) ReadUint16(addr Address) (uint16, error) {
	var b [2]byte
	if err := p.ReadAt(addr, b[:]); err != nil {
		return 0, err
	}
	return p.byteOrder.Uint16(b[:]), nil
}

// ReadUint32 reads a uint32.
func (p *Process) ReadUint32(addr Address) (uint32, error) {
	var b [4]byte
	if err := p.ReadAt(addr, b[:]); err != nil {
		return 0, err
	}
	return p.byteOrder.Uint32(b[:]), nil
}

// ReadUint64 reads a uint64.
func (p *Process) ReadUint64(addr Address) (uint64, error) {
	var b [8]byte
	if err := p.ReadAt(addr, b[:]); err != nil {
		return 0, err
	}
	return p.byteOrder.Uint64(b[:]), nil
}

// ReadPtr reads a pointer-width unsigned integer and returns it as an
// Address.
func (p *Process) ReadPtr(addr Address) (Address, error) {
	switch p.ptrSize {
	case 4:
		v, err := p.ReadUint32(addr)
		return Address(v), err
	case 8:
		v, err := p.ReadUint64(addr)
		return Address(v), err
	default:
		return 0, errors.Errorf("unsupported pointer size %d", p.ptrSize)
	}
}

// ReadCString reads a NUL-terminated string starting at addr, up to a
// generous bound, to defend against a corrupt or unterminated pointer.
func (p *Process) ReadCString(addr Address) (string, error) {
	const maxLen = 4096
	const chunk = 64
	var buf []byte
	for len(buf) < maxLen {
		tmp := make([]byte, chunk)
		if err := p.ReadAt(addr.Add(int64(len(buf))), tmp); err != nil {
			if len(buf) > 0 {
				break
			}
			return "", err
		}
		if i := indexByte(tmp, 0); i >= 0 {
			buf = append(buf, tmp[:i]...)
			return string(buf), nil
		}
		buf = append(buf, tmp...)
	}
	return string(buf), nil
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

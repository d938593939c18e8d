// Copyright 2026 The pyprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package remote

import "encoding/binary"

// fakeProcess backs a Process with an in-memory byte map instead of a
// real OS handle, so packages built on top of Process (locator,
// stackwalk) can unit test against a synthetic target without a real
// interpreter to attach to.
type fakeProcess struct {
	mem map[Address]byte
}

// readAt fills buf from the fake image, treating any byte never
// written by SetBytes/SetPtr as zero. Real target memory is never
// sparse like this, but zero-filling (rather than erroring on unset
// bytes) lets a test build just the handful of fields a scenario
// cares about instead of an entire synthetic address space.
func (f *fakeProcess) readAt(addr Address, buf []byte) error {
	for i := range buf {
		buf[i] = f.mem[addr.Add(int64(i))]
	}
	return nil
}

func (f *fakeProcess) close() error { return nil }

// NewFake builds a Process backed by an in-memory image instead of a
// live OS process, for tests in this module's other packages. mods
// describes the fake address space's layout; writes made with
// SetBytes become visible to every subsequent ReadAt.
func NewFake(ptrSize int64, order binary.ByteOrder, mods ModuleList) *Process {
	mods.Sort()
	return &Process{
		pid:       -1,
		ptrSize:   ptrSize,
		byteOrder: order,
		impl:      &fakeProcess{mem: map[Address]byte{}},
		modules:   mods,
	}
}

// SetBytes writes b into p's fake memory image starting at addr. Only
// valid on a Process built with NewFake.
func (p *Process) SetBytes(addr Address, b []byte) {
	fp := p.impl.(*fakeProcess)
	for i, c := range b {
		fp.mem[addr.Add(int64(i))] = c
	}
}

// SetPtr writes a pointer-width value into p's fake memory image at
// addr, using p's own pointer size and byte order.
func (p *Process) SetPtr(addr Address, v uint64) {
	buf := make([]byte, p.ptrSize)
	switch p.ptrSize {
	case 4:
		p.byteOrder.PutUint32(buf, uint32(v))
	case 8:
		p.byteOrder.PutUint64(buf, v)
	}
	p.SetBytes(addr, buf)
}

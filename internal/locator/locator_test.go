// Copyright 2026 The pyprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package locator

import (
	"encoding/binary"
	"testing"

	"github.com/pyprof/pyprof/internal/binutil"
	"github.com/pyprof/pyprof/internal/layout"
	"github.com/pyprof/pyprof/internal/remote"
)

// buildValidTarget lays out one interpreter-state, one thread-state,
// one frame, one code object, and one type object in a fake process's
// memory, wired together exactly as Validate expects, and returns the
// thread-state's address.
func buildValidTarget(t *testing.T, p *remote.Process, desc *layout.Descriptors) remote.Address {
	t.Helper()
	const (
		interpAddr remote.Address = 0x2000
		tstateAddr remote.Address = 0x3000
		frameAddr  remote.Address = 0x4000
		codeAddr   remote.Address = 0x5000
		typeAddr   remote.Address = 0x6000
	)

	is := desc.Struct(layout.InterpreterState)
	p.SetPtr(interpAddr.Add(is.Field("tstate_head").Offset), uint64(tstateAddr))

	ts := desc.Struct(layout.ThreadState)
	p.SetPtr(tstateAddr.Add(ts.Field("interp").Offset), uint64(interpAddr))
	p.SetPtr(tstateAddr.Add(ts.Field("next").Offset), 0)
	p.SetPtr(tstateAddr.Add(ts.Field("frame").Offset), uint64(frameAddr))

	frame := desc.Struct(layout.Frame)
	p.SetPtr(frameAddr.Add(frame.Field("f_code").Offset), uint64(codeAddr))

	code := desc.Struct(layout.Code)
	p.SetPtr(codeAddr.Add(code.Field("ob_base.ob_type").Offset), uint64(typeAddr))

	typ := desc.Struct(layout.Type)
	p.SetPtr(typeAddr.Add(typ.Field("tp_name").Offset), 0xdead)

	return tstateAddr
}

// newFakeAddressSpace returns a Process whose module list is one big
// anonymous, writable region spanning every address these tests poke
// at, so Process.ReadAt's containment check doesn't reject them.
func newFakeAddressSpace(interpMod remote.ModuleList) *remote.Process {
	mods := remote.ModuleList{
		{Path: "", Base: 0x2000, Size: 0x10000, Perm: remote.Read | remote.Write, Anon: true, Write: true},
	}
	mods = append(mods, interpMod...)
	return remote.NewFake(8, binary.LittleEndian, mods)
}

func newTestLocator(t *testing.T, p *remote.Process, desc *layout.Descriptors) *Locator {
	t.Helper()
	mod := &remote.Module{Path: "/usr/bin/python3.9", Base: 0x1000, Size: 0x1000}
	sym := &binutil.Symbols{
		Exports: map[string]uint64{threadStateSymbol: 0x100},
		BSS:     map[string]uint64{},
	}
	return New(p, desc, mod, sym)
}

func TestValidateAcceptsWellFormedTarget(t *testing.T) {
	desc := layout.For(layout.Version{3, 9, 0})
	p := newFakeAddressSpace(nil)
	tstate := buildValidTarget(t, p, desc)
	l := newTestLocator(t, p, desc)

	if !l.Validate(tstate) {
		t.Fatal("Validate rejected a well-formed synthetic thread-state")
	}
}

func TestValidateRejectsCycle(t *testing.T) {
	desc := layout.For(layout.Version{3, 9, 0})
	p := newFakeAddressSpace(nil)
	tstate := buildValidTarget(t, p, desc)

	ts := desc.Struct(layout.ThreadState)
	// Make the thread-state point to itself as "next": an infinite
	// cycle the validator must detect and reject, not spin on.
	p.SetPtr(tstate.Add(ts.Field("next").Offset), uint64(tstate))

	l := newTestLocator(t, p, desc)
	if l.Validate(tstate) {
		t.Fatal("Validate accepted a cyclic thread-state chain")
	}
}

func TestValidateRejectsDanglingInterp(t *testing.T) {
	desc := layout.For(layout.Version{3, 9, 0})
	p := newFakeAddressSpace(nil)
	const tstateAddr remote.Address = 0x3000
	ts := desc.Struct(layout.ThreadState)
	p.SetPtr(tstateAddr.Add(ts.Field("interp").Offset), 0)

	l := newTestLocator(t, p, desc)
	if l.Validate(tstateAddr) {
		t.Fatal("Validate accepted a thread-state with a nil interpreter pointer")
	}
}

func TestValidateAcceptsIdleThread(t *testing.T) {
	desc := layout.For(layout.Version{3, 9, 0})
	p := newFakeAddressSpace(nil)
	tstate := buildValidTarget(t, p, desc)

	ts := desc.Struct(layout.ThreadState)
	p.SetPtr(tstate.Add(ts.Field("frame").Offset), 0) // idle: no current frame

	l := newTestLocator(t, p, desc)
	if !l.Validate(tstate) {
		t.Fatal("Validate rejected an idle thread (nil frame is valid)")
	}
}

func TestLocateUsesExportedSymbol(t *testing.T) {
	desc := layout.For(layout.Version{3, 9, 0})
	p := newFakeAddressSpace(remote.ModuleList{
		{Path: "/usr/bin/python3.9", Base: 0x1000, Size: 0x1000},
	})
	tstate := buildValidTarget(t, p, desc)

	mod := &remote.Module{Path: "/usr/bin/python3.9", Base: 0x1000, Size: 0x1000}
	sym := &binutil.Symbols{
		Exports: map[string]uint64{threadStateSymbol: 0x100},
		BSS:     map[string]uint64{},
	}
	p.SetPtr(mod.Base.Add(0x100), uint64(tstate))

	l := New(p, desc, mod, sym)
	got, err := l.Locate()
	if err != nil {
		t.Fatalf("Locate failed: %v", err)
	}
	if got != tstate {
		t.Errorf("Locate returned %s, want %s", got, tstate)
	}
}

func TestLocateFailsWithNoCandidates(t *testing.T) {
	desc := layout.For(layout.Version{3, 9, 0})
	p := newFakeAddressSpace(nil)
	mod := &remote.Module{Path: "/usr/bin/python3.9", Base: 0x1000, Size: 0x1000}
	sym := &binutil.Symbols{Exports: map[string]uint64{}, BSS: map[string]uint64{}}

	l := New(p, desc, mod, sym)
	if _, err := l.Locate(); err == nil {
		t.Fatal("Locate succeeded with no valid export, BSS, or heap candidate")
	} else if !remote.Is(err, remote.InterpreterNotFound) {
		t.Errorf("Locate error = %v, want Kind InterpreterNotFound", err)
	}
}

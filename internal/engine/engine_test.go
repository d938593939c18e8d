// Copyright 2026 The pyprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package engine

import (
	"encoding/binary"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/pyprof/pyprof/internal/binutil"
	"github.com/pyprof/pyprof/internal/layout"
	"github.com/pyprof/pyprof/internal/remote"
)

// threadStateSymbolOffset is an arbitrary offset inside the fake
// module at which attach's exported-symbol lookup expects to find a
// pointer to the validated thread-state.
const threadStateSymbolOffset = 0x100

// buildAttachableTarget wires up a full interpreter-state, one
// thread-state, one frame, and one code object in p's fake memory,
// and writes the thread-state's address into the module's exported
// "_PyThreadState_Current" slot, so attach's locator can find it
// without a heap scan.
func buildAttachableTarget(p *remote.Process, desc *layout.Descriptors, mod *remote.Module) {
	const (
		interpAddr remote.Address = 0x3000
		tstateAddr remote.Address = 0x4000
		frameAddr  remote.Address = 0x5000
		codeAddr   remote.Address = 0x6000
		typeAddr   remote.Address = 0x7000
		nameAddr   remote.Address = 0x8000
		fileAddr   remote.Address = 0x9000
	)

	is := desc.Struct(layout.InterpreterState)
	p.SetPtr(interpAddr.Add(is.Field("tstate_head").Offset), uint64(tstateAddr))

	ts := desc.Struct(layout.ThreadState)
	p.SetPtr(tstateAddr.Add(ts.Field("interp").Offset), uint64(interpAddr))
	p.SetPtr(tstateAddr.Add(ts.Field("next").Offset), 0)
	p.SetPtr(tstateAddr.Add(ts.Field("frame").Offset), uint64(frameAddr))
	p.SetPtr(tstateAddr.Add(ts.Field("thread_id").Offset), 7)

	frame := desc.Struct(layout.Frame)
	p.SetPtr(frameAddr.Add(frame.Field("f_code").Offset), uint64(codeAddr))
	p.SetPtr(frameAddr.Add(frame.Field("f_back").Offset), 0)

	code := desc.Struct(layout.Code)
	p.SetPtr(codeAddr.Add(code.Field("ob_base.ob_type").Offset), uint64(typeAddr))
	p.SetPtr(codeAddr.Add(code.Field("co_name").Offset), uint64(nameAddr))
	p.SetPtr(codeAddr.Add(code.Field("co_filename").Offset), uint64(fileAddr))

	typ := desc.Struct(layout.Type)
	p.SetPtr(typeAddr.Add(typ.Field("tp_name").Offset), 0xdead)

	ascii := desc.Struct(layout.StringASCII)
	writeName := func(addr remote.Address, s string) {
		p.SetPtr(addr.Add(ascii.Field("length").Offset), uint64(len(s)))
		// Bit 0 of the state word marks the compact ASCII layout.
		var state [4]byte
		p.ByteOrder().PutUint32(state[:], 1)
		p.SetBytes(addr.Add(ascii.Field("state").Offset), state[:])
		p.SetBytes(addr.Add(ascii.Field("data").Offset), []byte(s))
	}
	writeName(nameAddr, "work")
	writeName(fileAddr, "job.py")

	p.SetPtr(mod.Base.Add(threadStateSymbolOffset), uint64(tstateAddr))
}

func newAttachableProcess() (*remote.Process, *remote.Module) {
	mod := &remote.Module{Path: "/opt/python3.9", Base: 0x1000, Size: 0x1000, IsInterpreter: true}
	mods := remote.ModuleList{
		mod,
		{Path: "", Base: 0x2000, Size: 0x10000, Perm: remote.Read | remote.Write, Anon: true, Write: true},
	}
	p := remote.NewFake(8, binary.LittleEndian, mods)
	return p, mod
}

func fakeSymbolParser(sym *binutil.Symbols) symbolParser {
	return func(path string) (*binutil.Symbols, error) { return sym, nil }
}

func TestAttachSucceedsWithValidTarget(t *testing.T) {
	p, mod := newAttachableProcess()
	desc := layout.For(layout.Version{3, 9, 0})
	buildAttachableTarget(p, desc, mod)

	sym := &binutil.Symbols{
		Exports: map[string]uint64{"_PyThreadState_Current": threadStateSymbolOffset},
		BSS:     map[string]uint64{},
	}
	eng, err := attach(p, fakeSymbolParser(sym), logrus.NewEntry(logrus.New()))
	if err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	if eng.Version() != (layout.Version{3, 9, 0}) {
		t.Errorf("Version() = %v, want {3 9 0}", eng.Version())
	}
}

func TestAttachNoInterpreterModule(t *testing.T) {
	mods := remote.ModuleList{
		{Path: "/usr/bin/bash", Base: 0x1000, Size: 0x1000},
	}
	p := remote.NewFake(8, binary.LittleEndian, mods)
	sym := &binutil.Symbols{}
	_, err := attach(p, fakeSymbolParser(sym), logrus.NewEntry(logrus.New()))
	if !remote.Is(err, remote.InterpreterNotFound) {
		t.Fatalf("attach error = %v, want InterpreterNotFound", err)
	}
}

func TestAttachSymbolParseFailure(t *testing.T) {
	mods := remote.ModuleList{
		{Path: "/opt/python3.9", Base: 0x1000, Size: 0x1000, IsInterpreter: true},
	}
	p := remote.NewFake(8, binary.LittleEndian, mods)
	parse := func(path string) (*binutil.Symbols, error) {
		return nil, remote.Wrap(remote.UnreadableBinary, nil, "can't read "+path)
	}
	_, err := attach(p, parse, logrus.NewEntry(logrus.New()))
	if !remote.Is(err, remote.UnreadableBinary) {
		t.Fatalf("attach error = %v, want UnreadableBinary", err)
	}
}

func TestAttachRejects32BitInterpreter(t *testing.T) {
	mods := remote.ModuleList{
		{Path: "/opt/python3.9", Base: 0x1000, Size: 0x1000, IsInterpreter: true},
	}
	p := remote.NewFake(8, binary.LittleEndian, mods)
	sym := &binutil.Symbols{PointerSize: 4}
	_, err := attach(p, fakeSymbolParser(sym), logrus.NewEntry(logrus.New()))
	if !remote.Is(err, remote.UnsupportedFormat) {
		t.Fatalf("attach error = %v, want UnsupportedFormat", err)
	}
	if got := p.PtrSize(); got != 4 {
		t.Errorf("PtrSize() after a 32-bit binary was parsed = %d, want 4", got)
	}
}

func TestGetStackTracesWalksFromLocatedThread(t *testing.T) {
	p, mod := newAttachableProcess()
	desc := layout.For(layout.Version{3, 9, 0})
	buildAttachableTarget(p, desc, mod)

	sym := &binutil.Symbols{
		Exports: map[string]uint64{"_PyThreadState_Current": threadStateSymbolOffset},
		BSS:     map[string]uint64{},
	}
	eng, err := attach(p, fakeSymbolParser(sym), logrus.NewEntry(logrus.New()))
	if err != nil {
		t.Fatalf("attach failed: %v", err)
	}

	traces, err := eng.GetStackTraces()
	if err != nil {
		t.Fatalf("GetStackTraces failed: %v", err)
	}
	if len(traces) != 1 {
		t.Fatalf("len(traces) = %d, want 1", len(traces))
	}
	if traces[0].ThreadID != 7 {
		t.Errorf("ThreadID = %d, want 7", traces[0].ThreadID)
	}
	if len(traces[0].Frames) != 1 || traces[0].Frames[0].FunctionName != "work" {
		t.Fatalf("Frames = %+v, want one frame named %q", traces[0].Frames, "work")
	}
}

func TestExitToleranceTripsAfterConsecutiveExits(t *testing.T) {
	tol := NewExitTolerance(3)
	gone := remote.Wrap(remote.ProcessGone, nil, "process exited")
	other := remote.Wrap(remote.BadAddress, nil, "torn read")

	if tol.Observe(gone) {
		t.Fatal("tripped after first ProcessGone, want tolerance of 3")
	}
	if tol.Observe(other) {
		t.Fatal("a non-ProcessGone error should not count toward the streak")
	}
	if tol.Observe(gone) || tol.Observe(gone) {
		t.Fatal("tripped too early")
	}
	if !tol.Observe(gone) {
		t.Fatal("expected tolerance to trip on the 3rd consecutive ProcessGone after the reset")
	}
}

func TestExitToleranceResetsOnSuccess(t *testing.T) {
	tol := NewExitTolerance(2)
	gone := remote.Wrap(remote.ProcessGone, nil, "process exited")
	tol.Observe(gone)
	tol.Observe(nil)
	if tol.Observe(gone) {
		t.Fatal("a success should have reset the streak, so a single following ProcessGone must not trip")
	}
}

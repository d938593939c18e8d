// Copyright 2026 The pyprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stackwalk turns a located thread-state root into the stack
// traces of every thread in an interpreter, by walking the same
// linked structures a debugger would if it could stop the world: the
// thread-state list, each thread's frame chain, and the code object
// each frame points at. It never keeps a remote pointer across
// samples — every struct is decoded into a local value and discarded.
package stackwalk

import (
	"strings"

	"github.com/pyprof/pyprof/internal/layout"
	"github.com/pyprof/pyprof/internal/remote"
)

// maxFrameDepth bounds a single thread's frame chain walk, per
// spec.md §4.6's "bounded by a maximum depth (e.g. 128) to defend
// against corrupt cycles".
const maxFrameDepth = 128

// maxThreadChain bounds the thread-state list walk itself. The spec
// only states a bound for frames; this mirrors internal/locator's
// identical defensive cap on the same linked list.
const maxThreadChain = 1024

// StackFrame is one entry in a StackTrace, decoded from a frame and
// its code object.
type StackFrame struct {
	FunctionName  string
	FileName      string
	ShortFileName string // FileName's substring after the last path separator
	Line          int
}

// StackTrace is one thread's captured state at sample time. Frames
// are stored innermost-last, per the Data Model contract; the walk
// itself visits them innermost-first and reverses before returning.
type StackTrace struct {
	ThreadID uint64
	Active   bool
	OwnsGIL  bool
	Frames   []StackFrame
}

// Walker decodes stack traces out of a process using one interpreter
// version's layout descriptors.
type Walker struct {
	proc *remote.Process
	desc *layout.Descriptors
}

// New builds a Walker over proc using desc's struct layouts.
func New(proc *remote.Process, desc *layout.Descriptors) *Walker {
	return &Walker{proc: proc, desc: desc}
}

// Walk implements spec.md §4.6: from the interpreter-state at root,
// follow tstate_head/next to every thread, and each thread's frame
// chain via f_back, decoding function name, file, and current line
// for every frame.
func (w *Walker) Walk(root remote.Address) ([]StackTrace, error) {
	is := w.desc.Struct(layout.InterpreterState)
	ts := w.desc.Struct(layout.ThreadState)

	head, ok := w.readPtrField(root, is, "tstate_head")
	if !ok {
		return nil, remote.Wrap(remote.BadAddress, nil, "tstate_head unreadable at "+root.String())
	}
	gilHolder, _ := w.readPtrField(root, is, "gil_last_holder")

	var traces []StackTrace
	seen := map[remote.Address]bool{}
	cur := remote.Address(head)
	for i := 0; cur != 0 && i < maxThreadChain; i++ {
		if seen[cur] {
			break
		}
		seen[cur] = true

		tid, _ := w.readPtrField(cur, ts, "thread_id")
		framePtr, _ := w.readPtrField(cur, ts, "frame")

		// Edge case (iii): a pointer that fails containing() aborts
		// this thread's walk, not the whole sample; frames gathered
		// before the failure are kept.
		frames, _ := w.walkFrames(remote.Address(framePtr))
		reverseFrames(frames)

		owns := gilHolder != 0 && remote.Address(gilHolder) == cur
		traces = append(traces, StackTrace{
			ThreadID: tid,
			Active:   owns && len(frames) > 0,
			OwnsGIL:  owns,
			Frames:   frames,
		})

		next, ok := w.readPtrField(cur, ts, "next")
		if !ok {
			break
		}
		cur = remote.Address(next)
	}
	return traces, nil
}

// walkFrames walks one thread's frame chain innermost-first, bounded
// by maxFrameDepth and a cycle guard.
func (w *Walker) walkFrames(frame remote.Address) ([]StackFrame, error) {
	frameDesc := w.desc.Struct(layout.Frame)
	var frames []StackFrame
	seen := map[remote.Address]bool{}
	cur := frame
	for i := 0; cur != 0 && i < maxFrameDepth; i++ {
		if seen[cur] {
			break
		}
		seen[cur] = true

		codePtr, ok := w.readPtrField(cur, frameDesc, "f_code")
		if !ok {
			return frames, remote.Wrap(remote.BadAddress, nil, "frame "+cur.String()+" unreadable")
		}
		if codePtr != 0 { // edge case (i): null code means skip this frame, not abort
			if sf, err := w.decodeFrame(cur, remote.Address(codePtr), frameDesc); err == nil {
				frames = append(frames, sf)
			}
		}

		next, ok := w.readPtrField(cur, frameDesc, "f_back")
		if !ok {
			break
		}
		cur = remote.Address(next)
	}
	return frames, nil
}

func (w *Walker) decodeFrame(frameAddr, codeAddr remote.Address, frameDesc layout.Descriptor) (StackFrame, error) {
	codeDesc := w.desc.Struct(layout.Code)

	lasti, ok := w.readInt32Field(frameAddr, frameDesc, "f_lasti")
	if !ok {
		return StackFrame{}, remote.Wrap(remote.BadAddress, nil, "f_lasti unreadable")
	}
	firstLine, ok := w.readInt32Field(codeAddr, codeDesc, "co_firstlineno")
	if !ok {
		return StackFrame{}, remote.Wrap(remote.BadAddress, nil, "co_firstlineno unreadable")
	}

	name := "<unknown>"
	if namePtr, ok := w.readPtrField(codeAddr, codeDesc, "co_name"); ok && namePtr != 0 {
		if s, err := w.decodeString(remote.Address(namePtr)); err == nil {
			name = s
		}
	}
	file := "<unknown>"
	if filePtr, ok := w.readPtrField(codeAddr, codeDesc, "co_filename"); ok && filePtr != 0 {
		if s, err := w.decodeString(remote.Address(filePtr)); err == nil {
			file = s
		}
	}
	var lnotab []byte
	if lnotabPtr, ok := w.readPtrField(codeAddr, codeDesc, "co_lnotab"); ok && lnotabPtr != 0 {
		lnotab, _ = w.decodeBytes(remote.Address(lnotabPtr))
	}

	return StackFrame{
		FunctionName:  name,
		FileName:      file,
		ShortFileName: shortFileName(file),
		Line:          decodeLnotab(lnotab, int(firstLine), int(lasti)),
	}, nil
}

// shortFileName implements spec.md §4.6 point 6: the substring after
// the last path separator, tolerating both / and \ since a target's
// recorded source paths may use either.
func shortFileName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

// decodeLnotab implements the classic (addr_incr, signed line_incr)
// pair-table rule: walk pairs accumulating a bytecode address, and
// stop as soon as that address exceeds lasti, leaving line at the
// value current for that bytecode offset.
func decodeLnotab(lnotab []byte, firstLine, lasti int) int {
	line := firstLine
	addr := 0
	for i := 0; i+1 < len(lnotab); i += 2 {
		addr += int(lnotab[i])
		if addr > lasti {
			break
		}
		line += int(int8(lnotab[i+1]))
	}
	return line
}

func reverseFrames(f []StackFrame) {
	for i, j := 0, len(f)-1; i < j; i, j = i+1, j-1 {
		f[i], f[j] = f[j], f[i]
	}
}

func (w *Walker) readPtrField(base remote.Address, d layout.Descriptor, field string) (uint64, bool) {
	if !d.HasField(field) {
		return 0, false
	}
	f := d.Field(field)
	width := f.Width
	if width == 0 {
		width = w.proc.PtrSize()
	}
	addr := base.Add(f.Offset)
	switch width {
	case 4:
		v, err := w.proc.ReadUint32(addr)
		return uint64(v), err == nil
	case 8:
		v, err := w.proc.ReadUint64(addr)
		return v, err == nil
	default:
		return 0, false
	}
}

func (w *Walker) readInt32Field(base remote.Address, d layout.Descriptor, field string) (int32, bool) {
	if !d.HasField(field) {
		return 0, false
	}
	f := d.Field(field)
	v, err := w.proc.ReadUint32(base.Add(f.Offset))
	return int32(v), err == nil
}

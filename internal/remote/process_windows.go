// Copyright 2026 The pyprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build windows

package remote

import (
	"fmt"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

// windowsProcess reads another process's memory through a handle
// opened with the access rights ReadProcessMemory/VirtualQueryEx need.
// No cgo is required: golang.org/x/sys/windows exposes these as plain
// syscalls.
type windowsProcess struct {
	pid    uint32
	handle windows.Handle
}

func openPlatform(pid int) (platformProcess, error) {
	access := uint32(windows.PROCESS_VM_READ | windows.PROCESS_QUERY_INFORMATION)
	h, err := windows.OpenProcess(access, false, uint32(pid))
	if err != nil {
		if errors.Is(err, windows.ERROR_ACCESS_DENIED) {
			return nil, Wrap(PermissionDenied, err, fmt.Sprintf("opening process %d", pid))
		}
		return nil, Wrap(ProcessGone, err, fmt.Sprintf("opening process %d", pid))
	}
	return &windowsProcess{pid: uint32(pid), handle: h}, nil
}

func (w *windowsProcess) readAt(addr Address, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	var nread uintptr
	err := windows.ReadProcessMemory(w.handle, uintptr(addr), &buf[0], uintptr(len(buf)), &nread)
	if err != nil {
		return Wrap(BadAddress, err, addr.String())
	}
	if int(nread) != len(buf) {
		return Wrap(TransientRead, nil, fmt.Sprintf("short read at %s: got %d of %d bytes", addr, nread, len(buf)))
	}
	return nil
}

func (w *windowsProcess) close() error {
	return windows.CloseHandle(w.handle)
}

// platformMaps enumerates pid's loaded modules with the toolhelp
// snapshot API (CreateToolhelp32Snapshot + Module32First/Next), the
// standard non-debugger way to list a Windows process's modules.
func platformMaps(pid int) (ModuleList, error) {
	snap, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPMODULE|windows.TH32CS_SNAPMODULE32, uint32(pid))
	if err != nil {
		if errors.Is(err, windows.ERROR_ACCESS_DENIED) {
			return nil, Wrap(PermissionDenied, err, fmt.Sprintf("snapshotting process %d modules", pid))
		}
		return nil, Wrap(ProcessGone, err, fmt.Sprintf("snapshotting process %d modules", pid))
	}
	defer windows.CloseHandle(snap)

	var mods ModuleList
	var me windows.ModuleEntry32
	me.Size = uint32(unsafe.Sizeof(me))
	if err := windows.Module32First(snap, &me); err != nil {
		return nil, Wrap(ProcessGone, err, "no modules found")
	}
	for {
		path := windows.UTF16ToString(me.ExePath[:])
		mods = append(mods, &Module{
			Path:                 path,
			Base:                 Address(uintptr(unsafe.Pointer(me.ModBaseAddr))),
			Size:                 int64(me.ModBaseSize),
			Perm:                 Read | Write | Exec,
			IsInterpreter:        LooksLikeInterpreter(path),
			IsInterpreterLibrary: LooksLikeInterpreterLibrary(path),
		})
		if err := windows.Module32Next(snap, &me); err != nil {
			break
		}
	}
	return mods, nil
}

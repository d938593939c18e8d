// Copyright 2026 The pyprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package remote

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// linuxProcess reads another process's memory via process_vm_readv,
// falling back to pread on /proc/[pid]/mem when the kernel refuses
// process_vm_readv (older kernels, or a restrictive Yama ptrace-scope
// that still allows the /proc/mem path because the caller is a
// relative, e.g. the parent of a launched target).
type linuxProcess struct {
	pid int
	mem *os.File // lazily opened /proc/[pid]/mem, used as fallback
}

func openPlatform(pid int) (platformProcess, error) {
	if err := unix.Kill(pid, 0); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil, Wrap(ProcessGone, err, fmt.Sprintf("process %d not found", pid))
		}
		if errors.Is(err, unix.EPERM) {
			return nil, Wrap(PermissionDenied, err, fmt.Sprintf("cannot signal process %d", pid))
		}
		return nil, Wrap(ProcessGone, err, fmt.Sprintf("process %d unavailable", pid))
	}
	return &linuxProcess{pid: pid}, nil
}

func (l *linuxProcess) readAt(addr Address, buf []byte) error {
	local := []unix.Iovec{{Base: &buf[0], Len: uint64(len(buf))}}
	remoteIov := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(buf)}}
	n, err := unix.ProcessVMReadv(l.pid, local, remoteIov, 0)
	if err == nil && n == len(buf) {
		return nil
	}
	// process_vm_readv can fail for reasons /proc/[pid]/mem doesn't
	// (ENOSYS on old kernels, EPERM under a restrictive Yama
	// ptrace_scope); fall back rather than surfacing this failure.
	return l.readAtProcMem(addr, buf)
}

func (l *linuxProcess) readAtProcMem(addr Address, buf []byte) error {
	if l.mem == nil {
		f, err := os.OpenFile(fmt.Sprintf("/proc/%d/mem", l.pid), os.O_RDONLY, 0)
		if err != nil {
			if os.IsPermission(err) {
				return Wrap(PermissionDenied, err, "opening /proc/[pid]/mem")
			}
			if os.IsNotExist(err) {
				return Wrap(ProcessGone, err, "opening /proc/[pid]/mem")
			}
			return Wrap(TransientRead, err, "opening /proc/[pid]/mem")
		}
		l.mem = f
	}
	n, err := l.mem.ReadAt(buf, int64(addr))
	if err != nil {
		if os.IsPermission(err) {
			return Wrap(PermissionDenied, err, "reading /proc/[pid]/mem")
		}
		if errors.Is(err, io.EOF) || n == 0 {
			return Wrap(BadAddress, err, "short read from /proc/[pid]/mem")
		}
		return Wrap(TransientRead, err, "reading /proc/[pid]/mem")
	}
	return nil
}

func (l *linuxProcess) close() error {
	if l.mem != nil {
		return l.mem.Close()
	}
	return nil
}

// platformMaps lists pid's mapped regions from /proc/[pid]/maps via
// procfs, classifying each as anonymous/writable and tagging the
// region(s) whose backing file looks like the interpreter.
func platformMaps(pid int) (ModuleList, error) {
	proc, err := procfs.NewProc(pid)
	if err != nil {
		return nil, Wrap(ProcessGone, err, fmt.Sprintf("opening /proc/%d", pid))
	}
	maps, err := proc.ProcMaps()
	if err != nil {
		if os.IsPermission(err) {
			return nil, Wrap(PermissionDenied, err, "reading /proc/[pid]/maps")
		}
		return nil, Wrap(ProcessGone, err, "reading /proc/[pid]/maps")
	}
	var mods ModuleList
	for _, m := range maps {
		perm := Perm(0)
		if m.Perms.Read {
			perm |= Read
		}
		if m.Perms.Write {
			perm |= Write
		}
		if m.Perms.Execute {
			perm |= Exec
		}
		if perm == 0 {
			continue
		}
		path := normalizeBase(m.Pathname)
		mod := &Module{
			Path:  path,
			Base:  Address(m.StartAddr),
			Size:  int64(m.EndAddr - m.StartAddr),
			Perm:  perm,
			Anon:  path == "" || path == "[heap]" || path == "[stack]",
			Write: perm&Write != 0,
		}
		mod.IsInterpreter = LooksLikeInterpreter(path)
		mod.IsInterpreterLibrary = LooksLikeInterpreterLibrary(path)
		mods = append(mods, mod)
	}
	return mods, nil
}

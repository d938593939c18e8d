// Copyright 2026 The pyprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build darwin

package remote

/*
#include <mach/mach.h>
#include <mach/mach_vm.h>
#include <sys/sysctl.h>
#include <stdlib.h>

static kern_return_t get_task(pid_t pid, mach_port_t *task) {
	return task_for_pid(mach_task_self(), pid, task);
}

static kern_return_t read_mem(mach_port_t task, mach_vm_address_t addr, void *buf, mach_vm_size_t len) {
	mach_vm_size_t outsize = 0;
	return mach_vm_read_overwrite(task, addr, len, (mach_vm_address_t)buf, &outsize);
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	"github.com/pkg/errors"
)

// darwinProcess reads another process's memory through a Mach task
// port. Acquiring that port (task_for_pid) requires the same elevated
// privilege macOS requires of any debugger; see cmd/pyprof's root
// check, mirrored from the original profiler's own macOS gate.
type darwinProcess struct {
	pid  int
	task C.mach_port_t
}

func openPlatform(pid int) (platformProcess, error) {
	var task C.mach_port_t
	kr := C.get_task(C.pid_t(pid), &task)
	if kr != C.KERN_SUCCESS {
		return nil, Wrap(PermissionDenied, errors.Errorf("task_for_pid: kern_return_t %d", kr),
			fmt.Sprintf("cannot get task port for pid %d", pid))
	}
	return &darwinProcess{pid: pid, task: task}, nil
}

func (d *darwinProcess) readAt(addr Address, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	kr := C.read_mem(d.task, C.mach_vm_address_t(addr), unsafe.Pointer(&buf[0]), C.mach_vm_size_t(len(buf)))
	if kr != C.KERN_SUCCESS {
		return Wrap(BadAddress, errors.Errorf("mach_vm_read_overwrite: kern_return_t %d", kr), addr.String())
	}
	return nil
}

func (d *darwinProcess) close() error {
	C.mach_port_deallocate(C.mach_task_self_, d.task)
	return nil
}

// platformMaps enumerates pid's regions via mach_vm_region, walking
// forward from address 0 until the kernel reports no further region.
// Only the base/size/permission bits are available this way; the
// backing file path (needed for LooksLikeInterpreter) is recovered
// separately with proc_regionfilename.
func platformMaps(pid int) (ModuleList, error) {
	return darwinRegionWalk(pid)
}

// Copyright 2026 The pyprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build darwin

package remote

/*
#include <mach/mach.h>
#include <mach/mach_vm.h>
#include <libproc.h>
#include <string.h>

static kern_return_t region_info(mach_port_t task, mach_vm_address_t *addr, mach_vm_size_t *size,
                                  unsigned int *protection) {
	vm_region_basic_info_data_64_t info;
	mach_msg_type_number_t infoCount = VM_REGION_BASIC_INFO_COUNT_64;
	mach_port_t objName;
	kern_return_t kr = mach_vm_region(task, addr, size, VM_REGION_BASIC_INFO_64,
		(vm_region_info_t)&info, &infoCount, &objName);
	if (kr == KERN_SUCCESS) {
		*protection = info.protection;
	}
	return kr;
}

static int region_path(pid_t pid, mach_vm_address_t addr, char *buf, int buflen) {
	memset(buf, 0, buflen);
	return proc_regionfilename(pid, addr, buf, buflen);
}
*/
import "C"

import (
	"fmt"

	"github.com/pkg/errors"
)

// darwinRegionWalk lists pid's mapped regions by repeatedly calling
// mach_vm_region starting just past the previous region's end, the
// same walk py-spy's macOS backend performs since Darwin has no
// /proc/[pid]/maps equivalent.
func darwinRegionWalk(pid int) (ModuleList, error) {
	var task C.mach_port_t
	if kr := C.get_task(C.pid_t(pid), &task); kr != C.KERN_SUCCESS {
		return nil, Wrap(PermissionDenied, errors.Errorf("task_for_pid: kern_return_t %d", kr),
			fmt.Sprintf("cannot get task port for pid %d", pid))
	}
	defer C.mach_port_deallocate(C.mach_task_self_, task)

	var mods ModuleList
	addr := C.mach_vm_address_t(0)
	for {
		size := C.mach_vm_size_t(0)
		var prot C.uint
		kr := C.region_info(task, &addr, &size, &prot)
		if kr != C.KERN_SUCCESS {
			// KERN_INVALID_ADDRESS means there are no more regions.
			break
		}
		perm := Perm(0)
		const (
			vmProtRead    = 0x01
			vmProtWrite   = 0x02
			vmProtExecute = 0x04
		)
		if prot&vmProtRead != 0 {
			perm |= Read
		}
		if prot&vmProtWrite != 0 {
			perm |= Write
		}
		if prot&vmProtExecute != 0 {
			perm |= Exec
		}
		var pathBuf [1024]C.char
		n := C.region_path(C.pid_t(pid), addr, &pathBuf[0], C.int(len(pathBuf)))
		path := ""
		if n > 0 {
			path = C.GoString(&pathBuf[0])
		}
		if perm != 0 {
			mods = append(mods, &Module{
				Path:                 path,
				Base:                 Address(addr),
				Size:                 int64(size),
				Perm:                 perm,
				Anon:                 path == "",
				Write:                perm&Write != 0,
				IsInterpreter:        LooksLikeInterpreter(path),
				IsInterpreterLibrary: LooksLikeInterpreterLibrary(path),
			})
		}
		addr += C.mach_vm_address_t(size)
	}
	return mods, nil
}

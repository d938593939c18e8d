// Copyright 2026 The pyprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package remote

import "fmt"

// Address is a virtual address inside the target process's address
// space. It is sized to the target's pointer width, not the host's,
// and is meaningless outside the process it was read from.
type Address uint64

func (a Address) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}

// Add returns a+n.
func (a Address) Add(n int64) Address {
	return Address(int64(a) + n)
}

// Sub returns a-b.
func (a Address) Sub(b Address) int64 {
	return int64(a) - int64(b)
}

// Perm is the set of permissions on a mapped region of the target's
// address space.
type Perm uint8

const (
	Read Perm = 1 << iota
	Write
	Exec
)

func (p Perm) String() string {
	var s [3]byte
	b := s[:0]
	if p&Read != 0 {
		b = append(b, 'r')
	} else {
		b = append(b, '-')
	}
	if p&Write != 0 {
		b = append(b, 'w')
	} else {
		b = append(b, '-')
	}
	if p&Exec != 0 {
		b = append(b, 'x')
	} else {
		b = append(b, '-')
	}
	return string(b)
}

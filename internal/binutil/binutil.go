// Copyright 2026 The pyprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package binutil reads the local copy of an interpreter's executable
// or shared library off disk to recover its exported symbols, its
// BSS/common (uninitialized-data) symbols, and its architecture —
// everything the Global-State Locator needs as search hints before it
// ever touches the target's memory. This never reads out of the
// target process; it opens the file named by a Module's Path.
package binutil

import (
	"bytes"
	"debug/elf"
	"debug/macho"
	"debug/pe"
	"fmt"
	"os"

	"github.com/pyprof/pyprof/internal/remote"
)

// Symbols is the result of parsing one binary: its dynamic exports and
// its BSS/common symbols, keyed by name, plus enough information to
// pick a layout.Descriptors by pointer width.
type Symbols struct {
	Exports     map[string]uint64
	BSS         map[string]uint64
	Arch        string
	PointerSize int
}

var (
	elfMagic   = []byte{0x7f, 'E', 'L', 'F'}
	machoMagic = [][]byte{
		{0xfe, 0xed, 0xfa, 0xce}, // 32-bit BE
		{0xfe, 0xed, 0xfa, 0xcf}, // 64-bit BE
		{0xce, 0xfa, 0xed, 0xfe}, // 32-bit LE
		{0xcf, 0xfa, 0xed, 0xfe}, // 64-bit LE
	}
	peMagic = []byte{'M', 'Z'}
)

// Parse reads the binary at path and classifies its symbols. It
// dispatches on the file's magic number rather than its extension,
// since Linux shared objects and executables share no naming
// convention that extension-sniffing could rely on.
func Parse(path string) (*Symbols, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, remote.Wrap(remote.UnreadableBinary, err, fmt.Sprintf("opening %s", path))
	}
	defer f.Close()

	header := make([]byte, 4)
	if _, err := f.ReadAt(header, 0); err != nil {
		return nil, remote.Wrap(remote.UnreadableBinary, err, fmt.Sprintf("reading header of %s", path))
	}

	switch {
	case bytes.Equal(header, elfMagic):
		return parseELF(path)
	case isMachO(header):
		return parseMachO(path)
	case bytes.Equal(header[:2], peMagic):
		return parsePE(path)
	default:
		return nil, remote.Wrap(remote.UnsupportedFormat, nil, fmt.Sprintf("%s: unsupported executable format", path))
	}
}

func isMachO(header []byte) bool {
	for _, m := range machoMagic {
		if bytes.Equal(header, m) {
			return true
		}
	}
	return false
}

func parseELF(path string) (*Symbols, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, remote.Wrap(remote.UnreadableBinary, err, fmt.Sprintf("%s: malformed ELF", path))
	}
	defer f.Close()

	syms, err := f.Symbols()
	if err != nil && err != elf.ErrNoSymbols {
		return nil, remote.Wrap(remote.UnreadableBinary, err, fmt.Sprintf("%s: reading ELF symbols", path))
	}
	dynsyms, _ := f.DynamicSymbols()

	out := &Symbols{
		Exports:     map[string]uint64{},
		BSS:         map[string]uint64{},
		PointerSize: 8,
	}
	if f.Class == elf.ELFCLASS32 {
		out.PointerSize = 4
	}
	out.Arch = f.Machine.String()

	classify := func(s elf.Symbol, dynamic bool) {
		if s.Name == "" || s.Value == 0 {
			return
		}
		secIdx := int(s.Section)
		isBSS := secIdx >= 0 && secIdx < len(f.Sections) && f.Sections[secIdx].Name == ".bss"
		isBSS = isBSS || elf.SymType(s.Info&0xf) == elf.STT_COMMON
		switch {
		case isBSS:
			out.BSS[s.Name] = s.Value
		case dynamic:
			out.Exports[s.Name] = s.Value
		default:
			// A symbol from the full (non-dynamic) table that isn't
			// BSS is still useful as a fallback export for statically
			// linked interpreters, which have no .dynsym at all.
			if _, ok := out.Exports[s.Name]; !ok {
				out.Exports[s.Name] = s.Value
			}
		}
	}
	for _, s := range dynsyms {
		classify(s, true)
	}
	for _, s := range syms {
		classify(s, false)
	}
	return out, nil
}

func parseMachO(path string) (*Symbols, error) {
	f, err := macho.Open(path)
	if err != nil {
		return nil, remote.Wrap(remote.UnreadableBinary, err, fmt.Sprintf("%s: malformed Mach-O", path))
	}
	defer f.Close()

	out := &Symbols{
		Exports:     map[string]uint64{},
		BSS:         map[string]uint64{},
		PointerSize: 8,
	}
	if f.Magic == macho.Magic32 {
		out.PointerSize = 4
	}
	out.Arch = f.Cpu.String()

	if f.Symtab == nil {
		return out, nil
	}
	for _, s := range f.Symtab.Syms {
		if s.Name == "" || s.Value == 0 {
			continue
		}
		sec := sectionFor(f, s.Sect)
		if sec != nil && (sec.Name == "__bss" || sec.Name == "__common") {
			out.BSS[s.Name] = s.Value
			continue
		}
		if _, ok := out.Exports[s.Name]; !ok {
			out.Exports[s.Name] = s.Value
		}
	}
	return out, nil
}

func sectionFor(f *macho.File, idx uint8) *macho.Section {
	if idx == 0 || int(idx) > len(f.Sections) {
		return nil
	}
	return f.Sections[idx-1]
}

func parsePE(path string) (*Symbols, error) {
	f, err := pe.Open(path)
	if err != nil {
		return nil, remote.Wrap(remote.UnreadableBinary, err, fmt.Sprintf("%s: malformed PE", path))
	}
	defer f.Close()

	out := &Symbols{
		Exports:     map[string]uint64{},
		BSS:         map[string]uint64{},
		PointerSize: 8,
	}
	if f.Machine == pe.IMAGE_FILE_MACHINE_I386 {
		out.PointerSize = 4
	}
	out.Arch = fmt.Sprintf("%#x", f.Machine)

	for _, s := range f.Symbols {
		if s.Name == "" || s.Value == 0 {
			continue
		}
		if int(s.SectionNumber) > 0 && int(s.SectionNumber) <= len(f.Sections) {
			sec := f.Sections[s.SectionNumber-1]
			if sec.Name == ".bss" {
				out.BSS[s.Name] = uint64(s.Value)
				continue
			}
		}
		if s.SectionNumber == 0 {
			// IMAGE_SYM_UNDEFINED with a nonzero value is the PE
			// convention for a common (uninitialized, size-only) symbol.
			out.BSS[s.Name] = uint64(s.Value)
			continue
		}
		out.Exports[s.Name] = uint64(s.Value)
	}
	return out, nil
}

// Copyright 2026 The pyprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package remote

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Module is a loadable unit mapped into the target's address space:
// the main executable, a shared library, or an anonymous mapping with
// no backing file.
type Module struct {
	Path  string
	Base  Address
	Size  int64
	Perm  Perm
	Anon  bool // true if this mapping has no backing file
	Write bool // convenience mirror of Perm&Write != 0

	// IsInterpreter is true for the module that looks like the
	// interpreter's own executable or shared library (see
	// LooksLikeInterpreter).
	IsInterpreter bool

	// IsInterpreterLibrary is true when IsInterpreter is true and the
	// module is the shared library form (libpython3.9.so, python39.dll)
	// rather than the standalone executable. A statically linked
	// interpreter's executable carries the same exported symbols a
	// dynamically linked one keeps in its library instead, so callers
	// that need the richest symbol table should prefer a module with
	// IsInterpreter && !IsInterpreterLibrary when both are mapped.
	IsInterpreterLibrary bool
}

// Max returns the address just beyond the module's mapping.
func (m *Module) Max() Address {
	return m.Base.Add(m.Size)
}

// Contains reports whether a lies within [Base, Max).
func (m *Module) Contains(a Address) bool {
	return a >= m.Base && a < m.Max()
}

// interpreterPathPattern matches the shared library or executable
// name of a CPython-like interpreter: "python3.11", "libpython3.9.so.1.0",
// "python.exe", "python39.dll", etc. The captured group is the version
// digits (dotted or not), if present.
var interpreterPathPattern = regexp.MustCompile(`(?i)python([0-9]+\.?[0-9]+)?(\.exe|\.dll|\.so[0-9.]*|\.dylib)?$`)

// LooksLikeInterpreter reports whether path's basename looks like the
// interpreter's own binary or library, as opposed to an unrelated
// shared library the process happens to have mapped.
func LooksLikeInterpreter(path string) bool {
	if path == "" {
		return false
	}
	base := filepath.Base(path)
	return interpreterPathPattern.MatchString(base)
}

// LooksLikeInterpreterLibrary reports whether path's basename looks
// like the interpreter's shared library form, as opposed to its
// standalone executable. Only meaningful when LooksLikeInterpreter is
// also true.
func LooksLikeInterpreterLibrary(path string) bool {
	if !LooksLikeInterpreter(path) {
		return false
	}
	base := strings.ToLower(filepath.Base(normalizeBase(path)))
	if strings.HasPrefix(base, "lib") {
		return true
	}
	return strings.Contains(base, ".so") || strings.HasSuffix(base, ".dylib") || strings.HasSuffix(base, ".dll")
}

// ModuleList is a sequence of Module records sorted by base address,
// as produced by the Process Map Enumerator. At most a few hundred
// mappings exist per process, so a sorted slice with binary search is
// plenty — no page table is needed at this scale.
type ModuleList []*Module

// Sort orders the list by base address. Must be called once after
// construction, before any Containing call.
func (l ModuleList) Sort() {
	sort.Slice(l, func(i, j int) bool { return l[i].Base < l[j].Base })
}

// Containing returns the Module whose mapping contains a, or nil.
func (l ModuleList) Containing(a Address) *Module {
	n := sort.Search(len(l), func(i int) bool { return l[i].Max() > a })
	if n == len(l) || !l[n].Contains(a) {
		return nil
	}
	return l[n]
}

// Find returns the first module, in list order, whose path matches
// pred. It does not look at a module's permissions, so when a file is
// mapped as several regions the lowest-addressed one is returned
// whether or not it is executable.
func (l ModuleList) Find(pred func(path string) bool) *Module {
	for _, m := range l {
		if pred(m.Path) {
			return m
		}
	}
	return nil
}

// FindInterpreter returns the module to attach to: the interpreter's
// standalone executable when one is mapped, falling back to its
// shared library otherwise. A statically linked interpreter has only
// the former; a dynamically linked one typically has both, and the
// executable's own exported symbols are the more reliable search hint
// since the library may be stripped or versioned differently than the
// binary that loaded it.
func (l ModuleList) FindInterpreter() *Module {
	var library *Module
	for _, m := range l {
		if !m.IsInterpreter {
			continue
		}
		if !m.IsInterpreterLibrary {
			return m
		}
		if library == nil {
			library = m
		}
	}
	return library
}

// byPath groups a ModuleList's distinct backing files, in first-seen
// order, merging their sizes. Used when a single shared library is
// mapped as several discontiguous segments (text, data, bss).
func (l ModuleList) byPath() []*Module {
	var merged []*Module
	seen := map[string]*Module{}
	for _, m := range l {
		if m.Path == "" {
			continue
		}
		if existing, ok := seen[m.Path]; ok {
			if m.Base < existing.Base {
				// Extend down; keep max as-is if still greater.
				newMax := existing.Max()
				existing.Base = m.Base
				existing.Size = newMax.Sub(existing.Base)
			} else if m.Max() > existing.Max() {
				existing.Size = m.Max().Sub(existing.Base)
			}
			continue
		}
		cp := *m
		seen[m.Path] = &cp
		merged = append(merged, &cp)
	}
	return merged
}

// normalizeBase strips a trailing "(deleted)" marker Linux appends to
// /proc/[pid]/maps entries whose backing file was removed after being
// mapped (common for a container image layer squashed out from under
// a still-running process).
func normalizeBase(path string) string {
	return strings.TrimSuffix(path, " (deleted)")
}

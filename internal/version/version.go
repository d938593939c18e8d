// Copyright 2026 The pyprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package version identifies which interpreter version a target
// process is running, so the engine can pick the matching
// internal/layout Descriptors before it reads a single struct field.
package version

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/pyprof/pyprof/internal/layout"
	"github.com/pyprof/pyprof/internal/remote"
)

// filenamePattern pulls a major.minor pair out of an interpreter
// module's basename: "python3.9", "libpython3.9.so.1.0", "python39.dll".
var filenamePattern = regexp.MustCompile(`(?i)python([0-9]+)\.?([0-9]+)`)

// bannerPattern matches CPython's own version banner, the string
// Py_GetVersion returns and every interpreter links into its rodata:
// "3.9.7 (default, Oct 11 2022, 00:00:00) [GCC ...]".
var bannerPattern = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+) \(`)

const (
	bannerScanCap   = 4 << 20 // stop scanning a module after 4MiB
	bannerChunkSize = 64 * 1024
	bannerOverlap   = 32 // carry this many trailing bytes across chunk boundaries
)

// Validator reports whether v's layout descriptor currently validates
// against the target — normally internal/locator's Validate predicate,
// run once per candidate version rather than trusted blindly.
type Validator func(v layout.Version) bool

// Detect implements spec.md §4.4's three-step strategy: a filename
// match, a banner scan, and — when more than one version looks
// plausible — a validates-highest-patch tiebreak using validate.
// validate may be nil, in which case an ambiguous result is resolved
// by picking the higher version without re-checking it remotely.
func Detect(proc *remote.Process, mod *remote.Module, validate Validator) (layout.Version, error) {
	var candidates []layout.Version

	if maj, min, ok := filenameVersion(mod.Path); ok {
		if d := layout.ForMinor(maj, min); d != nil {
			candidates = appendUnique(candidates, d.Version)
		}
	}

	banner, ok, err := bannerVersion(proc, mod)
	if err != nil {
		return layout.Version{}, err
	}
	if ok {
		if d := layout.ForMinor(banner.Major, banner.Minor); d != nil {
			candidates = appendUnique(candidates, d.Version)
		}
	}

	if len(candidates) == 0 {
		return layout.Version{}, remote.Wrap(remote.UnsupportedVersion, nil,
			fmt.Sprintf("no known layout descriptor matches %s", mod.Path))
	}

	// Highest first: "ambiguous" resolves to the later version (spec
	// §4.4), and the validating tiebreak should try the most capable
	// candidate before falling back to an older one.
	sort.Slice(candidates, func(i, j int) bool { return candidates[j].Less(candidates[i]) })

	if validate == nil {
		return candidates[0], nil
	}
	for _, v := range candidates {
		if validate(v) {
			return v, nil
		}
	}
	return layout.Version{}, remote.Wrap(remote.RuntimeUninitialized, nil,
		fmt.Sprintf("none of %d candidate version(s) validated against %s", len(candidates), mod.Path))
}

func appendUnique(vs []layout.Version, v layout.Version) []layout.Version {
	for _, existing := range vs {
		if existing == v {
			return vs
		}
	}
	return append(vs, v)
}

func filenameVersion(path string) (major, minor int, ok bool) {
	base := filepath.Base(path)
	m := filenamePattern.FindStringSubmatch(base)
	if m == nil || m[2] == "" {
		return 0, 0, false
	}
	maj, err1 := strconv.Atoi(m[1])
	min, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return maj, min, true
}

// bannerVersion scans the first few megabytes of mod's loaded image
// for the version banner. It reads in fixed chunks through the
// Process Memory Reader rather than all at once, since a module can be
// much larger than any banner string needs, and stops at the first
// unreadable page instead of failing outright — a partial scan that
// finds nothing is just "not found", not an error.
func bannerVersion(proc *remote.Process, mod *remote.Module) (layout.Version, bool, error) {
	limit := mod.Size
	if limit > bannerScanCap {
		limit = bannerScanCap
	}
	var carry []byte
	for off := int64(0); off < limit; off += bannerChunkSize {
		n := int64(bannerChunkSize)
		if off+n > limit {
			n = limit - off
		}
		buf := make([]byte, n)
		if err := proc.ReadAt(mod.Base.Add(off), buf); err != nil {
			break
		}
		window := append(carry, buf...)
		if m := bannerPattern.FindSubmatch(window); m != nil {
			maj, _ := strconv.Atoi(string(m[1]))
			min, _ := strconv.Atoi(string(m[2]))
			patch, _ := strconv.Atoi(string(m[3]))
			return layout.Version{Major: maj, Minor: min, Patch: patch}, true, nil
		}
		if len(buf) >= bannerOverlap {
			carry = append([]byte(nil), buf[len(buf)-bannerOverlap:]...)
		} else {
			carry = append([]byte(nil), buf...)
		}
	}
	return layout.Version{}, false, nil
}

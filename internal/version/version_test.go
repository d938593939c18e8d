// Copyright 2026 The pyprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package version

import (
	"encoding/binary"
	"testing"

	"github.com/pyprof/pyprof/internal/layout"
	"github.com/pyprof/pyprof/internal/remote"
)

func TestFilenameVersion(t *testing.T) {
	cases := []struct {
		path      string
		wantMajor int
		wantMinor int
		wantOK    bool
	}{
		{"/usr/bin/python3.9", 3, 9, true},
		{"/usr/lib/libpython3.10.so.1.0", 3, 10, true},
		{"/usr/lib/x86_64-linux-gnu/libpython3.7m.so.1.0", 3, 7, true},
		{"/usr/lib/libc.so.6", 0, 0, false},
		{"python", 0, 0, false},
	}
	for _, c := range cases {
		maj, min, ok := filenameVersion(c.path)
		if ok != c.wantOK || (ok && (maj != c.wantMajor || min != c.wantMinor)) {
			t.Errorf("filenameVersion(%q) = (%d, %d, %v), want (%d, %d, %v)",
				c.path, maj, min, ok, c.wantMajor, c.wantMinor, c.wantOK)
		}
	}
}

func moduleWithBanner(banner string) (*remote.Process, *remote.Module) {
	mod := &remote.Module{Path: "/usr/bin/python", Base: 0x1000, Size: 0x20000}
	p := remote.NewFake(8, binary.LittleEndian, remote.ModuleList{mod})
	// Place the banner somewhere mid-module so the scan has to walk
	// past at least one full chunk first.
	p.SetBytes(mod.Base.Add(0x10000), []byte(banner))
	return p, mod
}

func TestBannerVersionFound(t *testing.T) {
	p, mod := moduleWithBanner("3.9.7 (default, Oct 11 2022, 00:00:00) [GCC 9.4.0]")
	v, ok, err := bannerVersion(p, mod)
	if err != nil {
		t.Fatalf("bannerVersion error: %v", err)
	}
	if !ok {
		t.Fatal("bannerVersion did not find the embedded banner")
	}
	want := layout.Version{Major: 3, Minor: 9, Patch: 7}
	if v != want {
		t.Errorf("bannerVersion = %s, want %s", v, want)
	}
}

func TestBannerVersionNotFound(t *testing.T) {
	mod := &remote.Module{Path: "/usr/bin/python", Base: 0x1000, Size: 0x1000}
	p := remote.NewFake(8, binary.LittleEndian, remote.ModuleList{mod})
	p.SetBytes(mod.Base, []byte("no version banner anywhere in here"))
	_, ok, err := bannerVersion(p, mod)
	if err != nil {
		t.Fatalf("bannerVersion error: %v", err)
	}
	if ok {
		t.Fatal("bannerVersion reported success with no banner present")
	}
}

func TestDetectByFilenameAlone(t *testing.T) {
	mod := &remote.Module{Path: "/usr/bin/python3.9", Base: 0x1000, Size: 0x1000}
	p := remote.NewFake(8, binary.LittleEndian, remote.ModuleList{mod})
	v, err := Detect(p, mod, nil)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if v.Major != 3 || v.Minor != 9 {
		t.Errorf("Detect = %s, want 3.9.x", v)
	}
}

func TestDetectUnsupportedVersion(t *testing.T) {
	mod := &remote.Module{Path: "/usr/bin/python99.99", Base: 0x1000, Size: 0x1000}
	p := remote.NewFake(8, binary.LittleEndian, remote.ModuleList{mod})
	_, err := Detect(p, mod, nil)
	if err == nil {
		t.Fatal("Detect succeeded for an unregistered version")
	}
	if !remote.Is(err, remote.UnsupportedVersion) {
		t.Errorf("Detect error = %v, want Kind UnsupportedVersion", err)
	}
}

func TestDetectAmbiguousTiebreakUsesValidator(t *testing.T) {
	// Filename says 3.9; embedded banner disagrees and says 3.10.
	// Only the 3.10 descriptor "validates" in this test, so Detect
	// must return 3.10 rather than blindly preferring the filename.
	mod := &remote.Module{Path: "/usr/bin/python3.9", Base: 0x1000, Size: 0x20000}
	p := remote.NewFake(8, binary.LittleEndian, remote.ModuleList{mod})
	p.SetBytes(mod.Base.Add(0x10000), []byte("3.10.2 (default, Jan 1 2023, 00:00:00) [GCC]"))

	validate := func(v layout.Version) bool { return v.Minor == 10 }
	v, err := Detect(p, mod, validate)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if v.Minor != 10 {
		t.Errorf("Detect = %s, want minor version 10", v)
	}
}

func TestDetectNoCandidateValidates(t *testing.T) {
	mod := &remote.Module{Path: "/usr/bin/python3.9", Base: 0x1000, Size: 0x1000}
	p := remote.NewFake(8, binary.LittleEndian, remote.ModuleList{mod})
	_, err := Detect(p, mod, func(layout.Version) bool { return false })
	if err == nil {
		t.Fatal("Detect succeeded when the validator rejected every candidate")
	}
	if !remote.Is(err, remote.RuntimeUninitialized) {
		t.Errorf("Detect error = %v, want Kind RuntimeUninitialized", err)
	}
}

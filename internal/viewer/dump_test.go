// Copyright 2026 The pyprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package viewer

import (
	"bytes"
	"testing"

	"github.com/pyprof/pyprof/internal/stackwalk"
)

func TestWriteDumpFormat(t *testing.T) {
	traces := []stackwalk.StackTrace{
		{
			ThreadID: 0x2a,
			Active:   true,
			Frames: []stackwalk.StackFrame{
				{FunctionName: "run", ShortFileName: "app.py", Line: 12},
				{FunctionName: "sleep", ShortFileName: "threading.py", Line: 581},
			},
		},
		{
			ThreadID: 0x7,
			Active:   false,
			Frames:   nil,
		},
	}

	var buf bytes.Buffer
	if err := WriteDump(&buf, traces); err != nil {
		t.Fatalf("WriteDump failed: %v", err)
	}

	want := "Thread 0x2A (active)\n" +
		"\t sleep (threading.py:581)\n" +
		"\t run (app.py:12)\n" +
		"Thread 0x7 (idle)\n"
	if got := buf.String(); got != want {
		t.Errorf("WriteDump output =\n%q\nwant\n%q", got, want)
	}
}

func TestWriteDumpIncludesIdleThreads(t *testing.T) {
	traces := []stackwalk.StackTrace{
		{ThreadID: 1, Active: false},
	}
	var buf bytes.Buffer
	if err := WriteDump(&buf, traces); err != nil {
		t.Fatalf("WriteDump failed: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("WriteDump produced no output for an idle-only trace set, want the idle thread still rendered")
	}
}

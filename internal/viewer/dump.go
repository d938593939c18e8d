// Copyright 2026 The pyprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package viewer renders the stack traces internal/engine produces
// into the three output forms the command line exposes: a one-shot
// dump, a live console, and a collapsed-stack flame-graph input file.
package viewer

import (
	"fmt"
	"io"

	"github.com/pyprof/pyprof/internal/stackwalk"
)

// WriteDump renders every trace in the stable text format spec.md §6
// fixes as a tested contract:
//
//	Thread 0x<HEXID> (<active|idle>)
//		 <funcname> (<short_filename>:<line>)
//		 ...
//
// Every trace is written regardless of Active, unlike console.go's
// default — dump is meant to be a complete snapshot.
func WriteDump(w io.Writer, traces []stackwalk.StackTrace) error {
	for _, tr := range traces {
		if err := writeTrace(w, tr); err != nil {
			return err
		}
	}
	return nil
}

func writeTrace(w io.Writer, tr stackwalk.StackTrace) error {
	status := "idle"
	if tr.Active {
		status = "active"
	}
	if _, err := fmt.Fprintf(w, "Thread 0x%X (%s)\n", tr.ThreadID, status); err != nil {
		return err
	}
	// Frames are stored innermost-last; the currently executing frame
	// reads most naturally first, so print the chain in reverse.
	for i := len(tr.Frames) - 1; i >= 0; i-- {
		f := tr.Frames[i]
		if _, err := fmt.Fprintf(w, "\t %s (%s:%d)\n", f.FunctionName, f.ShortFileName, f.Line); err != nil {
			return err
		}
	}
	return nil
}

// Copyright 2026 The pyprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package viewer

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/pyprof/pyprof/internal/stackwalk"
)

// Console renders a live-refreshing view of the current sample over
// an already-open writer. Unlike dump, it defaults to hiding idle
// threads — the original profiler's own asymmetry, since a console
// watched interactively cares about what's running right now, not
// every thread that happens to exist.
type Console struct {
	w        io.Writer
	ShowIdle bool
	// Color forces color on/off; nil (the zero value) means "follow
	// the terminal" by checking the output for a TTY.
	Color *bool
}

// NewConsole builds a Console writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// Render draws one frame of the live view: a cleared screen followed
// by every trace worth showing, banner-colored by active/idle state.
func (c *Console) Render(traces []stackwalk.StackTrace) error {
	useColor := c.useColor()
	active := color.New(color.FgGreen, color.Bold)
	idle := color.New(color.FgHiBlack)

	c.clear()
	shown := 0
	for _, tr := range traces {
		if !tr.Active && !c.ShowIdle {
			continue
		}
		shown++
		banner := active
		status := "active"
		if !tr.Active {
			banner, status = idle, "idle"
		}
		header := fmt.Sprintf("Thread 0x%X (%s)", tr.ThreadID, status)
		if useColor {
			banner.Fprintln(c.w, header)
		} else {
			fmt.Fprintln(c.w, header)
		}
		for i := len(tr.Frames) - 1; i >= 0; i-- {
			f := tr.Frames[i]
			fmt.Fprintf(c.w, "\t %s (%s:%d)\n", f.FunctionName, f.ShortFileName, f.Line)
		}
	}
	if shown == 0 {
		fmt.Fprintln(c.w, "no active threads (pass --idle to show idle threads)")
	}
	return nil
}

func (c *Console) useColor() bool {
	if c.Color != nil {
		return *c.Color
	}
	f, ok := c.w.(interface{ Fd() uintptr })
	return ok && term.IsTerminal(int(f.Fd()))
}

// clear resets the terminal to redraw in place, the same plain ANSI
// home-and-clear sequence the original console view uses — not a
// curses-style library, since the view is a few lines of text
// refreshed in place, not an interactive widget tree.
func (c *Console) clear() {
	fmt.Fprint(c.w, "\033[H\033[2J")
}

// Copyright 2026 The pyprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package viewer

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/pyprof/pyprof/internal/stackwalk"
)

// FlameCollector accumulates sampled stacks into the collapsed-stack
// counts the widely-known flame-graph renderer expects as input:
// each distinct call stack (outermost frame first, semicolon
// separated) mapped to how many samples observed it.
type FlameCollector struct {
	counts map[string]int
}

// NewFlameCollector returns an empty collector.
func NewFlameCollector() *FlameCollector {
	return &FlameCollector{counts: map[string]int{}}
}

// Add folds one sample into the collector. Only active threads count
// towards the flame graph — an idle thread contributes no CPU time to
// attribute to any function.
func (c *FlameCollector) Add(traces []stackwalk.StackTrace) {
	for _, tr := range traces {
		if !tr.Active || len(tr.Frames) == 0 {
			continue
		}
		c.counts[collapsedStack(tr)]++
	}
}

// collapsedStack renders one trace as "outermost;...;innermost",
// the order the collapsed-stack format requires. Frames are stored
// innermost-last, which is already that order.
func collapsedStack(tr stackwalk.StackTrace) string {
	names := make([]string, len(tr.Frames))
	for i, f := range tr.Frames {
		names[i] = f.FunctionName
	}
	return strings.Join(names, ";")
}

// WriteCollapsed writes the accumulated counts in the collapsed-stack
// text format, one "stack count" line per distinct stack, sorted by
// stack so the output is deterministic and diffable.
func (c *FlameCollector) WriteCollapsed(w io.Writer) error {
	stacks := make([]string, 0, len(c.counts))
	for s := range c.counts {
		stacks = append(stacks, s)
	}
	sort.Strings(stacks)

	bw := bufio.NewWriter(w)
	for _, s := range stacks {
		if _, err := fmt.Fprintf(bw, "%s %d\n", s, c.counts[s]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Total returns the number of samples folded in so far, across every
// distinct stack.
func (c *FlameCollector) Total() int {
	n := 0
	for _, v := range c.counts {
		n += v
	}
	return n
}

// ProgressReporter prints plain line-oriented progress during a
// flame-graph capture — "sample N/M" on a throttled ticker — rather
// than redrawing a progress-bar widget, which is exactly the kind of
// outer-surface texture this tool's viewers otherwise avoid.
type ProgressReporter struct {
	w        io.Writer
	total    int
	interval time.Duration
	last     time.Time
}

// NewProgressReporter reports progress towards total samples, at most
// once per interval.
func NewProgressReporter(w io.Writer, total int, interval time.Duration) *ProgressReporter {
	return &ProgressReporter{w: w, total: total, interval: interval}
}

// Report prints "sample done/total" if at least interval has passed
// since the last print, or if done has reached total.
func (p *ProgressReporter) Report(done int) {
	now := time.Now()
	if done < p.total && now.Sub(p.last) < p.interval {
		return
	}
	p.last = now
	fmt.Fprintf(p.w, "sample %d/%d\n", done, p.total)
}

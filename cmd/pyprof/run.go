// Copyright 2026 The pyprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pyprof/pyprof/internal/engine"
	"github.com/pyprof/pyprof/internal/remote"
	"github.com/pyprof/pyprof/internal/viewer"
)

// run dispatches to the pid-attach path or the launch-a-program path,
// depending on whether a positional program was given.
func run(args []string) error {
	// On macOS only root can obtain another process's task port.
	if runtime.GOOS == "darwin" && os.Geteuid() != 0 {
		return remote.Wrap(remote.PermissionDenied, nil, "pyprof requires root on macOS")
	}
	backoff := time.Duration(opts.attachBackoff) * time.Millisecond

	if len(args) == 0 {
		if opts.pid == 0 {
			return errors.New("either --pid or a program to launch is required")
		}
		eng, err := engine.RetryNew(opts.pid, opts.attachAttempts, backoff)
		if err != nil {
			return err
		}
		defer eng.Close()
		return sample(eng)
	}

	return runLaunched(args, backoff)
}

// runLaunched implements the positional-program form: start the child
// with its stderr captured, attach to it, sample it, then surface the
// child's stderr and kill it if anything went wrong, matching the
// original profiler's own launch-mode cleanup.
func runLaunched(args []string, backoff time.Duration) error {
	launched, err := remote.Launch(args[0], args[1:])
	if err != nil {
		return err
	}
	defer launched.Kill()

	eng, attachErr := engine.RetryNew(launched.Pid(), opts.attachAttempts, backoff)
	var sampleErr error
	if attachErr == nil {
		sampleErr = sample(eng)
		eng.Close()
	}

	// Give the child a moment to exit on its own before judging it,
	// mirroring the original's brief sleep-then-check.
	time.Sleep(time.Millisecond)
	cleanExit := launched.ExitedCleanly()

	if attachErr != nil || sampleErr != nil || !cleanExit {
		if stderr := strings.TrimSpace(launched.Stderr()); stderr != "" {
			fmt.Fprintln(os.Stderr, stderr)
		}
	}
	if attachErr != nil {
		return attachErr
	}
	return sampleErr
}

// sample runs whichever viewer the flags selected against an already
// attached engine.
func sample(eng *engine.Engine) error {
	switch {
	case opts.dump:
		traces, err := eng.GetStackTraces()
		if err != nil {
			return err
		}
		return viewer.WriteDump(os.Stdout, traces)
	case opts.flame != "":
		return sampleFlame(eng)
	default:
		return sampleConsole(eng)
	}
}

func sampleFlame(eng *engine.Engine) error {
	const flameExitTolerance = 3
	total := opts.duration * opts.rate
	interval := time.Second / time.Duration(opts.rate)

	collector := viewer.NewFlameCollector()
	progress := viewer.NewProgressReporter(os.Stderr, total, time.Second)
	tolerance := engine.NewExitTolerance(flameExitTolerance)

	fmt.Fprintf(os.Stderr, "taking %d samples of process %d\n", total, eng.Pid())
	var sampled, errored int
	for i := 0; i < total; i++ {
		traces, err := eng.GetStackTraces()
		if err != nil {
			if tolerance.Observe(err) {
				fmt.Fprintf(os.Stderr, "process %d ended\n", eng.Pid())
				break
			}
			errored++
			logrus.WithError(err).Debug("sample failed")
		} else {
			collector.Add(traces)
			sampled++
		}
		progress.Report(i + 1)
		time.Sleep(interval)
	}

	f, err := os.Create(opts.flame)
	if err != nil {
		return errors.Wrapf(err, "creating flame graph file %s", opts.flame)
	}
	defer f.Close()
	if err := collector.WriteCollapsed(f); err != nil {
		return errors.Wrapf(err, "writing flame graph file %s", opts.flame)
	}
	fmt.Fprintf(os.Stderr, "wrote flame graph %q. samples: %d errors: %d\n", opts.flame, sampled, errored)
	return nil
}

func sampleConsole(eng *engine.Engine) error {
	const consoleExitTolerance = 5
	interval := time.Second / time.Duration(opts.rate)

	console := viewer.NewConsole(os.Stdout)
	console.ShowIdle = opts.idle
	tolerance := engine.NewExitTolerance(consoleExitTolerance)

	for {
		traces, err := eng.GetStackTraces()
		if err != nil {
			if tolerance.Observe(err) {
				fmt.Fprintf(os.Stderr, "process %d ended\n", eng.Pid())
				return nil
			}
			logrus.WithError(err).Debug("sample failed")
			time.Sleep(interval)
			continue
		}
		if err := console.Render(traces); err != nil {
			return err
		}
		time.Sleep(interval)
	}
}

// Copyright 2026 The pyprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command pyprof samples the stack traces of a running Python
// interpreter without any cooperation from the target: attach by pid
// or launch a program, then dump a snapshot, write a flame graph, or
// watch a live console view.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pyprof/pyprof/internal/remote"
)

var opts struct {
	pid            int
	dump           bool
	flame          string
	rate           int
	duration       int
	attachAttempts int
	attachBackoff  int
	idle           bool
	verbose        int
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pyprof [flags] [program] [args...]",
		Short: "Spies on Python programs",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := cmd.Flags()
	f.IntVarP(&opts.pid, "pid", "p", 0, "pid of python program to spy on")
	f.BoolVarP(&opts.dump, "dump", "d", false, "print one snapshot of stack traces and exit")
	f.StringVarP(&opts.flame, "flame", "f", "", "collect samples and write a flame graph to this path")
	f.IntVar(&opts.rate, "rate", 100, "samples per second")
	f.IntVar(&opts.duration, "duration", 20, "seconds to sample for --flame, at the configured rate")
	f.IntVar(&opts.attachAttempts, "attach-attempts", 3, "attach retries while the target's runtime initializes")
	f.IntVar(&opts.attachBackoff, "attach-backoff", 100, "milliseconds to wait between attach attempts")
	f.BoolVar(&opts.idle, "idle", false, "show idle threads in the live console view")
	f.CountVarP(&opts.verbose, "verbose", "v", "increase log verbosity (repeatable)")

	return cmd
}

func configureLogging() {
	switch {
	case opts.verbose >= 2:
		logrus.SetLevel(logrus.TraceLevel)
	case opts.verbose == 1:
		logrus.SetLevel(logrus.DebugLevel)
	default:
		logrus.SetLevel(logrus.WarnLevel)
	}
	logrus.SetOutput(os.Stderr)
}

func main() {
	cmd := newRootCommand()
	cobra.OnInitialize(configureLogging)
	if err := cmd.Execute(); err != nil {
		if remote.Is(err, remote.PermissionDenied) {
			fmt.Fprintln(os.Stderr, "Permission Denied: try running again with elevated privileges")
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

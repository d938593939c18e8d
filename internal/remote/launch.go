// Copyright 2026 The pyprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package remote

import (
	"bytes"
	"os/exec"

	"github.com/pkg/errors"
)

// Launched is a child process started by Launch, kept around so the
// caller can recover its stderr and make sure it doesn't outlive the
// profiler.
type Launched struct {
	Cmd    *exec.Cmd
	stderr *bytes.Buffer
}

// Launch starts program with args as a child process, with stdin
// discarded and stderr captured (not inherited) so it can be printed
// only if something goes wrong, matching the original profiler's own
// launch-mode behavior: it pipes the child's stderr and only surfaces
// it on failure, rather than interleaving it with the viewer's output.
func Launch(program string, args []string) (*Launched, error) {
	cmd := exec.Command(program, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "launching %s", program)
	}
	return &Launched{Cmd: cmd, stderr: &stderr}, nil
}

// Pid returns the launched child's process id.
func (l *Launched) Pid() int { return l.Cmd.Process.Pid }

// Stderr returns whatever the child has written to stderr so far.
func (l *Launched) Stderr() string { return l.stderr.String() }

// Kill terminates the child if it's still running. Errors are
// swallowed: by the time cleanup runs, the child having already
// exited on its own is the common case, not a failure.
func (l *Launched) Kill() {
	if l.Cmd.Process != nil {
		_ = l.Cmd.Process.Kill()
	}
}

// ExitedCleanly reports whether the child has already exited with a
// zero status. If the child hasn't exited yet, it reports true (the
// original profiler's own "assume success" behavior when asked before
// the child has finished).
func (l *Launched) ExitedCleanly() bool {
	if l.Cmd.ProcessState == nil {
		return true
	}
	return l.Cmd.ProcessState.Success()
}

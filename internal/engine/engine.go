// Copyright 2026 The pyprof Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package engine is the facade the rest of this module talks to: one
// call to attach to a running interpreter, retrying through its
// startup window, and one call per sample to get every thread's
// current stack. Everything underneath — the memory reader, the
// version detector, the locator, the stack walker — is an
// implementation detail from here out.
package engine

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pyprof/pyprof/internal/binutil"
	"github.com/pyprof/pyprof/internal/layout"
	"github.com/pyprof/pyprof/internal/locator"
	"github.com/pyprof/pyprof/internal/remote"
	"github.com/pyprof/pyprof/internal/stackwalk"
	"github.com/pyprof/pyprof/internal/version"
)

// DefaultExitTolerance is the original profiler's console-viewer
// consecutive-exit tolerance (see ExitTolerance).
const DefaultExitTolerance = 5

// Engine holds everything needed to keep sampling one already-located
// interpreter: the open process handle, its module and version
// caches, and the stack walker built for that version.
type Engine struct {
	proc   *remote.Process
	mod    *remote.Module
	desc   *layout.Descriptors
	loc    *locator.Locator
	walker *stackwalk.Walker
	log    *logrus.Entry
}

// symbolParser is the hook Attach uses to read a binary's symbols, so
// tests can substitute a fake without needing a real executable on
// disk. RetryNew always passes binutil.Parse.
type symbolParser func(path string) (*binutil.Symbols, error)

// RetryNew attaches to pid, retrying only the "runtime not yet
// initialized" failure up to attempts times with backoff between each
// — per spec.md §4.7's contract and §7's propagation policy, every
// other error kind (PermissionDenied, UnsupportedVersion,
// InterpreterNotFound, ...) aborts immediately instead of being
// retried away.
func RetryNew(pid int, attempts int, backoff time.Duration) (*Engine, error) {
	log := logrus.WithField("pid", pid)
	var lastErr error
	for i := 0; i < attempts; i++ {
		proc, err := remote.Open(pid)
		if err == nil {
			eng, err := attach(proc, binutil.Parse, log)
			if err == nil {
				return eng, nil
			}
			proc.Close()
			lastErr = err
		} else {
			lastErr = err
		}
		if !remote.Is(lastErr, remote.RuntimeUninitialized) {
			return nil, lastErr
		}
		log.WithFields(logrus.Fields{"attempt": i + 1, "attempts": attempts}).
			WithError(lastErr).Debug("runtime not yet initialized, retrying")
		if i != attempts-1 {
			time.Sleep(backoff)
		}
	}
	return nil, errors.Wrapf(lastErr, "attaching to pid %d after %d attempts", pid, attempts)
}

// attach does the one-shot work RetryNew retries: find the
// interpreter module, parse its on-disk symbols, detect its version,
// and locate its thread-state root. Everything here either succeeds
// completely or leaves no engine behind for the caller to half-use.
func attach(proc *remote.Process, parse symbolParser, log *logrus.Entry) (*Engine, error) {
	mod := proc.Modules().FindInterpreter()
	if mod == nil {
		return nil, remote.Wrap(remote.InterpreterNotFound, nil,
			fmt.Sprintf("no interpreter module found in pid %d", proc.Pid()))
	}
	log = log.WithField("module", mod.Path)

	sym, err := parse(mod.Path)
	if err != nil {
		return nil, err
	}
	// Open guesses 8-byte pointers before anything has looked at the
	// target's binary; now that binutil has actually read it, size
	// every subsequent read to what the binary really is instead of
	// what the host happens to be. Every layout.Descriptors table is
	// 64-bit only, so a 32-bit interpreter has nothing to validate
	// against and fails fast here instead of retrying forever.
	if sym.PointerSize != 0 {
		proc.SetPtrSize(int64(sym.PointerSize))
	}
	if proc.PtrSize() != 8 {
		return nil, remote.Wrap(remote.UnsupportedFormat, nil,
			fmt.Sprintf("%s: %d-bit interpreters are not supported", mod.Path, proc.PtrSize()*8))
	}

	var desc *layout.Descriptors
	var loc *locator.Locator
	validate := func(candidate layout.Version) bool {
		d := layout.For(candidate)
		if d == nil {
			return false
		}
		l := locator.New(proc, d, mod, sym)
		if _, err := l.Locate(); err != nil {
			return false
		}
		desc, loc = d, l
		return true
	}

	v, err := version.Detect(proc, mod, validate)
	if err != nil {
		return nil, err
	}
	if desc == nil || loc == nil {
		// Detect always runs validate before returning success, so
		// this would mean a version.Detect/validate contract bug, not
		// a runtime condition — fail loudly rather than silently
		// proceeding with a nil walker.
		return nil, remote.Wrap(remote.RuntimeUninitialized, nil,
			fmt.Sprintf("version %s reported valid but produced no locator", v))
	}
	log.WithField("version", v.String()).Info("attached to interpreter")

	return &Engine{
		proc:   proc,
		mod:    mod,
		desc:   desc,
		loc:    loc,
		walker: stackwalk.New(proc, desc),
		log:    log,
	}, nil
}

// GetStackTraces returns a snapshot of every thread's current stack.
// There is no locking between this read and the target; a torn read
// is caught by the locator's re-validation, not prevented.
func (e *Engine) GetStackTraces() ([]stackwalk.StackTrace, error) {
	tstate, err := e.loc.Locate()
	if err != nil {
		return nil, err
	}
	// Locate returns a validated thread-state address (it walks the
	// list starting from the interpreter state, but validates against
	// the thread-state it found); the walker wants the interpreter
	// state itself, so one more hop through "interp" gets there.
	ts := e.desc.Struct(layout.ThreadState)
	interp, err := e.proc.ReadPtr(tstate.Add(ts.Field("interp").Offset))
	if err != nil {
		return nil, err
	}
	traces, err := e.walker.Walk(interp)
	if err != nil {
		e.log.WithError(err).Warn("stack walk failed for this sample")
		return nil, err
	}
	return traces, nil
}

// Pid returns the attached process's id.
func (e *Engine) Pid() int { return e.proc.Pid() }

// Version returns the interpreter version the engine attached to.
func (e *Engine) Version() layout.Version { return e.desc.Version }

// Close releases the underlying process handle.
func (e *Engine) Close() error { return e.proc.Close() }

// ExitTolerance counts consecutive target-gone-shaped errors across
// samples and reports once the caller should stop retrying and treat
// the target as exited, rather than giving up on the very first
// transient failure (a context switch mid-read can look identical to
// the target actually exiting).
type ExitTolerance struct {
	max   int
	count int
}

// NewExitTolerance builds a counter that tolerates up to max
// consecutive ProcessGone-shaped errors before reporting the target
// dead.
func NewExitTolerance(max int) *ExitTolerance {
	return &ExitTolerance{max: max}
}

// Observe records the result of one sample attempt and reports
// whether the target should now be treated as exited. A nil error, or
// an error that isn't shaped like the process having gone away,
// resets the streak.
func (t *ExitTolerance) Observe(err error) (dead bool) {
	if err == nil || !remote.Is(err, remote.ProcessGone) {
		t.count = 0
		return false
	}
	t.count++
	return t.count >= t.max
}

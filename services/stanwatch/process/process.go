// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// drainDelay bounds how long stream capture may outlive the process. A
// background child that inherited the streams would otherwise hold them open.
const drainDelay = time.Second

// LineFunc receives one line of process output without its line terminator.
type LineFunc func(line string)

// Options configures a spawned process.
type Options struct {
	// Dir is the working directory. Empty means the caller's directory.
	Dir string

	// Env is the process environment. Nil inherits the caller's environment.
	Env []string

	// OnStdout is called for every stdout line until the handle is killed.
	OnStdout LineFunc

	// OnStderr is called for every stderr line until the handle is killed.
	OnStderr LineFunc
}

// ExitInfo describes how a process ended.
type ExitInfo struct {
	// Code is the exit status, or -1 when the process was ended by a signal.
	Code int

	// Stdout is everything the process wrote to stdout.
	Stdout string

	// Killed reports whether Kill was called on the handle.
	Killed bool

	// Duration is the wall time between start and exit.
	Duration time.Duration
}

// Handle is one spawned process.
//
// # Thread Safety
//
// Safe for concurrent use.
type Handle struct {
	cmd     *exec.Cmd
	started time.Time

	// listenMu is held while a listener runs so Kill can detach atomically.
	listenMu sync.RWMutex
	onStdout LineFunc
	onStderr LineFunc
	detached bool

	killed atomic.Bool

	outMu  sync.Mutex
	stdout bytes.Buffer

	done chan struct{}
	info ExitInfo
	err  error
}

// -----------------------------------------------------------------------------
// Start / Run
// -----------------------------------------------------------------------------

// Start spawns name with args and returns immediately.
//
// # Description
//
// The process is not bound to ctx: it only ends by exiting on its own or by
// Kill. ctx is checked once before spawning.
//
// # Outputs
//
//   - *Handle: The running process.
//   - error: A *SpawnError (matching ErrSpawn) when the process could not start.
func Start(ctx context.Context, name string, args []string, opts Options) (*Handle, error) {
	if ctx == nil || name == "" {
		return nil, fmt.Errorf("%w: ctx and command must be set", ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(name, args...)
	cmd.Dir = opts.Dir
	cmd.Env = opts.Env
	cmd.WaitDelay = drainDelay
	configure(cmd)

	h := &Handle{
		cmd:      cmd,
		onStdout: opts.OnStdout,
		onStderr: opts.OnStderr,
		done:     make(chan struct{}),
	}
	stdout := &lineWriter{h: h, stdout: true}
	stderr := &lineWriter{h: h}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Command: name, Args: args, Err: err}
	}
	h.started = time.Now()
	go h.wait(stdout, stderr)

	return h, nil
}

// Run spawns a process and waits for it to exit.
func Run(ctx context.Context, name string, args []string, opts Options) (ExitInfo, error) {
	h, err := Start(ctx, name, args, opts)
	if err != nil {
		return ExitInfo{Code: -1}, err
	}
	return h.Wait(ctx)
}

// -----------------------------------------------------------------------------
// Handle
// -----------------------------------------------------------------------------

// Wait blocks until the process has exited and its streams are drained, or
// drainDelay after exit when something else still holds them.
//
// If ctx ends first, Wait returns ctx.Err() and leaves the process running.
func (h *Handle) Wait(ctx context.Context) (ExitInfo, error) {
	select {
	case <-h.done:
		info := h.info
		info.Killed = h.killed.Load()
		return info, h.err
	case <-ctx.Done():
		return ExitInfo{Code: -1, Killed: h.killed.Load()}, ctx.Err()
	}
}

// Done returns a channel closed when the process has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Killed reports whether Kill was called on this handle.
func (h *Handle) Killed() bool {
	return h.killed.Load()
}

// Exited reports whether the process has exited.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// PID returns the operating system process id.
func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return -1
	}
	return h.cmd.Process.Pid
}

// Stdout returns the stdout accumulated so far.
func (h *Handle) Stdout() string {
	h.outMu.Lock()
	defer h.outMu.Unlock()
	return h.stdout.String()
}

// Kill terminates the process.
//
// # Description
//
// Listeners are detached first. The process is then terminated: the whole
// tree via taskkill on Windows, SIGKILL to its process group on unix.
//
// # Outputs
//
//   - bool: True when a termination signal was delivered. False for a nil
//     handle, a process that already exited, a handle killed before, or a
//     failed signal.
func Kill(h *Handle) bool {
	if h == nil {
		return false
	}
	h.detach()

	if h.Exited() {
		return false
	}
	if !h.killed.CompareAndSwap(false, true) {
		return false
	}
	if h.cmd.Process == nil {
		return false
	}
	return terminate(h.cmd.Process) == nil
}

// detach stops listener delivery. It waits for an in-flight listener call.
func (h *Handle) detach() {
	h.listenMu.Lock()
	h.detached = true
	h.listenMu.Unlock()
}

// wait reaps the process, flushes unterminated lines and publishes the exit
// info.
func (h *Handle) wait(stdout, stderr *lineWriter) {
	err := h.cmd.Wait()
	stdout.flush()
	stderr.flush()

	info := ExitInfo{Duration: time.Since(h.started)}
	var exitErr *exec.ExitError
	switch {
	case err == nil, errors.Is(err, exec.ErrWaitDelay):
	case errors.As(err, &exitErr):
		info.Code = exitErr.ExitCode()
	default:
		info.Code = -1
		h.err = fmt.Errorf("%w: %v", ErrWait, err)
	}
	info.Stdout = h.Stdout()
	h.info = info

	close(h.done)
}

// lineWriter splits one output stream into lines. exec copies each stream
// from a single goroutine, so Write is never called concurrently.
type lineWriter struct {
	h       *Handle
	stdout  bool
	partial []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	if w.stdout {
		w.h.outMu.Lock()
		w.h.stdout.Write(p)
		w.h.outMu.Unlock()
	}
	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.h.deliver(strings.TrimRight(string(w.partial[:i]), "\r"), w.stdout)
		w.partial = w.partial[i+1:]
	}
	return len(p), nil
}

// flush delivers a trailing line without terminator.
func (w *lineWriter) flush() {
	if len(w.partial) > 0 {
		w.h.deliver(strings.TrimRight(string(w.partial), "\r"), w.stdout)
		w.partial = nil
	}
}

func (h *Handle) deliver(line string, isStdout bool) {
	h.listenMu.RLock()
	defer h.listenMu.RUnlock()
	if h.detached {
		return
	}
	fn := h.onStderr
	if isStdout {
		fn = h.onStdout
	}
	if fn != nil {
		fn(line)
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package delay provides a debounced, serialized task runner.
//
// A Task holds at most one pending fire and runs at most one callback at a
// time. Scheduling again before the pending fire runs replaces it, so only the
// most recent request's closure ever executes. A fire that lands while a
// callback is still running waits for it; the interrupt hook lets the owner
// ask the running callback to finish early.
package delay

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// =============================================================================
// Types
// =============================================================================

// Func is the unit of work run by a Task.
type Func func() error

// State is the observable state of a Task.
type State int

const (
	// StateIdle means nothing is scheduled or running.
	StateIdle State = iota

	// StateScheduled means a fire is pending. It takes precedence over
	// StateRunning when both hold.
	StateScheduled

	// StateRunning means a callback is executing and nothing is pending.
	StateRunning
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrClosed is returned by Schedule after Close.
var ErrClosed = errors.New("delayed task closed")

// ErrPanic is matched by every PanicError.
var ErrPanic = errors.New("delayed task panicked")

// PanicError carries a recovered callback panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%v: %v", ErrPanic, e.Value)
}

func (e *PanicError) Unwrap() error {
	return ErrPanic
}

// Option configures a Task.
type Option func(*Task)

// WithInterrupt registers fn to be called when a fire lands while a callback
// is still running. It is called without the Task lock held.
func WithInterrupt(fn func()) Option {
	return func(t *Task) {
		t.onInterrupt = fn
	}
}

// WithErrorHandler registers fn to receive callback errors and panics.
// Without it failures are logged.
func WithErrorHandler(fn func(error)) Option {
	return func(t *Task) {
		t.onError = fn
	}
}

// WithLogger sets the logger used when no error handler is registered.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Task) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithName labels log records from this Task.
func WithName(name string) Option {
	return func(t *Task) {
		t.name = name
	}
}

// Task is a debounced single-flight runner.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Callbacks never overlap.
type Task struct {
	mu   sync.Mutex
	idle *sync.Cond

	seq     uint64
	timer   *time.Timer
	next    Func
	running bool
	closed  bool

	name        string
	onInterrupt func()
	onError     func(error)
	logger      *slog.Logger
}

// New creates an idle Task.
func New(opts ...Option) *Task {
	t := &Task{logger: slog.Default(), name: "task"}
	t.idle = sync.NewCond(&t.mu)
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// =============================================================================
// Scheduling
// =============================================================================

// Schedule arms fn to run after d, replacing any fire that has not executed
// yet, including one queued behind a running callback.
func (t *Task) Schedule(fn Func, d time.Duration) error {
	if fn == nil {
		return errors.New("delay: nil func")
	}
	if d < 0 {
		d = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}

	t.dropPendingLocked()
	seq := t.seq
	t.timer = time.AfterFunc(d, func() {
		t.fire(seq, fn)
	})
	return nil
}

// Cancel drops the pending fire, if any. A running callback is unaffected.
func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.dropPendingLocked()
	t.idle.Broadcast()
}

// Close cancels the pending fire and rejects further scheduling.
func (t *Task) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	t.dropPendingLocked()
	t.idle.Broadcast()
}

// Wait blocks until the Task is idle.
func (t *Task) Wait() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for t.stateLocked() != StateIdle {
		t.idle.Wait()
	}
}

// =============================================================================
// State
// =============================================================================

// State returns the current state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateLocked()
}

// Pending reports whether a fire is scheduled.
func (t *Task) Pending() bool {
	return t.State() == StateScheduled
}

// Running reports whether a callback is executing.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Task) stateLocked() State {
	switch {
	case t.timer != nil || t.next != nil:
		return StateScheduled
	case t.running:
		return StateRunning
	default:
		return StateIdle
	}
}

// =============================================================================
// Execution
// =============================================================================

// dropPendingLocked invalidates the armed timer and the queued fire.
func (t *Task) dropPendingLocked() {
	t.seq++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.next = nil
}

// fire runs on the timer goroutine.
func (t *Task) fire(seq uint64, fn Func) {
	t.mu.Lock()
	if seq != t.seq || t.closed {
		t.mu.Unlock()
		return
	}
	t.timer = nil

	if t.running {
		t.next = fn
		hook := t.onInterrupt
		t.mu.Unlock()
		if hook != nil {
			hook()
		}
		return
	}

	t.running = true
	t.mu.Unlock()

	t.loop(fn)
}

// loop runs fn and then any fire queued while it ran.
func (t *Task) loop(fn Func) {
	for {
		t.invoke(fn)

		t.mu.Lock()
		if t.next != nil && !t.closed {
			fn = t.next
			t.next = nil
			t.mu.Unlock()
			continue
		}
		t.running = false
		t.idle.Broadcast()
		t.mu.Unlock()
		return
	}
}

func (t *Task) invoke(fn Func) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{Value: r, Stack: debug.Stack()}
			}
		}()
		err = fn()
	}()
	if err == nil {
		return
	}

	if t.onError != nil {
		t.onError(err)
		return
	}
	t.logger.Error("delayed task failed",
		slog.String("task", t.name),
		slog.String("error", err.Error()),
	)
}

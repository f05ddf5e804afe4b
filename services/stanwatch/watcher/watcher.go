// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watcher provides file system watch registrations that can be
// disposed individually or all at once.
package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrDisposed is returned by Watch after the Manager was shut down.
var ErrDisposed = errors.New("watcher manager disposed")

// Op is the kind of change reported for a path.
type Op int

const (
	// Created indicates a file appeared.
	Created Op = iota

	// Changed indicates a file was written.
	Changed

	// Deleted indicates a file was removed or renamed away.
	Deleted
)

// String returns the verb used in log lines.
func (op Op) String() string {
	switch op {
	case Created:
		return "created"
	case Changed:
		return "changed"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Event is one change delivered to a Callback.
type Event struct {
	Path string
	Op   Op
	Time time.Time
}

// Callback receives events. It is called from the registration's event
// goroutine, one event at a time.
type Callback func(Event)

// Matcher decides whether a path is reported.
type Matcher func(path string) bool

// Basenames matches paths whose base name is one of names.
func Basenames(names ...string) Matcher {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return func(path string) bool {
		_, ok := set[filepath.Base(path)]
		return ok
	}
}

// Extensions matches paths with one of exts. Extensions are given without
// the leading dot and compared case-sensitively.
func Extensions(exts ...string) Matcher {
	set := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		set[strings.TrimPrefix(e, ".")] = struct{}{}
	}
	return func(path string) bool {
		ext := strings.TrimPrefix(filepath.Ext(path), ".")
		_, ok := set[ext]
		return ok && ext != ""
	}
}

// Target describes what a registration watches.
type Target struct {
	// Root is the directory to watch.
	Root string

	// Recursive also watches every subdirectory, including ones created later.
	Recursive bool

	// Match filters reported paths. Nil reports everything.
	Match Matcher

	// Ignore lists base names or filepath.Match patterns of entries to skip.
	Ignore []string
}

// =============================================================================
// Manager
// =============================================================================

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger for watcher errors.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// Manager owns a set of registrations.
//
// # Thread Safety
//
// Safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	regs     map[*Registration]struct{}
	disposed bool
	logger   *slog.Logger
}

// NewManager creates an empty Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		regs:   make(map[*Registration]struct{}),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Watch starts watching target.Root and calls cb for matching changes.
//
// # Inputs
//
//   - target: What to watch. Root must be an existing directory.
//   - cb: Receives events until the registration is disposed.
//
// # Outputs
//
//   - *Registration: The live registration.
//   - error: Non-nil when the root cannot be watched.
func (m *Manager) Watch(target Target, cb Callback) (*Registration, error) {
	if cb == nil {
		return nil, errors.New("watch callback is required")
	}
	root, err := filepath.Abs(target.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving watch root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("watch root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch root %s: not a directory", root)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	r := &Registration{
		target:  target,
		root:    root,
		fw:      fw,
		cb:      cb,
		manager: m,
		logger:  m.logger.With(slog.String("root", root)),
		done:    make(chan struct{}),
	}

	if target.Recursive {
		err = r.addRecursive(root)
	} else {
		err = fw.Add(root)
	}
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching %s: %w", root, err)
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		fw.Close()
		return nil, ErrDisposed
	}
	m.regs[r] = struct{}{}
	m.mu.Unlock()

	go r.loop()
	return r, nil
}

// Len returns the number of live registrations.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.regs)
}

// DisposeAll disposes every live registration. The Manager stays usable.
func (m *Manager) DisposeAll() {
	m.mu.Lock()
	regs := make([]*Registration, 0, len(m.regs))
	for r := range m.regs {
		regs = append(regs, r)
	}
	m.regs = make(map[*Registration]struct{})
	m.mu.Unlock()

	for _, r := range regs {
		r.close()
	}
}

// Close disposes every registration and rejects further Watch calls.
func (m *Manager) Close() {
	m.mu.Lock()
	m.disposed = true
	m.mu.Unlock()
	m.DisposeAll()
}

func (m *Manager) forget(r *Registration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.regs, r)
}

// =============================================================================
// Registration
// =============================================================================

// Registration is one live watch.
type Registration struct {
	target  Target
	root    string
	fw      *fsnotify.Watcher
	cb      Callback
	manager *Manager
	logger  *slog.Logger

	disposed  atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// Root returns the absolute watched directory.
func (r *Registration) Root() string {
	return r.root
}

// Done is closed when the event goroutine has exited.
func (r *Registration) Done() <-chan struct{} {
	return r.done
}

// Dispose stops the watch. A callback already in progress may finish, but no
// new callback starts afterwards. Calling Dispose again does nothing.
func (r *Registration) Dispose() {
	if r == nil {
		return
	}
	r.manager.forget(r)
	r.close()
}

func (r *Registration) close() {
	r.closeOnce.Do(func() {
		r.disposed.Store(true)
		r.fw.Close()
	})
}

func (r *Registration) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && r.ignored(path) {
			return filepath.SkipDir
		}
		return r.fw.Add(path)
	})
}

func (r *Registration) ignored(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range r.target.Ignore {
		if base == pattern {
			return true
		}
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

func (r *Registration) loop() {
	defer close(r.done)
	for {
		select {
		case ev, ok := <-r.fw.Events:
			if !ok {
				return
			}
			r.handle(ev)
		case err, ok := <-r.fw.Errors:
			if !ok {
				return
			}
			r.logger.Warn("file watcher error", slog.String("error", err.Error()))
		}
	}
}

func (r *Registration) handle(ev fsnotify.Event) {
	if r.disposed.Load() || r.ignored(ev.Name) {
		return
	}

	var op Op
	switch {
	case ev.Has(fsnotify.Create):
		op = Created
	case ev.Has(fsnotify.Write):
		op = Changed
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		op = Deleted
	default:
		return
	}

	if op == Created {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if r.target.Recursive {
				if err := r.addRecursive(ev.Name); err != nil {
					r.logger.Warn("watching new directory failed",
						slog.String("path", ev.Name),
						slog.String("error", err.Error()))
				}
			}
			return
		}
	}

	if r.target.Match != nil && !r.target.Match(ev.Name) {
		return
	}
	if r.disposed.Load() {
		return
	}
	r.cb(Event{Path: ev.Name, Op: op, Time: time.Now()})
}

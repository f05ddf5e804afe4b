// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ext is the PHPStan integration controller.
//
// # Description
//
// An *Ext owns every piece of state of one workspace integration: the
// settings snapshot, the resolved config, the live analyser process, the
// debounce tasks, the file watchers and the host handles (status bar, output
// channel, diagnostics collection, command registrations, context flag).
// File events and commands are funnelled through a delayed task into the
// process runner, and finished reports flow back through the result parser
// and the reconciler into the diagnostics collection.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Lifecycle calls
// (Activate, Reactivate, Deactivate) are serialized.
package ext

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/stanwatch/services/stanwatch/delay"
	"github.com/AleutianAI/stanwatch/services/stanwatch/diagnostic"
	"github.com/AleutianAI/stanwatch/services/stanwatch/host"
	"github.com/AleutianAI/stanwatch/services/stanwatch/neon"
	"github.com/AleutianAI/stanwatch/services/stanwatch/process"
	"github.com/AleutianAI/stanwatch/services/stanwatch/settings"
	"github.com/AleutianAI/stanwatch/services/stanwatch/watcher"
)

// Identifiers shared with editors.
const (
	ID             = "phpstan"
	DisplayName    = "PHPStan"
	ContextEnabled = "phpstan:enabled"
)

// DefaultReactivateDelay is the fixed debounce before a config file change
// reactivates the integration.
const DefaultReactivateDelay = 250 * time.Millisecond

// State is the lifecycle state of an Ext.
type State int

const (
	StateInactive State = iota
	StateActivating
	StateActive
	StateReactivating
	StateDeactivated
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	case StateReactivating:
		return "reactivating"
	case StateDeactivated:
		return "deactivated"
	default:
		return "unknown"
	}
}

// Spawner starts an analyser process. process.Start is the default.
type Spawner func(ctx context.Context, name string, args []string, opts process.Options) (*process.Handle, error)

// =============================================================================
// Options
// =============================================================================

// Option configures an Ext.
type Option func(*Ext)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Ext) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithHub publishes status, output, diagnostics, context and state changes.
func WithHub(h *host.Hub) Option {
	return func(e *Ext) {
		e.hub = h
	}
}

// WithMetrics records runs, watcher events and commands.
func WithMetrics(m *Metrics) Option {
	return func(e *Ext) {
		e.metrics = m
	}
}

// WithSpawner replaces process.Start.
func WithSpawner(s Spawner) Option {
	return func(e *Ext) {
		if s != nil {
			e.spawn = s
		}
	}
}

// WithCommands registers commands on r instead of a private registry.
func WithCommands(r *host.CommandRegistry) Option {
	return func(e *Ext) {
		if r != nil {
			e.commands = r
		}
	}
}

// WithWatchers creates file watchers through m.
func WithWatchers(m *watcher.Manager) Option {
	return func(e *Ext) {
		if m != nil {
			e.watchers = m
		}
	}
}

// WithStatusWriter renders the status item to w.
func WithStatusWriter(w io.Writer) Option {
	return func(e *Ext) {
		e.statusWriter = w
	}
}

// WithOutputMirror copies output channel lines to w.
func WithOutputMirror(w io.Writer) Option {
	return func(e *Ext) {
		e.outputMirror = w
	}
}

// WithReactivateDelay overrides DefaultReactivateDelay.
func WithReactivateDelay(d time.Duration) Option {
	return func(e *Ext) {
		if d >= 0 {
			e.reactivateDelay = d
		}
	}
}

// =============================================================================
// Ext
// =============================================================================

// Ext is one workspace integration.
type Ext struct {
	root            string
	load            settings.Loader
	logger          *slog.Logger
	hub             *host.Hub
	metrics         *Metrics
	spawn           Spawner
	commands        *host.CommandRegistry
	watchers        *watcher.Manager
	contexts        *host.ContextStore
	statusWriter    io.Writer
	outputMirror    io.Writer
	reactivateDelay time.Duration

	// lifeMu serializes Activate, Reactivate and Deactivate.
	lifeMu sync.Mutex

	// runMu serializes analysis runs.
	runMu sync.Mutex

	mu             sync.Mutex
	state          State
	activated      bool
	settings       settings.Settings
	configPath     string
	config         *neon.Config
	watcherEnabled bool

	status        *host.StatusBar
	output        *host.OutputChannel
	diags         *diagnostic.Collection
	registrations []host.Disposable

	ctx            context.Context
	cancel         context.CancelFunc
	analyseTask    *delay.Task
	reactivateTask *delay.Task
	live           *process.Handle

	// kills counts killLive calls. A run spawned across a kill is stopped
	// as soon as its handle is installed.
	kills uint64
}

// New creates an inactive Ext for the workspace at root.
//
// # Inputs
//
//   - root: Workspace root. Empty means no workspace; Activate then stays
//     inactive.
//   - load: Produces the settings snapshot on every activation.
//   - opts: Optional configuration.
func New(root string, load settings.Loader, opts ...Option) *Ext {
	e := &Ext{
		root:            root,
		load:            load,
		logger:          slog.Default(),
		spawn:           process.Start,
		commands:        host.NewCommandRegistry(),
		reactivateDelay: DefaultReactivateDelay,
		watcherEnabled:  true,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.watchers == nil {
		e.watchers = watcher.NewManager(watcher.WithLogger(e.logger))
	}
	e.contexts = host.NewContextStore(e.hub)
	e.logger = e.logger.With(slog.String("component", "ext"), slog.String("root", root))
	return e
}

// =============================================================================
// Accessors
// =============================================================================

// Root returns the workspace root.
func (e *Ext) Root() string {
	return e.root
}

// State returns the lifecycle state.
func (e *Ext) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Settings returns the current settings snapshot.
func (e *Ext) Settings() settings.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// Status returns the status bar, or nil before activation.
func (e *Ext) Status() *host.StatusBar {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Output returns the output channel, or nil before activation.
func (e *Ext) Output() *host.OutputChannel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.output
}

// Diagnostics returns the diagnostics collection, or nil before activation.
func (e *Ext) Diagnostics() *diagnostic.Collection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.diags
}

// Commands returns the command registry.
func (e *Ext) Commands() *host.CommandRegistry {
	return e.commands
}

// Contexts returns the context flag store.
func (e *Ext) Contexts() *host.ContextStore {
	return e.contexts
}

// ConfigPath returns the discovered config path.
func (e *Ext) ConfigPath() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.configPath
}

// FileWatcherEnabled reports whether file events may trigger work.
func (e *Ext) FileWatcherEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.watcherEnabled
}

// Analysing reports whether an analyser process is alive.
func (e *Ext) Analysing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.live != nil && !e.live.Exited()
}

// Pending reports whether an analysis fire is scheduled.
func (e *Ext) Pending() bool {
	e.mu.Lock()
	task := e.analyseTask
	e.mu.Unlock()
	return task != nil && task.Pending()
}

// Snapshot is the introspection view served to editors.
type Snapshot struct {
	State       string          `json:"state"`
	Root        string          `json:"root"`
	ConfigPath  string          `json:"configPath,omitempty"`
	Status      host.StatusItem `json:"status"`
	FileWatcher bool            `json:"fileWatcher"`
	Analysing   bool            `json:"analysing"`
	Pending     bool            `json:"pending"`
	Diagnostics int             `json:"diagnostics"`
	Commands    []string        `json:"commands"`
}

// Snapshot returns the current view.
func (e *Ext) Snapshot() Snapshot {
	e.mu.Lock()
	snap := Snapshot{
		State:       e.state.String(),
		Root:        e.root,
		ConfigPath:  e.configPath,
		FileWatcher: e.watcherEnabled,
		Analysing:   e.live != nil && !e.live.Exited(),
	}
	bar, diags, task := e.status, e.diags, e.analyseTask
	e.mu.Unlock()

	if bar != nil {
		snap.Status = bar.Item()
	}
	if diags != nil {
		snap.Diagnostics = diags.Count()
	}
	if task != nil {
		snap.Pending = task.Pending()
	}
	snap.Commands = e.commands.Names()
	return snap
}

func (e *Ext) setState(s State) {
	e.mu.Lock()
	changed := e.state != s
	e.state = s
	e.mu.Unlock()

	if changed {
		e.logger.Debug("state changed", slog.String("state", s.String()))
		e.hub.Publish(host.EventState, s.String())
	}
}

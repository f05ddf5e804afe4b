// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ext

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/stanwatch/services/stanwatch/delay"
	"github.com/AleutianAI/stanwatch/services/stanwatch/diagnostic"
	"github.com/AleutianAI/stanwatch/services/stanwatch/host"
	"github.com/AleutianAI/stanwatch/services/stanwatch/neon"
	"github.com/AleutianAI/stanwatch/services/stanwatch/process"
	"github.com/AleutianAI/stanwatch/services/stanwatch/settings"
	"github.com/AleutianAI/stanwatch/services/stanwatch/watcher"
)

// sourceIgnore lists directories never descended into by the source watcher.
var sourceIgnore = []string{".git", ".svn", ".hg", "node_modules"}

// =============================================================================
// Activate / Reactivate / Deactivate
// =============================================================================

// Activate loads settings and brings the integration up.
//
// # Description
//
// Disabled settings or a missing workspace root leave the integration
// inactive with the context flag cleared. Otherwise the host handles are
// created, the commands registered, the config discovered and parsed, the
// watchers installed, and an analysis triggered on the first activation when
// initialAnalysis is set.
//
// Settings, config path and config parse failures are shown on the status
// bar and returned; no analysis is triggered after one.
func (e *Ext) Activate(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	return e.activate(ctx, false)
}

// Reactivate disposes every file watcher and activates again. The
// activation always triggers an analysis.
func (e *Ext) Reactivate(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	e.setState(StateReactivating)
	e.watchers.DisposeAll()
	return e.activate(ctx, true)
}

// Deactivate stops the analyser, closes the delayed tasks and disposes every
// host handle, command registration and watcher. Calling it again does
// nothing.
func (e *Ext) Deactivate() {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	e.mu.Lock()
	if e.state == StateDeactivated {
		e.mu.Unlock()
		return
	}
	analyseTask, reactivateTask, cancel := e.analyseTask, e.reactivateTask, e.cancel
	e.analyseTask, e.reactivateTask, e.cancel, e.ctx = nil, nil, nil, nil
	bar, out, diags := e.status, e.output, e.diags
	e.status, e.output, e.diags = nil, nil, nil
	regs := e.registrations
	e.registrations = nil
	e.activated = false
	e.mu.Unlock()

	if analyseTask != nil {
		analyseTask.Close()
	}
	if reactivateTask != nil {
		reactivateTask.Close()
	}
	e.killLive()
	if cancel != nil {
		cancel()
	}

	e.watchers.DisposeAll()
	host.DisposeAll(regs...)
	out.Dispose()
	bar.Dispose()
	if diags != nil {
		diags.Dispose()
	}
	e.contexts.SetContext(ContextEnabled, false)
	e.setState(StateDeactivated)
	e.logger.Info("deactivated")
}

func (e *Ext) activate(ctx context.Context, reactivation bool) error {
	_, span := tracer.Start(ctx, "Ext.Activate",
		trace.WithAttributes(attribute.Bool("stanwatch.reactivation", reactivation)))
	defer span.End()

	e.setState(StateActivating)

	s, err := e.load()
	if err != nil {
		e.ensureUI()
		e.reportError(SourceSettings, &StatusError{Source: SourceSettings, Err: err})
		e.setState(StateInactive)
		return &StatusError{Source: SourceSettings, Err: err}
	}

	if !s.Enabled || e.root == "" {
		e.stopRun()
		e.contexts.SetContext(ContextEnabled, false)
		e.setState(StateInactive)
		e.logger.Info("integration disabled",
			slog.Bool("enabled", s.Enabled),
			slog.Bool("has_root", e.root != ""))
		return nil
	}

	e.contexts.SetContext(ContextEnabled, true)
	e.ensureUI()
	e.ensureRuntime()
	if err := e.registerCommands(); err != nil {
		return err
	}

	e.mu.Lock()
	e.settings = s
	e.configPath = ""
	e.config = nil
	first := !e.activated
	e.activated = true
	e.mu.Unlock()

	configPath, err := neon.Find(s.ConfigPath, e.root)
	if err != nil {
		se := &StatusError{Source: SourceConfigPath, Err: err}
		e.reportError(SourceConfigPath, se)
		e.setState(StateActive)
		return se
	}
	e.mu.Lock()
	e.configPath = configPath
	e.mu.Unlock()

	if s.ConfigFileWatcher {
		e.watchConfig(s, configPath)
	}

	cfg, err := neon.Parse(configPath, neon.NewEnv(e.root, s.Path), e.root)
	if err != nil {
		se := &StatusError{Source: SourceParseConfig, Err: err}
		e.reportError(SourceParseConfig, se)
		e.setState(StateActive)
		return se
	}
	e.mu.Lock()
	e.config = cfg
	e.mu.Unlock()
	e.dumpConfig(configPath, cfg)

	if s.FileWatcher {
		e.watchSources(s, cfg)
	}

	e.setState(StateActive)
	e.logger.Info("activated",
		slog.String("config", configPath),
		slog.Bool("reactivation", reactivation))

	if (first && s.InitialAnalysis) || reactivation {
		if err := e.schedule(0, nil); err != nil {
			return err
		}
	}
	return nil
}

// ensureUI creates the host handles that do not exist yet.
func (e *Ext) ensureUI() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status == nil {
		opts := []host.StatusOption{host.WithStatusHub(e.hub)}
		if e.statusWriter != nil {
			opts = append(opts, host.WithStatusWriter(e.statusWriter))
		}
		e.status = host.NewStatusBar(opts...)
	}
	if e.output == nil {
		opts := []host.OutputOption{host.WithOutputHub(e.hub)}
		if e.outputMirror != nil {
			opts = append(opts, host.WithOutputMirror(e.outputMirror))
		}
		e.output = host.NewOutputChannel(DisplayName, opts...)
	}
	if e.diags == nil {
		e.diags = diagnostic.NewCollection(ID)
		e.diags.OnChange(func(c diagnostic.Change) {
			e.metrics.published(c.Total)
			e.hub.Publish(host.EventDiagnostics, c)
		})
	}
}

// ensureRuntime creates the delayed tasks and the run context.
func (e *Ext) ensureRuntime() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctx == nil {
		e.ctx, e.cancel = context.WithCancel(context.Background())
	}
	if e.analyseTask == nil {
		e.analyseTask = delay.New(
			delay.WithName("analyse"),
			delay.WithLogger(e.logger),
			delay.WithInterrupt(e.killLive),
			delay.WithErrorHandler(func(err error) {
				if errors.Is(err, context.Canceled) {
					return
				}
				e.reportError(CommandAnalyse, err)
			}),
		)
	}
	if e.reactivateTask == nil {
		e.reactivateTask = delay.New(
			delay.WithName("reactivate"),
			delay.WithLogger(e.logger),
			delay.WithErrorHandler(func(err error) {
				e.logger.Warn("reactivation failed", slog.String("error", err.Error()))
			}),
		)
	}
}

func (e *Ext) runContext() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil {
		return context.Background()
	}
	return e.ctx
}

func (e *Ext) appendOutput(line string) {
	e.mu.Lock()
	out := e.output
	e.mu.Unlock()
	if out != nil {
		out.AppendLine(line)
	}
}

func (e *Ext) dumpConfig(path string, cfg *neon.Config) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		e.logger.Warn("config dump failed", slog.String("error", err.Error()))
		return
	}
	e.appendOutput("# Config: " + path)
	e.appendOutput(string(data))
}

// =============================================================================
// Watchers
// =============================================================================

// watchConfig reactivates after the config file is created, changed or
// deleted.
func (e *Ext) watchConfig(s settings.Settings, configPath string) {
	match := watcher.Basenames(neon.DefaultBasenames...)
	if s.ConfigPath != "" {
		match = watcher.Basenames(filepath.Base(configPath))
	}
	dir := filepath.Dir(configPath)

	_, err := e.watchers.Watch(watcher.Target{Root: dir, Match: match}, func(ev watcher.Event) {
		e.metrics.watcherEvent("config", ev.Op.String())
		if !e.FileWatcherEnabled() {
			return
		}
		e.appendOutput(fmt.Sprintf("# Config file %s: %s", ev.Op, diagnostic.SanitizeFsPath(ev.Path)))

		e.mu.Lock()
		task := e.reactivateTask
		e.mu.Unlock()
		if task == nil {
			return
		}
		_ = task.Schedule(func() error {
			return e.Reactivate(e.runContext())
		}, e.reactivateDelay)
	})
	if err != nil {
		e.logger.Warn("config watcher not installed",
			slog.String("path", dir),
			slog.String("error", err.Error()))
	}
}

// watchSources schedules an analysis after a covered source file changes.
func (e *Ext) watchSources(s settings.Settings, cfg *neon.Config) {
	cb := func(ev watcher.Event) {
		e.metrics.watcherEvent("source", ev.Op.String())
		if !e.FileWatcherEnabled() {
			return
		}
		e.appendOutput(fmt.Sprintf("# File %s: %s", ev.Op, diagnostic.SanitizeFsPath(ev.Path)))
		if err := e.schedule(s.Delay(), nil); err != nil && !errors.Is(err, delay.ErrClosed) {
			e.logger.Warn("analysis not scheduled", slog.String("error", err.Error()))
		}
	}

	for _, root := range cfg.Roots(e.root) {
		target := watcher.Target{Root: root, Recursive: true, Match: cfg.Covers, Ignore: sourceIgnore}
		if info, err := os.Stat(root); err == nil && !info.IsDir() {
			file := root
			target = watcher.Target{
				Root:  filepath.Dir(file),
				Match: func(p string) bool { return p == file && cfg.Covers(p) },
			}
		}
		if _, err := e.watchers.Watch(target, cb); err != nil {
			e.logger.Warn("source watcher not installed",
				slog.String("path", root),
				slog.String("error", err.Error()))
		}
	}
}

// =============================================================================
// Process supervision
// =============================================================================

// killLive kills the live analyser without waiting for it to exit.
func (e *Ext) killLive() {
	e.mu.Lock()
	e.kills++
	h := e.live
	e.mu.Unlock()
	if h != nil && process.Kill(h) {
		e.logger.Info("analysis process killed", slog.Int("pid", h.PID()))
	}
}

// stopRun drops the pending fire and kills the live analyser.
func (e *Ext) stopRun() {
	e.mu.Lock()
	task := e.analyseTask
	e.mu.Unlock()
	if task != nil {
		task.Cancel()
	}
	e.killLive()
}

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
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"sort"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/AleutianAI/stanwatch/pkg/validation"
	"github.com/AleutianAI/stanwatch/services/stanwatch/host"
	"github.com/AleutianAI/stanwatch/services/stanwatch/neon"
)

// Command names.
const (
	CommandAnalyse            = ID + ".analyse"
	CommandAnalyseCurrentPath = ID + ".analyseCurrentPath"
	CommandStopAnalyse        = ID + ".stopAnalyse"
	CommandClearCache         = ID + ".clearCache"
	CommandClearProblems      = ID + ".clearProblems"
	CommandPauseFileWatcher   = ID + ".pauseFileWatcher"
	CommandResumeFileWatcher  = ID + ".resumeFileWatcher"
	CommandToggleFileWatcher  = ID + ".toggleFileWatcher"
	CommandShowOutput         = ID + ".showOutput"
	CommandFindPHPStanConfig  = ID + ".findPHPStanConfigPath"
	CommandLoadPHPStanConfig  = ID + ".loadPHPStanConfig"
)

// defaultShowOutputTailLines is how many lines showOutput returns by default.
const defaultShowOutputTailLines = 200

// registerCommands registers the command set once per activation cycle.
func (e *Ext) registerCommands() error {
	e.mu.Lock()
	registered := e.registrations != nil
	e.mu.Unlock()
	if registered {
		return nil
	}

	table := map[string]host.Handler{
		CommandAnalyse:            e.cmdAnalyse,
		CommandAnalyseCurrentPath: e.cmdAnalyseCurrentPath,
		CommandStopAnalyse:        e.cmdStopAnalyse,
		CommandClearCache:         e.cmdClearCache,
		CommandClearProblems:      e.cmdClearProblems,
		CommandPauseFileWatcher:   e.cmdPauseFileWatcher,
		CommandResumeFileWatcher:  e.cmdResumeFileWatcher,
		CommandToggleFileWatcher:  e.cmdToggleFileWatcher,
		CommandShowOutput:         e.cmdShowOutput,
		CommandFindPHPStanConfig:  e.cmdFindConfigPath,
		CommandLoadPHPStanConfig:  e.cmdLoadConfig,
	}
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)

	regs := make([]host.Disposable, 0, len(names))
	for _, name := range names {
		d, err := e.commands.Register(name, e.guard(name, table[name]))
		if err != nil {
			host.DisposeAll(regs...)
			return fmt.Errorf("registering %s: %w", name, err)
		}
		regs = append(regs, d)
	}

	e.mu.Lock()
	e.registrations = regs
	e.mu.Unlock()
	return nil
}

// guard wraps a handler so errors and panics are logged in full, shown on
// the status bar and returned instead of propagating.
func (e *Ext) guard(name string, h host.Handler) host.Handler {
	return func(ctx context.Context, args ...any) (res any, err error) {
		ctx, span := startCommandSpan(ctx, name)
		defer func() {
			if r := recover(); r != nil {
				res, err = nil, &PanicError{Command: name, Value: r, Stack: debug.Stack()}
			}
			if err != nil {
				e.reportError(name, err)
			}
			e.metrics.command(name, err)
			e.hub.Publish(host.EventCommand, map[string]any{"command": name, "ok": err == nil})
			endSpan(span, err)
		}()

		e.logger.Debug("command", slog.String("command", name), slog.Int("args", len(args)))
		return h(ctx, args...)
	}
}

// =============================================================================
// Handlers
// =============================================================================

// cmdAnalyse takes an optional delay in milliseconds followed by paths.
func (e *Ext) cmdAnalyse(_ context.Context, args ...any) (any, error) {
	d := e.Settings().Delay()
	if len(args) > 0 {
		if ms, ok := millis(args[0]); ok {
			d = ms
			args = args[1:]
		}
	}
	paths, err := pathArgs(args)
	if err != nil {
		return nil, err
	}
	return nil, e.schedule(d, paths)
}

func (e *Ext) cmdAnalyseCurrentPath(_ context.Context, args ...any) (any, error) {
	paths, err := stringArgs(args)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 || paths[0] == "" {
		return nil, nil
	}
	if err := checkPaths(paths[:1]); err != nil {
		return nil, err
	}
	return nil, e.schedule(0, paths[:1])
}

func (e *Ext) cmdStopAnalyse(context.Context, ...any) (any, error) {
	e.stopRun()
	e.clearStatus()
	return nil, nil
}

func (e *Ext) cmdClearCache(ctx context.Context, _ ...any) (any, error) {
	code, err := e.clearCache(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]int{"exitCode": code}, nil
}

func (e *Ext) cmdClearProblems(context.Context, ...any) (any, error) {
	if diags := e.Diagnostics(); diags != nil {
		diags.Clear()
	}
	return nil, nil
}

func (e *Ext) cmdPauseFileWatcher(context.Context, ...any) (any, error) {
	e.setFileWatcher(false)
	return nil, nil
}

func (e *Ext) cmdResumeFileWatcher(context.Context, ...any) (any, error) {
	return nil, e.setFileWatcher(true)
}

func (e *Ext) cmdToggleFileWatcher(context.Context, ...any) (any, error) {
	enabled := !e.FileWatcherEnabled()
	return enabled, e.setFileWatcher(enabled)
}

// cmdShowOutput reveals the output channel and returns its last lines. An
// optional argument sets the line count; 0 returns everything.
func (e *Ext) cmdShowOutput(_ context.Context, args ...any) (any, error) {
	out := e.Output()
	if out == nil {
		return nil, ErrNotActive
	}
	tail := defaultShowOutputTailLines
	if len(args) > 0 {
		n, ok := number(args[0])
		if !ok {
			return nil, fmt.Errorf("%w: tail must be a number, got %T", ErrInvalidArgument, args[0])
		}
		tail = int(n)
	}
	out.Show()
	return out.Lines(tail), nil
}

func (e *Ext) cmdFindConfigPath(context.Context, ...any) (any, error) {
	path, err := neon.Find(e.Settings().ConfigPath, e.root)
	if err != nil {
		return nil, &StatusError{Source: SourceConfigPath, Err: err}
	}
	e.appendOutput("# Config path: " + path)
	return path, nil
}

func (e *Ext) cmdLoadConfig(context.Context, ...any) (any, error) {
	s := e.Settings()
	path, err := neon.Find(s.ConfigPath, e.root)
	if err != nil {
		return nil, &StatusError{Source: SourceConfigPath, Err: err}
	}
	cfg, err := neon.Parse(path, neon.NewEnv(e.root, s.Path), e.root)
	if err != nil {
		return nil, &StatusError{Source: SourceParseConfig, Err: err}
	}
	e.dumpConfig(path, cfg)
	return cfg, nil
}

// setFileWatcher opens or closes the watcher gate. Opening it triggers an
// immediate analysis.
func (e *Ext) setFileWatcher(enabled bool) error {
	e.mu.Lock()
	e.watcherEnabled = enabled
	e.mu.Unlock()

	e.logger.Info("file watcher", slog.Bool("enabled", enabled))
	if !enabled {
		if !e.Analysing() {
			e.clearStatus()
		}
		return nil
	}
	e.clearStatus()
	return e.schedule(0, nil)
}

// =============================================================================
// Argument decoding
// =============================================================================

// number accepts Go numbers, decoded JSON numbers and numeric strings.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func millis(v any) (time.Duration, bool) {
	if d, ok := v.(time.Duration); ok {
		return d, true
	}
	n, ok := number(v)
	if !ok || n < 0 || math.IsNaN(n) {
		return 0, false
	}
	return time.Duration(n) * time.Millisecond, true
}

func stringArgs(args []any) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, a := range args {
		s, ok := a.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expected a path, got %T", ErrInvalidArgument, a)
		}
		out = append(out, s)
	}
	return out, nil
}

// pathArgs decodes analyser path arguments.
func pathArgs(args []any) ([]string, error) {
	paths, err := stringArgs(args)
	if err != nil {
		return nil, err
	}
	if err := checkPaths(paths); err != nil {
		return nil, err
	}
	return paths, nil
}

func checkPaths(paths []string) error {
	if err := validation.ValidatePaths(paths); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return nil
}

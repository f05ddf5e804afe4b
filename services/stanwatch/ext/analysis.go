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
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/stanwatch/services/stanwatch/diagnostic"
	"github.com/AleutianAI/stanwatch/services/stanwatch/host"
	"github.com/AleutianAI/stanwatch/services/stanwatch/process"
	"github.com/AleutianAI/stanwatch/services/stanwatch/result"
	"github.com/AleutianAI/stanwatch/services/stanwatch/settings"
)

// AnalysisSummary is the payload of an EventAnalysis event.
type AnalysisSummary struct {
	RunID       string        `json:"runId"`
	Paths       []string      `json:"paths,omitempty"`
	Files       int           `json:"files"`
	Diagnostics int           `json:"diagnostics"`
	ExitCode    int           `json:"exitCode"`
	Duration    time.Duration `json:"duration"`
}

// analyseArgs builds the analyser argument list.
func analyseArgs(s settings.Settings, configPath string, paths []string) []string {
	args := []string{"-f", s.Path, "--", "analyse"}
	if configPath != "" {
		args = append(args, "-c", configPath)
	}
	if s.MemoryLimit != "" {
		args = append(args, "--memory-limit="+s.MemoryLimit)
	}
	args = append(args, "--error-format=json")
	return append(args, paths...)
}

// clearCacheArgs builds the argument list of the result cache purge.
func clearCacheArgs(s settings.Settings, configPath string) []string {
	args := []string{"-f", s.Path, "--", "clear-result-cache"}
	if configPath != "" {
		args = append(args, "-c", configPath)
	}
	return args
}

// schedule arms an analysis of paths (the whole project when empty) after d.
func (e *Ext) schedule(d time.Duration, paths []string) error {
	e.mu.Lock()
	task := e.analyseTask
	e.mu.Unlock()
	if task == nil {
		return ErrNotActive
	}
	return task.Schedule(func() error {
		_, err := e.run(e.runContext(), paths)
		return err
	}, d)
}

// RunAnalysis runs one analysis synchronously, bypassing the debounce.
//
// # Description
//
// The live analyser, if any, is superseded first. The returned set is nil
// when this run was itself superseded before it finished.
//
// # Outputs
//
//   - *diagnostic.Reconciled: What was published.
//   - error: A *StatusError for spawn and parse failures, ErrInvalidArgument
//     for a path that could be read as an option, ErrNotActive before
//     activation, or the context error.
func (e *Ext) RunAnalysis(ctx context.Context, paths ...string) (*diagnostic.Reconciled, error) {
	if err := checkPaths(paths); err != nil {
		return nil, err
	}
	e.killLive()
	rec, err := e.run(ctx, paths)
	var se *StatusError
	if errors.As(err, &se) {
		e.reportError(CommandAnalyse, err)
	}
	return rec, err
}

// run supersedes the live analyser, spawns a new one and publishes its
// report unless it was killed.
func (e *Ext) run(ctx context.Context, paths []string) (*diagnostic.Reconciled, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	e.supersede()

	e.mu.Lock()
	s, configPath := e.settings, e.configPath
	bar, out, diags := e.status, e.output, e.diags
	kills := e.kills
	e.mu.Unlock()
	if bar == nil || diags == nil {
		return nil, ErrNotActive
	}

	runID := uuid.NewString()
	ctx, span := startRunSpan(ctx, runID, paths)
	var runErr error
	defer func() { endSpan(span, runErr) }()

	logger := e.logger.With(slog.String("run_id", runID))
	args := analyseArgs(s, configPath, paths)
	out.AppendLine("# Analyse: " + s.PhpPath + " " + strings.Join(args, " "))
	bar.Set(analysingItem(0))

	started := time.Now()
	h, err := e.spawn(ctx, s.PhpPath, args, process.Options{
		Dir:      e.root,
		OnStdout: out.AppendLine,
		OnStderr: func(line string) {
			out.AppendLine(line)
			if n, ok := parseProgress(line); ok {
				bar.Set(analysingItem(n))
			}
		},
	})
	if err != nil {
		e.metrics.run(OutcomeSpawnError, 0)
		runErr = &StatusError{Source: SourceSpawn, Err: err}
		return nil, runErr
	}

	e.mu.Lock()
	stopped := e.kills != kills
	if !stopped {
		e.live = h
	}
	e.mu.Unlock()
	if stopped {
		process.Kill(h)
	}
	e.metrics.active(1)
	logger.Info("analysis started", slog.Int("pid", h.PID()), slog.Int("paths", len(paths)))

	info, err := h.Wait(ctx)
	e.metrics.active(-1)
	e.mu.Lock()
	if e.live == h {
		e.live = nil
	}
	e.mu.Unlock()

	if err != nil {
		process.Kill(h)
		<-h.Done()
		e.metrics.run(OutcomeInterrupted, time.Since(started))
		runErr = err
		return nil, err
	}
	if info.Killed {
		e.metrics.run(OutcomeSuperseded, info.Duration)
		logger.Info("analysis superseded", slog.Duration("duration", info.Duration))
		return nil, nil
	}

	res, err := result.Parse([]byte(info.Stdout))
	if err != nil {
		e.metrics.run(OutcomeParseError, info.Duration)
		runErr = &StatusError{Source: SourceResultParse, Err: err}
		return nil, runErr
	}

	reconciler := diagnostic.Reconciler{Source: DisplayName, Mappings: s.Mappings(), Root: e.root}
	rec := reconciler.Reconcile(res, configPath)

	diags.Clear()
	diags.Publish(rec)

	e.metrics.run(OutcomeSuccess, info.Duration)
	span.SetAttributes(
		attribute.Int("stanwatch.diagnostics", rec.Count()),
		attribute.Int("stanwatch.exit_code", info.Code),
	)
	logger.Info("analysis finished",
		slog.Int("exit_code", info.Code),
		slog.Int("files", len(rec.Files)),
		slog.Int("diagnostics", rec.Count()),
		slog.Duration("duration", info.Duration))
	e.hub.Publish(host.EventAnalysis, AnalysisSummary{
		RunID:       runID,
		Paths:       paths,
		Files:       len(rec.Files),
		Diagnostics: rec.Count(),
		ExitCode:    info.Code,
		Duration:    info.Duration,
	})

	e.clearStatus()
	return rec, nil
}

// supersede kills the live analyser and waits for it to exit.
func (e *Ext) supersede() {
	e.mu.Lock()
	h := e.live
	e.mu.Unlock()
	if h == nil {
		return
	}
	process.Kill(h)
	<-h.Done()
}

// clearCache purges the analyser result cache, streaming its output.
func (e *Ext) clearCache(ctx context.Context) (int, error) {
	e.mu.Lock()
	s, configPath := e.settings, e.configPath
	bar, out := e.status, e.output
	e.mu.Unlock()
	if bar == nil {
		return 0, ErrNotActive
	}

	args := clearCacheArgs(s, configPath)
	out.AppendLine("# Clear cache: " + s.PhpPath + " " + strings.Join(args, " "))
	bar.Set(clearingCacheItem())

	h, err := e.spawn(ctx, s.PhpPath, args, process.Options{
		Dir:      e.root,
		OnStdout: out.AppendLine,
		OnStderr: out.AppendLine,
	})
	if err != nil {
		return 0, &StatusError{Source: SourceClearCache, Err: err}
	}
	info, err := h.Wait(ctx)
	if err != nil {
		process.Kill(h)
		return 0, err
	}
	e.clearStatus()
	return info.Code, nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/stanwatch/pkg/logging"
	"github.com/AleutianAI/stanwatch/pkg/ux"
	"github.com/AleutianAI/stanwatch/services/stanwatch/diagnostic"
	"github.com/AleutianAI/stanwatch/services/stanwatch/ext"
	"github.com/AleutianAI/stanwatch/services/stanwatch/settings"
)

var errDisabled = errors.New("the integration is disabled in the settings")

func newAnalyseCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "analyse [paths...]",
		Short: "Run one analysis and print its diagnostics",
		Long: `Runs PHPStan once for the workspace, or for the given paths, and prints
every diagnostic as file:line:col: message. Exits with status 1 when
diagnostics were reported.`,
		Aliases: []string{"analyze"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyse(cmd, opts, args)
		},
	}
}

func newClearCacheCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache",
		Short: "Clear the PHPStan result cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClearCache(cmd, opts)
		},
	}
}

func newConfigCmd(opts *globalOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the PHPStan configuration",
	}
	configCmd.AddCommand(
		&cobra.Command{
			Use:   "find",
			Short: "Print the discovered config file path",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigFind(cmd, opts)
			},
		},
		&cobra.Command{
			Use:   "load",
			Short: "Print the resolved config as JSON",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runConfigLoad(cmd, opts)
			},
		},
	)
	return configCmd
}

// =============================================================================
// One-shot integration
// =============================================================================

// oneShot activates an integration with every watcher and the initial
// analysis turned off. The caller deactivates it.
func oneShot(ctx context.Context, cmd *cobra.Command, opts *globalOptions) (*ext.Ext, error) {
	s, err := settings.Load(opts.settingsFile())
	if err != nil {
		return nil, err
	}
	s.FileWatcher = false
	s.ConfigFileWatcher = false
	s.InitialAnalysis = false

	extOpts := []ext.Option{ext.WithLogger(slog.Default())}
	if lvl, _ := logging.ParseLevel(opts.logLevel); lvl == logging.LevelDebug {
		extOpts = append(extOpts, ext.WithOutputMirror(cmd.ErrOrStderr()))
	}

	e := ext.New(opts.root, settings.Static(s), extOpts...)
	if err := e.Activate(ctx); err != nil {
		e.Deactivate()
		return nil, err
	}
	if e.State() != ext.StateActive {
		e.Deactivate()
		return nil, errDisabled
	}
	return e, nil
}

func runAnalyse(cmd *cobra.Command, opts *globalOptions, paths []string) error {
	ctx := cmd.Context()
	e, err := oneShot(ctx, cmd, opts)
	if err != nil {
		return err
	}
	defer e.Deactivate()

	rec, err := e.RunAnalysis(ctx, paths...)
	if err != nil {
		return err
	}
	if rec == nil {
		return errors.New("analysis was interrupted")
	}

	printReconciled(cmd.OutOrStdout(), opts.root, rec)
	if rec.Count() > 0 {
		return errDiagnosticsFound
	}
	return nil
}

func runClearCache(cmd *cobra.Command, opts *globalOptions) error {
	ctx := cmd.Context()
	e, err := oneShot(ctx, cmd, opts)
	if err != nil {
		return err
	}
	defer e.Deactivate()

	res, err := e.Commands().Execute(ctx, ext.CommandClearCache)
	if err != nil {
		return err
	}
	if m, ok := res.(map[string]int); ok && m["exitCode"] != 0 {
		return fmt.Errorf("clear-result-cache exited with status %d", m["exitCode"])
	}
	ux.Success(cmd.OutOrStdout(), "Result cache cleared")
	return nil
}

func runConfigFind(cmd *cobra.Command, opts *globalOptions) error {
	ctx := cmd.Context()
	e, err := oneShot(ctx, cmd, opts)
	if err != nil {
		return err
	}
	defer e.Deactivate()

	res, err := e.Commands().Execute(ctx, ext.CommandFindPHPStanConfig)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), res)
	return nil
}

func runConfigLoad(cmd *cobra.Command, opts *globalOptions) error {
	ctx := cmd.Context()
	e, err := oneShot(ctx, cmd, opts)
	if err != nil {
		return err
	}
	defer e.Deactivate()

	res, err := e.Commands().Execute(ctx, ext.CommandLoadPHPStanConfig)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// =============================================================================
// Rendering
// =============================================================================

// printReconciled writes one line per diagnostic, files in sorted order, then
// the report-level errors and a summary.
func printReconciled(w io.Writer, root string, rec *diagnostic.Reconciled) {
	for _, path := range rec.Paths() {
		display := relPath(root, path)
		for _, d := range rec.Files[path] {
			fmt.Fprintln(w, ux.DiagnosticLine(d.Location(display), d.Message, d.Tip))
		}
	}
	if len(rec.Global) > 0 {
		display := relPath(root, rec.GlobalPath)
		for _, d := range rec.Global {
			fmt.Fprintln(w, ux.DiagnosticLine(d.Location(display), d.Message, d.Tip))
		}
	}
	ux.Summary(w, len(rec.Files), rec.Count())
}

// relPath shortens paths inside root.
func relPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return rel
}

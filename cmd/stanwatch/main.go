// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command stanwatch runs PHPStan for a workspace and serves its diagnostics
// to editors.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/stanwatch/pkg/logging"
	"github.com/AleutianAI/stanwatch/pkg/ux"
)

// defaultSettingsFile is looked up in the workspace root when --settings is
// not given.
const defaultSettingsFile = ".stanwatch.yaml"

// errDiagnosticsFound makes a one-shot analysis exit with status 1 without
// printing anything more.
var errDiagnosticsFound = errors.New("diagnostics found")

// globalOptions holds the persistent flags and what PersistentPreRunE
// derives from them.
type globalOptions struct {
	root         string
	settingsPath string
	logLevel     string
	logJSON      bool
	logDir       string
	output       string

	logger *logging.Logger
}

// settingsFile returns the settings file path: the flag when given, else the
// default file in the workspace root.
func (o *globalOptions) settingsFile() string {
	if o.settingsPath != "" {
		return o.settingsPath
	}
	return filepath.Join(o.root, defaultSettingsFile)
}

func (o *globalOptions) close() {
	if o.logger != nil {
		if err := o.logger.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "closing log file: %v\n", err)
		}
	}
}

func newRootCmd(opts *globalOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stanwatch",
		Short: "Run PHPStan for a workspace and serve its diagnostics",
		Long: `stanwatch watches a PHP workspace, runs PHPStan when sources or its
configuration change and publishes the resulting diagnostics to editors
over HTTP and WebSocket.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.init(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.root, "root", "", "workspace root (default: current directory)")
	flags.StringVar(&opts.settingsPath, "settings", "", "settings file (default: <root>/"+defaultSettingsFile+")")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flags.BoolVar(&opts.logJSON, "log-json", false, "log JSON to stderr")
	flags.StringVar(&opts.logDir, "log-dir", "", "also write JSON logs to a daily file in this directory")
	flags.StringVar(&opts.output, "output", "", "output style: full, minimal or machine (default: detect)")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newAnalyseCmd(opts),
		newClearCacheCmd(opts),
		newConfigCmd(opts),
	)
	return rootCmd
}

// init sets up logging and output style and resolves the workspace root.
func (o *globalOptions) init(cmd *cobra.Command) error {
	level, err := logging.ParseLevel(o.logLevel)
	if err != nil {
		return err
	}
	o.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  o.logDir,
		Service: "stanwatch",
		JSON:    o.logJSON,
		Writer:  cmd.ErrOrStderr(),
	})
	slog.SetDefault(o.logger.Slog())

	if o.output != "" {
		ux.SetLevel(ux.ParseLevel(o.output))
	} else {
		ux.InitPersonality()
	}

	if o.root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolving workspace root: %w", err)
		}
		o.root = wd
	}
	abs, err := filepath.Abs(o.root)
	if err != nil {
		return fmt.Errorf("resolving workspace root: %w", err)
	}
	o.root = abs
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command tree and maps its error to an exit status: 1 when
// an analysis reported diagnostics, 2 on any other failure.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts := &globalOptions{}
	defer opts.close()

	rootCmd := newRootCmd(opts)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, errDiagnosticsFound) {
			return 1
		}
		ux.Error(stderr, err.Error())
		return 2
	}
	return 0
}

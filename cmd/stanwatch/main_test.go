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
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/stanwatch/pkg/extensions"
	"github.com/AleutianAI/stanwatch/pkg/ux"
	"github.com/AleutianAI/stanwatch/services/stanwatch/diagnostic"
)

// fakeEnv makes the test binary behave like the analyser.
const fakeEnv = "STANWATCH_FAKE_PHPSTAN"

func TestMain(m *testing.M) {
	if mode := os.Getenv(fakeEnv); mode != "" {
		os.Exit(fakePHPStan(mode, os.Args[1:]))
	}
	os.Exit(m.Run())
}

func fakePHPStan(mode string, args []string) int {
	for _, a := range args {
		if a == "clear-result-cache" {
			if mode == "broken-cache" {
				fmt.Fprintln(os.Stderr, "cannot clear")
				return 3
			}
			fmt.Println("Result cache cleared from directory:")
			return 0
		}
	}
	switch mode {
	case "report":
		fmt.Print(`{"totals":{"errors":0,"file_errors":1},"files":{"src/A.php":{"errors":1,"messages":[{"message":"Undefined variable: $y","line":2,"ignorable":true}]}},"errors":[]}`)
		return 1
	case "clean":
		fmt.Print(`{"totals":{"errors":0,"file_errors":0},"files":[],"errors":[]}`)
		return 0
	}
	return 99
}

// =============================================================================
// Fixtures
// =============================================================================

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// newWorkspace creates a root whose settings run the test binary as PHP.
func newWorkspace(t *testing.T, extraSettings string) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "phpstan.neon"), "parameters:\n\tlevel: 5\n\tpaths:\n\t\t- src\n")
	writeFile(t, filepath.Join(root, "src", "A.php"), "<?php\n    $x = $y;\n")
	writeFile(t, filepath.Join(root, defaultSettingsFile),
		fmt.Sprintf("phpPath: %q\n%s", os.Args[0], extraSettings))
	return root
}

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	t.Cleanup(func() { ux.SetLevel(ux.PersonalityFull) })

	var stdout, stderr bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	code := run(ctx, append([]string{"--output", "machine", "--log-level", "error"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// =============================================================================
// analyse
// =============================================================================

func TestAnalyse_PrintsDiagnosticsAndFails(t *testing.T) {
	t.Setenv(fakeEnv, "report")
	root := newWorkspace(t, "")

	code, stdout, stderr := execute(t, "--root", root, "analyse")
	require.Equal(t, 1, code, stderr)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 2, stdout)
	assert.Equal(t, filepath.Join("src", "A.php")+":2:5: Undefined variable: $y", lines[0])
	assert.Equal(t, "SUMMARY: files=1 diagnostics=1", lines[1])
}

func TestAnalyse_CleanRunSucceeds(t *testing.T) {
	t.Setenv(fakeEnv, "clean")
	root := newWorkspace(t, "")

	code, stdout, stderr := execute(t, "--root", root, "analyse", "src")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "SUMMARY: files=0 diagnostics=0\n", stdout)
}

func TestAnalyse_Disabled(t *testing.T) {
	root := newWorkspace(t, "enabled: false\n")

	code, _, stderr := execute(t, "--root", root, "analyse")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "disabled")
}

func TestAnalyse_InvalidSettings(t *testing.T) {
	root := newWorkspace(t, "analysedDelay: -5\n")

	code, _, stderr := execute(t, "--root", root, "analyse")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "AnalysedDelay")
}

func TestAnalyse_ExplicitSettingsFile(t *testing.T) {
	t.Setenv(fakeEnv, "clean")
	root := newWorkspace(t, "enabled: false\n")
	other := filepath.Join(t.TempDir(), "custom.yaml")
	writeFile(t, other, fmt.Sprintf("phpPath: %q\n", os.Args[0]))

	code, _, stderr := execute(t, "--root", root, "--settings", other, "analyse")
	assert.Equal(t, 0, code, stderr)
}

// =============================================================================
// clear-cache / config
// =============================================================================

func TestClearCache(t *testing.T) {
	t.Setenv(fakeEnv, "report")
	root := newWorkspace(t, "")

	code, stdout, stderr := execute(t, "--root", root, "clear-cache")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, "OK: Result cache cleared\n", stdout)
}

func TestClearCache_NonZeroExit(t *testing.T) {
	t.Setenv(fakeEnv, "broken-cache")
	root := newWorkspace(t, "")

	code, _, stderr := execute(t, "--root", root, "clear-cache")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "exited with status 3")
}

func TestConfigFind(t *testing.T) {
	root := newWorkspace(t, "")

	code, stdout, stderr := execute(t, "--root", root, "config", "find")
	require.Equal(t, 0, code, stderr)
	assert.Equal(t, filepath.Join(root, "phpstan.neon")+"\n", stdout)
}

func TestConfigFind_Missing(t *testing.T) {
	root := newWorkspace(t, "")
	require.NoError(t, os.Remove(filepath.Join(root, "phpstan.neon")))

	code, _, stderr := execute(t, "--root", root, "config", "find")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Config path error")
}

func TestConfigLoad(t *testing.T) {
	root := newWorkspace(t, "")

	code, stdout, stderr := execute(t, "--root", root, "config", "load")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, `"parameters"`)
	assert.Contains(t, stdout, `"paths"`)
}

// =============================================================================
// Flags
// =============================================================================

func TestUnknownLogLevel(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--output", "machine", "--log-level", "loud", "config", "find"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "unknown log level")
	ux.SetLevel(ux.PersonalityFull)
}

func TestSettingsFile(t *testing.T) {
	o := &globalOptions{root: "/work"}
	assert.Equal(t, filepath.Join("/work", defaultSettingsFile), o.settingsFile())

	o.settingsPath = "/etc/stanwatch.yaml"
	assert.Equal(t, "/etc/stanwatch.yaml", o.settingsFile())
}

// =============================================================================
// Rendering
// =============================================================================

func TestRelPath(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "work")
	tests := []struct {
		path string
		want string
	}{
		{filepath.Join(root, "src", "A.php"), filepath.Join("src", "A.php")},
		{filepath.Join(string(filepath.Separator), "elsewhere", "B.php"), filepath.Join(string(filepath.Separator), "elsewhere", "B.php")},
		{root, "."},
		{"relative.php", "relative.php"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, relPath(root, tt.path), tt.path)
	}
}

func TestPrintReconciled(t *testing.T) {
	ux.SetLevel(ux.PersonalityMachine)
	defer ux.SetLevel(ux.PersonalityFull)

	root := filepath.Join(string(filepath.Separator), "work")
	at := func(line, col int) diagnostic.Range {
		return diagnostic.Range{
			Start: diagnostic.Position{Line: line, Character: col},
			End:   diagnostic.Position{Line: line, Character: col + 1},
		}
	}
	rec := &diagnostic.Reconciled{
		Files: map[string][]diagnostic.Diagnostic{
			filepath.Join(root, "b.php"): {{Range: at(4, 0), Message: "second"}},
			filepath.Join(root, "a.php"): {{Range: at(0, 2), Message: "first", Tip: "a tip"}},
		},
		Global:     []diagnostic.Diagnostic{{Message: "bootstrap failed"}},
		GlobalPath: filepath.Join(root, "phpstan.neon"),
	}

	var buf bytes.Buffer
	printReconciled(&buf, root, rec)
	assert.Equal(t, "a.php:1:3: first\n"+
		"b.php:5:1: second\n"+
		"phpstan.neon:1:1: bootstrap failed\n"+
		"SUMMARY: files=2 diagnostics=3\n", buf.String())
}

func TestServeOptions_Extensions(t *testing.T) {
	t.Setenv(tokenEnv, "")

	opts := (&serveOptions{}).extensions()
	assert.IsType(t, &extensions.NopAuthProvider{}, opts.AuthProvider)
	assert.IsType(t, &extensions.SlogAuditLogger{}, opts.AuditLogger)

	opts = (&serveOptions{token: "flag"}).extensions()
	_, err := opts.AuthProvider.Validate(context.Background(), "flag")
	assert.NoError(t, err)

	t.Setenv(tokenEnv, "env")
	opts = (&serveOptions{}).extensions()
	_, err = opts.AuthProvider.Validate(context.Background(), "env")
	assert.NoError(t, err)
	_, err = opts.AuthProvider.Validate(context.Background(), "flag")
	assert.ErrorIs(t, err, extensions.ErrUnauthorized)
}

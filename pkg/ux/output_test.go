// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"strings"
	"testing"
)

func withLevel(t *testing.T, level PersonalityLevel) {
	t.Helper()
	orig := Level()
	SetLevel(level)
	t.Cleanup(func() { SetLevel(orig) })
}

// =============================================================================
// Codicons / StatusLine Tests
// =============================================================================

func TestCodicons_Machine(t *testing.T) {
	withLevel(t, PersonalityMachine)

	got := Codicons("$(sync~spin) PHPStan analysing...")
	if got != "⟳ PHPStan analysing..." {
		t.Errorf("unexpected spin rendering %q", got)
	}
	if got := Codicons("$(error) PHPStan"); got != "✗ PHPStan" {
		t.Errorf("unexpected error rendering %q", got)
	}
	if got := Codicons("$(debug-pause) PHPStan"); got != "⏸ PHPStan" {
		t.Errorf("unexpected pause rendering %q", got)
	}
}

func TestStatusLine_Empty(t *testing.T) {
	if got := StatusLine("", "tooltip"); got != "" {
		t.Errorf("expected empty status line, got %q", got)
	}
}

func TestStatusLine_Tooltip(t *testing.T) {
	withLevel(t, PersonalityMachine)
	if got := StatusLine("$(error) PHPStan", "Spawn error: not found"); got != "✗ PHPStan" {
		t.Errorf("machine output should drop tooltip, got %q", got)
	}

	withLevel(t, PersonalityMinimal)
	if got := StatusLine("$(error) PHPStan", "Spawn error"); got != "✗ PHPStan (Spawn error)" {
		t.Errorf("unexpected minimal status %q", got)
	}
}

func TestStatusLine_Full(t *testing.T) {
	withLevel(t, PersonalityFull)
	got := StatusLine("$(error) PHPStan", "Spawn error")
	if !strings.Contains(got, "PHPStan") || !strings.Contains(got, "Spawn error") {
		t.Errorf("full status should contain text and tooltip, got %q", got)
	}
}

// =============================================================================
// DiagnosticLine Tests
// =============================================================================

func TestDiagnosticLine_Machine(t *testing.T) {
	withLevel(t, PersonalityMachine)
	got := DiagnosticLine("/a.php:5:3", "Undefined variable $x", "ignored tip")
	if got != "/a.php:5:3: Undefined variable $x" {
		t.Errorf("unexpected machine line %q", got)
	}
}

func TestDiagnosticLine_MinimalWithTip(t *testing.T) {
	withLevel(t, PersonalityMinimal)
	got := DiagnosticLine("/a.php:1:1", "msg", "try this")
	if !strings.HasPrefix(got, "✗ /a.php:1:1: msg") {
		t.Errorf("unexpected minimal line %q", got)
	}
	if !strings.Contains(got, "• try this") {
		t.Errorf("tip missing from %q", got)
	}
}

// =============================================================================
// Writer helpers
// =============================================================================

func TestWriters_Machine(t *testing.T) {
	withLevel(t, PersonalityMachine)

	tests := []struct {
		name string
		fn   func(*bytes.Buffer)
		want string
	}{
		{"success", func(b *bytes.Buffer) { Success(b, "done") }, "OK: done\n"},
		{"warning", func(b *bytes.Buffer) { Warning(b, "careful") }, "WARN: careful\n"},
		{"error", func(b *bytes.Buffer) { Error(b, "broken") }, "ERROR: broken\n"},
		{"info", func(b *bytes.Buffer) { Info(b, "note") }, "note\n"},
		{"summary", func(b *bytes.Buffer) { Summary(b, 2, 7) }, "SUMMARY: files=2 diagnostics=7\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.fn(&buf)
			if buf.String() != tt.want {
				t.Errorf("got %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestSummary_NoErrors(t *testing.T) {
	withLevel(t, PersonalityMinimal)
	var buf bytes.Buffer
	Summary(&buf, 0, 0)
	if !strings.Contains(buf.String(), "No errors") {
		t.Errorf("expected 'No errors', got %q", buf.String())
	}
}

// =============================================================================
// Personality Tests
// =============================================================================

func TestParseLevel(t *testing.T) {
	tests := map[string]PersonalityLevel{
		"full":    PersonalityFull,
		"MIN":     PersonalityMinimal,
		"quiet":   PersonalityMachine,
		"plain":   PersonalityMachine,
		"unknown": PersonalityFull,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInitPersonality_Env(t *testing.T) {
	orig := Level()
	defer SetLevel(orig)

	t.Setenv(outputEnv, "minimal")
	InitPersonality()
	if Level() != PersonalityMinimal {
		t.Errorf("expected minimal from env, got %v", Level())
	}
}

func TestIsTerminal_Buffer(t *testing.T) {
	if IsTerminal(&bytes.Buffer{}) {
		t.Error("a buffer is never a terminal")
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diagnostic

import (
	"bufio"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
	"unicode/utf16"

	"github.com/AleutianAI/stanwatch/services/stanwatch/result"
)

// DefaultSource is the Source attribute of published diagnostics.
const DefaultSource = "PHPStan"

// =============================================================================
// Line reading
// =============================================================================

// LineReader returns the lines of a source file.
type LineReader interface {
	ReadLines(path string) ([]string, error)
}

// LineReaderFunc adapts a function to LineReader.
type LineReaderFunc func(path string) ([]string, error)

// ReadLines implements LineReader.
func (f LineReaderFunc) ReadLines(path string) ([]string, error) {
	return f(path)
}

// FileLines reads lines from the local filesystem.
type FileLines struct{}

// ReadLines implements LineReader. Line terminators are removed.
func (FileLines) ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	br := bufio.NewReader(f)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			lines = append(lines, strings.TrimRight(line, "\r\n"))
		}
		if errors.Is(err, io.EOF) {
			return lines, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// =============================================================================
// Reconciler
// =============================================================================

// Reconciled is the diagnostic set produced from one report.
type Reconciled struct {
	// Files maps target paths to their diagnostics.
	Files map[string][]Diagnostic `json:"files"`

	// Global holds report-level errors not tied to a source file.
	Global []Diagnostic `json:"global,omitempty"`

	// GlobalPath is where Global is attached: the config file, or ".".
	GlobalPath string `json:"globalPath,omitempty"`
}

// Paths returns the target paths in sorted order, GlobalPath excluded.
func (r *Reconciled) Paths() []string {
	out := make([]string, 0, len(r.Files))
	for p := range r.Files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Count returns the total number of diagnostics.
func (r *Reconciled) Count() int {
	n := len(r.Global)
	for _, d := range r.Files {
		n += len(d)
	}
	return n
}

// Reconciler maps reports onto diagnostics.
//
// The zero value is usable: it reads lines from disk, applies no mappings and
// tags diagnostics with DefaultSource.
type Reconciler struct {
	// Source tags every diagnostic.
	Source string

	// Mappings rewrite reported paths before they become targets.
	Mappings []PathMapping

	// Root resolves mapped paths that are relative.
	Root string

	// Lines reads source files to narrow ranges.
	Lines LineReader
}

// Reconcile builds diagnostics for res.
//
// # Description
//
// Global errors become zero-width diagnostics at 0:0 attached to configPath
// (or "." when empty). Each reported path has its context suffix stripped and
// its mapping applied; variants of the same file merge onto one target in
// report order. A 1-based line N lands on index N-1; an absent or zero line
// lands on 0. When the target line is readable the range covers its
// non-whitespace span, otherwise it is zero-width at column 0. Each file is
// read at most once and a read failure only affects that file.
func (r *Reconciler) Reconcile(res *result.Result, configPath string) *Reconciled {
	source := r.Source
	if source == "" {
		source = DefaultSource
	}
	reader := r.Lines
	if reader == nil {
		reader = FileLines{}
	}

	out := &Reconciled{Files: make(map[string][]Diagnostic)}
	if res == nil {
		return out
	}

	if len(res.Errors) > 0 {
		out.GlobalPath = configPath
		if out.GlobalPath == "" {
			out.GlobalPath = "."
		}
		for _, msg := range res.Errors {
			out.Global = append(out.Global, Diagnostic{
				Severity: SeverityError,
				Message:  msg,
				Source:   source,
			})
		}
	}

	cache := make(map[string][]string)
	read := func(path string) []string {
		if lines, ok := cache[path]; ok {
			return lines
		}
		lines, err := reader.ReadLines(path)
		if err != nil {
			lines = nil
		}
		cache[path] = lines
		return lines
	}

	for _, reported := range res.Files.Paths() {
		target := r.target(reported)
		lines := read(target)

		for _, m := range res.Files[reported].Messages {
			line := 0
			if m.Line != nil && *m.Line > 0 {
				line = *m.Line - 1
			}
			out.Files[target] = append(out.Files[target], Diagnostic{
				Range:     lineRange(lines, line),
				Severity:  SeverityError,
				Message:   m.Message,
				Source:    source,
				Code:      m.Identifier,
				Tip:       m.Tip,
				Ignorable: m.Ignorable,
			})
		}
	}
	return out
}

func (r *Reconciler) target(reported string) string {
	p := MapPath(StripContext(reported), r.Mappings)
	if r.Root != "" && !filepath.IsAbs(p) {
		p = filepath.Join(r.Root, p)
	}
	return SanitizeFsPath(p)
}

// lineRange spans the non-whitespace part of lines[line].
func lineRange(lines []string, line int) Range {
	zero := Range{Start: Position{Line: line}, End: Position{Line: line}}
	if line >= len(lines) {
		return zero
	}
	start, end, ok := TrimSpan(lines[line])
	if !ok {
		return zero
	}
	return Range{
		Start: Position{Line: line, Character: start},
		End:   Position{Line: line, Character: end},
	}
}

// TrimSpan returns the UTF-16 offsets of the first and one past the last
// non-whitespace character of s. ok is false for blank lines.
func TrimSpan(s string) (start, end int, ok bool) {
	pos := 0
	first := -1
	for _, r := range s {
		width := utf16.RuneLen(r)
		if width < 0 {
			width = 1
		}
		if !unicode.IsSpace(r) {
			if first < 0 {
				first = pos
			}
			end = pos + width
		}
		pos += width
	}
	if first < 0 {
		return 0, 0, false
	}
	return first, end, true
}

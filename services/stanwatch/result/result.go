// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package result decodes the JSON report printed by
// `phpstan analyse --error-format=json`.
package result

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// excerptLimit bounds the output carried by MalformedOutputError.
const excerptLimit = 512

// ErrMalformedOutput indicates stdout was not a PHPStan JSON report.
var ErrMalformedOutput = errors.New("malformed phpstan output")

// MalformedOutputError carries the decode failure and an excerpt of stdout.
type MalformedOutputError struct {
	Excerpt string
	Err     error
}

func (e *MalformedOutputError) Error() string {
	if e.Excerpt == "" {
		return fmt.Sprintf("%v: %v", ErrMalformedOutput, e.Err)
	}
	return fmt.Sprintf("%v: %v: %q", ErrMalformedOutput, e.Err, e.Excerpt)
}

func (e *MalformedOutputError) Unwrap() error {
	return ErrMalformedOutput
}

// =============================================================================
// Types
// =============================================================================

// Result is a complete analysis report.
type Result struct {
	Totals Totals   `json:"totals"`
	Files  FileMap  `json:"files"`
	Errors []string `json:"-"`
}

// Totals summarises a report.
type Totals struct {
	Errors     int `json:"errors"`
	FileErrors int `json:"file_errors"`
}

// File holds the messages reported for one path.
type File struct {
	Errors   int       `json:"errors"`
	Messages []Message `json:"messages"`
}

// Message is one reported problem.
type Message struct {
	Message    string `json:"message"`
	Line       *int   `json:"line"`
	Ignorable  bool   `json:"ignorable"`
	Tip        string `json:"tip,omitempty"`
	Identifier string `json:"identifier,omitempty"`
}

// FileMap maps reported paths to their messages. PHPStan encodes an empty
// map as `[]`.
type FileMap map[string]File

// UnmarshalJSON implements json.Unmarshaler.
func (m *FileMap) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*m = nil
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return err
		}
		if len(list) != 0 {
			return errors.New("files: expected object or empty array")
		}
		*m = FileMap{}
		return nil
	}
	var raw map[string]File
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return err
	}
	*m = raw
	return nil
}

// Paths returns the reported paths in sorted order.
func (m FileMap) Paths() []string {
	out := make([]string, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// Parse
// =============================================================================

// Parse decodes a report.
//
// # Description
//
// Empty, truncated or non-JSON output fails with a *MalformedOutputError.
// Non-string entries in the global errors array are stringified.
func Parse(stdout []byte) (*Result, error) {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 {
		return nil, &MalformedOutputError{Err: errors.New("empty output")}
	}

	var wire struct {
		Result
		RawErrors []json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return nil, &MalformedOutputError{Excerpt: excerpt(trimmed), Err: err}
	}

	res := wire.Result
	if res.Files == nil {
		res.Files = FileMap{}
	}
	res.Errors = make([]string, 0, len(wire.RawErrors))
	for _, raw := range wire.RawErrors {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			res.Errors = append(res.Errors, s)
			continue
		}
		res.Errors = append(res.Errors, string(bytes.TrimSpace(raw)))
	}
	return &res, nil
}

// Count returns the number of file messages plus global errors.
func (r *Result) Count() int {
	n := len(r.Errors)
	for _, f := range r.Files {
		n += len(f.Messages)
	}
	return n
}

func excerpt(b []byte) string {
	if len(b) <= excerptLimit {
		return string(b)
	}
	cut := excerptLimit
	for cut > 0 && !utf8.RuneStart(b[cut]) {
		cut--
	}
	return string(b[:cut]) + "..."
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package diagnostic turns PHPStan reports into editor diagnostics.
//
// Positions follow the LSP convention: zero-based lines, characters counted
// in UTF-16 code units.
package diagnostic

import "fmt"

// Position is a zero-based location in a document.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range spans two positions. End is exclusive.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Severity uses LSP numbering.
type Severity int

const (
	SeverityError       Severity = 1
	SeverityWarning     Severity = 2
	SeverityInformation Severity = 3
	SeverityHint        Severity = 4
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInformation:
		return "information"
	case SeverityHint:
		return "hint"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Diagnostic is one problem attached to a document.
type Diagnostic struct {
	Range     Range    `json:"range"`
	Severity  Severity `json:"severity"`
	Message   string   `json:"message"`
	Source    string   `json:"source"`
	Code      string   `json:"code,omitempty"`
	Tip       string   `json:"tip,omitempty"`
	Ignorable bool     `json:"ignorable"`
}

// Location formats the diagnostic as file:line:col with one-based numbers.
func (d Diagnostic) Location(path string) string {
	return fmt.Sprintf("%s:%d:%d", path, d.Range.Start.Line+1, d.Range.Start.Character+1)
}

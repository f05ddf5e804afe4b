// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package neon

import (
	"errors"
	"fmt"
)

// Sentinel errors for config resolution.
var (
	// ErrConfigNotFound indicates no config file exists under the root.
	ErrConfigNotFound = errors.New("phpstan config not found")

	// ErrConfigParse indicates the config file is not valid NEON.
	ErrConfigParse = errors.New("phpstan config parse failed")
)

// ParseError describes a config file that could not be read or parsed.
type ParseError struct {
	// Path is the config file, empty when parsing raw bytes.
	Path string

	// Err is the read or syntax error.
	Err error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%v: %v", ErrConfigParse, e.Err)
	}
	return fmt.Sprintf("%v: %s: %v", ErrConfigParse, e.Path, e.Err)
}

// Unwrap returns ErrConfigParse and the cause.
func (e *ParseError) Unwrap() []error {
	return []error{ErrConfigParse, e.Err}
}

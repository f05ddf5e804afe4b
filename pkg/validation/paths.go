// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// Paths received from editors end up on the analyser command line. A value
// starting with a dash would be read as an option, and a NUL byte cannot be
// passed to a process at all, so both are rejected before spawning.
package validation

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPath is wrapped by every error of this package.
var ErrInvalidPath = errors.New("invalid path")

// ValidatePath validates one path argument for the analyser command line.
//
// Valid paths:
//   - are not empty or whitespace only
//   - do not start with "-"
//   - contain no NUL byte or line break
//
// Example:
//
//	if err := validation.ValidatePath(p); err != nil {
//	    return fmt.Errorf("analyse: %w", err)
//	}
//	// Safe to append after the analyser options
func ValidatePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("%w: path cannot be empty", ErrInvalidPath)
	}
	if strings.HasPrefix(path, "-") {
		return fmt.Errorf("%w: %q looks like an option", ErrInvalidPath, path)
	}
	if strings.ContainsAny(path, "\x00\n\r") {
		return fmt.Errorf("%w: %q contains a control character", ErrInvalidPath, path)
	}
	return nil
}

// ValidatePaths validates multiple paths.
// Returns an error listing all invalid paths if any fail validation.
func ValidatePaths(paths []string) error {
	var invalid []string
	for _, p := range paths {
		if err := ValidatePath(p); err != nil {
			invalid = append(invalid, fmt.Sprintf("%q", p))
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPath, strings.Join(invalid, ", "))
	}
	return nil
}

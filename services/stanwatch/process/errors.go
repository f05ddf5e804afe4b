// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for process operations.
var (
	// ErrSpawn indicates the process could not be started.
	ErrSpawn = errors.New("process could not be started")

	// ErrWait indicates the process output could not be collected after start.
	ErrWait = errors.New("process wait failed")

	// ErrInvalidInput indicates a nil context or empty command.
	ErrInvalidInput = errors.New("invalid input")
)

// SpawnError describes a failed process start.
//
// It matches both ErrSpawn and the underlying OS error with errors.Is, so
// callers can tell "binary not found" from "permission denied".
type SpawnError struct {
	// Command is the executable that failed to start.
	Command string

	// Args are the arguments it was started with.
	Args []string

	// Err is the error returned by the operating system.
	Err error
}

// Error implements the error interface.
func (e *SpawnError) Error() string {
	if len(e.Args) == 0 {
		return fmt.Sprintf("spawn %s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("spawn %s %s: %v", e.Command, strings.Join(e.Args, " "), e.Err)
}

// Unwrap returns ErrSpawn and the OS error.
func (e *SpawnError) Unwrap() []error {
	return []error{ErrSpawn, e.Err}
}

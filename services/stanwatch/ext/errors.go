// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ext

import (
	"errors"
	"fmt"
)

// Sentinel errors for the orchestrator.
var (
	// ErrNotActive indicates an operation that needs an active integration.
	ErrNotActive = errors.New("phpstan integration is not active")

	// ErrInvalidArgument indicates a command argument of the wrong type.
	ErrInvalidArgument = errors.New("invalid command argument")

	// ErrPanic is matched by every *PanicError.
	ErrPanic = errors.New("command panicked")
)

// Status sources. They head the error block in the output channel and the
// status tooltip.
const (
	SourceSettings    = "Settings error"
	SourceConfigPath  = "Config path error"
	SourceParseConfig = "Parse config error"
	SourceSpawn       = "Spawn error"
	SourceResultParse = "Result parse error"
	SourceClearCache  = "Clear cache error"
)

// StatusError is a failure that is shown on the status bar under Source.
type StatusError struct {
	Source string
	Err    error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %v", e.Source, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// PanicError is a recovered panic from a command handler.
type PanicError struct {
	Command string
	Value   any
	Stack   []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("command %s panicked: %v", e.Command, e.Value)
}

func (e *PanicError) Unwrap() error {
	return ErrPanic
}

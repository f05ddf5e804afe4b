// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package host

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Sentinel errors for command dispatch.
var (
	// ErrCommandExists indicates a name is already registered.
	ErrCommandExists = errors.New("command already registered")

	// ErrUnknownCommand indicates no handler is registered for a name.
	ErrUnknownCommand = errors.New("unknown command")
)

// Handler executes a command. args come from the caller as-is: Go values
// in-process, decoded JSON values over the control API.
type Handler func(ctx context.Context, args ...any) (any, error)

// CommandRegistry maps command names to handlers.
//
// # Thread Safety
//
// Safe for concurrent use. Handlers run on the caller's goroutine.
type CommandRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewCommandRegistry creates an empty registry.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{handlers: make(map[string]Handler)}
}

// Register adds a handler. The returned Disposable removes it.
func (r *CommandRegistry) Register(name string, h Handler) (Disposable, error) {
	if name == "" || h == nil {
		return nil, errors.New("command name and handler are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrCommandExists, name)
	}
	r.handlers[name] = h

	return DisposeFunc(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.handlers, name)
	}), nil
}

// Execute runs the handler registered for name.
func (r *CommandRegistry) Execute(ctx context.Context, name string, args ...any) (any, error) {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	return h(ctx, args...)
}

// Has reports whether name is registered.
func (r *CommandRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// Names returns the registered names in sorted order.
func (r *CommandRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

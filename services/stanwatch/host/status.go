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
	"fmt"
	"io"
	"sync"

	"github.com/AleutianAI/stanwatch/pkg/ux"
)

// StatusItem is the state of the status bar entry.
type StatusItem struct {
	Text    string `json:"text"`
	Tooltip string `json:"tooltip,omitempty"`
	Command string `json:"command,omitempty"`
	Visible bool   `json:"visible"`
}

// StatusOption configures a StatusBar.
type StatusOption func(*StatusBar)

// WithStatusHub publishes every change on hub.
func WithStatusHub(hub *Hub) StatusOption {
	return func(s *StatusBar) {
		s.hub = hub
	}
}

// WithStatusWriter renders the item to w on every change. On a terminal the
// line is redrawn in place; elsewhere one line is written per change.
func WithStatusWriter(w io.Writer) StatusOption {
	return func(s *StatusBar) {
		s.w = w
		s.tty = ux.IsTerminal(w)
	}
}

// StatusBar is the single status entry of the integration.
//
// # Thread Safety
//
// Safe for concurrent use.
type StatusBar struct {
	mu       sync.Mutex
	item     StatusItem
	disposed bool

	hub *Hub
	w   io.Writer
	tty bool
}

// NewStatusBar creates a hidden status bar.
func NewStatusBar(opts ...StatusOption) *StatusBar {
	s := &StatusBar{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Set replaces the item. Set after Dispose is ignored.
func (s *StatusBar) Set(item StatusItem) {
	s.mu.Lock()
	if s.disposed || s.item == item {
		s.mu.Unlock()
		return
	}
	s.item = item
	s.render(item)
	s.mu.Unlock()

	s.hub.Publish(EventStatus, item)
}

// Clear hides the item and drops its text, tooltip and command.
func (s *StatusBar) Clear() {
	s.Set(StatusItem{})
}

// Item returns the current item.
func (s *StatusBar) Item() StatusItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.item
}

// Dispose hides the item permanently.
func (s *StatusBar) Dispose() {
	if s == nil {
		return
	}
	s.Clear()

	s.mu.Lock()
	s.disposed = true
	s.mu.Unlock()
}

// render must be called with s.mu held.
func (s *StatusBar) render(item StatusItem) {
	if s.w == nil {
		return
	}
	line := ""
	if item.Visible {
		line = ux.StatusLine(item.Text, item.Tooltip)
	}
	if s.tty {
		fmt.Fprintf(s.w, "\r\x1b[2K%s", line)
		return
	}
	if line != "" {
		fmt.Fprintln(s.w, line)
	}
}

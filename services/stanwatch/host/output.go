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
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/x/ansi"
)

// DefaultOutputLines is the ring size of an OutputChannel.
const DefaultOutputLines = 5000

// OutputOption configures an OutputChannel.
type OutputOption func(*OutputChannel)

// WithOutputHub publishes every appended line on hub.
func WithOutputHub(hub *Hub) OutputOption {
	return func(o *OutputChannel) {
		o.hub = hub
	}
}

// WithOutputMirror copies every line to w.
func WithOutputMirror(w io.Writer) OutputOption {
	return func(o *OutputChannel) {
		o.mirror = w
	}
}

// WithOutputLines sets the ring size.
func WithOutputLines(n int) OutputOption {
	return func(o *OutputChannel) {
		if n > 0 {
			o.limit = n
		}
	}
}

// OutputLine is the payload of an EventOutput event.
type OutputLine struct {
	Channel string `json:"channel"`
	Line    string `json:"line"`
}

// OutputChannel is a named, bounded log of plain-text lines.
//
// ANSI escape sequences are removed before lines are stored.
//
// # Thread Safety
//
// Safe for concurrent use.
type OutputChannel struct {
	name string

	mu       sync.Mutex
	lines    []string
	partial  string
	limit    int
	shown    bool
	disposed bool

	hub    *Hub
	mirror io.Writer
}

// NewOutputChannel creates an empty channel.
func NewOutputChannel(name string, opts ...OutputOption) *OutputChannel {
	o := &OutputChannel{name: name, limit: DefaultOutputLines}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Name returns the channel name.
func (o *OutputChannel) Name() string {
	return o.name
}

// AppendLine appends s followed by a line break. Embedded line breaks
// produce several lines.
func (o *OutputChannel) AppendLine(s string) {
	o.Append(s + "\n")
}

// Append appends raw text. A trailing fragment without a line break is held
// until the next append.
func (o *OutputChannel) Append(s string) {
	o.mu.Lock()
	if o.disposed {
		o.mu.Unlock()
		return
	}
	text := o.partial + ansi.Strip(s)
	parts := strings.Split(text, "\n")
	o.partial = parts[len(parts)-1]
	complete := parts[:len(parts)-1]
	for i, line := range complete {
		complete[i] = strings.TrimSuffix(line, "\r")
	}
	o.store(complete)
	o.mu.Unlock()

	for _, line := range complete {
		o.hub.Publish(EventOutput, OutputLine{Channel: o.name, Line: line})
	}
}

// store must be called with o.mu held.
func (o *OutputChannel) store(lines []string) {
	for _, line := range lines {
		o.lines = append(o.lines, line)
		if o.mirror != nil {
			io.WriteString(o.mirror, line+"\n")
		}
	}
	if over := len(o.lines) - o.limit; over > 0 {
		o.lines = append([]string(nil), o.lines[over:]...)
	}
}

// Lines returns the last tail lines, or all of them when tail <= 0.
func (o *OutputChannel) Lines(tail int) []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	lines := o.lines
	if o.partial != "" {
		lines = append(append([]string(nil), lines...), o.partial)
	}
	if tail > 0 && tail < len(lines) {
		lines = lines[len(lines)-tail:]
	}
	return append([]string(nil), lines...)
}

// Len returns the number of stored complete lines.
func (o *OutputChannel) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.lines)
}

// Clear drops every stored line.
func (o *OutputChannel) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lines = nil
	o.partial = ""
}

// Show marks the channel as revealed.
func (o *OutputChannel) Show() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.shown = true
}

// Shown reports whether Show was called.
func (o *OutputChannel) Shown() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.shown
}

// Dispose drops the contents and ignores further appends.
func (o *OutputChannel) Dispose() {
	if o == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.disposed = true
	o.lines = nil
	o.partial = ""
}

// Writer returns an io.Writer that appends to the channel.
func (o *OutputChannel) Writer() io.Writer {
	return outputWriter{o}
}

type outputWriter struct{ o *OutputChannel }

func (w outputWriter) Write(p []byte) (int, error) {
	w.o.Append(string(p))
	return len(p), nil
}

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
	"sort"
	"sync"
)

// Change describes a mutation of a Collection.
type Change struct {
	// Paths lists the keys that were set or deleted.
	Paths []string `json:"paths,omitempty"`

	// Cleared is true when the whole collection was emptied.
	Cleared bool `json:"cleared,omitempty"`

	// Total is the diagnostic count after the change.
	Total int `json:"total"`
}

// Collection holds the published diagnostics, keyed by file path.
//
// # Thread Safety
//
// Safe for concurrent use. Listeners run synchronously after the lock is
// released and must not block.
type Collection struct {
	name string

	mu        sync.RWMutex
	items     map[string][]Diagnostic
	listeners map[int]func(Change)
	nextID    int
}

// NewCollection creates an empty collection.
func NewCollection(name string) *Collection {
	return &Collection{
		name:      name,
		items:     make(map[string][]Diagnostic),
		listeners: make(map[int]func(Change)),
	}
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

// Set replaces the diagnostics for path. An empty slice deletes the key.
func (c *Collection) Set(path string, diags []Diagnostic) {
	c.mu.Lock()
	c.setLocked(path, diags)
	change := Change{Paths: []string{path}, Total: c.countLocked()}
	c.mu.Unlock()

	c.notify(change)
}

// Delete removes the diagnostics for path.
func (c *Collection) Delete(path string) {
	c.Set(path, nil)
}

// Clear removes every diagnostic.
func (c *Collection) Clear() {
	c.mu.Lock()
	c.items = make(map[string][]Diagnostic)
	c.mu.Unlock()

	c.notify(Change{Cleared: true})
}

// Publish sets every target of rec, replacing what those paths held.
func (c *Collection) Publish(rec *Reconciled) {
	if rec == nil {
		return
	}

	c.mu.Lock()
	paths := rec.Paths()
	for _, p := range paths {
		c.setLocked(p, rec.Files[p])
	}
	if len(rec.Global) > 0 {
		if _, ok := rec.Files[rec.GlobalPath]; ok {
			c.items[rec.GlobalPath] = append(c.items[rec.GlobalPath], rec.Global...)
		} else {
			c.setLocked(rec.GlobalPath, rec.Global)
			paths = append(paths, rec.GlobalPath)
		}
	}
	change := Change{Paths: paths, Total: c.countLocked()}
	c.mu.Unlock()

	c.notify(change)
}

// Get returns a copy of the diagnostics for path.
func (c *Collection) Get(path string) []Diagnostic {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d := c.items[path]
	if d == nil {
		return nil
	}
	return append([]Diagnostic(nil), d...)
}

// All returns a copy of every entry.
func (c *Collection) All() map[string][]Diagnostic {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string][]Diagnostic, len(c.items))
	for p, d := range c.items {
		out[p] = append([]Diagnostic(nil), d...)
	}
	return out
}

// Paths returns the keys in sorted order.
func (c *Collection) Paths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.items))
	for p := range c.items {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Count returns the total number of diagnostics.
func (c *Collection) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.countLocked()
}

// OnChange registers fn for every mutation and returns its removal func.
func (c *Collection) OnChange(fn func(Change)) (remove func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Dispose clears the collection and drops every listener.
func (c *Collection) Dispose() {
	c.Clear()

	c.mu.Lock()
	c.listeners = make(map[int]func(Change))
	c.mu.Unlock()
}

func (c *Collection) setLocked(path string, diags []Diagnostic) {
	if len(diags) == 0 {
		delete(c.items, path)
		return
	}
	c.items[path] = append([]Diagnostic(nil), diags...)
}

func (c *Collection) countLocked() int {
	n := 0
	for _, d := range c.items {
		n += len(d)
	}
	return n
}

func (c *Collection) notify(change Change) {
	c.mu.RLock()
	fns := make([]func(Change), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.RUnlock()

	for _, fn := range fns {
		fn(change)
	}
}

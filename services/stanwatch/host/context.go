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

import "sync"

// ContextChange is the payload of an EventContext event.
type ContextChange struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// ContextStore holds the context flags editors use to enable UI elements.
type ContextStore struct {
	mu     sync.RWMutex
	values map[string]any
	hub    *Hub
}

// NewContextStore creates an empty store that publishes changes on hub.
// hub may be nil.
func NewContextStore(hub *Hub) *ContextStore {
	return &ContextStore{values: make(map[string]any), hub: hub}
}

// SetContext stores value under key. A nil value removes the key.
func (c *ContextStore) SetContext(key string, value any) {
	c.mu.Lock()
	if value == nil {
		delete(c.values, key)
	} else {
		c.values[key] = value
	}
	c.mu.Unlock()

	c.hub.Publish(EventContext, ContextChange{Key: key, Value: value})
}

// Context returns the value stored under key.
func (c *ContextStore) Context(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Bool returns the value under key when it is a bool, false otherwise.
func (c *ContextStore) Bool(key string) bool {
	v, _ := c.Context(key)
	b, _ := v.(bool)
	return b
}

// All returns a copy of every flag.
func (c *ContextStore) All() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

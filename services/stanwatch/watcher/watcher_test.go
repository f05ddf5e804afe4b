// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) cb(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) has(path string, op Op) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Path == path && ev.Op == op {
			return true
		}
	}
	return false
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestOp_String(t *testing.T) {
	assert.Equal(t, "created", Created.String())
	assert.Equal(t, "changed", Changed.String())
	assert.Equal(t, "deleted", Deleted.String())
	assert.Equal(t, "unknown", Op(9).String())
}

func TestMatchers(t *testing.T) {
	base := Basenames("phpstan.neon", "phpstan.neon.dist")
	assert.True(t, base("/p/phpstan.neon"))
	assert.True(t, base("phpstan.neon.dist"))
	assert.False(t, base("/p/phpstan.dist.neon"))

	ext := Extensions("php", ".inc")
	assert.True(t, ext("/p/src/A.php"))
	assert.True(t, ext("/p/src/a.inc"))
	assert.False(t, ext("/p/src/A.PHP"))
	assert.False(t, ext("/p/Makefile"))
}

func TestWatch_CreateChangeDelete(t *testing.T) {
	dir := t.TempDir()
	m := NewManager()
	defer m.Close()

	rec := &recorder{}
	reg, err := m.Watch(Target{Root: dir, Match: Extensions("php")}, rec.cb)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())

	file := filepath.Join(dir, "A.php")
	require.NoError(t, os.WriteFile(file, []byte("<?php\n"), 0o644))
	require.Eventually(t, func() bool { return rec.has(file, Created) }, 3*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_ = os.WriteFile(file, []byte("<?php\n// edit\n"), 0o644)
		return rec.has(file, Changed)
	}, 3*time.Second, 50*time.Millisecond)

	require.NoError(t, os.Remove(file))
	require.Eventually(t, func() bool { return rec.has(file, Deleted) }, 3*time.Second, 10*time.Millisecond)

	// Unmatched files are never reported.
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.False(t, rec.has(other, Created))

	reg.Dispose()
	reg.Dispose()
	assert.Equal(t, 0, m.Len())
	select {
	case <-reg.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("event loop did not exit")
	}
}

func TestWatch_RecursivePicksUpNewDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src", "Deep"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))

	m := NewManager()
	defer m.Close()

	rec := &recorder{}
	_, err := m.Watch(Target{Root: dir, Recursive: true, Match: Extensions("php"), Ignore: []string{".git"}}, rec.cb)
	require.NoError(t, err)

	existing := filepath.Join(dir, "src", "Deep", "B.php")
	require.NoError(t, os.WriteFile(existing, []byte("<?php\n"), 0o644))
	require.Eventually(t, func() bool { return rec.has(existing, Created) }, 3*time.Second, 10*time.Millisecond)

	fresh := filepath.Join(dir, "src", "New")
	require.NoError(t, os.Mkdir(fresh, 0o755))
	later := filepath.Join(fresh, "C.php")
	require.Eventually(t, func() bool {
		_ = os.WriteFile(later, []byte("<?php\n"), 0o644)
		return rec.has(later, Created) || rec.has(later, Changed)
	}, 3*time.Second, 50*time.Millisecond)

	ignored := filepath.Join(dir, ".git", "D.php")
	require.NoError(t, os.WriteFile(ignored, []byte("<?php\n"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.False(t, rec.has(ignored, Created))
}

func TestWatch_DisposeAllStopsDelivery(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	m := NewManager()

	rec := &recorder{}
	_, err := m.Watch(Target{Root: a}, rec.cb)
	require.NoError(t, err)
	_, err = m.Watch(Target{Root: b}, rec.cb)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())

	m.DisposeAll()
	assert.Equal(t, 0, m.Len())

	require.NoError(t, os.WriteFile(filepath.Join(a, "x.php"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(b, "y.php"), []byte("y"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, rec.count())

	// DisposeAll keeps the manager usable; Close does not.
	reg, err := m.Watch(Target{Root: a}, rec.cb)
	require.NoError(t, err)
	m.Close()
	<-reg.Done()

	_, err = m.Watch(Target{Root: a}, rec.cb)
	assert.ErrorIs(t, err, ErrDisposed)
}

func TestWatch_InvalidRoot(t *testing.T) {
	m := NewManager()
	defer m.Close()

	_, err := m.Watch(Target{Root: filepath.Join(t.TempDir(), "missing")}, func(Event) {})
	assert.ErrorIs(t, err, os.ErrNotExist)

	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = m.Watch(Target{Root: file}, func(Event) {})
	assert.Error(t, err)

	_, err = m.Watch(Target{Root: t.TempDir()}, nil)
	assert.Error(t, err)
}

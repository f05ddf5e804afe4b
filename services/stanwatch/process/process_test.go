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
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// helperEnv switches the test binary into a fake child process.
const helperEnv = "STANWATCH_PROCESS_HELPER"

func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		os.Exit(runHelper(mode))
	}
	os.Exit(m.Run())
}

func runHelper(mode string) int {
	switch mode {
	case "lines":
		fmt.Fprintln(os.Stdout, "out-1")
		fmt.Fprintln(os.Stderr, "err-1")
		fmt.Fprint(os.Stdout, "out-2")
		return 0
	case "exit3":
		fmt.Fprint(os.Stdout, `{"totals":{}}`)
		return 3
	case "sleep":
		time.Sleep(30 * time.Second)
		return 0
	case "chatty":
		for i := 0; ; i++ {
			fmt.Fprintf(os.Stderr, "%d%%\n", i%100)
			time.Sleep(5 * time.Millisecond)
		}
	case "fork", "orphan":
		// The grandchild inherits both streams.
		child := exec.Command(os.Args[0])
		child.Env = append(os.Environ(), helperEnv+"=nap")
		child.Stdout = os.Stdout
		child.Stderr = os.Stderr
		if err := child.Start(); err != nil {
			return 98
		}
		fmt.Fprintln(os.Stdout, "forked")
		if mode == "orphan" {
			return 0
		}
		time.Sleep(30 * time.Second)
		return 0
	case "nap":
		time.Sleep(5 * time.Second)
		return 0
	case "pwd":
		wd, _ := os.Getwd()
		fmt.Fprint(os.Stdout, wd)
		return 0
	}
	return 99
}

func helperOptions(mode string) Options {
	return Options{Env: append(os.Environ(), helperEnv+"="+mode)}
}

// =============================================================================
// Run
// =============================================================================

func TestRun_StreamsLinesAndAccumulatesStdout(t *testing.T) {
	var mu sync.Mutex
	var stdout, stderr []string

	opts := helperOptions("lines")
	opts.OnStdout = func(line string) {
		mu.Lock()
		defer mu.Unlock()
		stdout = append(stdout, line)
	}
	opts.OnStderr = func(line string) {
		mu.Lock()
		defer mu.Unlock()
		stderr = append(stderr, line)
	}

	info, err := Run(context.Background(), os.Args[0], nil, opts)
	require.NoError(t, err)

	assert.Equal(t, 0, info.Code)
	assert.False(t, info.Killed)
	assert.Equal(t, "out-1\nout-2", info.Stdout)
	assert.Equal(t, []string{"out-1", "out-2"}, stdout)
	assert.Equal(t, []string{"err-1"}, stderr)
	assert.Greater(t, info.Duration, time.Duration(0))
}

func TestRun_NonZeroExitIsNotAnError(t *testing.T) {
	info, err := Run(context.Background(), os.Args[0], nil, helperOptions("exit3"))
	require.NoError(t, err)

	assert.Equal(t, 3, info.Code)
	assert.Equal(t, `{"totals":{}}`, info.Stdout)
}

func TestRun_UsesWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	opts := helperOptions("pwd")
	opts.Dir = dir

	info, err := Run(context.Background(), os.Args[0], nil, opts)
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(info.Stdout)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStart_SpawnErrorIsDistinguishable(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no-such-binary")

	h, err := Start(context.Background(), missing, []string{"analyse"}, Options{})
	require.Error(t, err)
	assert.Nil(t, h)

	assert.True(t, errors.Is(err, ErrSpawn))
	var spawnErr *SpawnError
	require.True(t, errors.As(err, &spawnErr))
	assert.Equal(t, missing, spawnErr.Command)
	assert.Contains(t, err.Error(), "analyse")
}

func TestStart_NotFoundOnPath(t *testing.T) {
	_, err := Start(context.Background(), "stanwatch-definitely-not-installed", nil, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSpawn)
	assert.ErrorIs(t, err, exec.ErrNotFound)
}

func TestStart_InvalidInput(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	_, err := Start(nil, "php", nil, Options{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = Start(context.Background(), "", nil, Options{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestStart_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Start(ctx, os.Args[0], nil, helperOptions("lines"))
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// Kill
// =============================================================================

func TestKill_SecondKillReturnsFalse(t *testing.T) {
	h, err := Start(context.Background(), os.Args[0], nil, helperOptions("sleep"))
	require.NoError(t, err)

	assert.True(t, Kill(h))
	assert.False(t, Kill(h))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	info, err := h.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, info.Killed)
	assert.True(t, h.Killed())
	assert.NotEqual(t, 0, info.Code)
}

func TestKill_AfterExitReturnsFalse(t *testing.T) {
	h, err := Start(context.Background(), os.Args[0], nil, helperOptions("lines"))
	require.NoError(t, err)

	<-h.Done()
	assert.False(t, Kill(h))
	assert.False(t, h.Killed())
}

func TestKill_NilHandle(t *testing.T) {
	assert.False(t, Kill(nil))
}

func TestKill_DetachesListeners(t *testing.T) {
	var calls atomic.Int64
	opts := helperOptions("chatty")
	opts.OnStderr = func(string) { calls.Add(1) }

	h, err := Start(context.Background(), os.Args[0], nil, opts)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 10*time.Second, 5*time.Millisecond)

	require.True(t, Kill(h))
	after := calls.Load()

	<-h.Done()
	assert.Equal(t, after, calls.Load(), "no listener call may happen after Kill returns")
}

func TestKill_ReachesForkedChildren(t *testing.T) {
	forked := make(chan struct{}, 1)
	opts := helperOptions("fork")
	opts.OnStdout = func(line string) {
		if line == "forked" {
			forked <- struct{}{}
		}
	}

	h, err := Start(context.Background(), os.Args[0], nil, opts)
	require.NoError(t, err)

	select {
	case <-forked:
	case <-time.After(10 * time.Second):
		Kill(h)
		t.Fatal("helper never forked")
	}

	started := time.Now()
	require.True(t, Kill(h))

	select {
	case <-h.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("handle not done after Kill while a forked child held the streams")
	}
	assert.Less(t, time.Since(started), 3*time.Second)

	info, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, info.Killed)
}

func TestWait_OrphanHoldingStreams(t *testing.T) {
	h, err := Start(context.Background(), os.Args[0], nil, helperOptions("orphan"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()
	info, err := h.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, info.Code)
	assert.Equal(t, "forked\n", info.Stdout)
	assert.False(t, info.Killed)
}

func TestWait_ContextEndsFirst(t *testing.T) {
	h, err := Start(context.Background(), os.Args[0], nil, helperOptions("sleep"))
	require.NoError(t, err)
	defer Kill(h)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = h.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, h.Exited())
	assert.Greater(t, h.PID(), 0)
}

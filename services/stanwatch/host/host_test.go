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
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/stanwatch/pkg/ux"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

// =============================================================================
// Hub
// =============================================================================

func TestHub_PublishSubscribe(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe(4)
	defer cancel()

	hub.Publish(EventState, "active")
	ev := recv(t, ch)
	assert.Equal(t, EventState, ev.Type)
	assert.Equal(t, "active", ev.Data)
	assert.False(t, ev.Time.IsZero())
	assert.Equal(t, 1, hub.Subscribers())

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Subscribers())
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Publish(EventOutput, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Equal(t, uint64(9), hub.Dropped())
}

func TestHub_CloseAndNil(t *testing.T) {
	hub := NewHub()
	ch, _ := hub.Subscribe(1)
	hub.Close()
	_, ok := <-ch
	assert.False(t, ok)

	late, cancel := hub.Subscribe(1)
	defer cancel()
	_, ok = <-late
	assert.False(t, ok)

	var nilHub *Hub
	assert.NotPanics(t, func() { nilHub.Publish(EventStatus, nil) })
}

// =============================================================================
// StatusBar
// =============================================================================

func TestStatusBar_SetClearDispose(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe(8)
	defer cancel()

	bar := NewStatusBar(WithStatusHub(hub))
	item := StatusItem{Text: "$(error) PHPStan", Tooltip: "Spawn error: x", Command: "phpstan.showOutput", Visible: true}
	bar.Set(item)
	assert.Equal(t, item, bar.Item())
	assert.Equal(t, item, recv(t, ch).Data)

	// Unchanged items are not republished.
	bar.Set(item)

	bar.Clear()
	assert.Equal(t, StatusItem{}, bar.Item())
	assert.Equal(t, StatusItem{}, recv(t, ch).Data)

	bar.Dispose()
	bar.Set(item)
	assert.Equal(t, StatusItem{}, bar.Item())

	var nilBar *StatusBar
	assert.NotPanics(t, nilBar.Dispose)
}

func TestStatusBar_RendersToWriter(t *testing.T) {
	prev := ux.Level()
	ux.SetLevel(ux.PersonalityMachine)
	defer ux.SetLevel(prev)

	var buf bytes.Buffer
	bar := NewStatusBar(WithStatusWriter(&buf))
	bar.Set(StatusItem{Text: "$(sync~spin) PHPStan analysing... (40%)", Visible: true})
	bar.Set(StatusItem{Text: "hidden", Visible: false})

	assert.Equal(t, "⟳ PHPStan analysing... (40%)\n", buf.String())
}

// =============================================================================
// OutputChannel
// =============================================================================

func TestOutputChannel_AppendStripsAnsiAndSplits(t *testing.T) {
	var mirror bytes.Buffer
	out := NewOutputChannel("PHPStan", WithOutputMirror(&mirror))

	out.AppendLine("\x1b[31mred\x1b[0m text")
	out.Append("partial ")
	out.Append("line\r\nnext")

	assert.Equal(t, []string{"red text", "partial line"}, out.Lines(2))
	assert.Equal(t, []string{"red text", "partial line", "next"}, out.Lines(0))
	assert.Equal(t, 2, out.Len())
	assert.Equal(t, "red text\npartial line\n", mirror.String())
}

func TestOutputChannel_RingBuffer(t *testing.T) {
	out := NewOutputChannel("PHPStan", WithOutputLines(3))
	for i := 0; i < 5; i++ {
		out.AppendLine(fmt.Sprintf("line %d", i))
	}
	assert.Equal(t, []string{"line 2", "line 3", "line 4"}, out.Lines(0))
	assert.Equal(t, []string{"line 4"}, out.Lines(1))
}

func TestOutputChannel_HubShowDispose(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe(4)
	defer cancel()

	out := NewOutputChannel("PHPStan", WithOutputHub(hub))
	fmt.Fprint(out.Writer(), "via writer\n")
	assert.Equal(t, OutputLine{Channel: "PHPStan", Line: "via writer"}, recv(t, ch).Data)

	assert.False(t, out.Shown())
	out.Show()
	assert.True(t, out.Shown())

	out.Clear()
	assert.Empty(t, out.Lines(0))

	out.Dispose()
	out.AppendLine("ignored")
	assert.Empty(t, out.Lines(0))
}

// =============================================================================
// CommandRegistry
// =============================================================================

func TestCommandRegistry(t *testing.T) {
	reg := NewCommandRegistry()

	d, err := reg.Register("phpstan.analyse", func(_ context.Context, args ...any) (any, error) {
		return len(args), nil
	})
	require.NoError(t, err)

	_, err = reg.Register("phpstan.analyse", func(context.Context, ...any) (any, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrCommandExists)

	got, err := reg.Execute(context.Background(), "phpstan.analyse", 1, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, got)
	assert.Equal(t, []string{"phpstan.analyse"}, reg.Names())

	_, err = reg.Execute(context.Background(), "phpstan.nope")
	assert.ErrorIs(t, err, ErrUnknownCommand)

	d.Dispose()
	d.Dispose()
	assert.False(t, reg.Has("phpstan.analyse"))

	_, err = reg.Register("", nil)
	assert.Error(t, err)
}

func TestCommandRegistry_HandlerErrorPassesThrough(t *testing.T) {
	reg := NewCommandRegistry()
	boom := errors.New("boom")
	_, err := reg.Register("x", func(context.Context, ...any) (any, error) { return nil, boom })
	require.NoError(t, err)

	_, err = reg.Execute(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
}

// =============================================================================
// ContextStore / Disposables
// =============================================================================

func TestContextStore(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe(4)
	defer cancel()

	store := NewContextStore(hub)
	store.SetContext("phpstan:enabled", true)
	assert.True(t, store.Bool("phpstan:enabled"))
	assert.Equal(t, ContextChange{Key: "phpstan:enabled", Value: true}, recv(t, ch).Data)

	store.SetContext("phpstan:enabled", nil)
	_, ok := store.Context("phpstan:enabled")
	assert.False(t, ok)
	assert.Empty(t, store.All())
}

func TestDisposeAll_ReverseOrderOnce(t *testing.T) {
	var order []int
	a := DisposeFunc(func() { order = append(order, 1) })
	b := DisposeFunc(func() { order = append(order, 2) })

	DisposeAll(a, nil, b)
	DisposeAll(a, b)
	assert.Equal(t, []int{2, 1}, order)
}

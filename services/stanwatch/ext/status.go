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
	"log/slog"
	"regexp"
	"strconv"

	"github.com/AleutianAI/stanwatch/services/stanwatch/host"
)

var progressPattern = regexp.MustCompile(`(\d{1,3})%\s*$`)

func analysingItem(progress int) host.StatusItem {
	text := "$(sync~spin) " + DisplayName + " analysing..."
	if progress > 0 {
		text += fmt.Sprintf(" (%d%%)", progress)
	}
	return host.StatusItem{Text: text, Command: CommandShowOutput, Visible: true}
}

func errorItem(source, msg string) host.StatusItem {
	return host.StatusItem{
		Text:    "$(error) " + DisplayName,
		Tooltip: source + ": " + msg,
		Command: CommandShowOutput,
		Visible: true,
	}
}

func pausedItem() host.StatusItem {
	return host.StatusItem{
		Text:    "$(debug-pause) " + DisplayName,
		Tooltip: "Resume file watcher",
		Command: CommandResumeFileWatcher,
		Visible: true,
	}
}

func clearingCacheItem() host.StatusItem {
	return host.StatusItem{
		Text:    "$(sync~spin) " + DisplayName + " clearing cache...",
		Command: CommandShowOutput,
		Visible: true,
	}
}

// parseProgress extracts a trailing percentage from an analyser stderr line.
func parseProgress(line string) (int, bool) {
	m := progressPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n > 100 {
		return 0, false
	}
	return n, true
}

// clearStatus hides the status item, falling back to the paused indicator
// while the file watcher gate is closed.
func (e *Ext) clearStatus() {
	e.mu.Lock()
	bar := e.status
	paused := !e.watcherEnabled
	e.mu.Unlock()

	if bar == nil {
		return
	}
	if paused {
		bar.Set(pausedItem())
		return
	}
	bar.Clear()
}

func (e *Ext) setStatus(item host.StatusItem) {
	e.mu.Lock()
	bar := e.status
	e.mu.Unlock()
	if bar != nil {
		bar.Set(item)
	}
}

// reportError logs err in full and shows it on the status bar.
//
// The source is taken from a *StatusError when err carries one, otherwise
// fallback is used. Panics are logged with their stack.
func (e *Ext) reportError(fallback string, err error) {
	source, msg := fallback, err.Error()
	var se *StatusError
	if errors.As(err, &se) {
		source, msg = se.Source, se.Err.Error()
	}
	detail := msg
	var pe *PanicError
	if errors.As(err, &pe) {
		detail = msg + "\n" + string(pe.Stack)
	}

	e.logger.Error("phpstan error",
		slog.String("source", source),
		slog.String("error", detail))

	e.mu.Lock()
	out, bar := e.output, e.status
	e.mu.Unlock()

	if out != nil {
		out.AppendLine("# " + source)
		out.AppendLine(detail)
	}
	if bar != nil {
		bar.Set(errorItem(source, msg))
	}
}

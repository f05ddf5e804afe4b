// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the stanwatch CLI.
package ux

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // Bright teal - highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // Primary teal - main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // Deep teal - borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // Slate - muted text, borders

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Location  lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),
	Location:  lipgloss.NewStyle().Foreground(ColorTealPrimary).Underline(true),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconSpin    Icon = "⟳"
	IconPause   Icon = "⏸"
	IconBullet  Icon = "•"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	if Level() != PersonalityFull {
		return string(i)
	}
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning, IconPause:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	case IconSpin:
		return Styles.Highlight.Render(string(i))
	default:
		return string(i)
	}
}

// codicons maps editor icon references to terminal glyphs.
var codicons = []struct {
	ref  string
	icon Icon
}{
	{"$(sync~spin)", IconSpin},
	{"$(error)", IconError},
	{"$(debug-pause)", IconPause},
	{"$(check)", IconSuccess},
}

// Codicons replaces editor icon references like "$(error)" with glyphs.
func Codicons(text string) string {
	for _, c := range codicons {
		text = strings.ReplaceAll(text, c.ref, c.icon.Render())
	}
	return text
}

// StatusLine renders a status bar item for a terminal.
func StatusLine(text, tooltip string) string {
	if text == "" {
		return ""
	}
	line := Codicons(text)
	if tooltip == "" || Level() == PersonalityMachine {
		return line
	}
	if Level() == PersonalityFull {
		return line + " " + Styles.Muted.Render("("+tooltip+")")
	}
	return line + " (" + tooltip + ")"
}

// DiagnosticLine renders one diagnostic as "location: message".
func DiagnosticLine(location, message, tip string) string {
	switch Level() {
	case PersonalityMachine:
		return fmt.Sprintf("%s: %s", location, message)
	case PersonalityMinimal:
		line := fmt.Sprintf("%s %s: %s", IconError.Render(), location, message)
		if tip != "" {
			line += "\n    " + IconBullet.Render() + " " + tip
		}
		return line
	default:
		line := fmt.Sprintf("%s %s %s", IconError.Render(), Styles.Location.Render(location), message)
		if tip != "" {
			line += "\n    " + Styles.Muted.Render(string(IconBullet)+" "+tip)
		}
		return line
	}
}

// Success writes a success message with checkmark
func Success(w io.Writer, text string) {
	switch Level() {
	case PersonalityMachine:
		fmt.Fprintf(w, "OK: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(w, "%s %s\n", IconSuccess.Render(), text)
	default:
		fmt.Fprintf(w, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	}
}

// Warning writes a warning message
func Warning(w io.Writer, text string) {
	switch Level() {
	case PersonalityMachine:
		fmt.Fprintf(w, "WARN: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(w, "%s %s\n", IconWarning.Render(), text)
	default:
		fmt.Fprintf(w, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

// Error writes an error message
func Error(w io.Writer, text string) {
	switch Level() {
	case PersonalityMachine:
		fmt.Fprintf(w, "ERROR: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(w, "%s %s\n", IconError.Render(), text)
	default:
		fmt.Fprintf(w, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
	}
}

// Info writes an informational message
func Info(w io.Writer, text string) {
	switch Level() {
	case PersonalityMachine:
		fmt.Fprintln(w, text)
	default:
		fmt.Fprintf(w, "%s %s\n", Styles.Muted.Render("│"), text)
	}
}

// Summary writes the diagnostic totals of an analysis run.
func Summary(w io.Writer, files, diagnostics int) {
	switch Level() {
	case PersonalityMachine:
		fmt.Fprintf(w, "SUMMARY: files=%d diagnostics=%d\n", files, diagnostics)
	default:
		if diagnostics == 0 {
			Success(w, "No errors")
			return
		}
		fmt.Fprintf(w, "\n%s %s  %s %s\n",
			Styles.Error.Render(fmt.Sprintf("%d", diagnostics)), Styles.Muted.Render("errors"),
			Styles.Bold.Render(fmt.Sprintf("%d", files)), Styles.Muted.Render("files"),
		)
	}
}

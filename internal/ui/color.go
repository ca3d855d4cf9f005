// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui provides terminal output helpers for the codevec CLI.
//
// Colors respect the --no-color flag and the NO_COLOR environment variable,
// and are switched off when stdout is not a terminal.
//
// Color usage:
//   - Red: errors, failed runs
//   - Yellow: warnings, weak matches
//   - Green: success, strong matches
//   - Cyan: counts and neutral info
//   - Dim: paths and locations
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Out is where the print helpers write. Tests swap it for a buffer.
var Out io.Writer = os.Stdout

var (
	Red    = color.New(color.FgRed)
	Yellow = color.New(color.FgYellow)
	Green  = color.New(color.FgGreen)
	Cyan   = color.New(color.FgCyan)
	Bold   = color.New(color.Bold)
	Dim    = color.New(color.Faint)
)

// Score thresholds for ScoreText.
const (
	StrongScore = 0.8
	WeakScore   = 0.5
)

// InitColors disables color when noColor is set, NO_COLOR is present, or
// stdout is not a terminal. Call it once after flag parsing.
func InitColors(noColor bool) {
	color.NoColor = noColor || os.Getenv("NO_COLOR") != "" || !IsTerminal(os.Stdout)
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Successf prints a green line with a check mark.
func Successf(format string, args ...any) {
	_, _ = Green.Fprintf(Out, "✓ "+format+"\n", args...)
}

// Warningf prints a yellow line with a warning sign.
func Warningf(format string, args ...any) {
	_, _ = Yellow.Fprintf(Out, "⚠ "+format+"\n", args...)
}

// Errorf prints a red line with a cross.
func Errorf(format string, args ...any) {
	_, _ = Red.Fprintf(Out, "✗ "+format+"\n", args...)
}

// Infof prints a cyan informational line.
func Infof(format string, args ...any) {
	_, _ = Cyan.Fprintf(Out, "ℹ "+format+"\n", args...)
}

// Header prints a bold title underlined with '='.
//
//	Index Status
//	============
func Header(text string) {
	_, _ = Bold.Fprintln(Out, text)
	_, _ = fmt.Fprintln(Out, strings.Repeat("=", len([]rune(text))))
}

// SubHeader prints a bold title.
func SubHeader(text string) {
	_, _ = Bold.Fprintln(Out, text)
}

// KeyValue prints an indented "label: value" line with a bold label.
func KeyValue(label string, value any) {
	_, _ = fmt.Fprintf(Out, "  %s %v\n", Bold.Sprint(label+":"), value)
}

// Label returns text in bold.
func Label(text string) string {
	return Bold.Sprint(text)
}

// DimText returns text dimmed.
func DimText(text string) string {
	return Dim.Sprint(text)
}

// CountText returns a count in cyan.
func CountText(count int) string {
	return Cyan.Sprint(count)
}

// ScoreText formats a similarity score, colored by strength.
func ScoreText(score float32) string {
	s := fmt.Sprintf("%.3f", score)
	switch {
	case score >= StrongScore:
		return Green.Sprint(s)
	case score >= WeakScore:
		return Yellow.Sprint(s)
	default:
		return Dim.Sprint(s)
	}
}

// Location formats file:start-end, dimmed. Missing lines are omitted.
func Location(file string, start, end int) string {
	switch {
	case start <= 0:
		return Dim.Sprint(file)
	case end <= start:
		return Dim.Sprintf("%s:%d", file, start)
	default:
		return Dim.Sprintf("%s:%d-%d", file, start, end)
	}
}

// StatusText colors a run status: green for "ok", red otherwise.
func StatusText(status string) string {
	if status == "ok" {
		return Green.Sprint(status)
	}
	return Red.Sprint(status)
}

// Copyright (c) 2025 Van Hai Nguyen
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package render turns streamed model output into terminal cards:
// live prefix-diff streaming sinks, lipgloss framing and glamour
// markdown rendering, with TTY-aware color handling.
package render

import (
	"os"
	"sync"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

const (
	// DefaultWidth is the fallback wrap width when detection fails.
	DefaultWidth = 80

	// MinWidth is the narrowest wrap width we will use.
	MinWidth = 40
)

// IsTTY reports whether stdin is a terminal.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// IsStdoutTTY reports whether stdout is a terminal.
func IsStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Width returns the terminal width, clamped to [MinWidth, ...], or
// DefaultWidth when stdout is not a terminal.
func Width() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return DefaultWidth
	}
	if w < MinWidth {
		return MinWidth
	}
	return w
}

var (
	colorsEnabled     bool
	colorsEnabledOnce sync.Once
)

// ColorsEnabled reports whether colored output should be used.
// NO_COLOR disables, FORCE_COLOR enables, otherwise TTY detection
// decides. See https://no-color.org/.
func ColorsEnabled() bool {
	colorsEnabledOnce.Do(func() {
		if os.Getenv("NO_COLOR") != "" {
			colorsEnabled = false
			return
		}
		if os.Getenv("FORCE_COLOR") != "" {
			colorsEnabled = true
			return
		}
		colorsEnabled = IsStdoutTTY()
	})
	return colorsEnabled
}

// ColorProfile returns the termenv profile matching the terminal, or
// Ascii when colors are disabled.
func ColorProfile() termenv.Profile {
	if !ColorsEnabled() {
		return termenv.Ascii
	}
	return termenv.ColorProfile()
}

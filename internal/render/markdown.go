// Copyright (c) 2025 Van Hai Nguyen
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"github.com/charmbracelet/glamour"
)

// Markdown renders model output as styled terminal markdown. A nil
// renderer (construction failed, or markdown disabled) passes text
// through unchanged.
type Markdown struct {
	renderer *glamour.TermRenderer
}

// NewMarkdown builds a renderer for the configured theme ("dark",
// "light" or "auto"), wrapped to the terminal width.
func NewMarkdown(theme string) *Markdown {
	width := Width()
	if width > DefaultWidth {
		width = DefaultWidth
	}

	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	switch theme {
	case "dark":
		opts = append(opts, glamour.WithStandardStyle("dark"))
	case "light":
		opts = append(opts, glamour.WithStandardStyle("light"))
	default:
		opts = append(opts, glamour.WithAutoStyle())
	}

	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return &Markdown{}
	}
	return &Markdown{renderer: r}
}

// Render returns the styled form of text, or text itself when no
// renderer is available.
func (m *Markdown) Render(text string) string {
	if m == nil || m.renderer == nil {
		return text
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return text
	}
	return out
}

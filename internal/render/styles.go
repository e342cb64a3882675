// Copyright (c) 2025 Van Hai Nguyen
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"github.com/charmbracelet/lipgloss"
)

func init() {
	lipgloss.SetColorProfile(ColorProfile())
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	// PromptStyle marks the user input prompt.
	PromptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")). // Cyan
			Bold(true)

	// ModelStyle labels model names on cards.
	ModelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("213")). // Purple
			Bold(true)

	// InfoStyle is for secondary status text.
	InfoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")) // Light gray

	// WarnStyle is for warnings and quota notices.
	WarnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("220")) // Yellow

	// ErrorStyle is for inline error text.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // Red

	// SideAStyle and SideBStyle color the two debate sides.
	SideAStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("75")). // Blue
			Bold(true)
	SideBStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")). // Red
			Bold(true)

	// CardStyle frames a finished response.
	CardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	// JudgeStyle frames the debate verdict.
	JudgeStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("220")).
			Padding(0, 1)
)

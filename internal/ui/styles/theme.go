// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"
)

// Theme holds the styled components of the chat view.
type Theme struct {
	// Header
	Header      lipgloss.Style
	HeaderBrand lipgloss.Style
	HeaderChat  lipgloss.Style

	// Timeline
	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	MessageBody    lipgloss.Style
	Failed         lipgloss.Style
	Loading        lipgloss.Style
	VersionTag     lipgloss.Style
	Focused        lipgloss.Style

	// Chat list
	ChatList         lipgloss.Style
	ChatItem         lipgloss.Style
	ChatItemSelected lipgloss.Style

	// Status bar
	StatusBar    lipgloss.Style
	Connected    lipgloss.Style
	Disconnected lipgloss.Style
	Notice       lipgloss.Style

	// Caution surface
	CautionBox     lipgloss.Style
	CautionTitle   lipgloss.Style
	CautionMessage lipgloss.Style
	CautionHint    lipgloss.Style

	// Input
	InputBorder lipgloss.Style
}

// NewTheme creates the default theme.
func NewTheme() *Theme {
	return &Theme{
		Header: lipgloss.NewStyle().
			Background(SurfaceDim).
			Foreground(TextPrimary).
			Padding(0, 1),
		HeaderBrand: lipgloss.NewStyle().Foreground(Cyan).Bold(true),
		HeaderChat:  lipgloss.NewStyle().Foreground(TextSecondary),

		UserLabel:      lipgloss.NewStyle().Foreground(Cyan).Bold(true),
		AssistantLabel: lipgloss.NewStyle().Foreground(Purple).Bold(true),
		MessageBody:    lipgloss.NewStyle().Foreground(TextPrimary).PaddingLeft(2),
		Failed:         lipgloss.NewStyle().Foreground(Rose).PaddingLeft(2),
		Loading:        lipgloss.NewStyle().Foreground(TextMuted).PaddingLeft(2),
		VersionTag:     lipgloss.NewStyle().Foreground(TextMuted),
		Focused:        lipgloss.NewStyle().Foreground(Purple),

		ChatList: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(Overlay).
			Padding(0, 1),
		ChatItem:         lipgloss.NewStyle().Foreground(TextSecondary),
		ChatItemSelected: lipgloss.NewStyle().Foreground(Purple).Bold(true),

		StatusBar: lipgloss.NewStyle().
			Background(SurfaceDim).
			Foreground(TextSecondary).
			Padding(0, 1),
		Connected:    lipgloss.NewStyle().Foreground(Emerald),
		Disconnected: lipgloss.NewStyle().Foreground(Amber),
		Notice:       lipgloss.NewStyle().Foreground(Rose),

		CautionBox: lipgloss.NewStyle().
			BorderStyle(lipgloss.DoubleBorder()).
			BorderForeground(AmberDeep).
			Padding(1, 3),
		CautionTitle:   lipgloss.NewStyle().Foreground(Amber).Bold(true),
		CautionMessage: lipgloss.NewStyle().Foreground(TextPrimary),
		CautionHint:    lipgloss.NewStyle().Foreground(TextMuted).MarginTop(1),

		InputBorder: lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderTop(true).
			BorderForeground(Overlay),
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// MarkdownStyle maps a configured theme name to a glamour standard style.
// "auto" asks the terminal for its background color.
func MarkdownStyle(theme string) string {
	switch strings.ToLower(theme) {
	case "dark":
		return "dark"
	case "light":
		return "light"
	case "notty":
		return "notty"
	}
	if termenv.HasDarkBackground() {
		return "dark"
	}
	return "light"
}

// Truncate shortens s to at most width terminal cells, ending with "..."
// when something was cut.
func Truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	return runewidth.Truncate(s, width, "...")
}

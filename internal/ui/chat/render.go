// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jeranaias/parley/internal/session"
	"github.com/jeranaias/parley/internal/ui/styles"
)

// =============================================================================
// MARKDOWN
// =============================================================================

// markdown renders completed assistant replies. Rendered output is cached
// per source text until the width changes.
type markdown struct {
	enabled bool
	style   string
	width   int
	r       *glamour.TermRenderer
	cache   map[string]string
}

func newMarkdown(enabled bool, style string) *markdown {
	return &markdown{enabled: enabled, style: style, cache: make(map[string]string)}
}

func (md *markdown) setWidth(width int) {
	if width == md.width {
		return
	}
	md.width = width
	md.cache = make(map[string]string)
	md.r = nil
	if !md.enabled || width <= 0 {
		return
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(md.style),
		glamour.WithWordWrap(width),
	)
	if err == nil {
		md.r = r
	}
}

// render returns text as markdown, or wrapped plain text when markdown is
// off or fails.
func (md *markdown) render(text string) string {
	if md.r == nil {
		return plain(text, md.width)
	}
	if out, ok := md.cache[text]; ok {
		return out
	}
	out, err := md.r.Render(text)
	if err != nil {
		return plain(text, md.width)
	}
	out = strings.Trim(out, "\n")
	md.cache[text] = out
	return out
}

func plain(text string, width int) string {
	if width <= 0 {
		return text
	}
	return lipgloss.NewStyle().Width(width).Render(text)
}

// =============================================================================
// CAUTION SURFACE
// =============================================================================

var titleCaser = cases.Title(language.English)

// cautionTitle turns a reason code such as "server_restart" into
// "Server Restart".
func cautionTitle(reason string) string {
	if reason == "" {
		reason = session.ReasonLogout
	}
	return titleCaser.String(strings.ReplaceAll(reason, "_", " "))
}

// renderCaution draws the box shown over an invalidated session.
func renderCaution(theme *styles.Theme, c *session.Caution, width int) string {
	boxWidth := min(max(width-8, 30), 60)

	var parts []string
	parts = append(parts, theme.CautionTitle.Render(styles.StatusIndicators.Warning+" "+cautionTitle(c.Reason)))
	parts = append(parts, "")
	parts = append(parts, theme.CautionMessage.Width(boxWidth-6).Render(c.Message))
	if !c.At.IsZero() {
		parts = append(parts, theme.CautionHint.Render(c.At.Local().Format("Jan 2 15:04:05")))
	}
	parts = append(parts, theme.CautionHint.Render("esc to dismiss, C-c to quit"))

	return theme.CautionBox.Width(boxWidth).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/parley/internal/exchange"
	"github.com/jeranaias/parley/internal/session"
	"github.com/jeranaias/parley/internal/timeline"
	"github.com/jeranaias/parley/internal/ui/styles"
)

// chatListWidth bounds the chat list panel.
const chatListWidth = 48

// View renders the chat view.
func (m Model) View() string {
	if !m.ready {
		return "Starting parley..."
	}

	var body string
	switch {
	case m.cautionVisible():
		body = lipgloss.Place(m.width, m.viewport.Height, lipgloss.Center, lipgloss.Center,
			renderCaution(m.theme, m.snap.Caution, m.width))
	case m.showChats:
		body = lipgloss.Place(m.width, m.viewport.Height, lipgloss.Left, lipgloss.Top, m.renderChatList())
	default:
		body = m.viewport.View()
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		body,
		m.renderInput(),
		m.renderStatus(),
		m.help.View(m.keys),
	)
}

// =============================================================================
// RENDER METHODS
// =============================================================================

func (m Model) renderHeader() string {
	brand := m.theme.HeaderBrand.Render("parley")
	title := m.theme.HeaderChat.Render(styles.Truncate(m.chatTitle(), max(m.width-12, 8)))
	return m.theme.Header.Width(m.width).Render(brand + "  " + title)
}

// renderTimeline renders every entry of the timeline.
func (m Model) renderTimeline() string {
	if len(m.messages) == 0 {
		return m.theme.Loading.Render("No messages yet.")
	}

	focused := m.focusedUser()
	streaming := m.state == exchange.Streaming

	var b strings.Builder
	for i, msg := range m.messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch msg.Role {
		case timeline.RoleUser:
			b.WriteString(m.renderUser(msg, i == focused))
		default:
			last := i == len(m.messages)-1
			b.WriteString(m.renderAssistant(msg, streaming && last))
		}
	}
	return b.String()
}

func (m Model) renderUser(msg timeline.Message, focused bool) string {
	label := m.theme.UserLabel.Render("You")
	if msg.HasVersions() {
		label += " " + m.theme.VersionTag.Render(fmt.Sprintf("(%d/%d)", msg.VersionIndex+1, msg.TotalVersions))
	}
	if msg.MessageID != "" && msg.MessageID == m.editID {
		label += " " + m.theme.VersionTag.Render("editing")
	}
	if focused {
		label = m.theme.Focused.Render("> ") + label
	}
	return label + "\n" + m.theme.MessageBody.Render(plain(msg.Content, m.md.width))
}

func (m Model) renderAssistant(msg timeline.Message, live bool) string {
	label := m.theme.AssistantLabel.Render("Assistant")
	switch {
	case msg.Loading:
		return label + "\n" + m.theme.Loading.Render(m.spinner.View()+" thinking")
	case exchange.IsFailureText(msg.Content):
		return label + "\n" + m.theme.Failed.Render(styles.StatusIndicators.Failed+" "+msg.Content)
	case live:
		return label + "\n" + m.theme.MessageBody.Render(plain(msg.Content, m.md.width))
	default:
		return label + "\n" + m.theme.MessageBody.Render(m.md.render(msg.Content))
	}
}

func (m Model) renderChatList() string {
	width := min(chatListWidth, max(m.width-2, 10))

	lines := []string{m.theme.HeaderBrand.Render("Chats"), ""}
	if len(m.chats) == 0 {
		lines = append(lines, m.theme.ChatItem.Render("No chats yet."))
	}
	for i, c := range m.chats {
		title := c.Title
		if title == "" {
			title = c.ID
		}
		title = styles.Truncate(title, width-6)
		if i == m.chatCursor {
			lines = append(lines, m.theme.ChatItemSelected.Render("> "+title))
		} else {
			lines = append(lines, m.theme.ChatItem.Render("  "+title))
		}
	}
	return m.theme.ChatList.Width(width).Render(strings.Join(lines, "\n"))
}

func (m Model) renderInput() string {
	return m.theme.InputBorder.Width(m.width).Render(m.input.View())
}

func (m Model) renderStatus() string {
	var parts []string

	switch m.snap.State {
	case session.Authenticated:
		name := "signed in"
		if m.snap.Identity != nil {
			if n := m.snap.Identity.Name(); n != "" {
				name = n
			}
		}
		parts = append(parts, name)
		if m.snap.Channel == session.ChannelConnected {
			parts = append(parts, m.theme.Connected.Render(styles.StatusIndicators.Connected+" live"))
		} else {
			parts = append(parts, m.theme.Disconnected.Render(styles.StatusIndicators.Disconnected+" offline"))
		}
	case session.Invalidated:
		parts = append(parts, m.theme.Disconnected.Render(styles.StatusIndicators.Warning+" session ended"))
	default:
		parts = append(parts, "signed out")
	}

	if m.state != exchange.Idle {
		parts = append(parts, m.spinner.View()+" "+m.state.String())
	}
	if m.notice != "" {
		parts = append(parts, m.theme.Notice.Render(m.notice))
	}
	return m.theme.StatusBar.Width(m.width).Render(strings.Join(parts, "  "))
}

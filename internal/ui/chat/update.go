// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"

	"github.com/jeranaias/parley/internal/api"
	"github.com/jeranaias/parley/internal/exchange"
	"github.com/jeranaias/parley/internal/timeline"
)

// =============================================================================
// MESSAGES
// =============================================================================

// turnDoneMsg carries the result of SendTurn.
type turnDoneMsg struct {
	err error
}

// actionDoneMsg carries the result of a background request.
type actionDoneMsg struct {
	action string
	err    error
}

const (
	actionLoadChat  = "load"
	actionReconnect = "reconnect"
	actionSignIn    = "sign-in"
	actionLogout    = "logout"
	actionRefresh   = "refresh"
)

// =============================================================================
// UPDATE
// =============================================================================

// Update handles a message.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case refreshMsg:
		m.sync()
		return m, m.bridge.wait()

	case turnDoneMsg:
		m.notice = noticeFor(msg.err)
		if msg.err != nil {
			m.log.Debug().Err(msg.err).Msg("turn failed")
		}
		m.finishReset()
		m.sync()
		return m, nil

	case actionDoneMsg:
		m.handleAction(msg)
		m.finishReset()
		m.sync()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.state != exchange.Idle || m.ex.Timeline().Loading() {
			m.refreshViewport()
		}
		return m, cmd

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = width

	// header, input border + line, status bar, help line
	chrome := 1 + 2 + 1 + 1
	m.viewport.Width = width
	m.viewport.Height = max(height-chrome, 1)
	m.input.Width = max(width-len(m.input.Prompt)-1, 10)
	m.md.setWidth(max(width-4, 20))
	m.ready = true
	m.refreshViewport()
}

func (m *Model) handleAction(msg actionDoneMsg) {
	if msg.err == nil {
		switch msg.action {
		case actionLoadChat:
			m.focus = -1
			m.notice = ""
		case actionSignIn, actionReconnect:
			m.notice = ""
		}
		return
	}

	m.log.Debug().Err(msg.err).Str("action", msg.action).Msg("request failed")
	switch msg.action {
	case actionSignIn:
		m.notice = api.LoginFailureText(msg.err)
	case actionReconnect:
		m.notice = "Reconnect failed."
	case actionLoadChat:
		m.notice = noticeFor(msg.err)
	}
}

// =============================================================================
// KEY HANDLING
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		m.bridge.Close()
		return m, tea.Quit
	}

	if m.cautionVisible() {
		if key.Matches(msg, m.keys.Cancel) {
			m.sess.ClearCaution()
			m.editID = ""
			m.notice = ""
			m.focus = -1
			if err := m.ex.NewChat(); err != nil {
				m.log.Debug().Err(err).Msg("chat reset deferred")
				m.resetPending = true
			}
			m.sync()
		}
		return m, nil
	}

	if m.showChats {
		return m.handleChatListKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Submit):
		return m.submit()

	case key.Matches(msg, m.keys.Cancel):
		if m.editID != "" {
			m.editID = ""
			m.input.Reset()
			m.refreshViewport()
		}
		m.notice = ""
		m.showHelp = false
		return m, nil

	case key.Matches(msg, m.keys.Edit):
		m.startEdit()
		return m, textinput.Blink

	case key.Matches(msg, m.keys.FocusUp):
		m.moveFocus(-1)
		return m, nil

	case key.Matches(msg, m.keys.FocusDown):
		m.moveFocus(1)
		return m, nil

	case key.Matches(msg, m.keys.PrevVersion):
		m.stepVersion(-1)
		return m, nil

	case key.Matches(msg, m.keys.NextVersion):
		m.stepVersion(1)
		return m, nil

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.ViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.ViewDown()
		return m, nil

	case key.Matches(msg, m.keys.NewChat):
		if err := m.ex.NewChat(); err != nil {
			m.notice = noticeFor(err)
			return m, nil
		}
		m.focus = -1
		m.editID = ""
		m.notice = ""
		m.sync()
		return m, nil

	case key.Matches(msg, m.keys.Chats):
		m.showChats = true
		m.chatCursor = 0
		return m, m.refreshChatsCmd()

	case key.Matches(msg, m.keys.Reconnect):
		if !m.snap.HasToken {
			m.notice = "Not signed in."
			return m, nil
		}
		return m, m.reconnectCmd()

	case key.Matches(msg, m.keys.SignIn):
		if m.signIn == nil {
			return m, nil
		}
		return m, m.signInCmd()

	case key.Matches(msg, m.keys.Logout):
		if !m.snap.HasToken {
			return m, nil
		}
		return m, m.logoutCmd()

	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		m.help.ShowAll = m.showHelp
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleChatListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.chatCursor > 0 {
			m.chatCursor--
		}
	case "down", "j":
		if m.chatCursor < len(m.chats)-1 {
			m.chatCursor++
		}
	case "enter":
		m.showChats = false
		if m.chatCursor < len(m.chats) {
			return m, m.loadChatCmd(m.chats[m.chatCursor].ID)
		}
	case "esc", "ctrl+l":
		m.showChats = false
	}
	return m, nil
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := m.input.Value()
	if strings.TrimSpace(text) == "" {
		return m, nil
	}
	if !m.snap.HasToken {
		m.notice = "Not signed in."
		return m, nil
	}
	if m.state != exchange.Idle {
		m.notice = noticeFor(exchange.ErrTurnInFlight)
		return m, nil
	}

	turn := exchange.Turn{Text: text, EditMessageID: m.editID}
	m.input.Reset()
	m.editID = ""
	m.focus = -1
	m.notice = ""
	m.viewport.GotoBottom()
	return m, m.sendCmd(turn)
}

// startEdit loads the focused user message into the input.
func (m *Model) startEdit() {
	i := m.focusedUser()
	if i < 0 {
		return
	}
	target := m.messages[i]
	if target.MessageID == "" {
		m.notice = "Only saved messages can be edited."
		return
	}
	m.editID = target.MessageID
	m.input.SetValue(target.Content)
	m.input.CursorEnd()
	m.notice = ""
	m.refreshViewport()
}

// finishReset clears the timeline once the operation that blocked a
// caution dismissal has returned.
func (m *Model) finishReset() {
	if !m.resetPending {
		return
	}
	if err := m.ex.NewChat(); err != nil {
		m.log.Debug().Err(err).Msg("chat reset deferred")
		return
	}
	m.resetPending = false
	m.focus = -1
	m.editID = ""
}

func (m *Model) moveFocus(step int) {
	cur := m.focusedUser()
	for i := cur + step; i >= 0 && i < len(m.messages); i += step {
		if m.messages[i].Role == timeline.RoleUser {
			m.focus = i
			m.refreshViewport()
			return
		}
	}
}

func (m *Model) stepVersion(step int) {
	i := m.focusedUser()
	if i < 0 || !m.messages[i].HasVersions() {
		return
	}
	target := m.messages[i]
	next := target.VersionIndex + step
	if next < 0 || next >= target.TotalVersions {
		return
	}
	if err := m.ex.SelectVersion(target.MessageID, next); err != nil {
		m.notice = noticeFor(err)
		return
	}
	m.focus = i
	m.sync()
}

// =============================================================================
// COMMANDS
// =============================================================================

func (m Model) sendCmd(turn exchange.Turn) tea.Cmd {
	ex, ctx := m.ex, m.ctx
	return func() tea.Msg {
		return turnDoneMsg{err: ex.SendTurn(ctx, turn)}
	}
}

func (m Model) loadChatCmd(id string) tea.Cmd {
	ex, ctx := m.ex, m.ctx
	return func() tea.Msg {
		return actionDoneMsg{action: actionLoadChat, err: ex.LoadChat(ctx, id)}
	}
}

func (m Model) refreshChatsCmd() tea.Cmd {
	b, ctx := m.bridge, m.ctx
	return func() tea.Msg {
		return actionDoneMsg{action: actionRefresh, err: b.RefreshChats(ctx)}
	}
}

func (m Model) reconnectCmd() tea.Cmd {
	sess, ctx := m.sess, m.ctx
	return func() tea.Msg {
		return actionDoneMsg{action: actionReconnect, err: sess.Reconnect(ctx)}
	}
}

func (m Model) signInCmd() tea.Cmd {
	signIn, ctx, b := m.signIn, m.ctx, m.bridge
	return func() tea.Msg {
		err := signIn(ctx)
		if err == nil {
			_ = b.RefreshChats(ctx)
		}
		return actionDoneMsg{action: actionSignIn, err: err}
	}
}

func (m Model) logoutCmd() tea.Cmd {
	sess, ex, ctx := m.sess, m.ex, m.ctx
	return func() tea.Msg {
		sess.Logout(ctx)
		return actionDoneMsg{action: actionLogout, err: ex.NewChat()}
	}
}

// noticeFor turns an operation error into status bar text.
func noticeFor(err error) string {
	var te *exchange.TurnError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &te):
		return te.Message
	case errors.Is(err, exchange.ErrTurnInFlight):
		return "A reply is still streaming."
	case errors.Is(err, exchange.ErrEmptyMessage):
		return ""
	case errors.Is(err, exchange.ErrNotAuthenticated):
		return "Not signed in."
	case errors.Is(err, timeline.ErrMessageNotFound):
		return "Message not found."
	default:
		return exchange.MsgRequestFailed
	}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/jeranaias/parley/internal/api"
	"github.com/jeranaias/parley/internal/exchange"
	"github.com/jeranaias/parley/internal/session"
	"github.com/jeranaias/parley/internal/timeline"
	"github.com/jeranaias/parley/internal/ui/styles"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Session is the session surface the view drives. *session.Manager
// satisfies it.
type Session interface {
	Snapshot() session.Snapshot
	ClearCaution()
	Reconnect(ctx context.Context) error
	Logout(ctx context.Context)
}

// Options configures a Model.
type Options struct {
	Exchange *exchange.Client
	Session  Session
	Bridge   *Bridge

	// SignIn obtains and installs a new token. Nil disables the sign-in key.
	SignIn func(ctx context.Context) error

	Markdown      bool
	MarkdownStyle string

	// Context bounds every request the view starts. Defaults to Background.
	Context context.Context
	Logger  zerolog.Logger
	Theme   *styles.Theme
}

// =============================================================================
// MODEL
// =============================================================================

// Model is the chat view.
type Model struct {
	ctx    context.Context
	ex     *exchange.Client
	sess   Session
	bridge *Bridge
	signIn func(ctx context.Context) error
	log    zerolog.Logger

	keys     KeyMap
	help     help.Model
	theme    *styles.Theme
	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	md       *markdown

	// Mirrors of the collaborators, refreshed on every refreshMsg.
	snap     session.Snapshot
	messages []timeline.Message
	state    exchange.State
	chats    []api.ChatSummary

	// focus is the index of the user entry that edits and version
	// navigation act on; -1 follows the latest one.
	focus  int
	editID string

	// resetPending is set when a dismissed caution could not clear the
	// timeline because a turn was still unwinding.
	resetPending bool

	showChats  bool
	chatCursor int
	showHelp   bool
	notice     string

	width  int
	height int
	ready  bool
}

// New creates a chat view.
func New(opts Options) Model {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	theme := opts.Theme
	if theme == nil {
		theme = styles.NewTheme()
	}

	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Type a message..."
	ti.CharLimit = 8192
	ti.Focus()

	vp := viewport.New(80, 20)

	sp := spinner.New()
	sp.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 10,
	}
	sp.Style = theme.Loading

	m := Model{
		ctx:      ctx,
		ex:       opts.Exchange,
		sess:     opts.Session,
		bridge:   opts.Bridge,
		signIn:   opts.SignIn,
		log:      opts.Logger.With().Str("component", "chat").Logger(),
		keys:     DefaultKeyMap(),
		help:     help.New(),
		theme:    theme,
		viewport: vp,
		input:    ti,
		spinner:  sp,
		md:       newMarkdown(opts.Markdown, opts.MarkdownStyle),
		focus:    -1,
	}
	m.sync()
	return m
}

// Init starts the cursor, the spinner, the refresh loop and the first chat
// list load.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, m.spinner.Tick, m.bridge.wait()}
	if m.snap.HasToken {
		cmds = append(cmds, m.refreshChatsCmd())
	}
	return tea.Batch(cmds...)
}

// sync re-reads the collaborators and re-renders the timeline.
func (m *Model) sync() {
	m.snap = m.sess.Snapshot()
	m.messages = m.ex.Timeline().Messages()
	m.state = m.ex.State()
	m.chats = m.bridge.Chats()

	if m.focus >= len(m.messages) || (m.focus >= 0 && m.messages[m.focus].Role != timeline.RoleUser) {
		m.focus = -1
	}
	if m.chatCursor >= len(m.chats) {
		m.chatCursor = max(len(m.chats)-1, 0)
	}
	if m.editID != "" && m.findUser(m.editID) < 0 {
		m.editID = ""
	}
	m.refreshViewport()
}

func (m *Model) refreshViewport() {
	follow := m.viewport.AtBottom() || m.viewport.TotalLineCount() == 0
	m.viewport.SetContent(m.renderTimeline())
	if follow {
		m.viewport.GotoBottom()
	}
}

// focusedUser returns the index of the user entry edits act on, or -1.
func (m Model) focusedUser() int {
	if m.focus >= 0 {
		return m.focus
	}
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].Role == timeline.RoleUser {
			return i
		}
	}
	return -1
}

func (m Model) findUser(messageID string) int {
	for i, msg := range m.messages {
		if msg.Role == timeline.RoleUser && msg.MessageID == messageID {
			return i
		}
	}
	return -1
}

func (m Model) cautionVisible() bool {
	return m.snap.Caution != nil
}

func (m Model) chatTitle() string {
	id := m.ex.ChatID()
	if id == "" {
		return "new chat"
	}
	for _, c := range m.chats {
		if c.ID == id && c.Title != "" {
			return c.Title
		}
	}
	return id
}

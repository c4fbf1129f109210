// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/parley/internal/api"
	"github.com/jeranaias/parley/internal/exchange"
	"github.com/jeranaias/parley/internal/session"
	"github.com/jeranaias/parley/internal/timeline"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeSession struct {
	mu         sync.Mutex
	token      string
	caution    *session.Caution
	reconnects int
	logouts    int
}

func (s *fakeSession) Snapshot() session.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := session.Snapshot{HasToken: s.token != "", Caution: s.caution}
	switch {
	case s.caution != nil:
		snap.State = session.Invalidated
	case s.token != "":
		snap.State = session.Authenticated
		snap.Channel = session.ChannelConnected
	}
	return snap
}

func (s *fakeSession) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *fakeSession) Context() context.Context { return context.Background() }

func (s *fakeSession) Invalidate(reason, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := session.CautionFor(reason, message, time.Now())
	s.caution = &c
	s.token = ""
}

func (s *fakeSession) InvalidateToken(token, reason, message string) {
	if token != s.Token() {
		return
	}
	s.Invalidate(reason, message)
}

func (s *fakeSession) ClearCaution() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caution = nil
}

func (s *fakeSession) Reconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
	return nil
}

func (s *fakeSession) Logout(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.logouts++
}

type fakeBackend struct {
	mu    sync.Mutex
	body  string
	err   error
	chat  *api.Chat
	turns []api.TurnRequest

	// block, when set, holds StreamTurn until it is closed.
	block chan struct{}
}

func (b *fakeBackend) StreamTurn(_ context.Context, _ string, req api.TurnRequest) (io.ReadCloser, error) {
	b.mu.Lock()
	b.turns = append(b.turns, req)
	body, err, block := b.body, b.err, b.block
	b.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (b *fakeBackend) LoadChat(context.Context, string, string) (*api.Chat, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.chat == nil {
		return nil, &api.StatusError{Status: 404, Message: "Not found."}
	}
	return b.chat, nil
}

type fakeLister struct {
	chats []api.ChatSummary
	err   error
}

func (l *fakeLister) ListChats(context.Context, string) ([]api.ChatSummary, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.chats, nil
}

type harness struct {
	sess    *fakeSession
	backend *fakeBackend
	lister  *fakeLister
	bridge  *Bridge
	ex      *exchange.Client
}

func newHarness(t *testing.T, token string) (*harness, Model) {
	t.Helper()
	h := &harness{
		sess:    &fakeSession{token: token},
		backend: &fakeBackend{},
		lister:  &fakeLister{},
	}
	h.bridge = NewBridge(h.lister, h.sess)
	h.ex = exchange.NewClient(h.backend, h.sess).
		WithNotify(h.bridge.Notify).
		WithRefresher(h.bridge)
	t.Cleanup(h.ex.Close)
	t.Cleanup(h.bridge.Close)

	m := New(Options{Exchange: h.ex, Session: h.sess, Bridge: h.bridge})
	m = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 30})
	return h, m
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

// run delivers msg and then the message produced by its command.
func run(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, cmd := m.Update(msg)
	m = next.(Model)
	require.NotNil(t, cmd)
	return update(t, m, cmd())
}

func typeText(t *testing.T, m Model, text string) Model {
	t.Helper()
	return update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
}

func press(k tea.KeyType) tea.KeyMsg {
	return tea.KeyMsg{Type: k}
}

// =============================================================================
// TESTS
// =============================================================================

func TestModel_SendTurnStreamsReply(t *testing.T) {
	h, m := newHarness(t, "tok")
	h.backend.body = "event: token\ndata: Hi there\nevent: done\ndata: {\"chatId\":\"c1\"}\n"
	h.lister.chats = []api.ChatSummary{{ID: "c1", Title: "Greetings"}}

	m = typeText(t, m, "hello")
	m = run(t, m, press(tea.KeyEnter))

	view := m.View()
	assert.Contains(t, view, "hello")
	assert.Contains(t, view, "Hi there")
	assert.Empty(t, m.input.Value())
	assert.Equal(t, "c1", h.ex.ChatID())

	h.ex.Close()
	m = update(t, m, refreshMsg{})
	assert.Contains(t, m.View(), "Greetings")
}

func TestModel_EmptyInputSendsNothing(t *testing.T) {
	h, m := newHarness(t, "tok")

	_, cmd := m.Update(press(tea.KeyEnter))
	assert.Nil(t, cmd)
	assert.Empty(t, h.backend.turns)
}

func TestModel_SignedOutCannotSend(t *testing.T) {
	h, m := newHarness(t, "")

	m = typeText(t, m, "hello")
	next, cmd := m.Update(press(tea.KeyEnter))
	m = next.(Model)

	assert.Nil(t, cmd)
	assert.Empty(t, h.backend.turns)
	assert.Contains(t, m.View(), "Not signed in.")
	assert.Contains(t, m.View(), "signed out")
}

func TestModel_FailedTurnShowsNotice(t *testing.T) {
	h, m := newHarness(t, "tok")
	h.backend.err = &api.StatusError{Status: 500, Message: "Server error."}

	m = typeText(t, m, "hello")
	m = run(t, m, press(tea.KeyEnter))

	assert.Equal(t, exchange.MsgSendFailed, m.notice)
	msgs := h.ex.Timeline().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, exchange.MsgSendFailed, msgs[1].Content)
	assert.Contains(t, m.View(), exchange.MsgSendFailed)
}

func TestModel_CautionCoversView(t *testing.T) {
	h, m := newHarness(t, "tok")

	h.sess.Invalidate(session.ReasonServerRestart, "")
	m = update(t, m, refreshMsg{})

	view := m.View()
	assert.Contains(t, view, "Server Restart")
	assert.Contains(t, view, "esc to dismiss")

	// Typing goes nowhere while the caution is up.
	m = typeText(t, m, "ignored")
	assert.Empty(t, m.input.Value())

	m = update(t, m, press(tea.KeyEsc))
	assert.Nil(t, h.sess.Snapshot().Caution)
	assert.NotContains(t, m.View(), "Server Restart")
}

func TestModel_CautionDismissWaitsForTurn(t *testing.T) {
	h, m := newHarness(t, "tok")
	release := make(chan struct{})
	h.backend.block = release
	h.backend.body = "event: token\ndata: late\nevent: done\ndata: c1\n"

	m = typeText(t, m, "hello")
	next, cmd := m.Update(press(tea.KeyEnter))
	m = next.(Model)
	require.NotNil(t, cmd)
	done := make(chan tea.Msg, 1)
	go func() { done <- cmd() }()
	require.Eventually(t, func() bool {
		return h.ex.State() != exchange.Idle
	}, time.Second, 5*time.Millisecond)

	h.sess.Invalidate(session.ReasonDisabled, "")
	m = update(t, m, refreshMsg{})
	require.True(t, m.cautionVisible())

	// The turn still holds the chat, so the reset waits for it.
	m = update(t, m, press(tea.KeyEsc))
	assert.False(t, m.cautionVisible())
	assert.True(t, m.resetPending)

	close(release)
	var msg tea.Msg
	select {
	case msg = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not finish")
	}
	m = update(t, m, msg)
	assert.False(t, m.resetPending)
	assert.Zero(t, h.ex.Timeline().Len())
	assert.Empty(t, h.ex.ChatID())
	assert.Contains(t, m.View(), "No messages yet.")
}

func TestModel_UnauthorizedTurnRaisesCaution(t *testing.T) {
	h, m := newHarness(t, "tok")
	h.backend.err = &api.StatusError{Status: 401, Message: "Unauthorized."}

	m = typeText(t, m, "hello")
	m = run(t, m, press(tea.KeyEnter))

	assert.True(t, m.cautionVisible())
	assert.Contains(t, m.View(), "Session Ended")
}

func TestModel_LoadChatAndNavigateVersions(t *testing.T) {
	h, m := newHarness(t, "tok")
	h.lister.chats = []api.ChatSummary{{ID: "c1", Title: "Branches"}}
	h.backend.chat = &api.Chat{ID: "c1", Messages: []api.ChatMessage{{
		ID:   "m1",
		Role: "user",
		Versions: []api.MessageVersion{
			{Content: "first question", Assistant: "first answer"},
			{Content: "second question", Assistant: "second answer"},
		},
		ActiveVersion: 2,
	}}}

	m = run(t, m, press(tea.KeyCtrlL))
	require.True(t, m.showChats)
	assert.Contains(t, m.View(), "Branches")

	m = run(t, m, press(tea.KeyEnter))
	assert.False(t, m.showChats)
	view := m.View()
	assert.Contains(t, view, "second question")
	assert.Contains(t, view, "second answer")
	assert.Contains(t, view, "(2/2)")

	m = update(t, m, press(tea.KeyCtrlLeft))
	view = m.View()
	assert.Contains(t, view, "first question")
	assert.Contains(t, view, "first answer")
	assert.Contains(t, view, "(1/2)")

	// Already at the oldest version.
	m = update(t, m, press(tea.KeyCtrlLeft))
	assert.Contains(t, m.View(), "(1/2)")

	m = update(t, m, press(tea.KeyCtrlE))
	assert.Equal(t, "m1", m.editID)
	assert.Equal(t, "first question", m.input.Value())
	assert.Contains(t, m.View(), "editing")

	h.backend.body = "event: token\ndata: regenerated\nevent: done\ndata: {\"chatId\":\"c1\"}\n"
	m = run(t, m, press(tea.KeyEnter))
	require.Len(t, h.backend.turns, 1)
	assert.Equal(t, "m1", h.backend.turns[0].EditMessageID)
	assert.Empty(t, m.editID)
}

func TestModel_EditMarkerFollowsEditMode(t *testing.T) {
	h, m := newHarness(t, "tok")
	h.ex.Timeline().ReplaceFromServer([]timeline.ServerMessage{
		{ID: "m1", Role: timeline.RoleUser, Content: "question"},
		{ID: "m1", Role: timeline.RoleAssistant, Content: "answer"},
	})
	m = update(t, m, refreshMsg{})
	assert.NotContains(t, m.View(), "editing")

	m = update(t, m, press(tea.KeyCtrlE))
	assert.Equal(t, "m1", m.editID)
	assert.Contains(t, m.View(), "editing")

	m = update(t, m, press(tea.KeyEsc))
	assert.Empty(t, m.editID)
	assert.Empty(t, m.input.Value())
	assert.NotContains(t, m.View(), "editing")
}

func TestModel_EditRequiresSavedMessage(t *testing.T) {
	h, m := newHarness(t, "tok")
	h.ex.Timeline().BeginTurn("draft")
	m = update(t, m, refreshMsg{})

	m = update(t, m, press(tea.KeyCtrlE))
	assert.Empty(t, m.editID)
	assert.Equal(t, "Only saved messages can be edited.", m.notice)
}

func TestModel_NewChatClearsTimeline(t *testing.T) {
	h, m := newHarness(t, "tok")
	h.ex.Timeline().BeginTurn("old")
	m = update(t, m, refreshMsg{})
	require.NotEmpty(t, m.messages)

	m = update(t, m, press(tea.KeyCtrlN))
	assert.Empty(t, m.messages)
	assert.Contains(t, m.View(), "No messages yet.")
}

func TestModel_ReconnectAndLogout(t *testing.T) {
	h, m := newHarness(t, "tok")

	m = run(t, m, press(tea.KeyCtrlR))
	assert.Equal(t, 1, h.sess.reconnects)

	h.ex.Timeline().BeginTurn("bye")
	m = run(t, m, press(tea.KeyCtrlO))
	assert.Equal(t, 1, h.sess.logouts)
	assert.Empty(t, m.messages)
	assert.Contains(t, m.View(), "signed out")
}

func TestModel_SignIn(t *testing.T) {
	h, m := newHarness(t, "")
	m.signIn = func(context.Context) error {
		h.sess.mu.Lock()
		h.sess.token = "fresh"
		h.sess.mu.Unlock()
		return nil
	}

	m = run(t, m, press(tea.KeyCtrlG))
	assert.True(t, m.snap.HasToken)
	assert.Empty(t, m.notice)

	m.signIn = func(context.Context) error {
		return &api.StatusError{Status: 409, Message: "User is disabled."}
	}
	m = run(t, m, press(tea.KeyCtrlG))
	assert.Equal(t, "User is disabled.", m.notice)
}

func TestModel_FocusMovesBetweenUserEntries(t *testing.T) {
	h, m := newHarness(t, "tok")
	tl := h.ex.Timeline()
	tl.BeginTurn("one")
	tl.BeginTurn("two")
	m = update(t, m, refreshMsg{})

	assert.Equal(t, 2, m.focusedUser())
	m = update(t, m, press(tea.KeyCtrlUp))
	assert.Equal(t, 0, m.focusedUser())
	m = update(t, m, press(tea.KeyCtrlUp))
	assert.Equal(t, 0, m.focusedUser())
	m = update(t, m, press(tea.KeyCtrlDown))
	assert.Equal(t, 2, m.focusedUser())
}

func TestBridge_CoalescesSignals(t *testing.T) {
	b := NewBridge(&fakeLister{}, &fakeSession{})
	b.Notify()
	b.Notify()
	b.Notify()

	assert.Equal(t, refreshMsg{}, b.wait()())

	b.Close()
	assert.Nil(t, b.wait()())
}

func TestBridge_ChatsFollowSession(t *testing.T) {
	sess := &fakeSession{token: "tok"}
	l := &fakeLister{chats: []api.ChatSummary{{ID: "c1"}}}
	b := NewBridge(l, sess)

	require.NoError(t, b.RefreshChats(context.Background()))
	assert.Len(t, b.Chats(), 1)

	b.OnSnapshot(session.Snapshot{HasToken: true})
	assert.Len(t, b.Chats(), 1)

	b.OnSnapshot(session.Snapshot{})
	assert.Empty(t, b.Chats())

	sess.Logout(context.Background())
	assert.ErrorIs(t, b.RefreshChats(context.Background()), exchange.ErrNotAuthenticated)
}

func TestBridge_RejectedTokenEndsSession(t *testing.T) {
	sess := &fakeSession{token: "tok"}
	l := &fakeLister{err: &api.StatusError{Status: 401, Message: "Unauthorized."}}
	b := NewBridge(l, sess)

	err := b.RefreshChats(context.Background())
	assert.True(t, api.IsUnauthorized(err))
	caution := sess.Snapshot().Caution
	require.NotNil(t, caution)
	assert.Equal(t, session.ReasonSessionEnded, caution.Reason)
	assert.Empty(t, sess.Token())
}

func TestBridge_OtherListFailuresKeepSession(t *testing.T) {
	sess := &fakeSession{token: "tok"}
	l := &fakeLister{err: &api.StatusError{Status: 500, Message: "Server error."}}
	b := NewBridge(l, sess)

	assert.Error(t, b.RefreshChats(context.Background()))
	assert.Nil(t, sess.Snapshot().Caution)
	assert.Equal(t, "tok", sess.Token())
}

func TestCautionTitle(t *testing.T) {
	tests := map[string]string{
		"disabled":       "Disabled",
		"server_restart": "Server Restart",
		"session_ended":  "Session Ended",
		"":               "Logout",
	}
	for reason, want := range tests {
		assert.Equal(t, want, cautionTitle(reason), reason)
	}
}

func TestNoticeFor(t *testing.T) {
	assert.Empty(t, noticeFor(nil))
	assert.Empty(t, noticeFor(exchange.ErrEmptyMessage))
	assert.Equal(t, "A reply is still streaming.", noticeFor(exchange.ErrTurnInFlight))
	assert.Equal(t, "Not signed in.", noticeFor(exchange.ErrNotAuthenticated))
	assert.Equal(t, exchange.MsgTurnFailed, noticeFor(&exchange.TurnError{Message: exchange.MsgTurnFailed}))
	assert.Equal(t, "Message not found.", noticeFor(timeline.ErrMessageNotFound))
}

func TestMarkdown(t *testing.T) {
	md := newMarkdown(true, "notty")
	md.setWidth(40)
	out := md.render("some **bold** text")
	assert.Contains(t, out, "bold")
	assert.Equal(t, out, md.render("some **bold** text"))

	off := newMarkdown(false, "notty")
	off.setWidth(40)
	assert.Equal(t, "plain text", strings.TrimSpace(off.render("plain text")))
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package exchange

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/jeranaias/parley/internal/api"
	"github.com/jeranaias/parley/internal/session"
	"github.com/jeranaias/parley/internal/storage"
	"github.com/jeranaias/parley/internal/timeline"
)

// fakeSession is a Session whose lifetime the test controls.
type fakeSession struct {
	mu          sync.Mutex
	token       string
	ctx         context.Context
	cancel      context.CancelFunc
	invalidated []string
}

func newFakeSession(token string) *fakeSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &fakeSession{token: token, ctx: ctx, cancel: cancel}
}

func (s *fakeSession) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) InvalidateToken(token, reason, _ string) {
	s.mu.Lock()
	if token != s.token {
		s.mu.Unlock()
		return
	}
	s.invalidated = append(s.invalidated, reason)
	s.token = ""
	s.mu.Unlock()
	s.cancel()
}

func (s *fakeSession) reasons() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.invalidated...)
}

// backend is a fake chat server.
type backend struct {
	router   chi.Router
	srv      *httptest.Server
	requests chan map[string]any
}

func newBackend(t *testing.T, stream http.HandlerFunc) *backend {
	t.Helper()
	b := &backend{router: chi.NewRouter(), requests: make(chan map[string]any, 16)}
	b.router.Post("/api/chat/stream", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		b.requests <- req
		stream(w, r)
	})
	b.srv = httptest.NewServer(b.router)
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) api() *api.Client {
	return api.NewClient(b.srv.URL + "/api").WithHTTPClient(b.srv.Client())
}

// lines writes each line and flushes it as its own chunk.
func lines(ls ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		for _, l := range ls {
			_, _ = io.WriteString(w, l)
			w.(http.Flusher).Flush()
		}
	}
}

func lastAssistant(t *testing.T, c *Client) timeline.Message {
	t.Helper()
	msgs := c.Timeline().Messages()
	require.NotEmpty(t, msgs)
	m := msgs[len(msgs)-1]
	require.Equal(t, timeline.RoleAssistant, m.Role)
	return m
}

// =============================================================================
// TURN TESTS
// =============================================================================

func TestClient_SendTurnStreamsReply(t *testing.T) {
	b := newBackend(t, lines("event: token\ndata: Hel", "lo\ndata:  world\n", "event: done\ndata: {\"chatId\":\"c9\"}\n"))

	var refreshed atomic.Int32
	var notified atomic.Int32
	c := NewClient(b.api(), newFakeSession("tok")).
		WithRefresher(RefresherFunc(func(context.Context) error { refreshed.Add(1); return nil })).
		WithNotify(func() { notified.Add(1) })

	require.NoError(t, c.SendTurn(context.Background(), Turn{Text: "  hi  "}))
	c.Close()

	msgs := c.Timeline().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Content)
	assert.Equal(t, "Hello world", msgs[1].Content)
	assert.False(t, msgs[1].Loading)
	assert.Equal(t, "c9", c.ChatID())
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, int32(1), refreshed.Load())
	assert.Greater(t, notified.Load(), int32(3))

	req := <-b.requests
	assert.Equal(t, map[string]any{"message": "hi"}, req)
}

func TestClient_SecondTurnCarriesChatID(t *testing.T) {
	b := newBackend(t, lines("data: ok\nevent: done\ndata: c1\n"))
	c := NewClient(b.api(), newFakeSession("tok"))

	require.NoError(t, c.SendTurn(context.Background(), Turn{Text: "one"}))
	require.NoError(t, c.SendTurn(context.Background(), Turn{Text: "two"}))

	<-b.requests
	assert.Equal(t, map[string]any{"message": "two", "chatId": "c1"}, <-b.requests)
	assert.Equal(t, 4, c.Timeline().Len())
	assert.NoError(t, c.Timeline().CheckPairing())
}

func TestClient_TokenOrderAcrossChunkSizes(t *testing.T) {
	var body strings.Builder
	var want strings.Builder
	for i := 0; i < 50; i++ {
		tok := string(rune('a' + i%26))
		body.WriteString("data: " + tok + "\n")
		want.WriteString(tok)
	}
	body.WriteString("event: done\ndata: c\n")

	b := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		raw := body.String()
		for i := 0; i < len(raw); i += 7 {
			end := min(i+7, len(raw))
			_, _ = io.WriteString(w, raw[i:end])
			w.(http.Flusher).Flush()
		}
	})
	c := NewClient(b.api(), newFakeSession("tok"))

	require.NoError(t, c.SendTurn(context.Background(), Turn{Text: "go"}))
	assert.Equal(t, want.String(), lastAssistant(t, c).Content)
}

func TestClient_ErrorEventFailsTurn(t *testing.T) {
	b := newBackend(t, lines("data: partial\n", "event: error\ndata: {\"message\":\"model down\"}\n", "data: never\n"))
	sess := newFakeSession("tok")
	c := NewClient(b.api(), sess)

	err := c.SendTurn(context.Background(), Turn{Text: "hi"})
	var te *TurnError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindProtocol, te.Kind)
	assert.Contains(t, te.Error(), "model down")

	m := lastAssistant(t, c)
	assert.Equal(t, "Failed.", m.Content)
	assert.False(t, m.Loading)
	assert.Empty(t, sess.reasons())
	assert.Equal(t, Idle, c.State())
}

func TestClient_BodyEndsWithoutDone(t *testing.T) {
	b := newBackend(t, lines("data: half a rep", "ly"))
	var refreshed atomic.Int32
	c := NewClient(b.api(), newFakeSession("tok")).
		WithRefresher(RefresherFunc(func(context.Context) error { refreshed.Add(1); return nil }))

	require.NoError(t, c.SendTurn(context.Background(), Turn{Text: "hi"}))
	c.Close()

	m := lastAssistant(t, c)
	assert.Equal(t, "half a reply", m.Content)
	assert.False(t, m.Loading)
	assert.Empty(t, c.ChatID())
	assert.Zero(t, refreshed.Load())
}

// =============================================================================
// FAILURE TESTS
// =============================================================================

func TestClient_UnauthorizedInvalidatesSession(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			b := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(status)
			})
			sess := newFakeSession("tok")
			c := NewClient(b.api(), sess)

			err := c.SendTurn(context.Background(), Turn{Text: "hi"})
			var te *TurnError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, KindUnauthorized, te.Kind)
			assert.True(t, api.IsUnauthorized(err))
			assert.Equal(t, []string{"session_ended"}, sess.reasons())
			assert.Equal(t, "Failed to send.", lastAssistant(t, c).Content)
		})
	}
}

func TestClient_LateRejectionSparesNewToken(t *testing.T) {
	sess := newFakeSession("old")
	b := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		sess.mu.Lock()
		sess.token = "new"
		sess.mu.Unlock()
		w.WriteHeader(http.StatusUnauthorized)
	})
	c := NewClient(b.api(), sess)

	err := c.SendTurn(context.Background(), Turn{Text: "hi"})
	var te *TurnError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindUnauthorized, te.Kind)
	assert.Empty(t, sess.reasons())
	assert.Equal(t, "new", sess.Token())
}

func TestClient_ForcedLogoutBlocksLaterTurns(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t, lines("data: hi\nevent: done\ndata: c1\n"))
	conns := make(chan *websocket.Conn, 1)
	b.router.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	})

	m := session.NewManager(session.Config{SocketURL: b.srv.URL + "/ws", Scoped: storage.NewMemoryStore()})
	t.Cleanup(func() { m.Close() })
	require.NoError(t, m.Login(ctx, "tok"))

	var conn *websocket.Conn
	select {
	case conn = <-conns:
	case <-time.After(2 * time.Second):
		t.Fatal("live channel was not opened")
	}
	t.Cleanup(func() { conn.CloseNow() })

	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{
		"event": "user:event",
		"data":  map[string]any{"type": "FORCE_LOGOUT", "reason": session.ReasonDisabled},
	}))
	require.Eventually(t, func() bool {
		return m.State() == session.Invalidated
	}, 2*time.Second, 5*time.Millisecond)

	c := NewClient(b.api(), m)
	err := c.SendTurn(ctx, Turn{Text: "still there?"})
	var te *TurnError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindUnauthorized, te.Kind)
	assert.Zero(t, len(b.requests))
	assert.Equal(t, MsgSendFailed, lastAssistant(t, c).Content)
}

func TestClient_ServerErrorFailsTurn(t *testing.T) {
	b := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	sess := newFakeSession("tok")
	c := NewClient(b.api(), sess)

	err := c.SendTurn(context.Background(), Turn{Text: "hi"})
	var te *TurnError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindTransport, te.Kind)
	assert.Equal(t, "Failed to send.", lastAssistant(t, c).Content)
	assert.Empty(t, sess.reasons())
}

func TestClient_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewClient(api.NewClient(srv.URL+"/api"), newFakeSession("tok"))

	err := c.SendTurn(context.Background(), Turn{Text: "hi"})
	var te *TurnError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, KindTransport, te.Kind)

	m := lastAssistant(t, c)
	assert.Equal(t, "Request failed.", m.Content)
	assert.False(t, m.Loading)
	assert.Equal(t, Idle, c.State())
}

func TestClient_NoTokenSendsNothing(t *testing.T) {
	b := newBackend(t, lines("data: x\n"))
	c := NewClient(b.api(), newFakeSession(""))

	err := c.SendTurn(context.Background(), Turn{Text: "hi"})
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Equal(t, "Failed to send.", lastAssistant(t, c).Content)
	assert.Empty(t, b.requests)
}

func TestClient_EmptyMessage(t *testing.T) {
	c := NewClient(nil, newFakeSession("tok"))
	assert.ErrorIs(t, c.SendTurn(context.Background(), Turn{Text: " \n\t"}), ErrEmptyMessage)
	assert.Zero(t, c.Timeline().Len())
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

func TestClient_SingleTurnInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	b := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "data: first\n")
		w.(http.Flusher).Flush()
		close(started)
		<-release
		_, _ = io.WriteString(w, "event: done\ndata: c1\n")
	})
	c := NewClient(b.api(), newFakeSession("tok"))

	errc := make(chan error, 1)
	go func() { errc <- c.SendTurn(context.Background(), Turn{Text: "one"}) }()
	<-started
	require.Eventually(t, func() bool { return c.State() == Streaming }, time.Second, time.Millisecond)

	assert.ErrorIs(t, c.SendTurn(context.Background(), Turn{Text: "two"}), ErrTurnInFlight)
	assert.ErrorIs(t, c.NewChat(), ErrTurnInFlight)
	assert.ErrorIs(t, c.LoadChat(context.Background(), "c1"), ErrTurnInFlight)
	assert.Equal(t, 2, c.Timeline().Len())

	close(release)
	require.NoError(t, <-errc)
	assert.Equal(t, "first", lastAssistant(t, c).Content)
	assert.Equal(t, Idle, c.State())
}

func TestClient_SessionEndCancelsTurn(t *testing.T) {
	started := make(chan struct{})
	b := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "data: partial\n")
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	})
	sess := newFakeSession("tok")
	c := NewClient(b.api(), sess)

	errc := make(chan error, 1)
	go func() { errc <- c.SendTurn(context.Background(), Turn{Text: "hi"}) }()
	<-started
	sess.cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrSessionEnded)
	case <-time.After(2 * time.Second):
		t.Fatal("turn did not stop when the session ended")
	}
	m := lastAssistant(t, c)
	assert.False(t, m.Loading)
	assert.Equal(t, Idle, c.State())
}

func TestClient_RefreshIsThrottled(t *testing.T) {
	b := newBackend(t, lines("event: done\ndata: c1\n"))
	var refreshed atomic.Int32
	c := NewClient(b.api(), newFakeSession("tok")).
		WithRefresher(RefresherFunc(func(context.Context) error { refreshed.Add(1); return errors.New("ignored") })).
		WithRefreshLimit(rate.Every(time.Hour), 1)

	for i := 0; i < 3; i++ {
		require.NoError(t, c.SendTurn(context.Background(), Turn{Text: "hi"}))
	}
	c.Close()
	assert.Equal(t, int32(1), refreshed.Load())
}

// =============================================================================
// CHAT NAVIGATION TESTS
// =============================================================================

func TestClient_EditRegeneratesAndReloads(t *testing.T) {
	var loads atomic.Int32
	b := newBackend(t, lines("data: new answer\n", "event: done\ndata: {\"chatId\":\"c1\"}\n"))
	b.router.Get("/api/chat/{id}", func(w http.ResponseWriter, _ *http.Request) {
		n := loads.Add(1)
		second := `{"_id":"m1","role":"user","content":"q1"},{"_id":"a1","role":"assistant","content":"r1"}`
		if n > 1 {
			second = `{"_id":"m1","role":"user","versions":[{"content":"q1","assistant":"r1"},{"content":"q1 edited","assistant":"new answer"}],"activeVersion":2}`
		}
		_, _ = io.WriteString(w, `{"_id":"c1","messages":[
			{"_id":"m0","role":"user","content":"q0"},
			{"_id":"a0","role":"assistant","content":"r0"},`+second+`,
			{"_id":"m2","role":"user","content":"q2"},
			{"_id":"a2","role":"assistant","content":"r2"}
		]}`)
	})
	c := NewClient(b.api(), newFakeSession("tok"))

	require.NoError(t, c.LoadChat(context.Background(), "c1"))
	require.Equal(t, 6, c.Timeline().Len())
	assert.Equal(t, "c1", c.ChatID())

	require.NoError(t, c.SendTurn(context.Background(), Turn{Text: "q1 edited", EditMessageID: "m1"}))

	req := <-b.requests
	assert.Equal(t, map[string]any{"message": "q1 edited", "chatId": "c1", "editMessageId": "m1"}, req)
	assert.Equal(t, int32(2), loads.Load())

	// The timeline follows whatever the reload returns, m2 included.
	msgs := c.Timeline().Messages()
	require.Len(t, msgs, 6)
	assert.Equal(t, "q1 edited", msgs[2].Content)
	assert.Equal(t, "new answer", msgs[3].Content)
	assert.Equal(t, 1, msgs[2].VersionIndex)
	assert.Equal(t, 2, msgs[2].TotalVersions)

	require.NoError(t, c.SelectVersion("m1", 0))
	assert.Equal(t, "q1", c.Timeline().Messages()[2].Content)
}

func TestClient_EditTruncatesBeforeStreaming(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	b := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		close(started)
		<-release
	})
	c := NewClient(b.api(), newFakeSession("tok"))
	c.Timeline().ReplaceFromServer([]timeline.ServerMessage{
		{ID: "m0", Role: timeline.RoleUser, Content: "q0"},
		{ID: "a0", Role: timeline.RoleAssistant, Content: "r0"},
		{ID: "m1", Role: timeline.RoleUser, Content: "q1"},
		{ID: "a1", Role: timeline.RoleAssistant, Content: "r1"},
		{ID: "m2", Role: timeline.RoleUser, Content: "q2"},
		{ID: "a2", Role: timeline.RoleAssistant, Content: "r2"},
	})

	errc := make(chan error, 1)
	go func() { errc <- c.SendTurn(context.Background(), Turn{Text: "again", EditMessageID: "m1"}) }()
	<-started

	msgs := c.Timeline().Messages()
	require.Len(t, msgs, 4)
	assert.True(t, msgs[3].Loading)
	assert.Empty(t, msgs[3].Content)

	close(release)
	require.NoError(t, <-errc)
	assert.False(t, lastAssistant(t, c).Loading)
}

func TestClient_EditUnknownMessage(t *testing.T) {
	c := NewClient(nil, newFakeSession("tok"))
	err := c.SendTurn(context.Background(), Turn{Text: "x", EditMessageID: "nope"})
	assert.ErrorIs(t, err, timeline.ErrMessageNotFound)
	assert.Equal(t, Idle, c.State())
	assert.Zero(t, c.Timeline().Len())
}

func TestClient_LoadChatUnauthorized(t *testing.T) {
	b := newBackend(t, lines())
	b.router.Get("/api/chat/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	sess := newFakeSession("tok")
	c := NewClient(b.api(), sess)

	err := c.LoadChat(context.Background(), "c1")
	assert.True(t, api.IsUnauthorized(err))
	assert.Equal(t, []string{"session_ended"}, sess.reasons())
}

func TestClient_NewChat(t *testing.T) {
	b := newBackend(t, lines("data: hi\nevent: done\ndata: c1\n"))
	c := NewClient(b.api(), newFakeSession("tok"))
	require.NoError(t, c.SendTurn(context.Background(), Turn{Text: "hi"}))

	require.NoError(t, c.NewChat())
	assert.Zero(t, c.Timeline().Len())
	assert.Empty(t, c.ChatID())
}

func TestIsFailureText(t *testing.T) {
	for _, s := range []string{MsgRequestFailed, MsgSendFailed, MsgTurnFailed} {
		assert.True(t, IsFailureText(s), s)
	}
	assert.False(t, IsFailureText("Hello"))
	assert.False(t, IsFailureText(""))
}

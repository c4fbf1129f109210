// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package exchange

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jeranaias/parley/internal/api"
	"github.com/jeranaias/parley/internal/session"
	"github.com/jeranaias/parley/internal/stream"
	"github.com/jeranaias/parley/internal/timeline"
)

// =============================================================================
// STATE
// =============================================================================

// State is the turn state of a chat view.
type State int32

const (
	Idle State = iota
	Sending
	Streaming
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sending:
		return "sending"
	case Streaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Turn is one user message. EditMessageID, when set, regenerates the reply
// of that persisted user message instead of appending a new pair.
type Turn struct {
	Text          string
	EditMessageID string
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// Backend is the part of the API a chat view needs.
type Backend interface {
	StreamTurn(ctx context.Context, token string, req api.TurnRequest) (io.ReadCloser, error)
	LoadChat(ctx context.Context, token, id string) (*api.Chat, error)
}

// Session supplies the token and its lifetime. *session.Manager satisfies it.
// InvalidateToken must ignore a token that is no longer current.
type Session interface {
	Token() string
	Context() context.Context
	InvalidateToken(token, reason, message string)
}

// ChatListRefresher reloads the chat list after a turn completes.
type ChatListRefresher interface {
	RefreshChats(ctx context.Context) error
}

// RefresherFunc adapts a function to ChatListRefresher.
type RefresherFunc func(ctx context.Context) error

// RefreshChats calls f.
func (f RefresherFunc) RefreshChats(ctx context.Context) error { return f(ctx) }

// Defaults for chat list refreshes.
const (
	DefaultRefreshTimeout = 10 * time.Second
	DefaultRefreshEvery   = 2 * time.Second
	DefaultRefreshBurst   = 1
)

// =============================================================================
// CLIENT
// =============================================================================

// Client runs turns for one chat view. Its methods are safe for concurrent
// use; at most one turn or reload runs at a time.
type Client struct {
	state atomic.Int32

	mu     sync.Mutex
	chatID string

	timeline *timeline.Store
	backend  Backend
	session  Session

	refresher      ChatListRefresher
	limiter        *rate.Limiter
	refreshTimeout time.Duration
	wg             sync.WaitGroup

	notify func()
	log    zerolog.Logger
}

// NewClient creates an idle Client with an empty timeline.
func NewClient(backend Backend, sess Session) *Client {
	return &Client{
		timeline:       timeline.New(),
		backend:        backend,
		session:        sess,
		limiter:        rate.NewLimiter(rate.Every(DefaultRefreshEvery), DefaultRefreshBurst),
		refreshTimeout: DefaultRefreshTimeout,
		log:            zerolog.Nop(),
	}
}

// WithTimeline uses tl instead of a fresh timeline.
func (c *Client) WithTimeline(tl *timeline.Store) *Client {
	c.timeline = tl
	return c
}

// WithRefresher sets the chat list collaborator.
func (c *Client) WithRefresher(r ChatListRefresher) *Client {
	c.refresher = r
	return c
}

// WithRefreshLimit throttles chat list refreshes.
func (c *Client) WithRefreshLimit(every rate.Limit, burst int) *Client {
	c.limiter = rate.NewLimiter(every, burst)
	return c
}

// WithNotify sets a callback run after every timeline or state change.
func (c *Client) WithNotify(fn func()) *Client {
	c.notify = fn
	return c
}

// WithLogger sets the logger.
func (c *Client) WithLogger(log zerolog.Logger) *Client {
	c.log = log.With().Str("component", "exchange").Logger()
	return c
}

// State returns the current turn state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// ChatID returns the active chat id, or "" for a chat not yet persisted.
func (c *Client) ChatID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatID
}

// Timeline returns the chat view's timeline.
func (c *Client) Timeline() *timeline.Store {
	return c.timeline
}

// Close waits for background chat list refreshes.
func (c *Client) Close() {
	c.wg.Wait()
}

// =============================================================================
// TURNS
// =============================================================================

// SendTurn runs one turn to completion. The assistant entry always ends up
// finalized: with the streamed text, or with a failure message when the
// turn fails. Failures are returned as *TurnError; ErrTurnInFlight and
// ErrEmptyMessage are returned before anything changes.
func (c *Client) SendTurn(ctx context.Context, turn Turn) error {
	text := strings.TrimSpace(turn.Text)
	if text == "" {
		return ErrEmptyMessage
	}
	if !c.acquire() {
		return ErrTurnInFlight
	}
	defer c.release()

	id := turn.EditMessageID
	if id != "" {
		if _, err := c.timeline.BeginEdit(id, text); err != nil {
			return err
		}
	} else {
		id = c.timeline.BeginTurn(text)
	}
	c.changed()

	log := c.log.With().Str("turn", id).Logger()

	token := c.session.Token()
	if token == "" {
		c.fail(id, MsgSendFailed)
		return &TurnError{Kind: KindUnauthorized, Message: MsgSendFailed, Err: ErrNotAuthenticated}
	}

	sessCtx := c.session.Context()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(sessCtx, cancel)
	defer stop()

	body, err := c.backend.StreamTurn(ctx, token, api.TurnRequest{
		Message:       text,
		ChatID:        c.ChatID(),
		EditMessageID: turn.EditMessageID,
	})
	if err != nil {
		return c.dispatchFailed(id, token, sessCtx, err)
	}
	defer body.Close()

	c.setState(Streaming)
	c.changed()

	done := false
	for ev, err := range stream.NewReader(body).All() {
		if err != nil {
			if sessCtx.Err() != nil {
				return c.sessionEnded(id)
			}
			log.Debug().Err(err).Msg("turn body read failed")
			c.fail(id, MsgRequestFailed)
			return &TurnError{Kind: KindTransport, Message: MsgRequestFailed, Err: err}
		}

		switch e := ev.(type) {
		case stream.Token:
			c.timeline.AppendToken(id, e.Text)
		case stream.Done:
			c.timeline.CompleteTurn(id)
			if e.ChatID != "" {
				c.setChatID(e.ChatID)
			}
			done = true
		case stream.Error:
			log.Debug().Str("error", e.Message).Msg("turn reported error")
			c.fail(id, MsgTurnFailed)
			return &TurnError{Kind: KindProtocol, Message: MsgTurnFailed, Err: errors.New(e.Message)}
		}
		c.changed()
		if done {
			break
		}
	}

	if !done {
		if sessCtx.Err() != nil {
			return c.sessionEnded(id)
		}
		c.timeline.CompleteTurn(id)
		c.changed()
		log.Debug().Msg("turn body ended without done")
		return nil
	}

	if turn.EditMessageID != "" {
		if chatID := c.ChatID(); chatID != "" {
			if err := c.reload(ctx, token, chatID); err != nil {
				log.Warn().Err(err).Msg("reload after edit failed")
			}
		}
	}
	c.refreshChats(sessCtx)
	return nil
}

// dispatchFailed handles a turn request that produced no body.
func (c *Client) dispatchFailed(id, token string, sessCtx context.Context, err error) error {
	if sessCtx.Err() != nil {
		return c.sessionEnded(id)
	}

	var se *api.StatusError
	if errors.As(err, &se) {
		c.fail(id, MsgSendFailed)
		if se.IsUnauthorized() {
			c.log.Warn().Int("status", se.Status).Msg("turn rejected credentials")
			c.session.InvalidateToken(token, session.ReasonSessionEnded, "")
			return &TurnError{Kind: KindUnauthorized, Message: MsgSendFailed, Err: err}
		}
		return &TurnError{Kind: KindTransport, Message: MsgSendFailed, Err: err}
	}

	c.log.Debug().Err(err).Msg("turn request failed")
	c.fail(id, MsgRequestFailed)
	return &TurnError{Kind: KindTransport, Message: MsgRequestFailed, Err: err}
}

func (c *Client) sessionEnded(id string) error {
	c.fail(id, MsgRequestFailed)
	return &TurnError{Kind: KindUnauthorized, Message: MsgRequestFailed, Err: ErrSessionEnded}
}

// =============================================================================
// CHAT NAVIGATION
// =============================================================================

// LoadChat replaces the timeline with the persisted chat id.
func (c *Client) LoadChat(ctx context.Context, id string) error {
	if !c.acquire() {
		return ErrTurnInFlight
	}
	defer c.release()

	token := c.session.Token()
	if token == "" {
		return ErrNotAuthenticated
	}
	c.setChatID(id)
	return c.reload(ctx, token, id)
}

// NewChat clears the timeline and the active chat id.
func (c *Client) NewChat() error {
	if !c.acquire() {
		return ErrTurnInFlight
	}
	defer c.release()

	c.timeline.Reset()
	c.setChatID("")
	c.changed()
	return nil
}

// SelectVersion shows branch index of the edited user message messageID.
func (c *Client) SelectVersion(messageID string, index int) error {
	if !c.acquire() {
		return ErrTurnInFlight
	}
	defer c.release()

	if err := c.timeline.SelectVersion(messageID, index); err != nil {
		return err
	}
	c.changed()
	return nil
}

func (c *Client) reload(ctx context.Context, token, id string) error {
	chat, err := c.backend.LoadChat(ctx, token, id)
	if err != nil {
		if api.IsUnauthorized(err) {
			c.session.InvalidateToken(token, session.ReasonSessionEnded, "")
		}
		return err
	}
	c.timeline.ReplaceFromServer(serverMessages(chat.Messages))
	c.changed()
	return nil
}

// serverMessages converts the backend's chat messages for the timeline.
func serverMessages(msgs []api.ChatMessage) []timeline.ServerMessage {
	out := make([]timeline.ServerMessage, 0, len(msgs))
	for _, m := range msgs {
		sm := timeline.ServerMessage{
			ID:            m.ID,
			Role:          timeline.Role(m.Role),
			Content:       m.Content,
			ActiveVersion: m.ActiveVersion,
		}
		for _, v := range m.Versions {
			sm.Versions = append(sm.Versions, timeline.Version{Content: v.Content, Assistant: v.Assistant})
		}
		out = append(out, sm)
	}
	return out
}

// =============================================================================
// HELPERS
// =============================================================================

// refreshChats asks the refresher for a new chat list in the background.
// Failures are logged only.
func (c *Client) refreshChats(sessCtx context.Context) {
	if c.refresher == nil {
		return
	}
	if !c.limiter.Allow() {
		c.log.Debug().Msg("chat list refresh throttled")
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(sessCtx, c.refreshTimeout)
		defer cancel()
		if err := c.refresher.RefreshChats(ctx); err != nil {
			c.log.Debug().Err(err).Msg("chat list refresh failed")
		}
	}()
}

func (c *Client) acquire() bool {
	if !c.state.CompareAndSwap(int32(Idle), int32(Sending)) {
		return false
	}
	c.changed()
	return true
}

func (c *Client) release() {
	c.setState(Idle)
	c.changed()
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Client) setChatID(id string) {
	c.mu.Lock()
	c.chatID = id
	c.mu.Unlock()
}

func (c *Client) fail(id, msg string) {
	c.timeline.FailTurn(id, msg)
	c.changed()
}

func (c *Client) changed() {
	if c.notify != nil {
		c.notify()
	}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/parley/internal/api"
	"github.com/jeranaias/parley/internal/exchange"
	"github.com/jeranaias/parley/internal/session"
)

// ChatLister fetches the chat list. *api.Client satisfies it.
type ChatLister interface {
	ListChats(ctx context.Context, token string) ([]api.ChatSummary, error)
}

// Credentials supplies the token for chat list requests and ends the
// session when the backend rejects it. *session.Manager satisfies it.
type Credentials interface {
	Token() string
	InvalidateToken(token, reason, message string)
}

// refreshMsg tells the Model to re-read the timeline, the session and the
// chat list.
type refreshMsg struct{}

// Bridge collects change callbacks from background goroutines and hands
// them to the Bubble Tea loop. Signals are coalesced: many changes before
// the Model catches up produce one refreshMsg.
//
// Bridge also keeps the latest chat list and serves as the exchange's
// chat list refresher.
type Bridge struct {
	lister ChatLister
	creds  Credentials

	signal    chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	chats []api.ChatSummary
}

// NewBridge creates a Bridge that lists chats with the session's token.
func NewBridge(lister ChatLister, creds Credentials) *Bridge {
	return &Bridge{
		lister: lister,
		creds:  creds,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Notify schedules a refresh. It never blocks.
func (b *Bridge) Notify() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// OnSnapshot is a session subscriber. A session without a token has no
// chats.
func (b *Bridge) OnSnapshot(snap session.Snapshot) {
	if !snap.HasToken {
		b.mu.Lock()
		b.chats = nil
		b.mu.Unlock()
	}
	b.Notify()
}

// RefreshChats reloads the chat list. A rejected token ends the session.
func (b *Bridge) RefreshChats(ctx context.Context) error {
	token := b.creds.Token()
	if token == "" {
		return exchange.ErrNotAuthenticated
	}
	chats, err := b.lister.ListChats(ctx, token)
	if err != nil {
		if api.IsUnauthorized(err) {
			b.creds.InvalidateToken(token, session.ReasonSessionEnded, "")
		}
		return err
	}
	b.mu.Lock()
	b.chats = chats
	b.mu.Unlock()
	b.Notify()
	return nil
}

// Chats returns the latest chat list.
func (b *Bridge) Chats() []api.ChatSummary {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]api.ChatSummary(nil), b.chats...)
}

// Close releases a Model waiting for the next signal.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

// wait blocks until the next signal.
func (b *Bridge) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-b.signal:
			return refreshMsg{}
		case <-b.done:
			return nil
		}
	}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jeranaias/parley/internal/api"
	"github.com/jeranaias/parley/internal/storage"
)

// Error variables for session operations.
var (
	// ErrEmptyToken indicates Login was called without a token.
	ErrEmptyToken = errors.New("session: empty token")

	// ErrNotAuthenticated indicates an operation that needs a token.
	ErrNotAuthenticated = errors.New("session: not authenticated")

	// ErrClosed indicates the manager has been closed.
	ErrClosed = errors.New("session: manager closed")
)

// Backend is the part of the API the session needs.
type Backend interface {
	Logout(ctx context.Context, token string) error
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds configuration for the session manager.
type Config struct {
	// SocketURL is the live channel endpoint, e.g. "http://localhost:5000/ws".
	SocketURL string

	// Scoped holds the token for the lifetime of the process. Required.
	Scoped storage.Store

	// Legacy is the old persistent token location. It is read once by
	// Restore and otherwise only cleared. Optional.
	Legacy storage.Store

	// Backend receives the logout notification. Optional.
	Backend Backend

	// HTTPClient is used for the channel handshake. Optional.
	HTTPClient *http.Client

	// LogoutTimeout bounds the fire-and-forget logout request (default: 5s).
	LogoutTimeout time.Duration

	Logger zerolog.Logger
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		Scoped:        storage.NewMemoryStore(),
		LogoutTimeout: 5 * time.Second,
		Logger:        zerolog.Nop(),
	}
}

// =============================================================================
// SESSION MANAGER
// =============================================================================

// Manager owns the token, its live channel and the caution record.
type Manager struct {
	// opMu serializes caller-initiated lifecycle changes. Channel goroutines
	// never take it.
	opMu sync.Mutex

	mu       sync.Mutex
	state    State
	channelS ChannelState
	token    string
	identity *Identity
	caution  *Caution
	closed   bool

	// gen increases whenever the current channel stops being current.
	gen  uint64
	ch   *channel
	last *channel

	// life is cancelled when the current token stops being current.
	life       context.Context
	cancelLife context.CancelFunc

	notifyMu sync.Mutex
	subs     []subscriber
	nextSub  int

	wg sync.WaitGroup

	socketURL     string
	scoped        storage.Store
	legacy        storage.Store
	backend       Backend
	httpClient    *http.Client
	logoutTimeout time.Duration
	log           zerolog.Logger
	now           func() time.Time
}

type subscriber struct {
	id int
	fn func(Snapshot)
}

// NewManager creates a session manager in the Anonymous state.
func NewManager(cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.Scoped == nil {
		cfg.Scoped = def.Scoped
	}
	if cfg.LogoutTimeout <= 0 {
		cfg.LogoutTimeout = def.LogoutTimeout
	}

	life, cancel := context.WithCancel(context.Background())
	cancel()

	return &Manager{
		state:         Anonymous,
		channelS:      ChannelDisconnected,
		life:          life,
		cancelLife:    cancel,
		socketURL:     cfg.SocketURL,
		scoped:        cfg.Scoped,
		legacy:        cfg.Legacy,
		backend:       cfg.Backend,
		httpClient:    cfg.HTTPClient,
		logoutTimeout: cfg.LogoutTimeout,
		log:           cfg.Logger.With().Str("component", "session").Logger(),
		now:           time.Now,
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Restore logs in with a token left from earlier in this process, or with
// one found in the legacy store. A legacy token is moved into the scoped
// store and removed from the legacy one. It reports whether a token was
// found.
func (m *Manager) Restore(ctx context.Context) (bool, error) {
	token, ok, err := m.scoped.Get(ctx, storage.TokenKey)
	if err != nil {
		return false, errors.Wrap(err, "read session token")
	}

	if (!ok || token == "") && m.legacy != nil {
		token, ok, err = m.legacy.Get(ctx, storage.TokenKey)
		if err != nil {
			return false, errors.Wrap(err, "read legacy token")
		}
		if ok && token != "" {
			if err := m.scoped.Set(ctx, storage.TokenKey, token); err != nil {
				return false, errors.Wrap(err, "migrate legacy token")
			}
			if err := m.legacy.Delete(ctx, storage.TokenKey); err != nil {
				return false, errors.Wrap(err, "remove legacy token")
			}
			m.log.Info().Str("token", api.Fingerprint(token)).Msg("migrated legacy token")
		}
	}

	if !ok || token == "" {
		return false, nil
	}
	return true, m.Login(ctx, token)
}

// Login makes token current. Any previous channel is fully torn down before
// the new one is opened, and any caution is cleared.
func (m *Manager) Login(ctx context.Context, token string) error {
	if token == "" {
		return ErrEmptyToken
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.isClosed() {
		return ErrClosed
	}

	if err := m.scoped.Set(ctx, storage.TokenKey, token); err != nil {
		return errors.Wrap(err, "store session token")
	}
	if m.legacy != nil {
		if err := m.legacy.Delete(ctx, storage.TokenKey); err != nil {
			m.log.Warn().Err(err).Msg("failed to clear legacy token")
		}
	}

	m.mu.Lock()
	m.retireLocked()
	prev := m.last
	m.mu.Unlock()

	if prev != nil {
		<-prev.done
	}

	m.mu.Lock()
	m.token = token
	m.identity = DecodeIdentity(token)
	m.state = Authenticated
	m.channelS = ChannelDisconnected
	m.caution = nil
	m.life, m.cancelLife = context.WithCancel(context.Background())
	m.startChannelLocked()
	m.mu.Unlock()

	m.log.Info().Str("token", api.Fingerprint(token)).Msg("session started")
	m.publish()
	return nil
}

// Logout ends the session locally and notifies the backend without
// waiting. Notification failures are ignored.
func (m *Manager) Logout(ctx context.Context) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	token := m.token
	m.retireLocked()
	m.clearCredentialsLocked()
	m.token = ""
	m.identity = nil
	m.state = Anonymous
	m.channelS = ChannelDisconnected
	m.caution = nil
	m.mu.Unlock()

	if token != "" && m.backend != nil {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.logoutTimeout)
			defer cancel()
			if err := m.backend.Logout(lctx, token); err != nil {
				m.log.Debug().Err(err).Msg("logout notification failed")
			}
		}()
	}

	m.log.Info().Str("token", api.Fingerprint(token)).Msg("logged out")
	m.publish()
}

// Invalidate ends an authenticated session with a caution, as when the
// backend rejects the token. It is a no-op without a token.
func (m *Manager) Invalidate(reason, message string) {
	m.invalidate("", reason, message)
}

// InvalidateToken is Invalidate for a rejection of token. It is a no-op
// when token is no longer the current one, so a late failure from an old
// session never ends its successor.
func (m *Manager) InvalidateToken(token, reason, message string) {
	if token == "" {
		return
	}
	m.invalidate(token, reason, message)
}

func (m *Manager) invalidate(token, reason, message string) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.token == "" || (token != "" && token != m.token) {
		m.mu.Unlock()
		if token != "" {
			m.log.Debug().Str("token", api.Fingerprint(token)).Msg("stale invalidation dropped")
		}
		return
	}
	m.invalidateLocked(CautionFor(reason, message, m.now()))
	m.mu.Unlock()

	m.publish()
}

// ClearCaution dismisses the caution record, returning an invalidated
// session to Anonymous.
func (m *Manager) ClearCaution() {
	m.mu.Lock()
	if m.state != Invalidated {
		m.mu.Unlock()
		return
	}
	m.state = Anonymous
	m.channelS = ChannelDisconnected
	m.caution = nil
	m.mu.Unlock()

	m.publish()
}

// Reconnect reopens the live channel for the current token if it is not
// connected. The manager never does this on its own.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return ErrClosed
	case m.token == "":
		m.mu.Unlock()
		return ErrNotAuthenticated
	case m.channelS == ChannelConnected:
		m.mu.Unlock()
		return nil
	}
	m.closeChannelLocked()
	prev := m.last
	m.mu.Unlock()

	if prev != nil {
		select {
		case <-prev.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	if m.token != "" && m.ch == nil {
		m.startChannelLocked()
	}
	m.mu.Unlock()
	return nil
}

// Close tears down the channel and waits for background work. The stored
// token is left in place.
func (m *Manager) Close() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.retireLocked()
	prev := m.last
	m.mu.Unlock()

	if prev != nil {
		<-prev.done
	}
	m.wg.Wait()
	return nil
}

// =============================================================================
// SESSION STATE
// =============================================================================

// Token returns the current bearer token, or "".
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Identity returns the decoded token payload, or nil.
func (m *Manager) Identity() *Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Caution returns the current caution record, or nil.
func (m *Manager) Caution() *Caution {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.caution == nil {
		return nil
	}
	c := *m.caution
	return &c
}

// Snapshot returns a consistent view of the session.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Context is cancelled when the current token stops being current. Without
// a token it is already cancelled.
func (m *Manager) Context() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.life
}

// Done is closed when the current token stops being current.
func (m *Manager) Done() <-chan struct{} {
	return m.Context().Done()
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

// Subscribe registers fn to receive a snapshot after every transition.
// Callbacks run synchronously and must not call back into the Manager's
// mutators. The returned function removes the subscription.
func (m *Manager) Subscribe(fn func(Snapshot)) (cancel func()) {
	m.mu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs = append(m.subs, subscriber{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

func (m *Manager) publish() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	snap := m.snapshotLocked()
	subs := append([]subscriber(nil), m.subs...)
	m.mu.Unlock()

	for _, s := range subs {
		s.fn(snap)
	}
}

// =============================================================================
// CHANNEL SIGNALS
// =============================================================================

// handleSignal applies a signal from the channel of generation gen. Signals
// from superseded channels are dropped.
func (m *Manager) handleSignal(gen uint64, sig Signal) {
	m.mu.Lock()
	if gen != m.gen || m.token == "" {
		m.mu.Unlock()
		m.log.Debug().Uint64("gen", gen).Msg("stale channel signal dropped")
		return
	}

	switch s := sig.(type) {
	case ForceLogout:
		m.log.Warn().Str("reason", s.Reason).Msg("forced logout")
		m.invalidateLocked(CautionFor(s.Reason, s.Message, s.At))
	case ConnectError:
		if isUnauthorized(s.Message) {
			m.log.Warn().Str("error", s.Message).Msg("channel rejected credentials")
			m.invalidateLocked(CautionFor(ReasonServerRestart, "", m.now()))
		} else {
			m.ch = nil
			m.channelS = ChannelDisconnected
		}
	case AbnormalDisconnect:
		m.log.Warn().Int("code", s.Code).Msg("channel lost")
		m.invalidateLocked(CautionFor(ReasonSessionEnded, "", m.now()))
	}
	m.mu.Unlock()

	m.publish()
}

func (m *Manager) setChannelConnected(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.channelS = ChannelConnected
	m.mu.Unlock()

	m.publish()
}

// =============================================================================
// HELPERS
// =============================================================================

// startChannelLocked opens a channel for the current token.
func (m *Manager) startChannelLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	ch := &channel{gen: m.gen, cancel: cancel, done: make(chan struct{})}
	m.ch = ch
	m.last = ch
	go m.runChannel(ctx, ch, m.token)
}

// closeChannelLocked stops the current channel. Its later signals are
// ignored.
func (m *Manager) closeChannelLocked() {
	m.gen++
	if m.ch != nil {
		m.ch.cancel()
		m.ch = nil
	}
}

// retireLocked ends the current token's channel and lifetime.
func (m *Manager) retireLocked() {
	m.closeChannelLocked()
	m.cancelLife()
}

// invalidateLocked ends the session with caution c and clears credentials
// before returning.
func (m *Manager) invalidateLocked(c Caution) {
	m.retireLocked()
	m.clearCredentialsLocked()
	m.token = ""
	m.identity = nil
	m.state = Invalidated
	m.channelS = ChannelInvalidated
	m.caution = &c
}

func (m *Manager) clearCredentialsLocked() {
	ctx := context.Background()
	if err := m.scoped.Delete(ctx, storage.TokenKey); err != nil {
		m.log.Warn().Err(err).Msg("failed to clear session token")
	}
	if m.legacy != nil {
		if err := m.legacy.Delete(ctx, storage.TokenKey); err != nil {
			m.log.Warn().Err(err).Msg("failed to clear legacy token")
		}
	}
}

func (m *Manager) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:    m.state,
		Channel:  m.channelS,
		Identity: m.identity,
		HasToken: m.token != "",
	}
	if m.caution != nil {
		c := *m.caution
		snap.Caution = &c
	}
	return snap
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

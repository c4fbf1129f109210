// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
)

// Live channel wire constants.
const (
	userEventName   = "user:event"
	forceLogoutType = "FORCE_LOGOUT"

	// maxFrameSize bounds a single inbound frame.
	maxFrameSize = 64 * 1024
)

// frame is one inbound text message: {"event": name, "data": {...}}.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type userEvent struct {
	Type    string `json:"type"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
	At      string `json:"at"`
}

// channel is one live connection attempt. gen ties its signals to the
// token it was opened for.
type channel struct {
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// channelURL appends the token query parameter to the socket URL.
func channelURL(socketURL, token string) (string, error) {
	u, err := url.Parse(socketURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// runChannel dials the live channel and reads signals until ctx is
// cancelled or the connection drops. Only failures the client did not cause
// are reported.
func (m *Manager) runChannel(ctx context.Context, ch *channel, token string) {
	defer close(ch.done)
	log := m.log.With().Uint64("gen", ch.gen).Logger()

	target, err := channelURL(m.socketURL, token)
	if err != nil {
		m.handleSignal(ch.gen, ConnectError{Message: err.Error()})
		return
	}

	conn, resp, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPClient: m.httpClient,
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Debug().Err(err).Msg("channel connect failed")
		m.handleSignal(ch.gen, connectError(err, resp))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxFrameSize)

	log.Debug().Msg("channel connected")
	m.setChannelConnected(ch.gen)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Debug().Msg("channel closed by client")
				return
			}
			status := websocket.CloseStatus(err)
			log.Debug().Err(err).Int("status", int(status)).Msg("channel dropped")
			m.handleSignal(ch.gen, AbnormalDisconnect{Code: int(status), Reason: err.Error()})
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		sig, ok := decodeFrame(data, m.now())
		if !ok {
			log.Debug().Int("bytes", len(data)).Msg("channel frame ignored")
			continue
		}
		m.handleSignal(ch.gen, sig)
	}
}

// decodeFrame turns a text frame into a Signal. Anything other than a
// forced logout is ignored.
func decodeFrame(data []byte, now time.Time) (Signal, bool) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil || f.Event != userEventName {
		return nil, false
	}
	var ev userEvent
	if err := json.Unmarshal(f.Data, &ev); err != nil || ev.Type != forceLogoutType {
		return nil, false
	}

	at := now
	if t, err := time.Parse(time.RFC3339, ev.At); err == nil {
		at = t
	}
	reason := ev.Reason
	if reason == "" {
		reason = ReasonLogout
	}
	return ForceLogout{Reason: reason, Message: ev.Message, At: at}, true
}

// connectError describes a failed handshake. Refused credentials are
// reported as "unauthorized".
func connectError(err error, resp *http.Response) ConnectError {
	if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		return ConnectError{Message: fmt.Sprintf("unauthorized (HTTP %d)", resp.StatusCode)}
	}
	return ConnectError{Message: err.Error()}
}

func isUnauthorized(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "unauthorized")
}

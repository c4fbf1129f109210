// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import "time"

// =============================================================================
// STATES
// =============================================================================

// State is the lifecycle state of the session.
type State int

const (
	Anonymous State = iota
	Authenticated
	Invalidated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	case Invalidated:
		return "invalidated"
	default:
		return "unknown"
	}
}

// ChannelState is the state of the live channel.
type ChannelState int

const (
	ChannelDisconnected ChannelState = iota
	ChannelConnected
	ChannelInvalidated
)

// String returns the channel state name.
func (s ChannelState) String() string {
	switch s {
	case ChannelDisconnected:
		return "disconnected"
	case ChannelConnected:
		return "connected"
	case ChannelInvalidated:
		return "invalidated"
	default:
		return "unknown"
	}
}

// Reasons carried by a forced logout.
const (
	ReasonDisabled      = "disabled"
	ReasonDeleted       = "deleted"
	ReasonServerRestart = "server_restart"
	ReasonSessionEnded  = "session_ended"
	ReasonLogout        = "logout"
)

// Caution records why a session was invalidated.
type Caution struct {
	Reason  string
	Message string
	At      time.Time
}

// Snapshot is a consistent view of the session.
type Snapshot struct {
	State    State
	Channel  ChannelState
	Identity *Identity
	Caution  *Caution
	HasToken bool
}

// =============================================================================
// SIGNALS
// =============================================================================

// Signal is an asynchronous event from the live channel. The concrete type
// is one of ForceLogout, ConnectError or AbnormalDisconnect.
type Signal interface {
	isSignal()
}

// ForceLogout is the server ending the session.
type ForceLogout struct {
	Reason  string
	Message string
	At      time.Time
}

// ConnectError is a failed channel handshake.
type ConnectError struct {
	Message string
}

// AbnormalDisconnect is a channel closed by the server or lost in transit.
// Code is the websocket close status, or -1 when no close frame arrived.
type AbnormalDisconnect struct {
	Code   int
	Reason string
}

func (ForceLogout) isSignal()        {}
func (ConnectError) isSignal()       {}
func (AbnormalDisconnect) isSignal() {}

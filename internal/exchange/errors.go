// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package exchange

import (
	"fmt"

	"github.com/pkg/errors"
)

// Texts written into a failed assistant entry.
const (
	MsgRequestFailed = "Request failed."
	MsgSendFailed    = "Failed to send."
	MsgTurnFailed    = "Failed."
)

// IsFailureText reports whether content is one of the texts a failed turn
// leaves in its assistant entry.
func IsFailureText(content string) bool {
	switch content {
	case MsgRequestFailed, MsgSendFailed, MsgTurnFailed:
		return true
	}
	return false
}

// Error variables for turn dispatch.
var (
	// ErrTurnInFlight indicates a turn is already running for this view.
	ErrTurnInFlight = errors.New("exchange: a turn is already in flight")

	// ErrEmptyMessage indicates a turn without text.
	ErrEmptyMessage = errors.New("exchange: empty message")

	// ErrNotAuthenticated indicates there is no token to send with.
	ErrNotAuthenticated = errors.New("exchange: not authenticated")

	// ErrSessionEnded indicates the session ended while the turn ran.
	ErrSessionEnded = errors.New("exchange: session ended")
)

// Kind classifies a turn failure.
type Kind int

const (
	// KindTransport: the request could not be sent, was refused with a
	// non-auth status, or its body could not be read.
	KindTransport Kind = iota
	// KindUnauthorized: the backend rejected the token.
	KindUnauthorized
	// KindProtocol: the stream reported an error.
	KindProtocol
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindUnauthorized:
		return "unauthorized"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// TurnError is a failed turn. Message is what the timeline shows.
type TurnError struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *TurnError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("turn failed (%s): %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("turn failed (%s): %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *TurnError) Unwrap() error {
	return e.Err
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

// Event kinds as they appear after the "event:" prefix.
const (
	KindToken = "token"
	KindDone  = "done"
	KindError = "error"
)

// Event is one parsed protocol unit. The set of implementations is closed:
// Token, Done and Error.
type Event interface {
	isEvent()
}

// Token carries one incremental fragment of assistant output.
type Token struct {
	Text string
}

// Done marks the end of a successful turn. ChatID is the identity the
// backend assigned to the chat, which is new on the first turn of a chat.
type Done struct {
	ChatID string
}

// Error reports a backend failure. No further events follow it.
type Error struct {
	Message string
}

func (Token) isEvent() {}
func (Done) isEvent()  {}
func (Error) isEvent() {}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package timeline holds the ordered message list of the active chat.
//
// Entries always come in user/assistant pairs. A pair is created
// optimistically under a temporary id before the backend persists it, and
// an edit regenerates a pair in place while discarding everything after it.
package timeline

import "github.com/google/uuid"

// Role identifies the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// TempIDPrefix starts every client-generated id.
const TempIDPrefix = "tmp_"

// Message is one entry of the Timeline.
type Message struct {
	Role    Role
	Content string

	// MessageID is the server-assigned id of the turn. Both entries of a
	// persisted pair carry the id of the user message.
	MessageID string
	// TempID locates an optimistic pair until the server id is known.
	TempID string

	// VersionIndex and TotalVersions are set on user entries that have been
	// edited at least once. TotalVersions is zero otherwise.
	VersionIndex  int
	TotalVersions int

	// Loading is true while an assistant entry waits for its first token.
	Loading bool
}

// ID returns the authoritative identity of the entry.
func (m Message) ID() string {
	if m.MessageID != "" {
		return m.MessageID
	}
	return m.TempID
}

// HasVersions reports whether the entry can be navigated between versions.
func (m Message) HasVersions() bool {
	return m.TotalVersions > 1
}

// Version is one branch of an edited user message together with the
// assistant reply generated for it.
type Version struct {
	Content   string
	Assistant string
}

// ServerMessage is the backend's representation of a chat entry. Legacy
// entries carry Content and Role only; edited entries carry Versions and a
// 1-based ActiveVersion.
type ServerMessage struct {
	ID            string
	Role          Role
	Content       string
	Versions      []Version
	ActiveVersion int
}

func newTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

// TurnRequest is the body of POST /chat/stream.
type TurnRequest struct {
	Message       string `json:"message"`
	ChatID        string `json:"chatId,omitempty"`
	EditMessageID string `json:"editMessageId,omitempty"`
}

// ChatSummary is one entry of the chat list.
type ChatSummary struct {
	ID        string `json:"_id"`
	Title     string `json:"title"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// Chat is a full chat as returned by GET /chat/{id}.
type Chat struct {
	ID       string        `json:"_id"`
	Title    string        `json:"title"`
	Messages []ChatMessage `json:"messages"`
}

// ChatMessage is a persisted message. Legacy messages carry Role and
// Content; edited user messages carry Versions and a 1-based ActiveVersion.
type ChatMessage struct {
	ID            string           `json:"_id"`
	Role          string           `json:"role"`
	Content       string           `json:"content"`
	Versions      []MessageVersion `json:"versions,omitempty"`
	ActiveVersion int              `json:"activeVersion,omitempty"`
}

// MessageVersion is one branch of an edited message.
type MessageVersion struct {
	Content   string `json:"content"`
	Assistant string `json:"assistant"`
}

type loginRequest struct {
	Username string `json:"username"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// errorBody covers both error shapes the backend emits.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

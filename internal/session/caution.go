// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"strings"
	"time"
)

const defaultCautionMessage = "Session ended."

var cautionMessages = map[string]string{
	ReasonDisabled:      "Your account was disabled by an admin.",
	ReasonDeleted:       "Your account was deleted by an admin.",
	ReasonServerRestart: "The server restarted. Please sign in again.",
	ReasonSessionEnded:  defaultCautionMessage,
	ReasonLogout:        defaultCautionMessage,
}

// CautionFor builds the caution record for reason. Known reasons always map
// to the same message; for unknown reasons the server's message is used
// when present.
func CautionFor(reason, serverMessage string, at time.Time) Caution {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = ReasonLogout
	}
	msg, ok := cautionMessages[reason]
	if !ok {
		msg = strings.TrimSpace(serverMessage)
		if msg == "" {
			msg = defaultCautionMessage
		}
	}
	return Caution{Reason: reason, Message: msg, At: at}
}

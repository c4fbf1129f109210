// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeToken(payload string, enc *base64.Encoding) string {
	return "eyJhbGciOiJIUzI1NiJ9." + enc.EncodeToString([]byte(payload)) + ".sig"
}

func TestDecodeIdentity(t *testing.T) {
	payload := `{"username":"ålice","role":"user","exp":1700000000}`

	for name, enc := range map[string]*base64.Encoding{
		"unpadded url": base64.RawURLEncoding,
		"padded url":   base64.URLEncoding,
		"padded std":   base64.StdEncoding,
	} {
		t.Run(name, func(t *testing.T) {
			id := DecodeIdentity(makeToken(payload, enc))
			require.NotNil(t, id)
			assert.Equal(t, "ålice", id.Name())
			assert.Equal(t, "user", id.Claim("role"))
			assert.Equal(t, "1.7e+09", id.Claim("exp"))
			assert.Empty(t, id.Claim("missing"))
		})
	}
}

func TestDecodeIdentityFailures(t *testing.T) {
	for _, token := range []string{
		"",
		"opaque",
		"a..c",
		"a.!!!.c",
		"a." + base64.RawURLEncoding.EncodeToString([]byte("not json")) + ".c",
		"a." + base64.RawURLEncoding.EncodeToString([]byte("null")) + ".c",
	} {
		assert.Nil(t, DecodeIdentity(token), "token %q", token)
	}
}

func TestIdentityNameFallback(t *testing.T) {
	id := DecodeIdentity(makeToken(`{"sub":"42"}`, base64.RawURLEncoding))
	require.NotNil(t, id)
	assert.Equal(t, "42", id.Name())

	var none *Identity
	assert.Empty(t, none.Name())
}

func TestCautionFor(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		reason, server string
		wantReason     string
		wantMessage    string
	}{
		{"disabled", "", "disabled", "Your account was disabled by an admin."},
		{"disabled", "ignored for known reasons", "disabled", "Your account was disabled by an admin."},
		{"deleted", "", "deleted", "Your account was deleted by an admin."},
		{"server_restart", "", "server_restart", "The server restarted. Please sign in again."},
		{"session_ended", "", "session_ended", "Session ended."},
		{"logout", "", "logout", "Session ended."},
		{"", "", "logout", "Session ended."},
		{"maintenance", "Back at noon.", "maintenance", "Back at noon."},
		{"maintenance", "  ", "maintenance", "Session ended."},
	}

	for _, tt := range tests {
		c := CautionFor(tt.reason, tt.server, at)
		assert.Equal(t, Caution{Reason: tt.wantReason, Message: tt.wantMessage, At: at}, c)
	}
}

func TestDecodeFrame(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	sig, ok := decodeFrame([]byte(`{"event":"user:event","data":{"type":"FORCE_LOGOUT","reason":"deleted","message":"bye"}}`), now)
	require.True(t, ok)
	assert.Equal(t, ForceLogout{Reason: "deleted", Message: "bye", At: now}, sig)

	sig, ok = decodeFrame([]byte(`{"event":"user:event","data":{"type":"FORCE_LOGOUT"}}`), now)
	require.True(t, ok)
	assert.Equal(t, ReasonLogout, sig.(ForceLogout).Reason)

	for _, raw := range []string{
		`{"event":"admin:event","data":{"type":"FORCE_LOGOUT"}}`,
		`{"event":"user:event","data":{"type":"NOTICE"}}`,
		`{"event":"user:event","data":"text"}`,
		`garbage`,
	} {
		_, ok := decodeFrame([]byte(raw), now)
		assert.False(t, ok, raw)
	}
}

func TestChannelURL(t *testing.T) {
	got, err := channelURL("http://localhost:5000/ws", "a+b/c")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:5000/ws?token=a%2Bb%2Fc", got)
}

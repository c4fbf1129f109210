// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Identity is the unverified payload of a JWT bearer token. It is for
// display only; the server decides whether the token is valid.
type Identity struct {
	Claims map[string]any
}

// Claim returns the claim key formatted as a string.
func (id *Identity) Claim(key string) string {
	if id == nil {
		return ""
	}
	v, ok := id.Claims[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Name returns the best display name found in the claims.
func (id *Identity) Name() string {
	for _, key := range []string{"username", "name", "sub", "id"} {
		if s := id.Claim(key); s != "" {
			return s
		}
	}
	return ""
}

// DecodeIdentity decodes the payload segment of token. Padding is optional
// and both base64 alphabets are accepted. It returns nil when the token is
// not a decodable JWT.
func DecodeIdentity(token string) *Identity {
	parts := strings.Split(token, ".")
	if len(parts) < 2 || parts[1] == "" {
		return nil
	}

	seg := strings.TrimRight(parts[1], "=")
	seg = strings.NewReplacer("+", "-", "/", "_").Replace(seg)
	raw, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return nil
	}

	var claims map[string]any
	if err := json.Unmarshal(raw, &claims); err != nil || claims == nil {
		return nil
	}
	return &Identity{Claims: claims}
}

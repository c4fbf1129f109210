// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api is the HTTP client for the chat backend.
//
// Every endpoint lives under {origin}/api. Authenticated calls carry the
// bearer token; the token itself is never logged, only a short fingerprint.
//
// # Usage
//
//	c := api.NewClient("http://localhost:5000/api").WithLogger(log)
//	token, err := c.Login(ctx, "alice")
//	body, err := c.StreamTurn(ctx, token, api.TurnRequest{Message: "hi"})
//	defer body.Close()
//
// Non-2xx responses surface as *StatusError; IsUnauthorized reports the
// 401/403 responses that end a session.
package api

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session owns the authentication token and the live channel that
// reports server-initiated session changes.
//
// # States
//
// A Manager moves through Anonymous, Authenticated and Invalidated. While
// Authenticated it keeps exactly one websocket channel open for the current
// token; the channel state is reported separately as Disconnected,
// Connected or Invalidated.
//
// The channel delivers three kinds of Signal:
//
//   - ForceLogout: the server ended the session (disabled, deleted, ...)
//   - ConnectError: the handshake failed; "unauthorized" ends the session
//   - AbnormalDisconnect: the channel dropped without the client asking
//
// Any of these that ends the session clears the stored token before the
// caller can observe the new state, and leaves a Caution describing why.
// Nothing re-authenticates automatically.
//
// # Usage
//
//	mgr := session.NewManager(session.Config{
//		SocketURL: "http://localhost:5000/ws",
//		Scoped:    storage.NewMemoryStore(),
//		Backend:   apiClient,
//	})
//	defer mgr.Close()
//
//	if err := mgr.Login(ctx, token); err != nil { ... }
//	cancel := mgr.Subscribe(func(s session.Snapshot) { ... })
//	defer cancel()
//
// Work bound to the current token derives from mgr.Context(), which is
// cancelled as soon as the token stops being current.
package session

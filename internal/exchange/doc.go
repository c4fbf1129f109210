// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package exchange runs streaming turns for one chat view.
//
// A Client moves Idle → Sending → Streaming → Idle for every turn and
// refuses a second turn while one is in flight. Each turn inserts an
// optimistic user/assistant pair into the timeline (or regenerates an
// edited pair), posts it to the backend and applies the streamed events in
// arrival order.
//
// Turns are bound to the session's token lifetime: when the session ends,
// the in-flight read is cancelled and SendTurn returns ErrSessionEnded.
//
// # Usage
//
//	c := exchange.NewClient(apiClient, sessionManager).
//		WithRefresher(exchange.RefresherFunc(reloadSidebar)).
//		WithNotify(redraw)
//
//	err := c.SendTurn(ctx, exchange.Turn{Text: "hello"})
//	var te *exchange.TurnError
//	if errors.As(err, &te) { ... }
package exchange

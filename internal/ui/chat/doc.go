// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat is the terminal chat view of parley.
//
// The Model renders the timeline of an exchange.Client and the state of a
// session.Manager. Both report changes from their own goroutines; a Bridge
// turns those callbacks into a single coalesced Bubble Tea message, and the
// Model re-reads everything it shows when that message arrives. An
// invalidated session covers the view with the caution surface until the
// user dismisses it.
package chat

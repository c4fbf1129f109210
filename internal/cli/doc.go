// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the parley command line.
//
// Commands:
//
//	parley chat              Open the interactive chat view
//	parley send [message]    Send one message and stream the reply
//	parley whoami            Show the identity carried by the token
//	parley logout            End the session and clear stored tokens
//	parley export <chat-id>  Write a chat transcript as Markdown or JSON
//
// Every command loads ~/.parley/config.toml (or --config), a .env file in
// the working directory, and PARLEY_* environment variables, in that order
// of increasing precedence. Flags override all three.
package cli

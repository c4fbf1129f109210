// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads parley's configuration.
//
// Sources, lowest precedence first:
//   - built-in defaults
//   - ~/.parley/config.toml (or --config)
//   - PARLEY_* environment variables
//
// Example file:
//
//	[server]
//	api_origin = "https://chat.example.com"
//
//	[session]
//	username = "alice"
//
//	[logging]
//	level = "debug"
//	file = "~/.parley/parley.log"
package config

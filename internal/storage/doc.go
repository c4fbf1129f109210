// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides key/value stores for session credentials.
//
// Two lifetimes are supported:
//
//   - MemoryStore: scoped to the running process. A token kept here is gone
//     once the client exits, which is how a session ends when its execution
//     context ends.
//   - SQLiteStore: persistent, kept in a single SQLite table. It only backs
//     the legacy token location, which is read once at startup and migrated
//     into the scoped store.
//
// # Usage
//
//	scoped := storage.NewMemoryStore()
//	legacy, err := storage.OpenSQLite("~/.parley/legacy.db")
//	token, ok, err := legacy.Get(ctx, storage.TokenKey)
package storage

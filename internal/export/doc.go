// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes a chat transcript to a file or stream.
//
// # Key Types
//
//   - Transcript: the turns of one chat, built from a loaded timeline
//   - Exporter: format interface (Markdown, JSON)
//   - Options: metadata and edit-branch inclusion, output directory
//
// # Usage
//
//	t := export.FromTimeline(chatID, title, client.Timeline(), time.Now())
//	path, err := export.ExportToFile(t, export.NewMarkdownExporter(opts), opts)
package export

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports transcripts to Markdown.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a transcript to Markdown.
func (e *MarkdownExporter) Export(t *Transcript) ([]byte, error) {
	if t == nil || len(t.Turns) == 0 {
		return nil, ErrEmptyTranscript
	}

	var sb strings.Builder

	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		fmt.Fprintf(&sb, "title: %s\n", escapeYAML(t.Title))
		fmt.Fprintf(&sb, "chat: %s\n", escapeYAML(t.ChatID))
		fmt.Fprintf(&sb, "turns: %d\n", len(t.Turns))
		fmt.Fprintf(&sb, "exported: %s\n", t.ExportedAt.Format(time.RFC3339))
		sb.WriteString("generator: parley\n")
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(t.Title))

	for i, turn := range t.Turns {
		if turn.Version > 0 {
			fmt.Fprintf(&sb, "### You <sub>version %d of %d</sub>\n\n", turn.Version, len(turn.Branches))
		} else {
			sb.WriteString("### You\n\n")
		}
		sb.WriteString(turn.User)
		sb.WriteString("\n\n### Assistant\n\n")
		sb.WriteString(turn.Assistant)
		sb.WriteString("\n\n")

		if e.options.IncludeBranches && len(turn.Branches) > 1 {
			e.writeBranches(&sb, turn)
		}

		if i < len(t.Turns)-1 {
			sb.WriteString("---\n\n")
		}
	}
	return []byte(sb.String()), nil
}

// writeBranches lists the versions not shown above in a collapsed block.
func (e *MarkdownExporter) writeBranches(sb *strings.Builder, turn Turn) {
	sb.WriteString("<details>\n<summary>Other versions</summary>\n\n")
	for i, b := range turn.Branches {
		if i+1 == turn.Version {
			continue
		}
		fmt.Fprintf(sb, "**Version %d**\n\n> %s\n\n%s\n\n", i+1, quoteLines(b.User), b.Assistant)
	}
	sb.WriteString("</details>\n\n")
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// =============================================================================
// HELPERS
// =============================================================================

// escapeMarkdown escapes characters that would break formatting in headings.
func escapeMarkdown(s string) string {
	s = strings.ReplaceAll(s, "#", "\\#")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	return s
}

// escapeYAML quotes values containing YAML special characters.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		s = strings.ReplaceAll(s, "\r", "\\r")
		return fmt.Sprintf("\"%s\"", s)
	}
	return s
}

func quoteLines(s string) string {
	return strings.ReplaceAll(s, "\n", "\n> ")
}

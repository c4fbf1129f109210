// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/jeranaias/parley/internal/timeline"
)

// =============================================================================
// TRANSCRIPT
// =============================================================================

// Transcript is the exported form of a chat.
type Transcript struct {
	ChatID     string    `json:"chatId"`
	Title      string    `json:"title"`
	ExportedAt time.Time `json:"exportedAt"`
	Turns      []Turn    `json:"turns"`
}

// Turn is a user message with the reply shown for it.
type Turn struct {
	MessageID string `json:"messageId,omitempty"`
	User      string `json:"user"`
	Assistant string `json:"assistant"`

	// Version is the 1-based branch shown in the chat; zero for a message
	// that was never edited.
	Version  int      `json:"version,omitempty"`
	Branches []Branch `json:"branches,omitempty"`
}

// Branch is one version of an edited user message.
type Branch struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// FromTimeline builds a Transcript from the entries of tl. Entries still
// waiting for a reply are skipped.
func FromTimeline(chatID, title string, tl *timeline.Store, now time.Time) *Transcript {
	t := &Transcript{ChatID: chatID, Title: title, ExportedAt: now}
	if t.Title == "" {
		t.Title = chatID
	}

	msgs := tl.Messages()
	for i := 0; i+1 < len(msgs); i += 2 {
		user, reply := msgs[i], msgs[i+1]
		if user.Role != timeline.RoleUser || reply.Loading {
			continue
		}
		turn := Turn{MessageID: user.MessageID, User: user.Content, Assistant: reply.Content}
		if user.HasVersions() {
			turn.Version = user.VersionIndex + 1
			for _, v := range tl.Versions(user.MessageID) {
				turn.Branches = append(turn.Branches, Branch{User: v.Content, Assistant: v.Assistant})
			}
		}
		t.Turns = append(t.Turns, turn)
	}
	return t
}

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter defines the interface for transcript exporters.
type Exporter interface {
	// Export converts a transcript to the target format.
	Export(t *Transcript) ([]byte, error)

	// FileExtension returns the file extension, e.g. ".md".
	FileExtension() string
}

// Options configures export behavior.
type Options struct {
	// OutputDir is where ExportToFile writes. Default: current directory.
	OutputDir string

	// IncludeMetadata adds a front matter header.
	IncludeMetadata bool

	// IncludeBranches lists every version of edited messages.
	IncludeBranches bool
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:       ".",
		IncludeMetadata: true,
	}
}

// ErrEmptyTranscript is returned for a chat without finished turns.
var ErrEmptyTranscript = errors.New("chat has no messages")

// ExportToFile writes the transcript to a new file in opts.OutputDir and
// returns its path.
func ExportToFile(t *Transcript, exporter Exporter, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	content, err := exporter.Export(t)
	if err != nil {
		return "", errors.Wrap(err, "export failed")
	}

	filename := fmt.Sprintf("chat_%s_%s%s",
		sanitizeFilename(t.Title),
		t.ExportedAt.Format("20060102_150405"),
		exporter.FileExtension(),
	)

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return "", errors.Wrap(err, "create output directory")
	}

	outputPath := filepath.Join(opts.OutputDir, filename)
	if err := os.WriteFile(outputPath, content, 0644); err != nil {
		return "", errors.Wrap(err, "write file")
	}
	return outputPath, nil
}

// ForFormat returns the exporter for a format name: "markdown", "md" or
// "json".
func ForFormat(format string, opts *Options) (Exporter, error) {
	switch strings.ToLower(format) {
	case "markdown", "md":
		return NewMarkdownExporter(opts), nil
	case "json":
		return NewJSONExporter(opts), nil
	default:
		return nil, errors.Errorf("unknown export format %q (want markdown or json)", format)
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// sanitizeFilename removes or replaces characters that are invalid in filenames.
func sanitizeFilename(s string) string {
	const maxLen = 50
	runes := []rune(s)
	if len(runes) > maxLen {
		runes = runes[:maxLen]
	}

	result := make([]rune, 0, len(runes))
	for _, r := range runes {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			result = append(result, '-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			result = append(result, '_')
		case r < 32 || r == 127:
			result = append(result, '-')
		default:
			result = append(result, r)
		}
	}

	if len(result) == 0 {
		return "chat"
	}
	return string(result)
}

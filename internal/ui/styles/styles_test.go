// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkdownStyle_Explicit(t *testing.T) {
	assert.Equal(t, "dark", MarkdownStyle("dark"))
	assert.Equal(t, "light", MarkdownStyle("LIGHT"))
	assert.Equal(t, "notty", MarkdownStyle("notty"))
}

func TestMarkdownStyle_Auto(t *testing.T) {
	assert.Contains(t, []string{"dark", "light"}, MarkdownStyle("auto"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "a long...", Truncate("a long chat title", 9))
	assert.Equal(t, "", Truncate("anything", 0))
	// Wide runes take two cells each.
	assert.Equal(t, "日本...", Truncate("日本語のタイトル", 7))
}

func TestNewTheme_Renders(t *testing.T) {
	th := NewTheme()
	out := th.CautionBox.Render(th.CautionTitle.Render("Disabled"))
	assert.Contains(t, out, "Disabled")
	assert.Contains(t, th.UserLabel.Render("You"), "You")
}

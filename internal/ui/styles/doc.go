// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the visual styling of the parley chat view.

# Color System (colors.go)

All colors are Lip Gloss AdaptiveColor values, so light and dark terminals
pick a matching variant without configuration:

	Purple  - assistant label, selections
	Cyan    - user label, brand
	Emerald - connected channel
	Amber   - caution surface, disconnected channel
	Rose    - failed replies

# Theme System (theme.go)

Theme bundles the lipgloss styles the chat view renders with:

	theme := styles.NewTheme()
	box := theme.CautionBox.Width(50).Render(text)

MarkdownStyle resolves the configured glamour style name, probing the
terminal background for "auto".
*/
package styles

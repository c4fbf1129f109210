// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/charmbracelet/bubbles/key"
)

// =============================================================================
// KEY MAP DEFINITION
// =============================================================================

// KeyMap defines the keyboard bindings of the chat view.
type KeyMap struct {
	Submit      key.Binding
	Edit        key.Binding
	Cancel      key.Binding
	FocusUp     key.Binding
	FocusDown   key.Binding
	PrevVersion key.Binding
	NextVersion key.Binding
	PageUp      key.Binding
	PageDown    key.Binding
	NewChat     key.Binding
	Chats       key.Binding
	Reconnect   key.Binding
	SignIn      key.Binding
	Logout      key.Binding
	Help        key.Binding
	Quit        key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Submit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "send"),
		),
		Edit: key.NewBinding(
			key.WithKeys("ctrl+e"),
			key.WithHelp("C-e", "edit message"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "cancel/dismiss"),
		),
		FocusUp: key.NewBinding(
			key.WithKeys("ctrl+up", "alt+k"),
			key.WithHelp("C-up", "previous message"),
		),
		FocusDown: key.NewBinding(
			key.WithKeys("ctrl+down", "alt+j"),
			key.WithHelp("C-down", "next message"),
		),
		PrevVersion: key.NewBinding(
			key.WithKeys("ctrl+left", "alt+h"),
			key.WithHelp("C-left", "older version"),
		),
		NextVersion: key.NewBinding(
			key.WithKeys("ctrl+right", "alt+l"),
			key.WithHelp("C-right", "newer version"),
		),
		PageUp: key.NewBinding(
			key.WithKeys("pgup"),
			key.WithHelp("PgUp", "page up"),
		),
		PageDown: key.NewBinding(
			key.WithKeys("pgdown"),
			key.WithHelp("PgDn", "page down"),
		),
		NewChat: key.NewBinding(
			key.WithKeys("ctrl+n"),
			key.WithHelp("C-n", "new chat"),
		),
		Chats: key.NewBinding(
			key.WithKeys("ctrl+l"),
			key.WithHelp("C-l", "chats"),
		),
		Reconnect: key.NewBinding(
			key.WithKeys("ctrl+r"),
			key.WithHelp("C-r", "reconnect"),
		),
		SignIn: key.NewBinding(
			key.WithKeys("ctrl+g"),
			key.WithHelp("C-g", "sign in"),
		),
		Logout: key.NewBinding(
			key.WithKeys("ctrl+o"),
			key.WithHelp("C-o", "log out"),
		),
		Help: key.NewBinding(
			key.WithKeys("f1"),
			key.WithHelp("F1", "help"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("C-c", "quit"),
		),
	}
}

// ShortHelp returns the bindings shown in the footer.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Submit, k.Edit, k.Chats, k.NewChat, k.Help, k.Quit}
}

// FullHelp returns every binding, grouped by column.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Submit, k.Edit, k.Cancel},
		{k.FocusUp, k.FocusDown, k.PrevVersion, k.NextVersion},
		{k.PageUp, k.PageDown, k.NewChat, k.Chats},
		{k.Reconnect, k.SignIn, k.Logout, k.Help, k.Quit},
	}
}

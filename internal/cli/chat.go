// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jeranaias/parley/internal/ui/chat"
	"github.com/jeranaias/parley/internal/ui/styles"
)

func newChatCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive chat view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
				return errors.New("chat needs an interactive terminal; use \"parley send\" instead")
			}

			cfg, err := o.loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if err := a.start(ctx); err != nil {
				// The view starts signed out; C-g retries.
				a.log.Warn().Err(err).Msg("sign in failed")
			}

			bridge := chat.NewBridge(a.api, a.session)
			unsubscribe := a.session.Subscribe(bridge.OnSnapshot)
			defer unsubscribe()

			ex := a.newExchange().
				WithNotify(bridge.Notify).
				WithRefresher(bridge)

			model := chat.New(chat.Options{
				Exchange:      ex,
				Session:       a.session,
				Bridge:        bridge,
				SignIn:        a.signIn,
				Markdown:      cfg.UI.Markdown,
				MarkdownStyle: styles.MarkdownStyle(cfg.UI.Theme),
				Context:       ctx,
				Logger:        a.log,
			})

			p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())
			_, err = p.Run()

			bridge.Close()
			_ = a.session.Close()
			ex.Close()
			return err
		},
	}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jeranaias/parley/internal/exchange"
	"github.com/jeranaias/parley/internal/timeline"
)

// maxStdinMessage bounds a message read from standard input.
const maxStdinMessage = 1 << 20

func newSendCommand(o *rootOptions) *cobra.Command {
	var chatID, editID string

	cmd := &cobra.Command{
		Use:   "send [message...]",
		Short: "Send one message and stream the reply to stdout",
		Long: `Send one message and stream the reply to stdout.

The message is the joined arguments. Without arguments it is read from
standard input, or from a prompt when standard input is a terminal. With
--chat the turn continues an existing chat; with --edit it replaces that
user message and regenerates its reply.`,
		Example: `  parley send "What changed in the last release?"
  git diff | parley send --chat 65f1c0
  parley send --chat 65f1c0 --edit 65f1c3 "Try again, shorter"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if text == "" {
				var err error
				if text, err = readMessage(cmd); err != nil {
					return err
				}
			}
			if strings.TrimSpace(text) == "" {
				return exchange.ErrEmptyMessage
			}
			if editID != "" && chatID == "" {
				return errors.New("--edit needs --chat")
			}

			cfg, err := o.loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if err := a.start(ctx); err != nil {
				return errors.Wrap(err, "sign in")
			}
			if a.session.Token() == "" {
				return ErrNotSignedIn
			}

			ex := a.newExchange()
			defer ex.Close()
			if chatID != "" {
				if err := ex.LoadChat(ctx, chatID); err != nil {
					return err
				}
			}

			out := &replyPrinter{w: cmd.OutOrStdout()}
			ex.WithNotify(func() { out.update(ex.Timeline()) })

			err = ex.SendTurn(ctx, exchange.Turn{Text: text, EditMessageID: editID})
			out.finish()
			if err != nil {
				var te *exchange.TurnError
				if errors.As(err, &te) {
					return errors.New(te.Message)
				}
				return err
			}

			if chatID == "" && ex.ChatID() != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "chat: %s\n", ex.ChatID())
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&chatID, "chat", "", "continue the chat with this id")
	cmd.Flags().StringVar(&editID, "edit", "", "regenerate the reply to this user message id")
	return cmd
}

// readMessage reads the message from a prompt or a pipe.
func readMessage(cmd *cobra.Command) (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return promptMessage("> ")
	}
	b, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), maxStdinMessage))
	if err != nil {
		return "", errors.Wrap(err, "read message")
	}
	return string(b), nil
}

// replyPrinter writes the assistant entry of the turn in flight as it
// streams. The entry is picked up when it first appears as loading, so
// replies already in a loaded chat are never printed.
type replyPrinter struct {
	w       io.Writer
	id      string
	printed string
}

func (p *replyPrinter) update(tl *timeline.Store) {
	msgs := tl.Messages()
	if len(msgs) == 0 {
		return
	}
	last := msgs[len(msgs)-1]
	if last.Role != timeline.RoleAssistant {
		return
	}
	if p.id == "" {
		if last.Loading {
			p.id = last.ID()
		}
		return
	}
	if last.ID() != p.id || last.Loading {
		return
	}
	if p.printed == "" && exchange.IsFailureText(last.Content) {
		return
	}
	if !strings.HasPrefix(last.Content, p.printed) {
		return
	}
	_, _ = io.WriteString(p.w, last.Content[len(p.printed):])
	p.printed = last.Content
}

func (p *replyPrinter) finish() {
	if p.printed != "" && !strings.HasSuffix(p.printed, "\n") {
		_, _ = io.WriteString(p.w, "\n")
	}
}

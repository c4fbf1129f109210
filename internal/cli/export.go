// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jeranaias/parley/internal/export"
)

func newExportCommand(o *rootOptions) *cobra.Command {
	var (
		format     string
		outDir     string
		branches   bool
		noMetadata bool
	)

	cmd := &cobra.Command{
		Use:   "export <chat-id>",
		Short: "Write a chat transcript as Markdown or JSON",
		Long: `Write a chat transcript as Markdown or JSON.

The transcript holds the version of each message currently shown in the
chat. With --branches every version of an edited message is included.
Use --out - to write to standard output.`,
		Example: `  parley export 65f1c0
  parley export 65f1c0 --format json --out - | jq .turns`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exporter, err := export.ForFormat(format, &export.Options{
				OutputDir:       outDir,
				IncludeMetadata: !noMetadata,
				IncludeBranches: branches,
			})
			if err != nil {
				return err
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

			id := args[0]
			ex := a.newExchange()
			defer ex.Close()
			if err := ex.LoadChat(ctx, id); err != nil {
				return err
			}

			t := export.FromTimeline(id, a.chatTitle(ctx, id), ex.Timeline(), time.Now())
			if outDir == "-" {
				content, err := exporter.Export(t)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(content)
				return err
			}

			path, err := export.ExportToFile(t, exporter, &export.Options{OutputDir: outDir})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "markdown", "markdown or json")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "output directory, or - for stdout")
	cmd.Flags().BoolVar(&branches, "branches", false, "include every version of edited messages")
	cmd.Flags().BoolVar(&noMetadata, "no-metadata", false, "omit the front matter header")
	return cmd
}

// chatTitle looks up the title of id in the chat list. The id is used when
// the chat is not listed or the list cannot be read.
func (a *app) chatTitle(ctx context.Context, id string) string {
	chats, err := a.api.ListChats(ctx, a.session.Token())
	if err != nil {
		a.log.Debug().Err(err).Msg("chat list unavailable for export title")
		return id
	}
	for _, c := range chats {
		if c.ID == id && c.Title != "" {
			return c.Title
		}
	}
	return id
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"slices"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jeranaias/parley/internal/api"
)

func newWhoamiCommand(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the identity carried by the session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.start(cmd.Context()); err != nil {
				return errors.Wrap(err, "sign in")
			}
			token := a.session.Token()
			if token == "" {
				return ErrNotSignedIn
			}

			w := cmd.OutOrStdout()
			id := a.session.Identity()
			if id == nil {
				fmt.Fprintf(w, "token %s (identity unreadable)\n", api.Fingerprint(token))
				return nil
			}

			name := id.Name()
			if name == "" {
				name = "(unnamed)"
			}
			fmt.Fprintf(w, "%s\ntoken %s\n", name, api.Fingerprint(token))

			keys := make([]string, 0, len(id.Claims))
			for k := range id.Claims {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			for _, k := range keys {
				fmt.Fprintf(w, "  %s: %s\n", k, id.Claim(k))
			}
			return nil
		},
	}
}

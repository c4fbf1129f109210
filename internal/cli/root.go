// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jeranaias/parley/internal/config"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

// rootOptions holds the persistent flags.
type rootOptions struct {
	configPath string
	envFile    string
	username   string
	token      string
	logLevel   string
}

// NewRootCommand builds the parley command tree.
func NewRootCommand() *cobra.Command {
	o := &rootOptions{}

	root := &cobra.Command{
		Use:           "parley",
		Short:         "Terminal client for a streaming chat backend",
		Version:       Version + " (" + GitCommit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(o.envFile)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&o.configPath, "config", "", "config file (default ~/.parley/config.toml)")
	flags.StringVar(&o.envFile, "env-file", ".env", "dotenv file to load if present")
	flags.StringVarP(&o.username, "username", "u", "", "sign in with this username")
	flags.StringVar(&o.token, "token", "", "bearer token to start the session with")
	flags.StringVar(&o.logLevel, "log-level", "", "trace, debug, info, warn, error or disabled")

	root.AddCommand(
		newChatCommand(o),
		newSendCommand(o),
		newWhoamiCommand(o),
		newLogoutCommand(o),
		newExportCommand(o),
	)
	return root
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCommand().ExecuteContext(ctx)
}

// loadConfig resolves the configuration: file, environment, then flags.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadFromPath(o.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if o.username != "" {
		cfg.Session.Username = o.username
	}
	if o.token != "" {
		cfg.Session.Token = o.token
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid flags")
	}
	return cfg, nil
}

// loadEnvFile loads path into the environment. Variables already set win.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return errors.Wrapf(err, "load %s", path)
	}
	return nil
}

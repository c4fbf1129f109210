// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jeranaias/parley/internal/api"
	"github.com/jeranaias/parley/internal/config"
	"github.com/jeranaias/parley/internal/exchange"
	"github.com/jeranaias/parley/internal/logging"
	"github.com/jeranaias/parley/internal/session"
	"github.com/jeranaias/parley/internal/storage"
)

// ErrNotSignedIn is returned by commands that need a token when none could
// be obtained.
var ErrNotSignedIn = errors.New("not signed in: use --token, PARLEY_TOKEN or --username")

// app holds the components shared by every command.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	closeLog func() error

	api     *api.Client
	legacy  *storage.SQLiteStore
	session *session.Manager
}

// newApp wires logging, storage, the API client and the session manager.
// quietLogs silences stderr logging for full-screen commands.
func newApp(cfg *config.Config, quietLogs bool) (*app, error) {
	log, closeLog, err := logging.New(logging.Options{
		Level: cfg.Logging.Level,
		File:  cfg.Logging.File,
		Quiet: quietLogs,
	})
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		closeLog: closeLog,
		api:      api.NewClient(cfg.APIBase()).WithLogger(log),
	}

	sessCfg := session.DefaultConfig()
	sessCfg.SocketURL = cfg.SocketURL()
	sessCfg.Backend = a.api
	sessCfg.LogoutTimeout = cfg.Session.LogoutTimeout
	sessCfg.Logger = log

	if cfg.Session.LegacyDB != "" {
		legacy, err := storage.OpenSQLite(cfg.Session.LegacyDB)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.Session.LegacyDB).Msg("legacy token store unavailable")
		} else {
			a.legacy = legacy
			sessCfg.Legacy = legacy
		}
	}

	a.session = session.NewManager(sessCfg)
	return a, nil
}

// start establishes a session: an explicit token first, then a token left
// in storage, then a sign-in with the configured username. Having none of
// them is not an error.
func (a *app) start(ctx context.Context) error {
	if a.cfg.Session.Token != "" {
		return a.session.Login(ctx, a.cfg.Session.Token)
	}
	found, err := a.session.Restore(ctx)
	if err != nil || found {
		return err
	}
	if a.cfg.Session.Username != "" {
		return a.signIn(ctx)
	}
	return nil
}

// signIn exchanges the configured username for a token.
func (a *app) signIn(ctx context.Context) error {
	token, err := a.api.Login(ctx, a.cfg.Session.Username)
	if err != nil {
		return err
	}
	return a.session.Login(ctx, token)
}

// newExchange creates a turn client bound to the session.
func (a *app) newExchange() *exchange.Client {
	return exchange.NewClient(a.api, a.session).
		WithLogger(a.log).
		WithRefreshLimit(rate.Every(a.cfg.UI.RefreshEvery), exchange.DefaultRefreshBurst)
}

// Close shuts the session down and releases storage and the log file.
func (a *app) Close() {
	if err := a.session.Close(); err != nil {
		a.log.Debug().Err(err).Msg("session close")
	}
	if a.legacy != nil {
		if err := a.legacy.Close(); err != nil {
			a.log.Debug().Err(err).Msg("legacy store close")
		}
	}
	_ = a.closeLog()
}

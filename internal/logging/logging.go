// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the zerolog logger shared by every component.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Options selects where and how much to log.
type Options struct {
	// Level is a zerolog level name; empty means info.
	Level string
	// File receives JSON lines when set. Otherwise logs go to Stderr.
	File string
	// Stderr is the fallback destination (default: os.Stderr).
	Stderr *os.File
	// Quiet disables stderr logging, as when a full-screen UI owns the
	// terminal and no file is configured.
	Quiet bool
}

// New builds a logger. The returned close function releases the log file.
func New(opts Options) (zerolog.Logger, func() error, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return zerolog.Nop(), noop, err
	}

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0700); err != nil {
			return zerolog.Nop(), noop, errors.Wrap(err, "create log directory")
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return zerolog.Nop(), noop, errors.Wrap(err, "open log file")
		}
		return build(f, level), f.Close, nil
	}

	if opts.Quiet {
		return zerolog.Nop(), noop, nil
	}

	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	var w io.Writer = stderr
	if term.IsTerminal(int(stderr.Fd())) {
		w = zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.Kitchen}
	}
	return build(w, level), noop, nil
}

// ParseLevel accepts zerolog level names case-insensitively.
func ParseLevel(s string) (zerolog.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.NoLevel, errors.Wrapf(err, "invalid log level %q", s)
	}
	return level, nil
}

func build(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Str("app", "parley").Logger()
}

func noop() error { return nil }

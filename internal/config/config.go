// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Defaults.
const (
	DefaultAPIOrigin     = "http://localhost:5000"
	DefaultSocketPath    = "/ws"
	DefaultLogLevel      = "info"
	DefaultLogoutTimeout = 5 * time.Second
	DefaultRefreshEvery  = 2 * time.Second
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete parley configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Session SessionConfig `toml:"session"`
	Logging LoggingConfig `toml:"logging"`
	UI      UIConfig      `toml:"ui"`
}

// ServerConfig locates the backend.
type ServerConfig struct {
	// APIOrigin is scheme://host[:port]; the API lives under {origin}/api.
	APIOrigin string `toml:"api_origin"`
	// SocketOrigin defaults to APIOrigin.
	SocketOrigin string `toml:"socket_origin"`
	// SocketPath is the live channel path on SocketOrigin.
	SocketPath string `toml:"socket_path"`
}

// SessionConfig controls sign-in.
type SessionConfig struct {
	// Username is used for automatic sign-in when no token is available.
	Username string `toml:"username"`
	// Token is a bearer token to start with. Usually supplied through the
	// environment rather than the file.
	Token string `toml:"token"`
	// LegacyDB is the old persistent token store, migrated on startup.
	LegacyDB string `toml:"legacy_db"`
	// LogoutTimeout bounds the logout notification.
	LogoutTimeout time.Duration `toml:"logout_timeout"`
}

// LoggingConfig controls the diagnostic log.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error, disabled.
	Level string `toml:"level"`
	// File receives JSON logs. Empty logs to stderr.
	File string `toml:"file"`
}

// UIConfig controls the terminal interface.
type UIConfig struct {
	// Markdown renders assistant replies as markdown.
	Markdown bool `toml:"markdown"`
	// Theme is the glamour style: "dark", "light" or "auto".
	Theme string `toml:"theme"`
	// RefreshEvery is the minimum interval between chat list refreshes.
	RefreshEvery time.Duration `toml:"refresh_every"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	legacy := ""
	if dir, err := ConfigDir(); err == nil {
		legacy = filepath.Join(dir, "legacy.db")
	}
	return &Config{
		Server: ServerConfig{
			APIOrigin:  DefaultAPIOrigin,
			SocketPath: DefaultSocketPath,
		},
		Session: SessionConfig{
			LegacyDB:      legacy,
			LogoutTimeout: DefaultLogoutTimeout,
		},
		Logging: LoggingConfig{
			Level: DefaultLogLevel,
		},
		UI: UIConfig{
			Markdown:     true,
			Theme:        "auto",
			RefreshEvery: DefaultRefreshEvery,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the parley configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "could not determine home directory")
	}
	return filepath.Join(home, ".parley"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ensureSecurePermissions tightens a config file that may hold a token.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode&0077 != 0 {
		if err := os.Chmod(path, 0600); err != nil {
			return errors.Wrapf(err, "fix insecure permissions (was %o)", mode)
		}
	}
	return nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads ~/.parley/config.toml if it exists, applies environment
// overrides and validates the result.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads the TOML file at path on top of the defaults. A missing
// file is not an error.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "stat %s", path)
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

// LoadTOML decodes the TOML file at path into cfg. Unknown keys are an
// error so typos do not go unnoticed.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return errors.Wrapf(err, "decode %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return errors.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// SaveTOML writes cfg to path with owner-only permissions.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errors.Wrap(err, "create config directory")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrap(err, "open config file")
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return errors.Wrap(err, "encode config")
	}
	return nil
}

// =============================================================================
// ENVIRONMENT
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides:
//   - PARLEY_API_ORIGIN: server.api_origin
//   - PARLEY_SOCKET_ORIGIN: server.socket_origin
//   - PARLEY_USERNAME: session.username
//   - PARLEY_TOKEN: session.token
//   - PARLEY_LEGACY_DB: session.legacy_db
//   - PARLEY_LOG_LEVEL: logging.level
//   - PARLEY_LOG_FILE: logging.file
func (c *Config) ApplyEnvOverrides() {
	overrides := []struct {
		env string
		dst *string
	}{
		{"PARLEY_API_ORIGIN", &c.Server.APIOrigin},
		{"PARLEY_SOCKET_ORIGIN", &c.Server.SocketOrigin},
		{"PARLEY_USERNAME", &c.Session.Username},
		{"PARLEY_TOKEN", &c.Session.Token},
		{"PARLEY_LEGACY_DB", &c.Session.LegacyDB},
		{"PARLEY_LOG_LEVEL", &c.Logging.Level},
		{"PARLEY_LOG_FILE", &c.Logging.File},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(os.Getenv(o.env)); v != "" {
			*o.dst = v
		}
	}
}

// SetDefaults fills zero values left by a partial file and normalizes
// origins.
func (c *Config) SetDefaults() {
	def := Default()

	c.Server.APIOrigin = stripTrailingSlashes(c.Server.APIOrigin)
	if c.Server.APIOrigin == "" {
		c.Server.APIOrigin = def.Server.APIOrigin
	}
	c.Server.SocketOrigin = stripTrailingSlashes(c.Server.SocketOrigin)
	if c.Server.SocketPath == "" {
		c.Server.SocketPath = def.Server.SocketPath
	}
	if c.Session.LogoutTimeout <= 0 {
		c.Session.LogoutTimeout = def.Session.LogoutTimeout
	}
	c.Session.LegacyDB = expandHome(c.Session.LegacyDB)
	c.Logging.File = expandHome(c.Logging.File)
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.UI.Theme == "" {
		c.UI.Theme = def.UI.Theme
	}
	if c.UI.RefreshEvery <= 0 {
		c.UI.RefreshEvery = def.UI.RefreshEvery
	}
}

// =============================================================================
// ENDPOINTS
// =============================================================================

// APIBase returns {api origin}/api.
func (c *Config) APIBase() string {
	return stripTrailingSlashes(c.Server.APIOrigin) + "/api"
}

// SocketURL returns the live channel URL. The socket origin defaults to the
// API origin.
func (c *Config) SocketURL() string {
	origin := stripTrailingSlashes(c.Server.SocketOrigin)
	if origin == "" {
		origin = stripTrailingSlashes(c.Server.APIOrigin)
	}
	path := c.Server.SocketPath
	if path == "" {
		path = DefaultSocketPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return origin + path
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true, "disabled": true,
}

var validThemes = map[string]bool{"dark": true, "light": true, "auto": true}

// Validate validates the configuration and returns any errors as
// ValidateErrors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if err := validateOrigin(c.Server.APIOrigin); err != nil {
		errs = append(errs, ValidationError{Field: "server.api_origin", Message: err.Error()})
	}
	if c.Server.SocketOrigin != "" {
		if err := validateOrigin(c.Server.SocketOrigin); err != nil {
			errs = append(errs, ValidationError{Field: "server.socket_origin", Message: err.Error()})
		}
	}
	if strings.ContainsAny(c.Server.SocketPath, "?#") {
		errs = append(errs, ValidationError{Field: "server.socket_path", Message: "must not contain a query or fragment"})
	}
	if c.Session.LogoutTimeout < 0 {
		errs = append(errs, ValidationError{Field: "session.logout_timeout", Message: "must not be negative"})
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: trace, debug, info, warn, error, disabled", c.Logging.Level),
		})
	}
	if !validThemes[strings.ToLower(c.UI.Theme)] {
		errs = append(errs, ValidationError{
			Field:   "ui.theme",
			Message: fmt.Sprintf("invalid theme '%s', must be one of: dark, light, auto", c.UI.Theme),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateOrigin(origin string) error {
	if origin == "" {
		return errors.New("must not be empty")
	}
	u, err := url.Parse(origin)
	if err != nil {
		return errors.Wrap(err, "invalid URL")
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return errors.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	if u.Path != "" && u.Path != "/" {
		return errors.Errorf("must be an origin without a path, got %q", u.Path)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func stripTrailingSlashes(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), "/")
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

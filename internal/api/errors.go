// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// Error variables for login failures that carry no HTTP status.
var (
	// ErrNoToken indicates a successful login response without a token.
	ErrNoToken = errors.New("Login failed: no token received.")

	// ErrLoginTransport indicates the login request never got a response.
	ErrLoginTransport = errors.New("Server error while logging in.")

	// ErrMissingUsername indicates a username that is empty once normalized.
	ErrMissingUsername = errors.New("Missing username.")
)

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	Status int
	// Message is the text shown to the user.
	Message string
	// ServerMessage is the raw error text from the response body, if any.
	ServerMessage string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: HTTP %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api: HTTP %d", e.Status)
}

// IsUnauthorized reports whether the backend refused the credentials.
func (e *StatusError) IsUnauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// IsUnauthorized reports whether err wraps a 401/403 StatusError.
func IsUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.IsUnauthorized()
}

// loginMessage maps a failed login status to the text shown to the user.
func loginMessage(status int, serverMsg string) string {
	switch status {
	case http.StatusBadRequest:
		return "Missing username."
	case http.StatusConflict:
		return "This account is already logged in (active session)."
	case http.StatusUnauthorized:
		if strings.Contains(strings.ToLower(serverMsg), "disabled") {
			return "Account disabled. Contact the admin."
		}
		return "Username not allowed. Ask the admin to add/enable your account."
	case http.StatusForbidden:
		return "Account disabled. Contact the admin."
	}
	if serverMsg != "" {
		return serverMsg
	}
	return fmt.Sprintf("Login failed (HTTP %d).", status)
}

// LoginFailureText returns the user-facing text for an error from Login.
func LoginFailureText(err error) string {
	var se *StatusError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &se):
		return se.Message
	case errors.Is(err, ErrNoToken):
		return ErrNoToken.Error()
	case errors.Is(err, ErrMissingUsername):
		return ErrMissingUsername.Error()
	default:
		return ErrLoginTransport.Error()
	}
}

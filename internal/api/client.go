// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Configuration constants for the backend API.
const (
	// DefaultTimeout bounds every non-streaming request.
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the largest non-streaming body that is read.
	MaxResponseSize = 10 * 1024 * 1024

	userAgent = "parley/0.1.0"
)

var (
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		Timeout: DefaultTimeout,
	}

	// sharedStreamingClient has no timeout; turn bodies are bounded by context.
	sharedStreamingClient = &http.Client{
		Transport: sharedHTTPClient.Transport,
	}
)

// Client talks to the chat backend.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	log          zerolog.Logger
}

// NewClient creates a Client for the API base URL, e.g.
// "http://localhost:5000/api".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   sharedHTTPClient,
		streamClient: sharedStreamingClient,
		log:          zerolog.Nop(),
	}
}

// WithHTTPClient uses hc for every request, streaming included.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	c.streamClient = hc
	return c
}

// WithLogger sets the request logger.
func (c *Client) WithLogger(log zerolog.Logger) *Client {
	c.log = log.With().Str("component", "api").Logger()
	return c
}

// BaseURL returns the API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Fingerprint returns a short SHA-256 fingerprint of token for logging.
func Fingerprint(token string) string {
	if token == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:4])
}

// =============================================================================
// AUTH
// =============================================================================

// MaxUsernameLength caps a normalized username, in characters.
const MaxUsernameLength = 64

// NormalizeUsername cleans a username the way the login page does: percent
// decoding, surrounding space and one leading "@" removed, capped at
// MaxUsernameLength. A name containing a path separator normalizes to "".
func NormalizeUsername(raw string) string {
	u := raw
	if dec, err := url.PathUnescape(u); err == nil {
		u = dec
	}
	u = strings.TrimSpace(u)
	if rest, ok := strings.CutPrefix(u, "@"); ok {
		u = strings.TrimSpace(rest)
	}
	if strings.ContainsAny(u, `/\`) {
		return ""
	}
	if r := []rune(u); len(r) > MaxUsernameLength {
		u = string(r[:MaxUsernameLength])
	}
	return u
}

// Login exchanges a username for a bearer token. The username is
// normalized first; an empty result is ErrMissingUsername and sends
// nothing. Other failures are a *StatusError whose Message is ready for
// display, ErrNoToken, or a transport error wrapping ErrLoginTransport.
func (c *Client) Login(ctx context.Context, username string) (string, error) {
	username = NormalizeUsername(username)
	if username == "" {
		return "", ErrMissingUsername
	}
	resp, err := c.do(ctx, c.httpClient, http.MethodPost, "/login", "", loginRequest{Username: username})
	if err != nil {
		return "", errors.Wrap(ErrLoginTransport, err.Error())
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return "", errors.Wrap(ErrLoginTransport, err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw := serverMessage(body)
		return "", &StatusError{
			Status:        resp.StatusCode,
			Message:       loginMessage(resp.StatusCode, raw),
			ServerMessage: raw,
		}
	}

	var lr loginResponse
	_ = json.Unmarshal(body, &lr)
	if lr.Token == "" {
		return "", ErrNoToken
	}
	c.log.Debug().Str("user", username).Str("token", Fingerprint(lr.Token)).Msg("logged in")
	return lr.Token, nil
}

// Logout notifies the backend that token is no longer in use. Callers
// typically ignore the result.
func (c *Client) Logout(ctx context.Context, token string) error {
	resp, err := c.do(ctx, c.httpClient, http.MethodPost, "/logout", token, nil)
	if err != nil {
		return errors.Wrap(err, "logout")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, MaxResponseSize))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Status: resp.StatusCode}
	}
	return nil
}

// =============================================================================
// CHATS
// =============================================================================

// ListChats returns the caller's chats, newest first as ordered by the backend.
func (c *Client) ListChats(ctx context.Context, token string) ([]ChatSummary, error) {
	var chats []ChatSummary
	if err := c.getJSON(ctx, "/chats", token, &chats); err != nil {
		return nil, errors.Wrap(err, "list chats")
	}
	return chats, nil
}

// LoadChat returns the chat with the given id including version data.
func (c *Client) LoadChat(ctx context.Context, token, id string) (*Chat, error) {
	var chat Chat
	if err := c.getJSON(ctx, "/chat/"+url.PathEscape(id), token, &chat); err != nil {
		return nil, errors.Wrapf(err, "load chat %s", id)
	}
	return &chat, nil
}

// StreamTurn posts a turn and returns the response body for incremental
// reading. The caller must close it. Non-2xx responses are returned as
// *StatusError with the body already consumed.
func (c *Client) StreamTurn(ctx context.Context, token string, req TurnRequest) (io.ReadCloser, error) {
	resp, err := c.do(ctx, c.streamClient, http.MethodPost, "/chat/stream", token, req)
	if err != nil {
		return nil, errors.Wrap(err, "send turn")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := readResponse(resp)
		return nil, &StatusError{Status: resp.StatusCode, ServerMessage: serverMessage(body)}
	}
	return resp.Body, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (c *Client) getJSON(ctx context.Context, path, token string, out any) error {
	resp, err := c.do(ctx, c.httpClient, http.MethodGet, path, token, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Status: resp.StatusCode, ServerMessage: serverMessage(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

// do builds and sends a request. A nil payload sends no body.
func (c *Client) do(ctx context.Context, hc *http.Client, method, path, token string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, "marshal request")
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := hc.Do(req)
	ev := c.log.Debug().Str("method", method).Str("path", path).Str("token", Fingerprint(token)).Dur("elapsed", time.Since(start))
	if err != nil {
		ev.Err(err).Msg("request failed")
		return nil, err
	}
	ev.Int("status", resp.StatusCode).Msg("request")
	return resp, nil
}

// readResponse reads a body up to MaxResponseSize.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if len(body) > MaxResponseSize {
		return nil, errors.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// serverMessage extracts the error text from a JSON error body.
func serverMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return ""
	}
	if s := strings.TrimSpace(eb.Error); s != "" {
		return s
	}
	return strings.TrimSpace(eb.Message)
}

// Package gtask is the HTTP client for the task-system identity provider.
// Login exchanges username/password for a bearer token; Users lists the
// accounts visible to an authenticated caller.
package gtask

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"incidencia/internal/config"
)

// Failure classes surfaced to the session layer. Login failures never cross
// the boundary as panics or opaque errors: each maps to one of these.
var (
	ErrInvalidCredentials = errors.New("gtask: invalid credentials")
	ErrTimeout            = errors.New("gtask: request timed out")
	ErrConnection         = errors.New("gtask: connection failed")
	ErrUnexpected         = errors.New("gtask: unexpected failure")
)

// Identity is the subset of the login response the gateway keeps.
type Identity struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// LoginResult pairs the identity with its bearer token.
type LoginResult struct {
	Identity    Identity
	AccessToken string
}

// Client talks to the identity provider.
type Client struct {
	cfg  *config.Config
	http *http.Client
}

// New builds a client with the configured per-request timeout.
func New(cfg *config.Config) *Client {
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: time.Duration(cfg.AuthService.Timeout) * time.Second,
		},
	}
}

// Login authenticates username/password against the provider.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResult, error) {
	body, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return LoginResult{}, fmt.Errorf("%w: encode login: %v", ErrUnexpected, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.LoginURL(), bytes.NewReader(body))
	if err != nil {
		return LoginResult{}, fmt.Errorf("%w: %v", ErrUnexpected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return LoginResult{}, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := upstreamMessage(resp.Body)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return LoginResult{}, fmt.Errorf("%w: %s", ErrInvalidCredentials, msg)
		}
		return LoginResult{}, fmt.Errorf("%w: status %d: %s", ErrUnexpected, resp.StatusCode, msg)
	}

	var payload struct {
		Identity
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return LoginResult{}, fmt.Errorf("%w: decode login response: %v", ErrUnexpected, err)
	}
	if payload.ID == "" || payload.AccessToken == "" {
		return LoginResult{}, fmt.Errorf("%w: login response missing identity or token", ErrUnexpected)
	}
	return LoginResult{Identity: payload.Identity, AccessToken: payload.AccessToken}, nil
}

// Users fetches the provider's account list using the caller's bearer token.
func (c *Client) Users(ctx context.Context, token string) ([]map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.UsersURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpected, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: users status %d: %s", ErrUnexpected, resp.StatusCode, upstreamMessage(resp.Body))
	}

	var users []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, fmt.Errorf("%w: decode users: %v", ErrUnexpected, err)
	}
	return users, nil
}

func classifyTransport(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrConnection, err)
}

// upstreamMessage extracts the provider's error message when the body is
// JSON, otherwise returns the raw text.
func upstreamMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil && body.Message != "" {
		return body.Message
	}
	return string(data)
}

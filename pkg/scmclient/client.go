// Package scmclient is the Go SDK for the supply-chain account service.
// It wraps the /api/v1 surface: account lifecycle, profile, and wallet.
package scmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrUnauthorized is returned when the server rejects the session token.
var ErrUnauthorized = errors.New("unauthorized")

// User is the merged identity and profile view returned by the service.
type User struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	DisplayName string   `json:"display_name,omitempty"`
	PhotoURL    string   `json:"photo_url,omitempty"`
	Phone       string   `json:"phone,omitempty"`
	Profile     *Profile `json:"profile,omitempty"`
}

// Profile is the application-owned profile document.
type Profile struct {
	DisplayName   string `json:"display_name,omitempty"`
	Email         string `json:"email,omitempty"`
	Company       string `json:"company,omitempty"`
	Phone         string `json:"phone,omitempty"`
	WalletAddress string `json:"wallet_address,omitempty"`
	Role          string `json:"role,omitempty"`
}

// WalletStatus reports the wallet connection state.
type WalletStatus struct {
	Connected bool   `json:"connected"`
	Address   string `json:"address,omitempty"`
}

// SignupRequest is the payload for Signup.
type SignupRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name,omitempty"`
	Company     string `json:"company,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// ProfileUpdate carries a partial profile edit. Nil fields are untouched.
type ProfileUpdate struct {
	DisplayName *string `json:"display_name,omitempty"`
	Company     *string `json:"company,omitempty"`
	Phone       *string `json:"phone,omitempty"`
}

// Client is the SDK entry point. Safe for concurrent use.
type Client struct {
	base       string
	httpClient *http.Client

	mu    sync.Mutex
	token string
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken attaches a pre-obtained session token to every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New creates a Client for the service at base (e.g. "http://localhost:8080").
func New(base string, opts ...Option) *Client {
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Token returns the session token currently attached to requests.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) setToken(tok string) {
	c.mu.Lock()
	c.token = tok
	c.mu.Unlock()
}

type authResponse struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}

// Signup creates an account and stores the returned session token on the
// client.
func (c *Client) Signup(ctx context.Context, req SignupRequest) (*User, error) {
	var resp authResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/signup", req, &resp); err != nil {
		return nil, err
	}
	c.setToken(resp.Token)
	return resp.User, nil
}

// Login authenticates with email/password and stores the session token.
func (c *Client) Login(ctx context.Context, email, password string) (*User, error) {
	var resp authResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", body, &resp); err != nil {
		return nil, err
	}
	c.setToken(resp.Token)
	return resp.User, nil
}

// Logout revokes the session token server-side and clears it locally.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/logout", struct{}{}, nil)
	c.setToken("")
	return err
}

// RequestPasswordReset asks for a reset email. Always succeeds for unknown
// addresses.
func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/auth/reset-password", map[string]string{"email": email}, nil)
}

// ChangePassword rotates the password for the signed-in account.
func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	body := map[string]string{"current_password": current, "new_password": next}
	return c.do(ctx, http.MethodPost, "/api/v1/auth/change-password", body, nil)
}

// Me returns the signed-in user's merged profile view.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/api/v1/me/profile", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateProfile applies a partial profile edit and returns the fresh view.
func (c *Client) UpdateProfile(ctx context.Context, upd ProfileUpdate) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodPatch, "/api/v1/me/profile", upd, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Wallet reports the wallet connection state without prompting.
func (c *Client) Wallet(ctx context.Context) (*WalletStatus, error) {
	var st WalletStatus
	if err := c.do(ctx, http.MethodGet, "/api/v1/me/wallet", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// ConnectWallet asks the node to authorize an account for this user.
func (c *Client) ConnectWallet(ctx context.Context) (*WalletStatus, error) {
	var st WalletStatus
	if err := c.do(ctx, http.MethodPost, "/api/v1/me/wallet/connect", struct{}{}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

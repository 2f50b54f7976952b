package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// googleUser is the subset of the Google userinfo response the directory
// needs to resolve an account.
type googleUser struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// exchangeGoogle trades an authorization code for the Google user info.
func (d *Directory) exchangeGoogle(ctx context.Context, code string) (*googleUser, error) {
	if d.oauth == nil {
		return nil, fmt.Errorf("google sign-in is not configured")
	}

	tok, err := d.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("oauth code exchange: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.userInfoURL(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch google user info: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("read user info response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("user info API returned %d: %s", resp.StatusCode, body)
	}

	var info googleUser
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("parse google user info: %w", err)
	}
	if info.ID == "" || info.Email == "" {
		return nil, fmt.Errorf("google user info missing id or email")
	}
	return &info, nil
}

// userInfoURL allows tests to point the exchange at a local server.
func (d *Directory) userInfoURL() string {
	if d.userInfoOverride != "" {
		return d.userInfoOverride
	}
	return googleUserInfoURL
}

// AuthCodeURL builds the Google consent redirect URL for the given CSRF state.
func (d *Directory) AuthCodeURL(state string) (string, error) {
	if d.oauth == nil {
		return "", fmt.Errorf("google sign-in is not configured")
	}
	return d.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

// OAuthEnabled reports whether Google sign-in is configured.
func (d *Directory) OAuthEnabled() bool { return d.oauth != nil }

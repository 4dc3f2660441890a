// Package credentials exchanges relay refresh tokens for new access tokens.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNoRefreshToken is returned when there is nothing to exchange.
var ErrNoRefreshToken = errors.New("no refresh token available")

// Refresher performs the OAuth-style refresh_token grant against the relay.
type Refresher struct {
	TokenURL   string
	ClientID   string
	HTTPClient *http.Client
}

// NewRefresher creates a Refresher with a bounded HTTP timeout.
func NewRefresher(tokenURL, clientID string) *Refresher {
	return &Refresher{
		TokenURL:   tokenURL,
		ClientID:   clientID,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Refresh returns a new access token for refreshToken.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if refreshToken == "" {
		return "", ErrNoRefreshToken
	}

	data := url.Values{}
	data.Set("refresh_token", refreshToken)
	data.Set("grant_type", "refresh_token")
	if r.ClientID != "" {
		data.Set("client_id", r.ClientID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	client := r.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("token refresh failed (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tokenResp tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", errors.New("token response did not include an access token")
	}
	return tokenResp.AccessToken, nil
}

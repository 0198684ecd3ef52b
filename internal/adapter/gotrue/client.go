// Package gotrue adapts a hosted GoTrue-style identity API to the domain's
// CredentialVerifier port.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"conclave/internal/domain"
)

// Config holds connection settings for the identity API.
type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client // Optional, defaults to a client with a 10s timeout
}

// Client talks to the identity API. It is safe for concurrent use and is
// shared by all verifiers of a process.
type Client struct {
	base   *url.URL
	apiKey string
	http   *http.Client
}

// User is the identity returned alongside a token.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func (e errorResponse) text() string {
	for _, s := range []string{e.ErrorDescription, e.Msg, e.Message, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("identity base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("identity API key is required")
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse identity base URL: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: base, apiKey: cfg.APIKey, http: httpClient}, nil
}

// PasswordGrant exchanges an email and password for a token.
func (c *Client) PasswordGrant(ctx context.Context, email, password string) (*oauth2.Token, User, error) {
	body := map[string]string{"email": email, "password": password}
	return c.grant(ctx, "password", body)
}

// RefreshGrant exchanges a refresh token for a new token.
func (c *Client) RefreshGrant(ctx context.Context, refreshToken string) (*oauth2.Token, User, error) {
	body := map[string]string{"refresh_token": refreshToken}
	return c.grant(ctx, "refresh_token", body)
}

// Logout revokes the session behind tok and leaves the user's other sessions
// alone. A token the service no longer knows counts as revoked.
func (c *Client) Logout(ctx context.Context, tok *oauth2.Token) error {
	req, err := c.newRequest(ctx, "/logout", url.Values{"scope": {"local"}}, nil)
	if err != nil {
		return err
	}
	tok.SetAuthHeader(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.VerifierUnavailable(fmt.Errorf("logout: %w", err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusNotFound:
		return nil
	default:
		return domain.VerifierUnavailable(fmt.Errorf("logout: identity service returned status %d", resp.StatusCode))
	}
}

func (c *Client) grant(ctx context.Context, grantType string, body any) (*oauth2.Token, User, error) {
	req, err := c.newRequest(ctx, "/token", url.Values{"grant_type": {grantType}}, body)
	if err != nil {
		return nil, User{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, User{}, domain.VerifierUnavailable(fmt.Errorf("%s grant: %w", grantType, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, User{}, domain.VerifierUnavailable(fmt.Errorf("read %s grant response: %w", grantType, err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, User{}, mapStatus(resp.StatusCode, raw)
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return nil, User{}, domain.VerifierUnavailable(fmt.Errorf("decode %s grant response: %w", grantType, err))
	}
	if tr.AccessToken == "" || tr.User.ID == "" {
		return nil, User{}, domain.VerifierUnavailable(errors.New("identity service returned an incomplete token"))
	}

	tok := &oauth2.Token{
		AccessToken:  tr.AccessToken,
		TokenType:    tr.TokenType,
		RefreshToken: tr.RefreshToken,
		Expiry:       expiry(tr, time.Now()),
	}
	return tok, tr.User, nil
}

func (c *Client) newRequest(ctx context.Context, path string, query url.Values, body any) (*http.Request, error) {
	u := *c.base
	u.Path += path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var rdr io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func expiry(tr tokenResponse, now time.Time) time.Time {
	if tr.ExpiresAt > 0 {
		return time.Unix(tr.ExpiresAt, 0)
	}
	if tr.ExpiresIn > 0 {
		return now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return now.Add(time.Hour)
}

// mapStatus turns a non-200 grant response into the domain taxonomy.
func mapStatus(code int, raw []byte) error {
	var er errorResponse
	_ = json.Unmarshal(raw, &er)

	switch code {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusUnprocessableEntity:
		return domain.InvalidCredentials(er.text(), fmt.Errorf("identity service returned status %d", code))
	case http.StatusTooManyRequests:
		return domain.VerifierUnavailable(fmt.Errorf("identity service rate limited: %s", er.text()))
	default:
		return domain.VerifierUnavailable(fmt.Errorf("identity service returned status %d", code))
	}
}

// Package identity talks to the external identity provider (a
// GoTrue-compatible auth service) and resolves bearer tokens to user ids.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNoIdentity is returned when a token carries no resolvable user.
var ErrNoIdentity = errors.New("no identity")

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type Session struct {
	User         User
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
}

type ClientOptions struct {
	BaseURL    string
	AnonKey    string
	ServiceKey string
	HTTPClient *http.Client
}

type Client struct {
	baseURL    string
	anonKey    string
	serviceKey string
	httpClient *http.Client
}

func NewClient(opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		anonKey:    strings.TrimSpace(opts.AnonKey),
		serviceKey: strings.TrimSpace(opts.ServiceKey),
		httpClient: httpClient,
	}
}

type providerError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func (e providerError) text() string {
	for _, s := range []string{e.ErrorDescription, e.Msg, e.Message, e.Error} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// SignInWithPassword exchanges email/password credentials for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (Session, error) {
	body := map[string]string{"email": email, "password": password}
	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresAt    int64  `json:"expires_at"`
		User         User   `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", c.anonKey, "", body, &resp); err != nil {
		return Session{}, err
	}
	return Session{
		User:         resp.User,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    resp.ExpiresAt,
	}, nil
}

// AdminCreateUser provisions a user with a confirmed email address. Requires
// the service-role key.
func (c *Client) AdminCreateUser(ctx context.Context, email, password, name string) (User, error) {
	body := map[string]any{
		"email":         email,
		"password":      password,
		"email_confirm": true,
		"user_metadata": map[string]string{"name": name},
	}
	var u User
	if err := c.do(ctx, http.MethodPost, "/auth/v1/admin/users", c.serviceKey, c.serviceKey, body, &u); err != nil {
		return User{}, err
	}
	if u.ID == "" {
		return User{}, errors.New("identity provider returned no user id")
	}
	return u, nil
}

// GetUser verifies a bearer token with the provider and returns its user.
func (c *Client) GetUser(ctx context.Context, token string) (User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/auth/v1/user", c.anonKey, token, nil, &u); err != nil {
		return User{}, err
	}
	if u.ID == "" {
		return User{}, ErrNoIdentity
	}
	return u, nil
}

func (c *Client) do(ctx context.Context, method, path, apiKey, bearer string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if apiKey != "" {
		req.Header.Set("apikey", apiKey)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var pe providerError
		_ = json.Unmarshal(raw, &pe)
		if msg := pe.text(); msg != "" {
			return fmt.Errorf("identity provider: %s", msg)
		}
		return fmt.Errorf("identity provider: status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

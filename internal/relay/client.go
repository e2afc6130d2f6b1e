// Package relay talks to the external automation platform: a health-check
// ping against its regional API and best-effort forwarding of outbound
// payloads to a configured webhook.
package relay

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"
)

// SecretHeader carries the shared secret on forwarded payloads and is the
// header checked on inbound callbacks.
const SecretHeader = "x-make-secret"

type Result struct {
	OK     bool
	Status int
	Body   string
}

type Client struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
}

type ClientOptions struct {
	BaseURL    string
	APIToken   string
	HTTPClient *http.Client
}

func NewClient(opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://us1.make.com"
	}
	return &Client{
		baseURL:    baseURL,
		apiToken:   strings.TrimSpace(opts.APIToken),
		httpClient: httpClient,
	}
}

// Ping issues the platform health check. Status and body come back
// regardless of outcome; only transport failures are errors.
func (c *Client) Ping(ctx context.Context) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v2/ping", nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Authorization", "Token "+c.apiToken)
	req.Header.Set("Accept", "*/*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, err
	}
	return Result{
		OK:     resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status: resp.StatusCode,
		Body:   string(body),
	}, nil
}

// Forward POSTs a JSON payload to the outbound webhook with the shared
// secret attached. The payload travels verbatim.
func (c *Client) Forward(ctx context.Context, url, secret string, payload []byte) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SecretHeader, secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, err
	}
	return Result{
		OK:     resp.StatusCode >= 200 && resp.StatusCode < 300,
		Status: resp.StatusCode,
		Body:   string(body),
	}, nil
}

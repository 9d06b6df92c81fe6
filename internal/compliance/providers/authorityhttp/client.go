// Package authorityhttp is the shared HTTP plumbing for the national
// authority adapters: bearer-token caching with expiry, 401-driven
// re-authentication, and JSON round-trips.
package authorityhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/fakturo/internal/compliance/domain"
)

const defaultTimeout = 30 * time.Second

type Client struct {
	baseURL      string
	clientID     string
	clientSecret string
	endpoints    domain.Endpoints
	httpClient   *http.Client

	mu    sync.Mutex
	token domain.Token
}

func NewClient(cfg domain.AuthorityConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, domain.ErrInvalidConfig
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:      baseURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		endpoints:    cfg.Endpoints,
		httpClient:   &http.Client{Timeout: timeout},
	}, nil
}

type authResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Authenticate returns the cached token when still valid, otherwise
// fetches a fresh one.
func (c *Client) Authenticate(ctx context.Context) (domain.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticateLocked(ctx)
}

func (c *Client) authenticateLocked(ctx context.Context) (domain.Token, error) {
	now := time.Now()
	if !c.token.Expired(now) {
		return c.token, nil
	}

	body, err := json.Marshal(map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"grant_type":    "client_credentials",
	})
	if err != nil {
		return domain.Token{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.endpoints.Auth, bytes.NewReader(body))
	if err != nil {
		return domain.Token{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Token{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Token{}, fmt.Errorf("authority auth failed: status %d", resp.StatusCode)
	}

	var auth authResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return domain.Token{}, err
	}
	if auth.AccessToken == "" {
		return domain.Token{}, fmt.Errorf("authority auth failed: empty token")
	}

	expiresIn := auth.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	c.token = domain.Token{
		AccessToken: auth.AccessToken,
		ExpiresAt:   now.Add(time.Duration(expiresIn) * time.Second),
	}
	return c.token, nil
}

// InvalidateToken drops the cached token so the next call re-authenticates.
func (c *Client) InvalidateToken() {
	c.mu.Lock()
	c.token = domain.Token{}
	c.mu.Unlock()
}

// DoJSON performs an authenticated JSON request. A 401 response drops the
// cached token and retries once with a fresh one.
func (c *Client) DoJSON(ctx context.Context, method, path string, payload, out any) (int, error) {
	status, err := c.doOnce(ctx, method, path, payload, out)
	if err != nil {
		return status, err
	}
	if status == http.StatusUnauthorized {
		c.InvalidateToken()
		return c.doOnce(ctx, method, path, payload, out)
	}
	return status, nil
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload, out any) (int, error) {
	token, err := c.Authenticate(ctx)
	if err != nil {
		return 0, err
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return resp.StatusCode, err
		}
	} else {
		io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, nil
}

// Endpoints exposes the configured relative paths.
func (c *Client) Endpoints() domain.Endpoints {
	return c.endpoints
}

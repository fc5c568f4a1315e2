package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"roomsync/auth"
	"roomsync/errors"
)

const (
	loginPath    = "/auth/login"
	registerPath = "/auth/register"
	refreshPath  = "/auth/refresh"

	// Retries apply to transport-level failures only, never to 4xx
	// application errors.
	readRetries   = 2
	mutateRetries = 1
)

// Client talks to the auth HTTP boundary. Every 401 response, from any
// endpoint, fires the registered unauthorized hook before the error is
// returned to the caller.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  *auth.TokenStore
	log     *slog.Logger

	mu             sync.RWMutex
	onUnauthorized func()
}

func NewClient(baseURL string, timeout time.Duration, tokens *auth.TokenStore, log *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		log:     log,
	}
}

// SetUnauthorizedHook registers the forced-logout callback. The hook must be
// idempotent; the client calls it once per 401 response.
func (c *Client) SetUnauthorizedHook(hook func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = hook
}

func (c *Client) Login(ctx context.Context, req auth.LoginRequest) (AuthResponse, error) {
	if err := auth.ValidateLogin(req); err != nil {
		return AuthResponse{}, err
	}
	var resp AuthResponse
	if err := c.post(ctx, loginPath, req, &resp, ""); err != nil {
		if errors.Is(err, errors.ErrUnauthorized) {
			return AuthResponse{}, fmt.Errorf("%w: login rejected", errors.ErrInvalidCredentials)
		}
		return AuthResponse{}, err
	}
	return resp, nil
}

func (c *Client) Register(ctx context.Context, req auth.RegisterRequest) (AuthResponse, error) {
	if err := auth.ValidateRegister(req); err != nil {
		return AuthResponse{}, err
	}
	var resp AuthResponse
	if err := c.post(ctx, registerPath, req, &resp, ""); err != nil {
		return AuthResponse{}, err
	}
	return resp, nil
}

// Refresh exchanges refresh material for a fresh credential. A 401 here is
// terminal: the credential is irrecoverable and the caller must log out.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (AuthResponse, error) {
	body := map[string]string{"refreshToken": refreshToken}
	var resp AuthResponse
	if err := c.post(ctx, refreshPath, body, &resp, refreshToken); err != nil {
		if errors.Is(err, errors.ErrUnauthorized) {
			return AuthResponse{}, fmt.Errorf("%w: refresh returned 401", errors.ErrRefreshRejected)
		}
		return AuthResponse{}, err
	}
	return resp, nil
}

// post sends a JSON body and decodes a JSON response, retrying transport
// failures up to mutateRetries times. bearerOverride replaces the stored
// access token for the refresh call.
func (c *Client) post(ctx context.Context, path string, body, out any, bearerOverride string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request body: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= mutateRetries; attempt++ {
		if attempt > 0 {
			c.log.Debug("retrying request", "path", path, "attempt", attempt)
		}
		lastErr = c.do(ctx, http.MethodPost, path, payload, out, bearerOverride)
		if lastErr == nil || !errors.Is(lastErr, errors.ErrNetwork) {
			return lastErr
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

// Get fetches a JSON document, retrying transport failures up to
// readRetries times.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	var lastErr error
	for attempt := 0; attempt <= readRetries; attempt++ {
		lastErr = c.do(ctx, http.MethodGet, path, nil, out, "")
		if lastErr == nil || !errors.Is(lastErr, errors.ErrNetwork) {
			return lastErr
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, out any, bearerOverride string) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	switch {
	case bearerOverride != "":
		req.Header.Set("Authorization", "Bearer "+bearerOverride)
	default:
		if cred, ok := c.tokens.Get(); ok && cred.AccessToken != "" {
			req.Header.Set("Authorization", "Bearer "+cred.AccessToken)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", errors.ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.fireUnauthorized(path)
		return fmt.Errorf("%w: %s %s", errors.ErrUnauthorized, method, path)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s %s: status %d", errors.ErrNetwork, method, path, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: %s %s: status %d", errors.ErrInvalidRequest, method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", path, err)
	}
	return nil
}

func (c *Client) fireUnauthorized(path string) {
	c.mu.RLock()
	hook := c.onUnauthorized
	c.mu.RUnlock()
	if hook != nil {
		c.log.Warn("401 intercepted, forcing logout", "path", path)
		hook()
	}
}

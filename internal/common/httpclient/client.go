// Package httpclient wraps REST calls to the backend: bearer token
// attachment, JSON bodies, and the 401/403/5xx error taxonomy.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "payment-orchestrator/internal/common/errors"
	"payment-orchestrator/internal/common/logger"
)

// TokenSource supplies the cached bearer token and clears credentials when
// the backend reports session expiry.
type TokenSource interface {
	AuthToken(ctx context.Context) (string, error)
	ClearCredentials(ctx context.Context) error
}

// ExpiryNotifier is the session-expired broadcast. Show must be idempotent;
// the client relies on that to fire at most once per distinct expiry even
// when many concurrent requests see a 401.
type ExpiryNotifier interface {
	Show()
}

// Client is the HTTP client adapter over the REST backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	notifier   ExpiryNotifier
	logger     logger.Logger
}

func New(baseURL string, timeout time.Duration, tokens TokenSource, notifier ExpiryNotifier, log logger.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
		notifier:   notifier,
		logger:     log.WithFields(map[string]interface{}{"component": "httpclient"}),
	}
}

// Call performs a JSON request against the backend and returns the raw
// response body. Error mapping: 401 -> AuthExpired (credentials cleared,
// notifier shown once), 403 -> Permission, 5xx -> Server, network failure ->
// Transport, other non-2xx -> RequestFailed.
func (c *Client) Call(ctx context.Context, method, path string, body interface{}, params url.Values) (json.RawMessage, error) {
	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, apperrors.NewValidationError(fmt.Sprintf("marshal request body: %v", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, apperrors.NewTransportError(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.tokens.AuthToken(ctx)
	if err != nil {
		c.logger.Warn("auth token lookup failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewTransportError(err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, c.handleAuthExpired(ctx, path)
	case resp.StatusCode == http.StatusForbidden:
		return nil, apperrors.NewPermissionError(fmt.Sprintf("%s %s", method, path))
	case resp.StatusCode >= 500:
		return nil, apperrors.NewServerError(resp.StatusCode, truncate(respBody))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, apperrors.NewRequestFailedError(resp.StatusCode, truncate(respBody))
	}

	return respBody, nil
}

// handleAuthExpired clears cached credentials and raises the expiry modal.
// The notifier's idempotent Show collapses concurrent 401s into one event.
func (c *Client) handleAuthExpired(ctx context.Context, path string) error {
	if err := c.tokens.ClearCredentials(ctx); err != nil {
		c.logger.Warn("failed to clear credentials after 401", map[string]interface{}{
			"error": err.Error(),
		})
	}
	c.notifier.Show()
	c.logger.Info("session expired intercepted", map[string]interface{}{
		"path": path,
	})
	return apperrors.NewAuthExpiredError(path)
}

func truncate(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}

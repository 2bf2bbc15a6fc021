// Package api implements the HTTP client for the changes endpoint: bearer
// authentication with transparent refresh, bounded retries and exponential
// backoff on rate limiting.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/majkowska/kindler/internal/errs"
	"github.com/majkowska/kindler/internal/wire"
)

// defaultRetries is the shared retry budget per send: credential refreshes
// and rate-limit waits both draw from it.
const defaultRetries = 2

// TokenSource supplies bearer credentials. Refresh is invoked once per
// expired-credential response, bounded by the client's retry budget.
type TokenSource interface {
	// Token returns a credential believed to be valid.
	Token(ctx context.Context) (string, error)
	// Refresh obtains a fresh credential after a rejection.
	Refresh(ctx context.Context) (string, error)
}

// Error is a structured error returned by the changes endpoint.
type Error struct {
	Code   int
	Status string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Status)
}

// Unwrap maps well-known codes onto the shared sentinels.
func (e *Error) Unwrap() error {
	switch e.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errs.ErrUnauthorized
	case http.StatusTooManyRequests:
		return errs.ErrRateLimited
	}
	return nil
}

// Client posts change rounds to a single changes endpoint.
type Client struct {
	hc      *http.Client
	url     string
	tokens  TokenSource
	log     *zap.Logger
	retries int
}

// New constructs a client for the given endpoint URL. A nil logger
// disables logging.
func New(url string, tokens TokenSource, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		hc:      &http.Client{Timeout: 30 * time.Second},
		url:     url,
		tokens:  tokens,
		log:     log,
		retries: defaultRetries,
	}
}

// SetHTTPClient overrides the underlying HTTP client (tests, custom TLS).
func (c *Client) SetHTTPClient(hc *http.Client) { c.hc = hc }

// SetRetries overrides the shared retry budget.
func (c *Client) SetRetries(n int) {
	if n >= 0 {
		c.retries = n
	}
}

// Changes performs one request/response round. Rate-limit responses are
// retried with exponential backoff and expired credentials trigger one
// transparent refresh per occurrence, both within the shared retry budget;
// exceeding it surfaces the last structured error.
func (c *Client) Changes(ctx context.Context, req *wire.ChangesRequest) (*wire.ChangesResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode changes request: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("obtain token: %w", err)
		}
		resp, err := c.post(ctx, token, body)
		if err != nil {
			return nil, err
		}
		if resp.status == http.StatusOK {
			var out wire.ChangesResponse
			if err := json.Unmarshal(resp.body, &out); err != nil {
				return nil, fmt.Errorf("decode changes response: %w", err)
			}
			return &out, nil
		}

		apiErr := decodeError(resp.status, resp.body)
		lastErr = apiErr
		switch resp.status {
		case http.StatusUnauthorized:
			if attempt == c.retries {
				break
			}
			c.log.Info("credential rejected, refreshing")
			if _, err := c.tokens.Refresh(ctx); err != nil {
				// the server's 401 is the actionable error, not the
				// source's inability to refresh
				c.log.Warn("token refresh failed", zap.Error(err))
				return nil, apiErr
			}
			continue
		case http.StatusTooManyRequests:
			if attempt == c.retries {
				break
			}
			wait := bo.NextBackOff()
			c.log.Info("rate limited, backing off", zap.Duration("wait", wait))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}
		return nil, apiErr
	}
	return nil, lastErr
}

type response struct {
	status int
	body   []byte
}

func (c *Client) post(ctx context.Context, token string, body []byte) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post changes: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read changes response: %w", err)
	}
	c.log.Debug("changes round trip",
		zap.Int("status", resp.StatusCode),
		zap.Duration("dur", time.Since(start)),
	)
	return &response{status: resp.StatusCode, body: data}, nil
}

func decodeError(status int, body []byte) *Error {
	var env wire.ErrorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Code != 0 {
		return &Error{Code: env.Error.Code, Status: env.Error.Status}
	}
	return &Error{Code: status, Status: http.StatusText(status)}
}

// Package httpclient implements the HTTP Client component of
// SPEC_FULL.md §4.5: timeout + retry/backoff + key-hash auth
// header derivation, shared by the sync orchestrator's push/pull
// calls. Retry policy is delegated to cenkalti/backoff/v4's
// ExponentialBackOff instead of a hand-rolled loop, modeled on the
// teacher's provider connectors' retry-on-5xx convention
// (provider/pool.go's per-provider transport, provider/openai.go's
// retry classification).
package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	// DefaultTimeout bounds each individual HTTP round trip (spec §6).
	DefaultTimeout = 15 * time.Second
	// DefaultBaseBackoff is the first retry delay; subsequent delays
	// double (spec §4.5: "base * 2^n").
	DefaultBaseBackoff = 500 * time.Millisecond
	// DefaultMaxRetries caps retry attempts after the first try.
	DefaultMaxRetries = 2

	// KeyHashHeader carries SHA-256(syncKey) hex — the sync key itself
	// is never transmitted (spec §6).
	KeyHashHeader = "X-Sync-Key-Hash"
)

// Response is a completed HTTP round trip's status and body.
type Response struct {
	StatusCode int
	Body       []byte
}

// Client is a thin retrying HTTP wrapper scoped to one base URL.
type Client struct {
	baseURL     string
	http        *http.Client
	baseBackoff time.Duration
	maxRetries  uint64
	logger      zerolog.Logger
}

// Option customizes a Client away from its defaults.
type Option func(*Client)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithBackoff overrides the base backoff delay and retry count.
func WithBackoff(base time.Duration, maxRetries uint64) Option {
	return func(c *Client) {
		c.baseBackoff = base
		c.maxRetries = maxRetries
	}
}

// New constructs a Client targeting baseURL.
func New(baseURL string, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:     baseURL,
		http:        &http.Client{Timeout: DefaultTimeout},
		baseBackoff: DefaultBaseBackoff,
		maxRetries:  DefaultMaxRetries,
		logger:      logger.With().Str("component", "httpclient").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// permanentStatusError wraps a non-retryable HTTP outcome so
// backoff.Retry stops immediately instead of exhausting its budget.
type permanentStatusError struct {
	resp Response
}

func (e *permanentStatusError) Error() string {
	return fmt.Sprintf("httpclient: non-retryable status %d", e.resp.StatusCode)
}

// Do issues method/path with an optional keyHash auth header and body,
// retrying 5xx and network errors with exponential backoff. Per spec
// §4.5: "status < 500 || n == retries surfaces immediately; 409 is
// returned to the caller (not retried)" — both cases are modeled here
// as permanent (non-retried) outcomes since 409 carries a body the
// caller must inspect.
func (c *Client) Do(ctx context.Context, method, path, keyHash string, body []byte) (Response, error) {
	url := c.baseURL + path

	var result Response
	operation := func() error {
		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
		if err != nil {
			return backoff.Permanent(err)
		}
		if keyHash != "" {
			req.Header.Set(KeyHashHeader, keyHash)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			c.logger.Warn().Err(err).Str("url", url).Msg("request failed, may retry")
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		result = Response{StatusCode: resp.StatusCode, Body: data}

		if resp.StatusCode >= 500 {
			return fmt.Errorf("httpclient: server error %d", resp.StatusCode)
		}
		// Anything below 500 — including 409 — is handed back to the
		// caller to classify; the retry loop stops here.
		return backoff.Permanent(&permanentStatusError{resp: result})
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.baseBackoff
	eb.Multiplier = 2
	eb.MaxElapsedTime = 0

	err := backoff.Retry(operation, backoff.WithMaxRetries(eb, c.maxRetries))
	if err != nil {
		if _, ok := err.(*permanentStatusError); ok {
			return result, nil
		}
		return result, fmt.Errorf("httpclient: %s %s: %w", method, path, err)
	}
	return result, nil
}

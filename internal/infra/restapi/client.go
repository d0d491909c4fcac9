// Package restapi is the HTTP client for the Mentara exam API.
package restapi

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

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"mentara-client/internal/domain"
)

const maxErrorBody = 64 << 10

// DefaultRetryDelays is the backoff between retries of idempotent requests.
var DefaultRetryDelays = []time.Duration{time.Second, 3 * time.Second, 7 * time.Second}

// Client talks to the exam API with bearer auth, token refresh and GET retries.
type Client struct {
	baseURL       string
	http          *http.Client
	tokens        TokenStore
	log           zerolog.Logger
	retryDelays   []time.Duration
	timeout       time.Duration
	submitTimeout time.Duration
	now           func() time.Time
	sleep         func(ctx context.Context, d time.Duration) error
	sf            singleflight.Group
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetryDelays sets the backoff schedule; its length is the retry budget.
func WithRetryDelays(delays []time.Duration) Option {
	return func(c *Client) { c.retryDelays = delays }
}

// WithTimeout bounds each call, retries included.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithSubmitTimeout bounds exam submission separately from other calls.
func WithSubmitTimeout(d time.Duration) Option {
	return func(c *Client) { c.submitTimeout = d }
}

// WithLogger attaches a logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log.With().Str("component", "restapi").Logger() }
}

// WithClock overrides time for token-expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// RetryDelays builds a backoff schedule of n entries from the default one.
func RetryDelays(n int) []time.Duration {
	out := make([]time.Duration, 0, n)
	for i := 0; i < n; i++ {
		if i < len(DefaultRetryDelays) {
			out = append(out, DefaultRetryDelays[i])
			continue
		}
		out = append(out, DefaultRetryDelays[len(DefaultRetryDelays)-1])
	}
	return out
}

func New(baseURL string, tokens TokenStore, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		http:          &http.Client{},
		tokens:        tokens,
		log:           zerolog.Nop(),
		retryDelays:   DefaultRetryDelays,
		timeout:       30 * time.Second,
		submitTimeout: 120 * time.Second,
		now:           time.Now,
		sleep:         sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tokens == nil {
		c.tokens = NewMemoryTokens(domain.Tokens{})
	}
	return c
}

type request struct {
	method      string
	path        string
	body        []byte
	contentType string
	anonymous   bool
	timeout     time.Duration
}

func jsonRequest(method, path string, payload any) (request, error) {
	req := request{method: method, path: path}
	if payload == nil {
		return req, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return req, fmt.Errorf("encode %s body: %w", path, err)
	}
	req.body = body
	req.contentType = "application/json"
	return req, nil
}

// do sends req and decodes a 2xx JSON body into out.
// GETs are retried on network errors and 502/503/504; a 401 triggers one refresh.
func (c *Client) do(ctx context.Context, req request, out any) error {
	timeout := c.timeout
	if req.timeout > 0 {
		timeout = req.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if !req.anonymous {
		if err := c.ensureFresh(ctx); err != nil {
			return err
		}
	}

	refreshed := false
	attempt := 0
	for {
		resp, err := c.send(ctx, req)
		if err != nil {
			if ctx.Err() == nil && c.canRetry(req, attempt) {
				c.log.Warn().Err(err).Str("path", req.path).Int("attempt", attempt+1).Msg("request failed, retrying")
				if err := c.sleep(ctx, c.retryDelays[attempt]); err != nil {
					return err
				}
				attempt++
				continue
			}
			return fmt.Errorf("%s %s: %w", req.method, req.path, err)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized && !req.anonymous && !refreshed:
			discard(resp)
			refreshed = true
			if err := c.refresh(ctx); err != nil {
				return err
			}
			continue
		case isRetryableStatus(resp.StatusCode) && c.canRetry(req, attempt):
			discard(resp)
			c.log.Warn().Int("status", resp.StatusCode).Str("path", req.path).Int("attempt", attempt+1).Msg("server unavailable, retrying")
			if err := c.sleep(ctx, c.retryDelays[attempt]); err != nil {
				return err
			}
			attempt++
			continue
		}
		return decodeResponse(resp, out)
	}
}

func (c *Client) send(ctx context.Context, req request) (*http.Response, error) {
	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+"/"+strings.TrimLeft(req.path, "/"), body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if !req.anonymous {
		tokens, err := c.tokens.Load()
		if err != nil {
			return nil, fmt.Errorf("load credentials: %w", err)
		}
		if tokens.Access != "" {
			httpReq.Header.Set("Authorization", "Bearer "+tokens.Access)
		}
	}
	return c.http.Do(httpReq)
}

func (c *Client) canRetry(req request, attempt int) bool {
	if req.method != http.MethodGet && req.method != http.MethodHead && req.method != http.MethodOptions {
		return false
	}
	return attempt < len(c.retryDelays)
}

func isRetryableStatus(status int) bool {
	return status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout
}

type errorBody struct {
	Detail    any       `json:"detail"`
	Error     any       `json:"error"`
	AttemptID domain.ID `json:"attempt_id"`
}

func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		reqErr := &domain.RequestError{Status: resp.StatusCode}
		var body errorBody
		if err := json.Unmarshal(raw, &body); err == nil {
			reqErr.AttemptID = body.AttemptID
			reqErr.Message = messageOf(body.Detail)
			if reqErr.Message == "" {
				reqErr.Message = messageOf(body.Error)
			}
		}
		return reqErr
	}

	if out == nil {
		discard(resp)
		return nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func messageOf(v any) string {
	switch m := v.(type) {
	case nil:
		return ""
	case string:
		return m
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsUnauthenticated reports whether err means the user has to log in again.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, domain.ErrUnauthenticated)
}

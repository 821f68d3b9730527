// Package rest issues rate-limited HTTP requests to the REST API paired with
// the gateway.
//
// A Client combines three concerns: attaching authorization, classifying
// responses (success, per-route throttle, global throttle, hard error), and
// pacing sends through a Limiter so the process never knowingly exceeds a
// route's remaining budget. Throttles are retried internally and are visible
// to callers only as latency; hard errors surface as *StatusError values.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/creachadair/mds/value"
)

// DefaultBaseURL is the versioned base path of the REST API.
const DefaultBaseURL = "https://discordapp.com/api/v6"

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// Token authenticates every request. Required. Never logged.
	Token string

	// Selfbot switches the authorization scheme from "Bot <token>" to the
	// bare token used by user accounts.
	Selfbot bool

	// BaseURL overrides the API base path. If empty, DefaultBaseURL is used.
	BaseURL string

	// HTTPClient is used for all requests. If nil, a client with a 10-second
	// timeout is used.
	HTTPClient *http.Client

	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client is a rate-limited REST API client.
type Client struct {
	baseURL    string
	authz      string
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *Limiter
}

// NewClient creates a Client from config.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("rest: Token is required")
	}
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	authz := value.Cond(config.Selfbot, config.Token, "Bot "+config.Token)
	return &Client{
		baseURL:    baseURL,
		authz:      authz,
		httpClient: httpClient,
		logger:     logger,
		limiter:    NewLimiter(),
	}, nil
}

// Limiter returns the limiter gating this client's requests.
func (c *Client) Limiter() *Limiter { return c.limiter }

// A StatusError is reported for responses outside 2xx that are not rate
// limit conditions. The response body is retained for diagnosis.
type StatusError struct {
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rest: unexpected status %d", e.Status)
}

// throttleBody is the JSON body of a 429 response.
type throttleBody struct {
	RetryAfter int64 `json:"retry_after"` // milliseconds
	Global     bool  `json:"global"`
}

// Do sends one logical request and returns the response body. The route key
// buckets the request for rate limiting: parameterized paths must collapse to
// a shared key (e.g. "GET:/channels/*/messages"), independent of parameter
// values.
//
// Do reserves a slot before sending and records the observed limits after.
// Rate-limit responses are slept out and retried without re-reserving: the
// original reservation already accounted for this logical call. Transport
// errors and non-429 failures are returned immediately, never retried.
func (c *Client) Do(ctx context.Context, method, path, route string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("rest: encode request body: %w", err)
		}
	}
	for {
		ok, wait := c.limiter.Reserve(route)
		if ok {
			break
		}
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	// Reserved: throttle retries replay the same reservation.
	for {
		data, retry, err := c.execute(ctx, method, path, route, payload)
		if err != nil {
			return nil, err
		}
		if retry > 0 {
			c.logger.Debug("rest throttled", "route", route, "retry_after", retry)
			if err := sleep(ctx, retry); err != nil {
				return nil, err
			}
			continue
		}
		return data, nil
	}
}

// execute performs one HTTP round trip and records its outcome. A positive
// retry duration means the caller should sleep and try the same call again.
func (c *Client) execute(ctx context.Context, method, path, route string, payload []byte) ([]byte, time.Duration, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, 0, fmt.Errorf("rest: build request: %w", err)
	}
	req.Header.Set("Authorization", c.authz)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rsp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport errors bypass rate bookkeeping entirely.
		return nil, 0, fmt.Errorf("rest: %s %s: %w", method, path, err)
	}
	defer rsp.Body.Close()

	data, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("rest: read response: %w", err)
	}

	if rsp.StatusCode/100 == 2 {
		c.limiter.Record(route, parseRateHeaders(rsp.Header))
		return data, 0, nil
	}
	if rsp.StatusCode == http.StatusTooManyRequests {
		var tb throttleBody
		if err := json.Unmarshal(data, &tb); err != nil {
			return nil, 0, fmt.Errorf("rest: invalid throttle body: %w", err)
		}
		retry := time.Duration(tb.RetryAfter) * time.Millisecond
		if tb.Global {
			c.limiter.Record(route, GlobalThrottle(retry))
		} else {
			c.limiter.Record(route, LocalThrottle(retry))
		}
		return nil, retry, nil
	}
	return nil, 0, &StatusError{Status: rsp.StatusCode, Body: data}
}

// parseRateHeaders reads the standard rate-limit headers from a 2xx
// response. Their absence means the endpoint is unthrottled, which is valid:
// the returned outcome leaves the bucket untouched.
func parseRateHeaders(h http.Header) Outcome {
	remaining, err := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	if err != nil {
		return Success(-1, 0, time.Time{})
	}
	limit, _ := strconv.Atoi(h.Get("X-RateLimit-Limit"))
	resetUnix, _ := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64)
	return Success(remaining, limit, time.Unix(resetUnix, 0))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

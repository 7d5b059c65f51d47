// Package astra implements the control plane and data plane clients for
// Astra DB's DevOps and REST APIs.
package astra

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
	"unicode/utf8"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/yairfalse/astra/providers"
	"github.com/yairfalse/astra/telemetry"
	"github.com/yairfalse/astra/types"
)

const (
	// DefaultBaseURL is the production DevOps API
	DefaultBaseURL = "https://api.astra.datastax.com"

	defaultTimeout   = 30 * time.Second
	defaultRateLimit = 10
	defaultBurst     = 5
	maxErrorBody     = 64 * 1024
	maxErrorMessage  = 1024
)

// NewAstraProviderFactory builds a control plane from provider config
func NewAstraProviderFactory(ctx context.Context, config providers.ProviderConfig) (providers.ControlPlane, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("astra: token is required")
	}

	opts := []Option{}
	if config.BaseURL != "" {
		opts = append(opts, WithBaseURL(config.BaseURL))
	}
	if config.Timeout > 0 {
		opts = append(opts, WithTimeout(config.Timeout))
	}
	if config.RateLimit > 0 {
		opts = append(opts, WithRateLimit(config.RateLimit, config.Burst))
	}
	return NewClient(config.Token, opts...), nil
}

func init() {
	providers.RegisterProvider("astra", NewAstraProviderFactory)
}

// Client implements providers.ControlPlane against the DevOps v2 API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *telemetry.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another DevOps endpoint.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// NewClient creates a DevOps API client authenticating with token.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(defaultRateLimit, defaultBurst),
		logger:  telemetry.NewLogger("astra-devops"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the provider name
func (c *Client) Name() string {
	return "astra"
}

// do sends one request and returns the response status and body.
// Non-2xx statuses are returned, not turned into errors, so callers can
// treat 404 as absence.
func (c *Client) do(ctx context.Context, op, method, path string, in interface{}) (int, http.Header, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, nil, fmt.Errorf("%s: rate limiter: %w", op, err)
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, nil, nil, fmt.Errorf("%s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		telemetry.RecordDevOpsRequest(ctx, op, 0, time.Since(start))
		if ctx.Err() != nil {
			return 0, nil, nil, fmt.Errorf("%s: %w", op, ctx.Err())
		}
		return 0, nil, nil, &types.TransportError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	telemetry.RecordDevOpsRequest(ctx, op, resp.StatusCode, time.Since(start))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return 0, nil, nil, &types.TransportError{Op: op, Err: err}
	}

	c.logger.WithContext(ctx).Debug().
		Str("op", op).
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Msg("devops request")

	return resp.StatusCode, resp.Header, data, nil
}

// apiError builds an APIError from an error response body
func apiError(op string, status int, body []byte) error {
	apiErr := &APIError{Op: op, StatusCode: status}

	var envelope errorResponse
	if err := json.Unmarshal(body, &envelope); err == nil {
		for _, e := range envelope.Errors {
			apiErr.Messages = append(apiErr.Messages, clip(e.Description))
		}
	}
	if len(apiErr.Messages) == 0 && len(bytes.TrimSpace(body)) > 0 {
		apiErr.Messages = []string{clip(strings.TrimSpace(string(body)))}
	}
	return apiErr
}

// clip shortens an error message to maxErrorMessage bytes on a rune boundary
func clip(msg string) string {
	if len(msg) <= maxErrorMessage {
		return msg
	}
	cut := maxErrorMessage
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut] + "..."
}

// IsNotFound checks if an error is a DevOps 404
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

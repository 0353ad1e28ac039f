package providers

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

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
)

// DefaultTimeout bounds every provider round trip.
const DefaultTimeout = 15 * time.Second

const maxResponseBytes = 4 << 20

// Authorizer attaches credentials to an outbound request.
type Authorizer func(req *http.Request, token string)

// BearerAuth sends the token as an Authorization bearer header.
func BearerAuth(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
}

// tokenInvalidator is implemented by token providers that can be told a
// token was rejected.
type tokenInvalidator interface {
	Invalidate(token string)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	Provider   domain.ProviderName
	BaseURL    string
	Tokens     driven.TokenProvider
	HTTPClient *http.Client
	Timeout    time.Duration

	// Authorize defaults to BearerAuth.
	Authorize Authorizer

	// Headers are sent with every request.
	Headers map[string]string
}

// Client performs JSON requests against one provider environment.
// It never retries except to resend once with a refreshed OAuth token
// after a 401.
type Client struct {
	provider  domain.ProviderName
	baseURL   string
	tokens    driven.TokenProvider
	http      *http.Client
	timeout   time.Duration
	authorize Authorizer
	headers   map[string]string
}

// NewClient creates a provider API client.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		provider:  cfg.Provider,
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		tokens:    cfg.Tokens,
		http:      cfg.HTTPClient,
		timeout:   cfg.Timeout,
		authorize: cfg.Authorize,
		headers:   cfg.Headers,
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.authorize == nil {
		c.authorize = BearerAuth
	}
	return c
}

// BaseURL returns the environment base URL the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do sends in as a JSON body (when non-nil) and decodes the response into
// out (when non-nil). Non-2xx responses become *domain.ProviderError.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", c.provider, err)
		}
	}

	token, err := c.tokens.GetAccessToken(ctx)
	if err != nil {
		return err
	}

	status, body, err := c.roundTrip(ctx, method, path, payload, token)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized && c.tokens.AuthMethod() == domain.AuthMethodOAuth2 {
		if inv, ok := c.tokens.(tokenInvalidator); ok {
			inv.Invalidate(token)
			token, err = c.tokens.GetAccessToken(ctx)
			if err != nil {
				return err
			}
			status, body, err = c.roundTrip(ctx, method, path, payload, token)
			if err != nil {
				return err
			}
		}
	}

	if status < 200 || status > 299 {
		return &domain.ProviderError{
			Provider:   c.provider,
			StatusCode: status,
			Message:    errorMessage(body, status),
		}
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &domain.ProviderError{
			Provider:   c.provider,
			StatusCode: status,
			Message:    "malformed response: " + err.Error(),
		}
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte, token string) (int, []byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	c.authorize(req, token)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return 0, nil, &domain.ProviderError{Provider: c.provider, Message: err.Error(), Timeout: true}
		}
		return 0, nil, &domain.ProviderError{Provider: c.provider, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() == nil && reqCtx.Err() != nil {
			return 0, nil, &domain.ProviderError{Provider: c.provider, Message: err.Error(), Timeout: true}
		}
		return 0, nil, fmt.Errorf("read %s response: %w", c.provider, err)
	}
	return resp.StatusCode, data, nil
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

// errorMessage extracts a human-readable message from a provider error body.
func errorMessage(body []byte, status int) string {
	var parsed struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
		Title   string `json:"title"`
		Result  string `json:"result"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		switch {
		case parsed.Message != "":
			return parsed.Message
		case parsed.Title != "":
			return parsed.Title
		}
		switch e := parsed.Error.(type) {
		case string:
			if e != "" {
				return e
			}
		case map[string]any:
			if msg, ok := e["message"].(string); ok && msg != "" {
				return msg
			}
		}
		if parsed.Result != "" {
			return parsed.Result
		}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return http.StatusText(status)
	}
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return msg
}

// MapStatus translates a provider status string through table. Unknown
// statuses map to pending so an order is polled again rather than
// treated as final.
func MapStatus(table map[string]domain.FulfillmentStatus, raw string) domain.FulfillmentStatus {
	if status, ok := table[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return status
	}
	return domain.FulfillmentPending
}

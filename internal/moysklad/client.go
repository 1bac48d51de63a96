// Package moysklad implements the slice of the MoySklad JSON-API 1.2 the
// bot needs: counterparties, payment documents, products and customer
// orders, plus multipart file attachments.
package moysklad

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

	"go.uber.org/zap"
)

// APIError carries the HTTP status and response body of a failed call.
// MoySklad puts the useful diagnostics (error codes, field names) in the
// body, so it is preserved verbatim.
type APIError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("moysklad: HTTP %d on %s: %s", e.StatusCode, e.URL, e.Body)
}

// Client talks to the MoySklad API.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	maxRetries int
}

// NewClient creates a MoySklad client. Timeout bounds every request; the
// caller's context can shorten it further.
func NewClient(token, baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		token:      token,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		maxRetries: 3,
	}
}

func (c *Client) url(path string, params url.Values) string {
	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// do runs one API call with retries on 429 and 5xx responses. The parsed
// JSON body is unmarshaled into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, payload, out any) error {
	if c.token == "" {
		return fmt.Errorf("moysklad: MOYSKLAD_TOKEN is not set")
	}

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("moysklad: marshal request: %w", err)
		}
	}

	reqURL := c.url(path, params)
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return fmt.Errorf("moysklad: create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json;charset=utf-8")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("moysklad: request failed: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("moysklad: read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = &APIError{StatusCode: resp.StatusCode, URL: reqURL, Body: truncate(string(respBody), 2000)}
			c.logger.Warn("moysklad retryable error",
				zap.Int("status", resp.StatusCode), zap.String("url", reqURL), zap.Int("attempt", attempt))
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &APIError{StatusCode: resp.StatusCode, URL: reqURL, Body: truncate(string(respBody), 2000)}
		}

		if out != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("moysklad: decode response: %w", err)
			}
		}
		return nil
	}
	return lastErr
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, params, nil, out)
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, payload, out)
}

func (c *Client) put(ctx context.Context, path string, payload, out any) error {
	return c.do(ctx, http.MethodPut, path, nil, payload, out)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/breeze-rmm/procstatus/internal/httputil"
)

// Client talks to a procstatus status server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      httputil.RetryPolicy
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry sets the retry policy for every request.
func WithRetry(p httputil.RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry: httputil.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server URL the client was created with.
func (c *Client) BaseURL() string { return c.baseURL }

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status server returned %d", e.Code)
	}
	return fmt.Sprintf("status server returned %d: %s", e.Code, e.Message)
}

// Ports lists the server's configured ports.
func (c *Client) Ports(ctx context.Context) ([]PortInfo, error) {
	var out []PortInfo
	if err := c.getJSON(ctx, "/v1/ports", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Read performs one signal read on the server. The server scans the process
// table for every call.
func (c *Client) Read(ctx context.Context, port, signal string, mask uint32) (SignalValue, error) {
	path := fmt.Sprintf("/v1/ports/%s/signals/%s?mask=%s",
		url.PathEscape(port), url.PathEscape(signal), "0x"+strconv.FormatUint(uint64(mask), 16))

	var out SignalValue
	if err := c.getJSON(ctx, path, &out); err != nil {
		return SignalValue{}, err
	}
	return out, nil
}

// Report fetches a port's text report.
func (c *Client) Report(ctx context.Context, port string, details int) (string, error) {
	path := fmt.Sprintf("/v1/ports/%s/report?details=%d", url.PathEscape(port), details)
	resp, err := c.get(ctx, path)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read report: %w", err)
	}
	return string(body), nil
}

// Health fetches the server's health summary.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	if err := c.getJSON(ctx, "/v1/health", &out); err != nil {
		return Health{}, err
	}
	return out, nil
}

// StreamURL is the WebSocket URL that pushes each poll cycle.
func (c *Client) StreamURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/stream"
	return u.String(), nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	headers := http.Header{}
	headers.Set("Accept", "application/json")

	resp, err := httputil.Do(ctx, c.httpClient, http.MethodGet, c.baseURL+path, nil, headers, c.retry)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var eb ErrorBody
	if json.Unmarshal(body, &eb) == nil && eb.Error != "" {
		return &StatusError{Code: resp.StatusCode, Message: eb.Error}
	}
	return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}

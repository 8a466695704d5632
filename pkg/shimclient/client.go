// Package shimclient calls the legacy *.php surface. Every 401 response runs
// one shared OnUnauthorized hook so call sites never handle session expiry
// themselves.
package shimclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"fieldsync/pkg/domain"
)

// APIError is a non-2xx response from the shim.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu             sync.RWMutex
	token          string
	onUnauthorized func()
}

type Option func(*Client)

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken sets the session token sent with every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// OnUnauthorized registers the forced-logout hook. The token is cleared
// before the hook runs.
func (c *Client) OnUnauthorized(fn func()) {
	c.mu.Lock()
	c.onUnauthorized = fn
	c.mu.Unlock()
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	var body io.Reader
	contentType := ""
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, query, body, contentType, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	target := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Upstream(path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return domain.Upstream(path, err)
	}

	var env struct {
		Status    string   `json:"status"`
		Message   string   `json:"message"`
		Kind      string   `json:"kind"`
		Completed []string `json:"completed"`
	}
	_ = json.Unmarshal(data, &env)
	if resp.StatusCode >= 400 || env.Status == "error" {
		msg := env.Message
		if msg == "" {
			msg = resp.Status
		}
		if resp.StatusCode == http.StatusUnauthorized {
			c.expire()
		}
		e := classify(path, &APIError{Status: resp.StatusCode, Message: msg})
		if env.Kind != "" {
			e.Kind = domain.ErrorKind(env.Kind)
			e.Completed = env.Completed
		}
		return e
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return domain.Upstream(path, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) expire() {
	c.mu.Lock()
	c.token = ""
	hook := c.onUnauthorized
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
}

func classify(op string, apiErr *APIError) *domain.Error {
	e := &domain.Error{Op: op, Message: apiErr.Message, Err: apiErr}
	switch apiErr.Status {
	case http.StatusBadRequest:
		e.Kind = domain.KindValidation
	case http.StatusUnauthorized:
		e.Kind = domain.KindUnauthorized
	case http.StatusForbidden:
		e.Kind = domain.KindForbidden
	case http.StatusNotFound:
		e.Kind = domain.KindNotFound
	default:
		e.Kind = domain.KindUpstream
	}
	return e
}

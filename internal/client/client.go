package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/federated-storage/registry/internal/models"
)

// APIError is a non-2xx response from the registry API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("registry API returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to a registry API over HTTP
type Client struct {
	baseURL    string
	serviceKey string
	token      string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithServiceKey authenticates internal calls
func WithServiceKey(key string) Option {
	return func(c *Client) { c.serviceKey = key }
}

// WithToken authenticates calls as the holder of a JWT
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the API at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PendingResponse is the pending reward of one address
type PendingResponse struct {
	Address  string `json:"address"`
	Uploader string `json:"uploader"`
	Pending  int64  `json:"pending"`
}

// Accrue credits amount to uploader's pending reward
func (c *Client) Accrue(ctx context.Context, uploader string, amount int64) (int64, error) {
	body := map[string]any{"uploader": uploader, "amount": amount}

	var resp PendingResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/internal/rewards/accrue", body, &resp); err != nil {
		return 0, err
	}
	return resp.Pending, nil
}

// Pending returns address's pending reward
func (c *Client) Pending(ctx context.Context, address string) (int64, error) {
	var resp PendingResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+url.PathEscape(address)+"/rewards", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Pending, nil
}

// Claim pays out the token holder's pending reward
func (c *Client) Claim(ctx context.Context) (int64, error) {
	var resp struct {
		Claimed int64 `json:"claimed"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/rewards/claim", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Claimed, nil
}

// File returns one file record
func (c *Client) File(ctx context.Context, id uint64) (*models.FileRecord, error) {
	var rec models.FileRecord
	if err := c.do(ctx, http.MethodGet, "/api/v1/files/"+strconv.FormatUint(id, 10), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.serviceKey != "" {
		req.Header.Set("X-Service-Key", c.serviceKey)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

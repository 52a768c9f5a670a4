package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/platinummonkey/bioviews/pkg/analytics"
	"github.com/platinummonkey/bioviews/pkg/api"
	"github.com/platinummonkey/bioviews/pkg/httputil"
)

var (
	// ErrNotFound is returned when the profile or subscription does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRateLimited is returned on 429 responses.
	ErrRateLimited = errors.New("rate limited")
)

// APIError is a non-success response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bioviews api: %d %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	}
	return nil
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the client used for request/response calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithStreamClient sets the client used for presence streams. It must not have a
// request timeout.
func WithStreamClient(hc *http.Client) Option {
	return func(c *Client) { c.stream = hc }
}

// WithToken authenticates requests with a bearer token.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithDeviceID identifies this device for the server-side cooldown.
func WithDeviceID(id string) Option {
	return func(c *Client) { c.deviceID = id }
}

// Client talks to a bioviews server.
type Client struct {
	baseURL  string
	http     *http.Client
	stream   *http.Client
	token    string
	deviceID string
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		stream:  &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RecordView records a view of profileUserID. A response with Duplicate set means the
// server-side cooldown skipped it.
func (c *Client) RecordView(ctx context.Context, profileUserID string) (*api.RecordViewResponse, error) {
	var out api.RecordViewResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/views", api.RecordViewRequest{ProfileUserID: profileUserID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ViewCount returns the public view counter of a profile.
func (c *Client) ViewCount(ctx context.Context, profileUserID string) (int64, error) {
	var out api.ViewCountResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/profiles/"+url.PathEscape(profileUserID)+"/view-count", nil, &out); err != nil {
		return 0, err
	}
	return out.ViewCount, nil
}

// Analytics fetches the owner dashboard. limit 0 and an empty tz use server defaults.
func (c *Client) Analytics(ctx context.Context, profileUserID string, limit int, tz string) (*analytics.Summary, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if tz != "" {
		q.Set("tz", tz)
	}
	path := "/api/v1/profiles/" + url.PathEscape(profileUserID) + "/analytics"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out analytics.Summary
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ActiveViewers returns the live viewer count. Only the owner sees a non-zero value.
func (c *Client) ActiveViewers(ctx context.Context, profileUserID string) (int, error) {
	var out api.PresenceCountResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/profiles/"+url.PathEscape(profileUserID)+"/presence", nil, &out); err != nil {
		return 0, err
	}
	return out.ActiveViewers, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.deviceID != "" {
		req.Header.Set(api.DeviceHeader, c.deviceID)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	// record failures and generic errors both carry an "error" field
	var body httputil.ErrorResponse
	msg := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		msg = body.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}

// Package client is the Go SDK for the sync service API.
//
// # Quick start
//
//	c := client.New("http://localhost:8989")
//
//	// Register a media server endpoint
//	ep, err := c.CreateEndpoint(ctx, "living-room", "http://emby.local:8096", "emby-api-key")
//
//	// Report item changes; the server coalesces them per endpoint
//	res, err := c.NotifyChanged(ctx, "living-room",
//	    client.ItemChange{ID: "series-42", Path: "/tv/archer", UpdateType: client.UpdateModified},
//	)
//
//	// Force an immediate flush instead of waiting for the drain interval
//	_, err = c.Drain(ctx, "living-room")
//
// # Error handling
//
// All methods return an *APIError when the server responds with a non-2xx
// status code. Check errors.As(err, &client.APIError{}) to inspect the HTTP
// status and server message.
//
// # Connection reuse
//
// Client is safe for concurrent use. It shares a single http.Client internally
// so connections are reused across goroutines.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ─── Error type ───────────────────────────────────────────────────────────────

// APIError is returned when the server responds with a non-2xx status.
type APIError struct {
	StatusCode int    // HTTP status code
	Message    string // "error" field from the JSON response body
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sonarr-sync: server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether the error is a 404 from the server.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// IsConflict reports whether the error is a 409 (already exists) from the server.
func IsConflict(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusConflict
}

// IsUnavailable reports whether the error is a 502, i.e. the media server
// behind the endpoint rejected or never received the call.
func IsUnavailable(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusBadGateway
}

// ─── Client options ───────────────────────────────────────────────────────────

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIKey sets the API key sent in every request as the X-Api-Key header.
// Required when the server has auth.enabled = true.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default http.Client.
// Use this to configure TLS, proxies, or request tracing.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
// The default is 30 seconds.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = d }
}

// ─── Client ───────────────────────────────────────────────────────────────────

// Client is the sync service API client. It is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a new Client that connects to the sync server at baseURL.
//
//	c := client.New("http://localhost:8989")
//	c := client.New("http://sync.example.com", client.WithAPIKey("secret"))
func New(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ─── Domain types ─────────────────────────────────────────────────────────────

// Update types accepted by NotifyChanged. An empty UpdateType is treated as
// UpdateModified by the server.
const (
	UpdateCreated  = "Created"
	UpdateModified = "Modified"
	UpdateDeleted  = "Deleted"
)

// Endpoint is a registered media server target.
// The API key is write-only and never included in server responses.
type Endpoint struct {
	Name          string
	URL           string
	UpdateLibrary bool
	Pending       int
	CreatedAt     time.Time
}

// ItemChange is one library item change to report.
type ItemChange struct {
	ID         string // stable item identity; changes to the same ID coalesce
	Path       string // filesystem path the media server should rescan
	UpdateType string // UpdateCreated, UpdateModified, or UpdateDeleted
	Title      string // optional, for log readability on the server
}

// EnqueueResult reports the outcome of a NotifyChanged call.
type EnqueueResult struct {
	Accepted int // items taken from the request
	Pending  int // distinct items now queued for the endpoint
}

// DrainResult reports the outcome of a Drain call.
type DrainResult struct {
	Pending int // items still queued after the flush (usually 0)
}

// SystemInfo identifies the media server behind an endpoint.
type SystemInfo struct {
	ServerName string
	Version    string
}

// HealthInfo is the server's self-reported status.
type HealthInfo struct {
	Status    string
	NodeID    string
	Endpoints int
	Uptime    string
	Version   string
}

// QueueStat is a point-in-time view of one endpoint's pending queue.
type QueueStat struct {
	Endpoint string `json:"endpoint"`
	Pending  int    `json:"pending"`
	Draining bool   `json:"draining"`
}

// ─── Endpoint options ─────────────────────────────────────────────────────────

// EndpointOption configures a CreateEndpoint call.
type EndpointOption func(*createEndpointPayload)

// WithUpdatesDisabled registers the endpoint with library updates switched
// off. Changes reported for it are accepted and then discarded until the
// toggle is flipped back on.
func WithUpdatesDisabled() EndpointOption {
	return func(p *createEndpointPayload) {
		off := false
		p.UpdateLibrary = &off
	}
}

// ─── Endpoint management ──────────────────────────────────────────────────────

// CreateEndpoint registers a media server target.
// name must be lowercase alphanumeric (dashes allowed), url must be http(s),
// and apiKey is the media server's own API token.
func (c *Client) CreateEndpoint(ctx context.Context, name, rawURL, apiKey string, opts ...EndpointOption) (*Endpoint, error) {
	payload := createEndpointPayload{Name: name, URL: rawURL, APIKey: apiKey}
	for _, o := range opts {
		o(&payload)
	}
	var resp wireEndpoint
	if err := c.do(ctx, http.MethodPost, "/endpoints", payload, &resp); err != nil {
		return nil, err
	}
	return resp.toEndpoint(), nil
}

// ListEndpoints returns every registered endpoint, sorted by name.
func (c *Client) ListEndpoints(ctx context.Context) ([]*Endpoint, error) {
	var resp struct {
		Endpoints []wireEndpoint `json:"endpoints"`
	}
	if err := c.do(ctx, http.MethodGet, "/endpoints", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]*Endpoint, 0, len(resp.Endpoints))
	for _, we := range resp.Endpoints {
		out = append(out, we.toEndpoint())
	}
	return out, nil
}

// GetEndpoint returns one endpoint by name.
func (c *Client) GetEndpoint(ctx context.Context, name string) (*Endpoint, error) {
	var resp wireEndpoint
	if err := c.do(ctx, http.MethodGet, "/endpoints/"+url.PathEscape(name), nil, &resp); err != nil {
		return nil, err
	}
	return resp.toEndpoint(), nil
}

// SetUpdateLibrary flips the endpoint's library-update toggle.
func (c *Client) SetUpdateLibrary(ctx context.Context, name string, enabled bool) (*Endpoint, error) {
	payload := struct {
		UpdateLibrary bool `json:"update_library"`
	}{UpdateLibrary: enabled}
	var resp wireEndpoint
	if err := c.do(ctx, http.MethodPatch, "/endpoints/"+url.PathEscape(name), payload, &resp); err != nil {
		return nil, err
	}
	return resp.toEndpoint(), nil
}

// DeleteEndpoint removes an endpoint. Its pending queue, if any, ages out on
// the server.
func (c *Client) DeleteEndpoint(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/endpoints/"+url.PathEscape(name), nil, nil)
}

// TestConnection performs a live handshake against the media server behind
// the endpoint and reports its identity.
func (c *Client) TestConnection(ctx context.Context, name string) (*SystemInfo, error) {
	var resp struct {
		ServerName string `json:"server_name"`
		Version    string `json:"version"`
	}
	if err := c.do(ctx, http.MethodPost, "/endpoints/"+url.PathEscape(name)+"/test", nil, &resp); err != nil {
		return nil, err
	}
	return &SystemInfo{ServerName: resp.ServerName, Version: resp.Version}, nil
}

// ─── Change reporting ─────────────────────────────────────────────────────────

// NotifyChanged reports one or more item changes for an endpoint. The server
// coalesces repeated changes to the same item ID, keeping the latest, and
// flushes the batch on its drain interval.
func (c *Client) NotifyChanged(ctx context.Context, endpoint string, items ...ItemChange) (*EnqueueResult, error) {
	if len(items) == 0 {
		return nil, errors.New("sonarr-sync: NotifyChanged requires at least one item")
	}
	payload := struct {
		Items []wireItem `json:"items"`
	}{Items: make([]wireItem, 0, len(items))}
	for _, it := range items {
		payload.Items = append(payload.Items, wireItem{
			ID:         it.ID,
			Path:       it.Path,
			UpdateType: it.UpdateType,
			Title:      it.Title,
		})
	}

	var resp EnqueueResult
	wire := struct {
		Accepted int `json:"accepted"`
		Pending  int `json:"pending"`
	}{}
	if err := c.do(ctx, http.MethodPost, "/endpoints/"+url.PathEscape(endpoint)+"/items", payload, &wire); err != nil {
		return nil, err
	}
	resp.Accepted = wire.Accepted
	resp.Pending = wire.Pending
	return &resp, nil
}

// Drain flushes the endpoint's pending batch immediately instead of waiting
// for the server's drain interval. A media server failure surfaces as a 502
// (check with IsUnavailable).
func (c *Client) Drain(ctx context.Context, endpoint string) (*DrainResult, error) {
	var wire struct {
		Status  string `json:"status"`
		Pending int    `json:"pending"`
	}
	if err := c.do(ctx, http.MethodPost, "/endpoints/"+url.PathEscape(endpoint)+"/drain", nil, &wire); err != nil {
		return nil, err
	}
	return &DrainResult{Pending: wire.Pending}, nil
}

// ─── Observability ────────────────────────────────────────────────────────────

// Health returns the server's health summary.
func (c *Client) Health(ctx context.Context) (*HealthInfo, error) {
	var wire struct {
		Status    string `json:"status"`
		NodeID    string `json:"node_id"`
		Endpoints int    `json:"endpoints"`
		Uptime    string `json:"uptime"`
		Version   string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, &wire); err != nil {
		return nil, err
	}
	return &HealthInfo{
		Status:    wire.Status,
		NodeID:    wire.NodeID,
		Endpoints: wire.Endpoints,
		Uptime:    wire.Uptime,
		Version:   wire.Version,
	}, nil
}

// Stats returns the pending-queue depth and drain state for every endpoint
// that currently has a queue.
func (c *Client) Stats(ctx context.Context) ([]*QueueStat, error) {
	var wire struct {
		Queues []QueueStat `json:"queues"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, &wire); err != nil {
		return nil, err
	}
	out := make([]*QueueStat, 0, len(wire.Queues))
	for i := range wire.Queues {
		out = append(out, &wire.Queues[i])
	}
	return out, nil
}

// ─── HTTP transport ───────────────────────────────────────────────────────────

// do performs a single HTTP request.
// body is encoded as JSON when non-nil, resp is decoded from JSON when non-nil.
// A 204 No Content response is treated as success with no body.
func (c *Client) do(ctx context.Context, method, path string, body, resp any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("sonarr-sync: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("sonarr-sync: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sonarr-sync: request %s %s: %w", method, path, err)
	}
	defer httpResp.Body.Close()

	// Success without body
	if httpResp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("sonarr-sync: read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		msg := errResp.Error
		if msg == "" {
			msg = http.StatusText(httpResp.StatusCode)
		}
		return &APIError{StatusCode: httpResp.StatusCode, Message: msg}
	}

	if resp != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, resp); err != nil {
			return fmt.Errorf("sonarr-sync: decode response: %w", err)
		}
	}
	return nil
}

// ─── Internal wire types ──────────────────────────────────────────────────────

type createEndpointPayload struct {
	Name          string `json:"name"`
	URL           string `json:"url"`
	APIKey        string `json:"api_key"`
	UpdateLibrary *bool  `json:"update_library,omitempty"`
}

type wireItem struct {
	ID         string `json:"id"`
	Path       string `json:"path"`
	UpdateType string `json:"update_type,omitempty"`
	Title      string `json:"title,omitempty"`
}

type wireEndpoint struct {
	Name          string `json:"name"`
	URL           string `json:"url"`
	UpdateLibrary bool   `json:"update_library"`
	Pending       int    `json:"pending"`
	CreatedAt     int64  `json:"created_at"`
}

func (w *wireEndpoint) toEndpoint() *Endpoint {
	return &Endpoint{
		Name:          w.Name,
		URL:           w.URL,
		UpdateLibrary: w.UpdateLibrary,
		Pending:       w.Pending,
		CreatedAt:     time.UnixMilli(w.CreatedAt).UTC(),
	}
}

// Package mediaserver is the HTTP client for Emby/Jellyfin-compatible media
// servers. It performs the bulk library refresh call the updater hands
// batches to, and the connection test run when an endpoint is registered.
//
// The client never retries: a failed call is reported to the caller and the
// batch is gone. Media server library scans are idempotent, so a lost update
// is repaired by the next change to the same item.
package mediaserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/CorentinB/Sonarr/internal/types"
)

const (
	updatePath = "/Library/Media/Updated"
	infoPath   = "/System/Info"

	// tokenHeader carries the endpoint's API key on every request.
	tokenHeader = "X-Emby-Token"
)

// mediaUpdate is one entry in the bulk refresh payload.
type mediaUpdate struct {
	Path       string `json:"Path"`
	UpdateType string `json:"UpdateType"`
}

// updateRequest is the JSON body POSTed to /Library/Media/Updated.
type updateRequest struct {
	Updates []mediaUpdate `json:"Updates"`
}

// SystemInfo is the subset of /System/Info the connection test inspects.
type SystemInfo struct {
	ServerName string `json:"ServerName"`
	Version    string `json:"Version"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
// Use this to configure TLS, proxies, or request tracing.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout. The default is 30 seconds.
// This bound is the only deadline on a bulk refresh call; the updater adds
// none of its own.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// Client talks to media servers. One Client serves every endpoint — the
// target URL and API key come from the Endpoint passed to each call.
// Safe for concurrent use.
type Client struct {
	http *http.Client
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := &Client{http: &http.Client{Timeout: 30 * time.Second}}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Update asks the media server at ep to rescan the given items in one bulk
// call. An empty batch is a no-op. Returns an error on any non-2xx response.
func (c *Client) Update(ctx context.Context, items []types.Item, ep types.Endpoint) error {
	if len(items) == 0 {
		return nil
	}

	payload := updateRequest{Updates: make([]mediaUpdate, 0, len(items))}
	for _, it := range items {
		payload.Updates = append(payload.Updates, mediaUpdate{
			Path:       it.Path,
			UpdateType: string(it.Kind),
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("mediaserver: marshal update for %s: %w", ep.Name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		joinURL(ep.URL, updatePath), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("mediaserver: build request for %s: %w", ep.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(tokenHeader, ep.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mediaserver: POST %s: %w", ep.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("mediaserver: %s returned %d", ep.Name, resp.StatusCode)
	}
	return nil
}

// TestConnection performs the authentication handshake against ep: it fetches
// /System/Info with the endpoint's API key and reports the server identity.
// Used to validate an endpoint before it is registered.
func (c *Client) TestConnection(ctx context.Context, ep types.Endpoint) (SystemInfo, error) {
	var info SystemInfo

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		joinURL(ep.URL, infoPath), nil)
	if err != nil {
		return info, fmt.Errorf("mediaserver: build request for %s: %w", ep.Name, err)
	}
	req.Header.Set(tokenHeader, ep.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return info, fmt.Errorf("mediaserver: GET %s: %w", ep.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return info, fmt.Errorf("mediaserver: %s rejected the api key", ep.Name)
	}
	if resp.StatusCode != http.StatusOK {
		return info, fmt.Errorf("mediaserver: %s returned %d", ep.Name, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&info); err != nil {
		return info, fmt.Errorf("mediaserver: decode system info from %s: %w", ep.Name, err)
	}
	return info, nil
}

// joinURL appends path to base without doubling slashes.
func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

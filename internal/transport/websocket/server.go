// Package websocket provides a WebSocket ingest stream for item changes.
//
// Producers (import pipelines, filesystem watchers) open a connection to:
//
//	GET /endpoints/{name}/ws
//
// and stream change frames instead of batching HTTP POSTs. The server
// coalesces the changes exactly as the REST ingest path does, and pushes
// a depth frame every 2 seconds so the producer can observe backpressure.
//
// Client → server item frame:
//
//	{"type":"item","id":"<id>","path":"/tv/...","update_type":"Modified","title":"..."}
//
// Server → client frames:
//
//	{"type":"depth","endpoint":"<name>","pending":N}
//	{"type":"error","error":"..."}
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/CorentinB/Sonarr/internal/registry"
	"github.com/CorentinB/Sonarr/internal/types"
	"github.com/CorentinB/Sonarr/internal/updater"
)

// depthInterval is how often the server reports the pending-queue depth.
const depthInterval = 2 * time.Second

var upgrader = gorillaws.Upgrader{
	// CheckOrigin rejects cross-origin WebSocket upgrade requests.
	// A request is considered same-origin when its Origin header matches the
	// Host header (scheme-agnostic).  Requests without an Origin header
	// (e.g. from native clients/curl) are always allowed.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser client, allow
		}
		// Parse and compare host portions only so that ws:// and http:// are
		// treated as the same origin.
		parsed, err := parseHost(origin)
		if err != nil {
			return false
		}
		return parsed == r.Host
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 1024,
}

// parseHost returns the host:port (or just host) portion of a URL string.
func parseHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid origin %q", rawURL)
	}
	return u.Host, nil
}

// Handler serves the ingest stream for a specific endpoint.
// It is mounted by the HTTP server and reads the name from r.PathValue.
type Handler struct {
	Registry *registry.Registry
	Updater  *updater.Updater
}

// clientFrame is the JSON structure producers send to the server.
type clientFrame struct {
	Type       string `json:"type"` // "item"
	ID         string `json:"id"`
	Path       string `json:"path"`
	UpdateType string `json:"update_type"`
	Title      string `json:"title"`
}

// serverFrame is the JSON structure the server sends to producers.
type serverFrame struct {
	Type     string `json:"type"` // "depth" | "error"
	Endpoint string `json:"endpoint,omitempty"`
	Pending  int    `json:"pending,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ServeHTTP upgrades the connection and starts the ingest loop.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ep, err := h.Registry.Get(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	// Start a goroutine to read item frames from the producer.
	frames := make(chan clientFrame, 64)
	go func() {
		defer close(frames)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var cf clientFrame
			if jsonErr := json.Unmarshal(raw, &cf); jsonErr == nil {
				frames <- cf
			}
		}
	}()

	ticker := time.NewTicker(depthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case cf, ok := <-frames:
			if !ok {
				return // producer disconnected
			}
			if cf.Type != "item" {
				h.send(conn, serverFrame{Type: "error", Error: "unknown frame type: " + cf.Type})
				continue
			}
			if cf.ID == "" || cf.Path == "" {
				h.send(conn, serverFrame{Type: "error", Error: "item frames require id and path"})
				continue
			}
			kind := types.UpdateKind(cf.UpdateType)
			if kind == "" {
				kind = types.UpdateModified
			}
			if !kind.Valid() {
				h.send(conn, serverFrame{Type: "error", Error: "invalid update_type: " + cf.UpdateType})
				continue
			}
			// Re-read the endpoint so a toggle flipped mid-stream takes
			// effect without reconnecting.
			if cur, err := h.Registry.Get(name); err == nil {
				ep = cur
			}
			h.Updater.Enqueue(ep, types.Item{
				ID:    cf.ID,
				Path:  cf.Path,
				Kind:  kind,
				Title: cf.Title,
			})

		case <-ticker.C:
			h.send(conn, serverFrame{
				Type:     "depth",
				Endpoint: ep.Name,
				Pending:  h.Updater.Pending(ep.Name),
			})
		}
	}
}

func (h *Handler) send(conn *gorillaws.Conn, f serverFrame) {
	data, _ := json.Marshal(f)
	if err := conn.WriteMessage(gorillaws.TextMessage, data); err != nil {
		slog.Warn("websocket write failed", "err", err)
	}
}

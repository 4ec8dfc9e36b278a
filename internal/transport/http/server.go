// Package http provides the HTTP transport layer for the sync service.
//
// Routes (Go 1.22+ method-qualified patterns):
//
//	GET    /health
//	POST   /endpoints
//	GET    /endpoints
//	GET    /endpoints/{name}
//	PATCH  /endpoints/{name}
//	DELETE /endpoints/{name}
//	POST   /endpoints/{name}/test
//	POST   /endpoints/{name}/items
//	POST   /endpoints/{name}/drain
//	GET    /endpoints/{name}/ws
//	GET    /metrics
//	GET    /api/stats
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/CorentinB/Sonarr/internal/config"
	"github.com/CorentinB/Sonarr/internal/mediaserver"
	"github.com/CorentinB/Sonarr/internal/metrics"
	"github.com/CorentinB/Sonarr/internal/registry"
	transportws "github.com/CorentinB/Sonarr/internal/transport/websocket"
	"github.com/CorentinB/Sonarr/internal/updater"
)

// Version is reported by /health. Overridable at build time via -ldflags.
var Version = "1.0.0"

// Server wraps the stdlib HTTP server with route wiring.
type Server struct {
	inner *http.Server
}

// New builds a Server around the endpoint registry and the coalescer.
// The caller is responsible for calling ListenAndServe / Shutdown.
func New(reg *registry.Registry, upd *updater.Updater, media *mediaserver.Client, cfg *config.Config, nodeID string, mreg *metrics.Registry) *Server {
	h := &Handler{reg: reg, updater: upd, media: media, nodeID: nodeID, version: Version}
	ws := &transportws.Handler{Registry: reg, Updater: upd}

	mux := http.NewServeMux()

	// Health
	mux.HandleFunc("GET /health", h.health)

	// Endpoint management
	mux.HandleFunc("POST /endpoints", h.createEndpoint)
	mux.HandleFunc("GET /endpoints", h.listEndpoints)
	mux.HandleFunc("GET /endpoints/{name}", h.getEndpoint)
	mux.HandleFunc("PATCH /endpoints/{name}", h.patchEndpoint)
	mux.HandleFunc("DELETE /endpoints/{name}", h.deleteEndpoint)
	mux.HandleFunc("POST /endpoints/{name}/test", h.testConnection)

	// Item ingest and manual flush
	mux.HandleFunc("POST /endpoints/{name}/items", h.enqueueItems)
	mux.HandleFunc("POST /endpoints/{name}/drain", h.drainEndpoint)

	// WebSocket ingest stream
	mux.Handle("GET /endpoints/{name}/ws", ws)

	// Metrics (Prometheus text format)
	if mreg != nil {
		mux.Handle("GET /metrics", mreg.Handler())
	}

	// Stats API (pending depth and drain state per endpoint)
	mux.HandleFunc("GET /api/stats", h.statsAPI)

	var handler http.Handler = mux
	handler = chain(handler,
		CORSMiddleware,
		MaxBodyMiddleware,
		LoggingMiddleware,
		MetricsMiddleware(mreg),
		AuthMiddleware(cfg.Auth.APIKey, cfg.Auth.Enabled),
		RateLimitMiddleware(cfg.Limits.RPS, cfg.Limits.Burst),
	)

	return &Server{
		inner: &http.Server{
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Handler returns the composed http.Handler (useful for testing).
func (s *Server) Handler() http.Handler { return s.inner.Handler }

// ListenAndServe starts the server on the given address (e.g. ":8989").
// It returns when the server stops or encounters an error.
func (s *Server) ListenAndServe(addr string) error {
	s.inner.Addr = addr
	return s.inner.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting up to ctx's deadline for
// in-flight requests to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}

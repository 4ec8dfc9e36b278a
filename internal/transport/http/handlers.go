package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/CorentinB/Sonarr/internal/mediaserver"
	"github.com/CorentinB/Sonarr/internal/registry"
	"github.com/CorentinB/Sonarr/internal/types"
	"github.com/CorentinB/Sonarr/internal/updater"
)

// maxBatchItems is the maximum number of item changes accepted in a single
// enqueue request. Larger scans should be split by the caller.
const maxBatchItems = 1000

// startTime is captured at process start and reported by /health.
var startTime = time.Now()

// Handler groups all HTTP request handlers around the endpoint registry and
// the pending-update coalescer.
type Handler struct {
	reg     *registry.Registry
	updater *updater.Updater
	media   *mediaserver.Client
	nodeID  string
	version string
}

// ─── DTOs ─────────────────────────────────────────────────────────────────────

type createEndpointReq struct {
	Name          string `json:"name"`
	URL           string `json:"url"`
	APIKey        string `json:"api_key"`
	UpdateLibrary *bool  `json:"update_library"` // nil = true
}

type patchEndpointReq struct {
	UpdateLibrary *bool `json:"update_library"`
}

// endpointResp mirrors types.Endpoint minus the API key, which is
// write-only through this API.
type endpointResp struct {
	Name          string `json:"name"`
	URL           string `json:"url"`
	UpdateLibrary bool   `json:"update_library"`
	Pending       int    `json:"pending"`
	CreatedAt     int64  `json:"created_at"`
}

type endpointListResp struct {
	Endpoints []endpointResp `json:"endpoints"`
}

type itemReq struct {
	ID         string `json:"id"`
	Path       string `json:"path"`
	UpdateType string `json:"update_type"`
	Title      string `json:"title,omitempty"`
}

type enqueueReq struct {
	Items []itemReq `json:"items"`
}

type enqueueResp struct {
	Accepted int `json:"accepted"`
	Pending  int `json:"pending"`
}

type drainResp struct {
	Status  string `json:"status"`
	Pending int    `json:"pending"`
}

type testConnectionResp struct {
	ServerName string `json:"server_name"`
	Version    string `json:"version"`
}

type healthResp struct {
	Status    string `json:"status"`
	NodeID    string `json:"node_id"`
	Endpoints int    `json:"endpoints"`
	Uptime    string `json:"uptime"`
	UptimeMs  int64  `json:"uptime_ms"`
	Version   string `json:"version"`
}

func endpointToResp(ep types.Endpoint, pending int) endpointResp {
	return endpointResp{
		Name:          ep.Name,
		URL:           ep.URL,
		UpdateLibrary: ep.UpdateLibrary,
		Pending:       pending,
		CreatedAt:     ep.CreatedAt,
	}
}

// ─── Health ───────────────────────────────────────────────────────────────────

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	elapsed := time.Since(startTime)
	count, _ := h.reg.Len()
	writeJSON(w, http.StatusOK, healthResp{
		Status:    "ok",
		NodeID:    h.nodeID,
		Endpoints: count,
		Uptime:    elapsed.Round(time.Second).String(),
		UptimeMs:  elapsed.Milliseconds(),
		Version:   h.version,
	})
}

// ─── Endpoint management ─────────────────────────────────────────────────────

func (h *Handler) createEndpoint(w http.ResponseWriter, r *http.Request) {
	var req createEndpointReq
	if !decodeJSON(w, r, &req) {
		return
	}

	ep := types.Endpoint{
		Name:          req.Name,
		URL:           req.URL,
		APIKey:        req.APIKey,
		UpdateLibrary: true,
	}
	if req.UpdateLibrary != nil {
		ep.UpdateLibrary = *req.UpdateLibrary
	}

	if err := h.reg.Add(ep); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	stored, err := h.reg.Get(ep.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, endpointToResp(stored, 0))
}

func (h *Handler) listEndpoints(w http.ResponseWriter, r *http.Request) {
	eps, err := h.reg.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := endpointListResp{Endpoints: make([]endpointResp, 0, len(eps))}
	for _, ep := range eps {
		resp.Endpoints = append(resp.Endpoints, endpointToResp(ep, h.updater.Pending(ep.Name)))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getEndpoint(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.resolveEndpoint(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, endpointToResp(ep, h.updater.Pending(ep.Name)))
}

func (h *Handler) patchEndpoint(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req patchEndpointReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UpdateLibrary == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "update_library is required"})
		return
	}
	if err := h.reg.SetUpdateLibrary(name, *req.UpdateLibrary); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	ep, err := h.reg.Get(name)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, endpointToResp(ep, h.updater.Pending(ep.Name)))
}

func (h *Handler) deleteEndpoint(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.reg.Remove(name); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// testConnection performs a live handshake against the media server behind
// the named endpoint and reports its identity.
func (h *Handler) testConnection(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.resolveEndpoint(w, r)
	if !ok {
		return
	}
	info, err := h.media.TestConnection(r.Context(), ep)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, testConnectionResp{
		ServerName: info.ServerName,
		Version:    info.Version,
	})
}

// ─── Item ingest ─────────────────────────────────────────────────────────────

func (h *Handler) enqueueItems(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.resolveEndpoint(w, r)
	if !ok {
		return
	}

	var req enqueueReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "items must not be empty"})
		return
	}
	if len(req.Items) > maxBatchItems {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "too many items in one request"})
		return
	}

	for i, it := range req.Items {
		if it.ID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "item id is required"})
			return
		}
		if it.Path == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "item path is required"})
			return
		}
		kind := types.UpdateKind(it.UpdateType)
		if kind == "" {
			kind = types.UpdateModified
		}
		if !kind.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid update_type: " + it.UpdateType})
			return
		}
		req.Items[i].UpdateType = string(kind)
	}

	for _, it := range req.Items {
		h.updater.Enqueue(ep, types.Item{
			ID:    it.ID,
			Path:  it.Path,
			Kind:  types.UpdateKind(it.UpdateType),
			Title: it.Title,
		})
	}

	writeJSON(w, http.StatusAccepted, enqueueResp{
		Accepted: len(req.Items),
		Pending:  h.updater.Pending(ep.Name),
	})
}

// drainEndpoint synchronously flushes the pending batch for one endpoint.
// A sink failure surfaces as 502 so callers can retry.
func (h *Handler) drainEndpoint(w http.ResponseWriter, r *http.Request) {
	ep, ok := h.resolveEndpoint(w, r)
	if !ok {
		return
	}
	if err := h.updater.Drain(r.Context(), ep); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, drainResp{
		Status:  "drained",
		Pending: h.updater.Pending(ep.Name),
	})
}

// ─── Stats ────────────────────────────────────────────────────────────────────

func (h *Handler) statsAPI(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"queues": h.updater.Stats()})
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

// resolveEndpoint loads the endpoint named in the request path, writing the
// error response itself when the lookup fails.
func (h *Handler) resolveEndpoint(w http.ResponseWriter, r *http.Request) (types.Endpoint, bool) {
	ep, err := h.reg.Get(r.PathValue("name"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return types.Endpoint{}, false
	}
	return ep, true
}

// statusFor maps registry errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, registry.ErrInvalidName),
		errors.Is(err, registry.ErrInvalidURL),
		errors.Is(err, registry.ErrMissingAPIKey):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json: " + err.Error()})
		return false
	}
	return true
}

package mediaserver_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/CorentinB/Sonarr/internal/mediaserver"
	"github.com/CorentinB/Sonarr/internal/types"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

type recordedRequest struct {
	path  string
	token string
	body  map[string]any
}

// newServer returns a test media server capturing requests and replying with
// the given status code.
func newServer(t *testing.T, status int, reply string) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var recorded []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{path: r.URL.Path, token: r.Header.Get("X-Emby-Token")}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		recorded = append(recorded, rec)
		w.WriteHeader(status)
		if reply != "" {
			_, _ = w.Write([]byte(reply))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &recorded
}

func endpointFor(srv *httptest.Server) types.Endpoint {
	return types.Endpoint{
		Name:          "living-room",
		URL:           srv.URL,
		APIKey:        "secret",
		UpdateLibrary: true,
	}
}

// ─── Update ──────────────────────────────────────────────────────────────────

func TestUpdate_SendsBulkRefresh(t *testing.T) {
	srv, recorded := newServer(t, http.StatusNoContent, "")
	c := mediaserver.New()

	items := []types.Item{
		{ID: "a", Path: "/tv/archer", Kind: types.UpdateModified},
		{ID: "b", Path: "/tv/bones", Kind: types.UpdateCreated},
	}
	if err := c.Update(context.Background(), items, endpointFor(srv)); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if len(*recorded) != 1 {
		t.Fatalf("requests = %d, want 1", len(*recorded))
	}
	req := (*recorded)[0]
	if req.path != "/Library/Media/Updated" {
		t.Errorf("path = %q, want /Library/Media/Updated", req.path)
	}
	if req.token != "secret" {
		t.Errorf("token = %q, want secret", req.token)
	}
	updates, ok := req.body["Updates"].([]any)
	if !ok || len(updates) != 2 {
		t.Fatalf("Updates payload = %v, want 2 entries", req.body["Updates"])
	}
	first := updates[0].(map[string]any)
	if first["Path"] == "" || first["UpdateType"] == "" {
		t.Errorf("update entry missing fields: %v", first)
	}
}

func TestUpdate_EmptyBatchIsNoop(t *testing.T) {
	srv, recorded := newServer(t, http.StatusNoContent, "")
	c := mediaserver.New()

	if err := c.Update(context.Background(), nil, endpointFor(srv)); err != nil {
		t.Fatalf("Update(nil): %v", err)
	}
	if len(*recorded) != 0 {
		t.Fatalf("empty batch produced %d requests, want 0", len(*recorded))
	}
}

func TestUpdate_Non2xxIsError(t *testing.T) {
	srv, _ := newServer(t, http.StatusInternalServerError, "")
	c := mediaserver.New()

	err := c.Update(context.Background(),
		[]types.Item{{ID: "a", Path: "/tv/archer", Kind: types.UpdateModified}},
		endpointFor(srv))
	if err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestUpdate_UnreachableServer(t *testing.T) {
	c := mediaserver.New()
	ep := types.Endpoint{Name: "gone", URL: "http://127.0.0.1:1", APIKey: "k"}

	err := c.Update(context.Background(),
		[]types.Item{{ID: "a", Path: "/tv/archer", Kind: types.UpdateModified}}, ep)
	if err == nil {
		t.Fatal("expected error for unreachable server")
	}
}

// ─── TestConnection ──────────────────────────────────────────────────────────

func TestTestConnection_ReadsSystemInfo(t *testing.T) {
	srv, recorded := newServer(t, http.StatusOK,
		`{"ServerName":"den","Version":"4.8.0"}`)
	c := mediaserver.New()

	info, err := c.TestConnection(context.Background(), endpointFor(srv))
	if err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
	if info.ServerName != "den" || info.Version != "4.8.0" {
		t.Fatalf("info = %+v", info)
	}
	if (*recorded)[0].path != "/System/Info" {
		t.Errorf("path = %q, want /System/Info", (*recorded)[0].path)
	}
}

func TestTestConnection_RejectedKey(t *testing.T) {
	srv, _ := newServer(t, http.StatusUnauthorized, "")
	c := mediaserver.New()

	if _, err := c.TestConnection(context.Background(), endpointFor(srv)); err == nil {
		t.Fatal("expected error for 401 response")
	}
}

package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/CorentinB/Sonarr/internal/metrics"
)

// ─── labelCounter ─────────────────────────────────────────────────────────────

func TestRegistry_PipelineCounters(t *testing.T) {
	var reg metrics.Registry

	reg.Enqueued.Inc("living-room")
	reg.Enqueued.Inc("living-room")
	reg.ItemsSynced.Add("living-room", 3)

	got := int64(0)
	reg.Enqueued.Each(func(k string, v int64) {
		if k == "living-room" {
			got = v
		}
	})
	if got != 2 {
		t.Fatalf("Enqueued count = %d, want 2", got)
	}

	synced := int64(0)
	reg.ItemsSynced.Each(func(k string, v int64) {
		if k == "living-room" {
			synced = v
		}
	})
	if synced != 3 {
		t.Fatalf("ItemsSynced count = %d, want 3", synced)
	}
}

func TestRegistry_HTTPCounters(t *testing.T) {
	var reg metrics.Registry

	reqKey := metrics.HTTPKey("POST", "/endpoints/living-room/items", "202")
	durKey := metrics.HTTPDurKey("POST", "/endpoints/living-room/items")

	reg.HTTPReqs.Inc(reqKey)
	reg.HTTPReqs.Inc(reqKey)
	reg.HTTPDurMs.Add(durKey, 42)
	reg.HTTPDurMs.Add(durKey, 18)
	reg.HTTPDurCnt.Inc(durKey)
	reg.HTTPDurCnt.Inc(durKey)

	reqCount := int64(0)
	reg.HTTPReqs.Each(func(k string, v int64) {
		if k == reqKey {
			reqCount = v
		}
	})
	if reqCount != 2 {
		t.Fatalf("HTTPReqs count = %d, want 2", reqCount)
	}

	durSum := int64(0)
	reg.HTTPDurMs.Each(func(k string, v int64) {
		if k == durKey {
			durSum = v
		}
	})
	if durSum != 60 {
		t.Fatalf("HTTPDurMs sum = %d, want 60", durSum)
	}
}

// ─── Prometheus output format ─────────────────────────────────────────────────

func scrape(t *testing.T, reg *metrics.Registry) string {
	t.Helper()
	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

func mustContain(t *testing.T, body, want string) {
	t.Helper()
	if !strings.Contains(body, want) {
		t.Errorf("metrics output missing %q:\n%s", want, body)
	}
}

func TestHandler_ContentType(t *testing.T) {
	var reg metrics.Registry
	reg.Enqueued.Inc("living-room")

	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(ct, "text/plain") {
		t.Fatalf("Content-Type = %q, want text/plain", ct)
	}
}

func TestHandler_EmptyRegistry(t *testing.T) {
	var reg metrics.Registry
	body := scrape(t, &reg)
	if body != "" {
		t.Fatalf("expected empty body for empty registry, got:\n%s", body)
	}
}

func TestHandler_EndpointCounters(t *testing.T) {
	var reg metrics.Registry

	reg.Enqueued.Inc("living-room")
	reg.Enqueued.Add("living-room", 4)
	reg.Drains.Inc("bedroom")
	reg.SinkErrors.Inc("bedroom")

	body := scrape(t, &reg)

	mustContain(t, body, "# HELP sonarr_sync_items_enqueued_total")
	mustContain(t, body, "# TYPE sonarr_sync_items_enqueued_total counter")
	mustContain(t, body, `sonarr_sync_items_enqueued_total{endpoint="living-room"} 5`)
	mustContain(t, body, `sonarr_sync_drains_total{endpoint="bedroom"} 1`)
	mustContain(t, body, `sonarr_sync_sink_errors_total{endpoint="bedroom"} 1`)
}

func TestHandler_HTTPFamilies(t *testing.T) {
	var reg metrics.Registry

	reg.HTTPReqs.Inc(metrics.HTTPKey("GET", "/health", "200"))
	reg.HTTPDurMs.Add(metrics.HTTPDurKey("GET", "/health"), 7)
	reg.HTTPDurCnt.Inc(metrics.HTTPDurKey("GET", "/health"))

	body := scrape(t, &reg)

	mustContain(t, body, "sonarr_sync_http_requests_total")
	mustContain(t, body, `method="GET",path="/health",status="200"`)
	mustContain(t, body, "sonarr_sync_http_request_duration_milliseconds_sum")
	mustContain(t, body, "sonarr_sync_http_request_duration_milliseconds_count")
}

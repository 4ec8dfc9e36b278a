package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/CorentinB/Sonarr/internal/scheduler"
	"github.com/CorentinB/Sonarr/internal/types"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

// fakeSource serves a fixed endpoint list.
type fakeSource struct {
	mu  sync.Mutex
	eps []types.Endpoint
	err error
}

func (f *fakeSource) List() ([]types.Endpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.eps, f.err
}

// countingDrainer records every Drain call in a concurrency-safe way.
type countingDrainer struct {
	mu    sync.Mutex
	calls []string // endpoint names in call order
	err   error
}

func (d *countingDrainer) Drain(_ context.Context, ep types.Endpoint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, ep.Name)
	return d.err
}

func (d *countingDrainer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

// waitForCount polls until n drain calls have been recorded or timeout elapses.
func waitForCount(t *testing.T, d *countingDrainer, n int, timeout time.Duration) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if d.count() >= n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func twoEndpoints() []types.Endpoint {
	return []types.Endpoint{
		{Name: "living-room", URL: "http://a:8096", APIKey: "k", UpdateLibrary: true},
		{Name: "bedroom", URL: "http://b:8096", APIKey: "k", UpdateLibrary: true},
	}
}

// ─── Tests ───────────────────────────────────────────────────────────────────

func TestScheduler_TicksEveryEndpoint(t *testing.T) {
	src := &fakeSource{eps: twoEndpoints()}
	d := &countingDrainer{}

	s := scheduler.New(20*time.Millisecond, src, d)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	// Two endpoints per tick; expect at least two full ticks within 2s.
	if !waitForCount(t, d, 4, 2*time.Second) {
		t.Fatalf("expected ≥4 drain calls, got %d", d.count())
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	seen := map[string]bool{}
	for _, name := range d.calls {
		seen[name] = true
	}
	if !seen["living-room"] || !seen["bedroom"] {
		t.Fatalf("not all endpoints drained: %v", d.calls)
	}
}

func TestScheduler_Kick_RunsTickEarly(t *testing.T) {
	src := &fakeSource{eps: twoEndpoints()}
	d := &countingDrainer{}

	// Interval far beyond the test's lifetime: only Kick can trigger a tick.
	s := scheduler.New(time.Hour, src, d)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	s.Kick()
	if !waitForCount(t, d, 2, 2*time.Second) {
		t.Fatalf("Kick produced %d drain calls, want 2", d.count())
	}
}

func TestScheduler_DrainErrorDoesNotStopOthers(t *testing.T) {
	src := &fakeSource{eps: twoEndpoints()}
	d := &countingDrainer{err: errors.New("sink down")}

	s := scheduler.New(time.Hour, src, d)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	s.Kick()
	// Both endpoints are attempted even though every drain fails.
	if !waitForCount(t, d, 2, 2*time.Second) {
		t.Fatalf("failing drain stopped the tick early: %d calls", d.count())
	}
}

func TestScheduler_StopHaltsTicking(t *testing.T) {
	src := &fakeSource{eps: twoEndpoints()}
	d := &countingDrainer{}

	s := scheduler.New(10*time.Millisecond, src, d)
	s.Start(context.Background())

	waitForCount(t, d, 2, 2*time.Second)
	s.Stop()

	after := d.count()
	time.Sleep(50 * time.Millisecond)
	if d.count() != after {
		t.Fatalf("drains continued after Stop: %d → %d", after, d.count())
	}

	// Stop is idempotent.
	s.Stop()
}

func TestScheduler_SourceErrorSkipsTick(t *testing.T) {
	src := &fakeSource{err: errors.New("db closed")}
	d := &countingDrainer{}

	s := scheduler.New(time.Hour, src, d)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	s.Kick()
	time.Sleep(50 * time.Millisecond)
	if d.count() != 0 {
		t.Fatalf("drains ran despite source error: %d", d.count())
	}
}

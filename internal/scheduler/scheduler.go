// Package scheduler drives periodic drains of the pending-update queues.
//
// At a fixed cadence it lists every registered endpoint and invokes Drain
// for each one. Drain is idempotent and cheap when nothing is pending, so
// the driver never tracks which endpoints have work — it just ticks.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/CorentinB/Sonarr/internal/types"
)

// Source lists the endpoints eligible for draining on each tick.
// The registry satisfies this.
type Source interface {
	List() ([]types.Endpoint, error)
}

// Drainer hands an endpoint's pending items to the sink.
// The updater satisfies this.
type Drainer interface {
	Drain(ctx context.Context, ep types.Endpoint) error
}

// Scheduler ticks drains at a fixed interval.
//
// Usage:
//
//	s := scheduler.New(time.Minute, reg, upd)
//	s.Start(ctx)
//	defer s.Stop()
//
// All methods are safe for concurrent use.
type Scheduler struct {
	interval time.Duration
	src      Source
	drainer  Drainer

	// notify is a buffered channel of capacity 1. Kick() sends a signal to
	// run a tick ahead of schedule; a pending signal means one is already
	// coming, so further sends are dropped.
	notify chan struct{}

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a Scheduler. Call Start to begin ticking.
func New(interval time.Duration, src Source, drainer Drainer) *Scheduler {
	return &Scheduler{
		interval: interval,
		src:      src,
		drainer:  drainer,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start launches the background tick goroutine.
// Start must be called exactly once.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop shuts down the tick goroutine and waits for it to exit.
// A drain in progress finishes first.
func (s *Scheduler) Stop() {
	select {
	case <-s.done:
		// already stopped
	default:
		close(s.done)
	}
	s.wg.Wait()
}

// Kick requests a tick ahead of schedule. Non-blocking; if a kick is already
// pending this is a no-op.
func (s *Scheduler) Kick() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// ─── tick goroutine ──────────────────────────────────────────────────────────

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.tick(ctx)
		case <-s.notify:
			s.tick(ctx)
		}
	}
}

// tick drains every registered endpoint once. A failing endpoint is logged
// and skipped — it stays eligible for the next tick — and never blocks the
// drains of other endpoints beyond its own sink call.
func (s *Scheduler) tick(ctx context.Context) {
	eps, err := s.src.List()
	if err != nil {
		slog.Warn("scheduler: list endpoints", "err", err)
		return
	}
	for _, ep := range eps {
		if err := s.drainer.Drain(ctx, ep); err != nil {
			slog.Warn("scheduler: drain failed",
				"endpoint", ep.Name,
				"err", err,
			)
		}
	}
}

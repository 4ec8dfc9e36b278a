// Package updater coalesces high-frequency library change notifications into
// infrequent bulk refresh calls against each media server endpoint.
//
// Producers call Enqueue whenever an item changes; changes accumulate,
// deduplicated by item ID, in a per-endpoint pending queue. A drain driver
// periodically calls Drain, which claims the endpoint's queue (at most one
// drain runs per endpoint at a time) and hands batches to the Sink until
// nothing is left — including items that arrived while a sink call was in
// flight.
//
// Data flow:
//
//	Producer → Updater.Enqueue → pendingQueue (per endpoint, TTL-expiring)
//	Driver   → Updater.Drain   → snapshot-and-clear → Sink.Update → repeat
package updater

import (
	"context"
	"sync"
	"time"

	"github.com/CorentinB/Sonarr/internal/metrics"
	"github.com/CorentinB/Sonarr/internal/ttlmap"
	"github.com/CorentinB/Sonarr/internal/types"
)

// PendingTTL is how long an endpoint's pending queue survives without a
// write before the store may evict it. Eviction silently discards pending
// items; accepted data loss after a day of inactivity, not an error.
const PendingTTL = 24 * time.Hour

// Sink performs the actual bulk synchronization against a media server.
//
// Update is called without any updater lock held and may take arbitrarily
// long; Enqueue for the same endpoint keeps succeeding while it runs.
// Failures are propagated to the Drain caller, never retried here — a sink
// that needs delivery guarantees must be idempotent and retry itself.
type Sink interface {
	Update(ctx context.Context, items []types.Item, ep types.Endpoint) error
}

// pendingQueue is the per-endpoint record: the deduplicated set of changed
// items plus the single-flight drain flag. Both fields are guarded by the
// owning Updater's mutex.
type pendingQueue struct {
	// pending maps item ID → latest known item (last write wins).
	pending map[string]types.Item

	// draining is true while one Drain invocation owns this queue.
	draining bool
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{pending: make(map[string]types.Item)}
}

// ─── Option / functional options ─────────────────────────────────────────────

// Option is a functional option for the Updater.
type Option func(*Updater)

// WithMetrics attaches a metrics.Registry so that enqueue, coalesce, and
// drain activity increments the relevant counters.
func WithMetrics(reg *metrics.Registry) Option {
	return func(u *Updater) { u.metrics = reg }
}

// WithTTL overrides the pending-queue idle TTL. Intended for tests.
func WithTTL(ttl time.Duration) Option {
	return func(u *Updater) { u.ttl = ttl }
}

// ─── Updater ─────────────────────────────────────────────────────────────────

// Updater owns all per-endpoint pending queues.
//
// Locking: mu guards the contents (pending map, draining flag) of every
// queue record; the ttlmap has its own internal lock covering only map
// membership and deadlines. mu is never held across a Sink call.
//
// All methods are safe for concurrent use.
type Updater struct {
	sink Sink
	ttl  time.Duration

	mu     sync.Mutex
	queues *ttlmap.Map[string, *pendingQueue]

	metrics *metrics.Registry
}

// New creates an Updater that hands batches to sink.
// Call Close when the updater is no longer needed.
func New(sink Sink, opts ...Option) *Updater {
	u := &Updater{
		sink:   sink,
		ttl:    PendingTTL,
		queues: ttlmap.New[string, *pendingQueue](),
	}
	for _, o := range opts {
		o(u)
	}
	return u
}

// Close stops the pending-store sweeper. Pending items are discarded.
func (u *Updater) Close() {
	u.queues.Close()
}

// Enqueue records that it changed on ep's library. A later call with the
// same item ID overwrites the earlier value, so an item changed twice before
// a drain is synchronized once, with its latest state.
//
// Enqueue never blocks on the sink and never inspects the drain flag. When
// library updates are disabled for ep the change is dropped.
func (u *Updater) Enqueue(ep types.Endpoint, it types.Item) {
	if !ep.UpdateLibrary {
		return
	}

	u.mu.Lock()
	q := u.queues.GetOrCreate(ep.Name, u.ttl, newPendingQueue)
	_, overwrite := q.pending[it.ID]
	q.pending[it.ID] = it
	u.mu.Unlock()

	if u.metrics != nil {
		u.metrics.Enqueued.Inc(ep.Name)
		if overwrite {
			u.metrics.Coalesced.Inc(ep.Name)
		}
	}
}

// Drain hands every pending item for ep to the sink, looping until none
// remain, so items enqueued during a sink call are still delivered before
// Drain returns rather than waiting for the next driver tick.
//
// At most one Drain invocation runs per endpoint at a time: overlapping
// calls return immediately as no-ops. Calling Drain on an endpoint with no
// pending queue is a cheap no-op, so drivers may call it unconditionally.
//
// When library updates are disabled for ep the loop still clears pending
// state but skips the sink call. A sink failure is returned to the caller;
// the already-cleared batch is dropped, and the endpoint stays eligible for
// future drains.
func (u *Updater) Drain(ctx context.Context, ep types.Endpoint) error {
	u.mu.Lock()
	q, ok := u.queues.Find(ep.Name)
	if !ok || q.draining {
		u.mu.Unlock()
		return nil
	}
	q.draining = true
	u.queues.Put(ep.Name, q, u.ttl)
	u.mu.Unlock()

	// Release is scoped to the record this invocation claimed. If the store
	// evicts the entry and a fresh record takes its place mid-drain, the
	// replacement's flag is not ours to clear; resetting the stale record is
	// a harmless no-op on a discarded object.
	defer func() {
		u.mu.Lock()
		q.draining = false
		u.mu.Unlock()
	}()

	if u.metrics != nil {
		u.metrics.Drains.Inc(ep.Name)
	}

	for {
		u.mu.Lock()
		if len(q.pending) == 0 {
			u.mu.Unlock()
			return nil
		}
		batch := make([]types.Item, 0, len(q.pending))
		for _, it := range q.pending {
			batch = append(batch, it)
		}
		q.pending = make(map[string]types.Item)
		u.mu.Unlock()

		if !ep.UpdateLibrary {
			if u.metrics != nil {
				u.metrics.Discarded.Add(ep.Name, int64(len(batch)))
			}
			continue
		}

		if err := u.sink.Update(ctx, batch, ep); err != nil {
			if u.metrics != nil {
				u.metrics.SinkErrors.Inc(ep.Name)
			}
			return err
		}

		if u.metrics != nil {
			u.metrics.Batches.Inc(ep.Name)
			u.metrics.ItemsSynced.Add(ep.Name, int64(len(batch)))
		}
	}
}

// ─── Introspection ───────────────────────────────────────────────────────────

// QueueStat is a point-in-time view of one endpoint's pending queue.
type QueueStat struct {
	Endpoint string `json:"endpoint"`
	Pending  int    `json:"pending"`
	Draining bool   `json:"draining"`
}

// Pending returns the number of items currently queued for the endpoint key.
func (u *Updater) Pending(key string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	q, ok := u.queues.Find(key)
	if !ok {
		return 0
	}
	return len(q.pending)
}

// Stats returns a snapshot of every live pending queue.
func (u *Updater) Stats() []QueueStat {
	keys := u.queues.Keys()

	u.mu.Lock()
	defer u.mu.Unlock()

	out := make([]QueueStat, 0, len(keys))
	for _, k := range keys {
		q, ok := u.queues.Find(k)
		if !ok {
			continue
		}
		out = append(out, QueueStat{Endpoint: k, Pending: len(q.pending), Draining: q.draining})
	}
	return out
}

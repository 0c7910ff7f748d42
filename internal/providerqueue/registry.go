package providerqueue

import (
	"context"
	"sync"
)

// Registry owns one Queue per queue_group, created lazily on first use so a
// provider adapter never has to coordinate bootstrap order with whatever
// config declared the group.
type Registry struct {
	mu      sync.Mutex
	ctx     context.Context
	opts    func(group string) Options
	queues  map[string]*Queue
}

// NewRegistry constructs a Registry. optsFor resolves per-group options
// (min interval, jitter, retries, backoff) from config; ctx is the parent
// context each lazily-created Queue starts under.
func NewRegistry(ctx context.Context, optsFor func(group string) Options) *Registry {
	return &Registry{ctx: ctx, opts: optsFor, queues: make(map[string]*Queue, 4)}
}

// Get returns the Queue for group, creating and starting it on first call.
func (r *Registry) Get(group string) *Queue {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.queues[group]; ok {
		return q
	}
	opts := Options{MinIntervalSec: 1, JitterSec: 0, MaxRetries: 2, BackoffSec: 5}
	if r.opts != nil {
		opts = r.opts(group)
	}
	q := New(group, opts)
	q.Start(r.ctx)
	r.queues[group] = q
	return q
}

// Stats returns a snapshot of every queue group created so far, for the
// Control API's provider-queue observability surface.
func (r *Registry) Stats() map[string]Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Stats, len(r.queues))
	for name, q := range r.queues {
		out[name] = q.Stats()
	}
	return out
}

// Stop stops every created queue.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, q := range r.queues {
		q.Stop()
	}
}

// Package admission provides per-client admission control with burst,
// per-minute and per-hour limits.
package admission

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/InnoDataNiako/sentra-fraud-detection/internal/metrics"
)

const (
	shardCount = 64

	// sweepBatch bounds how many other idle clients a single Allow inspects.
	sweepBatch = 4

	// windowRetryAfter is returned for minute and hour rejections.
	windowRetryAfter = 60
)

// Rejection windows, used as metric labels.
const (
	WindowBurst  = "burst"
	WindowMinute = "minute"
	WindowHour   = "hour"
)

// Limits configures a Controller.
type Limits struct {
	Burst           int
	PerMinute       int
	PerHour         int
	BurstRetryAfter int // seconds
}

// Controller is an in-memory admission controller. Client entries are spread
// over fixed lock shards, so clients in different shards never contend and
// there is no global lock.
type Controller struct {
	limits Limits
	now    func() time.Time
	shards [shardCount]shard
}

type shard struct {
	mu      sync.Mutex
	clients map[string]*window
}

// window holds one client's state. hits is sorted by time and covers the
// last hour; the minute count is derived from its tail.
type window struct {
	inFlight int
	hits     []time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// NewController creates an in-memory controller.
func NewController(limits Limits, opts ...Option) *Controller {
	if limits.BurstRetryAfter <= 0 {
		limits.BurstRetryAfter = 1
	}
	c := &Controller{
		limits: limits,
		now:    time.Now,
	}
	for i := range c.shards {
		c.shards[i].clients = make(map[string]*window)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Allow admits the request when none of the three limits is exhausted.
// Check and increment happen under the client's shard lock.
func (c *Controller) Allow(_ context.Context, clientKey string) (bool, int) {
	now := c.now()
	s := c.shardFor(clientKey)

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.clients[clientKey]
	if !ok {
		w = &window{}
		s.clients[clientKey] = w
	}
	w.prune(now)

	rejected := ""
	retryAfter := 0
	switch {
	case w.countSince(now.Add(-time.Minute)) >= c.limits.PerMinute:
		rejected, retryAfter = WindowMinute, windowRetryAfter
	case len(w.hits) >= c.limits.PerHour:
		rejected, retryAfter = WindowHour, windowRetryAfter
	case w.inFlight >= c.limits.Burst:
		rejected, retryAfter = WindowBurst, c.limits.BurstRetryAfter
	}

	if rejected != "" {
		if w.empty() {
			delete(s.clients, clientKey)
		}
		metrics.AdmissionRejectionsTotal.WithLabelValues(rejected).Inc()
		return false, retryAfter
	}

	w.inFlight++
	w.hits = append(w.hits, now)
	metrics.AdmissionInFlight.Inc()

	s.sweep(now, clientKey)
	return true, 0
}

// Release ends an admitted request. Unmatched releases are ignored.
func (c *Controller) Release(clientKey string) {
	now := c.now()
	s := c.shardFor(clientKey)

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.clients[clientKey]
	if !ok || w.inFlight == 0 {
		return
	}
	w.inFlight--
	metrics.AdmissionInFlight.Dec()

	w.prune(now)
	if w.empty() {
		delete(s.clients, clientKey)
	}
}

// Remaining returns how many more requests the client may start now.
func (c *Controller) Remaining(clientKey string) int {
	now := c.now()
	s := c.shardFor(clientKey)

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.clients[clientKey]
	if !ok {
		return min(c.limits.PerMinute, c.limits.PerHour, c.limits.Burst)
	}
	w.prune(now)
	return max(0, min(
		c.limits.PerMinute-w.countSince(now.Add(-time.Minute)),
		c.limits.PerHour-len(w.hits),
		c.limits.Burst-w.inFlight,
	))
}

// Limit returns the per-minute limit.
func (c *Controller) Limit() int {
	return c.limits.PerMinute
}

// Len returns the number of tracked clients.
func (c *Controller) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		n += len(s.clients)
		s.mu.Unlock()
	}
	return n
}

func (c *Controller) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &c.shards[h.Sum32()%shardCount]
}

// sweep evicts up to sweepBatch idle clients from the shard. Caller holds s.mu.
func (s *shard) sweep(now time.Time, skip string) {
	checked := 0
	for key, w := range s.clients {
		if checked == sweepBatch {
			return
		}
		if key == skip {
			continue
		}
		checked++
		w.prune(now)
		if w.empty() {
			delete(s.clients, key)
		}
	}
}

// prune drops hits older than one hour.
func (w *window) prune(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := sort.Search(len(w.hits), func(i int) bool {
		return w.hits[i].After(cutoff)
	})
	if i == 0 {
		return
	}
	if i == len(w.hits) {
		w.hits = nil
		return
	}
	w.hits = append(w.hits[:0:0], w.hits[i:]...)
}

// countSince counts hits strictly after t.
func (w *window) countSince(t time.Time) int {
	i := sort.Search(len(w.hits), func(i int) bool {
		return w.hits[i].After(t)
	})
	return len(w.hits) - i
}

func (w *window) empty() bool {
	return w.inFlight == 0 && len(w.hits) == 0
}

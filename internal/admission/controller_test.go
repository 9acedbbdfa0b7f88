package admission

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/InnoDataNiako/sentra-fraud-detection/internal/domain"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func defaultLimits() Limits {
	return Limits{Burst: 20, PerMinute: 120, PerHour: 2000, BurstRetryAfter: 1}
}

func TestControllerMinuteLimit(t *testing.T) {
	clock := newFakeClock()
	c := NewController(defaultLimits(), WithClock(clock.Now))
	ctx := context.Background()

	t.Run("121stCallRejected", func(t *testing.T) {
		for i := 1; i <= 120; i++ {
			ok, retry := c.Allow(ctx, "client-a")
			if !ok {
				t.Fatalf("call %d rejected (retryAfter=%d)", i, retry)
			}
			c.Release("client-a")
			clock.Advance(100 * time.Millisecond)
		}

		ok, retry := c.Allow(ctx, "client-a")
		if ok {
			t.Fatal("call 121 should be rejected")
		}
		if retry != 60 {
			t.Errorf("expected retryAfter 60, got %d", retry)
		}
	})

	t.Run("OtherClientsUnaffected", func(t *testing.T) {
		ok, _ := c.Allow(ctx, "client-b")
		if !ok {
			t.Fatal("client-b should be admitted")
		}
		c.Release("client-b")
	})

	t.Run("WindowSlides", func(t *testing.T) {
		clock.Advance(61 * time.Second)
		ok, _ := c.Allow(ctx, "client-a")
		if !ok {
			t.Fatal("client-a should be admitted once the minute has passed")
		}
		c.Release("client-a")
	})
}

func TestControllerHourLimit(t *testing.T) {
	clock := newFakeClock()
	c := NewController(Limits{Burst: 5, PerMinute: 10, PerHour: 25}, WithClock(clock.Now))
	ctx := context.Background()

	admitted := 0
	for i := 0; i < 30; i++ {
		if ok, _ := c.Allow(ctx, "client"); ok {
			admitted++
			c.Release("client")
		}
		clock.Advance(7 * time.Second)
	}

	if admitted != 25 {
		t.Fatalf("expected 25 admitted within the hour, got %d", admitted)
	}

	ok, retry := c.Allow(ctx, "client")
	if ok {
		t.Fatal("expected hour limit rejection")
	}
	if retry != 60 {
		t.Errorf("expected retryAfter 60, got %d", retry)
	}

	clock.Advance(time.Hour)
	if ok, _ := c.Allow(ctx, "client"); !ok {
		t.Error("expected admission after the hour window drained")
	}
}

func TestControllerBurst(t *testing.T) {
	ctx := context.Background()

	t.Run("RejectsBeyondBurst", func(t *testing.T) {
		c := NewController(Limits{Burst: 3, PerMinute: 100, PerHour: 1000, BurstRetryAfter: 2})

		for i := 0; i < 3; i++ {
			if ok, _ := c.Allow(ctx, "client"); !ok {
				t.Fatalf("request %d should be admitted", i+1)
			}
		}

		ok, retry := c.Allow(ctx, "client")
		if ok {
			t.Fatal("fourth concurrent request should be rejected")
		}
		if retry != 2 {
			t.Errorf("expected burst retryAfter 2, got %d", retry)
		}

		c.Release("client")
		if ok, _ := c.Allow(ctx, "client"); !ok {
			t.Error("released slot should be reusable")
		}
	})

	t.Run("ConcurrentInFlightNeverExceedsBurst", func(t *testing.T) {
		const burst = 5
		c := NewController(Limits{Burst: burst, PerMinute: 100000, PerHour: 100000})

		var inFlight, peak, admitted atomic.Int32
		var wg sync.WaitGroup

		for g := 0; g < 50; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 40; i++ {
					ok, _ := c.Allow(ctx, "shared")
					if !ok {
						continue
					}
					admitted.Add(1)
					n := inFlight.Add(1)
					for {
						p := peak.Load()
						if n <= p || peak.CompareAndSwap(p, n) {
							break
						}
					}
					time.Sleep(50 * time.Microsecond)
					inFlight.Add(-1)
					c.Release("shared")
				}
			}()
		}
		wg.Wait()

		if peak.Load() > burst {
			t.Fatalf("observed %d in-flight requests, burst is %d", peak.Load(), burst)
		}
		if admitted.Load() == 0 {
			t.Fatal("expected some requests to be admitted")
		}
	})
}

func TestControllerEviction(t *testing.T) {
	clock := newFakeClock()
	c := NewController(defaultLimits(), WithClock(clock.Now))
	ctx := context.Background()

	if ok, _ := c.Allow(ctx, "idle"); !ok {
		t.Fatal("expected admission")
	}
	c.Release("idle")

	if c.Len() != 1 {
		t.Fatalf("expected 1 tracked client, got %d", c.Len())
	}

	// Once the hour has passed, the next release on the same client drops it.
	clock.Advance(time.Hour + time.Second)
	if ok, _ := c.Allow(ctx, "idle"); !ok {
		t.Fatal("expected admission")
	}
	clock.Advance(time.Hour + time.Second)
	c.Release("idle")

	if c.Len() != 0 {
		t.Errorf("expected idle client to be evicted, %d tracked", c.Len())
	}
}

func TestShardSweep(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-2 * time.Hour)

	s := &shard{clients: map[string]*window{
		"idle-1": {hits: []time.Time{old}},
		"idle-2": {hits: []time.Time{old, old.Add(time.Second)}},
		"busy":   {inFlight: 1, hits: []time.Time{old}},
		"self":   {hits: []time.Time{old}},
	}}

	s.sweep(now, "self")

	if _, ok := s.clients["idle-1"]; ok {
		t.Error("idle-1 should be evicted")
	}
	if _, ok := s.clients["idle-2"]; ok {
		t.Error("idle-2 should be evicted")
	}
	if _, ok := s.clients["busy"]; !ok {
		t.Error("client with in-flight request must be kept")
	}
	if _, ok := s.clients["self"]; !ok {
		t.Error("skipped key must be kept")
	}
}

func TestControllerUnmatchedRelease(t *testing.T) {
	c := NewController(defaultLimits())

	// Must not panic or go negative.
	c.Release("never-admitted")

	if got := c.Remaining("never-admitted"); got != 20 {
		t.Errorf("expected remaining 20, got %d", got)
	}
}

func TestNew(t *testing.T) {
	t.Run("MemoryBackend", func(t *testing.T) {
		a, err := New(domain.AdmissionConfig{Backend: "memory", Burst: 1, PerMinute: 1, PerHour: 1})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if _, ok := a.(*Controller); !ok {
			t.Errorf("expected *Controller, got %T", a)
		}
	})

	t.Run("UnsupportedBackend", func(t *testing.T) {
		if _, err := New(domain.AdmissionConfig{Backend: "memcached"}); err == nil {
			t.Error("expected error for unsupported backend")
		}
	})
}

package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCheckCountsDownThenDenies(t *testing.T) {
	clock := newFakeClock(time.Unix(1700000000, 0))
	lim := New(NewMemoryStore(), WithClock(clock.Now))
	policy := Policy{Tier: TierGeneral, MaxRequests: 3, Window: time.Minute}

	var firstReset time.Time
	for i := 0; i < 3; i++ {
		d, err := lim.Check(context.Background(), "general:userA", policy)
		if err != nil {
			t.Fatalf("check %d: %v", i+1, err)
		}
		if !d.Allowed {
			t.Fatalf("call %d: expected allowed", i+1)
		}
		if want := 2 - i; d.Remaining != want {
			t.Fatalf("call %d: remaining = %d, want %d", i+1, d.Remaining, want)
		}
		if i == 0 {
			firstReset = d.ResetAt
		} else if !d.ResetAt.Equal(firstReset) {
			t.Fatalf("call %d: resetAt moved within window", i+1)
		}
	}

	d, err := lim.Check(context.Background(), "general:userA", policy)
	if err != nil {
		t.Fatalf("4th check: %v", err)
	}
	if d.Allowed {
		t.Fatal("4th call: expected denial")
	}
	if d.Remaining != 0 {
		t.Fatalf("4th call: remaining = %d, want 0", d.Remaining)
	}
	if !d.ResetAt.Equal(firstReset) {
		t.Fatal("denial extended the window")
	}
}

func TestCheckIsolatesIdentifiers(t *testing.T) {
	clock := newFakeClock(time.Unix(1700000000, 0))
	lim := New(NewMemoryStore(), WithClock(clock.Now))
	policy := Policy{Tier: TierGeneral, MaxRequests: 2, Window: time.Minute}

	for i := 0; i < 3; i++ {
		if _, err := lim.Check(context.Background(), "general:userA", policy); err != nil {
			t.Fatalf("userA check: %v", err)
		}
	}

	d, err := lim.Check(context.Background(), "general:userB", policy)
	if err != nil {
		t.Fatalf("userB check: %v", err)
	}
	if !d.Allowed || d.Remaining != 1 {
		t.Fatalf("userB should be unaffected, got allowed=%v remaining=%d", d.Allowed, d.Remaining)
	}
}

func TestWindowResetsAfterExpiry(t *testing.T) {
	clock := newFakeClock(time.Unix(1700000000, 0))
	lim := New(NewMemoryStore(), WithClock(clock.Now))
	policy := Policy{Tier: TierAuth, MaxRequests: 2, Window: time.Minute}

	for i := 0; i < 3; i++ {
		_, _ = lim.Check(context.Background(), "auth:ip1", policy)
	}

	// Exactly at resetAt the window is already over (half-open interval).
	clock.Advance(time.Minute)
	d, err := lim.Check(context.Background(), "auth:ip1", policy)
	if err != nil {
		t.Fatalf("check after expiry: %v", err)
	}
	if !d.Allowed {
		t.Fatal("expected fresh window to allow")
	}
	if d.Remaining != 1 {
		t.Fatalf("remaining = %d, want 1", d.Remaining)
	}
	if !d.ResetAt.Equal(clock.Now().Add(time.Minute)) {
		t.Fatalf("unexpected new resetAt: %v", d.ResetAt)
	}
}

func TestConcurrentChecksLoseNoUpdates(t *testing.T) {
	clock := newFakeClock(time.Unix(1700000000, 0))
	lim := New(NewMemoryStore(), WithClock(clock.Now))
	policy := Policy{Tier: TierGeneral, MaxRequests: 50, Window: time.Minute}

	const callers = 100
	var wg sync.WaitGroup
	allowed := make(chan bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := lim.Check(context.Background(), "general:hot", policy)
			if err != nil {
				t.Errorf("check: %v", err)
				return
			}
			allowed <- d.Allowed
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for ok := range allowed {
		if ok {
			count++
		}
	}
	if count != policy.MaxRequests {
		t.Fatalf("allowed %d of %d concurrent calls, want exactly %d", count, callers, policy.MaxRequests)
	}
}

type failingStore struct{ err error }

func (f failingStore) Incr(context.Context, string, time.Duration, time.Time) (int64, time.Time, error) {
	return 0, time.Time{}, f.err
}

func TestStoreErrorFailsOpenByDefault(t *testing.T) {
	clock := newFakeClock(time.Unix(1700000000, 0))
	lim := New(failingStore{err: errors.New("connection refused")}, WithClock(clock.Now))
	policy := Policy{Tier: TierGeneral, MaxRequests: 10, Window: time.Minute}

	d, err := lim.Check(context.Background(), "general:userA", policy)
	if err == nil {
		t.Fatal("expected store error to surface")
	}
	if !d.Allowed {
		t.Fatal("default fail mode should allow")
	}
	if d.Remaining != 9 {
		t.Fatalf("remaining = %d, want 9", d.Remaining)
	}
}

func TestStoreErrorFailsClosedWhenConfigured(t *testing.T) {
	clock := newFakeClock(time.Unix(1700000000, 0))
	lim := New(failingStore{err: errors.New("connection refused")},
		WithClock(clock.Now), WithFailMode(FailModeDeny))
	policy := Policy{Tier: TierAuth, MaxRequests: 5, Window: time.Minute}

	d, err := lim.Check(context.Background(), "auth:userA", policy)
	if err == nil {
		t.Fatal("expected store error to surface")
	}
	if d.Allowed {
		t.Fatal("deny mode should reject on store error")
	}
	if d.Remaining != 0 {
		t.Fatalf("remaining = %d, want 0", d.Remaining)
	}
}

func TestRetryAfterRoundsUp(t *testing.T) {
	now := time.Unix(1700000000, 0)
	d := Decision{ResetAt: now.Add(1500 * time.Millisecond)}
	if got := d.RetryAfter(now); got != 2 {
		t.Fatalf("RetryAfter = %d, want 2", got)
	}
	if got := d.RetryAfter(now.Add(2 * time.Second)); got != 0 {
		t.Fatalf("RetryAfter past reset = %d, want 0", got)
	}
}

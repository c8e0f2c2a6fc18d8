package ratelimit

import (
	"context"
	"time"

	"lumora.app/internal/obs"
)

// CounterStore advances the fixed-window counter for a key and reports the
// new count together with the window expiry. The increment must be atomic
// per key; counters for distinct keys must not contend with each other.
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration, now time.Time) (count int64, resetAt time.Time, err error)
}

// Limiter applies fixed-window policies on top of a CounterStore.
type Limiter struct {
	store        CounterStore
	now          func() time.Time
	onStoreError FailMode
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Limiter) {
		if fn != nil {
			l.now = fn
		}
	}
}

// WithFailMode sets behavior on counter store errors. Default is
// FailModeAllow.
func WithFailMode(mode FailMode) Option {
	return func(l *Limiter) {
		if mode.Valid() {
			l.onStoreError = mode
		}
	}
}

// New constructs a Limiter over the given store.
func New(store CounterStore, opts ...Option) *Limiter {
	l := &Limiter{
		store:        store,
		now:          time.Now,
		onStoreError: FailModeAllow,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check records one request against the key's current window and decides
// whether it may proceed. The window is half-open: a request arriving at or
// after ResetAt starts a fresh window. Denials never extend the window.
//
// When the store is unreachable the returned Decision already reflects the
// configured FailMode; the error is returned alongside so callers and tests
// can observe the incident without changing the admission outcome.
func (l *Limiter) Check(ctx context.Context, key string, policy Policy) (Decision, error) {
	now := l.now()
	count, resetAt, err := l.store.Incr(ctx, key, policy.Window, now)
	if err != nil {
		obs.CountStoreError("ratelimit")
		obs.LogEvent("warn", "rate limit store unavailable", map[string]any{
			"key":   key,
			"tier":  policy.Tier,
			"mode":  string(l.onStoreError),
			"error": err.Error(),
		})
		return l.failDecision(policy, now), err
	}

	remaining := int64(policy.MaxRequests) - count
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{
		Allowed:   count <= int64(policy.MaxRequests),
		Limit:     policy.MaxRequests,
		Remaining: int(remaining),
		ResetAt:   resetAt,
	}
	obs.CountDecision(policy.Tier, d.Allowed)
	return d, nil
}

func (l *Limiter) failDecision(policy Policy, now time.Time) Decision {
	d := Decision{
		Limit:   policy.MaxRequests,
		ResetAt: now.Add(policy.Window),
	}
	if l.onStoreError == FailModeDeny {
		d.Allowed = false
		d.Remaining = 0
	} else {
		d.Allowed = true
		d.Remaining = policy.MaxRequests - 1
	}
	obs.CountDecision(policy.Tier, d.Allowed)
	return d
}

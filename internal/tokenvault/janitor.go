package tokenvault

import (
	"context"
	"sync"
	"time"

	"lumora.app/internal/obs"
)

const (
	defaultSweepInterval = 24 * time.Hour
	sweepTimeout         = 30 * time.Second
)

// cleaner is the slice of Vault the Janitor needs.
type cleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Janitor periodically purges expired refresh-token records. It runs on its
// own goroutine, shares no locks with the request path, and survives store
// errors by logging and waiting for the next tick. Overlapping sweeps are
// harmless: each delete is independently atomic and the predicate is
// naturally idempotent.
type Janitor struct {
	vault    cleaner
	interval time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// JanitorOption configures a Janitor.
type JanitorOption func(*Janitor)

// WithInterval overrides the sweep interval. Default is 24 hours.
func WithInterval(d time.Duration) JanitorOption {
	return func(j *Janitor) {
		if d > 0 {
			j.interval = d
		}
	}
}

// NewJanitor constructs a stopped Janitor over the vault.
func NewJanitor(vault cleaner, opts ...JanitorOption) *Janitor {
	j := &Janitor{
		vault:    vault,
		interval: defaultSweepInterval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Start launches the sweep loop. Calling Start more than once is a no-op.
func (j *Janitor) Start() {
	j.startOnce.Do(func() {
		go j.run()
	})
}

// Stop terminates the schedule and waits for the current sweep, if any, to
// finish. Safe to call multiple times and without a prior Start.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.stop) })
	// If Start never ran there is no loop to close done; consume the slot so
	// the wait below cannot hang.
	j.startOnce.Do(func() { close(j.done) })
	<-j.done
}

func (j *Janitor) run() {
	defer close(j.done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.sweep()
		case <-j.stop:
			return
		}
	}
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	removed, err := j.vault.CleanupExpired(ctx)
	obs.CountJanitorSweep(removed, err)
	if err != nil {
		obs.LogEvent("error", "token cleanup failed", map[string]any{"error": err.Error()})
		return
	}
	if removed > 0 {
		obs.LogEvent("info", "expired tokens removed", map[string]any{"removed": removed})
	}
}

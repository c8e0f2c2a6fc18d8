package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 64

type counterRecord struct {
	count   int64
	resetAt time.Time
}

type shard struct {
	mu       sync.Mutex
	counters map[string]*counterRecord
}

// MemoryStore keeps fixed-window counters in process memory. Keys are
// sharded so one hot identifier cannot stall unrelated traffic; updates
// within a shard are serialized by the shard mutex, which makes the
// per-key increment linearizable.
type MemoryStore struct {
	shards [shardCount]*shard
}

var _ CounterStore = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i] = &shard{counters: make(map[string]*counterRecord)}
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

// Incr advances the counter for key, starting a new window when none exists
// or the previous one has elapsed. Expired records are superseded in place;
// no separate expiry pass is needed.
func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration, now time.Time) (int64, time.Time, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.counters[key]
	if !ok || !now.Before(rec.resetAt) {
		rec = &counterRecord{count: 1, resetAt: now.Add(window)}
		sh.counters[key] = rec
		return rec.count, rec.resetAt, nil
	}
	rec.count++
	return rec.count, rec.resetAt, nil
}

// Len reports the number of live counter records, for diagnostics.
func (s *MemoryStore) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.counters)
		sh.mu.Unlock()
	}
	return total
}

package tokenvault

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps refresh-token records in process memory. Useful for
// tests and for running the API without a database.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*RefreshTokenRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*RefreshTokenRecord)}
}

func (s *MemoryStore) Insert(_ context.Context, rec *RefreshTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.TokenHash] = &cp
	return nil
}

func (s *MemoryStore) FindByHash(_ context.Context, hash string) (*RefreshTokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[hash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) RevokeByHash(_ context.Context, hash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[hash]
	if !ok || rec.RevokedAt != nil {
		return nil
	}
	rec.RevokedAt = &at
	return nil
}

func (s *MemoryStore) RevokeByUser(_ context.Context, userID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, rec := range s.records {
		if rec.UserID == userID && rec.RevokedAt == nil {
			rec.RevokedAt = &at
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for hash, rec := range s.records {
		if rec.ExpiresAt.Before(before) {
			delete(s.records, hash)
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored records, for tests.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

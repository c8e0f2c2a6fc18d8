package tokenvault

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestStoreRevokeCheck(t *testing.T) {
	store := NewMemoryStore()
	vault := New(store)
	ctx := context.Background()

	if err := vault.Store(ctx, "u1", "tok123"); err != nil {
		t.Fatalf("store: %v", err)
	}

	revoked, err := vault.IsRevoked(ctx, "tok123")
	if err != nil {
		t.Fatalf("isRevoked: %v", err)
	}
	if revoked {
		t.Fatal("fresh token should not be revoked")
	}

	if err := vault.Revoke(ctx, "tok123"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	revoked, err = vault.IsRevoked(ctx, "tok123")
	if err != nil {
		t.Fatalf("isRevoked after revoke: %v", err)
	}
	if !revoked {
		t.Fatal("expected token to be revoked")
	}

	// Revoking again is a no-op in effect.
	if err := vault.Revoke(ctx, "tok123"); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	revoked, _ = vault.IsRevoked(ctx, "tok123")
	if !revoked {
		t.Fatal("token should stay revoked")
	}
}

func TestUnknownTokenIsNotRevoked(t *testing.T) {
	vault := New(NewMemoryStore())
	revoked, err := vault.IsRevoked(context.Background(), "never-stored")
	if err != nil {
		t.Fatalf("isRevoked: %v", err)
	}
	if revoked {
		t.Fatal("unknown token must report not revoked")
	}
}

func TestRevokeAllSparesOtherUsers(t *testing.T) {
	vault := New(NewMemoryStore())
	ctx := context.Background()

	for _, tok := range []string{"t1", "t2", "t3"} {
		if err := vault.Store(ctx, "u1", tok); err != nil {
			t.Fatalf("store %s: %v", tok, err)
		}
	}
	if err := vault.Store(ctx, "u2", "t4"); err != nil {
		t.Fatalf("store t4: %v", err)
	}

	if err := vault.RevokeAll(ctx, "u1"); err != nil {
		t.Fatalf("revokeAll: %v", err)
	}
	for _, tok := range []string{"t1", "t2", "t3"} {
		revoked, _ := vault.IsRevoked(ctx, tok)
		if !revoked {
			t.Fatalf("%s should be revoked", tok)
		}
	}
	revoked, _ := vault.IsRevoked(ctx, "t4")
	if revoked {
		t.Fatal("other user's token must be unaffected")
	}

	// Repeat is safe.
	if err := vault.RevokeAll(ctx, "u1"); err != nil {
		t.Fatalf("repeated revokeAll: %v", err)
	}
}

func TestCleanupExpiredRemovesOnlyExpired(t *testing.T) {
	store := NewMemoryStore()
	start := time.Unix(1700000000, 0).UTC()
	vault := New(store, WithClock(fixedClock(start)), WithTTL(time.Hour))
	ctx := context.Background()

	if err := vault.Store(ctx, "u1", "old"); err != nil {
		t.Fatalf("store old: %v", err)
	}
	if err := vault.Revoke(ctx, "old"); err != nil {
		t.Fatalf("revoke old: %v", err)
	}

	later := New(store, WithClock(fixedClock(start.Add(30*time.Minute))), WithTTL(time.Hour))
	if err := later.Store(ctx, "u1", "fresh"); err != nil {
		t.Fatalf("store fresh: %v", err)
	}

	// Two hours in: "old" expired (revoked state is irrelevant), "fresh" not.
	sweep := New(store, WithClock(fixedClock(start.Add(2*time.Hour))))
	removed, err := sweep.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if store.Len() != 1 {
		t.Fatalf("store has %d records, want 1", store.Len())
	}

	// Surviving record behaves unchanged.
	revoked, err := sweep.IsRevoked(ctx, "fresh")
	if err != nil {
		t.Fatalf("isRevoked fresh: %v", err)
	}
	if revoked {
		t.Fatal("surviving token should not be revoked")
	}

	// Second pass with no new expirations is a no-op.
	removed, err = sweep.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("second cleanup: %v", err)
	}
	if removed != 0 {
		t.Fatalf("second cleanup removed %d, want 0", removed)
	}
}

type failingTokenStore struct{ err error }

func (f failingTokenStore) Insert(context.Context, *RefreshTokenRecord) error { return f.err }
func (f failingTokenStore) FindByHash(context.Context, string) (*RefreshTokenRecord, error) {
	return nil, f.err
}
func (f failingTokenStore) RevokeByHash(context.Context, string, time.Time) error { return f.err }
func (f failingTokenStore) RevokeByUser(context.Context, string, time.Time) (int64, error) {
	return 0, f.err
}
func (f failingTokenStore) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, f.err
}

func TestRevocationCheckFailsOpenByDefault(t *testing.T) {
	vault := New(failingTokenStore{err: errors.New("connection refused")})
	revoked, err := vault.IsRevoked(context.Background(), "tok")
	if err == nil {
		t.Fatal("expected store error to surface")
	}
	if revoked {
		t.Fatal("default fail mode should report not revoked")
	}
}

func TestRevocationCheckFailsClosedWhenConfigured(t *testing.T) {
	vault := New(failingTokenStore{err: errors.New("connection refused")},
		WithFailMode(FailModeDeny))
	revoked, err := vault.IsRevoked(context.Background(), "tok")
	if err == nil {
		t.Fatal("expected store error to surface")
	}
	if !revoked {
		t.Fatal("deny mode should report revoked on store error")
	}
}

func TestStoreWriteFailureIsReportedNotFatal(t *testing.T) {
	vault := New(failingTokenStore{err: errors.New("connection refused")})
	err := vault.Store(context.Background(), "u1", "tok")
	if err == nil {
		t.Fatal("expected insert error to be visible to callers")
	}
}

func TestHashTokenIsDeterministicAndOpaque(t *testing.T) {
	a := HashToken("tok123")
	b := HashToken("tok123")
	if a != b {
		t.Fatal("hash must be deterministic")
	}
	if a == "tok123" {
		t.Fatal("raw token must never appear as its own hash")
	}
	if len(a) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(a))
	}
	if HashToken("tok124") == a {
		t.Fatal("distinct tokens should hash differently")
	}
}

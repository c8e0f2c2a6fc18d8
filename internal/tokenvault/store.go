package tokenvault

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates no record exists for the given hash.
	ErrNotFound = errors.New("tokenvault: not found")
)

// RefreshTokenRecord is the persisted revocation state for one refresh
// token. Only the one-way hash of the token is ever stored; the vault is a
// revocation oracle, not a credential store.
type RefreshTokenRecord struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

// Revoked reports whether the record has been revoked. RevokedAt is
// monotonic: once set it stays set until the row is deleted.
func (r *RefreshTokenRecord) Revoked() bool {
	return r != nil && r.RevokedAt != nil
}

// Store describes persistence operations required by the vault. Every write
// is independently atomic, which keeps overlapping janitor cycles and racing
// revokes safe without cross-row coordination.
type Store interface {
	Insert(ctx context.Context, rec *RefreshTokenRecord) error
	FindByHash(ctx context.Context, hash string) (*RefreshTokenRecord, error)
	// RevokeByHash stamps revoked_at on the matching unrevoked record.
	// Revoking an already-revoked or unknown hash is a no-op.
	RevokeByHash(ctx context.Context, hash string, at time.Time) error
	// RevokeByUser stamps revoked_at on every unrevoked record of the user
	// and returns how many rows changed.
	RevokeByUser(ctx context.Context, userID string, at time.Time) (int64, error)
	// DeleteExpired removes every record whose expiry precedes the cutoff,
	// regardless of revocation state, and returns how many were removed.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

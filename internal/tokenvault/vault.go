package tokenvault

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"lumora.app/internal/obs"
)

const defaultTTL = 30 * 24 * time.Hour

// FailMode selects behavior when the durable store is unreachable during a
// revocation check. The read path sits on every token refresh, so this is an
// auditable security decision rather than a hidden default.
type FailMode string

const (
	// FailModeAllow treats an unreachable store as "not revoked".
	FailModeAllow FailMode = "allow"
	// FailModeDeny treats an unreachable store as "revoked".
	FailModeDeny FailMode = "deny"
)

// Valid reports whether the mode is one of the named values.
func (m FailMode) Valid() bool {
	return m == FailModeAllow || m == FailModeDeny
}

// Vault hashes, stores, checks and revokes refresh-token records. It is the
// sole authorized mutator of the refresh_tokens store.
type Vault struct {
	store        Store
	now          func() time.Time
	ttl          time.Duration
	onStoreError FailMode
}

// Option configures a Vault.
type Option func(*Vault)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(v *Vault) {
		if fn != nil {
			v.now = fn
		}
	}
}

// WithTTL sets the record lifetime applied on Store. Default is 30 days.
func WithTTL(ttl time.Duration) Option {
	return func(v *Vault) {
		if ttl > 0 {
			v.ttl = ttl
		}
	}
}

// WithFailMode sets behavior for revocation checks when the store errors.
// Default is FailModeAllow, mirroring the rate limiter's availability
// stance.
func WithFailMode(mode FailMode) Option {
	return func(v *Vault) {
		if mode.Valid() {
			v.onStoreError = mode
		}
	}
}

// New constructs a Vault over the given store.
func New(store Store, opts ...Option) *Vault {
	v := &Vault{
		store:        store,
		now:          time.Now,
		ttl:          defaultTTL,
		onStoreError: FailModeAllow,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// HashToken computes the deterministic one-way hash under which a raw token
// is tracked. Possession of the hash alone cannot forge a usable token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Store registers a freshly issued token for later revocation. The write is
// best-effort: a failure is logged and returned for observability, but
// callers on the issuance path must not fail the issuance because of it —
// the token stays usable, it just cannot be revoked later.
func (v *Vault) Store(ctx context.Context, userID, rawToken string) error {
	now := v.now().UTC()
	rec := &RefreshTokenRecord{
		TokenHash: HashToken(rawToken),
		UserID:    userID,
		ExpiresAt: now.Add(v.ttl),
		CreatedAt: now,
	}
	if err := v.store.Insert(ctx, rec); err != nil {
		obs.CountStoreError("tokenvault")
		obs.LogEvent("error", "refresh token registration failed", map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		})
		return err
	}
	return nil
}

// IsRevoked reports whether the token has been revoked. An unknown token is
// not revoked: tokens issued before the vault existed have no record, and
// treating "unknown" as revoked would lock out those sessions.
//
// On store failure the returned bool already reflects the configured
// FailMode; the error is returned alongside so the incident stays visible.
func (v *Vault) IsRevoked(ctx context.Context, rawToken string) (bool, error) {
	rec, err := v.store.FindByHash(ctx, HashToken(rawToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		obs.CountStoreError("tokenvault")
		obs.LogEvent("error", "revocation check failed", map[string]any{
			"mode":  string(v.onStoreError),
			"error": err.Error(),
		})
		return v.onStoreError == FailModeDeny, err
	}
	return rec.Revoked(), nil
}

// Revoke marks the token revoked. Revoking an already-revoked or
// never-stored token is a no-op.
func (v *Vault) Revoke(ctx context.Context, rawToken string) error {
	if err := v.store.RevokeByHash(ctx, HashToken(rawToken), v.now().UTC()); err != nil {
		obs.CountStoreError("tokenvault")
		obs.LogEvent("error", "token revoke failed", map[string]any{"error": err.Error()})
		return err
	}
	return nil
}

// RevokeAll revokes every live token of the user. Used on password change or
// suspected compromise; safe to call repeatedly.
func (v *Vault) RevokeAll(ctx context.Context, userID string) error {
	n, err := v.store.RevokeByUser(ctx, userID, v.now().UTC())
	if err != nil {
		obs.CountStoreError("tokenvault")
		obs.LogEvent("error", "bulk token revoke failed", map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		})
		return err
	}
	obs.LogEvent("info", "user tokens revoked", map[string]any{
		"user_id": userID,
		"revoked": n,
	})
	return nil
}

// CleanupExpired deletes every record past its expiry, revoked or not, and
// returns the number removed.
func (v *Vault) CleanupExpired(ctx context.Context) (int64, error) {
	return v.store.DeleteExpired(ctx, v.now().UTC())
}

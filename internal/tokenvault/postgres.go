package tokenvault

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Insert(ctx context.Context, rec *RefreshTokenRecord) error {
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(token_hash, user_id, expires_at, created_at) values($1,$2,$3,$4)`,
		rec.TokenHash, rec.UserID, rec.ExpiresAt, rec.CreatedAt,
	)
	return err
}

func (s *PGStore) FindByHash(ctx context.Context, hash string) (*RefreshTokenRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`select token_hash, user_id, expires_at, revoked_at, created_at from refresh_tokens where token_hash=$1`,
		hash,
	)
	var (
		rec     RefreshTokenRecord
		revoked sql.NullTime
	)
	if err := row.Scan(&rec.TokenHash, &rec.UserID, &rec.ExpiresAt, &revoked, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if revoked.Valid {
		t := revoked.Time
		rec.RevokedAt = &t
	}
	return &rec, nil
}

func (s *PGStore) RevokeByHash(ctx context.Context, hash string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked_at=$2 where token_hash=$1 and revoked_at is null`,
		hash, at,
	)
	return err
}

func (s *PGStore) RevokeByUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`update refresh_tokens set revoked_at=$2 where user_id=$1 and revoked_at is null`,
		userID, at,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PGStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from refresh_tokens where expires_at < $1`,
		before,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

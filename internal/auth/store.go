package auth

import "context"

// UserStore describes the persistence operations the auth service needs.
type UserStore interface {
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	Create(ctx context.Context, u *User) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}

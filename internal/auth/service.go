package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"lumora.app/internal/tokenvault"
)

const (
	defaultIssuer     = "lumora"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 30 * 24 * time.Hour

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Claims are the JWT claims used across the service.
type Claims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Service issues and verifies tokens and drives the vault through the
// credential lifecycle: issuance registers, rotation revokes-and-registers,
// logout revokes.
type Service struct {
	users UserStore
	vault *tokenvault.Vault

	secret     []byte
	issuer     string
	now        func() time.Time
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) {
		if v := strings.TrimSpace(issuer); v != "" {
			s.issuer = v
		}
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithRefreshTTL configures refresh token lifetime. Keep it aligned with the
// vault's record TTL so records outlive the tokens they track.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// NewService constructs the auth service. The HS256 signing secret is
// required.
func NewService(users UserStore, vault *tokenvault.Vault, secret string, opts ...ServiceOption) (*Service, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	s := &Service{
		users:      users,
		vault:      vault,
		secret:     []byte(secret),
		issuer:     defaultIssuer,
		now:        time.Now,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Login authenticates credentials and issues a fresh token pair. The new
// refresh token is registered in the vault best-effort: a registration
// failure is logged and does not fail the login, it only means that token
// cannot be revoked later.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, *User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return TokenPair{}, nil, ErrUnauthorized
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return TokenPair{}, nil, ErrUnauthorized
	}
	if user.Status != "active" {
		return TokenPair{}, nil, ErrUnauthorized
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return TokenPair{}, nil, ErrUnauthorized
	}
	pair, err := s.mintTokens(ctx, user.ID)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, user, nil
}

// Refresh exchanges a valid, unrevoked refresh token for a new pair and
// rotates it: the presented token is revoked before the replacement is
// issued. A revoke racing a concurrent refresh can let at most one further
// exchange through before the revocation is observed; that window is
// accepted, not eliminated.
func (s *Service) Refresh(ctx context.Context, rawToken string) (TokenPair, error) {
	claims, err := s.verifyToken(rawToken, tokenTypeRefresh)
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}

	revoked, _ := s.vault.IsRevoked(ctx, rawToken)
	if revoked {
		return TokenPair{}, ErrTokenRevoked
	}

	user, err := s.users.Find(ctx, claims.Subject)
	if err != nil || user.Status != "active" {
		return TokenPair{}, ErrUnauthorized
	}

	// Best-effort rotation: if the revoke write fails the old token stays
	// usable until it expires, which the vault has already logged.
	_ = s.vault.Revoke(ctx, rawToken)

	return s.mintTokens(ctx, user.ID)
}

// Logout revokes the presented refresh token.
func (s *Service) Logout(ctx context.Context, rawToken string) error {
	if _, err := s.verifyToken(rawToken, tokenTypeRefresh); err != nil {
		return ErrInvalidToken
	}
	return s.vault.Revoke(ctx, rawToken)
}

// LogoutAll revokes every live refresh token of the user. Used on password
// change or suspected compromise.
func (s *Service) LogoutAll(ctx context.Context, userID string) error {
	return s.vault.RevokeAll(ctx, userID)
}

// VerifyAccess validates an access token and returns the subject user id.
func (s *Service) VerifyAccess(rawToken string) (string, error) {
	claims, err := s.verifyToken(rawToken, tokenTypeAccess)
	if err != nil {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

func (s *Service) mintTokens(ctx context.Context, userID string) (TokenPair, error) {
	now := s.now().UTC()

	access, err := s.signToken(userID, tokenTypeAccess, now, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.signToken(userID, tokenTypeRefresh, now, s.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}

	_ = s.vault.Store(ctx, userID, refresh)

	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  now.Add(s.accessTTL),
		RefreshExpiresAt: now.Add(s.refreshTTL),
	}, nil
}

func (s *Service) signToken(userID, tokenType string, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Service) verifyToken(raw, wantType string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != s.issuer {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != wantType {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

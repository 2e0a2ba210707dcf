package profile

import (
	"context"
	"time"

	"doctrack.org/internal/auth"
)

const defaultTokenTTL = 12 * time.Hour

// Resolver maps credentials and bearer tokens to acting principals.
// The profile row, not the token, is authoritative for the role: an
// admin role change takes effect on the next request, without reissue.
type Resolver struct {
	store    Store
	tokenTTL time.Duration
}

// NewResolver constructs a Resolver over the given store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store, tokenTTL: defaultTokenTTL}
}

// Login verifies credentials and issues a signed token.
func (r *Resolver) Login(ctx context.Context, email, password string) (string, auth.Principal, error) {
	email = auth.NormalizeEmail(email)
	if email == "" || password == "" {
		return "", auth.Principal{}, auth.ErrInvalidCredentials
	}
	p, err := r.store.FindByEmail(ctx, email)
	if err != nil {
		return "", auth.Principal{}, auth.ErrInvalidCredentials
	}
	if !p.IsActive {
		return "", auth.Principal{}, auth.ErrInvalidCredentials
	}
	if err := auth.VerifyPassword(p.PasswordHash, password); err != nil {
		return "", auth.Principal{}, auth.ErrInvalidCredentials
	}
	token, err := auth.GenerateToken(p.ID, p.Email, p.Role, r.tokenTTL)
	if err != nil {
		return "", auth.Principal{}, err
	}
	return token, principalOf(p), nil
}

// Authenticate validates a bearer token and resolves the current profile.
func (r *Resolver) Authenticate(ctx context.Context, token string) (auth.Principal, error) {
	claims, err := auth.ParseAndValidate(token)
	if err != nil {
		return auth.Principal{}, err
	}
	p, err := r.store.Find(ctx, claims.Subject)
	if err != nil {
		return auth.Principal{}, auth.ErrInvalidToken
	}
	if !p.IsActive {
		return auth.Principal{}, auth.ErrInvalidToken
	}
	return principalOf(p), nil
}

func principalOf(p *Profile) auth.Principal {
	return auth.Principal{
		ID:    p.ID,
		Email: p.Email,
		Role:  p.Role,
		Name:  p.FullName,
	}
}

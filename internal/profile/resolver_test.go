package profile

import (
	"context"
	"errors"
	"testing"

	"doctrack.org/internal/auth"
)

func seedStore(t *testing.T) *MemoryStore {
	t.Helper()
	t.Setenv("DOCTRACK_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()

	store := NewMemoryStore()
	hash, err := auth.HashPassword("s3cret!")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	p := &Profile{
		FullName:     "Somsak J.",
		Email:        "somsak@doctrack.test",
		Role:         auth.RoleRequester,
		IsActive:     true,
		PasswordHash: hash,
	}
	if err := store.Create(context.Background(), p); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return store
}

func TestLoginIssuesWorkingToken(t *testing.T) {
	store := seedStore(t)
	r := NewResolver(store)

	token, principal, err := r.Login(context.Background(), "Somsak@Doctrack.Test", "s3cret!")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if principal.Role != auth.RoleRequester || principal.Email != "somsak@doctrack.test" {
		t.Fatalf("principal: %+v", principal)
	}

	resolved, err := r.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if resolved.ID != principal.ID {
		t.Fatalf("resolved %q, want %q", resolved.ID, principal.ID)
	}
}

func TestLoginFailuresAreUniform(t *testing.T) {
	store := seedStore(t)
	r := NewResolver(store)

	cases := []struct{ email, password string }{
		{"somsak@doctrack.test", "wrong"},
		{"ghost@doctrack.test", "s3cret!"},
		{"", "s3cret!"},
		{"somsak@doctrack.test", ""},
	}
	for _, tc := range cases {
		if _, _, err := r.Login(context.Background(), tc.email, tc.password); !errors.Is(err, auth.ErrInvalidCredentials) {
			t.Fatalf("login(%q, %q): err = %v, want ErrInvalidCredentials", tc.email, tc.password, err)
		}
	}
}

func TestDeactivatedProfileCannotAuthenticate(t *testing.T) {
	store := seedStore(t)
	r := NewResolver(store)

	token, principal, err := r.Login(context.Background(), "somsak@doctrack.test", "s3cret!")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	inactive := false
	if _, err := store.Update(context.Background(), principal.ID, Update{IsActive: &inactive}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	if _, err := r.Authenticate(context.Background(), token); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken after deactivation", err)
	}
}

func TestRoleEditReflectsOnNextAuthenticate(t *testing.T) {
	store := seedStore(t)
	r := NewResolver(store)

	token, principal, err := r.Login(context.Background(), "somsak@doctrack.test", "s3cret!")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	role := auth.RoleAdmin
	if _, err := store.Update(context.Background(), principal.ID, Update{Role: &role}); err != nil {
		t.Fatalf("promote: %v", err)
	}

	resolved, err := r.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if resolved.Role != auth.RoleAdmin {
		t.Fatalf("role = %q, want admin without token reissue", resolved.Role)
	}
}

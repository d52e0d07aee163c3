package identity

import (
	"context"
	"testing"
	"time"
)

func newTestService() *Service {
	return NewService(NewMemoryRepository(), []byte("test-secret"), 10*time.Minute)
}

func TestEnsureUserCreatesOnce(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	first, err := svc.EnsureUser(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if first.ID == "" || !first.EmailConfirmed {
		t.Fatalf("expected confirmed user with id, got %+v", first)
	}

	second, err := svc.EnsureUser(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("ensure user again: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same user on repeat, got %s and %s", first.ID, second.ID)
	}
}

func TestIssueSignInTokenHashesDiffer(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	user, err := svc.EnsureUser(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}

	first, err := svc.IssueSignInToken(ctx, user.ID)
	if err != nil {
		t.Fatalf("first token: %v", err)
	}
	second, err := svc.IssueSignInToken(ctx, user.ID)
	if err != nil {
		t.Fatalf("second token: %v", err)
	}
	if first == "" || second == "" {
		t.Fatalf("expected non-empty hashes")
	}
	if first == second {
		t.Fatalf("expected distinct hashes, both %s", first)
	}
}

func TestAuthenticateBearer(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	user, err := svc.EnsureUser(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	token, err := svc.IssueAccessToken(user, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	got, err := svc.AuthenticateBearer(ctx, "Bearer "+token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("expected user %s, got %s", user.ID, got.ID)
	}

	for _, header := range []string{"", "Bearer", "Bearer garbage", token} {
		if _, err := svc.AuthenticateBearer(ctx, header); err != ErrUnauthorized {
			t.Fatalf("header %q: expected ErrUnauthorized, got %v", header, err)
		}
	}
}

func TestAuthenticateBearerExpiredToken(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	user, err := svc.EnsureUser(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	token, err := svc.IssueAccessToken(user, -time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	if _, err := svc.AuthenticateBearer(ctx, "Bearer "+token); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized for expired token, got %v", err)
	}
}

func TestAuthenticateBearerWrongSecret(t *testing.T) {
	svc := newTestService()
	other := NewService(NewMemoryRepository(), []byte("different-secret"), 10*time.Minute)
	ctx := context.Background()

	user, err := other.EnsureUser(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	token, err := other.IssueAccessToken(user, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	if _, err := svc.AuthenticateBearer(ctx, "Bearer "+token); err != ErrUnauthorized {
		t.Fatalf("expected ErrUnauthorized for foreign signature, got %v", err)
	}
}

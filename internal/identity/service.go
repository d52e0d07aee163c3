package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrUnauthorized is returned when a bearer token is missing, malformed, or
// does not resolve to a known user.
var ErrUnauthorized = errors.New("unauthorized")

// Service manages user identities and passwordless sign-in tokens.
type Service struct {
	repo     Repository
	secret   []byte
	tokenTTL time.Duration
}

// NewService creates a new identity service. The secret signs bearer tokens
// for the credential management endpoints.
func NewService(repo Repository, secret []byte, tokenTTL time.Duration) *Service {
	return &Service{repo: repo, secret: secret, tokenTTL: tokenTTL}
}

// EnsureUser returns the user owning the email, creating one when none
// exists. Created users are confirmed immediately.
func (s *Service) EnsureUser(ctx context.Context, email string) (User, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return User{}, err
	}

	user = User{
		ID:             uuid.New().String(),
		Email:          email,
		EmailConfirmed: true,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

// FindByEmail looks up an existing user without creating one.
func (s *Service) FindByEmail(ctx context.Context, email string) (User, error) {
	return s.repo.FindByEmail(ctx, email)
}

// FindByID looks up a user by id.
func (s *Service) FindByID(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}

// IssueSignInToken mints a one-time sign-in token for the user and returns
// its hash. The raw token never leaves this method; the hash is what the
// client presents to complete a session.
func (s *Service) IssueSignInToken(ctx context.Context, userID string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	hash := hex.EncodeToString(sum[:])

	now := time.Now().UTC()
	token := SignInToken{
		TokenHash: hash,
		UserID:    userID,
		ExpiresAt: now.Add(s.tokenTTL),
		CreatedAt: now,
	}
	if err := s.repo.CreateSignInToken(ctx, token); err != nil {
		return "", err
	}
	return hash, nil
}

// AuthenticateBearer resolves the user behind an Authorization header value.
func (s *Service) AuthenticateBearer(ctx context.Context, authorization string) (User, error) {
	token, ok := bearerToken(authorization)
	if !ok {
		return User{}, ErrUnauthorized
	}
	claims, err := ParseAndVerifyHS256(token, s.secret)
	if err != nil {
		return User{}, ErrUnauthorized
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return User{}, ErrUnauthorized
	}
	if exp, ok := claims["exp"].(float64); ok && time.Now().Unix() > int64(exp) {
		return User{}, ErrUnauthorized
	}
	user, err := s.repo.FindByID(ctx, sub)
	if err != nil {
		return User{}, ErrUnauthorized
	}
	return user, nil
}

// IssueAccessToken signs a bearer token for the user. Exposed so callers that
// complete a sign-in token exchange can establish a session.
func (s *Service) IssueAccessToken(user User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := map[string]any{
		"sub":   user.ID,
		"email": user.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	return SignHS256(claims, s.secret)
}

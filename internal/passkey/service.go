// Package passkey orchestrates the WebAuthn challenge and credential
// lifecycle: registration and authentication handshakes plus credential
// management for enrolled users.
package passkey

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/keygate/keygate/internal/audit"
	"github.com/keygate/keygate/internal/challenge"
	"github.com/keygate/keygate/internal/credential"
	"github.com/keygate/keygate/internal/identity"
	"github.com/keygate/keygate/internal/ratelimit"
	"github.com/keygate/keygate/internal/relyingparty"
)

// RequestMeta carries per-request transport facts the flows depend on: the
// relying party the client addressed, the request origin, and the client IP
// used for rate limiting and auditing.
type RequestMeta struct {
	RPID   string
	RPName string
	Origin string
	IP     string
}

// StartResult is the reply to both start flows: the primitive's options plus
// the challenge id the client must echo on finish.
type StartResult struct {
	Options     any    `json:"options"`
	ChallengeID string `json:"challengeId"`
}

// RegisterFinishResult is the reply to a completed registration.
type RegisterFinishResult struct {
	Verified  bool               `json:"verified"`
	TokenHash string             `json:"tokenHash"`
	Passkey   credential.Summary `json:"passkey"`
}

// LoginFinishResult is the reply to a completed authentication.
type LoginFinishResult struct {
	Verified  bool   `json:"verified"`
	TokenHash string `json:"tokenHash"`
	Email     string `json:"email"`
}

// RemoveResult acknowledges a removal request.
type RemoveResult struct {
	Removed bool `json:"removed"`
}

// Service runs the passkey flows. All durable state lives in the injected
// repositories; the service itself holds none between calls.
type Service struct {
	challenges   challenge.Repository
	credentials  credential.Repository
	users        *identity.Service
	provider     relyingparty.Provider
	limiter      ratelimit.Limiter
	recorder     audit.Recorder
	challengeTTL time.Duration
	rpID         string
	rpName       string
}

// NewService wires the passkey flows to their collaborators. rpID and rpName
// are defaults for requests that do not name a relying party.
func NewService(
	challenges challenge.Repository,
	credentials credential.Repository,
	users *identity.Service,
	provider relyingparty.Provider,
	limiter ratelimit.Limiter,
	recorder audit.Recorder,
	challengeTTL time.Duration,
	rpID, rpName string,
) *Service {
	return &Service{
		challenges:   challenges,
		credentials:  credentials,
		users:        users,
		provider:     provider,
		limiter:      limiter,
		recorder:     recorder,
		challengeTTL: challengeTTL,
		rpID:         rpID,
		rpName:       rpName,
	}
}

func (s *Service) params(meta RequestMeta) relyingparty.Params {
	p := relyingparty.Params{RPID: s.rpID, RPName: s.rpName, Origin: meta.Origin}
	if meta.RPID != "" {
		p.RPID = meta.RPID
	}
	if meta.RPName != "" {
		p.RPName = meta.RPName
	}
	return p
}

// RegisterStart issues a registration challenge for the claimed email. The
// exclude list handed to the primitive is empty: the webauthn user id is
// freshly generated, so no credentials can exist under it yet.
func (s *Service) RegisterStart(ctx context.Context, meta RequestMeta, email string) (StartResult, error) {
	if email == "" {
		return StartResult{}, errEmailRequired
	}
	if s.limiter.Blocked(ctx, meta.IP, "ip", "/register/start") {
		return StartResult{}, errRateLimited
	}

	webauthnUserID, err := newWebAuthnUserID()
	if err != nil {
		return StartResult{}, err
	}

	options, chal, err := s.provider.RegistrationOptions(s.params(meta), email, webauthnUserID)
	if err != nil {
		return StartResult{}, fmt.Errorf("registration options: %w", err)
	}

	ch := challenge.Challenge{
		ID:             uuid.New().String(),
		Challenge:      chal,
		Type:           challenge.TypeRegistration,
		Email:          email,
		WebAuthnUserID: webauthnUserID,
		ExpiresAt:      time.Now().UTC().Add(s.challengeTTL),
	}
	if err := s.challenges.Create(ctx, ch); err != nil {
		return StartResult{}, fmt.Errorf("store challenge: %w", err)
	}

	s.recorder.Record(ctx, audit.Event{
		Type:   audit.EventRegistrationStarted,
		Email:  email,
		IP:     meta.IP,
		Origin: meta.Origin,
	})

	return StartResult{Options: options, ChallengeID: ch.ID}, nil
}

// RegisterFinish consumes the challenge, verifies the client's attestation
// response, and enrolls the credential under the challenge's email.
func (s *Service) RegisterFinish(ctx context.Context, meta RequestMeta, challengeID string, response json.RawMessage, authenticatorName string) (RegisterFinishResult, error) {
	ch, err := s.consume(ctx, challengeID, challenge.TypeRegistration)
	if err != nil {
		return RegisterFinishResult{}, err
	}
	if ch.Expired(time.Now()) {
		s.recorder.Record(ctx, audit.Event{
			Type:  audit.EventChallengeExpired,
			Email: ch.Email,
			IP:    meta.IP,
		})
		return RegisterFinishResult{}, errChallengeExpired
	}

	verified, err := s.provider.VerifyRegistration(s.params(meta), ch.Challenge, ch.WebAuthnUserID, ch.ExpiresAt, response)
	if err != nil {
		s.recorder.Record(ctx, audit.Event{
			Type:   audit.EventRegistrationFailed,
			Email:  ch.Email,
			IP:     meta.IP,
			Detail: err.Error(),
		})
		return RegisterFinishResult{}, errRegistrationFailed
	}

	user, err := s.users.EnsureUser(ctx, ch.Email)
	if err != nil {
		return RegisterFinishResult{}, fmt.Errorf("resolve user: %w", err)
	}

	cred := credential.Credential{
		ID:                verified.CredentialID,
		UserID:            user.ID,
		WebAuthnUserID:    ch.WebAuthnUserID,
		PublicKey:         verified.PublicKey,
		Counter:           verified.Counter,
		DeviceType:        verified.DeviceType,
		BackedUp:          verified.BackedUp,
		Transports:        verified.Transports,
		AuthenticatorName: authenticatorName,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.credentials.Create(ctx, cred); err != nil {
		return RegisterFinishResult{}, fmt.Errorf("store credential: %w", err)
	}

	tokenHash, err := s.users.IssueSignInToken(ctx, user.ID)
	if err != nil {
		return RegisterFinishResult{}, fmt.Errorf("issue sign-in token: %w", err)
	}

	s.recorder.Record(ctx, audit.Event{
		Type:         audit.EventRegistrationCompleted,
		UserID:       user.ID,
		CredentialID: cred.ID,
		Email:        ch.Email,
		IP:           meta.IP,
	})

	return RegisterFinishResult{
		Verified:  true,
		TokenHash: tokenHash,
		Passkey:   cred.Summarize(),
	}, nil
}

// LoginStart issues an authentication challenge. A supplied email narrows
// the allowed credentials to that user's; without one the client may answer
// with any discoverable credential.
func (s *Service) LoginStart(ctx context.Context, meta RequestMeta, email string) (StartResult, error) {
	if s.limiter.Blocked(ctx, meta.IP, "ip", "/login/start") {
		return StartResult{}, errRateLimited
	}

	var allowed []relyingparty.StoredCredential
	if email != "" {
		user, err := s.users.FindByEmail(ctx, email)
		if err != nil {
			return StartResult{}, errNoPasskeyForEmail
		}
		creds, err := s.credentials.ListByUser(ctx, user.ID)
		if err != nil {
			return StartResult{}, fmt.Errorf("list credentials: %w", err)
		}
		if len(creds) == 0 {
			return StartResult{}, errNoPasskeyForEmail
		}
		for _, cred := range creds {
			allowed = append(allowed, relyingparty.StoredCredential{
				ID:             cred.ID,
				WebAuthnUserID: cred.WebAuthnUserID,
				PublicKey:      cred.PublicKey,
				Counter:        cred.Counter,
				DeviceType:     cred.DeviceType,
				BackedUp:       cred.BackedUp,
				Transports:     cred.Transports,
			})
		}
	}

	options, chal, err := s.provider.AuthenticationOptions(s.params(meta), allowed)
	if err != nil {
		return StartResult{}, fmt.Errorf("authentication options: %w", err)
	}

	ch := challenge.Challenge{
		ID:        uuid.New().String(),
		Challenge: chal,
		Type:      challenge.TypeAuthentication,
		Email:     email,
		ExpiresAt: time.Now().UTC().Add(s.challengeTTL),
	}
	if err := s.challenges.Create(ctx, ch); err != nil {
		return StartResult{}, fmt.Errorf("store challenge: %w", err)
	}

	s.recorder.Record(ctx, audit.Event{
		Type:  audit.EventAuthenticationStarted,
		Email: email,
		IP:    meta.IP,
	})

	return StartResult{Options: options, ChallengeID: ch.ID}, nil
}

// LoginFinish consumes the challenge, verifies the assertion against the
// stored credential, and advances its signature counter.
func (s *Service) LoginFinish(ctx context.Context, meta RequestMeta, challengeID string, response json.RawMessage) (LoginFinishResult, error) {
	ch, err := s.consume(ctx, challengeID, challenge.TypeAuthentication)
	if err != nil {
		return LoginFinishResult{}, err
	}
	if ch.Expired(time.Now()) {
		return LoginFinishResult{}, errChallengeExpired
	}

	credentialID := extractCredentialID(response)
	if credentialID == "" {
		return LoginFinishResult{}, errCredentialNotFound
	}
	cred, err := s.credentials.FindByID(ctx, credentialID)
	if err != nil {
		return LoginFinishResult{}, errCredentialNotFound
	}

	verified, err := s.provider.VerifyAuthentication(s.params(meta), ch.Challenge, ch.ExpiresAt, relyingparty.StoredCredential{
		ID:             cred.ID,
		WebAuthnUserID: cred.WebAuthnUserID,
		PublicKey:      cred.PublicKey,
		Counter:        cred.Counter,
		DeviceType:     cred.DeviceType,
		BackedUp:       cred.BackedUp,
		Transports:     cred.Transports,
	}, response)
	if err != nil {
		s.recorder.Record(ctx, audit.Event{
			Type:         audit.EventAuthenticationFailed,
			CredentialID: credentialID,
			IP:           meta.IP,
			Detail:       err.Error(),
		})
		return LoginFinishResult{}, errAuthenticationFailed
	}

	if err := s.credentials.UpdateCounter(ctx, cred.ID, verified.NewCounter, time.Now().UTC()); err != nil {
		return LoginFinishResult{}, fmt.Errorf("update counter: %w", err)
	}

	// The owning user comes from the credential record, never the caller.
	email := ch.Email
	var tokenHash string
	user, err := s.users.FindByID(ctx, cred.UserID)
	if err == nil {
		email = user.Email
	}
	tokenHash, err = s.users.IssueSignInToken(ctx, cred.UserID)
	if err != nil {
		return LoginFinishResult{}, fmt.Errorf("issue sign-in token: %w", err)
	}

	s.recorder.Record(ctx, audit.Event{
		Type:         audit.EventAuthenticationCompleted,
		UserID:       cred.UserID,
		CredentialID: credentialID,
		IP:           meta.IP,
	})

	return LoginFinishResult{Verified: true, TokenHash: tokenHash, Email: email}, nil
}

// List returns the user's enrolled passkeys, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]credential.Summary, error) {
	creds, err := s.credentials.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	summaries := make([]credential.Summary, 0, len(creds))
	for _, cred := range creds {
		summaries = append(summaries, cred.Summarize())
	}
	return summaries, nil
}

// Remove deletes the credential when the caller owns it. Removal is
// idempotent: a missing or non-owned credential still reports success, so
// the endpoint leaks nothing about other users' credentials.
func (s *Service) Remove(ctx context.Context, meta RequestMeta, userID, credentialID string) (RemoveResult, error) {
	removed, err := s.credentials.Delete(ctx, userID, credentialID)
	if err != nil {
		return RemoveResult{}, fmt.Errorf("delete credential: %w", err)
	}
	if removed {
		s.recorder.Record(ctx, audit.Event{
			Type:         audit.EventPasskeyRemoved,
			UserID:       userID,
			CredentialID: credentialID,
			IP:           meta.IP,
		})
	}
	return RemoveResult{Removed: true}, nil
}

// Rename updates the credential's display name when the caller owns it.
func (s *Service) Rename(ctx context.Context, meta RequestMeta, userID, credentialID, name string) (credential.Summary, error) {
	cred, err := s.credentials.Rename(ctx, userID, credentialID, name)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			return credential.Summary{}, errPasskeyNotFound
		}
		return credential.Summary{}, fmt.Errorf("rename credential: %w", err)
	}
	s.recorder.Record(ctx, audit.Event{
		Type:         audit.EventPasskeyUpdated,
		UserID:       userID,
		CredentialID: credentialID,
		IP:           meta.IP,
	})
	return cred.Summarize(), nil
}

func (s *Service) consume(ctx context.Context, challengeID string, typ challenge.Type) (challenge.Challenge, error) {
	if challengeID == "" {
		return challenge.Challenge{}, errChallengeMismatch
	}
	ch, err := s.challenges.Consume(ctx, challengeID, typ)
	if err != nil {
		if errors.Is(err, challenge.ErrNotFound) {
			return challenge.Challenge{}, errChallengeMismatch
		}
		return challenge.Challenge{}, fmt.Errorf("consume challenge: %w", err)
	}
	return ch, nil
}

// newWebAuthnUserID generates the random 32-byte user handle for a
// registration attempt. It is decoupled from the store's user id so options
// payloads never leak an enumerable identifier.
func newWebAuthnUserID() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func extractCredentialID(response json.RawMessage) string {
	var body struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(response, &body); err != nil {
		return ""
	}
	return body.ID
}

// Package relyingparty wraps the go-webauthn primitive behind the four
// operations the passkey flows consume: option generation and response
// verification for registration and authentication. The wrapper performs no
// storage; challenges live with the caller.
package relyingparty

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Params names the relying party for a single operation. The expected origin
// is derived per request, so each call carries its own.
type Params struct {
	RPID   string
	RPName string
	Origin string
}

// RegistrationResult is what verification extracts from a valid registration
// response.
type RegistrationResult struct {
	CredentialID string
	PublicKey    []byte
	Counter      uint32
	DeviceType   string
	BackedUp     bool
	Transports   []string
}

// StoredCredential is the persisted credential state checked during
// authentication verification: the (id, publicKey, counter) triple plus the
// user handle and backup flags recorded at enrollment.
type StoredCredential struct {
	ID             string
	WebAuthnUserID string
	PublicKey      []byte
	Counter        uint32
	DeviceType     string
	BackedUp       bool
	Transports     []string
}

// AuthenticationResult reports the counter the authenticator signed with.
type AuthenticationResult struct {
	NewCounter uint32
}

// Provider is the WebAuthn primitive consumed by the passkey flows.
type Provider interface {
	RegistrationOptions(p Params, email, webauthnUserID string) (*protocol.CredentialCreation, string, error)
	AuthenticationOptions(p Params, allowed []StoredCredential) (*protocol.CredentialAssertion, string, error)
	VerifyRegistration(p Params, challenge, webauthnUserID string, expiresAt time.Time, response []byte) (RegistrationResult, error)
	VerifyAuthentication(p Params, challenge string, expiresAt time.Time, cred StoredCredential, response []byte) (AuthenticationResult, error)
}

// WebAuthn implements Provider on github.com/go-webauthn/webauthn.
type WebAuthn struct{}

// New returns the production provider.
func New() *WebAuthn {
	return &WebAuthn{}
}

// ES256 and RS256, matching what client platforms ship.
var credentialParameters = []protocol.CredentialParameter{
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES256},
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgRS256},
}

func (w *WebAuthn) instance(p Params) (*webauthn.WebAuthn, error) {
	return webauthn.New(&webauthn.Config{
		RPID:          p.RPID,
		RPDisplayName: p.RPName,
		RPOrigins:     []string{p.Origin},
	})
}

// RegistrationOptions produces credential creation options and the challenge
// the caller must hold on to.
func (w *WebAuthn) RegistrationOptions(p Params, email, webauthnUserID string) (*protocol.CredentialCreation, string, error) {
	rp, err := w.instance(p)
	if err != nil {
		return nil, "", err
	}
	user := &staticUser{id: []byte(webauthnUserID), name: email, displayName: email}
	creation, session, err := rp.BeginRegistration(user,
		webauthn.WithCredentialParameters(credentialParameters),
		webauthn.WithConveyancePreference(protocol.PreferNoAttestation),
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementPreferred,
			UserVerification: protocol.VerificationPreferred,
		}),
	)
	if err != nil {
		return nil, "", fmt.Errorf("begin registration: %w", err)
	}
	return creation, session.Challenge, nil
}

// AuthenticationOptions produces assertion options. A non-empty allowed list
// narrows the credentials the client may answer with.
func (w *WebAuthn) AuthenticationOptions(p Params, allowed []StoredCredential) (*protocol.CredentialAssertion, string, error) {
	rp, err := w.instance(p)
	if err != nil {
		return nil, "", err
	}
	assertion, session, err := rp.BeginDiscoverableLogin(
		webauthn.WithUserVerification(protocol.VerificationPreferred),
	)
	if err != nil {
		return nil, "", fmt.Errorf("begin login: %w", err)
	}
	if len(allowed) > 0 {
		descriptors := make([]protocol.CredentialDescriptor, 0, len(allowed))
		for _, cred := range allowed {
			descriptors = append(descriptors, toWebAuthnCredential(cred).Descriptor())
		}
		assertion.Response.AllowedCredentials = descriptors
	}
	return assertion, session.Challenge, nil
}

// VerifyRegistration validates a registration response against the held
// challenge and extracts the new credential.
func (w *WebAuthn) VerifyRegistration(p Params, challenge, webauthnUserID string, expiresAt time.Time, response []byte) (RegistrationResult, error) {
	rp, err := w.instance(p)
	if err != nil {
		return RegistrationResult{}, err
	}
	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		return RegistrationResult{}, fmt.Errorf("parse registration response: %w", err)
	}
	user := &staticUser{id: []byte(webauthnUserID), name: webauthnUserID, displayName: webauthnUserID}
	session := webauthn.SessionData{
		Challenge:        challenge,
		UserID:           []byte(webauthnUserID),
		Expires:          expiresAt,
		UserVerification: protocol.VerificationPreferred,
	}
	cred, err := rp.CreateCredential(user, session, parsed)
	if err != nil {
		return RegistrationResult{}, fmt.Errorf("verify registration: %w", err)
	}

	transports := make([]string, 0, len(cred.Transport))
	for _, t := range cred.Transport {
		transports = append(transports, string(t))
	}
	return RegistrationResult{
		CredentialID: encodeID(cred.ID),
		PublicKey:    cred.PublicKey,
		Counter:      cred.Authenticator.SignCount,
		DeviceType:   deviceType(cred.Flags.BackupEligible),
		BackedUp:     cred.Flags.BackupState,
		Transports:   transports,
	}, nil
}

// VerifyAuthentication validates an assertion against the stored credential
// and reports the authenticator's new signature counter.
func (w *WebAuthn) VerifyAuthentication(p Params, challenge string, expiresAt time.Time, cred StoredCredential, response []byte) (AuthenticationResult, error) {
	rp, err := w.instance(p)
	if err != nil {
		return AuthenticationResult{}, err
	}
	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		return AuthenticationResult{}, fmt.Errorf("parse authentication response: %w", err)
	}
	stored := toWebAuthnCredential(cred)

	var validated *webauthn.Credential
	if len(parsed.Response.UserHandle) == 0 {
		// An authenticator answering an allowCredentials list may omit the
		// user handle. Verify against the handle recorded at enrollment.
		session := webauthn.SessionData{
			Challenge:        challenge,
			UserID:           []byte(cred.WebAuthnUserID),
			Expires:          expiresAt,
			UserVerification: protocol.VerificationPreferred,
		}
		user := &staticUser{
			id:          []byte(cred.WebAuthnUserID),
			name:        cred.ID,
			displayName: cred.ID,
			credentials: []webauthn.Credential{stored},
		}
		validated, err = rp.ValidateLogin(user, session, parsed)
	} else {
		session := webauthn.SessionData{
			Challenge:        challenge,
			Expires:          expiresAt,
			UserVerification: protocol.VerificationPreferred,
		}
		handler := func(_, userHandle []byte) (webauthn.User, error) {
			return &staticUser{
				id:          userHandle,
				name:        cred.ID,
				displayName: cred.ID,
				credentials: []webauthn.Credential{stored},
			}, nil
		}
		validated, err = rp.ValidateDiscoverableLogin(handler, session, parsed)
	}
	if err != nil {
		return AuthenticationResult{}, fmt.Errorf("verify authentication: %w", err)
	}
	if validated.Authenticator.CloneWarning {
		return AuthenticationResult{}, fmt.Errorf("verify authentication: signature counter regressed")
	}
	return AuthenticationResult{NewCounter: validated.Authenticator.SignCount}, nil
}

func toWebAuthnCredential(cred StoredCredential) webauthn.Credential {
	transports := make([]protocol.AuthenticatorTransport, 0, len(cred.Transports))
	for _, t := range cred.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}
	return webauthn.Credential{
		ID:        decodeID(cred.ID),
		PublicKey: cred.PublicKey,
		Transport: transports,
		Flags: webauthn.CredentialFlags{
			BackupEligible: cred.DeviceType == "multiDevice",
			BackupState:    cred.BackedUp,
		},
		Authenticator: webauthn.Authenticator{
			SignCount: cred.Counter,
		},
	}
}

// Credential ids travel base64url-encoded without padding, the encoding the
// client sees in the credential's id field.
func encodeID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeID(id string) []byte {
	raw, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil {
		return []byte(id)
	}
	return raw
}

func deviceType(backupEligible bool) string {
	if backupEligible {
		return "multiDevice"
	}
	return "singleDevice"
}

type staticUser struct {
	id          []byte
	name        string
	displayName string
	credentials []webauthn.Credential
}

func (u *staticUser) WebAuthnID() []byte                         { return u.id }
func (u *staticUser) WebAuthnName() string                       { return u.name }
func (u *staticUser) WebAuthnDisplayName() string                { return u.displayName }
func (u *staticUser) WebAuthnIcon() string                       { return "" }
func (u *staticUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

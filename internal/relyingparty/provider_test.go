package relyingparty

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"testing"
	"time"
)

var testParams = Params{RPID: "example.com", RPName: "Example", Origin: "https://example.com"}

// coseKey encodes an ES256 public key as the COSE_Key map stored at
// enrollment: {1: EC2, 3: ES256, -1: P-256, -2: x, -3: y}.
func coseKey(pub *ecdsa.PublicKey) []byte {
	x := make([]byte, 32)
	pub.X.FillBytes(x)
	y := make([]byte, 32)
	pub.Y.FillBytes(y)

	out := []byte{0xa5, 0x01, 0x02, 0x03, 0x26, 0x20, 0x01, 0x21, 0x58, 0x20}
	out = append(out, x...)
	out = append(out, 0x22, 0x58, 0x20)
	out = append(out, y...)
	return out
}

func authenticatorData(rpID string, flags byte, counter uint32) []byte {
	hash := sha256.Sum256([]byte(rpID))
	out := append([]byte{}, hash[:]...)
	out = append(out, flags)
	var c [4]byte
	binary.BigEndian.PutUint32(c[:], counter)
	return append(out, c[:]...)
}

type assertionSpec struct {
	credentialID string
	challenge    string
	flags        byte
	counter      uint32
	userHandle   string
}

// signAssertion builds a complete assertion response signed with key, shaped
// the way a browser serializes navigator.credentials.get results.
func signAssertion(t *testing.T, key *ecdsa.PrivateKey, spec assertionSpec) []byte {
	t.Helper()
	b64 := base64.RawURLEncoding.EncodeToString

	clientData := fmt.Sprintf(`{"type":"webauthn.get","challenge":%q,"origin":%q}`,
		spec.challenge, testParams.Origin)
	authData := authenticatorData(testParams.RPID, spec.flags, spec.counter)

	clientHash := sha256.Sum256([]byte(clientData))
	signed := append(append([]byte{}, authData...), clientHash[:]...)
	digest := sha256.Sum256(signed)
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		t.Fatalf("sign assertion: %v", err)
	}

	handle := ""
	if spec.userHandle != "" {
		handle = fmt.Sprintf(`,"userHandle":%q`, b64([]byte(spec.userHandle)))
	}
	body := fmt.Sprintf(`{"id":%q,"rawId":%q,"type":"public-key","response":{"clientDataJSON":%q,"authenticatorData":%q,"signature":%q%s}}`,
		spec.credentialID, spec.credentialID,
		b64([]byte(clientData)), b64(authData), b64(sig), handle)
	return []byte(body)
}

func newEnrolledCredential(t *testing.T) (*ecdsa.PrivateKey, StoredCredential) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cred := StoredCredential{
		ID:             base64.RawURLEncoding.EncodeToString([]byte("test-credential-1")),
		WebAuthnUserID: "user-handle-1",
		PublicKey:      coseKey(&key.PublicKey),
		Counter:        3,
		DeviceType:     "singleDevice",
		Transports:     []string{"internal"},
	}
	return key, cred
}

func TestVerifyAuthenticationWithoutUserHandle(t *testing.T) {
	key, cred := newEnrolledCredential(t)
	provider := New()

	// An authenticator answering an allowCredentials list may omit the user
	// handle entirely; verification must still succeed.
	response := signAssertion(t, key, assertionSpec{
		credentialID: cred.ID,
		challenge:    "assertion-challenge",
		flags:        0x05,
		counter:      7,
	})

	result, err := provider.VerifyAuthentication(testParams, "assertion-challenge",
		time.Now().Add(5*time.Minute), cred, response)
	if err != nil {
		t.Fatalf("verify authentication: %v", err)
	}
	if result.NewCounter != 7 {
		t.Fatalf("expected new counter 7, got %d", result.NewCounter)
	}
}

func TestVerifyAuthenticationWithUserHandle(t *testing.T) {
	key, cred := newEnrolledCredential(t)
	provider := New()

	response := signAssertion(t, key, assertionSpec{
		credentialID: cred.ID,
		challenge:    "assertion-challenge",
		flags:        0x05,
		counter:      7,
		userHandle:   cred.WebAuthnUserID,
	})

	result, err := provider.VerifyAuthentication(testParams, "assertion-challenge",
		time.Now().Add(5*time.Minute), cred, response)
	if err != nil {
		t.Fatalf("verify authentication: %v", err)
	}
	if result.NewCounter != 7 {
		t.Fatalf("expected new counter 7, got %d", result.NewCounter)
	}
}

func TestVerifyAuthenticationBackedUpCredential(t *testing.T) {
	key, cred := newEnrolledCredential(t)
	cred.DeviceType = "multiDevice"
	cred.BackedUp = true
	provider := New()

	// UP|UV plus the backup eligible and backup state flags.
	response := signAssertion(t, key, assertionSpec{
		credentialID: cred.ID,
		challenge:    "assertion-challenge",
		flags:        0x1d,
		counter:      7,
	})

	if _, err := provider.VerifyAuthentication(testParams, "assertion-challenge",
		time.Now().Add(5*time.Minute), cred, response); err != nil {
		t.Fatalf("verify authentication: %v", err)
	}
}

func TestVerifyAuthenticationRejectsBadSignature(t *testing.T) {
	_, cred := newEnrolledCredential(t)
	other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	provider := New()

	// Signed with a key that does not match the enrolled public key.
	response := signAssertion(t, other, assertionSpec{
		credentialID: cred.ID,
		challenge:    "assertion-challenge",
		flags:        0x05,
		counter:      7,
	})

	if _, err := provider.VerifyAuthentication(testParams, "assertion-challenge",
		time.Now().Add(5*time.Minute), cred, response); err == nil {
		t.Fatalf("expected verification failure for foreign signature")
	}
}

func TestVerifyAuthenticationRejectsWrongChallenge(t *testing.T) {
	key, cred := newEnrolledCredential(t)
	provider := New()

	response := signAssertion(t, key, assertionSpec{
		credentialID: cred.ID,
		challenge:    "some-other-challenge",
		flags:        0x05,
		counter:      7,
	})

	if _, err := provider.VerifyAuthentication(testParams, "assertion-challenge",
		time.Now().Add(5*time.Minute), cred, response); err == nil {
		t.Fatalf("expected verification failure for challenge mismatch")
	}
}

package challenge

import "time"

// Type discriminates the two handshake flows a challenge can belong to.
type Type string

const (
	TypeRegistration   Type = "registration"
	TypeAuthentication Type = "authentication"
)

// Challenge is a single pending WebAuthn handshake. It is written once by a
// start operation and consumed (deleted on read) by the matching finish
// operation; it is never updated.
type Challenge struct {
	ID             string
	Challenge      string
	Type           Type
	Email          string
	WebAuthnUserID string
	ExpiresAt      time.Time
}

// Expired reports whether the challenge is past its expiry at the given instant.
func (c Challenge) Expired(now time.Time) bool {
	return c.ExpiresAt.Before(now)
}

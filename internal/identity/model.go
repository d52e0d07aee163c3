package identity

import "time"

// User is an account in the identity store. Users created through passkey
// registration are marked confirmed immediately: identity is established
// cryptographically, not by an email round trip.
type User struct {
	ID             string
	Email          string
	EmailConfirmed bool
	CreatedAt      time.Time
}

// SignInToken is a one-time passwordless sign-in grant. Only the SHA-256 hash
// of the token is stored; the hash doubles as the lookup key handed to the
// client.
type SignInToken struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

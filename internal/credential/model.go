package credential

import "time"

// Credential is one enrolled authenticator bound to one user. The ID is the
// authenticator-supplied credential identifier, base64url-encoded.
type Credential struct {
	ID                string
	UserID            string
	WebAuthnUserID    string
	PublicKey         []byte
	Counter           uint32
	DeviceType        string
	BackedUp          bool
	Transports        []string
	AuthenticatorName string
	CreatedAt         time.Time
	LastUsedAt        *time.Time
}

// Summary is the client-facing view of a credential. It never carries the
// public key.
type Summary struct {
	ID                string     `json:"id"`
	AuthenticatorName string     `json:"authenticatorName,omitempty"`
	DeviceType        string     `json:"deviceType"`
	BackedUp          bool       `json:"backedUp"`
	CreatedAt         time.Time  `json:"createdAt"`
	LastUsedAt        *time.Time `json:"lastUsedAt,omitempty"`
}

// Summarize projects the credential onto its client-facing view.
func (c Credential) Summarize() Summary {
	return Summary{
		ID:                c.ID,
		AuthenticatorName: c.AuthenticatorName,
		DeviceType:        c.DeviceType,
		BackedUp:          c.BackedUp,
		CreatedAt:         c.CreatedAt,
		LastUsedAt:        c.LastUsedAt,
	}
}

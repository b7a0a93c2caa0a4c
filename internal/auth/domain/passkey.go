package domain

import "time"

// Passkey is a stored WebAuthn credential. Counter tracks the
// authenticator's signature counter and must strictly increase across
// successful assertions; a stale counter indicates a cloned authenticator.
type Passkey struct {
	ID           string
	UserID       string
	CredentialID string // base64url of the raw credential id
	PublicKey    []byte
	Counter      uint32
	Transports   []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Consent records that a user has granted an application its requested
// scopes. Existence is the grant; there is no partial consent.
type Consent struct {
	UserID    string
	AppID     string
	CreatedAt time.Time
}

// RememberedDevice lets a previously verified device skip re-verification
// of one MFA factor until it expires. Only the token fingerprint is stored.
type RememberedDevice struct {
	ID        string
	UserID    string
	Factor    MFAType
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

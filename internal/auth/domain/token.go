package domain

import "time"

// RefreshToken models the stored refresh token record. The opaque value is
// never stored, only its SHA-256 fingerprint.
type RefreshToken struct {
	ID        string
	UserID    string
	ClientID  string
	TokenHash string
	Scopes    []string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TokenResponse is the token endpoint payload for both the code exchange
// and refresh grants. Expirations are expressed as a duration in seconds
// and an absolute epoch timestamp, matching what embedding UIs need to
// schedule renewals without clock math.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	ExpiresOn   int64  `json:"expires_on"`
	NotBefore   int64  `json:"not_before"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope,omitempty"`

	RefreshToken          string `json:"refresh_token,omitempty"`
	RefreshTokenExpiresIn int64  `json:"refresh_token_expires_in,omitempty"`
	RefreshTokenExpiresOn int64  `json:"refresh_token_expires_on,omitempty"`

	IDToken string `json:"id_token,omitempty"`
}

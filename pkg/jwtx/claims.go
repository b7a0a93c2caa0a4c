package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default token TTLs. Short access tokens, week-long refresh window.
const (
	DefaultAccessTokenTTL  = 30 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
	DefaultIDTokenTTL      = 30 * time.Minute
)

// AccessClaims are the claims embedded in issued access tokens.
type AccessClaims struct {
	jwt.RegisteredClaims

	// Scope is the space-delimited granted scope set.
	Scope string `json:"scope,omitempty"`

	// AuthTime is when the end user last authenticated (epoch seconds).
	AuthTime int64 `json:"auth_time,omitempty"`
}

// IDTokenClaims are the OIDC id_token claims. Only the profile fields this
// engine actually knows about are included.
type IDTokenClaims struct {
	jwt.RegisteredClaims

	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	Locale        string `json:"locale,omitempty"`
	AuthTime      int64  `json:"auth_time,omitempty"`
}

// NewAccessClaims builds access-token claims for a user/client pair.
func NewAccessClaims(subject, clientID string, scopes []string, ttl time.Duration, issuer string, now time.Time) AccessClaims {
	return AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{clientID},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		Scope:    strings.Join(scopes, " "),
		AuthTime: now.Unix(),
	}
}

// NewIDTokenClaims builds id_token claims for an authenticated user.
func NewIDTokenClaims(subject, clientID, email string, emailVerified bool, firstName, lastName, locale string, ttl time.Duration, issuer string, now time.Time) IDTokenClaims {
	return IDTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{clientID},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		Email:         email,
		EmailVerified: emailVerified,
		FirstName:     firstName,
		LastName:      lastName,
		Locale:        locale,
		AuthTime:      now.Unix(),
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

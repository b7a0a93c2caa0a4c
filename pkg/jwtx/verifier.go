package jwtx

import (
	"crypto"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("jwtx: invalid token")
)

// Verifier validates compact JWTs against a single public key. Resource
// servers embedding this engine use it to check issued access tokens.
type Verifier struct {
	alg    string
	issuer string
	public crypto.PublicKey
}

// NewVerifier builds a verifier for tokens signed by the paired Signer.
func NewVerifier(s *Signer, issuer string) *Verifier {
	return &Verifier{alg: s.Alg(), issuer: issuer, public: s.Public()}
}

// VerifyAccess parses and validates an access token, returning its claims.
func (v *Verifier) VerifyAccess(raw string) (AccessClaims, error) {
	var claims AccessClaims

	token, err := jwt.ParseWithClaims(raw, &claims, v.keyFunc,
		jwt.WithValidMethods([]string{v.alg}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return AccessClaims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return AccessClaims{}, ErrInvalidToken
	}

	return claims, nil
}

// VerifyIDToken parses and validates an id_token, returning its claims.
func (v *Verifier) VerifyIDToken(raw string) (IDTokenClaims, error) {
	var claims IDTokenClaims

	token, err := jwt.ParseWithClaims(raw, &claims, v.keyFunc,
		jwt.WithValidMethods([]string{v.alg}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return IDTokenClaims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return IDTokenClaims{}, ErrInvalidToken
	}

	return claims, nil
}

func (v *Verifier) keyFunc(*jwt.Token) (any, error) {
	return v.public, nil
}

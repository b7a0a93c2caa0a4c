package jwtx

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Supported signing algorithms.
const (
	AlgEdDSA = "EdDSA"
	AlgRS256 = "RS256"
)

var ErrUnsupportedAlgorithm = errors.New("jwtx: unsupported signing algorithm")

// Signer signs JWTs with a single private key. Key rotation is out of scope
// for this engine; operators terminate and restart with a new key file.
type Signer struct {
	alg    string
	kid    string
	method jwt.SigningMethod
	key    crypto.PrivateKey
	public crypto.PublicKey
}

// NewSigner parses a PEM-encoded PKCS8 private key for the given algorithm.
func NewSigner(alg, kid string, pemKey []byte) (*Signer, error) {
	block, _ := pem.Decode(pemKey)
	if block == nil {
		return nil, errors.New("jwtx: no PEM block found in key material")
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("jwtx: failed to parse PKCS8 key: %w", err)
	}

	switch alg {
	case AlgEdDSA:
		key, ok := parsed.(ed25519.PrivateKey)
		if !ok {
			return nil, errors.New("jwtx: key is not Ed25519")
		}
		return &Signer{alg: alg, kid: kid, method: jwt.SigningMethodEdDSA, key: key, public: key.Public()}, nil
	case AlgRS256:
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("jwtx: key is not RSA")
		}
		return &Signer{alg: alg, kid: kid, method: jwt.SigningMethodRS256, key: key, public: key.Public()}, nil
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}

// GenerateKey produces a fresh PEM-encoded PKCS8 private key for alg.
// Used for ephemeral signing keys when no key file is configured.
func GenerateKey(alg string, rsaBits int) ([]byte, error) {
	var key crypto.PrivateKey

	switch alg {
	case AlgEdDSA:
		_, k, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("jwtx: failed to generate Ed25519 key: %w", err)
		}
		key = k
	case AlgRS256:
		if rsaBits <= 0 {
			rsaBits = 2048
		}
		k, err := rsa.GenerateKey(rand.Reader, rsaBits)
		if err != nil {
			return nil, fmt.Errorf("jwtx: failed to generate RSA key: %w", err)
		}
		key = k
	default:
		return nil, ErrUnsupportedAlgorithm
	}

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("jwtx: failed to marshal PKCS8 key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// Alg returns the signing algorithm name.
func (s *Signer) Alg() string { return s.alg }

// KID returns the key identifier embedded in token headers.
func (s *Signer) KID() string { return s.kid }

// Public returns the verification key.
func (s *Signer) Public() crypto.PublicKey { return s.public }

// Sign produces a compact JWT for the given claims.
func (s *Signer) Sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(s.method, claims)
	if s.kid != "" {
		token.Header["kid"] = s.kid
	}
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("jwtx: failed to sign token: %w", err)
	}
	return signed, nil
}

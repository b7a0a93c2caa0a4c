package engine

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/CrazyForks/melody-auth/internal/auth/domain"
	"github.com/CrazyForks/melody-auth/internal/auth/store"
	"github.com/CrazyForks/melody-auth/pkg/cryptox"
	"github.com/CrazyForks/melody-auth/pkg/idx"
	"github.com/CrazyForks/melody-auth/pkg/jwtx"
)

// TokenService redeems completed sessions for tokens and services the
// refresh and revocation grants.
type TokenService struct {
	Store    store.Store
	Sessions *SessionService
	Signer   *jwtx.Signer

	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	IDTokenTTL      time.Duration

	// RotateRefreshTokens controls whether every refresh mints a new
	// refresh token and revokes the presented one.
	RotateRefreshTokens bool
}

func (s *TokenService) accessTTL() time.Duration {
	if s.AccessTokenTTL > 0 {
		return s.AccessTokenTTL
	}
	return jwtx.DefaultAccessTokenTTL
}

func (s *TokenService) refreshTTL() time.Duration {
	if s.RefreshTokenTTL > 0 {
		return s.RefreshTokenTTL
	}
	return jwtx.DefaultRefreshTokenTTL
}

func (s *TokenService) idTTL() time.Duration {
	if s.IDTokenTTL > 0 {
		return s.IDTokenTTL
	}
	return jwtx.DefaultIDTokenTTL
}

// ExchangeCode redeems a completed session (its id acting as the
// authorization code) for tokens. The PKCE verifier must reproduce the
// challenge captured at initiation. The session is deleted on success, so
// a code can be redeemed at most once.
func (s *TokenService) ExchangeCode(ctx context.Context, sessionID, codeVerifier string) (domain.TokenResponse, error) {
	session, err := s.Sessions.GetWithUser(ctx, sessionID)
	if err != nil {
		return domain.TokenResponse{}, err
	}

	if !verifyPKCE(codeVerifier, session.Request.CodeChallenge, session.Request.CodeChallengeMethod) {
		return domain.TokenResponse{}, ErrPKCEVerificationFailed
	}

	// A session that still owes a step is not an authorization code yet,
	// no matter how valid the verifier is. The session survives so the
	// client can finish the flow.
	if !session.Completed {
		return domain.TokenResponse{}, ErrAuthorizationIncomplete
	}

	resp, err := s.issueTokens(ctx, session.User, session.Request.ClientID, session.Request.Scopes, true)
	if err != nil {
		return domain.TokenResponse{}, err
	}

	// Single use: the code is gone even if the client drops the response.
	if err := s.Sessions.Delete(ctx, sessionID); err != nil {
		return domain.TokenResponse{}, fmt.Errorf("consume session: %w", err)
	}
	return resp, nil
}

// Refresh exchanges a live refresh token for a fresh access token. With
// rotation enabled the presented token is revoked and replaced in the same
// transaction.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (domain.TokenResponse, error) {
	hash := cryptox.FingerprintToken(refreshToken)

	record, err := s.Store.RefreshTokens().GetRefreshTokenByHash(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return domain.TokenResponse{}, ErrInvalidRefreshToken
	}
	if err != nil {
		return domain.TokenResponse{}, fmt.Errorf("load refresh token: %w", err)
	}
	if record.Revoked || time.Now().After(record.ExpiresAt) {
		return domain.TokenResponse{}, ErrInvalidRefreshToken
	}

	user, err := s.Store.Users().GetUserByID(ctx, record.UserID)
	if err != nil {
		return domain.TokenResponse{}, fmt.Errorf("load user: %w", err)
	}

	now := time.Now().UTC()
	access, err := s.Signer.Sign(jwtx.NewAccessClaims(user.ID, record.ClientID, record.Scopes, s.accessTTL(), s.Issuer, now))
	if err != nil {
		return domain.TokenResponse{}, fmt.Errorf("sign access token: %w", err)
	}

	resp := domain.TokenResponse{
		AccessToken: access,
		ExpiresIn:   int64(s.accessTTL().Seconds()),
		ExpiresOn:   now.Add(s.accessTTL()).Unix(),
		NotBefore:   now.Unix(),
		TokenType:   "Bearer",
		Scope:       strings.Join(record.Scopes, " "),
	}

	if s.RotateRefreshTokens {
		next, err := cryptox.GenerateToken(cryptox.TokenSize256)
		if err != nil {
			return domain.TokenResponse{}, fmt.Errorf("generate refresh token: %w", err)
		}

		expiresAt := now.Add(s.refreshTTL())
		err = s.Store.WithTx(ctx, func(tx store.Tx) error {
			if err := tx.RefreshTokens().RevokeRefreshToken(ctx, hash); err != nil {
				return fmt.Errorf("revoke old token: %w", err)
			}
			return tx.RefreshTokens().CreateRefreshToken(ctx, domain.RefreshToken{
				ID:        idx.New().String(),
				UserID:    record.UserID,
				ClientID:  record.ClientID,
				TokenHash: cryptox.FingerprintToken(next),
				Scopes:    record.Scopes,
				ExpiresAt: expiresAt,
				CreatedAt: now,
				UpdatedAt: now,
			})
		})
		if err != nil {
			return domain.TokenResponse{}, err
		}

		resp.RefreshToken = next
		resp.RefreshTokenExpiresIn = int64(s.refreshTTL().Seconds())
		resp.RefreshTokenExpiresOn = expiresAt.Unix()
	}

	return resp, nil
}

// Revoke invalidates a refresh token for a client. Idempotent: revoking an
// unknown or already-revoked token succeeds, since the desired end state
// holds either way.
func (s *TokenService) Revoke(ctx context.Context, refreshToken, clientID string) error {
	hash := cryptox.FingerprintToken(refreshToken)

	record, err := s.Store.RefreshTokens().GetRefreshTokenByHash(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load refresh token: %w", err)
	}
	if record.ClientID != clientID {
		return ErrInvalidRefreshToken
	}

	if err := s.Store.RefreshTokens().RevokeRefreshToken(ctx, hash); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (s *TokenService) issueTokens(ctx context.Context, user *domain.User, clientID string, scopes []string, withRefresh bool) (domain.TokenResponse, error) {
	now := time.Now().UTC()

	access, err := s.Signer.Sign(jwtx.NewAccessClaims(user.ID, clientID, scopes, s.accessTTL(), s.Issuer, now))
	if err != nil {
		return domain.TokenResponse{}, fmt.Errorf("sign access token: %w", err)
	}

	resp := domain.TokenResponse{
		AccessToken: access,
		ExpiresIn:   int64(s.accessTTL().Seconds()),
		ExpiresOn:   now.Add(s.accessTTL()).Unix(),
		NotBefore:   now.Unix(),
		TokenType:   "Bearer",
		Scope:       strings.Join(scopes, " "),
	}

	if withRefresh {
		refresh, err := cryptox.GenerateToken(cryptox.TokenSize256)
		if err != nil {
			return domain.TokenResponse{}, fmt.Errorf("generate refresh token: %w", err)
		}

		expiresAt := now.Add(s.refreshTTL())
		err = s.Store.RefreshTokens().CreateRefreshToken(ctx, domain.RefreshToken{
			ID:        idx.New().String(),
			UserID:    user.ID,
			ClientID:  clientID,
			TokenHash: cryptox.FingerprintToken(refresh),
			Scopes:    scopes,
			ExpiresAt: expiresAt,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return domain.TokenResponse{}, fmt.Errorf("store refresh token: %w", err)
		}

		resp.RefreshToken = refresh
		resp.RefreshTokenExpiresIn = int64(s.refreshTTL().Seconds())
		resp.RefreshTokenExpiresOn = expiresAt.Unix()
	}

	if containsScope(scopes, "openid") {
		idToken, err := s.Signer.Sign(jwtx.NewIDTokenClaims(
			user.ID, clientID, user.Email, user.EmailVerified,
			user.FirstName, user.LastName, user.Locale,
			s.idTTL(), s.Issuer, now))
		if err != nil {
			return domain.TokenResponse{}, fmt.Errorf("sign id token: %w", err)
		}
		resp.IDToken = idToken
	}

	return resp, nil
}

// verifyPKCE recomputes the challenge from the verifier. Comparisons are
// constant time even though challenges are not secrets, to keep the policy
// uniform across credential checks.
func verifyPKCE(verifier, challenge, method string) bool {
	if verifier == "" || challenge == "" {
		return false
	}
	switch method {
	case "plain":
		return cryptox.ConstantTimeEquals(verifier, challenge)
	default: // "S256" and unset
		sum := sha256.Sum256([]byte(verifier))
		computed := base64.RawURLEncoding.EncodeToString(sum[:])
		return cryptox.ConstantTimeEquals(computed, challenge)
	}
}

func containsScope(scopes []string, want string) bool {
	for _, sc := range scopes {
		if sc == want {
			return true
		}
	}
	return false
}

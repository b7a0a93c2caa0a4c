package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/CrazyForks/melody-auth/internal/auth/domain"
	"github.com/CrazyForks/melody-auth/internal/auth/store"
	"github.com/CrazyForks/melody-auth/pkg/cryptox"
)

// RecoveryService manages the single active recovery code per user. Only
// the fingerprint is stored; the plaintext is shown exactly once at
// enrollment.
type RecoveryService struct {
	Store store.Store
}

// Enroll mints a recovery code for the session's user, replacing any
// previous one. Returns the plaintext for one-time display.
func (s *RecoveryService) Enroll(ctx context.Context, userID string) (string, error) {
	code, err := cryptox.GenerateToken(cryptox.TokenSize192)
	if err != nil {
		return "", fmt.Errorf("generate recovery code: %w", err)
	}

	if err := s.Store.Users().UpdateRecoveryCodeHash(ctx, userID, cryptox.FingerprintToken(code)); err != nil {
		return "", fmt.Errorf("store recovery code: %w", err)
	}
	return code, nil
}

// SignIn verifies an email/recovery-code pair, consuming the code on
// success. A successful recovery sign-in is proof of full identity: the
// caller marks the session fully authorized, and the spent code means the
// next recovery needs a fresh enrollment.
func (s *RecoveryService) SignIn(ctx context.Context, email, code string) (domain.User, error) {
	var user domain.User
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		u, err := tx.Users().GetUserByEmail(ctx, email)
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidRecoveryCode
		}
		if err != nil {
			return fmt.Errorf("load user: %w", err)
		}

		if u.RecoveryCodeHash == "" ||
			!cryptox.ConstantTimeEquals(cryptox.FingerprintToken(code), u.RecoveryCodeHash) {
			return ErrInvalidRecoveryCode
		}

		// Consume the code inside the same transaction so it can only
		// ever succeed once.
		if err := tx.Users().UpdateRecoveryCodeHash(ctx, u.ID, ""); err != nil {
			return fmt.Errorf("consume recovery code: %w", err)
		}
		u.RecoveryCodeHash = ""
		user = u
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

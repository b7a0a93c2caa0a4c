package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/CrazyForks/melody-auth/internal/auth/domain"
	"github.com/CrazyForks/melody-auth/internal/auth/kv"
	"github.com/CrazyForks/melody-auth/internal/auth/notify"
	"github.com/CrazyForks/melody-auth/internal/auth/store"
	"github.com/CrazyForks/melody-auth/pkg/cryptox"
	"github.com/CrazyForks/melody-auth/pkg/idx"
)

const (
	resetCodeDigits = 8
	resetCodeTTL    = 10 * time.Minute

	verifyEmailCodeDigits = 8
	verifyEmailCodeTTL    = 24 * time.Hour
)

// UserService covers the primary password factor: sign-in, sign-up,
// email verification and password reset.
type UserService struct {
	Store store.Store
	KV    kv.Store
	Email notify.EmailSender

	// EnableEmailVerification mails a confirmation code on sign-up.
	// Verification never blocks the authorization flow.
	EnableEmailVerification bool
}

// SignIn verifies an email/password pair. Unknown email and wrong password
// return the same error so the endpoint cannot be used as an account probe.
func (s *UserService) SignIn(ctx context.Context, email, password string) (domain.User, error) {
	user, err := s.Store.Users().GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		// Burn a hash anyway so timing does not reveal whether the
		// account exists.
		_ = cryptox.VerifyPassword(password, dummyHash())
		return domain.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}

	if err := cryptox.VerifyPassword(password, user.PasswordHash); err != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// SignUpParams are the fields accepted at registration.
type SignUpParams struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Locale    string
	Org       string
}

// SignUp registers a new user and returns the created record.
func (s *UserService) SignUp(ctx context.Context, p SignUpParams) (domain.User, error) {
	hash, err := cryptox.HashPassword(p.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	user := domain.User{
		ID:           idx.New().String(),
		Email:        p.Email,
		PasswordHash: hash,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		Locale:       p.Locale,
		Org:          p.Org,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.Store.Users().CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.User{}, ErrEmailTaken
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}

	if s.EnableEmailVerification {
		// Best effort: the account is already committed and a lost
		// code only delays verification, never the sign-up.
		_ = s.sendEmailVerification(ctx, user)
	}
	return user, nil
}

func (s *UserService) sendEmailVerification(ctx context.Context, user domain.User) error {
	code, err := cryptox.GenerateNumericCode(verifyEmailCodeDigits)
	if err != nil {
		return fmt.Errorf("generate verification code: %w", err)
	}
	if err := s.KV.Set(ctx, kv.VerifyEmailCodeKey(user.ID), code, verifyEmailCodeTTL); err != nil {
		return fmt.Errorf("store verification code: %w", err)
	}

	subject, htmlBody, textBody := notify.VerifyEmailEmail(code)
	if err := s.Email.SendEmail(ctx, user.Email, subject, htmlBody, textBody); err != nil {
		return fmt.Errorf("%w: %w", ErrNotificationDispatchFailed, err)
	}
	return nil
}

// VerifyEmail checks the sign-up confirmation code and marks the address
// verified. The code is single use.
func (s *UserService) VerifyEmail(ctx context.Context, email, code string) error {
	user, err := s.Store.Users().GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return ErrInvalidMFACode
	}
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}

	stored, err := s.KV.Get(ctx, kv.VerifyEmailCodeKey(user.ID))
	if errors.Is(err, kv.ErrNotFound) {
		return ErrInvalidMFACode
	}
	if err != nil {
		return fmt.Errorf("load verification code: %w", err)
	}
	if !cryptox.ConstantTimeEquals(code, stored) {
		return ErrInvalidMFACode
	}

	if !user.EmailVerified {
		if err := s.Store.Users().MarkEmailVerified(ctx, user.ID); err != nil {
			return fmt.Errorf("mark email verified: %w", err)
		}
	}
	_ = s.KV.Delete(ctx, kv.VerifyEmailCodeKey(user.ID))
	return nil
}

// RequestPasswordReset emails a short-lived reset code. An unknown email
// succeeds silently so the endpoint cannot be used as an account probe.
func (s *UserService) RequestPasswordReset(ctx context.Context, email string) error {
	if _, err := s.Store.Users().GetUserByEmail(ctx, email); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load user: %w", err)
	}

	code, err := cryptox.GenerateNumericCode(resetCodeDigits)
	if err != nil {
		return fmt.Errorf("generate reset code: %w", err)
	}
	if err := s.KV.Set(ctx, kv.ResetPasswordCodeKey(email), code, resetCodeTTL); err != nil {
		return fmt.Errorf("store reset code: %w", err)
	}

	subject, htmlBody, textBody := notify.PasswordResetEmail(code)
	if err := s.Email.SendEmail(ctx, email, subject, htmlBody, textBody); err != nil {
		return fmt.Errorf("%w: %w", ErrNotificationDispatchFailed, err)
	}
	return nil
}

// ConfirmPasswordReset checks the reset code, sets the new password and
// revokes outstanding refresh tokens for the user.
func (s *UserService) ConfirmPasswordReset(ctx context.Context, email, code, newPassword string) error {
	stored, err := s.KV.Get(ctx, kv.ResetPasswordCodeKey(email))
	if errors.Is(err, kv.ErrNotFound) {
		return ErrInvalidMFACode
	}
	if err != nil {
		return fmt.Errorf("load reset code: %w", err)
	}
	if !cryptox.ConstantTimeEquals(code, stored) {
		return ErrInvalidMFACode
	}

	user, err := s.Store.Users().GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidMFACode
		}
		return fmt.Errorf("load user: %w", err)
	}

	hash, err := cryptox.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.Store.Users().UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	// Stolen-credential cleanup: sessions minted with the old password
	// must not outlive it.
	if err := s.Store.RefreshTokens().RevokeAllUserRefreshTokens(ctx, user.ID); err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}

	_ = s.KV.Delete(ctx, kv.ResetPasswordCodeKey(email))
	return nil
}

// dummyHash returns a valid argon2id encoding used to equalize timing on
// unknown-email sign-ins. The underlying password is random and discarded.
// Computed lazily so the pepper path can be configured first.
var dummyHash = sync.OnceValue(func() string {
	h, err := cryptox.HashPassword(cryptox.MustGenerateToken(cryptox.TokenSize128))
	if err != nil {
		panic(err)
	}
	return h
})

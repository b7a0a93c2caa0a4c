package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/CrazyForks/melody-auth/internal/auth/domain"
	"github.com/CrazyForks/melody-auth/internal/auth/kv"
	"github.com/CrazyForks/melody-auth/internal/auth/notify"
	"github.com/CrazyForks/melody-auth/internal/auth/store"
	"github.com/CrazyForks/melody-auth/pkg/cryptox"
	"github.com/CrazyForks/melody-auth/pkg/idx"
)

const (
	mfaCodeDigits = 6
	mfaCodeTTL    = 5 * time.Minute

	// DefaultRememberDeviceTTL is how long a remembered device may skip
	// re-verification of its factor.
	DefaultRememberDeviceTTL = 30 * 24 * time.Hour
)

// MFAService implements the second-factor operations: email and SMS
// one-time codes, authenticator (TOTP) setup and verification, and
// remembered devices.
type MFAService struct {
	Store store.Store
	KV    kv.Store
	Email notify.EmailSender
	SMS   notify.SMSSender

	// OTPIssuer is the issuer name shown in authenticator apps.
	OTPIssuer string

	RememberDeviceTTL time.Duration
}

func (s *MFAService) rememberTTL() time.Duration {
	if s.RememberDeviceTTL > 0 {
		return s.RememberDeviceTTL
	}
	return DefaultRememberDeviceTTL
}

// SendEmailCode generates and emails a one-time code bound to the session.
// Re-sending replaces the previous code.
func (s *MFAService) SendEmailCode(ctx context.Context, sessionID string, user *domain.User) error {
	code, err := cryptox.GenerateNumericCode(mfaCodeDigits)
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	if err := s.KV.Set(ctx, kv.EmailMFACodeKey(sessionID), code, mfaCodeTTL); err != nil {
		return fmt.Errorf("store code: %w", err)
	}

	subject, htmlBody, textBody := notify.MFACodeEmail(code)
	if err := s.Email.SendEmail(ctx, user.Email, subject, htmlBody, textBody); err != nil {
		return fmt.Errorf("%w: %w", ErrNotificationDispatchFailed, err)
	}
	return nil
}

// VerifyEmailCode checks a submitted code against the stored one. The code
// survives a mismatch (the user may retry until it expires) and is deleted
// on success. First-time success also enrolls the factor and marks the
// email verified, since possession of the inbox was just proven.
func (s *MFAService) VerifyEmailCode(ctx context.Context, sessionID, code string, user *domain.User) error {
	if err := s.verifyStoredCode(ctx, kv.EmailMFACodeKey(sessionID), code); err != nil {
		return err
	}

	if !user.EnrolledIn(domain.MFATypeEmail) {
		if err := s.Store.Users().EnrollMFAType(ctx, user.ID, domain.MFATypeEmail); err != nil {
			return fmt.Errorf("enroll email factor: %w", err)
		}
		user.MFATypes = append(user.MFATypes, domain.MFATypeEmail)
	}
	if !user.EmailVerified {
		if err := s.Store.Users().MarkEmailVerified(ctx, user.ID); err != nil {
			return fmt.Errorf("mark email verified: %w", err)
		}
		user.EmailVerified = true
	}
	return nil
}

// SetupSMS records the phone number the user wants codes sent to and sends
// the first code. The number is not persisted to the user record until a
// code verifies against it.
func (s *MFAService) SetupSMS(ctx context.Context, sessionID, phoneNumber string, user *domain.User) error {
	if err := s.KV.Set(ctx, kv.SMSPendingNumberKey(sessionID), phoneNumber, DefaultSessionTTL); err != nil {
		return fmt.Errorf("store pending number: %w", err)
	}
	return s.sendSMSCode(ctx, sessionID, phoneNumber)
}

// SMSInfo describes the state the SMS verification screen needs.
type SMSInfo struct {
	PhoneNumber string // masked, last four digits only
	CodeSent    bool
}

// GetSMSInfo reports whether the user already has a number on file and
// sends a code to it if so.
func (s *MFAService) GetSMSInfo(ctx context.Context, sessionID string, user *domain.User) (SMSInfo, error) {
	if user.SMSPhoneNumber == "" || !user.SMSVerified {
		return SMSInfo{}, nil
	}
	if err := s.sendSMSCode(ctx, sessionID, user.SMSPhoneNumber); err != nil {
		return SMSInfo{}, err
	}
	return SMSInfo{PhoneNumber: maskPhoneNumber(user.SMSPhoneNumber), CodeSent: true}, nil
}

// ResendSMSCode sends a fresh code to the pending or verified number.
func (s *MFAService) ResendSMSCode(ctx context.Context, sessionID string, user *domain.User) error {
	number, err := s.smsNumber(ctx, sessionID, user)
	if err != nil {
		return err
	}
	return s.sendSMSCode(ctx, sessionID, number)
}

// VerifySMSCode checks a submitted SMS code. On first-time success the
// pending number is persisted and the factor enrolled.
func (s *MFAService) VerifySMSCode(ctx context.Context, sessionID, code string, user *domain.User) error {
	if err := s.verifyStoredCode(ctx, kv.SMSMFACodeKey(sessionID), code); err != nil {
		return err
	}

	if !user.SMSVerified {
		pending, err := s.KV.Get(ctx, kv.SMSPendingNumberKey(sessionID))
		if err == nil && pending != "" {
			if err := s.Store.Users().UpdateSMSPhoneNumber(ctx, user.ID, pending); err != nil {
				return fmt.Errorf("persist phone number: %w", err)
			}
			user.SMSPhoneNumber = pending
			user.SMSVerified = true
			_ = s.KV.Delete(ctx, kv.SMSPendingNumberKey(sessionID))
		}
	}
	if !user.EnrolledIn(domain.MFATypeSMS) {
		if err := s.Store.Users().EnrollMFAType(ctx, user.ID, domain.MFATypeSMS); err != nil {
			return fmt.Errorf("enroll sms factor: %w", err)
		}
		user.MFATypes = append(user.MFATypes, domain.MFATypeSMS)
	}
	return nil
}

// OTPSetup is what the authenticator enrollment screen needs to render a
// QR code.
type OTPSetup struct {
	Secret string
	URI    string
}

// SetupOTP generates an authenticator secret for the session. The secret
// lives only in the KV until the first valid code confirms the user has
// captured it.
func (s *MFAService) SetupOTP(ctx context.Context, sessionID string, user *domain.User) (OTPSetup, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.OTPIssuer,
		AccountName: user.Email,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return OTPSetup{}, fmt.Errorf("generate totp key: %w", err)
	}

	if err := s.KV.Set(ctx, kv.OTPPendingSecretKey(sessionID), key.Secret(), DefaultSessionTTL); err != nil {
		return OTPSetup{}, fmt.Errorf("store pending secret: %w", err)
	}
	return OTPSetup{Secret: key.Secret(), URI: key.URL()}, nil
}

// OTPInfo describes the state the authenticator verification screen needs.
type OTPInfo struct {
	Configured bool

	// AllowEmailFallback mirrors the policy flag so the UI can offer the
	// email alternative.
	AllowEmailFallback bool
}

// GetOTPInfo reports whether the user has a confirmed authenticator and
// whether the policy permits falling back to an email code.
func (s *MFAService) GetOTPInfo(user *domain.User, policy *domain.MFAPolicy) OTPInfo {
	return OTPInfo{
		Configured:         user.OTPVerified && user.OTPSecret != "",
		AllowEmailFallback: policy != nil && policy.AllowEmailFallback,
	}
}

// VerifyOTPCode validates an authenticator code against the confirmed
// secret, or the session's pending secret during first-time setup. A first
// valid code persists the pending secret and enrolls the factor.
func (s *MFAService) VerifyOTPCode(ctx context.Context, sessionID, code string, user *domain.User) error {
	secret := user.OTPSecret

	pendingSetup := false
	if secret == "" || !user.OTPVerified {
		pending, err := s.KV.Get(ctx, kv.OTPPendingSecretKey(sessionID))
		if errors.Is(err, kv.ErrNotFound) {
			return ErrMFANotConfigured
		}
		if err != nil {
			return fmt.Errorf("load pending secret: %w", err)
		}
		secret = pending
		pendingSetup = true
	}

	if !totp.Validate(code, secret) {
		return ErrInvalidMFACode
	}

	if pendingSetup {
		if err := s.Store.Users().UpdateOTPSecret(ctx, user.ID, secret); err != nil {
			return fmt.Errorf("persist otp secret: %w", err)
		}
		if err := s.Store.Users().EnrollMFAType(ctx, user.ID, domain.MFATypeOTP); err != nil {
			return fmt.Errorf("enroll otp factor: %w", err)
		}
		user.OTPSecret = secret
		user.OTPVerified = true
		user.MFATypes = append(user.MFATypes, domain.MFATypeOTP)
		_ = s.KV.Delete(ctx, kv.OTPPendingSecretKey(sessionID))
	}
	return nil
}

// FallbackToEmail switches an OTP verification to an email code when the
// policy allows it, sending the code in the same call.
func (s *MFAService) FallbackToEmail(ctx context.Context, sessionID string, user *domain.User, policy *domain.MFAPolicy) error {
	if policy == nil || !policy.AllowEmailFallback {
		return ErrFallbackNotAllowed
	}
	return s.SendEmailCode(ctx, sessionID, user)
}

// Enroll records the factor the user picked on the enrollment screen.
func (s *MFAService) Enroll(ctx context.Context, user *domain.User, t domain.MFAType, policy *domain.MFAPolicy) error {
	if !policy.Allows(t) {
		return ErrMFANotConfigured
	}
	if err := s.Store.Users().EnrollMFAType(ctx, user.ID, t); err != nil {
		return fmt.Errorf("enroll factor: %w", err)
	}
	if !user.EnrolledIn(t) {
		user.MFATypes = append(user.MFATypes, t)
	}
	return nil
}

// RememberDevice mints an opaque device token for the verified factor and
// stores only its fingerprint.
func (s *MFAService) RememberDevice(ctx context.Context, userID string, factor domain.MFAType) (string, error) {
	token, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return "", fmt.Errorf("generate device token: %w", err)
	}

	now := time.Now().UTC()
	err = s.Store.RememberedDevices().CreateRememberedDevice(ctx, domain.RememberedDevice{
		ID:        idx.New().String(),
		UserID:    userID,
		Factor:    factor,
		TokenHash: cryptox.FingerprintToken(token),
		ExpiresAt: now.Add(s.rememberTTL()),
		CreatedAt: now,
	})
	if err != nil {
		return "", fmt.Errorf("store remembered device: %w", err)
	}
	return token, nil
}

// CheckRememberedDevice reports whether the device token satisfies the
// factor for this user. Invalid or expired tokens just report false; the
// caller falls through to a normal verification.
func (s *MFAService) CheckRememberedDevice(ctx context.Context, userID string, factor domain.MFAType, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	_, err := s.Store.RememberedDevices().GetRememberedDevice(ctx, userID, factor, cryptox.FingerprintToken(token))
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load remembered device: %w", err)
	}
	return true, nil
}

func (s *MFAService) sendSMSCode(ctx context.Context, sessionID, phoneNumber string) error {
	code, err := cryptox.GenerateNumericCode(mfaCodeDigits)
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	if err := s.KV.Set(ctx, kv.SMSMFACodeKey(sessionID), code, mfaCodeTTL); err != nil {
		return fmt.Errorf("store code: %w", err)
	}
	if err := s.SMS.SendSMS(ctx, phoneNumber, notify.MFACodeSMS(code)); err != nil {
		return fmt.Errorf("%w: %w", ErrNotificationDispatchFailed, err)
	}
	return nil
}

func (s *MFAService) smsNumber(ctx context.Context, sessionID string, user *domain.User) (string, error) {
	if user.SMSVerified && user.SMSPhoneNumber != "" {
		return user.SMSPhoneNumber, nil
	}
	pending, err := s.KV.Get(ctx, kv.SMSPendingNumberKey(sessionID))
	if errors.Is(err, kv.ErrNotFound) {
		return "", ErrMFANotConfigured
	}
	if err != nil {
		return "", fmt.Errorf("load pending number: %w", err)
	}
	return pending, nil
}

// verifyStoredCode compares a submitted code with one stored in the KV.
// A mismatch leaves the stored code intact so the user can retry; success
// consumes it.
func (s *MFAService) verifyStoredCode(ctx context.Context, key, code string) error {
	stored, err := s.KV.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return ErrInvalidMFACode
	}
	if err != nil {
		return fmt.Errorf("load code: %w", err)
	}
	if !cryptox.ConstantTimeEquals(code, stored) {
		return ErrInvalidMFACode
	}
	return s.KV.Delete(ctx, key)
}

func maskPhoneNumber(n string) string {
	if len(n) <= 4 {
		return n
	}
	masked := make([]byte, len(n)-4)
	for i := range masked {
		masked[i] = '*'
	}
	return string(masked) + n[len(n)-4:]
}

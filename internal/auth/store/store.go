package store

import (
	"context"
	"errors"

	"github.com/CrazyForks/melody-auth/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite for
// now) implement this. It exposes sub-repositories to keep concerns tidy
// and testable, and to stop callers from accidentally opening transactions
// within transactions.
type Store interface {
	Users() Users
	Applications() Applications
	Passkeys() Passkeys
	Consents() Consents
	RememberedDevices() RememberedDevices
	RefreshTokens() RefreshTokens

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed. This is the
	// recommended way to handle multi-step writes (e.g. refresh rotation,
	// passkey counter updates).
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds
// Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	// GetUserByID returns a user by id.
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByEmail is used during password sign-in and passkey sign-in.
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	// CreateUser inserts a new user (id is provided by app via ULID).
	// Returns ErrAlreadyExists when the email is taken.
	CreateUser(ctx context.Context, u domain.User) error

	// UpdatePasswordHash sets the password hash and bumps updated_at.
	UpdatePasswordHash(ctx context.Context, userID string, newHash string) error

	// EnrollMFAType appends a factor to the user's enrolled set. Enrolling
	// an already present factor is a no-op.
	EnrollMFAType(ctx context.Context, userID string, t domain.MFAType) error

	// UpdateOTPSecret persists a confirmed authenticator secret and marks
	// the factor verified.
	UpdateOTPSecret(ctx context.Context, userID string, secret string) error

	// UpdateSMSPhoneNumber persists a confirmed phone number and marks the
	// factor verified.
	UpdateSMSPhoneNumber(ctx context.Context, userID string, phoneNumber string) error

	// UpdateRecoveryCodeHash replaces the single active recovery code
	// fingerprint. An empty hash clears it (consumption).
	UpdateRecoveryCodeHash(ctx context.Context, userID string, hash string) error

	// UpdateSkipPasskeyEnroll records a "don't ask again" decline.
	UpdateSkipPasskeyEnroll(ctx context.Context, userID string, skip bool) error

	// MarkEmailVerified flips email_verified after a verification code
	// checks out.
	MarkEmailVerified(ctx context.Context, userID string) error

	// DeleteUser cascades to passkeys, consents, remembered devices and
	// refresh tokens (per schema).
	DeleteUser(ctx context.Context, userID string) error
}

type Applications interface {
	// GetApplicationByClientID fetches an application during flow
	// initiation and token exchange.
	GetApplicationByClientID(ctx context.Context, clientID string) (domain.Application, error)

	// CreateApplication registers a new application (id is ULID).
	CreateApplication(ctx context.Context, a domain.Application) error

	// ListApplications returns all applications ordered by creation date
	// (newest first).
	ListApplications(ctx context.Context) ([]domain.Application, error)

	// SetApplicationActive enables or disables an application.
	SetApplicationActive(ctx context.Context, clientID string, active bool) error
}

type Passkeys interface {
	// CreatePasskey stores a freshly registered credential.
	CreatePasskey(ctx context.Context, p domain.Passkey) error

	// GetPasskeyByCredentialID fetches a credential during assertion.
	GetPasskeyByCredentialID(ctx context.Context, credentialID string) (domain.Passkey, error)

	// ListUserPasskeys returns all credentials registered for a user.
	ListUserPasskeys(ctx context.Context, userID string) ([]domain.Passkey, error)

	// CountUserPasskeys is used by the orchestrator to decide whether to
	// offer enrollment.
	CountUserPasskeys(ctx context.Context, userID string) (int, error)

	// UpdatePasskeyCounter persists the authenticator's signature counter
	// after a successful assertion.
	UpdatePasskeyCounter(ctx context.Context, credentialID string, counter uint32) error

	// DeletePasskey removes a credential.
	DeletePasskey(ctx context.Context, credentialID string) error
}

type Consents interface {
	// HasConsent reports whether the user has granted this application.
	HasConsent(ctx context.Context, userID, appID string) (bool, error)

	// GrantConsent records the grant. Granting twice is a no-op.
	GrantConsent(ctx context.Context, userID, appID string) error

	// RevokeConsent removes the grant.
	RevokeConsent(ctx context.Context, userID, appID string) error
}

type RememberedDevices interface {
	// CreateRememberedDevice stores a device token fingerprint for a
	// user+factor pair.
	CreateRememberedDevice(ctx context.Context, d domain.RememberedDevice) error

	// GetRememberedDevice returns the record for a user+factor+hash
	// triple, only if not expired.
	GetRememberedDevice(ctx context.Context, userID string, factor domain.MFAType, tokenHash string) (domain.RememberedDevice, error)

	// DeleteUserRememberedDevices removes all device records for a user.
	DeleteUserRememberedDevices(ctx context.Context, userID string) error

	// DeleteExpiredRememberedDevices is housekeeping.
	DeleteExpiredRememberedDevices(ctx context.Context) error
}

type RefreshTokens interface {
	// CreateRefreshToken stores a new refresh token record.
	CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error

	// GetRefreshTokenByHash returns the token by its fingerprint.
	GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error)

	// RevokeRefreshToken flips revoked=1, sets updated_at. Revoking an
	// already revoked token is a no-op.
	RevokeRefreshToken(ctx context.Context, hash string) error

	// RevokeAllUserRefreshTokens bulk-revokes every live token of a user
	// across all clients, as on a password reset.
	RevokeAllUserRefreshTokens(ctx context.Context, userID string) error

	// DeleteExpiredRefreshTokens is housekeeping.
	DeleteExpiredRefreshTokens(ctx context.Context) error
}

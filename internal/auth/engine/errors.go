package engine

import "errors"

var (
	// ErrSessionNotFound covers both missing and expired sessions; the
	// two cases are indistinguishable on purpose.
	ErrSessionNotFound = errors.New("engine: wrong session id")

	ErrInvalidClient      = errors.New("engine: unknown or inactive client")
	ErrInvalidRedirectURI = errors.New("engine: redirect uri not registered")
	ErrInvalidScope       = errors.New("engine: no requested scope is allowed")

	ErrInvalidCredentials = errors.New("engine: invalid email or password")
	ErrEmailTaken         = errors.New("engine: email already registered")

	ErrInvalidMFACode      = errors.New("engine: invalid verification code")
	ErrMFANotConfigured    = errors.New("engine: factor not configured for user")
	ErrFallbackNotAllowed  = errors.New("engine: email fallback not permitted")
	ErrInvalidRecoveryCode = errors.New("engine: invalid recovery code")

	ErrPasskeyChallengeMismatch = errors.New("engine: passkey challenge missing or mismatched")
	ErrPasskeyCounterReplay     = errors.New("engine: passkey signature counter did not increase")
	ErrNoPasskey                = errors.New("engine: no passkey registered")

	ErrPKCEVerificationFailed  = errors.New("engine: pkce verification failed")
	ErrAuthorizationIncomplete = errors.New("engine: authorization flow not complete")
	ErrInvalidRefreshToken     = errors.New("engine: invalid refresh token")

	ErrNotificationDispatchFailed = errors.New("engine: could not deliver verification code")
)

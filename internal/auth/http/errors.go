package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/CrazyForks/melody-auth/internal/auth/engine"
	"github.com/CrazyForks/melody-auth/pkg/httpx"
	"github.com/CrazyForks/melody-auth/pkg/slogx"
)

// writeEngineError maps engine sentinel errors onto OAuth-style error
// bodies. Anything unmapped is a server error and gets logged; client
// errors do not.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, engine.ErrSessionNotFound):
		httpx.WriteError(w, http.StatusNotFound, "wrong_session_id", "Session not found or expired")
	case errors.Is(err, engine.ErrInvalidClient):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_client", "Unknown or inactive client")
	case errors.Is(err, engine.ErrInvalidRedirectURI):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_redirect_uri", "Redirect URI is not registered")
	case errors.Is(err, engine.ErrInvalidScope):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_scope", "No requested scope is allowed")
	case errors.Is(err, engine.ErrInvalidCredentials):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
	case errors.Is(err, engine.ErrEmailTaken):
		httpx.WriteError(w, http.StatusBadRequest, "email_taken", "Email is already registered")
	case errors.Is(err, engine.ErrInvalidMFACode):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_mfa_code", "Invalid verification code")
	case errors.Is(err, engine.ErrMFANotConfigured):
		httpx.WriteError(w, http.StatusBadRequest, "mfa_not_configured", "Factor is not configured")
	case errors.Is(err, engine.ErrFallbackNotAllowed):
		httpx.WriteError(w, http.StatusBadRequest, "fallback_not_allowed", "Email fallback is not permitted")
	case errors.Is(err, engine.ErrInvalidRecoveryCode):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_recovery_code", "Invalid recovery code")
	case errors.Is(err, engine.ErrPasskeyChallengeMismatch):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_passkey", "Passkey verification failed")
	case errors.Is(err, engine.ErrPasskeyCounterReplay):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_passkey", "Passkey verification failed")
	case errors.Is(err, engine.ErrNoPasskey):
		httpx.WriteError(w, http.StatusNotFound, "no_passkey", "No passkey registered")
	case errors.Is(err, engine.ErrPKCEVerificationFailed):
		httpx.WriteError(w, http.StatusBadRequest, "pkce_verification_failed", "Code verifier does not match")
	case errors.Is(err, engine.ErrAuthorizationIncomplete):
		httpx.WriteError(w, http.StatusForbidden, "authorization_incomplete", "Authorization flow has remaining steps")
	case errors.Is(err, engine.ErrInvalidRefreshToken):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_refresh_token", "Refresh token is invalid, expired or revoked")
	case errors.Is(err, engine.ErrNotificationDispatchFailed):
		slogx.FromContext(r.Context()).Warn("code dispatch failed", "err", err)
		httpx.WriteError(w, http.StatusBadGateway, "dispatch_failed", "Could not deliver the verification code; request a new one")
	default:
		slogx.FromContext(r.Context()).Error("request failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Internal server error")
	}
}

// decodeJSON parses the request body, answering 400 itself on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return false
	}
	return true
}

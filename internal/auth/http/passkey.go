package http

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/CrazyForks/melody-auth/internal/auth/domain"
	"github.com/CrazyForks/melody-auth/internal/auth/engine"
	"github.com/CrazyForks/melody-auth/pkg/httpx"
)

// PasskeyHandler serves WebAuthn credential enrollment and assertion.
// Option and response payloads pass through in the wire shapes the
// browser's navigator.credentials API produces and consumes.
type PasskeyHandler struct {
	Sessions   *engine.SessionService
	Passkeys   *engine.PasskeyService
	Authorizer *engine.Authorizer
}

// HandleBeginEnroll handles GET /v1/embedded/{sessionId}/passkey-enroll,
// returning creation options for an authenticated session.
func (h *PasskeyHandler) HandleBeginEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.PathValue("sessionId")

	session, err := h.Sessions.GetWithUser(ctx, sessionID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	options, err := h.Passkeys.BeginEnroll(ctx, sessionID, session.User)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, options)
}

// HandleFinishEnroll handles POST /v1/embedded/{sessionId}/passkey-enroll.
// The body is the attestation response exactly as the browser produced it.
func (h *PasskeyHandler) HandleFinishEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.PathValue("sessionId")

	session, err := h.Sessions.GetWithUser(ctx, sessionID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	if err := h.Passkeys.FinishEnroll(ctx, sessionID, session.User, r.Body); err != nil {
		writeEngineError(w, r, err)
		return
	}

	result, err := h.Authorizer.Advance(ctx, sessionID, session, domain.StepPasskeyEnroll)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

type declineEnrollRequest struct {
	// Remember persists the decline so the prompt never comes back.
	Remember bool `json:"remember"`
}

// HandleDeclineEnroll handles POST /v1/embedded/{sessionId}/passkey-enroll/decline.
func (h *PasskeyHandler) HandleDeclineEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.PathValue("sessionId")

	session, err := h.Sessions.GetWithUser(ctx, sessionID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	var req declineEnrollRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.Passkeys.DeclineEnroll(ctx, session.User, req.Remember); err != nil {
		writeEngineError(w, r, err)
		return
	}

	result, err := h.Authorizer.Advance(ctx, sessionID, session, domain.StepPasskeyEnroll)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

// HandleBeginVerify handles GET /v1/embedded/{sessionId}/passkey-verify.
// The email comes as a query parameter because the user is not signed in
// yet; a passkey assertion is itself a primary factor.
func (h *PasskeyHandler) HandleBeginVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, err := h.Sessions.Get(ctx, r.PathValue("sessionId")); err != nil {
		writeEngineError(w, r, err)
		return
	}

	email := r.URL.Query().Get("email")
	if email == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "email is required")
		return
	}

	options, err := h.Passkeys.BeginVerify(ctx, email)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, options)
}

type finishVerifyRequest struct {
	Email string `json:"email"`

	// Response is the assertion from navigator.credentials.get, passed
	// through untouched.
	Response json.RawMessage `json:"response"`
}

// HandleFinishVerify handles POST /v1/embedded/{sessionId}/passkey-verify.
// A valid assertion is full proof of identity: it sets the user on the
// session and short-circuits every remaining step, consent included.
func (h *PasskeyHandler) HandleFinishVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.PathValue("sessionId")

	session, err := h.Sessions.Get(ctx, sessionID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	var req finishVerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || len(req.Response) == 0 {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "email and response are required")
		return
	}

	user, err := h.Passkeys.FinishVerify(ctx, req.Email, bytes.NewReader(req.Response))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	session.User = &user
	session.IsFullyAuthorized = true

	result, err := h.Authorizer.Advance(ctx, sessionID, session, domain.StepPassword)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

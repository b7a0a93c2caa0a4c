package http

import (
	"net/http"

	"github.com/CrazyForks/melody-auth/internal/auth/engine"
	"github.com/CrazyForks/melody-auth/pkg/httpx"
)

// TokenHandler serves the code-for-token exchange, refresh, and sign-out.
// These routes take no session id in the path; the exchange body carries
// the code itself.
type TokenHandler struct {
	Tokens *engine.TokenService
}

type exchangeRequest struct {
	SessionID    string `json:"sessionId"`
	CodeVerifier string `json:"codeVerifier"`
}

// HandleExchange handles POST /v1/embedded/token-exchange.
func (h *TokenHandler) HandleExchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.SessionID == "" || req.CodeVerifier == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "sessionId and codeVerifier are required")
		return
	}

	resp, err := h.Tokens.ExchangeCode(r.Context(), req.SessionID, req.CodeVerifier)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// HandleRefresh handles POST /v1/embedded/token-refresh.
func (h *TokenHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "refreshToken is required")
		return
	}

	resp, err := h.Tokens.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type signOutRequest struct {
	RefreshToken string `json:"refreshToken"`
	ClientID     string `json:"clientId"`
}

// HandleSignOut handles POST /v1/embedded/sign-out. Revocation of an
// unknown token still succeeds; there is nothing useful to tell a caller
// holding a token that no longer exists.
func (h *TokenHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	var req signOutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" || req.ClientID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "refreshToken and clientId are required")
		return
	}

	if err := h.Tokens.Revoke(r.Context(), req.RefreshToken, req.ClientID); err != nil {
		writeEngineError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

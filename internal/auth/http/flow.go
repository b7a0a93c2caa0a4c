package http

import (
	"net/http"

	"github.com/CrazyForks/melody-auth/internal/auth/domain"
	"github.com/CrazyForks/melody-auth/internal/auth/engine"
	"github.com/CrazyForks/melody-auth/pkg/httpx"
)

// FlowHandler serves session initiation, the primary factors and the
// consent and recovery screens.
type FlowHandler struct {
	Sessions   *engine.SessionService
	Apps       *engine.AppService
	Users      *engine.UserService
	MFA        *engine.MFAService
	Recovery   *engine.RecoveryService
	Consents   *engine.ConsentService
	Authorizer *engine.Authorizer
}

type initiateRequest struct {
	ClientID            string `json:"clientId"`
	RedirectURI         string `json:"redirectUri"`
	Scopes              string `json:"scopes"`
	CodeChallenge       string `json:"codeChallenge"`
	CodeChallengeMethod string `json:"codeChallengeMethod"`
	State               string `json:"state"`
	Locale              string `json:"locale"`
	Org                 string `json:"org"`
}

// HandleInitiate handles POST /v1/embedded/initiate. It validates the
// authorize request, creates a session and tells the client which step
// comes first (always password for a fresh session).
func (h *FlowHandler) HandleInitiate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req initiateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ClientID == "" || req.RedirectURI == "" || req.CodeChallenge == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request",
			"clientId, redirectUri and codeChallenge are required")
		return
	}

	res, err := h.Apps.VerifyAuthorizeRequest(ctx, req.ClientID, req.RedirectURI,
		httpx.ParseSpaceDelimitedFields(req.Scopes))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	session := h.Apps.NewSession(res, domain.AuthRequest{
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		State:               req.State,
		Locale:              req.Locale,
		Org:                 req.Org,
	})
	sessionID, err := h.Sessions.Create(ctx, session)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, engine.StepResult{
		SessionID: sessionID,
		NextStep:  domain.StepPassword,
	})
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`

	// DeviceToken is a remembered-device token from a previous MFA
	// verification; a recognized one skips the factor this session.
	DeviceToken string `json:"deviceToken"`
}

// HandleSignIn handles POST /v1/embedded/{sessionId}/sign-in.
func (h *FlowHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.PathValue("sessionId")

	session, err := h.Sessions.Get(ctx, sessionID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	var req signInRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.Users.SignIn(ctx, req.Email, req.Password)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	session.User = &user
	if req.DeviceToken != "" {
		if factor, enrolled := user.EnrolledFactor(session.MFA); enrolled {
			ok, err := h.MFA.CheckRememberedDevice(ctx, user.ID, factor, req.DeviceToken)
			if err != nil {
				writeEngineError(w, r, err)
				return
			}
			session.MFAVerified = ok
		}
	}

	result, err := h.Authorizer.Advance(ctx, sessionID, session, domain.StepPassword)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

type signUpRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Locale    string `json:"locale"`
}

// HandleSignUp handles POST /v1/embedded/{sessionId}/sign-up.
func (h *FlowHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.PathValue("sessionId")

	session, err := h.Sessions.Get(ctx, sessionID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	var req signUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	locale := req.Locale
	if locale == "" {
		locale = session.Request.Locale
	}
	user, err := h.Users.SignUp(ctx, engine.SignUpParams{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Locale:    locale,
		Org:       session.Request.Org,
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	session.User = &user
	result, err := h.Authorizer.Advance(ctx, sessionID, session, domain.StepPassword)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

type recoverySignInRequest struct {
	Email        string `json:"email"`
	RecoveryCode string `json:"recoveryCode"`
}

// HandleRecoverySignIn handles POST /v1/embedded/{sessionId}/sign-in/recovery-code.
// A valid recovery code is full proof of identity and short-circuits all
// remaining steps.
func (h *FlowHandler) HandleRecoverySignIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.PathValue("sessionId")

	session, err := h.Sessions.Get(ctx, sessionID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	var req recoverySignInRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.Recovery.SignIn(ctx, req.Email, req.RecoveryCode)
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

type consentView struct {
	AppName string   `json:"appName"`
	Scopes  []string `json:"scopes"`
}

// HandleGetConsent handles GET /v1/embedded/{sessionId}/app-consent.
func (h *FlowHandler) HandleGetConsent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	session, err := h.Sessions.GetWithUser(ctx, r.PathValue("sessionId"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, consentView{
		AppName: session.AppName,
		Scopes:  session.Request.Scopes,
	})
}

// HandlePostConsent handles POST /v1/embedded/{sessionId}/app-consent.
func (h *FlowHandler) HandlePostConsent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.PathValue("sessionId")

	session, err := h.Sessions.GetWithUser(ctx, sessionID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	if err := h.Consents.Grant(ctx, session.User.ID, session.AppID); err != nil {
		writeEngineError(w, r, err)
		return
	}

	result, err := h.Authorizer.Advance(ctx, sessionID, session, domain.StepConsent)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

type recoveryCodeView struct {
	RecoveryCode string `json:"recoveryCode"`
}

// HandleRecoveryCodeEnroll handles GET /v1/embedded/{sessionId}/recovery-code-enroll.
// The plaintext code is shown exactly once; re-requesting mints a
// replacement.
func (h *FlowHandler) HandleRecoveryCodeEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	session, err := h.Sessions.GetWithUser(ctx, r.PathValue("sessionId"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	code, err := h.Recovery.Enroll(ctx, session.User.ID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, recoveryCodeView{RecoveryCode: code})
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// HandleVerifyEmail handles POST /v1/embedded/verify-email. The code was
// mailed at sign-up when email verification is enabled.
func (h *FlowHandler) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Code == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "email and code are required")
		return
	}

	if err := h.Users.VerifyEmail(r.Context(), req.Email, req.Code); err != nil {
		writeEngineError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type resetPasswordRequest struct {
	Email string `json:"email"`
}

// HandleResetPassword handles POST /v1/embedded/reset-password.
func (h *FlowHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "email is required")
		return
	}

	if err := h.Users.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeEngineError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type resetPasswordConfirmRequest struct {
	Email    string `json:"email"`
	Code     string `json:"code"`
	Password string `json:"password"`
}

// HandleResetPasswordConfirm handles POST /v1/embedded/reset-password/confirm.
func (h *FlowHandler) HandleResetPasswordConfirm(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordConfirmRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Code == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "email, code and password are required")
		return
	}

	if err := h.Users.ConfirmPasswordReset(r.Context(), req.Email, req.Code, req.Password); err != nil {
		writeEngineError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

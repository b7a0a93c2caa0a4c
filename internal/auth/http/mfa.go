package http

import (
	"net/http"

	"github.com/CrazyForks/melody-auth/internal/auth/domain"
	"github.com/CrazyForks/melody-auth/internal/auth/engine"
	"github.com/CrazyForks/melody-auth/pkg/httpx"
)

// MFAHandler serves the second-factor screens: factor enrollment, email
// and SMS one-time codes, and authenticator (TOTP) verification.
type MFAHandler struct {
	Sessions   *engine.SessionService
	MFA        *engine.MFAService
	Authorizer *engine.Authorizer
}

type enrollmentView struct {
	Factors []domain.MFAType `json:"factors"`
}

// HandleGetEnrollment handles GET /v1/embedded/{sessionId}/mfa-enrollment,
// listing the factors the application's policy accepts.
func (h *MFAHandler) HandleGetEnrollment(w http.ResponseWriter, r *http.Request) {
	session, err := h.Sessions.GetWithUser(r.Context(), r.PathValue("sessionId"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	var factors []domain.MFAType
	if session.MFA != nil {
		factors = session.MFA.RequiredFactors
	}
	httpx.WriteJSON(w, http.StatusOK, enrollmentView{Factors: factors})
}

type enrollmentRequest struct {
	Type domain.MFAType `json:"type"`
}

// HandlePostEnrollment handles POST /v1/embedded/{sessionId}/mfa-enrollment.
// Picking a factor routes straight to that factor's verification step.
func (h *MFAHandler) HandlePostEnrollment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.PathValue("sessionId")

	session, err := h.Sessions.GetWithUser(ctx, sessionID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	var req enrollmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.MFA.Enroll(ctx, session.User, req.Type, session.MFA); err != nil {
		writeEngineError(w, r, err)
		return
	}

	result, err := h.Authorizer.Advance(ctx, sessionID, session, domain.StepMFAEnroll)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

// HandleSendEmailCode handles POST /v1/embedded/{sessionId}/email-mfa/code.
// Also the fallback entry point from the OTP screen: when the policy does
// not list email as a factor the send is only legal as a fallback.
func (h *MFAHandler) HandleSendEmailCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.PathValue("sessionId")

	session, err := h.Sessions.GetWithUser(ctx, sessionID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	if session.MFA != nil && !session.MFA.Allows(domain.MFATypeEmail) {
		err = h.MFA.FallbackToEmail(ctx, sessionID, session.User, session.MFA)
	} else {
		err = h.MFA.SendEmailCode(ctx, sessionID, session.User)
	}
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type verifyCodeRequest struct {
	Code string `json:"mfaCode"`

	// RememberDevice asks for a device token exempting this device from
	// the factor until it expires.
	RememberDevice bool `json:"rememberDevice"`
}

type verifyCodeResponse struct {
	engine.StepResult
	DeviceToken string `json:"deviceToken,omitempty"`
}

// HandleVerifyEmail handles POST /v1/embedded/{sessionId}/email-mfa.
func (h *MFAHandler) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	h.verifyFactor(w, r, domain.MFATypeEmail)
}

// HandleVerifySMS handles POST /v1/embedded/{sessionId}/sms-mfa.
func (h *MFAHandler) HandleVerifySMS(w http.ResponseWriter, r *http.Request) {
	h.verifyFactor(w, r, domain.MFATypeSMS)
}

// HandleVerifyOTP handles POST /v1/embedded/{sessionId}/otp-mfa.
func (h *MFAHandler) HandleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	h.verifyFactor(w, r, domain.MFATypeOTP)
}

func (h *MFAHandler) verifyFactor(w http.ResponseWriter, r *http.Request, factor domain.MFAType) {
	ctx := r.Context()
	sessionID := r.PathValue("sessionId")

	session, err := h.Sessions.GetWithUser(ctx, sessionID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	var req verifyCodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	switch factor {
	case domain.MFATypeEmail:
		err = h.MFA.VerifyEmailCode(ctx, sessionID, req.Code, session.User)
	case domain.MFATypeSMS:
		err = h.MFA.VerifySMSCode(ctx, sessionID, req.Code, session.User)
	case domain.MFATypeOTP:
		err = h.MFA.VerifyOTPCode(ctx, sessionID, req.Code, session.User)
	}
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	session.MFAVerified = true
	result, err := h.Authorizer.Advance(ctx, sessionID, session, factor.VerifyStep())
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	resp := verifyCodeResponse{StepResult: result}
	if req.RememberDevice {
		token, err := h.MFA.RememberDevice(ctx, session.User.ID, factor)
		if err != nil {
			writeEngineError(w, r, err)
			return
		}
		resp.DeviceToken = token
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// HandleOTPSetup handles GET /v1/embedded/{sessionId}/otp-mfa-setup,
// returning a fresh secret and otpauth URI for the QR code.
func (h *MFAHandler) HandleOTPSetup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.PathValue("sessionId")

	session, err := h.Sessions.GetWithUser(ctx, sessionID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	setup, err := h.MFA.SetupOTP(ctx, sessionID, session.User)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"otpSecret": setup.Secret,
		"otpUri":    setup.URI,
	})
}

// HandleGetOTP handles GET /v1/embedded/{sessionId}/otp-mfa.
func (h *MFAHandler) HandleGetOTP(w http.ResponseWriter, r *http.Request) {
	session, err := h.Sessions.GetWithUser(r.Context(), r.PathValue("sessionId"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	info := h.MFA.GetOTPInfo(session.User, session.MFA)
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{
		"configured":              info.Configured,
		"allowFallbackToEmailMfa": info.AllowEmailFallback,
	})
}

type smsSetupRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

// HandleSMSSetup handles POST /v1/embedded/{sessionId}/sms-mfa-setup.
func (h *MFAHandler) HandleSMSSetup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.PathValue("sessionId")

	session, err := h.Sessions.GetWithUser(ctx, sessionID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	var req smsSetupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PhoneNumber == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "phoneNumber is required")
		return
	}

	if err := h.MFA.SetupSMS(ctx, sessionID, req.PhoneNumber, session.User); err != nil {
		writeEngineError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleGetSMS handles GET /v1/embedded/{sessionId}/sms-mfa. For an
// enrolled user this sends a code and returns the masked number.
func (h *MFAHandler) HandleGetSMS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.PathValue("sessionId")

	session, err := h.Sessions.GetWithUser(ctx, sessionID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	info, err := h.MFA.GetSMSInfo(ctx, sessionID, session.User)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"phoneNumber": info.PhoneNumber,
		"codeSent":    info.CodeSent,
	})
}

// HandleResendSMSCode handles POST /v1/embedded/{sessionId}/sms-mfa/code.
func (h *MFAHandler) HandleResendSMSCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.PathValue("sessionId")

	session, err := h.Sessions.GetWithUser(ctx, sessionID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	if err := h.MFA.ResendSMSCode(ctx, sessionID, session.User); err != nil {
		writeEngineError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/CrazyForks/melody-auth/internal/auth/engine"
	"github.com/CrazyForks/melody-auth/internal/auth/kv"
	"github.com/CrazyForks/melody-auth/internal/auth/store"
	"github.com/CrazyForks/melody-auth/pkg/httpx"
	"github.com/CrazyForks/melody-auth/pkg/slogx"
)

// Router holds shared dependencies for the embedded auth HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store store.Store
	kv    kv.Store

	Sessions   *engine.SessionService
	Apps       *engine.AppService
	Users      *engine.UserService
	MFA        *engine.MFAService
	Passkeys   *engine.PasskeyService
	Recovery   *engine.RecoveryService
	Consents   *engine.ConsentService
	Tokens     *engine.TokenService
	Authorizer *engine.Authorizer
}

func NewRouter(buildVersion string, st store.Store, kvStore kv.Store, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		kv:           kvStore,
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerFlow()
	r.registerMFA()
	r.registerPasskeys()
	r.registerTokens()
	r.registerSystem()
}

// ServeHTTP implements http.Handler and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerFlow() {
	flow := &FlowHandler{
		Sessions:   r.Sessions,
		Apps:       r.Apps,
		Users:      r.Users,
		MFA:        r.MFA,
		Recovery:   r.Recovery,
		Consents:   r.Consents,
		Authorizer: r.Authorizer,
	}

	// Initiation is cheap; credential submission is not.
	r.Mux.Handle("POST /v1/embedded/initiate",
		httpx.Chain(http.HandlerFunc(flow.HandleInitiate),
			httpx.RateLimitByIP(httpx.LenientLimit),
		))
	r.Mux.Handle("POST /v1/embedded/{sessionId}/sign-in",
		httpx.Chain(http.HandlerFunc(flow.HandleSignIn),
			httpx.RateLimitBySession(httpx.StrictLimit),
		))
	r.Mux.Handle("POST /v1/embedded/{sessionId}/sign-up",
		httpx.Chain(http.HandlerFunc(flow.HandleSignUp),
			httpx.RateLimitBySession(httpx.StrictLimit),
		))
	r.Mux.Handle("POST /v1/embedded/{sessionId}/sign-in/recovery-code",
		httpx.Chain(http.HandlerFunc(flow.HandleRecoverySignIn),
			httpx.RateLimitBySession(httpx.StrictLimit),
		))

	r.Mux.Handle("GET /v1/embedded/{sessionId}/app-consent",
		httpx.Chain(http.HandlerFunc(flow.HandleGetConsent),
			httpx.RateLimitBySession(httpx.LenientLimit),
		))
	r.Mux.Handle("POST /v1/embedded/{sessionId}/app-consent",
		httpx.Chain(http.HandlerFunc(flow.HandlePostConsent),
			httpx.RateLimitBySession(httpx.LenientLimit),
		))

	r.Mux.Handle("GET /v1/embedded/{sessionId}/recovery-code-enroll",
		httpx.Chain(http.HandlerFunc(flow.HandleRecoveryCodeEnroll),
			httpx.RateLimitBySession(httpx.StrictLimit),
		))

	r.Mux.Handle("POST /v1/embedded/verify-email",
		httpx.Chain(http.HandlerFunc(flow.HandleVerifyEmail),
			httpx.RateLimitByIP(httpx.StrictLimit),
		))

	r.Mux.Handle("POST /v1/embedded/reset-password",
		httpx.Chain(http.HandlerFunc(flow.HandleResetPassword),
			httpx.RateLimitByIP(httpx.StrictLimit),
		))
	r.Mux.Handle("POST /v1/embedded/reset-password/confirm",
		httpx.Chain(http.HandlerFunc(flow.HandleResetPasswordConfirm),
			httpx.RateLimitByIP(httpx.StrictLimit),
		))
}

func (r *Router) registerMFA() {
	h := &MFAHandler{
		Sessions:   r.Sessions,
		MFA:        r.MFA,
		Authorizer: r.Authorizer,
	}

	r.Mux.Handle("GET /v1/embedded/{sessionId}/mfa-enrollment",
		httpx.Chain(http.HandlerFunc(h.HandleGetEnrollment),
			httpx.RateLimitBySession(httpx.LenientLimit),
		))
	r.Mux.Handle("POST /v1/embedded/{sessionId}/mfa-enrollment",
		httpx.Chain(http.HandlerFunc(h.HandlePostEnrollment),
			httpx.RateLimitBySession(httpx.LenientLimit),
		))

	// Code sends and verifications are the brute-force surface.
	r.Mux.Handle("POST /v1/embedded/{sessionId}/email-mfa/code",
		httpx.Chain(http.HandlerFunc(h.HandleSendEmailCode),
			httpx.RateLimitBySession(httpx.StrictLimit),
		))
	r.Mux.Handle("POST /v1/embedded/{sessionId}/email-mfa",
		httpx.Chain(http.HandlerFunc(h.HandleVerifyEmail),
			httpx.RateLimitBySession(httpx.StrictLimit),
		))

	r.Mux.Handle("GET /v1/embedded/{sessionId}/otp-mfa-setup",
		httpx.Chain(http.HandlerFunc(h.HandleOTPSetup),
			httpx.RateLimitBySession(httpx.LenientLimit),
		))
	r.Mux.Handle("GET /v1/embedded/{sessionId}/otp-mfa",
		httpx.Chain(http.HandlerFunc(h.HandleGetOTP),
			httpx.RateLimitBySession(httpx.LenientLimit),
		))
	r.Mux.Handle("POST /v1/embedded/{sessionId}/otp-mfa",
		httpx.Chain(http.HandlerFunc(h.HandleVerifyOTP),
			httpx.RateLimitBySession(httpx.StrictLimit),
		))

	r.Mux.Handle("POST /v1/embedded/{sessionId}/sms-mfa-setup",
		httpx.Chain(http.HandlerFunc(h.HandleSMSSetup),
			httpx.RateLimitBySession(httpx.StrictLimit),
		))
	r.Mux.Handle("GET /v1/embedded/{sessionId}/sms-mfa",
		httpx.Chain(http.HandlerFunc(h.HandleGetSMS),
			httpx.RateLimitBySession(httpx.StrictLimit),
		))
	r.Mux.Handle("POST /v1/embedded/{sessionId}/sms-mfa/code",
		httpx.Chain(http.HandlerFunc(h.HandleResendSMSCode),
			httpx.RateLimitBySession(httpx.StrictLimit),
		))
	r.Mux.Handle("POST /v1/embedded/{sessionId}/sms-mfa",
		httpx.Chain(http.HandlerFunc(h.HandleVerifySMS),
			httpx.RateLimitBySession(httpx.StrictLimit),
		))
}

func (r *Router) registerPasskeys() {
	h := &PasskeyHandler{
		Sessions:   r.Sessions,
		Passkeys:   r.Passkeys,
		Authorizer: r.Authorizer,
	}

	r.Mux.Handle("GET /v1/embedded/{sessionId}/passkey-enroll",
		httpx.Chain(http.HandlerFunc(h.HandleBeginEnroll),
			httpx.RateLimitBySession(httpx.LenientLimit),
		))
	r.Mux.Handle("POST /v1/embedded/{sessionId}/passkey-enroll",
		httpx.Chain(http.HandlerFunc(h.HandleFinishEnroll),
			httpx.RateLimitBySession(httpx.StrictLimit),
		))
	r.Mux.Handle("POST /v1/embedded/{sessionId}/passkey-enroll/decline",
		httpx.Chain(http.HandlerFunc(h.HandleDeclineEnroll),
			httpx.RateLimitBySession(httpx.LenientLimit),
		))

	r.Mux.Handle("GET /v1/embedded/{sessionId}/passkey-verify",
		httpx.Chain(http.HandlerFunc(h.HandleBeginVerify),
			httpx.RateLimitByIP(httpx.StrictLimit),
		))
	r.Mux.Handle("POST /v1/embedded/{sessionId}/passkey-verify",
		httpx.Chain(http.HandlerFunc(h.HandleFinishVerify),
			httpx.RateLimitBySession(httpx.StrictLimit),
		))
}

func (r *Router) registerTokens() {
	h := &TokenHandler{Tokens: r.Tokens}

	r.Mux.Handle("POST /v1/embedded/token-exchange",
		httpx.Chain(http.HandlerFunc(h.HandleExchange),
			httpx.RateLimitByIP(httpx.StrictLimit),
		))
	r.Mux.Handle("POST /v1/embedded/token-refresh",
		httpx.Chain(http.HandlerFunc(h.HandleRefresh),
			httpx.RateLimitByIP(httpx.StrictLimit),
		))
	r.Mux.Handle("POST /v1/embedded/sign-out",
		httpx.Chain(http.HandlerFunc(h.HandleSignOut),
			httpx.RateLimitByIP(httpx.StrictLimit),
		))
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		))
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.kv),
			httpx.RateLimitByIP(httpx.LenientLimit),
		))
}

package http

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/stretchr/testify/require"

	"github.com/CrazyForks/melody-auth/internal/auth/domain"
	"github.com/CrazyForks/melody-auth/internal/auth/engine"
	"github.com/CrazyForks/melody-auth/internal/auth/kv"
	"github.com/CrazyForks/melody-auth/internal/auth/store/drivers/sqlite"
	"github.com/CrazyForks/melody-auth/pkg/cryptox"
	"github.com/CrazyForks/melody-auth/pkg/idx"
	"github.com/CrazyForks/melody-auth/pkg/jwtx"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "http-test-*")
	if err != nil {
		panic(err)
	}
	cryptox.SetPepperPath(filepath.Join(dir, "pepper"))

	code := m.Run()
	_ = os.RemoveAll(dir)
	os.Exit(code)
}

type testServer struct {
	router *Router
	kv     kv.Store
	emails *captureEmail
}

type captureEmail struct {
	to []string
}

func (c *captureEmail) SendEmail(_ context.Context, to, _, _, _ string) error {
	c.to = append(c.to, to)
	return nil
}

type discardSMS struct{}

func (discardSMS) SendSMS(context.Context, string, string) error { return nil }

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	kvStore := kv.NewMemory("test")
	t.Cleanup(func() { _ = kvStore.Close() })

	pemKey, err := jwtx.GenerateKey(jwtx.AlgEdDSA, 0)
	require.NoError(t, err)
	signer, err := jwtx.NewSigner(jwtx.AlgEdDSA, "test-key", pemKey)
	require.NoError(t, err)

	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: "Test Auth",
		RPID:          "localhost",
		RPOrigins:     []string{"https://localhost"},
	})
	require.NoError(t, err)

	emails := &captureEmail{}
	sessions := &engine.SessionService{KV: kvStore}

	r := NewRouter("test", st, kvStore, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.Sessions = sessions
	r.Apps = &engine.AppService{Store: st}
	r.Users = &engine.UserService{Store: st, KV: kvStore, Email: emails}
	r.MFA = &engine.MFAService{Store: st, KV: kvStore, Email: emails, SMS: discardSMS{}, OTPIssuer: "TestAuth"}
	r.Passkeys = &engine.PasskeyService{Store: st, KV: kvStore, WebAuthn: wa}
	r.Recovery = &engine.RecoveryService{Store: st}
	r.Consents = &engine.ConsentService{Store: st}
	r.Tokens = &engine.TokenService{
		Store:               st,
		Sessions:            sessions,
		Signer:              signer,
		Issuer:              "https://auth.test",
		RotateRefreshTokens: true,
	}
	r.Authorizer = &engine.Authorizer{Store: st, Sessions: sessions}
	r.ApplyRoutes()

	return &testServer{router: r, kv: kvStore, emails: emails}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func (s *testServer) seedUser(t *testing.T, email, password string) domain.User {
	t.Helper()

	user, err := s.router.Users.SignUp(context.Background(), engine.SignUpParams{
		Email:    email,
		Password: password,
	})
	require.NoError(t, err)
	return user
}

func (s *testServer) seedApp(t *testing.T, mutate func(*domain.Application)) domain.Application {
	t.Helper()

	now := time.Now().UTC()
	app := domain.Application{
		ID:           idx.New().String(),
		ClientID:     "test-client",
		Name:         "Test App",
		RedirectURIs: []string{"https://app.test/callback"},
		Scopes:       []string{"openid", "profile"},
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if mutate != nil {
		mutate(&app)
	}
	require.NoError(t, s.router.store.Applications().CreateApplication(context.Background(), app))
	return app
}

const testVerifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"

func s256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func (s *testServer) initiate(t *testing.T, app domain.Application) string {
	t.Helper()

	rec := s.do(t, http.MethodPost, "/v1/embedded/initiate", map[string]string{
		"clientId":            app.ClientID,
		"redirectUri":         app.RedirectURIs[0],
		"scopes":              "openid profile",
		"codeChallenge":       s256Challenge(testVerifier),
		"codeChallengeMethod": "S256",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	result := decodeBody[engine.StepResult](t, rec)
	require.NotEmpty(t, result.SessionID)
	require.Equal(t, domain.StepPassword, result.NextStep)
	return result.SessionID
}

func TestPasswordFlowToTokens(t *testing.T) {
	srv := newTestServer(t)
	srv.seedUser(t, "jo@example.com", "hunter2hunter2")
	app := srv.seedApp(t, nil)

	sessionID := srv.initiate(t, app)

	rec := srv.do(t, http.MethodPost, "/v1/embedded/"+sessionID+"/sign-in", map[string]string{
		"email":    "jo@example.com",
		"password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	result := decodeBody[engine.StepResult](t, rec)
	require.True(t, result.Success)
	require.Empty(t, result.NextStep)

	rec = srv.do(t, http.MethodPost, "/v1/embedded/token-exchange", map[string]string{
		"sessionId":    sessionID,
		"codeVerifier": testVerifier,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	tokens := decodeBody[domain.TokenResponse](t, rec)
	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)
	require.NotEmpty(t, tokens.IDToken)

	t.Run("CodeIsSingleUse", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/v1/embedded/token-exchange", map[string]string{
			"sessionId":    sessionID,
			"codeVerifier": testVerifier,
		})
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("RefreshRotates", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/v1/embedded/token-refresh", map[string]string{
			"refreshToken": tokens.RefreshToken,
		})
		require.Equal(t, http.StatusOK, rec.Code)
		rotated := decodeBody[domain.TokenResponse](t, rec)
		require.NotEqual(t, tokens.RefreshToken, rotated.RefreshToken)

		rec = srv.do(t, http.MethodPost, "/v1/embedded/token-refresh", map[string]string{
			"refreshToken": tokens.RefreshToken,
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		rec = srv.do(t, http.MethodPost, "/v1/embedded/sign-out", map[string]string{
			"refreshToken": rotated.RefreshToken,
			"clientId":     app.ClientID,
		})
		require.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestSignInErrors(t *testing.T) {
	srv := newTestServer(t)
	srv.seedUser(t, "jo@example.com", "hunter2hunter2")
	app := srv.seedApp(t, nil)
	sessionID := srv.initiate(t, app)

	t.Run("WrongPassword", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/v1/embedded/"+sessionID+"/sign-in", map[string]string{
			"email":    "jo@example.com",
			"password": "nope",
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		body := decodeBody[map[string]string](t, rec)
		require.Equal(t, "invalid_credentials", body["error"])
	})

	t.Run("UnknownSession", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/v1/embedded/bogus-session/sign-in", map[string]string{
			"email":    "jo@example.com",
			"password": "hunter2hunter2",
		})
		require.Equal(t, http.StatusNotFound, rec.Code)
		body := decodeBody[map[string]string](t, rec)
		require.Equal(t, "wrong_session_id", body["error"])
	})
}

func TestInitiateValidation(t *testing.T) {
	srv := newTestServer(t)
	app := srv.seedApp(t, nil)

	t.Run("MissingChallenge", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/v1/embedded/initiate", map[string]string{
			"clientId":    app.ClientID,
			"redirectUri": app.RedirectURIs[0],
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("UnknownClient", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/v1/embedded/initiate", map[string]string{
			"clientId":      "nope",
			"redirectUri":   app.RedirectURIs[0],
			"codeChallenge": s256Challenge(testVerifier),
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeBody[map[string]string](t, rec)
		require.Equal(t, "invalid_client", body["error"])
	})

	t.Run("UnregisteredRedirect", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/v1/embedded/initiate", map[string]string{
			"clientId":      app.ClientID,
			"redirectUri":   "https://evil.test/cb",
			"codeChallenge": s256Challenge(testVerifier),
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeBody[map[string]string](t, rec)
		require.Equal(t, "invalid_redirect_uri", body["error"])
	})
}

func TestEmailMFAFlow(t *testing.T) {
	srv := newTestServer(t)
	srv.seedUser(t, "jo@example.com", "hunter2hunter2")
	app := srv.seedApp(t, func(a *domain.Application) {
		a.RequireEmailMFA = true
	})
	sessionID := srv.initiate(t, app)

	rec := srv.do(t, http.MethodPost, "/v1/embedded/"+sessionID+"/sign-in", map[string]string{
		"email":    "jo@example.com",
		"password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeBody[engine.StepResult](t, rec)
	require.False(t, result.Success)
	require.Equal(t, domain.StepMFAEnroll, result.NextStep)

	// The user has no enrolled factor; pick email at the choice step.
	rec = srv.do(t, http.MethodPost, "/v1/embedded/"+sessionID+"/mfa-enrollment", map[string]string{
		"type": "email",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	result = decodeBody[engine.StepResult](t, rec)
	require.Equal(t, domain.StepEmailMFA, result.NextStep)

	t.Run("PendingSessionRefusedAtTokenEndpoint", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/v1/embedded/token-exchange", map[string]string{
			"sessionId":    sessionID,
			"codeVerifier": testVerifier,
		})
		require.Equal(t, http.StatusForbidden, rec.Code)
		body := decodeBody[map[string]string](t, rec)
		require.Equal(t, "authorization_incomplete", body["error"])
	})

	rec = srv.do(t, http.MethodPost, "/v1/embedded/"+sessionID+"/email-mfa/code", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"jo@example.com"}, srv.emails.to)

	code, err := srv.kv.Get(context.Background(), kv.EmailMFACodeKey(sessionID))
	require.NoError(t, err)

	t.Run("WrongCode", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/v1/embedded/"+sessionID+"/email-mfa", map[string]any{
			"mfaCode": "000000",
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeBody[map[string]string](t, rec)
		require.Equal(t, "invalid_mfa_code", body["error"])
	})

	rec = srv.do(t, http.MethodPost, "/v1/embedded/"+sessionID+"/email-mfa", map[string]any{
		"mfaCode":        code,
		"rememberDevice": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	verified := decodeBody[verifyCodeResponse](t, rec)
	require.True(t, verified.Success)
	require.NotEmpty(t, verified.DeviceToken)

	t.Run("DeviceTokenSkipsFactor", func(t *testing.T) {
		sessionID := srv.initiate(t, app)
		rec := srv.do(t, http.MethodPost, "/v1/embedded/"+sessionID+"/sign-in", map[string]any{
			"email":       "jo@example.com",
			"password":    "hunter2hunter2",
			"deviceToken": verified.DeviceToken,
		})
		require.Equal(t, http.StatusOK, rec.Code)
		result := decodeBody[engine.StepResult](t, rec)
		require.True(t, result.Success)
	})
}

func TestConsentFlow(t *testing.T) {
	srv := newTestServer(t)
	srv.seedUser(t, "jo@example.com", "hunter2hunter2")
	app := srv.seedApp(t, func(a *domain.Application) {
		a.RequireConsent = true
	})
	sessionID := srv.initiate(t, app)

	rec := srv.do(t, http.MethodPost, "/v1/embedded/"+sessionID+"/sign-in", map[string]string{
		"email":    "jo@example.com",
		"password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeBody[engine.StepResult](t, rec)
	require.Equal(t, domain.StepConsent, result.NextStep)

	rec = srv.do(t, http.MethodGet, "/v1/embedded/"+sessionID+"/app-consent", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeBody[consentView](t, rec)
	require.Equal(t, "Test App", view.AppName)
	require.Contains(t, view.Scopes, "openid")

	rec = srv.do(t, http.MethodPost, "/v1/embedded/"+sessionID+"/app-consent", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)
	result = decodeBody[engine.StepResult](t, rec)
	require.True(t, result.Success)
}

func TestRecoveryCodeOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	srv.seedUser(t, "jo@example.com", "hunter2hunter2")
	app := srv.seedApp(t, nil)

	// First session: sign in and mint a recovery code.
	sessionID := srv.initiate(t, app)
	rec := srv.do(t, http.MethodPost, "/v1/embedded/"+sessionID+"/sign-in", map[string]string{
		"email":    "jo@example.com",
		"password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodGet, "/v1/embedded/"+sessionID+"/recovery-code-enroll", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	enrolled := decodeBody[recoveryCodeView](t, rec)
	require.NotEmpty(t, enrolled.RecoveryCode)

	// Second session: the code signs in on its own and short-circuits.
	sessionID = srv.initiate(t, app)
	rec = srv.do(t, http.MethodPost, "/v1/embedded/"+sessionID+"/sign-in/recovery-code", map[string]string{
		"email":        "jo@example.com",
		"recoveryCode": enrolled.RecoveryCode,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeBody[engine.StepResult](t, rec)
	require.True(t, result.Success)
}

func TestVerifyEmailOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	srv.router.Users.EnableEmailVerification = true
	user := srv.seedUser(t, "jo@example.com", "hunter2hunter2")
	require.Equal(t, []string{"jo@example.com"}, srv.emails.to)

	code, err := srv.kv.Get(context.Background(), kv.VerifyEmailCodeKey(user.ID))
	require.NoError(t, err)

	t.Run("WrongCode", func(t *testing.T) {
		rec := srv.do(t, http.MethodPost, "/v1/embedded/verify-email", map[string]string{
			"email": "jo@example.com",
			"code":  "00000000",
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	rec := srv.do(t, http.MethodPost, "/v1/embedded/verify-email", map[string]string{
		"email": "jo@example.com",
		"code":  code,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := srv.router.store.Users().GetUserByEmail(context.Background(), "jo@example.com")
	require.NoError(t, err)
	require.True(t, got.EmailVerified)
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/livez", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	live := decodeBody[healthResponse](t, rec)
	require.Equal(t, "ok", live.Status)
	require.Equal(t, "test", live.Version)

	rec = srv.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decodeBody[healthResponse](t, rec)
	require.Equal(t, "ok", ready.Status)
	require.Equal(t, "ok", ready.Checks.Database)
	require.Equal(t, "ok", ready.Checks.Cache)
}

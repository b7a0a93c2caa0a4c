package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CrazyForks/melody-auth/internal/auth/domain"
	"github.com/CrazyForks/melody-auth/internal/auth/kv"
	"github.com/CrazyForks/melody-auth/pkg/cryptox"
)

// Walks the full flow for an app demanding consent, email MFA and passkey
// enrollment: password, consent, factor enrollment, code verification,
// declined passkey prompt, then code-for-token exchange.
func TestFullAuthorizationFlow(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	app := env.seedApp(t, func(a *domain.Application) {
		a.RequireConsent = true
		a.RequireEmailMFA = true
		a.RequirePasskeyEnroll = true
	})
	env.seedUser(t, "alice@example.com", "hunter2hunter2")

	verifier := cryptox.MustGenerateToken(cryptox.TokenSize256)
	res, err := env.apps.VerifyAuthorizeRequest(ctx, app.ClientID, app.RedirectURIs[0], app.Scopes)
	require.NoError(t, err)
	session := env.apps.NewSession(res, domain.AuthRequest{
		ClientID:            app.ClientID,
		RedirectURI:         app.RedirectURIs[0],
		CodeChallenge:       s256Challenge(verifier),
		CodeChallengeMethod: "S256",
	})
	sessionID, err := env.sessions.Create(ctx, session)
	require.NoError(t, err)

	// Password sign-in attaches the user; consent comes first.
	signedIn, err := env.users.SignIn(ctx, "alice@example.com", "hunter2hunter2")
	require.NoError(t, err)
	session.User = &signedIn
	result, err := env.auth.Advance(ctx, sessionID, session, domain.StepPassword)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, domain.StepConsent, result.NextStep)

	// Consent granted; the user has no enrolled factor yet, so the
	// enrollment choice comes before any verification.
	require.NoError(t, env.consent.Grant(ctx, signedIn.ID, session.AppID))
	result, err = env.auth.Advance(ctx, sessionID, session, domain.StepConsent)
	require.NoError(t, err)
	require.Equal(t, domain.StepMFAEnroll, result.NextStep)

	// Enrolling email routes to its verification step.
	require.NoError(t, env.mfa.Enroll(ctx, session.User, domain.MFATypeEmail, session.MFA))
	result, err = env.auth.Advance(ctx, sessionID, session, domain.StepMFAEnroll)
	require.NoError(t, err)
	require.Equal(t, domain.StepEmailMFA, result.NextStep)

	// A wrong code leaves the stored code usable: retry succeeds with no
	// re-send in between.
	require.NoError(t, env.mfa.SendEmailCode(ctx, sessionID, session.User))
	require.ErrorIs(t, env.mfa.VerifyEmailCode(ctx, sessionID, "999999", session.User), ErrInvalidMFACode)
	code, err := env.kv.Get(ctx, kv.EmailMFACodeKey(sessionID))
	require.NoError(t, err)
	require.NoError(t, env.mfa.VerifyEmailCode(ctx, sessionID, code, session.User))

	session.MFAVerified = true
	result, err = env.auth.Advance(ctx, sessionID, session, domain.StepEmailMFA)
	require.NoError(t, err)
	require.Equal(t, domain.StepPasskeyEnroll, result.NextStep)

	// Declining the passkey prompt completes the flow.
	result, err = env.auth.Advance(ctx, sessionID, session, domain.StepPasskeyEnroll)
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Empty(t, result.NextStep)

	// The session id is now an authorization code.
	resp, err := env.tokens.ExchangeCode(ctx, sessionID, verifier)
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)
	require.NotEmpty(t, resp.IDToken)
}

// A recovery-code sign-in is full proof of identity: it bypasses consent,
// MFA and the passkey prompt entirely.
func TestRecoverySignInShortCircuits(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	app := env.seedApp(t, func(a *domain.Application) {
		a.RequireConsent = true
		a.RequireOTPMFA = true
		a.RequirePasskeyEnroll = true
	})
	user := env.seedUser(t, "bob@example.com", "hunter2hunter2")

	code, err := env.recovery.Enroll(ctx, user.ID)
	require.NoError(t, err)

	verifier := cryptox.MustGenerateToken(cryptox.TokenSize256)
	sessionID, session := env.startSession(t, app, user, s256Challenge(verifier), "S256")

	recovered, err := env.recovery.SignIn(ctx, "bob@example.com", code)
	require.NoError(t, err)
	session.User = &recovered
	session.IsFullyAuthorized = true

	result, err := env.auth.Advance(ctx, sessionID, session, domain.StepPassword)
	require.NoError(t, err)
	require.True(t, result.Success)

	resp, err := env.tokens.ExchangeCode(ctx, sessionID, verifier)
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)
}

// A remembered device satisfies the MFA step without a fresh code.
func TestRememberedDeviceSkipsMFA(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	app := env.seedApp(t, func(a *domain.Application) {
		a.RequireEmailMFA = true
	})
	user := env.seedUser(t, "carol@example.com", "hunter2hunter2")
	require.NoError(t, env.store.Users().EnrollMFAType(ctx, user.ID, domain.MFATypeEmail))
	user.MFATypes = append(user.MFATypes, domain.MFATypeEmail)

	deviceToken, err := env.mfa.RememberDevice(ctx, user.ID, domain.MFATypeEmail)
	require.NoError(t, err)

	verifier := cryptox.MustGenerateToken(cryptox.TokenSize256)
	sessionID, session := env.startSession(t, app, user, s256Challenge(verifier), "S256")

	ok, err := env.mfa.CheckRememberedDevice(ctx, user.ID, domain.MFATypeEmail, deviceToken)
	require.NoError(t, err)
	require.True(t, ok)
	session.MFAVerified = true

	result, err := env.auth.Advance(ctx, sessionID, session, domain.StepPassword)
	require.NoError(t, err)
	require.True(t, result.Success)
}

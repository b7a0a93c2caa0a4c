package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CrazyForks/melody-auth/internal/auth/domain"
)

func TestVerifyAuthorizeRequest(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	app := env.seedApp(t, func(a *domain.Application) {
		a.RequireOTPMFA = true
		a.AllowEmailMFAFallback = true
	})

	t.Run("Valid", func(t *testing.T) {
		res, err := env.apps.VerifyAuthorizeRequest(ctx, app.ClientID, app.RedirectURIs[0], []string{"openid", "profile"})
		require.NoError(t, err)
		require.Equal(t, []string{"openid", "profile"}, res.GrantedScopes)
		require.Equal(t, []domain.MFAType{domain.MFATypeOTP}, res.Policy.RequiredFactors)
		require.True(t, res.Policy.AllowEmailFallback)
	})

	t.Run("ScopesNarrowedToAllowed", func(t *testing.T) {
		res, err := env.apps.VerifyAuthorizeRequest(ctx, app.ClientID, app.RedirectURIs[0],
			[]string{"openid", "admin", "openid"})
		require.NoError(t, err)
		require.Equal(t, []string{"openid"}, res.GrantedScopes)
	})

	t.Run("NoAllowedScope", func(t *testing.T) {
		_, err := env.apps.VerifyAuthorizeRequest(ctx, app.ClientID, app.RedirectURIs[0], []string{"admin"})
		require.ErrorIs(t, err, ErrInvalidScope)
	})

	t.Run("UnknownClient", func(t *testing.T) {
		_, err := env.apps.VerifyAuthorizeRequest(ctx, "ghost", app.RedirectURIs[0], []string{"openid"})
		require.ErrorIs(t, err, ErrInvalidClient)
	})

	t.Run("InactiveClient", func(t *testing.T) {
		require.NoError(t, env.store.Applications().SetApplicationActive(ctx, app.ClientID, false))
		defer func() {
			require.NoError(t, env.store.Applications().SetApplicationActive(ctx, app.ClientID, true))
		}()

		_, err := env.apps.VerifyAuthorizeRequest(ctx, app.ClientID, app.RedirectURIs[0], []string{"openid"})
		require.ErrorIs(t, err, ErrInvalidClient)
	})

	t.Run("UnregisteredRedirect", func(t *testing.T) {
		_, err := env.apps.VerifyAuthorizeRequest(ctx, app.ClientID, "https://evil.test/cb", []string{"openid"})
		require.ErrorIs(t, err, ErrInvalidRedirectURI)
	})
}

func TestNewSessionSnapshotsPolicy(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	app := env.seedApp(t, func(a *domain.Application) {
		a.RequireConsent = true
		a.RequireEmailMFA = true
	})

	res, err := env.apps.VerifyAuthorizeRequest(ctx, app.ClientID, app.RedirectURIs[0], []string{"openid"})
	require.NoError(t, err)

	session := env.apps.NewSession(res, domain.AuthRequest{
		ClientID:    app.ClientID,
		RedirectURI: app.RedirectURIs[0],
		Scopes:      []string{"openid", "profile"},
	})

	require.Equal(t, app.ID, session.AppID)
	require.Equal(t, app.Name, session.AppName)
	// The request's scope list is replaced with the granted set.
	require.Equal(t, []string{"openid"}, session.Request.Scopes)
	require.True(t, session.MFA.RequireConsent)
	require.Equal(t, []domain.MFAType{domain.MFATypeEmail}, session.MFA.RequiredFactors)
}

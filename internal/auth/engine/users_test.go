package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CrazyForks/melody-auth/internal/auth/domain"
	"github.com/CrazyForks/melody-auth/internal/auth/kv"
	"github.com/CrazyForks/melody-auth/pkg/cryptox"
)

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedUser(t, "alice@example.com", "correct horse battery staple")

	t.Run("Valid", func(t *testing.T) {
		user, err := env.users.SignIn(ctx, "alice@example.com", "correct horse battery staple")
		require.NoError(t, err)
		require.Equal(t, "alice@example.com", user.Email)
	})

	t.Run("WrongPassword", func(t *testing.T) {
		_, err := env.users.SignIn(ctx, "alice@example.com", "wrong")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("UnknownEmailSameError", func(t *testing.T) {
		_, err := env.users.SignIn(ctx, "nobody@example.com", "whatever")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	t.Run("CreatesUser", func(t *testing.T) {
		user, err := env.users.SignUp(ctx, SignUpParams{
			Email:     "bob@example.com",
			Password:  "hunter2hunter2",
			FirstName: "Bob",
			Locale:    "en",
		})
		require.NoError(t, err)
		require.NotEmpty(t, user.ID)
		require.NotEmpty(t, user.PasswordHash)
		require.NotEqual(t, "hunter2hunter2", user.PasswordHash)

		// The new account signs in immediately.
		_, err = env.users.SignIn(ctx, "bob@example.com", "hunter2hunter2")
		require.NoError(t, err)
	})

	t.Run("DuplicateEmail", func(t *testing.T) {
		_, err := env.users.SignUp(ctx, SignUpParams{Email: "bob@example.com", Password: "x"})
		require.ErrorIs(t, err, ErrEmailTaken)
	})
}

func TestEmailVerification(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.users.EnableEmailVerification = true

	user := env.seedUser(t, "dave@example.com", "hunter2hunter2")
	require.Contains(t, env.email.to, "dave@example.com")

	code, err := env.kv.Get(ctx, kv.VerifyEmailCodeKey(user.ID))
	require.NoError(t, err)

	t.Run("WrongCode", func(t *testing.T) {
		err := env.users.VerifyEmail(ctx, "dave@example.com", "00000000")
		require.ErrorIs(t, err, ErrInvalidMFACode)
	})

	t.Run("UnknownEmailSameError", func(t *testing.T) {
		err := env.users.VerifyEmail(ctx, "nobody@example.com", code)
		require.ErrorIs(t, err, ErrInvalidMFACode)
	})

	t.Run("MarksVerifiedAndConsumesCode", func(t *testing.T) {
		require.NoError(t, env.users.VerifyEmail(ctx, "dave@example.com", code))

		got, err := env.store.Users().GetUserByEmail(ctx, "dave@example.com")
		require.NoError(t, err)
		require.True(t, got.EmailVerified)

		err = env.users.VerifyEmail(ctx, "dave@example.com", code)
		require.ErrorIs(t, err, ErrInvalidMFACode)
	})

	t.Run("DisabledFlagSendsNothing", func(t *testing.T) {
		env.users.EnableEmailVerification = false
		quiet := env.seedUser(t, "erin@example.com", "hunter2hunter2")
		require.NotContains(t, env.email.to, "erin@example.com")

		_, err := env.kv.Get(ctx, kv.VerifyEmailCodeKey(quiet.ID))
		require.ErrorIs(t, err, kv.ErrNotFound)
	})
}

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.seedUser(t, "carol@example.com", "old-password-123")

	t.Run("UnknownEmailSucceedsSilently", func(t *testing.T) {
		require.NoError(t, env.users.RequestPasswordReset(ctx, "nobody@example.com"))
		_, err := env.kv.Get(ctx, kv.ResetPasswordCodeKey("nobody@example.com"))
		require.ErrorIs(t, err, kv.ErrNotFound)
	})

	t.Run("FullFlow", func(t *testing.T) {
		require.NoError(t, env.users.RequestPasswordReset(ctx, "carol@example.com"))
		require.Contains(t, env.email.to, "carol@example.com")

		code, err := env.kv.Get(ctx, kv.ResetPasswordCodeKey("carol@example.com"))
		require.NoError(t, err)

		require.NoError(t, env.users.ConfirmPasswordReset(ctx, "carol@example.com", code, "new-password-456"))

		_, err = env.users.SignIn(ctx, "carol@example.com", "old-password-123")
		require.ErrorIs(t, err, ErrInvalidCredentials)
		_, err = env.users.SignIn(ctx, "carol@example.com", "new-password-456")
		require.NoError(t, err)

		// The code is consumed.
		err = env.users.ConfirmPasswordReset(ctx, "carol@example.com", code, "another-password")
		require.ErrorIs(t, err, ErrInvalidMFACode)
	})

	t.Run("WrongCode", func(t *testing.T) {
		require.NoError(t, env.users.RequestPasswordReset(ctx, "carol@example.com"))
		err := env.users.ConfirmPasswordReset(ctx, "carol@example.com", "00000000", "whatever-pass")
		require.ErrorIs(t, err, ErrInvalidMFACode)
	})

	t.Run("RevokesRefreshTokens", func(t *testing.T) {
		app := env.seedApp(t, func(a *domain.Application) {
			a.ClientID = "reset-client"
		})
		user, err := env.users.SignIn(ctx, "carol@example.com", "new-password-456")
		require.NoError(t, err)

		verifier := cryptox.MustGenerateToken(cryptox.TokenSize256)
		sessionID, _ := env.startSession(t, app, user, s256Challenge(verifier), "S256")
		resp, err := env.tokens.ExchangeCode(ctx, sessionID, verifier)
		require.NoError(t, err)

		require.NoError(t, env.users.RequestPasswordReset(ctx, "carol@example.com"))
		code, err := env.kv.Get(ctx, kv.ResetPasswordCodeKey("carol@example.com"))
		require.NoError(t, err)
		require.NoError(t, env.users.ConfirmPasswordReset(ctx, "carol@example.com", code, "final-password-789"))

		// Tokens minted under the old password die with it.
		_, err = env.tokens.Refresh(ctx, resp.RefreshToken)
		require.ErrorIs(t, err, ErrInvalidRefreshToken)
	})
}

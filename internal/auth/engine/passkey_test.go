package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/stretchr/testify/require"

	"github.com/CrazyForks/melody-auth/internal/auth/domain"
	"github.com/CrazyForks/melody-auth/pkg/idx"
)

func newPasskeyService(t *testing.T, env *testEnv) *PasskeyService {
	t.Helper()

	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: "Test Auth",
		RPID:          "localhost",
		RPOrigins:     []string{"https://localhost"},
	})
	require.NoError(t, err)
	return &PasskeyService{Store: env.store, KV: env.kv, WebAuthn: wa}
}

func TestPasskeyBeginEnroll(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := newPasskeyService(t, env)
	user := env.seedUser(t, "alice@example.com", "hunter2hunter2")

	options, err := svc.BeginEnroll(ctx, "sess-1", &user)
	require.NoError(t, err)
	require.NotEmpty(t, options.Response.Challenge)
	require.Equal(t, "localhost", options.Response.RelyingParty.ID)
}

func TestPasskeyFinishEnrollWithoutChallenge(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := newPasskeyService(t, env)
	user := env.seedUser(t, "bob@example.com", "hunter2hunter2")

	err := svc.FinishEnroll(ctx, "never-begun", &user, strings.NewReader("{}"))
	require.ErrorIs(t, err, ErrPasskeyChallengeMismatch)
}

func TestPasskeyDeclineEnroll(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := newPasskeyService(t, env)
	user := env.seedUser(t, "carol@example.com", "hunter2hunter2")

	t.Run("WithoutRemember", func(t *testing.T) {
		require.NoError(t, svc.DeclineEnroll(ctx, &user, false))
		stored, err := env.store.Users().GetUserByID(ctx, user.ID)
		require.NoError(t, err)
		require.False(t, stored.SkipPasskeyEnroll)
	})

	t.Run("WithRemember", func(t *testing.T) {
		require.NoError(t, svc.DeclineEnroll(ctx, &user, true))
		require.True(t, user.SkipPasskeyEnroll)

		stored, err := env.store.Users().GetUserByID(ctx, user.ID)
		require.NoError(t, err)
		require.True(t, stored.SkipPasskeyEnroll)
	})
}

func TestPasskeyBeginVerify(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := newPasskeyService(t, env)
	user := env.seedUser(t, "dave@example.com", "hunter2hunter2")

	t.Run("NoCredentials", func(t *testing.T) {
		_, err := svc.BeginVerify(ctx, "dave@example.com")
		require.ErrorIs(t, err, ErrNoPasskey)
	})

	t.Run("UnknownEmail", func(t *testing.T) {
		_, err := svc.BeginVerify(ctx, "ghost@example.com")
		require.ErrorIs(t, err, ErrNoPasskey)
	})

	t.Run("WithCredential", func(t *testing.T) {
		seedPasskey(t, env, user.ID, "cred-1", 3)

		options, err := svc.BeginVerify(ctx, "dave@example.com")
		require.NoError(t, err)
		require.NotEmpty(t, options.Response.Challenge)
		require.Len(t, options.Response.AllowedCredentials, 1)
	})
}

func TestPasskeyFinishVerifyWithoutChallenge(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := newPasskeyService(t, env)
	env.seedUser(t, "erin@example.com", "hunter2hunter2")

	_, err := svc.FinishVerify(ctx, "erin@example.com", strings.NewReader("{}"))
	require.ErrorIs(t, err, ErrPasskeyChallengeMismatch)
}

// The counter guard lives behind full assertion validation, which needs a
// real authenticator. Exercise the transaction logic directly instead.
func TestPasskeyCounterGuard(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	svc := newPasskeyService(t, env)
	user := env.seedUser(t, "frank@example.com", "hunter2hunter2")
	seedPasskey(t, env, user.ID, "cred-ctr", 10)

	t.Run("StaleCounterRejected", func(t *testing.T) {
		require.ErrorIs(t, svc.enforceCounter(ctx, "cred-ctr", 10), ErrPasskeyCounterReplay)
		require.ErrorIs(t, svc.enforceCounter(ctx, "cred-ctr", 4), ErrPasskeyCounterReplay)
	})

	t.Run("IncreasingCounterAccepted", func(t *testing.T) {
		require.NoError(t, svc.enforceCounter(ctx, "cred-ctr", 11))

		stored, err := env.store.Passkeys().GetPasskeyByCredentialID(ctx, "cred-ctr")
		require.NoError(t, err)
		require.Equal(t, uint32(11), stored.Counter)
	})

	t.Run("RejectionLeavesCounterUntouched", func(t *testing.T) {
		require.ErrorIs(t, svc.enforceCounter(ctx, "cred-ctr", 5), ErrPasskeyCounterReplay)

		stored, err := env.store.Passkeys().GetPasskeyByCredentialID(ctx, "cred-ctr")
		require.NoError(t, err)
		require.Equal(t, uint32(11), stored.Counter)
	})

	t.Run("CounterlessAuthenticator", func(t *testing.T) {
		seedPasskey(t, env, user.ID, "cred-zero", 0)
		require.NoError(t, svc.enforceCounter(ctx, "cred-zero", 0))
	})
}

func seedPasskey(t *testing.T, env *testEnv, userID, credentialID string, counter uint32) {
	t.Helper()

	now := time.Now().UTC()
	pk := domain.Passkey{
		ID:           idx.New().String(),
		UserID:       userID,
		CredentialID: credentialID,
		PublicKey:    []byte{0x01},
		Counter:      counter,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, env.store.Passkeys().CreatePasskey(context.Background(), pk))
}

package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	store, err := New(Config{Driver: "memory", Prefix: "test"})
	require.NoError(t, err)
	defer store.Close()

	t.Run("SetAndGet", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "alpha", "one", time.Minute))

		v, err := store.Get(ctx, "alpha")
		require.NoError(t, err)
		require.Equal(t, "one", v)
	})

	t.Run("MissReturnsNotFound", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "beta", "two", time.Minute))
		require.NoError(t, store.Delete(ctx, "beta"))

		_, err := store.Get(ctx, "beta")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "never-set"))
	})

	t.Run("Expiry", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "gamma", "three", 10*time.Millisecond))
		time.Sleep(30 * time.Millisecond)

		_, err := store.Get(ctx, "gamma")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "delta", "first", time.Minute))
		require.NoError(t, store.Set(ctx, "delta", "second", time.Minute))

		v, err := store.Get(ctx, "delta")
		require.NoError(t, err)
		require.Equal(t, "second", v)
	})

	t.Run("Ping", func(t *testing.T) {
		require.NoError(t, store.Ping(ctx))
	})
}

func TestUnknownDriver(t *testing.T) {
	_, err := New(Config{Driver: "etcd"})
	require.Error(t, err)
}

func TestKeyBuilders(t *testing.T) {
	require.Equal(t, "session:abc", SessionKey("abc"))
	require.Equal(t, "mfa:email:abc", EmailMFACodeKey("abc"))
	require.Equal(t, "mfa:sms:abc", SMSMFACodeKey("abc"))
	require.Equal(t, "mfa:sms:pending:abc", SMSPendingNumberKey("abc"))
	require.Equal(t, "mfa:otp:pending:abc", OTPPendingSecretKey("abc"))
	require.Equal(t, "passkey:enroll:abc", PasskeyEnrollChallengeKey("abc"))
	require.Equal(t, "passkey:verify:a@b.c", PasskeyVerifyChallengeKey("a@b.c"))
	require.Equal(t, "reset:a@b.c", ResetPasswordCodeKey("a@b.c"))
}

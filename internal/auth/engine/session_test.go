package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CrazyForks/melody-auth/internal/auth/domain"
	"github.com/CrazyForks/melody-auth/internal/auth/kv"
)

func TestSessionService(t *testing.T) {
	ctx := context.Background()

	newService := func(ttl time.Duration) *SessionService {
		return &SessionService{KV: kv.NewMemory("t"), TTL: ttl}
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		svc := newService(0)

		sessionID, err := svc.Create(ctx, domain.Session{AppID: "app-1", AppName: "Demo"})
		require.NoError(t, err)
		// Session ids double as authorization codes and carry a hard
		// length floor of 128 characters.
		require.GreaterOrEqual(t, len(sessionID), 128)

		session, err := svc.Get(ctx, sessionID)
		require.NoError(t, err)
		require.Equal(t, "app-1", session.AppID)
		require.Nil(t, session.User)
	})

	t.Run("UniqueIDs", func(t *testing.T) {
		svc := newService(0)
		a, err := svc.Create(ctx, domain.Session{})
		require.NoError(t, err)
		b, err := svc.Create(ctx, domain.Session{})
		require.NoError(t, err)
		require.NotEqual(t, a, b)
	})

	t.Run("UpdateReplacesWholesale", func(t *testing.T) {
		svc := newService(0)
		sessionID, err := svc.Create(ctx, domain.Session{AppID: "app-1"})
		require.NoError(t, err)

		session, err := svc.Get(ctx, sessionID)
		require.NoError(t, err)
		session.User = &domain.User{ID: "u1", Email: "a@b.c"}
		session.MFAVerified = true
		require.NoError(t, svc.Update(ctx, sessionID, session))

		got, err := svc.Get(ctx, sessionID)
		require.NoError(t, err)
		require.NotNil(t, got.User)
		require.Equal(t, "u1", got.User.ID)
		require.True(t, got.MFAVerified)
	})

	t.Run("GetWithUserRequiresUser", func(t *testing.T) {
		svc := newService(0)
		sessionID, err := svc.Create(ctx, domain.Session{AppID: "app-1"})
		require.NoError(t, err)

		_, err = svc.GetWithUser(ctx, sessionID)
		require.ErrorIs(t, err, ErrSessionNotFound)

		session, _ := svc.Get(ctx, sessionID)
		session.User = &domain.User{ID: "u1"}
		require.NoError(t, svc.Update(ctx, sessionID, session))

		_, err = svc.GetWithUser(ctx, sessionID)
		require.NoError(t, err)
	})

	t.Run("MissingAndDeleted", func(t *testing.T) {
		svc := newService(0)
		_, err := svc.Get(ctx, "no-such-session")
		require.ErrorIs(t, err, ErrSessionNotFound)

		sessionID, err := svc.Create(ctx, domain.Session{})
		require.NoError(t, err)
		require.NoError(t, svc.Delete(ctx, sessionID))
		_, err = svc.Get(ctx, sessionID)
		require.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("CorruptRecord", func(t *testing.T) {
		svc := newService(0)
		sessionID, err := svc.Create(ctx, domain.Session{AppID: "app-1"})
		require.NoError(t, err)

		require.NoError(t, svc.KV.Set(ctx, kv.SessionKey(sessionID), "{not json", time.Minute))

		_, err = svc.Get(ctx, sessionID)
		require.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("Expiry", func(t *testing.T) {
		svc := newService(15 * time.Millisecond)
		sessionID, err := svc.Create(ctx, domain.Session{})
		require.NoError(t, err)

		time.Sleep(40 * time.Millisecond)
		_, err = svc.Get(ctx, sessionID)
		require.ErrorIs(t, err, ErrSessionNotFound)
	})
}

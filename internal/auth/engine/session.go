package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/CrazyForks/melody-auth/internal/auth/domain"
	"github.com/CrazyForks/melody-auth/internal/auth/kv"
	"github.com/CrazyForks/melody-auth/pkg/cryptox"
)

// DefaultSessionTTL bounds how long an authorization flow may stay idle.
const DefaultSessionTTL = 30 * time.Minute

// SessionService persists authorization sessions in the KV store. The
// session id is the only credential for the flow and later doubles as the
// authorization code, hence the oversized token.
//
// Writes replace the whole record (last writer wins). Two clients driving
// the same session concurrently can lose an update; the flow is designed
// so the user repeats at most one step in that case.
type SessionService struct {
	KV  kv.Store
	TTL time.Duration
}

func (s *SessionService) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return DefaultSessionTTL
}

// Create stores a fresh session under a newly generated id.
func (s *SessionService) Create(ctx context.Context, session domain.Session) (string, error) {
	sessionID, err := cryptox.GenerateToken(cryptox.TokenSize768)
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	if err := s.put(ctx, sessionID, session); err != nil {
		return "", err
	}
	return sessionID, nil
}

// Get loads a session. Missing, expired and undecodable records are all
// ErrSessionNotFound; a corrupt record is as unusable as a missing one
// and must not leak storage detail to the client.
func (s *SessionService) Get(ctx context.Context, sessionID string) (domain.Session, error) {
	raw, err := s.KV.Get(ctx, kv.SessionKey(sessionID))
	if errors.Is(err, kv.ErrNotFound) {
		return domain.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("load session: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return domain.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// GetWithUser loads a session that must already have a user attached,
// i.e. any step after the primary factor.
func (s *SessionService) GetWithUser(ctx context.Context, sessionID string) (domain.Session, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if session.User == nil {
		return domain.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// Update rewrites the session wholesale, resetting the TTL.
func (s *SessionService) Update(ctx context.Context, sessionID string, session domain.Session) error {
	return s.put(ctx, sessionID, session)
}

// Delete removes the session. Deleting a missing session is not an error.
func (s *SessionService) Delete(ctx context.Context, sessionID string) error {
	return s.KV.Delete(ctx, kv.SessionKey(sessionID))
}

func (s *SessionService) put(ctx context.Context, sessionID string, session domain.Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.KV.Set(ctx, kv.SessionKey(sessionID), string(raw), s.ttl()); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

package engine

import (
	"context"
	"fmt"

	"github.com/CrazyForks/melody-auth/internal/auth/store"
)

// ConsentService records and checks per-user, per-application consent
// grants. A grant is durable across sessions until revoked.
type ConsentService struct {
	Store store.Store
}

func (s *ConsentService) HasConsent(ctx context.Context, userID, appID string) (bool, error) {
	has, err := s.Store.Consents().HasConsent(ctx, userID, appID)
	if err != nil {
		return false, fmt.Errorf("check consent: %w", err)
	}
	return has, nil
}

// Grant records consent. Granting twice is a no-op.
func (s *ConsentService) Grant(ctx context.Context, userID, appID string) error {
	if err := s.Store.Consents().GrantConsent(ctx, userID, appID); err != nil {
		return fmt.Errorf("grant consent: %w", err)
	}
	return nil
}

// Revoke removes a grant, forcing the consent step on that application's
// next authorization.
func (s *ConsentService) Revoke(ctx context.Context, userID, appID string) error {
	if err := s.Store.Consents().RevokeConsent(ctx, userID, appID); err != nil {
		return fmt.Errorf("revoke consent: %w", err)
	}
	return nil
}

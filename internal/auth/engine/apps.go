package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CrazyForks/melody-auth/internal/auth/domain"
	"github.com/CrazyForks/melody-auth/internal/auth/store"
)

// AppService validates authorize requests against registered applications
// and derives the per-session policy snapshot.
type AppService struct {
	Store store.Store
}

// InitiateResult carries everything a new session needs from the
// application record.
type InitiateResult struct {
	App           domain.Application
	GrantedScopes []string
	Policy        *domain.MFAPolicy
}

// VerifyAuthorizeRequest checks the client, redirect URI and scopes of an
// incoming authorize request. Scopes are narrowed to the intersection with
// the application's allowed set; an empty intersection is an error rather
// than a silently scopeless grant.
func (s *AppService) VerifyAuthorizeRequest(ctx context.Context, clientID, redirectURI string, requestedScopes []string) (InitiateResult, error) {
	app, err := s.Store.Applications().GetApplicationByClientID(ctx, clientID)
	if errors.Is(err, store.ErrNotFound) {
		return InitiateResult{}, ErrInvalidClient
	}
	if err != nil {
		return InitiateResult{}, fmt.Errorf("load application: %w", err)
	}
	if !app.Active {
		return InitiateResult{}, ErrInvalidClient
	}

	if !app.AllowsRedirectURI(redirectURI) {
		return InitiateResult{}, ErrInvalidRedirectURI
	}

	granted := intersectScopes(requestedScopes, app.Scopes)
	if len(granted) == 0 {
		return InitiateResult{}, ErrInvalidScope
	}

	return InitiateResult{
		App:           app,
		GrantedScopes: granted,
		Policy:        app.MFAPolicy(),
	}, nil
}

// NewSession builds the initial session record for a verified request.
func (s *AppService) NewSession(res InitiateResult, req domain.AuthRequest) domain.Session {
	req.Scopes = res.GrantedScopes
	return domain.Session{
		AppID:     res.App.ID,
		AppName:   res.App.Name,
		Request:   req,
		MFA:       res.Policy,
		CreatedAt: time.Now().UTC(),
	}
}

func intersectScopes(requested, allowed []string) []string {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, sc := range allowed {
		allowedSet[sc] = struct{}{}
	}

	var granted []string
	seen := make(map[string]struct{}, len(requested))
	for _, sc := range requested {
		if _, ok := allowedSet[sc]; !ok {
			continue
		}
		if _, dup := seen[sc]; dup {
			continue
		}
		seen[sc] = struct{}{}
		granted = append(granted, sc)
	}
	return granted
}

package engine

import (
	"context"
	"fmt"

	"github.com/CrazyForks/melody-auth/internal/auth/domain"
	"github.com/CrazyForks/melody-auth/internal/auth/store"
)

// Authorizer assembles the AuthView for a session and routes it through
// the orchestrator. It is the only place step decisions touch storage.
type Authorizer struct {
	Store    store.Store
	Sessions *SessionService
}

// StepResult tells the client what to do next. Done means the session id
// is ready to be redeemed at the token endpoint.
type StepResult struct {
	SessionID string      `json:"sessionId"`
	NextStep  domain.Step `json:"nextStep,omitempty"`
	Success   bool        `json:"success"`
}

// Advance decides what comes after the completed step and persists the
// session as mutated by it, stamping Completed when no step remains.
// The decision and the write share a single Update so the stored record
// always reflects the outcome the client was told about; the token
// endpoint trusts the Completed flag alone.
func (a *Authorizer) Advance(ctx context.Context, sessionID string, session domain.Session, completed domain.Step) (StepResult, error) {
	view, err := a.buildView(ctx, session)
	if err != nil {
		return StepResult{}, err
	}

	next, done := NextStep(completed, view)
	session.Completed = done
	if err := a.Sessions.Update(ctx, sessionID, session); err != nil {
		return StepResult{}, err
	}
	return StepResult{SessionID: sessionID, NextStep: next, Success: done}, nil
}

func (a *Authorizer) buildView(ctx context.Context, session domain.Session) (AuthView, error) {
	view := AuthView{
		Policy:            session.MFA,
		User:              session.User,
		IsFullyAuthorized: session.IsFullyAuthorized,
		MFAVerified:       session.MFAVerified,
	}
	if session.User == nil || session.IsFullyAuthorized {
		return view, nil
	}

	if session.MFA != nil && session.MFA.RequireConsent {
		granted, err := a.Store.Consents().HasConsent(ctx, session.User.ID, session.AppID)
		if err != nil {
			return AuthView{}, fmt.Errorf("check consent: %w", err)
		}
		view.ConsentGranted = granted
	}

	if session.MFA != nil && session.MFA.RequirePasskeyEnroll {
		count, err := a.Store.Passkeys().CountUserPasskeys(ctx, session.User.ID)
		if err != nil {
			return AuthView{}, fmt.Errorf("count passkeys: %w", err)
		}
		view.PasskeyCount = count
	}

	return view, nil
}

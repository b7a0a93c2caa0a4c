package engine

import "github.com/CrazyForks/melody-auth/internal/auth/domain"

// AuthView is the complete set of facts the orchestrator routes on. It is
// assembled by the Authorizer from the session, the user record and the
// persistence layer, so that NextStep itself stays free of I/O and can be
// tested exhaustively.
type AuthView struct {
	// Policy is the session's application policy snapshot.
	Policy *domain.MFAPolicy

	// User is the session's user snapshot. Nil before a primary factor
	// succeeds.
	User *domain.User

	// IsFullyAuthorized mirrors the session flag set by passkey and
	// recovery-code sign-in.
	IsFullyAuthorized bool

	// MFAVerified mirrors the session flag set by a verified second
	// factor or a valid remembered device.
	MFAVerified bool

	// ConsentGranted is looked up against the consent store.
	ConsentGranted bool

	// PasskeyCount is the number of credentials the user has registered.
	PasskeyCount int
}

// NextStep decides the step that must happen after the given completed
// step. It returns ("", true) when authorization is complete and the
// session id may be redeemed as an authorization code.
//
// The decision is a pure function of its inputs: same view, same answer,
// no matter how the flow got there. Order is fixed: consent, then MFA
// enrollment, then MFA verification, then passkey enrollment.
func NextStep(completed domain.Step, view AuthView) (next domain.Step, done bool) {
	// Factors that prove full identity on their own skip everything.
	if view.IsFullyAuthorized {
		return "", true
	}

	policy := view.Policy

	if policy != nil && policy.RequireConsent && !view.ConsentGranted {
		return domain.StepConsent, false
	}

	if policy.RequiresMFA() && !view.MFAVerified {
		if view.User != nil {
			if factor, ok := view.User.EnrolledFactor(policy); ok {
				return factor.VerifyStep(), false
			}
		}
		return domain.StepMFAEnroll, false
	}

	if policy != nil && policy.RequirePasskeyEnroll &&
		view.PasskeyCount == 0 && view.User != nil && !view.User.SkipPasskeyEnroll {
		// Do not re-offer enrollment right after the user was already
		// looking at the prompt.
		if completed != domain.StepPasskeyEnroll {
			return domain.StepPasskeyEnroll, false
		}
	}

	return "", true
}

package domain

import "time"

// AuthRequest is the immutable snapshot of the original authorize request,
// captured at session initiation. Scopes hold the granted (validated) set,
// which may be narrower than what the client asked for.
type AuthRequest struct {
	ClientID            string   `json:"clientId"`
	RedirectURI         string   `json:"redirectUri"`
	Scopes              []string `json:"scopes"`
	CodeChallenge       string   `json:"codeChallenge"`
	CodeChallengeMethod string   `json:"codeChallengeMethod"`
	State               string   `json:"state"`
	Locale              string   `json:"locale"`
	Org                 string   `json:"org,omitempty"`
}

// Session is the server-side record of an in-progress authorization. It is
// keyed by a high-entropy session id which later doubles as the
// authorization code at the token endpoint.
//
// Sessions are rewritten wholesale on every step completion; there is no
// partial update. User starts absent and, once set by a primary factor,
// is only ever replaced with a fresher snapshot, never cleared.
type Session struct {
	AppID   string      `json:"appId"`
	AppName string      `json:"appName"`
	Request AuthRequest `json:"request"`

	// User is set by the first successful primary factor (password,
	// passkey, recovery code) and monotone thereafter.
	User *User `json:"user,omitempty"`

	// MFA is the application policy snapshot taken at initiation, so a
	// policy edit cannot retroactively change an in-flight session.
	MFA *MFAPolicy `json:"mfa,omitempty"`

	// IsFullyAuthorized is set only by factors that are themselves proof
	// of full identity (passkey assertion, recovery code). It
	// short-circuits all remaining steps.
	IsFullyAuthorized bool `json:"isFullyAuthorized,omitempty"`

	// MFAVerified records that a second factor was verified within this
	// session (directly or via a remembered device).
	MFAVerified bool `json:"mfaVerified,omitempty"`

	// Completed is stamped by the orchestrator when no step remains.
	// Only a completed session may be redeemed at the token endpoint.
	Completed bool `json:"completed,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// MFAPolicy is the per-application factor policy, derived once per session.
type MFAPolicy struct {
	RequireConsent bool `json:"requireConsent,omitempty"`

	// RequiredFactors lists the second factors the application demands.
	// Empty means MFA is not required.
	RequiredFactors []MFAType `json:"requiredFactors,omitempty"`

	// AllowEmailFallback permits a user enrolled in OTP to verify via an
	// email code instead. Never applied silently.
	AllowEmailFallback bool `json:"allowEmailFallback,omitempty"`

	// RequirePasskeyEnroll prompts un-enrolled users to register a
	// passkey before authorization completes.
	RequirePasskeyEnroll bool `json:"requirePasskeyEnroll,omitempty"`
}

// RequiresMFA reports whether the policy demands any second factor.
func (p *MFAPolicy) RequiresMFA() bool {
	return p != nil && len(p.RequiredFactors) > 0
}

// Allows reports whether the given factor satisfies the policy.
func (p *MFAPolicy) Allows(t MFAType) bool {
	if p == nil {
		return false
	}
	for _, f := range p.RequiredFactors {
		if f == t {
			return true
		}
	}
	return false
}

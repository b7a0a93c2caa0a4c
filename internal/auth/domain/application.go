package domain

import "time"

// Application is a registered OAuth client application. The MFA-related
// fields form the policy from which a per-session MFAPolicy snapshot is
// derived at initiation time.
type Application struct {
	ID           string
	ClientID     string
	Name         string
	RedirectURIs []string
	Scopes       []string
	Active       bool

	RequireConsent        bool
	RequireEmailMFA       bool
	RequireSMSMFA         bool
	RequireOTPMFA         bool
	AllowEmailMFAFallback bool
	RequirePasskeyEnroll  bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// MFAPolicy derives the session policy snapshot from the application
// configuration.
func (a *Application) MFAPolicy() *MFAPolicy {
	p := &MFAPolicy{
		RequireConsent:       a.RequireConsent,
		AllowEmailFallback:   a.AllowEmailMFAFallback,
		RequirePasskeyEnroll: a.RequirePasskeyEnroll,
	}
	if a.RequireOTPMFA {
		p.RequiredFactors = append(p.RequiredFactors, MFATypeOTP)
	}
	if a.RequireEmailMFA {
		p.RequiredFactors = append(p.RequiredFactors, MFATypeEmail)
	}
	if a.RequireSMSMFA {
		p.RequiredFactors = append(p.RequiredFactors, MFATypeSMS)
	}
	return p
}

// AllowsRedirectURI reports whether the given redirect URI is registered.
func (a *Application) AllowsRedirectURI(uri string) bool {
	for _, u := range a.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

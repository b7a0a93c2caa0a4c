package domain

import "time"

type User struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"emailVerified"`
	PasswordHash  string `json:"-"`
	FirstName     string `json:"firstName,omitempty"`
	LastName      string `json:"lastName,omitempty"`
	Locale        string `json:"locale,omitempty"`
	Org           string `json:"org,omitempty"`

	// MFATypes are the second factors the user has enrolled in.
	MFATypes []MFAType `json:"mfaTypes,omitempty"`

	// OTPSecret is set once TOTP setup is confirmed by a first valid code.
	OTPSecret   string `json:"-"`
	OTPVerified bool   `json:"otpVerified,omitempty"`

	// SMSPhoneNumber is set via SMS MFA setup; verified after the first
	// code check against that number succeeds.
	SMSPhoneNumber string `json:"-"`
	SMSVerified    bool   `json:"smsVerified,omitempty"`

	// RecoveryCodeHash is the fingerprint of the single active recovery
	// code; empty when none is issued or after consumption.
	RecoveryCodeHash string `json:"-"`

	// SkipPasskeyEnroll is set when the user declines passkey enrollment
	// with "don't ask again".
	SkipPasskeyEnroll bool `json:"skipPasskeyEnroll,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// EnrolledIn reports whether the user has enrolled the given factor.
func (u *User) EnrolledIn(t MFAType) bool {
	for _, f := range u.MFATypes {
		if f == t {
			return true
		}
	}
	return false
}

// EnrolledFactor returns the first policy-required factor the user is
// enrolled in, or ("", false) when there is none.
func (u *User) EnrolledFactor(p *MFAPolicy) (MFAType, bool) {
	if p == nil {
		return "", false
	}
	for _, f := range p.RequiredFactors {
		if u.EnrolledIn(f) {
			return f, true
		}
	}
	return "", false
}

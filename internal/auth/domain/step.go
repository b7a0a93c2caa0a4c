package domain

// Step identifies an authorization step the client must complete next.
// The set is closed; the orchestrator only ever routes between these.
type Step string

const (
	StepPassword      Step = "password"
	StepConsent       Step = "consent"
	StepMFAEnroll     Step = "mfa_enroll"
	StepEmailMFA      Step = "email_mfa"
	StepOTPMFA        Step = "otp_mfa"
	StepSMSMFA        Step = "sms_mfa"
	StepPasskeyEnroll Step = "passkey_enroll"
)

// MFAType is a closed enum of supported second factors. OTP is the only
// factor without an out-of-band send operation.
type MFAType string

const (
	MFATypeEmail MFAType = "email"
	MFATypeSMS   MFAType = "sms"
	MFATypeOTP   MFAType = "otp"
)

// VerifyStep maps a factor type to its verification step.
func (t MFAType) VerifyStep() Step {
	switch t {
	case MFATypeSMS:
		return StepSMSMFA
	case MFATypeOTP:
		return StepOTPMFA
	default:
		return StepEmailMFA
	}
}

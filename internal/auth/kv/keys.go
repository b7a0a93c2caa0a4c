package kv

// Key builders for the namespaces the auth engine stores in the KV.
// Every entry is scoped by session id (or email for cross-device
// passkey sign-in) so values cannot leak between flows.

func SessionKey(sessionID string) string {
	return "session:" + sessionID
}

func EmailMFACodeKey(sessionID string) string {
	return "mfa:email:" + sessionID
}

func SMSMFACodeKey(sessionID string) string {
	return "mfa:sms:" + sessionID
}

// SMSPendingNumberKey holds the phone number submitted during SMS
// enrollment until the first code verifies.
func SMSPendingNumberKey(sessionID string) string {
	return "mfa:sms:pending:" + sessionID
}

// OTPPendingSecretKey holds a freshly generated authenticator secret
// until the first code verifies, at which point it moves to the user
// record.
func OTPPendingSecretKey(sessionID string) string {
	return "mfa:otp:pending:" + sessionID
}

func PasskeyEnrollChallengeKey(sessionID string) string {
	return "passkey:enroll:" + sessionID
}

// PasskeyVerifyChallengeKey is keyed by email rather than session id
// so that passkey sign-in can start before any session credential is
// proven.
func PasskeyVerifyChallengeKey(email string) string {
	return "passkey:verify:" + email
}

func ResetPasswordCodeKey(email string) string {
	return "reset:" + email
}

// VerifyEmailCodeKey holds the code mailed at sign-up until the address
// is confirmed.
func VerifyEmailCodeKey(userID string) string {
	return "verify-email:" + userID
}

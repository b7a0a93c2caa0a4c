package notify

import "fmt"

// MFACodeEmail renders the one-time code email for sign-in verification.
func MFACodeEmail(code string) (subject, htmlBody, textBody string) {
	subject = "Your verification code"
	textBody = fmt.Sprintf("Your verification code is %s. It expires in 5 minutes.", code)
	htmlBody = fmt.Sprintf(
		"<p>Your verification code is <strong>%s</strong>.</p><p>It expires in 5 minutes.</p>",
		code)
	return subject, htmlBody, textBody
}

// PasswordResetEmail renders the password reset code email.
func PasswordResetEmail(code string) (subject, htmlBody, textBody string) {
	subject = "Reset your password"
	textBody = fmt.Sprintf("Use code %s to reset your password. It expires in 10 minutes.", code)
	htmlBody = fmt.Sprintf(
		"<p>Use code <strong>%s</strong> to reset your password.</p><p>It expires in 10 minutes.</p>",
		code)
	return subject, htmlBody, textBody
}

// VerifyEmailEmail renders the address confirmation code sent at sign-up.
func VerifyEmailEmail(code string) (subject, htmlBody, textBody string) {
	subject = "Confirm your email address"
	textBody = fmt.Sprintf("Use code %s to confirm your email address. It expires in 24 hours.", code)
	htmlBody = fmt.Sprintf(
		"<p>Use code <strong>%s</strong> to confirm your email address.</p><p>It expires in 24 hours.</p>",
		code)
	return subject, htmlBody, textBody
}

// MFACodeSMS renders the one-time code text message.
func MFACodeSMS(code string) string {
	return fmt.Sprintf("Your verification code is %s", code)
}

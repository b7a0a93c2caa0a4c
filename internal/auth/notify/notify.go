// Package notify delivers one-time codes to users over email and SMS.
// The engine treats delivery as part of the operation: a dispatch failure
// surfaces as an error instead of leaving the user waiting on a code that
// never went out.
package notify

import "context"

// EmailSender delivers a single email message.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, htmlBody, textBody string) error
}

// SMSSender delivers a single text message.
type SMSSender interface {
	SendSMS(ctx context.Context, phoneNumber, body string) error
}

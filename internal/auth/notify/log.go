package notify

import (
	"context"
	"log/slog"
)

// LogEmailSender writes messages to the log instead of delivering them.
// Useful for local development when no SMTP server is configured.
type LogEmailSender struct {
	Logger *slog.Logger
}

func (s *LogEmailSender) SendEmail(ctx context.Context, to, subject, htmlBody, textBody string) error {
	s.Logger.InfoContext(ctx, "email (log sender)",
		slog.String("to", to),
		slog.String("subject", subject),
		slog.String("body", textBody),
	)
	return nil
}

// LogSMSSender writes messages to the log instead of delivering them.
// Swap in a real gateway implementation for production.
type LogSMSSender struct {
	Logger *slog.Logger
}

func (s *LogSMSSender) SendSMS(ctx context.Context, phoneNumber, body string) error {
	s.Logger.InfoContext(ctx, "sms (log sender)",
		slog.String("to", phoneNumber),
		slog.String("body", body),
	)
	return nil
}

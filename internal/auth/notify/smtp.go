package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	mail "github.com/go-mail/mail"
)

// SMTPConfig holds the SMTP connection parameters.
type SMTPConfig struct {
	Host     string
	Port     int
	From     string
	Username string
	Password string

	// TLSMode is one of "auto", "starttls", "ssl" or "none".
	TLSMode string

	InsecureSkipVerify bool
}

// SMTPSender implements EmailSender over SMTP.
type SMTPSender struct {
	cfg    SMTPConfig
	logger *slog.Logger
}

func NewSMTPSender(cfg SMTPConfig, logger *slog.Logger) *SMTPSender {
	if cfg.TLSMode == "" {
		cfg.TLSMode = "auto"
	}
	return &SMTPSender{cfg: cfg, logger: logger}
}

func (s *SMTPSender) SendEmail(ctx context.Context, to, subject, htmlBody, textBody string) error {
	m := mail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)

	// multipart/alternative when both bodies are present
	if textBody != "" {
		m.SetBody("text/plain", textBody)
	}
	if htmlBody != "" {
		if textBody == "" {
			m.SetBody("text/html", htmlBody)
		} else {
			m.AddAlternative("text/html", htmlBody)
		}
	}

	d := mail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)
	d.TLSConfig = &tls.Config{
		ServerName:         s.cfg.Host,
		InsecureSkipVerify: s.cfg.InsecureSkipVerify,
	}

	switch s.cfg.TLSMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.TLSConfig = &tls.Config{InsecureSkipVerify: s.cfg.InsecureSkipVerify}
	default:
		// "auto"/"starttls": the dialer negotiates STARTTLS when offered
	}

	if err := d.DialAndSend(m); err != nil {
		s.logger.ErrorContext(ctx, "smtp send failed",
			slog.String("host", s.cfg.Host),
			slog.String("to", to),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("notify: smtp send: %w", err)
	}

	s.logger.DebugContext(ctx, "email sent",
		slog.String("to", to),
		slog.String("subject", subject),
	)
	return nil
}

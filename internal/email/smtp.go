package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wneessen/go-mail"
)

// SMTPConfig holds SMTP connection parameters.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string // optional - some servers allow unauthenticated relay
	Password string // optional
	From     string // default sender address
	FromName string // optional sender display name
}

// SMTPSender implements Sender using go-mail for robust SMTP support.
// Features:
// - Automatic TLS/STARTTLS detection based on port
// - Multiple auth methods (PLAIN, LOGIN, CRAM-MD5, SCRAM)
// - Proper MIME multipart message construction
// - Connection timeout handling
type SMTPSender struct {
	config *SMTPConfig
	logger *slog.Logger
}

// NewSMTPSender creates a new SMTP email sender using go-mail.
func NewSMTPSender(config *SMTPConfig) *SMTPSender {
	return &SMTPSender{
		config: config,
		logger: slog.Default(),
	}
}

// Send sends an email via SMTP using go-mail.
func (s *SMTPSender) Send(ctx context.Context, email *Email) (string, error) {
	s.logger.Info("smtp: preparing email",
		"to", email.To,
		"subject", email.Subject,
		"host", s.config.Host,
		"port", s.config.Port,
	)

	msg := mail.NewMsg()

	from := email.From
	if from == "" {
		from = s.config.From
	}
	if err := msg.From(from); err != nil {
		return "", fmt.Errorf("invalid from address: %w", err)
	}

	if err := msg.To(email.To...); err != nil {
		return "", fmt.Errorf("invalid to address: %w", err)
	}

	msg.Subject(email.Subject)

	// Prefer HTML with text fallback, or just text
	if email.HTMLBody != "" && email.TextBody != "" {
		msg.SetBodyString(mail.TypeTextPlain, email.TextBody)
		msg.AddAlternativeString(mail.TypeTextHTML, email.HTMLBody)
	} else if email.HTMLBody != "" {
		msg.SetBodyString(mail.TypeTextHTML, email.HTMLBody)
	} else {
		msg.SetBodyString(mail.TypeTextPlain, email.TextBody)
	}

	for key, value := range email.Headers {
		msg.SetGenHeader(mail.Header(key), value)
	}

	client, err := mail.NewClient(s.config.Host, s.buildClientOptions()...)
	if err != nil {
		return "", fmt.Errorf("failed to create SMTP client: %w", err)
	}

	if err := client.DialAndSend(msg); err != nil {
		s.logger.Error("smtp: failed to send email", "error", err)
		return "", fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("smtp: email sent successfully", "to", email.To)

	// SMTP doesn't reliably provide a message ID
	messageID := fmt.Sprintf("smtp-%d-%d", time.Now().UnixNano(), len(email.To))
	return messageID, nil
}

// buildClientOptions returns go-mail client options based on configuration.
func (s *SMTPSender) buildClientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(s.config.Port),
		mail.WithTimeout(30 * time.Second),
	}

	// TLS mode based on port (go-mail auto-detects, but we can be explicit)
	switch s.config.Port {
	case 465:
		// Implicit TLS (SMTPS)
		opts = append(opts, mail.WithSSL())
	case 587:
		// STARTTLS (submission port)
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	case 25:
		// Plain SMTP or opportunistic STARTTLS
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	default:
		// For other ports (like 1025 for Mailhog), try opportunistic TLS
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	// Authentication if credentials provided
	if s.config.Username != "" && s.config.Password != "" {
		opts = append(opts,
			mail.WithUsername(s.config.Username),
			mail.WithPassword(s.config.Password),
			mail.WithSMTPAuth(mail.SMTPAuthAutoDiscover),
		)
	}

	return opts
}

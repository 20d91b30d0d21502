// Package email provides email delivery through a provider chain.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ssupshub/cicd-anomaly-detection/internal/notify/email/provider"
	"github.com/ssupshub/cicd-anomaly-detection/internal/notify/payload"
)

// Sender implements email delivery. The actual transport is delegated to a
// provider registry so a failing backend falls through to the next one.
type Sender struct {
	from      string
	providers *provider.Registry
}

// NewSender creates the email sink with the default provider chain:
// Resend as primary, SES and plain SMTP as fallbacks. The primary can be
// switched with the EMAIL_PROVIDER environment variable.
func NewSender() *Sender {
	registry := provider.NewRegistry()
	registry.Register(provider.NewResendProvider())
	registry.Register(provider.NewSESProvider())
	registry.Register(provider.NewSMTPProvider())

	primary := provider.GetEnvOrDefault("EMAIL_PROVIDER", "resend")
	if err := registry.SetPrimary(primary); err != nil {
		slog.Warn("Unknown primary email provider, using resend", "name", primary)
		_ = registry.SetPrimary("resend")
	}
	_ = registry.SetFallback("ses", "smtp")

	return NewSenderWithRegistry(registry, provider.GetEnvOrDefault("EMAIL_FROM", "alerts@cicd-anomaly.local"))
}

// NewSenderWithRegistry creates the email sink with a custom provider
// registry. This is useful for testing or custom provider configurations.
func NewSenderWithRegistry(registry *provider.Registry, from string) *Sender {
	return &Sender{
		from:      from,
		providers: registry,
	}
}

// Type returns the channel this sink handles.
func (s *Sender) Type() string {
	return "email"
}

// Send delivers the rendered message by email.
// The target should be a comma-separated list of email addresses.
func (s *Sender) Send(ctx context.Context, target string, msg payload.Message) error {
	if target == "" {
		return fmt.Errorf("email recipient is required")
	}

	recipients := parseRecipients(target)
	if len(recipients) == 0 {
		return fmt.Errorf("no valid email recipients provided")
	}

	// Basic validation: check for @ symbol in email addresses
	for _, recipient := range recipients {
		if !strings.Contains(recipient, "@") {
			return fmt.Errorf("invalid email address format: %q (missing @ symbol)", recipient)
		}
	}

	req := &provider.EmailRequest{
		From:    s.from,
		To:      recipients,
		Subject: msg.Subject,
		Body:    msg.Body,
	}

	if err := s.providers.Send(ctx, req); err != nil {
		slog.Error("Failed to send email notification",
			"error", err,
			"to", strings.Join(recipients, ", "),
			"message_id", msg.ID,
		)
		return fmt.Errorf("failed to send email: %w", err)
	}

	slog.Info("Successfully sent email notification",
		"to", strings.Join(recipients, ", "),
		"subject", msg.Subject,
		"message_id", msg.ID,
		"events", msg.EventCount,
	)

	return nil
}

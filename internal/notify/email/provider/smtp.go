// Package provider provides email provider implementations.
package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// SMTPProvider implements email sending over SMTP, with implicit TLS or
// STARTTLS on the standard submission ports.
type SMTPProvider struct {
	host     string
	port     string
	user     string
	password string
}

// NewSMTPProvider creates a new SMTP email provider from SMTP_* environment
// variables. The defaults target a local development relay such as MailHog.
func NewSMTPProvider() *SMTPProvider {
	return NewSMTPProviderWithConfig(
		GetEnvOrDefault("SMTP_HOST", "localhost"),
		GetEnvOrDefault("SMTP_PORT", "1025"),
		GetEnvOrDefault("SMTP_USER", ""),
		GetEnvOrDefault("SMTP_PASSWORD", ""),
	)
}

// NewSMTPProviderWithConfig creates an SMTP provider with explicit settings.
func NewSMTPProviderWithConfig(host, port, user, password string) *SMTPProvider {
	return &SMTPProvider{
		host:     host,
		port:     port,
		user:     user,
		password: password,
	}
}

// Name returns the provider name.
func (p *SMTPProvider) Name() string {
	return "smtp"
}

// IsConfigured returns true if an SMTP host is set.
func (p *SMTPProvider) IsConfigured() bool {
	return p.host != ""
}

// Send sends an email via SMTP.
func (p *SMTPProvider) Send(ctx context.Context, req *EmailRequest) error {
	if len(req.To) == 0 {
		return fmt.Errorf("no recipients specified")
	}

	port, err := strconv.Atoi(p.port)
	if err != nil {
		return fmt.Errorf("invalid SMTP port: %s", p.port)
	}
	addr := net.JoinHostPort(p.host, p.port)

	// Gmail requires the envelope FROM to match the authenticated user.
	from := req.From
	if strings.Contains(p.host, "gmail.com") && p.user != "" {
		from = p.user
	}

	msg := buildMessage(from, req.To, req.Subject, req.Body)

	// Port 587 uses STARTTLS, port 465 uses implicit TLS. Anything else is
	// treated as a local relay without TLS.
	if port == 587 || port == 465 {
		err = p.sendWithTLS(ctx, addr, port, from, req.To, msg)
	} else {
		var auth smtp.Auth
		if p.user != "" && p.password != "" {
			auth = smtp.PlainAuth("", p.user, p.password, p.host)
		}
		err = smtp.SendMail(addr, auth, from, req.To, msg)
	}
	if err != nil {
		slog.Error("SMTP send failed",
			"error", err,
			"smtp_server", addr,
			"to", req.To,
		)
		if strings.Contains(err.Error(), "connection refused") {
			return fmt.Errorf("SMTP send failed: %w (server at %s is not available, configure SMTP_HOST/SMTP_PORT)", err, addr)
		}
		return fmt.Errorf("SMTP send failed: %w", err)
	}

	slog.Info("Email sent via SMTP",
		"from", from,
		"to", req.To,
		"subject", req.Subject,
		"smtp_server", addr,
	)

	return nil
}

// sendWithTLS delivers over a secured connection for providers that require
// it (Gmail, SES SMTP interface, etc.).
func (p *SMTPProvider) sendWithTLS(ctx context.Context, addr string, port int, from string, recipients []string, msg []byte) error {
	dialer := &net.Dialer{Timeout: 30 * time.Second}

	var client *smtp.Client
	if port == 465 {
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config:    &tls.Config{ServerName: p.host},
		}
		conn, err := tlsDialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to connect to SMTP server with TLS: %w", err)
		}
		defer conn.Close()

		client, err = smtp.NewClient(conn, p.host)
		if err != nil {
			return fmt.Errorf("failed to create SMTP client: %w", err)
		}
	} else {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to connect to SMTP server: %w", err)
		}
		defer conn.Close()

		client, err = smtp.NewClient(conn, p.host)
		if err != nil {
			return fmt.Errorf("failed to create SMTP client: %w", err)
		}

		if ok, _ := client.Extension("STARTTLS"); ok {
			tlsConfig := &tls.Config{ServerName: p.host}
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("failed to start TLS: %w", err)
			}
		}
	}
	defer client.Close()

	if p.user != "" && p.password != "" {
		auth := smtp.PlainAuth("", p.user, p.password, p.host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("failed to set sender %s: %w", from, err)
	}
	for _, recipient := range recipients {
		if err := client.Rcpt(recipient); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", recipient, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to open data writer: %w", err)
	}
	if _, err := writer.Write(msg); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write email data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	if err := client.Quit(); err != nil {
		// Quit errors are usually not critical, but log them
		slog.Warn("Error during SMTP QUIT", "error", err)
	}

	return nil
}

// buildMessage assembles a complete email message in RFC 822 format.
func buildMessage(from string, to []string, subject, body string) []byte {
	var msg bytes.Buffer
	now := time.Now().Format(time.RFC1123Z)

	msg.WriteString(fmt.Sprintf("From: %s\r\n", from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(to, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString(fmt.Sprintf("Date: %s\r\n", now))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	return msg.Bytes()
}

// Package webhook provides generic delivery via HTTP POST.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ssupshub/cicd-anomaly-detection/internal/notify/payload"
	"github.com/ssupshub/cicd-anomaly-detection/internal/notify/validation"
)

// Sender implements generic delivery via HTTP POST.
type Sender struct {
	httpClient *http.Client
}

// NewSender creates a new webhook sink.
func NewSender() *Sender {
	return &Sender{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Type returns the channel this sink handles.
func (s *Sender) Type() string {
	return "webhook"
}

var dummyWebhookHosts = []string{
	"example.com",
	"example.org",
	"example.net",
	"test.com",
	"invalid",
}

// isDummyWebhookURL reports whether the target points at a placeholder host.
// Placeholder targets show up in scaffolded configs; posting to them would
// only produce noise.
func isDummyWebhookURL(target string) bool {
	parsed, err := url.Parse(target)
	if err != nil {
		return false
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return false
	}

	for _, dummy := range dummyWebhookHosts {
		if host == dummy || strings.HasSuffix(host, "."+dummy) {
			return true
		}
	}

	return false
}

// Send posts the rendered message to a webhook endpoint via HTTP POST.
// The target should be a webhook URL.
func (s *Sender) Send(ctx context.Context, target string, msg payload.Message) error {
	if target == "" {
		return fmt.Errorf("webhook URL is required")
	}

	if !validation.IsValidURL(target) {
		return fmt.Errorf("invalid webhook URL: %q (must be a valid HTTP/HTTPS URL)", target)
	}

	if isDummyWebhookURL(target) {
		slog.Info("Skipping dummy webhook endpoint",
			"webhook_url", target,
			"message_id", msg.ID,
		)
		return nil
	}

	webhookPayload := payload.BuildWebhookPayload(msg)

	jsonData, err := json.Marshal(webhookPayload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", target, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		slog.Error("Failed to send webhook notification",
			"error", err,
			"webhook_url", target,
			"message_id", msg.ID,
		)
		return fmt.Errorf("failed to send webhook notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("Webhook returned error status",
			"status_code", resp.StatusCode,
			"webhook_url", target,
			"message_id", msg.ID,
		)
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	slog.Info("Successfully sent webhook notification",
		"webhook_url", target,
		"message_id", msg.ID,
		"events", msg.EventCount,
	)

	return nil
}

// Package slack provides Slack delivery via Incoming Webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ssupshub/cicd-anomaly-detection/internal/notify/payload"
	"github.com/ssupshub/cicd-anomaly-detection/internal/notify/validation"
)

// maskURL masks sensitive parts of a URL for logging.
func maskURL(url string) string {
	if len(url) > 50 {
		// Show first 30 chars and last 10 chars
		return url[:30] + "..." + url[len(url)-10:]
	}
	return url
}

// Sender implements Slack delivery via Incoming Webhooks.
type Sender struct {
	httpClient *http.Client
}

// NewSender creates a new Slack sink.
func NewSender() *Sender {
	return &Sender{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Type returns the channel this sink handles.
func (s *Sender) Type() string {
	return "slack"
}

// Send posts the rendered message to a Slack Incoming Webhook.
// The target should be a Slack webhook URL.
func (s *Sender) Send(ctx context.Context, target string, msg payload.Message) error {
	if target == "" {
		return fmt.Errorf("slack webhook URL is required")
	}

	if !validation.IsValidURL(target) {
		return fmt.Errorf("invalid Slack webhook URL: %q (must be a valid HTTP/HTTPS URL, not a channel name). Slack webhook URLs typically start with https://hooks.slack.com/services/", target)
	}

	slackPayload := payload.BuildSlackPayload(msg)

	jsonData, err := json.Marshal(slackPayload)
	if err != nil {
		return fmt.Errorf("failed to marshal Slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", target, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		slog.Error("Failed to send Slack message",
			"error", err,
			"webhook_url", maskURL(target),
			"message_id", msg.ID,
		)
		return fmt.Errorf("failed to send Slack message to %s: %w", maskURL(target), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("Slack webhook returned error status",
			"status_code", resp.StatusCode,
			"message_id", msg.ID,
		)
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}

	slog.Info("Successfully sent Slack message",
		"message_id", msg.ID,
		"severity", msg.Severity,
		"events", msg.EventCount,
	)

	return nil
}

// Package payload renders matured batches into outbound messages and builds
// the channel-specific payload shapes.
package payload

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ssupshub/cicd-anomaly-detection/internal/alert"
)

const (
	timeLayout = "2006-01-02 15:04:05"

	// maxFeaturesShown caps the anomalous-metric lines in a single alert.
	maxFeaturesShown = 3
	// maxBatchLines caps the per-event lines in a grouped message.
	maxBatchLines = 10
)

// Message is the rendered outbound unit handed to every sink in a delivery.
// One buffered event renders in the single-alert format; two or more render
// in the grouped format.
type Message struct {
	ID         string
	Subject    string
	Body       string
	Severity   alert.Severity
	EventCount int
	Events     []alert.Event
}

// Render builds the message for a matured batch. Severity is the maximum
// across the batched events.
func Render(events []alert.Event) Message {
	msg := Message{
		ID:         uuid.New().String(),
		Severity:   alert.SeverityLow,
		EventCount: len(events),
		Events:     events,
	}
	for _, ev := range events {
		msg.Severity = alert.MaxSeverity(msg.Severity, ev.Severity)
	}

	if len(events) == 1 {
		msg.Subject = fmt.Sprintf("CI/CD Anomaly Alert - %s", events[0].Job)
		msg.Body = singleBody(events[0])
	} else {
		msg.Subject = fmt.Sprintf("CI/CD Anomaly Alert - %d anomalies", len(events))
		msg.Body = groupedBody(events)
	}
	return msg
}

// singleBody formats one anomaly with its top metrics and payload details.
func singleBody(ev alert.Event) string {
	var sb strings.Builder
	sb.WriteString("🚨 *Anomaly Detected in CI/CD Pipeline*\n\n")
	fmt.Fprintf(&sb, "*Job/Workflow:* %s\n", ev.Job)
	fmt.Fprintf(&sb, "*Time:* %s\n", ev.Timestamp.Format(timeLayout))
	fmt.Fprintf(&sb, "*Severity:* %s\n", strings.ToUpper(string(ev.Severity)))

	if len(ev.Features) > 0 {
		sb.WriteString("\n*Anomalous Metrics:*\n")
		for _, f := range ev.TopFeatures(maxFeaturesShown) {
			fmt.Fprintf(&sb, "  • %s: %.2f (expected: %.2f, z-score: %.2f)\n",
				f.Name, f.Observed, f.Expected, f.ZScore)
		}
	}

	if len(ev.Payload) > 0 {
		sb.WriteString("\n*Details:*\n")
		keys := make([]string, 0, len(ev.Payload))
		for k := range ev.Payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "  %s: %s\n", k, ev.Payload[k])
		}
	}
	return sb.String()
}

// groupedBody summarizes a burst, one line per event, capped at
// maxBatchLines with an overflow marker.
func groupedBody(events []alert.Event) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🚨 *%d Anomalies Detected in CI/CD Pipelines*\n\n", len(events))
	for i, ev := range events {
		if i == maxBatchLines {
			fmt.Fprintf(&sb, "\n... and %d more\n", len(events)-maxBatchLines)
			break
		}
		if z := ev.MaxZScore(); z > 0 {
			fmt.Fprintf(&sb, "%d. *%s* - z-score: %.2f\n", i+1, ev.Job, z)
		} else {
			fmt.Fprintf(&sb, "%d. *%s* - severity %s\n", i+1, ev.Job, ev.Severity)
		}
	}
	return sb.String()
}

// SlackPayload is the Incoming Webhook body.
type SlackPayload struct {
	Text        string       `json:"text,omitempty"`
	Username    string       `json:"username,omitempty"`
	IconEmoji   string       `json:"icon_emoji,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is a Slack message attachment.
type Attachment struct {
	Color     string  `json:"color,omitempty"`
	Title     string  `json:"title,omitempty"`
	Text      string  `json:"text,omitempty"`
	Fields    []Field `json:"fields,omitempty"`
	Timestamp int64   `json:"ts,omitempty"`
}

// Field is one short key/value pair in an attachment.
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// BuildSlackPayload wraps the message in an attachment colored by severity.
func BuildSlackPayload(msg Message) SlackPayload {
	return SlackPayload{
		Username:  "CI/CD Anomaly Detector",
		IconEmoji: ":robot_face:",
		Attachments: []Attachment{
			{
				Color: SeverityColor(msg.Severity),
				Title: msg.Subject,
				Text:  msg.Body,
				Fields: []Field{
					{Title: "Severity", Value: string(msg.Severity), Short: true},
					{Title: "Events", Value: strconv.Itoa(msg.EventCount), Short: true},
				},
			},
		},
	}
}

// SeverityColor maps a severity level to the Slack attachment color.
func SeverityColor(s alert.Severity) string {
	switch s {
	case alert.SeverityCritical:
		return "danger"
	case alert.SeverityHigh, alert.SeverityMedium:
		return "warning"
	default:
		return "good"
	}
}

// WebhookPayload is the generic webhook body.
type WebhookPayload struct {
	Type      string       `json:"type"`
	Timestamp string       `json:"timestamp"`
	Alert     WebhookAlert `json:"alert"`
}

// WebhookAlert carries the structured form of the rendered message.
type WebhookAlert struct {
	MessageID  string        `json:"message_id"`
	Subject    string        `json:"subject"`
	Severity   string        `json:"severity"`
	EventCount int           `json:"event_count"`
	Events     []alert.Event `json:"events"`
}

// BuildWebhookPayload builds the generic webhook body from the message.
func BuildWebhookPayload(msg Message) WebhookPayload {
	return WebhookPayload{
		Type:      "anomaly_detected",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Alert: WebhookAlert{
			MessageID:  msg.ID,
			Subject:    msg.Subject,
			Severity:   string(msg.Severity),
			EventCount: msg.EventCount,
			Events:     msg.Events,
		},
	}
}

package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ssupshub/cicd-anomaly-detection/internal/alert"
)

// MockPublisher logs events instead of publishing them to Kafka. Useful for
// inspecting generator output without a broker.
type MockPublisher struct {
	topic string
}

var _ EventPublisher = (*MockPublisher)(nil)

// NewMockPublisher creates a publisher that logs events instead of sending.
func NewMockPublisher(topic string) *MockPublisher {
	slog.Info("Using mock publisher (no Kafka connection)",
		"topic", topic,
		"note", "Events will be logged but not published to Kafka",
	)
	return &MockPublisher{topic: topic}
}

// Publish logs the event as JSON instead of publishing it.
func (p *MockPublisher) Publish(ctx context.Context, ev *alert.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal anomaly event: %w", err)
	}
	slog.Info("Mock publish (event logged, not sent to Kafka)",
		"topic", p.topic,
		"job", ev.Job,
		"fingerprint", ev.Fingerprint(),
		"event_json", string(payload),
	)
	return nil
}

// Close is a no-op for the mock publisher.
func (p *MockPublisher) Close() error {
	slog.Info("Mock publisher closed", "topic", p.topic)
	return nil
}

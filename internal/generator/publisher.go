package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/ssupshub/cicd-anomaly-detection/internal/alert"
	kafkautil "github.com/ssupshub/cicd-anomaly-detection/internal/kafka"
)

// EventPublisher defines the interface for publishing anomaly events.
type EventPublisher interface {
	Publish(ctx context.Context, ev *alert.Event) error
	Close() error
}

// Publisher wraps a Kafka writer and provides a simple interface for
// publishing anomaly events. Messages are keyed by event fingerprint so
// duplicates of the same anomaly land on the same partition.
type Publisher struct {
	writer *kafka.Writer
	topic  string
}

// Ensure Publisher implements EventPublisher interface
var _ EventPublisher = (*Publisher)(nil)

// NewPublisher creates a new Kafka producer with the specified brokers and topic.
// The producer is configured for at-least-once delivery semantics with synchronous writes.
func NewPublisher(brokers string, topic string) (*Publisher, error) {
	if err := kafkautil.ValidateProducerParams(brokers, topic); err != nil {
		return nil, err
	}

	// Parse comma-separated broker list
	brokerList := kafkautil.ParseBrokers(brokers)

	slog.Info("Initializing Kafka producer",
		"brokers", brokerList,
		"topic", topic,
	)

	// Configure Kafka writer for at-least-once delivery
	// Use Hash balancer to partition by key (event fingerprint)
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokerList...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: kafkautil.WriteTimeout,
		RequiredAcks: kafka.RequireOne, // At-least-once semantics (waits for leader ack)
		Async:        false,            // Synchronous writes for reliability and error handling
	}

	slog.Info("Kafka producer configured",
		"write_timeout", kafkautil.WriteTimeout,
		"required_acks", "RequireOne",
		"async", false,
		"balancer", "Hash (key-based partitioning)",
		"partition_key", "event fingerprint",
	)

	return &Publisher{
		writer: writer,
		topic:  topic,
	}, nil
}

// Publish serializes an anomaly event to JSON and publishes it to Kafka.
// Returns an error if serialization or publishing fails.
func (p *Publisher) Publish(ctx context.Context, ev *alert.Event) error {
	msg, err := buildMessage(ev)
	if err != nil {
		slog.Error("Failed to encode anomaly event",
			"job", ev.Job,
			"error", err,
		)
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		slog.Error("Failed to publish anomaly event",
			"job", ev.Job,
			"topic", p.topic,
			"error", err,
		)
		return fmt.Errorf("failed to publish anomaly event: %w", err)
	}

	slog.Debug("Published anomaly event",
		"job", ev.Job,
		"features", len(ev.Features),
		"topic", p.topic,
	)

	return nil
}

// Close flushes pending messages and closes the Kafka writer.
func (p *Publisher) Close() error {
	slog.Info("Closing Kafka producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		slog.Error("Error closing Kafka producer", "error", err)
		return err
	}
	slog.Info("Kafka producer closed successfully")
	return nil
}

// buildMessage creates a Kafka message from an anomaly event. The message is
// keyed by the event fingerprint and carries a JSON content-type header.
func buildMessage(ev *alert.Event) (kafka.Message, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal anomaly event: %w", err)
	}

	return kafka.Message{
		Key:   []byte(ev.Fingerprint()),
		Value: payload,
		Headers: []kafka.Header{
			{
				Key:   "content-type",
				Value: []byte("application/json"),
			},
		},
		Time: ev.Timestamp,
	}, nil
}

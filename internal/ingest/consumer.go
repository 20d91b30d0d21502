// Package ingest reads anomaly events from Kafka and feeds them through the
// decision engine. Offsets are committed only after the engine has ruled on
// an event, giving at-least-once delivery into the pipeline.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/ssupshub/cicd-anomaly-detection/internal/alert"
	kafkautil "github.com/ssupshub/cicd-anomaly-detection/internal/kafka"
)

// Consumer wraps a Kafka reader and provides a simple interface for consuming anomaly events.
type Consumer struct {
	reader *kafka.Reader
	topic  string
}

var _ MessageReader = (*Consumer)(nil)

// NewConsumer creates a new Kafka consumer with the specified brokers, topic, and group ID.
// The consumer is configured for at-least-once delivery semantics.
func NewConsumer(brokers string, topic string, groupID string) (*Consumer, error) {
	if err := kafkautil.ValidateConsumerParams(brokers, topic, groupID); err != nil {
		return nil, err
	}

	// Parse comma-separated broker list
	brokerList := kafkautil.ParseBrokers(brokers)

	slog.Info("Initializing Kafka consumer",
		"brokers", brokerList,
		"topic", topic,
		"group_id", groupID,
	)

	// Configure Kafka reader for at-least-once delivery
	// StartOffset only applies when no committed offset exists for the consumer group
	// Using FirstOffset ensures we read all messages when starting fresh
	reader := kafka.NewReader(kafkautil.NewReaderConfig(brokerList, topic, groupID))

	slog.Info("Kafka consumer configured",
		"min_bytes", 1,
		"max_bytes", 10e6,
		"max_wait", kafkautil.ReadTimeout,
		"commit_interval", kafkautil.CommitInterval,
	)

	return &Consumer{
		reader: reader,
		topic:  topic,
	}, nil
}

// ReadMessage reads the next message from Kafka and decodes it as an anomaly
// event. On a decode failure the raw message is returned alongside the error
// so the caller can commit past the poison message.
func (c *Consumer) ReadMessage(ctx context.Context) (*alert.Event, *kafka.Message, error) {
	msg, err := c.reader.ReadMessage(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read message from Kafka: %w", err)
	}

	ev, err := DecodeEvent(msg.Value)
	if err != nil {
		return nil, &msg, err
	}

	return ev, &msg, nil
}

// CommitMessage commits the offset for the given message.
// This should be called after successfully processing a message.
func (c *Consumer) CommitMessage(ctx context.Context, msg *kafka.Message) error {
	return c.reader.CommitMessages(ctx, *msg)
}

// Close gracefully closes the Kafka reader and releases resources.
func (c *Consumer) Close() error {
	slog.Info("Closing Kafka consumer", "topic", c.topic)
	if err := c.reader.Close(); err != nil {
		slog.Error("Error closing Kafka consumer", "error", err)
		return err
	}
	slog.Info("Kafka consumer closed successfully")
	return nil
}

// DecodeEvent parses one JSON-encoded anomaly event. The event struct is
// closed: unknown fields fail the decode so schema drift surfaces at this
// boundary instead of silently dropping data.
func DecodeEvent(data []byte) (*alert.Event, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var ev alert.Event
	if err := dec.Decode(&ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal anomaly event: %w", err)
	}
	return &ev, nil
}

package ingest

import (
	"context"
	"errors"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/ssupshub/cicd-anomaly-detection/internal/alert"
	"github.com/ssupshub/cicd-anomaly-detection/internal/engine"
)

// MessageReader reads anomaly event messages from a message queue.
type MessageReader interface {
	// ReadMessage reads the next message and returns the parsed anomaly event.
	// On decode failures the raw message is still returned so poison messages
	// can be committed past.
	ReadMessage(ctx context.Context) (*alert.Event, *kafka.Message, error)

	// CommitMessage commits the offset for the given message.
	CommitMessage(ctx context.Context, msg *kafka.Message) error

	// Close closes the reader and releases resources.
	Close() error
}

// Submitter is the slice of the decision engine the ingest loop uses: one
// synchronous decision per event.
type Submitter interface {
	Submit(ev alert.Event) (engine.Outcome, error)
}

// Processor pumps anomaly events from the reader into the decision engine.
type Processor struct {
	reader MessageReader
	engine Submitter
}

// NewProcessor creates a new ingest processor.
func NewProcessor(reader MessageReader, engine Submitter) *Processor {
	return &Processor{
		reader: reader,
		engine: engine,
	}
}

// Run continuously reads anomaly events and submits them to the engine.
// Offsets are committed only after the engine has ruled on an event.
// Malformed and invalid events are logged, committed, and skipped so a
// poison message cannot wedge the partition. Run returns when ctx is
// cancelled.
func (p *Processor) Run(ctx context.Context) error {
	slog.Info("Starting anomaly ingest loop")

	for {
		select {
		case <-ctx.Done():
			slog.Info("Anomaly ingest loop stopped")
			return nil
		default:
			ev, msg, err := p.reader.ReadMessage(ctx)
			if err != nil {
				// Check if context was cancelled
				if ctx.Err() != nil {
					slog.Info("Anomaly ingest loop stopped")
					return nil
				}
				if msg != nil {
					// Poison message: redelivery can never fix it.
					slog.Warn("Skipping undecodable anomaly event",
						"offset", msg.Offset,
						"error", err,
					)
					p.commit(ctx, msg)
					continue
				}
				slog.Error("Failed to read anomaly event", "error", err)
				continue
			}

			outcome, err := p.engine.Submit(*ev)
			if err != nil {
				var vErr *engine.ValidationError
				if errors.As(err, &vErr) {
					// Invalid events can never fix themselves on redelivery either.
					slog.Warn("Skipping invalid anomaly event",
						"job", ev.Job,
						"error", err,
					)
					p.commit(ctx, msg)
					continue
				}
				// Don't commit - will retry on redelivery
				slog.Error("Failed to submit anomaly event", "job", ev.Job, "error", err)
				continue
			}

			slog.Debug("Anomaly event processed",
				"job", ev.Job,
				"decision", string(outcome),
			)
			p.commit(ctx, msg)
		}
	}
}

// commit commits the offset for msg, logging failures. A failed commit is
// not fatal: the message is redelivered and the engine's decisions are
// idempotent for duplicates inside the dedup window.
func (p *Processor) commit(ctx context.Context, msg *kafka.Message) {
	if err := p.reader.CommitMessage(ctx, msg); err != nil {
		slog.Error("Failed to commit offset", "offset", msg.Offset, "error", err)
	}
}

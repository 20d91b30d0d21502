// Package notify provides the coordinator that fans matured deliveries out
// to their channel sinks. It uses the strategy pattern to route each channel
// to the appropriate sink.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ssupshub/cicd-anomaly-detection/internal/engine"
	"github.com/ssupshub/cicd-anomaly-detection/internal/notify/email"
	"github.com/ssupshub/cicd-anomaly-detection/internal/notify/payload"
	"github.com/ssupshub/cicd-anomaly-detection/internal/notify/slack"
	"github.com/ssupshub/cicd-anomaly-detection/internal/notify/strategy"
	"github.com/ssupshub/cicd-anomaly-detection/internal/notify/webhook"
)

// DefaultSinkTimeout bounds one channel send so a dead sink cannot stall
// a flush.
const DefaultSinkTimeout = 5 * time.Second

// Delivery attempt status values recorded in the journal.
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Attempt is one channel-level delivery outcome.
type Attempt struct {
	MessageID  string
	Rule       string
	Channel    string
	EventCount int
	Status     string
	Error      string
	SentAt     time.Time
}

// AttemptRecorder journals delivery attempts. Recording is best effort: a
// journal failure never fails the delivery itself.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, attempt Attempt) error
}

// Targets holds the per-channel destinations used when a rule does not
// override them.
type Targets struct {
	SlackWebhookURL string
	EmailRecipients string
	WebhookURL      string
}

// Dispatcher coordinates delivery across multiple channels using the sink
// registered for each one.
type Dispatcher struct {
	registry    *strategy.Registry
	targets     Targets
	sinkTimeout time.Duration
	journal     AttemptRecorder
}

var _ engine.Dispatcher = (*Dispatcher)(nil)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSinkTimeout overrides the per-channel send timeout.
func WithSinkTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.sinkTimeout = d
		}
	}
}

// WithJournal records every channel attempt through rec.
func WithJournal(rec AttemptRecorder) Option {
	return func(disp *Dispatcher) {
		disp.journal = rec
	}
}

// NewDispatcher creates a dispatcher with all sinks registered.
func NewDispatcher(targets Targets, opts ...Option) *Dispatcher {
	registry := strategy.NewRegistry()

	// Register all sinks
	registry.Register(slack.NewSender())
	registry.Register(webhook.NewSender())
	registry.Register(email.NewSender())

	return NewDispatcherWithRegistry(registry, targets, opts...)
}

// NewDispatcherWithRegistry creates a dispatcher with a custom sink registry.
// This is useful for testing or custom sink configurations.
func NewDispatcherWithRegistry(registry *strategy.Registry, targets Targets, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:    registry,
		targets:     targets,
		sinkTimeout: DefaultSinkTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch renders the delivery once and sends the message to every channel
// the rule names. A channel-level failure never aborts the remaining
// channels; each channel's outcome comes back in the results. Failed sends
// are not retried.
func (d *Dispatcher) Dispatch(ctx context.Context, delivery engine.Delivery) []engine.ChannelResult {
	msg := payload.Render(delivery.Events)

	slog.Info("Dispatching delivery",
		"message_id", msg.ID,
		"rule", delivery.Rule,
		"channels", delivery.Channels,
		"events", msg.EventCount,
		"severity", msg.Severity,
	)

	results := make([]engine.ChannelResult, 0, len(delivery.Channels))
	for _, channel := range delivery.Channels {
		err := d.sendToChannel(ctx, channel, delivery, msg)
		results = append(results, engine.ChannelResult{Channel: channel, Err: err})
		d.record(ctx, msg, delivery, channel, err)
	}
	return results
}

// sendToChannel resolves the sink and target for one channel and sends
// under the per-channel timeout. Exactly one attempt per channel; failures
// are reported to the caller, never redelivered.
func (d *Dispatcher) sendToChannel(ctx context.Context, channel string, delivery engine.Delivery, msg payload.Message) error {
	sink, ok := d.registry.Get(channel)
	if !ok {
		return fmt.Errorf("no sink registered for channel %q", channel)
	}

	target := d.targetFor(channel, delivery)
	if target == "" {
		return fmt.Errorf("no target configured for channel %q", channel)
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sinkTimeout)
	defer cancel()

	return sink.Send(sendCtx, target, msg)
}

// targetFor resolves the destination for a channel, honoring the rule's
// webhook override.
func (d *Dispatcher) targetFor(channel string, delivery engine.Delivery) string {
	switch channel {
	case engine.ChannelSlack:
		return d.targets.SlackWebhookURL
	case engine.ChannelEmail:
		return d.targets.EmailRecipients
	case engine.ChannelWebhook:
		if delivery.WebhookOverride != "" {
			return delivery.WebhookOverride
		}
		return d.targets.WebhookURL
	default:
		return ""
	}
}

// record journals one attempt; failures are logged, never propagated.
func (d *Dispatcher) record(ctx context.Context, msg payload.Message, delivery engine.Delivery, channel string, sendErr error) {
	if d.journal == nil {
		return
	}

	attempt := Attempt{
		MessageID:  msg.ID,
		Rule:       delivery.Rule,
		Channel:    channel,
		EventCount: msg.EventCount,
		Status:     StatusSent,
		SentAt:     time.Now().UTC(),
	}
	if sendErr != nil {
		attempt.Status = StatusFailed
		attempt.Error = sendErr.Error()
	}

	if err := d.journal.RecordAttempt(ctx, attempt); err != nil {
		slog.Warn("Failed to journal delivery attempt",
			"error", err,
			"message_id", msg.ID,
			"channel", channel,
		)
	}
}

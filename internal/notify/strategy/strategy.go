// Package strategy defines the interface for delivery channel sinks.
package strategy

import (
	"context"

	"github.com/ssupshub/cicd-anomaly-detection/internal/notify/payload"
)

// Sink is the interface that all delivery channels must implement.
type Sink interface {
	// Send delivers the rendered message to the target. The target format
	// depends on the sink type:
	//   - email: recipient address(es) as comma-separated string
	//   - slack: incoming webhook URL
	//   - webhook: endpoint URL
	Send(ctx context.Context, target string, msg payload.Message) error

	// Type returns the channel this sink handles (e.g., "email", "slack", "webhook").
	Type() string
}

// Registry manages channel sinks.
type Registry struct {
	sinks map[string]Sink
}

// NewRegistry creates a new sink registry.
func NewRegistry() *Registry {
	return &Registry{
		sinks: make(map[string]Sink),
	}
}

// Register registers a sink.
func (r *Registry) Register(sink Sink) {
	r.sinks[sink.Type()] = sink
}

// Get retrieves a sink by channel type.
func (r *Registry) Get(channel string) (Sink, bool) {
	sink, ok := r.sinks[channel]
	return sink, ok
}

// List returns all registered channel types.
func (r *Registry) List() []string {
	types := make([]string, 0, len(r.sinks))
	for t := range r.sinks {
		types = append(types, t)
	}
	return types
}

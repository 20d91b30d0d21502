package engine

import (
	"context"
	"time"

	"github.com/ssupshub/cicd-anomaly-detection/internal/alert"
)

// StateStore persists the engine's suppression state between process runs.
// Load reports ok=false when no snapshot exists yet (first run).
// Implementations must not retain the snapshot after Save returns.
type StateStore interface {
	Load() (snap *Snapshot, ok bool, err error)
	Save(snap *Snapshot) error
}

// Delivery is one matured batch handed to the dispatcher: the events
// admitted under a single batch key together with their destination.
type Delivery struct {
	Rule            string
	Channels        []string
	WebhookOverride string
	Events          []alert.Event
}

// ChannelResult reports one channel's outcome for a delivery.
type ChannelResult struct {
	Channel string
	Err     error
}

// Dispatcher renders a delivery and fans it out to its channels' sinks.
// A channel-level failure must not abort the remaining channels; the
// per-channel outcomes come back as results. Implementations bound each
// sink call with a timeout so a dead sink cannot stall the caller forever.
type Dispatcher interface {
	Dispatch(ctx context.Context, d Delivery) []ChannelResult
}

// Snapshot is the single persisted state record: everything the engine
// needs to keep suppressing correctly across a restart. Pending batch
// buffers are deliberately absent; events still waiting on a flush are lost
// with the process.
type Snapshot struct {
	SavedAt     time.Time            `json:"saved_at"`
	Dedup       map[string]time.Time `json:"dedup_entries"`
	RateStamps  []time.Time          `json:"rate_timestamps"`
	Rules       []Rule               `json:"rules"`
	Maintenance []MaintenanceWindow  `json:"maintenance_windows"`
	Stats       Stats                `json:"stats"`
}

package engine

import (
	"sort"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ssupshub/cicd-anomaly-detection/internal/alert"
)

// batchKey identifies one open buffer: the admitting rule plus the
// destination it resolved to when the buffer opened. A rule edit mid-window
// therefore opens a fresh buffer instead of redirecting a pending one.
type batchKey struct {
	rule string
	dest string
}

// destination is the delivery target captured at first enqueue.
type destination struct {
	channels        []string
	webhookOverride string
}

func destinationFor(r Rule) destination {
	channels := make([]string, len(r.Channels))
	copy(channels, r.Channels)
	return destination{channels: channels, webhookOverride: r.WebhookOverride}
}

// key canonicalizes the destination so channel order in the rule does not
// split buffers.
func (d destination) key() string {
	sorted := make([]string, len(d.channels))
	copy(sorted, d.channels)
	sort.Strings(sorted)
	return strings.Join(sorted, ",") + "|" + d.webhookOverride
}

// batchBuffer collects accepted events for one key until its deadline. The
// generation counter pairs each buffer with the timer that armed it: a
// fired timer whose generation no longer matches finds the buffer already
// flushed and does nothing, which keeps every buffer at exactly one flush.
type batchBuffer struct {
	dest     destination
	events   []alert.Event
	deadline time.Time
	timer    *clock.Timer
	gen      uint64
}

func (b *batchBuffer) stopTimer() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// matured converts a buffer into the dispatcher handoff.
func (b *batchBuffer) matured(key batchKey) Delivery {
	return Delivery{
		Rule:            key.rule,
		Channels:        b.dest.channels,
		WebhookOverride: b.dest.webhookOverride,
		Events:          b.events,
	}
}

func pendingEvents(batches map[batchKey]*batchBuffer) int {
	n := 0
	for _, b := range batches {
		n += len(b.events)
	}
	return n
}

// Package engine implements the alert decision pipeline: maintenance
// windows, routing, deduplication, severity gating, rate limiting, and
// batched delivery, with suppression state persisted across restarts.
//
// One mutex serializes the pipeline, the rule and window CRUD, and all
// buffer mutation, so the decision sequence for one event is atomic with
// respect to every other event and management call. Flush is the exception
// that proves the rule: it snapshots and clears buffers under the lock,
// then dispatches outside it.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ssupshub/cicd-anomaly-detection/internal/alert"
)

// Outcome is the engine's decision for a submitted event. Batched is the
// only non-terminal outcome; batched events become sent or delivery-failed
// at flush time.
type Outcome string

const (
	OutcomeBatched               Outcome = "batched"
	OutcomeSuppressedMaintenance Outcome = "suppressed_maintenance"
	OutcomeSuppressedDuplicate   Outcome = "suppressed_duplicate"
	OutcomeSuppressedRateLimit   Outcome = "suppressed_rate_limit"
	OutcomeSuppressedSeverity    Outcome = "suppressed_severity"
)

// Defaults applied by Config.applyDefaults.
const (
	DefaultDedupWindow      = 5 * time.Minute
	DefaultBatchWindow      = time.Minute
	DefaultRateLimitPerHour = 20

	rateWindowSpan = time.Hour
)

// Config tunes the decision pipeline.
type Config struct {
	// DedupWindow is how long repeats of a fingerprint stay suppressed.
	DedupWindow time.Duration
	// BatchWindow is how long accepted events wait for company before
	// their buffer flushes.
	BatchWindow time.Duration
	// RateLimitPerHour caps accepted events inside the trailing hour.
	RateLimitPerHour int
	// DefaultChannels and DefaultMinSeverity shape the synthetic rule
	// applied when no registered rule matches a job.
	DefaultChannels    []string
	DefaultMinSeverity alert.Severity
}

func (c *Config) applyDefaults() {
	if c.DedupWindow <= 0 {
		c.DedupWindow = DefaultDedupWindow
	}
	if c.BatchWindow <= 0 {
		c.BatchWindow = DefaultBatchWindow
	}
	if c.RateLimitPerHour <= 0 {
		c.RateLimitPerHour = DefaultRateLimitPerHour
	}
	if len(c.DefaultChannels) == 0 {
		c.DefaultChannels = []string{ChannelSlack}
	}
	if !c.DefaultMinSeverity.Valid() {
		c.DefaultMinSeverity = alert.SeverityMedium
	}
}

// Engine orchestrates the decision pipeline and owns all suppression state.
// Construct with New; the zero value is not usable.
type Engine struct {
	cfg        Config
	clock      clock.Clock
	store      StateStore
	dispatcher Dispatcher

	mu      sync.Mutex
	dedup   *dedupIndex
	rate    *rateWindow
	maint   *maintenanceRegistry
	router  *router
	batches map[batchKey]*batchBuffer
	lastGen uint64
	stats   Stats
}

// Option adjusts an Engine under construction.
type Option func(*Engine)

// WithClock substitutes the time source, letting tests drive every window
// deterministically.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// New builds an engine and restores the previous snapshot from the store.
// A nil store disables persistence; a nil dispatcher drops matured batches
// with a warning. Both are accepted so partial wiring stays testable.
func New(cfg Config, store StateStore, dispatcher Dispatcher, opts ...Option) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		cfg:        cfg,
		clock:      clock.New(),
		store:      store,
		dispatcher: dispatcher,
		dedup:      newDedupIndex(),
		rate:       newRateWindow(rateWindowSpan),
		maint:      newMaintenanceRegistry(),
		router:     newRouter(cfg.DefaultChannels, cfg.DefaultMinSeverity),
		batches:    make(map[batchKey]*batchBuffer),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.restore()
	return e
}

// restore loads the persisted snapshot. A read failure degrades to empty
// state rather than refusing to start: a duplicate-alert burst beats an
// engine that will not come up.
func (e *Engine) restore() {
	if e.store == nil {
		return
	}
	snap, ok, err := e.store.Load()
	if err != nil {
		slog.Warn("State restore failed, starting with empty suppression state", "error", err)
		return
	}
	if !ok {
		slog.Info("No previous state snapshot, starting fresh")
		return
	}
	e.dedup.restore(snap.Dedup)
	e.rate.restore(snap.RateStamps)
	e.router.restore(snap.Rules)
	e.maint.restore(snap.Maintenance)
	e.stats = snap.Stats
	slog.Info("Restored engine state",
		"saved_at", snap.SavedAt,
		"dedup_entries", len(snap.Dedup),
		"rules", len(snap.Rules),
		"maintenance_windows", len(snap.Maintenance),
	)
}

// Submit runs one anomaly through the decision pipeline and returns the
// decision. It never blocks on network I/O; accepted events wait in a
// batch buffer until flush. The only error is a ValidationError for events
// that cannot be normalized.
func (e *Engine) Submit(ev alert.Event) (Outcome, error) {
	now := e.clock.Now()
	if err := ev.Normalize(now); err != nil {
		return "", &ValidationError{Reason: err.Error()}
	}
	fingerprint := ev.Fingerprint()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.TotalReceived++

	if e.maint.suppressed(ev.Job, now) {
		return e.suppressLocked(&e.stats.SuppressedMaintenance, OutcomeSuppressedMaintenance, ev, now), nil
	}
	rule := e.router.match(ev.Job)
	if !e.dedup.accept(fingerprint, now, e.cfg.DedupWindow) {
		return e.suppressLocked(&e.stats.SuppressedDuplicate, OutcomeSuppressedDuplicate, ev, now), nil
	}
	if !ev.Severity.AtLeast(rule.MinSeverity) {
		return e.suppressLocked(&e.stats.SuppressedSeverity, OutcomeSuppressedSeverity, ev, now), nil
	}
	if !e.rate.accept(now, e.cfg.RateLimitPerHour) {
		return e.suppressLocked(&e.stats.SuppressedRateLimit, OutcomeSuppressedRateLimit, ev, now), nil
	}

	e.enqueueLocked(rule, ev, now)
	e.saveLocked(now)
	slog.Debug("Alert batched", "job", ev.Job, "severity", ev.Severity, "rule", rule.Name)
	return OutcomeBatched, nil
}

func (e *Engine) suppressLocked(counter *int64, outcome Outcome, ev alert.Event, now time.Time) Outcome {
	*counter++
	e.saveLocked(now)
	slog.Debug("Alert suppressed", "decision", string(outcome), "job", ev.Job, "severity", ev.Severity)
	return outcome
}

// enqueueLocked appends the event to its key's buffer, arming a flush timer
// when the buffer transitions from empty to non-empty.
func (e *Engine) enqueueLocked(rule Rule, ev alert.Event, now time.Time) {
	dest := destinationFor(rule)
	key := batchKey{rule: rule.Name, dest: dest.key()}
	buf, ok := e.batches[key]
	if !ok {
		e.lastGen++
		buf = &batchBuffer{
			dest:     dest,
			deadline: now.Add(e.cfg.BatchWindow),
			gen:      e.lastGen,
		}
		gen := buf.gen
		buf.timer = e.clock.AfterFunc(e.cfg.BatchWindow, func() {
			e.flushMatured(key, gen)
		})
		e.batches[key] = buf
	}
	buf.events = append(buf.events, ev)
}

// flushMatured is the deadline callback for one buffer generation. A stale
// generation means the buffer was already drained by an explicit flush.
func (e *Engine) flushMatured(key batchKey, gen uint64) {
	e.mu.Lock()
	buf, ok := e.batches[key]
	if !ok || buf.gen != gen {
		e.mu.Unlock()
		return
	}
	delete(e.batches, key)
	buf.stopTimer()
	d := buf.matured(key)
	e.mu.Unlock()

	e.deliver(context.Background(), []Delivery{d})
}

// Flush force-drains every open buffer through the dispatcher, cancelling
// pending timers so each buffer still flushes exactly once. Callers use it
// to align delivery with the end of a detection cycle; Close calls it at
// shutdown.
func (e *Engine) Flush(ctx context.Context) {
	e.mu.Lock()
	deliveries := make([]Delivery, 0, len(e.batches))
	for key, buf := range e.batches {
		buf.stopTimer()
		deliveries = append(deliveries, buf.matured(key))
		delete(e.batches, key)
	}
	e.mu.Unlock()

	e.deliver(ctx, deliveries)
}

// deliver dispatches outside the lock, then folds the outcomes back into
// the counters and persists. TotalSent counts every event that left the
// engine; DeliveryFailed counts channel-level failures on top.
func (e *Engine) deliver(ctx context.Context, deliveries []Delivery) {
	if len(deliveries) == 0 {
		return
	}

	var sent, failed int64
	for _, d := range deliveries {
		sent += int64(len(d.Events))
		if e.dispatcher == nil {
			slog.Warn("No dispatcher configured, dropping matured batch", "rule", d.Rule, "events", len(d.Events))
			continue
		}
		for _, res := range e.dispatcher.Dispatch(ctx, d) {
			if res.Err != nil {
				failed++
				slog.Error("Channel delivery failed",
					"rule", d.Rule,
					"channel", res.Channel,
					"events", len(d.Events),
					"error", res.Err,
				)
			}
		}
	}

	now := e.clock.Now()
	e.mu.Lock()
	e.stats.TotalSent += sent
	e.stats.DeliveryFailed += failed
	e.saveLocked(now)
	e.mu.Unlock()
}

// AddRule registers a routing rule at the end of the evaluation order.
func (e *Engine) AddRule(r Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.router.add(r); err != nil {
		return err
	}
	e.saveLocked(e.clock.Now())
	slog.Info("Routing rule added",
		"rule", r.Name,
		"pattern", r.JobPattern,
		"min_severity", r.MinSeverity,
		"channels", r.Channels,
	)
	return nil
}

// RemoveRule unregisters a rule, preserving the order of the rest.
func (e *Engine) RemoveRule(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.router.remove(name); err != nil {
		return err
	}
	e.saveLocked(e.clock.Now())
	slog.Info("Routing rule removed", "rule", name)
	return nil
}

// Rules returns the registered rules in evaluation order.
func (e *Engine) Rules() []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.router.list()
}

// AddMaintenanceWindow registers a named silence window.
func (e *Engine) AddMaintenanceWindow(w MaintenanceWindow) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.maint.add(w); err != nil {
		return err
	}
	e.saveLocked(e.clock.Now())
	slog.Info("Maintenance window added",
		"window", w.Name,
		"start", w.Start,
		"end", w.End,
		"jobs", len(w.Jobs),
	)
	return nil
}

// RemoveMaintenanceWindow unregisters a window by name.
func (e *Engine) RemoveMaintenanceWindow(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.maint.remove(name); err != nil {
		return err
	}
	e.saveLocked(e.clock.Now())
	slog.Info("Maintenance window removed", "window", name)
	return nil
}

// ActiveMaintenanceWindows returns the windows covering the current instant.
func (e *Engine) ActiveMaintenanceWindows() []MaintenanceWindow {
	now := e.clock.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maint.active(now)
}

// Stats returns the decision counters plus derived gauges.
func (e *Engine) Stats() StatsSnapshot {
	now := e.clock.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	return buildStatsSnapshot(
		e.stats,
		pendingEvents(e.batches),
		len(e.maint.active(now)),
		len(e.router.rules),
		e.rate.count(now),
	)
}

// Close drains every open buffer and writes a final snapshot. The caller
// stops feeding the engine first; Close itself does not fence new submits.
func (e *Engine) Close(ctx context.Context) error {
	e.Flush(ctx)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.saveLocked(e.clock.Now())
}

// saveLocked prunes stale dedup entries and writes the snapshot through the
// state store. Failures are logged and returned, never fatal.
func (e *Engine) saveLocked(now time.Time) error {
	if e.store == nil {
		return nil
	}
	e.dedup.prune(now, e.cfg.DedupWindow)
	snap := &Snapshot{
		SavedAt:     now,
		Dedup:       e.dedup.snapshot(),
		RateStamps:  e.rate.snapshot(),
		Rules:       e.router.list(),
		Maintenance: e.maint.snapshot(),
		Stats:       e.stats,
	}
	if err := e.store.Save(snap); err != nil {
		slog.Error("State snapshot save failed", "error", err)
		return err
	}
	return nil
}

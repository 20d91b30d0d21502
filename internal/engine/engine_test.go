package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ssupshub/cicd-anomaly-detection/internal/alert"
)

var testBase = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		DedupWindow:        5 * time.Minute,
		BatchWindow:        time.Minute,
		RateLimitPerHour:   20,
		DefaultChannels:    []string{ChannelSlack},
		DefaultMinSeverity: alert.SeverityLow,
	}
}

func newTestEngine(t *testing.T, cfg Config, store StateStore, disp Dispatcher) (*Engine, *clock.Mock) {
	t.Helper()
	cl := clock.NewMock()
	cl.Set(testBase)
	return New(cfg, store, disp, WithClock(cl)), cl
}

// anomaly builds an event whose fingerprint is determined by job and
// feature name, and whose severity derives from z.
func anomaly(job, feature string, z float64) alert.Event {
	return alert.Event{
		Job:      job,
		Features: []alert.Feature{{Name: feature, Observed: z * 10, Expected: 10, ZScore: z}},
	}
}

func mustSubmit(t *testing.T, e *Engine, ev alert.Event, want Outcome) {
	t.Helper()
	got, err := e.Submit(ev)
	if err != nil {
		t.Fatalf("Submit(%s) error = %v", ev.Job, err)
	}
	if got != want {
		t.Fatalf("Submit(%s) = %q, want %q", ev.Job, got, want)
	}
}

func TestSubmitDeduplicatesRepeats(t *testing.T) {
	disp := &fakeDispatcher{}
	eng, cl := newTestEngine(t, testConfig(), &fakeStore{}, disp)

	ev := anomaly("deploy-prod", "duration", 3.0)
	mustSubmit(t, eng, ev, OutcomeBatched)
	mustSubmit(t, eng, ev, OutcomeSuppressedDuplicate)

	// The window anchors to the first acceptance, not the repeat: after a
	// duplicate at +3m, the fingerprint frees up at +5m, not +8m.
	cl.Add(3 * time.Minute)
	mustSubmit(t, eng, ev, OutcomeSuppressedDuplicate)
	cl.Add(2 * time.Minute)
	mustSubmit(t, eng, ev, OutcomeBatched)

	stats := eng.Stats()
	if stats.TotalReceived != 4 || stats.SuppressedDuplicate != 2 {
		t.Errorf("stats = received %d, suppressed_duplicate %d; want 4 and 2",
			stats.TotalReceived, stats.SuppressedDuplicate)
	}
}

func TestSubmitDifferentFeatureSetsDoNotCollide(t *testing.T) {
	eng, _ := newTestEngine(t, testConfig(), &fakeStore{}, &fakeDispatcher{})

	mustSubmit(t, eng, anomaly("deploy-prod", "duration", 3.0), OutcomeBatched)
	mustSubmit(t, eng, anomaly("deploy-prod", "cpu_usage", 3.0), OutcomeBatched)
	mustSubmit(t, eng, anomaly("build-api", "duration", 3.0), OutcomeBatched)
}

func TestSubmitRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerHour = 3
	eng, cl := newTestEngine(t, cfg, &fakeStore{}, &fakeDispatcher{})

	mustSubmit(t, eng, anomaly("job-a", "f1", 3.0), OutcomeBatched)
	mustSubmit(t, eng, anomaly("job-b", "f2", 3.0), OutcomeBatched)
	mustSubmit(t, eng, anomaly("job-c", "f3", 3.0), OutcomeBatched)
	mustSubmit(t, eng, anomaly("job-d", "f4", 3.0), OutcomeSuppressedRateLimit)

	if got := eng.Stats().AlertsLastHour; got != 3 {
		t.Errorf("alerts_last_hour = %d, want 3", got)
	}

	// Once the oldest acceptance ages past the window, capacity returns.
	cl.Add(61 * time.Minute)
	mustSubmit(t, eng, anomaly("job-e", "f5", 3.0), OutcomeBatched)

	stats := eng.Stats()
	if stats.SuppressedRateLimit != 1 {
		t.Errorf("suppressed_rate_limit = %d, want 1", stats.SuppressedRateLimit)
	}
	if stats.AlertsLastHour != 1 {
		t.Errorf("alerts_last_hour after window = %d, want 1", stats.AlertsLastHour)
	}
}

func TestSubmitMaintenanceWindow(t *testing.T) {
	eng, cl := newTestEngine(t, testConfig(), &fakeStore{}, &fakeDispatcher{})

	err := eng.AddMaintenanceWindow(MaintenanceWindow{
		Name:  "all-jobs",
		Start: testBase,
		End:   testBase.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("AddMaintenanceWindow() error = %v", err)
	}

	// An empty job list silences everything, severity included.
	mustSubmit(t, eng, anomaly("deploy-prod", "duration", 6.0), OutcomeSuppressedMaintenance)

	if got := len(eng.ActiveMaintenanceWindows()); got != 1 {
		t.Errorf("active windows = %d, want 1", got)
	}

	// The interval is half-open: suppression stops exactly at end.
	cl.Add(time.Hour)
	mustSubmit(t, eng, anomaly("deploy-prod", "duration", 6.0), OutcomeBatched)
	if got := len(eng.ActiveMaintenanceWindows()); got != 0 {
		t.Errorf("active windows after end = %d, want 0", got)
	}
}

func TestSubmitScopedMaintenanceWindow(t *testing.T) {
	eng, _ := newTestEngine(t, testConfig(), &fakeStore{}, &fakeDispatcher{})

	err := eng.AddMaintenanceWindow(MaintenanceWindow{
		Name:  "staging-deploys",
		Start: testBase.Add(-time.Minute),
		End:   testBase.Add(time.Hour),
		Jobs:  []string{"deploy-staging"},
	})
	if err != nil {
		t.Fatalf("AddMaintenanceWindow() error = %v", err)
	}

	mustSubmit(t, eng, anomaly("deploy-staging", "duration", 4.5), OutcomeSuppressedMaintenance)
	mustSubmit(t, eng, anomaly("deploy-prod", "duration", 4.5), OutcomeBatched)
}

func TestRouterFirstMatchWinsAndSeverityGates(t *testing.T) {
	disp := &fakeDispatcher{}
	eng, _ := newTestEngine(t, testConfig(), &fakeStore{}, disp)

	if err := eng.AddRule(Rule{Name: "A", JobPattern: "deploy", MinSeverity: alert.SeverityHigh, Channels: []string{ChannelSlack}}); err != nil {
		t.Fatalf("AddRule(A) error = %v", err)
	}
	if err := eng.AddRule(Rule{Name: "default", MinSeverity: alert.SeverityLow, Channels: []string{ChannelSlack}}); err != nil {
		t.Fatalf("AddRule(default) error = %v", err)
	}

	// deploy-prod matches A first; medium is below A's high floor.
	mustSubmit(t, eng, anomaly("deploy-prod", "duration", 3.0), OutcomeSuppressedSeverity)
	// build-ui skips A and lands on the catch-all.
	mustSubmit(t, eng, anomaly("build-ui", "duration", 1.0), OutcomeBatched)

	eng.Flush(context.Background())
	if disp.count() != 1 {
		t.Fatalf("deliveries = %d, want 1", disp.count())
	}
	if got := disp.last().Rule; got != "default" {
		t.Errorf("delivery rule = %q, want %q", got, "default")
	}
}

func TestSyntheticDefaultRuleApplies(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultMinSeverity = alert.SeverityMedium
	cfg.DefaultChannels = []string{ChannelEmail}
	disp := &fakeDispatcher{}
	eng, _ := newTestEngine(t, cfg, &fakeStore{}, disp)

	// No rules registered: the synthetic default gates at medium.
	mustSubmit(t, eng, anomaly("build-ui", "duration", 1.0), OutcomeSuppressedSeverity)
	mustSubmit(t, eng, anomaly("build-ui", "cpu_usage", 3.0), OutcomeBatched)

	eng.Flush(context.Background())
	last := disp.last()
	if last.Rule != "default" {
		t.Errorf("delivery rule = %q, want default", last.Rule)
	}
	if len(last.Channels) != 1 || last.Channels[0] != ChannelEmail {
		t.Errorf("delivery channels = %v, want [email]", last.Channels)
	}
}

func TestBatchGroupsEventsWithinWindow(t *testing.T) {
	disp := &fakeDispatcher{}
	eng, cl := newTestEngine(t, testConfig(), &fakeStore{}, disp)

	mustSubmit(t, eng, anomaly("deploy-prod", "f1", 3.0), OutcomeBatched)
	cl.Add(10 * time.Second)
	mustSubmit(t, eng, anomaly("deploy-prod", "f2", 3.0), OutcomeBatched)
	cl.Add(10 * time.Second)
	mustSubmit(t, eng, anomaly("build-api", "f3", 3.0), OutcomeBatched)

	if disp.count() != 0 {
		t.Fatalf("deliveries before deadline = %d, want 0", disp.count())
	}
	if got := eng.Stats().PendingInBatch; got != 3 {
		t.Errorf("pending_in_batch = %d, want 3", got)
	}

	// All three share the synthetic default destination, so one message
	// carries all of them once the first buffer's deadline arrives.
	cl.Add(41 * time.Second)
	if disp.count() != 1 {
		t.Fatalf("deliveries after deadline = %d, want 1", disp.count())
	}
	if got := len(disp.last().Events); got != 3 {
		t.Errorf("batched events = %d, want 3", got)
	}
	if got := eng.Stats().TotalSent; got != 3 {
		t.Errorf("total_sent = %d, want 3", got)
	}
}

func TestBatchKeysSeparateDestinations(t *testing.T) {
	disp := &fakeDispatcher{}
	eng, cl := newTestEngine(t, testConfig(), &fakeStore{}, disp)

	if err := eng.AddRule(Rule{Name: "deploys", JobPattern: "deploy", MinSeverity: alert.SeverityLow, Channels: []string{ChannelSlack, ChannelWebhook}}); err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}

	mustSubmit(t, eng, anomaly("deploy-prod", "f1", 3.0), OutcomeBatched)
	mustSubmit(t, eng, anomaly("build-api", "f2", 3.0), OutcomeBatched)

	cl.Add(time.Minute)
	if disp.count() != 2 {
		t.Fatalf("deliveries = %d, want 2 (one per batch key)", disp.count())
	}
}

func TestFlushNowCancelsPendingTimer(t *testing.T) {
	disp := &fakeDispatcher{}
	eng, cl := newTestEngine(t, testConfig(), &fakeStore{}, disp)

	mustSubmit(t, eng, anomaly("deploy-prod", "f1", 3.0), OutcomeBatched)
	eng.Flush(context.Background())

	if disp.count() != 1 {
		t.Fatalf("deliveries after manual flush = %d, want 1", disp.count())
	}

	// The buffer's timer was cancelled; its old deadline must not fire a
	// second flush for the same generation.
	cl.Add(5 * time.Minute)
	if disp.count() != 1 {
		t.Errorf("deliveries after deadline = %d, want still 1", disp.count())
	}
}

func TestSingleEventDeliveredAlone(t *testing.T) {
	disp := &fakeDispatcher{}
	eng, cl := newTestEngine(t, testConfig(), &fakeStore{}, disp)

	mustSubmit(t, eng, anomaly("deploy-prod", "f1", 3.0), OutcomeBatched)
	cl.Add(time.Minute)

	if disp.count() != 1 || len(disp.last().Events) != 1 {
		t.Fatalf("want exactly one delivery with one event, got %d deliveries", disp.count())
	}
}

func TestDispatchRunsOutsideTheLock(t *testing.T) {
	disp := &fakeDispatcher{}
	eng, cl := newTestEngine(t, testConfig(), &fakeStore{}, disp)

	// A dispatcher that re-enters the engine deadlocks if flush still
	// holds the decision lock while dispatching.
	disp.onDispatch = func() {
		_ = eng.Stats()
	}

	mustSubmit(t, eng, anomaly("deploy-prod", "f1", 3.0), OutcomeBatched)
	cl.Add(time.Minute)

	if disp.count() != 1 {
		t.Fatalf("deliveries = %d, want 1", disp.count())
	}
}

func TestDeliveryFailureCounted(t *testing.T) {
	disp := &fakeDispatcher{failChannels: map[string]error{ChannelSlack: errors.New("webhook returned 500")}}
	eng, cl := newTestEngine(t, testConfig(), &fakeStore{}, disp)

	if err := eng.AddRule(Rule{Name: "noisy", MinSeverity: alert.SeverityLow, Channels: []string{ChannelSlack, ChannelEmail}}); err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}

	mustSubmit(t, eng, anomaly("deploy-prod", "f1", 3.0), OutcomeBatched)
	cl.Add(time.Minute)

	stats := eng.Stats()
	if stats.TotalSent != 1 {
		t.Errorf("total_sent = %d, want 1 (failed deliveries still left the engine)", stats.TotalSent)
	}
	if stats.DeliveryFailed != 1 {
		t.Errorf("delivery_failed = %d, want 1", stats.DeliveryFailed)
	}
}

func TestRestartRestoresSuppressionState(t *testing.T) {
	store := &fakeStore{}
	cfg := testConfig()

	eng1, cl := newTestEngine(t, cfg, store, &fakeDispatcher{})
	ev := anomaly("deploy-prod", "duration", 3.0)
	mustSubmit(t, eng1, ev, OutcomeBatched)
	if err := eng1.AddRule(Rule{Name: "deploys", JobPattern: "deploy", MinSeverity: alert.SeverityLow, Channels: []string{ChannelSlack}}); err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}

	// Two minutes pass (the pending batch flushes along the way), then the
	// process "restarts": a new engine loads the same store.
	cl.Add(2 * time.Minute)
	eng2 := New(cfg, store, &fakeDispatcher{}, WithClock(cl))

	// Still three minutes inside the five-minute dedup window.
	cl.Add(time.Minute)
	mustSubmit(t, eng2, ev, OutcomeSuppressedDuplicate)

	if got := eng2.Stats().TotalReceived; got != 2 {
		t.Errorf("restored total_received = %d, want 2", got)
	}
	rules := eng2.Rules()
	if len(rules) != 1 || rules[0].Name != "deploys" {
		t.Errorf("restored rules = %+v, want the deploys rule", rules)
	}
}

func TestStartupSurvivesBrokenStore(t *testing.T) {
	store := &fakeStore{loadErr: errors.New("disk on fire")}
	eng, _ := newTestEngine(t, testConfig(), store, &fakeDispatcher{})

	// Load failure degrades to empty state; the engine still decides.
	mustSubmit(t, eng, anomaly("deploy-prod", "f1", 3.0), OutcomeBatched)
}

func TestSaveFailureDoesNotBlockDecisions(t *testing.T) {
	store := &fakeStore{saveErr: errors.New("read-only filesystem")}
	eng, _ := newTestEngine(t, testConfig(), store, &fakeDispatcher{})

	mustSubmit(t, eng, anomaly("deploy-prod", "f1", 3.0), OutcomeBatched)
	mustSubmit(t, eng, anomaly("deploy-prod", "f1", 3.0), OutcomeSuppressedDuplicate)
}

func TestStatsIdentityHolds(t *testing.T) {
	disp := &fakeDispatcher{}
	eng, cl := newTestEngine(t, testConfig(), &fakeStore{}, disp)

	if err := eng.AddRule(Rule{Name: "deploys", JobPattern: "deploy", MinSeverity: alert.SeverityHigh, Channels: []string{ChannelSlack}}); err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}
	if err := eng.AddMaintenanceWindow(MaintenanceWindow{Name: "mw", Start: testBase, End: testBase.Add(time.Minute), Jobs: []string{"test-suite"}}); err != nil {
		t.Fatalf("AddMaintenanceWindow() error = %v", err)
	}

	mustSubmit(t, eng, anomaly("test-suite", "f1", 6.0), OutcomeSuppressedMaintenance)
	mustSubmit(t, eng, anomaly("deploy-prod", "f2", 3.0), OutcomeSuppressedSeverity)
	mustSubmit(t, eng, anomaly("build-api", "f3", 3.0), OutcomeBatched)
	mustSubmit(t, eng, anomaly("build-api", "f3", 3.0), OutcomeSuppressedDuplicate)
	mustSubmit(t, eng, anomaly("build-ui", "f4", 5.5), OutcomeBatched)

	// Identity with events still pending in open batches.
	stats := eng.Stats()
	total := stats.TotalSuppressed + stats.TotalSent + int64(stats.PendingInBatch)
	if total != stats.TotalReceived {
		t.Errorf("pre-flush identity: suppressed %d + sent %d + pending %d != received %d",
			stats.TotalSuppressed, stats.TotalSent, stats.PendingInBatch, stats.TotalReceived)
	}

	cl.Add(time.Minute)
	eng.Flush(context.Background())

	stats = eng.Stats()
	if stats.PendingInBatch != 0 {
		t.Fatalf("pending_in_batch after flush = %d, want 0", stats.PendingInBatch)
	}
	if stats.TotalSuppressed+stats.TotalSent != stats.TotalReceived {
		t.Errorf("identity: suppressed %d + sent %d != received %d",
			stats.TotalSuppressed, stats.TotalSent, stats.TotalReceived)
	}
}

func TestSnapshotPrunesStaleDedupEntries(t *testing.T) {
	store := &fakeStore{}
	eng, cl := newTestEngine(t, testConfig(), store, &fakeDispatcher{})

	mustSubmit(t, eng, anomaly("deploy-prod", "old", 3.0), OutcomeBatched)
	oldEvent := anomaly("deploy-prod", "old", 3.0)
	oldFingerprint := oldEvent.Fingerprint()

	// Past twice the dedup window the entry cannot suppress anything and
	// the next snapshot drops it.
	cl.Add(11 * time.Minute)
	mustSubmit(t, eng, anomaly("deploy-prod", "fresh", 3.0), OutcomeBatched)

	snap := store.lastSnapshot()
	if snap == nil {
		t.Fatal("no snapshot saved")
	}
	if _, ok := snap.Dedup[oldFingerprint]; ok {
		t.Error("stale dedup entry survived the snapshot prune")
	}
}

func TestRuleCRUDValidation(t *testing.T) {
	eng, _ := newTestEngine(t, testConfig(), &fakeStore{}, &fakeDispatcher{})

	valid := Rule{Name: "r1", MinSeverity: alert.SeverityLow, Channels: []string{ChannelSlack}}
	if err := eng.AddRule(valid); err != nil {
		t.Fatalf("AddRule(valid) error = %v", err)
	}

	tests := []struct {
		name string
		rule Rule
	}{
		{name: "duplicate name", rule: valid},
		{name: "empty name", rule: Rule{MinSeverity: alert.SeverityLow, Channels: []string{ChannelSlack}}},
		{name: "bad severity", rule: Rule{Name: "r2", MinSeverity: "urgent", Channels: []string{ChannelSlack}}},
		{name: "no channels", rule: Rule{Name: "r3", MinSeverity: alert.SeverityLow}},
		{name: "unknown channel", rule: Rule{Name: "r4", MinSeverity: alert.SeverityLow, Channels: []string{"pager"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eng.AddRule(tt.rule)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("AddRule() error = %v, want ValidationError", err)
			}
		})
	}

	var nferr *NotFoundError
	if err := eng.RemoveRule("missing"); !errors.As(err, &nferr) {
		t.Errorf("RemoveRule(missing) error = %v, want NotFoundError", err)
	}
	if err := eng.RemoveRule("r1"); err != nil {
		t.Errorf("RemoveRule(r1) error = %v", err)
	}
}

func TestMaintenanceCRUDValidation(t *testing.T) {
	eng, _ := newTestEngine(t, testConfig(), &fakeStore{}, &fakeDispatcher{})

	valid := MaintenanceWindow{Name: "mw", Start: testBase, End: testBase.Add(time.Hour)}
	if err := eng.AddMaintenanceWindow(valid); err != nil {
		t.Fatalf("AddMaintenanceWindow(valid) error = %v", err)
	}

	tests := []struct {
		name   string
		window MaintenanceWindow
	}{
		{name: "duplicate name", window: valid},
		{name: "empty name", window: MaintenanceWindow{Start: testBase, End: testBase.Add(time.Hour)}},
		{name: "end equals start", window: MaintenanceWindow{Name: "w2", Start: testBase, End: testBase}},
		{name: "end before start", window: MaintenanceWindow{Name: "w3", Start: testBase, End: testBase.Add(-time.Hour)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eng.AddMaintenanceWindow(tt.window)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("AddMaintenanceWindow() error = %v, want ValidationError", err)
			}
		})
	}

	var nferr *NotFoundError
	if err := eng.RemoveMaintenanceWindow("missing"); !errors.As(err, &nferr) {
		t.Errorf("RemoveMaintenanceWindow(missing) error = %v, want NotFoundError", err)
	}
}

func TestSubmitRejectsMalformedEvents(t *testing.T) {
	eng, _ := newTestEngine(t, testConfig(), &fakeStore{}, &fakeDispatcher{})

	_, err := eng.Submit(alert.Event{})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Submit(empty) error = %v, want ValidationError", err)
	}

	// Rejected events must not count anywhere.
	if got := eng.Stats().TotalReceived; got != 0 {
		t.Errorf("total_received after rejected submit = %d, want 0", got)
	}
}

func TestCloseFlushesAndPersists(t *testing.T) {
	store := &fakeStore{}
	disp := &fakeDispatcher{}
	eng, _ := newTestEngine(t, testConfig(), store, disp)

	mustSubmit(t, eng, anomaly("deploy-prod", "f1", 3.0), OutcomeBatched)
	if err := eng.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if disp.count() != 1 {
		t.Errorf("deliveries after Close = %d, want 1", disp.count())
	}
	snap := store.lastSnapshot()
	if snap == nil {
		t.Fatal("Close wrote no snapshot")
	}
	if snap.Stats.TotalSent != 1 {
		t.Errorf("persisted total_sent = %d, want 1", snap.Stats.TotalSent)
	}
}

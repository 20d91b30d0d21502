package state

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ssupshub/cicd-anomaly-detection/internal/alert"
	"github.com/ssupshub/cicd-anomaly-detection/internal/engine"
)

func testSnapshot(t *testing.T) *engine.Snapshot {
	t.Helper()
	savedAt := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	return &engine.Snapshot{
		SavedAt: savedAt,
		Dedup: map[string]time.Time{
			"fp-1": savedAt.Add(-time.Minute),
			"fp-2": savedAt.Add(-3 * time.Minute),
		},
		RateStamps: []time.Time{savedAt.Add(-10 * time.Minute), savedAt.Add(-time.Minute)},
		Rules: []engine.Rule{
			{Name: "deploys", JobPattern: "deploy", MinSeverity: alert.SeverityHigh, Channels: []string{engine.ChannelSlack}},
		},
		Maintenance: []engine.MaintenanceWindow{
			{Name: "upgrade", Start: savedAt, End: savedAt.Add(2 * time.Hour), Jobs: []string{"deploy-staging"}},
		},
		Stats: engine.Stats{TotalReceived: 7, TotalSent: 3, SuppressedDuplicate: 2},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewFileStore(path)

	want := testSnapshot(t)
	if err := store.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, ok, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !ok {
		t.Fatal("Load() ok = false after Save")
	}

	if !got.SavedAt.Equal(want.SavedAt) {
		t.Errorf("saved_at = %v, want %v", got.SavedAt, want.SavedAt)
	}
	if len(got.Dedup) != 2 {
		t.Errorf("dedup entries = %d, want 2", len(got.Dedup))
	}
	if last, okFP := got.Dedup["fp-1"]; !okFP || !last.Equal(want.Dedup["fp-1"]) {
		t.Errorf("dedup[fp-1] = %v, want %v", last, want.Dedup["fp-1"])
	}
	if len(got.RateStamps) != 2 {
		t.Errorf("rate stamps = %d, want 2", len(got.RateStamps))
	}
	if len(got.Rules) != 1 || got.Rules[0].Name != "deploys" {
		t.Errorf("rules = %+v, want the deploys rule", got.Rules)
	}
	if len(got.Maintenance) != 1 || got.Maintenance[0].Name != "upgrade" {
		t.Errorf("maintenance = %+v, want the upgrade window", got.Maintenance)
	}
	if got.Stats.TotalReceived != 7 || got.Stats.SuppressedDuplicate != 2 {
		t.Errorf("stats = %+v, want received 7, suppressed_duplicate 2", got.Stats)
	}
}

func TestLoadMissingFileIsFirstRun(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "never-written.json"))

	snap, ok, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v, want nil for missing file", err)
	}
	if ok || snap != nil {
		t.Errorf("Load() = (%v, %v), want (nil, false)", snap, ok)
	}
}

func TestLoadCorruptFileReturnsStoreError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not valid json"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, ok, err := NewFileStore(path).Load()
	if ok {
		t.Error("Load() ok = true for corrupt file")
	}
	var serr *StoreError
	if !errors.As(err, &serr) {
		t.Fatalf("Load() error = %v, want StoreError", err)
	}
	if serr.Op != "load" {
		t.Errorf("StoreError.Op = %q, want load", serr.Op)
	}
}

func TestSaveCreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "nested", "state.json")
	store := NewFileStore(path)

	if err := store.Save(testSnapshot(t)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("snapshot file missing after Save: %v", err)
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "state.json"))

	for i := 0; i < 3; i++ {
		if err := store.Save(testSnapshot(t)); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("temp file %q left behind after Save", e.Name())
		}
	}
	if len(entries) != 1 {
		t.Errorf("directory holds %d entries, want just the snapshot", len(entries))
	}
}

func TestSaveOverwritesPreviousSnapshot(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "state.json"))

	first := testSnapshot(t)
	if err := store.Save(first); err != nil {
		t.Fatalf("Save(first) error = %v", err)
	}

	second := testSnapshot(t)
	second.Stats.TotalReceived = 99
	if err := store.Save(second); err != nil {
		t.Fatalf("Save(second) error = %v", err)
	}

	got, ok, err := store.Load()
	if err != nil || !ok {
		t.Fatalf("Load() = (%v, %v), want snapshot", err, ok)
	}
	if got.Stats.TotalReceived != 99 {
		t.Errorf("total_received = %d, want 99 (latest snapshot)", got.Stats.TotalReceived)
	}
}

func TestNewFileStoreDefaultsPath(t *testing.T) {
	if got := NewFileStore("").Path(); got != DefaultPath {
		t.Errorf("Path() = %q, want %q", got, DefaultPath)
	}
}

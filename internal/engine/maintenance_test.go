package engine

import (
	"testing"
	"time"
)

func TestMaintenanceWindowActiveAt(t *testing.T) {
	start := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	w := MaintenanceWindow{Name: "mw", Start: start, End: end}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{name: "before start", at: start.Add(-time.Second), want: false},
		{name: "exactly at start", at: start, want: true},
		{name: "inside", at: start.Add(30 * time.Minute), want: true},
		{name: "exactly at end", at: end, want: false},
		{name: "after end", at: end.Add(time.Second), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.ActiveAt(tt.at); got != tt.want {
				t.Errorf("ActiveAt(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestMaintenanceWindowCovers(t *testing.T) {
	all := MaintenanceWindow{Name: "all"}
	scoped := MaintenanceWindow{Name: "scoped", Jobs: []string{"deploy-prod", "deploy-staging"}}

	if !all.Covers("anything") {
		t.Error("empty job list should cover every job")
	}
	if !scoped.Covers("deploy-prod") {
		t.Error("scoped window should cover a listed job")
	}
	if scoped.Covers("build-api") {
		t.Error("scoped window should not cover an unlisted job")
	}
}

func TestMaintenanceRegistrySuppressedORSemantics(t *testing.T) {
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	r := newMaintenanceRegistry()

	// Two overlapping windows with different scopes: any active match wins.
	if err := r.add(MaintenanceWindow{Name: "deploys", Start: base, End: base.Add(time.Hour), Jobs: []string{"deploy-prod"}}); err != nil {
		t.Fatalf("add(deploys) error = %v", err)
	}
	if err := r.add(MaintenanceWindow{Name: "builds", Start: base, End: base.Add(2 * time.Hour), Jobs: []string{"build-api"}}); err != nil {
		t.Fatalf("add(builds) error = %v", err)
	}

	now := base.Add(30 * time.Minute)
	if !r.suppressed("deploy-prod", now) {
		t.Error("deploy-prod should be suppressed by the deploys window")
	}
	if !r.suppressed("build-api", now) {
		t.Error("build-api should be suppressed by the builds window")
	}
	if r.suppressed("test-suite", now) {
		t.Error("test-suite matches neither scope")
	}

	// After the first window ends only the second still applies.
	later := base.Add(90 * time.Minute)
	if r.suppressed("deploy-prod", later) {
		t.Error("deploys window expired at +1h")
	}
	if !r.suppressed("build-api", later) {
		t.Error("builds window still active at +90m")
	}
}

func TestMaintenanceRegistryActiveSorted(t *testing.T) {
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	r := newMaintenanceRegistry()

	for _, name := range []string{"zulu", "alpha", "mike"} {
		if err := r.add(MaintenanceWindow{Name: name, Start: base, End: base.Add(time.Hour)}); err != nil {
			t.Fatalf("add(%s) error = %v", name, err)
		}
	}
	if err := r.add(MaintenanceWindow{Name: "expired", Start: base.Add(-2 * time.Hour), End: base.Add(-time.Hour)}); err != nil {
		t.Fatalf("add(expired) error = %v", err)
	}

	active := r.active(base.Add(time.Minute))
	if len(active) != 3 {
		t.Fatalf("active windows = %d, want 3", len(active))
	}
	for i, want := range []string{"alpha", "mike", "zulu"} {
		if active[i].Name != want {
			t.Errorf("active[%d] = %q, want %q", i, active[i].Name, want)
		}
	}
}

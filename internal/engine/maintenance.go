package engine

import (
	"sort"
	"strings"
	"time"
)

// MaintenanceWindow silences alerts for covered jobs while active. The
// interval is half-open: active iff start <= now < end. An empty job list
// covers every job.
type MaintenanceWindow struct {
	Name  string    `json:"name"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Jobs  []string  `json:"affected_jobs,omitempty"`
}

// ActiveAt reports whether the window covers the instant now.
func (w MaintenanceWindow) ActiveAt(now time.Time) bool {
	return !now.Before(w.Start) && now.Before(w.End)
}

// Covers reports whether the window applies to the given job.
func (w MaintenanceWindow) Covers(job string) bool {
	if len(w.Jobs) == 0 {
		return true
	}
	for _, j := range w.Jobs {
		if j == job {
			return true
		}
	}
	return false
}

// maintenanceRegistry holds the named windows. Overlapping windows combine
// with OR semantics: any active match suppresses.
type maintenanceRegistry struct {
	windows map[string]MaintenanceWindow
}

func newMaintenanceRegistry() *maintenanceRegistry {
	return &maintenanceRegistry{windows: make(map[string]MaintenanceWindow)}
}

func (r *maintenanceRegistry) add(w MaintenanceWindow) error {
	if strings.TrimSpace(w.Name) == "" {
		return validationErrorf("maintenance window name is required")
	}
	if !w.End.After(w.Start) {
		return validationErrorf("maintenance window %q: end must be after start", w.Name)
	}
	if _, ok := r.windows[w.Name]; ok {
		return validationErrorf("maintenance window %q already exists", w.Name)
	}
	r.windows[w.Name] = w
	return nil
}

func (r *maintenanceRegistry) remove(name string) error {
	if _, ok := r.windows[name]; !ok {
		return &NotFoundError{Kind: "maintenance window", Name: name}
	}
	delete(r.windows, name)
	return nil
}

func (r *maintenanceRegistry) suppressed(job string, now time.Time) bool {
	for _, w := range r.windows {
		if w.ActiveAt(now) && w.Covers(job) {
			return true
		}
	}
	return false
}

// active returns the windows covering now, sorted by name for stable output.
func (r *maintenanceRegistry) active(now time.Time) []MaintenanceWindow {
	out := make([]MaintenanceWindow, 0, len(r.windows))
	for _, w := range r.windows {
		if w.ActiveAt(now) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *maintenanceRegistry) restore(windows []MaintenanceWindow) {
	r.windows = make(map[string]MaintenanceWindow, len(windows))
	for _, w := range windows {
		r.windows[w.Name] = w
	}
}

func (r *maintenanceRegistry) snapshot() []MaintenanceWindow {
	out := make([]MaintenanceWindow, 0, len(r.windows))
	for _, w := range r.windows {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

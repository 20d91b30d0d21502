package engine

// Stats are the engine's monotonic decision counters. They persist in the
// state snapshot and only ever grow.
type Stats struct {
	TotalReceived         int64 `json:"total_received"`
	TotalSent             int64 `json:"total_sent"`
	SuppressedDuplicate   int64 `json:"suppressed_duplicate"`
	SuppressedMaintenance int64 `json:"suppressed_maintenance"`
	SuppressedRateLimit   int64 `json:"suppressed_rate_limit"`
	SuppressedSeverity    int64 `json:"suppressed_severity"`
	DeliveryFailed        int64 `json:"delivery_failed"`
}

// suppressed sums the suppression counters.
func (s Stats) suppressed() int64 {
	return s.SuppressedDuplicate + s.SuppressedMaintenance + s.SuppressedRateLimit + s.SuppressedSeverity
}

// StatsSnapshot extends the counters with derived gauges computed at read
// time. TotalSent counts events handed to the dispatcher; DeliveryFailed is
// a parallel channel-level failure counter, so sent plus suppressed equals
// received modulo events still pending in an open batch.
type StatsSnapshot struct {
	Stats

	TotalSuppressed          int64   `json:"total_suppressed"`
	SuppressionRate          float64 `json:"suppression_rate"`
	PendingInBatch           int     `json:"pending_in_batch"`
	ActiveMaintenanceWindows int     `json:"active_maintenance_windows"`
	RegisteredRules          int     `json:"registered_rules"`
	AlertsLastHour           int     `json:"alerts_last_hour"`
}

func buildStatsSnapshot(s Stats, pending, activeWindows, rules, lastHour int) StatsSnapshot {
	snap := StatsSnapshot{
		Stats:                    s,
		TotalSuppressed:          s.suppressed(),
		PendingInBatch:           pending,
		ActiveMaintenanceWindows: activeWindows,
		RegisteredRules:          rules,
		AlertsLastHour:           lastHour,
	}
	if s.TotalReceived > 0 {
		snap.SuppressionRate = float64(snap.TotalSuppressed) / float64(s.TotalReceived)
	}
	return snap
}

package engine

import "time"

// dedupIndex remembers when each fingerprint last passed deduplication.
// The suppression window is anchored to that first acceptance: repeats
// inside the window do not refresh the timestamp, so a sustained incident
// re-alerts once per window cycle instead of suppressing itself forever.
type dedupIndex struct {
	lastSeen map[string]time.Time
}

func newDedupIndex() *dedupIndex {
	return &dedupIndex{lastSeen: make(map[string]time.Time)}
}

// accept records now and returns true when the fingerprint is new or its
// last acceptance is at least window old. Otherwise it returns false and
// leaves the stored timestamp untouched.
func (d *dedupIndex) accept(fingerprint string, now time.Time, window time.Duration) bool {
	if last, ok := d.lastSeen[fingerprint]; ok && now.Sub(last) < window {
		return false
	}
	d.lastSeen[fingerprint] = now
	return true
}

// prune drops entries old enough that they can no longer suppress anything.
// Called when a snapshot is built so the persisted state stays bounded.
func (d *dedupIndex) prune(now time.Time, window time.Duration) {
	for fingerprint, last := range d.lastSeen {
		if now.Sub(last) >= 2*window {
			delete(d.lastSeen, fingerprint)
		}
	}
}

func (d *dedupIndex) restore(entries map[string]time.Time) {
	d.lastSeen = make(map[string]time.Time, len(entries))
	for fingerprint, last := range entries {
		d.lastSeen[fingerprint] = last
	}
}

func (d *dedupIndex) snapshot() map[string]time.Time {
	out := make(map[string]time.Time, len(d.lastSeen))
	for fingerprint, last := range d.lastSeen {
		out[fingerprint] = last
	}
	return out
}

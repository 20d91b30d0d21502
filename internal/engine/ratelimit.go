package engine

import (
	"sort"
	"time"
)

// rateWindow caps alert volume over a trailing window by tracking the
// timestamp of every accepted event. A send is refused, not queued, once
// the cap is reached.
type rateWindow struct {
	window time.Duration
	stamps []time.Time
}

func newRateWindow(window time.Duration) *rateWindow {
	return &rateWindow{window: window}
}

// accept evicts timestamps that have aged out, then admits the event iff
// the remaining count is below cap, recording now on admission. The caller
// serializes access, which makes evict-check-append atomic with respect to
// other submissions.
func (w *rateWindow) accept(now time.Time, cap int) bool {
	w.evict(now)
	if len(w.stamps) >= cap {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

// evict removes timestamps at or before now minus the window. Stamps are
// appended in order, so eviction only ever trims the front.
func (w *rateWindow) evict(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// count reports how many accepted events fall inside the trailing window
// without mutating the tracked sequence.
func (w *rateWindow) count(now time.Time) int {
	cutoff := now.Add(-w.window)
	n := 0
	for _, t := range w.stamps {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

func (w *rateWindow) restore(stamps []time.Time) {
	w.stamps = make([]time.Time, len(stamps))
	copy(w.stamps, stamps)
	sort.Slice(w.stamps, func(i, j int) bool { return w.stamps[i].Before(w.stamps[j]) })
}

func (w *rateWindow) snapshot() []time.Time {
	out := make([]time.Time, len(w.stamps))
	copy(out, w.stamps)
	return out
}

// Package alert defines the anomaly event model shared by the ingestion
// boundary, the decision engine, and message rendering.
package alert

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Feature describes one metric that deviated from its expected value.
type Feature struct {
	Name     string  `json:"feature"`
	Observed float64 `json:"observed"`
	Expected float64 `json:"expected"`
	ZScore   float64 `json:"z_score"`
}

// Event is a single anomaly produced by the scoring pipeline. The struct is
// closed: ingestion rejects unknown fields instead of carrying loosely typed
// maps through the pipeline. Events are immutable once submitted.
type Event struct {
	Job       string            `json:"job_name"`
	Timestamp time.Time         `json:"timestamp"`
	Severity  Severity          `json:"severity,omitempty"`
	Features  []Feature         `json:"features,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// Normalize validates the event and fills derived fields: a zero timestamp
// becomes now, and a missing severity is derived from the z-scores.
func (e *Event) Normalize(now time.Time) error {
	if strings.TrimSpace(e.Job) == "" {
		return fmt.Errorf("job_name is required")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	if e.Severity == "" {
		e.Severity = DeriveSeverity(e.MaxZScore())
	} else if !e.Severity.Valid() {
		return fmt.Errorf("unknown severity %q", e.Severity)
	}
	for _, f := range e.Features {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("feature name is required")
		}
	}
	return nil
}

// MaxZScore returns the largest absolute z-score among the event's features,
// 0 when the event has none.
func (e *Event) MaxZScore() float64 {
	var max float64
	for _, f := range e.Features {
		if z := math.Abs(f.ZScore); z > max {
			max = z
		}
	}
	return max
}

// TopFeatures returns up to n features ordered by descending absolute
// z-score. The receiver's feature order is left untouched.
func (e *Event) TopFeatures(n int) []Feature {
	sorted := make([]Feature, len(e.Features))
	copy(sorted, e.Features)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && math.Abs(sorted[j].ZScore) > math.Abs(sorted[j-1].ZScore); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	if n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

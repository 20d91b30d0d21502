package alert

import "fmt"

// Severity classifies how bad an anomaly is. The four levels form a total
// order used by routing rules and the engine's severity gate.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank maps each level to its position in the total order.
// Unknown severities rank below low so they never pass a gate by accident.
var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Severities lists the valid levels in ascending order.
func Severities() []Severity {
	return []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
}

// Valid reports whether s is one of the four known levels.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Rank returns the position of s in the total order, 0 for unknown values.
func (s Severity) Rank() int {
	return severityRank[s]
}

// AtLeast reports whether s is greater than or equal to min in the total order.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

// ParseSeverity converts a string into a Severity.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if !sev.Valid() {
		return "", fmt.Errorf("unknown severity %q (expected one of low, medium, high, critical)", s)
	}
	return sev, nil
}

// MaxSeverity returns the higher of a and b.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Severity derivation thresholds over the maximum absolute z-score.
const (
	criticalZThreshold = 5.0
	highZThreshold     = 4.0
	mediumZThreshold   = 2.5
)

// DeriveSeverity maps the maximum absolute z-score across an event's
// anomalous features to a severity level. Producers that do not set an
// explicit severity get this derivation applied once, at the ingestion
// boundary, so every component downstream sees the same level.
func DeriveSeverity(maxZ float64) Severity {
	switch {
	case maxZ > criticalZThreshold:
		return SeverityCritical
	case maxZ > highZThreshold:
		return SeverityHigh
	case maxZ > mediumZThreshold:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

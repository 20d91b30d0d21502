package alert

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Fingerprint derives the deduplication key for an event: the job name plus
// the sorted set of anomalous feature names, hashed. Two events with the
// same job and the same feature set collide regardless of the observed
// magnitudes. The function is pure and order-independent.
func (e *Event) Fingerprint() string {
	return FingerprintFor(e.Job, e.Features)
}

// FingerprintFor computes the fingerprint for a job and feature list without
// requiring a full event.
func FingerprintFor(job string, features []Feature) string {
	seen := make(map[string]struct{}, len(features))
	names := make([]string, 0, len(features))
	for _, f := range features {
		if _, ok := seen[f.Name]; ok {
			continue
		}
		seen[f.Name] = struct{}{}
		names = append(names, f.Name)
	}
	sort.Strings(names)

	parts := append([]string{job}, names...)
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

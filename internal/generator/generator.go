// Package generator produces synthetic anomaly events with configurable
// weighted distributions. It supports deterministic generation via seed-based
// RNG for reproducible test data.
package generator

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ssupshub/cicd-anomaly-detection/internal/alert"
)

// Default distributions mirror the demo pipeline environment: a handful of
// build, test, and deploy jobs with slow builds as the most common anomaly.
const (
	DefaultJobDist     = "build-api:30,test-frontend:20,deploy-staging:15,integration-tests:20,deploy-prod:15"
	DefaultAnomalyDist = "slow:50,failures:30,queue:20"
	DefaultZScoreDist  = "medium:50,high:30,critical:20"
)

const (
	// secondaryFeatureProbability is the probability of adding a second,
	// milder anomalous feature to an event
	secondaryFeatureProbability = 0.3
)

// Options configures event generation.
type Options struct {
	Seed        int64
	JobDist     string
	AnomalyDist string
	ZScoreDist  string
}

// Validate checks that all distribution strings parse.
// Returns an error if validation fails, nil otherwise.
func (o Options) Validate() error {
	if _, err := ParseDistribution(o.JobDist); err != nil {
		return fmt.Errorf("invalid job-dist: %w", err)
	}
	if _, err := ParseDistribution(o.AnomalyDist); err != nil {
		return fmt.Errorf("invalid anomaly-dist: %w", err)
	}
	if _, err := ParseDistribution(o.ZScoreDist); err != nil {
		return fmt.Errorf("invalid zscore-dist: %w", err)
	}
	return nil
}

// Generator creates anomaly events according to configured distributions.
// It maintains separate weighted distributions for the job name, the anomaly
// class, and the z-score band of the primary feature.
type Generator struct {
	rng         *rand.Rand
	jobDist     []weightedValue
	anomalyDist []weightedValue
	zscoreDist  []weightedValue
}

// weightedValue represents a single value in a weighted distribution.
type weightedValue struct {
	value  string // The value to select
	weight int    // Weight (percentage) for this value
}

// New creates a new event generator with the given options.
// It initializes the RNG (with seed if provided) and parses all distribution
// strings. Panics if distribution parsing fails (should be caught during
// options validation).
func New(opts Options) *Generator {
	gen := &Generator{}

	// Initialize RNG
	if opts.Seed != 0 {
		gen.rng = rand.New(rand.NewSource(opts.Seed))
	} else {
		gen.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	var err error
	gen.jobDist, err = parseWeightedDistribution(opts.JobDist)
	if err != nil {
		panic(fmt.Sprintf("invalid job distribution (should be caught in options validation): %v", err))
	}

	gen.anomalyDist, err = parseWeightedDistribution(opts.AnomalyDist)
	if err != nil {
		panic(fmt.Sprintf("invalid anomaly distribution (should be caught in options validation): %v", err))
	}

	gen.zscoreDist, err = parseWeightedDistribution(opts.ZScoreDist)
	if err != nil {
		panic(fmt.Sprintf("invalid zscore distribution (should be caught in options validation): %v", err))
	}

	return gen
}

// parseWeightedDistribution converts a distribution string into a slice of
// weighted values. The slice is sorted by value so selection order is stable
// and a fixed seed reproduces the same job and feature sequence.
func parseWeightedDistribution(distStr string) ([]weightedValue, error) {
	distMap, err := ParseDistribution(distStr)
	if err != nil {
		return nil, err
	}

	result := make([]weightedValue, 0, len(distMap))
	for value, weight := range distMap {
		result = append(result, weightedValue{value: value, weight: weight})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].value < result[j].value })

	return result, nil
}

// Generate creates a new anomaly event with random values according to the
// configured distributions. Severity is left blank so the engine derives it
// from the z-scores. Each event carries a UUID correlation id in its payload.
func (g *Generator) Generate() *alert.Event {
	job := g.selectWeighted(g.jobDist)
	class := g.selectWeighted(g.anomalyDist)
	band := g.selectWeighted(g.zscoreDist)

	return &alert.Event{
		Job:       job,
		Timestamp: time.Now().UTC(),
		Features:  g.featuresFor(job, class, band),
		Payload: map[string]string{
			"correlation_id": uuid.New().String(),
			"anomaly_class":  class,
		},
	}
}

// featuresFor builds the anomalous feature list for an event. The anomaly
// class picks the primary feature; the z-score band picks how far it
// deviates. A second sub-threshold feature is added probabilistically so
// grouped renderings have something to rank.
func (g *Generator) featuresFor(job, class, band string) []alert.Feature {
	z := g.zScoreIn(band)

	var primary alert.Feature
	switch class {
	case "failures":
		expected := 1.0
		primary = alert.Feature{
			Name:     "failure_count",
			Observed: math.Round(expected + z*3),
			Expected: expected,
			ZScore:   z,
		}
	case "queue":
		expected := 5.0
		primary = alert.Feature{
			Name:     "queue_time",
			Observed: round1(expected + z*12),
			Expected: expected,
			ZScore:   z,
		}
	default: // slow
		expected := baseDuration(job)
		primary = alert.Feature{
			Name:     "duration",
			Observed: round1(expected + z*30),
			Expected: expected,
			ZScore:   z,
		}
	}

	features := []alert.Feature{primary}
	if g.rng.Float64() < secondaryFeatureProbability {
		expected := baseTests(job)
		subZ := round2(1.2 + g.rng.Float64()*1.2)
		features = append(features, alert.Feature{
			Name:     "test_count",
			Observed: math.Round(expected - subZ*10),
			Expected: expected,
			ZScore:   -subZ,
		})
	}
	return features
}

// zScoreIn returns a z-score inside the named band. Band edges sit strictly
// above the severity derivation thresholds so a "critical" band event always
// derives critical severity.
func (g *Generator) zScoreIn(band string) float64 {
	switch band {
	case "critical":
		return round2(5.1 + g.rng.Float64()*2.9)
	case "high":
		return round2(4.1 + g.rng.Float64()*0.9)
	default: // medium
		return round2(2.6 + g.rng.Float64()*1.4)
	}
}

// baseDuration returns the expected duration in seconds for a job. Test jobs
// run long, deploys run short, everything else sits in between.
func baseDuration(job string) float64 {
	switch {
	case strings.Contains(job, "test"):
		return 180
	case strings.Contains(job, "deploy"):
		return 120
	default:
		return 240
	}
}

// baseTests returns the expected test count for a job.
func baseTests(job string) float64 {
	switch {
	case strings.Contains(job, "test"):
		return 150
	case strings.Contains(job, "deploy"):
		return 50
	default:
		return 100
	}
}

// selectWeighted selects a value from a weighted distribution using cumulative probability.
// Uses the generator's RNG to ensure deterministic behavior when seeded.
func (g *Generator) selectWeighted(choices []weightedValue) string {
	if len(choices) == 0 {
		return "unknown"
	}

	total := 0
	for _, c := range choices {
		total += c.weight
	}

	r := g.rng.Intn(total)

	cumulative := 0
	for _, c := range choices {
		cumulative += c.weight
		if r < cumulative {
			return c.value
		}
	}

	// Fallback (shouldn't happen, but ensures we always return something)
	return choices[len(choices)-1].value
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ParseDistribution parses a weighted distribution string into a map of values to percentages.
//
// Format: "KEY1:PERCENT1,KEY2:PERCENT2,..." where percentages must sum to 100.
//
// Example: "slow:50,failures:30,queue:20"
//
// Returns a map of value -> percentage (0-100) and an error if parsing fails.
func ParseDistribution(distStr string) (map[string]int, error) {
	result := make(map[string]int)

	if distStr == "" {
		return result, fmt.Errorf("distribution string cannot be empty")
	}

	parts := strings.Split(distStr, ",")
	totalPercent := 0

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.Split(part, ":")
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid distribution format: %s (expected KEY:PERCENT)", part)
		}

		key := strings.TrimSpace(kv[0])
		var percent int
		if _, err := fmt.Sscanf(kv[1], "%d", &percent); err != nil {
			return nil, fmt.Errorf("invalid percentage in %s: %w", part, err)
		}

		if percent < 0 || percent > 100 {
			return nil, fmt.Errorf("percentage must be 0-100, got %d in %s", percent, part)
		}

		result[key] = percent
		totalPercent += percent
	}

	if totalPercent != 100 {
		return nil, fmt.Errorf("distribution percentages must sum to 100, got %d", totalPercent)
	}

	return result, nil
}

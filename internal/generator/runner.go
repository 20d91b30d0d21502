package generator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ssupshub/cicd-anomaly-detection/internal/alert"
)

const (
	// progressLogInterval is how often continuous mode logs progress.
	progressLogInterval = 5 * time.Second
	// burstProgressInterval is how many events between burst progress logs.
	burstProgressInterval = 100
)

// Runner publishes generated anomaly events either as one immediate burst
// or paced at a fixed rate for a fixed duration.
type Runner struct {
	gen *Generator
	pub EventPublisher
}

// NewRunner creates a runner that feeds events from gen into pub.
func NewRunner(gen *Generator, pub EventPublisher) *Runner {
	return &Runner{gen: gen, pub: pub}
}

// Burst publishes count events as fast as the publisher accepts them.
func (r *Runner) Burst(ctx context.Context, count int) error {
	if count <= 0 {
		return fmt.Errorf("burst size must be positive, got %d", count)
	}
	slog.Info("Starting burst mode", "total_events", count)

	startTime := time.Now()
	for i := 0; i < count; i++ {
		// Check for cancellation before each event
		select {
		case <-ctx.Done():
			slog.Warn("Burst mode cancelled", "sent", i, "requested", count)
			return ctx.Err()
		default:
		}

		ev := r.gen.Generate()
		if err := r.pub.Publish(ctx, ev); err != nil {
			return fmt.Errorf("failed to publish event %d of %d: %w", i+1, count, err)
		}

		// Log first event with full details for verification
		if i == 0 {
			logEventDetails("Published first anomaly event (sample)", ev)
		}

		// Log progress periodically to avoid log spam
		if (i+1)%burstProgressInterval == 0 {
			elapsed := time.Since(startTime).Seconds()
			rate := float64(i+1) / elapsed
			slog.Info("Burst progress",
				"sent", i+1,
				"total", count,
				"rate_per_sec", fmt.Sprintf("%.2f", rate),
			)
		}
	}

	elapsed := time.Since(startTime).Seconds()
	rate := float64(count) / elapsed
	slog.Info("Burst mode completed",
		"total_sent", count,
		"duration_sec", fmt.Sprintf("%.2f", elapsed),
		"rate_per_sec", fmt.Sprintf("%.2f", rate),
	)
	return nil
}

// Continuous publishes events at the target rate until the duration elapses.
func (r *Runner) Continuous(ctx context.Context, rate float64, duration time.Duration) error {
	if rate <= 0 {
		return fmt.Errorf("rate must be positive, got %g", rate)
	}
	if duration <= 0 {
		return fmt.Errorf("duration must be positive, got %s", duration)
	}
	slog.Info("Starting continuous mode", "target_rps", rate, "duration", duration)

	interval := time.Duration(float64(time.Second) / rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	deadline := time.Now().Add(duration)
	startTime := time.Now()
	totalSent := 0
	lastLog := time.Now()

	for {
		select {
		case <-ctx.Done():
			slog.Warn("Continuous mode cancelled", "sent", totalSent, "duration_requested", duration)
			return ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				elapsed := time.Since(startTime).Seconds()
				actualRPS := float64(totalSent) / elapsed
				slog.Info("Duration reached",
					"total_sent", totalSent,
					"duration_sec", fmt.Sprintf("%.2f", elapsed),
					"target_rps", rate,
					"actual_rps", fmt.Sprintf("%.2f", actualRPS),
				)
				return nil
			}

			ev := r.gen.Generate()
			if err := r.pub.Publish(ctx, ev); err != nil {
				return fmt.Errorf("failed to publish event: %w", err)
			}
			totalSent++

			if totalSent == 1 {
				logEventDetails("Published first anomaly event (sample)", ev)
			}

			if time.Since(lastLog) >= progressLogInterval {
				elapsed := time.Since(startTime).Seconds()
				actualRPS := float64(totalSent) / elapsed
				slog.Info("Progress update",
					"sent", totalSent,
					"target_rps", rate,
					"actual_rps", fmt.Sprintf("%.2f", actualRPS),
					"elapsed_sec", fmt.Sprintf("%.2f", elapsed),
				)
				lastLog = time.Now()
			}
		}
	}
}

// logEventDetails logs one event in a structured format.
func logEventDetails(message string, ev *alert.Event) {
	slog.Info(message,
		"job", ev.Job,
		"fingerprint", ev.Fingerprint(),
		"anomaly_class", ev.Payload["anomaly_class"],
		"max_z_score", ev.MaxZScore(),
	)
}

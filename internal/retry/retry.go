// Package retry provides bounded retry with exponential backoff for
// transient failures on the delivery side paths: channel sends and journal
// writes. The decision pipeline itself never retries.
package retry

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"
)

// Config defines retry behavior.
type Config struct {
	MaxRetries     int           // retry attempts after the first try (0 = no retries)
	InitialBackoff time.Duration // backoff before the first retry
	MaxBackoff     time.Duration // cap on the backoff duration
	BackoffFactor  float64       // multiplier applied per attempt
}

// DefaultConfig returns sensible defaults for short-lived transient blips.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
	}
}

// IsRetryable reports whether an error looks transient. Network hiccups,
// throttling, exhausted pools, and serialization conflicts are worth another
// attempt; malformed requests, rejected statements, and constraint
// violations are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	nonRetryable := []string{
		"syntax error",
		"does not exist",
		"violates",
		"invalid",
		"malformed",
		"not verified", // SES sandbox - recipient not verified
	}
	for _, s := range nonRetryable {
		if strings.Contains(errStr, s) {
			return false
		}
	}

	retryable := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"broken pipe",
		"temporary",
		"too many connections",
		"deadlock",
		"serialization failure",
		"rate limit",
		"throttl",
		"502",
		"503",
		"504",
		"too many requests",
		"try again",
	}
	for _, s := range retryable {
		if strings.Contains(errStr, s) {
			return true
		}
	}

	// Default: don't retry unknown errors.
	return false
}

// WithRetry executes fn, retrying transient failures with exponential
// backoff until it succeeds, the error turns permanent, or retries run out.
func WithRetry(ctx context.Context, cfg Config, operation string, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 0 {
				slog.Info("Operation succeeded after retry",
					"operation", operation,
					"attempt", attempt+1,
				)
			}
			return nil
		}

		lastErr = err

		if !IsRetryable(err) {
			slog.Debug("Error is not retryable, failing immediately",
				"operation", operation,
				"error", err,
			)
			return err
		}
		if attempt >= cfg.MaxRetries {
			slog.Warn("Max retries exceeded",
				"operation", operation,
				"attempts", attempt+1,
				"error", err,
			)
			return err
		}

		backoff := calculateBackoff(cfg, attempt)
		slog.Warn("Operation failed, retrying",
			"operation", operation,
			"attempt", attempt+1,
			"max_attempts", cfg.MaxRetries+1,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return lastErr
}

// calculateBackoff returns initial * factor^attempt, capped at MaxBackoff,
// with ±25% jitter to avoid synchronized retry storms.
func calculateBackoff(cfg Config, attempt int) time.Duration {
	backoff := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffFactor, float64(attempt))
	if backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}
	jitter := backoff * 0.25 * (rand.Float64()*2 - 1)
	return time.Duration(backoff + jitter)
}

// Package config holds alertd configuration: connection endpoints set by
// command-line flags with environment fallbacks, and an optional TOML file
// for engine tuning, sink targets, and seed routing rules and maintenance
// windows.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ssupshub/cicd-anomaly-detection/internal/alert"
	"github.com/ssupshub/cicd-anomaly-detection/internal/engine"
	kafkautil "github.com/ssupshub/cicd-anomaly-detection/internal/kafka"
)

// Config holds all configuration parameters for the alertd daemon.
// The connection fields are populated by flags; the embedded FileConfig is
// merged in from the TOML file when one exists.
type Config struct {
	KafkaBrokers    string
	AnomaliesTopic  string
	ConsumerGroupID string
	ConfigFile      string
	StatePath       string
	PostgresDSN     string // empty disables the delivery journal
	RedisAddr       string // empty disables the stats reporter

	FileConfig
}

// FileConfig is the TOML file surface.
type FileConfig struct {
	Engine  EngineSettings `toml:"engine"`
	Sinks   SinkSettings   `toml:"sinks"`
	Rules   []SeedRule     `toml:"rules"`
	Windows []SeedWindow   `toml:"windows"`
}

// EngineSettings tunes the decision pipeline. Zero values fall back to the
// engine's own defaults.
type EngineSettings struct {
	DedupWindowSeconds int      `toml:"dedup_window_seconds"`
	BatchWindowSeconds int      `toml:"batch_window_seconds"`
	RateLimitPerHour   int      `toml:"rate_limit_per_hour"`
	DefaultChannels    []string `toml:"default_channels"`
	DefaultMinSeverity string   `toml:"default_min_severity"`
}

// SinkSettings points the delivery channels at their targets.
type SinkSettings struct {
	SlackWebhookURL string `toml:"slack_webhook_url"`
	EmailRecipients string `toml:"email_recipients"`
	WebhookURL      string `toml:"webhook_url"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
}

// SeedRule is a routing rule applied at startup, after state restore.
// A rule name already present in the restored snapshot wins over the seed.
type SeedRule struct {
	Name            string   `toml:"name"`
	JobPattern      string   `toml:"job_pattern"`
	MinSeverity     string   `toml:"min_severity"`
	Channels        []string `toml:"channels"`
	WebhookOverride string   `toml:"webhook_override"`
}

// Rule converts the seed into its engine representation.
func (r SeedRule) Rule() engine.Rule {
	return engine.Rule{
		Name:            r.Name,
		JobPattern:      r.JobPattern,
		MinSeverity:     alert.Severity(r.MinSeverity),
		Channels:        r.Channels,
		WebhookOverride: r.WebhookOverride,
	}
}

// SeedWindow is a maintenance window applied at startup, after state
// restore. Start and End are TOML datetimes.
type SeedWindow struct {
	Name  string    `toml:"name"`
	Start time.Time `toml:"start"`
	End   time.Time `toml:"end"`
	Jobs  []string  `toml:"jobs"`
}

// Window converts the seed into its engine representation.
func (w SeedWindow) Window() engine.MaintenanceWindow {
	return engine.MaintenanceWindow{
		Name:  w.Name,
		Start: w.Start,
		End:   w.End,
		Jobs:  w.Jobs,
	}
}

// LoadFile merges the TOML file at path into the config. A missing file is
// not an error: the daemon runs on flag defaults. Unknown keys are returned
// as warnings so typos surface in the log without blocking startup.
func (c *Config) LoadFile(path string) ([]string, error) {
	md, err := toml.DecodeFile(path, &c.FileConfig)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	var warnings []string
	for _, key := range md.Undecoded() {
		warnings = append(warnings, fmt.Sprintf("unknown config key: %q", key.String()))
	}
	return warnings, nil
}

// Validate checks that all required configuration fields are set and have
// valid values. Seed rules and windows get their final validation from the
// engine when they are applied; Validate rejects only what would make the
// daemon unbootable.
func (c *Config) Validate() error {
	if err := kafkautil.ValidateConsumerParams(c.KafkaBrokers, c.AnomaliesTopic, c.ConsumerGroupID); err != nil {
		return err
	}
	if c.StatePath == "" {
		return fmt.Errorf("state-path cannot be empty")
	}
	if c.Engine.DedupWindowSeconds < 0 {
		return fmt.Errorf("engine dedup_window_seconds cannot be negative, got %d", c.Engine.DedupWindowSeconds)
	}
	if c.Engine.BatchWindowSeconds < 0 {
		return fmt.Errorf("engine batch_window_seconds cannot be negative, got %d", c.Engine.BatchWindowSeconds)
	}
	if c.Engine.RateLimitPerHour < 0 {
		return fmt.Errorf("engine rate_limit_per_hour cannot be negative, got %d", c.Engine.RateLimitPerHour)
	}
	if c.Engine.DefaultMinSeverity != "" {
		if _, err := alert.ParseSeverity(c.Engine.DefaultMinSeverity); err != nil {
			return fmt.Errorf("engine default_min_severity: %w", err)
		}
	}
	if c.Sinks.TimeoutSeconds < 0 {
		return fmt.Errorf("sinks timeout_seconds cannot be negative, got %d", c.Sinks.TimeoutSeconds)
	}
	for _, r := range c.Rules {
		if strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("seed rules: name is required")
		}
	}
	for _, w := range c.Windows {
		if strings.TrimSpace(w.Name) == "" {
			return fmt.Errorf("seed windows: name is required")
		}
		if !w.End.After(w.Start) {
			return fmt.Errorf("window %q: end must be after start", w.Name)
		}
	}
	return nil
}

// EngineConfig converts the tuning section into the engine's config type.
// Zero values pass through so the engine applies its own defaults.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		DedupWindow:        time.Duration(c.Engine.DedupWindowSeconds) * time.Second,
		BatchWindow:        time.Duration(c.Engine.BatchWindowSeconds) * time.Second,
		RateLimitPerHour:   c.Engine.RateLimitPerHour,
		DefaultChannels:    c.Engine.DefaultChannels,
		DefaultMinSeverity: alert.Severity(c.Engine.DefaultMinSeverity),
	}
}

// SinkTimeout returns the per-channel send timeout, 0 when unset.
func (c *Config) SinkTimeout() time.Duration {
	return time.Duration(c.Sinks.TimeoutSeconds) * time.Second
}

// GetEnvOrDefault returns the environment variable value or a default if not set.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

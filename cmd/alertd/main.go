package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ssupshub/cicd-anomaly-detection/internal/config"
	"github.com/ssupshub/cicd-anomaly-detection/internal/engine"
	"github.com/ssupshub/cicd-anomaly-detection/internal/ingest"
	"github.com/ssupshub/cicd-anomaly-detection/internal/journal"
	"github.com/ssupshub/cicd-anomaly-detection/internal/metrics"
	"github.com/ssupshub/cicd-anomaly-detection/internal/notify"
	"github.com/ssupshub/cicd-anomaly-detection/internal/state"
)

const (
	// serviceName keys the stats report in Redis.
	serviceName = "alertd"
	// shutdownTimeout bounds the final flush and state save.
	shutdownTimeout = 30 * time.Second
)

func main() {
	// Parse command-line flags with environment variable fallbacks
	cfg := &config.Config{}
	flag.StringVar(&cfg.KafkaBrokers, "kafka-brokers", config.GetEnvOrDefault("KAFKA_BROKERS", "localhost:9092"), "Kafka broker addresses (comma-separated)")
	flag.StringVar(&cfg.AnomaliesTopic, "anomalies-topic", config.GetEnvOrDefault("ANOMALIES_TOPIC", "anomalies"), "Kafka topic for anomaly events")
	flag.StringVar(&cfg.ConsumerGroupID, "consumer-group-id", config.GetEnvOrDefault("CONSUMER_GROUP_ID", "alertd"), "Kafka consumer group ID")
	flag.StringVar(&cfg.ConfigFile, "config", config.GetEnvOrDefault("ALERTD_CONFIG", "alertd.toml"), "Path to the TOML config file (missing file runs on defaults)")
	flag.StringVar(&cfg.StatePath, "state-path", config.GetEnvOrDefault("STATE_PATH", "alertd-state.json"), "Path to the state snapshot file")
	flag.StringVar(&cfg.PostgresDSN, "postgres-dsn", config.GetEnvOrDefault("POSTGRES_DSN", ""), "PostgreSQL connection string for the delivery journal (empty disables)")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", config.GetEnvOrDefault("REDIS_ADDR", ""), "Redis server address for the stats reporter (empty disables)")
	flag.Parse()

	// Set up structured logging
	// Allow DEBUG level via environment variable for troubleshooting
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "DEBUG" || os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	warnings, err := cfg.LoadFile(cfg.ConfigFile)
	if err != nil {
		slog.Error("Invalid config file", "error", err)
		os.Exit(1)
	}
	for _, w := range warnings {
		slog.Warn("Config file warning", "warning", w)
	}

	slog.Info("Starting alertd",
		"kafka_brokers", cfg.KafkaBrokers,
		"anomalies_topic", cfg.AnomaliesTopic,
		"consumer_group_id", cfg.ConsumerGroupID,
		"config_file", cfg.ConfigFile,
		"state_path", cfg.StatePath,
		"postgres_dsn", metrics.MaskDSN(cfg.PostgresDSN),
		"redis_addr", cfg.RedisAddr,
	)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Received shutdown signal, shutting down gracefully...")
		cancel()
	}()

	store := state.NewFileStore(cfg.StatePath)

	// Initialize the delivery journal when a DSN is configured
	var journalDB *journal.DB
	if cfg.PostgresDSN != "" {
		slog.Info("Connecting to PostgreSQL delivery journal")
		journalDB, err = journal.NewDB(cfg.PostgresDSN)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			slog.Info("Tip: Start Postgres with 'docker compose up -d postgres' or ensure Postgres is running")
			os.Exit(1)
		}
		defer journalDB.Close()
		if err := journalDB.EnsureSchema(ctx); err != nil {
			slog.Error("Failed to apply delivery journal schema", "error", err)
			os.Exit(1)
		}
		slog.Info("Successfully connected to PostgreSQL delivery journal")

		if failed, err := journalDB.FailedSince(ctx, time.Now().Add(-24*time.Hour)); err != nil {
			slog.Warn("Failed to query delivery journal", "error", err)
		} else if failed > 0 {
			slog.Warn("Delivery failures recorded in the last 24h", "failed", failed)
			slog.Info("Tip: Inspect them with \"SELECT * FROM delivery_log WHERE status = 'failed'\"")
		}
		if _, err := journalDB.PruneOlderThan(ctx, time.Now().AddDate(0, 0, -30)); err != nil {
			slog.Warn("Failed to prune delivery journal", "error", err)
		}
	} else {
		slog.Info("Delivery journal disabled, no Postgres DSN configured")
	}

	// Initialize the dispatcher with sink targets from the config file
	dispatcherOpts := []notify.Option{}
	if timeout := cfg.SinkTimeout(); timeout > 0 {
		dispatcherOpts = append(dispatcherOpts, notify.WithSinkTimeout(timeout))
	}
	if journalDB != nil {
		dispatcherOpts = append(dispatcherOpts, notify.WithJournal(journalDB))
	}
	dispatcher := notify.NewDispatcher(notify.Targets{
		SlackWebhookURL: cfg.Sinks.SlackWebhookURL,
		EmailRecipients: cfg.Sinks.EmailRecipients,
		WebhookURL:      cfg.Sinks.WebhookURL,
	}, dispatcherOpts...)

	// Build the engine; New restores the previous snapshot from the store
	eng := engine.New(cfg.EngineConfig(), store, dispatcher)
	seedRules(eng, cfg.Rules)
	seedWindows(eng, cfg.Windows)

	// Initialize the stats reporter when a Redis address is configured
	if cfg.RedisAddr != "" {
		slog.Info("Connecting to Redis", "addr", cfg.RedisAddr)
		redisClient, err := metrics.ConnectRedis(ctx, cfg.RedisAddr)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			slog.Info("Tip: Start Redis with 'docker compose up -d redis'")
			os.Exit(1)
		}
		defer redisClient.Close()
		slog.Info("Successfully connected to Redis")

		// Surface the previous run's counters before this run overwrites them
		if report, err := metrics.NewReader(redisClient).Get(ctx, serviceName); err == nil {
			slog.Info("Previous run stats",
				"status", report.Status,
				"last_updated", report.LastUpdated,
				"total_received", report.Stats.TotalReceived,
				"total_sent", report.Stats.TotalSent,
				"total_suppressed", report.Stats.TotalSuppressed,
			)
		}

		reporter := metrics.NewReporter(serviceName, redisClient, eng)
		reporter.Start(ctx)
		defer reporter.Stop()
	} else {
		slog.Info("Stats reporter disabled, no Redis address configured")
	}

	// Initialize Kafka consumer
	slog.Info("Connecting to Kafka consumer", "topic", cfg.AnomaliesTopic)
	consumer, err := ingest.NewConsumer(cfg.KafkaBrokers, cfg.AnomaliesTopic, cfg.ConsumerGroupID)
	if err != nil {
		slog.Error("Failed to create Kafka consumer", "error", err)
		slog.Info("Tip: Start Kafka with 'docker compose up -d kafka'")
		os.Exit(1)
	}
	defer consumer.Close()
	slog.Info("Successfully connected to Kafka consumer")

	// Main processing loop
	proc := ingest.NewProcessor(consumer, eng)
	if err := proc.Run(ctx); err != nil {
		slog.Error("Anomaly processing failed", "error", err)
		os.Exit(1)
	}

	// Drain open batches and write the final snapshot while the sinks and
	// the journal are still open.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := eng.Close(shutdownCtx); err != nil {
		slog.Error("Final state save failed", "error", err)
	}

	snap := eng.Stats()
	slog.Info("alertd stopped",
		"total_received", snap.TotalReceived,
		"total_sent", snap.TotalSent,
		"total_suppressed", snap.TotalSuppressed,
		"delivery_failed", snap.DeliveryFailed,
	)
}

// seedRules registers routing rules from the config file. Rules restored
// from a previous snapshot win over seed definitions with the same name, so
// edits made through the management API survive restarts.
func seedRules(eng *engine.Engine, seeds []config.SeedRule) {
	if len(seeds) == 0 {
		return
	}
	existing := make(map[string]bool)
	for _, r := range eng.Rules() {
		existing[r.Name] = true
	}
	applied := 0
	for _, seed := range seeds {
		if existing[seed.Name] {
			slog.Debug("Seed rule already in restored state, keeping restored copy", "rule", seed.Name)
			continue
		}
		if err := eng.AddRule(seed.Rule()); err != nil {
			slog.Warn("Skipping invalid seed rule", "rule", seed.Name, "error", err)
			continue
		}
		applied++
	}
	slog.Info("Seeded routing rules", "configured", len(seeds), "applied", applied)
}

// seedWindows registers maintenance windows from the config file. Windows
// cannot be listed once inactive, so restored duplicates surface as add
// errors; config validation rejects the other invalid shapes up front.
func seedWindows(eng *engine.Engine, seeds []config.SeedWindow) {
	if len(seeds) == 0 {
		return
	}
	applied := 0
	for _, seed := range seeds {
		if err := eng.AddMaintenanceWindow(seed.Window()); err != nil {
			var verr *engine.ValidationError
			if errors.As(err, &verr) {
				slog.Debug("Seed maintenance window already in restored state, keeping restored copy", "window", seed.Name)
			} else {
				slog.Warn("Skipping invalid seed maintenance window", "window", seed.Name, "error", err)
			}
			continue
		}
		applied++
	}
	slog.Info("Seeded maintenance windows", "configured", len(seeds), "applied", applied)
}

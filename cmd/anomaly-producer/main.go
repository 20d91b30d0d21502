// Package main is the CLI entry point for the anomaly producer. It publishes
// synthetic CI/CD anomaly events to Kafka for end-to-end smoke runs.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ssupshub/cicd-anomaly-detection/internal/config"
	"github.com/ssupshub/cicd-anomaly-detection/internal/generator"
)

func main() {
	// Initialize structured logger with JSON output
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	var (
		brokers  string
		topic    string
		rps      float64
		duration time.Duration
		burst    int
		mockMode bool
		opts     generator.Options
	)
	flag.StringVar(&brokers, "kafka-brokers", config.GetEnvOrDefault("KAFKA_BROKERS", "localhost:9092"), "Kafka broker addresses (comma-separated)")
	flag.StringVar(&topic, "topic", config.GetEnvOrDefault("ANOMALIES_TOPIC", "anomalies"), "Kafka topic name")
	flag.Float64Var(&rps, "rps", 5.0, "Events per second in continuous mode")
	flag.DurationVar(&duration, "duration", 60*time.Second, "Duration to run in continuous mode (e.g., 60s, 5m)")
	flag.IntVar(&burst, "burst", 0, "Burst mode: send N events immediately, then stop (0 = continuous)")
	flag.Int64Var(&opts.Seed, "seed", 0, "Random seed for deterministic generation (0 = random)")
	flag.StringVar(&opts.JobDist, "job-dist", generator.DefaultJobDist, "Job distribution (format: job:percent,...)")
	flag.StringVar(&opts.AnomalyDist, "anomaly-dist", generator.DefaultAnomalyDist, "Anomaly class distribution (format: class:percent,...)")
	flag.StringVar(&opts.ZScoreDist, "zscore-dist", generator.DefaultZScoreDist, "Z-score band distribution (format: band:percent,...)")
	flag.BoolVar(&mockMode, "mock", false, "Use mock publisher (no Kafka required, logs events instead)")
	flag.Parse()

	slog.Info("Starting anomaly-producer",
		"kafka_brokers", brokers,
		"topic", topic,
		"rps", rps,
		"duration", duration,
		"burst_size", burst,
		"seed", opts.Seed,
	)

	if err := opts.Validate(); err != nil {
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

	// Initialize publisher (Kafka or mock)
	var publisher generator.EventPublisher
	if mockMode {
		publisher = generator.NewMockPublisher(topic)
	} else {
		slog.Info("Connecting to Kafka", "brokers", brokers, "topic", topic)
		kafkaPub, err := generator.NewPublisher(brokers, topic)
		if err != nil {
			slog.Error("Failed to create Kafka publisher", "error", err)
			slog.Info("Tip: Start Kafka with 'docker compose up -d kafka' or use --mock to test without Kafka")
			os.Exit(1)
		}
		publisher = kafkaPub
		slog.Info("Successfully connected to Kafka")
	}
	defer publisher.Close()

	gen := generator.New(opts)
	slog.Info("Anomaly generator initialized",
		"job_dist", opts.JobDist,
		"anomaly_dist", opts.AnomalyDist,
		"zscore_dist", opts.ZScoreDist,
	)

	runner := generator.NewRunner(gen, publisher)
	var err error
	if burst > 0 {
		err = runner.Burst(ctx, burst)
	} else {
		err = runner.Continuous(ctx, rps, duration)
	}
	if err != nil && ctx.Err() == nil {
		slog.Error("Event generation failed", "error", err)
		os.Exit(1)
	}

	slog.Info("Anomaly producer completed")
}

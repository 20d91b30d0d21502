// Package metrics publishes engine statistics to Redis for external
// observability. Reporting is a best-effort side channel: the daemon stays
// fully functional without Redis.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ssupshub/cicd-anomaly-detection/internal/engine"
)

const (
	// KeyPrefix is the Redis key prefix for stats reports.
	KeyPrefix = "metrics:"
	// TTL is how long a report stays in Redis if not refreshed.
	TTL = 2 * time.Minute
	// DefaultReportInterval is the default interval between reports.
	DefaultReportInterval = 30 * time.Second
)

// Source exposes the engine statistics the reporter publishes.
type Source interface {
	Stats() engine.StatsSnapshot
}

// Report is the JSON document written to Redis.
type Report struct {
	Service     string               `json:"service"`
	StartedAt   time.Time            `json:"started_at"`
	LastUpdated time.Time            `json:"last_updated"`
	Status      string               `json:"status"` // "healthy" or "unhealthy"
	Stats       engine.StatsSnapshot `json:"stats"`
}

// Reporter periodically writes engine stats to Redis.
type Reporter struct {
	service   string
	redis     *redis.Client
	source    Source
	interval  time.Duration
	startedAt time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewReporter creates a reporter that publishes the source's stats under
// the given service name.
func NewReporter(service string, client *redis.Client, source Source) *Reporter {
	return &Reporter{
		service:   service,
		redis:     client,
		source:    source,
		interval:  DefaultReportInterval,
		startedAt: time.Now().UTC(),
		stopCh:    make(chan struct{}),
	}
}

// SetReportInterval sets the interval for writing stats to Redis.
func (r *Reporter) SetReportInterval(interval time.Duration) {
	if interval > 0 {
		r.interval = interval
	}
}

// Start begins the periodic stats reporting to Redis.
func (r *Reporter) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				r.write(context.Background()) // Final write
				return
			case <-r.stopCh:
				r.write(context.Background()) // Final write
				return
			case <-ticker.C:
				r.write(ctx)
			}
		}
	}()
}

// Stop stops the stats reporting after one final write.
func (r *Reporter) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

// write publishes one report to Redis.
func (r *Reporter) write(ctx context.Context) {
	if r.redis == nil {
		return
	}

	report := Report{
		Service:     r.service,
		StartedAt:   r.startedAt,
		LastUpdated: time.Now().UTC(),
		Status:      "healthy",
		Stats:       r.source.Stats(),
	}

	data, err := json.Marshal(report)
	if err != nil {
		slog.Error("Failed to marshal stats report", "service", r.service, "error", err)
		return
	}

	key := KeyPrefix + r.service
	if err := r.redis.Set(ctx, key, data, TTL).Err(); err != nil {
		slog.Error("Failed to write stats to Redis", "service", r.service, "error", err)
		return
	}

	slog.Debug("Stats written to Redis", "service", r.service, "key", key)
}

// Reader reads stats reports from Redis.
type Reader struct {
	redis *redis.Client
}

// NewReader creates a new stats reader.
func NewReader(client *redis.Client) *Reader {
	return &Reader{redis: client}
}

// Get retrieves the report for a service, marking it unhealthy when stale.
func (rd *Reader) Get(ctx context.Context, service string) (*Report, error) {
	key := KeyPrefix + service
	data, err := rd.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("no stats found for service: %s", service)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}

	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stats: %w", err)
	}

	// Reports older than the TTL mean the writer stopped refreshing.
	if time.Since(report.LastUpdated) > TTL {
		report.Status = "unhealthy"
	}

	return &report, nil
}

// ConnectRedis creates and validates a Redis connection.
// Returns the client and nil on success, or nil and an error on failure.
func ConnectRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	return client, nil
}

// MaskDSN masks sensitive information in a DSN for logging.
func MaskDSN(dsn string) string {
	if len(dsn) > 50 {
		return dsn[:20] + "***" + dsn[len(dsn)-20:]
	}
	return "***"
}

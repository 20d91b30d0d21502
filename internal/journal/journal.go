// Package journal persists per-channel delivery attempts to PostgreSQL.
// The journal is an audit surface: engine decisions never depend on it, and
// a journal outage only costs the audit trail.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/ssupshub/cicd-anomaly-detection/internal/notify"
	"github.com/ssupshub/cicd-anomaly-detection/internal/retry"
)

const connectTimeout = 5 * time.Second

// schema is applied on startup; re-running it is harmless.
const schema = `
CREATE TABLE IF NOT EXISTS delivery_log (
	id          BIGSERIAL PRIMARY KEY,
	message_id  TEXT NOT NULL,
	rule        TEXT NOT NULL,
	channel     TEXT NOT NULL,
	event_count INTEGER NOT NULL,
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	sent_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS delivery_log_sent_at_idx ON delivery_log (sent_at);
CREATE INDEX IF NOT EXISTS delivery_log_status_idx ON delivery_log (status);
`

// DB wraps a database connection and provides delivery journal operations.
type DB struct {
	conn *sql.DB
}

var _ notify.AttemptRecorder = (*DB)(nil)

// NewDB creates a new database connection using the provided DSN.
func NewDB(dsn string) (*DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Successfully connected to PostgreSQL delivery journal")

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		slog.Info("Closing delivery journal connection")
		return db.conn.Close()
	}
	return nil
}

// EnsureSchema creates the delivery_log table and indexes if missing.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure journal schema: %w", err)
	}
	return nil
}

// RecordAttempt inserts one delivery attempt. Transient failures are retried
// with backoff.
func (db *DB) RecordAttempt(ctx context.Context, attempt notify.Attempt) error {
	query := `
		INSERT INTO delivery_log (message_id, rule, channel, event_count, status, error, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	operation := fmt.Sprintf("journal_%s_%s", attempt.Channel, attempt.MessageID)
	err := retry.WithRetry(ctx, retry.DefaultConfig(), operation, func() error {
		_, execErr := db.conn.ExecContext(ctx, query,
			attempt.MessageID,
			attempt.Rule,
			attempt.Channel,
			attempt.EventCount,
			attempt.Status,
			attempt.Error,
			attempt.SentAt,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("failed to record delivery attempt: %w", err)
	}

	slog.Debug("Recorded delivery attempt",
		"message_id", attempt.MessageID,
		"channel", attempt.Channel,
		"status", attempt.Status,
	)

	return nil
}

// FailedSince counts failed attempts recorded after the given time.
func (db *DB) FailedSince(ctx context.Context, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM delivery_log
		WHERE status = $1 AND sent_at >= $2
	`
	var count int
	if err := db.conn.QueryRowContext(ctx, query, notify.StatusFailed, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count failed attempts: %w", err)
	}
	return count, nil
}

// PruneOlderThan deletes attempts recorded before the cutoff and reports how
// many rows went away.
func (db *DB) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM delivery_log WHERE sent_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune delivery journal: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows > 0 {
		slog.Info("Pruned delivery journal", "removed", rows, "cutoff", cutoff)
	}

	return rows, nil
}

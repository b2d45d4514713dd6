// Package store provides SQLite-backed storage for classified events, the
// training history and aggregated incidents.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// tsLayout is fixed-width so that stored timestamps sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// DB wraps an SQLite connection.
type DB struct {
	db *sqlx.DB

	// appendMu serializes event appends on top of the single connection.
	appendMu sync.Mutex
}

// Open opens or creates an SQLite database at the given path.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Single writer connection to avoid SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Stats summarizes the table sizes.
type Stats struct {
	Events    int `db:"events" json:"events"`
	Anomalies int `db:"anomalies" json:"anomalies"`
	History   int `db:"history" json:"history"`
	Incidents int `db:"incidents" json:"incidents"`
}

// Count returns the number of stored live events.
func (d *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := d.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM events`); err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}

// Stats returns row counts for every table.
func (d *DB) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := d.db.GetContext(ctx, &s, `SELECT
		(SELECT COUNT(*) FROM events)                     AS events,
		(SELECT COUNT(*) FROM events WHERE is_anomaly)    AS anomalies,
		(SELECT COUNT(*) FROM history)                    AS history,
		(SELECT COUNT(*) FROM incidents)                  AS incidents`)
	if err != nil {
		return Stats{}, fmt.Errorf("reading stats: %w", err)
	}
	return s, nil
}

// Purge deletes live events and live incidents older than the retention
// window. Events without a timestamp are aged by ingestion time.
func (d *DB) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-retention))

	result, err := d.db.ExecContext(ctx,
		`DELETE FROM events WHERE COALESCE(timestamp, ingested_at) < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging old events: %w", err)
	}
	if _, err := d.db.ExecContext(ctx,
		`DELETE FROM incidents WHERE origin = ? AND window_end < ?`, OriginLive, cutoff); err != nil {
		return 0, fmt.Errorf("purging old incidents: %w", err)
	}
	return result.RowsAffected()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

// nullTime stores the zero time as NULL.
func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		slog.Debug("unparseable stored timestamp", "value", s.String, "error", err)
		return time.Time{}
	}
	return t
}

func migrate(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id          TEXT PRIMARY KEY,
			timestamp   TEXT,
			source      TEXT NOT NULL,
			level       TEXT NOT NULL,
			component   TEXT NOT NULL DEFAULT '',
			message     TEXT NOT NULL,
			template    TEXT NOT NULL,
			is_anomaly  BOOLEAN NOT NULL,
			reason      TEXT NOT NULL,
			ingested_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_anomaly_ts ON events(is_anomaly, timestamp)`,
		`CREATE TABLE IF NOT EXISTS history (
			seq        INTEGER PRIMARY KEY,
			id         TEXT NOT NULL,
			timestamp  TEXT,
			source     TEXT NOT NULL,
			level      TEXT NOT NULL,
			component  TEXT NOT NULL DEFAULT '',
			message    TEXT NOT NULL,
			template   TEXT NOT NULL,
			cluster_id INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_cluster ON history(cluster_id)`,
		`CREATE TABLE IF NOT EXISTS incidents (
			origin          TEXT NOT NULL,
			id              TEXT NOT NULL,
			window_start    TEXT NOT NULL,
			window_end      TEXT NOT NULL,
			start_time      TEXT NOT NULL,
			end_time        TEXT NOT NULL,
			event_count     INTEGER NOT NULL,
			sources         TEXT NOT NULL,
			components      TEXT NOT NULL,
			levels          TEXT NOT NULL,
			samples         TEXT NOT NULL,
			score           INTEGER NOT NULL,
			severity        TEXT NOT NULL,
			suppressed      BOOLEAN NOT NULL,
			suppress_reason TEXT NOT NULL DEFAULT '',
			notified        BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at      TEXT NOT NULL,
			PRIMARY KEY (origin, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_window ON incidents(origin, window_start)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}

	slog.Debug("database schema up to date")
	return nil
}

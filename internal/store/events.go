package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/setevik/logsentinel/internal/event"
	"github.com/setevik/logsentinel/internal/incident"
)

type eventRow struct {
	ID         string         `db:"id"`
	Timestamp  sql.NullString `db:"timestamp"`
	Source     string         `db:"source"`
	Level      string         `db:"level"`
	Component  string         `db:"component"`
	Message    string         `db:"message"`
	Template   string         `db:"template"`
	IsAnomaly  bool           `db:"is_anomaly"`
	Reason     string         `db:"reason"`
	IngestedAt string         `db:"ingested_at"`
}

const eventColumns = `id, timestamp, source, level, component, message, template, is_anomaly, reason, ingested_at`

func toEventRow(rec event.Record) eventRow {
	ev := rec.Event
	ingested := rec.IngestedAt
	if ingested.IsZero() {
		ingested = time.Now()
	}
	return eventRow{
		ID:         ev.ID,
		Timestamp:  nullTime(ev.Timestamp),
		Source:     ev.Source,
		Level:      string(ev.Level),
		Component:  ev.Component,
		Message:    ev.Message,
		Template:   ev.Template,
		IsAnomaly:  rec.Decision.IsAnomaly,
		Reason:     rec.Decision.Reason,
		IngestedAt: formatTime(ingested),
	}
}

func (r eventRow) record() event.Record {
	return event.Record{
		Event: event.LogEvent{
			ID:        r.ID,
			Timestamp: parseTime(r.Timestamp),
			Source:    r.Source,
			Level:     event.Level(r.Level),
			Component: r.Component,
			Message:   r.Message,
			Template:  r.Template,
		},
		Decision:   event.Decision{IsAnomaly: r.IsAnomaly, Reason: r.Reason},
		IngestedAt: parseTime(sql.NullString{String: r.IngestedAt, Valid: true}),
	}
}

// AppendEvent appends one classified event. Appends never update or remove
// existing rows and are serialized across goroutines.
func (d *DB) AppendEvent(ctx context.Context, rec event.Record) error {
	if rec.Event.ID == "" {
		return fmt.Errorf("appending event: missing id")
	}

	d.appendMu.Lock()
	defer d.appendMu.Unlock()

	_, err := d.db.NamedExecContext(ctx,
		`INSERT INTO events (`+eventColumns+`)
		VALUES (:id, :timestamp, :source, :level, :component, :message, :template, :is_anomaly, :reason, :ingested_at)`,
		toEventRow(rec))
	if err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	return nil
}

// EventFilter controls which events are returned by QueryEvents.
type EventFilter struct {
	Since   time.Time
	Until   time.Time
	Anomaly *bool
	Level   string
	Source  string
	Limit   int
}

// QueryEvents returns events matching the filter, newest first.
func (d *DB) QueryEvents(ctx context.Context, f EventFilter) ([]event.Record, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE 1=1`
	var args []interface{}

	if !f.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, formatTime(f.Since))
	}
	if !f.Until.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, formatTime(f.Until))
	}
	if f.Anomaly != nil {
		query += " AND is_anomaly = ?"
		args = append(args, *f.Anomaly)
	}
	if f.Level != "" {
		query += " AND level = ?"
		args = append(args, string(event.NormalizeLevel(f.Level)))
	}
	if f.Source != "" {
		query += " AND source = ?"
		args = append(args, f.Source)
	}

	query += " ORDER BY timestamp DESC, rowid DESC"

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	return d.selectEvents(ctx, query, args...)
}

// AllEvents returns every stored event in timestamp order, events without a
// timestamp last.
func (d *DB) AllEvents(ctx context.Context) ([]event.Record, error) {
	return d.selectEvents(ctx, `SELECT `+eventColumns+` FROM events
		ORDER BY timestamp IS NULL, timestamp ASC, rowid ASC`)
}

// Flagged returns the anomalous events with a timestamp in [since, until],
// oldest first. A zero bound is open.
func (d *DB) Flagged(ctx context.Context, since, until time.Time) ([]incident.Flagged, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE is_anomaly AND timestamp IS NOT NULL`
	var args []interface{}
	if !since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, formatTime(since))
	}
	if !until.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, formatTime(until))
	}
	query += " ORDER BY timestamp ASC, rowid ASC"

	recs, err := d.selectEvents(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := make([]incident.Flagged, len(recs))
	for i, r := range recs {
		out[i] = incident.Flagged{Event: r.Event, Decision: r.Decision}
	}
	return out, nil
}

func (d *DB) selectEvents(ctx context.Context, query string, args ...interface{}) ([]event.Record, error) {
	var rows []eventRow
	if err := d.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	out := make([]event.Record, len(rows))
	for i, r := range rows {
		out[i] = r.record()
	}
	return out, nil
}

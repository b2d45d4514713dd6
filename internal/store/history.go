package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/setevik/logsentinel/internal/cluster"
	"github.com/setevik/logsentinel/internal/event"
)

type historyRow struct {
	ID        string         `db:"id"`
	Timestamp sql.NullString `db:"timestamp"`
	Source    string         `db:"source"`
	Level     string         `db:"level"`
	Component string         `db:"component"`
	Message   string         `db:"message"`
	Template  string         `db:"template"`
	ClusterID int            `db:"cluster_id"`
}

// ReplaceHistory replaces the training history with events and their
// cluster labels in a single transaction.
func (d *DB) ReplaceHistory(ctx context.Context, events []event.LogEvent, labels []int) error {
	if len(events) != len(labels) {
		return fmt.Errorf("replacing history: %d events but %d labels", len(events), len(labels))
	}

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replacing history: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM history`); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}

	stmt, err := tx.PrepareNamedContext(ctx, `INSERT INTO history
		(id, timestamp, source, level, component, message, template, cluster_id)
		VALUES (:id, :timestamp, :source, :level, :component, :message, :template, :cluster_id)`)
	if err != nil {
		return fmt.Errorf("preparing history insert: %w", err)
	}
	defer stmt.Close()

	for i, ev := range events {
		row := historyRow{
			ID:        ev.ID,
			Timestamp: nullTime(ev.Timestamp),
			Source:    ev.Source,
			Level:     string(ev.Level),
			Component: ev.Component,
			Message:   ev.Message,
			Template:  ev.Template,
			ClusterID: labels[i],
		}
		if _, err := stmt.ExecContext(ctx, row); err != nil {
			return fmt.Errorf("inserting history row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing history: %w", err)
	}
	return nil
}

// HistoryNoise returns the training events that DBSCAN labeled as noise, in
// their original order.
func (d *DB) HistoryNoise(ctx context.Context) ([]event.LogEvent, error) {
	var rows []historyRow
	err := d.db.SelectContext(ctx, &rows, `SELECT id, timestamp, source, level, component, message, template, cluster_id
		FROM history WHERE cluster_id = ? ORDER BY seq`, cluster.Noise)
	if err != nil {
		return nil, fmt.Errorf("querying history noise: %w", err)
	}
	out := make([]event.LogEvent, len(rows))
	for i, r := range rows {
		out[i] = event.LogEvent{
			ID:        r.ID,
			Timestamp: parseTime(r.Timestamp),
			Source:    r.Source,
			Level:     event.Level(r.Level),
			Component: r.Component,
			Message:   r.Message,
			Template:  r.Template,
		}
	}
	return out, nil
}

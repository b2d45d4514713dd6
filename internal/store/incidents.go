package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/setevik/logsentinel/internal/event"
	"github.com/setevik/logsentinel/internal/incident"
)

// Origin tells which event set an incident was aggregated from.
type Origin string

const (
	OriginLive    Origin = "live"
	OriginHistory Origin = "history"
)

// ParseOrigin validates an origin name.
func ParseOrigin(s string) (Origin, error) {
	switch o := Origin(s); o {
	case OriginLive, OriginHistory:
		return o, nil
	default:
		return "", fmt.Errorf("unknown incident origin %q (want live or history)", s)
	}
}

// StoredIncident is an incident together with its bookkeeping columns.
type StoredIncident struct {
	incident.Incident
	Origin    Origin    `json:"origin"`
	Notified  bool      `json:"notified"`
	UpdatedAt time.Time `json:"updated_at"`
}

type incidentRow struct {
	Origin         string `db:"origin"`
	ID             string `db:"id"`
	WindowStart    string `db:"window_start"`
	WindowEnd      string `db:"window_end"`
	StartTime      string `db:"start_time"`
	EndTime        string `db:"end_time"`
	EventCount     int    `db:"event_count"`
	Sources        string `db:"sources"`
	Components     string `db:"components"`
	Levels         string `db:"levels"`
	Samples        string `db:"samples"`
	Score          int    `db:"score"`
	Severity       string `db:"severity"`
	Suppressed     bool   `db:"suppressed"`
	SuppressReason string `db:"suppress_reason"`
	Notified       bool   `db:"notified"`
	UpdatedAt      string `db:"updated_at"`
}

const incidentColumns = `origin, id, window_start, window_end, start_time, end_time, event_count,
	sources, components, levels, samples, score, severity, suppressed, suppress_reason, notified, updated_at`

func toIncidentRow(origin Origin, in incident.Incident, notified bool, now time.Time) (incidentRow, error) {
	sets := make([]string, 4)
	for i, v := range []interface{}{in.Sources, in.Components, in.Levels, in.SampleMessages} {
		b, err := json.Marshal(v)
		if err != nil {
			return incidentRow{}, fmt.Errorf("encoding incident %s: %w", in.ID, err)
		}
		sets[i] = string(b)
	}
	return incidentRow{
		Origin:         string(origin),
		ID:             in.ID,
		WindowStart:    formatTime(in.WindowStart),
		WindowEnd:      formatTime(in.WindowEnd),
		StartTime:      formatTime(in.StartTime),
		EndTime:        formatTime(in.EndTime),
		EventCount:     in.EventCount,
		Sources:        sets[0],
		Components:     sets[1],
		Levels:         sets[2],
		Samples:        sets[3],
		Score:          in.Score,
		Severity:       string(in.Severity),
		Suppressed:     in.Suppressed,
		SuppressReason: string(in.SuppressReason),
		Notified:       notified,
		UpdatedAt:      formatTime(now),
	}, nil
}

func (r incidentRow) incident() StoredIncident {
	si := StoredIncident{
		Incident: incident.Incident{
			ID:             r.ID,
			WindowStart:    mustTime(r.WindowStart),
			WindowEnd:      mustTime(r.WindowEnd),
			StartTime:      mustTime(r.StartTime),
			EndTime:        mustTime(r.EndTime),
			EventCount:     r.EventCount,
			Score:          r.Score,
			Severity:       incident.Severity(r.Severity),
			Suppressed:     r.Suppressed,
			SuppressReason: incident.SuppressReason(r.SuppressReason),
		},
		Origin:    Origin(r.Origin),
		Notified:  r.Notified,
		UpdatedAt: mustTime(r.UpdatedAt),
	}
	decode := func(field, raw string, dst interface{}) {
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			slog.Debug("undecodable incident column", "id", r.ID, "column", field, "error", err)
		}
	}
	var levels []event.Level
	decode("sources", r.Sources, &si.Sources)
	decode("components", r.Components, &si.Components)
	decode("levels", r.Levels, &levels)
	decode("samples", r.Samples, &si.SampleMessages)
	si.Levels = levels
	return si
}

func mustTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// ReplaceIncidents replaces every incident of the given origin. Incidents
// that were already notified keep that flag when they survive the refresh.
func (d *DB) ReplaceIncidents(ctx context.Context, origin Origin, incidents []incident.Incident) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replacing incidents: %w", err)
	}
	defer tx.Rollback()

	var notifiedIDs []string
	if err := tx.SelectContext(ctx, &notifiedIDs,
		`SELECT id FROM incidents WHERE origin = ? AND notified`, origin); err != nil {
		return fmt.Errorf("reading notified incidents: %w", err)
	}
	notified := make(map[string]bool, len(notifiedIDs))
	for _, id := range notifiedIDs {
		notified[id] = true
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM incidents WHERE origin = ?`, origin); err != nil {
		return fmt.Errorf("clearing incidents: %w", err)
	}

	now := time.Now()
	for _, in := range incidents {
		row, err := toIncidentRow(origin, in, notified[in.ID], now)
		if err != nil {
			return err
		}
		if _, err := tx.NamedExecContext(ctx, `INSERT INTO incidents (`+incidentColumns+`)
			VALUES (:origin, :id, :window_start, :window_end, :start_time, :end_time, :event_count,
				:sources, :components, :levels, :samples, :score, :severity, :suppressed,
				:suppress_reason, :notified, :updated_at)`, row); err != nil {
			return fmt.Errorf("inserting incident %s: %w", in.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing incidents: %w", err)
	}
	slog.Debug("incidents replaced", "origin", origin, "count", len(incidents), "kept_notified", len(notified))
	return nil
}

// IncidentFilter controls which incidents are returned by QueryIncidents.
type IncidentFilter struct {
	Origin     Origin
	Severity   incident.Severity
	Suppressed *bool
	Since      time.Time // window start lower bound
	Limit      int
}

// QueryIncidents returns incidents matching the filter, latest window first.
func (d *DB) QueryIncidents(ctx context.Context, f IncidentFilter) ([]StoredIncident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE 1=1`
	var args []interface{}

	if f.Origin != "" {
		query += " AND origin = ?"
		args = append(args, f.Origin)
	}
	if f.Severity != "" {
		query += " AND severity = ?"
		args = append(args, f.Severity)
	}
	if f.Suppressed != nil {
		query += " AND suppressed = ?"
		args = append(args, *f.Suppressed)
	}
	if !f.Since.IsZero() {
		query += " AND window_start >= ?"
		args = append(args, formatTime(f.Since))
	}

	query += " ORDER BY window_start DESC, origin"

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	return d.selectIncidents(ctx, query, args...)
}

// Unnotified returns the actionable incidents of origin that have not been
// sent yet, oldest window first.
func (d *DB) Unnotified(ctx context.Context, origin Origin) ([]StoredIncident, error) {
	return d.selectIncidents(ctx, `SELECT `+incidentColumns+` FROM incidents
		WHERE origin = ? AND NOT suppressed AND NOT notified
		ORDER BY window_start ASC`, origin)
}

// MarkNotified marks an incident as having been sent to ntfy.
func (d *DB) MarkNotified(ctx context.Context, origin Origin, id string) error {
	_, err := d.db.ExecContext(ctx, `UPDATE incidents SET notified = TRUE WHERE origin = ? AND id = ?`, origin, id)
	if err != nil {
		return fmt.Errorf("marking incident %s notified: %w", id, err)
	}
	return nil
}

func (d *DB) selectIncidents(ctx context.Context, query string, args ...interface{}) ([]StoredIncident, error) {
	var rows []incidentRow
	if err := d.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("querying incidents: %w", err)
	}
	out := make([]StoredIncident, len(rows))
	for i, r := range rows {
		out[i] = r.incident()
	}
	return out, nil
}

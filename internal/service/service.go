// Package service ties the classifier, the store and incident aggregation
// together for the online path.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/setevik/logsentinel/internal/classifier"
	"github.com/setevik/logsentinel/internal/event"
	"github.com/setevik/logsentinel/internal/incident"
	"github.com/setevik/logsentinel/internal/metrics"
	"github.com/setevik/logsentinel/internal/store"
)

// Ingest origins, used as metric labels.
const (
	OriginHTTP    = "http"
	OriginWatcher = "watcher"
	OriginInject  = "inject"
)

// Notifier delivers actionable incidents.
type Notifier interface {
	Wants(in incident.Incident) bool
	Report(ctx context.Context, in incident.Incident) error
}

// Options holds the incident tunables used by RefreshIncidents.
type Options struct {
	Aggregate incident.AggregateParams
	Suppress  *incident.Suppressor
	Lookback  time.Duration // how far back live anomalies are aggregated
}

// Service classifies and persists live events. It is safe for concurrent use.
type Service struct {
	cls  *classifier.Classifier
	db   *store.DB
	opts Options
	now  func() time.Time
}

// New creates a Service.
func New(cls *classifier.Classifier, db *store.DB, opts Options) *Service {
	if opts.Suppress == nil {
		opts.Suppress = incident.DefaultSuppressor()
	}
	return &Service{cls: cls, db: db, opts: opts, now: time.Now}
}

// Ingest classifies one event and appends it. The decision is only returned
// once the record is persisted.
func (s *Service) Ingest(ctx context.Context, ev event.LogEvent, origin string) (event.Decision, error) {
	d := s.cls.Classify(ev)
	rec := event.Record{Event: ev, Decision: d, IngestedAt: s.now()}

	if err := s.db.AppendEvent(ctx, rec); err != nil {
		metrics.EventsAppended.WithLabelValues(origin, "error").Inc()
		return event.Decision{}, fmt.Errorf("storing event: %w", err)
	}
	metrics.EventsAppended.WithLabelValues(origin, "ok").Inc()

	if d.IsAnomaly {
		slog.Info("anomaly",
			"id", ev.ID,
			"source", ev.Source,
			"level", ev.Level,
			"component", ev.Component,
			"reason", d.Reason,
		)
	} else {
		slog.Debug("normal event", "id", ev.ID, "reason", d.Reason)
	}
	return d, nil
}

// Classify returns the decision without storing anything.
func (s *Service) Classify(ev event.LogEvent) event.Decision {
	return s.cls.Classify(ev)
}

// RefreshIncidents aggregates the live anomalies inside the lookback window,
// applies suppression and replaces the stored live incidents. The lookback
// start is floored to its window so the oldest window is never partial.
func (s *Service) RefreshIncidents(ctx context.Context) ([]incident.Incident, error) {
	var since time.Time
	if s.opts.Lookback > 0 {
		since = s.now().Add(-s.opts.Lookback)
		if s.opts.Aggregate.Window > 0 {
			since = incident.WindowStart(since, s.opts.Aggregate.Window)
		}
	}
	flagged, err := s.db.Flagged(ctx, since, time.Time{})
	if err != nil {
		return nil, err
	}

	incidents := s.opts.Suppress.Suppress(incident.Aggregate(flagged, s.opts.Aggregate))
	if err := s.db.ReplaceIncidents(ctx, store.OriginLive, incidents); err != nil {
		return nil, err
	}
	RecordIncidents(store.OriginLive, incidents)

	slog.Debug("incidents refreshed",
		"anomalies", len(flagged),
		"incidents", len(incidents),
		"actionable", len(incident.Actionable(incidents)),
	)
	return incidents, nil
}

// Notify reports every actionable live incident that has not been sent yet
// and marks it notified, most severe first. It returns the number sent.
func (s *Service) Notify(ctx context.Context, n Notifier) (int, error) {
	pending, err := s.db.Unnotified(ctx, store.OriginLive)
	if err != nil {
		return 0, err
	}
	slices.SortStableFunc(pending, func(a, b store.StoredIncident) int {
		return b.Severity.Rank() - a.Severity.Rank()
	})

	sent := 0
	for _, si := range pending {
		if !n.Wants(si.Incident) {
			continue
		}
		if err := n.Report(ctx, si.Incident); err != nil {
			slog.Warn("failed to send notification", "incident", si.ID, "error", err)
			continue
		}
		if err := s.db.MarkNotified(ctx, store.OriginLive, si.ID); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// Consume ingests events from a live source until the channel closes or
// the context ends. Failed appends are logged and skipped.
func (s *Service) Consume(ctx context.Context, events <-chan event.LogEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if _, err := s.Ingest(ctx, ev, OriginWatcher); err != nil {
				slog.Error("failed to ingest watched event", "id", ev.ID, "error", err)
			}
		}
	}
}

// Loop refreshes incidents every interval and, when n is non-nil, sends
// notifications for new actionable ones. It returns when ctx ends.
func (s *Service) Loop(ctx context.Context, interval time.Duration, n Notifier) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.RefreshIncidents(ctx); err != nil {
			slog.Error("incident refresh failed", "error", err)
		} else if n != nil {
			if sent, err := s.Notify(ctx, n); err != nil {
				slog.Error("incident notification failed", "error", err)
			} else if sent > 0 {
				slog.Info("incident notifications sent", "count", sent)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RecordIncidents publishes incident counts for origin.
func RecordIncidents(origin store.Origin, incidents []incident.Incident) {
	counts := make(map[[2]string]int)
	for _, sev := range []incident.Severity{incident.SeverityLow, incident.SeverityMedium, incident.SeverityHigh} {
		for _, sup := range []bool{false, true} {
			counts[[2]string{string(sev), strconv.FormatBool(sup)}] = 0
		}
	}
	for _, in := range incidents {
		counts[[2]string{string(in.Severity), strconv.FormatBool(in.Suppressed)}]++
	}
	for k, v := range counts {
		metrics.Incidents.WithLabelValues(string(origin), k[0], k[1]).Set(float64(v))
	}
}

package incident

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/setevik/logsentinel/internal/event"
)

// incidentNamespace scopes the name-based incident IDs.
var incidentNamespace = uuid.MustParse("6f0d3b0e-4a8e-4d59-9a53-3f1f0c2a9b71")

// AggregateParams controls windowing.
type AggregateParams struct {
	Window     time.Duration // bucket size, aligned to the Unix epoch
	MinEvents  int           // windows with fewer anomalies are dropped
	SampleSize int           // messages kept per incident
}

// DefaultAggregateParams returns 10-minute windows of at least 2 events.
func DefaultAggregateParams() AggregateParams {
	return AggregateParams{
		Window:     10 * time.Minute,
		MinEvents:  2,
		SampleSize: 5,
	}
}

// Aggregate groups anomalous events into epoch-aligned windows. Entries whose
// decision is not an anomaly, and entries with an unknown timestamp, are
// ignored. The result is ordered by window and is identical for identical
// input.
func Aggregate(flagged []Flagged, p AggregateParams) []Incident {
	if p.Window <= 0 {
		p.Window = DefaultAggregateParams().Window
	}
	if p.SampleSize <= 0 {
		p.SampleSize = DefaultAggregateParams().SampleSize
	}

	anomalies := make([]event.LogEvent, 0, len(flagged))
	untimed := 0
	for _, f := range flagged {
		if !f.Decision.IsAnomaly {
			continue
		}
		if !f.Event.HasTimestamp() {
			untimed++
			continue
		}
		anomalies = append(anomalies, f.Event)
	}
	if untimed > 0 {
		slog.Warn("skipping anomalies without timestamp", "count", untimed)
	}

	sort.SliceStable(anomalies, func(i, j int) bool {
		return anomalies[i].Timestamp.Before(anomalies[j].Timestamp)
	})

	var incidents []Incident
	for i := 0; i < len(anomalies); {
		start := WindowStart(anomalies[i].Timestamp, p.Window)
		j := i + 1
		for j < len(anomalies) && WindowStart(anomalies[j].Timestamp, p.Window).Equal(start) {
			j++
		}
		group := anomalies[i:j]
		i = j

		if len(group) < p.MinEvents {
			continue
		}
		incidents = append(incidents, build(start, p, group))
	}

	slog.Debug("aggregation complete",
		"anomalies", len(anomalies),
		"incidents", len(incidents),
		"window", p.Window,
		"min_events", p.MinEvents,
	)
	return incidents
}

// WindowStart floors ts to the start of its window, counting whole windows
// from the Unix epoch in UTC.
func WindowStart(ts time.Time, window time.Duration) time.Time {
	ns := ts.UnixNano()
	w := int64(window)
	q := ns / w
	if ns%w < 0 {
		q--
	}
	return time.Unix(0, q*w).UTC()
}

// group is sorted by timestamp and non-empty.
func build(start time.Time, p AggregateParams, group []event.LogEvent) Incident {
	sources := make(map[string]struct{})
	components := make(map[string]struct{})
	levels := make(map[event.Level]struct{})
	for _, ev := range group {
		sources[ev.Source] = struct{}{}
		components[ev.Component] = struct{}{}
		levels[event.NormalizeLevel(string(ev.Level))] = struct{}{}
	}

	samples := make([]string, 0, min(p.SampleSize, len(group)))
	for _, ev := range group[:min(p.SampleSize, len(group))] {
		samples = append(samples, ev.Message)
	}

	in := Incident{
		ID:             uuid.NewSHA1(incidentNamespace, []byte(start.Format(time.RFC3339Nano)+"/"+p.Window.String())).String(),
		WindowStart:    start,
		WindowEnd:      start.Add(p.Window),
		StartTime:      group[0].Timestamp,
		EndTime:        group[len(group)-1].Timestamp,
		EventCount:     len(group),
		Sources:        sortedKeys(sources),
		Components:     sortedKeys(components),
		SampleMessages: samples,
	}
	in.Levels = sortedKeys(levels)
	in.Score = Score(in.EventCount, in.Levels)
	in.Severity = SeverityFor(in.Score)
	return in
}

// Score is the event count plus 5 when the window has an ERROR, otherwise
// plus 3 when it has a WARN.
func Score(count int, levels []event.Level) int {
	in := Incident{Levels: levels}
	switch {
	case in.HasLevel(event.LevelError):
		return count + 5
	case in.HasLevel(event.LevelWarn):
		return count + 3
	default:
		return count
	}
}

// SeverityFor maps a score to a label: >=10 HIGH, >=5 MEDIUM, otherwise LOW.
func SeverityFor(score int) Severity {
	switch {
	case score >= 10:
		return SeverityHigh
	case score >= 5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func sortedKeys[K ~string](m map[K]struct{}) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func upper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/setevik/logsentinel/internal/cluster"
	"github.com/setevik/logsentinel/internal/event"
	"github.com/setevik/logsentinel/internal/incident"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func makeRecord(ts time.Time, level, source, msg string, d event.Decision) event.Record {
	return event.Record{
		Event:      event.New(ts, source, level, "web", msg, ""),
		Decision:   d,
		IngestedAt: time.Now(),
	}
}

func TestAppendAndQuery(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	ts := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)

	rec := makeRecord(ts, "ERROR", "api", "database timeout", event.ErrorLevel())
	if err := db.AppendEvent(ctx, rec); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	got, err := db.QueryEvents(ctx, EventFilter{Limit: 10})
	if err != nil {
		t.Fatalf("QueryEvents: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	r := got[0]
	if r.Event.ID != rec.Event.ID {
		t.Errorf("ID = %q, want %q", r.Event.ID, rec.Event.ID)
	}
	if !r.Event.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", r.Event.Timestamp, ts)
	}
	if r.Event.Level != event.LevelError || r.Event.Source != "api" || r.Event.Message != "database timeout" {
		t.Errorf("event = %+v", r.Event)
	}
	if r.Decision != event.ErrorLevel() {
		t.Errorf("Decision = %+v", r.Decision)
	}
}

func TestAppendRejectsDuplicateAndMissingID(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	rec := makeRecord(time.Now(), "INFO", "api", "ok", event.NormalDistance(0.1))
	if err := db.AppendEvent(ctx, rec); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if err := db.AppendEvent(ctx, rec); err == nil {
		t.Error("appending the same id twice should fail")
	}
	rec.Event.ID = ""
	if err := db.AppendEvent(ctx, rec); err == nil {
		t.Error("missing id should fail")
	}
}

func TestUnknownTimestampStoredAsNull(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	rec := makeRecord(time.Time{}, "WARN", "api", "no time", event.UnseenTemplate())
	if err := db.AppendEvent(ctx, rec); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	var n int
	if err := db.db.Get(&n, `SELECT COUNT(*) FROM events WHERE timestamp IS NULL`); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("NULL timestamps = %d, want 1", n)
	}

	all, err := db.AllEvents(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].Event.HasTimestamp() {
		t.Errorf("read back = %+v", all)
	}

	// Untimed anomalies never reach aggregation.
	flagged, err := db.Flagged(ctx, time.Time{}, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(flagged) != 0 {
		t.Errorf("Flagged = %d, want 0", len(flagged))
	}
}

func TestQueryEventsFilters(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	recs := []event.Record{
		makeRecord(now.Add(-3*time.Hour), "ERROR", "api", "a", event.ErrorLevel()),
		makeRecord(now.Add(-2*time.Hour), "INFO", "api", "b", event.NormalDistance(0.1)),
		makeRecord(now.Add(-1*time.Hour), "WARN", "worker", "c", event.SemanticDistance(0.9)),
		makeRecord(now.Add(-30*time.Minute), "INFO", "worker", "d", event.NormalDistance(0.2)),
	}
	for _, r := range recs {
		if err := db.AppendEvent(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	yes, no := true, false
	tests := []struct {
		name   string
		filter EventFilter
		want   []string
	}{
		{"all newest first", EventFilter{}, []string{"d", "c", "b", "a"}},
		{"anomalies", EventFilter{Anomaly: &yes}, []string{"c", "a"}},
		{"normal", EventFilter{Anomaly: &no}, []string{"d", "b"}},
		{"level", EventFilter{Level: "warning"}, []string{"c"}},
		{"source", EventFilter{Source: "api"}, []string{"b", "a"}},
		{"since", EventFilter{Since: now.Add(-90 * time.Minute)}, []string{"d", "c"}},
		{"until", EventFilter{Until: now.Add(-150 * time.Minute)}, []string{"a"}},
		{"limit", EventFilter{Limit: 1}, []string{"d"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.QueryEvents(ctx, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			var msgs []string
			for _, r := range got {
				msgs = append(msgs, r.Event.Message)
			}
			if fmt.Sprint(msgs) != fmt.Sprint(tt.want) {
				t.Errorf("messages = %v, want %v", msgs, tt.want)
			}
		})
	}

	flagged, err := db.Flagged(ctx, now.Add(-4*time.Hour), now)
	if err != nil {
		t.Fatal(err)
	}
	if len(flagged) != 2 || flagged[0].Event.Message != "a" || !flagged[0].Decision.IsAnomaly {
		t.Errorf("Flagged = %+v", flagged)
	}
}

func TestTimestampOrderingWithFractionalSeconds(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 0, 0, 5, 0, time.UTC)

	// Stored out of order on purpose.
	for _, r := range []event.Record{
		makeRecord(ts.Add(500*time.Millisecond), "INFO", "api", "later", event.NormalDistance(0)),
		makeRecord(ts, "INFO", "api", "earlier", event.NormalDistance(0)),
	} {
		if err := db.AppendEvent(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	all, err := db.AllEvents(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if all[0].Event.Message != "earlier" {
		t.Errorf("AllEvents order = %s, %s", all[0].Event.Message, all[1].Event.Message)
	}
}

func TestConcurrentAppends(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	const writers, perWriter = 8, 25
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				rec := makeRecord(time.Now(), "INFO", fmt.Sprintf("w%d", w), fmt.Sprintf("msg %d", i), event.NormalDistance(0))
				if err := db.AppendEvent(ctx, rec); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("AppendEvent: %v", err)
	}

	n, err := db.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != writers*perWriter {
		t.Errorf("Count = %d, want %d", n, writers*perWriter)
	}
}

func TestPurge(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	old := makeRecord(time.Now().Add(-48*time.Hour), "INFO", "api", "old", event.NormalDistance(0))
	recent := makeRecord(time.Now().Add(-1*time.Hour), "INFO", "api", "recent", event.NormalDistance(0))
	for _, r := range []event.Record{old, recent} {
		if err := db.AppendEvent(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	purged, err := db.Purge(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}
	n, _ := db.Count(ctx)
	if n != 1 {
		t.Errorf("remaining = %d, want 1", n)
	}
}

func TestHistory(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	ts := time.Date(2008, 11, 9, 21, 0, 0, 0, time.UTC)

	events := []event.LogEvent{
		event.New(ts, "hdfs", "INFO", "dfs.DataNode", "a", ""),
		event.New(ts.Add(time.Second), "hdfs", "WARN", "dfs.DataNode", "b", ""),
		event.New(time.Time{}, "hdfs", "INFO", "dfs.DataNode", "c", ""),
	}
	if err := db.ReplaceHistory(ctx, events, []int{0, cluster.Noise, cluster.Noise}); err != nil {
		t.Fatalf("ReplaceHistory: %v", err)
	}
	noise, err := db.HistoryNoise(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(noise) != 2 || noise[0].Message != "b" || noise[1].HasTimestamp() {
		t.Errorf("noise = %+v", noise)
	}

	// A second replace discards the first history.
	if err := db.ReplaceHistory(ctx, events[:1], []int{cluster.Noise}); err != nil {
		t.Fatal(err)
	}
	noise, _ = db.HistoryNoise(ctx)
	if len(noise) != 1 || noise[0].Message != "a" {
		t.Errorf("noise after replace = %+v", noise)
	}

	if err := db.ReplaceHistory(ctx, events, []int{0}); err == nil {
		t.Error("mismatched labels should fail")
	}
}

func testIncidents() []incident.Incident {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return []incident.Incident{
		{
			ID: "i1", WindowStart: start, WindowEnd: start.Add(10 * time.Minute),
			StartTime: start.Add(time.Minute), EndTime: start.Add(2 * time.Minute),
			EventCount: 3, Sources: []string{"api"}, Components: []string{"web"},
			Levels: []event.Level{event.LevelError}, SampleMessages: []string{"x", "y"},
			Score: 8, Severity: incident.SeverityMedium,
		},
		{
			ID: "i2", WindowStart: start.Add(10 * time.Minute), WindowEnd: start.Add(20 * time.Minute),
			StartTime: start.Add(11 * time.Minute), EndTime: start.Add(12 * time.Minute),
			EventCount: 2, Levels: []event.Level{event.LevelInfo},
			Score: 2, Severity: incident.SeverityLow,
			Suppressed: true, SuppressReason: incident.ReasonInfoOnlyLow,
		},
	}
}

func TestIncidentsRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	want := testIncidents()

	if err := db.ReplaceIncidents(ctx, OriginLive, want); err != nil {
		t.Fatalf("ReplaceIncidents: %v", err)
	}
	got, err := db.QueryIncidents(ctx, IncidentFilter{Origin: OriginLive})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("incidents = %d, want 2", len(got))
	}
	// Latest window first.
	in := got[1]
	if in.ID != "i1" || in.Origin != OriginLive || in.Score != 8 || in.Severity != incident.SeverityMedium {
		t.Errorf("incident = %+v", in)
	}
	if !in.WindowStart.Equal(want[0].WindowStart) || !in.EndTime.Equal(want[0].EndTime) {
		t.Errorf("times = %v / %v", in.WindowStart, in.EndTime)
	}
	if fmt.Sprint(in.SampleMessages) != "[x y]" || fmt.Sprint(in.Levels) != "[ERROR]" {
		t.Errorf("sets = %v %v", in.SampleMessages, in.Levels)
	}
	if got[0].SuppressReason != incident.ReasonInfoOnlyLow || !got[0].Suppressed {
		t.Errorf("suppression = %v %q", got[0].Suppressed, got[0].SuppressReason)
	}

	no := false
	actionable, _ := db.QueryIncidents(ctx, IncidentFilter{Suppressed: &no})
	if len(actionable) != 1 {
		t.Errorf("actionable = %d, want 1", len(actionable))
	}
	high, _ := db.QueryIncidents(ctx, IncidentFilter{Severity: incident.SeverityHigh})
	if len(high) != 0 {
		t.Errorf("high = %d, want 0", len(high))
	}
}

func TestReplaceIncidentsKeepsNotified(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	incidents := testIncidents()

	if err := db.ReplaceIncidents(ctx, OriginLive, incidents); err != nil {
		t.Fatal(err)
	}
	pending, err := db.Unnotified(ctx, OriginLive)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != "i1" {
		t.Fatalf("Unnotified = %+v", pending)
	}
	if err := db.MarkNotified(ctx, OriginLive, "i1"); err != nil {
		t.Fatal(err)
	}

	// Refresh with the same incident plus a grown count.
	incidents[0].EventCount = 4
	if err := db.ReplaceIncidents(ctx, OriginLive, incidents); err != nil {
		t.Fatal(err)
	}
	pending, _ = db.Unnotified(ctx, OriginLive)
	if len(pending) != 0 {
		t.Errorf("notified incident resurfaced: %+v", pending)
	}

	// History incidents are independent from live ones.
	if err := db.ReplaceIncidents(ctx, OriginHistory, incidents[:1]); err != nil {
		t.Fatal(err)
	}
	pending, _ = db.Unnotified(ctx, OriginHistory)
	if len(pending) != 1 {
		t.Errorf("history unnotified = %d, want 1", len(pending))
	}

	stats, err := db.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Incidents != 3 {
		t.Errorf("Stats.Incidents = %d, want 3", stats.Incidents)
	}
}

func TestParseOrigin(t *testing.T) {
	if o, err := ParseOrigin("history"); err != nil || o != OriginHistory {
		t.Errorf("ParseOrigin(history) = %q, %v", o, err)
	}
	if _, err := ParseOrigin("nope"); err == nil {
		t.Error("unknown origin should fail")
	}
}

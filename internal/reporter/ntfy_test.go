package reporter

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/setevik/logsentinel/internal/config"
	"github.com/setevik/logsentinel/internal/event"
	"github.com/setevik/logsentinel/internal/incident"
)

func sampleIncident() incident.Incident {
	start := time.Date(2008, 11, 9, 21, 0, 0, 0, time.UTC)
	return incident.Incident{
		ID:             "inc-1",
		WindowStart:    start,
		WindowEnd:      start.Add(10 * time.Minute),
		StartTime:      start,
		EndTime:        start.Add(100 * time.Second),
		EventCount:     6,
		Sources:        []string{"hdfs"},
		Components:     []string{"dfs.DataNode"},
		Levels:         []event.Level{event.LevelError},
		SampleMessages: []string{"Disk failure detected on DataNode"},
		Score:          11,
		Severity:       incident.SeverityHigh,
	}
}

func TestFormatTitle(t *testing.T) {
	title := FormatTitle("hadoop-prod", sampleIncident())
	if !strings.Contains(title, "[hadoop-prod]") {
		t.Errorf("title should contain instance ID, got %q", title)
	}
	if !strings.Contains(title, "HIGH incident: 6 events") {
		t.Errorf("title should contain severity and count, got %q", title)
	}
}

func TestFormatBody(t *testing.T) {
	body := FormatBody(sampleIncident())
	checks := []string{
		"Window: 2008-11-09 21:00:00 UTC - 21:10:00 UTC",
		"First/last: 21:00:00 / 21:01:40 (1m)",
		"Score: 11",
		"Sources: hdfs",
		"Components: dfs.DataNode",
		"Levels: ERROR",
		"- Disk failure detected on DataNode",
	}
	for _, c := range checks {
		if !strings.Contains(body, c) {
			t.Errorf("body missing %q\n%s", c, body)
		}
	}
}

func TestTagsForSeverity(t *testing.T) {
	if tags := TagsForSeverity(incident.SeverityHigh); tags != "rotating_light,incident" {
		t.Errorf("HIGH tags = %q", tags)
	}
	if tags := TagsForSeverity(incident.SeverityLow); tags != "incident" {
		t.Errorf("LOW tags = %q", tags)
	}
}

func TestNtfyReporterSend(t *testing.T) {
	var receivedTitle, receivedPriority, receivedTags, receivedBody string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedTitle = r.Header.Get("Title")
		receivedPriority = r.Header.Get("Priority")
		receivedTags = r.Header.Get("Tags")
		b, _ := io.ReadAll(r.Body)
		receivedBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Instance.ID = "testhost"
	cfg.Ntfy.URL = server.URL

	rep := NewNtfy(cfg)
	if err := rep.Report(context.Background(), sampleIncident()); err != nil {
		t.Fatalf("Report() error: %v", err)
	}

	if !strings.Contains(receivedTitle, "[testhost] HIGH incident") {
		t.Errorf("ntfy title = %q", receivedTitle)
	}
	if receivedPriority != "urgent" {
		t.Errorf("ntfy priority = %q, want %q", receivedPriority, "urgent")
	}
	if receivedTags != "rotating_light,incident" {
		t.Errorf("ntfy tags = %q", receivedTags)
	}
	if !strings.Contains(receivedBody, "Disk failure") {
		t.Errorf("ntfy body should contain samples, got %q", receivedBody)
	}
}

func TestNtfyReporterSkips(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Ntfy.URL = server.URL
	cfg.Ntfy.AlertSeverities = []string{"HIGH"}
	rep := NewNtfy(cfg)

	medium := sampleIncident()
	medium.Severity = incident.SeverityMedium
	suppressed := sampleIncident()
	suppressed.Suppressed = true

	for _, in := range []incident.Incident{medium, suppressed} {
		if err := rep.Report(context.Background(), in); err != nil {
			t.Fatalf("Report() error: %v", err)
		}
	}
	if called {
		t.Error("ntfy should not have been called")
	}
}

func TestNtfyReporterErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Ntfy.URL = server.URL
	if err := NewNtfy(cfg).Report(context.Background(), sampleIncident()); err == nil {
		t.Error("expected error for 429 response")
	}
}

func TestNtfyReporterNoURL(t *testing.T) {
	cfg := config.Default()
	cfg.Ntfy.URL = ""

	rep := NewNtfy(cfg)
	if rep.Enabled() {
		t.Error("reporter without URL should be disabled")
	}
	if err := rep.Report(context.Background(), sampleIncident()); err != nil {
		t.Fatalf("Report() with no URL should not error, got: %v", err)
	}
}

func TestTestIncidentIsAlertable(t *testing.T) {
	cfg := config.Default()
	cfg.Ntfy.URL = "http://example.invalid"
	in := (&TestIncident{InstanceID: "box"}).ToIncident()
	if !NewNtfy(cfg).Wants(in) {
		t.Errorf("test incident should be alertable: %+v", in)
	}
}

package incident

import (
	"testing"

	"github.com/setevik/logsentinel/internal/event"
)

func TestSuppressRules(t *testing.T) {
	tests := []struct {
		name   string
		in     Incident
		reason SuppressReason
	}{
		{
			name:   "info only low",
			in:     Incident{EventCount: 4, Severity: SeverityLow, Levels: []event.Level{event.LevelInfo}},
			reason: ReasonInfoOnlyLow,
		},
		{
			name: "benign maintenance",
			in: Incident{
				EventCount:     4,
				Severity:       SeverityLow,
				Levels:         []event.Level{event.LevelInfo, event.LevelWarn},
				Components:     []string{"dfs.FSNamesystem"},
				SampleMessages: []string{"BLOCK* NameSystem.delete: blk_1 is added to invalidSet"},
			},
			reason: ReasonBenignMaintenance,
		},
		{
			name: "maintenance component without keyword",
			in: Incident{
				EventCount:     4,
				Severity:       SeverityLow,
				Levels:         []event.Level{event.LevelWarn},
				Components:     []string{"dfs.FSNamesystem"},
				SampleMessages: []string{"lease expired"},
			},
		},
		{
			name: "maintenance but not low",
			in: Incident{
				EventCount:     4,
				Severity:       SeverityMedium,
				Levels:         []event.Level{event.LevelWarn},
				Components:     []string{"dfs.FSNamesystem"},
				SampleMessages: []string{"replicate blk_2"},
			},
		},
		{
			name:   "below floor despite high severity",
			in:     Incident{EventCount: 2, Severity: SeverityHigh, Levels: []event.Level{event.LevelError}},
			reason: ReasonBelowFloor,
		},
		{
			name: "actionable",
			in:   Incident{EventCount: 3, Severity: SeverityMedium, Levels: []event.Level{event.LevelError}},
		},
		{
			name:   "first matching rule is recorded",
			in:     Incident{EventCount: 2, Severity: SeverityLow, Levels: []event.Level{event.LevelInfo}},
			reason: ReasonInfoOnlyLow,
		},
	}
	s := DefaultSuppressor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := s.Suppress([]Incident{tt.in})
			if out[0].SuppressReason != tt.reason {
				t.Errorf("reason = %q, want %q", out[0].SuppressReason, tt.reason)
			}
			if out[0].Suppressed != (tt.reason != "") {
				t.Errorf("Suppressed = %v with reason %q", out[0].Suppressed, out[0].SuppressReason)
			}
		})
	}
}

func TestSuppressInfoOnlyPair(t *testing.T) {
	flagged := []Flagged{
		flag(0, "INFO", "dfs.DataNode", "Receiving block"),
		flag(1, "INFO", "dfs.DataNode", "Receiving block"),
	}
	got := DefaultSuppressor().Suppress(Aggregate(flagged, DefaultAggregateParams()))
	if len(got) != 1 {
		t.Fatalf("incidents = %d, want 1", len(got))
	}
	if got[0].Severity != SeverityLow || !got[0].Suppressed {
		t.Errorf("severity=%s suppressed=%v, want LOW suppressed", got[0].Severity, got[0].Suppressed)
	}
	if len(Actionable(got)) != 0 {
		t.Error("suppressed incident should not be actionable")
	}
}

func TestSuppressDoesNotModifyInput(t *testing.T) {
	in := []Incident{{
		EventCount:     1,
		Severity:       SeverityLow,
		Levels:         []event.Level{event.LevelInfo},
		SampleMessages: []string{"x"},
	}}
	out := DefaultSuppressor().Suppress(in)
	if in[0].Suppressed || in[0].SuppressReason != "" {
		t.Error("input incident was modified")
	}
	out[0].SampleMessages[0] = "changed"
	if in[0].SampleMessages[0] != "x" {
		t.Error("output shares sample slice with input")
	}

	// Re-suppressing an already suppressed incident yields the same verdict.
	again := DefaultSuppressor().Suppress(out)
	if again[0].SuppressReason != out[0].SuppressReason {
		t.Errorf("reason changed: %q -> %q", out[0].SuppressReason, again[0].SuppressReason)
	}
}

func TestSummarize(t *testing.T) {
	incidents := []Incident{
		{EventCount: 5, Severity: SeverityHigh},
		{EventCount: 3, Severity: SeverityMedium},
		{EventCount: 2, Severity: SeverityLow, Suppressed: true},
	}
	s := Summarize(incidents)
	if s.Total != 3 || s.Suppressed != 1 || s.Events != 8 {
		t.Errorf("summary = %+v", s)
	}
	if s.BySeverity[SeverityHigh] != 1 || s.BySeverity[SeverityLow] != 0 {
		t.Errorf("by severity = %v", s.BySeverity)
	}
}

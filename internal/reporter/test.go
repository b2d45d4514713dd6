package reporter

import (
	"time"

	"github.com/setevik/logsentinel/internal/event"
	"github.com/setevik/logsentinel/internal/incident"
)

// TestIncident creates a synthetic incident for testing ntfy connectivity.
type TestIncident struct {
	InstanceID string
}

// ToIncident converts a TestIncident to an actionable HIGH incident suitable
// for Report().
func (t *TestIncident) ToIncident() incident.Incident {
	now := time.Now()
	start := incident.WindowStart(now, 10*time.Minute)
	return incident.Incident{
		ID:          "test-" + now.Format("20060102-150405"),
		WindowStart: start,
		WindowEnd:   start.Add(10 * time.Minute),
		StartTime:   now,
		EndTime:     now,
		EventCount:  6,
		Sources:     []string{"logsentinel"},
		Components:  []string{"test-ntfy"},
		Levels:      []event.Level{event.LevelError},
		SampleMessages: []string{
			"Test notification from logsentinel on " + t.InstanceID,
			"If you see this, logsentinel is configured correctly.",
		},
		Score:    11,
		Severity: incident.SeverityHigh,
	}
}

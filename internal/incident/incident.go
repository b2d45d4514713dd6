// Package incident groups anomalous events into fixed time windows, scores
// each window and filters out low-signal windows.
package incident

import (
	"time"

	"github.com/setevik/logsentinel/internal/event"
)

// Severity is the label derived from an incident's score.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// ParseSeverity upper-cases s and checks it is a known severity.
func ParseSeverity(s string) (Severity, bool) {
	switch sev := Severity(upper(s)); sev {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return sev, true
	default:
		return "", false
	}
}

// Label returns a human-readable label for the severity.
func (s Severity) Label() string {
	switch s {
	case SeverityHigh:
		return "High"
	case SeverityMedium:
		return "Medium"
	case SeverityLow:
		return "Low"
	default:
		return string(s)
	}
}

// Rank orders severities from LOW (1) to HIGH (3); unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	default:
		return 0
	}
}

// Flagged is an event paired with the decision the classifier made for it.
type Flagged struct {
	Event    event.LogEvent
	Decision event.Decision
}

// Incident aggregates the anomalous events of one time window.
type Incident struct {
	ID             string         `json:"id"`
	WindowStart    time.Time      `json:"window_start"` // bucket bounds
	WindowEnd      time.Time      `json:"window_end"`
	StartTime      time.Time      `json:"start_time"` // first and last event in the bucket
	EndTime        time.Time      `json:"end_time"`
	EventCount     int            `json:"event_count"`
	Sources        []string       `json:"sources"`
	Components     []string       `json:"components"`
	Levels         []event.Level  `json:"levels"`
	SampleMessages []string       `json:"sample_messages"`
	Score          int            `json:"severity_score"`
	Severity       Severity       `json:"severity"`
	Suppressed     bool           `json:"is_suppressed"`
	SuppressReason SuppressReason `json:"suppress_reason,omitempty"`
}

// HasLevel reports whether any event of the incident had the given level.
func (in Incident) HasLevel(l event.Level) bool {
	for _, x := range in.Levels {
		if event.NormalizeLevel(string(x)) == l {
			return true
		}
	}
	return false
}

// HasComponent reports whether any event of the incident came from component.
func (in Incident) HasComponent(component string) bool {
	for _, c := range in.Components {
		if c == component {
			return true
		}
	}
	return false
}

// Duration is the time between the first and last event.
func (in Incident) Duration() time.Duration {
	return in.EndTime.Sub(in.StartTime)
}

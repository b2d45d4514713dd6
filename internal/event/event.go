// Package event defines the core data model for logsentinel: log events,
// anomaly decisions and the persisted record pairing the two.
package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Level is the normalized severity of a log event.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// NormalizeLevel trims and upper-cases a raw level string. WARNING is folded
// into WARN; other values (NOTICE, DEBUG, ...) are kept as-is.
func NormalizeLevel(s string) Level {
	l := strings.ToUpper(strings.TrimSpace(s))
	if l == "WARNING" {
		return LevelWarn
	}
	return Level(l)
}

// Label returns a human-readable label for the level.
func (l Level) Label() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warning"
	case LevelError:
		return "error"
	case "":
		return "unknown"
	default:
		return strings.ToLower(string(l))
	}
}

// LogEvent is a single normalized log line. A zero Timestamp means the
// timestamp was missing or could not be parsed.
type LogEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Level     Level     `json:"level"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
	Template  string    `json:"template"`
}

// New creates a LogEvent with a generated UUID. The template defaults to the
// raw message when empty.
func New(ts time.Time, source, level, component, message, template string) LogEvent {
	if template == "" {
		template = message
	}
	return LogEvent{
		ID:        uuid.NewString(),
		Timestamp: ts,
		Source:    source,
		Level:     NormalizeLevel(level),
		Component: component,
		Message:   message,
		Template:  template,
	}
}

// HasTimestamp reports whether the event carries a known timestamp.
func (e LogEvent) HasTimestamp() bool {
	return !e.Timestamp.IsZero()
}

// Reason tags for anomaly decisions that are not distance based.
const (
	ReasonErrorLevel     = "ERROR_level"
	ReasonUnseenTemplate = "unseen_template"
)

// Distance reason prefixes.
const (
	semanticDistancePrefix = "semantic_distance="
	normalDistancePrefix   = "normal_distance="
)

// Decision is the outcome of classifying one event. Every decision carries
// exactly one reason.
type Decision struct {
	IsAnomaly bool   `json:"is_anomaly"`
	Reason    string `json:"reason"`
}

// ErrorLevel is the decision for the severity override rule.
func ErrorLevel() Decision {
	return Decision{IsAnomaly: true, Reason: ReasonErrorLevel}
}

// UnseenTemplate is the decision for templates missing from the baseline.
func UnseenTemplate() Decision {
	return Decision{IsAnomaly: true, Reason: ReasonUnseenTemplate}
}

// SemanticDistance is the anomaly decision for a template too far from the
// normal centroid.
func SemanticDistance(d float64) Decision {
	return Decision{IsAnomaly: true, Reason: fmt.Sprintf("%s%.3f", semanticDistancePrefix, d)}
}

// NormalDistance is the normal decision, recording the distance observed.
func NormalDistance(d float64) Decision {
	return Decision{IsAnomaly: false, Reason: fmt.Sprintf("%s%.3f", normalDistancePrefix, d)}
}

// Rule returns the name of the rule that produced the decision: "error_level",
// "unseen_template", "semantic_distance" or "normal".
func (d Decision) Rule() string {
	switch {
	case d.Reason == ReasonErrorLevel:
		return "error_level"
	case d.Reason == ReasonUnseenTemplate:
		return "unseen_template"
	case strings.HasPrefix(d.Reason, semanticDistancePrefix):
		return "semantic_distance"
	case strings.HasPrefix(d.Reason, normalDistancePrefix):
		return "normal"
	default:
		return "unknown"
	}
}

// Label returns a short human-readable label for the decision.
func (d Decision) Label() string {
	if d.IsAnomaly {
		return "ANOMALY"
	}
	return "normal"
}

// Record is an event paired with its decision, as persisted in the live
// event log. Records are append-only.
type Record struct {
	Event      LogEvent  `json:"event"`
	Decision   Decision  `json:"decision"`
	IngestedAt time.Time `json:"ingested_at"`
}

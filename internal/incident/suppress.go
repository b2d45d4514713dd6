package incident

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/setevik/logsentinel/internal/event"
)

// SuppressReason names the rule that suppressed an incident.
type SuppressReason string

const (
	ReasonInfoOnlyLow       SuppressReason = "info_only_low"
	ReasonBenignMaintenance SuppressReason = "benign_maintenance"
	ReasonBelowFloor        SuppressReason = "below_floor"
)

// Suppressor hides incidents that are unlikely to need a human.
type Suppressor struct {
	Floor                 int      // incidents with fewer events are suppressed
	MaintenanceComponents []string // components doing routine housekeeping
	BenignKeywords        []string // matched case-insensitively against samples
}

// DefaultSuppressor returns the rules tuned for HDFS maintenance chatter.
func DefaultSuppressor() *Suppressor {
	return &Suppressor{
		Floor:                 3,
		MaintenanceComponents: []string{"dfs.FSNamesystem"},
		BenignKeywords:        []string{"delete", "replicate", "block"},
	}
}

// Suppress returns a copy of incidents with Suppressed and SuppressReason
// set. The input slice is not modified.
func (s *Suppressor) Suppress(incidents []Incident) []Incident {
	out := make([]Incident, len(incidents))
	suppressed := 0
	for i, in := range incidents {
		in.Sources = slices.Clone(in.Sources)
		in.Components = slices.Clone(in.Components)
		in.Levels = slices.Clone(in.Levels)
		in.SampleMessages = slices.Clone(in.SampleMessages)

		in.SuppressReason = s.reason(in)
		in.Suppressed = in.SuppressReason != ""
		if in.Suppressed {
			suppressed++
		}
		out[i] = in
	}
	slog.Debug("suppression complete", "incidents", len(out), "suppressed", suppressed)
	return out
}

// reason returns the first matching rule, or "" if the incident is kept.
func (s *Suppressor) reason(in Incident) SuppressReason {
	if in.Severity == SeverityLow && infoOnly(in.Levels) {
		return ReasonInfoOnlyLow
	}
	if in.Severity == SeverityLow && s.maintenance(in) {
		return ReasonBenignMaintenance
	}
	if in.EventCount < s.Floor {
		return ReasonBelowFloor
	}
	return ""
}

func infoOnly(levels []event.Level) bool {
	if len(levels) == 0 {
		return false
	}
	for _, l := range levels {
		if event.NormalizeLevel(string(l)) != event.LevelInfo {
			return false
		}
	}
	return true
}

func (s *Suppressor) maintenance(in Incident) bool {
	hit := false
	for _, c := range s.MaintenanceComponents {
		if in.HasComponent(c) {
			hit = true
			break
		}
	}
	if !hit {
		return false
	}
	text := strings.ToLower(strings.Join(in.SampleMessages, " "))
	for _, kw := range s.BenignKeywords {
		if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Actionable returns the incidents that were not suppressed.
func Actionable(incidents []Incident) []Incident {
	var out []Incident
	for _, in := range incidents {
		if !in.Suppressed {
			out = append(out, in)
		}
	}
	return out
}

// Summary counts incidents by severity.
type Summary struct {
	Total      int
	Suppressed int
	BySeverity map[Severity]int // actionable only
	Events     int              // events across actionable incidents
}

// Summarize counts incidents by severity and suppression.
func Summarize(incidents []Incident) Summary {
	s := Summary{BySeverity: make(map[Severity]int)}
	for _, in := range incidents {
		s.Total++
		if in.Suppressed {
			s.Suppressed++
			continue
		}
		s.BySeverity[in.Severity]++
		s.Events += in.EventCount
	}
	return s
}

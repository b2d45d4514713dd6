package reporter

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/setevik/logsentinel/internal/incident"
)

// DigestSummary holds aggregated incident counts for a digest period.
type DigestSummary struct {
	InstanceID string
	Since      time.Time
	Until      time.Time

	Total        int
	Actionable   int
	Events       int // events inside actionable incidents
	BySeverity   map[incident.Severity]int
	Suppressed   int
	SuppressedBy map[string]int // reason -> count
	Components   map[string]int // component -> actionable incidents
	Sources      map[string]int
}

// BuildDigest aggregates a list of incidents into a DigestSummary.
func BuildDigest(instanceID string, incidents []incident.Incident, since, until time.Time) *DigestSummary {
	sum := incident.Summarize(incidents)
	d := &DigestSummary{
		InstanceID:   instanceID,
		Since:        since,
		Until:        until,
		Total:        sum.Total,
		Actionable:   sum.Total - sum.Suppressed,
		Events:       sum.Events,
		BySeverity:   sum.BySeverity,
		Suppressed:   sum.Suppressed,
		SuppressedBy: make(map[string]int),
		Components:   make(map[string]int),
		Sources:      make(map[string]int),
	}

	for _, in := range incidents {
		if in.Suppressed {
			reason := string(in.SuppressReason)
			if reason == "" {
				reason = "unknown"
			}
			d.SuppressedBy[reason]++
			continue
		}
		for _, c := range in.Components {
			if c == "" {
				c = "unknown"
			}
			d.Components[c]++
		}
		for _, s := range in.Sources {
			d.Sources[s]++
		}
	}

	return d
}

// FormatDigest formats a DigestSummary as human-readable text suitable for
// ntfy or stdout output.
func FormatDigest(d *DigestSummary) string {
	var b strings.Builder

	dateRange := fmt.Sprintf("%s - %s",
		d.Since.Local().Format("Jan 02 15:04"),
		d.Until.Local().Format("Jan 02 15:04"))

	fmt.Fprintf(&b, "=== %s ===\n", d.InstanceID)
	fmt.Fprintf(&b, "Period: %s\n\n", dateRange)

	fmt.Fprintf(&b, "Incidents:  %d actionable, %d suppressed\n", d.Actionable, d.Suppressed)
	for _, s := range []incident.Severity{incident.SeverityHigh, incident.SeverityMedium, incident.SeverityLow} {
		fmt.Fprintf(&b, "  %-7s %d\n", s.Label()+":", d.BySeverity[s])
	}
	fmt.Fprintf(&b, "Events:     %d in actionable incidents\n", d.Events)

	if len(d.Components) > 0 {
		fmt.Fprintf(&b, "Components: %s\n", formatBreakdown(d.Components))
	}
	if len(d.Sources) > 0 {
		fmt.Fprintf(&b, "Sources:    %s\n", formatBreakdown(d.Sources))
	}
	if len(d.SuppressedBy) > 0 {
		fmt.Fprintf(&b, "Suppressed: %s\n", formatBreakdown(d.SuppressedBy))
	}

	return b.String()
}

// FormatDigestTitle generates the ntfy title for a digest notification.
func FormatDigestTitle(since, until time.Time) string {
	return fmt.Sprintf("\U0001f4ca logsentinel digest (%s-%s)",
		since.Local().Format("Jan 02"),
		until.Local().Format("Jan 02"))
}

// formatBreakdown turns a map[string]int into "foo ×2, bar ×1" sorted by
// count desc, then name.
func formatBreakdown(m map[string]int) string {
	type entry struct {
		name  string
		count int
	}

	entries := make([]entry, 0, len(m))
	for name, count := range m {
		entries = append(entries, entry{name, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].name < entries[j].name
	})

	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = fmt.Sprintf("%s ×%d", e.name, e.count)
	}
	return strings.Join(parts, ", ")
}

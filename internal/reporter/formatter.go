package reporter

import (
	"fmt"
	"strings"

	"github.com/setevik/logsentinel/internal/format"
	"github.com/setevik/logsentinel/internal/incident"
)

// severityEmoji maps incident severities to display emojis for ntfy titles.
var severityEmoji = map[incident.Severity]string{
	incident.SeverityHigh:   "\U0001f534", // red circle
	incident.SeverityMedium: "\U0001f7e0", // orange circle
	incident.SeverityLow:    "\U0001f7e1", // yellow circle
}

// severityTags maps incident severities to ntfy tag names.
var severityTags = map[incident.Severity]string{
	incident.SeverityHigh:   "rotating_light,incident",
	incident.SeverityMedium: "warning,incident",
}

// FormatTitle builds the ntfy notification title for an incident.
func FormatTitle(instanceID string, in incident.Incident) string {
	emoji := severityEmoji[in.Severity]
	if emoji == "" {
		emoji = "❗" // exclamation mark
	}
	return fmt.Sprintf("%s [%s] %s incident: %d events", emoji, instanceID, in.Severity, in.EventCount)
}

// FormatBody builds the ntfy notification body for an incident.
func FormatBody(in incident.Incident) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Window: %s - %s\n",
		in.WindowStart.Format("2006-01-02 15:04:05 MST"),
		in.WindowEnd.Format("15:04:05 MST"))
	fmt.Fprintf(&b, "First/last: %s / %s (%s)\n",
		in.StartTime.Format("15:04:05"), in.EndTime.Format("15:04:05"), format.Duration(in.Duration()))
	fmt.Fprintf(&b, "Score: %d\n", in.Score)
	writeList(&b, "Sources", in.Sources)
	writeList(&b, "Components", in.Components)

	levels := make([]string, len(in.Levels))
	for i, l := range in.Levels {
		levels[i] = string(l)
	}
	writeList(&b, "Levels", levels)

	if len(in.SampleMessages) > 0 {
		b.WriteString("\n")
		for _, m := range in.SampleMessages {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}

func writeList(b *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "%s: %s\n", label, strings.Join(items, ", "))
}

// TagsForSeverity returns the ntfy tags string for an incident severity.
func TagsForSeverity(s incident.Severity) string {
	if tags, ok := severityTags[s]; ok {
		return tags
	}
	return "incident"
}

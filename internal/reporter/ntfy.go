// Package reporter sends incident notifications and digests to ntfy.
package reporter

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/setevik/logsentinel/internal/config"
	"github.com/setevik/logsentinel/internal/incident"
	"github.com/setevik/logsentinel/internal/metrics"
)

// NtfyReporter sends incident notifications to an ntfy server.
type NtfyReporter struct {
	cfg    *config.Config
	client *http.Client
}

// NewNtfy creates a new NtfyReporter.
func NewNtfy(cfg *config.Config) *NtfyReporter {
	return &NtfyReporter{
		cfg: cfg,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Enabled reports whether an ntfy URL is configured.
func (r *NtfyReporter) Enabled() bool {
	return r.cfg.Ntfy.URL != ""
}

// Wants reports whether an incident qualifies for a notification.
func (r *NtfyReporter) Wants(in incident.Incident) bool {
	return !in.Suppressed && r.cfg.ShouldAlert(string(in.Severity))
}

// Report sends an incident notification to ntfy if the incident is
// actionable and its severity is in the configured alert severities.
func (r *NtfyReporter) Report(ctx context.Context, in incident.Incident) error {
	if !r.Enabled() {
		slog.Debug("ntfy URL not configured, skipping notification")
		return nil
	}
	if !r.Wants(in) {
		slog.Debug("incident not alertable, skipping", "id", in.ID, "severity", in.Severity, "suppressed", in.Suppressed)
		return nil
	}

	title := FormatTitle(r.cfg.Instance.ID, in)
	priority := r.cfg.NtfyPriority(string(in.Severity))
	if err := r.Send(ctx, title, FormatBody(in), priority, TagsForSeverity(in.Severity)); err != nil {
		return err
	}

	slog.Info("notification sent", "incident", in.ID, "severity", in.Severity, "events", in.EventCount, "priority", priority)
	return nil
}

// Send posts a raw message to the configured ntfy topic.
func (r *NtfyReporter) Send(ctx context.Context, title, body, priority, tags string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Ntfy.URL, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating ntfy request: %w", err)
	}

	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	if tags != "" {
		req.Header.Set("Tags", tags)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		metrics.Notifications.WithLabelValues("error").Inc()
		return fmt.Errorf("sending ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.Notifications.WithLabelValues("error").Inc()
		return fmt.Errorf("ntfy returned status %d", resp.StatusCode)
	}
	metrics.Notifications.WithLabelValues("sent").Inc()
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/setevik/logsentinel/internal/format"
	"github.com/setevik/logsentinel/internal/incident"
	"github.com/setevik/logsentinel/internal/model"
	"github.com/setevik/logsentinel/internal/reporter"
	"github.com/setevik/logsentinel/internal/store"
)

func newDigestCmd(a *app) *cobra.Command {
	var (
		last string
		send bool
	)
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Summarize live incidents over a period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.load(true)
			if err != nil {
				return err
			}
			d, err := format.ParseDuration(last)
			if err != nil {
				return fmt.Errorf("invalid --last value %q: %w", last, err)
			}

			db, err := a.openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			until := time.Now()
			since := until.Add(-d)
			stored, err := db.QueryIncidents(cmd.Context(), store.IncidentFilter{
				Origin: store.OriginLive,
				Since:  incident.WindowStart(since, cfg.Incident.Window.Duration),
			})
			if err != nil {
				return err
			}
			incidents := make([]incident.Incident, len(stored))
			for i, si := range stored {
				incidents[i] = si.Incident
			}

			body := reporter.FormatDigest(reporter.BuildDigest(cfg.Instance.ID, incidents, since, until))
			if !send {
				fmt.Fprint(a.stdout, body)
				return nil
			}

			rep := reporter.NewNtfy(cfg)
			if !rep.Enabled() {
				return fmt.Errorf("ntfy.url not configured")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			if err := rep.Send(ctx, reporter.FormatDigestTitle(since, until), body, "low", "chart"); err != nil {
				return fmt.Errorf("sending digest: %w", err)
			}
			fmt.Fprintln(a.stdout, "Digest sent successfully.")
			return nil
		},
	}
	cmd.Flags().StringVar(&last, "last", "7d", "digest period")
	cmd.Flags().BoolVar(&send, "send", false, "send the digest via ntfy instead of printing it")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show model and database state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.load(true)
			if err != nil {
				return err
			}
			out := a.stdout
			fmt.Fprintf(out, "Instance:     %s\n", cfg.Instance.ID)

			path := cfg.ModelPath()
			if m, err := model.Load(path); err != nil {
				fmt.Fprintf(out, "Model:        unavailable (%v)\n", err)
			} else {
				size := int64(0)
				if fi, err := os.Stat(path); err == nil {
					size = fi.Size()
				}
				fmt.Fprintf(out, "Model:        %s (%s, trained %s ago)\n", path, format.Bytes(size),
					format.Duration(time.Since(m.CreatedAt)))
				fmt.Fprintf(out, "Vocabulary:   %d terms\n", m.Embedder.Dim())
				fmt.Fprintf(out, "Baseline:     %d normal of %d events, %d templates\n",
					m.Baseline.NormalCount, m.Baseline.TotalCount, m.Baseline.TemplateCount())
				fmt.Fprintf(out, "Clustering:   eps=%g min_samples=%d scaled=%v -> %d clusters, %d noise\n",
					m.Training.Eps, m.Training.MinSamples, m.Training.Scaled, m.Training.Clusters, m.Training.Noise)
			}
			fmt.Fprintf(out, "Threshold:    %g\n", cfg.Classifier.Threshold)

			db, err := a.openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			ctx := cmd.Context()

			st, err := db.Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Events:       %d live (%d anomalies), %d historical\n", st.Events, st.Anomalies, st.History)
			fmt.Fprintf(out, "Incidents:    %d stored\n", st.Incidents)

			if recs, err := db.QueryEvents(ctx, store.EventFilter{Limit: 1}); err == nil && len(recs) > 0 && recs[0].Event.HasTimestamp() {
				r := recs[0]
				fmt.Fprintf(out, "Last event:   [%s] %s - %s ago\n", r.Decision.Label(),
					format.Truncate(r.Event.Message, 60), format.Duration(time.Since(r.Event.Timestamp)))
			} else {
				fmt.Fprintln(out, "Last event:   none")
			}

			open, err := db.Unnotified(ctx, store.OriginLive)
			if err == nil {
				fmt.Fprintf(out, "Pending:      %d actionable live incident(s) not yet notified\n", len(open))
			}
			fmt.Fprintf(out, "DB path:      %s\n", cfg.DBPath())
			return nil
		},
	}
}

func newTestNtfyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "test-ntfy",
		Short: "Send a test notification",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.load(false)
			if err != nil {
				return err
			}
			rep := reporter.NewNtfy(cfg)
			if !rep.Enabled() {
				return fmt.Errorf("ntfy.url not configured")
			}

			in := (&reporter.TestIncident{InstanceID: cfg.Instance.ID}).ToIncident()
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			title := reporter.FormatTitle(cfg.Instance.ID, in)
			err = rep.Send(ctx, title, reporter.FormatBody(in), cfg.NtfyPriority(string(in.Severity)), reporter.TagsForSeverity(in.Severity))
			if err != nil {
				return fmt.Errorf("sending test notification: %w", err)
			}
			fmt.Fprintln(a.stdout, "Test notification sent successfully.")
			return nil
		},
	}
}

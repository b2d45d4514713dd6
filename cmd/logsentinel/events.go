package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/setevik/logsentinel/internal/event"
	"github.com/setevik/logsentinel/internal/format"
	"github.com/setevik/logsentinel/internal/incident"
	"github.com/setevik/logsentinel/internal/ingest"
	"github.com/setevik/logsentinel/internal/service"
	"github.com/setevik/logsentinel/internal/store"
)

func newClassifyCmd(a *app) *cobra.Command {
	var p ingest.Payload
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify one event without storing it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.load(true)
			if err != nil {
				return err
			}
			ev, _, err := p.Event(time.Now())
			if err != nil {
				return err
			}
			cls, _, err := a.classifier(cfg)
			if err != nil {
				return err
			}
			d := cls.Classify(ev)
			fmt.Fprintf(a.stdout, "%s  %s\n", d.Label(), d.Reason)
			return nil
		},
	}
	cmd.Flags().StringVar(&p.Level, "level", "INFO", "log level")
	cmd.Flags().StringVar(&p.Message, "message", "", "log message")
	cmd.Flags().StringVar(&p.Template, "template", "", "log template (defaults to the message)")
	cmd.Flags().StringVar(&p.Source, "source", "cli", "log source")
	cmd.Flags().StringVar(&p.Component, "component", "", "emitting component")
	cmd.MarkFlagRequired("message")
	return cmd
}

func newInjectCmd(a *app) *cobra.Command {
	b := ingest.DefaultBurst()
	var at string
	cmd := &cobra.Command{
		Use:   "inject",
		Short: "Append a synthetic burst of events to the live log",
		Long:  "inject classifies and stores a burst of identical events, by default six ERROR disk failures 20s apart starting now, and refreshes live incidents.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.load(true)
			if err != nil {
				return err
			}
			b.Start = time.Now().UTC()
			if at != "" {
				if b.Start, err = ingest.ParseTimestamp(at); err != nil {
					return fmt.Errorf("--at: %w", err)
				}
			}
			if b.Count < 1 {
				return fmt.Errorf("--count must be >= 1, got %d", b.Count)
			}

			db, err := a.openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			svc, err := a.service(cfg, db)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			for _, ev := range ingest.SyntheticBurst(b) {
				d, err := svc.Ingest(ctx, ev, service.OriginInject)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "%s  %-7s %s\n", ev.Timestamp.Format(time.RFC3339), d.Label(), d.Reason)
			}

			incidents, err := svc.RefreshIncidents(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "\nInjected %d event(s).\n", b.Count)
			printIncidentSummary(a.stdout, incidents)
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "timestamp of the first event (default now)")
	cmd.Flags().IntVar(&b.Count, "count", b.Count, "number of events")
	cmd.Flags().DurationVar(&b.Spacing, "spacing", b.Spacing, "time between events")
	cmd.Flags().StringVar(&b.Source, "source", b.Source, "log source")
	cmd.Flags().StringVar(&b.Level, "level", b.Level, "log level")
	cmd.Flags().StringVar(&b.Component, "component", b.Component, "emitting component")
	cmd.Flags().StringVar(&b.Message, "message", b.Message, "log message")
	return cmd
}

func newQueryCmd(a *app) *cobra.Command {
	var (
		last    string
		anomaly bool
		normal  bool
		f       store.EventFilter
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "List stored live events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if anomaly && normal {
				return fmt.Errorf("--anomaly and --normal are exclusive")
			}
			cfg, err := a.load(true)
			if err != nil {
				return err
			}
			d, err := format.ParseDuration(last)
			if err != nil {
				return fmt.Errorf("invalid --last value %q: %w", last, err)
			}
			if d > 0 {
				f.Since = time.Now().Add(-d)
			}
			if anomaly || normal {
				f.Anomaly = &anomaly
			}

			db, err := a.openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			recs, err := db.QueryEvents(cmd.Context(), f)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Fprintln(a.stdout, "No events found.")
				return nil
			}
			printRecords(a.stdout, recs)
			return nil
		},
	}
	cmd.Flags().StringVar(&last, "last", "24h", "time window (e.g. 24h, 7d); 0 for all")
	cmd.Flags().BoolVar(&anomaly, "anomaly", false, "only anomalies")
	cmd.Flags().BoolVar(&normal, "normal", false, "only normal events")
	cmd.Flags().StringVar(&f.Level, "level", "", "filter by level")
	cmd.Flags().StringVar(&f.Source, "source", "", "filter by source")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max events to show")
	return cmd
}

func printRecords(w io.Writer, recs []event.Record) {
	for _, r := range recs {
		ts := "unknown            "
		if r.Event.HasTimestamp() {
			ts = r.Event.Timestamp.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s  %-7s %-5s %-16s %s\n", ts, r.Decision.Label(), r.Event.Level,
			format.Truncate(r.Event.Component, 16), format.Truncate(r.Event.Message, 80))
		if r.Decision.IsAnomaly {
			fmt.Fprintf(w, "                     reason: %s\n", r.Decision.Reason)
		}
	}
	fmt.Fprintf(w, "\nTotal: %d event(s)\n", len(recs))
}

func newIncidentsCmd(a *app) *cobra.Command {
	var (
		origin   string
		severity string
		all      bool
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "incidents",
		Short: "List stored incidents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := store.IncidentFilter{Limit: limit}
			var err error
			if origin != "" {
				if f.Origin, err = store.ParseOrigin(origin); err != nil {
					return err
				}
			}
			if severity != "" {
				var ok bool
				if f.Severity, ok = incident.ParseSeverity(severity); !ok {
					return fmt.Errorf("unknown severity %q", severity)
				}
			}
			if !all {
				actionable := false
				f.Suppressed = &actionable
			}

			cfg, err := a.load(true)
			if err != nil {
				return err
			}
			db, err := a.openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			stored, err := db.QueryIncidents(cmd.Context(), f)
			if err != nil {
				return err
			}
			if len(stored) == 0 {
				fmt.Fprintln(a.stdout, "No incidents found.")
				return nil
			}
			incidents := make([]incident.Incident, len(stored))
			for i, si := range stored {
				incidents[i] = si.Incident
			}
			printIncidents(a.stdout, incidents)
			return nil
		},
	}
	cmd.Flags().StringVar(&origin, "origin", "", "live or history (default both)")
	cmd.Flags().StringVar(&severity, "severity", "", "filter by severity (LOW, MEDIUM, HIGH)")
	cmd.Flags().BoolVar(&all, "all", false, "include suppressed incidents")
	cmd.Flags().IntVar(&limit, "limit", 50, "max incidents to show")
	return cmd
}

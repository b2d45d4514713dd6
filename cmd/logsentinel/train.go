package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/setevik/logsentinel/internal/format"
	"github.com/setevik/logsentinel/internal/incident"
	"github.com/setevik/logsentinel/internal/pipeline"
	"github.com/setevik/logsentinel/internal/service"
	"github.com/setevik/logsentinel/internal/store"
)

func newTrainCmd(a *app) *cobra.Command {
	var detect bool
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Build the baseline model from the configured historical sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.load(false)
			if err != nil {
				return err
			}
			db, err := a.openStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			r, err := pipeline.Train(cmd.Context(), cfg, db)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Events:      %d (%d dropped, %d coerced timestamps)\n", r.Events, r.Dropped, r.Coerced)
			fmt.Fprintf(a.stdout, "Vocabulary:  %d terms\n", r.Vocabulary)
			fmt.Fprintf(a.stdout, "Clusters:    %d (%d noise points)\n", r.Clusters, r.Noise)
			fmt.Fprintf(a.stdout, "Baseline:    %d normal events, %d known templates\n", r.Normal, r.Templates)
			fmt.Fprintf(a.stdout, "Model:       %s\n", r.ModelPath)
			fmt.Fprintf(a.stdout, "Took:        %s\n", format.Duration(r.Duration))

			if !detect {
				return nil
			}
			incidents, err := pipeline.DetectHistory(cmd.Context(), cfg, db)
			if err != nil {
				return err
			}
			service.RecordIncidents(store.OriginHistory, incidents)
			fmt.Fprintln(a.stdout)
			printIncidentSummary(a.stdout, incidents)
			return nil
		},
	}
	cmd.Flags().BoolVar(&detect, "detect", true, "aggregate historical noise into incidents after training")
	return cmd
}

func newDetectCmd(a *app) *cobra.Command {
	var origin string
	var all bool
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Aggregate anomalies into incidents and apply suppression",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o, err := store.ParseOrigin(origin)
			if err != nil {
				return err
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

			var incidents []incident.Incident
			switch o {
			case store.OriginHistory:
				incidents, err = pipeline.DetectHistory(cmd.Context(), cfg, db)
			default:
				svc, serr := a.service(cfg, db)
				if serr != nil {
					return serr
				}
				incidents, err = svc.RefreshIncidents(cmd.Context())
			}
			if err != nil {
				return err
			}

			printIncidentSummary(a.stdout, incidents)
			shown := incidents
			if !all {
				shown = incident.Actionable(incidents)
			}
			if len(shown) > 0 {
				fmt.Fprintln(a.stdout)
				printIncidents(a.stdout, shown)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&origin, "source", string(store.OriginLive), "event set to aggregate: live or history")
	cmd.Flags().BoolVar(&all, "all", false, "also list suppressed incidents")
	return cmd
}

func printIncidentSummary(w io.Writer, incidents []incident.Incident) {
	sum := incident.Summarize(incidents)
	fmt.Fprintf(w, "Incidents:   %d total, %d suppressed, %d actionable\n",
		sum.Total, sum.Suppressed, sum.Total-sum.Suppressed)
	for _, sev := range []incident.Severity{incident.SeverityHigh, incident.SeverityMedium, incident.SeverityLow} {
		if n := sum.BySeverity[sev]; n > 0 {
			fmt.Fprintf(w, "  %-7s %d\n", sev, n)
		}
	}
}

func printIncidents(w io.Writer, incidents []incident.Incident) {
	for _, in := range incidents {
		start := in.WindowStart.Local().Format("2006-01-02 15:04")
		fmt.Fprintf(w, "%s  %-6s score=%-3d events=%-4d %s\n",
			start, in.Severity, in.Score, in.EventCount, strings.Join(in.Components, ","))
		if in.Suppressed {
			fmt.Fprintf(w, "                  suppressed: %s\n", in.SuppressReason)
		}
		for _, msg := range in.SampleMessages {
			fmt.Fprintf(w, "                  - %s\n", format.Truncate(msg, 100))
		}
	}
	fmt.Fprintf(w, "\nTotal: %d incident(s)\n", len(incidents))
}

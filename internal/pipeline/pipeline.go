// Package pipeline runs the offline stages: building the baseline from
// historical logs and detecting incidents in that history.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/setevik/logsentinel/internal/baseline"
	"github.com/setevik/logsentinel/internal/cluster"
	"github.com/setevik/logsentinel/internal/config"
	"github.com/setevik/logsentinel/internal/embedder"
	"github.com/setevik/logsentinel/internal/event"
	"github.com/setevik/logsentinel/internal/incident"
	"github.com/setevik/logsentinel/internal/ingest"
	"github.com/setevik/logsentinel/internal/model"
	"github.com/setevik/logsentinel/internal/store"
)

// Report summarizes a training run.
type Report struct {
	Events     int
	Dropped    int
	Coerced    int
	Vocabulary int
	Clusters   int
	Noise      int
	Normal     int
	Templates  int
	ModelPath  string
	Duration   time.Duration
}

// Train loads the configured sources, fits the embedder, clusters the
// history, builds the baseline and saves the model. The clustered history is
// stored so that DetectHistory can aggregate its noise points.
func Train(ctx context.Context, cfg *config.Config, db *store.DB) (*Report, error) {
	start := time.Now()

	specs, err := cfg.IngestSpecs()
	if err != nil {
		return nil, err
	}
	loaded, err := ingest.LoadAll(specs)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	if len(loaded.Events) == 0 {
		return nil, fmt.Errorf("loading history: no events in %d sources", len(specs))
	}
	slog.Info("history loaded",
		"events", len(loaded.Events),
		"dropped", loaded.Dropped,
		"coerced", loaded.Coerced,
	)

	templates := Templates(loaded.Events)
	emb, err := embedder.Fit(templates, cfg.EmbedderParams())
	if err != nil {
		return nil, err
	}
	vectors := emb.TransformAll(templates)
	slog.Info("embedder fitted", "vocabulary", emb.Dim(), "fingerprint", emb.Fingerprint()[:12])

	points := vectors
	if cfg.Cluster.Scale {
		points = cluster.Scale(vectors)
	}
	res, err := cluster.DBSCAN(ctx, points, cfg.ClusterParams())
	if err != nil {
		return nil, err
	}

	// The centroid lives in the unscaled space the classifier compares in.
	base, err := baseline.Build(templates, vectors, res.Labels, emb.Fingerprint())
	if err != nil {
		return nil, fmt.Errorf("building baseline: %w", err)
	}

	cp := cfg.ClusterParams()
	m := model.New(emb, base, model.Training{
		Eps:        cp.Eps,
		MinSamples: cp.MinSamples,
		Scaled:     cfg.Cluster.Scale,
		Clusters:   res.Clusters,
		Noise:      res.Noise,
	})
	path := cfg.ModelPath()
	if err := model.Save(path, m); err != nil {
		return nil, err
	}
	if err := db.ReplaceHistory(ctx, loaded.Events, res.Labels); err != nil {
		return nil, err
	}

	r := &Report{
		Events:     len(loaded.Events),
		Dropped:    loaded.Dropped,
		Coerced:    loaded.Coerced,
		Vocabulary: emb.Dim(),
		Clusters:   res.Clusters,
		Noise:      res.Noise,
		Normal:     base.NormalCount,
		Templates:  base.TemplateCount(),
		ModelPath:  path,
		Duration:   time.Since(start),
	}
	slog.Info("model trained",
		"path", path,
		"clusters", r.Clusters,
		"noise", r.Noise,
		"templates", r.Templates,
		"duration", r.Duration,
	)
	return r, nil
}

// Templates returns the template of every event, falling back to the message.
func Templates(events []event.LogEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Template
		if out[i] == "" {
			out[i] = ev.Message
		}
	}
	return out
}

// DetectHistory aggregates the noise points of the last training run into
// incidents, applies suppression and stores them under the history origin.
func DetectHistory(ctx context.Context, cfg *config.Config, db *store.DB) ([]incident.Incident, error) {
	noise, err := db.HistoryNoise(ctx)
	if err != nil {
		return nil, err
	}

	flagged := make([]incident.Flagged, len(noise))
	for i, ev := range noise {
		flagged[i] = incident.Flagged{
			Event:    ev,
			Decision: event.Decision{IsAnomaly: true, Reason: "dbscan_noise"},
		}
	}

	incidents := cfg.Suppressor().Suppress(incident.Aggregate(flagged, cfg.AggregateParams()))
	if err := db.ReplaceIncidents(ctx, store.OriginHistory, incidents); err != nil {
		return nil, err
	}

	sum := incident.Summarize(incidents)
	slog.Info("historical incidents detected",
		"noise_events", len(noise),
		"incidents", sum.Total,
		"suppressed", sum.Suppressed,
	)
	return incidents, nil
}

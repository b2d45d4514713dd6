package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/setevik/logsentinel/internal/classifier"
	"github.com/setevik/logsentinel/internal/config"
	"github.com/setevik/logsentinel/internal/event"
	"github.com/setevik/logsentinel/internal/incident"
	"github.com/setevik/logsentinel/internal/model"
	"github.com/setevik/logsentinel/internal/store"
)

const (
	tplReceive   = "Receiving block <*> src <*> dest <*>"
	tplResponder = "PacketResponder <*> for block <*> terminating"
)

var outliers = []string{
	"Kernel panic detected",
	"Filesystem corrupted badly",
	"Network unreachable timeout",
	"Checksum mismatch found",
}

// writeHistory writes a JSONL history with two dense templates and four
// unrelated warnings inside one ten-minute window.
func writeHistory(t *testing.T, dir string) string {
	t.Helper()
	var b strings.Builder
	ts := time.Date(2008, 11, 9, 20, 0, 0, 0, time.UTC)
	line := func(level, msg, tpl string) {
		fmt.Fprintf(&b, `{"timestamp":%q,"source":"hdfs","level":%q,"component":"dfs.DataNode","message":%q,"template":%q}`+"\n",
			ts.Format(time.RFC3339), level, msg, tpl)
		ts = ts.Add(time.Minute)
	}
	for i := 0; i < 20; i++ {
		line("INFO", fmt.Sprintf("Receiving block blk_%d src /10.0.0.1 dest /10.0.0.2", i), tplReceive)
		line("INFO", fmt.Sprintf("PacketResponder %d for block blk_%d terminating", i%3, i), tplResponder)
	}
	ts = time.Date(2008, 11, 9, 23, 1, 0, 0, time.UTC)
	for _, msg := range outliers {
		line("WARN", msg, "")
	}
	b.WriteString("not json\n")

	path := filepath.Join(dir, "history.jsonl")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testConfig(t *testing.T, scale bool) (*config.Config, *store.DB) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Data.Dir = dir
	cfg.Sources = []config.SourceConfig{{Path: writeHistory(t, dir), Format: "jsonl"}}
	cfg.Embedder.MinDF = 1
	cfg.Embedder.MaxDF = 1.0
	cfg.Cluster.Eps = 0.5
	cfg.Cluster.MinSamples = 3
	cfg.Cluster.Scale = scale

	db, err := store.Open(cfg.DBPath())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return cfg, db
}

func TestTrain(t *testing.T) {
	for _, scale := range []bool{false, true} {
		t.Run(fmt.Sprintf("scale=%v", scale), func(t *testing.T) {
			cfg, db := testConfig(t, scale)
			ctx := context.Background()

			r, err := Train(ctx, cfg, db)
			if err != nil {
				t.Fatalf("Train: %v", err)
			}
			if r.Events != 44 || r.Dropped != 1 {
				t.Errorf("events=%d dropped=%d, want 44/1", r.Events, r.Dropped)
			}
			if r.Clusters != 2 || r.Noise != len(outliers) {
				t.Errorf("clusters=%d noise=%d, want 2/%d", r.Clusters, r.Noise, len(outliers))
			}
			if r.Normal != 40 || r.Templates != 2+len(outliers) {
				t.Errorf("normal=%d templates=%d", r.Normal, r.Templates)
			}

			loaded, err := model.Load(r.ModelPath)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if loaded.Training.Scaled != scale {
				t.Errorf("Training.Scaled = %v", loaded.Training.Scaled)
			}
			cls, err := classifier.New(loaded.Embedder, loaded.Baseline, classifier.DefaultThreshold)
			if err != nil {
				t.Fatal(err)
			}

			ev := event.New(time.Now(), "hdfs", "INFO", "dfs.DataNode", "Receiving block blk_99", tplReceive)
			if d := cls.Classify(ev); d.IsAnomaly {
				t.Errorf("dense template classified as anomaly: %+v", d)
			}
			ev = event.New(time.Now(), "hdfs", "INFO", "dfs.DataNode", outliers[0], "")
			if d := cls.Classify(ev); d.Reason == event.ReasonUnseenTemplate {
				t.Error("noise templates are part of the known set")
			}
		})
	}
}

func TestTrainNoEvents(t *testing.T) {
	cfg, db := testConfig(t, false)
	empty := filepath.Join(cfg.Data.Dir, "empty.jsonl")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Sources = []config.SourceConfig{{Path: empty, Format: "jsonl"}}

	if _, err := Train(context.Background(), cfg, db); err == nil {
		t.Error("Train should fail without events")
	}
	if _, err := os.Stat(cfg.ModelPath()); !os.IsNotExist(err) {
		t.Error("no model should be written")
	}
}

func TestTrainInvalidParams(t *testing.T) {
	cfg, db := testConfig(t, false)
	cfg.Cluster.Eps = 0
	if _, err := Train(context.Background(), cfg, db); err == nil {
		t.Error("Train should reject eps=0")
	}
}

func TestDetectHistory(t *testing.T) {
	cfg, db := testConfig(t, true)
	ctx := context.Background()

	if _, err := Train(ctx, cfg, db); err != nil {
		t.Fatalf("Train: %v", err)
	}
	incidents, err := DetectHistory(ctx, cfg, db)
	if err != nil {
		t.Fatalf("DetectHistory: %v", err)
	}
	if len(incidents) != 1 {
		t.Fatalf("incidents = %d, want 1", len(incidents))
	}
	in := incidents[0]
	if in.EventCount != len(outliers) || in.Score != 7 || in.Severity != incident.SeverityMedium || in.Suppressed {
		t.Errorf("incident = %+v", in)
	}
	if !in.WindowStart.Equal(time.Date(2008, 11, 9, 23, 0, 0, 0, time.UTC)) {
		t.Errorf("WindowStart = %v", in.WindowStart)
	}

	stored, err := db.QueryIncidents(ctx, store.IncidentFilter{Origin: store.OriginHistory})
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 || stored[0].ID != in.ID {
		t.Errorf("stored = %+v", stored)
	}
}

func TestTemplates(t *testing.T) {
	got := Templates([]event.LogEvent{
		{Message: "m1", Template: "t1"},
		{Message: "m2"},
	})
	if got[0] != "t1" || got[1] != "m2" {
		t.Errorf("Templates = %v", got)
	}
}

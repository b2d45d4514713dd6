// Package classifier decides whether a single log event is anomalous by
// applying ordered rules against a frozen baseline.
package classifier

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/setevik/logsentinel/internal/baseline"
	"github.com/setevik/logsentinel/internal/embedder"
	"github.com/setevik/logsentinel/internal/event"
	"github.com/setevik/logsentinel/internal/metrics"
)

// DefaultThreshold is the cosine distance above which a known template is
// considered semantically anomalous.
const DefaultThreshold = 0.35

// ErrArtifactMismatch is returned when the embedder and baseline were not fit
// together; distances across different vocabularies are meaningless.
var ErrArtifactMismatch = errors.New("classifier: embedder and baseline were not fit together")

// Option configures a Classifier.
type Option func(*options)

type options struct {
	cacheSize int
}

// WithCacheSize sets the number of per-template distances kept in memory.
// Zero disables the cache.
func WithCacheSize(n int) Option {
	return func(o *options) { o.cacheSize = n }
}

// Classifier is safe for concurrent use: the embedder and baseline are
// read-only and the distance cache is internally synchronized.
type Classifier struct {
	emb       *embedder.Embedder
	base      *baseline.Baseline
	threshold float64
	cache     *lru.Cache[string, float64]
}

// New creates a Classifier over a frozen embedder/baseline pair.
func New(emb *embedder.Embedder, base *baseline.Baseline, threshold float64, opts ...Option) (*Classifier, error) {
	if emb == nil || base == nil {
		return nil, errors.New("classifier: embedder and baseline are required")
	}
	if err := Compatible(emb, base); err != nil {
		return nil, err
	}
	if threshold <= 0 || threshold > 2 {
		return nil, fmt.Errorf("classifier: threshold must be in (0, 2], got %g", threshold)
	}

	o := options{cacheSize: 4096}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Classifier{emb: emb, base: base, threshold: threshold}
	if o.cacheSize > 0 {
		cache, err := lru.New[string, float64](o.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("classifier: creating distance cache: %w", err)
		}
		c.cache = cache
	}
	return c, nil
}

// Compatible checks that emb and base were produced by the same fit.
func Compatible(emb *embedder.Embedder, base *baseline.Baseline) error {
	if emb.Fingerprint() != base.Fingerprint {
		return fmt.Errorf("%w: embedder %.12s, baseline %.12s",
			ErrArtifactMismatch, emb.Fingerprint(), base.Fingerprint)
	}
	if emb.Dim() != len(base.Centroid) {
		return fmt.Errorf("%w: vocabulary size %d, centroid dimension %d",
			ErrArtifactMismatch, emb.Dim(), len(base.Centroid))
	}
	return nil
}

// Threshold returns the anomaly distance threshold.
func (c *Classifier) Threshold() float64 {
	return c.threshold
}

// Classify returns the decision for one event. Rules are evaluated in order
// and the first match decides:
//
//  1. ERROR level            -> anomaly "ERROR_level"
//  2. template not in history -> anomaly "unseen_template"
//  3. distance > threshold    -> anomaly "semantic_distance=D", else normal "normal_distance=D"
func (c *Classifier) Classify(ev event.LogEvent) event.Decision {
	start := time.Now()
	d := decide(ev, c.base, c.threshold, c.distance)
	metrics.ClassifyDuration.Observe(time.Since(start).Seconds())
	metrics.Decisions.WithLabelValues(d.Rule(), strconv.FormatBool(d.IsAnomaly)).Inc()
	return d
}

// Classify applies the same rules as (*Classifier).Classify without a
// distance cache or instrumentation. The caller is responsible for passing a
// compatible embedder/baseline pair.
func Classify(ev event.LogEvent, emb *embedder.Embedder, base *baseline.Baseline, threshold float64) event.Decision {
	return decide(ev, base, threshold, func(template string) float64 {
		return embedder.CosineDistanceDense(emb.Transform(template), base.Centroid)
	})
}

func decide(ev event.LogEvent, base *baseline.Baseline, threshold float64, distance func(string) float64) event.Decision {
	if event.NormalizeLevel(string(ev.Level)) == event.LevelError {
		return event.ErrorLevel()
	}

	template := ev.Template
	if template == "" {
		template = ev.Message
	}
	if !base.Known(template) {
		return event.UnseenTemplate()
	}

	dist := distance(template)
	if dist > threshold {
		return event.SemanticDistance(dist)
	}
	return event.NormalDistance(dist)
}

// distance returns the cosine distance between the template and the normal
// centroid, memoized per template.
func (c *Classifier) distance(template string) float64 {
	if c.cache != nil {
		if d, ok := c.cache.Get(template); ok {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			return d
		}
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}
	d := embedder.CosineDistanceDense(c.emb.Transform(template), c.base.Centroid)
	if c.cache != nil {
		c.cache.Add(template, d)
	}
	return d
}

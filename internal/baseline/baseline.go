// Package baseline derives the frozen description of normal log behavior:
// the centroid of all clustered (non-noise) historical vectors and the set
// of every template seen in history.
package baseline

import (
	"errors"
	"fmt"
	"sort"

	"github.com/setevik/logsentinel/internal/cluster"
	"github.com/setevik/logsentinel/internal/embedder"
)

// ErrNoNormalEvents is returned when every historical event is noise, which
// leaves the centroid undefined.
var ErrNoNormalEvents = errors.New("baseline: no non-noise events to build a centroid from")

// Baseline is immutable after Build and may be shared between goroutines.
type Baseline struct {
	Centroid    []float64
	Fingerprint string // fingerprint of the embedder the centroid was computed with
	NormalCount int
	TotalCount  int

	known map[string]struct{}
}

// Build computes the baseline from historical templates, their vectors and
// their cluster labels (all three indexed alike). Known templates include
// noise points; the centroid only uses clustered points.
func Build(templates []string, vectors []embedder.Vector, labels []int, fingerprint string) (*Baseline, error) {
	if len(templates) != len(vectors) || len(vectors) != len(labels) {
		return nil, fmt.Errorf("baseline: mismatched inputs: %d templates, %d vectors, %d labels",
			len(templates), len(vectors), len(labels))
	}

	b := &Baseline{
		Fingerprint: fingerprint,
		TotalCount:  len(templates),
		known:       make(map[string]struct{}, len(templates)),
	}
	for _, t := range templates {
		b.known[t] = struct{}{}
	}

	dim := -1
	perDim := make(map[int][]float64)
	for i, v := range vectors {
		if labels[i] == cluster.Noise {
			continue
		}
		if dim == -1 {
			dim = v.Dim
		} else if v.Dim != dim {
			return nil, fmt.Errorf("baseline: vector %d has dimension %d, want %d", i, v.Dim, dim)
		}
		b.NormalCount++
		for k, idx := range v.Indices {
			perDim[idx] = append(perDim[idx], v.Values[k])
		}
	}
	if b.NormalCount == 0 {
		return nil, ErrNoNormalEvents
	}

	// Summing each dimension in sorted order makes the centroid independent
	// of the order of historical events.
	b.Centroid = make([]float64, dim)
	n := float64(b.NormalCount)
	for idx, vals := range perDim {
		sort.Float64s(vals)
		var s float64
		for _, x := range vals {
			s += x
		}
		b.Centroid[idx] = s / n
	}
	return b, nil
}

// Known reports whether the template was seen anywhere in history.
func (b *Baseline) Known(template string) bool {
	_, ok := b.known[template]
	return ok
}

// TemplateCount returns the number of distinct known templates.
func (b *Baseline) TemplateCount() int {
	return len(b.known)
}

// Snapshot is the serializable form of a Baseline.
type Snapshot struct {
	Centroid       []float64 `json:"centroid"`
	KnownTemplates []string  `json:"known_templates"`
	Fingerprint    string    `json:"fingerprint"`
	NormalCount    int       `json:"normal_count"`
	TotalCount     int       `json:"total_count"`
}

// Snapshot returns the serializable state, with templates sorted.
func (b *Baseline) Snapshot() Snapshot {
	templates := make([]string, 0, len(b.known))
	for t := range b.known {
		templates = append(templates, t)
	}
	sort.Strings(templates)
	return Snapshot{
		Centroid:       append([]float64(nil), b.Centroid...),
		KnownTemplates: templates,
		Fingerprint:    b.Fingerprint,
		NormalCount:    b.NormalCount,
		TotalCount:     b.TotalCount,
	}
}

// FromSnapshot rebuilds a Baseline.
func FromSnapshot(s Snapshot) (*Baseline, error) {
	if len(s.Centroid) == 0 || s.NormalCount == 0 {
		return nil, ErrNoNormalEvents
	}
	b := &Baseline{
		Centroid:    append([]float64(nil), s.Centroid...),
		Fingerprint: s.Fingerprint,
		NormalCount: s.NormalCount,
		TotalCount:  s.TotalCount,
		known:       make(map[string]struct{}, len(s.KnownTemplates)),
	}
	for _, t := range s.KnownTemplates {
		b.known[t] = struct{}{}
	}
	return b, nil
}

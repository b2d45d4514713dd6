// Package cluster groups historical embedding vectors into density-connected
// clusters. Points outside every dense region are labeled Noise.
package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/setevik/logsentinel/internal/embedder"
)

// Noise labels a point that belongs to no dense region.
const Noise = -1

// Params controls DBSCAN. Eps is a cosine distance; MinSamples counts the
// point itself.
type Params struct {
	Eps        float64
	MinSamples int
	Workers    int // 0 means GOMAXPROCS
}

// DefaultParams returns the tuned clustering parameters.
func DefaultParams() Params {
	return Params{Eps: 0.7, MinSamples: 10}
}

// Validate checks the clustering parameters.
func (p Params) Validate() error {
	if p.Eps <= 0 || p.Eps > 2 {
		return fmt.Errorf("eps must be in (0, 2], got %g", p.Eps)
	}
	if p.MinSamples < 1 {
		return fmt.Errorf("min_samples must be >= 1, got %d", p.MinSamples)
	}
	if p.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", p.Workers)
	}
	return nil
}

// Result holds the cluster label of every input point.
type Result struct {
	Labels   []int
	Clusters int
	Noise    int
}

// DBSCAN clusters the full set of points. It is a batch operation: the
// whole historical snapshot must be passed at once. Labels do not depend on
// the number of workers.
func DBSCAN(ctx context.Context, points []embedder.Vector, p Params) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, fmt.Errorf("cluster: %w", err)
	}

	n := len(points)
	res := Result{Labels: make([]int, n)}
	if n == 0 {
		return res, nil
	}

	neighbors, err := neighborhoods(ctx, points, p)
	if err != nil {
		return Result{}, err
	}

	const unvisited = -2
	for i := range res.Labels {
		res.Labels[i] = unvisited
	}

	cluster := 0
	for i := 0; i < n; i++ {
		if res.Labels[i] != unvisited {
			continue
		}
		if len(neighbors[i]) < p.MinSamples {
			res.Labels[i] = Noise
			continue
		}

		// i is a core point: grow a new cluster from it.
		res.Labels[i] = cluster
		queue := append([]int(nil), neighbors[i]...)
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]

			if res.Labels[j] == Noise {
				res.Labels[j] = cluster // border point
			}
			if res.Labels[j] != unvisited {
				continue
			}
			res.Labels[j] = cluster
			if len(neighbors[j]) >= p.MinSamples {
				queue = append(queue, neighbors[j]...)
			}
		}
		cluster++
	}

	res.Clusters = cluster
	for _, l := range res.Labels {
		if l == Noise {
			res.Noise++
		}
	}

	slog.Debug("dbscan complete",
		"points", n,
		"clusters", res.Clusters,
		"noise", res.Noise,
		"eps", p.Eps,
		"min_samples", p.MinSamples,
	)
	return res, nil
}

// neighborhoods returns, for every point, the ascending indices of all points
// within Eps (itself included). Rows are split into contiguous chunks and
// computed concurrently.
func neighborhoods(ctx context.Context, points []embedder.Vector, p Params) ([][]int, error) {
	n := len(points)
	normed := make([]embedder.Vector, n)
	for i, v := range points {
		normed[i] = v.Normalized()
	}

	workers := p.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > n {
		workers = n
	}
	chunk := (n + workers - 1) / workers

	out := make([][]int, n)
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < n; start += chunk {
		lo, hi := start, min(start+chunk, n)
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if i%256 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				out[i] = rowNeighbors(normed, i, p.Eps)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("cluster: computing neighborhoods: %w", err)
	}
	return out, nil
}

func rowNeighbors(normed []embedder.Vector, i int, eps float64) []int {
	var row []int
	a := normed[i]
	zeroA := a.IsZero()
	for j, b := range normed {
		if j == i {
			row = append(row, j)
			continue
		}
		d := 1.0 // a zero vector has no direction
		if !zeroA && !b.IsZero() {
			d = 1 - embedder.Dot(a, b)
		}
		if d <= eps {
			row = append(row, j)
		}
	}
	return row
}

package cluster

import (
	"math"

	"github.com/setevik/logsentinel/internal/embedder"
)

// Scale divides every column by its population standard deviation without
// centering, so sparse vectors stay sparse. Columns with zero variance are
// left untouched. The input vectors are not modified.
func Scale(points []embedder.Vector) []embedder.Vector {
	if len(points) == 0 {
		return nil
	}
	dim := points[0].Dim
	sum := make([]float64, dim)
	sumSq := make([]float64, dim)
	for _, v := range points {
		for i, idx := range v.Indices {
			x := v.Values[i]
			sum[idx] += x
			sumSq[idx] += x * x
		}
	}

	n := float64(len(points))
	scale := make([]float64, dim)
	for i := range scale {
		mean := sum[i] / n
		variance := sumSq[i]/n - mean*mean
		if variance <= 0 {
			scale[i] = 1
			continue
		}
		scale[i] = math.Sqrt(variance)
	}

	out := make([]embedder.Vector, len(points))
	for k, v := range points {
		vals := make([]float64, len(v.Values))
		for i, idx := range v.Indices {
			vals[i] = v.Values[i] / scale[idx]
		}
		out[k] = embedder.Vector{Dim: v.Dim, Indices: v.Indices, Values: vals}
	}
	return out
}

package embedder

import "math"

// Vector is a sparse embedding over a frozen vocabulary. Indices are strictly
// ascending and Values[i] is the weight of term Indices[i].
type Vector struct {
	Dim     int       `json:"dim"`
	Indices []int     `json:"indices"`
	Values  []float64 `json:"values"`
}

// Norm returns the Euclidean norm of the vector.
func (v Vector) Norm() float64 {
	var s float64
	for _, x := range v.Values {
		s += x * x
	}
	return math.Sqrt(s)
}

// IsZero reports whether the vector has no non-zero weight.
func (v Vector) IsZero() bool {
	for _, x := range v.Values {
		if x != 0 {
			return false
		}
	}
	return true
}

// Dense expands the vector to a slice of length Dim.
func (v Vector) Dense() []float64 {
	out := make([]float64, v.Dim)
	for i, idx := range v.Indices {
		out[idx] = v.Values[i]
	}
	return out
}

// Normalized returns a copy of v with every weight divided by the norm. The zero
// vector is returned unchanged.
func (v Vector) Normalized() Vector {
	n := v.Norm()
	if n == 0 {
		return v
	}
	vals := make([]float64, len(v.Values))
	for i, x := range v.Values {
		vals[i] = x / n
	}
	return Vector{Dim: v.Dim, Indices: v.Indices, Values: vals}
}

// Dot returns the inner product of two sparse vectors.
func Dot(a, b Vector) float64 {
	var s float64
	i, j := 0, 0
	for i < len(a.Indices) && j < len(b.Indices) {
		switch {
		case a.Indices[i] == b.Indices[j]:
			s += a.Values[i] * b.Values[j]
			i++
			j++
		case a.Indices[i] < b.Indices[j]:
			i++
		default:
			j++
		}
	}
	return s
}

// CosineDistance returns 1 - cos(a, b), clamped to [0, 2]. A zero vector has
// no direction, so its distance to anything is 1.
func CosineDistance(a, b Vector) float64 {
	na, nb := a.Norm(), b.Norm()
	if na == 0 || nb == 0 {
		return 1
	}
	return clampDistance(1 - Dot(a, b)/(na*nb))
}

// CosineDistanceDense is CosineDistance between a sparse vector and a dense
// one such as the baseline centroid.
func CosineDistanceDense(a Vector, c []float64) float64 {
	var dot, nc float64
	for _, x := range c {
		nc += x * x
	}
	for i, idx := range a.Indices {
		if idx < len(c) {
			dot += a.Values[i] * c[idx]
		}
	}
	na := a.Norm()
	if na == 0 || nc == 0 {
		return 1
	}
	return clampDistance(1 - dot/(na*math.Sqrt(nc)))
}

// clampDistance removes floating point excursions outside [0, 2], which
// would otherwise print as -0.000 for identical directions.
func clampDistance(d float64) float64 {
	switch {
	case d < 0:
		return 0
	case d > 2:
		return 2
	default:
		return d
	}
}

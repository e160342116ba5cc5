package kde

import (
	"fmt"
	"math"
	"strings"
)

// DistanceMetric provides distance computation with optional reduced distance
// for tree-bound optimizations (e.g., squared Euclidean skips sqrt).
// DistToRdist and RdistToDist convert between the two spaces; both must be
// monotonically non-decreasing.
type DistanceMetric interface {
	Distance(a, b []float64) float64
	ReducedDistance(a, b []float64) float64
	DistToRdist(d float64) float64
	RdistToDist(rd float64) float64
}

// DistanceFunc adapts a plain function into a DistanceMetric.
// ReducedDistance delegates to the same function.
type DistanceFunc func(a, b []float64) float64

func (f DistanceFunc) Distance(a, b []float64) float64        { return f(a, b) }
func (f DistanceFunc) ReducedDistance(a, b []float64) float64 { return f(a, b) }
func (DistanceFunc) DistToRdist(d float64) float64            { return d }
func (DistanceFunc) RdistToDist(rd float64) float64           { return rd }

// EuclideanMetric computes the Euclidean (L2) distance.
// ReducedDistance returns squared Euclidean distance (skips sqrt).
type EuclideanMetric struct{}

func (EuclideanMetric) Distance(a, b []float64) float64 {
	return math.Sqrt(euclideanSumOfSquares(a, b))
}

func (EuclideanMetric) ReducedDistance(a, b []float64) float64 {
	return euclideanSumOfSquares(a, b)
}

func (EuclideanMetric) DistToRdist(d float64) float64  { return d * d }
func (EuclideanMetric) RdistToDist(rd float64) float64 { return math.Sqrt(rd) }

func euclideanSumOfSquares(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// ManhattanMetric computes the Manhattan (L1 / city-block) distance.
type ManhattanMetric struct{}

func (ManhattanMetric) Distance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += math.Abs(a[i] - b[i])
	}
	return sum
}

func (m ManhattanMetric) ReducedDistance(a, b []float64) float64 { return m.Distance(a, b) }
func (ManhattanMetric) DistToRdist(d float64) float64            { return d }
func (ManhattanMetric) RdistToDist(rd float64) float64           { return rd }

// CosineMetric computes the cosine distance: 1 - cosine_similarity.
// For two zero vectors, the result is NaN (0/0). Cosine distance does not
// satisfy the triangle inequality, so it is only usable by brute force.
type CosineMetric struct{}

func (CosineMetric) Distance(a, b []float64) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	return 1.0 - dot/math.Sqrt(normA*normB)
}

func (m CosineMetric) ReducedDistance(a, b []float64) float64 { return m.Distance(a, b) }
func (CosineMetric) DistToRdist(d float64) float64            { return d }
func (CosineMetric) RdistToDist(rd float64) float64           { return rd }

// ChebyshevMetric computes the Chebyshev (L-infinity) distance.
type ChebyshevMetric struct{}

func (ChebyshevMetric) Distance(a, b []float64) float64 {
	var maxVal float64
	for i := range a {
		if v := math.Abs(a[i] - b[i]); v > maxVal {
			maxVal = v
		}
	}
	return maxVal
}

func (m ChebyshevMetric) ReducedDistance(a, b []float64) float64 { return m.Distance(a, b) }
func (ChebyshevMetric) DistToRdist(d float64) float64            { return d }
func (ChebyshevMetric) RdistToDist(rd float64) float64           { return rd }

// MinkowskiMetric computes the Minkowski distance parameterized by P.
// P must be >= 1. Panics if P < 1.
// ReducedDistance returns sum(|a[i]-b[i]|^P) without the final root.
type MinkowskiMetric struct {
	P float64
}

func (m MinkowskiMetric) Distance(a, b []float64) float64 {
	return math.Pow(m.rawSum(a, b), 1.0/m.P)
}

func (m MinkowskiMetric) ReducedDistance(a, b []float64) float64 {
	return m.rawSum(a, b)
}

func (m MinkowskiMetric) DistToRdist(d float64) float64  { return math.Pow(d, m.P) }
func (m MinkowskiMetric) RdistToDist(rd float64) float64 { return math.Pow(rd, 1.0/m.P) }

func (m MinkowskiMetric) rawSum(a, b []float64) float64 {
	if m.P < 1 {
		panic("MinkowskiMetric: P must be >= 1")
	}
	var sum float64
	for i := range a {
		sum += math.Pow(math.Abs(a[i]-b[i]), m.P)
	}
	return sum
}

// MetricByName resolves a metric name. p is only read for "minkowski".
func MetricByName(name string, p float64) (DistanceMetric, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "euclidean", "l2":
		return EuclideanMetric{}, nil
	case "manhattan", "l1", "cityblock":
		return ManhattanMetric{}, nil
	case "chebyshev", "linf":
		return ChebyshevMetric{}, nil
	case "minkowski":
		if p < 1 {
			return nil, fmt.Errorf("kde: minkowski P must be >= 1, got %g: %w", p, ErrInvalidConfig)
		}
		return MinkowskiMetric{P: p}, nil
	case "cosine":
		return CosineMetric{}, nil
	default:
		return nil, fmt.Errorf("kde: unknown metric %q: %w", name, ErrInvalidConfig)
	}
}

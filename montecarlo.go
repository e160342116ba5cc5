package kde

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// sampler estimates the mean kernel value between a query point and the
// points of a reference node by sequential sampling with replacement.
//
// A sample of size s is accepted when the normal-approximation confidence
// half-width z·σ/√s is at most relError·μ, where z is the two-sided normal
// quantile for the configured probability. Otherwise s doubles, reusing the
// values already drawn, until s exceeds the node size.
type sampler struct {
	rng      *rand.Rand
	z        float64
	relError float64
	initial  int
	buf      []float64

	evaluations int
}

func newSampler(rng *rand.Rand, mcProb, relError float64, initialSampleSize int) *sampler {
	return &sampler{
		rng:      rng,
		z:        distuv.UnitNormal.Quantile((1 + mcProb) / 2),
		relError: relError,
		initial:  max(initialSampleSize, 2),
	}
}

// estimate returns the sampled mean of kernel(metric(query, p)) over the
// points p at tree positions [start, end), excluding position skip when it is
// non-negative. ok is false when no sample size up to the node size reached
// the confidence target.
func (s *sampler) estimate(query []float64, tree SpatialTree, metric DistanceMetric, kernel Kernel,
	start, end, skip int) (mean float64, ok bool) {
	m := end - start
	if skip >= 0 {
		m--
	}
	if m <= 0 || s.relError <= 0 {
		return 0, false
	}

	idx := tree.IdxArray()
	s.buf = s.buf[:0]
	for size := s.initial; size <= m; size *= 2 {
		for len(s.buf) < size {
			pos := start + s.rng.IntN(m)
			if skip >= 0 && pos >= skip {
				pos++
			}
			k := kernel.Evaluate(metric.Distance(query, tree.Point(idx[pos])))
			s.buf = append(s.buf, k)
			s.evaluations++
		}

		mu, sigma := stat.MeanStdDev(s.buf, nil)
		if mu > 0 && s.z*sigma/math.Sqrt(float64(size)) <= s.relError*mu {
			return mu, true
		}
	}
	return 0, false
}

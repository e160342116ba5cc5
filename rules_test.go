package kde

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRules builds rules over a KD-tree of reference (1-D rows) for the
// given query rows.
func newTestRules(t *testing.T, reference, query []float64, leafSize int, mutate func(*RulesConfig)) *Rules {
	t.Helper()
	tree := NewKDTree(reference, len(reference), 1, EuclideanMetric{}, leafSize)
	cfg := RulesConfig{
		Reference: tree,
		Query:     query,
		Densities: make([]float64, len(query)),
		Metric:    EuclideanMetric{},
		Kernel:    GaussianKernel{H: 1},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	r, err := NewRules(cfg)
	require.NoError(t, err)
	return r
}

func TestRules_SinglePointSameSet(t *testing.T) {
	for _, rel := range []float64{0, 0.05} {
		r := newTestRules(t, []float64{0}, []float64{0}, 1, func(c *RulesConfig) {
			c.SameSet = true
			c.RelError = rel
		})
		NewSingleTreeTraverser(r).Traverse(0)
		assert.Equal(t, 0.0, r.densities[0], "rel=%v", rel)
	}
}

func TestRules_TwoReferencesOneQuery(t *testing.T) {
	want := 2 * GaussianKernel{H: 1}.Evaluate(1)
	for _, leafSize := range []int{1, 2} {
		r := newTestRules(t, []float64{-1, 1}, []float64{0}, leafSize, nil)
		NewSingleTreeTraverser(r).Traverse(0)
		assert.InDelta(t, want, r.densities[0], floatTol, "leafSize=%d", leafSize)
		assert.Equal(t, 2, r.BaseCases())
		assert.Equal(t, 0, r.Prunes())
	}
}

func TestRules_BaseCaseMemo(t *testing.T) {
	r := newTestRules(t, []float64{0, 3}, []float64{1}, 2, nil)
	k := GaussianKernel{H: 1}

	v1 := r.BaseCase(0, 0)
	v2 := r.BaseCase(0, 0)
	assert.InDelta(t, k.Evaluate(1), v1, floatTol)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, r.BaseCases())
	assert.InDelta(t, k.Evaluate(1), r.densities[0], floatTol, "repeated pair counted once")

	r.BaseCase(0, 1)
	r.BaseCase(0, 0) // no longer the last pair
	assert.Equal(t, 3, r.BaseCases())
	assert.InDelta(t, 2*k.Evaluate(1)+k.Evaluate(2), r.densities[0], floatTol)

	info := r.TraversalInfo()
	assert.Equal(t, 0, info.LastQueryIndex)
	assert.Equal(t, 0, info.LastReferenceIndex)
	assert.Equal(t, v1, info.LastBaseCase)

	// Resetting the bookkeeping clears the memo.
	r.SetTraversalInfo(newTraversalInfo())
	r.BaseCase(0, 0)
	assert.Equal(t, 4, r.BaseCases())
}

func TestRules_BaseCaseSelfExcluded(t *testing.T) {
	data := []float64{0, 1}
	r := newTestRules(t, data, data, 2, func(c *RulesConfig) { c.SameSet = true })

	assert.Equal(t, 0.0, r.BaseCase(1, 1))
	assert.Equal(t, 0.0, r.densities[1])
	assert.InDelta(t, GaussianKernel{H: 1}.Evaluate(1), r.BaseCase(1, 0), floatTol)
}

func TestRules_ScoreEmptyNodeIsPruned(t *testing.T) {
	// Five points, leaf size 1: slots 7 to 12 are unused.
	r := newTestRules(t, []float64{0, 1, 2, 3, 4}, []float64{2}, 1, func(c *RulesConfig) {
		c.RetainBounds = true
		c.RelError = 0.1
	})
	require.Equal(t, 0, r.refNodes[7].Count())

	score := r.Score(0, 7)
	assert.True(t, IsPruned(score))
	assert.Equal(t, 0.0, r.densities[0])
	assert.Equal(t, 1, r.Prunes())
	assert.Empty(t, r.retained)
}

func TestRules_ScoreZeroToleranceNeverPrunes(t *testing.T) {
	ref := generateFlatData(50, 1)
	r := newTestRules(t, ref, []float64{-500, 50, 500}, 4, nil)

	for q := 0; q < 3; q++ {
		for node, nd := range r.refNodes {
			if nd.Count() == 0 {
				continue
			}
			score := r.Score(q, node)
			lo, _ := r.reference.DistanceBoundsPoint(node, r.queryPoint(q))
			assert.False(t, IsPruned(score), "query %d node %d", q, node)
			assert.Equal(t, lo, score, "score is the minimum distance")
		}
	}
	assert.Equal(t, []float64{0, 0, 0}, r.densities)
	assert.Equal(t, 0, r.Prunes())
}

func TestRules_ScorePrunesFarNodeWithAbsError(t *testing.T) {
	ref := []float64{100, 100.5, 101, 101.5}
	r := newTestRules(t, ref, []float64{0}, 4, func(c *RulesConfig) { c.AbsError = 1e-6 })

	assert.True(t, IsPruned(r.Score(0, 0)))
	assert.Equal(t, 0, r.BaseCases())
	assert.Equal(t, 1, r.Prunes())
	assert.InDelta(t, 0, r.densities[0], 1e-6)

	info := r.TraversalInfo()
	assert.Equal(t, -1, info.LastQueryNode)
	assert.Equal(t, 0, info.LastReferenceNode)
	assert.True(t, IsPruned(info.LastScore))
}

func TestRules_PrunedContributionIsMidpoint(t *testing.T) {
	// Query at 0, node over [1, 2]: kernel range [K(2), K(1)].
	k := TriangularKernel{H: 4}
	r := newTestRules(t, []float64{1, 1.5, 2}, []float64{0}, 3, func(c *RulesConfig) {
		c.Kernel = k
		c.AbsError = 10
	})
	require.True(t, IsPruned(r.Score(0, 0)))
	assert.InDelta(t, 3*(k.Evaluate(1)+k.Evaluate(2))/2, r.densities[0], floatTol)
}

func TestRules_SameSetPruneCountsOthersOnly(t *testing.T) {
	// Identical points: bounds are exact, every prune adds (count-1)·K(0).
	data := []float64{5, 5, 5, 5}
	r := newTestRules(t, data, data, 4, func(c *RulesConfig) {
		c.SameSet = true
		c.RelError = 0.01
	})
	for q := range data {
		require.True(t, IsPruned(r.Score(q, 0)))
		assert.InDelta(t, 3.0, r.densities[q], floatTol)
	}
}

func TestRules_RescoreUsesBankedBudget(t *testing.T) {
	ref := []float64{0, 0.1, 0.2, 0.3, 10, 10.1, 10.2, 10.3}
	r := newTestRules(t, ref, []float64{0.15}, 4, func(c *RulesConfig) {
		c.RelError = 0.5
		c.RetainBounds = true
	})
	near, far := r.reference.ChildNodes(0)
	require.Equal(t, 0.0, r.reference.Point(r.refIdx[r.refNodes[near].IdxStart])[0])

	// Nothing is banked yet, so even a tiny kernel range cannot be pruned.
	score := r.Score(0, far)
	require.False(t, IsPruned(score))
	assert.InDelta(t, 9.85, score, 1e-12)
	assert.Len(t, r.retained, 1)

	for i := r.refNodes[near].IdxStart; i < r.refNodes[near].IdxEnd; i++ {
		r.BaseCase(0, r.refIdx[i])
	}
	before := r.densities[0]

	assert.True(t, IsPruned(r.Rescore(0, far, score)))
	assert.Equal(t, 1, r.Prunes())
	assert.InDelta(t, before, r.densities[0], 1e-15)
	assert.Empty(t, r.retained, "rescore consumes the kept bounds")

	// Consumed bounds cannot prune twice.
	assert.Equal(t, score, r.Rescore(0, far, score))
	assert.Equal(t, 1, r.Prunes())

	// A pruned score stays pruned.
	assert.True(t, IsPruned(r.Rescore(0, far, pruned)))
}

func TestRules_RescoreWithoutRetainedBounds(t *testing.T) {
	r := newTestRules(t, []float64{0, 1}, []float64{0.5}, 1, func(c *RulesConfig) { c.RelError = 0.1 })
	assert.Equal(t, 0.25, r.Rescore(0, 1, 0.25))
	assert.Equal(t, 0, r.Prunes())
}

func TestRules_ScoreDual(t *testing.T) {
	ref := []float64{100, 100.5, 101, 101.5}
	query := []float64{0, 0.5}
	refTree := NewKDTree(ref, 4, 1, EuclideanMetric{}, 4)
	queryTree := NewKDTree(query, 2, 1, EuclideanMetric{}, 2)

	cfg := RulesConfig{
		Reference: refTree,
		Query:     query,
		QueryTree: queryTree,
		Densities: make([]float64, 2),
		AbsError:  1e-6,
		Metric:    EuclideanMetric{},
		Kernel:    GaussianKernel{H: 1},
	}
	r, err := NewRules(cfg)
	require.NoError(t, err)

	assert.True(t, IsPruned(r.ScoreDual(0, 0)))
	assert.Equal(t, 0, r.BaseCases())
	info := r.TraversalInfo()
	assert.Equal(t, 0, info.LastQueryNode)
	assert.Equal(t, 0, info.LastReferenceNode)

	// Without tolerance the same pair returns the minimum distance.
	cfg.AbsError = 0
	cfg.Densities = make([]float64, 2)
	r, err = NewRules(cfg)
	require.NoError(t, err)
	assert.InDelta(t, 99.5, r.ScoreDual(0, 0), 1e-12)
}

func TestRules_ScoreDualWithoutQueryTreePanics(t *testing.T) {
	r := newTestRules(t, []float64{0, 1}, []float64{0}, 1, nil)
	assert.Panics(t, func() { r.ScoreDual(0, 0) })
}

func TestRules_KernelBandwidth(t *testing.T) {
	r := newTestRules(t, []float64{0}, []float64{0}, 1, func(c *RulesConfig) { c.Kernel = EpanechnikovKernel{H: 0.25} })
	h, err := r.KernelBandwidth()
	require.NoError(t, err)
	assert.Equal(t, 0.25, h)

	r = newTestRules(t, []float64{0}, []float64{0}, 1, func(c *RulesConfig) {
		c.Kernel = KernelFunc(func(d float64) float64 { return math.Exp(-d) })
	})
	_, err = r.KernelBandwidth()
	assert.ErrorIs(t, err, ErrNoBandwidth)
}

func TestNewRules_Validation(t *testing.T) {
	tree := NewKDTree([]float64{0, 1, 2}, 3, 1, EuclideanMetric{}, 1)
	other := NewKDTree([]float64{0, 1}, 2, 1, EuclideanMetric{}, 1)
	valid := func() RulesConfig {
		return RulesConfig{
			Reference: tree,
			Query:     []float64{0, 1, 2},
			Densities: make([]float64, 3),
			Metric:    EuclideanMetric{},
			Kernel:    GaussianKernel{H: 1},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*RulesConfig)
		wantErr error
	}{
		{"no reference", func(c *RulesConfig) { c.Reference = nil }, ErrInvalidConfig},
		{"no metric", func(c *RulesConfig) { c.Metric = nil }, ErrInvalidConfig},
		{"no kernel", func(c *RulesConfig) { c.Kernel = nil }, ErrInvalidConfig},
		{"negative rel", func(c *RulesConfig) { c.RelError = -0.1 }, ErrInvalidConfig},
		{"NaN abs", func(c *RulesConfig) { c.AbsError = math.NaN() }, ErrInvalidConfig},
		{"mc prob 1", func(c *RulesConfig) { c.MonteCarlo = true; c.MCProb = 1; c.InitialSampleSize = 10 }, ErrInvalidConfig},
		{"mc sample size 0", func(c *RulesConfig) { c.MonteCarlo = true; c.MCProb = 0.9 }, ErrInvalidConfig},
		{"query length", func(c *RulesConfig) { c.Query = []float64{0, 1} }, ErrDimensionMismatch},
		{"query tree size", func(c *RulesConfig) { c.QueryTree = other }, ErrDimensionMismatch},
		{"same set sizes", func(c *RulesConfig) {
			c.SameSet = true
			c.Query = []float64{0, 1}
			c.Densities = make([]float64, 2)
		}, ErrInvalidConfig},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			_, err := NewRules(cfg)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}

	// Monte Carlo parameters are ignored while sampling is off.
	cfg := valid()
	cfg.MCProb = 7
	_, err := NewRules(cfg)
	assert.NoError(t, err)
}

func TestKernelBoundsNaN(t *testing.T) {
	r := newTestRules(t, []float64{0}, []float64{0}, 1, func(c *RulesConfig) {
		c.Kernel = KernelFunc(func(d float64) float64 { return math.NaN() })
	})
	kb := r.kernelBounds(0, 1)
	assert.Equal(t, 0.0, kb.lo)
	assert.True(t, math.IsInf(kb.hi, 1))
}

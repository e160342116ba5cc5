package kde

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// pruned is the score returned when a node pair needs no further recursion.
var pruned = math.Inf(1)

// IsPruned reports whether a score returned by Score, ScoreDual, Rescore or
// RescoreDual means the pair was resolved without recursion.
func IsPruned(score float64) bool { return math.IsInf(score, 1) }

// RulesConfig configures one estimation run. The point sets and the density
// accumulator are borrowed: the rules read Reference and Query and add into
// Densities in place, so none of them may be modified by the caller until the
// traversal finishes.
type RulesConfig struct {
	// Reference is the tree over the reference set.
	Reference SpatialTree

	// Query is the flat row-major query set, indexed like Densities.
	Query []float64

	// QueryTree is the tree over Query. Only ScoreDual and RescoreDual use it.
	QueryTree SpatialTree

	// Densities receives one kernel sum per query point. It must be sized to
	// the query count and is normally zeroed by the caller.
	Densities []float64

	// RelError and AbsError bound the error of every density:
	// |estimate - exact| <= RelError*exact + AbsError. Both must be >= 0.
	RelError float64
	AbsError float64

	// MonteCarlo enables sampling for reference nodes holding more than
	// InitialSampleSize points. MCProb in (0, 1) is the probability that a
	// sampled node meets RelError. Both are validated only when MonteCarlo is set.
	MonteCarlo        bool
	MCProb            float64
	InitialSampleSize int

	Metric DistanceMetric
	Kernel Kernel

	// SameSet marks the query set as the reference set (monochromatic run);
	// self pairs then contribute nothing.
	SameSet bool

	// RetainBounds keeps the kernel bounds of every unresolved Score call so
	// that Rescore can revalidate it later. Priority-driven traversals set it.
	RetainBounds bool

	// Rand drives Monte Carlo sampling. nil seeds a fresh generator.
	Rand *rand.Rand
}

// kernelBounds is the kernel value range for one query/reference pair of regions.
type kernelBounds struct {
	lo, hi float64
}

func (kb kernelBounds) mid() float64 { return (kb.lo + kb.hi) / 2 }

type boundKey struct {
	query, queryNode, referenceNode int
}

// Rules implements the scoring and base-case decisions of dual-tree and
// single-tree kernel density estimation. A Rules value belongs to a single
// traversal; it is not safe for concurrent use.
//
// Every reference point carries an error budget of RelError·k + AbsError/N.
// A node resolved from its distance bounds adds the midpoint of its kernel
// range and costs half the range per point. Budget left unused by exact base
// cases is banked per query point and may be spent by later pruning.
type Rules struct {
	reference SpatialTree
	refNodes  []NodeData
	refIdx    []int
	refPos    []int // inverse of refIdx, only when sameSet

	query     []float64
	queryTree SpatialTree
	dims      int

	densities []float64
	slack     []float64

	relError    float64
	pointBudget float64
	tolerant    bool

	monteCarlo        bool
	initialSampleSize int
	sampler           *sampler

	metric  DistanceMetric
	kernel  Kernel
	sameSet bool

	retained map[boundKey]kernelBounds

	info      TraversalInfo
	baseCases int
	scores    int
	prunes    int
	mcPrunes  int
}

// NewRules validates cfg and returns rules ready for a fresh traversal.
func NewRules(cfg RulesConfig) (*Rules, error) {
	if err := validateRulesConfig(&cfg); err != nil {
		return nil, err
	}

	rng := cfg.Rand
	if rng == nil {
		rng = newRand(0, 0)
	}

	r := &Rules{
		reference:         cfg.Reference,
		refNodes:          cfg.Reference.NodeDataArray(),
		refIdx:            cfg.Reference.IdxArray(),
		query:             cfg.Query,
		queryTree:         cfg.QueryTree,
		dims:              cfg.Reference.NumFeatures(),
		densities:         cfg.Densities,
		slack:             make([]float64, len(cfg.Densities)),
		relError:          cfg.RelError,
		tolerant:          cfg.RelError > 0 || cfg.AbsError > 0,
		monteCarlo:        cfg.MonteCarlo,
		initialSampleSize: cfg.InitialSampleSize,
		metric:            cfg.Metric,
		kernel:            cfg.Kernel,
		sameSet:           cfg.SameSet,
		info:              newTraversalInfo(),
	}
	if n := cfg.Reference.NumPoints(); n > 0 {
		r.pointBudget = cfg.AbsError / float64(n)
	}
	if cfg.MonteCarlo {
		r.sampler = newSampler(rng, cfg.MCProb, cfg.RelError, cfg.InitialSampleSize)
	}
	if cfg.RetainBounds && r.tolerant {
		r.retained = make(map[boundKey]kernelBounds)
	}
	if cfg.SameSet {
		r.refPos = make([]int, len(r.refIdx))
		for pos, i := range r.refIdx {
			r.refPos[i] = pos
		}
	}
	return r, nil
}

func validateRulesConfig(cfg *RulesConfig) error {
	if cfg.Reference == nil {
		return fmt.Errorf("kde: reference tree is required: %w", ErrInvalidConfig)
	}
	if cfg.Metric == nil || cfg.Kernel == nil {
		return fmt.Errorf("kde: metric and kernel are required: %w", ErrInvalidConfig)
	}
	if !(cfg.RelError >= 0) || !(cfg.AbsError >= 0) {
		return fmt.Errorf("kde: error tolerances must be >= 0, got rel=%g abs=%g: %w",
			cfg.RelError, cfg.AbsError, ErrInvalidConfig)
	}
	if cfg.MonteCarlo {
		if !(cfg.MCProb > 0 && cfg.MCProb < 1) {
			return fmt.Errorf("kde: MCProb must be in (0, 1), got %g: %w", cfg.MCProb, ErrInvalidConfig)
		}
		if cfg.InitialSampleSize < 1 {
			return fmt.Errorf("kde: InitialSampleSize must be >= 1, got %d: %w", cfg.InitialSampleSize, ErrInvalidConfig)
		}
	}

	dims := cfg.Reference.NumFeatures()
	n := len(cfg.Densities)
	if len(cfg.Query) != n*dims {
		return fmt.Errorf("kde: query set has %d values, want %d rows of %d: %w",
			len(cfg.Query), n, dims, ErrDimensionMismatch)
	}
	if qt := cfg.QueryTree; qt != nil && (qt.NumPoints() != n || qt.NumFeatures() != dims) {
		return fmt.Errorf("kde: query tree holds %d points of dimension %d, want %d of %d: %w",
			qt.NumPoints(), qt.NumFeatures(), n, dims, ErrDimensionMismatch)
	}
	if cfg.SameSet && cfg.Reference.NumPoints() != n {
		return fmt.Errorf("kde: same-set run with %d references and %d queries: %w",
			cfg.Reference.NumPoints(), n, ErrInvalidConfig)
	}
	return nil
}

// BaseCase evaluates the kernel between one query and one reference point
// and adds it to the query's density. Repeating the previous pair returns the
// previous value without accumulating it again. Under SameSet a point paired
// with itself contributes and returns 0.
func (r *Rules) BaseCase(queryIndex, referenceIndex int) float64 {
	if r.info.LastQueryIndex == queryIndex && r.info.LastReferenceIndex == referenceIndex {
		return r.info.LastBaseCase
	}

	r.baseCases++
	var k float64
	if !r.sameSet || queryIndex != referenceIndex {
		k = r.kernel.Evaluate(r.metric.Distance(r.queryPoint(queryIndex), r.reference.Point(referenceIndex)))
		r.densities[queryIndex] += k
		r.slack[queryIndex] += r.relError*k + r.pointBudget
	}

	r.info.LastQueryIndex = queryIndex
	r.info.LastReferenceIndex = referenceIndex
	r.info.LastBaseCase = k
	return k
}

// Score decides whether referenceNode's contribution to one query point can
// be resolved without visiting its points. It returns the pruned sentinel
// (see IsPruned) after adding the contribution, or the minimum distance
// between the query and the node as the visit priority.
func (r *Rules) Score(queryIndex, referenceNode int) float64 {
	r.scores++
	score := r.score(queryIndex, referenceNode)
	r.info.LastQueryNode = -1
	r.info.LastReferenceNode = referenceNode
	r.info.LastScore = score
	return score
}

func (r *Rules) score(queryIndex, referenceNode int) float64 {
	nd := r.refNodes[referenceNode]
	if nd.Count() == 0 {
		r.prunes++
		return pruned
	}

	q := r.queryPoint(queryIndex)
	minDist, maxDist := r.reference.DistanceBoundsPoint(referenceNode, q)
	kb := r.kernelBounds(minDist, maxDist)

	if r.pruneSingle(queryIndex, nd, kb) {
		r.prunes++
		return pruned
	}

	if r.monteCarlo && nd.Count() > r.initialSampleSize {
		skip := r.selfPosition(queryIndex, nd)
		if mean, ok := r.sampler.estimate(q, r.reference, r.metric, r.kernel, nd.IdxStart, nd.IdxEnd, skip); ok {
			r.densities[queryIndex] += float64(r.referenceCount(queryIndex, nd)) * mean
			r.mcPrunes++
			return pruned
		}
	}

	if r.retained != nil {
		r.retained[boundKey{queryIndex, -1, referenceNode}] = kb
	}
	return minDist
}

// ScoreDual is Score for every point of queryNode at once. The pair is only
// pruned when the bound satisfies the tolerance of each query point in the node.
func (r *Rules) ScoreDual(queryNode, referenceNode int) float64 {
	r.scores++
	score := r.scoreDual(queryNode, referenceNode)
	r.info.LastQueryNode = queryNode
	r.info.LastReferenceNode = referenceNode
	r.info.LastScore = score
	return score
}

func (r *Rules) scoreDual(queryNode, referenceNode int) float64 {
	if r.queryTree == nil {
		panic("kde: ScoreDual requires RulesConfig.QueryTree")
	}
	qnd := r.queryTree.NodeDataArray()[queryNode]
	rnd := r.refNodes[referenceNode]
	if qnd.Count() == 0 || rnd.Count() == 0 {
		r.prunes++
		return pruned
	}

	minDist, maxDist := r.queryTree.DistanceBoundsDual(queryNode, r.reference, referenceNode)
	kb := r.kernelBounds(minDist, maxDist)

	if r.pruneDual(qnd, rnd, kb) {
		r.prunes++
		return pruned
	}

	if r.monteCarlo && rnd.Count() > r.initialSampleSize && r.sampleDual(qnd, rnd) {
		r.mcPrunes++
		return pruned
	}

	if r.retained != nil {
		r.retained[boundKey{-1, queryNode, referenceNode}] = kb
	}
	return minDist
}

// Rescore revalidates a pair scored earlier against the query's current
// error budget, reusing the kernel bounds kept by Score. It returns the
// pruned sentinel if the pair can now be resolved, oldScore otherwise.
// The retained bounds are consumed either way.
func (r *Rules) Rescore(queryIndex, referenceNode int, oldScore float64) float64 {
	if IsPruned(oldScore) || r.retained == nil {
		return oldScore
	}
	key := boundKey{queryIndex, -1, referenceNode}
	kb, ok := r.retained[key]
	if !ok {
		return oldScore
	}
	delete(r.retained, key)

	if r.pruneSingle(queryIndex, r.refNodes[referenceNode], kb) {
		r.prunes++
		return pruned
	}
	return oldScore
}

// RescoreDual is Rescore for a query node.
func (r *Rules) RescoreDual(queryNode, referenceNode int, oldScore float64) float64 {
	if IsPruned(oldScore) || r.retained == nil {
		return oldScore
	}
	key := boundKey{-1, queryNode, referenceNode}
	kb, ok := r.retained[key]
	if !ok {
		return oldScore
	}
	delete(r.retained, key)

	if r.pruneDual(r.queryTree.NodeDataArray()[queryNode], r.refNodes[referenceNode], kb) {
		r.prunes++
		return pruned
	}
	return oldScore
}

// kernelBounds maps a distance range to a kernel range. Kernels are
// non-increasing, so the minimum distance gives the upper bound.
func (r *Rules) kernelBounds(minDist, maxDist float64) kernelBounds {
	kb := kernelBounds{lo: r.kernel.Evaluate(maxDist), hi: r.kernel.Evaluate(minDist)}
	if math.IsNaN(kb.lo) {
		kb.lo = 0
	}
	if math.IsNaN(kb.hi) {
		kb.hi = math.Inf(1)
	}
	return kb
}

// excess is how much the midpoint error of one reference point exceeds that
// point's own budget. Non-positive means the bounds alone are tight enough.
func (r *Rules) excess(kb kernelBounds) float64 {
	return (kb.hi-kb.lo)/2 - r.relError*kb.lo - r.pointBudget
}

func (r *Rules) pruneSingle(queryIndex int, nd NodeData, kb kernelBounds) bool {
	if !r.tolerant || math.IsInf(kb.hi, 0) {
		return false
	}
	m := float64(r.referenceCount(queryIndex, nd))
	cost := m * r.excess(kb)
	if cost > r.slack[queryIndex] {
		return false
	}
	r.densities[queryIndex] += m * kb.mid()
	r.slack[queryIndex] -= cost
	return true
}

func (r *Rules) pruneDual(qnd, rnd NodeData, kb kernelBounds) bool {
	if !r.tolerant || math.IsInf(kb.hi, 0) {
		return false
	}
	qIdx := r.queryTree.IdxArray()
	per := r.excess(kb)
	if per > 0 {
		for i := qnd.IdxStart; i < qnd.IdxEnd; i++ {
			q := qIdx[i]
			if float64(r.referenceCount(q, rnd))*per > r.slack[q] {
				return false
			}
		}
	}

	mid := kb.mid()
	for i := qnd.IdxStart; i < qnd.IdxEnd; i++ {
		q := qIdx[i]
		m := float64(r.referenceCount(q, rnd))
		r.densities[q] += m * mid
		r.slack[q] -= m * per
	}
	return true
}

// sampleDual runs the sampler for every query point in qnd and commits the
// estimates only if all of them met the confidence target.
func (r *Rules) sampleDual(qnd, rnd NodeData) bool {
	qIdx := r.queryTree.IdxArray()
	means := make([]float64, 0, qnd.Count())
	for i := qnd.IdxStart; i < qnd.IdxEnd; i++ {
		q := qIdx[i]
		skip := r.selfPosition(q, rnd)
		mean, ok := r.sampler.estimate(r.queryPoint(q), r.reference, r.metric, r.kernel, rnd.IdxStart, rnd.IdxEnd, skip)
		if !ok {
			return false
		}
		means = append(means, mean)
	}
	for i, mean := range means {
		q := qIdx[qnd.IdxStart+i]
		r.densities[q] += float64(r.referenceCount(q, rnd)) * mean
	}
	return true
}

// selfPosition returns the tree position of query point q inside nd when
// the sets coincide, or -1.
func (r *Rules) selfPosition(q int, nd NodeData) int {
	if !r.sameSet {
		return -1
	}
	if pos := r.refPos[q]; pos >= nd.IdxStart && pos < nd.IdxEnd {
		return pos
	}
	return -1
}

// referenceCount is the number of points in nd that contribute to query q.
func (r *Rules) referenceCount(q int, nd NodeData) int {
	if r.selfPosition(q, nd) >= 0 {
		return nd.Count() - 1
	}
	return nd.Count()
}

func (r *Rules) queryPoint(i int) []float64 {
	return r.query[i*r.dims : (i+1)*r.dims]
}

// KernelBandwidth returns the bandwidth of the configured kernel, or
// ErrNoBandwidth if it has none.
func (r *Rules) KernelBandwidth() (float64, error) { return KernelBandwidth(r.kernel) }

// TraversalInfo returns a snapshot of the traversal bookkeeping.
func (r *Rules) TraversalInfo() TraversalInfo { return r.info }

// SetTraversalInfo replaces the traversal bookkeeping.
func (r *Rules) SetTraversalInfo(info TraversalInfo) { r.info = info }

// BaseCases returns the number of evaluated base cases.
func (r *Rules) BaseCases() int { return r.baseCases }

// Scores returns the number of Score and ScoreDual calls.
func (r *Rules) Scores() int { return r.scores }

// Prunes returns the number of pairs resolved from distance bounds, including
// empty reference nodes.
func (r *Rules) Prunes() int { return r.prunes }

// MonteCarloPrunes returns the number of pairs resolved by sampling.
func (r *Rules) MonteCarloPrunes() int { return r.mcPrunes }

// MonteCarloSamples returns the number of kernel evaluations spent sampling.
func (r *Rules) MonteCarloSamples() int {
	if r.sampler == nil {
		return 0
	}
	return r.sampler.evaluations
}

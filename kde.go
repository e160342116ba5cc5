package kde

import (
	"errors"
	"fmt"
	"math"
	"runtime"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/mat"
)

// Algorithm selects how reference points are organized.
type Algorithm string

const (
	AlgorithmAuto     Algorithm = "auto"
	AlgorithmBrute    Algorithm = "brute"
	AlgorithmKDTree   Algorithm = "kdtree"
	AlgorithmBallTree Algorithm = "balltree"
)

// TraversalMode selects how the trees are walked.
type TraversalMode string

const (
	ModeDual      TraversalMode = "dual"
	ModeSingle    TraversalMode = "single"
	ModeBestFirst TraversalMode = "best_first"
)

// Config controls a density estimation run.
// Start with [DefaultConfig] and override the fields you need.
type Config struct {
	// Kernel is evaluated on the distance between each query and reference
	// point. It must be non-increasing in distance. Default: GaussianKernel{H: 1}.
	Kernel Kernel

	// Metric measures point distances. Tree algorithms need one of the
	// built-in axis-decomposable metrics. Default: EuclideanMetric.
	Metric DistanceMetric

	// RelError is the tolerated error relative to each exact density.
	// 0 with AbsError 0 gives exact results. Must be >= 0. Default: 0.05.
	RelError float64

	// AbsError is the tolerated absolute error per density. Must be >= 0.
	// Default: 0.
	AbsError float64

	// MonteCarlo enables sampling of large reference nodes when bounds are
	// too loose. Sampled nodes meet RelError with probability MCProb.
	// Default: false.
	MonteCarlo bool

	// MCProb is the target probability for sampled estimates, in (0, 1).
	// Default: 0.95.
	MCProb float64

	// InitialSampleSize is the first sample size drawn from a node; only
	// nodes with more points are sampled. Must be >= 1. Default: 100.
	InitialSampleSize int

	// Algorithm selects the reference structure. "auto" uses a KD-tree for
	// axis-decomposable metrics up to 60 dimensions, a ball tree above, and
	// brute force for metrics no tree can bound. Default: "auto".
	Algorithm Algorithm

	// Mode selects the traversal for tree algorithms. "dual" walks a query
	// tree against the reference tree, "single" walks the reference tree per
	// query point, "best_first" does the same in priority order with
	// rescoring. Default: "dual".
	Mode TraversalMode

	// LeafSize is the maximum number of points in a tree leaf. Default: 40.
	LeafSize int

	// Workers is the number of goroutines for brute force and the single-tree
	// modes. 0 means runtime.NumCPU(). Dual-tree runs are single-threaded.
	Workers int

	// Normalize turns kernel sums into probability densities by dividing by
	// the reference count and the kernel normalizer. The kernel must
	// implement NormalizedKernel. Default: false.
	Normalize bool

	// Seed seeds Monte Carlo sampling. 0 picks a random seed.
	Seed uint64

	// Progress, if set, is called with the number of query points finished
	// by the single-tree modes. It may be called from several goroutines.
	Progress func(n int)
}

// Result contains the output of a density estimation run.
type Result struct {
	// Densities holds one estimate per query point, in query order.
	Densities []float64

	// BaseCases counts exact point-pair kernel evaluations.
	BaseCases int

	// Scores counts node-pair scoring decisions.
	Scores int

	// Prunes counts node pairs resolved from distance bounds.
	Prunes int

	// MonteCarloPrunes counts node pairs resolved by sampling, and
	// MonteCarloSamples the kernel evaluations spent on it.
	MonteCarloPrunes  int
	MonteCarloSamples int

	// Algorithm and Mode record what actually ran after "auto" resolution.
	Algorithm Algorithm
	Mode      TraversalMode
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		Kernel:            GaussianKernel{H: 1},
		Metric:            EuclideanMetric{},
		RelError:          0.05,
		MCProb:            0.95,
		InitialSampleSize: 100,
		Algorithm:         AlgorithmAuto,
		Mode:              ModeDual,
		LeafSize:          40,
	}
}

// validateConfig checks that cfg fields are valid and returns a descriptive error if not.
func validateConfig(cfg *Config) error {
	if !(cfg.RelError >= 0) {
		return fmt.Errorf("kde: RelError must be >= 0, got %f: %w", cfg.RelError, ErrInvalidConfig)
	}
	if !(cfg.AbsError >= 0) {
		return fmt.Errorf("kde: AbsError must be >= 0, got %f: %w", cfg.AbsError, ErrInvalidConfig)
	}
	if !(cfg.MCProb > 0 && cfg.MCProb < 1) {
		return fmt.Errorf("kde: MCProb must be in (0, 1), got %f: %w", cfg.MCProb, ErrInvalidConfig)
	}
	if cfg.InitialSampleSize < 1 {
		return fmt.Errorf("kde: InitialSampleSize must be >= 1, got %d: %w", cfg.InitialSampleSize, ErrInvalidConfig)
	}
	switch cfg.Algorithm {
	case AlgorithmAuto, AlgorithmBrute, AlgorithmKDTree, AlgorithmBallTree:
		// valid
	default:
		return fmt.Errorf("kde: invalid Algorithm %q: %w", cfg.Algorithm, ErrInvalidConfig)
	}
	switch cfg.Mode {
	case ModeDual, ModeSingle, ModeBestFirst:
		// valid
	default:
		return fmt.Errorf("kde: invalid Mode %q: %w", cfg.Mode, ErrInvalidConfig)
	}
	if cfg.LeafSize < 1 {
		return fmt.Errorf("kde: LeafSize must be >= 1, got %d: %w", cfg.LeafSize, ErrInvalidConfig)
	}
	if cfg.Workers < 0 {
		return fmt.Errorf("kde: Workers must be >= 0, got %d: %w", cfg.Workers, ErrInvalidConfig)
	}
	if _, ok := cfg.Kernel.(NormalizedKernel); cfg.Normalize && !ok {
		return fmt.Errorf("kde: kernel %T: %w", cfg.Kernel, ErrNoNormalizer)
	}
	return nil
}

// applyDefaults fills in zero-valued config fields with their defaults.
func applyDefaults(cfg *Config) {
	if cfg.Kernel == nil {
		cfg.Kernel = GaussianKernel{H: 1}
	}
	if cfg.Metric == nil {
		cfg.Metric = EuclideanMetric{}
	}
	if cfg.MCProb == 0 {
		cfg.MCProb = 0.95
	}
	if cfg.InitialSampleSize == 0 {
		cfg.InitialSampleSize = 100
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgorithmAuto
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeDual
	}
	if cfg.LeafSize == 0 {
		cfg.LeafSize = 40
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}
}

// Estimate computes, for each query point, the sum of the kernel over every
// reference point. Each element of reference and query is a point; all
// points must have the same dimensionality.
func Estimate(reference, query [][]float64, cfg Config) (*Result, error) {
	refData, nRef, refDims, err := flatten(reference)
	if err != nil {
		return nil, err
	}
	queryData, nQuery, queryDims, err := flatten(query)
	if err != nil {
		return nil, err
	}
	dims := refDims
	if nRef == 0 {
		dims = queryDims
	}
	if nRef > 0 && nQuery > 0 && refDims != queryDims {
		return nil, fmt.Errorf("kde: reference dimension %d, query dimension %d: %w", refDims, queryDims, ErrDimensionMismatch)
	}
	return estimate(refData, nRef, queryData, nQuery, dims, false, cfg)
}

// EstimateMonochromatic estimates the density at every point of data using
// data itself as the reference set. Each point's own contribution is excluded.
func EstimateMonochromatic(data [][]float64, cfg Config) (*Result, error) {
	flat, n, dims, err := flatten(data)
	if err != nil {
		return nil, err
	}
	return estimate(flat, n, flat, n, dims, true, cfg)
}

// EstimateMatrix is Estimate for point sets held in gonum matrices, one point
// per row.
func EstimateMatrix(reference, query mat.Matrix, cfg Config) (*Result, error) {
	refData, nRef, refDims := flattenMatrix(reference)
	queryData, nQuery, queryDims := flattenMatrix(query)
	if refDims != queryDims {
		return nil, fmt.Errorf("kde: reference dimension %d, query dimension %d: %w", refDims, queryDims, ErrDimensionMismatch)
	}
	return estimate(refData, nRef, queryData, nQuery, refDims, false, cfg)
}

func estimate(refData []float64, nRef int, queryData []float64, nQuery, dims int, sameSet bool, cfg Config) (*Result, error) {
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	if cfg.MonteCarlo && cfg.RelError == 0 {
		log.Warn().Msg("kde: Monte Carlo sampling needs RelError > 0; no node will be sampled")
	}

	algo, err := selectAlgorithm(cfg, dims)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Densities: make([]float64, nQuery),
		Algorithm: algo,
		Mode:      cfg.Mode,
	}
	if nQuery == 0 || nRef == 0 {
		return res, nil
	}

	if algo == AlgorithmBrute {
		res.Densities = BruteForceDensitiesParallel(refData, nRef, queryData, nQuery, dims,
			cfg.Metric, cfg.Kernel, sameSet, cfg.Workers)
		res.BaseCases = nRef * nQuery
	} else if err := estimateTree(res, algo, refData, nRef, queryData, nQuery, dims, sameSet, cfg); err != nil {
		return nil, err
	}

	if cfg.Normalize {
		norm := float64(nRef) * cfg.Kernel.(NormalizedKernel).Normalizer(dims)
		if norm == 0 || math.IsInf(norm, 0) {
			return nil, fmt.Errorf("kde: kernel normalizer is %g: %w", norm, ErrNoNormalizer)
		}
		for i := range res.Densities {
			res.Densities[i] /= norm
		}
	}

	log.Debug().
		Str("algorithm", string(algo)).
		Str("mode", string(cfg.Mode)).
		Int("references", nRef).
		Int("queries", nQuery).
		Int("base_cases", res.BaseCases).
		Int("scores", res.Scores).
		Int("prunes", res.Prunes).
		Int("mc_prunes", res.MonteCarloPrunes).
		Int("mc_samples", res.MonteCarloSamples).
		Msg("kde: estimation complete")

	return res, nil
}

// estimateTree builds the trees and runs the configured traversal, writing
// into res.
func estimateTree(res *Result, algo Algorithm, refData []float64, nRef int, queryData []float64, nQuery, dims int,
	sameSet bool, cfg Config) error {
	refTree := buildTree(algo, refData, nRef, dims, cfg)
	rc := RulesConfig{
		Reference:         refTree,
		Query:             queryData,
		Densities:         res.Densities,
		RelError:          cfg.RelError,
		AbsError:          cfg.AbsError,
		MonteCarlo:        cfg.MonteCarlo,
		MCProb:            cfg.MCProb,
		InitialSampleSize: cfg.InitialSampleSize,
		Metric:            cfg.Metric,
		Kernel:            cfg.Kernel,
		SameSet:           sameSet,
	}

	var stats traversalStats
	switch cfg.Mode {
	case ModeDual:
		rc.QueryTree = refTree
		if !sameSet {
			rc.QueryTree = buildTree(algo, queryData, nQuery, dims, cfg)
		}
		rc.Rand = newRand(cfg.Seed, 0)
		rules, err := NewRules(rc)
		if err != nil {
			return err
		}
		NewDualTreeTraverser(rules).Traverse()
		stats.add(rules)
	default:
		var err error
		stats, err = traverseSingleParallel(rc, nQuery, cfg.Workers, cfg.Seed, cfg.Mode == ModeBestFirst, cfg.Progress)
		if err != nil {
			return err
		}
	}

	res.BaseCases = stats.baseCases
	res.Scores = stats.scores
	res.Prunes = stats.prunes
	res.MonteCarloPrunes = stats.mcPrunes
	res.MonteCarloSamples = stats.mcSamples
	return nil
}

// flatten copies rows into a flat row-major slice, checking that every row
// has the same length.
func flatten(rows [][]float64) (data []float64, n, dims int, err error) {
	n = len(rows)
	if n == 0 {
		return nil, 0, 0, nil
	}
	dims = len(rows[0])
	data = make([]float64, n*dims)
	for i, row := range rows {
		if len(row) != dims {
			return nil, 0, 0, fmt.Errorf("kde: row %d has %d values, want %d: %w", i, len(row), dims, ErrDimensionMismatch)
		}
		copy(data[i*dims:], row)
	}
	return data, n, dims, nil
}

func flattenMatrix(m mat.Matrix) (data []float64, n, dims int) {
	n, dims = m.Dims()
	data = make([]float64, 0, n*dims)
	row := make([]float64, dims)
	for i := 0; i < n; i++ {
		data = append(data, mat.Row(row, i, m)...)
	}
	return data, n, dims
}

// IsConfigError reports whether err came from configuration validation.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidConfig) || errors.Is(err, ErrNoBandwidth) ||
		errors.Is(err, ErrNoNormalizer) || errors.Is(err, ErrDimensionMismatch)
}

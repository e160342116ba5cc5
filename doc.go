// Package kde implements dual-tree kernel density estimation.
//
// For every query point, KDE sums a kernel function of the distance to every
// reference point. Instead of evaluating all query/reference pairs, the
// estimator organizes both sets in space-partitioning trees and bounds the
// contribution of whole nodes: a node pair whose kernel range is narrow
// enough is resolved from its bounds, a large node can be approximated by
// Monte Carlo sampling, and only the remaining pairs are evaluated exactly.
// Every estimate stays within RelError·exact + AbsError of the exact sum
// (sampled nodes with probability MCProb).
//
// Basic usage:
//
//	cfg := kde.DefaultConfig()
//	cfg.Kernel = kde.GaussianKernel{H: 0.5}
//	cfg.RelError = 0.01
//	result, err := kde.Estimate(reference, query, cfg)
//	// result.Densities[i] is the kernel sum at query point i
//
// For leave-one-out estimates over a single set:
//
//	result, err := kde.EstimateMonochromatic(data, cfg)
//
// # Traversal rules
//
// The decision logic lives in [Rules], which can also be driven by custom
// traversals over any [SpatialTree]: [Rules.BaseCase] evaluates one point
// pair, [Rules.Score] and [Rules.ScoreDual] bound a node pair and either
// resolve it or return a visit priority, and [Rules.Rescore] revalidates a
// queued pair before expansion.
//
// # Logging
//
// The package logs through zerolog. Set KDE_LOG=debug to see per-run
// traversal statistics, or KDE_LOG=off to silence it.
package kde

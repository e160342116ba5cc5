package kde

import "errors"

var (
	// ErrInvalidConfig is wrapped by every configuration validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNoBandwidth is returned when a bandwidth is requested from a kernel
	// that does not expose one.
	ErrNoBandwidth = errors.New("cannot get bandwidth from kernel")

	// ErrNoNormalizer is returned when normalized densities are requested
	// with a kernel that has no normalizing constant.
	ErrNoNormalizer = errors.New("kernel has no normalizer")

	// ErrDimensionMismatch is returned when points of different
	// dimensionality are mixed.
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

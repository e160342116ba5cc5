package kde

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Kernel evaluates a kernel function at a distance. Every kernel used for
// bounding must be non-increasing in distance: the minimum distance between
// two regions then maps to the kernel upper bound and the maximum distance to
// the lower bound.
type Kernel interface {
	Evaluate(distance float64) float64
}

// BandwidthKernel is a Kernel with a scale parameter.
type BandwidthKernel interface {
	Kernel
	Bandwidth() float64
}

// NormalizedKernel is a Kernel whose integral over R^dims is known, so raw
// kernel sums can be turned into probability densities.
type NormalizedKernel interface {
	Kernel
	Normalizer(dims int) float64
}

// KernelFunc adapts a plain function into a Kernel. It has no bandwidth.
type KernelFunc func(distance float64) float64

func (f KernelFunc) Evaluate(distance float64) float64 { return f(distance) }

// KernelBandwidth returns the bandwidth of k, or ErrNoBandwidth if k does not
// expose one.
func KernelBandwidth(k Kernel) (float64, error) {
	bk, ok := k.(BandwidthKernel)
	if !ok {
		return 0, fmt.Errorf("kde: kernel %T: %w", k, ErrNoBandwidth)
	}
	return bk.Bandwidth(), nil
}

// zeroWidth is the limit of every built-in kernel as the bandwidth goes to 0.
func zeroWidth(distance float64) float64 {
	if distance == 0 {
		return 1
	}
	return 0
}

// GaussianKernel is exp(-d²/2h²).
type GaussianKernel struct {
	H float64
}

func (k GaussianKernel) Evaluate(distance float64) float64 {
	if k.H == 0 {
		return zeroWidth(distance)
	}
	return math.Exp(-distance * distance / (2 * k.H * k.H))
}

func (k GaussianKernel) Bandwidth() float64 { return k.H }

func (k GaussianKernel) Normalizer(dims int) float64 {
	return math.Pow(math.Sqrt(2*math.Pi)*k.H, float64(dims))
}

// EpanechnikovKernel is max(0, 1 - d²/h²).
type EpanechnikovKernel struct {
	H float64
}

func (k EpanechnikovKernel) Evaluate(distance float64) float64 {
	if k.H == 0 {
		return zeroWidth(distance)
	}
	return math.Max(0, 1-distance*distance/(k.H*k.H))
}

func (k EpanechnikovKernel) Bandwidth() float64 { return k.H }

func (k EpanechnikovKernel) Normalizer(dims int) float64 {
	d := float64(dims)
	return unitBallVolume(dims) * math.Pow(k.H, d) * 2 / (d + 2)
}

// LaplacianKernel is exp(-d/h).
type LaplacianKernel struct {
	H float64
}

func (k LaplacianKernel) Evaluate(distance float64) float64 {
	if k.H == 0 {
		return zeroWidth(distance)
	}
	return math.Exp(-distance / k.H)
}

func (k LaplacianKernel) Bandwidth() float64 { return k.H }

// Normalizer is h^d · d · V_d · Γ(d), the integral of exp(-|x|/h).
func (k LaplacianKernel) Normalizer(dims int) float64 {
	d := float64(dims)
	return math.Pow(k.H, d) * d * unitBallVolume(dims) * math.Gamma(d)
}

// SphericalKernel is 1 inside the ball of radius h and 0 outside.
type SphericalKernel struct {
	H float64
}

func (k SphericalKernel) Evaluate(distance float64) float64 {
	if distance <= k.H {
		return 1
	}
	return 0
}

func (k SphericalKernel) Bandwidth() float64 { return k.H }

func (k SphericalKernel) Normalizer(dims int) float64 {
	return unitBallVolume(dims) * math.Pow(k.H, float64(dims))
}

// TriangularKernel is max(0, 1 - d/h).
type TriangularKernel struct {
	H float64
}

func (k TriangularKernel) Evaluate(distance float64) float64 {
	if k.H == 0 {
		return zeroWidth(distance)
	}
	return math.Max(0, 1-distance/k.H)
}

func (k TriangularKernel) Bandwidth() float64 { return k.H }

func (k TriangularKernel) Normalizer(dims int) float64 {
	d := float64(dims)
	return unitBallVolume(dims) * math.Pow(k.H, d) / (d + 1)
}

// unitBallVolume is π^(d/2) / Γ(d/2 + 1).
func unitBallVolume(dims int) float64 {
	d := float64(dims)
	return math.Pow(math.Pi, d/2) / math.Gamma(d/2+1)
}

var kernelsByName = map[string]func(h float64) Kernel{
	"gaussian":     func(h float64) Kernel { return GaussianKernel{H: h} },
	"epanechnikov": func(h float64) Kernel { return EpanechnikovKernel{H: h} },
	"laplacian":    func(h float64) Kernel { return LaplacianKernel{H: h} },
	"spherical":    func(h float64) Kernel { return SphericalKernel{H: h} },
	"triangular":   func(h float64) Kernel { return TriangularKernel{H: h} },
}

// KernelNames lists the names accepted by NewKernel, sorted.
func KernelNames() []string {
	names := make([]string, 0, len(kernelsByName))
	for name := range kernelsByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewKernel builds a built-in kernel by name.
func NewKernel(name string, bandwidth float64) (Kernel, error) {
	if bandwidth < 0 || math.IsNaN(bandwidth) {
		return nil, fmt.Errorf("kde: bandwidth must be >= 0, got %g: %w", bandwidth, ErrInvalidConfig)
	}
	mk, ok := kernelsByName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("kde: unknown kernel %q (want one of %s): %w",
			name, strings.Join(KernelNames(), ", "), ErrInvalidConfig)
	}
	return mk(bandwidth), nil
}

// Package geom provides the squared-distance kernel shared by SLIC pixel
// assignment and k-means feature assignment.
//
// Both call sites evaluate this in the inner loop of an iterative
// refinement, so the kernel is runtime-dispatched by CPU feature: detect
// once at init(), select a function pointer, keep the per-call path
// branch-free.
package geom

import (
	"log/slog"

	"golang.org/x/sys/cpu"
)

// DistanceBackend identifies which implementation init selected.
type DistanceBackend int

const (
	DistanceBackendScalar DistanceBackend = iota
	DistanceBackendAVX2
)

func (b DistanceBackend) String() string {
	switch b {
	case DistanceBackendAVX2:
		return "AVX2"
	default:
		return "scalar"
	}
}

// ActiveDistanceBackend reports which backend init selected.
var ActiveDistanceBackend DistanceBackend

// fastSquaredDistance is the dispatched function pointer.
var fastSquaredDistance func(a, b []float32) float32

func init() {
	if cpu.X86.HasAVX2 {
		ActiveDistanceBackend = DistanceBackendAVX2
		fastSquaredDistance = squaredDistanceAVX2
		slog.Debug("distance kernel initialized", "backend", "AVX2")
	} else {
		ActiveDistanceBackend = DistanceBackendScalar
		fastSquaredDistance = squaredDistanceScalar
		slog.Debug("distance kernel initialized", "backend", "scalar")
	}
}

// SquaredDistance returns the squared Euclidean distance between two
// equal-length feature vectors (Lab color, position, or a concatenation of
// both — the caller decides the dimensionality and per-axis weighting by
// pre-scaling the vectors before calling this).
func SquaredDistance(a, b []float32) float32 {
	return fastSquaredDistance(a, b)
}

// squaredDistanceScalar is the portable reference implementation, and the
// only one actually compiled in today: squaredDistanceAVX2 below currently
// delegates to it. A real vectorized path (8-wide FMA accumulation) is the
// natural next step if profiling shows this loop as a bottleneck on large
// icons.
func squaredDistanceScalar(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func squaredDistanceAVX2(a, b []float32) float32 {
	return squaredDistanceScalar(a, b)
}

// Package cluster implements the clusterer (component D): k-means++
// seeding followed by Lloyd iterations over an array of feature vectors,
// plus an optional swarm-based alternative (mayfly_clusterer.go).
package cluster

import (
	"math"
	"math/rand"

	"github.com/cwbudde/iconlayers/internal/geom"
	"github.com/cwbudde/iconlayers/internal/pipeline"
)

// Params configures a clustering run.
type Params struct {
	K                  int
	MaxIterations      int
	ConvergenceEpsilon float64
	Rand               *rand.Rand // never nil; callers construct their own seeded source
}

// Result is the clusterer's output.
type Result struct {
	Assignments []int
	Centers     [][]float64
	Iterations  int
	Converged   bool
}

// Validate checks Params and the feature matrix against the declared
// contract.
func Validate(features [][]float64, p Params) error {
	n := len(features)
	switch {
	case n == 0:
		return pipeline.NewError(pipeline.KindInvalidInput, "cluster", "empty feature vector", nil)
	case p.K < 1:
		return pipeline.NewError(pipeline.KindInvalidInput, "cluster", "K < 1", nil)
	case p.K > n:
		return pipeline.NewError(pipeline.KindInvalidInput, "cluster", "K > N", nil)
	case p.Rand == nil:
		return pipeline.NewError(pipeline.KindInvalidInput, "cluster", "nil RNG source", nil)
	}
	return nil
}

// Run performs seeded k-means++ initialization followed by Lloyd
// iterations. Every feature vector in features must have the same length
// d; the RNG in p.Rand is the sole source of randomness — this package
// never touches math/rand's package-level global, the same discipline
// opt.MayflyAdapter.Run follows in constructing its own
// rand.New(rand.NewSource(seed)).
func Run(features [][]float64, p Params) (*Result, error) {
	if err := Validate(features, p); err != nil {
		return nil, err
	}

	centers := seedPlusPlus(features, p.K, p.Rand)
	assignments := make([]int, len(features))

	converged := false
	iter := 0
	for ; iter < p.MaxIterations; iter++ {
		assignNearest(features, centers, assignments)
		newCenters, delta := updateCenters(features, assignments, centers, len(centers[0]))
		centers = newCenters
		if delta < p.ConvergenceEpsilon {
			converged = true
			iter++
			break
		}
	}
	if !converged {
		assignNearest(features, centers, assignments)
	}

	return &Result{
		Assignments: assignments,
		Centers:     centers,
		Iterations:  iter,
		Converged:   converged,
	}, nil
}

// RecomputeUnweighted implements weighted-feature recomputation: when the
// features fed into clustering were pre-scaled
// (e.g. L* or spatial axes weighted), the reported centers are recomputed
// from the caller-supplied unweighted features by one pass of
// mean-per-cluster; assignments are unchanged.
func RecomputeUnweighted(unweighted [][]float64, assignments []int, k int) [][]float64 {
	d := len(unweighted[0])
	sums := make([][]float64, k)
	counts := make([]int, k)
	for i := range sums {
		sums[i] = make([]float64, d)
	}
	for i, f := range unweighted {
		c := assignments[i]
		for j, v := range f {
			sums[c][j] += v
		}
		counts[c]++
	}
	out := make([][]float64, k)
	for c := range out {
		out[c] = make([]float64, d)
		if counts[c] == 0 {
			continue
		}
		for j := range out[c] {
			out[c][j] = sums[c][j] / float64(counts[c])
		}
	}
	return out
}

// seedPlusPlus implements k-means++ seeding: uniform first pick, then
// D²-weighted sampling for the remaining K-1 centers.
func seedPlusPlus(features [][]float64, k int, rnd *rand.Rand) [][]float64 {
	n := len(features)
	centers := make([][]float64, 0, k)

	first := rnd.Intn(n)
	centers = append(centers, cloneVec(features[first]))

	minSqDist := make([]float64, n)
	for i := range minSqDist {
		minSqDist[i] = sqDist(features[i], centers[0])
	}

	for len(centers) < k {
		var total float64
		for _, d := range minSqDist {
			total += d
		}
		var next int
		if total == 0 {
			next = rnd.Intn(n)
		} else {
			target := rnd.Float64() * total
			var cum float64
			next = n - 1
			for i, d := range minSqDist {
				cum += d
				if cum >= target {
					next = i
					break
				}
			}
		}
		centers = append(centers, cloneVec(features[next]))
		last := centers[len(centers)-1]
		for i := range minSqDist {
			d := sqDist(features[i], last)
			if d < minSqDist[i] {
				minSqDist[i] = d
			}
		}
	}
	return centers
}

func assignNearest(features, centers [][]float64, assignments []int) {
	for i, f := range features {
		best := 0
		bestDist := sqDist(f, centers[0])
		for c := 1; c < len(centers); c++ {
			d := sqDist(f, centers[c])
			if d < bestDist {
				bestDist = d
				best = c
			}
		}
		assignments[i] = best
	}
}

// updateCenters recomputes each center as the mean of its assigned points,
// summing in ascending point-index order for deterministic floating-point
// summation. Centers that receive zero points retain their previous
// position.
func updateCenters(features [][]float64, assignments []int, prev [][]float64, d int) ([][]float64, float64) {
	k := len(prev)
	sums := make([][]float64, k)
	counts := make([]int, k)
	for i := range sums {
		sums[i] = make([]float64, d)
	}
	for i, f := range features {
		c := assignments[i]
		for j, v := range f {
			sums[c][j] += v
		}
		counts[c]++
	}

	next := make([][]float64, k)
	var totalDelta float64
	for c := 0; c < k; c++ {
		if counts[c] == 0 {
			next[c] = cloneVec(prev[c])
			continue
		}
		center := make([]float64, d)
		for j := range center {
			center[j] = sums[c][j] / float64(counts[c])
		}
		next[c] = center
		totalDelta += math.Sqrt(sqDist(center, prev[c]))
	}
	return next, totalDelta
}

func sqDist(a, b []float64) float64 {
	af := make([]float32, len(a))
	bf := make([]float32, len(b))
	for i := range a {
		af[i] = float32(a[i])
		bf[i] = float32(b[i])
	}
	return float64(geom.SquaredDistance(af, bf))
}

func cloneVec(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}

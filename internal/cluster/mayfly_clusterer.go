package cluster

import (
	"github.com/cwbudde/iconlayers/internal/opt"
	"github.com/cwbudde/iconlayers/internal/pipeline"
)

// MayflyParams configures the swarm-based alternative clusterer.
type MayflyParams struct {
	K          int
	Iterations int
	PopSize    int
	Seed       int64
	LowerBound float64
	UpperBound float64
}

// RunMayfly treats the K cluster centers as one flattened continuous
// parameter vector (K*d values) and minimizes total nearest-center squared
// error with the Mayfly swarm optimizer, the same way opt.MayflyAdapter.Run
// is used elsewhere with a different objective function. It is an alternative
// to Lloyd iterations (see Run), offered behind a distinct entry point
// rather than folded into Run so callers opt in explicitly.
func RunMayfly(features [][]float64, p MayflyParams) (*Result, error) {
	n := len(features)
	if n == 0 {
		return nil, pipeline.NewError(pipeline.KindInvalidInput, "cluster", "empty feature vector", nil)
	}
	if p.K < 1 || p.K > n {
		return nil, pipeline.NewError(pipeline.KindInvalidInput, "cluster", "K out of range", nil)
	}
	d := len(features[0])

	optimizer := opt.NewMayfly(p.Iterations, p.PopSize, p.Seed)

	objective := func(flat []float64) float64 {
		centers := unflatten(flat, p.K, d)
		var total float64
		for _, f := range features {
			best := sqDist(f, centers[0])
			for c := 1; c < p.K; c++ {
				if dd := sqDist(f, centers[c]); dd < best {
					best = dd
				}
			}
			total += best
		}
		return total
	}

	dim := p.K * d
	lower := make([]float64, dim)
	upper := make([]float64, dim)
	for i := range lower {
		lower[i] = p.LowerBound
		upper[i] = p.UpperBound
	}

	bestFlat, _ := optimizer.Run(objective, lower, upper, dim)
	centers := unflatten(bestFlat, p.K, d)

	assignments := make([]int, n)
	assignNearest(features, centers, assignments)

	// The swarm optimizer runs its full iteration budget rather than
	// exposing an early-convergence signal, so Converged is always true
	// once Run returns.
	return &Result{
		Assignments: assignments,
		Centers:     centers,
		Iterations:  p.Iterations,
		Converged:   true,
	}, nil
}

func unflatten(flat []float64, k, d int) [][]float64 {
	out := make([][]float64, k)
	for c := 0; c < k; c++ {
		out[c] = append([]float64(nil), flat[c*d:(c+1)*d]...)
	}
	return out
}

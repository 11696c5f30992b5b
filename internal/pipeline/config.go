package pipeline

import "github.com/cwbudde/iconlayers/internal/merge"

// Config is the parameter record for a single decomposition run: every
// recognized option the pipeline accepts, with documented defaults
// applied by DefaultConfig.
type Config struct {
	NumSegments          int
	Compactness          float32
	SLICIterations       int
	EnforceConnectivity  bool
	LabScale             [3]float32 // L, a, b multipliers
	NumberOfClusters     int
	ClusterMaxIterations int
	ConvergenceEpsilon   float64
	RandomSeed           uint64
	MergeThreshold       *float64 // nil disables the merger
	MergeStrategy        merge.Strategy
	DepthWeight          float32
	PositionWeight       float32 // 0 = 3-D color-only clustering; >0 = 5-D color+position
}

// DefaultConfig returns the documented default parameter set.
func DefaultConfig() Config {
	return Config{
		NumSegments:          1000,
		Compactness:          25,
		SLICIterations:       10,
		EnforceConnectivity:  true,
		LabScale:             [3]float32{1, 1, 1},
		NumberOfClusters:     5,
		ClusterMaxIterations: 300,
		ConvergenceEpsilon:   0.01,
		MergeStrategy:        merge.StrategyPairwiseClosest,
		DepthWeight:          0,
	}
}

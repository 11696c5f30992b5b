package merge

import "testing"

func TestRunPairwiseClosestMergesWithinThreshold(t *testing.T) {
	centers := [][]float64{{0, 0}, {0.5, 0}, {10, 10}}
	assignments := []int{0, 0, 1, 2, 2}
	weights := []int{2, 0, 1}

	res, err := Run(centers, assignments, weights, StrategyPairwiseClosest, 1.0, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.K != 2 {
		t.Fatalf("expected 2 surviving clusters, got %d", res.K)
	}
	if len(res.Log) != 1 {
		t.Fatalf("expected exactly 1 merge logged, got %d", len(res.Log))
	}
}

func TestRunPairwiseClosestStopsAboveThreshold(t *testing.T) {
	centers := [][]float64{{0, 0}, {100, 100}}
	assignments := []int{0, 1}

	res, err := Run(centers, assignments, nil, StrategyPairwiseClosest, 1.0, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.K != 2 {
		t.Fatalf("expected no merges above threshold, got K=%d", res.K)
	}
	if len(res.Log) != 0 {
		t.Fatalf("expected empty merge log, got %v", res.Log)
	}
}

func TestRunRegionAdjacencyOnlyMergesConnectedPairs(t *testing.T) {
	centers := [][]float64{{0, 0}, {0.1, 0}, {0.1, 0.1}}
	assignments := []int{0, 1, 2}
	adjacency := [][2]int{{0, 1}} // 2 is unreachable

	res, err := Run(centers, assignments, nil, StrategyRegionAdjacency, 1.0, adjacency)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.K != 2 {
		t.Fatalf("expected cluster 2 to remain unmerged (no adjacency edge), got K=%d", res.K)
	}
}

func TestRenumberingFollowsFirstAppearanceOrder(t *testing.T) {
	centers := [][]float64{{0, 0}, {0.1, 0}, {50, 50}}
	assignments := []int{2, 0, 1} // first-appearance order: 2, 0, 1

	res, err := Run(centers, assignments, nil, StrategyPairwiseClosest, 1.0, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Assignments[0] != 0 {
		t.Fatalf("expected first-appearing original cluster to become id 0, got %d", res.Assignments[0])
	}
}

func TestRunRejectsUnknownStrategy(t *testing.T) {
	centers := [][]float64{{0, 0}}
	if _, err := Run(centers, []int{0}, nil, Strategy("bogus"), 1.0, nil); err == nil {
		t.Fatalf("expected error for unknown strategy")
	}
}

func TestRunRejectsEmptyCenterSet(t *testing.T) {
	if _, err := Run(nil, nil, nil, StrategyPairwiseClosest, 1.0, nil); err == nil {
		t.Fatalf("expected error for empty center set")
	}
}

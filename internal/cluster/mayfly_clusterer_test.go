package cluster

import "testing"

func TestRunMayflySeparatesTwoBlobs(t *testing.T) {
	features := twoBlobs()
	p := MayflyParams{
		K:          2,
		Iterations: 60,
		PopSize:    20,
		Seed:       42,
		LowerBound: -1,
		UpperBound: 11,
	}
	res, err := RunMayfly(features, p)
	if err != nil {
		t.Fatalf("RunMayfly: %v", err)
	}
	if len(res.Assignments) != len(features) {
		t.Fatalf("expected %d assignments, got %d", len(features), len(res.Assignments))
	}
	first := res.Assignments[0]
	second := res.Assignments[4]
	if first == second {
		t.Fatalf("expected the two blobs to land in different clusters")
	}
}

func TestRunMayflyRejectsKOutOfRange(t *testing.T) {
	features := [][]float64{{0, 0}, {1, 1}}
	p := MayflyParams{K: 5, Iterations: 10, PopSize: 20, Seed: 1, LowerBound: -1, UpperBound: 1}
	if _, err := RunMayfly(features, p); err == nil {
		t.Fatalf("expected error for K > N")
	}
}

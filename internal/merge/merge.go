// Package merge implements the optional cluster merger (component E):
// collapsing clusters whose centers lie within a threshold using one of
// three strategies.
package merge

import (
	"math"
	"sort"

	"github.com/cwbudde/iconlayers/internal/geom"
	"github.com/cwbudde/iconlayers/internal/pipeline"
)

// Strategy selects the merge algorithm.
type Strategy string

const (
	StrategyPairwiseClosest   Strategy = "pairwiseClosest"
	StrategyIterativeWeighted Strategy = "iterativeWeighted"
	StrategyRegionAdjacency   Strategy = "regionAdjacency"
)

// LogEntry records one merge decision, in the order it was applied.
type LogEntry struct {
	Absorbed int // cluster id that stopped existing
	Into     int // cluster id it was folded into
	Distance float64
}

// Result is the merger's output.
type Result struct {
	Assignments []int // renumbered to [0, K')
	Centers     [][]float64
	K           int
	Log         []LogEntry
}

// Run merges clusters per the named strategy. weights, when non-nil, gives
// each original cluster's pixel count for weighted center recomputation;
// when nil, every cluster is weighted equally.
func Run(centers [][]float64, assignments []int, weights []int, strategy Strategy, tau float64, adjacency [][2]int) (*Result, error) {
	if len(centers) == 0 {
		return nil, pipeline.NewError(pipeline.KindInvalidInput, "merge", "empty center set", nil)
	}
	if weights == nil {
		weights = make([]int, len(centers))
		for i := range weights {
			weights[i] = 1
		}
	}

	switch strategy {
	case StrategyRegionAdjacency:
		return runRegionAdjacency(centers, assignments, weights, tau, adjacency)
	case StrategyIterativeWeighted, StrategyPairwiseClosest:
		return runPairwiseClosest(centers, assignments, weights, tau)
	default:
		return nil, pipeline.NewError(pipeline.KindInvalidInput, "merge", "unknown strategy: "+string(strategy), nil)
	}
}

// runPairwiseClosest implements the pairwiseClosest merge algorithm:
// repeatedly fold the closest pair of centers within tau into one,
// weighted by cluster size, until no pair remains within tau.
// iterativeWeighted shares this implementation: its only distinguishing
// feature — weighting merges by cluster size when recomputing centers —
// is what weightedMerge always does here, so the two strategy tags
// converge on one code path.
func runPairwiseClosest(centers [][]float64, assignments []int, weights []int, tau float64) (*Result, error) {
	k := len(centers)
	active := make([]bool, k)
	for i := range active {
		active[i] = true
	}
	cur := make([][]float64, k)
	for i, c := range centers {
		cur[i] = append([]float64(nil), c...)
	}
	curWeight := append([]int(nil), weights...)

	parent := make([]int, k)
	for i := range parent {
		parent[i] = i
	}

	var log []LogEntry

	for {
		bestI, bestJ := -1, -1
		bestDist := math.MaxFloat64
		activeIDs := activeIndices(active)
		for ai := 0; ai < len(activeIDs); ai++ {
			for aj := ai + 1; aj < len(activeIDs); aj++ {
				i, j := activeIDs[ai], activeIDs[aj]
				d := distance(cur[i], cur[j])
				if d < bestDist || (d == bestDist && lexLess(i, j, bestI, bestJ)) {
					bestDist = d
					bestI, bestJ = i, j
				}
			}
		}
		if bestI < 0 || bestDist > tau {
			break
		}

		lo, hi := bestI, bestJ
		if lo > hi {
			lo, hi = hi, lo
		}
		cur[lo] = weightedMerge(cur[lo], curWeight[lo], cur[hi], curWeight[hi])
		curWeight[lo] += curWeight[hi]
		active[hi] = false
		parent[hi] = lo
		log = append(log, LogEntry{Absorbed: hi, Into: lo, Distance: bestDist})
	}

	return finalize(cur, parent, assignments, log)
}

// runRegionAdjacency implements the regionAdjacency merge variant:
// merges are restricted to cluster pairs connected by at least one
// adjacency edge (adjacent pixels with differing assignments), weighted by
// center distance, applied via union-find.
func runRegionAdjacency(centers [][]float64, assignments []int, weights []int, tau float64, adjacency [][2]int) (*Result, error) {
	k := len(centers)
	uf := newUnionFind(k)

	type edge struct {
		i, j int
		d    float64
	}
	seen := map[[2]int]bool{}
	edges := make([]edge, 0, len(adjacency))
	for _, pair := range adjacency {
		i, j := pair[0], pair[1]
		if i == j {
			continue
		}
		if i > j {
			i, j = j, i
		}
		key := [2]int{i, j}
		if seen[key] {
			continue
		}
		seen[key] = true
		edges = append(edges, edge{i: i, j: j, d: distance(centers[i], centers[j])})
	}
	sort.Slice(edges, func(a, b int) bool {
		if edges[a].d != edges[b].d {
			return edges[a].d < edges[b].d
		}
		if edges[a].i != edges[b].i {
			return edges[a].i < edges[b].i
		}
		return edges[a].j < edges[b].j
	})

	cur := make([][]float64, k)
	for i, c := range centers {
		cur[i] = append([]float64(nil), c...)
	}
	curWeight := append([]int(nil), weights...)

	var log []LogEntry
	for _, e := range edges {
		if e.d > tau {
			break
		}
		ri, rj := uf.find(e.i), uf.find(e.j)
		if ri == rj {
			continue
		}
		lo, hi := ri, rj
		if lo > hi {
			lo, hi = hi, lo
		}
		merged := weightedMerge(cur[lo], curWeight[lo], cur[hi], curWeight[hi])
		mergedWeight := curWeight[lo] + curWeight[hi]

		uf.union(lo, hi)
		survivor := uf.find(lo)
		absorbed := hi
		if survivor == hi {
			absorbed = lo
		}
		cur[survivor] = merged
		curWeight[survivor] = mergedWeight
		log = append(log, LogEntry{Absorbed: absorbed, Into: survivor, Distance: e.d})
	}

	parent := make([]int, k)
	for i := 0; i < k; i++ {
		parent[i] = uf.find(i)
	}

	return finalize(cur, parent, assignments, log)
}

// weightedMerge computes the pixel-count-weighted mean of two centers.
func weightedMerge(a []float64, wa int, b []float64, wb int) []float64 {
	out := make([]float64, len(a))
	total := float64(wa + wb)
	if total == 0 {
		copy(out, a)
		return out
	}
	for i := range out {
		out[i] = (a[i]*float64(wa) + b[i]*float64(wb)) / total
	}
	return out
}

// finalize resolves the union-find/absorption parent chain, renumbers
// surviving clusters to [0, K') in order of first appearance when scanning
// assignments by ascending index, and remaps assignments and centers
// accordingly.
func finalize(cur [][]float64, parent []int, assignments []int, log []LogEntry) (*Result, error) {
	root := func(i int) int {
		for parent[i] != i {
			i = parent[i]
		}
		return i
	}

	newID := map[int]int{}
	order := make([]int, 0)
	remapped := make([]int, len(assignments))
	for p, a := range assignments {
		r := root(a)
		id, ok := newID[r]
		if !ok {
			id = len(order)
			newID[r] = id
			order = append(order, r)
		}
		remapped[p] = id
	}

	centers := make([][]float64, len(order))
	for i, r := range order {
		centers[i] = cur[r]
	}

	return &Result{Assignments: remapped, Centers: centers, K: len(order), Log: log}, nil
}

func distance(a, b []float64) float64 {
	af := make([]float32, len(a))
	bf := make([]float32, len(b))
	for i := range a {
		af[i] = float32(a[i])
		bf[i] = float32(b[i])
	}
	return math.Sqrt(float64(geom.SquaredDistance(af, bf)))
}

func lexLess(i1, j1, i2, j2 int) bool {
	lo1, hi1 := i1, j1
	if lo1 > hi1 {
		lo1, hi1 = hi1, lo1
	}
	lo2, hi2 := i2, j2
	if lo2 > hi2 {
		lo2, hi2 = hi2, lo2
	}
	if lo1 != lo2 {
		return lo1 < lo2
	}
	return hi1 < hi2
}

func activeIndices(active []bool) []int {
	out := make([]int, 0, len(active))
	for i, a := range active {
		if a {
			out = append(out, i)
		}
	}
	return out
}

// unionFind is a small disjoint-set structure used by the regionAdjacency
// strategy to merge only graph-adjacent cluster pairs.
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(i int) int {
	for uf.parent[i] != i {
		uf.parent[i] = uf.parent[uf.parent[i]]
		i = uf.parent[i]
	}
	return i
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.rank[ra] < uf.rank[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	if uf.rank[ra] == uf.rank[rb] {
		uf.rank[ra]++
	}
}

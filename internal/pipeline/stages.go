package pipeline

import (
	"context"
	"math/rand"

	"github.com/cwbudde/iconlayers/internal/aggregate"
	"github.com/cwbudde/iconlayers/internal/cluster"
	"github.com/cwbudde/iconlayers/internal/colorspace"
	"github.com/cwbudde/iconlayers/internal/layers"
	"github.com/cwbudde/iconlayers/internal/merge"
	"github.com/cwbudde/iconlayers/internal/slic"
)

// Bag keys written by the stock stages below. Exported so a caller
// assembling a custom chain (or reading back a Result for diagnostics)
// can look up intermediates by name without reaching into each stage's
// internals.
const (
	KeyBGRA          = "rgba.bgra"
	KeyWidth         = "rgba.width"
	KeyHeight        = "rgba.height"
	KeyLab           = "lab.values"
	KeyTransparent   = "lab.transparent"
	KeyLabels        = "superpixels.labels"
	KeySuperpixels   = "superpixels.records"
	KeyAssignments   = "clusters.assignments"
	KeyCenters       = "clusters.centers"
	KeyClusterCount  = "clusters.k"
	KeyPixelClusters = "clusters.per_pixel"
	KeyLayerBuffers  = "layers.buffers"
)

// ColorConverterStage wraps component A (internal/colorspace).
type ColorConverterStage struct {
	Scale colorspace.Scale
}

func (ColorConverterStage) Name() string     { return "color-converter" }
func (ColorConverterStage) InputType() Type  { return TypeRGBA }
func (ColorConverterStage) OutputType() Type { return TypeLab }

func (s ColorConverterStage) Execute(_ context.Context, execCtx *Context) error {
	bgraAny, _ := execCtx.Bag.Get(KeyBGRA)
	widthAny, _ := execCtx.Bag.Get(KeyWidth)
	heightAny, _ := execCtx.Bag.Get(KeyHeight)
	bgra, w, h := bgraAny.([]byte), widthAny.(int), heightAny.(int)

	res, err := colorspace.Convert(bgra, w, h, s.Scale)
	if err != nil {
		return NewError(KindInvalidInput, s.Name(), "convert", err)
	}
	execCtx.Bag.Set(KeyLab, res.Lab)
	execCtx.Bag.Set(KeyTransparent, res.Transparent)
	return nil
}

// SuperpixelStage wraps component B (SLIC) and component C (Aggregator) in
// one stage. It writes both the raw SLIC label buffer (read later by
// MergerStage's adjacency walk and by LayerExtractorStage) and the
// superpixel records.
type SuperpixelStage struct {
	Params slic.Params
}

func (SuperpixelStage) Name() string     { return "superpixels" }
func (SuperpixelStage) InputType() Type  { return TypeLab }
func (SuperpixelStage) OutputType() Type { return TypeSuperpixels }

func (s SuperpixelStage) Execute(ctx context.Context, execCtx *Context) error {
	labAny, _ := execCtx.Bag.Get(KeyLab)
	transparentAny, _ := execCtx.Bag.Get(KeyTransparent)
	widthAny, _ := execCtx.Bag.Get(KeyWidth)
	heightAny, _ := execCtx.Bag.Get(KeyHeight)
	lab, transparent, w, h := labAny.([]colorspace.Lab), transparentAny.([]bool), widthAny.(int), heightAny.(int)

	slicRes, err := slic.Run(ctx, execCtx.Device, lab, transparent, w, h, s.Params)
	if err != nil {
		return err
	}
	aggRes, err := aggregate.Run(lab, slicRes.Labels, slicRes.NumCenters, w, h)
	if err != nil {
		return err
	}

	execCtx.Bag.Set(KeyLabels, slicRes.Labels)
	execCtx.Bag.Set(KeySuperpixels, aggRes.Superpixels)
	execCtx.Bag.SetMeta("slicIterations", s.Params.Iterations)
	return nil
}

// ClustererStage wraps component D (internal/cluster). It builds the
// feature matrix from the aggregator's superpixel records, optionally
// concatenating position (weighted by PositionWeight) so clustering can be
// either pure color (3-D) or color-plus-position (5-D) depending on
// whether PositionWeight is zero.
type ClustererStage struct {
	Config Config
}

func (ClustererStage) Name() string     { return "clusterer" }
func (ClustererStage) InputType() Type  { return TypeSuperpixels }
func (ClustererStage) OutputType() Type { return TypeClusters }

func (s ClustererStage) Execute(_ context.Context, execCtx *Context) error {
	spAny, _ := execCtx.Bag.Get(KeySuperpixels)
	sps := spAny.([]aggregate.Superpixel)

	weighted := make([][]float64, len(sps))
	unweighted := make([][]float64, len(sps))
	for i, sp := range sps {
		l := float64(sp.L) * float64(s.Config.LabScale[0])
		a := float64(sp.A) * float64(s.Config.LabScale[1])
		b := float64(sp.B) * float64(s.Config.LabScale[2])
		if s.Config.PositionWeight > 0 {
			weighted[i] = []float64{l, a, b, float64(sp.X) * float64(s.Config.PositionWeight), float64(sp.Y) * float64(s.Config.PositionWeight)}
		} else {
			weighted[i] = []float64{l, a, b}
		}
		unweighted[i] = []float64{float64(sp.L), float64(sp.A), float64(sp.B)}
	}

	seed := int64(s.Config.RandomSeed)
	res, err := cluster.Run(weighted, cluster.Params{
		K:                  s.Config.NumberOfClusters,
		MaxIterations:      s.Config.ClusterMaxIterations,
		ConvergenceEpsilon: s.Config.ConvergenceEpsilon,
		Rand:               rand.New(rand.NewSource(seed)),
	})
	if err != nil {
		return err
	}

	centers := cluster.RecomputeUnweighted(unweighted, res.Assignments, s.Config.NumberOfClusters)

	execCtx.Bag.Set(KeyAssignments, res.Assignments)
	execCtx.Bag.Set(KeyCenters, centers)
	execCtx.Bag.Set(KeyClusterCount, s.Config.NumberOfClusters)
	execCtx.Bag.SetMeta("randomSeed", s.Config.RandomSeed)
	execCtx.Bag.SetMeta("clusterIterations", res.Iterations)
	execCtx.Bag.SetMeta("clusterConverged", res.Converged)
	return nil
}

// MergerStage wraps component E (internal/merge). It is only appended
// when Config.MergeThreshold is non-nil; the type transition
// clusters -> clusters means it can be omitted from a chain without
// breaking Driver.Append's transition check.
//
// Adjacency lets a caller supply a precomputed cluster-adjacency edge list
// directly; when left nil and Strategy is
// regionAdjacency, Execute derives it itself from the SLIC label buffer
// and the current assignments, since that is the only data the other two
// strategies don't already need.
type MergerStage struct {
	Threshold float64
	Strategy  merge.Strategy
	Adjacency [][2]int
}

func (MergerStage) Name() string     { return "merger" }
func (MergerStage) InputType() Type  { return TypeClusters }
func (MergerStage) OutputType() Type { return TypeClusters }

func (s MergerStage) Execute(_ context.Context, execCtx *Context) error {
	centersAny, _ := execCtx.Bag.Get(KeyCenters)
	assignmentsAny, _ := execCtx.Bag.Get(KeyAssignments)
	centers, assignments := centersAny.([][]float64), assignmentsAny.([]int)

	adjacency := s.Adjacency
	if adjacency == nil && s.Strategy == merge.StrategyRegionAdjacency {
		labelsAny, _ := execCtx.Bag.Get(KeyLabels)
		spAny, _ := execCtx.Bag.Get(KeySuperpixels)
		widthAny, _ := execCtx.Bag.Get(KeyWidth)
		heightAny, _ := execCtx.Bag.Get(KeyHeight)
		adjacency = regionAdjacencyEdges(labelsAny.([]uint32), spAny.([]aggregate.Superpixel), assignments, widthAny.(int), heightAny.(int))
	}

	res, err := merge.Run(centers, assignments, nil, s.Strategy, s.Threshold, adjacency)
	if err != nil {
		return err
	}

	execCtx.Bag.Set(KeyCenters+".merged", res.Centers)
	execCtx.Bag.Set(KeyAssignments+".merged", res.Assignments)
	execCtx.Bag.Set(KeyClusterCount+".merged", res.K)
	execCtx.Bag.SetMeta("mergeLog", res.Log)
	return nil
}

// regionAdjacencyEdges walks every 4-neighbor pixel pair once (right and
// down neighbors) and records a cluster-index edge wherever the two
// pixels' current cluster assignments differ, skipping pixels excluded
// from segmentation (slic.SentinelLabel) or otherwise missing a
// superpixel record.
func regionAdjacencyEdges(labels []uint32, sps []aggregate.Superpixel, assignments []int, w, h int) [][2]int {
	labelToSuperpixel := make(map[uint32]int, len(sps))
	for i, sp := range sps {
		labelToSuperpixel[sp.Label] = i
	}

	clusterAt := func(p int) (int, bool) {
		l := labels[p]
		if l == slic.SentinelLabel {
			return 0, false
		}
		idx, ok := labelToSuperpixel[l]
		if !ok {
			return 0, false
		}
		return assignments[idx], true
	}

	var edges [][2]int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := y*w + x
			cp, ok := clusterAt(p)
			if !ok {
				continue
			}
			if x+1 < w {
				if cq, ok := clusterAt(p + 1); ok && cq != cp {
					edges = append(edges, [2]int{cp, cq})
				}
			}
			if y+1 < h {
				if cq, ok := clusterAt(p + w); ok && cq != cp {
					edges = append(edges, [2]int{cp, cq})
				}
			}
		}
	}
	return edges
}

// mergedOr returns the merged bag entry if a MergerStage ran, else the
// pre-merge entry — so LayerExtractorStage works whether or not a merge
// was appended to the chain.
func mergedOr(bag *Bag, key string) (any, bool) {
	if v, ok := bag.Get(key + ".merged"); ok {
		return v, true
	}
	return bag.Get(key)
}

// LayerExtractorStage wraps component F (internal/layers).
type LayerExtractorStage struct{}

func (LayerExtractorStage) Name() string     { return "layer-extractor" }
func (LayerExtractorStage) InputType() Type  { return TypeClusters }
func (LayerExtractorStage) OutputType() Type { return TypeLayers }

func (LayerExtractorStage) Execute(_ context.Context, execCtx *Context) error {
	bgraAny, _ := execCtx.Bag.Get(KeyBGRA)
	widthAny, _ := execCtx.Bag.Get(KeyWidth)
	heightAny, _ := execCtx.Bag.Get(KeyHeight)
	assignmentsAny, _ := mergedOr(execCtx.Bag, KeyAssignments)
	kAny, _ := mergedOr(execCtx.Bag, KeyClusterCount)
	labelsAny, _ := execCtx.Bag.Get(KeyLabels)
	spAny, _ := execCtx.Bag.Get(KeySuperpixels)

	bgra, w, h := bgraAny.([]byte), widthAny.(int), heightAny.(int)
	assignments, k := assignmentsAny.([]int), kAny.(int)
	labels := labelsAny.([]uint32)
	sps := spAny.([]aggregate.Superpixel)

	labelToCluster := make(map[uint32]int, len(sps))
	for i, sp := range sps {
		labelToCluster[sp.Label] = assignments[i]
	}

	pixelClusters := make([]int, w*h)
	for p, l := range labels {
		if c, ok := labelToCluster[l]; ok {
			pixelClusters[p] = c
		} else {
			pixelClusters[p] = -1
		}
	}

	out, err := layers.Run(bgra, pixelClusters, k, w, h)
	if err != nil {
		return err
	}
	execCtx.Bag.Set(KeyLayerBuffers, out)
	execCtx.Bag.Set(KeyPixelClusters, pixelClusters)
	execCtx.Bag.SetMeta("finalClusterCount", k)
	return nil
}

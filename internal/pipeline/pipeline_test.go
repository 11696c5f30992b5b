package pipeline

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/cwbudde/iconlayers/internal/colorspace"
	"github.com/cwbudde/iconlayers/internal/compute"
	"github.com/cwbudde/iconlayers/internal/merge"
	"github.com/cwbudde/iconlayers/internal/slic"
)

const bytesPerPixel = 4

func solidBGRA(w, h int, b, g, r, a byte) []byte {
	out := make([]byte, w*h*bytesPerPixel)
	for i := 0; i < w*h; i++ {
		off := i * bytesPerPixel
		out[off+0], out[off+1], out[off+2], out[off+3] = b, g, r, a
	}
	return out
}

func buildChain(t *testing.T, numSegments, k int, merger bool, threshold float64, strategy merge.Strategy) *Driver {
	t.Helper()
	d := NewDriver()
	mustAppend(t, d, ColorConverterStage{Scale: colorspace.DefaultScale()})
	mustAppend(t, d, SuperpixelStage{Params: slic.Params{
		NumSegments:         numSegments,
		Compactness:         25,
		Iterations:          10,
		EnforceConnectivity: true,
	}})
	mustAppend(t, d, ClustererStage{Config: Config{
		NumberOfClusters:     k,
		ClusterMaxIterations: 300,
		ConvergenceEpsilon:   0.01,
		LabScale:             [3]float32{1, 1, 1},
		RandomSeed:           1,
	}})
	if merger {
		mustAppend(t, d, MergerStage{Threshold: threshold, Strategy: strategy})
	}
	mustAppend(t, d, LayerExtractorStage{})
	return d
}

func mustAppend(t *testing.T, d *Driver, s Stage) {
	t.Helper()
	if err := d.Append(s); err != nil {
		t.Fatalf("Append(%s): %v", s.Name(), err)
	}
}

func runChain(t *testing.T, d *Driver, bgra []byte, w, h int) *Result {
	t.Helper()
	device, err := compute.NewDeviceForBackend("cpu")
	if err != nil {
		t.Fatalf("NewDeviceForBackend: %v", err)
	}
	execCtx := NewContext(device)
	execCtx.Bag.Set(KeyBGRA, bgra)
	execCtx.Bag.Set(KeyWidth, w)
	execCtx.Bag.Set(KeyHeight, h)

	res, err := d.Execute(context.Background(), execCtx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return res
}

func layerNonEmptyMask(layer []byte) []bool {
	mask := make([]bool, len(layer)/bytesPerPixel)
	for p := range mask {
		off := p * bytesPerPixel
		mask[p] = layer[off+3] != 0
	}
	return mask
}

// S1: checkerboard of pure red and pure blue 4x4-pixel cells (16x16 overall,
// nSegments=64 so each superpixel lands within a single cell). Two layers
// expected, one exactly the red cells, one exactly the blue cells.
func TestS1CheckerboardSeparatesIntoTwoLayers(t *testing.T) {
	const w, h = 16, 16
	const cell = 4
	bgra := make([]byte, w*h*bytesPerPixel)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := (y*w + x) * bytesPerPixel
			if (x/cell+y/cell)%2 == 0 {
				// pure red (0,0,255,255) in BGRA
				bgra[off+0], bgra[off+1], bgra[off+2], bgra[off+3] = 0, 0, 255, 255
			} else {
				// pure blue (255,0,0,255) in BGRA
				bgra[off+0], bgra[off+1], bgra[off+2], bgra[off+3] = 255, 0, 0, 255
			}
		}
	}

	d := buildChain(t, 64, 2, false, 0, "")
	res := runChain(t, d, bgra, w, h)

	kAny, _ := res.Bag.Get(KeyClusterCount)
	if kAny.(int) != 2 {
		t.Fatalf("expected K'==2, got %d", kAny)
	}

	layersAny, _ := res.Bag.Get(KeyLayerBuffers)
	layers := layersAny.([][]byte)
	if len(layers) != 2 {
		t.Fatalf("expected 2 layers, got %d", len(layers))
	}

	// P2: every pixel appears in exactly one layer.
	for p := 0; p < w*h; p++ {
		count := 0
		for _, layer := range layers {
			off := p * bytesPerPixel
			if layer[off+3] != 0 {
				count++
			}
		}
		if count != 1 {
			t.Fatalf("pixel %d appears in %d layers, want 1", p, count)
		}
	}

	// Each layer must be color-pure: every opaque pixel in a layer shares
	// the same BGR triple (either all-red or all-blue cells).
	for _, layer := range layers {
		var refB, refG, refR byte
		seen := false
		for p := 0; p < w*h; p++ {
			off := p * bytesPerPixel
			if layer[off+3] == 0 {
				continue
			}
			if !seen {
				refB, refG, refR = layer[off], layer[off+1], layer[off+2]
				seen = true
				continue
			}
			if layer[off] != refB || layer[off+1] != refG || layer[off+2] != refR {
				t.Fatalf("layer mixes colors: (%d,%d,%d) vs (%d,%d,%d)", layer[off], layer[off+1], layer[off+2], refB, refG, refR)
			}
		}
	}
}

// S2: 32x32 horizontal gradient from black to white, 4 clusters. Centers
// must be monotonically increasing in L*.
func TestS2GradientProducesMonotonicLClusters(t *testing.T) {
	const w, h = 32, 32
	bgra := make([]byte, w*h*bytesPerPixel)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := byte(x * 255 / (w - 1))
			off := (y*w + x) * bytesPerPixel
			bgra[off+0], bgra[off+1], bgra[off+2], bgra[off+3] = v, v, v, 255
		}
	}

	d := buildChain(t, 64, 4, false, 0, "")
	res := runChain(t, d, bgra, w, h)

	centersAny, _ := res.Bag.Get(KeyCenters)
	centers := centersAny.([][]float64)
	if len(centers) == 0 {
		t.Fatal("no centers produced")
	}

	ls := make([]float64, len(centers))
	for i, c := range centers {
		ls[i] = c[0]
	}
	for i := 1; i < len(ls); i++ {
		for j := i; j > 0 && ls[j-1] > ls[j]; j-- {
			ls[j-1], ls[j] = ls[j], ls[j-1]
		}
	}
	for i := 1; i < len(ls); i++ {
		if ls[i] < ls[i-1] {
			t.Fatalf("L* centers not monotonic after sort: %v", ls)
		}
	}
}

// S3: top half opaque green, bottom half fully transparent. One nonempty
// layer; the transparent half contributes to no layer.
func TestS3TransparentHalfExcludedFromLayers(t *testing.T) {
	const w, h = 32, 32
	bgra := make([]byte, w*h*bytesPerPixel)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := (y*w + x) * bytesPerPixel
			if y < h/2 {
				// opaque green (0,255,0,255) in BGRA
				bgra[off+0], bgra[off+1], bgra[off+2], bgra[off+3] = 0, 255, 0, 255
			} else {
				bgra[off+0], bgra[off+1], bgra[off+2], bgra[off+3] = 0, 0, 0, 0
			}
		}
	}

	d := buildChain(t, 64, 3, false, 0, "")
	res := runChain(t, d, bgra, w, h)

	layersAny, _ := res.Bag.Get(KeyLayerBuffers)
	layers := layersAny.([][]byte)

	nonEmpty := 0
	for _, layer := range layers {
		mask := layerNonEmptyMask(layer)
		any := false
		for _, v := range mask {
			if v {
				any = true
				break
			}
		}
		if any {
			nonEmpty++
		}
		for y := h / 2; y < h; y++ {
			for x := 0; x < w; x++ {
				if mask[y*w+x] {
					t.Fatalf("transparent pixel (%d,%d) present in a layer", x, y)
				}
			}
		}
	}
	if nonEmpty != 1 {
		t.Fatalf("expected exactly 1 nonempty layer, got %d", nonEmpty)
	}
}

func solidDisc(bgra []byte, w, h, cx, cy, radius int, b, g, r byte) {
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= radius*radius {
				off := (y*w + x) * bytesPerPixel
				bgra[off+0], bgra[off+1], bgra[off+2], bgra[off+3] = b, g, r, 255
			}
		}
	}
}

// S4/S5: two disjoint solid-colored circles on a transparent background.
// Without a merge threshold, two layers; with a threshold above the
// inter-circle distance, one merged layer (K'==1).
func twoCircleFixture() (bgra []byte, w, h int) {
	w, h = 32, 32
	bgra = make([]byte, w*h*bytesPerPixel)
	solidDisc(bgra, w, h, 8, 16, 5, 0, 0, 200)  // reddish circle
	solidDisc(bgra, w, h, 24, 16, 5, 200, 0, 0) // bluish circle
	return bgra, w, h
}

func TestS4DisjointCirclesProduceTwoLayers(t *testing.T) {
	bgra, w, h := twoCircleFixture()
	d := buildChain(t, 64, 2, false, 0, "")
	res := runChain(t, d, bgra, w, h)

	kAny, _ := res.Bag.Get(KeyClusterCount)
	if kAny.(int) != 2 {
		t.Fatalf("expected K'==2, got %d", kAny)
	}
}

func TestS5MergeThresholdCollapsesToOneLayer(t *testing.T) {
	bgra, w, h := twoCircleFixture()

	// First run unmerged to learn the actual inter-center distance.
	d0 := buildChain(t, 64, 2, false, 0, "")
	res0 := runChain(t, d0, bgra, w, h)
	centersAny, _ := res0.Bag.Get(KeyCenters)
	centers := centersAny.([][]float64)
	if len(centers) != 2 {
		t.Fatalf("expected 2 pre-merge centers, got %d", len(centers))
	}
	var sum float64
	for i := range centers[0] {
		diff := centers[0][i] - centers[1][i]
		sum += diff * diff
	}
	threshold := math.Sqrt(sum) + 1e-3

	d1 := buildChain(t, 64, 2, true, threshold, merge.StrategyPairwiseClosest)
	res1 := runChain(t, d1, bgra, w, h)

	kAny, _ := res1.Bag.Get(KeyClusterCount + ".merged")
	if kAny.(int) != 1 {
		t.Fatalf("expected K'==1 after merge, got %d", kAny)
	}

	layersAny, _ := res1.Bag.Get(KeyLayerBuffers)
	layers := layersAny.([][]byte)
	if len(layers) != 1 {
		t.Fatalf("expected 1 layer after merge, got %d", len(layers))
	}
}

// regionAdjacency can only merge clusters connected by a real pixel-pair
// edge; the checkerboard fixture's two cells touch along every cell
// boundary, so a generous threshold must collapse them exactly like
// pairwiseClosest does, proving MergerStage derives a non-empty adjacency
// graph from the chain's own label buffer rather than relying on a
// caller-supplied one.
func TestS5bRegionAdjacencyMergesTouchingClusters(t *testing.T) {
	const w, h = 16, 16
	const cell = 4
	bgra := make([]byte, w*h*bytesPerPixel)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := (y*w + x) * bytesPerPixel
			if (x/cell+y/cell)%2 == 0 {
				bgra[off+0], bgra[off+1], bgra[off+2], bgra[off+3] = 0, 0, 255, 255
			} else {
				bgra[off+0], bgra[off+1], bgra[off+2], bgra[off+3] = 255, 0, 0, 255
			}
		}
	}

	d0 := buildChain(t, 64, 2, false, 0, "")
	res0 := runChain(t, d0, bgra, w, h)
	centersAny, _ := res0.Bag.Get(KeyCenters)
	centers := centersAny.([][]float64)
	var sum float64
	for i := range centers[0] {
		diff := centers[0][i] - centers[1][i]
		sum += diff * diff
	}
	threshold := math.Sqrt(sum) + 1e-3

	d1 := buildChain(t, 64, 2, true, threshold, merge.StrategyRegionAdjacency)
	res1 := runChain(t, d1, bgra, w, h)

	kAny, _ := res1.Bag.Get(KeyClusterCount + ".merged")
	if kAny.(int) != 1 {
		t.Fatalf("expected K'==1 after regionAdjacency merge, got %d", kAny)
	}
}

// S6: same seed, two independent runs over the same random image produce
// byte-identical layers (P3, determinism).
func TestS6DeterministicAcrossRunsWithSameSeed(t *testing.T) {
	const w, h = 32, 32
	rnd := rand.New(rand.NewSource(42))
	bgra := make([]byte, w*h*bytesPerPixel)
	rnd.Read(bgra)
	for p := 0; p < w*h; p++ {
		bgra[p*bytesPerPixel+3] = 255 // force opaque so color channels alone drive the comparison
	}

	run := func() [][]byte {
		d := buildChain(t, 64, 4, false, 0, "")
		res := runChain(t, d, append([]byte(nil), bgra...), w, h)
		layersAny, _ := res.Bag.Get(KeyLayerBuffers)
		return layersAny.([][]byte)
	}

	a := run()
	b := run()

	if len(a) != len(b) {
		t.Fatalf("layer counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			t.Fatalf("layer %d length differs", i)
		}
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				t.Fatalf("layer %d byte %d differs: %d vs %d", i, j, a[i][j], b[i][j])
			}
		}
	}
}

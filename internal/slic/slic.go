// Package slic implements the SLIC superpixel segmenter (component B):
// iterative k-means in joint (color, position) space over a pixel grid,
// producing a per-pixel superpixel label.
package slic

import (
	"context"
	"math"
	"runtime"
	"sync"

	"github.com/cwbudde/iconlayers/internal/colorspace"
	"github.com/cwbudde/iconlayers/internal/compute"
	"github.com/cwbudde/iconlayers/internal/geom"
	"github.com/cwbudde/iconlayers/internal/pipeline"
)

// SentinelLabel marks a pixel excluded from segmentation (transparent
// source pixel). Downstream stages must tolerate it.
const SentinelLabel uint32 = 0xFFFFFFFE

// Params configures a segmentation run. Zero values are not valid defaults;
// Validate reports the specific contract violation.
type Params struct {
	NumSegments          int
	Compactness          float32
	Iterations           int
	EnforceConnectivity  bool
	DepthWeight          float32
	Depth                []float32 // optional, length W*H, ignored if DepthWeight == 0
}

// Validate checks Params against the declared valid ranges.
func (p Params) Validate(w, h int) error {
	switch {
	case p.NumSegments < 50 || p.NumSegments > 10000:
		return pipeline.NewError(pipeline.KindInvalidInput, "slic", "nSegments out of range [50,10000]", nil)
	case p.Compactness <= 0 || p.Compactness > 100:
		return pipeline.NewError(pipeline.KindInvalidInput, "slic", "compactness out of range (0,100]", nil)
	case p.Iterations < 1 || p.Iterations > 30:
		return pipeline.NewError(pipeline.KindInvalidInput, "slic", "iterations out of range [1,30]", nil)
	case p.NumSegments > w*h:
		return pipeline.NewError(pipeline.KindInvalidInput, "slic", "nSegments exceeds pixel count", nil)
	}
	return nil
}

// Result is the segmenter's output: a label per pixel (row-major, length
// W*H), plus the grid geometry the caller may want for diagnostics.
type Result struct {
	Labels     []uint32
	GridW      int
	GridH      int
	NumCenters int
}

type center struct {
	x, y    float32
	l, a, b float32
}

// Run executes the fixed-iteration SLIC refinement. device selects the
// compute backend for the assignment pass; the center-update pass always
// goes through compute.ReduceByLabel regardless of device, for the same
// deterministic-partitioned-reduction reason ReduceByLabel documents.
func Run(ctx context.Context, device compute.Device, lab []colorspace.Lab, transparent []bool, w, h int, p Params) (*Result, error) {
	if err := p.Validate(w, h); err != nil {
		return nil, err
	}
	if len(lab) != w*h || len(transparent) != w*h {
		return nil, pipeline.NewError(pipeline.KindInvalidInput, "slic", "buffer length does not match W*H", nil)
	}

	gridSpacing := int(math.Sqrt(float64(w*h) / float64(p.NumSegments)))
	if gridSpacing < 2 {
		return nil, pipeline.NewError(pipeline.KindInvalidInput, "slic", "derived gridSpacing < 2", nil)
	}
	searchRegion := float32(2 * gridSpacing)
	spatialWeight := p.Compactness / float32(gridSpacing)

	gridW := ceilDiv(w, gridSpacing)
	gridH := ceilDiv(h, gridSpacing)
	numCenters := gridW * gridH

	centers := initCenters(lab, w, h, gridSpacing, gridW, gridH)

	labels := make([]uint32, w*h)
	distances := make([]float32, w*h)

	searchRange := int(searchRegion/float32(gridSpacing)) + 1

	for iter := 0; iter < p.Iterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, pipeline.NewError(pipeline.KindCanceled, "slic", "canceled during iteration", err)
		}

		for i := range distances {
			distances[i] = float32(math.Inf(1))
			labels[i] = SentinelLabel
		}

		if gpu, ok := device.(openCLAssigner); ok && p.DepthWeight == 0 {
			if err := assignPassGPU(gpu, lab, transparent, w, h, gridSpacing, gridW, gridH, searchRange, searchRegion, spatialWeight, centers, labels); err != nil {
				return nil, pipeline.NewError(pipeline.KindBackendFailure, "slic", "opencl assignment kernel failed", err)
			}
		} else {
			assignPass(lab, transparent, w, h, gridSpacing, gridW, gridH, searchRange, searchRegion, spatialWeight, p.DepthWeight, p.Depth, centers, labels, distances)
		}
		updateCenters(lab, labels, w, h, numCenters, centers)
	}

	if p.EnforceConnectivity {
		enforceConnectivity(labels, w, h)
	}

	return &Result{Labels: labels, GridW: gridW, GridH: gridH, NumCenters: numCenters}, nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// initCenters places one center per grid cell at the cell midpoint, then
// perturbs it to the lowest-gradient position in its 3x3 pixel
// neighborhood.
func initCenters(lab []colorspace.Lab, w, h, gridSpacing, gridW, gridH int) []center {
	centers := make([]center, gridW*gridH)
	idx := 0
	for gy := 0; gy < gridH; gy++ {
		for gx := 0; gx < gridW; gx++ {
			cx := gx*gridSpacing + gridSpacing/2
			cy := gy*gridSpacing + gridSpacing/2
			if cx >= w {
				cx = w - 1
			}
			if cy >= h {
				cy = h - 1
			}
			cx, cy = perturbToLowestGradient(lab, w, h, cx, cy)
			p := lab[cy*w+cx]
			centers[idx] = center{x: float32(cx), y: float32(cy), l: p.L, a: p.A, b: p.B}
			idx++
		}
	}
	return centers
}

func perturbToLowestGradient(lab []colorspace.Lab, w, h, cx, cy int) (int, int) {
	bestX, bestY := cx, cy
	bestGrad := gradientAt(lab, w, h, cx, cy)
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			x, y := cx+dx, cy+dy
			if x < 1 || x >= w-1 || y < 1 || y >= h-1 {
				continue
			}
			g := gradientAt(lab, w, h, x, y)
			if g < bestGrad {
				bestGrad = g
				bestX, bestY = x, y
			}
		}
	}
	return bestX, bestY
}

func gradientAt(lab []colorspace.Lab, w, h, x, y int) float32 {
	if x < 1 || x >= w-1 || y < 1 || y >= h-1 {
		return 0
	}
	left := lab[y*w+x-1]
	right := lab[y*w+x+1]
	up := lab[(y-1)*w+x]
	down := lab[(y+1)*w+x]
	dx := labNorm(right, left)
	dy := labNorm(down, up)
	return dx + dy
}

func labNorm(a, b colorspace.Lab) float32 {
	dl := a.L - b.L
	da := a.A - b.A
	db := a.B - b.B
	return float32(math.Sqrt(float64(dl*dl + da*da + db*db)))
}

// assignPass is the pixel-parallel assignment step: each worker owns a
// contiguous row range and writes only to its own pixels, so no locking is
// needed despite the shared labels/distances buffers.
func assignPass(lab []colorspace.Lab, transparent []bool, w, h, gridSpacing, gridW, gridH, searchRange int, searchRegion, spatialWeight, depthWeight float32, depth []float32, centers []center, labels []uint32, distances []float32) {
	workers := runtime.NumCPU()
	if workers > h {
		workers = h
	}
	if workers < 1 {
		workers = 1
	}
	rowsPerWorker := ceilDiv(h, workers)

	var wg sync.WaitGroup
	for wk := 0; wk < workers; wk++ {
		y0 := wk * rowsPerWorker
		y1 := y0 + rowsPerWorker
		if y1 > h {
			y1 = h
		}
		if y0 >= y1 {
			continue
		}
		wg.Add(1)
		go func(y0, y1 int) {
			defer wg.Done()
			for y := y0; y < y1; y++ {
				for x := 0; x < w; x++ {
					p := y*w + x
					if transparent[p] {
						labels[p] = SentinelLabel
						continue
					}
					assignPixel(lab, w, gridSpacing, gridW, gridH, searchRange, searchRegion, spatialWeight, depthWeight, depth, centers, labels, distances, p, x, y)
				}
			}
		}(y0, y1)
	}
	wg.Wait()
}

// openCLAssigner is implemented by compute's GPU-tagged OpenCL device; it is
// declared locally rather than imported from internal/compute because the
// method only exists under the `gpu` build tag and this package must still
// compile in the default (!gpu) build, where no compute.Device satisfies it.
type openCLAssigner interface {
	AssignNearestCenters(labXY, centers []float32, candidateBase, candidateCount, candidateIdx []int32, spatialWeight, searchRegion float32) ([]int32, []float32, error)
}

// assignPassGPU mirrors assignPass's candidate-narrowing logic on the host
// (the same grid-cell neighborhood walk), then ships the narrowed candidate
// lists to the OpenCL assignment kernel instead of scanning them in Go.
func assignPassGPU(gpu openCLAssigner, lab []colorspace.Lab, transparent []bool, w, h, gridSpacing, gridW, gridH, searchRange int, searchRegion, spatialWeight float32, centers []center, labels []uint32) error {
	n := w * h
	labXY := make([]float32, 0, n*5)
	for p := 0; p < n; p++ {
		x := p % w
		y := p / w
		pc := lab[p]
		labXY = append(labXY, pc.L, pc.A, pc.B, float32(x), float32(y))
	}

	centerFlat := make([]float32, 0, len(centers)*5)
	for _, c := range centers {
		centerFlat = append(centerFlat, c.l, c.a, c.b, c.x, c.y)
	}

	base := make([]int32, n)
	count := make([]int32, n)
	idx := make([]int32, 0, n*4)

	for p := 0; p < n; p++ {
		x := p % w
		y := p / w
		base[p] = int32(len(idx))
		if transparent[p] {
			count[p] = 0
			continue
		}
		cx := x / gridSpacing
		cy := y / gridSpacing
		c := int32(0)
		for gy := cy - searchRange; gy <= cy+searchRange; gy++ {
			if gy < 0 || gy >= gridH {
				continue
			}
			for gx := cx - searchRange; gx <= cx+searchRange; gx++ {
				if gx < 0 || gx >= gridW {
					continue
				}
				idx = append(idx, int32(gy*gridW+gx))
				c++
			}
		}
		count[p] = c
	}

	outLabels, _, err := gpu.AssignNearestCenters(labXY, centerFlat, base, count, idx, spatialWeight, searchRegion)
	if err != nil {
		return err
	}
	for p, l := range outLabels {
		if transparent[p] || l < 0 {
			labels[p] = SentinelLabel
			continue
		}
		labels[p] = uint32(l)
	}
	return nil
}

func assignPixel(lab []colorspace.Lab, w, gridSpacing, gridW, gridH, searchRange int, searchRegion, spatialWeight, depthWeight float32, depth []float32, centers []center, labels []uint32, distances []float32, p, x, y int) {
	cx := x / gridSpacing
	cy := y / gridSpacing

	for gy := cy - searchRange; gy <= cy+searchRange; gy++ {
		if gy < 0 || gy >= gridH {
			continue
		}
		for gx := cx - searchRange; gx <= cx+searchRange; gx++ {
			if gx < 0 || gx >= gridW {
				continue
			}
			k := gy*gridW + gx
			c := centers[k]

			dxp := float32(x) - c.x
			dyp := float32(y) - c.y
			spatialSq := dxp*dxp + dyp*dyp
			spatial := float32(math.Sqrt(float64(spatialSq)))
			if spatial >= searchRegion {
				continue
			}

			pc := lab[p]
			pcVec := [3]float32{pc.L, pc.A, pc.B}
			cVec := [3]float32{c.l, c.a, c.b}
			colorSq := geom.SquaredDistance(pcVec[:], cVec[:])

			dSq := colorSq + spatialSq*spatialWeight*spatialWeight
			if depthWeight > 0 && depth != nil {
				dd := depth[p] - depth[k]
				dSq += depthWeight * depthWeight * dd * dd
			}
			d := float32(math.Sqrt(float64(dSq)))
			if d < distances[p] {
				distances[p] = d
				labels[p] = uint32(k)
			}
		}
	}
}

// updateCenters scatters assigned pixels into per-center accumulators via
// compute.ReduceByLabel, then finalizes to the component-wise mean,
// keeping the previous position when a center acquires zero pixels.
func updateCenters(lab []colorspace.Lab, labels []uint32, w, h, numCenters int, centers []center) {
	accs := compute.ReduceByLabel(w*h, numCenters,
		func(p int) (uint32, bool) {
			l := labels[p]
			if l == SentinelLabel {
				return 0, false
			}
			return l, true
		},
		func(p int, acc *compute.LabelAccumulator) {
			x := p % w
			y := p / w
			pc := lab[p]
			acc.SumL += float64(pc.L)
			acc.SumA += float64(pc.A)
			acc.SumB += float64(pc.B)
			acc.SumX += float64(x)
			acc.SumY += float64(y)
			acc.Count++
		},
	)

	for k := range centers {
		l, a, b, x, y, ok := accs[k].Mean()
		if !ok {
			continue
		}
		centers[k] = center{x: float32(x), y: float32(y), l: float32(l), a: float32(a), b: float32(b)}
	}
}

// enforceConnectivity runs a single pass over the label buffer, reading a
// snapshot of labels so within-pass updates don't cascade.
func enforceConnectivity(labels []uint32, w, h int) {
	snapshot := make([]uint32, len(labels))
	copy(snapshot, labels)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := y*w + x
			own := snapshot[p]
			if own == SentinelLabel {
				continue
			}
			matches := 0
			var firstDiffering uint32
			foundDiffering := false
			neighbors := [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}}
			for _, n := range neighbors {
				nx, ny := n[0], n[1]
				if nx < 0 || nx >= w || ny < 0 || ny >= h {
					continue
				}
				nl := snapshot[ny*w+nx]
				if nl == own {
					matches++
				} else if !foundDiffering && nl != SentinelLabel {
					firstDiffering = nl
					foundDiffering = true
				}
			}
			if matches == 0 && foundDiffering {
				labels[p] = firstDiffering
			}
		}
	}
}

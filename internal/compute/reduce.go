package compute

import (
	"runtime"
	"sync"
)

// LabelAccumulator is the per-label running sum used by both the SLIC
// center-update pass and superpixel aggregation: the two stages scatter
// the same shape of per-pixel contribution (color, position, count) into
// per-label buckets.
type LabelAccumulator struct {
	SumL, SumA, SumB float64
	SumX, SumY       float64
	Count            uint64
}

func (a *LabelAccumulator) add(o LabelAccumulator) {
	a.SumL += o.SumL
	a.SumA += o.SumA
	a.SumB += o.SumB
	a.SumX += o.SumX
	a.SumY += o.SumY
	a.Count += o.Count
}

// Mean returns the component-wise mean, and false if the accumulator has
// no contributions (count == 0), in which case callers keep the previous
// center value rather than finalize to zero.
func (a LabelAccumulator) Mean() (l, aVal, b, x, y float64, ok bool) {
	if a.Count == 0 {
		return 0, 0, 0, 0, 0, false
	}
	n := float64(a.Count)
	return a.SumL / n, a.SumA / n, a.SumB / n, a.SumX / n, a.SumY / n, true
}

// ReduceByLabel scatters numPixels pixel contributions into numLabels
// accumulators via tile-parallel local reduction, combined deterministically
// in ascending tile-id order. This is the partitioned-reduction discipline
// a backend without native atomic-float-add needs, and is applied
// unconditionally here (on both the CPU and OpenCL device paths) so
// behavior does not depend on which Device the caller constructed.
//
// label(p) returns the pixel's label and whether it should be counted at
// all (false for sentinel-label pixels). contribute(p, acc) accumulates
// pixel p's values into the tile-local accumulator for its label.
func ReduceByLabel(numPixels, numLabels int, label func(p int) (uint32, bool), contribute func(p int, acc *LabelAccumulator)) []LabelAccumulator {
	tileCount := runtime.NumCPU()
	if tileCount < 1 {
		tileCount = 1
	}
	if tileCount > numPixels {
		tileCount = numPixels
	}
	if tileCount < 1 {
		tileCount = 1
	}

	tileAccs := make([][]LabelAccumulator, tileCount)
	tileSize := (numPixels + tileCount - 1) / tileCount

	var wg sync.WaitGroup
	for t := 0; t < tileCount; t++ {
		start := t * tileSize
		end := start + tileSize
		if end > numPixels {
			end = numPixels
		}
		tileAccs[t] = make([]LabelAccumulator, numLabels)
		if start >= end {
			continue
		}
		wg.Add(1)
		go func(t, start, end int) {
			defer wg.Done()
			acc := tileAccs[t]
			for p := start; p < end; p++ {
				lbl, ok := label(p)
				if !ok || int(lbl) >= numLabels {
					continue
				}
				contribute(p, &acc[lbl])
			}
		}(t, start, end)
	}
	wg.Wait()

	combined := make([]LabelAccumulator, numLabels)
	for t := 0; t < tileCount; t++ { // ascending tile-id order: deterministic combine
		for l := 0; l < numLabels; l++ {
			combined[l].add(tileAccs[t][l])
		}
	}
	return combined
}

// Package aggregate implements the superpixel aggregator (component C):
// a single pixel-parallel scatter that collapses a per-pixel label buffer
// and Lab color buffer into one feature record per superpixel.
package aggregate

import (
	"sync/atomic"

	"github.com/cwbudde/iconlayers/internal/colorspace"
	"github.com/cwbudde/iconlayers/internal/compute"
	"github.com/cwbudde/iconlayers/internal/pipeline"
	"github.com/cwbudde/iconlayers/internal/slic"
)

// Superpixel is one emitted record: the arithmetic mean color and position
// of every pixel sharing a label, indexed by a dense id reassigned during
// the scan to [0, numSuperpixels).
type Superpixel struct {
	Label      uint32 // original SLIC label this record was built from
	L, A, B    float32
	X, Y       float32
	PixelCount uint64
}

// Result is the aggregator's output.
type Result struct {
	Superpixels    []Superpixel
	ExcludedPixels uint64 // count of sentinel-labeled pixels
}

// Run scatters lab[p] into the accumulator for labels[p] via
// compute.ReduceByLabel, then emits one record per non-empty,
// non-sentinel label.
func Run(lab []colorspace.Lab, labels []uint32, numLabels, w, h int) (*Result, error) {
	if len(lab) != w*h || len(labels) != w*h {
		return nil, pipeline.NewError(pipeline.KindInvalidInput, "aggregate", "buffer length does not match W*H", nil)
	}

	var excluded atomic.Uint64
	accs := compute.ReduceByLabel(w*h, numLabels,
		func(p int) (uint32, bool) {
			l := labels[p]
			if l == slic.SentinelLabel {
				excluded.Add(1)
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

	out := make([]Superpixel, 0, numLabels)
	for label, acc := range accs {
		l, a, b, x, y, ok := acc.Mean()
		if !ok {
			continue
		}
		out = append(out, Superpixel{
			Label:      uint32(label),
			L:          float32(l),
			A:          float32(a),
			B:          float32(b),
			X:          float32(x),
			Y:          float32(y),
			PixelCount: acc.Count,
		})
	}

	return &Result{Superpixels: out, ExcludedPixels: excluded.Load()}, nil
}

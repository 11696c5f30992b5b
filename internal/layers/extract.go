// Package layers implements the layer extractor (component F): splitting
// the original BGRA8 buffer into one buffer per cluster, preserving alpha.
package layers

import (
	"runtime"
	"sync"

	"github.com/cwbudde/iconlayers/internal/pipeline"
)

const bytesPerPixel = 4

// Run produces kPrime BGRA8 buffers, each W*H*4 bytes: every opaque pixel
// of the source appears in exactly one output layer, and the rest of that
// layer's bytes stay zero. One goroutine per layer, the same per-output-
// buffer parallelism a canvas-reuse renderer uses, since each layer is an
// independent full pixel scan with no cross-layer dependency.
func Run(bgra []byte, pixelClusters []int, kPrime, w, h int) ([][]byte, error) {
	if len(bgra) != w*h*bytesPerPixel {
		return nil, pipeline.NewError(pipeline.KindInvalidInput, "layers", "bgra buffer length does not match W*H*4", nil)
	}
	if len(pixelClusters) != w*h {
		return nil, pipeline.NewError(pipeline.KindInvalidInput, "layers", "cluster map length does not match W*H", nil)
	}
	if kPrime < 1 {
		return nil, pipeline.NewError(pipeline.KindInvalidInput, "layers", "kPrime < 1", nil)
	}

	out := make([][]byte, kPrime)
	for k := range out {
		out[k] = make([]byte, len(bgra))
	}

	sem := make(chan struct{}, runtime.NumCPU())
	var wg sync.WaitGroup
	for k := 0; k < kPrime; k++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(k int) {
			defer wg.Done()
			defer func() { <-sem }()
			dst := out[k]
			for p := 0; p < w*h; p++ {
				if pixelClusters[p] != k {
					continue
				}
				off := p * bytesPerPixel
				copy(dst[off:off+bytesPerPixel], bgra[off:off+bytesPerPixel])
			}
		}(k)
	}
	wg.Wait()

	return out, nil
}

// Prune drops layers with no opaque pixel: an empty cluster (one no
// superpixel was ultimately assigned to) contributes no layer to the final
// output. Returns the surviving buffers in their original relative order
// alongside each one's opaque pixel count, used for cache.Entry.PixelCounts.
func Prune(layers [][]byte) (kept [][]byte, pixelCounts []uint64) {
	for _, layer := range layers {
		var count uint64
		for off := 3; off < len(layer); off += bytesPerPixel {
			if layer[off] != 0 {
				count++
			}
		}
		if count > 0 {
			kept = append(kept, layer)
			pixelCounts = append(pixelCounts, count)
		}
	}
	return kept, pixelCounts
}

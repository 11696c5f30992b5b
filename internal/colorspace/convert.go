// Package colorspace converts BGRA8 pixel buffers into perceptually uniform
// L*a*b* color, the representation every downstream segmentation stage
// operates on.
package colorspace

import (
	"fmt"
	"math"
)

// Pixel layout: blue, green, red, alpha, one byte each.
const bytesPerPixel = 4

// Lab is a single perceptually-uniform color sample.
type Lab struct {
	L, A, B float32
}

// Scale holds the per-axis multipliers applied after conversion. The zero
// value is not a valid Scale; use DefaultScale.
type Scale struct {
	L, A, B float32
}

// DefaultScale applies no bias.
func DefaultScale() Scale { return Scale{L: 1, A: 1, B: 1} }

// EmphasizeGreens doubles the b-axis weight, separating green hues from
// neighboring hues in downstream distance computations.
func EmphasizeGreens() Scale { return Scale{L: 1, A: 1, B: 2} }

// ErrInvalidInput is returned for malformed dimensions or buffer lengths.
var ErrInvalidInput = fmt.Errorf("colorspace: invalid input")

// Result is the output of Convert: a Lab sample per pixel plus a mask
// marking pixels the caller considers fully transparent (alpha == 0),
// which SLIC must treat as sentinel.
type Result struct {
	Lab         []Lab
	Transparent []bool
}

// Convert runs the Gaussian presmooth + sRGB->linear->XYZ->Lab pipeline
// over a BGRA8 buffer of size w*h*4, applying scale after the L*a*b*
// computation.
func Convert(bgra []byte, w, h int, scale Scale) (*Result, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: non-positive dimensions %dx%d", ErrInvalidInput, w, h)
	}
	if len(bgra) != w*h*bytesPerPixel {
		return nil, fmt.Errorf("%w: buffer length %d != %d", ErrInvalidInput, len(bgra), w*h*bytesPerPixel)
	}

	smoothed := presmooth(bgra, w, h)

	lab := make([]Lab, w*h)
	transparent := make([]bool, w*h)

	for i := 0; i < w*h; i++ {
		off := i * bytesPerPixel
		b := float32(smoothed[off+0]) / 255
		g := float32(smoothed[off+1]) / 255
		r := float32(smoothed[off+2]) / 255
		a := bgra[off+3]

		transparent[i] = a == 0

		rl, gl, bl := srgbToLinear(r), srgbToLinear(g), srgbToLinear(b)
		x, y, z := linearToXYZ(rl, gl, bl)
		l, aa, bb := xyzToLab(x, y, z)

		lab[i] = Lab{
			L: scale.L * l,
			A: scale.A * aa,
			B: scale.B * bb,
		}
	}

	return &Result{Lab: lab, Transparent: transparent}, nil
}

// gaussian3x3 holds the normalized weights for the sigma≈0.5 presmooth
// kernel: center, edge (4-connected), corner.
const (
	wCenter = 0.619
	wEdge   = 0.0838
	wCorner = 0.0113
)

// presmooth applies the 3x3 Gaussian kernel to the blue, green and red
// channels; alpha is copied through unchanged (Convert reads its
// transparency decision from the original buffer's alpha anyway).
func presmooth(bgra []byte, w, h int) []byte {
	out := make([]byte, len(bgra))

	clampX := func(x int) int {
		if x < 0 {
			return 0
		}
		if x >= w {
			return w - 1
		}
		return x
	}
	clampY := func(y int) int {
		if y < 0 {
			return 0
		}
		if y >= h {
			return h - 1
		}
		return y
	}
	at := func(x, y, c int) float32 {
		return float32(bgra[(clampY(y)*w+clampX(x))*bytesPerPixel+c])
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := (y*w + x) * bytesPerPixel
			for c := 0; c < 3; c++ { // blue, green, red — alpha passes through untouched
				sum := wCenter*at(x, y, c) +
					wEdge*(at(x-1, y, c)+at(x+1, y, c)+at(x, y-1, c)+at(x, y+1, c)) +
					wCorner*(at(x-1, y-1, c)+at(x+1, y-1, c)+at(x-1, y+1, c)+at(x+1, y+1, c))
				v := int32(sum + 0.5)
				if v < 0 {
					v = 0
				}
				if v > 255 {
					v = 255
				}
				out[off+c] = byte(v)
			}
			out[off+3] = bgra[off+3]
		}
	}

	return out
}

func srgbToLinear(c float32) float32 {
	if c <= 0.04045 {
		return c / 12.92
	}
	return powf((c+0.055)/1.055, 2.4)
}

// linearToXYZ is the standard D65 linear-RGB -> XYZ matrix.
func linearToXYZ(r, g, b float32) (x, y, z float32) {
	x = 0.4124564*r + 0.3575761*g + 0.1804375*b
	y = 0.2126729*r + 0.7151522*g + 0.0721750*b
	z = 0.0193339*r + 0.1191920*g + 0.9503041*b
	return
}

const (
	whiteX = 95.047
	whiteY = 100.000
	whiteZ = 108.883

	labDelta = 6.0 / 29.0
)

func xyzToLab(x, y, z float32) (l, a, b float32) {
	fx := labF(100 * x / whiteX)
	fy := labF(100 * y / whiteY)
	fz := labF(100 * z / whiteZ)

	l = 116*fy - 16
	a = 500 * (fx - fy)
	b = 200 * (fy - fz)
	return
}

func labF(t float32) float32 {
	const delta3 = labDelta * labDelta * labDelta
	if t > delta3 {
		return powf(t, 1.0/3.0)
	}
	return t/(3*labDelta*labDelta) + 4.0/29.0
}

func powf(x, exp float32) float32 {
	return float32(math.Pow(float64(x), float64(exp)))
}

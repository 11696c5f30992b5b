// Package imageio converts between on-disk PNGs and the BGRA8 pixel
// buffers the pipeline stages operate on.
package imageio

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"

	"github.com/cwbudde/iconlayers/internal/pipeline"
)

const bytesPerPixel = 4

// LoadPNG decodes a PNG file into a BGRA8 buffer (row-major, 4 bytes per
// pixel: B, G, R, A).
func LoadPNG(path string) (bgra []byte, w, h int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, pipeline.NewError(pipeline.KindInvalidInput, "imageio", "open "+path, err)
	}
	defer f.Close()
	return DecodePNG(f)
}

// DecodePNG decodes from an arbitrary reader, the same conversion loop as
// LoadPNG for callers that already have an open stream (e.g. the HTTP job
// server receiving an upload).
func DecodePNG(r io.Reader) (bgra []byte, w, h int, err error) {
	img, err := png.Decode(r)
	if err != nil {
		return nil, 0, 0, pipeline.NewError(pipeline.KindInvalidInput, "imageio", "decode png", err)
	}

	bounds := img.Bounds()
	w, h = bounds.Dx(), bounds.Dy()
	bgra = make([]byte, w*h*bytesPerPixel)

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			// color.NRGBAModel.Convert un-premultiplies alpha; indexing
			// RGBA() directly would leave color channels scaled by alpha,
			// corrupting soft-edge pixels that must round-trip unchanged.
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			bgra[i+0] = c.B
			bgra[i+1] = c.G
			bgra[i+2] = c.R
			bgra[i+3] = c.A
			i += bytesPerPixel
		}
	}
	return bgra, w, h, nil
}

// SavePNG encodes a BGRA8 buffer to a PNG file.
func SavePNG(path string, bgra []byte, w, h int) error {
	f, err := os.Create(path)
	if err != nil {
		return pipeline.NewError(pipeline.KindInvalidInput, "imageio", "create "+path, err)
	}
	defer f.Close()
	return EncodePNG(f, bgra, w, h)
}

// EncodePNG writes a BGRA8 buffer as PNG to an arbitrary writer.
func EncodePNG(w io.Writer, bgra []byte, width, height int) error {
	if len(bgra) != width*height*bytesPerPixel {
		return pipeline.NewError(pipeline.KindInvalidInput, "imageio", fmt.Sprintf("bgra length %d does not match %dx%dx4", len(bgra), width, height), nil)
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	i := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			b, g, r, a := bgra[i+0], bgra[i+1], bgra[i+2], bgra[i+3]
			img.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: b, A: a})
			i += bytesPerPixel
		}
	}

	if err := png.Encode(w, img); err != nil {
		return pipeline.NewError(pipeline.KindInternal, "imageio", "encode png", err)
	}
	return nil
}

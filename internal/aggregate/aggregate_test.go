package aggregate

import (
	"testing"

	"github.com/cwbudde/iconlayers/internal/colorspace"
	"github.com/cwbudde/iconlayers/internal/pipeline"
	"github.com/cwbudde/iconlayers/internal/slic"
)

func TestRunEmitsOneRecordPerLabel(t *testing.T) {
	w, h := 2, 2
	lab := []colorspace.Lab{
		{L: 10, A: 0, B: 0},
		{L: 20, A: 0, B: 0},
		{L: 30, A: 0, B: 0},
		{L: 40, A: 0, B: 0},
	}
	labels := []uint32{0, 0, 1, 1}

	res, err := Run(lab, labels, 2, w, h)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Superpixels) != 2 {
		t.Fatalf("expected 2 superpixels, got %d", len(res.Superpixels))
	}
	if res.ExcludedPixels != 0 {
		t.Fatalf("expected 0 excluded pixels, got %d", res.ExcludedPixels)
	}

	byLabel := map[uint32]Superpixel{}
	for _, sp := range res.Superpixels {
		byLabel[sp.Label] = sp
	}
	if byLabel[0].L != 15 {
		t.Fatalf("expected mean L=15 for label 0, got %v", byLabel[0].L)
	}
	if byLabel[1].L != 35 {
		t.Fatalf("expected mean L=35 for label 1, got %v", byLabel[1].L)
	}
}

func TestRunCountsExcludedSentinelPixels(t *testing.T) {
	w, h := 2, 1
	lab := []colorspace.Lab{{L: 10}, {L: 20}}
	labels := []uint32{slic.SentinelLabel, 0}

	res, err := Run(lab, labels, 1, w, h)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExcludedPixels != 1 {
		t.Fatalf("expected 1 excluded pixel, got %d", res.ExcludedPixels)
	}
	if len(res.Superpixels) != 1 {
		t.Fatalf("expected 1 superpixel, got %d", len(res.Superpixels))
	}
}

func TestRunRejectsMismatchedBufferLength(t *testing.T) {
	_, err := Run(make([]colorspace.Lab, 4), make([]uint32, 3), 1, 2, 2)
	if !pipeline.IsKind(err, pipeline.KindInvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestRunSkipsEmptyLabels(t *testing.T) {
	w, h := 1, 1
	lab := []colorspace.Lab{{L: 10}}
	labels := []uint32{0}

	res, err := Run(lab, labels, 3, w, h)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Superpixels) != 1 {
		t.Fatalf("expected only the populated label to be emitted, got %d records", len(res.Superpixels))
	}
}

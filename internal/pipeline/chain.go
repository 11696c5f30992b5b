package pipeline

import (
	"github.com/cwbudde/iconlayers/internal/colorspace"
	"github.com/cwbudde/iconlayers/internal/slic"
)

// BuildChain assembles the standard color-converter -> superpixels ->
// clusterer -> (merger) -> layer-extractor chain a Config describes,
// appending MergerStage only when MergeThreshold is set. Shared by the
// CLI driver and the HTTP job worker so both run the identical chain for
// a given Config.
func BuildChain(cfg Config) (*Driver, error) {
	d := NewDriver()

	scale := colorspace.Scale{L: cfg.LabScale[0], A: cfg.LabScale[1], B: cfg.LabScale[2]}
	if err := d.Append(ColorConverterStage{Scale: scale}); err != nil {
		return nil, err
	}
	if err := d.Append(SuperpixelStage{Params: slic.Params{
		NumSegments:         cfg.NumSegments,
		Compactness:         cfg.Compactness,
		Iterations:          cfg.SLICIterations,
		EnforceConnectivity: cfg.EnforceConnectivity,
		DepthWeight:         cfg.DepthWeight,
	}}); err != nil {
		return nil, err
	}
	if err := d.Append(ClustererStage{Config: cfg}); err != nil {
		return nil, err
	}
	if cfg.MergeThreshold != nil {
		if err := d.Append(MergerStage{Threshold: *cfg.MergeThreshold, Strategy: cfg.MergeStrategy}); err != nil {
			return nil, err
		}
	}
	if err := d.Append(LayerExtractorStage{}); err != nil {
		return nil, err
	}
	return d, nil
}

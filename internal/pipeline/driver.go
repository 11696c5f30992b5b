package pipeline

import "context"

// Type identifies the declared shape of data flowing between stages.
// The driver uses this to enforce the permitted-transition table at
// Append time rather than discovering a mismatch mid-execution.
type Type int

const (
	TypeRGBA Type = iota
	TypeLab
	TypeSuperpixels
	TypeClusters
	TypeLayers
)

func (t Type) String() string {
	switch t {
	case TypeRGBA:
		return "rgba"
	case TypeLab:
		return "lab"
	case TypeSuperpixels:
		return "superpixels"
	case TypeClusters:
		return "clusters"
	case TypeLayers:
		return "layers"
	default:
		return "unknown"
	}
}

// Stage is one link in the driver's chain. InputType/OutputType declare
// the stage's place in the transition table below; Execute does the
// work, reading its inputs from and writing its outputs to execCtx.Bag.
type Stage interface {
	Name() string
	InputType() Type
	OutputType() Type
	Execute(ctx context.Context, execCtx *Context) error
}

// permittedTransitions encodes the pipeline's stage transition table:
//
//	rgba        -> lab          (Color Converter)
//	lab         -> superpixels  (SLIC Segmenter + Aggregator, grouped)
//	superpixels -> clusters     (Clusterer; Merger preserves the type)
//	clusters    -> layers       (Layer Extractor)
var permittedTransitions = map[Type]map[Type]bool{
	TypeRGBA:        {TypeLab: true},
	TypeLab:         {TypeSuperpixels: true},
	TypeSuperpixels: {TypeClusters: true},
	TypeClusters:    {TypeClusters: true, TypeLayers: true}, // Merger preserves the type
}

// Driver composes a chain of stages and executes them in order.
type Driver struct {
	stages   []Stage
	lastType Type
	hasStage bool
}

// NewDriver starts an empty driver. The first appended stage is accepted
// whatever its declared input type (normally TypeRGBA); only later stages
// are checked against the transition table.
func NewDriver() *Driver {
	return &Driver{}
}

// Append adds a stage to the chain, refusing one whose declared input type
// does not follow from the current last stage's output type.
func (d *Driver) Append(s Stage) error {
	if d.hasStage {
		allowed := permittedTransitions[d.lastType]
		if !allowed[s.InputType()] {
			return NewError(KindInvalidInput, "driver", "stage "+s.Name()+" expects input "+s.InputType().String()+" after output "+d.lastType.String(), nil)
		}
	}
	d.stages = append(d.stages, s)
	d.lastType = s.OutputType()
	d.hasStage = true
	return nil
}

// Stages returns the chain's stages in execution order, for callers that
// need to step through a run themselves (e.g. the job worker reporting
// per-stage progress) rather than calling Execute in one shot.
func (d *Driver) Stages() []Stage {
	out := make([]Stage, len(d.stages))
	copy(out, d.stages)
	return out
}

// Result is what Execute returns: the declared type of the last stage run,
// plus a read-only view into the execution's bag and metadata.
type Result struct {
	FinalType Type
	Bag       *Bag
	Metadata  map[string]any
}

// Execute runs every appended stage in order against execCtx, checking for
// cancellation before each stage — suspension is permitted before starting
// any stage, never mid-stage.
func (d *Driver) Execute(ctx context.Context, execCtx *Context) (*Result, error) {
	for _, s := range d.stages {
		if err := ctx.Err(); err != nil {
			return nil, NewError(KindCanceled, s.Name(), "canceled before stage start", err)
		}
		if err := s.Execute(ctx, execCtx); err != nil {
			return nil, err
		}
	}
	return &Result{FinalType: d.lastType, Bag: execCtx.Bag, Metadata: execCtx.Bag.Metadata()}, nil
}

// ExecuteFrom runs additional suffix stages starting from an
// already-executed prefix context: the prefix's bag is forked (not
// mutated) so the original execution and any sibling branch remain valid,
// while the read-only compute device is shared unchanged.
func (d *Driver) ExecuteFrom(ctx context.Context, prefix *Context) (*Result, error) {
	return d.Execute(ctx, prefix.Branch())
}

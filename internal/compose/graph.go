package compose

import (
	"slices"
	"time"
)

// OpKind tags a render operation.
type OpKind string

const (
	OpScale     OpKind = "scale"
	OpPad       OpKind = "pad"
	OpSetAspect OpKind = "set_aspect"
	OpLoop      OpKind = "loop_extend"
	OpConcat    OpKind = "concat"
	OpVolume    OpKind = "volume_adjust"
	OpMix       OpKind = "mix"
	OpOutput    OpKind = "output"
)

// Op is one step of a RenderGraph. The concrete types are listed below;
// consumers switch on them.
type Op interface {
	Kind() OpKind
}

// Scale fits a stream inside Width x Height, preserving aspect ratio.
type Scale struct {
	In, Out       string
	Width, Height int
}

// Pad centres a stream on an exact Width x Height canvas.
type Pad struct {
	In, Out       string
	Width, Height int
	Color         string
}

// SetAspect sets the sample aspect ratio to Num:Den.
type SetAspect struct {
	In, Out  string
	Num, Den int
}

// LoopExtend repeats a single still frame for Frames frames at FrameRate.
type LoopExtend struct {
	In, Out   string
	Frames    int
	FrameRate int
}

// Concat joins video streams end to end, in order.
type Concat struct {
	Inputs []string
	Out    string
}

// VolumeAdjust scales an audio stream by Gain.
type VolumeAdjust struct {
	In, Out string
	Gain    float64
}

// Mix combines audio streams into one stereo stream.
type Mix struct {
	Inputs []string
	Out    string
}

// Output binds the final streams to the container.
type Output struct {
	Video string
	// Audio is empty when the job has no audio track.
	Audio       string
	Duration    time.Duration
	Shortest    bool
	FrameRate   int
	VideoCodec  string
	AudioCodec  string
	PixelFormat string
}

func (Scale) Kind() OpKind        { return OpScale }
func (Pad) Kind() OpKind          { return OpPad }
func (SetAspect) Kind() OpKind    { return OpSetAspect }
func (LoopExtend) Kind() OpKind   { return OpLoop }
func (Concat) Kind() OpKind       { return OpConcat }
func (VolumeAdjust) Kind() OpKind { return OpVolume }
func (Mix) Kind() OpKind          { return OpMix }
func (Output) Kind() OpKind       { return OpOutput }

// InputKind distinguishes graph inputs.
type InputKind string

const (
	InputImage InputKind = "image"
	InputAudio InputKind = "audio"
)

// Input is a file consumed by the graph. Its stream label is its index.
type Input struct {
	Kind InputKind
	Path string
}

// RenderGraph is the immutable result of planning a JobSpec.
type RenderGraph struct {
	inputs []Input
	ops    []Op
}

// Inputs returns a copy of the graph inputs, in engine input order.
func (g RenderGraph) Inputs() []Input {
	return slices.Clone(g.inputs)
}

// Ops returns a deep copy of the operations, in order.
func (g RenderGraph) Ops() []Op {
	ops := make([]Op, len(g.ops))
	for i, op := range g.ops {
		switch o := op.(type) {
		case Concat:
			o.Inputs = slices.Clone(o.Inputs)
			ops[i] = o
		case Mix:
			o.Inputs = slices.Clone(o.Inputs)
			ops[i] = o
		default:
			ops[i] = op
		}
	}
	return ops
}

// Len returns the number of operations.
func (g RenderGraph) Len() int {
	return len(g.ops)
}

// Concat returns the graph's concat operation.
func (g RenderGraph) Concat() (Concat, bool) {
	for _, op := range g.Ops() {
		if c, ok := op.(Concat); ok {
			return c, true
		}
	}
	return Concat{}, false
}

// Output returns the graph's output operation.
func (g RenderGraph) Output() (Output, bool) {
	for _, op := range g.ops {
		if o, ok := op.(Output); ok {
			return o, true
		}
	}
	return Output{}, false
}

// Count returns how many operations of kind the graph holds.
func (g RenderGraph) Count(kind OpKind) int {
	n := 0
	for _, op := range g.ops {
		if op.Kind() == kind {
			n++
		}
	}
	return n
}

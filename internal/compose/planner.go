package compose

import (
	"fmt"
)

// Stream labels shared by every plan.
const (
	LabelVideoOut = "vout"
	LabelAudioOut = "aout"
	labelBG       = "bg"
	labelFG       = "fg"
)

// Plan turns a validated JobSpec into a RenderGraph. It performs no I/O and
// returns structurally equal graphs for equal specs.
//
// Each image becomes scale, pad, set-aspect and loop-extend steps feeding a
// single concat, even when there is only one image. A lone background track
// passes through at unit gain. Background and foreground together are each
// scaled by their configured volume and mixed.
func Plan(spec JobSpec) (RenderGraph, error) {
	if err := spec.Validate(); err != nil {
		return RenderGraph{}, err
	}

	opts := spec.Options
	res := opts.Resolution
	frames := opts.FramesPerImage()

	var (
		inputs   = make([]Input, 0, len(spec.Images)+2)
		ops      = make([]Op, 0, len(spec.Images)*4+4)
		segments = make([]string, 0, len(spec.Images))
	)

	for i, img := range spec.Images {
		idx := len(inputs)
		inputs = append(inputs, Input{Kind: InputImage, Path: img.Path})

		src := fmt.Sprintf("%d:v", idx)
		scaled := fmt.Sprintf("v%d_scaled", i)
		padded := fmt.Sprintf("v%d_padded", i)
		square := fmt.Sprintf("v%d_sar", i)
		seg := fmt.Sprintf("v%d", i)

		ops = append(ops,
			Scale{In: src, Out: scaled, Width: res.Width, Height: res.Height},
			Pad{In: scaled, Out: padded, Width: res.Width, Height: res.Height, Color: "black"},
			SetAspect{In: padded, Out: square, Num: 1, Den: 1},
			LoopExtend{In: square, Out: seg, Frames: frames, FrameRate: opts.FrameRate},
		)
		segments = append(segments, seg)
	}

	ops = append(ops, Concat{Inputs: segments, Out: LabelVideoOut})

	audio := ""
	switch {
	case spec.Background != nil && spec.Foreground != nil:
		bg := len(inputs)
		inputs = append(inputs, Input{Kind: InputAudio, Path: spec.Background.Path})
		fg := len(inputs)
		inputs = append(inputs, Input{Kind: InputAudio, Path: spec.Foreground.Path})

		ops = append(ops,
			VolumeAdjust{In: fmt.Sprintf("%d:a", bg), Out: labelBG, Gain: opts.BackgroundVolume},
			VolumeAdjust{In: fmt.Sprintf("%d:a", fg), Out: labelFG, Gain: opts.ForegroundVolume},
			Mix{Inputs: []string{labelBG, labelFG}, Out: LabelAudioOut},
		)
		audio = LabelAudioOut
	case spec.Background != nil:
		bg := len(inputs)
		inputs = append(inputs, Input{Kind: InputAudio, Path: spec.Background.Path})
		ops = append(ops, VolumeAdjust{In: fmt.Sprintf("%d:a", bg), Out: LabelAudioOut, Gain: 1.0})
		audio = LabelAudioOut
	case spec.Foreground != nil:
		fg := len(inputs)
		inputs = append(inputs, Input{Kind: InputAudio, Path: spec.Foreground.Path})
		ops = append(ops, VolumeAdjust{In: fmt.Sprintf("%d:a", fg), Out: LabelAudioOut, Gain: opts.ForegroundVolume})
		audio = LabelAudioOut
	}

	ops = append(ops, Output{
		Video:       LabelVideoOut,
		Audio:       audio,
		Duration:    spec.TotalDuration(),
		Shortest:    opts.Shortest && audio != "",
		FrameRate:   opts.FrameRate,
		VideoCodec:  opts.VideoCodec,
		AudioCodec:  opts.AudioCodec,
		PixelFormat: opts.PixelFormat,
	})

	return RenderGraph{inputs: inputs, ops: ops}, nil
}

package detection

import (
	"github.com/tphakala/pairwatch/internal/errors"
)

// boxChannels is the number of leading rows holding cx, cy, w and h.
const boxChannels = 4

// RawOutput is one model output tensor laid out row-major as
// [Channels][Candidates]. Rows 0..3 are cx, cy, w and h in model-input
// pixels, the remaining rows are per-class scores.
type RawOutput struct {
	Channels   int
	Candidates int
	Data       []float32
}

// NewRawOutput wraps data after checking it matches the declared shape.
func NewRawOutput(channels, candidates int, data []float32) (RawOutput, error) {
	if channels <= boxChannels || candidates <= 0 {
		return RawOutput{}, errors.Newf("invalid tensor shape [%d][%d]", channels, candidates).
			Category(errors.CategoryTensorShape).
			Build()
	}
	if len(data) != channels*candidates {
		return RawOutput{}, errors.Newf("tensor has %d values, shape [%d][%d] needs %d",
			len(data), channels, candidates, channels*candidates).
			Category(errors.CategoryTensorShape).
			Build()
	}
	return RawOutput{Channels: channels, Candidates: candidates, Data: data}, nil
}

// NumClasses returns the number of score rows.
func (r RawOutput) NumClasses() int {
	return r.Channels - boxChannels
}

// At returns the value at the given channel row and candidate column.
func (r RawOutput) At(channel, candidate int) float32 {
	return r.Data[channel*r.Candidates+candidate]
}

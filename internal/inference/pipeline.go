package inference

import (
	"image"
	"time"

	"github.com/tphakala/pairwatch/internal/detection"
	"github.com/tphakala/pairwatch/internal/errors"
	"github.com/tphakala/pairwatch/internal/imagetensor"
)

// InferenceRecorder receives inference timings.
// *metrics.DetectionMetrics satisfies it.
type InferenceRecorder interface {
	RecordInference(elapsed time.Duration, err error)
}

// Pipeline runs preprocessing, the model and post-processing for one image.
type Pipeline struct {
	runner    Runner
	processor *detection.PostProcessor
	recorder  InferenceRecorder
}

// NewPipeline joins runner and processor. recorder may be nil.
func NewPipeline(runner Runner, processor *detection.PostProcessor, recorder InferenceRecorder) (*Pipeline, error) {
	if runner.InputSize() != processor.Params().InputSize {
		return nil, errors.Newf("model input size %d does not match configured input size %d",
			runner.InputSize(), processor.Params().InputSize).
			Category(errors.CategoryConfiguration).
			Build()
	}
	return &Pipeline{runner: runner, processor: processor, recorder: recorder}, nil
}

// Detect returns the detections for img.
func (p *Pipeline) Detect(img image.Image) ([]detection.Detection, error) {
	tensor, width, height := imagetensor.ToTensor(img, p.runner.InputSize(), p.runner.InputLayout())

	start := time.Now()
	raw, err := p.runner.Run(tensor)
	if p.recorder != nil {
		p.recorder.RecordInference(time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}

	params := p.processor.Params()
	if raw.Channels != 4+params.NumClasses || raw.Candidates != params.NumCandidates {
		return nil, errors.Newf("model output [%d][%d] does not match configured [%d][%d]",
			raw.Channels, raw.Candidates, 4+params.NumClasses, params.NumCandidates).
			Category(errors.CategoryTensorShape).
			Build()
	}
	return p.processor.Process(raw, width, height), nil
}

// DetectFile loads the image at path and runs Detect on it.
func (p *Pipeline) DetectFile(path string) ([]detection.Detection, error) {
	img, err := imagetensor.Load(path)
	if err != nil {
		return nil, err
	}
	return p.Detect(img)
}

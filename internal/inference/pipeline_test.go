package inference

import (
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pairwatch/internal/detection"
	enh "github.com/tphakala/pairwatch/internal/errors"
	"github.com/tphakala/pairwatch/internal/imagetensor"
	"github.com/tphakala/pairwatch/internal/logger"
)

const (
	testClasses    = 2
	testCandidates = 4
	testInputSize  = 32
)

type fakeRunner struct {
	out      detection.RawOutput
	err      error
	gotInput []float32
}

func (f *fakeRunner) InputSize() int                  { return testInputSize }
func (f *fakeRunner) InputLayout() imagetensor.Layout { return imagetensor.LayoutNHWC }
func (f *fakeRunner) Run(input []float32) (detection.RawOutput, error) {
	f.gotInput = input
	return f.out, f.err
}

type fakeInferenceRecorder struct {
	calls int
	errs  int
}

func (f *fakeInferenceRecorder) RecordInference(_ time.Duration, err error) {
	f.calls++
	if err != nil {
		f.errs++
	}
}

func testParams() detection.Params {
	p := detection.DefaultParams()
	p.InputSize = testInputSize
	p.NumClasses = testClasses
	p.NumCandidates = testCandidates
	return p
}

func oneDogOutput(t *testing.T) detection.RawOutput {
	t.Helper()
	channels := 4 + testClasses
	data := make([]float32, channels*testCandidates)
	// candidate 0: centre (16,16), 8x8, class 1 at 0.8
	data[0*testCandidates] = 16
	data[1*testCandidates] = 16
	data[2*testCandidates] = 8
	data[3*testCandidates] = 8
	data[5*testCandidates] = 0.8
	raw, err := detection.NewRawOutput(channels, testCandidates, data)
	require.NoError(t, err)
	return raw
}

func newProcessor() *detection.PostProcessor {
	return detection.NewPostProcessor(testParams(), detection.LabelTable{"person", "dog"},
		detection.WithLogger(logger.NewDiscardLogger()))
}

func TestPipeline_Detect(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{out: oneDogOutput(t)}
	rec := &fakeInferenceRecorder{}
	p, err := NewPipeline(runner, newProcessor(), rec)
	require.NoError(t, err)

	img := image.NewRGBA(image.Rect(0, 0, 64, 128))
	img.Set(0, 0, color.White)

	dets, err := p.Detect(img)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "dog", dets[0].Label)
	assert.Equal(t, detection.BoundingBox{X1: 24, Y1: 48, X2: 40, Y2: 80}, dets[0].Box)
	assert.Len(t, runner.gotInput, testInputSize*testInputSize*3)
	assert.Equal(t, 1, rec.calls)
}

func TestPipeline_RunnerError(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{err: errors.New("invoke failed")}
	rec := &fakeInferenceRecorder{}
	p, err := NewPipeline(runner, newProcessor(), rec)
	require.NoError(t, err)

	_, err = p.Detect(image.NewRGBA(image.Rect(0, 0, 10, 10)))
	require.Error(t, err)
	assert.Equal(t, 1, rec.errs)
}

func TestPipeline_OutputShapeMismatchIsError(t *testing.T) {
	t.Parallel()

	raw, err := detection.NewRawOutput(4+testClasses, testCandidates+1, make([]float32, (4+testClasses)*(testCandidates+1)))
	require.NoError(t, err)
	p, err := NewPipeline(&fakeRunner{out: raw}, newProcessor(), nil)
	require.NoError(t, err)

	_, err = p.Detect(image.NewRGBA(image.Rect(0, 0, 10, 10)))
	require.Error(t, err)
	assert.True(t, enh.IsCategory(err, enh.CategoryTensorShape))
}

func TestNewPipeline_InputSizeMismatch(t *testing.T) {
	t.Parallel()

	params := testParams()
	params.InputSize = 640
	proc := detection.NewPostProcessor(params, nil, detection.WithLogger(logger.NewDiscardLogger()))

	_, err := NewPipeline(&fakeRunner{}, proc, nil)
	require.Error(t, err)
	assert.True(t, enh.IsCategory(err, enh.CategoryConfiguration))
}

func TestNewInterpreter_MissingModel(t *testing.T) {
	t.Parallel()

	_, err := NewInterpreter(InterpreterOptions{ModelPath: t.TempDir() + "/missing.tflite"}, logger.NewDiscardLogger())
	require.Error(t, err)
	assert.True(t, enh.IsCategory(err, enh.CategoryModelLoad))
}

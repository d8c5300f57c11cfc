// Package inference runs the object-detection model and feeds its output
// through the post-processor.
package inference

import (
	"fmt"
	"os"
	"sync"
	"time"

	tflite "github.com/tphakala/go-tflite"
	"github.com/tphakala/go-tflite/delegates/xnnpack"

	"github.com/tphakala/pairwatch/internal/cpuspec"
	"github.com/tphakala/pairwatch/internal/detection"
	"github.com/tphakala/pairwatch/internal/errors"
	"github.com/tphakala/pairwatch/internal/imagetensor"
	"github.com/tphakala/pairwatch/internal/logger"
)

// Runner executes the model on one preprocessed input tensor.
type Runner interface {
	// InputSize is the square model input resolution.
	InputSize() int
	// InputLayout is the tensor order Run expects.
	InputLayout() imagetensor.Layout
	Run(input []float32) (detection.RawOutput, error)
}

// InterpreterOptions configures a TFLite interpreter.
type InterpreterOptions struct {
	ModelPath  string
	Threads    int // 0 picks a count for the host CPU
	UseXNNPACK bool
}

// Interpreter is a go-tflite backed Runner. Calls to Run are serialized.
type Interpreter struct {
	mu          sync.Mutex
	model       *tflite.Model
	interpreter *tflite.Interpreter
	inputSize   int
	layout      imagetensor.Layout
	log         logger.Logger
}

// NewInterpreter loads the model at opts.ModelPath and allocates its tensors.
// The model must take a single [1,S,S,3] or [1,3,S,S] float32 input and
// produce a [1,channels,candidates] float32 output.
func NewInterpreter(opts InterpreterOptions, log logger.Logger) (*Interpreter, error) {
	if log == nil {
		log = logger.Global().Module("inference")
	}
	start := time.Now()

	modelData, err := os.ReadFile(opts.ModelPath)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryModelLoad).
			Context("model_path", opts.ModelPath).
			Timing("model-load", time.Since(start)).
			Build()
	}

	model := tflite.NewModel(modelData)
	if model == nil {
		return nil, errors.Newf("cannot load TensorFlow Lite model").
			Category(errors.CategoryModelInit).
			Context("model_path", opts.ModelPath).
			Context("model_size_mb", len(modelData)/1024/1024).
			Build()
	}

	threads := opts.Threads
	if threads <= 0 {
		spec := cpuspec.Detect()
		threads = spec.OptimalThreads()
		log.Debug("selected interpreter threads",
			logger.String("cpu", spec.BrandName),
			logger.Int("performance_cores", spec.PerformanceCores),
			logger.Int("threads", threads))
	}

	options := tflite.NewInterpreterOptions()
	if opts.UseXNNPACK {
		delegate := xnnpack.New(xnnpack.DelegateOptions{NumThreads: int32(max(1, threads-1))}) //nolint:gosec // G115: bounded by CPU count
		if delegate == nil {
			log.Warn("failed to create XNNPACK delegate, falling back to default CPU")
			options.SetNumThread(threads)
		} else {
			options.AddDelegate(delegate)
			options.SetNumThread(1)
		}
	} else {
		options.SetNumThread(threads)
	}
	options.SetErrorReporter(func(msg string, _ any) {
		log.Error("TFLite error", logger.String("message", msg))
	}, nil)

	interp := tflite.NewInterpreter(model, options)
	if interp == nil {
		model.Delete()
		return nil, errors.Newf("cannot create interpreter").
			Category(errors.CategoryModelInit).
			Context("model_path", opts.ModelPath).
			Build()
	}
	if status := interp.AllocateTensors(); status != tflite.OK {
		interp.Delete()
		model.Delete()
		return nil, errors.Newf("tensor allocation failed: %v", status).
			Category(errors.CategoryModelInit).
			Context("model_path", opts.ModelPath).
			Build()
	}

	size, layout, err := inputGeometry(interp.GetInputTensor(0))
	if err != nil {
		interp.Delete()
		model.Delete()
		return nil, err
	}

	log.Info("detection model initialized",
		logger.String("model", opts.ModelPath),
		logger.Int("input_size", size),
		logger.String("layout", layout.String()),
		logger.Int("threads", threads),
		logger.Bool("xnnpack", opts.UseXNNPACK),
		logger.Duration("elapsed", time.Since(start)))

	return &Interpreter{
		model:       model,
		interpreter: interp,
		inputSize:   size,
		layout:      layout,
		log:         log,
	}, nil
}

func inputGeometry(t *tflite.Tensor) (int, imagetensor.Layout, error) {
	if t == nil {
		return 0, 0, errors.Newf("cannot get input tensor").Category(errors.CategoryModelInit).Build()
	}
	if t.NumDims() != 4 {
		return 0, 0, errors.Newf("input tensor has %d dims, want 4", t.NumDims()).
			Category(errors.CategoryModelInit).Build()
	}
	switch {
	case t.Dim(3) == 3 && t.Dim(1) == t.Dim(2):
		return t.Dim(1), imagetensor.LayoutNHWC, nil
	case t.Dim(1) == 3 && t.Dim(2) == t.Dim(3):
		return t.Dim(2), imagetensor.LayoutNCHW, nil
	}
	return 0, 0, errors.Newf("unsupported input shape [%d %d %d %d]", t.Dim(0), t.Dim(1), t.Dim(2), t.Dim(3)).
		Category(errors.CategoryModelInit).Build()
}

func (i *Interpreter) InputSize() int                  { return i.inputSize }
func (i *Interpreter) InputLayout() imagetensor.Layout { return i.layout }

// Run copies input into the model, invokes it and returns a copy of the
// output tensor.
func (i *Interpreter) Run(input []float32) (detection.RawOutput, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	in := i.interpreter.GetInputTensor(0)
	if in == nil {
		return detection.RawOutput{}, fmt.Errorf("cannot get input tensor")
	}
	if n := len(in.Float32s()); n != len(input) {
		return detection.RawOutput{}, errors.Newf("input has %d values, model expects %d", len(input), n).
			Category(errors.CategoryTensorShape).
			Build()
	}
	copy(in.Float32s(), input)

	if status := i.interpreter.Invoke(); status != tflite.OK {
		return detection.RawOutput{}, fmt.Errorf("tensor invoke failed: %v", status)
	}

	out := i.interpreter.GetOutputTensor(0)
	if out == nil || out.NumDims() != 3 {
		return detection.RawOutput{}, errors.Newf("model output must be [1,channels,candidates]").
			Category(errors.CategoryTensorShape).
			Build()
	}
	data := make([]float32, len(out.Float32s()))
	copy(data, out.Float32s())
	return detection.NewRawOutput(out.Dim(1), out.Dim(2), data)
}

// Delete releases the interpreter and model.
func (i *Interpreter) Delete() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.interpreter != nil {
		i.interpreter.Delete()
		i.interpreter = nil
	}
	if i.model != nil {
		i.model.Delete()
		i.model = nil
	}
}

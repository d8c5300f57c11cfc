// Package detection turns raw YOLO-style model output into labeled,
// confidence-ranked bounding boxes.
//
// Processing runs in two stages. Stage A decodes every candidate, keeps the
// best-scoring class when its score exceeds the confidence threshold and maps
// the box from model-input space into original-image pixels. Stage B runs
// greedy non-maximum suppression separately per label, so overlapping boxes
// of different labels (a person carrying a backpack) are both reported.
package detection

import (
	"cmp"
	"slices"
	"time"

	"github.com/tphakala/pairwatch/internal/errors"
	"github.com/tphakala/pairwatch/internal/logger"
)

// Defaults for a YOLOv8 model trained on COCO.
const (
	DefaultConfidenceThreshold float32 = 0.25
	DefaultIoUThreshold        float32 = 0.45
	DefaultInputSize                   = 640
	DefaultNumClasses                  = 80
	DefaultNumCandidates               = 8400
)

// Detection is one labeled box.
type Detection struct {
	Label      string
	ClassID    int
	Confidence float32
	Box        BoundingBox
}

// Params controls decoding and suppression.
type Params struct {
	ConfidenceThreshold float32
	IoUThreshold        float32
	InputSize           int
	NumClasses          int
	NumCandidates       int
	// MaxDetections truncates the result after suppression; 0 keeps all.
	MaxDetections int
}

// DefaultParams returns the parameters for a stock YOLOv8 COCO model.
func DefaultParams() Params {
	return Params{
		ConfidenceThreshold: DefaultConfidenceThreshold,
		IoUThreshold:        DefaultIoUThreshold,
		InputSize:           DefaultInputSize,
		NumClasses:          DefaultNumClasses,
		NumCandidates:       DefaultNumCandidates,
	}
}

// Recorder receives per-call processing statistics.
// *metrics.DetectionMetrics satisfies it.
type Recorder interface {
	RecordProcess(candidates int, labels []string, suppressed int, elapsed time.Duration)
}

// Option configures a PostProcessor.
type Option func(*PostProcessor)

// WithRecorder attaches a statistics recorder.
func WithRecorder(r Recorder) Option {
	return func(p *PostProcessor) { p.recorder = r }
}

// WithLogger replaces the default module logger.
func WithLogger(l logger.Logger) Option {
	return func(p *PostProcessor) {
		if l != nil {
			p.log = l
		}
	}
}

// PostProcessor converts raw model output into final detections. It holds
// no per-call state and is safe for concurrent use.
type PostProcessor struct {
	params   Params
	labels   LabelTable
	recorder Recorder
	log      logger.Logger
}

// NewPostProcessor creates a PostProcessor. The label table does not need to
// match params.NumClasses; missing entries get a synthetic label.
func NewPostProcessor(params Params, labels LabelTable, opts ...Option) *PostProcessor {
	p := &PostProcessor{
		params: params,
		labels: labels,
		log:    logger.Global().Module("detection"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if len(labels) != params.NumClasses {
		p.log.Warn("label table size does not match class count",
			logger.Int("labels", len(labels)),
			logger.Int("num_classes", params.NumClasses))
	}
	return p
}

// Params returns the processor parameters.
func (p *PostProcessor) Params() Params {
	return p.params
}

// Process decodes raw and returns the surviving detections ordered by
// descending confidence, with ties kept in candidate order. The result is
// never nil.
//
// Process panics with a tensor-shape *errors.EnhancedError when raw does not
// have the configured shape or when the original dimensions are not
// positive. Both are caller contract violations.
func (p *PostProcessor) Process(raw RawOutput, originalWidth, originalHeight int) []Detection {
	start := time.Now()
	p.checkShape(raw, originalWidth, originalHeight)

	candidates := p.decode(raw, originalWidth, originalHeight)
	kept := suppress(candidates, p.params.IoUThreshold)
	suppressed := len(candidates) - len(kept)

	if p.params.MaxDetections > 0 && len(kept) > p.params.MaxDetections {
		kept = kept[:p.params.MaxDetections]
	}

	elapsed := time.Since(start)
	if p.recorder != nil {
		labels := make([]string, len(kept))
		for i := range kept {
			labels[i] = kept[i].Label
		}
		p.recorder.RecordProcess(raw.Candidates, labels, suppressed, elapsed)
	}
	p.log.Trace("post-processing complete",
		logger.Int("candidates", raw.Candidates),
		logger.Int("passed_threshold", len(candidates)),
		logger.Int("kept", len(kept)),
		logger.Duration("elapsed", elapsed))

	return kept
}

func (p *PostProcessor) checkShape(raw RawOutput, width, height int) {
	var violation *errors.ErrorBuilder
	switch {
	case raw.Channels != boxChannels+p.params.NumClasses:
		violation = errors.Newf("tensor has %d channels, want %d", raw.Channels, boxChannels+p.params.NumClasses)
	case raw.Candidates != p.params.NumCandidates:
		violation = errors.Newf("tensor has %d candidates, want %d", raw.Candidates, p.params.NumCandidates)
	case len(raw.Data) != raw.Channels*raw.Candidates:
		violation = errors.Newf("tensor has %d values, want %d", len(raw.Data), raw.Channels*raw.Candidates)
	case width <= 0 || height <= 0:
		violation = errors.Newf("image dimensions %dx%d must be positive", width, height)
	case p.params.InputSize <= 0:
		violation = errors.Newf("input size %d must be positive", p.params.InputSize)
	}
	if violation != nil {
		panic(violation.
			Category(errors.CategoryTensorShape).
			Priority(errors.PriorityCritical).
			Build())
	}
}

// decode is Stage A. Survivors are returned in candidate index order.
func (p *PostProcessor) decode(raw RawOutput, width, height int) []Detection {
	w, h := float32(width), float32(height)
	scaleX := w / float32(p.params.InputSize)
	scaleY := h / float32(p.params.InputSize)
	numClasses := raw.NumClasses()

	out := make([]Detection, 0)
	for i := range raw.Candidates {
		classID := 0
		best := raw.At(boxChannels, i)
		for c := 1; c < numClasses; c++ {
			if s := raw.At(boxChannels+c, i); s > best {
				best, classID = s, c
			}
		}
		// Written as a negated comparison so NaN scores are dropped.
		if !(best > p.params.ConfidenceThreshold) {
			continue
		}

		cx, cy := raw.At(0, i), raw.At(1, i)
		bw, bh := raw.At(2, i), raw.At(3, i)
		box := clampBox(BoundingBox{
			X1: (cx - bw/2) * scaleX,
			Y1: (cy - bh/2) * scaleY,
			X2: (cx + bw/2) * scaleX,
			Y2: (cy + bh/2) * scaleY,
		}, w, h)
		if !box.Valid() {
			continue
		}

		out = append(out, Detection{
			Label:      p.labels.Label(classID),
			ClassID:    classID,
			Confidence: best,
			Box:        box,
		})
	}
	return out
}

// suppress is Stage B: greedy class-wise NMS over a stable confidence sort.
// Only detections sharing a label can suppress each other.
func suppress(dets []Detection, iouThreshold float32) []Detection {
	slices.SortStableFunc(dets, func(a, b Detection) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})

	removed := make([]bool, len(dets))
	kept := make([]Detection, 0, len(dets))
	for i := range dets {
		if removed[i] {
			continue
		}
		kept = append(kept, dets[i])
		for j := i + 1; j < len(dets); j++ {
			if removed[j] || dets[j].Label != dets[i].Label {
				continue
			}
			if dets[i].Box.IoU(dets[j].Box) > iouThreshold {
				removed[j] = true
			}
		}
	}
	return kept
}

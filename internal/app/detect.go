package app

import (
	"context"

	"github.com/tphakala/pairwatch/internal/detection"
	"github.com/tphakala/pairwatch/internal/inference"
	"github.com/tphakala/pairwatch/internal/logger"
	"github.com/tphakala/pairwatch/internal/pairing"
)

// Detector finds objects in an image file.
type Detector interface {
	DetectFile(path string) ([]detection.Detection, error)
}

// DetectResult is the outcome of one camera-side detection pass.
type DetectResult struct {
	Pairing    *pairing.Pairing
	Detections []detection.Detection
	Alerts     []pairing.Alert
}

// NewDetector loads the label table and the model. release frees the
// interpreter and must be called once the detector is no longer used.
func (a *App) NewDetector() (det *inference.Pipeline, release func(), err error) {
	s := a.Settings.Detection

	labels := detection.COCOLabels()
	if s.LabelsPath != "" {
		labels, err = detection.LoadLabels(s.LabelsPath)
		if err != nil {
			return nil, nil, err
		}
	}

	params := detection.DefaultParams()
	params.InputSize = s.InputSize
	params.NumClasses = s.NumClasses
	params.NumCandidates = s.NumCandidates
	params.ConfidenceThreshold = s.ConfidenceThreshold
	params.IoUThreshold = s.IoUThreshold
	params.MaxDetections = s.MaxDetections

	processor := detection.NewPostProcessor(params, labels,
		detection.WithRecorder(a.Metrics.Detection),
		detection.WithLogger(a.log.Module("detection")))

	interp, err := inference.NewInterpreter(inference.InterpreterOptions{
		ModelPath:  s.ModelPath,
		Threads:    s.Threads,
		UseXNNPACK: s.UseXNNPACK,
	}, a.log.Module("inference"))
	if err != nil {
		return nil, nil, err
	}

	pipeline, err := inference.NewPipeline(interp, processor, a.Metrics.Detection)
	if err != nil {
		interp.Delete()
		return nil, nil, err
	}
	return pipeline, interp.Delete, nil
}

// DetectAndPublish runs det on the image at path and publishes one alert
// per watched label it finds. The pairing is validated first so a stale
// code fails before the model runs.
func (a *App) DetectAndPublish(ctx context.Context, det Detector, code, path string) (DetectResult, error) {
	p, err := a.Pairings.Validate(ctx, code)
	if err != nil {
		return DetectResult{}, err
	}

	detections, err := det.DetectFile(path)
	if err != nil {
		return DetectResult{Pairing: p}, err
	}
	a.log.Debug("image analysed",
		logger.String("path", path),
		logger.Int("detections", len(detections)))

	alerts, err := a.Publisher().PublishMatches(ctx, code, p.SelectedObjects, detections)
	if touchErr := a.Pairings.TouchDevice(ctx, code, pairing.RoleCamera); touchErr != nil {
		a.log.Warn("camera heartbeat failed", logger.String("code", code), logger.Error(touchErr))
	}
	return DetectResult{Pairing: p, Detections: detections, Alerts: alerts}, err
}

// Package metrics provides the Prometheus collectors used across pairwatch.
//
// Every collector registers itself on the registry passed to its constructor.
// All recording methods are safe to call on a nil receiver so components can
// run without metrics.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DetectionMetrics covers inference and post-processing.
type DetectionMetrics struct {
	CandidatesTotal   prometheus.Counter
	DetectionsTotal   *prometheus.CounterVec
	SuppressedTotal   prometheus.Counter
	ProcessDuration   prometheus.Histogram
	InferenceDuration prometheus.Histogram
	InferenceErrors   prometheus.Counter
	registry          *prometheus.Registry
}

// NewDetectionMetrics creates and registers the detection collectors.
func NewDetectionMetrics(registry *prometheus.Registry) (*DetectionMetrics, error) {
	m := &DetectionMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register detection metrics: %w", err)
	}
	return m, nil
}

func (m *DetectionMetrics) initMetrics() {
	m.CandidatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pairwatch_detection_candidates_total",
		Help: "Raw candidates examined by the post-processor",
	})
	m.DetectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairwatch_detections_total",
		Help: "Detections emitted after suppression, by label",
	}, []string{"label"})
	m.SuppressedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pairwatch_detection_suppressed_total",
		Help: "Detections removed by class-wise non-maximum suppression",
	})
	m.ProcessDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pairwatch_detection_postprocess_duration_seconds",
		Help:    "Time spent decoding and suppressing one model output",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
	m.InferenceDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pairwatch_inference_duration_seconds",
		Help:    "Time spent in the model interpreter",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})
	m.InferenceErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pairwatch_inference_errors_total",
		Help: "Failed inference calls",
	})
}

// RecordProcess records one post-processing run.
func (m *DetectionMetrics) RecordProcess(candidates int, labels []string, suppressed int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.CandidatesTotal.Add(float64(candidates))
	for _, label := range labels {
		m.DetectionsTotal.WithLabelValues(label).Inc()
	}
	m.SuppressedTotal.Add(float64(suppressed))
	m.ProcessDuration.Observe(elapsed.Seconds())
}

// RecordInference records one interpreter call.
func (m *DetectionMetrics) RecordInference(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.InferenceErrors.Inc()
		return
	}
	m.InferenceDuration.Observe(elapsed.Seconds())
}

// Describe implements prometheus.Collector.
func (m *DetectionMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.CandidatesTotal.Desc()
	m.DetectionsTotal.Describe(ch)
	ch <- m.SuppressedTotal.Desc()
	ch <- m.ProcessDuration.Desc()
	ch <- m.InferenceDuration.Desc()
	ch <- m.InferenceErrors.Desc()
}

// Collect implements prometheus.Collector.
func (m *DetectionMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.CandidatesTotal
	m.DetectionsTotal.Collect(ch)
	ch <- m.SuppressedTotal
	ch <- m.ProcessDuration
	ch <- m.InferenceDuration
	ch <- m.InferenceErrors
}

package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StoreMetrics covers remote store adapters. The backend label is one of
// memory, sqlite, mysql or mqtt.
type StoreMetrics struct {
	ConnectionStatus  *prometheus.GaugeVec
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	ConnectionLost    *prometheus.CounterVec
	registry          *prometheus.Registry
}

// NewStoreMetrics creates and registers the store collectors.
func NewStoreMetrics(registry *prometheus.Registry) (*StoreMetrics, error) {
	m := &StoreMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register store metrics: %w", err)
	}
	return m, nil
}

func (m *StoreMetrics) initMetrics() {
	m.ConnectionStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pairwatch_store_connected",
		Help: "Remote store connection status (1 connected, 0 disconnected)",
	}, []string{"backend"})
	m.Operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairwatch_store_operations_total",
		Help: "Remote store operations by outcome",
	}, []string{"backend", "operation", "status"})
	m.OperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pairwatch_store_operation_duration_seconds",
		Help:    "Remote store operation latency",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"backend", "operation"})
	m.ConnectionLost = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairwatch_store_connection_lost_total",
		Help: "Times the remote store connection dropped",
	}, []string{"backend"})
}

func (m *StoreMetrics) SetConnected(backend string, connected bool) {
	if m == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1
	}
	m.ConnectionStatus.WithLabelValues(backend).Set(value)
	if !connected {
		m.ConnectionLost.WithLabelValues(backend).Inc()
	}
}

// RecordOperation records one store call started at start.
func (m *StoreMetrics) RecordOperation(backend, operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(backend, operation, statusLabel(err)).Inc()
	m.OperationDuration.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
}

func (m *StoreMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.ConnectionStatus.Describe(ch)
	m.Operations.Describe(ch)
	m.OperationDuration.Describe(ch)
	m.ConnectionLost.Describe(ch)
}

func (m *StoreMetrics) Collect(ch chan<- prometheus.Metric) {
	m.ConnectionStatus.Collect(ch)
	m.Operations.Collect(ch)
	m.OperationDuration.Collect(ch)
	m.ConnectionLost.Collect(ch)
}

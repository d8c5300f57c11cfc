package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// NotificationMetrics covers notification dispatch and its providers.
type NotificationMetrics struct {
	DispatchTotal    *prometheus.CounterVec
	Deliveries       *prometheus.CounterVec
	DeliveryDuration *prometheus.HistogramVec
	registry         *prometheus.Registry
}

// NewNotificationMetrics creates and registers the notification collectors.
func NewNotificationMetrics(registry *prometheus.Registry) (*NotificationMetrics, error) {
	m := &NotificationMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register notification metrics: %w", err)
	}
	return m, nil
}

func (m *NotificationMetrics) initMetrics() {
	m.DispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairwatch_notification_dispatch_total",
		Help: "Notices handed to the dispatcher by outcome (sent, duplicate, rate_limited, failed)",
	}, []string{"outcome"})
	m.Deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairwatch_notification_provider_deliveries_total",
		Help: "Provider delivery attempts by provider and status",
	}, []string{"provider", "status"})
	m.DeliveryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pairwatch_notification_provider_delivery_duration_seconds",
		Help:    "Provider delivery latency",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"provider"})
}

func (m *NotificationMetrics) RecordDispatch(outcome string) {
	if m == nil {
		return
	}
	m.DispatchTotal.WithLabelValues(outcome).Inc()
}

func (m *NotificationMetrics) RecordDelivery(provider string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(provider, statusLabel(err)).Inc()
	m.DeliveryDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

func (m *NotificationMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.DispatchTotal.Describe(ch)
	m.Deliveries.Describe(ch)
	m.DeliveryDuration.Describe(ch)
}

func (m *NotificationMetrics) Collect(ch chan<- prometheus.Metric) {
	m.DispatchTotal.Collect(ch)
	m.Deliveries.Collect(ch)
	m.DeliveryDuration.Collect(ch)
}

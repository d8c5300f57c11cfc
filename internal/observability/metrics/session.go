package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// SessionMetrics covers the monitor-side session state machine.
type SessionMetrics struct {
	State             *prometheus.GaugeVec
	ReconnectAttempts prometheus.Counter
	Reconnects        prometheus.Counter
	Heartbeats        *prometheus.CounterVec
	AlertsDelivered   *prometheus.CounterVec
	registry          *prometheus.Registry
}

// SessionStates lists the values of the state label.
var SessionStates = []string{"idle", "starting", "active", "reconnecting"}

// NewSessionMetrics creates and registers the session collectors.
func NewSessionMetrics(registry *prometheus.Registry) (*SessionMetrics, error) {
	m := &SessionMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register session metrics: %w", err)
	}
	m.SetState("idle")
	return m, nil
}

func (m *SessionMetrics) initMetrics() {
	m.State = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pairwatch_session_state",
		Help: "Current monitoring session state (1 for the active state label)",
	}, []string{"state"})
	m.ReconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pairwatch_session_reconnect_attempts_total",
		Help: "Resubscribe attempts made after a subscription error",
	})
	m.Reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pairwatch_session_reconnects_total",
		Help: "Resubscribe attempts that restored the subscription",
	})
	m.Heartbeats = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairwatch_session_heartbeats_total",
		Help: "Liveness writes by outcome",
	}, []string{"status"})
	m.AlertsDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairwatch_session_alerts_delivered_total",
		Help: "Alerts delivered to the session callback",
	}, []string{"matched", "historical"})
}

// SetState marks state as the current one.
func (m *SessionMetrics) SetState(state string) {
	if m == nil {
		return
	}
	for _, s := range SessionStates {
		value := 0.0
		if s == state {
			value = 1
		}
		m.State.WithLabelValues(s).Set(value)
	}
}

func (m *SessionMetrics) IncReconnectAttempt() {
	if m == nil {
		return
	}
	m.ReconnectAttempts.Inc()
}

func (m *SessionMetrics) IncReconnected() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

// RecordHeartbeat counts a heartbeat write; err nil counts as ok.
func (m *SessionMetrics) RecordHeartbeat(err error) {
	if m == nil {
		return
	}
	m.Heartbeats.WithLabelValues(statusLabel(err)).Inc()
}

func (m *SessionMetrics) RecordAlert(matched, historical bool) {
	if m == nil {
		return
	}
	m.AlertsDelivered.WithLabelValues(boolLabel(matched), boolLabel(historical)).Inc()
}

func (m *SessionMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.State.Describe(ch)
	ch <- m.ReconnectAttempts.Desc()
	ch <- m.Reconnects.Desc()
	m.Heartbeats.Describe(ch)
	m.AlertsDelivered.Describe(ch)
}

func (m *SessionMetrics) Collect(ch chan<- prometheus.Metric) {
	m.State.Collect(ch)
	ch <- m.ReconnectAttempts
	ch <- m.Reconnects
	m.Heartbeats.Collect(ch)
	m.AlertsDelivered.Collect(ch)
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilReceiversAreSafe(t *testing.T) {
	t.Parallel()

	var d *DetectionMetrics
	var s *SessionMetrics
	var st *StoreMetrics
	var n *NotificationMetrics

	assert.NotPanics(t, func() {
		d.RecordProcess(1, []string{"x"}, 0, time.Millisecond)
		d.RecordInference(time.Millisecond, nil)
		s.SetState("active")
		s.IncReconnectAttempt()
		s.IncReconnected()
		s.RecordHeartbeat(nil)
		s.RecordAlert(true, false)
		st.SetConnected("mqtt", true)
		st.RecordOperation("mqtt", "get", time.Now(), nil)
		n.RecordDispatch("sent")
		n.RecordDelivery("webhook", time.Millisecond, nil)
	})
}

func TestDuplicateRegistrationFails(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	_, err := NewStoreMetrics(registry)
	require.NoError(t, err)
	_, err = NewStoreMetrics(registry)
	require.Error(t, err)
}

func TestSessionMetrics_StateIsOneHot(t *testing.T) {
	t.Parallel()

	m, err := NewSessionMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	assert.InDelta(t, 1, testutil.ToFloat64(m.State.WithLabelValues("idle")), 0)

	m.SetState("reconnecting")
	for _, state := range SessionStates {
		want := 0.0
		if state == "reconnecting" {
			want = 1
		}
		assert.InDelta(t, want, testutil.ToFloat64(m.State.WithLabelValues(state)), 0, state)
	}
}

func TestStoreMetrics_ConnectionLost(t *testing.T) {
	t.Parallel()

	m, err := NewStoreMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.SetConnected("mqtt", true)
	m.SetConnected("mqtt", false)
	m.RecordOperation("mqtt", "set", time.Now(), errors.New("timeout"))

	assert.InDelta(t, 0, testutil.ToFloat64(m.ConnectionStatus.WithLabelValues("mqtt")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ConnectionLost.WithLabelValues("mqtt")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Operations.WithLabelValues("mqtt", "set", "error")), 0)
}

func TestNotificationMetrics_Delivery(t *testing.T) {
	t.Parallel()

	m, err := NewNotificationMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordDelivery("shoutrrr", 20*time.Millisecond, nil)
	m.RecordDelivery("shoutrrr", 20*time.Millisecond, errors.New("boom"))
	m.RecordDispatch("duplicate")

	assert.InDelta(t, 1, testutil.ToFloat64(m.Deliveries.WithLabelValues("shoutrrr", "ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Deliveries.WithLabelValues("shoutrrr", "error")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.DispatchTotal.WithLabelValues("duplicate")), 0)
}

func TestDetectionMetrics_RecordProcess(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	m, err := NewDetectionMetrics(registry)
	require.NoError(t, err)

	m.RecordProcess(120, []string{"cat", "cat", "dog"}, 4, 3*time.Millisecond)
	m.RecordInference(40*time.Millisecond, nil)
	m.RecordInference(0, errors.New("invoke failed"))

	assert.InDelta(t, 120, testutil.ToFloat64(m.CandidatesTotal), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.DetectionsTotal.WithLabelValues("cat")), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(m.SuppressedTotal), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.InferenceErrors), 0)

	families, err := registry.Gather()
	require.NoError(t, err)
	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		byName[f.GetName()] = f
	}

	inference := byName["pairwatch_inference_duration_seconds"]
	require.NotNil(t, inference)
	require.Equal(t, dto.MetricType_HISTOGRAM, inference.GetType())
	h := inference.GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(1), h.GetSampleCount(), "failed calls are not timed")
	assert.InDelta(t, 0.04, h.GetSampleSum(), 1e-9)

	process := byName["pairwatch_detection_postprocess_duration_seconds"]
	require.NotNil(t, process)
	assert.Equal(t, uint64(1), process.GetMetric()[0].GetHistogram().GetSampleCount())
}

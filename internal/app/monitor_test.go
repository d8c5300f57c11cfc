package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pairwatch/internal/localstore"
	"github.com/tphakala/pairwatch/internal/monitoring"
	"github.com/tphakala/pairwatch/internal/pairing"
	"github.com/tphakala/pairwatch/internal/testutil"
)

const waitFor = testutil.DefaultTestTimeout

type runResult struct {
	err error
}

func startMonitor(t *testing.T, ctx context.Context, m *Monitor, code string, objects []string) <-chan runResult {
	t.Helper()
	done := make(chan runResult, 1)
	go func() {
		err := m.Run(ctx, func(ctx context.Context) error {
			return m.Session.Start(ctx, code, objects)
		})
		done <- runResult{err: err}
	}()
	require.Eventually(t, func() bool { return m.Session.State() == monitoring.StateActive },
		waitFor, 5*time.Millisecond)
	return done
}

func waitRun(t *testing.T, done <-chan runResult) error {
	t.Helper()
	return testutil.Receive(t, done, waitFor, "Run did not return").err
}

func TestMonitor_DeliversAndNotifies(t *testing.T) {
	t.Parallel()
	settings := testSettings()
	settings.HTTP.Enabled = true
	a := openTestApp(t, settings)

	notifier := &recordingNotifier{}
	events := make(chan monitoring.AlertEvent, 8)
	m, err := a.NewMonitor(MonitorOptions{
		Notifier: notifier,
		OnAlert:  func(ev monitoring.AlertEvent) { events <- ev },
	})
	require.NoError(t, err)

	p, err := a.Pairings.Create(t.Context(), []string{"cat"}, "camera-token")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	done := startMonitor(t, ctx, m, p.Code, []string{"cat"})

	_, err = a.Publisher().Publish(t.Context(), p.Code, "cat", 0.9)
	require.NoError(t, err)

	ev := testutil.Receive(t, events, waitFor, "no alert delivered")
	assert.Equal(t, "cat", ev.Alert.ObjectLabel)
	assert.True(t, ev.Matched)
	assert.Eventually(t, func() bool { return notifier.count() == 1 }, waitFor, 5*time.Millisecond)

	cancel()
	require.NoError(t, waitRun(t, done))
}

func TestMonitor_CancelDetachesAndKeepsRecord(t *testing.T) {
	t.Parallel()
	a := openTestApp(t, testSettings())
	m, err := a.NewMonitor(MonitorOptions{Notifier: &recordingNotifier{}})
	require.NoError(t, err)
	p, err := a.Pairings.Create(t.Context(), []string{"cat"}, "camera-token")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := startMonitor(t, ctx, m, p.Code, []string{"cat"})
	cancel()
	require.NoError(t, waitRun(t, done))

	assert.Equal(t, monitoring.StateIdle, m.Session.State())
	rec, ok := localstore.LoadActiveMonitoring(a.Local)
	require.True(t, ok, "shutdown keeps the session resumable")
	assert.Equal(t, p.Code, rec.Code)

	// The next process resumes it.
	m2, err := a.NewMonitor(MonitorOptions{Notifier: &recordingNotifier{}})
	require.NoError(t, err)
	ctx2, cancel2 := context.WithCancel(t.Context())
	done2 := make(chan runResult, 1)
	go func() { done2 <- runResult{err: m2.Run(ctx2, m2.Session.Resume)} }()
	require.Eventually(t, func() bool { return m2.Session.State() == monitoring.StateActive }, waitFor, 5*time.Millisecond)
	cancel2()
	require.NoError(t, waitRun(t, done2))
}

func TestMonitor_StopEndsRun(t *testing.T) {
	t.Parallel()
	a := openTestApp(t, testSettings())
	m, err := a.NewMonitor(MonitorOptions{Notifier: &recordingNotifier{}})
	require.NoError(t, err)
	p, err := a.Pairings.Create(t.Context(), []string{"cat"}, "camera-token")
	require.NoError(t, err)

	done := startMonitor(t, t.Context(), m, p.Code, []string{"cat"})
	m.Session.Stop()
	require.NoError(t, waitRun(t, done))

	_, ok := localstore.LoadActiveMonitoring(a.Local)
	assert.False(t, ok, "an explicit stop clears the record")
}

func TestMonitor_StartFailure(t *testing.T) {
	t.Parallel()
	a := openTestApp(t, testSettings())
	m, err := a.NewMonitor(MonitorOptions{Notifier: &recordingNotifier{}})
	require.NoError(t, err)

	err = m.Run(t.Context(), func(ctx context.Context) error {
		return m.Session.Start(ctx, "ZZZZ9999", []string{"cat"})
	})
	require.ErrorIs(t, err, pairing.ErrPairingNotFound)
}

func TestMonitor_StatusServerBindFailure(t *testing.T) {
	t.Parallel()
	settings := testSettings()
	settings.HTTP.Enabled = true
	settings.HTTP.Listen = "256.0.0.1:80"
	a := openTestApp(t, settings)
	m, err := a.NewMonitor(MonitorOptions{Notifier: &recordingNotifier{}})
	require.NoError(t, err)
	p, err := a.Pairings.Create(t.Context(), []string{"cat"}, "camera-token")
	require.NoError(t, err)

	err = m.Run(t.Context(), func(ctx context.Context) error {
		return m.Session.Start(ctx, p.Code, []string{"cat"})
	})
	require.Error(t, err)
	assert.Equal(t, monitoring.StateIdle, m.Session.State())
}

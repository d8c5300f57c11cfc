package app

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pairwatch/internal/buildinfo"
	"github.com/tphakala/pairwatch/internal/conf"
	"github.com/tphakala/pairwatch/internal/detection"
	"github.com/tphakala/pairwatch/internal/errors"
	"github.com/tphakala/pairwatch/internal/localstore"
	"github.com/tphakala/pairwatch/internal/logger"
	"github.com/tphakala/pairwatch/internal/monitoring"
	"github.com/tphakala/pairwatch/internal/notification"
	"github.com/tphakala/pairwatch/internal/pairing"
	"github.com/tphakala/pairwatch/internal/remotestore"
)

func testSettings() *conf.Settings {
	return &conf.Settings{
		Pairing: conf.PairingSettings{
			CodeLength:   conf.DefaultCodeLength,
			CodeAlphabet: conf.DefaultCodeAlphabet,
			CacheTTL:     time.Minute,
		},
		Monitoring: conf.MonitoringSettings{
			ReconnectDelay:    time.Second,
			HeartbeatInterval: time.Minute,
		},
		Store: conf.StoreSettings{Backend: BackendMemory},
		Notification: conf.NotificationSettings{
			RateLimit: 1,
			Burst:     5,
			DedupeTTL: time.Hour,
		},
		HTTP: conf.HTTPSettings{Listen: "127.0.0.1:0"},
	}
}

func openTestApp(t *testing.T, settings *conf.Settings, opts ...Option) *App {
	t.Helper()
	opts = append([]Option{WithLogger(logger.NewDiscardLogger())}, opts...)
	a, err := Open(t.Context(), settings, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

type fakeDetector struct {
	detections []detection.Detection
	err        error
	calls      int
}

func (f *fakeDetector) DetectFile(string) ([]detection.Detection, error) {
	f.calls++
	return f.detections, f.err
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []notification.Notice
}

func (n *recordingNotifier) Notify(_ context.Context, notice notification.Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}

func TestOpen_RequiresSettings(t *testing.T) {
	t.Parallel()
	_, err := Open(t.Context(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestOpen_MemoryBackend(t *testing.T) {
	t.Parallel()
	a := openTestApp(t, testSettings(), WithBuildInfo(buildinfo.NewContext("1.2.3", "", "")))

	require.NotNil(t, a.Store)
	require.NotNil(t, a.Pairings)
	assert.Equal(t, "1.2.3", a.Build.GetVersion())
	assert.Len(t, a.Build.GetSystemID(), 36, "a device identity is created on first use")

	id, err := buildinfo.LoadOrCreateSystemID(a.Local)
	require.NoError(t, err)
	assert.Equal(t, a.Build.SystemID, id)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close(), "Close is idempotent")
}

func TestOpen_InjectedStoreIsNotClosed(t *testing.T) {
	t.Parallel()
	store := remotestore.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	a := openTestApp(t, testSettings(), WithStore(store))
	require.NoError(t, a.Close())

	require.NoError(t, store.Write(t.Context(), "still-open", remotestore.Value{"ok": true}))
}

func TestOpenRemoteStore(t *testing.T) {
	t.Parallel()
	log := logger.NewDiscardLogger()

	store, err := OpenRemoteStore(t.Context(), conf.StoreSettings{
		Backend:      BackendSQLite,
		SQLite:       conf.SQLiteSettings{Path: ":memory:"},
		PollInterval: time.Second,
	}, log, nil)
	require.NoError(t, err)
	require.NoError(t, store.Write(t.Context(), "pairings/ABC", remotestore.Value{"isActive": true}))
	require.NoError(t, store.Close())

	_, err = OpenRemoteStore(t.Context(), conf.StoreSettings{Backend: "etcd"}, log, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestOpenLocalStore(t *testing.T) {
	t.Parallel()

	mem, err := OpenLocalStore(conf.LocalSettings{})
	require.NoError(t, err)
	assert.IsType(t, &localstore.MemoryStore{}, mem)

	path := filepath.Join(t.TempDir(), "state.yaml")
	file, err := OpenLocalStore(conf.LocalSettings{Path: path})
	require.NoError(t, err)
	require.NoError(t, file.Set("k", "v"))
	assert.FileExists(t, path)
}

func TestDetectAndPublish(t *testing.T) {
	t.Parallel()
	a := openTestApp(t, testSettings())
	p, err := a.Pairings.Create(t.Context(), []string{"cat"}, "camera-token")
	require.NoError(t, err)

	det := &fakeDetector{detections: []detection.Detection{
		{Label: "cat", Confidence: 0.62},
		{Label: "cat", Confidence: 0.91},
		{Label: "dog", Confidence: 0.88},
	}}
	res, err := a.DetectAndPublish(t.Context(), det, p.Code, "frame.jpg")
	require.NoError(t, err)
	assert.Len(t, res.Detections, 3)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, "cat", res.Alerts[0].ObjectLabel)
	assert.InDelta(t, 0.91, res.Alerts[0].Confidence, 1e-6)

	alerts, err := a.Pairings.Alerts(t.Context(), p.Code)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)

	got, err := a.Pairings.Get(t.Context(), p.Code)
	require.NoError(t, err)
	assert.False(t, got.Devices[pairing.RoleCamera].LastActive.IsZero(), "camera liveness is recorded")
}

func TestDetectAndPublish_UnknownCodeSkipsModel(t *testing.T) {
	t.Parallel()
	a := openTestApp(t, testSettings())
	det := &fakeDetector{}

	_, err := a.DetectAndPublish(t.Context(), det, "ZZZZ9999", "frame.jpg")
	require.ErrorIs(t, err, pairing.ErrPairingNotFound)
	assert.Zero(t, det.calls)
}

func TestDetectAndPublish_DetectorError(t *testing.T) {
	t.Parallel()
	a := openTestApp(t, testSettings())
	p, err := a.Pairings.Create(t.Context(), []string{"cat"}, "camera-token")
	require.NoError(t, err)

	_, err = a.DetectAndPublish(t.Context(), &fakeDetector{err: errors.NewStd("decode failed")}, p.Code, "frame.jpg")
	require.Error(t, err)
	alerts, err := a.Pairings.Alerts(t.Context(), p.Code)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestDescribeHost(t *testing.T) {
	t.Parallel()
	summary, err := DescribeHost(t.Context())
	if err != nil {
		t.Skipf("host details unavailable: %v", err)
	}
	assert.NotEmpty(t, summary.OS)
}

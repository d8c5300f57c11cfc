package notification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/pairwatch/internal/errors"
	"github.com/tphakala/pairwatch/internal/logger"
	"github.com/tphakala/pairwatch/internal/observability/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
}

var errProviderDown = errors.NewStd("provider down")

// fakeProvider records notices and fails while err is set.
type fakeProvider struct {
	name     string
	disabled bool

	mu      sync.Mutex
	err     error
	notices []Notice
	calls   int
}

func (p *fakeProvider) Name() string    { return p.name }
func (p *fakeProvider) Enabled() bool   { return !p.disabled }
func (p *fakeProvider) Validate() error { return nil }

func (p *fakeProvider) Send(_ context.Context, n Notice) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return p.err
	}
	p.notices = append(p.notices, n)
	return nil
}

func (p *fakeProvider) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *fakeProvider) sent() []Notice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Notice(nil), p.notices...)
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func notice(id string) Notice {
	return Notice{
		AlertID:     id,
		PairingCode: "AB12CD34",
		ObjectLabel: "cat",
		Confidence:  0.87,
		Timestamp:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newTestMetrics(t *testing.T) *metrics.NotificationMetrics {
	t.Helper()
	m, err := metrics.NewNotificationMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}

func TestDispatcher_DeliversToEnabledProviders(t *testing.T) {
	t.Parallel()

	a := &fakeProvider{name: "a"}
	b := &fakeProvider{name: "b"}
	off := &fakeProvider{name: "off", disabled: true}
	m := newTestMetrics(t)
	d := NewDispatcher([]Provider{a, b, off}, DispatcherOptions{Logger: logger.NewDiscardLogger(), Metrics: m})

	require.NoError(t, d.Notify(t.Context(), notice("alert-1")))

	assert.Len(t, a.sent(), 1)
	assert.Len(t, b.sent(), 1)
	assert.Zero(t, off.callCount())
	assert.Equal(t, []string{"a", "b"}, d.Providers())
	assert.InDelta(t, 1, testutil.ToFloat64(m.DispatchTotal.WithLabelValues(outcomeSent)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Deliveries.WithLabelValues("a", "ok")), 0)
}

func TestDispatcher_AtMostOncePerAlert(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{name: "p"}
	m := newTestMetrics(t)
	d := NewDispatcher([]Provider{p}, DispatcherOptions{Logger: logger.NewDiscardLogger(), Metrics: m})

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			assert.NoError(t, d.Notify(t.Context(), notice("alert-1")))
		})
	}
	wg.Wait()

	assert.Len(t, p.sent(), 1)
	assert.InDelta(t, 9, testutil.ToFloat64(m.DispatchTotal.WithLabelValues(outcomeDuplicate)), 0)
}

func TestDispatcher_FailedDeliveryIsNotRetried(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{name: "p", err: errProviderDown}
	d := NewDispatcher([]Provider{p}, DispatcherOptions{Logger: logger.NewDiscardLogger()})

	err := d.Notify(t.Context(), notice("alert-1"))
	require.ErrorIs(t, err, errProviderDown)
	assert.True(t, errors.IsCategory(err, errors.CategoryNotification))

	p.setErr(nil)
	require.NoError(t, d.Notify(t.Context(), notice("alert-1")))
	assert.Equal(t, 1, p.callCount())
}

func TestDispatcher_JoinsProviderErrors(t *testing.T) {
	t.Parallel()

	errOther := errors.NewStd("other down")
	good := &fakeProvider{name: "good"}
	d := NewDispatcher([]Provider{
		&fakeProvider{name: "a", err: errProviderDown},
		&fakeProvider{name: "b", err: errOther},
		good,
	}, DispatcherOptions{Logger: logger.NewDiscardLogger()})

	err := d.Notify(t.Context(), notice("alert-1"))
	require.ErrorIs(t, err, errProviderDown)
	require.ErrorIs(t, err, errOther)
	assert.Len(t, good.sent(), 1, "one failing provider does not block the others")
}

func TestDispatcher_RateLimit(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &fakeProvider{name: "p"}
	m := newTestMetrics(t)
	d := NewDispatcher([]Provider{p}, DispatcherOptions{
		RateLimit: 1,
		Burst:     2,
		Logger:    logger.NewDiscardLogger(),
		Metrics:   m,
		Now:       func() time.Time { return now },
	})

	require.NoError(t, d.Notify(t.Context(), notice("a")))
	require.NoError(t, d.Notify(t.Context(), notice("b")))
	err := d.Notify(t.Context(), notice("c"))
	require.ErrorIs(t, err, ErrRateLimited)
	assert.True(t, errors.IsCategory(err, errors.CategoryLimit))
	assert.InDelta(t, 1, testutil.ToFloat64(m.DispatchTotal.WithLabelValues(outcomeRateLimited)), 0)

	now = now.Add(time.Second)
	require.NoError(t, d.Notify(t.Context(), notice("d")))
	assert.Len(t, p.sent(), 3)
}

func TestDispatcher_RejectsNoticeWithoutID(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil, DispatcherOptions{Logger: logger.NewDiscardLogger()})
	err := d.Notify(t.Context(), Notice{ObjectLabel: "cat"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestDispatcher_NoProviders(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil, DispatcherOptions{Logger: logger.NewDiscardLogger()})
	require.NoError(t, d.Notify(t.Context(), notice("alert-1")))
	assert.Empty(t, d.Providers())
}

func TestNotice_Text(t *testing.T) {
	t.Parallel()

	n := notice("x")
	assert.Equal(t, "Cat detected", n.Title())
	assert.Contains(t, n.Message(), "Cat detected with 87% confidence")
	assert.Equal(t, "Object detected", Notice{}.Title())
	assert.Equal(t, "Object detected with 0% confidence", Notice{}.Message())
	assert.Equal(t, "Teddy Bear detected", Notice{ObjectLabel: "teddy bear"}.Title())
}

func TestNotifierFunc(t *testing.T) {
	t.Parallel()

	var got Notice
	var n Notifier = NotifierFunc(func(_ context.Context, n Notice) error {
		got = n
		return nil
	})
	require.NoError(t, n.Notify(t.Context(), notice("fn")))
	assert.Equal(t, "fn", got.AlertID)
}

package pairing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pairwatch/internal/errors"
	"github.com/tphakala/pairwatch/internal/localstore"
	"github.com/tphakala/pairwatch/internal/logger"
	"github.com/tphakala/pairwatch/internal/remotestore"
)

func newTestService(t *testing.T) (*Service, *remotestore.MemoryStore, *localstore.MemoryStore) {
	t.Helper()
	store := remotestore.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	local := localstore.NewMemoryStore()
	svc := NewService(store, local, ServiceOptions{Logger: logger.NewDiscardLogger()})
	return svc, store, local
}

func TestService_CreateAndGet(t *testing.T) {
	t.Parallel()
	svc, _, local := newTestService(t)
	ctx := t.Context()

	p, err := svc.Create(ctx, []string{"person", "cat", "cat"}, "camera-token")
	require.NoError(t, err)
	assert.True(t, ValidCodeFormat(p.Code))
	assert.Equal(t, []string{"cat", "person"}, p.SelectedObjects)
	assert.True(t, p.IsActive)
	assert.False(t, p.CreatedAt.IsZero(), "createdAt is assigned by the store")
	assert.Equal(t, "camera-token", p.Devices[RoleCamera].PushToken)

	got, err := svc.Get(ctx, p.Code)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	entries, err := localstore.LoadPairings(local)
	require.NoError(t, err)
	assert.Equal(t, "camera", entries[p.Code].Role)
}

func TestService_CreateRetriesOnCollision(t *testing.T) {
	t.Parallel()
	store := remotestore.NewMemoryStore()
	defer func() { _ = store.Close() }()

	// A one-symbol alphabet always yields the same code.
	codes := CodeGenerator{Length: 4, Alphabet: "A"}
	svc := NewService(store, nil, ServiceOptions{Codes: codes, MaxCreateAttempts: 3, Logger: logger.NewDiscardLogger()})

	_, err := svc.Create(t.Context(), nil, "")
	require.NoError(t, err)
	_, err = svc.Create(t.Context(), nil, "")
	require.ErrorIs(t, err, ErrCodeSpaceExhausted)
}

func TestService_ValidateFailsClosed(t *testing.T) {
	t.Parallel()
	svc, store, _ := newTestService(t)
	ctx := t.Context()

	p, err := svc.Create(ctx, []string{"cat"}, "")
	require.NoError(t, err)

	store.FailNext(remotestore.OpRead, nil)
	_, err = svc.Validate(ctx, p.Code)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
	assert.NotErrorIs(t, err, ErrPairingNotFound)

	// Get within the TTL is still served by the cache.
	store.SetAvailable(false)
	_, err = svc.Get(ctx, p.Code)
	require.NoError(t, err)
	store.SetAvailable(true)
}

func TestService_NotFoundInvalidatesAdvisoryCopies(t *testing.T) {
	t.Parallel()
	svc, store, local := newTestService(t)
	ctx := t.Context()

	p, err := svc.Create(ctx, []string{"cat"}, "")
	require.NoError(t, err)

	// Removed behind the service's back.
	require.NoError(t, store.Delete(ctx, remotestore.PairingPath(p.Code)))

	_, err = svc.Validate(ctx, p.Code)
	require.ErrorIs(t, err, ErrPairingNotFound)
	assert.True(t, errors.IsNotFound(err))

	_, err = svc.Get(ctx, p.Code)
	require.ErrorIs(t, err, ErrPairingNotFound, "cache entry must be dropped")

	entries, err := localstore.LoadPairings(local)
	require.NoError(t, err)
	assert.NotContains(t, entries, p.Code)
}

func TestService_MalformedCodeIsNotFound(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)
	_, err := svc.Validate(t.Context(), "bad")
	require.ErrorIs(t, err, ErrPairingNotFound)
}

func TestService_ConcurrentLookups(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)
	ctx := t.Context()

	p, err := svc.Create(ctx, []string{"cat"}, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			got, err := svc.Validate(ctx, p.Code)
			assert.NoError(t, err)
			assert.Equal(t, p.Code, got.Code)
		})
	}
	wg.Wait()
}

func TestService_LookupHonoursCallerContext(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := svc.Validate(ctx, "AB12CD34")
	require.ErrorIs(t, err, context.Canceled)
}

func TestService_JoinUpdateTouchDelete(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	store := remotestore.NewMemoryStore(remotestore.WithMemoryClock(func() time.Time { return now }))
	defer func() { _ = store.Close() }()
	local := localstore.NewMemoryStore()
	svc := NewService(store, local, ServiceOptions{Logger: logger.NewDiscardLogger()})
	ctx := t.Context()

	p, err := svc.Create(ctx, []string{"cat"}, "cam")
	require.NoError(t, err)

	joined, err := svc.Join(ctx, p.Code, RoleMonitor, "mon")
	require.NoError(t, err)
	assert.Equal(t, "mon", joined.Devices[RoleMonitor].PushToken)

	_, err = svc.Join(ctx, p.Code, Role("printer"), "")
	require.Error(t, err)
	_, err = svc.Join(ctx, "ZZZZZZZZ", RoleMonitor, "")
	require.ErrorIs(t, err, ErrPairingNotFound)

	require.NoError(t, svc.UpdateSelectedObjects(ctx, p.Code, []string{"dog", "person"}))
	got, err := svc.Get(ctx, p.Code)
	require.NoError(t, err)
	assert.Equal(t, []string{"dog", "person"}, got.SelectedObjects)
	entries, err := localstore.LoadPairings(local)
	require.NoError(t, err)
	assert.Equal(t, []string{"dog", "person"}, entries[p.Code].SelectedObjects)

	now = now.Add(time.Hour)
	require.NoError(t, svc.TouchDevice(ctx, p.Code, RoleMonitor))
	v, err := store.Read(ctx, remotestore.DevicePath(p.Code, "monitor"))
	require.NoError(t, err)
	last, ok := remotestore.AsTime(v["lastActive"])
	require.True(t, ok)
	assert.True(t, last.Equal(now))
	assert.Equal(t, "mon", v["pushToken"], "touch must not drop other fields")

	require.NoError(t, svc.Delete(ctx, p.Code))
	_, err = svc.Get(ctx, p.Code)
	require.ErrorIs(t, err, ErrPairingNotFound)

	err = svc.TouchDevice(ctx, p.Code, RoleMonitor)
	require.ErrorIs(t, err, ErrPairingNotFound)
	_, err = store.Read(ctx, remotestore.DevicePath(p.Code, "monitor"))
	require.ErrorIs(t, err, remotestore.ErrNotFound, "touch must not recreate a deleted pairing")
	entries, err = localstore.LoadPairings(local)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestService_AlertsNewestFirst(t *testing.T) {
	t.Parallel()
	svc, store, _ := newTestService(t)
	ctx := t.Context()
	code := "AB12CD34"
	base := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	for i, label := range []string{"cat", "dog", "person"} {
		_, err := store.Append(ctx, remotestore.AlertsPath(code), EncodeAlert(Alert{
			ObjectLabel: label, Confidence: 0.9, Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
		require.NoError(t, err)
	}
	_, err := store.Append(ctx, remotestore.AlertsPath(code), remotestore.Value{"objectLabel": 7})
	require.NoError(t, err)

	alerts, err := svc.Alerts(ctx, code)
	require.NoError(t, err)
	require.Len(t, alerts, 3, "malformed alerts are skipped")
	assert.Equal(t, "person", alerts[0].ObjectLabel)
	assert.Equal(t, "cat", alerts[2].ObjectLabel)
}

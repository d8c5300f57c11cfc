package localstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pairwatch/internal/errors"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "state", "local.yaml"))
	require.NoError(t, err)
	return map[string]Store{"memory": NewMemoryStore(), "file": fs}
}

func TestStore_GetSetDelete(t *testing.T) {
	t.Parallel()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.Get("missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Set("k", "v"))
			v, ok, err := s.Get("k")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "v", v)

			require.NoError(t, s.Delete("k"))
			require.NoError(t, s.Delete("k"))
			_, ok, err = s.Get("k")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestFileStore_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "local.yaml")

	s, err := NewFileStore(path)
	require.NoError(t, err)
	require.NoError(t, SaveActiveMonitoring(s, "AB12CD34", []string{"cat", "dog"}))

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	active, ok := LoadActiveMonitoring(reopened)
	require.True(t, ok)
	assert.Equal(t, "AB12CD34", active.Code)
	assert.Equal(t, []string{"cat", "dog"}, active.Objects)
}

func TestFileStore_CorruptFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "local.yaml")
	require.NoError(t, os.WriteFile(path, []byte("key: [unterminated"), 0o600))

	_, err := NewFileStore(path)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryLocalStore))
}

func TestFileStore_FailedWriteKeepsPreviousValue(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s, err := NewFileStore(filepath.Join(dir, "local.yaml"))
	require.NoError(t, err)
	require.NoError(t, s.Set("k", "old"))

	// Point the store at a directory that no longer exists.
	s.path = filepath.Join(dir, "gone", "local.yaml")
	require.Error(t, s.Set("k", "new"))

	v, _, err := s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "old", v)
}

func TestActiveMonitoring_RoundTripAndClear(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()

	_, ok := LoadActiveMonitoring(s)
	assert.False(t, ok)

	require.NoError(t, SaveActiveMonitoring(s, "AB12CD34", nil))
	active, ok := LoadActiveMonitoring(s)
	require.True(t, ok)
	assert.Equal(t, "AB12CD34", active.Code)
	assert.Empty(t, active.Objects)

	require.NoError(t, ClearActiveMonitoring(s))
	_, ok = LoadActiveMonitoring(s)
	assert.False(t, ok)
	assert.Empty(t, s.Snapshot())
}

func TestLoadActiveMonitoring_FailsSafe(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	require.NoError(t, SaveActiveMonitoring(s, "AB12CD34", []string{"cat"}))
	s.FailWith(errors.NewStd("disk unavailable"))
	_, ok := LoadActiveMonitoring(s)
	assert.False(t, ok, "read errors count as no persisted session")

	s.FailWith(nil)
	require.NoError(t, s.Set(KeyMonitoredObjects, "not json"))
	_, ok = LoadActiveMonitoring(s)
	assert.False(t, ok, "corrupt records count as no persisted session")
}

func TestPairingEntries(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, SavePairingEntry(s, "AB12CD34", PairingEntry{Role: "camera", SelectedObjects: []string{"cat"}, CreatedAt: created, IsActive: true}))
	require.NoError(t, SavePairingEntry(s, "ZZ99YY88", PairingEntry{Role: "monitor"}))

	entries, err := LoadPairings(s)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "camera", entries["AB12CD34"].Role)
	assert.True(t, entries["AB12CD34"].CreatedAt.Equal(created))

	require.NoError(t, RemovePairingEntry(s, "AB12CD34"))
	require.NoError(t, RemovePairingEntry(s, "unknown"))
	entries, err = LoadPairings(s)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Contains(t, entries, "ZZ99YY88")
}

func TestLoadPairings_Corrupt(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore()
	require.NoError(t, s.Set(KeyAllPairings, "{"))
	_, err := LoadPairings(s)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryLocalStore))
}

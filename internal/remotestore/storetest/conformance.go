// Package storetest holds a behavioural test suite every remotestore.Store
// implementation must pass.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pairwatch/internal/remotestore"
)

// WaitTimeout bounds how long the suite waits for a snapshot.
var WaitTimeout = 5 * time.Second

// Run exercises newStore against the Store contract. newStore must return a
// fresh, empty store; the suite closes it.
func Run(t *testing.T, newStore func(t *testing.T) remotestore.Store) {
	t.Helper()

	t.Run("ReadMissing", func(t *testing.T) {
		s := open(t, newStore)
		_, err := s.Read(t.Context(), "pairings/NOPE")
		require.ErrorIs(t, err, remotestore.ErrNotFound)
	})

	t.Run("WriteReadUpdate", func(t *testing.T) {
		s := open(t, newStore)
		ctx := t.Context()
		path := remotestore.PairingPath("AB12CD34")

		require.NoError(t, s.Write(ctx, path, remotestore.Value{
			"isActive":  true,
			"createdAt": remotestore.ServerTimestamp,
			"objects":   []string{"cat", "person"},
		}))
		got, err := s.Read(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, true, got["isActive"])
		_, isTime := remotestore.AsTime(got["createdAt"])
		assert.True(t, isTime, "server timestamp should resolve to a time, got %T", got["createdAt"])
		objects, ok := remotestore.AsStrings(got["objects"])
		require.True(t, ok)
		assert.Equal(t, []string{"cat", "person"}, objects)

		require.NoError(t, s.Update(ctx, path, remotestore.Value{"isActive": false, "note": "x"}))
		got, err = s.Read(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, false, got["isActive"])
		assert.Equal(t, "x", got["note"])
		assert.Contains(t, got, "createdAt", "update must merge, not replace")
	})

	t.Run("UpdateCreatesNode", func(t *testing.T) {
		s := open(t, newStore)
		path := remotestore.DevicePath("AB12CD34", "monitor")
		require.NoError(t, s.Update(t.Context(), path, remotestore.Value{"lastActive": remotestore.ServerTimestamp}))
		got, err := s.Read(t.Context(), path)
		require.NoError(t, err)
		assert.Contains(t, got, "lastActive")
	})

	t.Run("AppendAndList", func(t *testing.T) {
		s := open(t, newStore)
		ctx := t.Context()
		alerts := remotestore.AlertsPath("AB12CD34")
		base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

		idLate, err := s.Append(ctx, alerts, remotestore.Value{"objectLabel": "dog", "timestamp": base.Add(time.Minute)})
		require.NoError(t, err)
		idEarly, err := s.Append(ctx, alerts, remotestore.Value{"objectLabel": "cat", "timestamp": base})
		require.NoError(t, err)
		assert.NotEqual(t, idLate, idEarly)

		children, err := s.List(ctx, alerts, "timestamp")
		require.NoError(t, err)
		require.Len(t, children, 2)
		assert.Equal(t, idEarly, children[0].Key)
		assert.Equal(t, idLate, children[1].Key)
		assert.Equal(t, "cat", children[0].Value["objectLabel"])
	})

	t.Run("DeleteRemovesSubtree", func(t *testing.T) {
		s := open(t, newStore)
		ctx := t.Context()
		code := "AB12CD34"
		require.NoError(t, s.Write(ctx, remotestore.PairingPath(code), remotestore.Value{"isActive": true}))
		require.NoError(t, s.Write(ctx, remotestore.DevicePath(code, "camera"), remotestore.Value{"pushToken": "t"}))
		_, err := s.Append(ctx, remotestore.AlertsPath(code), remotestore.Value{"objectLabel": "cat"})
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, remotestore.PairingPath(code)))
		_, err = s.Read(ctx, remotestore.PairingPath(code))
		require.ErrorIs(t, err, remotestore.ErrNotFound)
		children, err := s.List(ctx, remotestore.AlertsPath(code), "")
		require.NoError(t, err)
		assert.Empty(t, children)

		require.NoError(t, s.Delete(ctx, remotestore.PairingPath(code)), "deleting a missing node is not an error")
	})

	t.Run("SubscribeDeliversInitialAndChanges", func(t *testing.T) {
		s := open(t, newStore)
		ctx := t.Context()
		alerts := remotestore.AlertsPath("AB12CD34")
		_, err := s.Append(ctx, alerts, remotestore.Value{"objectLabel": "cat", "timestamp": remotestore.ServerTimestamp})
		require.NoError(t, err)

		sub, err := s.Subscribe(ctx, alerts, "timestamp")
		require.NoError(t, err)
		defer func() { _ = sub.Close() }()

		first := WaitForChildren(t, sub, 1)
		assert.Equal(t, alerts, first.Path)

		_, err = s.Append(ctx, alerts, remotestore.Value{"objectLabel": "dog", "timestamp": remotestore.ServerTimestamp})
		require.NoError(t, err)
		second := WaitForChildren(t, sub, 2)
		assert.Equal(t, "dog", second.Children[1].Value["objectLabel"])
	})

	t.Run("InvalidPath", func(t *testing.T) {
		s := open(t, newStore)
		err := s.Write(t.Context(), "pairings/+/x", remotestore.Value{})
		require.ErrorIs(t, err, remotestore.ErrInvalidPath)
	})

	t.Run("CancelledContext", func(t *testing.T) {
		s := open(t, newStore)
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		_, err := s.Read(ctx, "pairings/AB12CD34")
		require.ErrorIs(t, err, context.Canceled)
	})
}

func open(t *testing.T, newStore func(t *testing.T) remotestore.Store) remotestore.Store {
	t.Helper()
	s := newStore(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// WaitForChildren receives snapshots until one has n children.
func WaitForChildren(t *testing.T, sub remotestore.Subscription, n int) remotestore.Snapshot {
	t.Helper()
	deadline := time.After(WaitTimeout)
	for {
		select {
		case snap, ok := <-sub.Snapshots():
			require.True(t, ok, "subscription closed")
			if len(snap.Children) == n {
				return snap
			}
		case err := <-sub.Errors():
			require.NoError(t, err, "subscription failed")
		case <-deadline:
			require.FailNow(t, "timed out waiting for snapshot", "want %d children", n)
		}
	}
}

// Package testutil provides shared test helpers for asynchronous code.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Common test timeout constants.
const (
	// DefaultTestTimeout is the standard timeout for most async test operations.
	DefaultTestTimeout = 5 * time.Second

	// ShortTestTimeout bounds checks that something does NOT happen.
	ShortTestTimeout = 50 * time.Millisecond
)

// Receive returns the next value on ch or fails the test after timeout.
func Receive[T any](t testing.TB, ch <-chan T, timeout time.Duration, msg string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		require.FailNow(t, msg)
		var zero T
		return zero
	}
}

// NoReceive fails the test if ch yields a value within timeout.
func NoReceive[T any](t testing.TB, ch <-chan T, timeout time.Duration, msg string) {
	t.Helper()
	select {
	case v := <-ch:
		require.FailNow(t, msg, "received %+v", v)
	case <-time.After(timeout):
	}
}

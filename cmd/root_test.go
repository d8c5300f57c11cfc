package cmd

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/pairwatch/internal/app"
	"github.com/tphakala/pairwatch/internal/buildinfo"
	"github.com/tphakala/pairwatch/internal/localstore"
	"github.com/tphakala/pairwatch/internal/logger"
)

// execute runs the CLI against a config that keeps everything in memory
// except the local state file.
func execute(t *testing.T, statePath, listen string, args ...string) (string, error) {
	t.Helper()
	prev := logger.Global()
	t.Cleanup(func() { logger.SetGlobal(prev) })

	config := filepath.Join(t.TempDir(), "config.yaml")
	body := "store:\n  backend: memory\nlocal:\n  path: " + statePath + "\nhttp:\n  listen: " + listen + "\n"
	require.NoError(t, os.WriteFile(config, []byte(body), 0o600))

	rt := &app.Runtime{Build: buildinfo.NewContext("test", "", "")}
	t.Cleanup(rt.Close)

	root := RootCommand(rt)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", config}, args...))
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

// closedAddr returns a loopback address nothing listens on.
func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestPairCreate(t *testing.T) {
	state := filepath.Join(t.TempDir(), "state.yaml")
	out, err := execute(t, state, "127.0.0.1:0", "pair", "create", "dog", " cat ", "dog")
	require.NoError(t, err)

	assert.Contains(t, out, "Active:  true")
	assert.Contains(t, out, "Watch:   cat, dog")

	local, err := localstore.NewFileStore(state)
	require.NoError(t, err)
	entries, err := localstore.LoadPairings(local)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	for _, e := range entries {
		assert.Equal(t, "camera", e.Role)
	}
}

func TestPairShow_UnknownCode(t *testing.T) {
	state := filepath.Join(t.TempDir(), "state.yaml")
	_, err := execute(t, state, "127.0.0.1:0", "pair", "show", "ZZZZZZZZ")
	require.Error(t, err)
}

func TestDetect_RequiresCode(t *testing.T) {
	state := filepath.Join(t.TempDir(), "state.yaml")
	_, err := execute(t, state, "127.0.0.1:0", "detect", "image.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code")
}

func TestMonitorStop_NoServerClearsRecord(t *testing.T) {
	state := filepath.Join(t.TempDir(), "state.yaml")
	local, err := localstore.NewFileStore(state)
	require.NoError(t, err)
	require.NoError(t, localstore.SaveActiveMonitoring(local, "ABCD2345", []string{"cat"}))

	out, err := execute(t, state, closedAddr(t), "monitor", "stop")
	require.NoError(t, err)
	assert.Contains(t, out, "recorded session cleared")

	reloaded, err := localstore.NewFileStore(state)
	require.NoError(t, err)
	_, ok := localstore.LoadActiveMonitoring(reloaded)
	assert.False(t, ok)
}

func TestMonitorStop_NothingToStop(t *testing.T) {
	state := filepath.Join(t.TempDir(), "state.yaml")
	_, err := execute(t, state, closedAddr(t), "monitor", "stop")
	require.Error(t, err)
}

package aria2

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsBintang/zenith-downloader/internal/download"
)

// freePort grabs a port nothing listens on, so RPC probes against it fail
// with connection refused instead of hanging.
func freePort(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	return port
}

func versionStub(t *testing.T) int {
	t.Helper()

	_, port := newRPCTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeResult(t, w, map[string]string{"version": "1.37.0"})
	})

	return port
}

func TestFindBinaryPrefersConfiguredPath(t *testing.T) {
	binary := filepath.Join(t.TempDir(), "aria2c")
	require.NoError(t, os.WriteFile(binary, []byte("#!/bin/sh\n"), 0o755))

	s := NewSupervisor(Options{BinaryPath: binary})

	found, err := s.findBinary()
	require.NoError(t, err)
	assert.Equal(t, binary, found)
}

func TestFindBinarySkipsDirectories(t *testing.T) {
	dir := t.TempDir()

	s := NewSupervisor(Options{BinaryPath: dir})

	found, err := s.findBinary()
	if err == nil {
		assert.NotEqual(t, dir, found, "a directory is never a usable binary")
	}
}

func TestIsReady(t *testing.T) {
	s := NewSupervisor(Options{RPCPort: freePort(t), RPCTimeout: time.Second})
	assert.False(t, s.IsReady(context.Background()))

	s = NewSupervisor(Options{RPCPort: versionStub(t), RPCTimeout: time.Second})
	assert.True(t, s.IsReady(context.Background()))
}

func TestInitializeAdoptsRunningDaemon(t *testing.T) {
	s := NewSupervisor(Options{RPCPort: versionStub(t), RPCTimeout: time.Second})

	require.NoError(t, s.Initialize(context.Background()))
	assert.Nil(t, s.cmd, "a reachable endpoint must short-circuit the spawn")
}

func TestRecoverShortCircuitsWhenDaemonAlive(t *testing.T) {
	s := NewSupervisor(Options{RPCPort: versionStub(t), RPCTimeout: time.Second})

	require.NoError(t, s.Recover(context.Background()))
	require.NoError(t, s.Recover(context.Background()), "a live daemon never trips the latch")
	assert.False(t, s.down)
}

func TestRecoverLatchesAfterFailedRespawn(t *testing.T) {
	// A present but non-executable binary makes the spawn itself fail,
	// regardless of what is installed on the host.
	binary := filepath.Join(t.TempDir(), "aria2c")
	require.NoError(t, os.WriteFile(binary, []byte("not a binary"), 0o644))

	s := NewSupervisor(Options{
		BinaryPath:     binary,
		RPCPort:        freePort(t),
		RPCTimeout:     time.Second,
		StartupTimeout: time.Second,
	})

	var startupErr *download.StartupError

	err := s.Recover(context.Background())
	require.Error(t, err)
	require.ErrorAs(t, err, &startupErr)
	assert.True(t, s.down)

	// One attempt only: from here on every call reports the latch.
	err = s.Recover(context.Background())
	require.Error(t, err)
	require.ErrorAs(t, err, &startupErr)
	assert.Contains(t, err.Error(), "respawn already failed")
}

func TestWaitForReady(t *testing.T) {
	s := NewSupervisor(Options{RPCPort: versionStub(t), RPCTimeout: time.Second, StartupTimeout: 5 * time.Second})
	require.NoError(t, s.waitForReady(context.Background()))

	// An already-expired deadline surfaces the startup failure without
	// probing.
	s = NewSupervisor(Options{RPCPort: freePort(t), RPCTimeout: time.Second, StartupTimeout: 0})

	var startupErr *download.StartupError

	err := s.waitForReady(context.Background())
	require.Error(t, err)
	require.ErrorAs(t, err, &startupErr)
	assert.Contains(t, err.Error(), "not reachable")
}

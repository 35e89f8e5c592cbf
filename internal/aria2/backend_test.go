package aria2

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsBintang/zenith-downloader/internal/download"
)

func newTestBackend(t *testing.T, handler http.HandlerFunc) *Backend {
	t.Helper()

	_, port := newRPCTestServer(t, handler)

	return NewBackend(NewSupervisor(Options{
		RPCPort:    port,
		RPCSecret:  "s3cret",
		RPCTimeout: time.Second,
	}))
}

func TestMapStatus(t *testing.T) {
	tests := []struct {
		daemon string
		want   download.Status
	}{
		{"active", download.StatusActive},
		{"waiting", download.StatusPending},
		{"paused", download.StatusPaused},
		{"complete", download.StatusCompleted},
		{"error", download.StatusError},
		{"removed", download.StatusCancelled},
		{"some-future-state", download.StatusActive},
		{"", download.StatusActive},
	}

	for _, tt := range tests {
		t.Run("daemon status "+tt.daemon, func(t *testing.T) {
			assert.Equal(t, tt.want, mapStatus(tt.daemon))
		})
	}
}

func TestParseInt(t *testing.T) {
	assert.Equal(t, int64(1048576), parseInt("1048576"))
	assert.Equal(t, int64(0), parseInt(""))
	assert.Equal(t, int64(0), parseInt("not a number"))
}

func TestBackendSampleMapsTaskStatus(t *testing.T) {
	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		writeResult(t, w, map[string]any{
			"gid":             "gid1",
			"status":          "active",
			"totalLength":     "2048",
			"completedLength": "512",
			"downloadSpeed":   "256",
			"uploadSpeed":     "0",
			"files":           []map[string]string{{"path": "/downloads/iso/payload.iso"}},
		})
	})

	sample, err := backend.Sample(context.Background(), "gid1")
	require.NoError(t, err)
	assert.Equal(t, download.StatusActive, sample.Status)
	assert.Equal(t, int64(2048), sample.Total)
	assert.Equal(t, int64(512), sample.Downloaded)
	assert.Equal(t, int64(256), sample.DownloadSpeed)
	assert.Equal(t, "payload.iso", sample.Filename)
}

func TestBackendStartBuildsOptions(t *testing.T) {
	var got rpcRequest

	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeResult(t, w, "gid42")
	})

	gid, err := backend.Start(context.Background(), download.Request{
		URL:      "https://host/file.zip",
		Dir:      "/downloads",
		Filename: "renamed.zip",
		Headers:  map[string]string{"Authorization": "Bearer tok"},
	})
	require.NoError(t, err)
	assert.Equal(t, "gid42", gid)

	require.Len(t, got.Params, 3) // token, uris, options

	options, ok := got.Params[2].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/downloads", options["dir"])
	assert.Equal(t, "true", options["continue"])
	assert.Equal(t, "renamed.zip", options["out"])
	assert.Equal(t, "Authorization: Bearer tok", options["header"])
}

func TestBackendRejectedGIDBecomesTransferError(t *testing.T) {
	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)

		resp := rpcResponse{ID: "zenith", Error: &rpcError{Code: 1, Message: "GID gone is not found"}}
		_ = json.NewEncoder(w).Encode(resp)
	})

	_, err := backend.Sample(context.Background(), "gone")

	var transferErr *download.TransferError

	require.Error(t, err)
	require.ErrorAs(t, err, &transferErr)
	assert.Contains(t, transferErr.Reason, "not found")
}

func TestBackendCancelTempRemovesPayloadAndControlFile(t *testing.T) {
	dir := t.TempDir()
	payload := filepath.Join(dir, "file.zip")
	control := payload + ".aria2"

	require.NoError(t, os.WriteFile(payload, []byte("partial"), 0o644))
	require.NoError(t, os.WriteFile(control, []byte("resume state"), 0o644))

	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		switch req.Method {
		case "aria2.tellStatus":
			writeResult(t, w, map[string]any{
				"gid":    "gid1",
				"status": "active",
				"files":  []map[string]string{{"path": payload}},
			})
		default:
			writeResult(t, w, "OK")
		}
	})

	require.NoError(t, backend.Cancel(context.Background(), "gid1", download.CleanupTemp))

	_, err := os.Stat(payload)
	assert.True(t, os.IsNotExist(err), "partial payload should be deleted")

	_, err = os.Stat(control)
	assert.True(t, os.IsNotExist(err), "control file should be deleted")
}

func TestBackendCancelPersistKeepsPayload(t *testing.T) {
	dir := t.TempDir()
	payload := filepath.Join(dir, "file.zip")
	require.NoError(t, os.WriteFile(payload, []byte("partial"), 0o644))

	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		switch req.Method {
		case "aria2.tellStatus":
			writeResult(t, w, map[string]any{
				"gid":    "gid1",
				"status": "active",
				"files":  []map[string]string{{"path": payload}},
			})
		default:
			writeResult(t, w, "OK")
		}
	})

	require.NoError(t, backend.Cancel(context.Background(), "gid1", download.CleanupPersist))

	_, err := os.Stat(payload)
	assert.NoError(t, err, "persist policy must keep the partial payload")
}

func TestBackendSurvivingDaemonWrapsTransportFailure(t *testing.T) {
	// tellStatus answers garbage while getVersion stays healthy, so the
	// recover path finds a live daemon and surfaces the original failure.
	backend := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if req.Method == "aria2.getVersion" {
			writeResult(t, w, map[string]string{"version": "1.37.0"})

			return
		}

		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("garbage"))
	})

	_, err := backend.Sample(context.Background(), "gid1")

	var timeoutErr *download.RpcTimeoutError

	require.Error(t, err)
	assert.ErrorAs(t, err, &timeoutErr)
	assert.Contains(t, err.Error(), "daemon restarted")
}

package config

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DOWNLOAD_DIR", "/downloads")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "/downloads", cfg.DownloadDir)
	assert.Equal(t, time.Second, cfg.SampleInterval)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "history.db", cfg.HistoryDBPath)
	assert.Equal(t, 8, cfg.MaxSampleBatch)

	assert.Equal(t, 6800, cfg.Daemon.RPCPort)
	assert.Equal(t, 10*time.Second, cfg.Daemon.RPCTimeout)
	assert.Equal(t, 5, cfg.Daemon.MaxConcurrent)
	assert.Equal(t, 4, cfg.Daemon.ConnPerServer)
	assert.Equal(t, 4, cfg.Daemon.Split)
	assert.Equal(t, "1M", cfg.Daemon.MinSplitSize)
	assert.Equal(t, 30*time.Second, cfg.Daemon.StartupTimeout)

	assert.Equal(t, 6881, cfg.Swarm.ListenPort)
	assert.Equal(t, int64(1024), cfg.Swarm.UploadLimit)
	assert.Equal(t, 200, cfg.Swarm.MaxConnections)
	assert.False(t, cfg.Swarm.DisableDHT)

	assert.Equal(t, "127.0.0.1:9095", cfg.Web.BindAddress)
	assert.Equal(t, 30*time.Second, cfg.Web.ReadTimeout)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DOWNLOAD_DIR", "/data")
	t.Setenv("SAMPLE_INTERVAL", "250ms")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DAEMON_RPC_PORT", "6801")
	t.Setenv("DAEMON_RPC_SECRET", "s3cret")
	t.Setenv("DAEMON_MAX_CONCURRENT", "10")
	t.Setenv("SWARM_LISTEN_PORT", "7000")
	t.Setenv("SWARM_DISABLE_DHT", "true")
	t.Setenv("WEB_BIND_ADDRESS", "0.0.0.0:8080")
	t.Setenv("WEB_SHARED_SECRET", "hush")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "/data", cfg.DownloadDir)
	assert.Equal(t, 250*time.Millisecond, cfg.SampleInterval)
	assert.Equal(t, 6801, cfg.Daemon.RPCPort)
	assert.Equal(t, "s3cret", cfg.Daemon.RPCSecret)
	assert.Equal(t, 10, cfg.Daemon.MaxConcurrent)
	assert.Equal(t, 7000, cfg.Swarm.ListenPort)
	assert.True(t, cfg.Swarm.DisableDHT)
	assert.Equal(t, "0.0.0.0:8080", cfg.Web.BindAddress)
	assert.Equal(t, "hush", cfg.Web.SharedSecret)
}

func TestLoadConfigRequiresDownloadDir(t *testing.T) {
	t.Setenv("DOWNLOAD_DIR", "placeholder")
	require.NoError(t, os.Unsetenv("DOWNLOAD_DIR"))

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		cfg := &Config{LogLevel: tt.level}
		assert.Equal(t, tt.want, cfg.SlogLevel(), "level %q", tt.level)
	}
}

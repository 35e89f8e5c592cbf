package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	DownloadDir    string        `envconfig:"DOWNLOAD_DIR" required:"true"`
	SampleInterval time.Duration `envconfig:"SAMPLE_INTERVAL" default:"1s"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"INFO"`
	HistoryDBPath  string        `envconfig:"HISTORY_DB_PATH" default:"history.db"`
	MaxSampleBatch int           `envconfig:"MAX_SAMPLE_BATCH" default:"8"`
	WebhookURL     string        `envconfig:"WEBHOOK_URL"`

	Daemon struct {
		BinaryPath     string        `split_words:"true"`
		RPCPort        int           `envconfig:"RPC_PORT" default:"6800"`
		RPCSecret      string        `envconfig:"RPC_SECRET"`
		RPCTimeout     time.Duration `envconfig:"RPC_TIMEOUT" default:"10s"`
		MaxConcurrent  int           `split_words:"true" default:"5"`
		ConnPerServer  int           `split_words:"true" default:"4"`
		Split          int           `default:"4"`
		MinSplitSize   string        `split_words:"true" default:"1M"`
		StartupTimeout time.Duration `split_words:"true" default:"30s"`
	}

	Swarm struct {
		ListenPort     int   `split_words:"true" default:"6881"`
		UploadLimit    int64 `split_words:"true" default:"1024"`
		MaxConnections int   `split_words:"true" default:"200"`
		DisableDHT     bool  `envconfig:"DISABLE_DHT"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"127.0.0.1:9095"`
		SharedSecret    string        `split_words:"true"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

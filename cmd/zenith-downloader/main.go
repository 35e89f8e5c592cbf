package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"

	"github.com/itsBintang/zenith-downloader/internal/aria2"
	"github.com/itsBintang/zenith-downloader/internal/config"
	"github.com/itsBintang/zenith-downloader/internal/coordinator"
	"github.com/itsBintang/zenith-downloader/internal/history/sqlite"
	"github.com/itsBintang/zenith-downloader/internal/logctx"
	"github.com/itsBintang/zenith-downloader/internal/notifier"
	"github.com/itsBintang/zenith-downloader/internal/rest"
	"github.com/itsBintang/zenith-downloader/internal/swarm"
	"github.com/itsBintang/zenith-downloader/internal/telemetry"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("zenith downloader starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("failed to create download dir: %w", err)
	}

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{Enabled: true, ServiceName: "zenith-downloader"})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	// =========================================================================
	// Start History Database
	database, err := sqlite.InitDB(cfg.HistoryDBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	sink := sqlite.NewHistoryRepository(database)

	// =========================================================================
	// Start Daemon Supervisor
	supervisor := aria2.NewSupervisor(aria2.Options{
		BinaryPath:     cfg.Daemon.BinaryPath,
		RPCPort:        cfg.Daemon.RPCPort,
		RPCSecret:      cfg.Daemon.RPCSecret,
		RPCTimeout:     cfg.Daemon.RPCTimeout,
		MaxConcurrent:  cfg.Daemon.MaxConcurrent,
		ConnPerServer:  cfg.Daemon.ConnPerServer,
		Split:          cfg.Daemon.Split,
		MinSplitSize:   cfg.Daemon.MinSplitSize,
		StartupTimeout: cfg.Daemon.StartupTimeout,
	})

	supervisor.Client().WithTelemetry(tel)

	if err := supervisor.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	defer func() {
		if err := supervisor.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("failed to stop daemon", "err", err)
		}
	}()

	// =========================================================================
	// Start Swarm Engine
	peerBackend, err := swarm.NewBackend(swarm.Options{
		ListenPort:     cfg.Swarm.ListenPort,
		UploadLimit:    cfg.Swarm.UploadLimit,
		MaxConnections: cfg.Swarm.MaxConnections,
		DisableDHT:     cfg.Swarm.DisableDHT,
	})
	if err != nil {
		return fmt.Errorf("failed to start swarm engine: %w", err)
	}
	defer peerBackend.Close()

	// =========================================================================
	// Start Coordinator
	coord := coordinator.New(
		aria2.NewBackend(supervisor),
		peerBackend,
		sink,
		tel,
		cfg.SampleInterval,
		cfg.MaxSampleBatch,
	)

	go coord.Run(ctx)

	if cfg.WebhookURL != "" {
		notifier.WatchCompletions(ctx, coord, &notifier.WebhookNotifier{WebhookURL: cfg.WebhookURL})
	}

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, coord, sink, tel, cfg)

	go func() {
		logger.Info("initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("accepting downloads...",
		"download_dir", cfg.DownloadDir,
		"sample_interval", cfg.SampleInterval.String(),
		"daemon_rpc_port", cfg.Daemon.RPCPort,
	)

	// =========================================================================
	// Wait for shutdown
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	}
}

// setupServer prepares the handlers and middleware for the command surface.
func setupServer(ctx context.Context, coord *coordinator.Coordinator, archive rest.HistoryLister, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	handler := rest.NewDownloadHandler(coord, cfg.Web.SharedSecret, cfg.DownloadDir).WithHistory(archive)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Handle("/metrics", tel.Handler())
	r.Mount("/", handler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

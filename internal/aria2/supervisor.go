package aria2

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/itsBintang/zenith-downloader/internal/download"
	"github.com/itsBintang/zenith-downloader/internal/logctx"
)

// Options configure the supervised daemon process.
type Options struct {
	BinaryPath     string // explicit binary location, tried first
	RPCPort        int
	RPCSecret      string
	RPCTimeout     time.Duration
	MaxConcurrent  int
	ConnPerServer  int
	Split          int
	MinSplitSize   string
	StartupTimeout time.Duration
}

// Supervisor guarantees a running, reachable aria2c process before any
// HTTP-backed transfer starts. It owns the process handle and the RPC
// client; everything else talks to the daemon through Client().
type Supervisor struct {
	opts   Options
	client *Client

	mu   sync.Mutex
	cmd  *exec.Cmd
	down bool // a respawn attempt already failed; stop trying
}

func NewSupervisor(opts Options) *Supervisor {
	return &Supervisor{
		opts:   opts,
		client: NewClient(opts.RPCPort, opts.RPCSecret, opts.RPCTimeout),
	}
}

// Client returns the RPC client bound to the supervised daemon.
func (s *Supervisor) Client() *Client {
	return s.client
}

// Initialize locates and starts the daemon, or adopts an already-running
// one. Repeated calls are cheap: a reachable daemon short-circuits the
// spawn, which also lets tasks survive application restarts.
func (s *Supervisor) Initialize(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	if s.IsReady(ctx) {
		logger.Info("adopting running daemon", "rpc_port", s.opts.RPCPort)

		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.spawnLocked(ctx); err != nil {
		return err
	}

	logger.Info("daemon started", "rpc_port", s.opts.RPCPort)

	return nil
}

// IsReady is a non-blocking liveness probe against the RPC endpoint.
func (s *Supervisor) IsReady(ctx context.Context) bool {
	return s.client.Version(ctx) == nil
}

// Recover is called by the HTTP backend when an RPC call fails at the
// transport level. It attempts exactly one respawn; once a respawn has
// failed the supervisor stays down and every call reports StartupError.
func (s *Supervisor) Recover(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.down {
		return &download.StartupError{Reason: "daemon unreachable and respawn already failed"}
	}

	// A concurrent caller may have already brought the daemon back.
	if s.IsReady(ctx) {
		return nil
	}

	logctx.LoggerFromContext(ctx).Warn("daemon unreachable, attempting respawn")

	s.reapLocked()

	if err := s.spawnLocked(ctx); err != nil {
		s.down = true

		return err
	}

	return nil
}

// Shutdown stops the daemon: a graceful RPC stop first, a kill after the
// timeout. The process handle is released either way.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	if err := s.client.Shutdown(ctx); err != nil {
		logger.Warn("graceful daemon stop failed", "err", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn("daemon did not exit, killing")

		if err := s.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("failed to kill daemon: %w", err)
		}
		<-done
	}

	s.cmd = nil

	return nil
}

func (s *Supervisor) spawnLocked(ctx context.Context) error {
	binary, err := s.findBinary()
	if err != nil {
		return &download.StartupError{Reason: "daemon binary not found", Err: err}
	}

	args := []string{
		"--enable-rpc",
		"--rpc-listen-all=false",
		"--rpc-listen-port=" + strconv.Itoa(s.opts.RPCPort),
		"--file-allocation=none",
		"--allow-overwrite=true",
		"--auto-file-renaming=false",
		"--continue=true",
		"--max-concurrent-downloads=" + strconv.Itoa(s.opts.MaxConcurrent),
		"--max-connection-per-server=" + strconv.Itoa(s.opts.ConnPerServer),
		"--split=" + strconv.Itoa(s.opts.Split),
		"--min-split-size=" + s.opts.MinSplitSize,
		"--disable-ipv6=true",
		"--summary-interval=1",
	}
	if s.opts.RPCSecret != "" {
		args = append(args, "--rpc-secret="+s.opts.RPCSecret)
	}

	cmd := exec.Command(binary, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return &download.StartupError{Reason: "failed to spawn daemon", Err: err}
	}

	s.cmd = cmd

	if err := s.waitForReady(ctx); err != nil {
		_ = cmd.Process.Kill()
		s.cmd = nil

		return err
	}

	return nil
}

func (s *Supervisor) waitForReady(ctx context.Context) error {
	deadline := time.Now().Add(s.opts.StartupTimeout)

	for time.Now().Before(deadline) {
		if s.IsReady(ctx) {
			return nil
		}

		select {
		case <-ctx.Done():
			return &download.StartupError{Reason: "cancelled while waiting for daemon", Err: ctx.Err()}
		case <-time.After(time.Second):
		}
	}

	return &download.StartupError{
		Reason: fmt.Sprintf("daemon not reachable within %s, endpoint may be bound by an incompatible process", s.opts.StartupTimeout),
	}
}

// findBinary walks the fallback chain: explicit config path, well-known
// install locations, working directory, then the system search path.
func (s *Supervisor) findBinary() (string, error) {
	candidates := []string{}
	if s.opts.BinaryPath != "" {
		candidates = append(candidates, s.opts.BinaryPath)
	}

	candidates = append(candidates,
		"/usr/local/bin/aria2c",
		"/usr/bin/aria2c",
		filepath.Join("resources", "aria2c"),
		"aria2c",
	)

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	if path, err := exec.LookPath("aria2c"); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("aria2c not found in any search location")
}

func (s *Supervisor) reapLocked() {
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		go s.cmd.Wait() // release the zombie without blocking
	}

	s.cmd = nil
}

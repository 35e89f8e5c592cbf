package aria2

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/itsBintang/zenith-downloader/internal/download"
	"github.com/itsBintang/zenith-downloader/internal/logctx"
)

// Backend drives segmented HTTP transfers through the supervised daemon.
// One instance serves every HTTP download; per-download state lives in the
// daemon, addressed by GID.
type Backend struct {
	supervisor *Supervisor
}

func NewBackend(supervisor *Supervisor) *Backend {
	return &Backend{supervisor: supervisor}
}

var _ download.Backend = (*Backend)(nil)

// Start submits the URL to the daemon and returns its GID. Resumability
// is always on, so a later Resume picks up where the daemon left off even
// across application restarts.
func (b *Backend) Start(ctx context.Context, req download.Request) (string, error) {
	options := map[string]string{
		"dir":             req.Dir,
		"continue":        "true",
		"allow-overwrite": "true",
	}
	if req.Filename != "" {
		options["out"] = req.Filename
	}

	if len(req.Headers) > 0 {
		headers := make([]string, 0, len(req.Headers))
		for k, v := range req.Headers {
			headers = append(headers, k+": "+v)
		}

		options["header"] = strings.Join(headers, "\n")
	}

	gid, err := b.supervisor.Client().AddURI(ctx, req.URL, options)
	if err != nil {
		return "", b.intercept(ctx, err)
	}

	return gid, nil
}

func (b *Backend) Pause(ctx context.Context, handle string) error {
	if err := b.supervisor.Client().Pause(ctx, handle); err != nil {
		return b.intercept(ctx, err)
	}

	return nil
}

func (b *Backend) Resume(ctx context.Context, handle string) error {
	if err := b.supervisor.Client().Unpause(ctx, handle); err != nil {
		return b.intercept(ctx, err)
	}

	return nil
}

// Cancel removes the task from the daemon. Under the temp policy the
// partial payload and its control file are deleted as well.
func (b *Backend) Cancel(ctx context.Context, handle string, policy download.CleanupPolicy) error {
	logger := logctx.LoggerFromContext(ctx)

	var partials []string

	if policy == download.CleanupTemp {
		// Snapshot file paths before removal; afterwards the daemon no
		// longer knows the GID.
		if status, err := b.supervisor.Client().TellStatus(ctx, handle); err == nil {
			for _, f := range status.Files {
				if f.Path != "" {
					partials = append(partials, f.Path)
				}
			}
		}
	}

	if err := b.supervisor.Client().Remove(ctx, handle); err != nil {
		return b.intercept(ctx, err)
	}

	for _, path := range partials {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove partial file", "path", path, "err", err)
		}

		// aria2 keeps resume state next to the payload.
		if err := os.Remove(path + ".aria2"); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove control file", "path", path+".aria2", "err", err)
		}
	}

	return nil
}

// Sample maps the daemon's task status onto the core model. Unknown daemon
// states map to Active unchanged so transient states never flap a record.
func (b *Backend) Sample(ctx context.Context, handle string) (download.Sample, error) {
	status, err := b.supervisor.Client().TellStatus(ctx, handle)
	if err != nil {
		return download.Sample{}, b.intercept(ctx, err)
	}

	sample := download.Sample{
		Status:        mapStatus(status.Status),
		Downloaded:    parseInt(status.CompletedLength),
		Total:         parseInt(status.TotalLength),
		DownloadSpeed: parseInt(status.DownloadSpeed),
		UploadSpeed:   parseInt(status.UploadSpeed),
		ErrorMessage:  status.ErrorMessage,
	}

	if len(status.Files) > 0 && status.Files[0].Path != "" {
		sample.Filename = filepath.Base(status.Files[0].Path)
	}

	return sample, nil
}

// intercept routes transport failures through the supervisor's single
// respawn attempt and normalizes what reaches the coordinator. An error
// the daemon itself reported means the daemon is alive: a rejected GID
// maps to TransferError, nothing to recover.
func (b *Backend) intercept(ctx context.Context, err error) error {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return &download.TransferError{Reason: rpcErr.Message, Err: err}
	}

	if recoverErr := b.supervisor.Recover(ctx); recoverErr != nil {
		return recoverErr
	}

	// Daemon respawned, but the task list died with the old process. The
	// caller sees the original failure and retries against the new daemon.
	return fmt.Errorf("daemon restarted: %w", err)
}

func mapStatus(s string) download.Status {
	switch s {
	case "active":
		return download.StatusActive
	case "waiting":
		return download.StatusPending
	case "paused":
		return download.StatusPaused
	case "complete":
		return download.StatusCompleted
	case "error":
		return download.StatusError
	case "removed":
		return download.StatusCancelled
	default:
		return download.StatusActive
	}
}

func parseInt(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}

	return n
}

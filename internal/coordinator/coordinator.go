package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/itsBintang/zenith-downloader/internal/download"
	"github.com/itsBintang/zenith-downloader/internal/history"
	"github.com/itsBintang/zenith-downloader/internal/logctx"
	"github.com/itsBintang/zenith-downloader/internal/telemetry"
)

// Coordinator is the only component allowed to mutate download status. It
// routes requests to the owning backend by submission-time classification
// and reconciles the registry against backend samples on a fixed tick.
type Coordinator struct {
	registry  *Registry
	backends  map[download.TransportKind]download.Backend
	sink      history.Sink
	tel       *telemetry.Telemetry
	publisher *Publisher

	sampleInterval time.Duration
	maxBatch       int

	mu              sync.Mutex
	completeEmitted map[string]bool
	sampleFailures  map[string]int
}

// rpcFailureThreshold is how many consecutive failed samples a record
// tolerates before it transitions to Error. With a 1s tick this keeps a
// dead daemon's stale progress visible for at most two intervals.
const rpcFailureThreshold = 2

func New(
	httpBackend download.Backend,
	peerBackend download.Backend,
	sink history.Sink,
	tel *telemetry.Telemetry,
	sampleInterval time.Duration,
	maxBatch int,
) *Coordinator {
	c := &Coordinator{
		registry: NewRegistry(),
		backends: map[download.TransportKind]download.Backend{
			download.KindHTTP: httpBackend,
			download.KindPeer: peerBackend,
		},
		sink:            sink,
		tel:             tel,
		publisher:       NewPublisher(tel),
		sampleInterval:  sampleInterval,
		maxBatch:        maxBatch,
		completeEmitted: make(map[string]bool),
		sampleFailures:  make(map[string]int),
	}

	return c
}

// Subscribe registers an event subscriber.
func (c *Coordinator) Subscribe() (<-chan Event, func()) {
	return c.publisher.Subscribe()
}

// Classify derives the transport kind from the URL. Anything that matches
// no known scheme fails here rather than being silently misrouted.
func Classify(url string) (download.TransportKind, error) {
	switch {
	case strings.HasPrefix(url, "magnet:"), isHexInfoHash(url):
		return download.KindPeer, nil
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		return download.KindHTTP, nil
	default:
		return "", &download.UnsupportedSchemeError{URL: url}
	}
}

func isHexInfoHash(s string) bool {
	if len(s) != 40 {
		return false
	}

	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}

	return true
}

// Submit classifies the request, registers a Pending record, and kicks
// off the backend start without awaiting it. The record is promoted to
// Active once the backend confirms startup.
func (c *Coordinator) Submit(ctx context.Context, req download.Request) (string, error) {
	kind, err := Classify(req.URL)
	if err != nil {
		return "", err
	}

	now := time.Now()
	rec := &download.Record{
		ID:        uuid.NewString(),
		Kind:      kind,
		Request:   req,
		Status:    download.StatusPending,
		Filename:  req.Filename,
		CreatedAt: now,
		UpdatedAt: now,
	}

	c.registry.Put(rec)
	c.tel.IncrementActiveDownloads()

	logctx.LoggerFromContext(ctx).Info("download submitted",
		"download_id", rec.ID, "kind", kind, "url", req.URL)

	// Startup may block on the daemon or on swarm session setup; the
	// caller gets the id immediately.
	go c.startBackend(context.WithoutCancel(ctx), rec.ID, kind, req)

	return rec.ID, nil
}

func (c *Coordinator) startBackend(ctx context.Context, id string, kind download.TransportKind, req download.Request) {
	logger := logctx.LoggerFromContext(ctx)

	handle, err := c.backends[kind].Start(ctx, req)
	if err != nil {
		logger.Error("backend start failed", "download_id", id, "err", err)
		c.failRecord(ctx, id, err)

		return
	}

	cancelled := false

	mutateErr := c.registry.Mutate(id, func(rec *download.Record) {
		rec.Handle = handle

		// A cancel that raced the startup wins; tear the transfer down
		// instead of promoting.
		if rec.Status == download.StatusCancelling || rec.Status == download.StatusCancelled {
			cancelled = true

			return
		}

		rec.Status = download.StatusActive
	})
	if mutateErr != nil {
		cancelled = true
	}

	if cancelled {
		if err := c.backends[kind].Cancel(ctx, handle, download.CleanupTemp); err != nil {
			logger.Warn("failed to tear down cancelled startup", "download_id", id, "err", err)
		}

		return
	}

	logger.Debug("download active", "download_id", id, "handle", handle)
}

// Pause suspends an Active download.
func (c *Coordinator) Pause(ctx context.Context, id string) error {
	rec, err := c.registry.Get(id)
	if err != nil {
		return err
	}

	if rec.Status == download.StatusCancelled {
		return &download.CancelledError{ID: id}
	}

	if rec.Status != download.StatusActive {
		return &download.InvalidStateError{ID: id, Operation: "pause", Status: rec.Status}
	}

	if err := c.backends[rec.Kind].Pause(ctx, rec.Handle); err != nil {
		return err
	}

	// Optimistic update, reconciled by the next sample.
	return c.registry.Mutate(id, func(r *download.Record) {
		if r.Status == download.StatusActive {
			r.Status = download.StatusPaused
		}
	})
}

// Resume reactivates a Paused download. Because the daemon keeps resume
// state on disk, this works even for tasks adopted after an application
// restart.
func (c *Coordinator) Resume(ctx context.Context, id string) error {
	rec, err := c.registry.Get(id)
	if err != nil {
		return err
	}

	if rec.Status == download.StatusCancelled {
		return &download.CancelledError{ID: id}
	}

	if rec.Status != download.StatusPaused {
		return &download.InvalidStateError{ID: id, Operation: "resume", Status: rec.Status}
	}

	if err := c.backends[rec.Kind].Resume(ctx, rec.Handle); err != nil {
		return err
	}

	return c.registry.Mutate(id, func(r *download.Record) {
		if r.Status == download.StatusPaused {
			r.Status = download.StatusActive
		}
	})
}

// Cancel marks the record Cancelling immediately, tears the transfer down
// best-effort, then finalizes to Cancelled. A Cancelled record never
// re-enters any other state.
func (c *Coordinator) Cancel(ctx context.Context, id string, policy download.CleanupPolicy) error {
	logger := logctx.LoggerFromContext(ctx)

	rec, err := c.registry.Get(id)
	if err != nil {
		return err
	}

	if rec.Status == download.StatusCancelled || rec.Status == download.StatusCancelling {
		return &download.CancelledError{ID: id}
	}

	if rec.Status.Terminal() {
		return &download.InvalidStateError{ID: id, Operation: "cancel", Status: rec.Status}
	}

	// Visible to any concurrently running sample as "ignore further
	// updates" before the teardown starts.
	if err := c.registry.Mutate(id, func(r *download.Record) {
		r.Status = download.StatusCancelling
	}); err != nil {
		return err
	}

	if rec.Handle != "" {
		if err := c.backends[rec.Kind].Cancel(ctx, rec.Handle, policy); err != nil {
			logger.Warn("backend teardown failed", "download_id", id, "err", err)
		}
	}

	_ = c.registry.Mutate(id, func(r *download.Record) {
		r.Status = download.StatusCancelled
		r.DownloadSpeed = 0
		r.UploadSpeed = 0
	})

	c.finalize(ctx, id, "")

	return nil
}

// Get returns a snapshot of one record.
func (c *Coordinator) Get(id string) (download.Record, error) {
	return c.registry.Get(id)
}

// List returns snapshots of every record.
func (c *Coordinator) List() []download.Record {
	return c.registry.List()
}

// Clear reaps terminal records and returns how many were removed.
func (c *Coordinator) Clear() int {
	cleared := c.registry.ClearTerminal()

	c.mu.Lock()
	defer c.mu.Unlock()

	for id := range c.completeEmitted {
		if _, err := c.registry.Get(id); err != nil {
			delete(c.completeEmitted, id)
			delete(c.sampleFailures, id)
		}
	}

	return cleared
}

// Run drives the sampling loop until ctx is cancelled. This is the only
// point where backend state is pulled into the registry.
func (c *Coordinator) Run(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	ticker := time.NewTicker(c.sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("coordinator sampler shutting down")

			return
		case <-ticker.C:
			start := time.Now()
			c.sampleAll(ctx)
			c.tel.RecordSamplePass(time.Since(start))
		}
	}
}

func (c *Coordinator) sampleAll(ctx context.Context) {
	wg, ctx := errgroup.WithContext(ctx)
	wg.SetLimit(c.maxBatch)

	for _, rec := range c.registry.List() {
		if !sampleable(rec.Status) || rec.Handle == "" {
			continue
		}

		rec := rec

		wg.Go(func() error {
			c.sampleOne(ctx, rec)

			return nil // one download's failure never aborts the pass
		})
	}

	_ = wg.Wait()
}

func sampleable(s download.Status) bool {
	switch s {
	case download.StatusActive, download.StatusPaused, download.StatusSeeding, download.StatusPending:
		return true
	default:
		return false
	}
}

func (c *Coordinator) sampleOne(ctx context.Context, rec download.Record) {
	sample, err := c.backends[rec.Kind].Sample(ctx, rec.Handle)
	if err != nil {
		c.handleSampleError(ctx, rec, err)

		return
	}

	c.resetFailures(rec.ID)

	var snapshot download.Record

	mutateErr := c.registry.Mutate(rec.ID, func(r *download.Record) {
		// A cancel raced this sample; its updates no longer apply.
		if r.Status == download.StatusCancelling || r.Status.Terminal() {
			snapshot = *r

			return
		}

		r.Status = sample.Status
		r.Total = sample.Total
		r.Downloaded = sample.Downloaded

		if r.Total > 0 && r.Downloaded > r.Total {
			r.Downloaded = r.Total
		}

		r.DownloadSpeed = sample.DownloadSpeed
		r.UploadSpeed = sample.UploadSpeed
		r.Peers = sample.Peers
		r.Seeds = sample.Seeds
		r.ETA = sample.ETA()
		r.ErrorMessage = sample.ErrorMessage

		if sample.Filename != "" {
			r.Filename = sample.Filename
		}

		snapshot = *r
	})
	if mutateErr != nil {
		return
	}

	// An in-flight Cancel owns the record; its own finalize follows.
	if snapshot.Status == download.StatusCancelling {
		return
	}

	// The task was removed daemon-side, outside this core's Cancel. The
	// record is terminal either way, so settle history and metrics; a
	// record already finalized by Cancel makes this a no-op.
	if snapshot.Status == download.StatusCancelled {
		c.finalize(ctx, snapshot.ID, "")

		return
	}

	c.publisher.Publish(Event{Type: EventProgress, Record: snapshot})

	if snapshot.Status == download.StatusError {
		c.finalize(ctx, snapshot.ID, snapshot.ErrorMessage)

		return
	}

	if snapshot.Done() {
		c.finalize(ctx, snapshot.ID, "")
	}
}

// handleSampleError isolates one record's failure. Daemon startup
// failures surface immediately; timeouts get a short grace window so a
// respawning daemon does not flip records that would recover.
func (c *Coordinator) handleSampleError(ctx context.Context, rec download.Record, err error) {
	logger := logctx.LoggerFromContext(ctx)

	var startupErr *download.StartupError

	var transferErr *download.TransferError

	switch {
	case errors.As(err, &startupErr):
		c.failRecord(ctx, rec.ID, err)
	case errors.As(err, &transferErr):
		c.failRecord(ctx, rec.ID, err)
	case errors.Is(err, download.ErrNotFound):
		c.failRecord(ctx, rec.ID, err)
	default:
		c.mu.Lock()
		c.sampleFailures[rec.ID]++
		failures := c.sampleFailures[rec.ID]
		c.mu.Unlock()

		logger.Warn("sample failed", "download_id", rec.ID, "consecutive", failures, "err", err)

		if failures >= rpcFailureThreshold {
			c.failRecord(ctx, rec.ID, err)
		}
	}
}

func (c *Coordinator) resetFailures(id string) {
	c.mu.Lock()
	delete(c.sampleFailures, id)
	c.mu.Unlock()
}

// failRecord transitions a record to Error with the mapped reason. The
// record stays in the registry for caller-driven retry.
func (c *Coordinator) failRecord(ctx context.Context, id string, cause error) {
	retryable := retryableFailure(cause)

	mutateErr := c.registry.Mutate(id, func(r *download.Record) {
		if r.Status.Terminal() || r.Status == download.StatusCancelling {
			return
		}

		r.Status = download.StatusError
		r.ErrorMessage = cause.Error()
		r.Retryable = retryable
		r.DownloadSpeed = 0
		r.UploadSpeed = 0
	})
	if mutateErr != nil {
		return
	}

	c.finalize(ctx, id, cause.Error())
}

// retryableFailure reports whether the failure is expected to clear on a
// retry: daemon death and lost tasks are, a swarm session that vanished
// in-process is not.
func retryableFailure(err error) bool {
	var startupErr *download.StartupError
	if errors.As(err, &startupErr) {
		return true
	}

	var timeoutErr *download.RpcTimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}

	var transferErr *download.TransferError

	return errors.As(err, &transferErr)
}

// finalize runs exactly once per record: it emits the one-shot complete
// event (for successful downloads), writes the immutable history entry,
// and settles the metrics.
func (c *Coordinator) finalize(ctx context.Context, id, errText string) {
	c.mu.Lock()
	if c.completeEmitted[id] {
		c.mu.Unlock()

		return
	}

	c.completeEmitted[id] = true
	c.mu.Unlock()

	rec, err := c.registry.Get(id)
	if err != nil {
		return
	}

	logger := logctx.LoggerFromContext(ctx)
	duration := time.Since(rec.CreatedAt)

	status := rec.Status
	if rec.Done() {
		c.publisher.Publish(Event{Type: EventComplete, Record: rec, Filename: rec.Filename})

		if status == download.StatusSeeding {
			status = download.StatusCompleted
		}
	}

	c.tel.RecordTerminal(string(status), string(rec.Kind), duration)
	c.tel.DecrementActiveDownloads()

	entry := history.Entry{
		DownloadID:  rec.ID,
		URL:         rec.Request.URL,
		Destination: rec.Request.Dir,
		Status:      string(status),
		Bytes:       rec.Downloaded,
		Duration:    duration,
		Error:       errText,
		FinishedAt:  time.Now(),
	}

	if err := c.sink.Append(entry); err != nil {
		logger.Error("failed to write history entry", "download_id", rec.ID, "err", err)
	}

	logger.Info("download finished",
		"download_id", rec.ID, "status", status, "bytes", rec.Downloaded, "duration", duration.String())
}

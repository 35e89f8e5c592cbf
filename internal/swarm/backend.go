package swarm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"
	"golang.org/x/time/rate"

	"github.com/itsBintang/zenith-downloader/internal/download"
	"github.com/itsBintang/zenith-downloader/internal/logctx"
)

// Options configure the in-process swarm engine.
type Options struct {
	ListenPort     int
	UploadLimit    int64 // bytes/sec, 0 for unlimited
	MaxConnections int
	DisableDHT     bool
}

// Backend manages one swarm session per download on top of a single
// torrent client. The handle for every session is the hex info-hash.
type Backend struct {
	client *torrent.Client

	mu       sync.Mutex
	sessions map[string]*session
}

// session tracks per-download swarm state the engine itself does not
// expose: the pause flag and the previous sample for rate computation.
type session struct {
	t      *torrent.Torrent
	dir    string
	paused bool

	lastSampleAt   time.Time
	lastDownloaded int64
	lastUploaded   int64
}

func NewBackend(opts Options) (*Backend, error) {
	cfg := torrent.NewDefaultClientConfig()
	cfg.ListenPort = opts.ListenPort
	cfg.NoDHT = opts.DisableDHT
	cfg.Seed = true

	if opts.MaxConnections > 0 {
		cfg.EstablishedConnsPerTorrent = opts.MaxConnections
	}

	if opts.UploadLimit > 0 {
		cfg.UploadRateLimiter = rate.NewLimiter(rate.Limit(opts.UploadLimit), int(opts.UploadLimit))
	}

	client, err := torrent.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create swarm client: %w", err)
	}

	return &Backend{
		client:   client,
		sessions: make(map[string]*session),
	}, nil
}

var _ download.Backend = (*Backend)(nil)

// Close drops every session and shuts the engine down.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.sessions {
		s.t.Drop()
	}

	b.sessions = make(map[string]*session)
	b.client.Close()
}

// Start validates the magnet URI, opens a session, and returns the hex
// info-hash as the handle. It does not wait for the metadata exchange;
// the record stays Pending until the swarm reports a total size.
func (b *Backend) Start(ctx context.Context, req download.Request) (string, error) {
	logger := logctx.LoggerFromContext(ctx)

	uri, err := normalizeMagnet(req.URL)
	if err != nil {
		return "", err
	}

	spec, err := torrent.TorrentSpecFromMagnetUri(uri)
	if err != nil {
		return "", &download.InvalidMagnetError{URI: req.URL, Reason: err.Error()}
	}

	spec.Storage = storage.NewFile(req.Dir)

	t, _, err := b.client.AddTorrentSpec(spec)
	if err != nil {
		return "", &download.TransferError{Reason: "failed to open swarm session", Err: err}
	}

	handle := spec.InfoHash.HexString()

	b.mu.Lock()
	b.sessions[handle] = &session{t: t, dir: req.Dir}
	b.mu.Unlock()

	// Metadata exchange completes in the background; only then can piece
	// downloads be scheduled.
	go func() {
		select {
		case <-t.GotInfo():
			logger.Debug("swarm metadata received", "info_hash", handle, "name", t.Name())
			t.DownloadAll()
		case <-t.Closed():
		}
	}()

	return handle, nil
}

// Pause stops piece downloads without tearing down peer connections, so
// a resume picks the swarm back up immediately.
func (b *Backend) Pause(ctx context.Context, handle string) error {
	s, err := b.session(handle)
	if err != nil {
		return err
	}

	s.t.DisallowDataDownload()

	b.mu.Lock()
	s.paused = true
	b.mu.Unlock()

	return nil
}

func (b *Backend) Resume(ctx context.Context, handle string) error {
	s, err := b.session(handle)
	if err != nil {
		return err
	}

	s.t.AllowDataDownload()

	b.mu.Lock()
	s.paused = false
	b.mu.Unlock()

	return nil
}

// Cancel tears the session down. Under the temp policy the pieces already
// written are removed from disk.
func (b *Backend) Cancel(ctx context.Context, handle string, policy download.CleanupPolicy) error {
	logger := logctx.LoggerFromContext(ctx)

	b.mu.Lock()
	s, ok := b.sessions[handle]
	if ok {
		delete(b.sessions, handle)
	}
	b.mu.Unlock()

	if !ok {
		return download.ErrNotFound
	}

	var partials []string

	if policy == download.CleanupTemp && s.t.Info() != nil {
		for _, f := range s.t.Files() {
			partials = append(partials, filepath.Join(s.dir, f.Path()))
		}
	}

	s.t.Drop()

	for _, path := range partials {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove partial piece file", "path", path, "err", err)
		}
	}

	return nil
}

// Sample reports swarm facts. Total stays 0 until the metadata exchange
// completes; rates are deltas against the previous sample.
func (b *Backend) Sample(ctx context.Context, handle string) (download.Sample, error) {
	s, err := b.session(handle)
	if err != nil {
		return download.Sample{}, err
	}

	stats := s.t.Stats()
	now := time.Now()

	sample := download.Sample{
		Peers: stats.ActivePeers,
		Seeds: stats.ConnectedSeeders,
	}

	if s.t.Info() == nil {
		sample.Status = download.StatusPending
		b.rememberSample(s, now, 0, stats.BytesWrittenData.Int64())

		return sample, nil
	}

	downloaded := s.t.BytesCompleted()
	uploaded := stats.BytesWrittenData.Int64()

	sample.Downloaded = downloaded
	sample.Total = s.t.Length()
	sample.Filename = s.t.Name()

	b.mu.Lock()
	if !s.lastSampleAt.IsZero() {
		elapsed := now.Sub(s.lastSampleAt).Seconds()
		if elapsed > 0 {
			sample.DownloadSpeed = int64(float64(downloaded-s.lastDownloaded) / elapsed)
			sample.UploadSpeed = int64(float64(uploaded-s.lastUploaded) / elapsed)
		}
	}

	paused := s.paused
	b.mu.Unlock()

	b.rememberSample(s, now, downloaded, uploaded)

	switch {
	case paused:
		sample.Status = download.StatusPaused
	case downloaded >= sample.Total:
		sample.Status = download.StatusSeeding
	default:
		sample.Status = download.StatusActive
	}

	return sample, nil
}

func (b *Backend) session(handle string) (*session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions[handle]
	if !ok {
		return nil, download.ErrNotFound
	}

	return s, nil
}

func (b *Backend) rememberSample(s *session, at time.Time, downloaded, uploaded int64) {
	b.mu.Lock()
	s.lastSampleAt = at
	s.lastDownloaded = downloaded
	s.lastUploaded = uploaded
	b.mu.Unlock()
}

// normalizeMagnet accepts a magnet URI or a bare 40-hex info-hash and
// returns a validated magnet URI.
func normalizeMagnet(raw string) (string, error) {
	uri := raw
	if !strings.HasPrefix(uri, "magnet:") {
		if !isHexInfoHash(uri) {
			return "", &download.InvalidMagnetError{URI: raw, Reason: "missing magnet scheme"}
		}

		uri = "magnet:?xt=urn:btih:" + uri
	}

	m, err := metainfo.ParseMagnetUri(uri)
	if err != nil {
		return "", &download.InvalidMagnetError{URI: raw, Reason: err.Error()}
	}

	if m.InfoHash == (metainfo.Hash{}) {
		return "", &download.InvalidMagnetError{URI: raw, Reason: "missing info-hash"}
	}

	return uri, nil
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

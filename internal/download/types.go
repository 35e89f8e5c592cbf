package download

import (
	"time"
)

// TransportKind identifies which backend owns a download. It is derived
// once at submission time and never changes for a given record.
type TransportKind string

const (
	KindHTTP TransportKind = "http"
	KindPeer TransportKind = "peer"
)

// Status is the lifecycle state of a download record.
//
// Pending → Active ⇄ Paused → {Completed | Error | Cancelled}
//
// Peer records may enter Seeding after reaching 100% and stay there until
// explicitly stopped. Cancelling is the transient state between a cancel
// request and its confirmation; samples taken during that window are
// discarded.
type Status string

const (
	StatusPending    Status = "pending"
	StatusActive     Status = "active"
	StatusPaused     Status = "paused"
	StatusSeeding    Status = "seeding"
	StatusCancelling Status = "cancelling"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transitions are allowed out of s.
// Seeding is not terminal: it ends on an explicit cancel or shutdown.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// CleanupPolicy governs what happens to partial payloads on cancel.
type CleanupPolicy string

const (
	// CleanupTemp deletes partial files and their control files.
	CleanupTemp CleanupPolicy = "temp"
	// CleanupPersist keeps partial files for a later resume.
	CleanupPersist CleanupPolicy = "persist"
)

// Request describes a download to be submitted. It is immutable once
// accepted by the coordinator.
type Request struct {
	URL         string            `json:"url"`
	Dir         string            `json:"dir"`
	Filename    string            `json:"filename,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	AutoExtract bool              `json:"auto_extract,omitempty"`
}

// Sample is one point-in-time observation of a transfer, reported by a
// backend. Backends report facts; they never write into the registry.
type Sample struct {
	Status        Status
	Downloaded    int64
	Total         int64 // 0 until the content length is known
	DownloadSpeed int64 // bytes/sec
	UploadSpeed   int64 // bytes/sec
	Peers         int   // peer backend only
	Seeds         int   // peer backend only
	Filename      string
	ErrorMessage  string
}

// Progress returns the completion ratio clamped to [0,1]. An unknown
// total yields 0.
func (s Sample) Progress() float64 {
	if s.Total <= 0 {
		return 0
	}

	ratio := float64(s.Downloaded) / float64(s.Total)
	if ratio < 0 {
		return 0
	}

	if ratio > 1 {
		return 1
	}

	return ratio
}

// ETA estimates the seconds remaining, or 0 when unknown.
func (s Sample) ETA() int64 {
	if s.DownloadSpeed <= 0 || s.Total <= s.Downloaded {
		return 0
	}

	return (s.Total - s.Downloaded) / s.DownloadSpeed
}

// Record is the coordinator's view of one download. Only the coordinator
// mutates it; everybody else receives copies.
type Record struct {
	ID            string        `json:"id"`
	Kind          TransportKind `json:"kind"`
	Request       Request       `json:"request"`
	Handle        string        `json:"-"` // backend-native task handle (aria2 GID, info-hash)
	Status        Status        `json:"status"`
	Downloaded    int64         `json:"downloaded"`
	Total         int64         `json:"total"`
	DownloadSpeed int64         `json:"download_speed"`
	UploadSpeed   int64         `json:"upload_speed"`
	Peers         int           `json:"peers,omitempty"`
	Seeds         int           `json:"seeds,omitempty"`
	ETA           int64         `json:"eta,omitempty"`
	Filename      string        `json:"filename,omitempty"`
	ErrorMessage  string        `json:"error,omitempty"`
	Retryable     bool          `json:"retryable,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Progress returns the completion ratio clamped to [0,1].
func (r *Record) Progress() float64 {
	return Sample{Downloaded: r.Downloaded, Total: r.Total}.Progress()
}

// Done reports whether the payload is fully on disk. Seeding records at
// 100% count as done even though they are not terminal.
func (r *Record) Done() bool {
	if r.Status == StatusCompleted {
		return true
	}

	return r.Status == StatusSeeding && r.Total > 0 && r.Downloaded >= r.Total
}

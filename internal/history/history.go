package history

import "time"

// Entry is the immutable summary written once per terminal download.
type Entry struct {
	DownloadID  string        `json:"download_id"`
	URL         string        `json:"url"`
	Destination string        `json:"destination"`
	Status      string        `json:"status"`
	Bytes       int64         `json:"bytes"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
	FinishedAt  time.Time     `json:"finished_at"`
}

// Sink receives terminal download records. Schema and durability are the
// sink's own concern; the core only appends.
type Sink interface {
	Append(entry Entry) error
}

// Discard is a Sink that drops every entry. Useful when history
// persistence is disabled.
type Discard struct{}

func (Discard) Append(Entry) error { return nil }

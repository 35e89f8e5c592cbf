package coordinator

import (
	"sort"
	"sync"
	"time"

	"github.com/itsBintang/zenith-downloader/internal/download"
)

// Registry is the single authoritative store of download records. The
// lock is held only across a lookup or mutation, never while waiting on a
// backend, so one slow RPC call cannot stall unrelated reads.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*download.Record
}

func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*download.Record)}
}

// Put inserts a record. The registry owns the stored copy from here on.
func (r *Registry) Put(rec *download.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *rec
	r.records[rec.ID] = &stored
}

// Get returns a snapshot of one record.
func (r *Registry) Get(id string) (download.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return download.Record{}, download.ErrNotFound
	}

	return *rec, nil
}

// List returns snapshots of every record, oldest first.
func (r *Registry) List() []download.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]download.Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out
}

// Mutate applies fn to a record under the write lock and stamps
// UpdatedAt. fn must not block.
func (r *Registry) Mutate(id string, fn func(*download.Record)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return download.ErrNotFound
	}

	fn(rec)
	rec.UpdatedAt = time.Now()

	return nil
}

// ClearTerminal removes every record in a terminal state and returns how
// many were reaped. Non-terminal records are never touched.
func (r *Registry) ClearTerminal() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cleared := 0

	for id, rec := range r.records {
		if rec.Status.Terminal() {
			delete(r.records, id)
			cleared++
		}
	}

	return cleared
}

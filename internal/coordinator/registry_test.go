package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsBintang/zenith-downloader/internal/download"
)

func TestRegistryPutGetIsolation(t *testing.T) {
	reg := NewRegistry()

	rec := &download.Record{ID: "one", Status: download.StatusPending, CreatedAt: time.Now()}
	reg.Put(rec)

	// Mutating the caller's struct after Put must not leak into the store.
	rec.Status = download.StatusError

	got, err := reg.Get("one")
	require.NoError(t, err)
	assert.Equal(t, download.StatusPending, got.Status)

	// Mutating a returned snapshot must not leak either.
	got.Status = download.StatusCompleted

	again, err := reg.Get("one")
	require.NoError(t, err)
	assert.Equal(t, download.StatusPending, again.Status)
}

func TestRegistryGetUnknown(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Get("missing")
	assert.ErrorIs(t, err, download.ErrNotFound)
}

func TestRegistryListOrder(t *testing.T) {
	reg := NewRegistry()
	base := time.Now()

	reg.Put(&download.Record{ID: "newest", CreatedAt: base.Add(2 * time.Second)})
	reg.Put(&download.Record{ID: "oldest", CreatedAt: base})
	reg.Put(&download.Record{ID: "middle", CreatedAt: base.Add(time.Second)})

	list := reg.List()
	require.Len(t, list, 3)
	assert.Equal(t, "oldest", list[0].ID)
	assert.Equal(t, "middle", list[1].ID)
	assert.Equal(t, "newest", list[2].ID)
}

func TestRegistryMutateStampsUpdatedAt(t *testing.T) {
	reg := NewRegistry()

	before := time.Now().Add(-time.Hour)
	reg.Put(&download.Record{ID: "one", Status: download.StatusActive, UpdatedAt: before})

	err := reg.Mutate("one", func(r *download.Record) {
		r.Downloaded = 42
	})
	require.NoError(t, err)

	got, err := reg.Get("one")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Downloaded)
	assert.True(t, got.UpdatedAt.After(before))

	err = reg.Mutate("missing", func(r *download.Record) {})
	assert.ErrorIs(t, err, download.ErrNotFound)
}

func TestRegistryClearTerminal(t *testing.T) {
	reg := NewRegistry()

	reg.Put(&download.Record{ID: "done", Status: download.StatusCompleted})
	reg.Put(&download.Record{ID: "failed", Status: download.StatusError})
	reg.Put(&download.Record{ID: "gone", Status: download.StatusCancelled})
	reg.Put(&download.Record{ID: "running", Status: download.StatusActive})
	reg.Put(&download.Record{ID: "seeding", Status: download.StatusSeeding})

	assert.Equal(t, 3, reg.ClearTerminal())

	_, err := reg.Get("running")
	assert.NoError(t, err)

	_, err = reg.Get("seeding")
	assert.NoError(t, err, "seeding is not terminal and survives a clear")

	_, err = reg.Get("done")
	assert.ErrorIs(t, err, download.ErrNotFound)
}

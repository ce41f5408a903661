package freepile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/phylum/internal/alloc"
	"github.com/scigolib/phylum/internal/core"
)

func pileFixture(t *testing.T) (*Manager, *core.MemoryStorage) {
	t.Helper()

	storage := core.NewMemoryStorage(core.NewGeometry(16, 4, 4, 512))
	require.NoError(t, storage.Open())

	allocator := alloc.NewSequentialAllocator(storage.Geometry())
	return New(storage, allocator), storage
}

func TestFormatAppendLocate(t *testing.T) {
	m, storage := pileFixture(t)
	defer func() { _ = storage.Close() }()

	require.NoError(t, m.Format(6))
	assert.Equal(t, core.BlockAddress{Block: 6, Position: 512}, m.Location())

	require.NoError(t, m.Append(Entry{Available: 9, Taken: 10}))
	require.NoError(t, m.Append(Entry{Available: 11, Taken: core.InvalidBlock}))
	end := m.Location()

	fresh := New(storage, alloc.NewSequentialAllocator(storage.Geometry()))
	require.NoError(t, fresh.Locate(6))
	assert.Equal(t, end, fresh.Location())
}

func TestEntryValidity(t *testing.T) {
	var erased Entry
	erased.Available = core.InvalidBlock
	erased.Taken = core.InvalidBlock
	assert.False(t, erased.Valid())

	live := Entry{Available: 5, Taken: core.InvalidBlock}
	assert.True(t, live.Valid())
}

func TestEntryRoundTrip(t *testing.T) {
	entry := Entry{Available: 77, Taken: 78}

	buf := make([]byte, EntrySize)
	entry.EncodeTo(buf)

	var decoded Entry
	decoded.DecodeFrom(buf)
	assert.Equal(t, entry, decoded)
}

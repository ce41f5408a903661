package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/phylum/internal/alloc"
	"github.com/scigolib/phylum/internal/core"
)

func journalFixture(t *testing.T) (*Journal, *core.MemoryStorage) {
	t.Helper()

	storage := core.NewMemoryStorage(core.NewGeometry(16, 4, 4, 512))
	require.NoError(t, storage.Open())

	allocator := alloc.NewSequentialAllocator(storage.Geometry())
	return New(storage, allocator), storage
}

func TestFormatAndAppend(t *testing.T) {
	j, storage := journalFixture(t)
	defer func() { _ = storage.Close() }()

	require.NoError(t, j.Format(5))
	assert.Equal(t, core.BlockAddress{Block: 5, Position: 512}, j.Location())

	for i := uint32(10); i < 20; i++ {
		entry := Entry{Type: EntryAllocation, Block: i, BlockType: core.BlockTypeFile}
		require.NoError(t, j.Append(entry))
	}

	assert.Equal(t, core.BlockAddress{Block: 5, Position: 512 + 10*EntrySize}, j.Location())
}

func TestLocateResumesAfterRemount(t *testing.T) {
	j, storage := journalFixture(t)
	defer func() { _ = storage.Close() }()

	require.NoError(t, j.Format(5))
	for i := uint32(0); i < 7; i++ {
		require.NoError(t, j.Append(Entry{Type: EntryAllocation, Block: 10 + i, BlockType: core.BlockTypeFile}))
	}
	end := j.Location()

	fresh := New(storage, alloc.NewSequentialAllocator(storage.Geometry()))
	require.NoError(t, fresh.Locate(5))
	assert.Equal(t, end, fresh.Location())

	// Appends continue cleanly after locating.
	require.NoError(t, fresh.Append(Entry{Type: EntryAllocation, Block: 30, BlockType: core.BlockTypeJournal}))
	assert.Equal(t, end.Advance(EntrySize), fresh.Location())
}

func TestEntryValidity(t *testing.T) {
	erased := Entry{Type: EntryOnes}
	assert.False(t, erased.Valid())

	zeroed := Entry{Type: EntryZeros}
	assert.False(t, zeroed.Valid())

	live := Entry{Type: EntryAllocation, Block: 4}
	assert.True(t, live.Valid())
}

func TestEntryRoundTrip(t *testing.T) {
	entry := Entry{Type: EntryAllocation, Block: 123, BlockType: core.BlockTypeLeaf}

	buf := make([]byte, EntrySize)
	entry.EncodeTo(buf)

	var decoded Entry
	decoded.DecodeFrom(buf)
	assert.Equal(t, entry, decoded)
}

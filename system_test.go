package phylum

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/phylum/internal/core"
)

func systemFixture(t *testing.T, blocks uint32, pagesPerBlock, sectorsPerPage uint16) (*System, *MemoryStorage) {
	t.Helper()

	storage := NewMemoryStorage(NewGeometry(blocks, pagesPerBlock, sectorsPerPage, 512))
	require.NoError(t, storage.Open())

	system := NewSystem(storage)
	require.NoError(t, system.Create())
	return system, storage
}

// TestWanderingSuperblock is the S6 shape: saves advance sector-by-sector
// within the payload block and a fresh mount lands on the latest payload.
// Block rotation is covered by TestWanderingSuperblockRotates.
func TestWanderingSuperblock(t *testing.T) {
	system, storage := systemFixture(t, 32, 8, 16)
	defer func() { _ = storage.Close() }()

	first := system.Location().Block

	for i := 0; i < 33; i++ {
		require.NoError(t, system.Save())
	}

	// 128 sectors per block: 33 saves advance within the payload block.
	assert.Equal(t, first, system.Location().Block)
	assert.Equal(t, uint16(33), system.Location().Sector)

	mounted := NewSystem(storage)
	require.NoError(t, mounted.Locate())
	assert.Equal(t, system.Location(), mounted.Location())
	assert.Equal(t, system.Timestamp(), mounted.Timestamp())
}

func TestWanderingSuperblockRotates(t *testing.T) {
	system, storage := systemFixture(t, 32, 2, 8)
	defer func() { _ = storage.Close() }()

	first := system.Location().Block

	// 16 sectors per block: comfortably force a rotation. A later rollover
	// may hand the freed first block back, so rotation is checked after
	// every save rather than only at the end.
	rotated := false
	for i := 0; i < 33; i++ {
		require.NoError(t, system.Save())
		if system.Location().Block != first {
			rotated = true
		}
	}

	assert.True(t, rotated, "superblock block should rotate as blocks fill")

	mounted := NewSystem(storage)
	require.NoError(t, mounted.Locate())
	assert.Equal(t, system.Location(), mounted.Location())
}

func TestJournalSurvivesRemount(t *testing.T) {
	system, storage := systemFixture(t, 32, 4, 4)
	defer func() { _ = storage.Close() }()

	entry := JournalEntry{
		Type:      JournalAllocation,
		Block:     17,
		BlockType: core.BlockTypeFile,
	}
	require.NoError(t, system.AppendJournal(entry))
	require.NoError(t, system.AppendFreePile(FreePileEntry{Available: 9, Taken: 12}))
	require.NoError(t, system.Save())

	mounted := NewSystem(storage)
	require.NoError(t, mounted.Locate())

	// Appends resume past the recovered entries.
	require.NoError(t, mounted.AppendJournal(entry))
	require.NoError(t, mounted.AppendFreePile(FreePileEntry{Available: 13, Taken: 14}))
}

func TestKeyedMapPersists(t *testing.T) {
	system, storage := systemFixture(t, 64, 4, 4)
	defer func() { _ = storage.Close() }()

	for i := uint64(1); i <= 30; i++ {
		require.NoError(t, system.Put(i, i*11))
	}
	require.NoError(t, system.Save())

	mounted := NewSystem(storage)
	require.NoError(t, mounted.Locate())

	for i := uint64(1); i <= 30; i++ {
		value, err := mounted.Get(i)
		require.NoError(t, err)
		require.Equal(t, i*11, value, "key %d", i)
	}

	missing, err := mounted.Get(999)
	require.NoError(t, err)
	assert.Zero(t, missing)
}

func TestReclaimErasesOrphans(t *testing.T) {
	storage := NewMemoryStorage(NewGeometry(64, 4, 4, 512))
	require.NoError(t, storage.Open())
	defer func() { _ = storage.Close() }()

	fs := NewFileLayout(storage)
	require.NoError(t, fs.Format([]FileDescriptor{
		{Name: "system", MaximumSize: 30},
		{Name: "data.fk", MaximumSize: 0},
	}))

	system := NewSystem(storage)
	require.NoError(t, system.Create())

	// Fabricate an orphan: a taken-looking block nothing references.
	orphan := uint32(63)
	head := core.NewBlockHead(core.BlockTypeJournal)
	head.Fill()
	head.Age = 0
	head.Timestamp = 0
	buf := make([]byte, core.BlockHeadSize)
	head.EncodeTo(buf)
	require.NoError(t, storage.Erase(orphan))
	require.NoError(t, storage.Write(BlockAddress{Block: orphan, Position: 0}, buf))

	require.NoError(t, system.Reclaim(fs))

	// The orphan is now an aged, unallocated block.
	require.NoError(t, storage.Read(BlockAddress{Block: orphan, Position: 0}, buf))
	reclaimed := core.DecodeBlockHead(buf)
	require.True(t, reclaimed.Valid())
	assert.Equal(t, core.BlockTypeUnallocated, reclaimed.Type)
}

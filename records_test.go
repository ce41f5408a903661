package phylum

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/phylum/internal/core"
)

// The on-device sizes are frozen; changing any of these breaks image
// portability.
func TestPersistedSizes(t *testing.T) {
	assert.Equal(t, 54, FileBlockHeadSize)
	assert.Equal(t, 2, FileSectorTailSize)
	assert.Equal(t, 18, FileBlockTailSize)
	assert.Equal(t, 50, FileTableEntrySize)
}

func TestFileBlockHeadRoundTrip(t *testing.T) {
	head := NewFileBlockHead()
	head.Fill()
	head.FileID = 0xDEADBEEF
	head.Version = 3
	head.Block.LinkedBlock = 41

	buf := make([]byte, FileBlockHeadSize)
	head.EncodeTo(buf)

	// file_id sits immediately after the 22-byte block head.
	assert.Equal(t, byte(0xEF), buf[22])
	assert.Equal(t, byte(3), buf[26])

	decoded := DecodeFileBlockHead(buf)
	require.True(t, decoded.Valid())
	assert.Equal(t, head.FileID, decoded.FileID)
	assert.Equal(t, head.Version, decoded.Version)
	assert.Equal(t, uint32(41), decoded.Block.LinkedBlock)
}

func TestFileBlockTailRoundTrip(t *testing.T) {
	tail := NewFileBlockTail()
	tail.Sector.Bytes = 510
	tail.BytesInBlock = 7634
	tail.Block.LinkedBlock = 8

	buf := make([]byte, FileBlockTailSize)
	tail.EncodeTo(buf)

	// linked block occupies the final four bytes, after the padding.
	assert.Equal(t, byte(8), buf[14])

	decoded := DecodeFileBlockTail(buf)
	assert.Equal(t, tail.Sector.Bytes, decoded.Sector.Bytes)
	assert.Equal(t, tail.BytesInBlock, decoded.BytesInBlock)
	assert.Equal(t, tail.Block.LinkedBlock, decoded.Block.LinkedBlock)
}

func TestFileSectorTailRoundTrip(t *testing.T) {
	tail := FileSectorTail{Bytes: 123}

	buf := make([]byte, FileSectorTailSize)
	tail.EncodeTo(buf)
	assert.Equal(t, tail, DecodeFileSectorTail(buf))
}

func TestFileTableEntryRoundTrip(t *testing.T) {
	entry := FileTableEntry{
		FD: FileDescriptor{
			Name:        "startup.log",
			MaximumSize: 100,
			Strategy:    StrategyRolling,
		},
		Alloc: FileAllocation{
			Index: Extent{Start: 2, NBlocks: 2},
			Data:  Extent{Start: 4, NBlocks: 14},
		},
	}
	entry.Fill()

	buf := make([]byte, FileTableEntrySize)
	entry.EncodeTo(buf)

	var decoded FileTableEntry
	decoded.DecodeFrom(buf)
	require.True(t, decoded.Valid())
	assert.Equal(t, entry.FD, decoded.FD)
	assert.Equal(t, entry.Alloc, decoded.Alloc)
}

func TestFileTableEntryErasedInvalid(t *testing.T) {
	buf := make([]byte, FileTableEntrySize)
	for i := range buf {
		buf[i] = 0xff
	}

	var entry FileTableEntry
	entry.DecodeFrom(buf)
	assert.False(t, entry.Valid())
}

func TestEffectiveBlockSizes(t *testing.T) {
	g := NewGeometry(1024, 4, 4, 512)

	// 16 sectors: one head sector, one block tail, fourteen sector tails.
	overhead := uint64(512 + 18 + 14*2)
	assert.Equal(t, uint64(8192)-overhead, effectiveFileBlockSize(g))
}

func TestFileTableWriteAndRead(t *testing.T) {
	storage := core.NewMemoryStorage(NewGeometry(64, 4, 4, 512))
	require.NoError(t, storage.Open())
	defer func() { _ = storage.Close() }()

	table := NewFileTable(storage)
	require.NoError(t, table.Erase())

	entries := []FileTableEntry{}
	for i := 0; i < 3; i++ {
		entry := FileTableEntry{
			FD:    FileDescriptor{Name: "file", MaximumSize: uint64(i + 1)},
			Alloc: FileAllocation{Index: Extent{Start: uint32(2 + i*10), NBlocks: 2}},
		}
		entry.Fill()
		entries = append(entries, entry)
		require.NoError(t, table.Write(&entry))
	}

	reading := NewFileTable(storage)
	for i := 0; i < 3; i++ {
		var entry FileTableEntry
		require.True(t, reading.Read(&entry), "entry %d", i)
		assert.Equal(t, entries[i].FD, entry.FD)
		assert.Equal(t, entries[i].Alloc, entry.Alloc)
	}

	var extra FileTableEntry
	assert.False(t, reading.Read(&extra))
}

func TestPreallocatorCarvesInOrder(t *testing.T) {
	g := NewGeometry(1024, 4, 4, 512)
	p := NewFilePreallocator(g, discardLogger())

	assert.Equal(t, Kilobyte, p.Scale())

	first, err := p.Allocate(FileDescriptor{Name: "a", MaximumSize: 100})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), first.Index.Start)
	assert.Equal(t, uint32(2), first.Index.NBlocks)
	assert.Equal(t, uint32(4), first.Data.Start)
	assert.Equal(t, uint32(14), first.Data.NBlocks)

	second, err := p.Allocate(FileDescriptor{Name: "b", MaximumSize: 100})
	require.NoError(t, err)
	assert.Equal(t, first.Data.Start+first.Data.NBlocks, second.Index.Start)
}

func TestPreallocatorRestTakesRemainder(t *testing.T) {
	g := NewGeometry(1024, 4, 4, 512)
	p := NewFilePreallocator(g, discardLogger())

	for i := 0; i < 4; i++ {
		_, err := p.Allocate(FileDescriptor{Name: "f", MaximumSize: 100})
		require.NoError(t, err)
	}

	rest, err := p.Allocate(FileDescriptor{Name: "rest", MaximumSize: 0})
	require.NoError(t, err)

	end := rest.Data.Start + rest.Data.NBlocks
	assert.LessOrEqual(t, end, uint32(1024))
	assert.Greater(t, rest.Data.NBlocks, uint32(900))
}

func TestPreallocatorRejectsOverflowingSize(t *testing.T) {
	g := NewGeometry(1024, 4, 4, 512)
	p := NewFilePreallocator(g, discardLogger())

	_, err := p.Allocate(FileDescriptor{Name: "huge", MaximumSize: ^uint64(0)})
	require.Error(t, err)
}

func TestPreallocatorScaleOnLargeDevice(t *testing.T) {
	// 2 GiB device: 262144 blocks of 8 KiB.
	g := NewGeometry(262144, 4, 4, 512)
	p := NewFilePreallocator(g, discardLogger())
	assert.Equal(t, Megabyte, p.Scale())
}

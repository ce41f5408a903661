package alloc

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/phylum/internal/core"
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func flashFixture(t *testing.T) (*ReusableAllocator, *core.MemoryStorage) {
	t.Helper()

	storage := core.NewMemoryStorage(core.NewGeometry(16, 4, 4, 512))
	require.NoError(t, storage.Open())

	allocator := NewReusableAllocator(storage, quietLogger())
	require.NoError(t, allocator.Initialize())
	return allocator, storage
}

func writeHead(t *testing.T, storage *core.MemoryStorage, block uint32, blockType core.BlockType, age uint32) {
	t.Helper()

	head := core.NewBlockHead(blockType)
	head.Fill()
	head.Age = age
	head.Timestamp = 0

	buf := make([]byte, core.BlockHeadSize)
	head.EncodeTo(buf)
	require.NoError(t, storage.Erase(block))
	require.NoError(t, storage.Write(core.BlockAddress{Block: block, Position: 0}, buf))
}

func TestInitializeScansTakenBlocks(t *testing.T) {
	storage := core.NewMemoryStorage(core.NewGeometry(16, 4, 4, 512))
	require.NoError(t, storage.Open())
	defer func() { _ = storage.Close() }()

	writeHead(t, storage, 5, core.BlockTypeFile, 0)
	writeHead(t, storage, 9, core.BlockTypeJournal, 0)

	allocator := NewReusableAllocator(storage, quietLogger())
	require.NoError(t, allocator.Initialize())

	taken, err := allocator.IsTaken(5)
	require.NoError(t, err)
	assert.True(t, taken)

	taken, err = allocator.IsTaken(6)
	require.NoError(t, err)
	assert.False(t, taken)

	// Blocks 0-2 are reserved, leaving 13 allocatable blocks of 16; blocks 5
	// and 9 are taken, so 11 are free.
	assert.Equal(t, uint32(11), allocator.NumberOfFreeBlocks())
}

func TestAllocatePrefersLowestAge(t *testing.T) {
	allocator, storage := flashFixture(t)
	defer func() { _ = storage.Close() }()

	// Freed blocks carry their age; block 9 is the youngest.
	writeHead(t, storage, 5, core.BlockTypeUnallocated, 12)
	writeHead(t, storage, 9, core.BlockTypeUnallocated, 3)
	writeHead(t, storage, 11, core.BlockTypeUnallocated, 7)

	allocated, err := allocator.Allocate(core.BlockTypeFile)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), allocated.Block)
	assert.Equal(t, uint32(3), allocated.Age)
}

func TestFreeBumpsAgeAndRewritesHead(t *testing.T) {
	allocator, storage := flashFixture(t)
	defer func() { _ = storage.Close() }()

	writeHead(t, storage, 6, core.BlockTypeFile, 4)

	require.NoError(t, allocator.Free(6, 0))

	buf := make([]byte, core.BlockHeadSize)
	require.NoError(t, storage.Read(core.BlockAddress{Block: 6, Position: 0}, buf))
	head := core.DecodeBlockHead(buf)

	require.True(t, head.Valid())
	assert.Equal(t, core.BlockTypeUnallocated, head.Type)
	assert.Equal(t, uint32(5), head.Age)

	taken, err := allocator.IsTaken(6)
	require.NoError(t, err)
	assert.False(t, taken)
}

func TestAllocateExhaustion(t *testing.T) {
	allocator, storage := flashFixture(t)
	defer func() { _ = storage.Close() }()

	for i := 0; i < 13; i++ {
		allocated, err := allocator.Allocate(core.BlockTypeFile)
		require.NoError(t, err)
		writeHead(t, storage, allocated.Block, core.BlockTypeFile, allocated.Age)
	}

	_, err := allocator.Allocate(core.BlockTypeFile)
	require.Error(t, err)
}

// TestWearLevelingMonotonicity exercises the §8-style property: after many
// allocate/free cycles the maximum age stays near total turnover divided by
// block count.
func TestWearLevelingMonotonicity(t *testing.T) {
	allocator, storage := flashFixture(t)
	defer func() { _ = storage.Close() }()

	const cycles = 130
	usable := uint32(13)

	// Start from a fully freed device so every block carries an age; the
	// allocator prefers known ages over never-written blocks.
	require.NoError(t, allocator.FreeAll())

	for i := 0; i < cycles; i++ {
		allocated, err := allocator.Allocate(core.BlockTypeFile)
		require.NoError(t, err)
		writeHead(t, storage, allocated.Block, core.BlockTypeFile, allocated.Age)
		require.NoError(t, allocator.Free(allocated.Block, 0))
	}

	maxAge := uint32(0)
	for block := uint32(3); block < 16; block++ {
		buf := make([]byte, core.BlockHeadSize)
		require.NoError(t, storage.Read(core.BlockAddress{Block: block, Position: 0}, buf))
		head := core.DecodeBlockHead(buf)
		if head.Valid() && head.Age != core.InvalidAge && head.Age > maxAge {
			maxAge = head.Age
		}
	}

	bound := uint32(cycles)/usable + 2
	assert.LessOrEqual(t, maxAge, bound, "wear should level across blocks")
}

func TestTakenBlockTracker(t *testing.T) {
	tracker := NewTakenBlockTracker(16)

	// Reserved blocks are never free.
	assert.False(t, tracker.IsFree(0))
	assert.False(t, tracker.IsFree(1))
	assert.False(t, tracker.IsFree(2))

	assert.True(t, tracker.IsFree(7))
	tracker.Mark(7)
	assert.False(t, tracker.IsFree(7))

	// Out-of-range blocks are treated as taken.
	assert.False(t, tracker.IsFree(99))
}

func TestQueueAllocatorFIFO(t *testing.T) {
	g := core.NewGeometry(8, 4, 4, 512)
	allocator := NewQueueAllocator(g)

	first, err := allocator.Allocate(core.BlockTypeFile)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), first.Block)

	second, err := allocator.Allocate(core.BlockTypeFile)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), second.Block)

	require.NoError(t, allocator.Free(first.Block, 0))

	// Freed blocks return after the seeded ones.
	for i := 0; i < 3; i++ {
		_, err = allocator.Allocate(core.BlockTypeFile)
		require.NoError(t, err)
	}

	again, err := allocator.Allocate(core.BlockTypeFile)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), again.Block)
}

func TestSequentialAllocatorState(t *testing.T) {
	g := core.NewGeometry(8, 4, 4, 512)
	allocator := NewSequentialAllocator(g)

	a, err := allocator.Allocate(core.BlockTypeFile)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), a.Block)

	state := allocator.State()
	assert.Equal(t, uint32(4), state.Head)

	allocator.SetState(core.AllocatorState{Head: 6})
	b, err := allocator.Allocate(core.BlockTypeFile)
	require.NoError(t, err)
	assert.Equal(t, uint32(6), b.Block)
}

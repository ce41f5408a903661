package superblock

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/phylum/internal/alloc"
	"github.com/scigolib/phylum/internal/core"
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// counterPayload is a minimal payload: a single value bumped every save.
type counterPayload struct {
	Value uint32
}

func (p *counterPayload) Size() uint32 { return 4 }

func (p *counterPayload) EncodeTo(buf []byte) {
	binary.LittleEndian.PutUint32(buf, p.Value)
}

func (p *counterPayload) DecodeFrom(buf []byte) {
	p.Value = binary.LittleEndian.Uint32(buf)
}

func managerFixture(t *testing.T, blocks uint32, pagesPerBlock, sectorsPerPage uint16) (*Manager, *counterPayload, *core.MemoryStorage) {
	t.Helper()

	storage := core.NewMemoryStorage(core.NewGeometry(blocks, pagesPerBlock, sectorsPerPage, 512))
	require.NoError(t, storage.Open())

	allocator := alloc.NewReusableAllocator(storage, quietLogger())
	require.NoError(t, allocator.Initialize())

	payload := &counterPayload{}
	manager := NewManager(storage, allocator, payload, Hooks{}, quietLogger())
	return manager, payload, storage
}

func readLink(t *testing.T, storage *core.MemoryStorage, addr core.SectorAddress) Link {
	t.Helper()

	g := storage.Geometry()
	buf := make([]byte, LinkSize)
	start := core.BlockAddress{Block: addr.Block, Position: uint32(addr.Sector) * uint32(g.SectorSize)}
	require.NoError(t, storage.Read(start, buf))

	var link Link
	link.DecodeFrom(buf)
	return link
}

func TestCreateAndLocate(t *testing.T) {
	manager, payload, storage := managerFixture(t, 16, 4, 4)
	defer func() { _ = storage.Close() }()

	payload.Value = 0xC0FFEE
	require.NoError(t, manager.Create())

	// Both anchors hold valid links with decreasing timestamps.
	anchor1 := readLink(t, storage, core.SectorAddress{Block: 1, Sector: 0})
	anchor2 := readLink(t, storage, core.SectorAddress{Block: 2, Sector: 0})
	require.True(t, anchor1.Valid())
	require.True(t, anchor2.Valid())
	assert.Equal(t, core.BlockTypeAnchor, anchor1.Head.Type)
	assert.Equal(t, anchor1.Head.Timestamp, anchor2.Head.Timestamp+1)

	// A fresh manager finds the payload by walking.
	other := &counterPayload{}
	located := NewManager(storage, alloc.NewReusableAllocator(storage, quietLogger()), other, Hooks{}, quietLogger())
	require.NoError(t, located.Locate())
	assert.Equal(t, uint32(0xC0FFEE), other.Value)
	assert.Equal(t, manager.Location(), located.Location())
}

func TestSaveAdvancesSectorBySector(t *testing.T) {
	manager, payload, storage := managerFixture(t, 16, 4, 4)
	defer func() { _ = storage.Close() }()

	require.NoError(t, manager.Create())
	start := manager.Location()

	payload.Value = 1
	require.NoError(t, manager.Save())

	assert.Equal(t, start.Block, manager.Location().Block)
	assert.Equal(t, start.Sector+1, manager.Location().Sector)

	payload.Value = 2
	require.NoError(t, manager.Save())
	assert.Equal(t, start.Sector+2, manager.Location().Sector)
}

func TestSaveRollsToFreshBlockWhenFull(t *testing.T) {
	manager, payload, storage := managerFixture(t, 16, 4, 4)
	defer func() { _ = storage.Close() }()

	require.NoError(t, manager.Create())
	startBlock := manager.Location().Block

	// 16 sectors per block; enough saves to force a block rollover.
	for i := 0; i < 20; i++ {
		payload.Value = uint32(i + 1)
		require.NoError(t, manager.Save())
	}

	assert.NotEqual(t, startBlock, manager.Location().Block)

	// The freshest payload is still reachable from the anchors.
	other := &counterPayload{}
	located := NewManager(storage, alloc.NewReusableAllocator(storage, quietLogger()), other, Hooks{}, quietLogger())
	require.NoError(t, located.Locate())
	assert.Equal(t, uint32(20), other.Value)
}

// TestConvergence is the §8-style property: after k saves a fresh mount
// yields the k-th payload, and both anchors stay close in timestamp.
func TestConvergence(t *testing.T) {
	manager, payload, storage := managerFixture(t, 32, 8, 16)
	defer func() { _ = storage.Close() }()

	require.NoError(t, manager.Create())

	const saves = 33
	for i := 1; i <= saves; i++ {
		payload.Value = uint32(i)
		require.NoError(t, manager.Save())
	}

	other := &counterPayload{}
	located := NewManager(storage, alloc.NewReusableAllocator(storage, quietLogger()), other, Hooks{}, quietLogger())
	require.NoError(t, located.Locate())
	assert.Equal(t, uint32(saves), other.Value)

	anchor1 := readLink(t, storage, core.SectorAddress{Block: 1, Sector: 0})
	anchor2 := readLink(t, storage, core.SectorAddress{Block: 2, Sector: 0})
	diff := int64(anchor1.Head.Timestamp) - int64(anchor2.Head.Timestamp)
	if diff < 0 {
		diff = -diff
	}
	assert.LessOrEqual(t, diff, int64(chainLength+1))
}

func TestRolloverRotatesSuperblockBlock(t *testing.T) {
	// 32 sectors per block keeps the test quick while forcing more than
	// one block rotation.
	manager, payload, storage := managerFixture(t, 32, 8, 4)
	defer func() { _ = storage.Close() }()

	require.NoError(t, manager.Create())
	first := manager.Location().Block

	rotated := false
	for i := 1; i <= 70; i++ {
		payload.Value = uint32(i)
		require.NoError(t, manager.Save())
		if manager.Location().Block != first {
			rotated = true
		}
	}
	assert.True(t, rotated, "superblock block should rotate as blocks fill")

	other := &counterPayload{}
	located := NewManager(storage, alloc.NewReusableAllocator(storage, quietLogger()), other, Hooks{}, quietLogger())
	require.NoError(t, located.Locate())
	assert.Equal(t, uint32(70), other.Value)
}

func TestStaleAnchorLosesToNewer(t *testing.T) {
	manager, payload, storage := managerFixture(t, 16, 4, 4)
	defer func() { _ = storage.Close() }()

	require.NoError(t, manager.Create())

	payload.Value = 7
	require.NoError(t, manager.Save())

	// Wreck the older anchor entirely; the walk should still find the
	// payload through the newer one.
	require.NoError(t, storage.Erase(2))

	other := &counterPayload{}
	located := NewManager(storage, alloc.NewReusableAllocator(storage, quietLogger()), other, Hooks{}, quietLogger())
	require.NoError(t, located.Locate())
	assert.Equal(t, uint32(7), other.Value)
}

func TestFilesystemStateRoundTrip(t *testing.T) {
	state := NewFilesystemState()
	state.Allocator = core.AllocatorState{Head: 12}
	state.LastGC = 99
	state.Tree = 5
	state.Journal = 6
	state.FreePile = 7
	state.Leaf = core.BlockAddress{Block: 8, Position: 512}
	state.Index = core.BlockAddress{Block: 9, Position: 1024}

	buf := make([]byte, FilesystemStateSize)
	state.EncodeTo(buf)

	decoded := NewFilesystemState()
	decoded.DecodeFrom(buf)
	assert.Equal(t, state, decoded)
}

func TestLinkSize(t *testing.T) {
	assert.Equal(t, 28, LinkSize)
	assert.Equal(t, 36, FilesystemStateSize)
}

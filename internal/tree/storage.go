package tree

import (
	"github.com/scigolib/phylum/internal/core"
	"github.com/scigolib/phylum/internal/layout"
	"github.com/scigolib/phylum/internal/utils"
)

// treeHead is the plain typed head of leaf and index blocks.
type treeHead struct {
	head core.BlockHead
	t    core.BlockType
}

func newTreeHead(t core.BlockType) func() layout.Head {
	return func() layout.Head { return &treeHead{head: core.NewBlockHead(t), t: t} }
}

func (h *treeHead) Reset(linked uint32) {
	h.head = core.NewBlockHead(h.t)
	h.head.Fill()
	h.head.Age = 0
	h.head.Timestamp = 0
	h.head.LinkedBlock = linked
}

func (h *treeHead) Valid() bool           { return h.head.Valid() }
func (h *treeHead) Size() uint32          { return core.BlockHeadSize }
func (h *treeHead) EncodeTo(buf []byte)   { h.head.EncodeTo(buf) }
func (h *treeHead) DecodeFrom(buf []byte) { h.head = core.DecodeBlockHead(buf) }

// treeTail is the plain forward link of leaf and index blocks.
type treeTail struct {
	tail core.BlockTail
}

func newTreeTail() layout.Tail {
	return &treeTail{tail: core.BlockTail{LinkedBlock: core.InvalidBlock}}
}

func (t *treeTail) Reset(linked uint32)   { t.tail.LinkedBlock = linked }
func (t *treeTail) Linked() uint32        { return t.tail.LinkedBlock }
func (t *treeTail) Size() uint32          { return core.BlockTailSize }
func (t *treeTail) EncodeTo(buf []byte)   { t.tail.EncodeTo(buf) }
func (t *treeTail) DecodeFrom(buf []byte) { t.tail = core.DecodeBlockTail(buf) }

// StorageState is the pair of append cursors persisted for a device-backed
// node store.
type StorageState struct {
	Index core.BlockAddress
	Leaf  core.BlockAddress
}

// StorageNodeStorage appends serialized nodes through the block layout
// engine, leaves into leaf-typed chains and inner nodes into index-typed
// chains. Every serialize appends; nothing is overwritten, which is what
// keeps previous roots readable.
type StorageNodeStorage struct {
	storage   core.Storage
	allocator core.BlockAllocator
	index     core.BlockAddress
	leaf      core.BlockAddress
}

// NewStorageNodeStorage builds a node store with invalid cursors; the first
// serialize of each kind allocates its chain.
func NewStorageNodeStorage(storage core.Storage, allocator core.BlockAllocator) *StorageNodeStorage {
	return &StorageNodeStorage{
		storage:   storage,
		allocator: allocator,
		index:     core.InvalidAddress(),
		leaf:      core.InvalidAddress(),
	}
}

// State returns the append cursors for the superblock payload.
func (s *StorageNodeStorage) State() StorageState {
	return StorageState{Index: s.index, Leaf: s.leaf}
}

// SetState restores the append cursors.
func (s *StorageNodeStorage) SetState(state StorageState) {
	s.index = state.Index
	s.leaf = state.Leaf
}

// Recreate drops both chains; the next serialize starts fresh.
func (s *StorageNodeStorage) Recreate() {
	s.index = core.InvalidAddress()
	s.leaf = core.InvalidAddress()
}

// Deserialize reads the node at addr.
func (s *StorageNodeStorage) Deserialize(addr core.BlockAddress, node *Node, head *TreeHead) error {
	required := NodeSize
	if head != nil {
		required = HeadNodeSize
	}

	buf := utils.GetBuffer(required)
	defer utils.ReleaseBuffer(buf)

	if err := s.storage.Read(addr, buf); err != nil {
		return utils.StorageError("node read", err)
	}

	if !deserializeNode(buf, node, head) {
		return utils.CorruptError("node deserialize")
	}

	return nil
}

// Serialize appends the node to its chain and returns where it landed.
func (s *StorageNodeStorage) Serialize(addr core.BlockAddress, node *Node, head *TreeHead) (core.BlockAddress, error) {
	location := &s.leaf
	blockType := core.BlockTypeLeaf
	if node.Depth != 0 {
		location = &s.index
		blockType = core.BlockTypeIndex
	}

	// All slots are head-sized so heads and plain nodes can share chains.
	required := HeadNodeSize

	l := layout.New(s.storage, s.allocator, *location, blockType,
		newTreeHead(blockType), newTreeTail)

	address, err := l.Reserve(uint32(required))
	if err != nil {
		return core.InvalidAddress(), err
	}

	*location = l.Address()

	buf := utils.GetBuffer(required)
	defer utils.ReleaseBuffer(buf)
	serializeNode(buf, node, head)

	if err := s.storage.Write(address, buf); err != nil {
		return core.InvalidAddress(), utils.StorageError("node write", err)
	}

	return address, nil
}

// FindHead scans a block for the newest serialized tree root, for recovery
// when only the block is known.
func (s *StorageNodeStorage) FindHead(block uint32) (core.BlockAddress, error) {
	g := s.storage.Geometry()
	location := core.BlockAddress{Block: block, Position: core.SectorSize}
	found := core.InvalidAddress()

	var node Node
	var head TreeHead

	for location.RemainingInBlock(g) >= uint32(HeadNodeSize)+core.BlockTailSize {
		if !location.FindRoom(g, uint32(HeadNodeSize)) {
			break
		}

		if err := s.Deserialize(location, &node, &head); err != nil {
			break
		}

		found = location
		location.Add(uint32(HeadNodeSize))
	}

	return found, nil
}

// InMemoryNodeStorage keeps serialized nodes in a fixed-size arena, for tests
// and for hosts with memory to spare. Serialize fails out-of-space once the
// arena is full.
type InMemoryNodeStorage struct {
	arena    []byte
	position uint32
}

// NewInMemoryNodeStorage builds an arena-backed node store.
func NewInMemoryNodeStorage(size int) *InMemoryNodeStorage {
	return &InMemoryNodeStorage{arena: make([]byte, size)}
}

// Deserialize reads the node at addr.
func (s *InMemoryNodeStorage) Deserialize(addr core.BlockAddress, node *Node, head *TreeHead) error {
	if !deserializeNode(s.arena[addr.Position:], node, head) {
		return utils.CorruptError("in-memory node deserialize")
	}
	return nil
}

// Serialize appends the node to the arena.
func (s *InMemoryNodeStorage) Serialize(addr core.BlockAddress, node *Node, head *TreeHead) (core.BlockAddress, error) {
	size := uint32(HeadNodeSize)

	if int(s.position+size) > len(s.arena) {
		return core.InvalidAddress(), utils.WrapError("in-memory node arena full", utils.ErrOutOfSpace, nil)
	}

	addr = core.BlockAddress{Block: 0, Position: s.position}
	s.position += size

	serializeNode(s.arena[addr.Position:addr.Position+size], node, head)
	return addr, nil
}

package core

// AllocatedBlock describes a block handed out by an allocator. Erased tells
// the caller whether the block still needs erasing before its head is
// written.
type AllocatedBlock struct {
	Block  uint32
	Age    uint32
	Erased bool
}

// AllocatorState is the allocator snapshot persisted in the superblock.
type AllocatorState struct {
	Head uint32
}

// BlockAllocator hands out blocks for chain continuation and takes freed
// blocks back.
type BlockAllocator interface {
	Allocate(t BlockType) (AllocatedBlock, error)
	Free(block, age uint32) error
}

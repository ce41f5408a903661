// Package alloc provides the block allocators: a trivial sequential cursor
// used at format time, a FIFO queue allocator for tests, and the flash-aware
// reusable allocator that levels wear by preferring the least-aged free
// block.
package alloc

import (
	"github.com/scigolib/phylum/internal/core"
	"github.com/scigolib/phylum/internal/utils"
)

// SequentialAllocator hands out blocks in linear order from a cursor. It
// never reuses anything; format and tests are its only callers.
type SequentialAllocator struct {
	geometry core.Geometry
	block    uint32
}

// NewSequentialAllocator starts the cursor at block 3, past the file table
// and the anchor blocks.
func NewSequentialAllocator(geometry core.Geometry) *SequentialAllocator {
	return &SequentialAllocator{geometry: geometry, block: 3}
}

// State returns the persistable cursor.
func (a *SequentialAllocator) State() core.AllocatorState {
	return core.AllocatorState{Head: a.block}
}

// SetState restores the cursor.
func (a *SequentialAllocator) SetState(state core.AllocatorState) {
	a.block = state.Head
}

// Allocate returns the next block.
func (a *SequentialAllocator) Allocate(core.BlockType) (core.AllocatedBlock, error) {
	if a.block >= a.geometry.NumberOfBlocks {
		return core.AllocatedBlock{}, utils.WrapError("sequential allocate", utils.ErrOutOfSpace, nil)
	}

	block := a.block
	a.block++
	return core.AllocatedBlock{Block: block}, nil
}

// Free is a no-op; the sequential allocator never reuses blocks.
func (a *SequentialAllocator) Free(block, age uint32) error {
	return nil
}

// NoAllocator refuses every allocation. Chains that must stay within one
// block, like the file table, use it.
type NoAllocator struct{}

// Allocate always fails with out-of-space.
func (NoAllocator) Allocate(core.BlockType) (core.AllocatedBlock, error) {
	return core.AllocatedBlock{}, utils.WrapError("no allocator", utils.ErrOutOfSpace, nil)
}

// Free is a no-op.
func (NoAllocator) Free(block, age uint32) error {
	return nil
}

package alloc

import (
	"github.com/scigolib/phylum/internal/core"
	"github.com/scigolib/phylum/internal/utils"
)

// QueueAllocator hands out blocks FIFO from an in-memory free list, seeding
// it with every block past the reserved ones on first use. Tests use it to
// exercise reuse ordering without a device scan.
type QueueAllocator struct {
	geometry    core.Geometry
	free        []uint32
	initialized bool
}

// NewQueueAllocator builds an empty queue allocator.
func NewQueueAllocator(geometry core.Geometry) *QueueAllocator {
	return &QueueAllocator{geometry: geometry}
}

// Allocate pops the oldest freed block.
func (a *QueueAllocator) Allocate(core.BlockType) (core.AllocatedBlock, error) {
	if !a.initialized {
		for block := uint32(3); block < a.geometry.NumberOfBlocks; block++ {
			_ = a.Free(block, 0)
		}
		a.initialized = true
	}

	if len(a.free) == 0 {
		return core.AllocatedBlock{}, utils.WrapError("queue allocate", utils.ErrOutOfSpace, nil)
	}

	block := a.free[0]
	a.free = a.free[1:]
	return core.AllocatedBlock{Block: block}, nil
}

// Free pushes the block to the back of the queue.
func (a *QueueAllocator) Free(block, age uint32) error {
	a.free = append(a.free, block)
	return nil
}

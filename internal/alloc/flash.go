package alloc

import (
	"github.com/sirupsen/logrus"

	"github.com/scigolib/phylum/internal/core"
	"github.com/scigolib/phylum/internal/utils"
)

// ReusableAllocator is the flash-aware allocator. It keeps a one-bit-per-
// block map of taken blocks, reconstructed by scanning block heads, and
// always prefers the least-aged free block so wear spreads across the
// device.
type ReusableAllocator struct {
	storage core.Storage
	bitmap  []byte
	log     logrus.FieldLogger
}

type scanInfo struct {
	block uint32
	age   uint32
}

// NewReusableAllocator builds an allocator over storage. The logger may not
// be nil; pass a discard logger to silence it.
func NewReusableAllocator(storage core.Storage, log logrus.FieldLogger) *ReusableAllocator {
	blocks := storage.Geometry().NumberOfBlocks
	return &ReusableAllocator{
		storage: storage,
		bitmap:  make([]byte, (blocks+7)/8),
		log:     log,
	}
}

func (a *ReusableAllocator) isFree(block uint32) bool {
	return a.bitmap[block/8]&(1<<(block%8)) == 0
}

func (a *ReusableAllocator) setFree(block uint32) {
	a.bitmap[block/8] &^= 1 << (block % 8)
}

func (a *ReusableAllocator) setTaken(block uint32) {
	a.bitmap[block/8] |= 1 << (block % 8)
}

// Initialize rebuilds the free map by scanning every block head.
func (a *ReusableAllocator) Initialize() error {
	_, err := a.scan(false)
	return err
}

// Allocate picks the least-aged free block and marks it taken.
func (a *ReusableAllocator) Allocate(t core.BlockType) (core.AllocatedBlock, error) {
	info, err := a.scan(true)
	if err != nil {
		return core.AllocatedBlock{}, err
	}

	if info.block == core.InvalidBlock {
		a.log.WithField("type", t).Warn("allocate failed, no free blocks")
		return core.AllocatedBlock{}, utils.WrapError("flash allocate", utils.ErrOutOfSpace, nil)
	}

	a.log.WithFields(logrus.Fields{"type": t, "block": info.block, "age": info.age}).
		Debug("allocate")

	a.setTaken(info.block)

	return core.AllocatedBlock{Block: info.block, Age: info.age}, nil
}

// isTaken reads a block's head and reports whether it holds live data. The
// head is returned either way so callers can inspect the age of free blocks.
func (a *ReusableAllocator) isTaken(block uint32) (bool, core.BlockHead, error) {
	buf := utils.GetBuffer(core.BlockHeadSize)
	defer utils.ReleaseBuffer(buf)

	if err := a.storage.Read(core.BlockAddress{Block: block, Position: 0}, buf); err != nil {
		return false, core.BlockHead{}, utils.StorageError("allocator read head", err)
	}

	head := core.DecodeBlockHead(buf)
	taken := head.Valid() && head.Type != core.BlockTypeUnallocated

	return taken, head, nil
}

// IsTaken reads a block's head and reports whether it holds live data.
func (a *ReusableAllocator) IsTaken(block uint32) (bool, error) {
	taken, _, err := a.isTaken(block)
	return taken, err
}

func (a *ReusableAllocator) scan(freeOnly bool) (scanInfo, error) {
	info := scanInfo{block: core.InvalidBlock, age: core.InvalidAge}

	for block := uint32(3); block < a.storage.Geometry().NumberOfBlocks; block++ {
		if freeOnly && !a.isFree(block) {
			continue
		}

		taken, head, err := a.isTaken(block)
		if err != nil {
			return info, err
		}

		if taken {
			a.setTaken(block)
			continue
		}

		a.setFree(block)

		if head.Valid() {
			// A freed block carries its age in the Unallocated head.
			if info.age == core.InvalidAge || head.Age < info.age {
				info = scanInfo{block: block, age: head.Age}
			}
		} else if info.block == core.InvalidBlock {
			info = scanInfo{block: block, age: core.InvalidAge}
		}
	}

	// The file table and the anchors are never up for allocation.
	a.setTaken(0)
	a.setTaken(1)
	a.setTaken(2)

	return info, nil
}

// Free erases the block and rewrites its head as Unallocated with the age
// bumped, so future scans prefer younger blocks over it.
func (a *ReusableAllocator) Free(block, age uint32) error {
	_, head, err := a.isTaken(block)
	if err != nil {
		return err
	}

	if head.Valid() && head.Age != core.InvalidAge {
		age = head.Age + 1
	}

	if err := a.storage.Erase(block); err != nil {
		return utils.StorageError("allocator erase", err)
	}

	fresh := core.NewBlockHead(core.BlockTypeUnallocated)
	fresh.Fill()
	fresh.Age = age
	fresh.Timestamp = 0

	buf := utils.GetBuffer(core.BlockHeadSize)
	defer utils.ReleaseBuffer(buf)
	fresh.EncodeTo(buf)

	if err := a.storage.Write(core.BlockAddress{Block: block, Position: 0}, buf); err != nil {
		return utils.StorageError("allocator write freed head", err)
	}

	a.setFree(block)

	a.log.WithFields(logrus.Fields{"block": block, "age": age}).Debug("free")

	return nil
}

// FreeAll rewrites every block as freed, a factory-reset for tests.
func (a *ReusableAllocator) FreeAll() error {
	for block := uint32(0); block < a.storage.Geometry().NumberOfBlocks; block++ {
		if err := a.Free(block, 0); err != nil {
			return err
		}
	}
	return nil
}

// NumberOfFreeBlocks counts free bits in the map.
func (a *ReusableAllocator) NumberOfFreeBlocks() uint32 {
	n := uint32(0)
	for block := uint32(0); block < a.storage.Geometry().NumberOfBlocks; block++ {
		if a.isFree(block) {
			n++
		}
	}
	return n
}

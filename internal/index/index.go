package index

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/scigolib/phylum/internal/core"
	"github.com/scigolib/phylum/internal/layout"
	"github.com/scigolib/phylum/internal/utils"
)

// ExtentAllocator hands out blocks sequentially inside one extent, wrapping
// back to its start. Index chains use it so their blocks never leave the
// index extent.
type ExtentAllocator struct {
	extent core.Extent
	block  uint32
}

// NewExtentAllocator starts allocation at the given block.
func NewExtentAllocator(extent core.Extent, block uint32) *ExtentAllocator {
	return &ExtentAllocator{extent: extent, block: block}
}

// Allocate returns the next block in the extent.
func (a *ExtentAllocator) Allocate(core.BlockType) (core.AllocatedBlock, error) {
	b := a.block
	a.block++
	if !a.extent.Contains(b) {
		b = a.extent.Start
		a.block = b + 1
	}
	return core.AllocatedBlock{Block: b}, nil
}

// Free is a no-op; extents reclaim by reformatting.
func (a *ExtentAllocator) Free(block, age uint32) error {
	return nil
}

// sortedBlocks treats the index extent as an ordered array of blocks keyed
// by each block head's position, supporting format and binary search.
type sortedBlocks struct {
	storage core.Storage
	extent  core.Extent
}

// format erases the probe chain of the extent and writes the first block's
// head, so searches before any append land at the beginning.
func (s *sortedBlocks) format() error {
	region := s.extent

	// Erase the blocks a binary search can probe so stale heads from an
	// earlier life cannot mislead it.
	for !region.Empty() {
		if err := s.storage.Erase(region.MiddleBlock()); err != nil {
			return utils.StorageError("index format erase", err)
		}
		region = region.FirstHalf()
	}

	return s.writeHead(region.Start)
}

// seek binary-searches for the last block whose head position is at or
// before the query.
func (s *sortedBlocks) seek(position uint64) (uint32, error) {
	region := s.extent
	validBlock := core.InvalidBlock

	for !region.Empty() {
		block := region.MiddleBlock()

		head := NewBlockHead()
		if err := s.readHead(block, head); err != nil {
			return core.InvalidBlock, err
		}

		if !head.Valid() {
			// The file is too short to have filled the index this far.
			region = region.FirstHalf()
			continue
		}

		validBlock = block

		if head.Position == position {
			return block, nil
		}

		if head.Position > position {
			region = region.FirstHalf()
		} else {
			region = region.SecondHalf()
		}
	}

	return validBlock, nil
}

func (s *sortedBlocks) readHead(block uint32, head *BlockHead) error {
	buf := utils.GetBuffer(BlockHeadSize)
	defer utils.ReleaseBuffer(buf)

	if err := s.storage.Read(core.BlockAddress{Block: block, Position: 0}, buf); err != nil {
		return utils.StorageError("index head read", err)
	}

	head.DecodeFrom(buf)
	return nil
}

func (s *sortedBlocks) writeHead(block uint32) error {
	head := NewBlockHead()
	head.Reset(core.InvalidBlock)
	head.Position = 0

	if err := s.storage.Erase(block); err != nil {
		return utils.StorageError("index head erase", err)
	}

	buf := utils.GetBuffer(BlockHeadSize)
	defer utils.ReleaseBuffer(buf)
	head.EncodeTo(buf)

	if err := s.storage.Write(core.BlockAddress{Block: block, Position: 0}, buf); err != nil {
		return utils.StorageError("index head write", err)
	}
	return nil
}

// ReindexInfo reports the outcome of a rolling-file reindex.
type ReindexInfo struct {
	Length    uint64
	Truncated uint64
}

// FileIndex is one file's sparse index.
type FileIndex struct {
	storage core.Storage
	file    *core.FileAllocation
	head    core.BlockAddress
	log     logrus.FieldLogger
}

// NewFileIndex builds the index over the file's index extent.
func NewFileIndex(storage core.Storage, file *core.FileAllocation, log logrus.FieldLogger) FileIndex {
	return FileIndex{
		storage: storage,
		file:    file,
		head:    core.InvalidAddress(),
		log:     log,
	}
}

// Head returns the current append position.
func (i *FileIndex) Head() core.BlockAddress {
	return i.head
}

func (i *FileIndex) caching() core.Storage {
	return core.NewSectorCachingStorage(i.storage)
}

func (i *FileIndex) readLayout(storage core.Storage, address core.BlockAddress) *layout.Layout {
	return layout.New(storage, alloc0{}, address, core.BlockTypeIndex,
		func() layout.Head { return NewBlockHead() },
		func() layout.Tail { return NewBlockTail() })
}

// alloc0 refuses allocation; reads and bounded appends never allocate
// device-wide.
type alloc0 struct{}

func (alloc0) Allocate(core.BlockType) (core.AllocatedBlock, error) {
	return core.AllocatedBlock{}, utils.WrapError("index allocate", utils.ErrOutOfSpace, nil)
}

func (alloc0) Free(block, age uint32) error { return nil }

// Format wipes the index for a fresh file version.
func (i *FileIndex) Format() error {
	caching := i.caching()

	sorted := sortedBlocks{storage: caching, extent: i.file.Index}
	if err := sorted.format(); err != nil {
		return err
	}

	i.head = i.file.Index.Beginning()

	i.log.WithField("head", i.head).Debug("index formatted")

	return nil
}

// Initialize finds the append position after a mount: the last written
// record of the last written index block.
func (i *FileIndex) Initialize() error {
	caching := i.caching()

	sorted := sortedBlocks{storage: caching, extent: i.file.Index}
	endBlock, err := sorted.seek(math.MaxUint64)
	if err != nil {
		return err
	}

	if endBlock == core.InvalidBlock {
		// Never formatted; leave the head at the extent start.
		i.head = i.file.Index.Beginning()
		return nil
	}

	reading := i.readLayout(caching, core.BlockAddress{Block: endBlock, Position: 0})
	var record Record
	for reading.Walk(&record) {
	}
	i.head = reading.Address()

	i.log.WithField("head", i.head).Debug("index initialized")

	return nil
}

// Seek returns the greatest record at or before position. A zero-valued
// record (Valid() false) means nothing indexed that early.
func (i *FileIndex) Seek(position uint64) (Record, error) {
	var selected Record

	if !i.head.Valid() {
		return selected, utils.WrapError("index seek before initialize", utils.ErrInvariant, nil)
	}

	caching := i.caching()

	sorted := sortedBlocks{storage: caching, extent: i.file.Index}
	endBlock, err := sorted.seek(position)
	if err != nil {
		return selected, err
	}

	if endBlock == core.InvalidBlock {
		return selected, nil
	}

	reading := i.readLayout(caching, core.BlockAddress{Block: endBlock, Position: 0})
	var record Record
	for reading.Walk(&record) {
		if record.Position == position {
			selected = record
			break
		}
		if record.Position > position {
			break
		}
		selected = record
	}

	i.log.WithFields(logrus.Fields{"position": position, "selected": selected}).
		Debug("index seek")

	return selected, nil
}

// First returns the index's oldest record, invalid when nothing was ever
// appended. Rolling reindexes use it to account for dropped bytes.
func (i *FileIndex) First() (Record, error) {
	caching := i.caching()

	reading := i.readLayout(caching, core.BlockAddress{Block: i.file.Index.Start, Position: 0})

	var record Record
	reading.Walk(&record)
	return record, nil
}

// Append records that the byte at position begins at address. When the
// record opens a new index block, the block's head is keyed by position.
func (i *FileIndex) Append(position uint64, address core.BlockAddress) error {
	if !i.head.Valid() {
		return utils.WrapError("index append before initialize", utils.ErrInvariant, nil)
	}

	caching := i.caching()
	allocator := NewExtentAllocator(i.file.Index, i.head.Block+1)

	appending := layout.New(caching, allocator, i.head, core.BlockTypeIndex,
		func() layout.Head { return NewBlockHead() },
		func() layout.Tail { return NewBlockTail() })

	record := Record{Position: position, Address: address}

	head := NewBlockHead()
	head.Position = position

	if err := appending.AppendWithHead(&record, head); err != nil {
		return err
	}

	i.head = appending.Address()

	i.log.WithFields(logrus.Fields{"position": position, "address": address}).
		Debug("index append")

	return nil
}

// Reindex restarts the index for a rolling file's next cycle: the old
// records are dropped and a single record maps the current length onto the
// data extent's first data sector.
func (i *FileIndex) Reindex(length uint64, beginning core.BlockAddress) (ReindexInfo, error) {
	base := uint64(0)
	if first, err := i.First(); err == nil && first.Valid() {
		base = first.Position
	}

	if err := i.Format(); err != nil {
		return ReindexInfo{}, err
	}

	if err := i.Append(length, beginning); err != nil {
		return ReindexInfo{}, err
	}

	i.log.WithFields(logrus.Fields{"length": length, "base": base}).Debug("index reindexed")

	return ReindexInfo{Length: length, Truncated: length - base}, nil
}

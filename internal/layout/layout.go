// Package layout appends equally-typed records through sector-chained,
// block-chained extents. It owns the head/tail discipline: every block opens
// with a typed head, a block with a continuation reserves its final bytes for
// a tail holding the forward link, and entries never straddle a sector
// boundary.
package layout

import (
	"github.com/scigolib/phylum/internal/core"
	"github.com/scigolib/phylum/internal/utils"
)

// Record is anything with a fixed on-device encoding.
type Record interface {
	Size() uint32
	EncodeTo(buf []byte)
	DecodeFrom(buf []byte)
}

// Entry is a record that can tell written state from erased flash.
type Entry interface {
	Record
	Valid() bool
}

// Head is the typed record at offset zero of a chain's blocks.
type Head interface {
	Record
	Reset(linked uint32)
	Valid() bool
}

// Tail is the trailer at the end of a chained block.
type Tail interface {
	Record
	Reset(linked uint32)
	Linked() uint32
}

// Layout is a cursor over one chain. An invalid address means "no block
// yet"; the first append allocates.
type Layout struct {
	storage   core.Storage
	allocator core.BlockAllocator
	geometry  core.Geometry
	address   core.BlockAddress
	blockType core.BlockType
	newHead   func() Head
	newTail   func() Tail
}

// New builds a layout cursor at the given address.
func New(storage core.Storage, allocator core.BlockAllocator, address core.BlockAddress,
	blockType core.BlockType, newHead func() Head, newTail func() Tail) *Layout {
	return &Layout{
		storage:   storage,
		allocator: allocator,
		geometry:  storage.Geometry(),
		address:   address,
		blockType: blockType,
		newHead:   newHead,
		newTail:   newTail,
	}
}

// Address returns the current append position.
func (l *Layout) Address() core.BlockAddress {
	return l.address
}

// SetAddress repositions the cursor.
func (l *Layout) SetAddress(address core.BlockAddress) {
	l.address = address
}

// Append writes the entry at the next available position, initializing and
// linking a new block when the current one cannot hold it.
func (l *Layout) Append(entry Entry) error {
	return l.append(entry, nil)
}

// AppendWithHead writes the entry like Append, stamping head as the typed
// head of any freshly started block. The file index uses this to key index
// blocks by position.
func (l *Layout) AppendWithHead(entry Entry, head Head) error {
	return l.append(entry, head)
}

func (l *Layout) append(entry Entry, head Head) error {
	address, err := l.findAvailable(entry.Size(), head)
	if err != nil {
		return err
	}

	buf := utils.GetBuffer(int(entry.Size()))
	defer utils.ReleaseBuffer(buf)
	entry.EncodeTo(buf)

	if err := l.storage.Write(address, buf); err != nil {
		return utils.StorageError("layout append", err)
	}

	return nil
}

// findAvailable returns the address for a write of the given size and
// advances the cursor past it.
func (l *Layout) findAvailable(required uint32, head Head) (core.BlockAddress, error) {
	tailSize := l.newTail().Size()

	if !l.address.Valid() || l.shouldWriteTail(required, tailSize) {
		previous := l.address

		allocated, err := l.allocator.Allocate(l.blockType)
		if err != nil {
			return core.InvalidAddress(), err
		}

		if err := l.writeHeadRecord(allocated.Block, previous.Block, head); err != nil {
			return core.InvalidAddress(), err
		}

		if previous.Valid() {
			if err := l.WriteTail(previous.Block, allocated.Block); err != nil {
				return core.InvalidAddress(), err
			}
		}

		l.address = core.BlockAddress{Block: allocated.Block, Position: core.SectorSize}
	}

	if l.address.BeginningOfBlock() {
		if err := l.writeHeadRecord(l.address.Block, core.InvalidBlock, head); err != nil {
			return core.InvalidAddress(), err
		}
		l.address.Add(core.SectorSize)
	}

	if !l.address.FindRoom(l.geometry, required) {
		return core.InvalidAddress(), utils.WrapError("layout find room", utils.ErrInvariant, nil)
	}

	opening := l.address
	l.address.Add(required)
	return opening, nil
}

// Reserve finds room for a raw write of the given size, advancing the
// cursor past it and initializing blocks as Append would. The caller writes
// the bytes itself.
func (l *Layout) Reserve(size uint32) (core.BlockAddress, error) {
	return l.findAvailable(size, nil)
}

// Walk decodes the entry at the cursor and advances past it, following block
// links. It returns false at the first erased or invalid slot.
func (l *Layout) Walk(entry Entry) bool {
	required := entry.Size()
	tailSize := l.newTail().Size()

	for {
		if l.address.RemainingInBlock(l.geometry) < required+tailSize {
			// End of this block; follow the forward link if one was
			// written.
			tail, err := l.readTail(l.address.Block)
			if err != nil || !core.IsValidBlock(tail.Linked()) {
				return false
			}
			l.address = core.BlockAddress{Block: tail.Linked(), Position: 0}
			continue
		}

		if l.address.BeginningOfBlock() {
			head := l.newHead()
			if err := l.readRecord(l.address, head); err != nil {
				return false
			}
			if !head.Valid() {
				return false
			}
			l.address.Add(core.SectorSize)
			continue
		}

		if !l.address.FindRoom(l.geometry, required) {
			return false
		}

		if err := l.readRecord(l.address, entry); err != nil {
			return false
		}
		if !entry.Valid() {
			return false
		}

		l.address.Add(required)
		return true
	}
}

// FindEnd positions the cursor at the first unwritten slot of the chain
// starting at block, scanning entry-by-entry with entry as scratch.
func (l *Layout) FindEnd(block uint32, entry Entry) error {
	required := entry.Size()
	tailSize := l.newTail().Size()
	location := core.BlockAddress{Block: block, Position: 0}

	for {
		if location.RemainingInBlock(l.geometry) < required+tailSize {
			tail, err := l.readTail(location.Block)
			if err != nil {
				return err
			}
			if !core.IsValidBlock(tail.Linked()) {
				l.address = location
				return nil
			}
			location = core.BlockAddress{Block: tail.Linked(), Position: 0}
			continue
		}

		if location.BeginningOfBlock() {
			head := l.newHead()
			if err := l.readRecord(location, head); err != nil {
				return err
			}
			if !head.Valid() {
				// Never begun; appends start right here.
				l.address = location
				return nil
			}
			location.Add(core.SectorSize)
			continue
		}

		if !location.FindRoom(l.geometry, required) {
			l.address = location
			return nil
		}

		if err := l.readRecord(location, entry); err != nil {
			return err
		}
		if !entry.Valid() {
			l.address = location
			return nil
		}

		location.Add(required)
	}
}

// WriteHead erases the block and stamps a typed head with the given reverse
// link, leaving the cursor at the block's second sector.
func (l *Layout) WriteHead(block, linked uint32) error {
	if err := l.writeHeadRecord(block, linked, nil); err != nil {
		return err
	}
	l.address = core.BlockAddress{Block: block, Position: core.SectorSize}
	return nil
}

func (l *Layout) writeHeadRecord(block, linked uint32, head Head) error {
	if head == nil {
		head = l.newHead()
	}
	head.Reset(linked)

	if err := l.storage.Erase(block); err != nil {
		return utils.StorageError("layout erase", err)
	}

	buf := utils.GetBuffer(int(head.Size()))
	defer utils.ReleaseBuffer(buf)
	head.EncodeTo(buf)

	if err := l.storage.Write(core.BlockAddress{Block: block, Position: 0}, buf); err != nil {
		return utils.StorageError("layout write head", err)
	}

	return nil
}

// WriteTail stamps the forward link at the block's tail-data position.
func (l *Layout) WriteTail(block, linked uint32) error {
	tail := l.newTail()
	tail.Reset(linked)

	buf := utils.GetBuffer(int(tail.Size()))
	defer utils.ReleaseBuffer(buf)
	tail.EncodeTo(buf)

	address := core.TailDataOf(block, l.geometry, tail.Size())
	if err := l.storage.Write(address, buf); err != nil {
		return utils.StorageError("layout write tail", err)
	}

	return nil
}

func (l *Layout) readTail(block uint32) (Tail, error) {
	tail := l.newTail()
	address := core.TailDataOf(block, l.geometry, tail.Size())
	if err := l.readRecord(address, tail); err != nil {
		return nil, err
	}
	return tail, nil
}

func (l *Layout) readRecord(address core.BlockAddress, record Record) error {
	buf := utils.GetBuffer(int(record.Size()))
	defer utils.ReleaseBuffer(buf)

	if err := l.storage.Read(address, buf); err != nil {
		return utils.StorageError("layout read", err)
	}

	record.DecodeFrom(buf)
	return nil
}

func (l *Layout) shouldWriteTail(required, tailSize uint32) bool {
	return l.address.RemainingInBlock(l.geometry) < required+tailSize
}

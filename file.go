package phylum

import (
	"io"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/scigolib/phylum/internal/core"
	"github.com/scigolib/phylum/internal/index"
	"github.com/scigolib/phylum/internal/utils"
)

// IndexFrequency is how many file blocks pass between sparse index records.
const IndexFrequency = 8

// SeekEnd is the canonical seek-to-end position; seeking to it measures the
// file and updates its length.
const SeekEnd = math.MaxUint64

// SimpleFile is an open file: a sector buffer over a log-structured block
// chain inside the file's preallocated data extent. Writers append only;
// readers follow sector and block tails. A file object is owned by one
// caller at a time.
type SimpleFile struct {
	storage core.Storage
	fd      FileDescriptor
	file    *core.FileAllocation
	id      uint32
	log     logrus.FieldLogger

	buffer          [SectorSize]byte
	buffavailable   uint16
	buffpos         uint16
	seekOffset      uint32
	bytesInBlock    uint32
	position        uint64
	length          uint64
	version         uint32
	blocksSinceSave int8
	truncated       uint64
	readonly        bool
	head            core.BlockAddress
	index           index.FileIndex
}

func newSimpleFile(storage core.Storage, fd FileDescriptor, file *core.FileAllocation,
	id uint32, mode OpenMode, log logrus.FieldLogger) *SimpleFile {
	return &SimpleFile{
		storage:  storage,
		fd:       fd,
		file:     file,
		id:       id,
		log:      log,
		readonly: mode == OpenRead,
		head:     core.InvalidAddress(),
		index:    index.NewFileIndex(storage, file, log),
	}
}

// ID returns the file's stable identifier.
func (f *SimpleFile) ID() uint32 {
	return f.id
}

// ReadOnly reports whether the file was opened for reading.
func (f *SimpleFile) ReadOnly() bool {
	return f.readonly
}

// Size returns the file's byte length.
func (f *SimpleFile) Size() uint64 {
	return f.length
}

// Tell returns the cursor's byte position.
func (f *SimpleFile) Tell() uint64 {
	return f.position
}

// Version returns the file's format generation, bumped by each erase.
func (f *SimpleFile) Version() uint32 {
	return f.version
}

// Truncated returns the running count of bytes a rolling file has dropped.
func (f *SimpleFile) Truncated() uint64 {
	return f.truncated
}

// Head returns the address of the next byte to write.
func (f *SimpleFile) Head() core.BlockAddress {
	return f.head
}

// Allocation returns the file's extents.
func (f *SimpleFile) Allocation() FileAllocation {
	return *f.file
}

// MaximumSize returns the usable capacity of the data extent.
func (f *SimpleFile) MaximumSize() uint64 {
	return uint64(f.file.Data.NBlocks) * effectiveFileBlockSize(f.geometry())
}

// InFinalBlock reports whether the write head sits in the extent's last
// block.
func (f *SimpleFile) InFinalBlock() bool {
	return f.head.Block+1 == f.file.Data.Start+f.file.Data.NBlocks
}

func (f *SimpleFile) geometry() Geometry {
	return f.storage.Geometry()
}

func (f *SimpleFile) tailSector() bool {
	return f.head.TailSector(f.geometry())
}

// Initialize prepares the file after open: find the index, measure the
// file, and for readers rewind to the beginning.
func (f *SimpleFile) Initialize() error {
	f.length = 0
	f.position = 0
	f.buffpos = 0
	f.buffavailable = 0
	f.seekOffset = 0
	f.bytesInBlock = 0
	f.blocksSinceSave = 0

	if err := f.index.Initialize(); err != nil {
		return err
	}

	if err := f.Seek(SeekEnd); err != nil {
		return err
	}

	if f.readonly {
		return f.Seek(0)
	}

	return nil
}

// seekInfo reports where a forward walk ended.
type seekInfo struct {
	address      core.BlockAddress
	version      uint32
	bytes        uint64
	bytesInBlock uint32
	blocks       int32
}

// Seek positions the cursor at the given byte. The sparse index supplies the
// nearest earlier landmark; the rest is walked block-by-block, then
// sector-by-sector.
func (f *SimpleFile) Seek(desired uint64) error {
	f.buffpos = 0
	f.buffavailable = 0

	end, err := f.index.Seek(desired)
	if err != nil {
		return err
	}

	if end.Valid() {
		f.head = end.Address
		f.position = end.Position
	} else {
		// Nothing indexed this early; the file is effectively empty from
		// here.
		f.head = f.file.Data.Beginning()
		f.length = 0
		f.position = 0
		f.version = 1
		return nil
	}

	info, err := f.walk(f.head.Block, desired-end.Position, true)
	if err != nil {
		return err
	}

	f.seekOffset = info.address.SectorOffset(f.geometry())
	f.version = info.version
	f.head = info.address
	f.head.Position -= f.seekOffset

	f.blocksSinceSave = int8(info.blocks)
	f.bytesInBlock = info.bytesInBlock
	f.position += info.bytes
	if desired == SeekEnd {
		f.length = end.Position + info.bytes
	}

	f.log.WithFields(logrus.Fields{
		"length":   f.length,
		"position": f.position,
		"desired":  desired,
		"head":     f.head,
	}).Debug("seek")

	return nil
}

// walk follows the file chain from startingBlock until max bytes pass or
// the written data ends. Whole blocks are skipped through their block
// tails; the final block is walked sector-by-sector.
func (f *SimpleFile) walk(startingBlock uint32, max uint64, verifyHeadBlock bool) (seekInfo, error) {
	info := seekInfo{version: 1}
	g := f.geometry()

	// Sanity-check that the block we were given has actually been begun;
	// the very first block of a fresh file will not have been.
	if verifyHeadBlock {
		buf := utils.GetBuffer(FileBlockHeadSize)
		if err := f.storage.Read(core.BlockAddress{Block: startingBlock, Position: 0}, buf); err != nil {
			utils.ReleaseBuffer(buf)
			return info, utils.StorageError("file head read", err)
		}
		head := DecodeFileBlockHead(buf)
		utils.ReleaseBuffer(buf)

		if !head.Valid() {
			info.address = core.BlockAddress{Block: startingBlock, Position: 0}
			return info, nil
		}

		info.version = head.Version
	}

	addr := core.TailSectorOf(startingBlock, g)
	scannedBlock := false

	for {
		if err := f.storage.Read(addr, f.buffer[:]); err != nil {
			return info, utils.StorageError("file sector read", err)
		}

		if addr.TailSector(g) {
			tail := DecodeFileBlockTail(f.buffer[SectorSize-FileBlockTailSize:])

			// Skip the whole block when the target lies beyond it.
			if core.IsValidBlock(tail.Block.LinkedBlock) && max > uint64(tail.BytesInBlock) {
				addr = core.TailSectorOf(tail.Block.LinkedBlock, g)
				info.bytes += uint64(tail.BytesInBlock)
				max -= uint64(tail.BytesInBlock)
				info.bytesInBlock = 0
				info.blocks++
			} else {
				if scannedBlock {
					break
				}
				scannedBlock = true
				info.bytesInBlock = 0
				addr = core.BlockAddress{Block: addr.Block, Position: SectorSize}
			}
		} else {
			tail := DecodeFileSectorTail(f.buffer[SectorSize-FileSectorTailSize:])

			if tail.Bytes == 0 || tail.Bytes == core.InvalidSector {
				break
			}

			if max >= uint64(tail.Bytes) {
				info.bytes += uint64(tail.Bytes)
				info.bytesInBlock += uint32(tail.Bytes)
				max -= uint64(tail.Bytes)
				addr.Add(SectorSize)
			} else {
				info.bytes += max
				info.bytesInBlock += uint32(max)
				addr.Add(uint32(max))
				break
			}
		}
	}

	info.address = addr
	return info, nil
}

// Read fills p from the cursor, loading sectors as the buffer drains.
// io.EOF reports the end of written data.
func (f *SimpleFile) Read(p []byte) (int, error) {
	if !f.readonly {
		return 0, utils.WrapError("read on write-only file", utils.ErrInvariant, nil)
	}

	// Out of buffered data?
	if f.buffavailable == f.buffpos {
		f.buffpos = 0
		f.buffavailable = 0

		g := f.geometry()

		// The head parks at the extent's end once everything is read.
		if f.file.Data.End(g) == f.head {
			return 0, io.EOF
		}

		if !f.head.Valid() {
			if err := f.Seek(0); err != nil {
				return 0, err
			}
		}

		// Skip the head sector, just in case.
		if f.head.BeginningOfBlock() {
			f.head.Add(SectorSize)
		}

		if err := f.storage.Read(f.head, f.buffer[:]); err != nil {
			return 0, utils.StorageError("file read", err)
		}

		// Decode this sector's tail to learn how much it holds and where
		// the next sector lives.
		if f.tailSector() {
			tail := DecodeFileBlockTail(f.buffer[SectorSize-FileBlockTailSize:])
			f.buffavailable = tail.Sector.Bytes
			if tail.Block.LinkedBlock != core.InvalidBlock {
				f.head = core.BlockAddress{Block: tail.Block.LinkedBlock, Position: SectorSize}
			} else {
				// This should be the last sector of the file.
				f.head = f.file.Data.End(g)
			}
		} else {
			tail := DecodeFileSectorTail(f.buffer[SectorSize-FileSectorTailSize:])
			f.buffavailable = tail.Bytes
			f.head.Add(SectorSize)
		}

		// An unwritten sector marks the end of the file.
		if f.buffavailable == 0 || f.buffavailable == core.InvalidSector {
			f.buffavailable = 0
			f.length = f.position
			return 0, io.EOF
		}

		// Seeks can land mid-sector.
		if f.seekOffset > 0 {
			f.buffpos = uint16(f.seekOffset)
			f.seekOffset = 0
		}
	}

	remaining := f.buffavailable - f.buffpos
	copying := int(remaining)
	if copying > len(p) {
		copying = len(p)
	}
	copy(p, f.buffer[f.buffpos:int(f.buffpos)+copying])

	f.buffpos += uint16(copying)
	f.position += uint64(copying)

	return copying, nil
}

// Write appends p, spanning sectors and blocks freely.
func (f *SimpleFile) Write(p []byte) (int, error) {
	return f.write(p, true, true)
}

// WriteAtomic appends p so that after a crash the bytes are either fully
// present in one sector or absent, never torn. len(p) must fit one sector
// alongside a block tail.
func (f *SimpleFile) WriteAtomic(p []byte) (int, error) {
	return f.write(p, false, true)
}

// WriteWithinBlock appends p, flushing first when the current block cannot
// hold all of it.
func (f *SimpleFile) WriteWithinBlock(p []byte) (int, error) {
	return f.write(p, true, false)
}

func (f *SimpleFile) write(p []byte, spanSectors, spanBlocks bool) (int, error) {
	if f.readonly {
		return 0, utils.WrapError("write on read-only file", utils.ErrInvariant, nil)
	}

	// Atomic writes must fit the smallest writable span, a tail sector's
	// data area.
	if !spanSectors && len(p) > SectorSize-FileBlockTailSize {
		return 0, utils.WrapError("atomic write too large", utils.ErrInvalidArgument, nil)
	}

	// An invalid head means the last flush ran out of space; re-measure in
	// case an erase or rollover has since made room.
	if !f.head.Valid() {
		if err := f.Seek(SeekEnd); err != nil {
			return 0, err
		}
		if !f.head.Valid() {
			return 0, nil
		}
	}

	if !spanBlocks && f.bytesInBlock > 0 {
		remainingInBlock := effectiveFileBlockSize(f.geometry()) - uint64(f.bytesInBlock)
		if remainingInBlock < uint64(len(p)) {
			if flushed, err := f.Flush(); err != nil || flushed == 0 {
				return 0, err
			}
			if !f.head.Valid() {
				return 0, nil
			}
		}
	}

	toWrite := len(p)
	wrote := 0

	for toWrite > 0 {
		overhead := FileSectorTailSize
		if f.tailSector() {
			overhead = FileBlockTailSize
		}

		remaining := SectorSize - overhead - int(f.buffpos)
		copying := toWrite
		if copying > remaining {
			copying = remaining
		}

		if !spanSectors && copying != len(p) {
			if flushed, err := f.Flush(); err != nil || flushed == 0 {
				return wrote, err
			}
			continue
		}

		if remaining == 0 {
			if flushed, err := f.Flush(); err != nil || flushed == 0 {
				return wrote, err
			}

			// At the end of an append-only file there is nowhere left to
			// write.
			if !f.head.Valid() {
				return wrote, nil
			}
		} else {
			copy(f.buffer[f.buffpos:], p[wrote:wrote+copying])
			f.buffpos += uint16(copying)
			wrote += copying
			f.length += uint64(copying)
			f.position += uint64(copying)
			f.bytesInBlock += uint32(copying)
			toWrite -= copying
		}
	}

	return wrote, nil
}

// Flush writes the buffered sector, stamping its tail. A tail sector links
// to the next block, allocating it (or rolling over) and recording a sparse
// index entry every IndexFrequency blocks.
func (f *SimpleFile) Flush() (int, error) {
	if f.readonly {
		return 0, nil
	}

	if f.buffpos == 0 || f.buffavailable > 0 {
		return 0, nil
	}

	linked := core.InvalidBlock
	writingTailSector := f.tailSector()
	addr := f.head

	if writingTailSector {
		// Check whether the next block falls off our allocated space.
		linked = f.head.Block + 1
		if !f.file.Data.Contains(linked) {
			switch f.fd.Strategy {
			case StrategyRolling:
				rolled, err := f.rollover()
				if err != nil {
					return 0, err
				}
				linked = rolled
			default:
				linked = core.InvalidBlock
			}
		}

		tail := NewFileBlockTail()
		tail.Sector.Bytes = f.buffpos
		tail.BytesInBlock = f.bytesInBlock
		tail.Block.LinkedBlock = linked
		tail.EncodeTo(f.buffer[SectorSize-FileBlockTailSize:])
	} else {
		tail := FileSectorTail{Bytes: f.buffpos}
		tail.EncodeTo(f.buffer[SectorSize-FileSectorTailSize:])
		f.head.Add(SectorSize)
	}

	// Full sectors only; the tail slot rules out partial writes here.
	if err := f.storage.Write(addr, f.buffer[:]); err != nil {
		return 0, utils.StorageError("file flush", err)
	}

	if writingTailSector {
		if core.IsValidBlock(linked) {
			head, err := f.initializeBlock(linked, f.head.Block)
			if err != nil {
				return 0, err
			}
			f.head = head

			// Every few blocks, drop a landmark into the sparse index so
			// later seeks start close.
			f.blocksSinceSave++
			if f.blocksSinceSave >= IndexFrequency {
				if err := f.saveIndex(); err != nil {
					return 0, err
				}
			}
		} else {
			f.head = core.InvalidAddress()
		}

		f.bytesInBlock = 0
	}

	flushed := int(f.buffpos)
	f.buffpos = 0
	return flushed, nil
}

func (f *SimpleFile) saveIndex() error {
	if err := f.index.Append(f.length, f.head); err != nil {
		return err
	}
	f.blocksSinceSave = 0
	return nil
}

// rollover restarts a rolling file at its extent's first block, reindexing
// so readers land on the surviving data.
func (f *SimpleFile) rollover() (uint32, error) {
	info, err := f.index.Reindex(f.length, core.BlockAddress{Block: f.file.Data.Start, Position: SectorSize})
	if err != nil {
		return core.InvalidBlock, err
	}

	f.blocksSinceSave = -1
	f.length = info.Length
	f.position = info.Length
	f.truncated += info.Truncated

	return f.file.Data.Start, nil
}

// initializeBlock erases a block and writes its file head with the reverse
// link, returning the first writable address.
func (f *SimpleFile) initializeBlock(block, previous uint32) (core.BlockAddress, error) {
	head := NewFileBlockHead()
	head.Fill()
	head.FileID = f.id
	head.Version = f.version
	head.Block.LinkedBlock = previous

	if err := f.storage.Erase(block); err != nil {
		return core.InvalidAddress(), utils.StorageError("file block erase", err)
	}

	buf := utils.GetBuffer(FileBlockHeadSize)
	defer utils.ReleaseBuffer(buf)
	head.EncodeTo(buf)

	if err := f.storage.Write(core.BlockAddress{Block: block, Position: 0}, buf); err != nil {
		return core.InvalidAddress(), utils.StorageError("file block head write", err)
	}

	return core.BlockAddress{Block: block, Position: SectorSize}, nil
}

// Format starts the file's next version: a fresh index and a fresh first
// block.
func (f *SimpleFile) Format() error {
	f.version++

	if err := f.index.Format(); err != nil {
		return err
	}

	head, err := f.initializeBlock(f.file.Data.Start, core.InvalidBlock)
	if err != nil {
		return err
	}
	f.head = head
	f.length = 0
	f.position = 0

	if err := f.saveIndex(); err != nil {
		return err
	}

	return f.Initialize()
}

// Erase discards the file's contents, bumping its version.
func (f *SimpleFile) Erase() error {
	if err := f.Initialize(); err != nil {
		f.log.WithError(err).Debug("initialize failed during erase")
	}

	return f.Format()
}

// Close flushes any buffered writes.
func (f *SimpleFile) Close() error {
	if f.readonly {
		return nil
	}
	_, err := f.Flush()
	return err
}

// Walk visits every block of the file chain from the extent's start,
// following forward links. Visits are bounded by the extent size so rolled
// chains terminate.
func (f *SimpleFile) Walk(visit func(block uint32)) error {
	g := f.geometry()
	block := f.file.Data.Start

	for n := uint32(0); n < f.file.Data.NBlocks; n++ {
		buf := utils.GetBuffer(FileBlockHeadSize)
		if err := f.storage.Read(core.BlockAddress{Block: block, Position: 0}, buf); err != nil {
			utils.ReleaseBuffer(buf)
			return utils.StorageError("walk head read", err)
		}
		head := DecodeFileBlockHead(buf)
		utils.ReleaseBuffer(buf)

		if !head.Valid() {
			break
		}

		visit(block)

		tailBuf := utils.GetBuffer(FileBlockTailSize)
		tailAddr := core.TailDataOf(block, g, FileBlockTailSize)
		if err := f.storage.Read(tailAddr, tailBuf); err != nil {
			utils.ReleaseBuffer(tailBuf)
			return utils.StorageError("walk tail read", err)
		}
		tail := DecodeFileBlockTail(tailBuf)
		utils.ReleaseBuffer(tailBuf)

		if !core.IsValidBlock(tail.Block.LinkedBlock) {
			break
		}
		block = tail.Block.LinkedBlock
	}

	return nil
}

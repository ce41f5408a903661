package phylum

import (
	"bytes"
	"encoding/binary"

	"github.com/scigolib/phylum/internal/alloc"
	"github.com/scigolib/phylum/internal/core"
	"github.com/scigolib/phylum/internal/layout"
)

// FileTableEntrySize is the on-device size of one table entry.
const FileTableEntrySize = core.MagicSize + MaximumNameLength + 8 + 1 + 16

// FileTableEntry persists one descriptor and its allocation so mounts can
// recover the layout without re-running the preallocator.
//
// Layout: magic[9] | name[16] | maximum_size u64 | strategy u8 |
// index (u32,u32) | data (u32,u32).
type FileTableEntry struct {
	Magic core.Magic
	FD    FileDescriptor
	Alloc FileAllocation
}

// Fill stamps the magic.
func (e *FileTableEntry) Fill() {
	e.Magic = core.FillMagic()
}

// Valid reports whether the entry was ever written.
func (e *FileTableEntry) Valid() bool {
	return e.Magic.Valid()
}

// Size returns FileTableEntrySize.
func (e *FileTableEntry) Size() uint32 {
	return FileTableEntrySize
}

// EncodeTo writes the entry into buf.
func (e *FileTableEntry) EncodeTo(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	copy(buf[0:core.MagicSize], e.Magic[:])

	var name [MaximumNameLength]byte
	copy(name[:MaximumNameLength-1], e.FD.Name)
	copy(buf[core.MagicSize:], name[:])

	offset := core.MagicSize + MaximumNameLength
	binary.LittleEndian.PutUint64(buf[offset:], e.FD.MaximumSize)
	buf[offset+8] = byte(e.FD.Strategy)
	binary.LittleEndian.PutUint32(buf[offset+9:], e.Alloc.Index.Start)
	binary.LittleEndian.PutUint32(buf[offset+13:], e.Alloc.Index.NBlocks)
	binary.LittleEndian.PutUint32(buf[offset+17:], e.Alloc.Data.Start)
	binary.LittleEndian.PutUint32(buf[offset+21:], e.Alloc.Data.NBlocks)
}

// DecodeFrom parses the entry from buf.
func (e *FileTableEntry) DecodeFrom(buf []byte) {
	copy(e.Magic[:], buf[0:core.MagicSize])

	name := buf[core.MagicSize : core.MagicSize+MaximumNameLength]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	e.FD.Name = string(name)

	offset := core.MagicSize + MaximumNameLength
	e.FD.MaximumSize = binary.LittleEndian.Uint64(buf[offset:])
	e.FD.Strategy = WriteStrategy(buf[offset+8])
	e.Alloc.Index.Start = binary.LittleEndian.Uint32(buf[offset+9:])
	e.Alloc.Index.NBlocks = binary.LittleEndian.Uint32(buf[offset+13:])
	e.Alloc.Data.Start = binary.LittleEndian.Uint32(buf[offset+17:])
	e.Alloc.Data.NBlocks = binary.LittleEndian.Uint32(buf[offset+21:])
}

// tableHead is the table block's typed head.
type tableHead struct {
	head core.BlockHead
}

func newTableHead() layout.Head {
	return &tableHead{head: core.NewBlockHead(core.BlockTypeIndex)}
}

func (h *tableHead) Reset(linked uint32) {
	h.head = core.NewBlockHead(core.BlockTypeIndex)
	h.head.Fill()
	h.head.Age = 0
	h.head.Timestamp = 0
	h.head.LinkedBlock = linked
}

func (h *tableHead) Valid() bool           { return h.head.Valid() }
func (h *tableHead) Size() uint32          { return core.BlockHeadSize }
func (h *tableHead) EncodeTo(buf []byte)   { h.head.EncodeTo(buf) }
func (h *tableHead) DecodeFrom(buf []byte) { h.head = core.DecodeBlockHead(buf) }

type tableTail struct {
	tail core.BlockTail
}

func newTableTail() layout.Tail {
	return &tableTail{tail: core.BlockTail{LinkedBlock: core.InvalidBlock}}
}

func (t *tableTail) Reset(linked uint32)   { t.tail.LinkedBlock = linked }
func (t *tableTail) Linked() uint32        { return t.tail.LinkedBlock }
func (t *tableTail) Size() uint32          { return core.BlockTailSize }
func (t *tableTail) EncodeTo(buf []byte)   { t.tail.EncodeTo(buf) }
func (t *tableTail) DecodeFrom(buf []byte) { t.tail = core.DecodeBlockTail(buf) }

// FileTable is the single block at the device's start listing every file's
// allocation. It never chains; the layout is given no allocator.
type FileTable struct {
	layout *layout.Layout
}

// NewFileTable builds the table over block zero.
func NewFileTable(storage Storage) *FileTable {
	return &FileTable{
		layout: layout.New(storage, alloc.NoAllocator{}, BlockAddress{Block: 0, Position: 0},
			core.BlockTypeIndex, newTableHead, newTableTail),
	}
}

// Erase wipes the table for a fresh format.
func (t *FileTable) Erase() error {
	if err := t.layout.WriteHead(0, core.InvalidBlock); err != nil {
		return err
	}
	t.layout.SetAddress(BlockAddress{Block: 0, Position: 0})
	return nil
}

// Write appends one entry.
func (t *FileTable) Write(entry *FileTableEntry) error {
	return t.layout.Append(entry)
}

// Read decodes the next entry, reporting false at the table's end.
func (t *FileTable) Read(entry *FileTableEntry) bool {
	return t.layout.Walk(entry)
}

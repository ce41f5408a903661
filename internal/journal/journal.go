// Package journal appends allocation intents to a chained journal so a
// mount after an interrupted operation can tell which blocks were being
// handed out.
package journal

import (
	"encoding/binary"

	"github.com/scigolib/phylum/internal/core"
	"github.com/scigolib/phylum/internal/layout"
)

// EntryType tags journal entries. The zero and all-ones values are reserved
// so erased flash never parses as a live entry.
type EntryType uint8

// Entry types.
const (
	EntryZeros      EntryType = 0x00
	EntryAllocation EntryType = 0x01
	EntryOnes       EntryType = 0xff
)

// EntrySize is the on-device entry size.
const EntrySize = 1 + 4 + 1

// Entry is one journal record.
//
// Layout: type u8 | block u32 | block_type u8.
type Entry struct {
	Type      EntryType
	Block     uint32
	BlockType core.BlockType
}

// Valid distinguishes written entries from erased flash.
func (e *Entry) Valid() bool {
	return e.Type != EntryZeros && e.Type != EntryOnes
}

// Size returns EntrySize.
func (e *Entry) Size() uint32 {
	return EntrySize
}

// EncodeTo writes the entry into buf.
func (e *Entry) EncodeTo(buf []byte) {
	buf[0] = byte(e.Type)
	binary.LittleEndian.PutUint32(buf[1:5], e.Block)
	buf[5] = byte(e.BlockType)
}

// DecodeFrom parses the entry from buf.
func (e *Entry) DecodeFrom(buf []byte) {
	e.Type = EntryType(buf[0])
	e.Block = binary.LittleEndian.Uint32(buf[1:5])
	e.BlockType = core.BlockType(buf[5])
}

// blockHead is the journal's typed block head.
type blockHead struct {
	head core.BlockHead
}

func newHead() layout.Head {
	return &blockHead{head: core.NewBlockHead(core.BlockTypeJournal)}
}

func (h *blockHead) Reset(linked uint32) {
	h.head = core.NewBlockHead(core.BlockTypeJournal)
	h.head.Fill()
	h.head.Age = 0
	h.head.Timestamp = 0
	h.head.LinkedBlock = linked
}

func (h *blockHead) Valid() bool           { return h.head.Valid() }
func (h *blockHead) Size() uint32          { return core.BlockHeadSize }
func (h *blockHead) EncodeTo(buf []byte)   { h.head.EncodeTo(buf) }
func (h *blockHead) DecodeFrom(buf []byte) { h.head = core.DecodeBlockHead(buf) }

type blockTail struct {
	tail core.BlockTail
}

func newTail() layout.Tail {
	return &blockTail{tail: core.BlockTail{LinkedBlock: core.InvalidBlock}}
}

func (t *blockTail) Reset(linked uint32)   { t.tail.LinkedBlock = linked }
func (t *blockTail) Linked() uint32        { return t.tail.LinkedBlock }
func (t *blockTail) Size() uint32          { return core.BlockTailSize }
func (t *blockTail) EncodeTo(buf []byte)   { t.tail.EncodeTo(buf) }
func (t *blockTail) DecodeFrom(buf []byte) { t.tail = core.DecodeBlockTail(buf) }

// Journal is the append cursor over the journal chain.
type Journal struct {
	storage   core.Storage
	allocator core.BlockAllocator
	location  core.BlockAddress
}

// New builds an unlocated journal.
func New(storage core.Storage, allocator core.BlockAllocator) *Journal {
	return &Journal{
		storage:   storage,
		allocator: allocator,
		location:  core.InvalidAddress(),
	}
}

// Location returns the current append position.
func (j *Journal) Location() core.BlockAddress {
	return j.location
}

func (j *Journal) layout(address core.BlockAddress) *layout.Layout {
	return layout.New(j.storage, j.allocator, address, core.BlockTypeJournal, newHead, newTail)
}

// Format starts a fresh journal at block.
func (j *Journal) Format(block uint32) error {
	l := j.layout(core.BlockAddress{Block: block, Position: 0})

	if err := l.WriteHead(block, core.InvalidBlock); err != nil {
		return err
	}

	j.location = core.BlockAddress{Block: block, Position: core.SectorSize}
	return nil
}

// Locate finds the append position by walking the chain from block.
func (j *Journal) Locate(block uint32) error {
	l := j.layout(core.BlockAddress{Block: block, Position: 0})

	var entry Entry
	if err := l.FindEnd(block, &entry); err != nil {
		return err
	}

	j.location = l.Address()
	return nil
}

// Append writes one entry at the cursor.
func (j *Journal) Append(entry Entry) error {
	l := j.layout(j.location)

	if err := l.Append(&entry); err != nil {
		return err
	}

	j.location = l.Address()
	return nil
}

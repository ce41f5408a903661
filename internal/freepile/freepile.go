// Package freepile appends freed/taken block pairs to a chained log, giving
// garbage collection a cheap record of block turnover between full device
// scans.
package freepile

import (
	"encoding/binary"

	"github.com/scigolib/phylum/internal/core"
	"github.com/scigolib/phylum/internal/layout"
)

// EntrySize is the on-device entry size.
const EntrySize = 4 + 4

// Entry records one block exchange.
//
// Layout: available u32 | taken u32.
type Entry struct {
	Available uint32
	Taken     uint32
}

// Valid distinguishes written entries from erased flash.
func (e *Entry) Valid() bool {
	return core.IsValidBlock(e.Available) || core.IsValidBlock(e.Taken)
}

// Size returns EntrySize.
func (e *Entry) Size() uint32 {
	return EntrySize
}

// EncodeTo writes the entry into buf.
func (e *Entry) EncodeTo(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], e.Available)
	binary.LittleEndian.PutUint32(buf[4:8], e.Taken)
}

// DecodeFrom parses the entry from buf.
func (e *Entry) DecodeFrom(buf []byte) {
	e.Available = binary.LittleEndian.Uint32(buf[0:4])
	e.Taken = binary.LittleEndian.Uint32(buf[4:8])
}

type blockHead struct {
	head core.BlockHead
}

func newHead() layout.Head {
	return &blockHead{head: core.NewBlockHead(core.BlockTypeFree)}
}

func (h *blockHead) Reset(linked uint32) {
	h.head = core.NewBlockHead(core.BlockTypeFree)
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

// Manager is the append cursor over the free pile chain.
type Manager struct {
	storage   core.Storage
	allocator core.BlockAllocator
	location  core.BlockAddress
}

// New builds an unlocated free pile.
func New(storage core.Storage, allocator core.BlockAllocator) *Manager {
	return &Manager{
		storage:   storage,
		allocator: allocator,
		location:  core.InvalidAddress(),
	}
}

// Location returns the current append position.
func (m *Manager) Location() core.BlockAddress {
	return m.location
}

func (m *Manager) layout(address core.BlockAddress) *layout.Layout {
	return layout.New(m.storage, m.allocator, address, core.BlockTypeFree, newHead, newTail)
}

// Format starts a fresh pile at block.
func (m *Manager) Format(block uint32) error {
	l := m.layout(core.BlockAddress{Block: block, Position: 0})

	if err := l.WriteHead(block, core.InvalidBlock); err != nil {
		return err
	}

	m.location = core.BlockAddress{Block: block, Position: core.SectorSize}
	return nil
}

// Locate finds the append position by walking the chain from block.
func (m *Manager) Locate(block uint32) error {
	l := m.layout(core.BlockAddress{Block: block, Position: 0})

	var entry Entry
	if err := l.FindEnd(block, &entry); err != nil {
		return err
	}

	m.location = l.Address()
	return nil
}

// Append writes one entry at the cursor.
func (m *Manager) Append(entry Entry) error {
	l := m.layout(m.location)

	if err := l.Append(&entry); err != nil {
		return err
	}

	m.location = l.Address()
	return nil
}

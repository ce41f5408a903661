// Package index maintains a file's sparse position index: an append-only
// list of (file position, block address) records spread over the file's
// index extent, with each index block's head keyed by the first position it
// covers so seeks binary-search block heads before scanning records.
package index

import (
	"encoding/binary"
	"fmt"

	"github.com/scigolib/phylum/internal/core"
)

// On-device record sizes.
const (
	BlockHeadSize = core.BlockHeadSize + 8 + 16
	RecordSize    = 8 + 4 + 4 + 16
	BlockTailSize = core.BlockTailSize + 16
)

// BlockHead keys an index block by the file position of its first record.
//
// Layout: BlockHead | position u64 | reserved[4]u32.
type BlockHead struct {
	Block    core.BlockHead
	Position uint64
}

// NewBlockHead returns an unfilled index block head.
func NewBlockHead() *BlockHead {
	return &BlockHead{Block: core.NewBlockHead(core.BlockTypeIndex)}
}

// Reset refills the head with the given reverse link.
func (h *BlockHead) Reset(linked uint32) {
	h.Block = core.NewBlockHead(core.BlockTypeIndex)
	h.Block.Fill()
	h.Block.Age = 0
	h.Block.Timestamp = 0
	h.Block.LinkedBlock = linked
}

// Valid reports whether the head was ever written.
func (h *BlockHead) Valid() bool {
	return h.Block.Valid()
}

// Size returns BlockHeadSize.
func (h *BlockHead) Size() uint32 {
	return BlockHeadSize
}

// EncodeTo writes the head into buf.
func (h *BlockHead) EncodeTo(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	h.Block.EncodeTo(buf[0:core.BlockHeadSize])
	binary.LittleEndian.PutUint64(buf[core.BlockHeadSize:], h.Position)
}

// DecodeFrom parses the head from buf.
func (h *BlockHead) DecodeFrom(buf []byte) {
	h.Block = core.DecodeBlockHead(buf[0:core.BlockHeadSize])
	h.Position = binary.LittleEndian.Uint64(buf[core.BlockHeadSize:])
}

// Record maps a file position to the block address holding that byte.
//
// Layout: position u64 | block u32 | offset u32 | reserved[4]u32.
type Record struct {
	Position uint64
	Address  core.BlockAddress
}

// Valid distinguishes a written record from erased flash; the zero address
// never holds file data.
func (r *Record) Valid() bool {
	return r.Address.Valid() && !r.Address.Zero()
}

// Size returns RecordSize.
func (r *Record) Size() uint32 {
	return RecordSize
}

// EncodeTo writes the record into buf.
func (r *Record) EncodeTo(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	binary.LittleEndian.PutUint64(buf[0:8], r.Position)
	binary.LittleEndian.PutUint32(buf[8:12], r.Address.Block)
	binary.LittleEndian.PutUint32(buf[12:16], r.Address.Position)
}

// DecodeFrom parses the record from buf.
func (r *Record) DecodeFrom(buf []byte) {
	r.Position = binary.LittleEndian.Uint64(buf[0:8])
	r.Address.Block = binary.LittleEndian.Uint32(buf[8:12])
	r.Address.Position = binary.LittleEndian.Uint32(buf[12:16])
}

func (r Record) String() string {
	return fmt.Sprintf("IndexRecord<%d addr=%v>", r.Position, r.Address)
}

// BlockTail continues an index chain to its next block.
//
// Layout: BlockTail | reserved[4]u32.
type BlockTail struct {
	Tail core.BlockTail
}

// NewBlockTail returns a tail with no forward link.
func NewBlockTail() *BlockTail {
	return &BlockTail{Tail: core.BlockTail{LinkedBlock: core.InvalidBlock}}
}

// Reset sets the forward link.
func (t *BlockTail) Reset(linked uint32) {
	t.Tail.LinkedBlock = linked
}

// Linked returns the forward link.
func (t *BlockTail) Linked() uint32 {
	return t.Tail.LinkedBlock
}

// Size returns BlockTailSize.
func (t *BlockTail) Size() uint32 {
	return BlockTailSize
}

// EncodeTo writes the tail into buf.
func (t *BlockTail) EncodeTo(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	t.Tail.EncodeTo(buf[0:core.BlockTailSize])
}

// DecodeFrom parses the tail from buf.
func (t *BlockTail) DecodeFrom(buf []byte) {
	t.Tail = core.DecodeBlockTail(buf[0:core.BlockTailSize])
}

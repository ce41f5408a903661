package phylum

import (
	"encoding/binary"

	"github.com/scigolib/phylum/internal/core"
)

// On-device record sizes for the file engine.
const (
	FileBlockHeadSize  = core.BlockHeadSize + 4 + 4 + 8 + 16
	FileSectorTailSize = 2
	FileBlockTailSize  = 2 + 4 + 8 + 4
)

// FileBlockHead opens every block of a file chain.
//
// Layout: BlockHead | file_id u32 | version u32 | position u64 |
// reserved[4]u32. The embedded head's linked block is the reverse link to
// the previous block of the file.
type FileBlockHead struct {
	Block   core.BlockHead
	FileID  uint32
	Version uint32
}

// NewFileBlockHead returns an unfilled file block head.
func NewFileBlockHead() FileBlockHead {
	return FileBlockHead{
		Block:  core.NewBlockHead(core.BlockTypeFile),
		FileID: core.InvalidFileID,
	}
}

// Fill stamps the magic and zeroes the wear fields.
func (h *FileBlockHead) Fill() {
	h.Block.Fill()
	h.Block.Age = 0
	h.Block.Timestamp = 0
}

// Valid reports whether the head was ever written.
func (h *FileBlockHead) Valid() bool {
	return h.Block.Valid()
}

// EncodeTo writes the head into buf, which must hold FileBlockHeadSize
// bytes.
func (h *FileBlockHead) EncodeTo(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	h.Block.EncodeTo(buf[0:core.BlockHeadSize])
	binary.LittleEndian.PutUint32(buf[core.BlockHeadSize:], h.FileID)
	binary.LittleEndian.PutUint32(buf[core.BlockHeadSize+4:], h.Version)
}

// DecodeFileBlockHead parses a head from buf.
func DecodeFileBlockHead(buf []byte) FileBlockHead {
	var h FileBlockHead
	h.Block = core.DecodeBlockHead(buf[0:core.BlockHeadSize])
	h.FileID = binary.LittleEndian.Uint32(buf[core.BlockHeadSize:])
	h.Version = binary.LittleEndian.Uint32(buf[core.BlockHeadSize+4:])
	return h
}

// FileSectorTail ends every intermediate sector of a file block with the
// count of user bytes in that sector.
//
// Layout: bytes u16.
type FileSectorTail struct {
	Bytes uint16
}

// EncodeTo writes the tail into buf.
func (t *FileSectorTail) EncodeTo(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], t.Bytes)
}

// DecodeFileSectorTail parses the tail from buf.
func DecodeFileSectorTail(buf []byte) FileSectorTail {
	return FileSectorTail{Bytes: binary.LittleEndian.Uint16(buf[0:2])}
}

// FileBlockTail ends a file block's tail sector: the sector's byte count,
// the block's total user bytes, and the forward link to the next block.
//
// Layout: bytes u16 | bytes_in_block u32 | padding[8] | linked u32.
type FileBlockTail struct {
	Sector       FileSectorTail
	BytesInBlock uint32
	Block        core.BlockTail
}

// NewFileBlockTail returns a tail with no forward link.
func NewFileBlockTail() FileBlockTail {
	return FileBlockTail{Block: core.BlockTail{LinkedBlock: core.InvalidBlock}}
}

// EncodeTo writes the tail into buf, which must hold FileBlockTailSize
// bytes.
func (t *FileBlockTail) EncodeTo(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	t.Sector.EncodeTo(buf[0:2])
	binary.LittleEndian.PutUint32(buf[2:6], t.BytesInBlock)
	t.Block.EncodeTo(buf[14:18])
}

// DecodeFileBlockTail parses the tail from buf.
func DecodeFileBlockTail(buf []byte) FileBlockTail {
	var t FileBlockTail
	t.Sector = DecodeFileSectorTail(buf[0:2])
	t.BytesInBlock = binary.LittleEndian.Uint32(buf[2:6])
	t.Block = core.DecodeBlockTail(buf[14:18])
	return t
}

// Overhead helpers: a file block spends its head sector, one block tail and
// a sector tail per remaining sector on bookkeeping.

func fileBlockOverhead(g Geometry) uint64 {
	sectorsPerBlock := uint64(g.SectorsPerBlock())
	return SectorSize + FileBlockTailSize + (sectorsPerBlock-2)*FileSectorTailSize
}

func effectiveFileBlockSize(g Geometry) uint64 {
	return uint64(g.BlockSize()) - fileBlockOverhead(g)
}

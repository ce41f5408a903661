package superblock

import (
	"encoding/binary"

	"github.com/scigolib/phylum/internal/core"
)

// FilesystemStateSize is the encoded size of the filesystem payload,
// excluding the embedded link.
const FilesystemStateSize = 4 + 4 + 4 + 4 + 4 + 8 + 8

// FilesystemState is the filesystem-wide payload the superblock carries:
// the allocator snapshot, the tree root block, the journal and free-pile
// head blocks, and the tails of the leaf and index extents.
//
// Layout: allocator head u32 | last_gc u32 | tree u32 | journal u32 |
// free u32 | leaf (u32,u32) | index (u32,u32).
type FilesystemState struct {
	Allocator core.AllocatorState
	LastGC    uint32
	Tree      uint32
	Journal   uint32
	FreePile  uint32
	Leaf      core.BlockAddress
	Index     core.BlockAddress
}

// NewFilesystemState returns a payload with every reference invalid.
func NewFilesystemState() *FilesystemState {
	return &FilesystemState{
		Tree:     core.InvalidBlock,
		Journal:  core.InvalidBlock,
		FreePile: core.InvalidBlock,
		Leaf:     core.InvalidAddress(),
		Index:    core.InvalidAddress(),
	}
}

// Size returns FilesystemStateSize.
func (s *FilesystemState) Size() uint32 {
	return FilesystemStateSize
}

// EncodeTo writes the payload into buf.
func (s *FilesystemState) EncodeTo(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], s.Allocator.Head)
	binary.LittleEndian.PutUint32(buf[4:8], s.LastGC)
	binary.LittleEndian.PutUint32(buf[8:12], s.Tree)
	binary.LittleEndian.PutUint32(buf[12:16], s.Journal)
	binary.LittleEndian.PutUint32(buf[16:20], s.FreePile)
	binary.LittleEndian.PutUint32(buf[20:24], s.Leaf.Block)
	binary.LittleEndian.PutUint32(buf[24:28], s.Leaf.Position)
	binary.LittleEndian.PutUint32(buf[28:32], s.Index.Block)
	binary.LittleEndian.PutUint32(buf[32:36], s.Index.Position)
}

// DecodeFrom parses the payload from buf.
func (s *FilesystemState) DecodeFrom(buf []byte) {
	s.Allocator.Head = binary.LittleEndian.Uint32(buf[0:4])
	s.LastGC = binary.LittleEndian.Uint32(buf[4:8])
	s.Tree = binary.LittleEndian.Uint32(buf[8:12])
	s.Journal = binary.LittleEndian.Uint32(buf[12:16])
	s.FreePile = binary.LittleEndian.Uint32(buf[16:20])
	s.Leaf.Block = binary.LittleEndian.Uint32(buf[20:24])
	s.Leaf.Position = binary.LittleEndian.Uint32(buf[24:28])
	s.Index.Block = binary.LittleEndian.Uint32(buf[28:32])
	s.Index.Position = binary.LittleEndian.Uint32(buf[32:36])
}

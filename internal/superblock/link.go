// Package superblock maintains the filesystem anchor: a payload that
// wanders sector-by-sector inside its block on every save, rolls to a fresh
// block when the block fills, and is found again by walking a short chain of
// link blocks rooted at two fixed anchor blocks. Timestamps order every
// competing record; the newest valid one wins, which is what makes a torn
// rollover recoverable.
package superblock

import (
	"encoding/binary"

	"github.com/scigolib/phylum/internal/core"
)

// AnchorBlocks are the two fixed blocks the walk starts from.
var AnchorBlocks = [2]uint32{1, 2}

// LinkSize is the on-device size of a chain link record.
const LinkSize = core.BlockHeadSize + 2 + 4

// Link is one hop of the superblock chain. A link in an anchor block has
// type Anchor; links in chain blocks have type SuperBlockLink; the link
// embedded in the live payload has type SuperBlock.
//
// Layout: BlockHead | sector u16 | chained u32.
type Link struct {
	Head    core.BlockHead
	Sector  uint16
	Chained uint32
}

// NewLink returns an unfilled link of the given type.
func NewLink(t core.BlockType) Link {
	return Link{
		Head:    core.NewBlockHead(t),
		Chained: core.InvalidBlock,
	}
}

// Valid reports whether the link was ever written.
func (l *Link) Valid() bool {
	return l.Head.Valid()
}

// Size returns LinkSize.
func (l *Link) Size() uint32 {
	return LinkSize
}

// EncodeTo writes the link into buf.
func (l *Link) EncodeTo(buf []byte) {
	l.Head.EncodeTo(buf[0:core.BlockHeadSize])
	binary.LittleEndian.PutUint16(buf[core.BlockHeadSize:], l.Sector)
	binary.LittleEndian.PutUint32(buf[core.BlockHeadSize+2:], l.Chained)
}

// DecodeFrom parses the link from buf.
func (l *Link) DecodeFrom(buf []byte) {
	l.Head = core.DecodeBlockHead(buf[0:core.BlockHeadSize])
	l.Sector = binary.LittleEndian.Uint16(buf[core.BlockHeadSize:])
	l.Chained = binary.LittleEndian.Uint32(buf[core.BlockHeadSize+2:])
}

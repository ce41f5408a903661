package core

import "encoding/binary"

// BlockType tags the role of a block. The set is closed; readers treat any
// other value as unrecognized and the block as suspect.
type BlockType uint8

// Block types.
const (
	BlockTypeZero BlockType = iota
	BlockTypeAnchor
	BlockTypeSuperBlockLink
	BlockTypeSuperBlock
	BlockTypeJournal
	BlockTypeFile
	BlockTypeLeaf
	BlockTypeIndex
	BlockTypeFree
	BlockTypeError
	BlockTypeUnallocated
)

func (t BlockType) String() string {
	switch t {
	case BlockTypeAnchor:
		return "Anchor"
	case BlockTypeSuperBlockLink:
		return "SuperBlockLink"
	case BlockTypeSuperBlock:
		return "SuperBlock"
	case BlockTypeJournal:
		return "Journal"
	case BlockTypeFile:
		return "File"
	case BlockTypeLeaf:
		return "Leaf"
	case BlockTypeIndex:
		return "Index"
	case BlockTypeFree:
		return "Free"
	case BlockTypeError:
		return "Error"
	case BlockTypeUnallocated:
		return "Unallocated"
	default:
		return "<unknown>"
	}
}

// Invalid ages and timestamps read back as all ones from erased flash.
const (
	InvalidAge       = ^uint32(0)
	InvalidTimestamp = ^uint32(0)
	InvalidFileID    = ^uint32(0)
)

// On-device record sizes. All records are packed little-endian; the layouts
// are fixed so images are portable across hosts.
const (
	BlockHeadSize = MagicSize + 1 + 4 + 4 + 4
	BlockTailSize = 4
)

// BlockHead sits at offset zero of every live block.
//
// Layout: magic[9] | type u8 | age u32 | timestamp u32 | linked u32.
type BlockHead struct {
	Magic     Magic
	Type      BlockType
	Age       uint32
	Timestamp uint32
	// LinkedBlock is the reverse link for file chains, letting reclamation
	// walk backward from any block.
	LinkedBlock uint32
}

// NewBlockHead returns an unfilled head of the given type.
func NewBlockHead(t BlockType) BlockHead {
	return BlockHead{
		Type:        t,
		Age:         InvalidAge,
		Timestamp:   InvalidTimestamp,
		LinkedBlock: InvalidBlock,
	}
}

// Fill stamps the magic, marking the head live.
func (h *BlockHead) Fill() {
	h.Magic = FillMagic()
}

// Valid reports whether the head carries a live magic.
func (h *BlockHead) Valid() bool {
	return h.Magic.Valid()
}

// EncodeTo writes the head into buf, which must hold BlockHeadSize bytes.
func (h *BlockHead) EncodeTo(buf []byte) {
	copy(buf[0:MagicSize], h.Magic[:])
	buf[MagicSize] = byte(h.Type)
	binary.LittleEndian.PutUint32(buf[10:14], h.Age)
	binary.LittleEndian.PutUint32(buf[14:18], h.Timestamp)
	binary.LittleEndian.PutUint32(buf[18:22], h.LinkedBlock)
}

// DecodeBlockHead parses a head from buf.
func DecodeBlockHead(buf []byte) BlockHead {
	var h BlockHead
	copy(h.Magic[:], buf[0:MagicSize])
	h.Type = BlockType(buf[MagicSize])
	h.Age = binary.LittleEndian.Uint32(buf[10:14])
	h.Timestamp = binary.LittleEndian.Uint32(buf[14:18])
	h.LinkedBlock = binary.LittleEndian.Uint32(buf[18:22])
	return h
}

// BlockTail is the forward link stored in the final bytes of a chained
// block.
//
// Layout: linked u32.
type BlockTail struct {
	LinkedBlock uint32
}

// EncodeTo writes the tail into buf, which must hold BlockTailSize bytes.
func (t *BlockTail) EncodeTo(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], t.LinkedBlock)
}

// DecodeBlockTail parses a tail from buf.
func DecodeBlockTail(buf []byte) BlockTail {
	return BlockTail{LinkedBlock: binary.LittleEndian.Uint32(buf[0:4])}
}

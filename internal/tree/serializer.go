package tree

import (
	"encoding/binary"

	"github.com/scigolib/phylum/internal/core"
)

// Serialized node layout. Leaf and inner nodes share one fixed-size slot;
// a head node appends a timestamp and magic so tree roots can be recognized
// on a raw device.
//
// Node: level u8 | size u16 | number_keys u8 | keys[6]u64 | payload, where
// payload is values[6]u64 for a leaf or children[7](u32,u32) for an inner
// node. Head: node | timestamp u32 | magic[9].
const (
	nodeKeysOffset    = 4
	nodePayloadOffset = nodeKeysOffset + InnerSize*8
	NodeSize          = nodePayloadOffset + (InnerSize+1)*8
	headTimestampOff  = NodeSize
	headMagicOffset   = headTimestampOff + 4
	HeadNodeSize      = headMagicOffset + core.MagicSize
)

// TreeHead is the metadata serialized with a root node.
type TreeHead struct {
	Timestamp uint32
}

// serializeNode encodes node into buf, which must hold at least NodeSize
// bytes; with head non-nil the head suffix is appended too.
func serializeNode(buf []byte, node *Node, head *TreeHead) {
	for i := range buf {
		buf[i] = 0
	}

	buf[0] = node.Depth
	binary.LittleEndian.PutUint16(buf[1:3], NodeSize)
	buf[3] = node.NumberKeys

	for i := 0; i < InnerSize; i++ {
		binary.LittleEndian.PutUint64(buf[nodeKeysOffset+i*8:], node.Keys[i])
	}

	if node.Depth == 0 {
		for i := 0; i < LeafSize; i++ {
			binary.LittleEndian.PutUint64(buf[nodePayloadOffset+i*8:], node.Values[i])
		}
	} else {
		for i := 0; i <= InnerSize; i++ {
			address := node.Children[i].Address()
			binary.LittleEndian.PutUint32(buf[nodePayloadOffset+i*8:], address.Block)
			binary.LittleEndian.PutUint32(buf[nodePayloadOffset+i*8+4:], address.Position)
		}
	}

	if head != nil {
		binary.LittleEndian.PutUint32(buf[headTimestampOff:], head.Timestamp)
		magic := core.FillMagic()
		copy(buf[headMagicOffset:], magic[:])
	}
}

// deserializeNode decodes a node from buf, filling head when non-nil.
// It reports whether buf held a plausibly written node.
func deserializeNode(buf []byte, node *Node, head *TreeHead) bool {
	level := buf[0]
	size := binary.LittleEndian.Uint16(buf[1:3])

	if level == 0xff {
		return false
	}

	node.Clear()
	node.Depth = level
	node.NumberKeys = buf[3]

	for i := 0; i < InnerSize; i++ {
		node.Keys[i] = binary.LittleEndian.Uint64(buf[nodeKeysOffset+i*8:])
	}

	if level == 0 {
		for i := 0; i < LeafSize; i++ {
			node.Values[i] = binary.LittleEndian.Uint64(buf[nodePayloadOffset+i*8:])
		}
	} else {
		for i := 0; i <= InnerSize; i++ {
			address := core.BlockAddress{
				Block:    binary.LittleEndian.Uint32(buf[nodePayloadOffset+i*8:]),
				Position: binary.LittleEndian.Uint32(buf[nodePayloadOffset+i*8+4:]),
			}
			if address.Valid() {
				node.Children[i] = RefFromAddress(address)
			}
		}
	}

	if head != nil {
		head.Timestamp = binary.LittleEndian.Uint32(buf[headTimestampOff:])

		var magic core.Magic
		copy(magic[:], buf[headMagicOffset:])
		if magic.Valid() {
			return true
		}
		// Head slots and plain node slots share extents; fall back to the
		// size stamp to recognize a plain node.
		return size == NodeSize
	}

	return size == NodeSize
}

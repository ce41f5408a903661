// Package tree implements the persisted copy-on-write B+-tree. Nodes live in
// a small bounded cache while an operation runs; flush serializes dirty
// nodes children-first so parents always reference the fresh addresses, and
// every mutation produces a new root.
package tree

import (
	"fmt"

	"github.com/scigolib/phylum/internal/core"
)

// Fixed fan-out of the on-device nodes.
const (
	InnerSize = 6
	LeafSize  = 6
)

const noSlot = 0xff

// NodeRef names a node either by its cache slot, its on-device address, or
// both while resident.
type NodeRef struct {
	slot    uint8
	address core.BlockAddress
}

// RefFromSlot names a cached node.
func RefFromSlot(slot uint8) NodeRef {
	return NodeRef{slot: slot, address: core.InvalidAddress()}
}

// RefFromAddress names a stored node.
func RefFromAddress(address core.BlockAddress) NodeRef {
	return NodeRef{slot: noSlot, address: address}
}

// EmptyRef names nothing.
func EmptyRef() NodeRef {
	return NodeRef{slot: noSlot, address: core.InvalidAddress()}
}

// Resident reports whether the ref has a cache slot.
func (r NodeRef) Resident() bool {
	return r.slot != noSlot
}

// Slot returns the cache slot.
func (r NodeRef) Slot() uint8 {
	return r.slot
}

// Valid reports whether the ref has an on-device address.
func (r NodeRef) Valid() bool {
	return r.address.Valid()
}

// Address returns the on-device address.
func (r NodeRef) Address() core.BlockAddress {
	return r.address
}

func (r NodeRef) String() string {
	return fmt.Sprintf("Ref<#%d addr=%v>", r.slot, r.address)
}

// Node is one B+-tree node, leaf or inner depending on Depth. A leaf keys
// values; an inner node keys children, one more child than keys.
type Node struct {
	Depth      uint8
	NumberKeys uint8
	Keys       [InnerSize]uint64
	Values     [LeafSize]uint64
	Children   [InnerSize + 1]NodeRef
}

// Clear resets the node to an empty leaf.
func (n *Node) Clear() {
	n.Depth = 0
	n.NumberKeys = 0
	for i := range n.Keys {
		n.Keys[i] = 0
	}
	for i := range n.Values {
		n.Values[i] = 0
	}
	for i := range n.Children {
		n.Children[i] = EmptyRef()
	}
}

// Empty reports whether the node holds no keys.
func (n *Node) Empty() bool {
	return n.NumberKeys == 0
}

// leafPositionFor returns where key belongs among a leaf's keys.
func leafPositionFor(key uint64, keys []uint64, numberKeys uint8) uint8 {
	k := uint8(0)
	for k < numberKeys && keys[k] < key {
		k++
	}
	return k
}

// innerPositionFor returns which child to descend into for key. Equal keys
// descend right, matching the on-device trees written so far.
func innerPositionFor(key uint64, keys []uint64, numberKeys uint8) uint8 {
	k := uint8(0)
	for k < numberKeys && keys[k] <= key {
		k++
	}
	return k
}

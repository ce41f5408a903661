package tree

import (
	"github.com/scigolib/phylum/internal/core"
	"github.com/scigolib/phylum/internal/utils"
)

// NodeStorage persists nodes. Serialize returns the address the node landed
// at; copy-on-write stores ignore the old address and append.
type NodeStorage interface {
	Deserialize(addr core.BlockAddress, node *Node, head *TreeHead) error
	Serialize(addr core.BlockAddress, node *Node, head *TreeHead) (core.BlockAddress, error)
}

// NodeCache owns the node bodies an operation touches. Slots are handed out
// in load order and flushed together; the cache is sized for one root-to-
// leaf path plus the splits it can cause.
type NodeCache struct {
	storage NodeStorage
	nodes   []Node
	pending []NodeRef
	used    uint8
	info    TreeHead
}

// NewNodeCache builds a cache with the given slot count.
func NewNodeCache(storage NodeStorage, size int) *NodeCache {
	c := &NodeCache{
		storage: storage,
		nodes:   make([]Node, size),
		pending: make([]NodeRef, size),
	}
	c.Clear()
	return c
}

// Resolve returns the node body behind a resident ref.
func (c *NodeCache) Resolve(ref NodeRef) *Node {
	return &c.nodes[ref.Slot()]
}

// Allocate reserves a slot for a fresh node.
func (c *NodeCache) Allocate() (NodeRef, error) {
	if int(c.used) == len(c.nodes) {
		return EmptyRef(), utils.WrapError("node cache full", utils.ErrInvariant, nil)
	}

	slot := c.used
	c.used++

	ref := RefFromSlot(slot)
	c.pending[slot] = ref
	return ref, nil
}

// Load pulls the node at ref's address into a fresh slot. Head is decoded
// into the cache's tree information when asked.
func (c *NodeCache) Load(ref NodeRef, head bool) (NodeRef, error) {
	fresh, err := c.Allocate()
	if err != nil {
		return EmptyRef(), err
	}

	loaded := NodeRef{slot: fresh.Slot(), address: ref.Address()}
	c.pending[loaded.Slot()] = loaded

	var info *TreeHead
	if head {
		info = &c.info
	}

	if err := c.storage.Deserialize(ref.Address(), &c.nodes[loaded.Slot()], info); err != nil {
		return EmptyRef(), err
	}

	return loaded, nil
}

// Flush serializes every pending node bottom-up from the deepest node,
// bumping the tree timestamp, and returns the new root ref.
func (c *NodeCache) Flush() (NodeRef, error) {
	if c.used == 0 {
		return EmptyRef(), nil
	}

	headSlot := uint8(0)
	headDepth := c.nodes[c.pending[0].Slot()].Depth

	for i := uint8(1); i < c.used; i++ {
		if c.nodes[c.pending[i].Slot()].Depth > headDepth {
			headDepth = c.nodes[c.pending[i].Slot()].Depth
			headSlot = c.pending[i].Slot()
		}
	}

	c.info.Timestamp++

	root, err := c.flush(c.pending[headSlot], true)
	if err != nil {
		return EmptyRef(), err
	}

	c.Clear()

	return root, nil
}

// flush writes one node, flushing resident children first so this node
// serializes their fresh addresses.
func (c *NodeCache) flush(ref NodeRef, head bool) (NodeRef, error) {
	node := &c.nodes[ref.Slot()]

	if node.Depth > 0 {
		for i := uint8(0); i <= node.NumberKeys; i++ {
			if node.Children[i].Resident() {
				child, err := c.flush(node.Children[i], false)
				if err != nil {
					return EmptyRef(), err
				}
				node.Children[i] = child
			}
		}
	}

	var info *TreeHead
	if head {
		info = &c.info
	}

	address, err := c.storage.Serialize(ref.Address(), node, info)
	if err != nil {
		return EmptyRef(), err
	}

	return NodeRef{slot: ref.Slot(), address: address}, nil
}

// Clear drops every cached node.
func (c *NodeCache) Clear() {
	c.used = 0
	for i := range c.nodes {
		c.nodes[i].Clear()
	}
	for i := range c.pending {
		c.pending[i] = EmptyRef()
	}
}

package tree

import (
	"github.com/scigolib/phylum/internal/core"
)

// PersistedTree is a B+-tree whose nodes live on storage. Every Add or
// Remove flushes through the cache and yields a new root address; the old
// root remains readable at its previous address.
type PersistedTree struct {
	nodes *NodeCache
	ref   NodeRef
}

// NewPersistedTree opens a tree rooted at address, which may be invalid for
// an empty tree.
func NewPersistedTree(nodes *NodeCache, address core.BlockAddress) *PersistedTree {
	ref := EmptyRef()
	if address.Valid() {
		ref = RefFromAddress(address)
	}
	return &PersistedTree{nodes: nodes, ref: ref}
}

// SetHead repoints the tree at another root.
func (t *PersistedTree) SetHead(address core.BlockAddress) {
	t.ref = RefFromAddress(address)
}

// Address returns the current root address.
func (t *PersistedTree) Address() core.BlockAddress {
	return t.ref.Address()
}

// CreateIfNecessary writes an empty root when the tree has none yet.
func (t *PersistedTree) CreateIfNecessary() (core.BlockAddress, error) {
	if t.ref.Valid() {
		return t.ref.Address(), nil
	}

	ref, err := t.nodes.Allocate()
	if err != nil {
		return core.InvalidAddress(), err
	}
	t.nodes.Resolve(ref).Clear()

	root, err := t.nodes.Flush()
	if err != nil {
		return core.InvalidAddress(), err
	}

	t.ref = root
	return t.ref.Address(), nil
}

// Find returns the value for key, zero when absent.
func (t *PersistedTree) Find(key uint64) (uint64, error) {
	if _, err := t.CreateIfNecessary(); err != nil {
		return 0, err
	}

	nref, err := t.nodes.Load(t.ref, true)
	if err != nil {
		return 0, err
	}
	node := t.nodes.Resolve(nref)

	for d := node.Depth; d != 0; d-- {
		index := innerPositionFor(key, node.Keys[:], node.NumberKeys)

		nref, err = t.loadChild(node, index)
		if err != nil {
			return 0, err
		}
		node = t.nodes.Resolve(nref)
	}

	value := uint64(0)
	index := leafPositionFor(key, node.Keys[:], node.NumberKeys)
	if index < node.NumberKeys && node.Keys[index] == key {
		value = node.Values[index]
	}

	t.nodes.Clear()

	return value, nil
}

// FindLessThan returns the greatest key strictly less than the query and its
// value. The sparse-index callers use it to find the closest earlier
// landmark.
func (t *PersistedTree) FindLessThan(key uint64) (foundKey, value uint64, ok bool, err error) {
	if _, err = t.CreateIfNecessary(); err != nil {
		return 0, 0, false, err
	}

	nref, err := t.nodes.Load(t.ref, true)
	if err != nil {
		return 0, 0, false, err
	}
	node := t.nodes.Resolve(nref)

	for d := node.Depth; d != 0; d-- {
		index := innerPositionFor(key, node.Keys[:], node.NumberKeys)
		// Rewind when the separator equals the query; equal keys live in
		// the right subtree but strictly-less answers live left of them.
		if index > 0 && key == node.Keys[index-1] {
			index--
		}

		nref, err = t.loadChild(node, index)
		if err != nil {
			return 0, 0, false, err
		}
		node = t.nodes.Resolve(nref)
	}

	index := leafPositionFor(key, node.Keys[:], node.NumberKeys)
	if index > 0 {
		index--
		if node.Keys[index] == key && index > 0 {
			index--
		}
		if node.Keys[index] < key && node.Values[index] != 0 {
			foundKey = node.Keys[index]
			value = node.Values[index]
			t.nodes.Clear()
			return foundKey, value, true, nil
		}
	}

	t.nodes.Clear()
	return 0, 0, false, nil
}

// Add inserts or overwrites key, returning the new root address.
func (t *PersistedTree) Add(key, value uint64) (core.BlockAddress, error) {
	if _, err := t.CreateIfNecessary(); err != nil {
		return core.InvalidAddress(), err
	}

	nref, err := t.nodes.Load(t.ref, true)
	if err != nil {
		return core.InvalidAddress(), err
	}
	node := t.nodes.Resolve(nref)

	var split *splitOutcome
	if node.Depth == 0 {
		split, err = t.leafInsert(nref, key, value)
	} else {
		split, err = t.innerInsert(nref, node.Depth, key, value)
	}
	if err != nil {
		return core.InvalidAddress(), err
	}

	if split != nil {
		newRef, aerr := t.nodes.Allocate()
		if aerr != nil {
			return core.InvalidAddress(), aerr
		}
		newRoot := t.nodes.Resolve(newRef)
		newRoot.Depth = node.Depth + 1
		newRoot.NumberKeys = 1
		newRoot.Keys[0] = split.key
		newRoot.Children[0] = split.left
		newRoot.Children[1] = split.right
	}

	root, err := t.nodes.Flush()
	if err != nil {
		return core.InvalidAddress(), err
	}
	t.ref = root

	return t.ref.Address(), nil
}

// Remove clears key's value, returning whether the key was present. Slots
// are tombstoned rather than rebalanced.
func (t *PersistedTree) Remove(key uint64) (bool, error) {
	nref, err := t.nodes.Load(t.ref, true)
	if err != nil {
		return false, err
	}
	node := t.nodes.Resolve(nref)

	for d := node.Depth; d != 0; d-- {
		index := innerPositionFor(key, node.Keys[:], node.NumberKeys)

		nref, err = t.loadChild(node, index)
		if err != nil {
			return false, err
		}
		node = t.nodes.Resolve(nref)
	}

	index := leafPositionFor(key, node.Keys[:], node.NumberKeys)
	if index < node.NumberKeys && node.Keys[index] == key {
		node.Values[index] = 0

		root, ferr := t.nodes.Flush()
		if ferr != nil {
			return false, ferr
		}
		t.ref = root
		return true, nil
	}

	t.nodes.Clear()
	return false, nil
}

type splitOutcome struct {
	key   uint64
	left  NodeRef
	right NodeRef
}

func (t *PersistedTree) loadChild(node *Node, index uint8) (NodeRef, error) {
	loaded, err := t.nodes.Load(node.Children[index], false)
	if err != nil {
		return EmptyRef(), err
	}
	node.Children[index] = loaded
	return loaded, nil
}

func (t *PersistedTree) leafInsert(nref NodeRef, key, value uint64) (*splitOutcome, error) {
	node := t.nodes.Resolve(nref)

	i := leafPositionFor(key, node.Keys[:], node.NumberKeys)

	if node.NumberKeys == LeafSize {
		threshold := uint8((LeafSize + 1) / 2)

		newRef, err := t.nodes.Allocate()
		if err != nil {
			return nil, err
		}
		sibling := t.nodes.Resolve(newRef)

		sibling.Depth = node.Depth
		sibling.NumberKeys = node.NumberKeys - threshold
		for j := uint8(0); j < sibling.NumberKeys; j++ {
			sibling.Keys[j] = node.Keys[threshold+j]
			sibling.Values[j] = node.Values[threshold+j]
		}
		node.NumberKeys = threshold

		if i < threshold {
			t.leafInsertNonFull(nref, i, key, value)
		} else {
			t.leafInsertNonFull(newRef, i-threshold, key, value)
		}

		return &splitOutcome{key: sibling.Keys[0], left: nref, right: newRef}, nil
	}

	t.leafInsertNonFull(nref, i, key, value)
	return nil, nil
}

func (t *PersistedTree) leafInsertNonFull(nref NodeRef, index uint8, key, value uint64) {
	node := t.nodes.Resolve(nref)

	if index < node.NumberKeys && node.Keys[index] == key {
		// Duplicate key; overwrite in place.
		node.Values[index] = value
		return
	}

	for i := node.NumberKeys; i > index; i-- {
		node.Keys[i] = node.Keys[i-1]
		node.Values[i] = node.Values[i-1]
	}
	node.NumberKeys++
	node.Keys[index] = key
	node.Values[index] = value
}

func (t *PersistedTree) innerInsert(nref NodeRef, level uint8, key, value uint64) (*splitOutcome, error) {
	node := t.nodes.Resolve(nref)

	if node.NumberKeys == InnerSize {
		threshold := uint8((InnerSize + 1) / 2)

		newRef, err := t.nodes.Allocate()
		if err != nil {
			return nil, err
		}
		sibling := t.nodes.Resolve(newRef)

		sibling.Depth = node.Depth
		sibling.NumberKeys = node.NumberKeys - threshold
		for i := uint8(0); i < sibling.NumberKeys; i++ {
			sibling.Keys[i] = node.Keys[threshold+i]
			sibling.Children[i] = node.Children[threshold+i]
		}
		sibling.Children[sibling.NumberKeys] = node.Children[node.NumberKeys]

		node.NumberKeys = threshold - 1
		thresholdKey := node.Keys[threshold-1]

		if key < thresholdKey {
			if err := t.innerInsertNonFull(nref, level, key, value); err != nil {
				return nil, err
			}
		} else {
			if err := t.innerInsertNonFull(newRef, level, key, value); err != nil {
				return nil, err
			}
		}

		return &splitOutcome{key: thresholdKey, left: nref, right: newRef}, nil
	}

	if err := t.innerInsertNonFull(nref, level, key, value); err != nil {
		return nil, err
	}
	return nil, nil
}

func (t *PersistedTree) innerInsertNonFull(nref NodeRef, level uint8, key, value uint64) error {
	node := t.nodes.Resolve(nref)

	index := innerPositionFor(key, node.Keys[:], node.NumberKeys)

	child, err := t.loadChild(node, index)
	if err != nil {
		return err
	}

	var split *splitOutcome
	if level-1 == 0 {
		split, err = t.leafInsert(child, key, value)
	} else {
		split, err = t.innerInsert(child, level-1, key, value)
	}
	if err != nil {
		return err
	}

	if split == nil {
		return nil
	}

	node = t.nodes.Resolve(nref)
	if index == node.NumberKeys {
		node.Keys[index] = split.key
		node.Children[index] = split.left
		node.Children[index+1] = split.right
		node.NumberKeys++
	} else {
		node.Children[node.NumberKeys+1] = node.Children[node.NumberKeys]
		for i := node.NumberKeys; i != index; i-- {
			node.Children[i] = node.Children[i-1]
			node.Keys[i] = node.Keys[i-1]
		}
		node.NumberKeys++
		node.Children[index] = split.left
		node.Children[index+1] = split.right
		node.Keys[index] = split.key
	}

	return nil
}

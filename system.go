package phylum

import (
	"github.com/sirupsen/logrus"

	"github.com/scigolib/phylum/internal/alloc"
	"github.com/scigolib/phylum/internal/core"
	"github.com/scigolib/phylum/internal/freepile"
	"github.com/scigolib/phylum/internal/journal"
	"github.com/scigolib/phylum/internal/superblock"
	"github.com/scigolib/phylum/internal/tree"
	"github.com/scigolib/phylum/internal/utils"
)

// JournalEntry re-exports the journal record for System callers.
type JournalEntry = journal.Entry

// FreePileEntry re-exports the free pile record for System callers.
type FreePileEntry = freepile.Entry

// JournalAllocation marks a journal entry recording an allocation intent.
const JournalAllocation = journal.EntryAllocation

// System owns the filesystem-wide state that lives outside any file: the
// wandering superblock, the reusable allocator, the journal, the free pile,
// and the persisted keyed map. It is created once at format and located on
// every mount.
type System struct {
	storage   core.Storage
	log       logrus.FieldLogger
	allocator *alloc.ReusableAllocator
	state     *superblock.FilesystemState
	manager   *superblock.Manager
	journal   *journal.Journal
	freePile  *freepile.Manager
	nodes     *tree.StorageNodeStorage
}

// NewSystem builds a system over storage with logging discarded.
func NewSystem(storage Storage) *System {
	return NewSystemWithLogger(storage, discardLogger())
}

// NewSystemWithLogger builds a system with an injected logger.
func NewSystemWithLogger(storage Storage, log logrus.FieldLogger) *System {
	s := &System{
		storage:   storage,
		log:       log,
		allocator: alloc.NewReusableAllocator(storage, log),
		state:     superblock.NewFilesystemState(),
	}

	s.journal = journal.New(storage, s.allocator)
	s.freePile = freepile.New(storage, s.allocator)
	s.nodes = tree.NewStorageNodeStorage(storage, s.allocator)

	s.manager = superblock.NewManager(storage, s.allocator, s.state, superblock.Hooks{
		PrepareFresh: s.prepareFresh,
		BeforeSave:   s.beforeSave,
		AfterLocate:  s.afterLocate,
	}, log)

	return s
}

// Allocator exposes the system's block allocator.
func (s *System) Allocator() core.BlockAllocator {
	return s.allocator
}

// Location returns the sector holding the live superblock payload.
func (s *System) Location() SectorAddress {
	return s.manager.Location()
}

// Timestamp returns the live superblock's logical timestamp.
func (s *System) Timestamp() uint32 {
	return s.manager.Timestamp()
}

// TreeRoot returns the block holding the keyed map's root, InvalidBlock
// before the first Put.
func (s *System) TreeRoot() uint32 {
	return s.state.Tree
}

// prepareFresh allocates the journal and free pile heads for a fresh
// device and records them in the payload. The payload's allocator field is
// not filled in here or elsewhere in System; Create and Locate rebuild the
// allocator's map by scanning block heads.
func (s *System) prepareFresh() error {
	journalBlock, err := s.allocator.Allocate(core.BlockTypeJournal)
	if err != nil {
		return err
	}
	if err := s.journal.Format(journalBlock.Block); err != nil {
		return err
	}

	pileBlock, err := s.allocator.Allocate(core.BlockTypeFree)
	if err != nil {
		return err
	}
	if err := s.freePile.Format(pileBlock.Block); err != nil {
		return err
	}

	s.state.Tree = core.InvalidBlock
	s.state.Journal = journalBlock.Block
	s.state.FreePile = pileBlock.Block
	return nil
}

// beforeSave snapshots the tree cursors into the payload.
func (s *System) beforeSave() error {
	nodeState := s.nodes.State()
	s.state.Leaf = nodeState.Leaf
	s.state.Index = nodeState.Index
	return nil
}

// afterLocate re-binds the journal, free pile and tree to the recovered
// payload.
func (s *System) afterLocate() error {
	s.nodes.SetState(tree.StorageState{Leaf: s.state.Leaf, Index: s.state.Index})

	if core.IsValidBlock(s.state.Journal) {
		if err := s.journal.Locate(s.state.Journal); err != nil {
			return err
		}
	}

	if core.IsValidBlock(s.state.FreePile) {
		return s.freePile.Locate(s.state.FreePile)
	}

	return nil
}

// Create formats the system area of a fresh device: the superblock chain,
// both anchors, the journal and the free pile.
func (s *System) Create() error {
	if err := s.allocator.Initialize(); err != nil {
		return err
	}
	return s.manager.Create()
}

// Locate mounts the system area: scan the device for the allocator map,
// then walk the anchors to the live superblock.
func (s *System) Locate() error {
	if err := s.allocator.Initialize(); err != nil {
		return err
	}
	return s.manager.Locate()
}

// Save persists the current state, advancing the wandering superblock one
// sector.
func (s *System) Save() error {
	return s.manager.Save()
}

// AppendJournal records an allocation intent.
func (s *System) AppendJournal(entry JournalEntry) error {
	return s.journal.Append(entry)
}

// AppendFreePile records a block exchange.
func (s *System) AppendFreePile(entry FreePileEntry) error {
	return s.freePile.Append(entry)
}

// Put inserts or overwrites a key in the persisted keyed map and records
// the new root in the superblock state. Save persists it.
func (s *System) Put(key, value uint64) error {
	cache := tree.NewNodeCache(s.nodes, 8)

	t := tree.NewPersistedTree(cache, s.treeRootAddress())
	root, err := t.Add(key, value)
	if err != nil {
		return err
	}

	s.state.Tree = root.Block
	return nil
}

// Get reads a key from the persisted keyed map, zero when absent.
func (s *System) Get(key uint64) (uint64, error) {
	cache := tree.NewNodeCache(s.nodes, 8)

	t := tree.NewPersistedTree(cache, s.treeRootAddress())
	return t.Find(key)
}

// treeRootAddress recovers the exact root address inside the root block by
// scanning for the newest serialized head.
func (s *System) treeRootAddress() core.BlockAddress {
	if !core.IsValidBlock(s.state.Tree) {
		return core.InvalidAddress()
	}

	address, err := s.nodes.FindHead(s.state.Tree)
	if err != nil || !address.Valid() {
		return core.InvalidAddress()
	}
	return address
}

// Reclaim sweeps the device: every block that scans as taken but is not
// reachable from the layout's extents, the superblock chain, the journal or
// the free pile is freed back to the allocator.
func (s *System) Reclaim(l *FileLayout) error {
	g := s.storage.Geometry()
	tracker := alloc.NewTakenBlockTracker(g.NumberOfBlocks)

	for i := range l.allocations {
		allocation := l.allocations[i]
		for b := allocation.Index.Start; b < allocation.Index.Start+allocation.Index.NBlocks; b++ {
			tracker.Mark(b)
		}
		for b := allocation.Data.Start; b < allocation.Data.Start+allocation.Data.NBlocks; b++ {
			tracker.Mark(b)
		}
	}

	if err := s.manager.WalkChain(tracker.Mark); err != nil {
		return err
	}

	if err := s.markChain(s.state.Journal, tracker); err != nil {
		return err
	}
	if err := s.markChain(s.state.FreePile, tracker); err != nil {
		return err
	}
	if core.IsValidBlock(s.state.Tree) {
		tracker.Mark(s.state.Tree)
	}

	// Tree chains are only linked forward once full; walk them backward
	// through their head links from the live cursors.
	if err := s.markChainBackward(s.state.Leaf.Block, tracker); err != nil {
		return err
	}
	if err := s.markChainBackward(s.state.Index.Block, tracker); err != nil {
		return err
	}

	for block := uint32(3); block < g.NumberOfBlocks; block++ {
		if !tracker.IsFree(block) {
			continue
		}

		taken, err := s.allocator.IsTaken(block)
		if err != nil {
			return err
		}

		if taken {
			s.log.WithField("block", block).Debug("reclaiming")
			if err := s.allocator.Free(block, 0); err != nil {
				return err
			}
		}
	}

	return nil
}

// markChainBackward walks a chain by the reverse links in its block heads.
func (s *System) markChainBackward(block uint32, tracker *alloc.TakenBlockTracker) error {
	g := s.storage.Geometry()

	for steps := uint32(0); core.IsValidBlock(block) && block < g.NumberOfBlocks && steps < g.NumberOfBlocks; steps++ {
		tracker.Mark(block)

		buf := utils.GetBuffer(core.BlockHeadSize)
		if err := s.storage.Read(core.BlockAddress{Block: block, Position: 0}, buf); err != nil {
			utils.ReleaseBuffer(buf)
			return utils.StorageError("chain head read", err)
		}
		head := core.DecodeBlockHead(buf)
		utils.ReleaseBuffer(buf)

		if !head.Valid() {
			break
		}
		block = head.LinkedBlock
	}

	return nil
}

// markChain walks a chained structure by its forward links, marking each
// block.
func (s *System) markChain(block uint32, tracker *alloc.TakenBlockTracker) error {
	g := s.storage.Geometry()

	for steps := uint32(0); core.IsValidBlock(block) && steps < g.NumberOfBlocks; steps++ {
		tracker.Mark(block)

		buf := utils.GetBuffer(core.BlockTailSize)
		address := core.TailDataOf(block, g, core.BlockTailSize)
		if err := s.storage.Read(address, buf); err != nil {
			utils.ReleaseBuffer(buf)
			return utils.StorageError("chain tail read", err)
		}
		tail := core.DecodeBlockTail(buf)
		utils.ReleaseBuffer(buf)

		block = tail.LinkedBlock
	}

	return nil
}

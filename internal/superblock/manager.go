package superblock

import (
	"github.com/sirupsen/logrus"

	"github.com/scigolib/phylum/internal/core"
	"github.com/scigolib/phylum/internal/utils"
)

const chainLength = 2

// Payload is the state a Manager wanders across the device. It is encoded
// immediately after the embedded link in every saved record.
type Payload interface {
	Size() uint32
	EncodeTo(buf []byte)
	DecodeFrom(buf []byte)
}

// Hooks let the owner react to manager lifecycle points. Any hook may be
// left nil.
type Hooks struct {
	// PrepareFresh runs at create time before the first payload write, so
	// the owner can allocate companion blocks and seed the payload.
	PrepareFresh func() error
	// BeforeSave runs before each save, so the owner can snapshot live
	// state into the payload.
	BeforeSave func() error
	// AfterLocate runs after the payload is read back.
	AfterLocate func() error
}

// Manager is the wandering superblock manager. It owns the current location
// of the live payload; Save is the only mutator.
type Manager struct {
	storage  core.Storage
	blocks   core.BlockAllocator
	log      logrus.FieldLogger
	hooks    Hooks
	location core.SectorAddress
	link     Link
	payload  Payload
}

// NewManager builds a manager for the given payload.
func NewManager(storage core.Storage, blocks core.BlockAllocator, payload Payload,
	hooks Hooks, log logrus.FieldLogger) *Manager {
	return &Manager{
		storage:  storage,
		blocks:   blocks,
		log:      log,
		hooks:    hooks,
		location: core.InvalidSectorAddress(),
		link:     NewLink(core.BlockTypeSuperBlock),
		payload:  payload,
	}
}

// Location returns the sector currently holding the live payload.
func (m *Manager) Location() core.SectorAddress {
	return m.location
}

// Timestamp returns the live payload's logical timestamp.
func (m *Manager) Timestamp() uint32 {
	return m.link.Head.Timestamp
}

// findLink scans a block's sectors for the newest valid link, accumulating
// into found/where. Scanning stops at the first erased sector.
func (m *Manager) findLink(block uint32, found *Link, where *core.SectorAddress) error {
	buf := utils.GetBuffer(LinkSize)
	defer utils.ReleaseBuffer(buf)

	for s := uint16(0); uint32(s) < m.storage.Geometry().SectorsPerBlock(); s++ {
		addr := m.sectorStart(core.SectorAddress{Block: block, Sector: s})
		if err := m.storage.Read(addr, buf); err != nil {
			return utils.StorageError("superblock link read", err)
		}

		var link Link
		link.DecodeFrom(buf)

		if !link.Valid() {
			break
		}

		if found.Head.Timestamp == core.InvalidTimestamp || link.Head.Timestamp > found.Head.Timestamp {
			*found = link
			*where = core.SectorAddress{Block: block, Sector: s}
		}
	}

	return nil
}

// walk follows the anchor chain. With desired set it stops at the link whose
// chained block equals desired, leaving found/where on that link; with
// desired invalid it runs to the end of the chain.
func (m *Manager) walk(desired uint32, found *Link, where *core.SectorAddress) error {
	*found = Link{}
	found.Head.Timestamp = core.InvalidTimestamp
	*where = core.InvalidSectorAddress()

	for _, anchor := range AnchorBlocks {
		if err := m.findLink(anchor, found, where); err != nil {
			return err
		}
	}

	if !where.Valid() {
		m.log.Debug("superblock walk: no link in anchor area")
		return utils.CorruptError("superblock anchor walk")
	}

	if desired != core.InvalidBlock && found.Chained == desired {
		return nil
	}

	for i := 0; i < chainLength+1; i++ {
		if !core.IsValidBlock(found.Chained) {
			break
		}

		if err := m.findLink(found.Chained, found, where); err != nil {
			return err
		}

		if !where.Valid() {
			break
		}

		if found.Chained == desired {
			return nil
		}
	}

	if desired != core.InvalidBlock {
		m.log.WithField("desired", desired).Debug("superblock walk: failed to find")
		return utils.CorruptError("superblock chain walk")
	}

	return nil
}

// Locate walks from the anchors to the live payload and reads it.
func (m *Manager) Locate() error {
	var link Link
	var where core.SectorAddress

	m.location = core.InvalidSectorAddress()

	if err := m.walk(core.InvalidBlock, &link, &where); err != nil {
		return err
	}

	m.location = where

	if err := m.readPayload(m.location); err != nil {
		return err
	}

	if m.hooks.AfterLocate != nil {
		return m.hooks.AfterLocate()
	}

	return nil
}

// Create formats a fresh chain: the payload block plus chain-length link
// blocks, then both anchors. Timestamps decrease down the chain and across
// the anchors, so residual blocks from an earlier life always lose the
// comparison.
func (m *Manager) Create() error {
	superBlockBlock := core.InvalidBlock

	link := NewLink(core.BlockTypeSuperBlockLink)
	link.Head.Fill()
	link.Head.Timestamp = chainLength + 2 + 1
	link.Head.Age = 0

	for i := 0; i < chainLength+1; i++ {
		t := core.BlockTypeSuperBlockLink
		if i == 0 {
			t = core.BlockTypeSuperBlock
		}

		allocated, err := m.blocks.Allocate(t)
		if err != nil {
			return err
		}

		if err := m.storage.Erase(allocated.Block); err != nil {
			return utils.StorageError("superblock create erase", err)
		}

		// The first block is where the payload itself goes.
		if i == 0 {
			superBlockBlock = allocated.Block
			m.link = link
			m.link.Head.Type = core.BlockTypeSuperBlock
		} else {
			if err := m.writeLink(core.SectorAddress{Block: allocated.Block, Sector: 0}, &link); err != nil {
				return err
			}
		}

		link.Chained = allocated.Block
		link.Head.Timestamp--
	}

	// Overwrite both anchors so an older one cannot confuse us.
	for _, anchor := range AnchorBlocks {
		link.Head.Type = core.BlockTypeAnchor

		if err := m.storage.Erase(anchor); err != nil {
			return utils.StorageError("superblock anchor erase", err)
		}

		if err := m.writeLink(core.SectorAddress{Block: anchor, Sector: 0}, &link); err != nil {
			return err
		}

		link.Head.Timestamp--
	}

	if m.hooks.PrepareFresh != nil {
		if err := m.hooks.PrepareFresh(); err != nil {
			return err
		}
	}

	if err := m.writePayload(core.SectorAddress{Block: superBlockBlock, Sector: 0}); err != nil {
		return err
	}

	return m.Locate()
}

// Save advances the payload one sector, rolling blocks and anchors as they
// fill.
func (m *Manager) Save() error {
	if m.hooks.BeforeSave != nil {
		if err := m.hooks.BeforeSave(); err != nil {
			return err
		}
	}

	m.link.Head.Timestamp++

	relocated, err := m.rollover(m.location, pendingPayload, nil)
	if err != nil {
		return err
	}

	m.location = relocated
	return nil
}

// pending selects what rollover writes at the relocated sector.
type pending int

const (
	pendingPayload pending = iota
	pendingLink
)

// rollover writes the pending record at the sector after addr, relocating to
// the alternate anchor or to a freshly allocated block when the current one
// is full. Relocating a chain block recursively rolls the link one level up,
// ending at the anchors.
func (m *Manager) rollover(addr core.SectorAddress, what pending, link *Link) (core.SectorAddress, error) {
	addr.Sector++

	if uint32(addr.Sector) < m.storage.Geometry().SectorsPerBlock() {
		return addr, m.writePending(addr, what, link)
	}

	// Anchor blocks roll over by alternating.
	for i, anchor := range AnchorBlocks {
		if anchor != addr.Block {
			continue
		}

		relocated := core.SectorAddress{
			Block:  AnchorBlocks[(i+1)%len(AnchorBlocks)],
			Sector: 0,
		}

		if err := m.storage.Erase(relocated.Block); err != nil {
			return core.InvalidSectorAddress(), utils.StorageError("anchor rollover erase", err)
		}

		return relocated, m.writePending(relocated, what, link)
	}

	t := core.BlockTypeSuperBlock
	if what == pendingLink {
		t = core.BlockTypeSuperBlockLink
	}

	allocated, err := m.blocks.Allocate(t)
	if err != nil {
		return core.InvalidSectorAddress(), err
	}

	relocated := core.SectorAddress{Block: allocated.Block, Sector: 0}
	if err := m.storage.Erase(relocated.Block); err != nil {
		return core.InvalidSectorAddress(), utils.StorageError("rollover erase", err)
	}

	if err := m.writePending(relocated, what, link); err != nil {
		return core.InvalidSectorAddress(), err
	}

	// Find the chain link that references the now-obsolete block and move
	// it forward too.
	var parent Link
	var previous core.SectorAddress
	if err := m.walk(addr.Block, &parent, &previous); err != nil {
		return core.InvalidSectorAddress(), err
	}

	parent.Head.Timestamp++
	parent.Chained = allocated.Block

	if _, err := m.rollover(previous, pendingLink, &parent); err != nil {
		return core.InvalidSectorAddress(), err
	}

	if err := m.blocks.Free(addr.Block, 0); err != nil {
		return core.InvalidSectorAddress(), err
	}

	return relocated, nil
}

func (m *Manager) writePending(addr core.SectorAddress, what pending, link *Link) error {
	if what == pendingLink {
		return m.writeLink(addr, link)
	}
	return m.writePayload(addr)
}

func (m *Manager) sectorStart(addr core.SectorAddress) core.BlockAddress {
	g := m.storage.Geometry()
	return core.BlockAddress{Block: addr.Block, Position: uint32(addr.Sector) * uint32(g.SectorSize)}
}

func (m *Manager) writeLink(addr core.SectorAddress, link *Link) error {
	buf := utils.GetBuffer(LinkSize)
	defer utils.ReleaseBuffer(buf)
	link.EncodeTo(buf)

	if err := m.storage.Write(m.sectorStart(addr), buf); err != nil {
		return utils.StorageError("superblock link write", err)
	}
	return nil
}

func (m *Manager) writePayload(addr core.SectorAddress) error {
	size := LinkSize + int(m.payload.Size())
	buf := utils.GetBuffer(size)
	defer utils.ReleaseBuffer(buf)

	m.link.EncodeTo(buf[0:LinkSize])
	m.payload.EncodeTo(buf[LinkSize:])

	if err := m.storage.Write(m.sectorStart(addr), buf); err != nil {
		return utils.StorageError("superblock payload write", err)
	}
	return nil
}

func (m *Manager) readPayload(addr core.SectorAddress) error {
	size := LinkSize + int(m.payload.Size())
	buf := utils.GetBuffer(size)
	defer utils.ReleaseBuffer(buf)

	if err := m.storage.Read(m.sectorStart(addr), buf); err != nil {
		return utils.StorageError("superblock payload read", err)
	}

	m.link.DecodeFrom(buf[0:LinkSize])
	m.payload.DecodeFrom(buf[LinkSize:])
	return nil
}

// WalkChain marks every block of the live chain, anchors included, into the
// tracker. The reclaimer calls this before sweeping.
func (m *Manager) WalkChain(mark func(block uint32)) error {
	var link Link
	var where core.SectorAddress

	link.Head.Timestamp = core.InvalidTimestamp
	where = core.InvalidSectorAddress()

	for _, anchor := range AnchorBlocks {
		mark(anchor)
		if err := m.findLink(anchor, &link, &where); err != nil {
			return err
		}
	}

	for i := 0; i < chainLength+1 && where.Valid(); i++ {
		if !core.IsValidBlock(link.Chained) {
			break
		}
		mark(link.Chained)
		if err := m.findLink(link.Chained, &link, &where); err != nil {
			return err
		}
	}

	return nil
}

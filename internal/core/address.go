package core

import "fmt"

// SectorAddress names a sector within a block.
type SectorAddress struct {
	Block  uint32
	Sector uint16
}

// InvalidSectorAddress returns the distinguished invalid sector address.
func InvalidSectorAddress() SectorAddress {
	return SectorAddress{Block: InvalidBlock, Sector: InvalidSector}
}

// Valid reports whether both coordinates are present.
func (a SectorAddress) Valid() bool {
	return a.Block != InvalidBlock && a.Sector != InvalidSector
}

func (a SectorAddress) String() string {
	if !a.Valid() {
		return "<invalid>"
	}
	return fmt.Sprintf("%d:%02d", a.Block, a.Sector)
}

// BlockAddress names a byte position within a block.
type BlockAddress struct {
	Block    uint32
	Position uint32
}

// InvalidAddress returns the distinguished invalid block address.
func InvalidAddress() BlockAddress {
	return BlockAddress{Block: InvalidBlock, Position: InvalidPosition}
}

// Valid reports whether both coordinates are present.
func (a BlockAddress) Valid() bool {
	return a.Block != InvalidBlock && a.Position != InvalidPosition
}

// Zero reports whether this is the device's first byte; the file index uses
// the zero address as a second "not written" marker since block zero never
// holds index records.
func (a BlockAddress) Zero() bool {
	return a.Block == 0 && a.Position == 0
}

// RemainingInSector returns how many bytes remain before the next sector
// boundary.
func (a BlockAddress) RemainingInSector(g Geometry) uint32 {
	return uint32(g.SectorSize) - a.Position%uint32(g.SectorSize)
}

// RemainingInBlock returns how many bytes remain in the block.
func (a BlockAddress) RemainingInBlock(g Geometry) uint32 {
	return g.BlockSize() - a.Position
}

// SectorOffset returns the byte offset within the containing sector.
func (a BlockAddress) SectorOffset(g Geometry) uint32 {
	return a.Position % uint32(g.SectorSize)
}

// SectorNumber returns the index of the containing sector.
func (a BlockAddress) SectorNumber(g Geometry) uint16 {
	return uint16(a.Position / uint32(g.SectorSize))
}

// Sector returns the containing sector's address.
func (a BlockAddress) Sector(g Geometry) SectorAddress {
	return SectorAddress{Block: a.Block, Sector: a.SectorNumber(g)}
}

// Add advances the position by n bytes.
func (a *BlockAddress) Add(n uint32) {
	a.Position += n
}

// Advance returns a copy advanced by n bytes.
func (a BlockAddress) Advance(n uint32) BlockAddress {
	return BlockAddress{Block: a.Block, Position: a.Position + n}
}

// BeginningOfBlock reports whether the address sits at the block head.
func (a BlockAddress) BeginningOfBlock() bool {
	return a.Position == 0
}

// Beginning returns the first byte of the containing block.
func (a BlockAddress) Beginning() BlockAddress {
	return BlockAddress{Block: a.Block, Position: 0}
}

// FindRoom ensures the next n bytes fit in one sector, advancing past the
// current sector's remainder when they do not. Returns false when the block
// itself cannot hold n more bytes. n must not exceed the sector size.
func (a *BlockAddress) FindRoom(g Geometry, n uint32) bool {
	if n > uint32(g.SectorSize) {
		return false
	}

	if n > a.RemainingInBlock(g) {
		return false
	}

	if remaining := a.RemainingInSector(g); remaining < n {
		a.Position += remaining
	}

	return true
}

// TailSector reports whether the position lies within the block's final
// sector.
func (a BlockAddress) TailSector(g Geometry) bool {
	return a.Position >= g.BlockSize()-uint32(g.SectorSize)
}

// TailSectorOf returns the first byte of a block's tail sector.
func TailSectorOf(block uint32, g Geometry) BlockAddress {
	return BlockAddress{Block: block, Position: g.BlockSize() - uint32(g.SectorSize)}
}

// TailDataOf returns the address where a trailer of the given size begins.
func TailDataOf(block uint32, g Geometry, size uint32) BlockAddress {
	return BlockAddress{Block: block, Position: g.BlockSize() - size}
}

// AddressFromValue unpacks an address packed with Value.
func AddressFromValue(value uint64) BlockAddress {
	return BlockAddress{
		Block:    uint32(value >> 32),
		Position: uint32(value),
	}
}

// Value packs the address into a single comparable integer.
func (a BlockAddress) Value() uint64 {
	return uint64(a.Block)<<32 | uint64(a.Position)
}

func (a BlockAddress) String() string {
	if !a.Valid() {
		return "<invalid>"
	}
	return fmt.Sprintf("%d:%04d", a.Block, a.Position)
}

// IsValidBlock reports whether block is usable as a chain link target. Block
// zero holds the file table and is never linked to.
func IsValidBlock(block uint32) bool {
	return block != InvalidBlock && block != 0
}

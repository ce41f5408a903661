// Package core provides the low-level vocabulary of the phylum filesystem:
// device geometry, block and sector addressing, block head and tail records,
// and the storage backend contract. It performs no allocation decisions and
// no file-level logic.
package core

// SectorSize is the smallest read/write unit, fixed across all supported
// media.
const SectorSize = 512

// Invalid sentinels. Erased flash reads back all ones, so the all-ones value
// doubles as "not present" in persisted records.
const (
	InvalidBlock    = ^uint32(0)
	InvalidSector   = ^uint16(0)
	InvalidPosition = ^uint32(0)
)

// Geometry describes a device: erase-block count and the page/sector
// subdivision of each block. It is immutable for the life of a device.
type Geometry struct {
	First          uint32
	NumberOfBlocks uint32
	PagesPerBlock  uint16
	SectorsPerPage uint16
	SectorSize     uint16
}

// NewGeometry builds a geometry beginning at block zero.
func NewGeometry(numberOfBlocks uint32, pagesPerBlock, sectorsPerPage, sectorSize uint16) Geometry {
	return Geometry{
		NumberOfBlocks: numberOfBlocks,
		PagesPerBlock:  pagesPerBlock,
		SectorsPerPage: sectorsPerPage,
		SectorSize:     sectorSize,
	}
}

// SectorsPerBlock returns the number of sectors in one erase block.
func (g Geometry) SectorsPerBlock() uint32 {
	return uint32(g.PagesPerBlock) * uint32(g.SectorsPerPage)
}

// NumberOfSectors returns the total sector count of the device.
func (g Geometry) NumberOfSectors() uint32 {
	return g.NumberOfBlocks * g.SectorsPerBlock()
}

// BlockSize returns the erase-block size in bytes.
func (g Geometry) BlockSize() uint32 {
	return g.SectorsPerBlock() * uint32(g.SectorSize)
}

// Size returns the total device size in bytes.
func (g Geometry) Size() uint64 {
	return uint64(g.BlockSize()) * uint64(g.NumberOfBlocks)
}

// Valid reports whether every dimension is non-zero.
func (g Geometry) Valid() bool {
	return g.NumberOfBlocks > 0 && g.PagesPerBlock > 0 && g.SectorsPerPage > 0 && g.SectorSize > 0
}

// ContainsSector reports whether the sector address is on the device.
func (g Geometry) ContainsSector(addr SectorAddress) bool {
	return addr.Block < g.NumberOfBlocks && uint32(addr.Sector) < g.SectorsPerBlock()
}

// Contains reports whether the block address is on the device.
func (g Geometry) Contains(addr BlockAddress) bool {
	return addr.Block < g.NumberOfBlocks && addr.Position < g.BlockSize()
}

// BlockTailAddress returns the address where a trailer of size sz must begin
// inside the block holding addr.
func (g Geometry) BlockTailAddress(addr BlockAddress, sz uint32) BlockAddress {
	return BlockAddress{Block: addr.Block, Position: g.BlockSize() - sz}
}

// FromPhysicalBlockLayout derives a filesystem geometry from a raw physical
// sector count, grouping sectors into 4-page, 4-sector erase units.
func FromPhysicalBlockLayout(numberOfPhysicalBlocks uint32, sectorSize uint16) Geometry {
	g := Geometry{PagesPerBlock: 4, SectorsPerPage: 4, SectorSize: sectorSize}
	g.NumberOfBlocks = numberOfPhysicalBlocks / (uint32(g.SectorsPerPage) * uint32(g.PagesPerBlock))
	return g
}

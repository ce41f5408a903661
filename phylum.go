// Package phylum is an embedded filesystem for raw NOR/NAND serial flash
// and SD cards. A device is formatted with a small fixed set of named files
// whose maximum sizes are declared up front; each file owns a data extent it
// appends into log-structured, plus an index extent holding a sparse
// position index that accelerates seeks. Filesystem-wide state lives in a
// wandering superblock anchored at two fixed blocks, and an age-aware
// allocator levels wear across the device.
//
// The storage driver is consumed through the Storage interface; in-memory
// and image-file backends ship with the library.
package phylum

import (
	"hash/crc32"

	"github.com/scigolib/phylum/internal/core"
)

// Core vocabulary, re-exported for backend implementers and tooling.
type (
	// Geometry describes a device's block and sector dimensions.
	Geometry = core.Geometry

	// SectorAddress names a sector within a block.
	SectorAddress = core.SectorAddress

	// BlockAddress names a byte position within a block.
	BlockAddress = core.BlockAddress

	// BlockType tags the role of a block.
	BlockType = core.BlockType

	// Extent is a contiguous run of blocks.
	Extent = core.Extent

	// FileAllocation pairs a file's index and data extents.
	FileAllocation = core.FileAllocation

	// Storage is the device driver contract.
	Storage = core.Storage

	// MemoryStorage is the RAM-backed reference backend.
	MemoryStorage = core.MemoryStorage

	// FileStorage is the raw-image-file backend.
	FileStorage = core.FileStorage

	// SectorCachingStorage coalesces single-sector read-modify-writes.
	SectorCachingStorage = core.SectorCachingStorage
)

// SectorSize is the fixed read/write unit.
const SectorSize = core.SectorSize

// InvalidBlock is the sentinel block index.
const InvalidBlock = core.InvalidBlock

// NewGeometry builds a geometry beginning at block zero.
func NewGeometry(numberOfBlocks uint32, pagesPerBlock, sectorsPerPage, sectorSize uint16) Geometry {
	return core.NewGeometry(numberOfBlocks, pagesPerBlock, sectorsPerPage, sectorSize)
}

// NewMemoryStorage builds the RAM-backed backend.
func NewMemoryStorage(geometry Geometry) *MemoryStorage {
	return core.NewMemoryStorage(geometry)
}

// NewFileStorage builds the raw-image backend.
func NewFileStorage(path string, geometry Geometry, readonly bool) *FileStorage {
	return core.NewFileStorage(path, geometry, readonly)
}

// NewSectorCachingStorage wraps target with a one-sector cache.
func NewSectorCachingStorage(target Storage) *SectorCachingStorage {
	return core.NewSectorCachingStorage(target)
}

// GeometryFromImageSize derives a geometry from a raw image's byte size.
func GeometryFromImageSize(size int64, sectorSize uint16) Geometry {
	return core.GeometryFromImageSize(size, sectorSize)
}

// InvalidAddress returns the distinguished invalid block address.
func InvalidAddress() BlockAddress {
	return core.InvalidAddress()
}

// FileID derives a file's stable identifier from its name.
func FileID(name string) uint32 {
	return crc32.ChecksumIEEE([]byte(name))
}

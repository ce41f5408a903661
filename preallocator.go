package phylum

import (
	"github.com/sirupsen/logrus"

	"github.com/scigolib/phylum/internal/index"
	"github.com/scigolib/phylum/internal/utils"
)

func indexBlockOverhead(g Geometry) uint64 {
	return SectorSize + index.BlockTailSize
}

func effectiveIndexBlockSize(g Geometry) uint64 {
	return uint64(g.BlockSize()) - indexBlockOverhead(g)
}

// Scale units for declared file sizes. Small devices declare in KiB, large
// ones in MiB; Scale on the preallocator reports which applies.
const (
	Kilobyte = uint64(1024)
	Megabyte = uint64(1024 * 1024)
)

// FilePreallocator carves the device into the per-file extents the layout
// was formatted with. The cursor starts at block 2, past the file table and
// the first anchor.
type FilePreallocator struct {
	geometry Geometry
	head     uint32
	log      logrus.FieldLogger
}

// NewFilePreallocator builds a preallocator over the device geometry.
func NewFilePreallocator(geometry Geometry, log logrus.FieldLogger) *FilePreallocator {
	return &FilePreallocator{
		geometry: geometry,
		head:     2,
		log:      log,
	}
}

// Scale returns the unit a declared MaximumSize is multiplied by on this
// device.
func (p *FilePreallocator) Scale() uint64 {
	if p.geometry.Size() < 1024*Megabyte {
		return Kilobyte
	}
	return Megabyte
}

// Allocate carves the index and data extents for one descriptor and
// advances the cursor. Descriptors are allocated in declaration order; only
// the final descriptor may declare size zero, meaning the rest of the
// device.
func (p *FilePreallocator) Allocate(fd FileDescriptor) (FileAllocation, error) {
	var nblocks, indexBlocks uint32

	if fd.MaximumSize > 0 {
		required, err := p.blocksRequiredForData(fd.MaximumSize)
		if err != nil {
			return FileAllocation{}, err
		}
		nblocks = required
		indexBlocks = p.blocksRequiredForIndex(nblocks) * 2
	} else {
		if p.geometry.NumberOfBlocks <= p.head+1 {
			return FileAllocation{}, utils.WrapError("preallocate", utils.ErrOutOfSpace, nil)
		}
		nblocks = p.geometry.NumberOfBlocks - p.head - 1
		indexBlocks = p.blocksRequiredForIndex(nblocks) * 2
		nblocks -= indexBlocks
	}

	if nblocks == 0 {
		return FileAllocation{}, utils.WrapError("preallocate", utils.ErrOutOfSpace, nil)
	}

	indexExtent := Extent{Start: p.head, NBlocks: indexBlocks}
	p.head += indexExtent.NBlocks
	if !p.geometry.Contains(BlockAddress{Block: p.head, Position: 0}) {
		return FileAllocation{}, utils.WrapError("preallocate index", utils.ErrOutOfSpace, nil)
	}

	dataExtent := Extent{Start: p.head, NBlocks: nblocks}
	p.head += dataExtent.NBlocks
	if p.head > p.geometry.NumberOfBlocks {
		return FileAllocation{}, utils.WrapError("preallocate data", utils.ErrOutOfSpace, nil)
	}

	allocation := FileAllocation{Index: indexExtent, Data: dataExtent}

	p.log.WithFields(logrus.Fields{"name": fd.Name, "allocation": allocation}).
		Debug("preallocated")

	return allocation, nil
}

// blocksRequiredForIndex sizes an index extent for a data extent of nblocks,
// one record per IndexFrequency blocks.
func (p *FilePreallocator) blocksRequiredForIndex(nblocks uint32) uint32 {
	indicesPerBlock := effectiveIndexBlockSize(p.geometry) / index.RecordSize
	indices := uint64(nblocks/IndexFrequency) + 1
	blocks := indices / indicesPerBlock
	if blocks == 0 {
		blocks = 1
	}
	return uint32(blocks)
}

// blocksRequiredForData scales the declared size by the device unit and
// divides by the usable bytes per block.
func (p *FilePreallocator) blocksRequiredForData(opaqueSize uint64) (uint32, error) {
	size, err := utils.SafeMultiply(opaqueSize, p.Scale())
	if err != nil {
		return 0, utils.WrapError("declared size", utils.ErrInvalidArgument, err)
	}
	return uint32(size/effectiveFileBlockSize(p.geometry)) + 1, nil
}

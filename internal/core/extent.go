package core

import "fmt"

// Extent is a contiguous run of blocks owned by one logical object.
type Extent struct {
	Start   uint32
	NBlocks uint32
}

// Contains reports whether block lies in the extent.
func (e Extent) Contains(block uint32) bool {
	return block >= e.Start && block < e.Start+e.NBlocks
}

// ContainsAddress reports whether the address lies in the extent.
func (e Extent) ContainsAddress(addr BlockAddress) bool {
	return e.Contains(addr.Block)
}

// Empty reports whether the extent has no blocks.
func (e Extent) Empty() bool {
	return e.NBlocks == 0
}

// Beginning returns the extent's first byte.
func (e Extent) Beginning() BlockAddress {
	return BlockAddress{Block: e.Start, Position: 0}
}

// FinalSector returns the first byte of the last block's tail sector.
func (e Extent) FinalSector(g Geometry) BlockAddress {
	return BlockAddress{Block: e.Start + e.NBlocks - 1, Position: g.BlockSize() - uint32(g.SectorSize)}
}

// End returns the first byte past the extent.
func (e Extent) End(g Geometry) BlockAddress {
	return BlockAddress{Block: e.Start + e.NBlocks, Position: 0}
}

// MiddleBlock returns the block the binary search probes next.
func (e Extent) MiddleBlock() uint32 {
	return e.Start + e.NBlocks/2
}

// FirstHalf returns the blocks before the middle.
func (e Extent) FirstHalf() Extent {
	return Extent{Start: e.Start, NBlocks: e.NBlocks / 2}
}

// SecondHalf returns the blocks after the middle.
func (e Extent) SecondHalf() Extent {
	half := e.NBlocks / 2
	return Extent{Start: e.Start + half + 1, NBlocks: e.NBlocks - half - 1}
}

func (e Extent) String() string {
	return fmt.Sprintf("Extent<%d - %d l=%d>", e.Start, e.Start+e.NBlocks, e.NBlocks)
}

// FileAllocation pairs the two extents every preallocated file owns.
type FileAllocation struct {
	Index Extent
	Data  Extent
}

func (f FileAllocation) String() string {
	return fmt.Sprintf("FileAllocation<index=%v data=%v>", f.Index, f.Data)
}

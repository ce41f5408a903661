package phylum

// MaximumNameLength bounds file names; names are stored NUL-padded in the
// file table.
const MaximumNameLength = 16

// WriteStrategy selects what a file does when its data extent fills.
type WriteStrategy uint8

// Write strategies.
const (
	// StrategyAppend stops accepting writes at the extent's edge.
	StrategyAppend WriteStrategy = iota
	// StrategyRolling wraps to the extent's start, dropping the oldest
	// data.
	StrategyRolling
)

// OpenMode selects reader or writer behavior for an opened file.
type OpenMode uint8

// Open modes.
const (
	OpenRead OpenMode = iota
	OpenWrite
)

// FileDescriptor declares one file at format time. MaximumSize is in scaled
// units (see FilePreallocator.Scale); zero on the final descriptor means
// "take the rest of the device".
type FileDescriptor struct {
	Name        string
	MaximumSize uint64
	Strategy    WriteStrategy
}

// Compatible reports whether a mounted table entry can satisfy this
// descriptor.
func (fd FileDescriptor) Compatible(other FileDescriptor) bool {
	return fd.Name == other.Name && fd.MaximumSize == other.MaximumSize
}

// FileStat reports a file's size and version.
type FileStat struct {
	Size    uint64
	Version uint32
}

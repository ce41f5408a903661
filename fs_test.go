package phylum

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scigolib/phylum/internal/utils"
)

func standardDescriptors() []FileDescriptor {
	return []FileDescriptor{
		{Name: "system", MaximumSize: 100},
		{Name: "startup.log", MaximumSize: 100},
		{Name: "now.log", MaximumSize: 100},
		{Name: "emergency.log", MaximumSize: 100},
		{Name: "data.fk", MaximumSize: 0},
	}
}

func formatted(t *testing.T) (*FileLayout, *MemoryStorage) {
	t.Helper()

	storage := NewMemoryStorage(NewGeometry(1024, 4, 4, 512))
	require.NoError(t, storage.Open())

	fs := NewFileLayout(storage)
	require.NoError(t, fs.Format(standardDescriptors()))
	return fs, storage
}

var pattern = []byte{'a', 's', 'd', 'f'}

func patternBytes(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = pattern[i%len(pattern)]
	}
	return buf
}

// TestSmallFile is the smallest end-to-end path: one short write, close,
// reopen, read back.
func TestSmallFile(t *testing.T) {
	fs, storage := formatted(t)
	defer func() { _ = storage.Close() }()

	file, err := fs.Open("startup.log", OpenWrite)
	require.NoError(t, err)

	n, err := file.Write([]byte("Jacob"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.NoError(t, file.Close())

	reader, err := fs.Open("startup.log", OpenRead)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), reader.Size())

	buf := make([]byte, 32)
	n, err = reader.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("Jacob"), buf[:5])

	_, err = reader.Read(buf)
	assert.Equal(t, io.EOF, err)
}

// TestTwoSectorWrite crosses one sector boundary: 768 bytes span a sector
// and a half.
func TestTwoSectorWrite(t *testing.T) {
	fs, storage := formatted(t)
	defer func() { _ = storage.Close() }()

	data := patternBytes(768)

	file, err := fs.Open("startup.log", OpenWrite)
	require.NoError(t, err)
	n, err := file.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, file.Close())

	reader, err := fs.Open("startup.log", OpenRead)
	require.NoError(t, err)
	require.Equal(t, uint64(len(data)), reader.Size())

	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, len(data), len(got))

	for i, b := range got {
		require.Equal(t, pattern[i%4], b, "byte %d", i)
	}
}

func writeLargeFile(t *testing.T, fs *FileLayout, name string, total int) {
	t.Helper()

	file, err := fs.Open(name, OpenWrite)
	require.NoError(t, err)

	chunk := patternBytes(8)
	written := 0
	for written < total {
		n, err := file.Write(chunk)
		require.NoError(t, err)
		require.Equal(t, len(chunk), n)
		written += n
	}
	require.NoError(t, file.Close())
}

// TestLargeFileSeekMiddle writes 128 blocks of patterned data and seeks to
// the middle.
func TestLargeFileSeekMiddle(t *testing.T) {
	fs, storage := formatted(t)
	defer func() { _ = storage.Close() }()

	total := int(storage.Geometry().BlockSize()) * 128
	writeLargeFile(t, fs, "data.fk", total)

	reader, err := fs.Open("data.fk", OpenRead)
	require.NoError(t, err)
	require.Equal(t, uint64(total), reader.Size())

	middle := reader.Size() / 2
	require.NoError(t, reader.Seek(middle))
	assert.Equal(t, middle, reader.Tell())

	buf := make([]byte, 64)
	n, err := reader.Read(buf)
	require.NoError(t, err)
	require.NotZero(t, n)
	assert.Equal(t, pattern[middle%4], buf[0])

	// Drain the remainder and confirm every byte keeps phase.
	read := middle + uint64(n)
	for {
		n, err := reader.Read(buf)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		for i := 0; i < n; i++ {
			require.Equal(t, pattern[(read+uint64(i))%4], buf[i])
		}
		read += uint64(n)
	}
	assert.Equal(t, uint64(total), read)
}

// TestSeekEndReadBudget pins the §8-style S4 property: measuring a large
// file costs one index search plus one short block walk, not a scan.
func TestSeekEndReadBudget(t *testing.T) {
	fs, storage := formatted(t)
	defer func() { _ = storage.Close() }()

	total := int(storage.Geometry().BlockSize()) * 128
	writeLargeFile(t, fs, "data.fk", total)

	reader, err := fs.Open("data.fk", OpenRead)
	require.NoError(t, err)

	storage.Log().Enable()
	storage.Log().Clear()

	require.NoError(t, reader.Seek(SeekEnd))
	assert.Equal(t, uint64(total), reader.Size())

	reads := storage.Log().Reads()
	storage.Log().Disable()

	// An index binary search over two blocks plus walking at most
	// IndexFrequency blocks and the final block's sectors. A full scan
	// would cost thousands of reads.
	assert.LessOrEqual(t, reads, 24, "seek-end should be index-assisted")
	assert.Greater(t, reads, 2)
}

// TestAppendDurability reopens a file for appending; the pieces concatenate.
func TestAppendDurability(t *testing.T) {
	fs, storage := formatted(t)
	defer func() { _ = storage.Close() }()

	first := patternBytes(700)
	second := []byte("and then some more")

	file, err := fs.Open("now.log", OpenWrite)
	require.NoError(t, err)
	_, err = file.Write(first)
	require.NoError(t, err)
	require.NoError(t, file.Close())

	// A write-mode open lands at the end of the file.
	file, err = fs.Open("now.log", OpenWrite)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(first)), file.Tell())
	_, err = file.Write(second)
	require.NoError(t, err)
	require.NoError(t, file.Close())

	reader, err := fs.Open("now.log", OpenRead)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(first)+len(second)), reader.Size())

	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(got, append(append([]byte{}, first...), second...)))
}

// TestSparseIndexCorrectness seeks all over a multi-block file and compares
// against the reference content.
func TestSparseIndexCorrectness(t *testing.T) {
	fs, storage := formatted(t)
	defer func() { _ = storage.Close() }()

	total := 300 * 1024
	reference := make([]byte, total)
	for i := range reference {
		reference[i] = byte(i*31 + 7)
	}

	file, err := fs.Open("data.fk", OpenWrite)
	require.NoError(t, err)

	// Uneven chunking exercises sector-boundary handling.
	chunks := []int{1, 13, 512, 700, 4096, 9000}
	offset := 0
	for offset < total {
		size := chunks[offset%len(chunks)]
		if offset+size > total {
			size = total - offset
		}
		n, err := file.Write(reference[offset : offset+size])
		require.NoError(t, err)
		require.Equal(t, size, n)
		offset += size
	}
	require.NoError(t, file.Close())

	reader, err := fs.Open("data.fk", OpenRead)
	require.NoError(t, err)
	require.Equal(t, uint64(total), reader.Size())

	positions := []uint64{0, uint64(total) / 4, uint64(total) / 2, 3 * uint64(total) / 4, uint64(total) - 1}
	for _, p := range positions {
		require.NoError(t, reader.Seek(p))

		buf := make([]byte, 256)
		n, err := reader.Read(buf)
		require.NoError(t, err, "seek %d", p)
		require.NotZero(t, n)

		for i := 0; i < n; i++ {
			require.Equal(t, reference[p+uint64(i)], buf[i], "position %d", p+uint64(i))
		}
	}
}

// failingStorage passes writes through until the fuse burns, then tears the
// last write in half and fails everything after it.
type failingStorage struct {
	*MemoryStorage
	remaining int
	torn      bool
}

func (f *failingStorage) Write(addr BlockAddress, buf []byte) error {
	if f.remaining <= 0 {
		return utils.WrapError("injected failure", utils.ErrStorage, nil)
	}

	f.remaining--
	if f.remaining == 0 && !f.torn {
		// Tear the final write: only the first half reaches the device.
		f.torn = true
		return f.MemoryStorage.Write(addr, buf[:len(buf)/2])
	}

	return f.MemoryStorage.Write(addr, buf)
}

// TestAtomicSectorGuarantee injects a mid-stream failure; after remount the
// surviving length is a whole multiple of the record size.
func TestAtomicSectorGuarantee(t *testing.T) {
	storage := NewMemoryStorage(NewGeometry(1024, 4, 4, 512))
	require.NoError(t, storage.Open())
	defer func() { _ = storage.Close() }()

	fs := NewFileLayout(storage)
	require.NoError(t, fs.Format(standardDescriptors()))

	const recordSize = 100

	failing := &failingStorage{MemoryStorage: storage, remaining: 40}
	wounded := NewFileLayout(failing)
	require.NoError(t, wounded.Mount(standardDescriptors()))

	file, err := wounded.Open("data.fk", OpenWrite)
	require.NoError(t, err)

	record := patternBytes(recordSize)
	for i := 0; i < 1000; i++ {
		n, werr := file.WriteAtomic(record)
		if werr != nil || n == 0 {
			break
		}
	}
	_ = file.Close()

	// Remount on the raw storage, as after a reboot.
	recovered := NewFileLayout(storage)
	require.NoError(t, recovered.Mount(standardDescriptors()))

	reader, err := recovered.Open("data.fk", OpenRead)
	require.NoError(t, err)

	size := reader.Size()
	assert.Zero(t, size%recordSize, "no torn records: size %d", size)

	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, int(size), len(got))
	for i, b := range got {
		require.Equal(t, pattern[i%4], b, "byte %d", i)
	}
}

// TestAtomicWriteTooLarge rejects records that cannot fit one sector.
func TestAtomicWriteTooLarge(t *testing.T) {
	fs, storage := formatted(t)
	defer func() { _ = storage.Close() }()

	file, err := fs.Open("data.fk", OpenWrite)
	require.NoError(t, err)

	_, err = file.WriteAtomic(patternBytes(SectorSize - FileBlockTailSize + 1))
	require.Error(t, err)
}

// TestRollingOverflow writes nearly twice a rolling file's capacity; the
// surviving window is the newest data, phase-aligned with what was written.
func TestRollingOverflow(t *testing.T) {
	storage := NewMemoryStorage(NewGeometry(1024, 4, 4, 512))
	require.NoError(t, storage.Open())
	defer func() { _ = storage.Close() }()

	descriptors := []FileDescriptor{
		{Name: "system", MaximumSize: 100},
		{Name: "data.fk", MaximumSize: 100, Strategy: StrategyRolling},
	}

	fs := NewFileLayout(storage)
	require.NoError(t, fs.Format(descriptors))

	const maximumBytes = 100 * 1024
	total := 2*maximumBytes + 4*1024

	file, err := fs.Open("data.fk", OpenWrite)
	require.NoError(t, err)

	chunk := patternBytes(8)
	for written := 0; written < total; written += len(chunk) {
		n, werr := file.Write(chunk)
		require.NoError(t, werr)
		require.Equal(t, len(chunk), n)
	}

	capacity := file.MaximumSize()
	truncated := file.Truncated()
	written := file.Size()
	require.NoError(t, file.Close())

	assert.NotZero(t, truncated, "a rolling file past capacity must truncate")
	assert.Equal(t, uint64(total), written)

	reader, err := fs.Open("data.fk", OpenRead)
	require.NoError(t, err)

	require.NoError(t, reader.Seek(0))
	got, err := io.ReadAll(reader)
	require.NoError(t, err)

	// The readable window is bounded by the extent's capacity and holds
	// the most recently written bytes, still phase-aligned.
	assert.LessOrEqual(t, uint64(len(got)), capacity)
	assert.NotZero(t, len(got))

	for i, b := range got {
		require.Equal(t, pattern[(truncated+uint64(i))%4], b, "byte %d", i)
	}
}

// TestEraseResetsAndBumpsVersion covers erase-in-place.
func TestEraseResetsAndBumpsVersion(t *testing.T) {
	fs, storage := formatted(t)
	defer func() { _ = storage.Close() }()

	file, err := fs.Open("emergency.log", OpenWrite)
	require.NoError(t, err)
	version := file.Version()
	_, err = file.Write([]byte("doomed"))
	require.NoError(t, err)
	require.NoError(t, file.Close())

	require.NoError(t, fs.Erase("emergency.log"))

	stat, err := fs.Stat("emergency.log")
	require.NoError(t, err)
	assert.Zero(t, stat.Size)
	assert.Greater(t, stat.Version, version)
}

func TestMountRejectsForeignDevice(t *testing.T) {
	storage := NewMemoryStorage(NewGeometry(1024, 4, 4, 512))
	require.NoError(t, storage.Open())
	defer func() { _ = storage.Close() }()

	// Never formatted; the table is erased flash.
	fs := NewFileLayout(storage)
	require.Error(t, fs.Mount(standardDescriptors()))
}

func TestMountRejectsIncompatibleDescriptors(t *testing.T) {
	fs, storage := formatted(t)
	defer func() { _ = storage.Close() }()
	fs.Unmount()

	changed := standardDescriptors()
	changed[1].MaximumSize = 999

	other := NewFileLayout(storage)
	require.Error(t, other.Mount(changed))
}

func TestMountRecoversAllocations(t *testing.T) {
	fs, storage := formatted(t)
	defer func() { _ = storage.Close() }()

	expected := make([]FileAllocation, len(standardDescriptors()))
	for i := range expected {
		expected[i] = fs.Allocation(i)
	}

	other := NewFileLayout(storage)
	require.NoError(t, other.Mount(standardDescriptors()))

	for i := range expected {
		assert.Equal(t, expected[i], other.Allocation(i))
	}
}

func TestStatUnknownFile(t *testing.T) {
	fs, storage := formatted(t)
	defer func() { _ = storage.Close() }()

	_, err := fs.Stat("nope")
	require.Error(t, err)
}

func TestOpenModes(t *testing.T) {
	fs, storage := formatted(t)
	defer func() { _ = storage.Close() }()

	writer, err := fs.Open("system", OpenWrite)
	require.NoError(t, err)
	_, err = writer.Read(make([]byte, 4))
	require.Error(t, err)
	require.NoError(t, writer.Close())

	reader, err := fs.Open("system", OpenRead)
	require.NoError(t, err)
	_, err = reader.Write([]byte("no"))
	require.Error(t, err)
	require.ErrorIs(t, err, utils.ErrInvariant)
}

func TestFileID(t *testing.T) {
	assert.Equal(t, FileID("startup.log"), FileID("startup.log"))
	assert.NotEqual(t, FileID("startup.log"), FileID("now.log"))
}

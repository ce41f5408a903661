package phylum

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/scigolib/phylum/internal/core"
	"github.com/scigolib/phylum/internal/utils"
)

// discardLogger returns a logger that drops everything, the default for
// embedded-style callers.
func discardLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// FileLayout is the filesystem over a formatted device: the fixed set of
// declared files, each bound to its preallocated extents through the file
// table at block zero.
type FileLayout struct {
	storage     core.Storage
	log         logrus.FieldLogger
	fds         []FileDescriptor
	allocations []core.FileAllocation
}

// NewFileLayout builds a layout over storage with logging discarded.
func NewFileLayout(storage Storage) *FileLayout {
	return NewFileLayoutWithLogger(storage, discardLogger())
}

// NewFileLayoutWithLogger builds a layout with an injected logger.
func NewFileLayoutWithLogger(storage Storage, log logrus.FieldLogger) *FileLayout {
	return &FileLayout{storage: storage, log: log}
}

// Allocation returns the extents carved for the i-th descriptor.
func (l *FileLayout) Allocation(i int) FileAllocation {
	return l.allocations[i]
}

// Descriptors returns the mounted descriptors.
func (l *FileLayout) Descriptors() []FileDescriptor {
	return l.fds
}

func (l *FileLayout) checkGeometry() error {
	g := l.storage.Geometry()
	if g.SectorSize != SectorSize {
		return utils.WrapError("unsupported sector size", utils.ErrInvariant, nil)
	}
	if !g.Valid() {
		return utils.WrapError("invalid geometry", utils.ErrInvalidArgument, nil)
	}
	return nil
}

// Format wipes the device's metadata and lays out the declared files: the
// preallocator carves extents in declaration order, the file table records
// them, and every file is formatted empty.
func (l *FileLayout) Format(fds []FileDescriptor) error {
	if err := l.checkGeometry(); err != nil {
		return err
	}

	table := NewFileTable(l.storage)

	l.fds = fds
	l.allocations = make([]core.FileAllocation, len(fds))

	preallocator := NewFilePreallocator(l.storage.Geometry(), l.log)
	for i, fd := range fds {
		allocation, err := preallocator.Allocate(fd)
		if err != nil {
			l.log.WithField("name", fd.Name).WithError(err).Error("format allocation failed")
			return err
		}
		l.allocations[i] = allocation
	}

	if err := table.Erase(); err != nil {
		l.log.WithError(err).Error("format table erase failed")
		return err
	}

	for i, fd := range fds {
		entry := FileTableEntry{FD: fd, Alloc: l.allocations[i]}
		entry.Fill()
		if err := table.Write(&entry); err != nil {
			l.log.WithField("name", fd.Name).WithError(err).Error("format table write failed")
			return err
		}

		file := newSimpleFile(l.storage, fd, &l.allocations[i], FileID(fd.Name), OpenWrite, l.log)
		if err := file.Format(); err != nil {
			l.log.WithField("name", fd.Name).WithError(err).Error("format file failed")
			return err
		}
	}

	return nil
}

// Mount reads the file table back and binds the declared descriptors to
// their recorded allocations. Descriptors must match what the device was
// formatted with.
func (l *FileLayout) Mount(fds []FileDescriptor) error {
	if err := l.checkGeometry(); err != nil {
		return err
	}

	table := NewFileTable(l.storage)

	l.fds = fds
	l.allocations = make([]core.FileAllocation, len(fds))

	for i := range fds {
		var entry FileTableEntry
		if !table.Read(&entry) {
			l.log.WithField("name", fds[i].Name).Error("mount: table read failed")
			return utils.CorruptError("file table read")
		}

		if !entry.Valid() {
			l.log.WithField("name", fds[i].Name).Error("mount: table entry invalid")
			return utils.CorruptError("file table entry")
		}

		if !entry.FD.Compatible(fds[i]) {
			l.log.WithField("name", fds[i].Name).Error("mount: table entry incompatible")
			return utils.WrapError("incompatible descriptor", utils.ErrInvalidArgument, nil)
		}

		l.allocations[i] = entry.Alloc
	}

	return nil
}

// Unmount drops the cached allocations.
func (l *FileLayout) Unmount() {
	l.fds = nil
	l.allocations = nil
}

func (l *FileLayout) lookup(name string) (int, error) {
	for i := range l.fds {
		if l.fds[i].Name == name {
			return i, nil
		}
	}
	return 0, utils.WrapError("no such file", utils.ErrInvalidArgument, nil)
}

// Open returns the named file positioned for the given mode: readers at the
// beginning, writers at the end.
func (l *FileLayout) Open(name string, mode OpenMode) (*SimpleFile, error) {
	i, err := l.lookup(name)
	if err != nil {
		return nil, err
	}

	file := newSimpleFile(l.storage, l.fds[i], &l.allocations[i], FileID(name), mode, l.log)
	if err := file.Initialize(); err != nil {
		l.log.WithField("name", name).WithError(err).Error("open initialize failed")
		return nil, err
	}

	return file, nil
}

// Erase discards the named file's contents in place.
func (l *FileLayout) Erase(name string) error {
	i, err := l.lookup(name)
	if err != nil {
		return err
	}

	file := newSimpleFile(l.storage, l.fds[i], &l.allocations[i], FileID(name), OpenWrite, l.log)
	return file.Erase()
}

// Stat reports the named file's size and version.
func (l *FileLayout) Stat(name string) (FileStat, error) {
	file, err := l.Open(name, OpenRead)
	if err != nil {
		return FileStat{}, err
	}

	stat := FileStat{Size: file.Size(), Version: file.Version()}
	_ = file.Close()
	return stat, nil
}

package core

import (
	"os"

	"github.com/pkg/errors"
)

// FileStorage is a storage backend over a raw device image on the host
// filesystem. The recovery tooling uses it to mount images pulled off real
// hardware.
type FileStorage struct {
	path     string
	geometry Geometry
	file     *os.File
	readonly bool
}

// NewFileStorage builds a backend over the image at path.
func NewFileStorage(path string, geometry Geometry, readonly bool) *FileStorage {
	return &FileStorage{
		path:     path,
		geometry: geometry,
		readonly: readonly,
	}
}

// GeometryFromImageSize derives a geometry from the byte size of an image,
// assuming the standard 4-page, 4-sector block shape.
func GeometryFromImageSize(size int64, sectorSize uint16) Geometry {
	return FromPhysicalBlockLayout(uint32(size/int64(sectorSize)), sectorSize)
}

// Open opens the image file.
func (f *FileStorage) Open() error {
	flags := os.O_RDWR
	if f.readonly {
		flags = os.O_RDONLY
	}

	file, err := os.OpenFile(f.path, flags, 0)
	if err != nil {
		return errors.Wrapf(err, "opening image %s", f.path)
	}

	f.file = file
	return nil
}

// Close closes the image file.
func (f *FileStorage) Close() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return errors.Wrap(err, "closing image")
}

// Geometry returns the device geometry.
func (f *FileStorage) Geometry() Geometry {
	return f.geometry
}

// Erase rewrites a whole block with 0xFF.
func (f *FileStorage) Erase(block uint32) error {
	if f.readonly {
		return errors.New("erase on read-only image")
	}

	size := f.geometry.BlockSize()
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = 0xff
	}

	_, err := f.file.WriteAt(buf, int64(block)*int64(size))
	return errors.Wrapf(err, "erasing block %d", block)
}

// Read copies bytes at addr into buf.
func (f *FileStorage) Read(addr BlockAddress, buf []byte) error {
	offset := int64(addr.Block)*int64(f.geometry.BlockSize()) + int64(addr.Position)
	_, err := f.file.ReadAt(buf, offset)
	return errors.Wrapf(err, "reading %v", addr)
}

// Write stores buf at addr.
func (f *FileStorage) Write(addr BlockAddress, buf []byte) error {
	if f.readonly {
		return errors.New("write on read-only image")
	}

	offset := int64(addr.Block)*int64(f.geometry.BlockSize()) + int64(addr.Position)
	_, err := f.file.WriteAt(buf, offset)
	return errors.Wrapf(err, "writing %v", addr)
}

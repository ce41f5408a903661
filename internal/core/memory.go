package core

import (
	"math/rand"

	"github.com/scigolib/phylum/internal/utils"
)

// OperationType labels entries in a storage operation log.
type OperationType uint8

// Operations recorded by MemoryStorage.
const (
	OpOpened OperationType = iota
	OpClosed
	OpEraseBlock
	OpRead
	OpWrite
)

// LogEntry records one storage primitive invocation.
type LogEntry struct {
	Op      OperationType
	Block   uint32
	Address BlockAddress
	Length  int
}

// OperationLog accumulates the primitives a backend performed. Tests assert
// against it to pin down read budgets and write ordering.
type OperationLog struct {
	entries []LogEntry
	logging bool
}

// Append records an entry when logging is enabled.
func (l *OperationLog) Append(e LogEntry) {
	if l.logging {
		l.entries = append(l.entries, e)
	}
}

// Enable turns recording on.
func (l *OperationLog) Enable() { l.logging = true }

// Disable turns recording off.
func (l *OperationLog) Disable() { l.logging = false }

// Clear discards accumulated entries.
func (l *OperationLog) Clear() { l.entries = l.entries[:0] }

// Entries returns the recorded entries.
func (l *OperationLog) Entries() []LogEntry { return l.entries }

// Reads counts recorded read operations.
func (l *OperationLog) Reads() int { return l.count(OpRead) }

// Writes counts recorded write operations.
func (l *OperationLog) Writes() int { return l.count(OpWrite) }

// Erases counts recorded erase operations.
func (l *OperationLog) Erases() int { return l.count(OpEraseBlock) }

func (l *OperationLog) count(op OperationType) int {
	n := 0
	for _, e := range l.entries {
		if e.Op == op {
			n++
		}
	}
	return n
}

// MemoryStorage is a RAM-backed storage backend. It enforces the flash write
// discipline: a write may only clear bits relative to the erased state, so
// writing over un-erased data fails.
type MemoryStorage struct {
	geometry  Geometry
	data      []byte
	log       OperationLog
	eraseByte byte
	verify    bool
}

// NewMemoryStorage builds an unopened backend with the default 0xFF erase
// byte and write verification on.
func NewMemoryStorage(geometry Geometry) *MemoryStorage {
	return &MemoryStorage{
		geometry:  geometry,
		eraseByte: 0xff,
		verify:    true,
	}
}

// Log exposes the operation log.
func (m *MemoryStorage) Log() *OperationLog {
	return &m.log
}

// SetEraseByte selects the erased-state byte, 0xFF or 0x00.
func (m *MemoryStorage) SetEraseByte(b byte) {
	m.eraseByte = b
}

// SetVerifyWrites toggles the erased-destination check.
func (m *MemoryStorage) SetVerifyWrites(verify bool) {
	m.verify = verify
}

// Open allocates the device image erased.
func (m *MemoryStorage) Open() error {
	if !m.geometry.Valid() {
		return utils.WrapError("memory open", utils.ErrInvalidArgument, nil)
	}

	m.data = make([]byte, m.geometry.Size())
	for i := range m.data {
		m.data[i] = m.eraseByte
	}

	m.log.Append(LogEntry{Op: OpOpened})
	return nil
}

// Close releases the image.
func (m *MemoryStorage) Close() error {
	m.data = nil
	m.log.Append(LogEntry{Op: OpClosed})
	return nil
}

// Geometry returns the device geometry.
func (m *MemoryStorage) Geometry() Geometry {
	return m.geometry
}

// Randomize fills the image with noise, simulating a device with unknown
// prior contents.
func (m *MemoryStorage) Randomize() {
	rand.Read(m.data)
}

// Erase resets a whole block to the erased state.
func (m *MemoryStorage) Erase(block uint32) error {
	if !m.geometry.Contains(BlockAddress{Block: block, Position: 0}) {
		return utils.WrapError("memory erase", utils.ErrInvalidArgument, nil)
	}

	size := m.geometry.BlockSize()
	start := uint64(block) * uint64(size)
	for i := uint64(0); i < uint64(size); i++ {
		m.data[start+i] = m.eraseByte
	}

	m.log.Append(LogEntry{Op: OpEraseBlock, Block: block})
	return nil
}

// Read copies n bytes at addr into buf.
func (m *MemoryStorage) Read(addr BlockAddress, buf []byte) error {
	if !addr.Valid() || !m.geometry.Contains(addr) || len(buf) > int(m.geometry.SectorSize) {
		return utils.WrapError("memory read", utils.ErrInvalidArgument, nil)
	}

	offset := uint64(addr.Block)*uint64(m.geometry.BlockSize()) + uint64(addr.Position)
	copy(buf, m.data[offset:offset+uint64(len(buf))])

	m.log.Append(LogEntry{Op: OpRead, Address: addr, Length: len(buf)})
	return nil
}

// Write stores buf at addr. With verification enabled the destination must
// accept the data with bit transitions from the erased state only.
func (m *MemoryStorage) Write(addr BlockAddress, buf []byte) error {
	if !addr.Valid() || !m.geometry.Contains(addr) || len(buf) > int(m.geometry.SectorSize) {
		return utils.WrapError("memory write", utils.ErrInvalidArgument, nil)
	}

	offset := uint64(addr.Block)*uint64(m.geometry.BlockSize()) + uint64(addr.Position)
	if m.verify {
		for i, b := range buf {
			old := m.data[offset+uint64(i)]
			if m.eraseByte == 0xff {
				if old&b != b {
					return utils.WrapError("memory write to un-erased location", utils.ErrStorage, nil)
				}
			} else {
				if old|b != b {
					return utils.WrapError("memory write to un-erased location", utils.ErrStorage, nil)
				}
			}
		}
	}
	copy(m.data[offset:], buf)

	m.log.Append(LogEntry{Op: OpWrite, Address: addr, Length: len(buf)})
	return nil
}

// Image exposes the raw device bytes, for writing images out of tests and
// tools.
func (m *MemoryStorage) Image() []byte {
	return m.data
}

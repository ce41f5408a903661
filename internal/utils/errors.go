package utils

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the filesystem. Callers match them with errors.Is
// and re-inspect file state (size, position, head) to recover.
var (
	// ErrStorage means a read, write or erase primitive reported failure.
	ErrStorage = errors.New("storage failure")

	// ErrCorrupt means a magic check failed where a valid block was expected.
	ErrCorrupt = errors.New("corrupt block")

	// ErrOutOfSpace means no free block satisfies an allocation.
	ErrOutOfSpace = errors.New("out of space")

	// ErrInvariant is an internal assertion, such as appending to a
	// read-only file or a sector-size mismatch.
	ErrInvariant = errors.New("invariant violated")

	// ErrEOF is the normal end-of-file condition.
	ErrEOF = errors.New("end of file")

	// ErrInvalidArgument covers caller mistakes, such as seeking beyond a
	// preallocated file's maximum size.
	ErrInvalidArgument = errors.New("invalid argument")
)

// FsError represents a structured filesystem error.
type FsError struct {
	Context string
	Kind    error
	Cause   error
}

// Error implements the error interface.
func (e *FsError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %v", e.Context, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Context, e.Kind, e.Cause)
}

// Unwrap provides compatibility with errors.Is().
func (e *FsError) Unwrap() error {
	return e.Kind
}

// WrapError creates a contextual error of the given kind.
func WrapError(context string, kind, cause error) error {
	return &FsError{
		Context: context,
		Kind:    kind,
		Cause:   cause,
	}
}

// StorageError tags a failed storage primitive with its context.
func StorageError(context string, cause error) error {
	return WrapError(context, ErrStorage, cause)
}

// CorruptError tags a failed magic check with its context.
func CorruptError(context string) error {
	return WrapError(context, ErrCorrupt, nil)
}

package utils

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapErrorKinds(t *testing.T) {
	err := WrapError("reading block 4", ErrCorrupt, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorrupt))
	assert.False(t, errors.Is(err, ErrStorage))
	assert.Contains(t, err.Error(), "reading block 4")
}

func TestStorageErrorCarriesCause(t *testing.T) {
	cause := errors.New("bus timeout")
	err := StorageError("writing sector", cause)

	assert.True(t, errors.Is(err, ErrStorage))
	assert.Contains(t, err.Error(), "bus timeout")
}

func TestCorruptError(t *testing.T) {
	err := CorruptError("file table entry")
	assert.True(t, errors.Is(err, ErrCorrupt))
}

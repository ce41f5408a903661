package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMagic(t *testing.T) {
	m := FillMagic()
	assert.True(t, m.Valid())
	assert.Equal(t, byte('p'), m[0])
	assert.Equal(t, byte(0), m[8])

	var erased Magic
	for i := range erased {
		erased[i] = 0xff
	}
	assert.False(t, erased.Valid())

	var zeros Magic
	assert.False(t, zeros.Valid())
}

func TestBlockHeadRoundTrip(t *testing.T) {
	head := NewBlockHead(BlockTypeFile)
	head.Fill()
	head.Age = 7
	head.Timestamp = 42
	head.LinkedBlock = 19

	buf := make([]byte, BlockHeadSize)
	head.EncodeTo(buf)

	// Offsets are part of the on-device contract.
	assert.Equal(t, byte('p'), buf[0])
	assert.Equal(t, byte(BlockTypeFile), buf[9])
	assert.Equal(t, byte(7), buf[10])
	assert.Equal(t, byte(42), buf[14])
	assert.Equal(t, byte(19), buf[18])

	decoded := DecodeBlockHead(buf)
	require.True(t, decoded.Valid())
	assert.Equal(t, head.Type, decoded.Type)
	assert.Equal(t, head.Age, decoded.Age)
	assert.Equal(t, head.Timestamp, decoded.Timestamp)
	assert.Equal(t, head.LinkedBlock, decoded.LinkedBlock)
}

func TestBlockHeadErased(t *testing.T) {
	buf := make([]byte, BlockHeadSize)
	for i := range buf {
		buf[i] = 0xff
	}

	head := DecodeBlockHead(buf)
	assert.False(t, head.Valid())
	assert.Equal(t, InvalidBlock, head.LinkedBlock)
}

func TestBlockTailRoundTrip(t *testing.T) {
	tail := BlockTail{LinkedBlock: 77}

	buf := make([]byte, BlockTailSize)
	tail.EncodeTo(buf)

	assert.Equal(t, tail, DecodeBlockTail(buf))
}

func TestRecordSizes(t *testing.T) {
	assert.Equal(t, 22, BlockHeadSize)
	assert.Equal(t, 4, BlockTailSize)
	assert.Equal(t, 9, MagicSize)
}

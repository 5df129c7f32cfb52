package buffer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corelace/corerun/buffer"
)

func TestWriteAndReadPrimitivesRoundTrip(t *testing.T) {
	b := buffer.New(16)
	b.WriteShort(42)
	b.WriteInt(-7)
	b.WriteLong(1 << 40)
	b.WriteFloat(3.5)
	b.WriteDouble(2.25)

	s, err := b.ReadShort()
	require.NoError(t, err)
	assert.EqualValues(t, 42, s)

	i, err := b.ReadInt()
	require.NoError(t, err)
	assert.EqualValues(t, -7, i)

	l, err := b.ReadLong()
	require.NoError(t, err)
	assert.EqualValues(t, 1<<40, l)

	f, err := b.ReadFloat()
	require.NoError(t, err)
	assert.Equal(t, float32(3.5), f)

	d, err := b.ReadDouble()
	require.NoError(t, err)
	assert.Equal(t, 2.25, d)

	assert.Zero(t, b.ReadableBytes())
}

func TestReadPastWriterIndexFails(t *testing.T) {
	b := buffer.New(4)
	b.WriteShort(1)
	_, err := b.ReadInt()
	assert.Error(t, err)
}

func TestMarkAndResetReaderIndex(t *testing.T) {
	b := buffer.New(8)
	b.WriteInt(1)
	b.WriteInt(2)

	b.MarkReaderIndex()
	first, err := b.ReadInt()
	require.NoError(t, err)
	assert.EqualValues(t, 1, first)

	b.ResetReaderIndex()
	again, err := b.ReadInt()
	require.NoError(t, err)
	assert.EqualValues(t, 1, again)

	second, err := b.ReadInt()
	require.NoError(t, err)
	assert.EqualValues(t, 2, second)
}

func TestReadBytesReturnsIndependentBuffer(t *testing.T) {
	b := buffer.New(8)
	b.WriteBytes([]byte("hello"))

	got, err := b.ReadBytes(5)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got.Bytes())
	assert.Zero(t, b.ReadableBytes())

	got.Release()
}

func TestRetainAndReleaseTrackRefcount(t *testing.T) {
	b := buffer.New(4)
	assert.EqualValues(t, 1, b.RefCount())

	b.Retain()
	assert.EqualValues(t, 2, b.RefCount())

	b.Release()
	assert.EqualValues(t, 1, b.RefCount())

	b.Release()
	assert.EqualValues(t, 0, b.RefCount())
}

func TestReserveAndTruncateForShortReads(t *testing.T) {
	b := buffer.New(4)
	dst := b.Reserve(10)
	assert.Len(t, dst, 10)
	assert.Equal(t, 10, b.WriterIndex())

	b.Truncate(4)
	assert.Equal(t, 6, b.WriterIndex())
}

func TestGrowBeyondInitialCapacity(t *testing.T) {
	b := buffer.New(2)
	for i := 0; i < 100; i++ {
		b.WriteInt(int32(i))
	}
	for i := 0; i < 100; i++ {
		v, err := b.ReadInt()
		require.NoError(t, err)
		assert.EqualValues(t, i, v)
	}
}

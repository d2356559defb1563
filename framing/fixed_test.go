package framing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordAccumulator_CompletesAcrossWrites(t *testing.T) {
	require := require.New(t)

	acc, err := NewRecordAccumulator(4)
	require.NoError(err)
	require.Equal(4, acc.Size())

	_, _ = acc.Write([]byte{0x01, 0x02, 0x03})
	_, ok := acc.Next()
	require.False(ok)
	require.Equal(3, acc.Buffered())

	_, _ = acc.Write([]byte{0x04})
	record, ok := acc.Next()
	require.True(ok)
	require.Equal([]byte{0x01, 0x02, 0x03, 0x04}, record)
	require.Equal(0, acc.Buffered())

	_, ok = acc.Next()
	require.False(ok)
}

func TestRecordAccumulator_MultipleRecordsInOneWrite(t *testing.T) {
	require := require.New(t)

	acc, err := NewRecordAccumulator(2)
	require.NoError(err)

	_, _ = acc.Write([]byte{1, 2, 3, 4, 5})

	var records [][]byte
	for {
		r, ok := acc.Next()
		if !ok {
			break
		}
		records = append(records, r)
	}

	require.Equal([][]byte{{1, 2}, {3, 4}}, records)
	require.Equal(1, acc.Buffered())

	// records are independent of the internal buffer
	_, _ = acc.Write([]byte{6})
	r, ok := acc.Next()
	require.True(ok)
	require.Equal([]byte{5, 6}, r)
	require.Equal([]byte{1, 2}, records[0])
}

func TestRecordAccumulator_Reset(t *testing.T) {
	require := require.New(t)

	acc, err := NewRecordAccumulator(3)
	require.NoError(err)

	_, _ = acc.Write([]byte{1, 2})
	acc.Reset()
	require.Equal(0, acc.Buffered())

	_, _ = acc.Write([]byte{7, 8, 9})
	r, ok := acc.Next()
	require.True(ok)
	require.Equal([]byte{7, 8, 9}, r)
}

func TestNewRecordAccumulator_InvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		_, err := NewRecordAccumulator(size)
		require.Error(t, err, "size=%d", size)
	}
}

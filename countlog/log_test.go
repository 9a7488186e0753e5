package countlog_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"createabunch/countlog"
)

func TestEmpty(t *testing.T) {
	l := countlog.New(0)
	assert.Equal(t, 0, l.Filled())
	assert.Equal(t, 0, l.Cap())
	assert.Equal(t, uint64(0), l.At(5))
	assert.Equal(t, uint64(0), l.Sum())
}

func TestGrowByChunk(t *testing.T) {
	l := countlog.New(0)
	require.Nil(t, l.EnsureCapacity(1))
	assert.Equal(t, countlog.GrowChunk, l.Cap())

	require.Nil(t, l.EnsureCapacity(countlog.GrowChunk))
	assert.Equal(t, countlog.GrowChunk, l.Cap(), "no growth when it fits")

	require.Nil(t, l.EnsureCapacity(2*countlog.GrowChunk+1))
	assert.Equal(t, 3*countlog.GrowChunk, l.Cap())
	assert.Equal(t, 0, l.Filled(), "growth does not fill")
}

func TestRecord(t *testing.T) {
	l := countlog.New(0)
	require.Nil(t, l.Record(0, 3))
	require.Nil(t, l.Record(0, 2))
	assert.Equal(t, 1, l.Filled())
	assert.Equal(t, uint64(5), l.At(0))

	require.Nil(t, l.Record(4, 7))
	assert.Equal(t, 5, l.Filled())
	for i := 1; i < 4; i++ {
		assert.Equal(t, uint64(0), l.At(i), "skipped second %d", i)
	}
	assert.Equal(t, uint64(12), l.Sum())

	// Adding to the current bucket does not move filled
	require.Nil(t, l.Record(4, 1))
	assert.Equal(t, 5, l.Filled())
	assert.Equal(t, uint64(8), l.At(4))
}

func TestRecordPastCapacity(t *testing.T) {
	l := countlog.New(0)
	idx := 2*countlog.GrowChunk + 10
	require.Nil(t, l.Record(idx, 1))
	assert.Equal(t, 3*countlog.GrowChunk, l.Cap())
	assert.Equal(t, idx+1, l.Filled())
}

func TestGrowthPreservesValues(t *testing.T) {
	l := countlog.New(0)
	for i := 0; i < 50; i++ {
		require.Nil(t, l.Record(i, uint64(i*i)))
	}
	for _, n := range []int{51, countlog.GrowChunk + 1, 5 * countlog.GrowChunk} {
		require.Nil(t, l.EnsureCapacity(n))
		for i := 0; i < 50; i++ {
			assert.Equal(t, uint64(i*i), l.At(i))
		}
		for i := 50; i < l.Cap(); i++ {
			if !assert.Equal(t, uint64(0), l.At(i)) {
				break
			}
		}
	}
}

func TestExhausted(t *testing.T) {
	l := countlog.New(1000)
	require.Nil(t, l.Record(950, 1))
	assert.Equal(t, 1000, l.Cap(), "clamped to the limit")

	err := l.Record(1000, 1)
	assert.True(t, errors.Is(err, countlog.ErrExhausted))
	assert.Equal(t, 951, l.Filled(), "failed record leaves log intact")
	assert.Equal(t, uint64(1), l.At(950))
}

func TestNegativeIndex(t *testing.T) {
	l := countlog.New(0)
	assert.NotNil(t, l.Record(-1, 1))
}

func TestWindow(t *testing.T) {
	l := countlog.New(0)
	require.Nil(t, l.Record(1, 4))
	w, err := l.Window(3)
	require.Nil(t, err)
	assert.Equal(t, []uint64{0, 4, 0}, w)

	w[1] = 99
	assert.Equal(t, uint64(4), l.At(1), "window is a copy")

	_, err = l.Window(l.Cap() + 1)
	assert.NotNil(t, err)
}

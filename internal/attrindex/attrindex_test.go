package attrindex

import (
	"bytes"
	"testing"

	"github.com/arx-os/lidarindex/internal/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRangeSummaryTests(t *testing.T) {
	r := IndexRange([]float64{1, 5, 9})
	assert.Equal(t, Positive, r.TestRange(0, 10))
	assert.Equal(t, Negative, r.TestRange(20, 30))
	assert.Equal(t, Partial, r.TestRange(4, 6))
	assert.Equal(t, Positive, r.TestGe(1))
	assert.Equal(t, Negative, r.TestLt(1))
}

func TestEmptyRangeAlwaysNegative(t *testing.T) {
	r := EmptyRange()
	assert.Equal(t, Negative, r.TestRange(0, 100))
	assert.Equal(t, Negative, r.TestEq(5))
}

func TestSFCKeyOrdering(t *testing.T) {
	values := []float64{-10, -1, -0.5, 0, 0.5, 1, 10}
	for i := 0; i < len(values)-1; i++ {
		assert.Less(t, ToSFCKey(values[i]), ToSFCKey(values[i+1]))
	}
}

func TestSFCIndexCollapsesToMaxBins(t *testing.T) {
	values := make([]float64, 0, 100)
	for i := 0; i < 100; i++ {
		values = append(values, float64(i))
	}
	s := IndexSFC(values, 8)
	assert.LessOrEqual(t, len(s.Keys), 8)
}

func TestSFCTestRangeNarrowsVerdict(t *testing.T) {
	s := IndexSFC([]float64{1, 2, 3, 4, 5}, 16)
	assert.Equal(t, Positive, s.TestRange(0, 10))
	assert.Equal(t, Negative, s.TestRange(100, 200))
}

func TestMergeSFCAlignsToCoarserShift(t *testing.T) {
	a := IndexSFC([]float64{1, 2, 3}, 2) // forces a shift > 0
	b := IndexSFC([]float64{100}, 16)
	merged := MergeSFC(a, b, 16)
	assert.GreaterOrEqual(t, merged.Shift, a.Shift)
	assert.Equal(t, Positive, merged.TestRange(0, 200))
}

func TestSummaryPrefersSFCForTighterVerdict(t *testing.T) {
	s := IndexValues([]float64{1, 2, 3}, 16, true)
	assert.Equal(t, Positive, s.TestRange(0, 10))
	assert.Equal(t, Negative, s.TestEq(50))
}

func TestSummaryFallsBackToRangeWithoutSFC(t *testing.T) {
	s := IndexValues([]float64{1, 2, 3}, 16, false)
	assert.False(t, s.HasSFC)
	assert.Equal(t, Partial, s.TestEq(2))
}

func TestIndexUpdateGetDelete(t *testing.T) {
	ix := NewIndex(16, true)
	cell := geometry.LeveledCell{LOD: 3, ID: geometry.CellID{1, 2, 3}}

	_, ok := ix.Get(cell)
	assert.False(t, ok)

	ix.Update(cell, []float64{1, 2, 3})
	s, ok := ix.Get(cell)
	require.True(t, ok)
	assert.Equal(t, Positive, s.TestRange(0, 10))

	ix.Delete(cell)
	_, ok = ix.Get(cell)
	assert.False(t, ok)
}

func TestIndexWriteToReadIndexRoundTrip(t *testing.T) {
	ix := NewIndex(8, true)
	cellA := geometry.LeveledCell{LOD: 0, ID: geometry.CellID{0, 0, 0}}
	cellB := geometry.LeveledCell{LOD: 2, ID: geometry.CellID{-1, 4, 9}}
	ix.Update(cellA, []float64{1, 2, 3})
	ix.Update(cellB, []float64{10, 20})

	var buf bytes.Buffer
	require.NoError(t, ix.WriteTo(&buf))

	loaded, err := ReadIndex(&buf)
	require.NoError(t, err)

	sa, ok := loaded.Get(cellA)
	require.True(t, ok)
	assert.Equal(t, Positive, sa.TestRange(0, 5))

	sb, ok := loaded.Get(cellB)
	require.True(t, ok)
	assert.Equal(t, Positive, sb.TestRange(0, 30))
}

func TestReadIndexRejectsBadMagic(t *testing.T) {
	_, err := ReadIndex(bytes.NewReader([]byte("not an index file")))
	require.Error(t, err)
}

package sampling

import (
	"testing"

	"github.com/arx-os/lidarindex/internal/geometry"
	"github.com/arx-os/lidarindex/internal/pointcodec"
	"github.com/arx-os/lidarindex/internal/spatial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLayout() pointcodec.Layout {
	return pointcodec.Layout{Attributes: []pointcodec.AttributeDef{{Name: "tag", Type: pointcodec.TypeU32, Size: 4}}}
}

func pt(x, y, z float64, tag byte) Point {
	return Point{Position: spatial.Point3D{X: x, Y: y, Z: z}, Data: []byte{tag, 0, 0, 0}}
}

func TestCloserPointWinsSubCell(t *testing.T) {
	grid := geometry.FloatGrid{Shift: 0}
	s := NewGridCenter(grid, 0, testLayout())

	// Sub-cell [0,1)^3 has center (0.5,0.5,0.5).
	near := pt(0.5, 0.5, 0.5, 1)
	far := pt(0.01, 0.01, 0.01, 2)

	s.Insert([]Point{far, near})
	assert.Equal(t, 1, s.NrBogusPoints())

	accepted := s.Points()[:len(s.accepted)]
	require.Len(t, accepted, 1)
	assert.Equal(t, byte(1), accepted[0].Data[0])

	bogus := s.TakeBogusPoints()
	require.Len(t, bogus, 1)
	assert.Equal(t, byte(2), bogus[0].Data[0])
	assert.Equal(t, 0, s.NrBogusPoints())
}

func TestEmptySubCellsAcceptUnconditionally(t *testing.T) {
	grid := geometry.FloatGrid{Shift: 0}
	s := NewGridCenter(grid, 0, testLayout())

	s.Insert([]Point{pt(0.1, 0.1, 0.1, 1), pt(5.1, 5.1, 5.1, 2)})
	assert.Equal(t, 0, s.NrBogusPoints())
	assert.Len(t, s.Points(), 2)
}

func TestDirtyFlagLifecycle(t *testing.T) {
	grid := geometry.FloatGrid{Shift: 0}
	s := NewGridCenter(grid, 0, testLayout())
	assert.False(t, s.IsDirty())
	s.Insert([]Point{pt(0.1, 0.1, 0.1, 1)})
	assert.True(t, s.IsDirty())
	s.ResetDirty()
	assert.False(t, s.IsDirty())
}

func TestDynCloneIsIndependent(t *testing.T) {
	grid := geometry.FloatGrid{Shift: 0}
	s := NewGridCenter(grid, 0, testLayout())
	s.Insert([]Point{pt(0.1, 0.1, 0.1, 1)})

	clone := s.DynClone().(*GridCenter)
	clone.Insert([]Point{pt(5.1, 5.1, 5.1, 9)})

	assert.Len(t, s.Points(), 1)
	assert.Len(t, clone.Points(), 2)
}

func TestFromDiskDemotesCollidingDuplicates(t *testing.T) {
	grid := geometry.FloatGrid{Shift: 0}
	layout := testLayout()

	near := pt(0.5, 0.5, 0.5, 1)
	alsoNear := pt(0.4, 0.4, 0.4, 2)
	points := []Point{near, alsoNear}

	s := FromDisk(grid, 0, layout, points, 0)
	assert.True(t, s.IsDirty())
	assert.Equal(t, 1, s.NrBogusPoints())
	assert.Len(t, s.accepted, 1)
}
